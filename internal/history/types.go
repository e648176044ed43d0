package history

import (
	"errors"
	"fmt"

	corehistory "github.com/aevon-lab/project-tracklog/internal/core/history"
)

var (
	// ErrInvalidQuery marks request validation errors that should return HTTP 400.
	ErrInvalidQuery = errors.New("invalid history query")

	// ErrUpstream marks failures to reach or authenticate against AutoGRAPH.
	ErrUpstream = errors.New("upstream request failed")
)

// Request selects historical data for a set of vehicles.
// Dates accept YYYY-MM-DD, YYYY-MM-DD HH:MM, ISO 8601 or YYYYMMDD-HHMM.
type Request struct {
	SchemaID  string   `json:"schema_id"`
	DeviceIDs []string `json:"device_ids"`
	StartDate string   `json:"start_date"`
	EndDate   string   `json:"end_date"`
}

// BucketRequest is a Request re-aggregated into fixed time buckets.
// An empty Params list averages every parameter present.
type BucketRequest struct {
	Request
	Resolution string   `json:"resolution"`
	Params     []string `json:"params"`
}

// Period is the normalized upstream date range of a run.
type Period struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// BatchCounts reports how many upstream batches a run issued and how many failed.
type BatchCounts struct {
	Requested int `json:"requested"`
	Failed    int `json:"failed"`
}

// Result is the outcome of one pipeline run.
type Result struct {
	TimeSeries    corehistory.Series          `json:"time_series"`
	Summary       corehistory.SummaryStats    `json:"summary"`
	Parameters    []string                    `json:"parameters"`
	ParameterInfo []corehistory.ParameterInfo `json:"parameter_info"`
	TotalRecords  int                         `json:"total_records"`
	Period        Period                      `json:"period"`
	DataType      corehistory.DataType        `json:"data_type"`
	Reason        string                      `json:"reason,omitempty"`
	Batches       BatchCounts                 `json:"batches"`
}

// BucketResult is the bucketed form of a Result.
type BucketResult struct {
	Resolution    corehistory.Resolution      `json:"resolution"`
	Buckets       []corehistory.Bucket        `json:"buckets"`
	Parameters    []string                    `json:"parameters"`
	ParameterInfo []corehistory.ParameterInfo `json:"parameter_info"`
	TotalRecords  int                         `json:"total_records"`
	Period        Period                      `json:"period"`
	DataType      corehistory.DataType        `json:"data_type"`
	Reason        string                      `json:"reason,omitempty"`
}

// Reasons attached to empty results.
const (
	ReasonNoInput         = "no devices or dates requested"
	ReasonNoData          = "no data for the requested period"
	ReasonUpstreamFailing = "every upstream request failed"
)

func emptyResult(period Period, reason string, batches BatchCounts) *Result {
	return &Result{
		TimeSeries:    corehistory.Series{},
		Summary:       corehistory.Summarize(nil, corehistory.MergeStats{}),
		Parameters:    []string{},
		ParameterInfo: []corehistory.ParameterInfo{},
		TotalRecords:  0,
		Period:        period,
		DataType:      corehistory.DataTypeEmpty,
		Reason:        reason,
		Batches:       batches,
	}
}

func invalidQueryf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidQuery, fmt.Sprintf(format, args...))
}
