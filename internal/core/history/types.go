package history

import "strings"

// DefaultBatchSize is the upstream limit on parameters per request.
// Larger lists overflow the provider's URL length limit.
const DefaultBatchSize = 50

// Stage is the upstream motion classification of a record.
type Stage string

const (
	StageMotion  Stage = "Motion"
	StageIdle    Stage = "Idle"
	StageParking Stage = "Parking"
	StageUnknown Stage = "Unknown"
)

// ParseStage maps an upstream stage label to a Stage. Unrecognized labels map to StageUnknown.
func ParseStage(s string) Stage {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "motion", "move", "moving":
		return StageMotion
	case "idle", "stop", "stopped":
		return StageIdle
	case "parking", "park", "parked":
		return StageParking
	default:
		return StageUnknown
	}
}

// DataType tags how a pipeline result was produced.
type DataType string

const (
	DataTypeExtended DataType = "time_series_extended"
	DataTypeFallback DataType = "fallback_basic"
	DataTypeEmpty    DataType = "empty"
)

// RawRecord is one upstream trip item. Values are positionally aligned to the
// owning DeviceRecordSet's Parameters; a nil entry means "no value".
type RawRecord struct {
	Timestamp string
	Stage     Stage
	Duration  string
	Caption   string
	Values    []any
}

// DeviceRecordSet is the merged view of every batch returned for one device.
type DeviceRecordSet struct {
	Name       string
	Parameters []string
	Records    []RawRecord
}

// BatchResult is one upstream response: device id → partial record set.
type BatchResult map[string]DeviceRecordSet

// TimePoint is one reconstructed observation for a vehicle.
// Numeric values are float64; anything that failed coercion is kept as received.
type TimePoint struct {
	Timestamp   string         `json:"timestamp"`
	VehicleID   string         `json:"vehicle_id"`
	VehicleName string         `json:"vehicle_name"`
	Stage       Stage          `json:"stage"`
	Duration    string         `json:"duration"`
	Caption     string         `json:"caption"`
	Values      map[string]any `json:"values"`
}

// Series is a list of time points sorted ascending by timestamp.
type Series []TimePoint

// TimeRange is the first and last timestamp of a series.
type TimeRange struct {
	First string `json:"first,omitempty"`
	Last  string `json:"last,omitempty"`
}

// ParameterStats summarizes the numeric observations of one parameter.
type ParameterStats struct {
	Count int64   `json:"count"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	Sum   float64 `json:"sum"`
}

// VehicleStats summarizes one vehicle's share of a series.
type VehicleStats struct {
	Name        string `json:"name"`
	RecordCount int    `json:"record_count"`
	ParamCount  int    `json:"param_count"`
}

// MergeStats reports how cleanly batches lined up during merging.
type MergeStats struct {
	BatchesMerged    int `json:"batches_merged"`
	CountMismatches  int `json:"count_mismatches"`
	UnmatchedRecords int `json:"unmatched_records"`
}

// SummaryStats is a read-only view computed over a Series.
type SummaryStats struct {
	TotalRecords   int                       `json:"total_records"`
	VehicleCount   int                       `json:"vehicle_count"`
	TimeRange      TimeRange                 `json:"time_range"`
	ParameterStats map[string]ParameterStats `json:"parameter_stats"`
	VehicleStats   map[string]VehicleStats   `json:"vehicle_stats"`
	Merge          MergeStats                `json:"merge"`
}

// Bucket is the per-parameter mean of every point within one time window.
type Bucket struct {
	Timestamp string             `json:"timestamp"`
	Values    map[string]float64 `json:"values"`
}
