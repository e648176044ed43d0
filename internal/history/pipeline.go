package history

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aevon-lab/project-tracklog/internal/autograph"
	corehistory "github.com/aevon-lab/project-tracklog/internal/core/history"
	"github.com/aevon-lab/project-tracklog/internal/metrics"
)

// Pipeline turns a history request into a merged, summarized time series.
// It holds no per-run state, so one Pipeline serves concurrent requests.
//
// A run moves through PrimaryFetch → (Merge → Assemble) on data, otherwise
// FallbackFetch → (Merge → Assemble) on data, otherwise EmptyResponse.
type Pipeline struct {
	fetcher   *Fetcher
	catalog   *corehistory.Catalog
	batchSize int
}

// NewPipeline creates a pipeline. batchSize <= 0 uses the upstream limit.
func NewPipeline(fetcher *Fetcher, catalog *corehistory.Catalog, batchSize int) *Pipeline {
	if batchSize <= 0 || batchSize > corehistory.DefaultBatchSize {
		batchSize = corehistory.DefaultBatchSize
	}
	return &Pipeline{fetcher: fetcher, catalog: catalog, batchSize: batchSize}
}

// Run executes one pipeline run with an already valid session token.
//
// Upstream failures never surface as errors: they degrade the result to the
// fallback or empty data type. Run returns ErrInvalidQuery for malformed
// input, and autograph.ErrUnauthorized when the session was rejected on every
// primary batch so the caller can log in again.
func (p *Pipeline) Run(ctx context.Context, session string, req Request) (*Result, error) {
	started := time.Now()

	deviceIDs := cleanDeviceIDs(req.DeviceIDs)
	if len(deviceIDs) == 0 || strings.TrimSpace(req.StartDate) == "" || strings.TrimSpace(req.EndDate) == "" {
		slog.Debug("[Pipeline] Empty input, skipping upstream", "devices", len(deviceIDs))
		return p.finish(emptyResult(Period{}, ReasonNoInput, BatchCounts{}), started), nil
	}

	period, err := normalizePeriod(req.StartDate, req.EndDate)
	if err != nil {
		return nil, err
	}
	if req.SchemaID == "" {
		return nil, invalidQueryf("schema_id is required")
	}

	base := autograph.TripItemsRequest{
		SchemaID:  req.SchemaID,
		DeviceIDs: deviceIDs,
		Start:     period.Start,
		End:       period.End,
	}

	// Primary and fallback calls share one pacer so the fallback also waits.
	pacer := p.fetcher.NewPacer()

	// PrimaryFetch
	primary := corehistory.SplitParameters(p.catalog.ExtendedParameters(), p.batchSize)
	outcome := p.fetcher.FetchAll(ctx, pacer, session, base, primary)
	if outcome.AllUnauthorized() {
		return nil, fmt.Errorf("primary fetch: %w", autograph.ErrUnauthorized)
	}
	batches := BatchCounts{Requested: len(primary), Failed: outcome.Failed}

	merged := p.merge(outcome.Results)
	if !merged.IsEmpty() {
		slog.Info("[Pipeline] Primary fetch returned data",
			"schema_id", req.SchemaID,
			"devices", len(deviceIDs),
			"records", merged.TotalRecords(),
			"batches", batches.Requested,
			"failed", batches.Failed)
		return p.finish(p.assemble(merged, period, corehistory.DataTypeExtended, batches), started), nil
	}

	// FallbackFetch
	slog.Warn("[Pipeline] Primary fetch returned no records, trying fallback parameters",
		"schema_id", req.SchemaID,
		"failed_batches", batches.Failed)

	fallback := [][]string{p.catalog.FallbackParameters()}
	fbOutcome := p.fetcher.FetchAll(ctx, pacer, session, base, fallback)
	batches.Requested += len(fallback)
	batches.Failed += fbOutcome.Failed

	merged = p.merge(fbOutcome.Results)
	if !merged.IsEmpty() {
		slog.Info("[Pipeline] Fallback fetch returned data",
			"schema_id", req.SchemaID,
			"records", merged.TotalRecords())
		return p.finish(p.assemble(merged, period, corehistory.DataTypeFallback, batches), started), nil
	}

	// EmptyResponse
	reason := ReasonNoData
	if batches.Failed == batches.Requested {
		reason = ReasonUpstreamFailing
	}
	slog.Warn("[Pipeline] No data after fallback", "schema_id", req.SchemaID, "reason", reason)
	return p.finish(emptyResult(period, reason, batches), started), nil
}

// Buckets runs the pipeline and averages the series into time buckets.
func (p *Pipeline) Buckets(ctx context.Context, session string, req BucketRequest) (*BucketResult, error) {
	resolution, err := corehistory.ParseResolution(req.Resolution)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}

	res, err := p.Run(ctx, session, req.Request)
	if err != nil {
		return nil, err
	}

	return &BucketResult{
		Resolution:    resolution,
		Buckets:       corehistory.AggregateBuckets(res.TimeSeries, resolution, req.Params),
		Parameters:    res.Parameters,
		ParameterInfo: res.ParameterInfo,
		TotalRecords:  res.TotalRecords,
		Period:        res.Period,
		DataType:      res.DataType,
		Reason:        res.Reason,
	}, nil
}

// merge folds batch results, logging each count mismatch as it is found.
func (p *Pipeline) merge(results []corehistory.BatchResult) corehistory.Merged {
	var acc corehistory.Merged
	for i, batch := range results {
		acc = corehistory.Merge(acc, batch)
		for _, id := range acc.LastMismatches() {
			slog.Warn("[Pipeline] Record count mismatch while merging",
				"device_id", id,
				"batch", i+1)
			metrics.MergeCountMismatches.Inc()
		}
	}
	return acc
}

func (p *Pipeline) finish(res *Result, started time.Time) *Result {
	metrics.PipelineRuns.WithLabelValues(string(res.DataType)).Inc()
	metrics.PipelineDuration.Observe(time.Since(started).Seconds())
	return res
}

func (p *Pipeline) assemble(merged corehistory.Merged, period Period, dataType corehistory.DataType, batches BatchCounts) *Result {
	series := corehistory.AssembleSeries(merged)
	params := merged.Parameters()
	return &Result{
		TimeSeries:    series,
		Summary:       corehistory.Summarize(series, merged.Stats()),
		Parameters:    params,
		ParameterInfo: p.catalog.Describe(params),
		TotalRecords:  len(series),
		Period:        period,
		DataType:      dataType,
		Batches:       batches,
	}
}

func normalizePeriod(startDate, endDate string) (Period, error) {
	start, err := autograph.FormatDate(startDate, true)
	if err != nil {
		return Period{}, invalidQueryf("start_date: %v", err)
	}
	end, err := autograph.FormatDate(endDate, false)
	if err != nil {
		return Period{}, invalidQueryf("end_date: %v", err)
	}

	startT, err := autograph.ParseAPIDate(start)
	if err != nil {
		return Period{}, invalidQueryf("start_date: %v", err)
	}
	endT, err := autograph.ParseAPIDate(end)
	if err != nil {
		return Period{}, invalidQueryf("end_date: %v", err)
	}
	if endT.Before(startT) {
		return Period{}, invalidQueryf("end_date %s is before start_date %s", endDate, startDate)
	}
	return Period{Start: start, End: end}, nil
}

// cleanDeviceIDs trims ids and drops blanks and duplicates, keeping order.
func cleanDeviceIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
