package history

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/aevon-lab/project-tracklog/internal/autograph"
	corehistory "github.com/aevon-lab/project-tracklog/internal/core/history"
	"github.com/aevon-lab/project-tracklog/internal/metrics"
)

// DefaultBatchDelay spaces successive upstream batch calls.
const DefaultBatchDelay = 500 * time.Millisecond

// TripItemsSource is the upstream call the fetcher depends on.
type TripItemsSource interface {
	GetTripItems(ctx context.Context, session string, req autograph.TripItemsRequest) (autograph.TripItemsResponse, error)
}

// Fetcher issues one GetTripItems call per parameter batch. A failing batch
// is logged and contributes an empty result; it never aborts the run.
type Fetcher struct {
	api           TripItemsSource
	delay         time.Duration
	splitterIndex int
}

// NewFetcher creates a fetcher. delay < 0 uses DefaultBatchDelay; 0 disables pacing.
func NewFetcher(api TripItemsSource, delay time.Duration, splitterIndex int) *Fetcher {
	if delay < 0 {
		delay = DefaultBatchDelay
	}
	return &Fetcher{api: api, delay: delay, splitterIndex: splitterIndex}
}

// FetchOutcome summarizes one FetchAll call. Results holds one entry per
// batch, empty for failed batches.
type FetchOutcome struct {
	Results      []corehistory.BatchResult
	Failed       int
	Unauthorized int
}

// AllUnauthorized reports whether every batch was rejected for a bad session.
func (o FetchOutcome) AllUnauthorized() bool {
	return len(o.Results) > 0 && o.Unauthorized == len(o.Results)
}

// NewPacer returns a limiter spacing calls by the fetcher's delay. One
// pacer covers one pipeline run: the first call goes out immediately and
// every later call, across FetchAll invocations, waits for the delay.
func (f *Fetcher) NewPacer() *rate.Limiter {
	limit := rate.Inf
	if f.delay > 0 {
		limit = rate.Every(f.delay)
	}
	return rate.NewLimiter(limit, 1)
}

// FetchAll fetches every batch in order, waiting on pacer before each call.
// A nil pacer gets a fresh one from NewPacer.
func (f *Fetcher) FetchAll(ctx context.Context, pacer *rate.Limiter, session string, base autograph.TripItemsRequest, batches [][]string) FetchOutcome {
	if pacer == nil {
		pacer = f.NewPacer()
	}

	out := FetchOutcome{Results: make([]corehistory.BatchResult, 0, len(batches))}
	for i, params := range batches {
		if err := pacer.Wait(ctx); err != nil {
			slog.Warn("[Fetcher] Run cancelled before batch", "batch", i+1, "of", len(batches), "error", err)
			for range batches[i:] {
				out.Results = append(out.Results, corehistory.BatchResult{})
				out.Failed++
			}
			metrics.BatchFetches.WithLabelValues("failed").Add(float64(len(batches) - i))
			return out
		}

		res, err := f.fetchBatch(ctx, session, base, params)
		if err != nil {
			out.Failed++
			if errors.Is(err, autograph.ErrUnauthorized) {
				out.Unauthorized++
			}
			slog.Warn("[Fetcher] Batch failed, continuing with empty result",
				"batch", i+1,
				"of", len(batches),
				"params", len(params),
				"error", err)
			metrics.BatchFetches.WithLabelValues("failed").Inc()
			out.Results = append(out.Results, corehistory.BatchResult{})
			continue
		}

		if len(res) == 0 {
			metrics.BatchFetches.WithLabelValues("empty").Inc()
		} else {
			metrics.BatchFetches.WithLabelValues("ok").Inc()
		}
		slog.Debug("[Fetcher] Batch fetched", "batch", i+1, "of", len(batches), "devices", len(res))
		out.Results = append(out.Results, res)
	}
	return out
}

func (f *Fetcher) fetchBatch(ctx context.Context, session string, base autograph.TripItemsRequest, params []string) (corehistory.BatchResult, error) {
	req := base
	req.Params = params
	req.TripSplitterIndex = f.splitterIndex

	resp, err := f.api.GetTripItems(ctx, session, req)
	if err != nil {
		return nil, err
	}
	return resp.ToBatchResult(), nil
}
