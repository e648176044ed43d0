package collector

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/aevon-lab/project-tracklog/internal/autograph"
	"github.com/aevon-lab/project-tracklog/internal/core/storage"
	"github.com/aevon-lab/project-tracklog/internal/history"
	"github.com/aevon-lab/project-tracklog/internal/metrics"
)

const (
	DefaultInterval = 5 * time.Minute
	DefaultDaysBack = 1
)

// HistorySource is the slice of the history service the collector needs.
type HistorySource interface {
	Devices(ctx context.Context, schemaID string) ([]autograph.Device, error)
	History(ctx context.Context, req history.Request) (*history.Result, error)
}

// Options tunes a Scheduler.
type Options struct {
	SchemaID           string
	Interval           time.Duration
	DaysBack           int
	Retention          time.Duration // 0 keeps snapshots forever
	CatalogFingerprint string
}

func (o Options) normalized() Options {
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.DaysBack <= 0 {
		o.DaysBack = DefaultDaysBack
	}
	if o.Retention < 0 {
		o.Retention = 0
	}
	return o
}

// Scheduler periodically collects the trailing history window of every device
// in one schema and stores its summary as a snapshot.
type Scheduler struct {
	source HistorySource
	store  storage.SnapshotStore
	opts   Options
	now    func() time.Time
}

// NewScheduler creates a collector for one schema.
func NewScheduler(source HistorySource, store storage.SnapshotStore, opts Options) *Scheduler {
	return &Scheduler{
		source: source,
		store:  store,
		opts:   opts.normalized(),
		now:    time.Now,
	}
}

// Start collects once immediately and then on every tick.
// Runs until ctx is cancelled; no collection starts after that.
func (s *Scheduler) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	slog.Info("[Scheduler] Starting history collector",
		"schema_id", s.opts.SchemaID,
		"interval", s.opts.Interval,
		"days_back", s.opts.DaysBack,
		"retention", s.opts.Retention,
	)

	s.tick(ctx)

	for {
		select {
		case <-ticker.C:
			s.tick(ctx)
		case <-ctx.Done():
			slog.Info("[Scheduler] Stopping (context cancelled)", "schema_id", s.opts.SchemaID)
			return nil
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := s.Collect(ctx); err != nil {
		slog.Error("[Scheduler] Collection failed", "schema_id", s.opts.SchemaID, "error", err)
	}
	if err := s.prune(ctx); err != nil {
		slog.Error("[Scheduler] Snapshot pruning failed", "schema_id", s.opts.SchemaID, "error", err)
	}
}

// Collect runs one collection and returns the stored snapshot, or nil when
// the schema has no devices.
func (s *Scheduler) Collect(ctx context.Context) (*storage.Snapshot, error) {
	devices, err := s.source.Devices(ctx, s.opts.SchemaID)
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	ids := make([]string, 0, len(devices))
	for _, d := range devices {
		if d.ID != "" {
			ids = append(ids, d.ID)
		}
	}
	if len(ids) == 0 {
		slog.Warn("[Scheduler] Schema has no devices, skipping collection", "schema_id", s.opts.SchemaID)
		return nil, nil
	}

	now := s.now()
	start := now.AddDate(0, 0, -s.opts.DaysBack)
	res, err := s.source.History(ctx, history.Request{
		SchemaID:  s.opts.SchemaID,
		DeviceIDs: ids,
		StartDate: start.Format("2006-01-02"),
		EndDate:   now.Format("2006-01-02"),
	})
	if err != nil {
		return nil, fmt.Errorf("running history: %w", err)
	}

	snap := s.snapshotOf(res, now)
	if err := s.store.SaveSnapshot(ctx, snap); err != nil {
		metrics.SnapshotsSaved.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("saving snapshot: %w", err)
	}
	metrics.SnapshotsSaved.WithLabelValues("ok").Inc()

	slog.Info("[Scheduler] Snapshot stored",
		"schema_id", snap.SchemaID,
		"snapshot_id", snap.ID,
		"data_type", snap.DataType,
		"records", snap.TotalRecords,
		"vehicles", snap.VehicleCount,
	)
	return snap, nil
}

func (s *Scheduler) snapshotOf(res *history.Result, collectedAt time.Time) *storage.Snapshot {
	periodStart, _ := autograph.ParseAPIDate(res.Period.Start)
	periodEnd, _ := autograph.ParseAPIDate(res.Period.End)

	return &storage.Snapshot{
		ID:                 uuid.NewString(),
		SchemaID:           s.opts.SchemaID,
		PeriodStart:        periodStart,
		PeriodEnd:          periodEnd,
		DataType:           res.DataType,
		TotalRecords:       res.TotalRecords,
		VehicleCount:       res.Summary.VehicleCount,
		Parameters:         res.Parameters,
		Summary:            res.Summary,
		CatalogFingerprint: s.opts.CatalogFingerprint,
		CollectedAt:        collectedAt.UTC(),
	}
}

func (s *Scheduler) prune(ctx context.Context) error {
	if s.opts.Retention == 0 {
		return nil
	}
	cutoff := s.now().Add(-s.opts.Retention)
	removed, err := s.store.PruneSnapshots(ctx, cutoff)
	if err != nil {
		return err
	}
	if removed > 0 {
		slog.Info("[Scheduler] Pruned old snapshots", "removed", removed, "cutoff", cutoff)
	}
	return nil
}
