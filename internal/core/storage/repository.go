package storage

import (
	"context"
	"errors"
	"time"

	"github.com/aevon-lab/project-tracklog/internal/core/history"
)

// ErrNotFound is returned when no snapshot matches a lookup.
var ErrNotFound = errors.New("snapshot not found")

// Snapshot is one persisted pipeline result for a schema and period.
// Only the summary is stored; the raw series is re-fetched on demand.
type Snapshot struct {
	ID                 string               `json:"id"`
	SchemaID           string               `json:"schema_id"`
	PeriodStart        time.Time            `json:"period_start"`
	PeriodEnd          time.Time            `json:"period_end"`
	DataType           history.DataType     `json:"data_type"`
	TotalRecords       int                  `json:"total_records"`
	VehicleCount       int                  `json:"vehicle_count"`
	Parameters         []string             `json:"parameters"`
	Summary            history.SummaryStats `json:"summary"`
	CatalogFingerprint string               `json:"catalog_fingerprint"`
	CollectedAt        time.Time            `json:"collected_at"`
}

// SnapshotStore persists collector snapshots.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snap *Snapshot) error

	// LatestSnapshot returns the most recently collected snapshot of a schema,
	// or ErrNotFound.
	LatestSnapshot(ctx context.Context, schemaID string) (*Snapshot, error)

	// PruneSnapshots deletes snapshots collected before cutoff and reports how many were removed.
	PruneSnapshots(ctx context.Context, cutoff time.Time) (int64, error)
}
