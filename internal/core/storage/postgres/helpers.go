package postgres

import (
	"fmt"

	"github.com/goccy/go-json"

	"github.com/aevon-lab/project-tracklog/internal/core/history"
	"github.com/aevon-lab/project-tracklog/internal/core/storage"
)

// marshalSnapshotJSON encodes the JSONB columns of a snapshot.
// A nil parameter list is stored as an empty array, not SQL NULL.
func marshalSnapshotJSON(snap *storage.Snapshot) (paramsJSON, summaryJSON []byte, err error) {
	params := snap.Parameters
	if params == nil {
		params = []string{}
	}
	paramsJSON, err = json.Marshal(params)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal parameters: %w", err)
	}

	summaryJSON, err = json.Marshal(snap.Summary)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal summary: %w", err)
	}

	return paramsJSON, summaryJSON, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

// scanSnapshotRow scans one history_snapshots row.
// Compatible with both sql.Row and sql.Rows.
func scanSnapshotRow(row scanner) (*storage.Snapshot, error) {
	var snap storage.Snapshot
	var dataType string
	var paramsJSON, summaryJSON []byte

	err := row.Scan(
		&snap.ID,
		&snap.SchemaID,
		&snap.PeriodStart,
		&snap.PeriodEnd,
		&dataType,
		&snap.TotalRecords,
		&snap.VehicleCount,
		&paramsJSON,
		&summaryJSON,
		&snap.CatalogFingerprint,
		&snap.CollectedAt,
	)
	if err != nil {
		return nil, err
	}
	snap.DataType = history.DataType(dataType)

	if len(paramsJSON) > 0 {
		if err := json.Unmarshal(paramsJSON, &snap.Parameters); err != nil {
			return nil, fmt.Errorf("failed to unmarshal parameters: %w", err)
		}
	}
	if len(summaryJSON) > 0 {
		if err := json.Unmarshal(summaryJSON, &snap.Summary); err != nil {
			return nil, fmt.Errorf("failed to unmarshal summary: %w", err)
		}
	}

	return &snap, nil
}
