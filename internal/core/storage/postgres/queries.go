package postgres

// SQL queries for snapshot storage

const (
	// querySaveSnapshot inserts a snapshot. ids are generated by the caller,
	// so a conflict means the same snapshot was saved twice and is ignored.
	querySaveSnapshot = `
		INSERT INTO history_snapshots (
			id, schema_id, period_start, period_end, data_type,
			total_records, vehicle_count, parameters, summary,
			catalog_fingerprint, collected_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING
	`

	// queryLatestSnapshot relies on idx_history_snapshots_schema_collected.
	queryLatestSnapshot = `
		SELECT
			id, schema_id, period_start, period_end, data_type,
			total_records, vehicle_count, parameters, summary,
			catalog_fingerprint, collected_at
		FROM history_snapshots
		WHERE schema_id = $1
		ORDER BY collected_at DESC
		LIMIT 1
	`

	queryPruneSnapshots = `
		DELETE FROM history_snapshots
		WHERE collected_at < $1
	`
)
