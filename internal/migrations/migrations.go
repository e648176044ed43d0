package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed *.sql
var MigrationFiles embed.FS

// RunMigrations applies the history_snapshots migrations.
//
// Every up file is written with IF NOT EXISTS, so re-running an interrupted
// version is safe. A dirty version is therefore recovered by moving the
// version marker back to the previous migration and letting Up apply the
// interrupted file again. With autoMigrate false nothing is changed: a clean
// database only has its version logged, and a dirty one is an error because
// the snapshot table or its indexes may be incomplete.
func RunMigrations(db *sql.DB, autoMigrate bool) error {
	sourceDriver, err := iofs.New(MigrationFiles, ".")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("failed to get current migration version: %w", err)
	}

	if dirty {
		if !autoMigrate {
			return fmt.Errorf("snapshot schema is dirty at version %d and auto_migrate is off", version)
		}

		target, err := recoveryVersion(sourceDriver, version)
		if err != nil {
			return err
		}
		slog.Warn("[Migrations] Snapshot schema is dirty, re-applying interrupted version",
			"version", version,
			"reset_to", target,
		)
		if err := m.Force(target); err != nil {
			return fmt.Errorf("failed to reset dirty version %d: %w", version, err)
		}
	}

	if !autoMigrate {
		slog.Info("[Migrations] Auto-migration disabled, skipping migrations", "current_version", version)
		return nil
	}

	slog.Info("[Migrations] Running database migrations", "current_version", version)

	err = m.Up()
	if err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			slog.Info("[Migrations] Database schema is up to date", "version", version)
			return nil
		}
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	newVersion, _, err := m.Version()
	if err != nil {
		return fmt.Errorf("failed to get updated migration version: %w", err)
	}

	slog.Info("[Migrations] Database migrations completed",
		"from_version", version,
		"to_version", newVersion,
	)

	return nil
}

// recoveryVersion is the version to force so that Up re-runs dirty.
// The first migration resets to no version at all.
func recoveryVersion(src source.Driver, dirty uint) (int, error) {
	prev, err := src.Prev(dirty)
	if errors.Is(err, os.ErrNotExist) {
		return database.NilVersion, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to find migration before version %d: %w", dirty, err)
	}
	return int(prev), nil
}
