package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/aevon-lab/project-tracklog/internal/autograph"
	"github.com/aevon-lab/project-tracklog/internal/collector"
	corecfg "github.com/aevon-lab/project-tracklog/internal/core/config"
	corehistory "github.com/aevon-lab/project-tracklog/internal/core/history"
	"github.com/aevon-lab/project-tracklog/internal/core/storage"
	"github.com/aevon-lab/project-tracklog/internal/core/storage/postgres"
	"github.com/aevon-lab/project-tracklog/internal/history"
	"github.com/aevon-lab/project-tracklog/internal/migrations"
	"github.com/aevon-lab/project-tracklog/internal/server"
)

func main() {
	configPath := flag.String("config", "tracklog.yaml", "Path to configuration file")
	flag.Parse()

	// 0. Initialize Logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// 1. Load Configuration
	cfg, err := corecfg.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	slog.Info("Loaded config",
		"autograph", cfg.Autograph.BaseURL,
		"schema_id", cfg.Autograph.SchemaID,
		"database", cfg.Database.Enabled(),
		"collector", cfg.Collector.Enabled,
	)

	// 2. Load Parameter Catalog
	catalog, err := corehistory.LoadCatalog(cfg.Catalog.Path)
	if err != nil {
		slog.Error("Failed to load parameter catalog", "path", cfg.Catalog.Path, "error", err)
		os.Exit(1)
	}
	slog.Info("Parameter catalog loaded",
		"groups", len(catalog.Groups),
		"extended_params", len(catalog.ExtendedParameters()),
		"fallback_params", len(catalog.FallbackParameters()),
		"fingerprint", catalog.Fingerprint,
	)

	// 3. Initialize Upstream Client
	var api autograph.API = autograph.NewClient(cfg.Autograph.BaseURL, cfg.Autograph.TimeoutDuration())
	if cfg.Autograph.Breaker.Enabled {
		api = autograph.NewBreakerClient(api, cfg.Autograph.Breaker.BreakerSettings())
	}
	sessions := autograph.NewSessionManager(api, cfg.Autograph.Credentials(), cfg.Autograph.SessionTTLDuration())

	// 4. Initialize Storage (optional PostgreSQL)
	var (
		snapshots storage.SnapshotStore
		health    server.HealthChecker
	)
	if cfg.Database.Enabled() {
		db, err := postgres.Open(cfg.Database.DSN, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
		if err != nil {
			slog.Error("Failed to initialize database", "error", err)
			os.Exit(1)
		}

		// 4.1. Run Database Migrations
		if err := migrations.RunMigrations(db, cfg.Database.AutoMigrate); err != nil {
			slog.Error("Failed to run database migrations", "error", err)
			os.Exit(1)
		}

		adapter, err := postgres.NewAdapter(db)
		if err != nil {
			slog.Error("Failed to initialize snapshot store", "error", err)
			os.Exit(1)
		}
		defer adapter.Close()
		snapshots = adapter
		health = adapter
	} else {
		slog.Info("No database configured, snapshot storage disabled")
	}

	// 5. Initialize History Pipeline
	fetcher := history.NewFetcher(api, cfg.History.BatchDelayDuration(), cfg.History.TripSplitterIndex)
	pipeline := history.NewPipeline(fetcher, catalog, cfg.History.BatchSize)
	historySvc := history.NewService(pipeline, api, sessions, catalog, snapshots, cfg.Autograph.SchemaID)

	// 6. Initialize Server
	srv := server.New(fmtAddr(cfg.Server.Host, cfg.Server.Port), health, server.Options{
		Mode:            cfg.Server.Mode,
		MaxBodyBytes:    int64(cfg.Server.MaxBodySizeMB) << 20,
		ShutdownTimeout: cfg.Server.ShutdownTimeoutDuration(),
	})
	historySvc.RegisterRoutes(srv.Engine)

	// 7. Start Services
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Collector.Enabled {
		scheduler := collector.NewScheduler(historySvc, snapshots, collector.Options{
			SchemaID:           cfg.Autograph.SchemaID,
			Interval:           cfg.Collector.IntervalDuration(),
			DaysBack:           cfg.Collector.DaysBack,
			Retention:          cfg.Collector.RetentionDuration(),
			CatalogFingerprint: catalog.Fingerprint,
		})
		go func() {
			if err := scheduler.Start(ctx); err != nil {
				slog.Error("Scheduler stopped with error", "error", err)
			}
		}()
	} else {
		slog.Info("History collector disabled by config")
	}

	// Signal handler → triggers the shutdown sequence below.
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		slog.Info("Signal received, shutting down...")
		cancel()
	}()

	// HTTP server blocks until ctx is cancelled.
	if err := srv.Run(ctx); err != nil {
		slog.Error("Server stopped with error", "error", err)
	}

	slog.Info("Shutdown complete")
}

func fmtAddr(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}
