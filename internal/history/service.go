package history

import (
	"context"
	"errors"
	"fmt"

	"github.com/aevon-lab/project-tracklog/internal/autograph"
	corehistory "github.com/aevon-lab/project-tracklog/internal/core/history"
	"github.com/aevon-lab/project-tracklog/internal/core/storage"
)

// Sessions hands out upstream session tokens.
type Sessions interface {
	Do(ctx context.Context, fn func(session string) error) error
}

// Directory is the upstream calls the service makes outside the pipeline.
type Directory interface {
	EnumSchemas(ctx context.Context, session string) ([]autograph.Schema, error)
	EnumDevices(ctx context.Context, session, schemaID string) (*autograph.DeviceList, error)
	GetOnlineInfo(ctx context.Context, session string, req autograph.OnlineInfoRequest) (autograph.OnlineInfoResponse, error)
	GetTripsTotal(ctx context.Context, session string, req autograph.TripsTotalRequest) (autograph.TripsTotalResponse, error)
}

// Service is the query layer in front of the pipeline and the upstream directory.
type Service struct {
	pipeline      *Pipeline
	directory     Directory
	sessions      Sessions
	catalog       *corehistory.Catalog
	snapshots     storage.SnapshotStore // nil when no database is configured
	defaultSchema string
}

// NewService creates a history service. snapshots may be nil.
func NewService(
	pipeline *Pipeline,
	directory Directory,
	sessions Sessions,
	catalog *corehistory.Catalog,
	snapshots storage.SnapshotStore,
	defaultSchema string,
) *Service {
	return &Service{
		pipeline:      pipeline,
		directory:     directory,
		sessions:      sessions,
		catalog:       catalog,
		snapshots:     snapshots,
		defaultSchema: defaultSchema,
	}
}

// DefaultSchema is the schema used when a request names none.
func (s *Service) DefaultSchema() string {
	return s.defaultSchema
}

// History runs the pipeline for req.
func (s *Service) History(ctx context.Context, req Request) (*Result, error) {
	req.SchemaID = s.schemaOrDefault(req.SchemaID)

	var res *Result
	err := s.sessions.Do(ctx, func(session string) error {
		var runErr error
		res, runErr = s.pipeline.Run(ctx, session, req)
		return runErr
	})
	if err != nil {
		return nil, classify("history", err)
	}
	return res, nil
}

// Buckets runs the pipeline and returns bucket averages.
func (s *Service) Buckets(ctx context.Context, req BucketRequest) (*BucketResult, error) {
	req.SchemaID = s.schemaOrDefault(req.SchemaID)

	var res *BucketResult
	err := s.sessions.Do(ctx, func(session string) error {
		var runErr error
		res, runErr = s.pipeline.Buckets(ctx, session, req)
		return runErr
	})
	if err != nil {
		return nil, classify("history buckets", err)
	}
	return res, nil
}

// Schemas lists upstream schemas.
func (s *Service) Schemas(ctx context.Context) ([]autograph.Schema, error) {
	var schemas []autograph.Schema
	err := s.sessions.Do(ctx, func(session string) error {
		var callErr error
		schemas, callErr = s.directory.EnumSchemas(ctx, session)
		return callErr
	})
	if err != nil {
		return nil, classify("list schemas", err)
	}
	if schemas == nil {
		schemas = []autograph.Schema{}
	}
	return schemas, nil
}

// Devices lists the devices of a schema. An empty schemaID uses the default.
func (s *Service) Devices(ctx context.Context, schemaID string) ([]autograph.Device, error) {
	schemaID = s.schemaOrDefault(schemaID)
	if schemaID == "" {
		return nil, invalidQueryf("schema_id is required")
	}

	var list *autograph.DeviceList
	err := s.sessions.Do(ctx, func(session string) error {
		var callErr error
		list, callErr = s.directory.EnumDevices(ctx, session, schemaID)
		return callErr
	})
	if err != nil {
		return nil, classify("list devices", err)
	}
	if list == nil || list.Items == nil {
		return []autograph.Device{}, nil
	}
	return list.Items, nil
}

// Parameters returns the parameter catalog.
func (s *Service) Parameters() *corehistory.Catalog {
	return s.catalog
}

// LatestSnapshot returns the newest collected snapshot of a schema.
func (s *Service) LatestSnapshot(ctx context.Context, schemaID string) (*storage.Snapshot, error) {
	schemaID = s.schemaOrDefault(schemaID)
	if schemaID == "" {
		return nil, invalidQueryf("schema_id is required")
	}
	if s.snapshots == nil {
		return nil, fmt.Errorf("snapshot storage is not configured: %w", storage.ErrNotFound)
	}

	snap, err := s.snapshots.LatestSnapshot(ctx, schemaID)
	if err != nil {
		return nil, fmt.Errorf("latest snapshot for schema %s: %w", schemaID, err)
	}
	return snap, nil
}

func (s *Service) schemaOrDefault(schemaID string) string {
	if schemaID == "" {
		return s.defaultSchema
	}
	return schemaID
}

// classify tags upstream-originated errors with ErrUpstream so the HTTP layer
// can answer 502. Caller errors and context errors pass through unchanged.
func classify(op string, err error) error {
	switch {
	case errors.Is(err, ErrInvalidQuery),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w", op, err)
	default:
		return fmt.Errorf("%s: %w: %w", op, ErrUpstream, err)
	}
}
