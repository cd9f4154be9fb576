package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/IshaanNene/calsync/internal/config"
	"github.com/IshaanNene/calsync/internal/types"
)

// DefaultRecentLogs is the number of log rows returned when no limit is
// given.
const DefaultRecentLogs = 50

// Store is the persistence contract of the scraper and its admin surface.
type Store interface {
	// LoadPools returns the pool definitions of a season in stored order.
	LoadPools(ctx context.Context, season string) ([]types.PoolDefinition, error)

	// SavePools upserts pool definitions and returns how many were written.
	SavePools(ctx context.Context, pools []types.PoolDefinition) (int, error)

	// InsertMatches upserts records keyed by match id.
	InsertMatches(ctx context.Context, records []*types.MatchRecord, meta types.RunMetadata) error

	// ListMatches returns stored matches, optionally restricted to a season.
	ListMatches(ctx context.Context, season string) ([]*types.MatchRecord, error)

	// DeleteAllMatches removes every stored match.
	DeleteAllMatches(ctx context.Context) (int64, error)

	// StartLog opens a run log entry and returns its id.
	StartLog(ctx context.Context, sessionID, season, venue string) (string, error)

	// UpdateLog overwrites the counters, message and status of a log entry.
	UpdateLog(ctx context.Context, logID string, u types.LogUpdate) error

	// LatestLogBySession returns the newest log entry of a session or
	// types.ErrNotFound.
	LatestLogBySession(ctx context.Context, sessionID string) (*types.LogEntry, error)

	// RecentLogs returns the newest log entries first.
	RecentLogs(ctx context.Context, limit int) ([]types.LogEntry, error)

	// ClearLogs removes every log entry.
	ClearLogs(ctx context.Context) (int64, error)

	// SaveVenueSearch remembers a venue filter.
	SaveVenueSearch(ctx context.Context, venue, searchTime string) error

	// LastVenue returns the newest saved venue or types.ErrNotFound.
	LastVenue(ctx context.Context) (*types.VenueSearch, error)

	// Close releases resources.
	Close() error

	// Name returns the storage backend identifier.
	Name() string
}

// Open creates the configured backend and, when an export type is set,
// wraps it so stored matches are also written to a file.
func Open(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (Store, error) {
	var (
		store Store
		err   error
	)
	switch cfg.Driver {
	case DriverSQLite, DriverPostgres:
		store, err = NewSQLStore(ctx, cfg, logger)
	case DriverMongo:
		store, err = NewMongoStore(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.Driver)
	}
	if err != nil {
		return nil, &types.InfrastructureError{Component: "storage", Err: err}
	}

	if cfg.ExportType == "" {
		return store, nil
	}
	exp, err := NewFileExporter(cfg.ExportType, cfg.ExportPath, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return NewExportingStore(store, []Exporter{exp}, logger), nil
}

func persistenceErr(backend, op string, err error) error {
	if err == nil {
		return nil
	}
	return &types.PersistenceError{Backend: backend, Op: op, Err: err}
}
