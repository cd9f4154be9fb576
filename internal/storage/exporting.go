package storage

import (
	"context"
	"log/slog"

	"github.com/IshaanNene/calsync/internal/types"
)

// ExportingStore forwards every call to a primary Store and fans stored
// matches out to exporters. Exporter failures are logged, never returned.
type ExportingStore struct {
	Store
	exporters []Exporter
	logger    *slog.Logger
}

// NewExportingStore wraps store with the given exporters.
func NewExportingStore(store Store, exporters []Exporter, logger *slog.Logger) *ExportingStore {
	return &ExportingStore{
		Store:     store,
		exporters: exporters,
		logger:    logger.With("component", "exporting_storage"),
	}
}

func (s *ExportingStore) Name() string { return s.Store.Name() + "+export" }

func (s *ExportingStore) InsertMatches(ctx context.Context, records []*types.MatchRecord, meta types.RunMetadata) error {
	if err := s.Store.InsertMatches(ctx, records, meta); err != nil {
		return err
	}
	for _, exp := range s.exporters {
		if err := exp.Export(records); err != nil {
			s.logger.Error("export failed", "exporter", exp.Name(), "error", err)
		}
	}
	return nil
}

func (s *ExportingStore) Close() error {
	var firstErr error
	for _, exp := range s.exporters {
		if err := exp.Close(); err != nil {
			s.logger.Error("exporter close failed", "exporter", exp.Name(), "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if err := s.Store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
