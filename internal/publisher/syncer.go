package publisher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/panjf2000/ants/v2"

	"github.com/IshaanNene/calsync/internal/observability"
	"github.com/IshaanNene/calsync/internal/types"
)

// SyncSummary counts the outcome of a publishing pass.
type SyncSummary struct {
	Succeeded int      `json:"succeeded"`
	Created   int      `json:"created"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors,omitempty"`
}

// Syncer publishes records concurrently through a bounded worker pool.
type Syncer struct {
	sink    Sink
	workers int
	metrics *observability.Metrics
	logger  *slog.Logger
}

// SyncerOption configures a Syncer.
type SyncerOption func(*Syncer)

// WithMetrics counts published and failed events into m.
func WithMetrics(m *observability.Metrics) SyncerOption {
	return func(s *Syncer) { s.metrics = m }
}

// NewSyncer creates a Syncer. workers below one means a single worker.
func NewSyncer(sink Sink, workers int, logger *slog.Logger, opts ...SyncerOption) *Syncer {
	if workers < 1 {
		workers = 1
	}
	s := &Syncer{
		sink:    sink,
		workers: workers,
		logger:  logger.With("component", "syncer"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SyncAll publishes every record. A failed record never stops the others.
// Records that map to the same calendar event are published in order by a
// single worker, so the sink's lookup sees the event created before it.
func (s *Syncer) SyncAll(ctx context.Context, records []*types.MatchRecord) (SyncSummary, error) {
	var summary SyncSummary
	if len(records) == 0 {
		return summary, nil
	}

	pool, err := ants.NewPool(s.workers)
	if err != nil {
		return summary, fmt.Errorf("create worker pool: %w", err)
	}
	defer pool.Release()

	var (
		succeeded atomic.Int32
		created   atomic.Int32
		mu        sync.Mutex
		failures  []string
		wg        sync.WaitGroup
	)
	fail := func(err error) {
		mu.Lock()
		failures = append(failures, err.Error())
		mu.Unlock()
	}

	for _, group := range groupByEvent(records) {
		group := group
		if ctx.Err() != nil {
			for _, rec := range group {
				fail(&types.PublishError{MatchID: rec.MatchID, Err: ctx.Err()})
			}
			continue
		}
		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()
			for _, rec := range group {
				if ctx.Err() != nil {
					fail(&types.PublishError{MatchID: rec.MatchID, Err: ctx.Err()})
					continue
				}
				ref, err := s.sink.SyncEvent(ctx, rec)
				if err != nil {
					s.logger.Warn("event sync failed", "match_id", rec.MatchID, "error", err)
					fail(err)
					continue
				}
				succeeded.Add(1)
				if ref.Created {
					created.Add(1)
				}
			}
		}); err != nil {
			wg.Done()
			for _, rec := range group {
				fail(&types.PublishError{MatchID: rec.MatchID, Err: err})
			}
		}
	}
	wg.Wait()

	summary.Succeeded = int(succeeded.Load())
	summary.Created = int(created.Load())
	summary.Errors = failures
	summary.Failed = len(failures)
	if s.metrics != nil {
		s.metrics.EventsPublished.Add(int64(summary.Succeeded))
		s.metrics.EventsFailed.Add(int64(summary.Failed))
	}

	s.logger.Info("publishing finished",
		"succeeded", summary.Succeeded,
		"created", summary.Created,
		"failed", summary.Failed,
	)
	return summary, nil
}

// groupByEvent buckets records by event title and day, keeping first-seen
// order.
func groupByEvent(records []*types.MatchRecord) [][]*types.MatchRecord {
	index := make(map[string]int, len(records))
	var groups [][]*types.MatchRecord
	for _, rec := range records {
		key := rec.Title() + "|" + rec.Date
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], rec)
	}
	return groups
}
