package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/IshaanNene/calsync/internal/config"
	"github.com/IshaanNene/calsync/internal/publisher"
	"github.com/IshaanNene/calsync/internal/storage"
	"github.com/IshaanNene/calsync/internal/types"
)

// Runner executes scraping runs.
type Runner interface {
	Run(ctx context.Context, req types.RunRequest) types.RunResult
}

// Publisher pushes stored matches to the external calendar.
type Publisher interface {
	SyncAll(ctx context.Context, records []*types.MatchRecord) (publisher.SyncSummary, error)
}

// Outcome describes one scheduled sync.
type Outcome struct {
	StartedAt time.Time
	Cleared   int64
	Result    types.RunResult
	Sync      *publisher.SyncSummary
}

// Scheduler runs a full sync once a day at a fixed wall-clock time.
type Scheduler struct {
	cfg    config.ScheduleConfig
	engine config.EngineConfig
	venue  string
	hour   int
	minute int
	loc    *time.Location
	runner Runner
	store  storage.Store
	pub    Publisher
	logger *slog.Logger
	now    func() time.Time
	after  func(time.Duration) <-chan time.Time
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithPublisher publishes stored matches after each successful run when
// publish_after_sync is set.
func WithPublisher(p Publisher) Option {
	return func(s *Scheduler) { s.pub = p }
}

// WithClock replaces the time source and the timer.
func WithClock(now func() time.Time, after func(time.Duration) <-chan time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
		s.after = after
	}
}

// New validates the schedule settings and creates a Scheduler.
func New(cfg *config.Config, runner Runner, store storage.Store, logger *slog.Logger, opts ...Option) (*Scheduler, error) {
	hour, minute, err := ParseDailyAt(cfg.Schedule.DailyAt)
	if err != nil {
		return nil, &types.ConfigurationError{Field: "schedule.daily_at", Reason: err.Error()}
	}
	loc := time.Local
	if tz := cfg.Schedule.Timezone; tz != "" {
		if loc, err = time.LoadLocation(tz); err != nil {
			return nil, &types.ConfigurationError{Field: "schedule.timezone", Reason: err.Error()}
		}
	}

	s := &Scheduler{
		cfg:    cfg.Schedule,
		engine: cfg.Engine,
		venue:  cfg.Venue.Default,
		hour:   hour,
		minute: minute,
		loc:    loc,
		runner: runner,
		store:  store,
		logger: logger.With("component", "scheduler"),
		now:    time.Now,
		after:  time.After,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ParseDailyAt parses an "HH:MM" time of day.
func ParseDailyAt(v string) (hour, minute int, err error) {
	h, m, ok := strings.Cut(strings.TrimSpace(v), ":")
	if !ok {
		return 0, 0, fmt.Errorf("expected HH:MM, got %q", v)
	}
	if hour, err = strconv.Atoi(h); err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", v)
	}
	if minute, err = strconv.Atoi(m); err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", v)
	}
	return hour, minute, nil
}

// NextRun returns the first occurrence of hour:minute in loc strictly
// after now.
func NextRun(now time.Time, hour, minute int, loc *time.Location) time.Time {
	local := now.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, hour, minute, 0, 0, loc)
	}
	return next
}

// Next returns the time of the next scheduled run.
func (s *Scheduler) Next() time.Time {
	return NextRun(s.now(), s.hour, s.minute, s.loc)
}

// Start blocks, running a sync at every scheduled time until ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("schedule started", "daily_at", s.cfg.DailyAt, "timezone", s.loc.String())
	for {
		if ctx.Err() != nil {
			s.logger.Info("schedule stopped")
			return ctx.Err()
		}
		next := s.Next()
		s.logger.Info("next scheduled sync", "at", next)

		select {
		case <-ctx.Done():
			continue
		case <-s.after(next.Sub(s.now())):
		}

		out, err := s.RunOnce(ctx)
		if err != nil {
			s.logger.Error("scheduled sync failed", "error", err)
			continue
		}
		s.logger.Info("scheduled sync finished",
			"success", out.Result.Success,
			"matches", out.Result.TotalMatches,
			"cleared", out.Cleared,
		)
	}
}

// RunOnce performs one sync: optionally clear stored matches, run the
// scraper for the default season and the last searched venue, then
// optionally publish. A failed run is reported in Outcome.Result, not as
// an error.
func (s *Scheduler) RunOnce(ctx context.Context) (Outcome, error) {
	out := Outcome{StartedAt: s.now()}

	if s.cfg.ClearBeforeSync {
		n, err := s.store.DeleteAllMatches(ctx)
		if err != nil {
			return out, fmt.Errorf("clear matches: %w", err)
		}
		out.Cleared = n
		s.logger.Info("matches cleared before sync", "count", n)
	}

	req, err := s.request(ctx, out.StartedAt)
	if err != nil {
		return out, err
	}
	out.Result = s.runner.Run(ctx, req)
	if !out.Result.Success || !s.cfg.PublishAfterSync || s.pub == nil {
		return out, nil
	}

	records, err := s.store.ListMatches(ctx, req.Season)
	if err != nil {
		return out, fmt.Errorf("list matches: %w", err)
	}
	summary, err := s.pub.SyncAll(ctx, records)
	if err != nil {
		return out, fmt.Errorf("publish: %w", err)
	}
	out.Sync = &summary
	s.logger.Info("calendar synced", "succeeded", summary.Succeeded, "failed", summary.Failed)
	return out, nil
}

// request builds the run request from the configured defaults and the
// most recently searched venue.
func (s *Scheduler) request(ctx context.Context, now time.Time) (types.RunRequest, error) {
	venue := s.venue
	last, err := s.store.LastVenue(ctx)
	switch {
	case err == nil && strings.TrimSpace(last.Venue) != "":
		venue = last.Venue
	case err != nil && !errors.Is(err, types.ErrNotFound):
		return types.RunRequest{}, fmt.Errorf("last venue: %w", err)
	}

	return types.RunRequest{
		Season:        s.engine.DefaultSeason,
		LinkStructure: s.engine.DefaultLinkTemplate,
		Venue:         venue,
		SessionID:     types.NewSessionID(now),
	}, nil
}
