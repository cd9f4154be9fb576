package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/IshaanNene/calsync/internal/config"
	"github.com/IshaanNene/calsync/internal/extractor"
	"github.com/IshaanNene/calsync/internal/fetcher"
	"github.com/IshaanNene/calsync/internal/locator"
	"github.com/IshaanNene/calsync/internal/normalizer"
	"github.com/IshaanNene/calsync/internal/observability"
	"github.com/IshaanNene/calsync/internal/storage"
	"github.com/IshaanNene/calsync/internal/types"
)

// Page source strategies.
const (
	StrategyAuto    = "auto"
	StrategyHTTP    = "http"
	StrategyBrowser = "browser"
)

// ErrAllPoolsFailed is the cause of a run in which no pool succeeded.
var ErrAllPoolsFailed = errors.New("every pool failed")

// ErrCancelRequested is the cause of a run stopped through Engine.Cancel.
var ErrCancelRequested = errors.New("cancelled on request")

// Engine orchestrates scraping runs: it loads a season's pools, reads each
// pool page and hands the normalized matches to the Store.
type Engine struct {
	cfg        *config.Config
	store      storage.Store
	factory    fetcher.Factory
	locator    *locator.Locator
	extractor  *extractor.Extractor
	normalizer *normalizer.Normalizer
	validate   *validator.Validate
	sessions   *SessionTracker
	metrics    *observability.Metrics
	logger     *slog.Logger
	now        func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithMetrics records run counters into m.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithNormalizer replaces the default Normalizer.
func WithNormalizer(n *normalizer.Normalizer) Option {
	return func(e *Engine) { e.normalizer = n }
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an Engine. The factory is only called once a run has pools
// to process.
func New(cfg *config.Config, store storage.Store, factory fetcher.Factory, logger *slog.Logger, opts ...Option) *Engine {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})

	e := &Engine{
		cfg:        cfg,
		store:      store,
		factory:    factory,
		locator:    locator.New(locator.StrategiesFromConfig(cfg.Locator), logger),
		extractor:  extractor.New(logger),
		normalizer: normalizer.New(),
		validate:   v,
		sessions:   NewSessionTracker(),
		logger:     logger.With("component", "engine"),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = observability.NewMetrics(logger)
	}
	return e
}

// Sessions exposes the session registry.
func (e *Engine) Sessions() *SessionTracker { return e.sessions }

// Metrics exposes the run counters.
func (e *Engine) Metrics() *observability.Metrics { return e.metrics }

// Subscribe streams a session's state changes. See SessionTracker.Subscribe.
func (e *Engine) Subscribe(sessionID string) (<-chan types.ScrapeSession, func(), error) {
	return e.sessions.Subscribe(sessionID)
}

// Run executes one scraping run. The caller always receives a RunResult;
// RunResult.Err carries the typed cause of an unsuccessful run.
func (e *Engine) Run(ctx context.Context, req types.RunRequest) types.RunResult {
	started := e.now()
	req.Season = strings.TrimSpace(req.Season)
	req.LinkStructure = strings.TrimSpace(req.LinkStructure)
	req.Venue = strings.TrimSpace(req.Venue)
	if req.SessionID == "" {
		req.SessionID = types.NewSessionID(started)
	}

	if err := e.validateRequest(req); err != nil {
		return rejected(req.SessionID, err, started, e.now())
	}
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	if _, err := e.sessions.StartWithCancel(req, cancel); err != nil {
		return rejected(req.SessionID, err, started, e.now())
	}

	e.metrics.RunsStarted.Add(1)
	e.metrics.ActiveRuns.Add(1)
	defer e.metrics.ActiveRuns.Add(-1)

	r := newRun(e, req, started)
	r.logger.Info("run started", "venue", r.filter.String(), "strategy", r.strategy)

	logID, err := e.store.StartLog(ctx, req.SessionID, req.Season, req.Venue)
	if err != nil {
		return r.finish(ctx, &types.InfrastructureError{Component: "storage", Err: err})
	}
	r.logID = logID
	r.result.LogID = logID
	e.sessions.Update(req.SessionID, func(s *types.ScrapeSession) { s.LogID = logID })

	return r.finish(ctx, r.execute(ctx))
}

// Cancel stops a running session. See SessionTracker.Cancel.
func (e *Engine) Cancel(sessionID string) error {
	if err := e.sessions.Cancel(sessionID, ErrCancelRequested); err != nil {
		return err
	}
	e.logger.Info("run cancellation requested", "session_id", sessionID)
	return nil
}

// Progress returns the polling view of a session. Sessions no longer in
// memory are answered from the newest run log entry.
func (e *Engine) Progress(ctx context.Context, sessionID string) (types.Progress, error) {
	if s, ok := e.sessions.Snapshot(sessionID); ok {
		return s.Progress(), nil
	}

	entry, err := e.store.LatestLogBySession(ctx, sessionID)
	if errors.Is(err, types.ErrNotFound) {
		return types.Progress{}, types.ErrSessionNotFound
	}
	if err != nil {
		return types.Progress{}, err
	}

	p := types.Progress{Message: entry.Message, Status: entry.Status}
	if entry.Status == string(types.SessionCompleted) {
		p.Progress = 100
	}
	return p, nil
}

func (e *Engine) validateRequest(req any) error {
	err := e.validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		if fe.Tag() == "required" {
			return &types.ConfigurationError{Field: fe.Field()}
		}
		return &types.ConfigurationError{Field: fe.Field(), Reason: fmt.Sprintf("failed %q validation", fe.Tag())}
	}
	return &types.ConfigurationError{Field: "request", Reason: err.Error()}
}

func rejected(sessionID string, err error, started, now time.Time) types.RunResult {
	return types.RunResult{
		Success:   false,
		Message:   err.Error(),
		SessionID: sessionID,
		Duration:  now.Sub(started),
		Err:       err,
	}
}
