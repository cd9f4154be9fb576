package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	neturl "net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"github.com/IshaanNene/calsync/internal/fetcher"
	"github.com/IshaanNene/calsync/internal/normalizer"
	"github.com/IshaanNene/calsync/internal/pipeline"
	"github.com/IshaanNene/calsync/internal/types"
	"github.com/IshaanNene/calsync/internal/venue"
)

// errNoContent marks a page that produced neither a table nor cards.
var errNoContent = errors.New("no results content on page")

// run is the state of one Engine.Run invocation. It is owned by a single
// goroutine.
type run struct {
	engine   *Engine
	req      types.RunRequest
	filter   venue.Filter
	strategy string
	pipeline *pipeline.Pipeline
	navs     map[string]fetcher.Navigator
	started  time.Time
	logID    string
	logger   *slog.Logger

	total     int
	processed int
	matches   int
	failures  []types.PoolFailure
	storeErrs []string
	result    types.RunResult
}

func newRun(e *Engine, req types.RunRequest, started time.Time) *run {
	filter := venue.NewFilter(req.Venue)
	if req.DisableVenueFilter {
		filter = venue.Filter{}
	}
	strategy := e.cfg.Engine.Strategy
	if strategy == "" {
		strategy = StrategyAuto
	}
	logger := e.logger.With("session_id", req.SessionID, "season", req.Season)

	return &run{
		engine:   e,
		req:      req,
		filter:   filter,
		strategy: strategy,
		pipeline: pipeline.Default(filter, logger),
		navs:     make(map[string]fetcher.Navigator),
		started:  started,
		logger:   logger,
		result:   types.RunResult{SessionID: req.SessionID},
	}
}

func (r *run) execute(ctx context.Context) error {
	e := r.engine

	pools, err := e.store.LoadPools(ctx, r.req.Season)
	if err != nil {
		if ctx.Err() != nil {
			return r.cancelled(ctx)
		}
		return &types.InfrastructureError{Component: "storage", Err: err}
	}
	if len(pools) == 0 {
		return &types.NoPoolsError{Season: r.req.Season}
	}

	r.total = len(pools)
	r.result.PoolsTotal = r.total
	e.sessions.Update(r.req.SessionID, func(s *types.ScrapeSession) {
		s.PoolsTotal = r.total
		s.Message = fmt.Sprintf("Found %d pools", r.total)
	})
	r.logger.Info("pools loaded", "count", r.total)

	defer r.closeNavigators()

	limiter := rate.NewLimiter(politeness(e.cfg.Engine.PolitenessDelay), 1)
	for i, pool := range pools {
		if err := limiter.Wait(ctx); err != nil {
			return r.cancelled(ctx)
		}
		index := i + 1
		url := types.BuildPoolURL(r.req.LinkStructure, r.req.Season, pool)

		e.sessions.Update(r.req.SessionID, func(s *types.ScrapeSession) {
			s.Phase = types.PhaseLoading
			s.CurrentPool = pool.Label()
			s.Message = fmt.Sprintf("Processing pool %d/%d: %s", index, r.total, pool.Label())
		})

		records, attempts, err := r.scrapePool(ctx, pool, url)
		if err != nil {
			if ctx.Err() != nil {
				return r.cancelled(ctx)
			}
			if types.IsInfrastructure(err) {
				return err
			}
			r.poolFailed(index, pool, url, attempts, err)
			continue
		}

		r.save(ctx, pool, records)
		r.processed = index
		e.metrics.PoolsProcessed.Add(1)
		e.sessions.Update(r.req.SessionID, func(s *types.ScrapeSession) {
			s.PoolsProcessed = index
			s.MatchesTotal = r.matches
			s.Message = fmt.Sprintf("Processed %d/%d pools, %d matches", index, r.total, r.matches)
		})
		r.writeProgress(ctx)
	}
	return nil
}

// scrapePool runs the bounded attempt loop for one pool.
func (r *run) scrapePool(ctx context.Context, pool types.PoolDefinition, url string) ([]*types.MatchRecord, int, error) {
	e := r.engine
	maxAttempts := e.cfg.Engine.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		e.metrics.PoolAttempts.Add(1)
		records, err := r.attempt(ctx, pool, url)
		if err == nil {
			return records, attempt, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, attempt, ctx.Err()
		}
		if types.IsInfrastructure(err) || !types.IsTransient(err) || attempt == maxAttempts {
			return nil, attempt, err
		}

		delay := fetcher.RandomDelay(e.cfg.Engine.RetryDelay * time.Duration(attempt))
		var navErr *types.NavigationError
		if errors.As(err, &navErr) && navErr.RetryAfter > delay {
			delay = navErr.RetryAfter
		}
		e.metrics.PoolRetries.Add(1)
		r.logger.Warn("pool attempt failed, retrying",
			"pool", pool.Label(),
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"delay", delay,
			"error", err,
		)
		if err := sleep(ctx, delay); err != nil {
			return nil, attempt, err
		}
	}
	return nil, maxAttempts, lastErr
}

// attempt reads a pool page once using the configured strategy.
func (r *run) attempt(ctx context.Context, pool types.PoolDefinition, url string) ([]*types.MatchRecord, error) {
	switch r.strategy {
	case StrategyHTTP:
		records, _, err := r.load(ctx, fetcher.KindHTTP, pool, url)
		return records, err
	case StrategyBrowser:
		records, _, err := r.load(ctx, fetcher.KindBrowser, pool, url)
		return records, err
	}

	// A GET never carries the fragment, so every fragment route fetches the
	// same shell page.
	if fragmentRouted(url) {
		records, _, err := r.load(ctx, fetcher.KindBrowser, pool, url)
		return records, err
	}

	records, found, err := r.load(ctx, fetcher.KindHTTP, pool, url)
	if err == nil && found && len(records) > 0 {
		return records, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if types.IsInfrastructure(err) {
		return nil, err
	}

	r.engine.metrics.BrowserFallbacks.Add(1)
	r.logger.Debug("static page had no matches, using browser", "pool", pool.Label(), "table_found", found, "reason", err)
	records, _, err = r.load(ctx, fetcher.KindBrowser, pool, url)
	return records, err
}

// fragmentRouted reports whether rawURL selects its content client-side
// through the fragment.
func fragmentRouted(rawURL string) bool {
	u, err := neturl.Parse(rawURL)
	return err == nil && strings.Trim(u.Fragment, "/") != ""
}

// load opens url with a navigator of the given kind and extracts matches.
// found is false when the page held neither a results table nor match
// cards; that is not an error unless the page was interrupted or never
// settled.
func (r *run) load(ctx context.Context, kind string, pool types.PoolDefinition, url string) (records []*types.MatchRecord, found bool, err error) {
	nav, err := r.navigator(ctx, kind)
	if err != nil {
		return nil, false, err
	}

	if err := nav.Open(ctx, url); err != nil {
		return nil, false, err
	}
	dialogs := r.dismiss(nav)

	readyErr := nav.AwaitReady(ctx)
	if readyErr != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		var re *types.ReadinessError
		if !errors.As(readyErr, &re) {
			return nil, false, readyErr
		}
		r.logger.Debug("page not settled, extracting anyway", "pool", pool.Label(), "error", readyErr)
	}
	dialogs = append(dialogs, r.dismiss(nav)...)

	doc, err := snapshot(ctx, nav)
	if err != nil {
		if readyErr != nil {
			return nil, false, readyErr
		}
		return nil, false, err
	}
	rows, found := r.extract(doc)

	if !found && nav.Kind() == fetcher.KindBrowser {
		hints := fetcher.RevealHints{Terms: nonEmpty(pool.PoolName, pool.SeasonName, r.req.Season)}
		if nav.TriggerRevealInteractions(ctx, hints) {
			dialogs = append(dialogs, r.dismiss(nav)...)
			if doc, err = snapshot(ctx, nav); err != nil {
				return nil, false, err
			}
			rows, found = r.extract(doc)
		}
	}

	if !found {
		if len(dialogs) > 0 {
			return nil, false, &types.DialogInterruptError{Message: dialogs[len(dialogs)-1], Err: errNoContent}
		}
		if readyErr != nil {
			return nil, false, readyErr
		}
		r.logger.Info("no results on page", "pool", pool.Label(), "navigator", kind)
		return nil, false, nil
	}
	return r.normalize(rows, pool), true, nil
}

// extract reads the results table, falling back to match cards.
func (r *run) extract(doc *goquery.Document) ([]types.RawRow, bool) {
	e := r.engine
	if table := e.locator.Find(doc); table != nil {
		headers := e.extractor.ExtractHeaders(table)
		return e.extractor.ExtractRows(table, headers, r.filter), true
	}
	rows := e.extractor.ExtractAlternative(doc, r.filter)
	return rows, len(rows) > 0
}

func (r *run) normalize(rows []types.RawRow, pool types.PoolDefinition) []*types.MatchRecord {
	now := r.engine.now()
	records := make([]*types.MatchRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, r.engine.normalizer.Normalize(row, normalizer.Context{
			PoolName: pool.Label(),
			Season:   r.req.Season,
			Now:      now,
		}))
	}
	return r.pipeline.ProcessAll(records)
}

// save persists one pool's matches. A failed write is reported in the run
// message; the extracted count stands.
func (r *run) save(ctx context.Context, pool types.PoolDefinition, records []*types.MatchRecord) {
	e := r.engine
	r.matches += len(records)
	e.metrics.MatchesExtracted.Add(int64(len(records)))
	if len(records) == 0 {
		return
	}

	e.sessions.Update(r.req.SessionID, func(s *types.ScrapeSession) { s.Phase = types.PhaseSaving })
	meta := types.RunMetadata{
		SessionID: r.req.SessionID,
		LogID:     r.logID,
		Season:    r.req.Season,
		Pool:      pool,
		Venue:     r.req.Venue,
	}
	if err := e.store.InsertMatches(ctx, records, meta); err != nil {
		e.metrics.StoreErrors.Add(1)
		r.storeErrs = append(r.storeErrs, fmt.Sprintf("%s: %v", pool.Label(), err))
		r.logger.Error("storing matches failed", "pool", pool.Label(), "count", len(records), "error", err)
		return
	}
	e.metrics.MatchesStored.Add(int64(len(records)))
	r.logger.Info("pool processed", "pool", pool.Label(), "matches", len(records))
}

func (r *run) poolFailed(index int, pool types.PoolDefinition, url string, attempts int, err error) {
	e := r.engine
	r.failures = append(r.failures, types.PoolFailure{
		Index:    index,
		Pool:     pool.Label(),
		URL:      url,
		Attempts: attempts,
		Error:    err.Error(),
	})
	r.processed = index
	e.metrics.PoolsFailed.Add(1)
	r.logger.Warn("pool failed", "pool", pool.Label(), "index", index, "attempts", attempts, "error", err)

	e.sessions.Update(r.req.SessionID, func(s *types.ScrapeSession) {
		s.PoolsProcessed = index
		s.PoolsFailed = len(r.failures)
		s.LastError = err.Error()
		s.Message = fmt.Sprintf("Pool %s failed after %d attempts", pool.Label(), attempts)
	})
}

// writeProgress mirrors the counters into the run log for pollers that
// only see persistence.
func (r *run) writeProgress(ctx context.Context) {
	if r.logID == "" {
		return
	}
	err := r.engine.store.UpdateLog(ctx, r.logID, types.LogUpdate{
		TotalMatches: r.matches,
		Message:      fmt.Sprintf("Processed %d/%d pools", r.processed, r.total),
		Status:       string(types.SessionRunning),
	})
	if err != nil {
		r.logger.Warn("progress log update failed", "error", err)
	}
}

func (r *run) cancelled(ctx context.Context) error {
	if cause := context.Cause(ctx); cause != nil {
		return fmt.Errorf("%w: %w", types.ErrCancelled, cause)
	}
	return types.ErrCancelled
}

// finish finalizes the session and the run log and builds the result.
func (r *run) finish(ctx context.Context, err error) types.RunResult {
	e := r.engine
	if err == nil && r.total > 0 && len(r.failures) == r.total {
		err = ErrAllPoolsFailed
	}

	res := r.result
	res.TotalMatches = r.matches
	res.PoolsFailed = r.failures
	res.Duration = e.now().Sub(r.started)
	res.Success = err == nil
	res.Err = err
	res.Message = r.message(err)

	status := types.SessionCompleted
	if err != nil {
		status = types.SessionFailed
		e.metrics.RunsFailed.Add(1)
	} else {
		e.metrics.RunsCompleted.Add(1)
	}
	e.sessions.Finish(r.req.SessionID, status, res.Message, err)

	if r.logID != "" {
		uerr := e.store.UpdateLog(context.WithoutCancel(ctx), r.logID, types.LogUpdate{
			TotalMatches: r.matches,
			Message:      res.Message,
			Status:       string(status),
			Finished:     true,
		})
		if uerr != nil {
			r.logger.Error("final log update failed", "log_id", r.logID, "error", uerr)
		}
	}

	r.logger.Info("run finished",
		"status", status,
		"matches", r.matches,
		"pools", r.total,
		"pools_failed", len(r.failures),
		"duration", res.Duration.Round(time.Millisecond),
	)
	return res
}

func (r *run) message(err error) string {
	var b strings.Builder
	switch {
	case err == nil:
		fmt.Fprintf(&b, "Scraping completed: %d matches from %d of %d pools",
			r.matches, r.total-len(r.failures), r.total)
	case errors.Is(err, types.ErrCancelled):
		fmt.Fprintf(&b, "Scraping cancelled after %d of %d pools (%d matches)", r.processed, r.total, r.matches)
	case errors.Is(err, ErrAllPoolsFailed):
		fmt.Fprintf(&b, "Scraping failed: all %d pools failed", r.total)
	default:
		var noPools *types.NoPoolsError
		if errors.As(err, &noPools) {
			return fmt.Sprintf("No pools found for season %s", noPools.Season)
		}
		fmt.Fprintf(&b, "Scraping failed: %v", err)
	}

	if len(r.failures) > 0 {
		parts := make([]string, len(r.failures))
		for i, f := range r.failures {
			parts[i] = fmt.Sprintf("#%d %s (%d attempts: %s)", f.Index, f.Pool, f.Attempts, f.Error)
		}
		b.WriteString("; failed pools: ")
		b.WriteString(strings.Join(parts, ", "))
	}
	if len(r.storeErrs) > 0 {
		b.WriteString("; storage errors: ")
		b.WriteString(strings.Join(r.storeErrs, ", "))
	}
	return b.String()
}

// navigator returns the run's navigator of a kind, creating it on first use.
func (r *run) navigator(ctx context.Context, kind string) (fetcher.Navigator, error) {
	if nav, ok := r.navs[kind]; ok {
		return nav, nil
	}
	nav, err := r.engine.factory(ctx, kind)
	if err != nil {
		if types.IsInfrastructure(err) {
			return nil, err
		}
		return nil, &types.InfrastructureError{Component: "navigator", Err: err}
	}
	r.navs[kind] = nav
	r.logger.Debug("navigator opened", "kind", kind)
	return nav, nil
}

func (r *run) closeNavigators() {
	for kind, nav := range r.navs {
		if err := nav.Close(); err != nil {
			r.logger.Warn("navigator close failed", "kind", kind, "error", err)
		}
	}
}

func (r *run) dismiss(nav fetcher.Navigator) []string {
	res := nav.DismissBlockingDialogs()
	if !res.Dismissed {
		return nil
	}
	r.logger.Warn("blocking dialog dismissed", "message", res.Message)
	return []string{res.Message}
}

func snapshot(ctx context.Context, nav fetcher.Navigator) (*goquery.Document, error) {
	html, err := nav.HTML(ctx)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return doc, nil
}

func politeness(d time.Duration) rate.Limit {
	if d <= 0 {
		return rate.Inf
	}
	return rate.Every(d)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func nonEmpty(values ...string) []string {
	out := values[:0:0]
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
