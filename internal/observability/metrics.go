package observability

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
)

// Metrics tracks operational counters of runs, pools and publishing.
type Metrics struct {
	// Run metrics
	RunsStarted   atomic.Int64
	RunsCompleted atomic.Int64
	RunsFailed    atomic.Int64
	ActiveRuns    atomic.Int32

	// Pool metrics
	PoolsProcessed   atomic.Int64
	PoolsFailed      atomic.Int64
	PoolAttempts     atomic.Int64
	PoolRetries      atomic.Int64
	BrowserFallbacks atomic.Int64

	// Match metrics
	MatchesExtracted atomic.Int64
	MatchesStored    atomic.Int64
	StoreErrors      atomic.Int64

	// Publishing metrics
	EventsPublished atomic.Int64
	EventsFailed    atomic.Int64

	logger *slog.Logger
}

// NewMetrics creates a new Metrics instance.
func NewMetrics(logger *slog.Logger) *Metrics {
	return &Metrics{
		logger: logger.With("component", "metrics"),
	}
}

// ServeHTTP serves metrics in Prometheus text exposition format.
func (m *Metrics) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	metrics := []struct {
		name  string
		help  string
		kind  string
		value int64
	}{
		{"calsync_runs_started_total", "Total scraping runs started", "counter", m.RunsStarted.Load()},
		{"calsync_runs_completed_total", "Total scraping runs completed", "counter", m.RunsCompleted.Load()},
		{"calsync_runs_failed_total", "Total scraping runs failed", "counter", m.RunsFailed.Load()},
		{"calsync_active_runs", "Currently active runs", "gauge", int64(m.ActiveRuns.Load())},
		{"calsync_pools_processed_total", "Total pools processed", "counter", m.PoolsProcessed.Load()},
		{"calsync_pools_failed_total", "Total pools that exhausted their attempts", "counter", m.PoolsFailed.Load()},
		{"calsync_pool_attempts_total", "Total pool load attempts", "counter", m.PoolAttempts.Load()},
		{"calsync_pool_retries_total", "Total pool retries after transient failures", "counter", m.PoolRetries.Load()},
		{"calsync_browser_fallbacks_total", "Total pools re-read with the browser navigator", "counter", m.BrowserFallbacks.Load()},
		{"calsync_matches_extracted_total", "Total valid matches extracted", "counter", m.MatchesExtracted.Load()},
		{"calsync_matches_stored_total", "Total matches persisted", "counter", m.MatchesStored.Load()},
		{"calsync_store_errors_total", "Total failed match batch writes", "counter", m.StoreErrors.Load()},
		{"calsync_events_published_total", "Total calendar events synced", "counter", m.EventsPublished.Load()},
		{"calsync_events_failed_total", "Total calendar events that failed to sync", "counter", m.EventsFailed.Load()},
	}

	for _, metric := range metrics {
		fmt.Fprintf(w, "# HELP %s %s\n", metric.name, metric.help)
		fmt.Fprintf(w, "# TYPE %s %s\n", metric.name, metric.kind)
		fmt.Fprintf(w, "%s %d\n", metric.name, metric.value)
	}
}

// Snapshot returns all metrics as a map.
func (m *Metrics) Snapshot() map[string]int64 {
	return map[string]int64{
		"runs_started":      m.RunsStarted.Load(),
		"runs_completed":    m.RunsCompleted.Load(),
		"runs_failed":       m.RunsFailed.Load(),
		"active_runs":       int64(m.ActiveRuns.Load()),
		"pools_processed":   m.PoolsProcessed.Load(),
		"pools_failed":      m.PoolsFailed.Load(),
		"pool_attempts":     m.PoolAttempts.Load(),
		"pool_retries":      m.PoolRetries.Load(),
		"browser_fallbacks": m.BrowserFallbacks.Load(),
		"matches_extracted": m.MatchesExtracted.Load(),
		"matches_stored":    m.MatchesStored.Load(),
		"store_errors":      m.StoreErrors.Load(),
		"events_published":  m.EventsPublished.Load(),
		"events_failed":     m.EventsFailed.Load(),
	}
}

// LogSummary writes the current counters at info level.
func (m *Metrics) LogSummary() {
	args := make([]any, 0, 28)
	for k, v := range m.Snapshot() {
		args = append(args, k, v)
	}
	m.logger.Info("metrics summary", args...)
}
