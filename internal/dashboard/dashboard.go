package dashboard

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/IshaanNene/calsync/internal/types"
)

// recentRuns is how many log entries the page shows.
const recentRuns = 10

// StatsProvider provides process counters.
type StatsProvider interface {
	Snapshot() map[string]int64
}

// SessionLister lists the sessions known to the engine.
type SessionLister interface {
	List() []types.ScrapeSession
}

// LogReader reads the run log.
type LogReader interface {
	RecentLogs(ctx context.Context, limit int) ([]types.LogEntry, error)
}

// Dashboard serves a status page of live sessions, recent runs and
// counters.
type Dashboard struct {
	stats    StatsProvider
	sessions SessionLister
	logs     LogReader
	logger   *slog.Logger
	now      func() time.Time
}

// Stats is the payload polled by the page.
type Stats struct {
	Timestamp string                `json:"timestamp"`
	State     string                `json:"state"`
	Counters  map[string]int64      `json:"counters"`
	Sessions  []types.ScrapeSession `json:"sessions"`
	Runs      []types.LogEntry      `json:"runs"`
}

// New creates a dashboard. Any provider may be nil.
func New(stats StatsProvider, sessions SessionLister, logs LogReader, logger *slog.Logger) *Dashboard {
	return &Dashboard{
		stats:    stats,
		sessions: sessions,
		logs:     logs,
		logger:   logger.With("component", "dashboard"),
		now:      time.Now,
	}
}

// Register mounts the page and its stats endpoint on mux.
func (d *Dashboard) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /dashboard", d.handleDashboard)
	mux.HandleFunc("GET /dashboard/stats", d.handleAPIStats)
}

func (d *Dashboard) handleDashboard(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(dashboardHTML))
}

func (d *Dashboard) handleAPIStats(w http.ResponseWriter, r *http.Request) {
	stats := d.Collect(r.Context())
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	if err := json.NewEncoder(w).Encode(stats); err != nil {
		d.logger.Debug("encode stats", "error", err)
	}
}

// Collect gathers the current stats. State is "running" while any
// session is in flight, otherwise "idle".
func (d *Dashboard) Collect(ctx context.Context) Stats {
	stats := Stats{
		Timestamp: d.now().Format(time.RFC3339),
		State:     "idle",
		Counters:  map[string]int64{},
		Sessions:  []types.ScrapeSession{},
		Runs:      []types.LogEntry{},
	}
	if d.stats != nil {
		stats.Counters = d.stats.Snapshot()
	}
	if d.sessions != nil {
		stats.Sessions = d.sessions.List()
		for _, s := range stats.Sessions {
			if s.Status == types.SessionRunning {
				stats.State = "running"
			}
		}
	}
	if d.logs != nil {
		runs, err := d.logs.RecentLogs(ctx, recentRuns)
		if err != nil {
			d.logger.Warn("read run log", "error", err)
		} else {
			stats.Runs = runs
		}
	}
	return stats
}
