package types

import "time"

// SessionStatus is the lifecycle state of a scrape session.
type SessionStatus string

const (
	SessionIdle      SessionStatus = "idle"
	SessionRunning   SessionStatus = "running"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionFailed
}

// Phase is the sub-state of a running session.
type Phase string

const (
	PhaseLoadingPools Phase = "loading_pools"
	PhaseLoading      Phase = "loading"
	PhaseExtracting   Phase = "extracting"
	PhaseSaving       Phase = "saving"
	PhaseDone         Phase = "done"
)

// ScrapeSession is the mutable state of one run. Pollers only ever see a
// copy.
type ScrapeSession struct {
	SessionID      string        `json:"session_id"`
	Season         string        `json:"season"`
	VenueFilter    string        `json:"venue_filter"`
	LogID          string        `json:"log_id,omitempty"`
	StartedAt      time.Time     `json:"started_at"`
	FinishedAt     *time.Time    `json:"finished_at,omitempty"`
	Status         SessionStatus `json:"status"`
	Phase          Phase         `json:"phase"`
	CurrentPool    string        `json:"current_pool,omitempty"`
	PoolsTotal     int           `json:"pools_total"`
	PoolsProcessed int           `json:"pools_processed"`
	PoolsFailed    int           `json:"pools_failed"`
	MatchesTotal   int           `json:"matches_total"`
	LastError      string        `json:"last_error,omitempty"`
	Message        string        `json:"message"`
}

// ProgressPercent is the share of processed pools, 0..100.
func (s ScrapeSession) ProgressPercent() int {
	if s.Status == SessionCompleted {
		return 100
	}
	if s.PoolsTotal <= 0 {
		return 0
	}
	return s.PoolsProcessed * 100 / s.PoolsTotal
}

// Progress returns the polling view of the session.
func (s ScrapeSession) Progress() Progress {
	return Progress{
		Progress: s.ProgressPercent(),
		Message:  s.Message,
		Status:   string(s.Status),
	}
}
