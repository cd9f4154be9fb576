package types

import "time"

// PoolFailure records a pool that exhausted its attempts.
type PoolFailure struct {
	Index    int    `json:"index"`
	Pool     string `json:"pool"`
	URL      string `json:"url"`
	Attempts int    `json:"attempts"`
	Error    string `json:"error"`
}

// RunResult is what every caller of a run receives, whatever happened.
type RunResult struct {
	Success      bool          `json:"success"`
	TotalMatches int           `json:"totalMatches"`
	Message      string        `json:"message"`
	SessionID    string        `json:"sessionId,omitempty"`
	LogID        string        `json:"logId,omitempty"`
	PoolsTotal   int           `json:"poolsTotal"`
	PoolsFailed  []PoolFailure `json:"poolsFailed,omitempty"`
	Duration     time.Duration `json:"duration"`

	// Err is the typed cause of an unsuccessful run.
	Err error `json:"-"`
}

// Progress is the polling view of a session.
type Progress struct {
	Progress int    `json:"progress"`
	Message  string `json:"message"`
	Status   string `json:"status"`
}

// LogEntry is one row of the run log.
type LogEntry struct {
	LogID         string     `json:"log_id"         db:"log_id"         bson:"log_id"`
	SessionID     string     `json:"session_id"     db:"session_id"     bson:"session_id"`
	Season        string     `json:"season"         db:"season"         bson:"season"`
	Venue         string     `json:"venue"          db:"venue"          bson:"venue"`
	StartDatetime time.Time  `json:"start_datetime" db:"start_datetime" bson:"start_datetime"`
	EndDatetime   *time.Time `json:"end_datetime"   db:"end_datetime"   bson:"end_datetime,omitempty"`
	TotalMatches  int        `json:"total_matches"  db:"total_matches"  bson:"total_matches"`
	Message       string     `json:"message"        db:"message"        bson:"message"`
	Status        string     `json:"status"         db:"status"         bson:"status"`
}

// LogUpdate carries the mutable fields of a LogEntry.
type LogUpdate struct {
	TotalMatches int
	Message      string
	Status       string
	Finished     bool
}

// VenueSearch is a saved venue filter.
type VenueSearch struct {
	ID         int64     `json:"id"          db:"id"          bson:"-"`
	Venue      string    `json:"venue"       db:"venue"       bson:"venue"`
	SearchTime string    `json:"search_time" db:"search_time" bson:"search_time"`
	CreatedAt  time.Time `json:"created_at"  db:"created_at"  bson:"created_at"`
}
