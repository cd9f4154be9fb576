package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/IshaanNene/calsync/internal/types"
)

// maxFinishedSessions bounds how many terminal sessions stay in memory.
const maxFinishedSessions = 100

// SessionTracker is a concurrency-safe registry of scrape sessions. Readers
// only ever receive copies.
type SessionTracker struct {
	mu       sync.RWMutex
	sessions map[string]*types.ScrapeSession
	subs     map[string]map[chan types.ScrapeSession]struct{}
	cancels  map[string]context.CancelCauseFunc
	now      func() time.Time
}

// NewSessionTracker creates an empty tracker.
func NewSessionTracker() *SessionTracker {
	return &SessionTracker{
		sessions: make(map[string]*types.ScrapeSession),
		subs:     make(map[string]map[chan types.ScrapeSession]struct{}),
		cancels:  make(map[string]context.CancelCauseFunc),
		now:      time.Now,
	}
}

// Start registers a running session. A session id that is still running
// yields types.ErrRunInProgress.
func (t *SessionTracker) Start(req types.RunRequest) (types.ScrapeSession, error) {
	return t.StartWithCancel(req, nil)
}

// StartWithCancel is Start for a session that Cancel can stop.
func (t *SessionTracker) StartWithCancel(req types.RunRequest, cancel context.CancelCauseFunc) (types.ScrapeSession, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if s, ok := t.sessions[req.SessionID]; ok && !s.Status.Terminal() {
		return *s, types.ErrRunInProgress
	}

	s := &types.ScrapeSession{
		SessionID:   req.SessionID,
		Season:      req.Season,
		VenueFilter: req.Venue,
		StartedAt:   t.now(),
		Status:      types.SessionRunning,
		Phase:       types.PhaseLoadingPools,
		Message:     "Scraping started",
	}
	t.sessions[req.SessionID] = s
	if cancel != nil {
		t.cancels[req.SessionID] = cancel
	}
	t.pruneLocked()
	t.notifyLocked(s)
	return *s, nil
}

// Update applies fn to a running session. Counters never decrease and
// processed pools never exceed the total.
func (t *SessionTracker) Update(sessionID string, fn func(*types.ScrapeSession)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.sessions[sessionID]
	if !ok || s.Status.Terminal() {
		return
	}
	before := *s
	fn(s)

	s.SessionID, s.StartedAt, s.Status = before.SessionID, before.StartedAt, before.Status
	s.PoolsProcessed = max(s.PoolsProcessed, before.PoolsProcessed)
	s.PoolsFailed = max(s.PoolsFailed, before.PoolsFailed)
	s.MatchesTotal = max(s.MatchesTotal, before.MatchesTotal)
	if s.PoolsTotal > 0 && s.PoolsProcessed > s.PoolsTotal {
		s.PoolsProcessed = s.PoolsTotal
	}
	t.notifyLocked(s)
}

// Finish moves a session to a terminal status and closes its subscriptions.
func (t *SessionTracker) Finish(sessionID string, status types.SessionStatus, message string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.sessions[sessionID]
	if !ok || s.Status.Terminal() {
		return
	}
	now := t.now()
	s.Status = status
	s.Phase = types.PhaseDone
	s.FinishedAt = &now
	s.Message = message
	s.CurrentPool = ""
	if err != nil {
		s.LastError = err.Error()
	}
	t.notifyLocked(s)
	delete(t.cancels, sessionID)

	for ch := range t.subs[sessionID] {
		close(ch)
	}
	delete(t.subs, sessionID)
}

// Cancel stops a running session with cause. Unknown sessions yield
// types.ErrSessionNotFound and terminal ones types.ErrSessionFinished. The
// session stays running until its run observes the cancellation.
func (t *SessionTracker) Cancel(sessionID string, cause error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.sessions[sessionID]
	if !ok {
		return types.ErrSessionNotFound
	}
	if s.Status.Terminal() {
		return types.ErrSessionFinished
	}
	cancel, ok := t.cancels[sessionID]
	if !ok {
		return fmt.Errorf("session %s has no cancel handle: %w", sessionID, types.ErrSessionNotFound)
	}
	cancel(cause)
	s.Message = "Cancelling"
	t.notifyLocked(s)
	return nil
}

// Snapshot returns a copy of a session.
func (t *SessionTracker) Snapshot(sessionID string) (types.ScrapeSession, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.sessions[sessionID]
	if !ok {
		return types.ScrapeSession{}, false
	}
	return *s, true
}

// List returns copies of all tracked sessions, newest first.
func (t *SessionTracker) List() []types.ScrapeSession {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]types.ScrapeSession, 0, len(t.sessions))
	for _, s := range t.sessions {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

// Subscribe streams copies of a session on every change. The channel is
// closed when the session finishes or cancel is called. Subscribing to an
// unknown session yields types.ErrSessionNotFound.
func (t *SessionTracker) Subscribe(sessionID string) (<-chan types.ScrapeSession, func(), error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.sessions[sessionID]
	if !ok {
		return nil, nil, types.ErrSessionNotFound
	}

	ch := make(chan types.ScrapeSession, 16)
	ch <- *s
	if s.Status.Terminal() {
		close(ch)
		return ch, func() {}, nil
	}

	if t.subs[sessionID] == nil {
		t.subs[sessionID] = make(map[chan types.ScrapeSession]struct{})
	}
	t.subs[sessionID][ch] = struct{}{}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			if _, ok := t.subs[sessionID][ch]; ok {
				delete(t.subs[sessionID], ch)
				close(ch)
			}
		})
	}
	return ch, cancel, nil
}

// notifyLocked sends a copy to every subscriber. Slow subscribers miss
// intermediate states rather than block the run.
func (t *SessionTracker) notifyLocked(s *types.ScrapeSession) {
	for ch := range t.subs[s.SessionID] {
		select {
		case ch <- *s:
		default:
		}
	}
}

func (t *SessionTracker) pruneLocked() {
	var finished []*types.ScrapeSession
	for _, s := range t.sessions {
		if s.Status.Terminal() {
			finished = append(finished, s)
		}
	}
	if len(finished) <= maxFinishedSessions {
		return
	}
	sort.Slice(finished, func(i, j int) bool { return finished[i].StartedAt.Before(finished[j].StartedAt) })
	for _, s := range finished[:len(finished)-maxFinishedSessions] {
		delete(t.sessions, s.SessionID)
	}
}
