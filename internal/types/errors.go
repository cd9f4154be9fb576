package types

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common failure modes.
var (
	ErrNotFound        = errors.New("not found")
	ErrSessionNotFound = errors.New("session not found")
	ErrRunInProgress   = errors.New("a run with this session id is already in progress")
	ErrCancelled       = errors.New("run cancelled")
	ErrSessionFinished = errors.New("session already finished")
	ErrEmptyDocument   = errors.New("empty document")
)

// ConfigurationError reports a missing or invalid run parameter.
// No browser session is opened when one is returned.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("missing required parameter: %s", e.Field)
	}
	return fmt.Sprintf("invalid parameter %s: %s", e.Field, e.Reason)
}

// NoPoolsError means persistence holds no pool definitions for a season.
type NoPoolsError struct {
	Season string
}

func (e *NoPoolsError) Error() string {
	return fmt.Sprintf("no pools found for season %s", e.Season)
}

// NavigationError wraps a failed or timed-out page load.
type NavigationError struct {
	URL       string
	Err       error
	Retryable bool
	// RetryAfter is populated from a Retry-After header on HTTP 429.
	RetryAfter time.Duration
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("navigation error for %s: %v", e.URL, e.Err)
}

func (e *NavigationError) Unwrap() error { return e.Err }

func (e *NavigationError) IsRetryable() bool { return e.Retryable }

// ReadinessError means the page never settled within the readiness timeout.
// The page may still be partially usable.
type ReadinessError struct {
	URL    string
	Waited time.Duration
	Err    error
}

func (e *ReadinessError) Error() string {
	return fmt.Sprintf("page %s not ready after %s: %v", e.URL, e.Waited, e.Err)
}

func (e *ReadinessError) Unwrap() error { return e.Err }

// DialogInterruptError is raised when a native dialog blocked the page and
// could not be dismissed.
type DialogInterruptError struct {
	Message string
	Err     error
}

func (e *DialogInterruptError) Error() string {
	return fmt.Sprintf("blocking dialog %q: %v", e.Message, e.Err)
}

func (e *DialogInterruptError) Unwrap() error { return e.Err }

// PersistenceError wraps errors from the storage layer.
type PersistenceError struct {
	Backend string
	Op      string
	Err     error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("storage error (%s %s): %v", e.Backend, e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// InfrastructureError is fatal to a run: no browser, no database.
type InfrastructureError struct {
	Component string
	Err       error
}

func (e *InfrastructureError) Error() string {
	return fmt.Sprintf("infrastructure failure (%s): %v", e.Component, e.Err)
}

func (e *InfrastructureError) Unwrap() error { return e.Err }

// PublishError wraps a failed event sync for one match.
type PublishError struct {
	MatchID string
	Status  int
	Err     error
}

func (e *PublishError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("publish match %s (status %d): %v", e.MatchID, e.Status, e.Err)
	}
	return fmt.Sprintf("publish match %s: %v", e.MatchID, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// PipelineError wraps a middleware failure for one record.
type PipelineError struct {
	Stage   string
	MatchID string
	Err     error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("pipeline error at %s for match %s: %v", e.Stage, e.MatchID, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// IsTransient reports whether a per-pool failure is worth another attempt.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var navErr *NavigationError
	if errors.As(err, &navErr) {
		return navErr.Retryable
	}
	var readyErr *ReadinessError
	if errors.As(err, &readyErr) {
		return true
	}
	var dialogErr *DialogInterruptError
	if errors.As(err, &dialogErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// IsInfrastructure reports whether err must abort the whole run.
func IsInfrastructure(err error) bool {
	var infraErr *InfrastructureError
	return errors.As(err, &infraErr)
}
