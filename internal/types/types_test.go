package types

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRawRowKeepsInsertionOrder(t *testing.T) {
	row := NewRawRow()
	row.Set("tid", "to 10-10-2024 19:30")
	row.Set("hjemmehold", "Brønshøj Bordtennis 3")
	row.Set("hjemmehold_id", "123")
	row.Set("tid", "overwritten")

	assert.Equal(t, []string{"tid", "hjemmehold", "hjemmehold_id"}, row.Keys)
	assert.Equal(t, "overwritten", row.GetString("tid"))

	data, err := json.Marshal(row)
	require.NoError(t, err)
	assert.Equal(t, `{"tid":"overwritten","hjemmehold":"Brønshøj Bordtennis 3","hjemmehold_id":"123"}`, string(data))

	var back RawRow
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, row.Keys, back.Keys)
}

func TestBuildPoolURL(t *testing.T) {
	pool := PoolDefinition{RegionID: "4", AgeGroupID: "7", PoolValue: "12345"}
	got := BuildPoolURL("https://example.dk/#4.{season}.{pool}.{group}.{region}", "2024/2025", pool)
	assert.Equal(t, "https://example.dk/#4.2024/2025.12345.7.4", got)
}

func TestIDs(t *testing.T) {
	now := time.UnixMilli(1700000000123)
	assert.Equal(t, "session_1700000000123", NewSessionID(now))
	assert.Equal(t, "LOG_1700000000123_session_1", NewLogID(now, "session_1"))
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"retryable navigation", &NavigationError{URL: "u", Err: errors.New("timeout"), Retryable: true}, true},
		{"permanent navigation", &NavigationError{URL: "u", Err: errors.New("404"), Retryable: false}, false},
		{"readiness", &ReadinessError{URL: "u", Err: context.DeadlineExceeded}, true},
		{"dialog", fmt.Errorf("wrap: %w", &DialogInterruptError{Message: "x"}), true},
		{"cancelled", &NavigationError{URL: "u", Err: context.Canceled, Retryable: true}, false},
		{"infrastructure", &InfrastructureError{Component: "browser", Err: errors.New("boom")}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestSessionProgress(t *testing.T) {
	s := ScrapeSession{Status: SessionRunning, PoolsTotal: 8, PoolsProcessed: 2, Message: "pool 2"}
	assert.Equal(t, Progress{Progress: 25, Message: "pool 2", Status: "running"}, s.Progress())

	s.Status = SessionCompleted
	assert.Equal(t, 100, s.ProgressPercent())
}
