package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IshaanNene/calsync/internal/types"
)

func TestSessionTrackerCountersNeverDecrease(t *testing.T) {
	tr := NewSessionTracker()
	_, err := tr.Start(types.RunRequest{SessionID: "s1", Season: "2024/2025"})
	require.NoError(t, err)

	tr.Update("s1", func(s *types.ScrapeSession) {
		s.PoolsTotal = 4
		s.PoolsProcessed = 3
		s.MatchesTotal = 12
	})
	tr.Update("s1", func(s *types.ScrapeSession) {
		s.PoolsProcessed = 1
		s.MatchesTotal = 2
	})
	tr.Update("s1", func(s *types.ScrapeSession) { s.PoolsProcessed = 9 })

	s, ok := tr.Snapshot("s1")
	require.True(t, ok)
	assert.Equal(t, 4, s.PoolsProcessed)
	assert.Equal(t, 12, s.MatchesTotal)
	assert.Equal(t, types.SessionRunning, s.Status)
}

func TestSessionTrackerUpdateCannotChangeStatus(t *testing.T) {
	tr := NewSessionTracker()
	_, err := tr.Start(types.RunRequest{SessionID: "s1"})
	require.NoError(t, err)

	tr.Update("s1", func(s *types.ScrapeSession) { s.Status = types.SessionCompleted })
	s, _ := tr.Snapshot("s1")
	assert.Equal(t, types.SessionRunning, s.Status)
}

func TestSessionTrackerFinish(t *testing.T) {
	tr := NewSessionTracker()
	_, err := tr.Start(types.RunRequest{SessionID: "s1"})
	require.NoError(t, err)

	_, err = tr.Start(types.RunRequest{SessionID: "s1"})
	assert.ErrorIs(t, err, types.ErrRunInProgress)

	tr.Finish("s1", types.SessionFailed, "Scraping failed", errors.New("boom"))
	s, _ := tr.Snapshot("s1")
	assert.Equal(t, types.SessionFailed, s.Status)
	assert.Equal(t, types.PhaseDone, s.Phase)
	assert.Equal(t, "boom", s.LastError)
	require.NotNil(t, s.FinishedAt)

	// Terminal sessions are frozen.
	tr.Update("s1", func(s *types.ScrapeSession) { s.Message = "late" })
	tr.Finish("s1", types.SessionCompleted, "again", nil)
	s, _ = tr.Snapshot("s1")
	assert.Equal(t, "Scraping failed", s.Message)
	assert.Equal(t, types.SessionFailed, s.Status)

	// A finished session id can be reused.
	_, err = tr.Start(types.RunRequest{SessionID: "s1"})
	assert.NoError(t, err)
}

func TestSessionTrackerSubscribe(t *testing.T) {
	tr := NewSessionTracker()
	_, _, err := tr.Subscribe("missing")
	assert.ErrorIs(t, err, types.ErrSessionNotFound)

	_, err = tr.Start(types.RunRequest{SessionID: "s1"})
	require.NoError(t, err)

	ch, cancel, err := tr.Subscribe("s1")
	require.NoError(t, err)
	defer cancel()

	first := <-ch
	assert.Equal(t, "Scraping started", first.Message)

	tr.Update("s1", func(s *types.ScrapeSession) { s.Message = "Found 3 pools" })
	assert.Equal(t, "Found 3 pools", (<-ch).Message)

	tr.Finish("s1", types.SessionCompleted, "done", nil)
	last := <-ch
	assert.Equal(t, types.SessionCompleted, last.Status)

	_, open := <-ch
	assert.False(t, open)
}

func TestSessionTrackerSubscribeCancel(t *testing.T) {
	tr := NewSessionTracker()
	_, err := tr.Start(types.RunRequest{SessionID: "s1"})
	require.NoError(t, err)

	ch, cancel, err := tr.Subscribe("s1")
	require.NoError(t, err)
	<-ch
	cancel()
	cancel()

	_, open := <-ch
	assert.False(t, open)
	tr.Update("s1", func(s *types.ScrapeSession) { s.Message = "after cancel" })
}

func TestSessionTrackerSubscribeFinished(t *testing.T) {
	tr := NewSessionTracker()
	_, err := tr.Start(types.RunRequest{SessionID: "s1"})
	require.NoError(t, err)
	tr.Finish("s1", types.SessionCompleted, "done", nil)

	ch, _, err := tr.Subscribe("s1")
	require.NoError(t, err)
	s, open := <-ch
	assert.True(t, open)
	assert.Equal(t, "done", s.Message)
	_, open = <-ch
	assert.False(t, open)
}

func TestSessionTrackerList(t *testing.T) {
	tr := NewSessionTracker()
	for _, id := range []string{"a", "b", "c"} {
		_, err := tr.Start(types.RunRequest{SessionID: id})
		require.NoError(t, err)
	}
	assert.Len(t, tr.List(), 3)
}

func TestSessionTrackerCancel(t *testing.T) {
	tr := NewSessionTracker()
	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)
	_, err := tr.StartWithCancel(types.RunRequest{SessionID: "s1"}, cancel)
	require.NoError(t, err)
	_, err = tr.Start(types.RunRequest{SessionID: "s2"})
	require.NoError(t, err)

	stop := errors.New("stop")
	require.NoError(t, tr.Cancel("s1", stop))
	assert.ErrorIs(t, context.Cause(ctx), stop)
	s, _ := tr.Snapshot("s1")
	assert.Equal(t, types.SessionRunning, s.Status)

	assert.ErrorIs(t, tr.Cancel("s2", stop), types.ErrSessionNotFound)
	assert.ErrorIs(t, tr.Cancel("nope", stop), types.ErrSessionNotFound)

	tr.Finish("s1", types.SessionFailed, "cancelled", stop)
	assert.ErrorIs(t, tr.Cancel("s1", stop), types.ErrSessionFinished)
}
