package schedule

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IshaanNene/calsync/internal/config"
	"github.com/IshaanNene/calsync/internal/publisher"
	"github.com/IshaanNene/calsync/internal/storage"
	"github.com/IshaanNene/calsync/internal/types"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

type fakeRunner struct {
	mu     sync.Mutex
	reqs   []types.RunRequest
	result types.RunResult
	onRun  func()
}

func (f *fakeRunner) Run(ctx context.Context, req types.RunRequest) types.RunResult {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	onRun := f.onRun
	f.mu.Unlock()
	if onRun != nil {
		onRun()
	}
	return f.result
}

type fakePublisher struct{ got int }

func (p *fakePublisher) SyncAll(ctx context.Context, records []*types.MatchRecord) (publisher.SyncSummary, error) {
	p.got = len(records)
	return publisher.SyncSummary{Succeeded: len(records)}, nil
}

func testSetup(t *testing.T) (*config.Config, storage.Store) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Storage.Driver = storage.DriverSQLite
	cfg.Storage.DSN = "file:" + filepath.Join(t.TempDir(), "schedule.db") + "?_pragma=busy_timeout(5000)"
	cfg.Storage.ExportType = ""
	store, err := storage.Open(context.Background(), cfg.Storage, testLogger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return cfg, store
}

func TestParseDailyAt(t *testing.T) {
	tests := []struct {
		in     string
		hour   int
		minute int
		ok     bool
	}{
		{"00:00", 0, 0, true},
		{"06:30", 6, 30, true},
		{" 23:59 ", 23, 59, true},
		{"24:00", 0, 0, false},
		{"12:60", 0, 0, false},
		{"noon", 0, 0, false},
		{"", 0, 0, false},
	}
	for _, tt := range tests {
		h, m, err := ParseDailyAt(tt.in)
		if tt.ok != (err == nil) {
			t.Errorf("ParseDailyAt(%q) error = %v, want ok=%v", tt.in, err, tt.ok)
			continue
		}
		if tt.ok && (h != tt.hour || m != tt.minute) {
			t.Errorf("ParseDailyAt(%q) = %d:%d, want %d:%d", tt.in, h, m, tt.hour, tt.minute)
		}
	}
}

func TestNextRun(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Copenhagen")
	require.NoError(t, err)

	tests := []struct {
		name string
		now  time.Time
		h, m int
		want time.Time
	}{
		{"later today", time.Date(2024, 10, 10, 5, 0, 0, 0, loc), 6, 30, time.Date(2024, 10, 10, 6, 30, 0, 0, loc)},
		{"midnight is tomorrow", time.Date(2024, 10, 10, 10, 0, 0, 0, loc), 0, 0, time.Date(2024, 10, 11, 0, 0, 0, 0, loc)},
		{"exact time moves a day", time.Date(2024, 10, 10, 6, 30, 0, 0, loc), 6, 30, time.Date(2024, 10, 11, 6, 30, 0, 0, loc)},
		{"month end", time.Date(2024, 10, 31, 23, 0, 0, 0, loc), 0, 0, time.Date(2024, 11, 1, 0, 0, 0, 0, loc)},
		{"utc input", time.Date(2024, 10, 10, 22, 30, 0, 0, time.UTC), 0, 0, time.Date(2024, 10, 12, 0, 0, 0, 0, loc)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextRun(tt.now, tt.h, tt.m, loc)
			assert.True(t, tt.want.Equal(got), "got %s, want %s", got, tt.want)
		})
	}
}

func TestNewRejectsBadSettings(t *testing.T) {
	cfg, store := testSetup(t)

	cfg.Schedule.DailyAt = "25:00"
	_, err := New(cfg, &fakeRunner{}, store, testLogger)
	var cfgErr *types.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "schedule.daily_at", cfgErr.Field)

	cfg.Schedule.DailyAt = "00:00"
	cfg.Schedule.Timezone = "Mars/Olympus"
	_, err = New(cfg, &fakeRunner{}, store, testLogger)
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "schedule.timezone", cfgErr.Field)
}

func TestRunOnceUsesLastVenue(t *testing.T) {
	cfg, store := testSetup(t)
	runner := &fakeRunner{result: types.RunResult{Success: true}}
	s, err := New(cfg, runner, store, testLogger)
	require.NoError(t, err)

	_, err = s.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, runner.reqs, 1)
	assert.Equal(t, cfg.Venue.Default, runner.reqs[0].Venue)
	assert.Equal(t, cfg.Engine.DefaultSeason, runner.reqs[0].Season)
	assert.Equal(t, cfg.Engine.DefaultLinkTemplate, runner.reqs[0].LinkStructure)

	require.NoError(t, store.SaveVenueSearch(context.Background(), "Arena Nord", "2024-10-01T12:00:00Z"))
	_, err = s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Arena Nord", runner.reqs[1].Venue)
}

func TestRunOnceClearsAndPublishes(t *testing.T) {
	cfg, store := testSetup(t)
	cfg.Schedule.ClearBeforeSync = true
	cfg.Schedule.PublishAfterSync = true
	ctx := context.Background()

	old := &types.MatchRecord{MatchID: "1", HomeTeam: "A", AwayTeam: "B", RawData: types.NewRawRow()}
	require.NoError(t, store.InsertMatches(ctx, []*types.MatchRecord{old}, types.RunMetadata{Season: cfg.Engine.DefaultSeason}))

	runner := &fakeRunner{result: types.RunResult{Success: true, TotalMatches: 2}}
	runner.onRun = func() {
		fresh := []*types.MatchRecord{
			{MatchID: "2", HomeTeam: "C", AwayTeam: "D", RawData: types.NewRawRow()},
			{MatchID: "3", HomeTeam: "E", AwayTeam: "F", RawData: types.NewRawRow()},
		}
		require.NoError(t, store.InsertMatches(ctx, fresh, types.RunMetadata{Season: cfg.Engine.DefaultSeason}))
	}
	pub := &fakePublisher{}
	s, err := New(cfg, runner, store, testLogger, WithPublisher(pub))
	require.NoError(t, err)

	out, err := s.RunOnce(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, out.Cleared)
	require.NotNil(t, out.Sync)
	assert.Equal(t, 2, out.Sync.Succeeded)
	assert.Equal(t, 2, pub.got)
}

func TestRunOnceSkipsPublishAfterFailedRun(t *testing.T) {
	cfg, store := testSetup(t)
	cfg.Schedule.PublishAfterSync = true
	pub := &fakePublisher{}
	s, err := New(cfg, &fakeRunner{result: types.RunResult{Success: false}}, store, testLogger, WithPublisher(pub))
	require.NoError(t, err)

	out, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Nil(t, out.Sync)
	assert.Zero(t, pub.got)
}

func TestStartRunsAtScheduledTime(t *testing.T) {
	cfg, store := testSetup(t)
	cfg.Schedule.DailyAt = "00:00"
	cfg.Schedule.Timezone = "UTC"

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	now := time.Date(2024, 10, 10, 21, 0, 0, 0, time.UTC)
	var waits []time.Duration
	after := func(d time.Duration) <-chan time.Time {
		waits = append(waits, d)
		ch := make(chan time.Time, 1)
		ch <- now.Add(d)
		return ch
	}
	runner := &fakeRunner{result: types.RunResult{Success: true}, onRun: cancel}
	s, err := New(cfg, runner, store, testLogger, WithClock(func() time.Time { return now }, after))
	require.NoError(t, err)

	err = s.Start(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, runner.reqs, 1)
	require.NotEmpty(t, waits)
	assert.Equal(t, 3*time.Hour, waits[0])
}
