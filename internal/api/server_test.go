package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IshaanNene/calsync/internal/config"
	"github.com/IshaanNene/calsync/internal/dashboard"
	"github.com/IshaanNene/calsync/internal/engine"
	"github.com/IshaanNene/calsync/internal/observability"
	"github.com/IshaanNene/calsync/internal/publisher"
	"github.com/IshaanNene/calsync/internal/storage"
	"github.com/IshaanNene/calsync/internal/types"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

type fakeRunner struct {
	mu       sync.Mutex
	runs     []types.RunRequest
	ran      chan types.RunRequest
	result   types.RunResult
	progress map[string]types.Progress
	sessions *engine.SessionTracker
	discover *engine.DiscoverResult
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		ran:      make(chan types.RunRequest, 4),
		progress: make(map[string]types.Progress),
		sessions: engine.NewSessionTracker(),
	}
}

func (f *fakeRunner) Run(ctx context.Context, req types.RunRequest) types.RunResult {
	f.mu.Lock()
	f.runs = append(f.runs, req)
	res := f.result
	f.mu.Unlock()
	f.ran <- req
	res.SessionID = req.SessionID
	return res
}

func (f *fakeRunner) Progress(ctx context.Context, sessionID string) (types.Progress, error) {
	if s, ok := f.sessions.Snapshot(sessionID); ok {
		return s.Progress(), nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.progress[sessionID]
	if !ok {
		return types.Progress{}, types.ErrSessionNotFound
	}
	return p, nil
}

func (f *fakeRunner) Cancel(sessionID string) error {
	return f.sessions.Cancel(sessionID, engine.ErrCancelRequested)
}

func (f *fakeRunner) Subscribe(sessionID string) (<-chan types.ScrapeSession, func(), error) {
	return f.sessions.Subscribe(sessionID)
}

func (f *fakeRunner) Discover(ctx context.Context, req types.DiscoverRequest) (*engine.DiscoverResult, error) {
	if req.BaseURL == "" {
		return nil, &types.ConfigurationError{Field: "baseUrl"}
	}
	return f.discover, nil
}

type fakePublisher struct {
	got int
}

func (p *fakePublisher) SyncAll(ctx context.Context, records []*types.MatchRecord) (publisher.SyncSummary, error) {
	p.got = len(records)
	return publisher.SyncSummary{Succeeded: len(records), Created: len(records)}, nil
}

func newTestStore(t *testing.T) storage.Store {
	t.Helper()
	cfg := config.DefaultConfig().Storage
	cfg.Driver = storage.DriverSQLite
	cfg.DSN = "file:" + filepath.Join(t.TempDir(), "api.db") + "?_pragma=busy_timeout(5000)"
	cfg.ExportType = ""
	store, err := storage.Open(context.Background(), cfg, testLogger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTestServer(t *testing.T, runner *fakeRunner, store storage.Store, opts ...Option) *httptest.Server {
	t.Helper()
	s := NewServer(config.APIConfig{}, runner, store, testLogger, opts...)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url string, body any) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		if s, ok := body.(string); ok {
			rd = strings.NewReader(s)
		} else {
			b, err := json.Marshal(body)
			require.NoError(t, err)
			rd = bytes.NewReader(b)
		}
	}
	req, err := http.NewRequest(method, url, rd)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func runBody() map[string]any {
	return map[string]any{
		"season":        "42024",
		"linkStructure": "https://results.example/#4.{season}.{pool}",
		"venue":         "Grøndal MultiCenter",
		"sessionId":     "session_api",
	}
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, newFakeRunner(), newTestStore(t))

	resp, body := do(t, http.MethodGet, srv.URL+"/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	var got map[string]string
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "ok", got["status"])
	assert.Equal(t, "sqlite", got["storage"])
}

func TestRunEndpoint(t *testing.T) {
	tests := []struct {
		name   string
		result types.RunResult
		status int
	}{
		{"success", types.RunResult{Success: true, TotalMatches: 14, Message: "Scraping completed"}, http.StatusOK},
		{"no pools", types.RunResult{Message: "No pools found", Err: &types.NoPoolsError{Season: "42024"}}, http.StatusOK},
		{"bad request", types.RunResult{Err: &types.ConfigurationError{Field: "venue"}}, http.StatusBadRequest},
		{"busy", types.RunResult{Err: types.ErrRunInProgress}, http.StatusConflict},
		{"storage down", types.RunResult{Err: &types.InfrastructureError{Component: "storage", Err: errors.New("refused")}}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := newFakeRunner()
			runner.result = tt.result
			srv := newTestServer(t, runner, newTestStore(t))

			resp, body := do(t, http.MethodPost, srv.URL+"/api/v1/scraper/run", runBody())
			assert.Equal(t, tt.status, resp.StatusCode)

			var got types.RunResult
			require.NoError(t, json.Unmarshal(body, &got))
			assert.Equal(t, tt.result.Success, got.Success)
			assert.Equal(t, tt.result.TotalMatches, got.TotalMatches)
			assert.Equal(t, "session_api", got.SessionID)

			require.Len(t, runner.runs, 1)
			assert.Equal(t, "42024", runner.runs[0].Season)
			assert.Equal(t, "Grøndal MultiCenter", runner.runs[0].Venue)
		})
	}
}

func TestCancelEndpoint(t *testing.T) {
	runner := newFakeRunner()
	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)
	_, err := runner.sessions.StartWithCancel(types.RunRequest{SessionID: "session_live"}, cancel)
	require.NoError(t, err)
	_, err = runner.sessions.Start(types.RunRequest{SessionID: "session_done"})
	require.NoError(t, err)
	runner.sessions.Finish("session_done", types.SessionCompleted, "done", nil)
	srv := newTestServer(t, runner, newTestStore(t))

	resp, body := do(t, http.MethodPost, srv.URL+"/api/v1/scraper/cancel?session_id=session_live", nil)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Contains(t, string(body), "cancelling")
	assert.ErrorIs(t, context.Cause(ctx), engine.ErrCancelRequested)

	resp, _ = do(t, http.MethodPost, srv.URL+"/api/v1/scraper/cancel?session_id=session_done", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = do(t, http.MethodPost, srv.URL+"/api/v1/scraper/cancel?session_id=missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = do(t, http.MethodPost, srv.URL+"/api/v1/scraper/cancel", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRunEndpointInvalidJSON(t *testing.T) {
	runner := newFakeRunner()
	srv := newTestServer(t, runner, newTestStore(t))

	resp, _ := do(t, http.MethodPost, srv.URL+"/api/v1/scraper/run", "{not json")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, runner.runs)
}

func TestRunEndpointAsync(t *testing.T) {
	runner := newFakeRunner()
	srv := newTestServer(t, runner, newTestStore(t))

	body := runBody()
	delete(body, "sessionId")
	resp, data := do(t, http.MethodPost, srv.URL+"/api/v1/scraper/run?async=true", body)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var got map[string]string
	require.NoError(t, json.Unmarshal(data, &got))
	assert.True(t, strings.HasPrefix(got["sessionId"], "session_"))

	select {
	case req := <-runner.ran:
		assert.Equal(t, got["sessionId"], req.SessionID)
	case <-time.After(5 * time.Second):
		t.Fatal("background run never started")
	}
}

func TestProgressEndpoint(t *testing.T) {
	runner := newFakeRunner()
	runner.progress["session_old"] = types.Progress{Progress: 100, Message: "Scraping completed", Status: "completed"}
	srv := newTestServer(t, runner, newTestStore(t))

	resp, _ := do(t, http.MethodGet, srv.URL+"/api/v1/scraper/progress", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, http.MethodGet, srv.URL+"/api/v1/scraper/progress?session_id=nope", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body := do(t, http.MethodGet, srv.URL+"/api/v1/scraper/progress?session_id=session_old", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var p types.Progress
	require.NoError(t, json.Unmarshal(body, &p))
	assert.Equal(t, 100, p.Progress)
	assert.Equal(t, "completed", p.Status)
}

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

func readEvent(t *testing.T, conn *websocket.Conn) progressEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var ev progressEvent
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func TestProgressStream(t *testing.T) {
	runner := newFakeRunner()
	_, err := runner.sessions.Start(types.RunRequest{SessionID: "session_live", Season: "42024"})
	require.NoError(t, err)
	srv := newTestServer(t, runner, newTestStore(t))

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/api/v1/scraper/progress/ws?session_id=session_live"), nil)
	require.NoError(t, err)
	defer conn.Close()

	first := readEvent(t, conn)
	assert.Equal(t, "session_live", first.SessionID)
	assert.Equal(t, "running", first.Status)

	runner.sessions.Update("session_live", func(s *types.ScrapeSession) {
		s.PoolsTotal = 4
		s.PoolsProcessed = 2
		s.Message = "Processed 2/4 pools"
	})
	mid := readEvent(t, conn)
	assert.Equal(t, 50, mid.Progress.Progress)
	assert.Equal(t, "Processed 2/4 pools", mid.Message)

	runner.sessions.Finish("session_live", types.SessionCompleted, "Scraping completed", nil)
	last := readEvent(t, conn)
	assert.Equal(t, 100, last.Progress.Progress)
	assert.Equal(t, "completed", last.Status)

	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected error %v", err)
}

func TestProgressStreamFromRunLog(t *testing.T) {
	runner := newFakeRunner()
	runner.progress["session_old"] = types.Progress{Progress: 100, Message: "done", Status: "completed"}
	srv := newTestServer(t, runner, newTestStore(t))

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/api/v1/scraper/progress/ws?session_id=session_old"), nil)
	require.NoError(t, err)
	defer conn.Close()

	ev := readEvent(t, conn)
	assert.Equal(t, "done", ev.Message)
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected error %v", err)
}

func TestProgressStreamUnknownSession(t *testing.T) {
	srv := newTestServer(t, newFakeRunner(), newTestStore(t))

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "/api/v1/scraper/progress/ws?session_id=nope"), nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDiscoverEndpoint(t *testing.T) {
	runner := newFakeRunner()
	runner.discover = &engine.DiscoverResult{Unions: 1, AgeGroups: 1, Pools: []types.PoolDefinition{{Season: "42024", PoolValue: "14822"}}}
	srv := newTestServer(t, runner, newTestStore(t))

	resp, body := do(t, http.MethodPost, srv.URL+"/api/v1/pools/discover", map[string]any{"baseUrl": "https://results.example/", "season": "42024"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got engine.DiscoverResult
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Len(t, got.Pools, 1)

	resp, _ = do(t, http.MethodPost, srv.URL+"/api/v1/pools/discover", map[string]any{"season": "42024"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAdminEndpoints(t *testing.T) {
	store := newTestStore(t)
	srv := newTestServer(t, newFakeRunner(), store)
	ctx := context.Background()

	// Venues
	resp, _ := do(t, http.MethodGet, srv.URL+"/api/v1/venues/last", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = do(t, http.MethodPost, srv.URL+"/api/v1/venues", map[string]string{"venue": "  "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, http.MethodPost, srv.URL+"/api/v1/venues", map[string]string{"venue": "Grøndal MultiCenter", "searchTime": "2024-10-01T12:00:00Z"})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := do(t, http.MethodGet, srv.URL+"/api/v1/venues/last", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var v types.VenueSearch
	require.NoError(t, json.Unmarshal(body, &v))
	assert.Equal(t, "Grøndal MultiCenter", v.Venue)

	// Logs
	for _, id := range []string{"session_1", "session_2"} {
		_, err := store.StartLog(ctx, id, "42024", "Grøndal MultiCenter")
		require.NoError(t, err)
	}
	resp, body = do(t, http.MethodGet, srv.URL+"/api/v1/logs?limit=1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var logs []types.LogEntry
	require.NoError(t, json.Unmarshal(body, &logs))
	assert.Len(t, logs, 1)

	resp, _ = do(t, http.MethodGet, srv.URL+"/api/v1/logs?limit=zero", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = do(t, http.MethodDelete, srv.URL+"/api/v1/logs", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"deleted":2}`, string(body))

	// Matches
	records := []*types.MatchRecord{
		{MatchID: "446505", HomeTeam: "BTK 61", AwayTeam: "Hillerød GI", Date: "2024-10-10", Time: types.Ptr("19:00"), Venue: "Grøndal MultiCenter", RawData: types.NewRawRow()},
		{MatchID: "446506", HomeTeam: "Virum", AwayTeam: "BTK 61", Date: "2024-10-17", Time: types.Ptr("19:30"), Venue: "Grøndal MultiCenter", RawData: types.NewRawRow()},
	}
	require.NoError(t, store.InsertMatches(ctx, records, types.RunMetadata{SessionID: "session_1", Season: "42024"}))

	resp, body = do(t, http.MethodGet, srv.URL+"/api/v1/matches?season=42024", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var matches []types.MatchRecord
	require.NoError(t, json.Unmarshal(body, &matches))
	assert.Len(t, matches, 2)

	resp, body = do(t, http.MethodDelete, srv.URL+"/api/v1/matches", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"deleted":2}`, string(body))
}

func TestCalendarSyncEndpoint(t *testing.T) {
	store := newTestStore(t)
	rec := &types.MatchRecord{MatchID: "446505", HomeTeam: "BTK 61", AwayTeam: "Virum", Date: "2024-10-10", RawData: types.NewRawRow()}
	require.NoError(t, store.InsertMatches(context.Background(), []*types.MatchRecord{rec}, types.RunMetadata{Season: "42024"}))

	off := newTestServer(t, newFakeRunner(), store)
	resp, _ := do(t, http.MethodPost, off.URL+"/api/v1/calendar/sync", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	pub := &fakePublisher{}
	on := newTestServer(t, newFakeRunner(), store, WithPublisher(pub))
	resp, body := do(t, http.MethodPost, on.URL+"/api/v1/calendar/sync", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, pub.got)

	var summary publisher.SyncSummary
	require.NoError(t, json.Unmarshal(body, &summary))
	assert.Equal(t, 1, summary.Succeeded)
}

func TestMetricsEndpoint(t *testing.T) {
	m := observability.NewMetrics(testLogger)
	m.RunsStarted.Add(3)
	srv := newTestServer(t, newFakeRunner(), newTestStore(t), WithMetrics("/metrics", m))

	resp, body := do(t, http.MethodGet, srv.URL+"/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "calsync_runs_started_total 3")
}

func TestDashboardMounted(t *testing.T) {
	runner := newFakeRunner()
	_, err := runner.sessions.Start(types.RunRequest{SessionID: "session_1", Season: "2024"})
	require.NoError(t, err)
	store := newTestStore(t)
	m := observability.NewMetrics(testLogger)
	m.RunsStarted.Add(1)
	srv := newTestServer(t, runner, store, WithDashboard(dashboard.New(m, runner.sessions, store, testLogger)))

	resp, body := do(t, http.MethodGet, srv.URL+"/dashboard/stats", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var stats dashboard.Stats
	require.NoError(t, json.Unmarshal(body, &stats))
	assert.Equal(t, "running", stats.State)
	assert.Equal(t, int64(1), stats.Counters["runs_started"])
	require.Len(t, stats.Sessions, 1)
	assert.Equal(t, "session_1", stats.Sessions[0].SessionID)
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&types.ConfigurationError{Field: "season"}, http.StatusBadRequest},
		{types.ErrRunInProgress, http.StatusConflict},
		{types.ErrSessionNotFound, http.StatusNotFound},
		{&types.PersistenceError{Backend: "sqlite", Op: "last venue", Err: types.ErrNotFound}, http.StatusNotFound},
		{&types.PersistenceError{Backend: "sqlite", Op: "insert", Err: errors.New("locked")}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := errorStatus(tt.err); got != tt.want {
			t.Errorf("errorStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
