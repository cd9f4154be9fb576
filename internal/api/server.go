package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/IshaanNene/calsync/internal/config"
	"github.com/IshaanNene/calsync/internal/dashboard"
	"github.com/IshaanNene/calsync/internal/engine"
	"github.com/IshaanNene/calsync/internal/publisher"
	"github.com/IshaanNene/calsync/internal/storage"
	"github.com/IshaanNene/calsync/internal/types"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// Runner is what the API needs from the scraping engine.
type Runner interface {
	Run(ctx context.Context, req types.RunRequest) types.RunResult
	Progress(ctx context.Context, sessionID string) (types.Progress, error)
	Cancel(sessionID string) error
	Subscribe(sessionID string) (<-chan types.ScrapeSession, func(), error)
	Discover(ctx context.Context, req types.DiscoverRequest) (*engine.DiscoverResult, error)
}

// Publisher pushes stored matches to the external calendar.
type Publisher interface {
	SyncAll(ctx context.Context, records []*types.MatchRecord) (publisher.SyncSummary, error)
}

// Server provides the REST and websocket surface for triggering runs,
// polling their progress and administering stored data.
type Server struct {
	mux         *http.ServeMux
	port        int
	runner      Runner
	store       storage.Store
	pub         Publisher
	metrics     http.Handler
	metricsPath string
	dashboard   *dashboard.Dashboard
	upgrader    websocket.Upgrader
	baseCtx     context.Context
	logger      *slog.Logger
	now         func() time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithPublisher enables the calendar sync endpoint.
func WithPublisher(p Publisher) Option {
	return func(s *Server) { s.pub = p }
}

// WithMetrics serves h at path.
func WithMetrics(path string, h http.Handler) Option {
	return func(s *Server) {
		s.metricsPath = path
		s.metrics = h
	}
}

// WithDashboard mounts the status page.
func WithDashboard(d *dashboard.Dashboard) Option {
	return func(s *Server) { s.dashboard = d }
}

// WithBaseContext sets the parent context of background runs.
func WithBaseContext(ctx context.Context) Option {
	return func(s *Server) { s.baseCtx = ctx }
}

// NewServer creates a new API server.
func NewServer(cfg config.APIConfig, runner Runner, store storage.Store, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		mux:     http.NewServeMux(),
		port:    cfg.Port,
		runner:  runner,
		store:   store,
		baseCtx: context.Background(),
		logger:  logger.With("component", "api_server"),
		now:     time.Now,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerRoutes()
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.logRequests(s.mux)
}

// ListenAndServe serves until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API server starting", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		s.logger.Info("API server stopping")
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	if s.metrics != nil {
		s.mux.Handle("GET "+s.metricsPath, s.metrics)
	}
	if s.dashboard != nil {
		s.dashboard.Register(s.mux)
	}

	// Scraper
	s.mux.HandleFunc("POST /api/v1/scraper/run", s.handleRun)
	s.mux.HandleFunc("GET /api/v1/scraper/progress", s.handleProgress)
	s.mux.HandleFunc("GET /api/v1/scraper/progress/ws", s.handleProgressStream)
	s.mux.HandleFunc("POST /api/v1/scraper/cancel", s.handleCancel)
	s.mux.HandleFunc("POST /api/v1/pools/discover", s.handleDiscover)

	// Admin
	s.mux.HandleFunc("GET /api/v1/matches", s.handleListMatches)
	s.mux.HandleFunc("DELETE /api/v1/matches", s.handleDeleteMatches)
	s.mux.HandleFunc("GET /api/v1/logs", s.handleRecentLogs)
	s.mux.HandleFunc("DELETE /api/v1/logs", s.handleClearLogs)
	s.mux.HandleFunc("POST /api/v1/venues", s.handleSaveVenue)
	s.mux.HandleFunc("GET /api/v1/venues/last", s.handleLastVenue)

	// Calendar
	s.mux.HandleFunc("POST /api/v1/calendar/sync", s.handleCalendarSync)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": config.Version,
		"storage": s.store.Name(),
	})
}

// handleRun executes a run and answers with its result. With ?async=true
// it answers 202 immediately and the run continues in the background.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req types.RunRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.SessionID == "" {
		req.SessionID = types.NewSessionID(s.now())
	}

	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		go func() {
			res := s.runner.Run(s.baseCtx, req)
			if !res.Success {
				s.logger.Warn("background run failed", "session_id", res.SessionID, "message", res.Message)
			}
		}()
		s.jsonResponse(w, http.StatusAccepted, map[string]string{
			"sessionId": req.SessionID,
			"status":    string(types.SessionRunning),
		})
		return
	}

	res := s.runner.Run(r.Context(), req)
	status := http.StatusOK
	if res.Err != nil {
		status = runStatus(res.Err)
	}
	s.jsonResponse(w, status, res)
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("session_id")
	if id == "" {
		s.errorResponse(w, &types.ConfigurationError{Field: "session_id"})
		return
	}
	p, err := s.runner.Progress(r.Context(), id)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, p)
}

// handleCancel stops a running session. The run reports its final state
// through progress once it has wound down.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("session_id")
	if id == "" {
		s.errorResponse(w, &types.ConfigurationError{Field: "session_id"})
		return
	}
	if err := s.runner.Cancel(id); err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusAccepted, map[string]string{
		"sessionId": id,
		"status":    "cancelling",
	})
}

func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	var req types.DiscoverRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.runner.Discover(r.Context(), req)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, res)
}

func (s *Server) handleListMatches(w http.ResponseWriter, r *http.Request) {
	matches, err := s.store.ListMatches(r.Context(), r.URL.Query().Get("season"))
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, matches)
}

func (s *Server) handleDeleteMatches(w http.ResponseWriter, r *http.Request) {
	n, err := s.store.DeleteAllMatches(r.Context())
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.logger.Info("matches deleted", "count", n)
	s.jsonResponse(w, http.StatusOK, map[string]int64{"deleted": n})
}

func (s *Server) handleRecentLogs(w http.ResponseWriter, r *http.Request) {
	limit := storage.DefaultRecentLogs
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.errorResponse(w, &types.ConfigurationError{Field: "limit", Reason: "must be a positive integer"})
			return
		}
		limit = n
	}
	logs, err := s.store.RecentLogs(r.Context(), limit)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, logs)
}

func (s *Server) handleClearLogs(w http.ResponseWriter, r *http.Request) {
	n, err := s.store.ClearLogs(r.Context())
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.logger.Info("run log cleared", "count", n)
	s.jsonResponse(w, http.StatusOK, map[string]int64{"deleted": n})
}

func (s *Server) handleSaveVenue(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Venue      string `json:"venue"`
		SearchTime string `json:"searchTime"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	body.Venue = strings.TrimSpace(body.Venue)
	if body.Venue == "" {
		s.errorResponse(w, &types.ConfigurationError{Field: "venue"})
		return
	}
	if body.SearchTime == "" {
		body.SearchTime = s.now().Format(time.RFC3339)
	}
	if err := s.store.SaveVenueSearch(r.Context(), body.Venue, body.SearchTime); err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusCreated, map[string]string{"venue": body.Venue, "searchTime": body.SearchTime})
}

func (s *Server) handleLastVenue(w http.ResponseWriter, r *http.Request) {
	v, err := s.store.LastVenue(r.Context())
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, v)
}

func (s *Server) handleCalendarSync(w http.ResponseWriter, r *http.Request) {
	if s.pub == nil {
		s.jsonResponse(w, http.StatusServiceUnavailable, map[string]string{"error": "calendar publishing is not configured"})
		return
	}
	records, err := s.store.ListMatches(r.Context(), r.URL.Query().Get("season"))
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	summary, err := s.pub.SyncAll(r.Context(), records)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, summary)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.jsonResponse(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return false
	}
	return true
}

func (s *Server) errorResponse(w http.ResponseWriter, err error) {
	status := errorStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	s.jsonResponse(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Debug("response write failed", "error", err)
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := s.now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}

// errorStatus maps typed errors to HTTP status codes.
func errorStatus(err error) int {
	var cfgErr *types.ConfigurationError
	switch {
	case errors.As(err, &cfgErr):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrRunInProgress), errors.Is(err, types.ErrSessionFinished):
		return http.StatusConflict
	case errors.Is(err, types.ErrSessionNotFound), errors.Is(err, types.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, types.ErrCancelled), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// runStatus maps an unsuccessful run. Outcomes of a run that actually
// executed, such as a season without pools or failed pools, are reported
// in the body with 200.
func runStatus(err error) int {
	var cfgErr *types.ConfigurationError
	switch {
	case errors.As(err, &cfgErr):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrRunInProgress):
		return http.StatusConflict
	case types.IsInfrastructure(err):
		return http.StatusInternalServerError
	default:
		return http.StatusOK
	}
}

// statusRecorder captures the status code for request logging. It must
// stay hijackable for websocket upgrades.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }
