package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/IshaanNene/calsync/internal/types"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// progressEvent is one websocket frame. It extends the polling view with
// the session counters.
type progressEvent struct {
	types.Progress
	SessionID      string      `json:"sessionId"`
	Phase          types.Phase `json:"phase,omitempty"`
	CurrentPool    string      `json:"currentPool,omitempty"`
	PoolsTotal     int         `json:"poolsTotal"`
	PoolsProcessed int         `json:"poolsProcessed"`
	PoolsFailed    int         `json:"poolsFailed"`
	Matches        int         `json:"matches"`
}

func eventFrom(s types.ScrapeSession) progressEvent {
	return progressEvent{
		Progress:       s.Progress(),
		SessionID:      s.SessionID,
		Phase:          s.Phase,
		CurrentPool:    s.CurrentPool,
		PoolsTotal:     s.PoolsTotal,
		PoolsProcessed: s.PoolsProcessed,
		PoolsFailed:    s.PoolsFailed,
		Matches:        s.MatchesTotal,
	}
}

// handleProgressStream pushes a frame on every session change and closes
// the connection once the session is terminal. Sessions only known from
// the run log get a single frame.
func (s *Server) handleProgressStream(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("session_id")
	if id == "" {
		s.errorResponse(w, &types.ConfigurationError{Field: "session_id"})
		return
	}

	updates, cancel, err := s.runner.Subscribe(id)
	var last *types.Progress
	if errors.Is(err, types.ErrSessionNotFound) {
		p, perr := s.runner.Progress(r.Context(), id)
		if perr != nil {
			s.errorResponse(w, perr)
			return
		}
		last = &p
	} else if err != nil {
		s.errorResponse(w, err)
		return
	} else {
		defer cancel()
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "session_id", id, "error", err)
		return
	}
	defer conn.Close()
	logger := s.logger.With("session_id", id)

	if last != nil {
		_ = s.writeFrame(conn, progressEvent{Progress: *last, SessionID: id})
		s.closeStream(conn)
		return
	}

	// The read loop only serves control frames and notices a gone client.
	gone := make(chan struct{})
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case session, ok := <-updates:
			if !ok {
				s.closeStream(conn)
				return
			}
			if err := s.writeFrame(conn, eventFrom(session)); err != nil {
				logger.Debug("websocket write failed", "error", err)
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-gone:
			logger.Debug("websocket client went away")
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) writeFrame(conn *websocket.Conn, ev progressEvent) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(ev)
}

func (s *Server) closeStream(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session finished")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
