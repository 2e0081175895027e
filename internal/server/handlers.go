package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/dashlink/internal/bus"
	"github.com/rickgao/dashlink/internal/connection"
)

const (
	relayPingInterval = 45 * time.Second
	relayReadTimeout  = 90 * time.Second
	relayWriteTimeout = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

type healthResponse struct {
	Status     string         `json:"status"`
	Link       string         `json:"link"`
	Components map[string]any `json:"components,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	snap := s.status.Snapshot()
	health := healthResponse{
		Status:     "healthy",
		Link:       string(snap.Status),
		Components: make(map[string]any),
	}

	switch {
	case snap.Phase == connection.PhaseFailed:
		health.Status = "unhealthy"
	case snap.Status != connection.StatusConnected:
		health.Status = "degraded"
	}

	for name, dep := range s.deps {
		if err := dep.Ping(ctx); err != nil {
			health.Status = "unhealthy"
			health.Components[name] = map[string]string{
				"status": "disconnected",
				"error":  err.Error(),
			}
			continue
		}
		health.Components[name] = "connected"
	}

	code := http.StatusOK
	if health.Status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, health)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.status.Snapshot())
}

// handleEvents relays bus events to a local websocket client. The
// current status is sent first.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("relay upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sub := s.bus.Subscribe(s.cfg.RelayBuffer)
	defer sub.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = conn.SetReadDeadline(time.Now().Add(relayReadTimeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(relayReadTimeout))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	hello := bus.Event{
		Kind:   bus.KindStatus,
		Status: string(s.status.Snapshot().Status),
		At:     time.Now(),
	}
	if err := s.writeEvent(conn, hello); err != nil {
		return
	}

	ping := time.NewTicker(relayPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := s.writeEvent(conn, ev); err != nil {
				s.logger.Debug("relay write failed", "error", err)
				return
			}
		case <-ping.C:
			deadline := time.Now().Add(relayWriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

func (s *Server) writeEvent(conn *websocket.Conn, ev bus.Event) error {
	_ = conn.SetWriteDeadline(time.Now().Add(relayWriteTimeout))
	return conn.WriteJSON(ev)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
