package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const (
	eventWriteTimeout = 10 * time.Second
	eventPingInterval = 30 * time.Second
)

// handleOverlayEvents streams overlay change notifications for one project
// over a websocket, so presentation instances resynchronize without polling
func (s *Server) handleOverlayEvents(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	if projectID == "" {
		http.Error(w, "project id required", http.StatusBadRequest)
		return
	}

	changes, cancel, err := s.broker.Subscribe(r.Context())
	if err != nil {
		slog.Error("failed to subscribe to overlay changes", "project_id", projectID, "error", err)
		http.Error(w, "change channel unavailable", http.StatusServiceUnavailable)
		return
	}
	defer cancel()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("failed to upgrade to websocket", "error", err)
		return
	}
	defer conn.Close()

	slog.Info("overlay events websocket connected", "project_id", projectID)

	// Drain client frames so close and pong handling keep working
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(eventPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-done:
			slog.Debug("overlay events websocket closed by client", "project_id", projectID)
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(eventWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case change, ok := <-changes:
			if !ok {
				return
			}
			if change.ProjectID != projectID {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(eventWriteTimeout))
			if err := conn.WriteJSON(change); err != nil {
				slog.Debug("overlay events write failed", "project_id", projectID, "error", err)
				return
			}
		}
	}
}
