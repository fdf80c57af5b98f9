package api

import (
	"net/http"
	"time"

	"github.com/MehulMathur2411/Cpap-Bipap/internal/connection"
)

// StatusResponse is the combined link and queue view shown by the UI.
type StatusResponse struct {
	Version       string       `json:"version"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	Machine       string       `json:"machine_type"`
	Serial        string       `json:"serial"`
	Link          LinkMetrics  `json:"link"`
	Queue         QueueMetrics `json:"queue"`
	WebSocket     WSMetrics    `json:"websocket"`
}

// LinkMetrics describes the broker session.
type LinkMetrics struct {
	State       string     `json:"state"`
	Connected   bool       `json:"connected"`
	ConnectedAt *time.Time `json:"connected_at,omitempty"`
}

// QueueMetrics describes the delivery queue.
type QueueMetrics struct {
	Pending      int  `json:"pending"`
	Awaiting     bool `json:"awaiting_ack"`
	HeadAttempts int  `json:"head_attempts"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}

// handleStatus returns the link state, queue depth and device identity.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	state := s.link.State()
	link := LinkMetrics{
		State:     state.String(),
		Connected: state == connection.StateConnected,
	}
	if at := s.link.ConnectedAt(); link.Connected && !at.IsZero() {
		at = at.UTC()
		link.ConnectedAt = &at
	}

	stats := s.queue.Stats()

	writeJSON(w, http.StatusOK, StatusResponse{
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Machine:       string(s.machine),
		Serial:        s.controller.Serial(),
		Link:          link,
		Queue: QueueMetrics{
			Pending:      stats.Pending,
			Awaiting:     stats.Awaiting,
			HeadAttempts: stats.HeadAttempts,
		},
		WebSocket: WSMetrics{ConnectedClients: s.hub.ClientCount()},
	})
}
