package api

import (
	"net/http"
	"time"
)

// PendingResponse is one queued payload.
type PendingResponse struct {
	Payload    string    `json:"payload"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	Attempts   int       `json:"attempts"`
}

// handleGetQueue lists pending payloads, oldest first.
func (s *Server) handleGetQueue(w http.ResponseWriter, _ *http.Request) {
	pending := s.queue.Pending()
	items := make([]PendingResponse, 0, len(pending))
	for _, p := range pending {
		items = append(items, PendingResponse{
			Payload:    p.Payload,
			EnqueuedAt: p.EnqueuedAt.UTC(),
			Attempts:   p.Attempts,
		})
	}

	stats := s.queue.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"pending": items,
		"count":   len(items),
		"stats": QueueMetrics{
			Pending:      stats.Pending,
			Awaiting:     stats.Awaiting,
			HeadAttempts: stats.HeadAttempts,
		},
	})
}

// handleClearQueue drops every pending payload.
func (s *Server) handleClearQueue(w http.ResponseWriter, _ *http.Request) {
	dropped := s.queue.Stats().Pending
	if err := s.queue.Clear(); err != nil {
		s.logger.Error("failed to clear queue", "error", err)
		writeInternalError(w, "failed to clear queue")
		return
	}
	s.logger.Info("delivery queue cleared", "dropped", dropped)
	writeJSON(w, http.StatusOK, map[string]any{"cleared": dropped})
}
