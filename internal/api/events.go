package api

import (
	"net/http"
	"time"

	"github.com/MehulMathur2411/Cpap-Bipap/internal/delivery"
	"github.com/MehulMathur2411/Cpap-Bipap/internal/protocol"
)

// Event channels relayed to WebSocket clients.
const (
	ChannelSettingsApplied = "settings.applied"
	ChannelDecodeFailed    = "settings.decode_failed"
	ChannelLinkChanged     = "link.changed"
	ChannelDeliveryEvent   = "delivery.event"
)

const defaultEventLimit = 100

// DeliveryEventPayload is the wire form of a delivery.Event.
type DeliveryEventPayload struct {
	Type     delivery.EventType `json:"type"`
	Payload  string             `json:"payload"`
	Attempts int                `json:"attempts"`
	Pending  int                `json:"pending"`
	Error    string             `json:"error,omitempty"`
	At       time.Time          `json:"at"`
}

// SettingsApplied broadcasts a bundle the device reported.
func (s *Server) SettingsApplied(b protocol.Bundle) {
	s.hub.Broadcast(ChannelSettingsApplied, map[string]any{
		"machine_type": s.machine,
		"settings":     b,
	})
}

// DecodeFailed broadcasts a frame that could not be decoded.
func (s *Server) DecodeFailed(frame string, err error) {
	s.hub.Broadcast(ChannelDecodeFailed, map[string]any{
		"frame": frame,
		"error": err.Error(),
	})
}

// ConnectivityChanged broadcasts a broker link transition.
func (s *Server) ConnectivityChanged(connected bool) {
	s.hub.Broadcast(ChannelLinkChanged, map[string]any{
		"connected": connected,
		"state":     s.link.State().String(),
	})
}

// OnDeliveryEvent broadcasts a delivery queue event.
func (s *Server) OnDeliveryEvent(e delivery.Event) {
	p := DeliveryEventPayload{
		Type:     e.Type,
		Payload:  e.Payload,
		Attempts: e.Attempts,
		Pending:  e.Pending,
		At:       e.At.UTC(),
	}
	if e.Err != nil {
		p.Error = e.Err.Error()
	}
	s.hub.Broadcast(ChannelDeliveryEvent, p)
}

// handleListEvents returns recent journal entries, most recent first.
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "event journal not configured")
		return
	}

	limit, err := queryInt(r, "limit", defaultEventLimit)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	records, err := s.journal.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to read event journal", "error", err)
		writeInternalError(w, "failed to read event journal")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": records,
		"count":  len(records),
	})
}
