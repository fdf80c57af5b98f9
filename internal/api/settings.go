package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/MehulMathur2411/Cpap-Bipap/internal/connection"
	"github.com/MehulMathur2411/Cpap-Bipap/internal/controller"
	"github.com/MehulMathur2411/Cpap-Bipap/internal/protocol"
)

// SubmitResponse reports whether a submission reached the queue.
type SubmitResponse struct {
	Mode   protocol.Mode `json:"mode,omitempty"`
	Queued bool          `json:"queued"`
}

// FrameRequest carries one raw settings frame received out of band.
type FrameRequest struct {
	Frame string `json:"frame"`
}

// handleGetSettings returns the full stored bundle.
func (s *Server) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	b, err := s.settings.Load()
	if err != nil {
		s.logger.Error("failed to load settings", "error", err)
		writeInternalError(w, "failed to load settings")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"machine_type": s.machine,
		"settings":     b,
	})
}

// handleGetMode returns the stored values for one mode.
func (s *Server) handleGetMode(w http.ResponseWriter, r *http.Request) {
	mode := protocol.Mode(chi.URLParam(r, "mode"))
	if !mode.Valid() {
		writeNotFound(w, "unknown mode: "+string(mode))
		return
	}

	b, err := s.settings.Load()
	if err != nil {
		s.logger.Error("failed to load settings", "error", err)
		writeInternalError(w, "failed to load settings")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":   mode,
		"values": b[mode],
	})
}

// handleSubmitMode saves one mode's values and queues the encoded bundle.
func (s *Server) handleSubmitMode(w http.ResponseWriter, r *http.Request) {
	mode := protocol.Mode(chi.URLParam(r, "mode"))
	if !mode.Valid() {
		writeNotFound(w, "unknown mode: "+string(mode))
		return
	}

	var values protocol.Fields
	if err := json.NewDecoder(r.Body).Decode(&values); err != nil {
		writeBadRequest(w, "invalid JSON: "+err.Error())
		return
	}
	if len(values) == 0 {
		writeBadRequest(w, "no values supplied")
		return
	}

	queued, err := s.controller.SubmitMode(r.Context(), mode, values)
	if err != nil {
		s.writeSettingsError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, SubmitResponse{Mode: mode, Queued: queued})
}

// handleSyncSettings queues the whole stored bundle.
func (s *Server) handleSyncSettings(w http.ResponseWriter, r *http.Request) {
	queued, err := s.controller.SyncAll(r.Context())
	if err != nil {
		s.writeSettingsError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, SubmitResponse{Queued: queued})
}

// handleRequestSettings asks the device to publish its current settings.
func (s *Server) handleRequestSettings(w http.ResponseWriter, r *http.Request) {
	if err := s.controller.RequestSettings(r.Context()); err != nil {
		s.writeSettingsError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"requested": true,
		"serial":    s.controller.Serial(),
	})
}

// handleApplyFrame decodes a raw frame and merges it into the store.
func (s *Server) handleApplyFrame(w http.ResponseWriter, r *http.Request) {
	var req FrameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON: "+err.Error())
		return
	}
	req.Frame = strings.TrimSpace(req.Frame)
	if req.Frame == "" {
		writeBadRequest(w, "frame is required")
		return
	}

	b, err := s.controller.ApplyFrame(req.Frame)
	if err != nil {
		s.writeSettingsError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"settings": b})
}

// writeSettingsError maps controller errors onto HTTP responses.
func (s *Server) writeSettingsError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, controller.ErrDecodeFailed),
		errors.Is(err, protocol.ErrInvalidField),
		errors.Is(err, protocol.ErrInvalidToken):
		writeValidationError(w, err.Error())
	case errors.Is(err, controller.ErrNoSerial):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, connection.ErrNotConnected):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, err.Error())
	default:
		s.logger.Error("settings operation failed", "error", err)
		writeInternalError(w, "settings operation failed")
	}
}
