package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/MehulMathur2411/Cpap-Bipap/internal/deadletter"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 500
)

// handleListDeadLetters returns one page of dead letters, newest first.
func (s *Server) handleListDeadLetters(w http.ResponseWriter, r *http.Request) {
	if s.deadLetters == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "dead letter store not configured")
		return
	}

	limit, err := queryInt(r, "limit", defaultPageLimit)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	res, err := s.deadLetters.List(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("failed to list dead letters", "error", err)
		writeInternalError(w, "failed to list dead letters")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleGetDeadLetter returns a single dead letter.
func (s *Server) handleGetDeadLetter(w http.ResponseWriter, r *http.Request) {
	if s.deadLetters == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "dead letter store not configured")
		return
	}

	entry, err := s.deadLetters.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDeadLetterError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// handleDeleteDeadLetter removes a dead letter without resending it.
func (s *Server) handleDeleteDeadLetter(w http.ResponseWriter, r *http.Request) {
	if s.deadLetters == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "dead letter store not configured")
		return
	}

	if err := s.deadLetters.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeDeadLetterError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleResendDeadLetter puts a dead letter back on the delivery queue.
// The entry is removed only once the queue has accepted it.
func (s *Server) handleResendDeadLetter(w http.ResponseWriter, r *http.Request) {
	if s.deadLetters == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "dead letter store not configured")
		return
	}

	id := chi.URLParam(r, "id")
	entry, err := s.deadLetters.Get(r.Context(), id)
	if err != nil {
		s.writeDeadLetterError(w, err)
		return
	}

	queued, err := s.queue.Enqueue(entry.Payload)
	if err != nil {
		s.logger.Error("failed to requeue dead letter", "id", id, "error", err)
		writeInternalError(w, "failed to requeue dead letter")
		return
	}
	if err := s.deadLetters.Delete(r.Context(), id); err != nil {
		s.writeDeadLetterError(w, err)
		return
	}

	s.logger.Info("dead letter requeued", "id", id, "queued", queued)
	writeJSON(w, http.StatusAccepted, SubmitResponse{Queued: queued})
}

func (s *Server) writeDeadLetterError(w http.ResponseWriter, err error) {
	if errors.Is(err, deadletter.ErrNotFound) {
		writeNotFound(w, "dead letter not found")
		return
	}
	s.logger.Error("dead letter operation failed", "error", err)
	writeInternalError(w, "dead letter operation failed")
}

// queryInt parses a non-negative integer query parameter.
func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New(name + " must be a non-negative integer")
	}
	return n, nil
}
