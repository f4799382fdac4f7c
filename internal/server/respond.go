package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/bryan-buckman/feedpool/internal/feed"
)

// apiError is the JSON body of every non-2xx response.
type apiError struct {
	Error     string `json:"error"`
	Detail    string `json:"detail,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
	Session   string `json:"session,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeBadRequest(w http.ResponseWriter, detail string) {
	writeJSON(w, http.StatusBadRequest, apiError{Error: "bad_request", Detail: detail})
}

func writeSessionNotFound(w http.ResponseWriter, id string) {
	writeJSON(w, http.StatusNotFound, apiError{Error: "session_not_found", Session: id})
}

// writeFeedError maps controller errors onto HTTP statuses.
func (s *Server) writeFeedError(w http.ResponseWriter, sessionID string, err error) {
	switch {
	case errors.Is(err, feed.ErrPoolEmpty):
		writeJSON(w, http.StatusConflict, apiError{
			Error:   "pool_empty",
			Detail:  "no more records in this feed; refresh to start over",
			Session: sessionID,
		})
	case errors.Is(err, feed.ErrSourceUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, apiError{
			Error:     "source_unavailable",
			Detail:    "the record source could not be reached",
			Retryable: true,
			Session:   sessionID,
		})
	case errors.Is(err, feed.ErrClosed):
		writeSessionNotFound(w, sessionID)
	default:
		s.logger.Error().Err(err).Str("session", sessionID).Msg("feed request failed")
		writeJSON(w, http.StatusInternalServerError, apiError{Error: "internal", Session: sessionID})
	}
}
