package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bryan-buckman/feedpool/internal/feed"
	"github.com/bryan-buckman/feedpool/internal/model"
)

// itemView is a record as rendered to clients.
type itemView struct {
	model.ContentRecord
	Badge string `json:"badge,omitempty"`
}

// feedResponse is returned by every session endpoint.
type feedResponse struct {
	Session   string       `json:"session"`
	Variant   feed.Variant `json:"variant"`
	State     feed.State   `json:"state"`
	Items     []itemView   `json:"items"`
	Exhausted bool         `json:"exhausted"`
	Ignored   bool         `json:"ignored,omitempty"`
	PoolSize  int          `json:"pool_size"`
	Served    int          `json:"served"`
}

func toViews(records []model.ContentRecord) []itemView {
	views := make([]itemView, len(records))
	for i, r := range records {
		views[i] = itemView{ContentRecord: r, Badge: r.Badge()}
	}
	return views
}

// response renders sess with items as the payload.
func response(sess *session, items []model.ContentRecord, ignored bool) feedResponse {
	snap := sess.ctrl.Snapshot()
	return feedResponse{
		Session:   sess.id,
		Variant:   snap.Variant,
		State:     snap.State,
		Items:     toViews(items),
		Exhausted: snap.State == feed.StateExhausted,
		Ignored:   ignored,
		PoolSize:  snap.PoolSize,
		Served:    snap.Served,
	}
}

// handleOpenFeed mounts a feed surface: it creates a session and runs the
// initial load. A failed load keeps the session so the client can refresh.
func (s *Server) handleOpenFeed(w http.ResponseWriter, r *http.Request) {
	variant, err := feed.ParseVariant(chi.URLParam(r, "variant"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, apiError{Error: "unknown_variant", Detail: err.Error()})
		return
	}

	var req struct {
		Viewer string `json:"viewer"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "invalid request body")
		return
	}

	policy, err := feed.NewPolicy(variant, req.Viewer, s.cfg.Knobs(variant))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	ctrl := feed.NewController(s.source, policy, s.newRand())
	sess := s.sessions.add(req.Viewer, ctrl)
	res, err := ctrl.Initialize(r.Context())
	if err != nil {
		s.writeFeedError(w, sess.id, err)
		return
	}
	writeJSON(w, http.StatusCreated, response(sess, res.Appended, res.Ignored))
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	sess, ok := s.sessions.get(id)
	if !ok {
		writeSessionNotFound(w, id)
		return
	}
	writeJSON(w, http.StatusOK, response(sess, sess.ctrl.VisibleItems(), false))
}

// handleLoadMore serves the next page. Items holds only the new page.
func (s *Server) handleLoadMore(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	sess, ok := s.sessions.get(id)
	if !ok {
		writeSessionNotFound(w, id)
		return
	}
	res, err := sess.ctrl.LoadMore()
	if err != nil {
		s.writeFeedError(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, response(sess, res.Appended, res.Ignored))
}

// handleRefresh rebuilds the pool. Items holds the new first page.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	sess, ok := s.sessions.get(id)
	if !ok {
		writeSessionNotFound(w, id)
		return
	}
	res, err := sess.ctrl.Refresh(r.Context())
	if err != nil {
		s.writeFeedError(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, response(sess, res.Appended, res.Ignored))
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if !s.sessions.remove(id) {
		writeSessionNotFound(w, id)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
