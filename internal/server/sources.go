package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bryan-buckman/feedpool/internal/database"
	"github.com/bryan-buckman/feedpool/internal/model"
	"github.com/bryan-buckman/feedpool/internal/opml"
)

// --- Ingest sources ---

func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	sources, err := s.db.GetSources()
	if err != nil {
		s.logger.Error().Err(err).Msg("list sources failed")
		writeJSON(w, http.StatusInternalServerError, apiError{Error: "internal"})
		return
	}
	if sources == nil {
		sources = []model.IngestSource{}
	}
	writeJSON(w, http.StatusOK, sources)
}

func (s *Server) handleAddSource(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title string `json:"title"`
		URL   string `json:"url"`
		Group string `json:"group"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	u, err := url.Parse(req.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		writeBadRequest(w, "url must be an absolute http(s) URL")
		return
	}
	title := req.Title
	if title == "" {
		title = u.Host
	}

	id, created, err := s.db.GetOrCreateSource(title, req.URL, req.Group)
	if err != nil {
		s.logger.Error().Err(err).Str("url", req.URL).Msg("add source failed")
		writeJSON(w, http.StatusInternalServerError, apiError{Error: "internal"})
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]any{"id": id, "created": created})
}

func (s *Server) handleDeleteSource(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "sourceID"), 10, 64)
	if err != nil {
		writeBadRequest(w, "invalid source id")
		return
	}
	if _, err := s.db.GetSourceByID(id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, apiError{Error: "source_not_found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, apiError{Error: "internal"})
		return
	}
	if err := s.db.DeleteSource(id); err != nil {
		s.logger.Error().Err(err).Int64("source_id", id).Msg("delete source failed")
		writeJSON(w, http.StatusInternalServerError, apiError{Error: "internal"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleImportOPML(w http.ResponseWriter, r *http.Request) {
	file, _, err := r.FormFile("opml")
	if err != nil {
		writeBadRequest(w, "no file provided")
		return
	}
	defer file.Close()

	entries, err := opml.Parse(file)
	if err != nil {
		writeBadRequest(w, fmt.Sprintf("failed to parse OPML: %v", err))
		return
	}

	imported, err := ImportSources(s.db, entries)
	if err != nil {
		s.logger.Warn().Err(err).Msg("opml import incomplete")
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"imported": imported,
		"total":    len(entries),
	})
}

// ImportSources stores OPML entries as ingest sources and returns how many
// were new. Entries that fail are skipped and reported in the joined error.
func ImportSources(db database.Store, entries []opml.SourceEntry) (int, error) {
	imported := 0
	var errs []error
	for _, entry := range entries {
		_, isNew, err := db.GetOrCreateSource(entry.Title, entry.URL, entry.Group)
		if err != nil {
			errs = append(errs, fmt.Errorf("source %s: %w", entry.URL, err))
			continue
		}
		if isNew {
			imported++
		}
	}
	return imported, errors.Join(errs...)
}

func (s *Server) handleExportOPML(w http.ResponseWriter, r *http.Request) {
	sources, err := s.db.GetSources()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, apiError{Error: "internal"})
		return
	}
	data, err := opml.Export("feedpool sources", sources, time.Now())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, apiError{Error: "internal"})
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.Header().Set("Content-Disposition", "attachment; filename=feedpool-sources.opml")
	_, _ = w.Write(data)
}

// handleIngest polls every upstream source now.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()

	results, err := s.fetcher.FetchAll(ctx)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, apiError{Error: "ingest_failed", Detail: err.Error(), Retryable: true})
		return
	}
	total := 0
	for _, c := range results {
		total += c
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"new_records": total,
		"sources":     len(results),
	})
}

// --- Settings ---

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	interval, _ := s.db.GetPollingInterval()
	writeJSON(w, http.StatusOK, map[string]any{"polling_interval": interval})
}

func (s *Server) handleSaveSettings(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PollingInterval int `json:"polling_interval"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	if req.PollingInterval < database.MinPollingIntervalMinutes {
		req.PollingInterval = database.MinPollingIntervalMinutes
	}
	if err := s.db.SetSetting(model.SettingPollingInterval, strconv.Itoa(req.PollingInterval)); err != nil {
		writeJSON(w, http.StatusInternalServerError, apiError{Error: "internal"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "polling_interval": req.PollingInterval})
}
