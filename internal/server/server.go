// Package server provides the HTTP server and handlers.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/bryan-buckman/feedpool/internal/config"
	"github.com/bryan-buckman/feedpool/internal/database"
	"github.com/bryan-buckman/feedpool/internal/feed"
	"github.com/bryan-buckman/feedpool/internal/ingest"
	"github.com/bryan-buckman/feedpool/internal/log"
	"github.com/bryan-buckman/feedpool/internal/metrics"
)

// Server is the main HTTP server.
type Server struct {
	cfg        config.Config
	db         database.Store
	source     feed.Source
	fetcher    *ingest.Fetcher
	poller     *ingest.Poller
	sessions   *registry
	router     chi.Router
	httpServer *http.Server
	logger     zerolog.Logger

	// newRand seeds each controller; nil results select entropy.
	newRand func() feed.Rand
}

// New creates a new server backed by db.
func New(cfg config.Config, db database.Store) *Server {
	fetcher := ingest.NewFetcher(db)
	s := &Server{
		cfg:      cfg,
		db:       db,
		source:   database.NewSharedSource(db),
		fetcher:  fetcher,
		poller:   ingest.NewPoller(db, fetcher),
		sessions: newRegistry(cfg.Server.SessionTTL),
		logger:   log.WithComponent("server"),
		newRand:  func() feed.Rand { return nil },
	}
	s.setupRoutes()
	s.httpServer = &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if limit := s.cfg.Server.RateLimit; limit > 0 {
				r.Use(rateLimit(limit, time.Minute))
			}
			r.Post("/feeds/{variant}", s.handleOpenFeed)
			r.Get("/sessions/{sessionID}", s.handleSnapshot)
			r.Post("/sessions/{sessionID}/more", s.handleLoadMore)
			r.Post("/sessions/{sessionID}/refresh", s.handleRefresh)
			r.Delete("/sessions/{sessionID}", s.handleCloseSession)
		})

		r.Get("/sources", s.handleListSources)
		r.Post("/sources", s.handleAddSource)
		r.Delete("/sources/{sourceID}", s.handleDeleteSource)
		r.Post("/sources/import", s.handleImportOPML)
		r.Get("/sources/export", s.handleExportOPML)
		r.Post("/ingest", s.handleIngest)
		r.Get("/settings", s.handleGetSettings)
		r.Post("/settings", s.handleSaveSettings)
	})

	s.router = r
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the session janitor, the poller when ingest is enabled, and
// serves until Shutdown.
func (s *Server) Start() error {
	s.sessions.startJanitor()
	if s.cfg.Ingest.Enabled {
		s.poller.Start()
	}
	s.logger.Info().
		Str("addr", s.cfg.Server.Addr).
		Str("database", s.db.DatabaseType()).
		Bool("ingest", s.cfg.Ingest.Enabled).
		Msg("server starting")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests, stops background work and closes
// every session.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	if s.cfg.Ingest.Enabled {
		s.poller.Stop()
	}
	s.sessions.stopJanitor()
	s.sessions.closeAll()
	return err
}

// accessLog logs each request and records its latency by route pattern.
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		elapsed := time.Since(start)
		metrics.ObserveHTTPRequest(r.Method, route, status, elapsed)
		s.logger.Debug().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("route", route).
			Int("status", status).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", elapsed).
			Msg("request")
	})
}

// rateLimit limits requests per client IP with a JSON 429 response.
func rateLimit(limit int, window time.Duration) func(http.Handler) http.Handler {
	return httprate.Limit(
		limit,
		window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(window.Seconds())))
			writeJSON(w, http.StatusTooManyRequests, apiError{
				Error:     "rate_limit_exceeded",
				Detail:    "too many requests, try again later",
				Retryable: true,
			})
		}),
	)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	count, err := s.db.CountRecords(r.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":   "unavailable",
			"database": s.db.DatabaseType(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"database": s.db.DatabaseType(),
		"records":  count,
		"sessions": s.sessions.len(),
	})
}
