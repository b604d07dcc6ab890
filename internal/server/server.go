// Package server exposes the collection and admin HTTP API.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/beaconlabs/beacon/internal/config"
	"github.com/beaconlabs/beacon/internal/location"
	"github.com/beaconlabs/beacon/internal/logging"
	"github.com/beaconlabs/beacon/internal/storage"
)

// Server routes collection and admin requests to the storage engine and the
// location resolution pipeline.
type Server struct {
	mux      *http.ServeMux
	engine   storage.Engine
	resolver *location.Resolver
	cfg      *config.Config
	log      *slog.Logger
}

// New creates a server over the given engine and resolver.
func New(cfg *config.Config, engine storage.Engine, resolver *location.Resolver) *Server {
	s := &Server{
		mux:      http.NewServeMux(),
		engine:   engine,
		resolver: resolver,
		cfg:      cfg,
		log:      logging.Component("server"),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/config", s.handleClientConfig)
	s.mux.HandleFunc("POST /api/collect", s.handleCollect)
	s.mux.HandleFunc("POST /api/interaction", s.handleInteraction)
	s.mux.HandleFunc("POST /api/session-end", s.handleSessionEnd)

	s.mux.HandleFunc("GET /api/admin/sessions", s.handleSessions)
	s.mux.HandleFunc("GET /api/admin/sessions/{id}", s.handleSession)
	s.mux.HandleFunc("GET /api/admin/locations", s.handleLocations)
	s.mux.HandleFunc("GET /api/admin/interactions", s.handleInteractions)
	s.mux.HandleFunc("GET /api/admin/near", s.handleNear)
	s.mux.HandleFunc("GET /api/admin/stats", s.handleStats)
	s.mux.HandleFunc("GET /api/admin/export", s.handleExport)
	s.mux.HandleFunc("GET /api/admin/export/csv", s.handleExportCSV)
	s.mux.HandleFunc("GET /api/admin/export/parquet", s.handleExportParquet)
	s.mux.HandleFunc("POST /api/admin/clear", s.handleClear)
}

// ServeHTTP applies CORS headers, answers preflight, and dispatches to the
// route table. The collection endpoints are called cross-origin from
// instrumented pages, so every origin is allowed.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		origin = "*"
	} else {
		w.Header().Set("Vary", "Origin")
	}
	w.Header().Set("Access-Control-Allow-Origin", origin)
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept")
	w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	w.Header().Set("Access-Control-Max-Age", "86400")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if s.cfg.Server.MaxBodySize > 0 && r.Body != nil {
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Server.MaxBodySize)
	}

	s.mux.ServeHTTP(w, r)
}

// Run serves until ctx is cancelled, then drains in-flight requests within
// the configured shutdown window.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Server.Listen,
		Handler:      s,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	s.log.Info("shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return srv.Close()
	}
	return nil
}
