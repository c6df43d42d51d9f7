package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mbfetch/mbfetch/internal/catalog"
	"github.com/mbfetch/mbfetch/internal/config"
	"github.com/mbfetch/mbfetch/internal/store"
	"github.com/mbfetch/mbfetch/internal/transfer"
)

// Server exposes transfer control, release browsing, history and live
// progress over HTTP.
type Server struct {
	orchestrator *transfer.Orchestrator
	catalog      *catalog.Client
	store        *store.Store
	config       *config.Config
	logger       *slog.Logger
	httpServer   *http.Server
	version      string
}

// SetVersion sets the version string reported by /healthz.
func (s *Server) SetVersion(version string) {
	s.version = version
}

// NewServer creates a new Server instance.
func NewServer(
	orch *transfer.Orchestrator,
	cat *catalog.Client,
	st *store.Store,
	cfg *config.Config,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		orchestrator: orch,
		catalog:      cat,
		store:        st,
		config:       cfg,
		logger:       logger,
	}
}

// Start starts the HTTP server on the given listen address.
func (s *Server) Start(listenAddr string) error {
	mux := s.setupRoutes()

	// WriteTimeout stays zero so /api/events streams are not cut off.
	s.httpServer = &http.Server{
		Addr:        listenAddr,
		Handler:     mux,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", listenAddr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// setupRoutes registers all HTTP routes on a new ServeMux.
// Uses Go 1.22+ enhanced routing with method prefixes.
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealthz)

	// API routes
	mux.HandleFunc("GET /api/status", s.handleAPIStatus)
	mux.HandleFunc("GET /api/releases", s.handleAPIReleases)
	mux.HandleFunc("GET /api/history", s.handleAPIHistory)
	mux.HandleFunc("POST /api/transfers", s.handleAPITransferStart)
	mux.HandleFunc("POST /api/transfers/cancel", s.handleAPITransferCancel)
	mux.HandleFunc("GET /api/events", s.handleEvents)

	// Prometheus metrics
	mux.Handle("GET /metrics", promhttp.Handler())

	return mux
}
