// Package api exposes the monitor's state over HTTP. The server wraps a chi
// router with JSON endpoints for provider state, aggregate status, snapshots,
// history queries and on-demand refreshes, plus optional Prometheus metrics.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mihaimyh/quotawatch/pkg/quotawatch"
)

// ServerConfig assembles an API server from its collaborators
type ServerConfig struct {
	// Addr is the listen address
	Addr string

	// Monitor is required
	Monitor *quotawatch.Monitor

	// Repository is required; provider listings read from it
	Repository *quotawatch.Repository

	// History enables the /api/v1/history endpoint when set
	History quotawatch.HistoryStore

	// MetricsRegistry exposes /metrics when set
	MetricsRegistry *prometheus.Registry

	// Logger is optional and defaults to a no-op logger
	Logger quotawatch.Logger

	// RefreshTimeout bounds on-demand refreshes (default: 60s)
	RefreshTimeout time.Duration
}

// Server serves the HTTP API
type Server struct {
	monitor *quotawatch.Monitor
	repo    *quotawatch.Repository
	history quotawatch.HistoryStore
	logger  quotawatch.Logger
	timeout time.Duration
	server  *http.Server
}

// NewServer creates a server with its routes configured
func NewServer(config ServerConfig) (*Server, error) {
	if config.Monitor == nil {
		return nil, errors.New("monitor is required")
	}
	if config.Repository == nil {
		return nil, errors.New("repository is required")
	}

	// Set defaults
	if config.Logger == nil {
		config.Logger = &quotawatch.NoopLogger{}
	}
	if config.RefreshTimeout <= 0 {
		config.RefreshTimeout = 60 * time.Second
	}

	s := &Server{
		monitor: config.Monitor,
		repo:    config.Repository,
		history: config.History,
		logger:  config.Logger,
		timeout: config.RefreshTimeout,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/providers", s.handleProviders)
		r.Get("/status", s.handleStatus)
		r.Get("/snapshots", s.handleSnapshots)
		r.Get("/lowest", s.handleLowest)
		r.Get("/history", s.handleHistory)
		r.Post("/refresh", s.handleRefreshAll)
		r.Post("/refresh/{id}", s.handleRefreshOne)
	})

	if config.MetricsRegistry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(config.MetricsRegistry, promhttp.HandlerOpts{}))
	}

	s.server = &http.Server{
		Addr:              config.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Handler returns the configured HTTP handler
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start serves until the listener fails or Shutdown is called
func (s *Server) Start() error {
	s.logger.Info("api server listening", quotawatch.Field{Key: "addr", Value: s.server.Addr})
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
