// Package httpserver provides the ops HTTP server that runs alongside a harvest:
// liveness and readiness checks, Prometheus metrics and the live run report.
package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/helixir/pubmed-harvester/internal/database"
	"github.com/helixir/pubmed-harvester/internal/pipeline"
)

// HealthChecker reports store health. *database.DB satisfies it.
type HealthChecker interface {
	Health(ctx context.Context) database.HealthStatus
}

// StatusProvider exposes the current run report. *pipeline.Orchestrator satisfies it.
type StatusProvider interface {
	Report() pipeline.RunReport
}

// Server is the ops HTTP server.
type Server struct {
	router         chi.Router
	httpServer     *http.Server
	health         HealthChecker
	status         StatusProvider
	metricsPath    string
	metricsHandler http.Handler
	streamInterval time.Duration
	logger         zerolog.Logger
}

// Config holds HTTP server configuration.
type Config struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	// MetricsPath mounts the Prometheus handler; empty disables it.
	MetricsPath string
}

// Option configures a Server.
type Option func(*Server)

// WithMetricsHandler replaces the default Prometheus handler.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) {
		if h != nil {
			s.metricsHandler = h
		}
	}
}

// WithStreamInterval sets how often the status stream polls the run report.
func WithStreamInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.streamInterval = d
		}
	}
}

// NewServer creates a new ops server. status may be nil when no run is attached.
func NewServer(cfg Config, health HealthChecker, status StatusProvider, logger zerolog.Logger, opts ...Option) *Server {
	s := &Server{
		health:         health,
		status:         status,
		metricsPath:    cfg.MetricsPath,
		metricsHandler: promhttp.Handler(),
		streamInterval: sseQueryInterval,
		logger:         logger.With().Str("component", "http-server").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.router = s.buildRouter()

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// buildRouter creates the chi router with all middleware and routes.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(correlationIDMiddleware)
	r.Use(requestLogger(s.logger))

	r.Get("/healthz", s.healthHandler)
	r.Get("/readyz", s.readinessHandler)
	r.Get("/status", s.statusHandler)
	r.Get("/status/stream", s.streamStatus)

	if s.metricsPath != "" {
		r.Handle(s.metricsPath, s.metricsHandler)
	}

	return r
}

// Start starts the HTTP server. It returns http.ErrServerClosed after Shutdown.
func (s *Server) Start() error {
	s.logger.Info().Str("address", s.httpServer.Addr).Msg("HTTP server starting")
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on HTTP address: %w", err)
	}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// healthHandler returns liveness status with the database state attached.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	health := s.health.Health(r.Context())
	if health.Status == "healthy" {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "database": health.Status})
		return
	}
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{
		"status":   "unhealthy",
		"database": health.Status,
		"error":    health.Error,
	})
}

// readinessHandler reports ready while the database answers and the run has
// not aborted.
func (s *Server) readinessHandler(w http.ResponseWriter, r *http.Request) {
	health := s.health.Health(r.Context())
	if health.Status != "healthy" {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":   "not_ready",
			"database": health.Status,
			"error":    health.Error,
		})
		return
	}
	if s.status != nil {
		if report := s.status.Report(); report.State == pipeline.StateAborted {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":    "not_ready",
				"database":  "healthy",
				"run_state": string(report.State),
				"error":     report.Error,
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ready",
		"database": "healthy",
	})
}

// statusHandler returns the live run report.
func (s *Server) statusHandler(w http.ResponseWriter, _ *http.Request) {
	if s.status == nil {
		writeError(w, http.StatusNotFound, "no run attached")
		return
	}
	writeJSON(w, http.StatusOK, newStatusResponse(s.status.Report()))
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Best-effort; headers already sent.
		_ = err
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{
		"error": message,
	})
}
