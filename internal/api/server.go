package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kenxsak/omniflow-buisness-sub009/internal/campaign"
	"github.com/kenxsak/omniflow-buisness-sub009/internal/config"
	"github.com/kenxsak/omniflow-buisness-sub009/internal/listing"
	"github.com/kenxsak/omniflow-buisness-sub009/internal/metrics"
	"github.com/kenxsak/omniflow-buisness-sub009/internal/runner"
	"github.com/kenxsak/omniflow-buisness-sub009/internal/sendlog"
)

// JobStore is the job persistence surface the API needs.
type JobStore interface {
	CreateJob(ctx context.Context, j *campaign.Job) error
	GetJob(ctx context.Context, id string) (*campaign.Job, error)
	ResetRetryTimer(ctx context.Context, id string, now time.Time) error
	Ping(ctx context.Context) error
}

// SendLog records completed instant-send campaigns.
type SendLog interface {
	Insert(ctx context.Context, r *sendlog.Record) error
	Ping(ctx context.Context) error
}

// Lister serves the merged per-tenant campaign view.
type Lister interface {
	JobsForCompany(ctx context.Context, companyID string) ([]listing.Entry, error)
	Invalidate(companyID string)
}

// Trigger runs one scheduler pass on demand.
type Trigger interface {
	RunAll(ctx context.Context) (*runner.Summary, error)
}

// Server is the HTTP API server: the cron trigger surface plus the
// tenant-facing service endpoints.
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	jobs       JobStore
	sends      SendLog
	campaigns  Lister
	trigger    Trigger
	auth       config.AuthConfig
	retry      config.RetryConfig
	server     config.ServerConfig
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewServer creates a new API server
func NewServer(
	jobs JobStore,
	sends SendLog,
	campaigns Lister,
	trigger Trigger,
	cfg *config.Config,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		jobs:      jobs,
		sends:     sends,
		campaigns: campaigns,
		trigger:   trigger,
		auth:      cfg.Auth,
		retry:     cfg.Retry,
		server:    cfg.Server,
		metrics:   m,
		logger:    logger.With("component", "api"),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes() {
	// Middleware
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Recoverer)
	s.router.Use(metrics.HTTPMiddleware(s.metrics))

	// Health check (no auth required)
	s.router.Get("/health", s.handleHealth)

	// Cron trigger surface (auth required)
	s.router.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Get("/run-campaign-jobs", s.handleRunJobs)
		r.Get("/reset-job-timer", s.handleResetTimer)
	})

	// Service API (auth required)
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Post("/jobs", s.handleCreateJob)
		r.Get("/jobs", s.handleListJobs)
		r.Get("/jobs/{jobID}", s.handleGetJob)
		r.Post("/sends", s.handleRecordSend)
	})
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	s.httpServer = &http.Server{
		Addr:         s.server.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  s.server.ReadTimeout,
		WriteTimeout: s.server.WriteTimeout,
		IdleTimeout:  s.server.IdleTimeout,
	}

	s.logger.Info("starting HTTP API server", "addr", s.server.ListenAddr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP API server")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
