package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/kenxsak/omniflow-buisness-sub009/internal/api"
	"github.com/kenxsak/omniflow-buisness-sub009/internal/batch"
	"github.com/kenxsak/omniflow-buisness-sub009/internal/cache"
	"github.com/kenxsak/omniflow-buisness-sub009/internal/config"
	"github.com/kenxsak/omniflow-buisness-sub009/internal/listing"
	"github.com/kenxsak/omniflow-buisness-sub009/internal/metrics"
	"github.com/kenxsak/omniflow-buisness-sub009/internal/provider"
	"github.com/kenxsak/omniflow-buisness-sub009/internal/runner"
	"github.com/kenxsak/omniflow-buisness-sub009/internal/sendlog"
	"github.com/kenxsak/omniflow-buisness-sub009/internal/store"
)

// App is the main application
type App struct {
	config        *config.Config
	jobs          *store.JobStore
	sends         *sendlog.Log
	cache         *cache.Cache
	runner        *runner.Runner
	apiServer     *api.Server
	metrics       *metrics.Metrics
	metricsServer *metrics.Server
	collector     *metrics.Collector
	cleaner       *store.Cleaner
	logger        *slog.Logger
}

// New creates a new application
func New(cfg *config.Config) (*App, error) {
	// Setup logger
	logger := setupLogger(cfg.Logging)

	// Open stores
	jobs, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open job store: %w", err)
	}

	sends, err := sendlog.Open(cfg.SendLog.Path)
	if err != nil {
		jobs.Close()
		return nil, fmt.Errorf("failed to open send log: %w", err)
	}

	// Register an adapter for every configured provider
	registry := buildRegistry(cfg.Providers, logger)
	logger.Info("providers registered", "providers", registry.Names())

	// Metrics are optional; a nil Metrics drops every observation
	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	// Listing cache
	listCache := cache.New(cache.DefaultTTL, cache.DefaultMaxEntries)
	lister := listing.NewService(jobs, sends, listCache)

	// Batch processor and runner
	processor := batch.NewProcessor(jobs, registry, cfg, m, logger)
	run := runner.New(jobs, processor, cfg.Runner, cfg.Retry, m, logger)

	// API server
	apiServer := api.NewServer(jobs, sends, lister, run, cfg, m, logger)

	// Metrics scrape server and gauge collector
	var metricsServer *metrics.Server
	var collector *metrics.Collector
	if m != nil {
		metricsServer = metrics.NewServer(m, cfg.Metrics.ListenAddr, cfg.Metrics.Path, logger)
		collector = metrics.NewCollector(m, storeStats{jobs}, cfg.Store.Path, 0)
	}

	// Retention
	cleaner := store.NewCleaner(jobs, sends, cfg.Retention, logger)

	return &App{
		config:        cfg,
		jobs:          jobs,
		sends:         sends,
		cache:         listCache,
		runner:        run,
		apiServer:     apiServer,
		metrics:       m,
		metricsServer: metricsServer,
		collector:     collector,
		cleaner:       cleaner,
		logger:        logger,
	}, nil
}

// Run starts all components and waits for shutdown
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting campaignd",
		"api_addr", a.config.Server.ListenAddr,
		"store", a.config.Store.Path,
		"sendlog", a.config.SendLog.Path,
		"poll_interval", a.config.Runner.PollInterval,
	)

	// Create context that listens for signals
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Start the optional poll loop; external cron triggers work regardless
	a.runner.Start()

	// Channel to collect errors
	errCh := make(chan error, 2)

	// Start API server
	go func() {
		if err := a.apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	// Start metrics server and gauge collector
	if a.metricsServer != nil {
		go func() {
			if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
		a.collector.Start(ctx)
	}

	// Start retention loop
	a.cleaner.Start(ctx)

	// Wait for shutdown signal or error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		a.logger.Error("server error", "error", err)
		cancel()
	}

	// Graceful shutdown
	return a.Shutdown(context.Background())
}

// RunOnce executes a single runner pass without starting any server. Used
// by the one-shot run command.
func (a *App) RunOnce(ctx context.Context) (*runner.Summary, error) {
	return a.runner.RunAll(ctx)
}

// Shutdown gracefully shuts down all components
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.config.Server.ShutdownTimeout)
	defer cancel()

	// Stop the loops first: no new passes, no new sweeps
	a.runner.Stop()
	a.cleaner.Stop()
	if a.collector != nil {
		a.collector.Stop()
	}

	// Shutdown servers
	if err := a.apiServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("api server shutdown error", "error", err)
	}
	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("metrics server shutdown error", "error", err)
		}
	}

	a.cache.Stop()

	// Close stores
	if err := a.sends.Close(); err != nil {
		a.logger.Error("send log close error", "error", err)
	}
	if err := a.jobs.Close(); err != nil {
		a.logger.Error("job store close error", "error", err)
	}

	a.logger.Info("shutdown complete")
	return nil
}

// Close releases stores and loops for commands that never called Run.
func (a *App) Close() error {
	a.runner.Stop()
	a.cleaner.Stop()
	a.cache.Stop()
	if err := a.sends.Close(); err != nil {
		a.jobs.Close()
		return err
	}
	return a.jobs.Close()
}

// buildRegistry registers an adapter for every provider with credentials in
// the config. Unset providers simply stay unregistered; jobs naming them
// fail their batches with an unknown provider error.
func buildRegistry(cfg config.ProvidersConfig, logger *slog.Logger) *provider.Registry {
	reg := provider.NewRegistry()

	if cfg.SMTP != nil {
		reg.Register(provider.NewSMTPRelay(cfg.SMTP, logger))
	}
	if cfg.Brevo != nil {
		reg.Register(provider.NewBrevo(cfg.Brevo, logger))
	}
	if cfg.MSG91 != nil {
		reg.Register(provider.NewMSG91(cfg.MSG91, logger))
	}
	if cfg.Fast2SMS != nil {
		reg.Register(provider.NewFast2SMS(cfg.Fast2SMS, logger))
	}
	if cfg.AiSensy != nil {
		reg.Register(provider.NewAiSensy(cfg.AiSensy, logger))
	}
	if cfg.Gupshup != nil {
		reg.Register(provider.NewGupshup(cfg.Gupshup, logger))
	}

	return reg
}

// storeStats adapts the job store to the metrics collector.
type storeStats struct {
	jobs *store.JobStore
}

func (s storeStats) Stats(ctx context.Context) (*metrics.JobStats, error) {
	st, err := s.jobs.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return &metrics.JobStats{
		Pending:    st.Pending,
		Processing: st.Processing,
		Retrying:   st.Retrying,
		Completed:  st.Completed,
		Failed:     st.Failed,
		Total:      st.Total,
	}, nil
}

// setupLogger creates a logger based on configuration
func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
