package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kenxsak/omniflow-buisness-sub009/internal/config"
)

// SendLogCleaner is the retention surface of the instant-send log.
type SendLogCleaner interface {
	Cleanup(ctx context.Context, maxAge time.Duration) (int, error)
}

// Cleaner deletes terminal jobs and old send-log rows on an interval. The
// queue core never deletes anything on its own; retention lives here.
type Cleaner struct {
	jobs   *JobStore
	sends  SendLogCleaner
	cfg    config.RetentionConfig
	logger *slog.Logger
	wg     sync.WaitGroup
	done   chan struct{}
}

// NewCleaner creates a new cleaner service. sends may be nil when no send
// log is configured.
func NewCleaner(jobs *JobStore, sends SendLogCleaner, cfg config.RetentionConfig, logger *slog.Logger) *Cleaner {
	return &Cleaner{
		jobs:   jobs,
		sends:  sends,
		cfg:    cfg,
		logger: logger.With("component", "cleaner"),
		done:   make(chan struct{}),
	}
}

// Start starts the cleanup loop. Interval 0 disables retention entirely;
// a zero max age keeps that store's records forever.
func (c *Cleaner) Start(ctx context.Context) {
	if c.cfg.Interval <= 0 {
		return
	}
	if c.cfg.MaxAge <= 0 && c.cfg.SendLogMaxAge <= 0 {
		return
	}

	c.wg.Add(1)
	go c.run(ctx)

	c.logger.Info("cleaner started",
		"interval", c.cfg.Interval,
		"max_age", c.cfg.MaxAge,
		"sendlog_max_age", c.cfg.SendLogMaxAge,
	)
}

// Stop stops the cleaner and waits for the loop to finish
func (c *Cleaner) Stop() {
	close(c.done)
	c.wg.Wait()
	c.logger.Info("cleaner stopped")
}

func (c *Cleaner) run(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	// Run cleanup immediately on start
	c.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-ticker.C:
			c.sweep(ctx)
		}
	}
}

// sweep runs one retention pass over both stores.
func (c *Cleaner) sweep(ctx context.Context) {
	if c.cfg.MaxAge > 0 {
		deleted, err := c.jobs.CleanupTerminal(ctx, c.cfg.MaxAge)
		if err != nil {
			c.logger.Error("failed to clean up terminal jobs", "error", err)
		} else if deleted > 0 {
			c.logger.Info("cleaned up terminal jobs", "deleted", deleted)
		}
	}

	if c.sends != nil && c.cfg.SendLogMaxAge > 0 {
		deleted, err := c.sends.Cleanup(ctx, c.cfg.SendLogMaxAge)
		if err != nil {
			c.logger.Error("failed to clean up send log", "error", err)
		} else if deleted > 0 {
			c.logger.Info("cleaned up send log", "deleted", deleted)
		}
	}
}
