package metrics

import (
	"context"
	"os"
	"runtime"
	"sync"
	"time"
)

// JobStats contains per-status job counts for gauge updates
type JobStats struct {
	Pending    int64
	Processing int64
	Retrying   int64
	Completed  int64
	Failed     int64
	Total      int64
}

// JobStatsProvider provides job store statistics for metrics
type JobStatsProvider interface {
	Stats(ctx context.Context) (*JobStats, error)
}

// Collector periodically refreshes the system and job store gauges
type Collector struct {
	metrics     *Metrics
	jobStats    JobStatsProvider
	storagePath string
	interval    time.Duration
	startTime   time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewCollector creates a new metrics collector
func NewCollector(m *Metrics, jobStats JobStatsProvider, storagePath string, interval time.Duration) *Collector {
	if interval == 0 {
		interval = 15 * time.Second
	}

	return &Collector{
		metrics:     m,
		jobStats:    jobStats,
		storagePath: storagePath,
		interval:    interval,
		startTime:   time.Now(),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the collector background task
func (c *Collector) Start(ctx context.Context) {
	c.wg.Add(1)
	go c.run(ctx)
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
	c.wg.Wait()
}

func (c *Collector) run(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.collect(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.collect(ctx)
		}
	}
}

// collect refreshes all gauges from current system state
func (c *Collector) collect(ctx context.Context) {
	c.metrics.UptimeSeconds.Set(time.Since(c.startTime).Seconds())
	c.metrics.Goroutines.Set(float64(runtime.NumGoroutine()))

	if c.storagePath != "" {
		if info, err := os.Stat(c.storagePath); err == nil {
			c.metrics.StorageUsedBytes.Set(float64(info.Size()))
		}
	}

	if c.jobStats != nil {
		stats, err := c.jobStats.Stats(ctx)
		if err == nil {
			c.metrics.JobsByStatus.WithLabelValues("pending").Set(float64(stats.Pending))
			c.metrics.JobsByStatus.WithLabelValues("processing").Set(float64(stats.Processing))
			c.metrics.JobsByStatus.WithLabelValues("retrying").Set(float64(stats.Retrying))
			c.metrics.JobsByStatus.WithLabelValues("completed").Set(float64(stats.Completed))
			c.metrics.JobsByStatus.WithLabelValues("failed").Set(float64(stats.Failed))
		}
	}
}
