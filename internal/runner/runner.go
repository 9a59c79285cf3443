package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kenxsak/omniflow-buisness-sub009/internal/batch"
	"github.com/kenxsak/omniflow-buisness-sub009/internal/campaign"
	"github.com/kenxsak/omniflow-buisness-sub009/internal/config"
	"github.com/kenxsak/omniflow-buisness-sub009/internal/metrics"
	"github.com/kenxsak/omniflow-buisness-sub009/internal/store"
)

// JobStore is the store surface one runner pass drives.
type JobStore interface {
	JobsDueForProcessing(ctx context.Context, now time.Time, staleAfter time.Duration) ([]*campaign.Job, error)
	ClaimJob(ctx context.Context, id string, now time.Time, staleAfter time.Duration) (*campaign.Job, error)
	UpdateStatus(ctx context.Context, id string, status campaign.Status, extra store.StatusExtra) error
}

// Processor delivers one claimed job batch by batch.
type Processor interface {
	ProcessJob(ctx context.Context, job *campaign.Job) (*batch.Result, error)
}

// Summary aggregates one runner pass.
type Summary struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Retried   int `json:"retried"`
}

// Runner executes stateless processing passes over due jobs. Every pass is
// self-contained: an external cron triggers it over HTTP, or the built-in
// poll loop does when one is configured.
type Runner struct {
	store     JobStore
	processor Processor
	runnerCfg config.RunnerConfig
	retryCfg  config.RetryConfig
	metrics   *metrics.Metrics
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a runner. metrics may be nil.
func New(st JobStore, processor Processor, runnerCfg config.RunnerConfig, retryCfg config.RetryConfig, m *metrics.Metrics, logger *slog.Logger) *Runner {
	ctx, cancel := context.WithCancel(context.Background())

	return &Runner{
		store:     st,
		processor: processor,
		runnerCfg: runnerCfg,
		retryCfg:  retryCfg,
		metrics:   m,
		logger:    logger.With("component", "runner"),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// RunAll executes one pass: list due jobs, claim each, process, settle the
// outcome. Per-job failures never abort the pass; an error comes back only
// when the due list itself could not be read.
func (r *Runner) RunAll(ctx context.Context) (*Summary, error) {
	began := time.Now()
	now := began.UTC()

	due, err := r.store.JobsDueForProcessing(ctx, now, r.runnerCfg.StaleAfter)
	if err != nil {
		return nil, fmt.Errorf("failed to list due jobs: %w", err)
	}

	summary := &Summary{}
	if len(due) == 0 {
		r.metrics.ObservePass(time.Since(began))
		return summary, nil
	}

	r.logger.Info("runner pass started", "due", len(due))

	concurrency := r.runnerCfg.MaxConcurrent
	if concurrency < 1 {
		concurrency = 1
	}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, concurrency)
	)

	for _, job := range due {
		if ctx.Err() != nil {
			break
		}

		sem <- struct{}{}
		wg.Add(1)

		go func(id string) {
			defer func() {
				<-sem
				wg.Done()
			}()

			claimed, outcome := r.runJob(ctx, id)
			if !claimed {
				return
			}

			mu.Lock()
			summary.Processed++
			switch outcome {
			case campaign.StatusCompleted:
				summary.Succeeded++
			case campaign.StatusRetrying:
				summary.Retried++
			case campaign.StatusFailed:
				summary.Failed++
			}
			mu.Unlock()
		}(job.ID)
	}

	wg.Wait()

	took := time.Since(began)
	r.metrics.ObservePass(took)
	r.logger.Info("runner pass finished",
		"processed", summary.Processed,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"retried", summary.Retried,
		"duration", took,
	)

	return summary, nil
}

// runJob claims one job and runs it to an outcome. A lost claim race is not
// an error; the job simply belongs to another pass.
func (r *Runner) runJob(ctx context.Context, id string) (claimed bool, outcome campaign.Status) {
	now := time.Now().UTC()

	job, err := r.store.ClaimJob(ctx, id, now, r.runnerCfg.StaleAfter)
	if err != nil {
		if errors.Is(err, store.ErrNotClaimable) || errors.Is(err, store.ErrNotFound) {
			return false, ""
		}
		r.logger.Error("failed to claim job", "job_id", id, "error", err)
		return false, ""
	}

	r.metrics.JobStarted()
	defer r.metrics.JobFinished()

	logger := r.logger.With(
		"job_id", job.ID,
		"company_id", job.CompanyID,
		"job_type", job.JobType,
	)

	jobCtx := ctx
	if r.runnerCfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, r.runnerCfg.JobTimeout)
		defer cancel()
	}

	result, procErr := r.processor.ProcessJob(jobCtx, job)
	if result == nil {
		result = &batch.Result{}
	}

	return true, r.settle(ctx, logger, job, result, procErr)
}

// settle writes the pass outcome. An aborted or timed-out pass counts as a
// failed attempt; the retry policy decides between another attempt and the
// terminal failed state.
func (r *Runner) settle(ctx context.Context, logger *slog.Logger, job *campaign.Job, result *batch.Result, procErr error) campaign.Status {
	now := time.Now().UTC()

	if procErr == nil && result.Failed == 0 {
		extra := store.StatusExtra{CompletedAt: &now}
		if err := r.store.UpdateStatus(ctx, job.ID, campaign.StatusCompleted, extra); err != nil {
			logger.Error("failed to record completion", "error", err)
			return ""
		}
		r.metrics.JobProcessed(string(campaign.StatusCompleted))
		logger.Info("job completed",
			"status", campaign.StatusCompleted,
			"sent", result.Sent,
			"attempts", job.Retry.Attempts,
		)
		return campaign.StatusCompleted
	}

	reason := fmt.Sprintf("%d of %d recipients failed", result.Failed, job.Progress.Total)
	if procErr != nil {
		reason = procErr.Error()
	}

	retry := job.Retry
	retry.Attempts++
	attemptAt := now
	retry.LastAttemptAt = &attemptAt

	if retry.Attempts >= retry.MaxAttempts {
		retry.NextRetryAt = nil
		extra := store.StatusExtra{
			Error:            reason,
			FailedRecipients: result.FailedRecipients,
			Retry:            &retry,
			CompletedAt:      &now,
		}
		if err := r.store.UpdateStatus(ctx, job.ID, campaign.StatusFailed, extra); err != nil {
			logger.Error("failed to record terminal failure", "error", err)
			return ""
		}
		r.metrics.JobProcessed(string(campaign.StatusFailed))
		logger.Warn("job failed permanently",
			"status", campaign.StatusFailed,
			"sent", result.Sent,
			"failed", result.Failed,
			"attempts", retry.Attempts,
			"error", reason,
		)
		return campaign.StatusFailed
	}

	delay := backoff(r.retryCfg.InitialBackoff, r.retryCfg.MaxBackoff, retry.Attempts)
	next := now.Add(delay)
	retry.NextRetryAt = &next
	retry.BackoffMs = delay.Milliseconds()

	extra := store.StatusExtra{
		Error:            reason,
		FailedRecipients: result.FailedRecipients,
		Retry:            &retry,
	}
	if err := r.store.UpdateStatus(ctx, job.ID, campaign.StatusRetrying, extra); err != nil {
		logger.Error("failed to record retry", "error", err)
		return ""
	}
	r.metrics.JobProcessed(string(campaign.StatusRetrying))
	logger.Warn("job scheduled for retry",
		"status", campaign.StatusRetrying,
		"sent", result.Sent,
		"failed", result.Failed,
		"attempts", retry.Attempts,
		"next_retry_in", delay,
		"error", reason,
	)
	return campaign.StatusRetrying
}

// backoff returns the capped exponential retry delay after the given number
// of failed attempts: the floor after the first, doubling each attempt after
// that, never above the ceiling.
func backoff(initial, ceiling time.Duration, attempt int) time.Duration {
	if initial <= 0 {
		initial = campaign.DefaultInitialBackoff
	}
	if ceiling <= 0 {
		ceiling = time.Hour
	}

	d := initial
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= ceiling {
			return ceiling
		}
	}
	if d > ceiling {
		return ceiling
	}
	return d
}

// Start launches the built-in poll loop. Installations driven purely by the
// HTTP trigger leave PollInterval at zero and never start one.
func (r *Runner) Start() {
	if r.runnerCfg.PollInterval <= 0 {
		return
	}

	r.wg.Add(1)
	go r.run()
	r.logger.Info("runner poll loop started", "interval", r.runnerCfg.PollInterval)
}

// Stop stops the poll loop and waits for an in-flight pass
func (r *Runner) Stop() {
	r.cancel()
	r.wg.Wait()
}

func (r *Runner) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.runnerCfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.RunAll(r.ctx); err != nil {
				r.logger.Error("runner pass failed", "error", err)
			}
		}
	}
}
