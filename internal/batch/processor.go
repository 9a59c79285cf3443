package batch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kenxsak/omniflow-buisness-sub009/internal/campaign"
	"github.com/kenxsak/omniflow-buisness-sub009/internal/metrics"
	"github.com/kenxsak/omniflow-buisness-sub009/internal/provider"
)

// ProgressStore persists batch progress between batches.
type ProgressStore interface {
	UpdateProgress(ctx context.Context, id string, p campaign.Progress) error
}

// Planner resolves batch size and inter-batch delay per channel/provider.
type Planner interface {
	BatchPlan(t campaign.Type, provider string) (size int, delay time.Duration)
}

// Result aggregates one processing pass over a job's recipients.
type Result struct {
	Sent             int
	Failed           int
	FailedRecipients []campaign.FailedRecipient
}

// Processor walks a claimed job through its recipient batches: send, record,
// persist, wait, next.
type Processor struct {
	store    ProgressStore
	registry *provider.Registry
	plans    Planner
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewProcessor creates a batch processor. metrics may be nil.
func NewProcessor(store ProgressStore, registry *provider.Registry, plans Planner, m *metrics.Metrics, logger *slog.Logger) *Processor {
	return &Processor{
		store:    store,
		registry: registry,
		plans:    plans,
		metrics:  m,
		logger:   logger.With("component", "batch"),
	}
}

// ProcessJob delivers the job's recipients batch by batch. Progress is
// persisted after every batch, so an interrupted pass resumes at the batch
// it stopped before; only the in-flight batch can be lost. Counters already
// on the job seed the result, which makes resumed passes additive.
//
// A transport-level batch failure marks the whole batch failed and moves on
// to the next batch. Only persistence failures and context cancellation
// abort the pass.
func (p *Processor) ProcessJob(ctx context.Context, job *campaign.Job) (*Result, error) {
	adapter, err := p.registry.ForJob(job)
	if err != nil {
		return nil, err
	}

	size, delay := p.plans.BatchPlan(job.JobType, job.Provider())
	if size < 1 {
		return nil, fmt.Errorf("invalid batch size %d for %s", size, job.JobType)
	}

	total := len(job.Recipients)
	totalBatches := (total + size - 1) / size

	result := &Result{
		Sent:             job.Progress.Sent,
		Failed:           job.Progress.Failed,
		FailedRecipients: append([]campaign.FailedRecipient(nil), job.FailedRecipients...),
	}

	start := job.Progress.CurrentBatch
	if start > 0 {
		p.logger.Info("resuming job",
			"job_id", job.ID,
			"batch", start+1,
			"total_batches", totalBatches,
		)
	}

	for i := start; i < totalBatches; i++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		lo := i * size
		hi := min(lo+size, total)
		batch := job.Recipients[lo:hi]

		began := time.Now()
		br, err := adapter.SendBatch(ctx, job, batch)
		if err != nil {
			p.logger.Warn("batch delivery failed",
				"job_id", job.ID,
				"provider", adapter.Name(),
				"batch", i+1,
				"recipients", len(batch),
				"error", err,
			)
			br = failedBatch(job.JobType, batch, err)
		}
		p.metrics.ObserveBatch(string(job.JobType), time.Since(began))

		p.applyBatch(result, job, batch, br)

		job.Progress.Sent = result.Sent
		job.Progress.Failed = result.Failed
		job.Progress.CurrentBatch = i + 1
		job.Progress.TotalBatches = totalBatches

		// Durable before the next batch starts
		if err := p.store.UpdateProgress(ctx, job.ID, job.Progress); err != nil {
			return result, fmt.Errorf("failed to persist progress: %w", err)
		}

		p.logger.Debug("batch done",
			"job_id", job.ID,
			"batch", i+1,
			"total_batches", totalBatches,
			"sent", result.Sent,
			"failed", result.Failed,
		)

		// Rate-limit pause between batches, never after the last one
		if i+1 < totalBatches && delay > 0 {
			select {
			case <-ctx.Done():
				return result, ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return result, nil
}

// applyBatch folds adapter results into the running result, in recipient
// order. A recipient the adapter did not report on counts as failed.
func (p *Processor) applyBatch(result *Result, job *campaign.Job, batch []campaign.Recipient, br *provider.BatchResult) {
	byKey := make(map[string][]provider.RecipientResult, len(br.Results))
	for _, r := range br.Results {
		byKey[r.RecipientKey] = append(byKey[r.RecipientKey], r)
	}

	channel := string(job.JobType)
	prov := job.Provider()

	for _, rcpt := range batch {
		key := rcpt.Key(job.JobType)

		rs := byKey[key]
		if len(rs) == 0 {
			result.Failed++
			result.FailedRecipients = append(result.FailedRecipients, campaign.FailedRecipient{
				Recipient: rcpt,
				Error:     "no result returned by provider",
			})
			p.metrics.AddRecipients(channel, prov, "failed", 1)
			continue
		}
		byKey[key] = rs[1:]

		r := rs[0]
		if r.Success {
			result.Sent++
			p.metrics.AddRecipients(channel, prov, "sent", 1)
			continue
		}
		result.Failed++
		result.FailedRecipients = append(result.FailedRecipients, campaign.FailedRecipient{
			Recipient: rcpt,
			Error:     r.Error,
		})
		p.metrics.AddRecipients(channel, prov, "failed", 1)
	}
}

// failedBatch builds the all-failed result used when transport took down
// the whole batch.
func failedBatch(t campaign.Type, batch []campaign.Recipient, err error) *provider.BatchResult {
	br := &provider.BatchResult{}
	for _, rcpt := range batch {
		br.Add(provider.RecipientResult{
			RecipientKey: rcpt.Key(t),
			Error:        err.Error(),
		})
	}
	return br
}
