package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/kenxsak/omniflow-buisness-sub009/internal/campaign"
	"github.com/kenxsak/omniflow-buisness-sub009/internal/provider"
)

type mockStore struct {
	updates []campaign.Progress
	failAt  int // fail the n-th update, 0 = never
}

func (m *mockStore) UpdateProgress(ctx context.Context, id string, p campaign.Progress) error {
	if m.failAt > 0 && len(m.updates)+1 == m.failAt {
		return errors.New("store closed")
	}
	m.updates = append(m.updates, p)
	return nil
}

type fixedPlan struct {
	size  int
	delay time.Duration
}

func (p fixedPlan) BatchPlan(t campaign.Type, provider string) (int, time.Duration) {
	return p.size, p.delay
}

// scriptedAdapter records every batch it receives and answers via send,
// defaulting to all-success.
type scriptedAdapter struct {
	name    string
	channel campaign.Type
	batches [][]campaign.Recipient
	send    func(call int, job *campaign.Job, batch []campaign.Recipient) (*provider.BatchResult, error)
}

func (a *scriptedAdapter) Name() string           { return a.name }
func (a *scriptedAdapter) Channel() campaign.Type { return a.channel }

func (a *scriptedAdapter) SendBatch(ctx context.Context, job *campaign.Job, batch []campaign.Recipient) (*provider.BatchResult, error) {
	call := len(a.batches)
	a.batches = append(a.batches, batch)
	if a.send != nil {
		return a.send(call, job, batch)
	}
	return allSent(job.JobType, batch), nil
}

func allSent(t campaign.Type, batch []campaign.Recipient) *provider.BatchResult {
	br := &provider.BatchResult{}
	for _, rcpt := range batch {
		br.Add(provider.RecipientResult{RecipientKey: rcpt.Key(t), Success: true, MessageID: "m-" + rcpt.Phone})
	}
	return br
}

func newTestProcessor(t *testing.T, store ProgressStore, adapter provider.Adapter, plan Planner) *Processor {
	t.Helper()
	reg := provider.NewRegistry()
	reg.Register(adapter)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewProcessor(store, reg, plan, nil, logger)
}

func smsJob(t *testing.T, n int) *campaign.Job {
	t.Helper()
	recipients := make([]campaign.Recipient, n)
	for i := range recipients {
		recipients[i] = campaign.Recipient{
			Phone: fmt.Sprintf("98%08d", i),
			Name:  fmt.Sprintf("User %d", i),
		}
	}
	job, err := campaign.New(campaign.CreateParams{
		CompanyID: "comp-1",
		JobType:   campaign.TypeSMS,
		SMSData: &campaign.SMSData{
			Provider: "msg91",
			Message:  "Sale ends tonight",
			SenderID: "ACMESM",
		},
		Recipients: recipients,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return job
}

func TestProcessJobChunking(t *testing.T) {
	store := &mockStore{}
	adapter := &scriptedAdapter{name: "msg91", channel: campaign.TypeSMS}
	p := newTestProcessor(t, store, adapter, fixedPlan{size: 100})

	job := smsJob(t, 250)
	result, err := p.ProcessJob(context.Background(), job)
	if err != nil {
		t.Fatalf("ProcessJob() error = %v", err)
	}

	if len(adapter.batches) != 3 {
		t.Fatalf("expected 3 batches, got %d", len(adapter.batches))
	}
	for i, want := range []int{100, 100, 50} {
		if len(adapter.batches[i]) != want {
			t.Errorf("batch %d size = %d, want %d", i+1, len(adapter.batches[i]), want)
		}
	}

	if result.Sent != 250 || result.Failed != 0 {
		t.Errorf("result = %d sent / %d failed, want 250/0", result.Sent, result.Failed)
	}

	// One durable progress write per batch
	if len(store.updates) != 3 {
		t.Fatalf("expected 3 progress updates, got %d", len(store.updates))
	}
	for i, p := range store.updates {
		if p.CurrentBatch != i+1 {
			t.Errorf("update %d currentBatch = %d, want %d", i, p.CurrentBatch, i+1)
		}
		if p.TotalBatches != 3 {
			t.Errorf("update %d totalBatches = %d, want 3", i, p.TotalBatches)
		}
		if p.Total != 250 {
			t.Errorf("update %d total = %d, want 250", i, p.Total)
		}
	}
	if last := store.updates[2]; last.Sent != 250 || last.Failed != 0 {
		t.Errorf("final progress = %d sent / %d failed, want 250/0", last.Sent, last.Failed)
	}
}

func TestProcessJobDelayBetweenBatches(t *testing.T) {
	store := &mockStore{}
	adapter := &scriptedAdapter{name: "msg91", channel: campaign.TypeSMS}
	p := newTestProcessor(t, store, adapter, fixedPlan{size: 2, delay: 50 * time.Millisecond})

	job := smsJob(t, 4)
	started := time.Now()
	if _, err := p.ProcessJob(context.Background(), job); err != nil {
		t.Fatalf("ProcessJob() error = %v", err)
	}

	// One pause between the two batches
	if elapsed := time.Since(started); elapsed < 50*time.Millisecond {
		t.Errorf("expected at least 50ms of inter-batch delay, took %v", elapsed)
	}
}

func TestProcessJobNoDelayAfterLastBatch(t *testing.T) {
	store := &mockStore{}
	adapter := &scriptedAdapter{name: "msg91", channel: campaign.TypeSMS}
	p := newTestProcessor(t, store, adapter, fixedPlan{size: 10, delay: 300 * time.Millisecond})

	job := smsJob(t, 4)
	started := time.Now()
	if _, err := p.ProcessJob(context.Background(), job); err != nil {
		t.Fatalf("ProcessJob() error = %v", err)
	}

	if elapsed := time.Since(started); elapsed > 150*time.Millisecond {
		t.Errorf("single batch should not wait out the delay, took %v", elapsed)
	}
}

func TestProcessJobBatchFailureContinues(t *testing.T) {
	store := &mockStore{}
	adapter := &scriptedAdapter{
		name:    "msg91",
		channel: campaign.TypeSMS,
		send: func(call int, job *campaign.Job, batch []campaign.Recipient) (*provider.BatchResult, error) {
			if call == 0 {
				return nil, errors.New("gateway timeout")
			}
			return allSent(job.JobType, batch), nil
		},
	}
	p := newTestProcessor(t, store, adapter, fixedPlan{size: 2})

	job := smsJob(t, 4)
	result, err := p.ProcessJob(context.Background(), job)
	if err != nil {
		t.Fatalf("ProcessJob() error = %v", err)
	}

	if len(adapter.batches) != 2 {
		t.Fatalf("expected both batches attempted, got %d", len(adapter.batches))
	}
	if result.Sent != 2 || result.Failed != 2 {
		t.Errorf("result = %d sent / %d failed, want 2/2", result.Sent, result.Failed)
	}
	if len(result.FailedRecipients) != 2 {
		t.Fatalf("expected 2 failed recipients, got %d", len(result.FailedRecipients))
	}
	for _, fr := range result.FailedRecipients {
		if !strings.Contains(fr.Error, "gateway timeout") {
			t.Errorf("failed recipient error = %q, want gateway timeout", fr.Error)
		}
	}
	if store.updates[0].Failed != 2 {
		t.Errorf("first update failed = %d, want 2", store.updates[0].Failed)
	}
}

func TestProcessJobMissingResultCountsFailed(t *testing.T) {
	store := &mockStore{}
	adapter := &scriptedAdapter{
		name:    "msg91",
		channel: campaign.TypeSMS,
		send: func(call int, job *campaign.Job, batch []campaign.Recipient) (*provider.BatchResult, error) {
			// Report on the first recipient only
			br := &provider.BatchResult{}
			br.Add(provider.RecipientResult{RecipientKey: batch[0].Key(job.JobType), Success: true})
			return br, nil
		},
	}
	p := newTestProcessor(t, store, adapter, fixedPlan{size: 2})

	job := smsJob(t, 2)
	result, err := p.ProcessJob(context.Background(), job)
	if err != nil {
		t.Fatalf("ProcessJob() error = %v", err)
	}

	if result.Sent != 1 || result.Failed != 1 {
		t.Errorf("result = %d sent / %d failed, want 1/1", result.Sent, result.Failed)
	}
	if len(result.FailedRecipients) != 1 {
		t.Fatalf("expected 1 failed recipient, got %d", len(result.FailedRecipients))
	}
	if result.FailedRecipients[0].Error != "no result returned by provider" {
		t.Errorf("failed recipient error = %q", result.FailedRecipients[0].Error)
	}
}

func TestProcessJobDuplicateRecipients(t *testing.T) {
	store := &mockStore{}
	adapter := &scriptedAdapter{
		name:    "msg91",
		channel: campaign.TypeSMS,
		send: func(call int, job *campaign.Job, batch []campaign.Recipient) (*provider.BatchResult, error) {
			// One result for a key two recipients share
			br := &provider.BatchResult{}
			br.Add(provider.RecipientResult{RecipientKey: batch[0].Key(job.JobType), Success: true})
			return br, nil
		},
	}
	p := newTestProcessor(t, store, adapter, fixedPlan{size: 10})

	job := smsJob(t, 1)
	job.Recipients = append(job.Recipients, job.Recipients[0])
	job.Progress.Total = 2

	result, err := p.ProcessJob(context.Background(), job)
	if err != nil {
		t.Fatalf("ProcessJob() error = %v", err)
	}

	// First occurrence takes the result, the duplicate counts as unreported
	if result.Sent != 1 || result.Failed != 1 {
		t.Errorf("result = %d sent / %d failed, want 1/1", result.Sent, result.Failed)
	}
}

func TestProcessJobResume(t *testing.T) {
	store := &mockStore{}
	adapter := &scriptedAdapter{name: "msg91", channel: campaign.TypeSMS}
	p := newTestProcessor(t, store, adapter, fixedPlan{size: 2})

	job := smsJob(t, 5)
	// First batch already delivered by an interrupted pass
	job.Progress.Sent = 2
	job.Progress.CurrentBatch = 1
	job.Progress.TotalBatches = 3

	result, err := p.ProcessJob(context.Background(), job)
	if err != nil {
		t.Fatalf("ProcessJob() error = %v", err)
	}

	if len(adapter.batches) != 2 {
		t.Fatalf("expected 2 remaining batches, got %d", len(adapter.batches))
	}
	if len(adapter.batches[0]) != 2 || len(adapter.batches[1]) != 1 {
		t.Errorf("batch sizes = %d/%d, want 2/1", len(adapter.batches[0]), len(adapter.batches[1]))
	}
	if got := adapter.batches[0][0].Phone; got != job.Recipients[2].Phone {
		t.Errorf("resume started at %s, want %s", got, job.Recipients[2].Phone)
	}

	// Counters are additive across passes
	if result.Sent != 5 || result.Failed != 0 {
		t.Errorf("result = %d sent / %d failed, want 5/0", result.Sent, result.Failed)
	}
	if last := store.updates[len(store.updates)-1]; last.CurrentBatch != 3 || last.Sent != 5 {
		t.Errorf("final progress = batch %d / %d sent, want 3/5", last.CurrentBatch, last.Sent)
	}
}

func TestProcessJobPersistFailureAborts(t *testing.T) {
	store := &mockStore{failAt: 1}
	adapter := &scriptedAdapter{name: "msg91", channel: campaign.TypeSMS}
	p := newTestProcessor(t, store, adapter, fixedPlan{size: 2})

	job := smsJob(t, 4)
	_, err := p.ProcessJob(context.Background(), job)
	if err == nil {
		t.Fatal("ProcessJob() expected error")
	}
	if !strings.Contains(err.Error(), "failed to persist progress") {
		t.Errorf("error = %v, want persist failure", err)
	}
	if len(adapter.batches) != 1 {
		t.Errorf("expected no further batches after persist failure, got %d", len(adapter.batches))
	}
}

func TestProcessJobContextCanceled(t *testing.T) {
	store := &mockStore{}
	adapter := &scriptedAdapter{name: "msg91", channel: campaign.TypeSMS}
	p := newTestProcessor(t, store, adapter, fixedPlan{size: 2})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	job := smsJob(t, 4)
	_, err := p.ProcessJob(ctx, job)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("ProcessJob() error = %v, want context.Canceled", err)
	}
	if len(adapter.batches) != 0 {
		t.Errorf("expected no batches on canceled context, got %d", len(adapter.batches))
	}
}

func TestProcessJobUnknownProvider(t *testing.T) {
	store := &mockStore{}
	adapter := &scriptedAdapter{name: "msg91", channel: campaign.TypeSMS}
	p := newTestProcessor(t, store, adapter, fixedPlan{size: 2})

	job := smsJob(t, 2)
	job.SMSData.Provider = "fast2sms"

	if _, err := p.ProcessJob(context.Background(), job); !errors.Is(err, provider.ErrUnknownProvider) {
		t.Fatalf("ProcessJob() error = %v, want ErrUnknownProvider", err)
	}
}

func TestProcessJobInvalidBatchSize(t *testing.T) {
	store := &mockStore{}
	adapter := &scriptedAdapter{name: "msg91", channel: campaign.TypeSMS}
	p := newTestProcessor(t, store, adapter, fixedPlan{size: 0})

	job := smsJob(t, 2)
	_, err := p.ProcessJob(context.Background(), job)
	if err == nil || !strings.Contains(err.Error(), "invalid batch size") {
		t.Fatalf("ProcessJob() error = %v, want invalid batch size", err)
	}
}
