package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/kenxsak/omniflow-buisness-sub009/internal/campaign"
)

func newTestStore(t *testing.T) *JobStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestJob(t *testing.T, companyID string, recipients int) *campaign.Job {
	t.Helper()
	rs := make([]campaign.Recipient, recipients)
	for i := range rs {
		rs[i] = campaign.Recipient{Phone: fmt.Sprintf("+1555%07d", i), Name: "r"}
	}
	j, err := campaign.New(campaign.CreateParams{
		CompanyID:    companyID,
		CreatedBy:    "tester",
		JobType:      campaign.TypeWhatsApp,
		WhatsAppData: &campaign.WhatsAppData{Provider: "aisensy", TemplateName: "promo"},
		Recipients:   rs,
	})
	if err != nil {
		t.Fatalf("campaign.New() error = %v", err)
	}
	return j
}

func TestCreateAndGetJob(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	j := newTestJob(t, "acme", 3)
	j.Recipients[0].CustomFields = map[string]string{"plan": "gold"}

	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if got.ID != j.ID || got.CompanyID != "acme" || got.CreatedBy != "tester" {
		t.Errorf("identity fields did not round-trip: %+v", got)
	}
	if got.JobType != campaign.TypeWhatsApp {
		t.Errorf("JobType = %v, want whatsapp", got.JobType)
	}
	if got.WhatsAppData == nil || got.WhatsAppData.Provider != "aisensy" {
		t.Errorf("WhatsAppData did not round-trip: %+v", got.WhatsAppData)
	}
	if got.EmailData != nil || got.SMSData != nil {
		t.Error("unset payloads must stay nil")
	}
	if len(got.Recipients) != 3 {
		t.Fatalf("len(Recipients) = %d, want 3", len(got.Recipients))
	}
	if got.Recipients[0].CustomFields["plan"] != "gold" {
		t.Errorf("CustomFields did not round-trip: %+v", got.Recipients[0])
	}
	if got.Progress.Total != 3 || got.Progress.Sent != 0 {
		t.Errorf("Progress = %+v, want total 3, sent 0", got.Progress)
	}
	if got.Retry.MaxAttempts != campaign.DefaultMaxAttempts || got.Retry.Attempts != 0 {
		t.Errorf("Retry = %+v", got.Retry)
	}
	if got.Status != campaign.StatusPending {
		t.Errorf("Status = %v, want pending", got.Status)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Error("timestamps must be set")
	}
	if got.StartedAt != nil || got.CompletedAt != nil {
		t.Error("StartedAt/CompletedAt must be nil before processing")
	}

	if _, err := s.GetJob(ctx, "nonexistent"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetJob(nonexistent) error = %v, want ErrNotFound", err)
	}
}

func TestCreateJobRejectsInvalid(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	j := newTestJob(t, "acme", 1)
	j.Recipients = nil
	j.Progress.Total = 0

	if err := s.CreateJob(ctx, j); err == nil {
		t.Fatal("CreateJob() expected validation error")
	}
	if _, err := s.GetJob(ctx, j.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("invalid job must not be persisted, got err %v", err)
	}
}

func TestJobsDueForProcessing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	staleAfter := 30 * time.Minute

	pending := newTestJob(t, "acme", 1)

	retryDue := newTestJob(t, "acme", 1)
	retryFuture := newTestJob(t, "acme", 1)
	completed := newTestJob(t, "acme", 1)
	failed := newTestJob(t, "acme", 1)
	running := newTestJob(t, "acme", 1)
	stale := newTestJob(t, "acme", 1)

	for _, j := range []*campaign.Job{pending, retryDue, retryFuture, completed, failed, running, stale} {
		if err := s.CreateJob(ctx, j); err != nil {
			t.Fatalf("CreateJob() error = %v", err)
		}
	}

	setStatus := func(j *campaign.Job, claimAt time.Time, status campaign.Status, extra StatusExtra) {
		t.Helper()
		if _, err := s.ClaimJob(ctx, j.ID, claimAt, staleAfter); err != nil {
			t.Fatalf("ClaimJob(%s) error = %v", j.ID, err)
		}
		if status == campaign.StatusProcessing {
			return
		}
		if err := s.UpdateStatus(ctx, j.ID, status, extra); err != nil {
			t.Fatalf("UpdateStatus(%s) error = %v", j.ID, err)
		}
	}

	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)
	setStatus(retryDue, now, campaign.StatusRetrying, StatusExtra{
		Retry: &campaign.Retry{Attempts: 1, MaxAttempts: 3, NextRetryAt: &past},
	})
	setStatus(retryFuture, now, campaign.StatusRetrying, StatusExtra{
		Retry: &campaign.Retry{Attempts: 1, MaxAttempts: 3, NextRetryAt: &future},
	})
	completedAt := now
	setStatus(completed, now, campaign.StatusCompleted, StatusExtra{CompletedAt: &completedAt})
	setStatus(failed, now, campaign.StatusFailed, StatusExtra{
		Error:       "exhausted",
		CompletedAt: &completedAt,
	})
	// "running" was claimed just now and stays live; "stale" was claimed
	// two hours ago and never wrote progress again.
	setStatus(running, now, campaign.StatusProcessing, StatusExtra{})
	setStatus(stale, now.Add(-2*time.Hour), campaign.StatusProcessing, StatusExtra{})

	due, err := s.JobsDueForProcessing(ctx, now, staleAfter)
	if err != nil {
		t.Fatalf("JobsDueForProcessing() error = %v", err)
	}

	dueIDs := make(map[string]bool)
	for _, j := range due {
		dueIDs[j.ID] = true
	}

	for _, want := range []*campaign.Job{pending, retryDue, stale} {
		if !dueIDs[want.ID] {
			t.Errorf("expected job %s due", want.ID)
		}
	}
	for _, not := range []*campaign.Job{retryFuture, completed, failed, running} {
		if dueIDs[not.ID] {
			t.Errorf("job %s must not be due", not.ID)
		}
	}
	if len(due) != 3 {
		t.Errorf("len(due) = %d, want 3", len(due))
	}
	if due[0].ID != retryDue.ID {
		t.Errorf("retry-due jobs must come first, got %s", due[0].ID)
	}
}

func TestClaimJob(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	j := newTestJob(t, "acme", 2)
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}

	claimed, err := s.ClaimJob(ctx, j.ID, now, 30*time.Minute)
	if err != nil {
		t.Fatalf("ClaimJob() error = %v", err)
	}
	if claimed.Status != campaign.StatusProcessing {
		t.Errorf("Status = %v, want processing", claimed.Status)
	}
	if claimed.StartedAt == nil {
		t.Error("StartedAt must be set on first claim")
	}

	// Second claim loses
	if _, err := s.ClaimJob(ctx, j.ID, now, 30*time.Minute); !errors.Is(err, ErrNotClaimable) {
		t.Errorf("second ClaimJob() error = %v, want ErrNotClaimable", err)
	}

	if _, err := s.ClaimJob(ctx, "nonexistent", now, 30*time.Minute); !errors.Is(err, ErrNotFound) {
		t.Errorf("ClaimJob(nonexistent) error = %v, want ErrNotFound", err)
	}
}

func TestClaimJobConcurrent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	j := newTestJob(t, "acme", 1)
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}

	const racers = 16
	var wg sync.WaitGroup
	wins := make(chan struct{}, racers)

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.ClaimJob(ctx, j.ID, now, 30*time.Minute); err == nil {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	won := 0
	for range wins {
		won++
	}
	if won != 1 {
		t.Errorf("exactly one racer must win the claim, got %d", won)
	}
}

func TestClaimResetsCountersOnFreshAttempt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	j := newTestJob(t, "acme", 2)
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
	if _, err := s.ClaimJob(ctx, j.ID, now, 30*time.Minute); err != nil {
		t.Fatalf("ClaimJob() error = %v", err)
	}

	past := now.Add(-time.Second)
	err := s.UpdateStatus(ctx, j.ID, campaign.StatusRetrying, StatusExtra{
		Error: "provider down",
		FailedRecipients: []campaign.FailedRecipient{
			{Recipient: j.Recipients[0], Error: "provider down"},
			{Recipient: j.Recipients[1], Error: "provider down"},
		},
		Retry: &campaign.Retry{Attempts: 1, MaxAttempts: 3, NextRetryAt: &past, BackoffMs: 300000},
	})
	if err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}
	if err := s.UpdateProgress(ctx, j.ID, campaign.Progress{Total: 2, Failed: 2, CurrentBatch: 1, TotalBatches: 1}); err != nil {
		t.Fatalf("UpdateProgress() error = %v", err)
	}

	claimed, err := s.ClaimJob(ctx, j.ID, now, 30*time.Minute)
	if err != nil {
		t.Fatalf("ClaimJob() error = %v", err)
	}
	if claimed.Progress.Sent != 0 || claimed.Progress.Failed != 0 || claimed.Progress.CurrentBatch != 0 {
		t.Errorf("fresh attempt must reset counters, got %+v", claimed.Progress)
	}
	if claimed.FailedRecipients != nil || claimed.Error != "" {
		t.Error("fresh attempt must clear failed recipients and error")
	}
	if claimed.Retry.Attempts != 1 {
		t.Errorf("fresh attempt must keep attempts, got %d", claimed.Retry.Attempts)
	}
}

func TestClaimStaleProcessingResumes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	staleAfter := 30 * time.Minute

	j := newTestJob(t, "acme", 4)
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
	if _, err := s.ClaimJob(ctx, j.ID, now, staleAfter); err != nil {
		t.Fatalf("ClaimJob() error = %v", err)
	}
	// Two of four batches done before the pass died
	if err := s.UpdateProgress(ctx, j.ID, campaign.Progress{Total: 4, Sent: 2, CurrentBatch: 2, TotalBatches: 4}); err != nil {
		t.Fatalf("UpdateProgress() error = %v", err)
	}

	// Not yet stale
	if _, err := s.ClaimJob(ctx, j.ID, now.Add(time.Minute), staleAfter); !errors.Is(err, ErrNotClaimable) {
		t.Fatalf("live processing job must not be claimable, got %v", err)
	}

	claimed, err := s.ClaimJob(ctx, j.ID, now.Add(2*time.Hour), staleAfter)
	if err != nil {
		t.Fatalf("ClaimJob(stale) error = %v", err)
	}
	if claimed.Progress.Sent != 2 || claimed.Progress.CurrentBatch != 2 {
		t.Errorf("stale re-claim must keep progress, got %+v", claimed.Progress)
	}
}

func TestUpdateProgressLeavesRecipientsAndRetry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	j := newTestJob(t, "acme", 3)
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}

	before, _ := s.GetJob(ctx, j.ID)

	p := campaign.Progress{Total: 3, Sent: 2, Failed: 1, CurrentBatch: 1, TotalBatches: 1}
	if err := s.UpdateProgress(ctx, j.ID, p); err != nil {
		t.Fatalf("UpdateProgress() error = %v", err)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if got.Progress != p {
		t.Errorf("Progress = %+v, want %+v", got.Progress, p)
	}
	if len(got.Recipients) != len(before.Recipients) {
		t.Error("UpdateProgress must not touch recipients")
	}
	if got.Retry != before.Retry {
		t.Errorf("UpdateProgress must not touch retry state: %+v", got.Retry)
	}
	if !got.UpdatedAt.After(before.UpdatedAt) {
		t.Error("UpdatedAt must advance")
	}
}

func TestUpdateStatusTerminalGuard(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	j := newTestJob(t, "acme", 1)
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
	if _, err := s.ClaimJob(ctx, j.ID, now, 30*time.Minute); err != nil {
		t.Fatalf("ClaimJob() error = %v", err)
	}
	completedAt := now
	if err := s.UpdateStatus(ctx, j.ID, campaign.StatusCompleted, StatusExtra{CompletedAt: &completedAt}); err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}

	err := s.UpdateStatus(ctx, j.ID, campaign.StatusRetrying, StatusExtra{})
	if !errors.Is(err, ErrTerminal) {
		t.Errorf("UpdateStatus on terminal job error = %v, want ErrTerminal", err)
	}
}

func TestResetRetryTimer(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	j := newTestJob(t, "acme", 1)
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}

	// Pending jobs have no timer to reset
	if err := s.ResetRetryTimer(ctx, j.ID, now); !errors.Is(err, ErrNotRetrying) {
		t.Errorf("ResetRetryTimer(pending) error = %v, want ErrNotRetrying", err)
	}

	if _, err := s.ClaimJob(ctx, j.ID, now, 30*time.Minute); err != nil {
		t.Fatalf("ClaimJob() error = %v", err)
	}
	future := now.Add(time.Hour)
	err := s.UpdateStatus(ctx, j.ID, campaign.StatusRetrying, StatusExtra{
		Error: "boom",
		Retry: &campaign.Retry{Attempts: 2, MaxAttempts: 3, NextRetryAt: &future, BackoffMs: 600000},
	})
	if err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}

	// Not due yet
	due, err := s.JobsDueForProcessing(ctx, now, 30*time.Minute)
	if err != nil {
		t.Fatalf("JobsDueForProcessing() error = %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("job must not be due before reset, got %d", len(due))
	}

	if err := s.ResetRetryTimer(ctx, j.ID, now); err != nil {
		t.Fatalf("ResetRetryTimer() error = %v", err)
	}

	got, _ := s.GetJob(ctx, j.ID)
	if got.Retry.NextRetryAt == nil || got.Retry.NextRetryAt.After(now) {
		t.Errorf("NextRetryAt = %v, want <= now", got.Retry.NextRetryAt)
	}
	if got.Retry.Attempts != 2 {
		t.Errorf("Attempts = %d, reset must not change attempts", got.Retry.Attempts)
	}

	due, err = s.JobsDueForProcessing(ctx, now, 30*time.Minute)
	if err != nil {
		t.Fatalf("JobsDueForProcessing() error = %v", err)
	}
	if len(due) != 1 || due[0].ID != j.ID {
		t.Errorf("job must be due after reset, got %d", len(due))
	}

	// Terminal failed jobs stay dead
	if err := s.UpdateStatus(ctx, j.ID, campaign.StatusFailed, StatusExtra{Error: "exhausted"}); err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}
	if err := s.ResetRetryTimer(ctx, j.ID, now); !errors.Is(err, ErrNotRetrying) {
		t.Errorf("ResetRetryTimer(failed) error = %v, want ErrNotRetrying", err)
	}
}

func TestJobsForCompany(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	mk := func(company string, offset time.Duration) *campaign.Job {
		t.Helper()
		j := newTestJob(t, company, 1)
		j.CreatedAt = base.Add(offset)
		j.UpdatedAt = j.CreatedAt
		if err := s.CreateJob(ctx, j); err != nil {
			t.Fatalf("CreateJob() error = %v", err)
		}
		return j
	}

	oldest := mk("acme", 0)
	_ = mk("globex", 10*time.Minute)
	newest := mk("acme", 20*time.Minute)

	jobs, err := s.JobsForCompany(ctx, "acme")
	if err != nil {
		t.Fatalf("JobsForCompany() error = %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("len(jobs) = %d, want 2", len(jobs))
	}
	if jobs[0].ID != newest.ID || jobs[1].ID != oldest.ID {
		t.Error("jobs must be ordered newest first")
	}
}

func TestStatsAndCleanup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	fresh := newTestJob(t, "acme", 1)
	oldDone := newTestJob(t, "acme", 1)
	oldDone.CreatedAt = now.Add(-48 * time.Hour)
	oldDone.UpdatedAt = oldDone.CreatedAt

	for _, j := range []*campaign.Job{fresh, oldDone} {
		if err := s.CreateJob(ctx, j); err != nil {
			t.Fatalf("CreateJob() error = %v", err)
		}
	}
	if _, err := s.ClaimJob(ctx, oldDone.ID, oldDone.CreatedAt, 30*time.Minute); err != nil {
		t.Fatalf("ClaimJob() error = %v", err)
	}
	completedAt := oldDone.CreatedAt
	if err := s.UpdateStatus(ctx, oldDone.ID, campaign.StatusCompleted, StatusExtra{CompletedAt: &completedAt}); err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.Total != 2 || stats.Pending != 1 || stats.Completed != 1 {
		t.Errorf("Stats = %+v", stats)
	}

	// UpdateStatus stamped UpdatedAt to now, so nothing is old enough yet
	deleted, err := s.CleanupTerminal(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("CleanupTerminal() error = %v", err)
	}
	if deleted != 0 {
		t.Errorf("deleted = %d, want 0", deleted)
	}

	deleted, err = s.CleanupTerminal(ctx, time.Nanosecond)
	if err != nil {
		t.Fatalf("CleanupTerminal() error = %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}
	if _, err := s.GetJob(ctx, oldDone.ID); !errors.Is(err, ErrNotFound) {
		t.Error("terminal job must be gone after cleanup")
	}
	if _, err := s.GetJob(ctx, fresh.ID); err != nil {
		t.Error("pending job must survive cleanup")
	}
}
