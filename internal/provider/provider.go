package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/kenxsak/omniflow-buisness-sub009/internal/campaign"
)

// RecipientResult is the outcome of one recipient within a batch.
type RecipientResult struct {
	RecipientKey string // campaign.Recipient.Key for the job's channel
	Success      bool
	MessageID    string // Provider message ID, when reported
	Error        string
}

// BatchResult is the outcome of a single SendBatch call. Every recipient in
// the batch should appear in Results exactly once.
type BatchResult struct {
	Success     bool
	Results     []RecipientResult
	TotalSent   int
	TotalFailed int
}

// Add records one recipient outcome and updates the counters.
func (r *BatchResult) Add(res RecipientResult) {
	r.Results = append(r.Results, res)
	if res.Success {
		r.TotalSent++
	} else {
		r.TotalFailed++
	}
	r.Success = r.TotalFailed == 0
}

// BatchError reports a transport-level failure that took down the whole
// batch: connection refused, auth rejected, non-2xx API response. The batch
// processor marks every recipient in the batch failed and moves on.
type BatchError struct {
	Provider string
	Err      error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *BatchError) Unwrap() error {
	return e.Err
}

// Adapter delivers one batch of recipients for one channel. Implementations
// read their payload off the job (EmailData, SMSData or WhatsAppData).
type Adapter interface {
	Name() string
	Channel() campaign.Type
	SendBatch(ctx context.Context, job *campaign.Job, batch []campaign.Recipient) (*BatchResult, error)
}

func errNoPayload(j *campaign.Job) error {
	return fmt.Errorf("job %s has no %s payload", j.ID, j.JobType)
}

// personalize substitutes {{name}} and {{<customField>}} placeholders in
// message content with the recipient's values.
func personalize(s string, rcpt campaign.Recipient) string {
	if !strings.Contains(s, "{{") {
		return s
	}
	s = strings.ReplaceAll(s, "{{name}}", rcpt.Name)
	for k, v := range rcpt.CustomFields {
		s = strings.ReplaceAll(s, "{{"+k+"}}", v)
	}
	return s
}
