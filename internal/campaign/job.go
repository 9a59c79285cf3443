package campaign

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type identifies the messaging channel of a job. Immutable after creation.
type Type string

const (
	TypeEmail    Type = "email"
	TypeSMS      Type = "sms"
	TypeWhatsApp Type = "whatsapp"
)

// Valid reports whether t is a known channel type.
func (t Type) Valid() bool {
	switch t {
	case TypeEmail, TypeSMS, TypeWhatsApp:
		return true
	}
	return false
}

// Status represents the lifecycle state of a job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusRetrying   Status = "retrying"
)

// Terminal reports whether no further processing passes may touch the job.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Default retry policy applied when creation parameters leave them unset.
const (
	DefaultMaxAttempts    = 3
	DefaultInitialBackoff = 5 * time.Minute
)

// Recipient is one delivery target. The list is fixed at creation and
// never mutated by batch runs.
type Recipient struct {
	Phone        string            `json:"phone,omitempty"`
	Email        string            `json:"email,omitempty"`
	Name         string            `json:"name,omitempty"`
	CustomFields map[string]string `json:"customFields,omitempty"`
}

// Key returns the identifier adapters report results under: the email
// address for email jobs, the phone number otherwise, falling back to
// whichever is set.
func (r Recipient) Key(t Type) string {
	if t == TypeEmail {
		if r.Email != "" {
			return r.Email
		}
		return r.Phone
	}
	if r.Phone != "" {
		return r.Phone
	}
	return r.Email
}

// EmailData is the channel payload for email jobs.
type EmailData struct {
	Provider  string `json:"provider"`
	FromName  string `json:"fromName,omitempty"`
	FromEmail string `json:"fromEmail"`
	Subject   string `json:"subject"`
	HTMLBody  string `json:"htmlBody"`
}

// SMSData is the channel payload for SMS jobs.
type SMSData struct {
	Provider   string `json:"provider"`
	Message    string `json:"message"`
	TemplateID string `json:"templateId,omitempty"`
	SenderID   string `json:"senderId,omitempty"`
}

// WhatsAppData is the channel payload for WhatsApp template jobs.
type WhatsAppData struct {
	Provider     string   `json:"provider"`
	TemplateName string   `json:"templateName"`
	Parameters   []string `json:"parameters,omitempty"`
}

// Progress tracks per-attempt delivery counters. These are the only fields
// mutated during normal batch processing.
type Progress struct {
	Total        int `json:"total"`
	Sent         int `json:"sent"`
	Failed       int `json:"failed"`
	CurrentBatch int `json:"currentBatch"`
	TotalBatches int `json:"totalBatches"`
}

// Retry tracks attempt accounting and backoff scheduling. Mutated only on
// batch-level failure.
type Retry struct {
	Attempts      int        `json:"attempts"`
	MaxAttempts   int        `json:"maxAttempts"`
	LastAttemptAt *time.Time `json:"lastAttemptAt,omitempty"`
	NextRetryAt   *time.Time `json:"nextRetryAt,omitempty"`
	BackoffMs     int64      `json:"backoffMs"`
}

// FailedRecipient records one recipient that could not be delivered to,
// with the error string from the adapter or batch failure.
type FailedRecipient struct {
	Recipient Recipient `json:"recipient"`
	Error     string    `json:"error"`
}

// Job is the durable record of one bulk-send request, tracked end-to-end
// until it reaches a terminal state.
type Job struct {
	ID        string `json:"id"`
	CompanyID string `json:"companyId"`
	CreatedBy string `json:"createdBy,omitempty"`
	JobType   Type   `json:"jobType"`

	// Exactly one of the three payloads is set, matching JobType.
	EmailData    *EmailData    `json:"emailData,omitempty"`
	SMSData      *SMSData      `json:"smsData,omitempty"`
	WhatsAppData *WhatsAppData `json:"whatsappData,omitempty"`

	Recipients []Recipient `json:"recipients"`

	Progress Progress `json:"progress"`
	Retry    Retry    `json:"retry"`

	Status           Status            `json:"status"`
	Error            string            `json:"error,omitempty"`
	FailedRecipients []FailedRecipient `json:"failedRecipients,omitempty"`

	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// ValidationError reports unusable creation input. Jobs failing validation
// are never persisted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// CreateParams carries the input of the job creation boundary.
type CreateParams struct {
	CompanyID    string
	CreatedBy    string
	JobType      Type
	EmailData    *EmailData
	SMSData      *SMSData
	WhatsAppData *WhatsAppData
	Recipients   []Recipient

	// Retry policy; zero values fall back to the package defaults.
	MaxAttempts    int
	InitialBackoff time.Duration
}

// New validates p and builds a pending job with zero progress and a fresh
// retry state. The returned job has not been persisted.
func New(p CreateParams) (*Job, error) {
	if p.CompanyID == "" {
		return nil, &ValidationError{Field: "companyId", Reason: "must not be empty"}
	}
	if !p.JobType.Valid() {
		return nil, &ValidationError{Field: "jobType", Reason: fmt.Sprintf("unknown type %q", string(p.JobType))}
	}
	if len(p.Recipients) == 0 {
		return nil, &ValidationError{Field: "recipients", Reason: "must not be empty"}
	}
	if err := validatePayload(p.JobType, p.EmailData, p.SMSData, p.WhatsAppData); err != nil {
		return nil, err
	}

	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	backoff := p.InitialBackoff
	if backoff <= 0 {
		backoff = DefaultInitialBackoff
	}

	now := time.Now().UTC()
	return &Job{
		ID:           uuid.New().String(),
		CompanyID:    p.CompanyID,
		CreatedBy:    p.CreatedBy,
		JobType:      p.JobType,
		EmailData:    p.EmailData,
		SMSData:      p.SMSData,
		WhatsAppData: p.WhatsAppData,
		Recipients:   p.Recipients,
		Progress:     Progress{Total: len(p.Recipients)},
		Retry: Retry{
			MaxAttempts: maxAttempts,
			BackoffMs:   backoff.Milliseconds(),
		},
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func validatePayload(t Type, email *EmailData, sms *SMSData, wa *WhatsAppData) error {
	set := 0
	if email != nil {
		set++
	}
	if sms != nil {
		set++
	}
	if wa != nil {
		set++
	}
	if set != 1 {
		return &ValidationError{Field: "payload", Reason: fmt.Sprintf("exactly one channel payload required, got %d", set)}
	}

	switch t {
	case TypeEmail:
		if email == nil {
			return &ValidationError{Field: "emailData", Reason: "required for email jobs"}
		}
		if email.Provider == "" {
			return &ValidationError{Field: "emailData.provider", Reason: "must not be empty"}
		}
	case TypeSMS:
		if sms == nil {
			return &ValidationError{Field: "smsData", Reason: "required for sms jobs"}
		}
		if sms.Provider == "" {
			return &ValidationError{Field: "smsData.provider", Reason: "must not be empty"}
		}
	case TypeWhatsApp:
		if wa == nil {
			return &ValidationError{Field: "whatsappData", Reason: "required for whatsapp jobs"}
		}
		if wa.Provider == "" {
			return &ValidationError{Field: "whatsappData.provider", Reason: "must not be empty"}
		}
	}
	return nil
}

// Provider returns the provider name from whichever channel payload is set.
func (j *Job) Provider() string {
	switch {
	case j.EmailData != nil:
		return j.EmailData.Provider
	case j.SMSData != nil:
		return j.SMSData.Provider
	case j.WhatsAppData != nil:
		return j.WhatsAppData.Provider
	}
	return ""
}

// Validate re-checks structural invariants on a job read from storage.
func (j *Job) Validate() error {
	if j.ID == "" {
		return &ValidationError{Field: "id", Reason: "must not be empty"}
	}
	if j.CompanyID == "" {
		return &ValidationError{Field: "companyId", Reason: "must not be empty"}
	}
	if !j.JobType.Valid() {
		return &ValidationError{Field: "jobType", Reason: fmt.Sprintf("unknown type %q", string(j.JobType))}
	}
	if len(j.Recipients) == 0 {
		return &ValidationError{Field: "recipients", Reason: "must not be empty"}
	}
	if err := validatePayload(j.JobType, j.EmailData, j.SMSData, j.WhatsAppData); err != nil {
		return err
	}
	if j.Progress.Total != len(j.Recipients) {
		return &ValidationError{Field: "progress.total", Reason: "must equal recipient count"}
	}
	if j.Progress.Sent+j.Progress.Failed > j.Progress.Total {
		return &ValidationError{Field: "progress", Reason: "sent+failed exceeds total"}
	}
	if j.Retry.Attempts > j.Retry.MaxAttempts {
		return &ValidationError{Field: "retry.attempts", Reason: "exceeds maxAttempts"}
	}
	return nil
}
