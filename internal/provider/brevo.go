package provider

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/kenxsak/omniflow-buisness-sub009/internal/campaign"
	"github.com/kenxsak/omniflow-buisness-sub009/internal/config"
)

const defaultBrevoBaseURL = "https://api.brevo.com/v3"

// Brevo delivers email campaigns through the Brevo transactional API. One
// request carries the whole batch as message versions.
type Brevo struct {
	client *apiClient
	logger *slog.Logger
}

// NewBrevo creates the Brevo email adapter.
func NewBrevo(cfg *config.APIKeyConfig, logger *slog.Logger) *Brevo {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBrevoBaseURL
	}
	return &Brevo{
		client: newAPIClient(baseURL, map[string]string{"api-key": cfg.APIKey}),
		logger: logger,
	}
}

func (b *Brevo) Name() string {
	return "brevo"
}

func (b *Brevo) Channel() campaign.Type {
	return campaign.TypeEmail
}

type brevoContact struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

type brevoVersion struct {
	To          []brevoContact `json:"to"`
	Subject     string         `json:"subject,omitempty"`
	HTMLContent string         `json:"htmlContent,omitempty"`
}

type brevoEmailRequest struct {
	Sender          brevoContact   `json:"sender"`
	Subject         string         `json:"subject"`
	HTMLContent     string         `json:"htmlContent"`
	MessageVersions []brevoVersion `json:"messageVersions"`
}

type brevoEmailResponse struct {
	MessageIDs []string `json:"messageIds"`
	MessageID  string   `json:"messageId"`
}

// SendBatch submits the batch as one API call. Recipients without an email
// address fail locally; an API rejection fails the whole batch.
func (b *Brevo) SendBatch(ctx context.Context, job *campaign.Job, batch []campaign.Recipient) (*BatchResult, error) {
	data := job.EmailData
	if data == nil {
		return nil, &BatchError{Provider: b.Name(), Err: errNoPayload(job)}
	}

	result := &BatchResult{}
	req := brevoEmailRequest{
		Sender:      brevoContact{Name: data.FromName, Email: data.FromEmail},
		Subject:     data.Subject,
		HTMLContent: data.HTMLBody,
	}

	// Keys of recipients actually submitted, in request order
	var submitted []string
	for _, rcpt := range batch {
		if rcpt.Email == "" {
			result.Add(RecipientResult{RecipientKey: rcpt.Key(campaign.TypeEmail), Error: "recipient has no email address"})
			continue
		}

		v := brevoVersion{To: []brevoContact{{Name: rcpt.Name, Email: rcpt.Email}}}
		if s := personalize(data.Subject, rcpt); s != data.Subject {
			v.Subject = s
		}
		if h := personalize(data.HTMLBody, rcpt); h != data.HTMLBody {
			v.HTMLContent = h
		}
		req.MessageVersions = append(req.MessageVersions, v)
		submitted = append(submitted, rcpt.Key(campaign.TypeEmail))
	}

	if len(submitted) == 0 {
		return result, nil
	}

	var resp brevoEmailResponse
	if err := b.client.do(ctx, http.MethodPost, "/smtp/email", req, &resp); err != nil {
		return nil, &BatchError{Provider: b.Name(), Err: err}
	}

	for i, key := range submitted {
		r := RecipientResult{RecipientKey: key, Success: true}
		if i < len(resp.MessageIDs) {
			r.MessageID = resp.MessageIDs[i]
		} else {
			r.MessageID = resp.MessageID
		}
		result.Add(r)
	}

	return result, nil
}
