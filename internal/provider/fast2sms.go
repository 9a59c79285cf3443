package provider

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/kenxsak/omniflow-buisness-sub009/internal/campaign"
	"github.com/kenxsak/omniflow-buisness-sub009/internal/config"
)

const defaultFast2SMSBaseURL = "https://www.fast2sms.com/dev"

// Fast2SMS delivers SMS campaigns through the Fast2SMS bulk API.
type Fast2SMS struct {
	client *apiClient
	logger *slog.Logger
}

// NewFast2SMS creates the Fast2SMS adapter.
func NewFast2SMS(cfg *config.APIKeyConfig, logger *slog.Logger) *Fast2SMS {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultFast2SMSBaseURL
	}
	return &Fast2SMS{
		client: newAPIClient(baseURL, map[string]string{"authorization": cfg.APIKey}),
		logger: logger,
	}
}

func (f *Fast2SMS) Name() string {
	return "fast2sms"
}

func (f *Fast2SMS) Channel() campaign.Type {
	return campaign.TypeSMS
}

type fast2smsRequest struct {
	Route      string `json:"route"`
	Message    string `json:"message"`
	Numbers    string `json:"numbers"`
	SenderID   string `json:"sender_id,omitempty"`
	TemplateID string `json:"template_id,omitempty"`
}

type fast2smsResponse struct {
	Return    bool   `json:"return"`
	RequestID string `json:"request_id"`
}

// SendBatch submits the numbers comma-joined in one call. When the message
// carries personalization placeholders each recipient gets their own call so
// the substituted text goes out.
func (f *Fast2SMS) SendBatch(ctx context.Context, job *campaign.Job, batch []campaign.Recipient) (*BatchResult, error) {
	data := job.SMSData
	if data == nil {
		return nil, &BatchError{Provider: f.Name(), Err: errNoPayload(job)}
	}

	result := &BatchResult{}
	var valid []campaign.Recipient
	for _, rcpt := range batch {
		if rcpt.Phone == "" {
			result.Add(RecipientResult{RecipientKey: rcpt.Key(campaign.TypeSMS), Error: "recipient has no phone number"})
			continue
		}
		valid = append(valid, rcpt)
	}
	if len(valid) == 0 {
		return result, nil
	}

	if strings.Contains(data.Message, "{{") {
		return f.sendPersonalized(ctx, data, valid, result)
	}
	return f.sendBulk(ctx, data, valid, result)
}

func (f *Fast2SMS) sendBulk(ctx context.Context, data *campaign.SMSData, batch []campaign.Recipient, result *BatchResult) (*BatchResult, error) {
	numbers := make([]string, len(batch))
	for i, rcpt := range batch {
		numbers[i] = rcpt.Phone
	}

	resp, err := f.submit(ctx, data, data.Message, strings.Join(numbers, ","))
	if err != nil {
		return nil, &BatchError{Provider: f.Name(), Err: err}
	}

	for _, rcpt := range batch {
		result.Add(RecipientResult{RecipientKey: rcpt.Key(campaign.TypeSMS), Success: true, MessageID: resp.RequestID})
	}
	return result, nil
}

func (f *Fast2SMS) sendPersonalized(ctx context.Context, data *campaign.SMSData, batch []campaign.Recipient, result *BatchResult) (*BatchResult, error) {
	for _, rcpt := range batch {
		if err := ctx.Err(); err != nil {
			return nil, &BatchError{Provider: f.Name(), Err: err}
		}

		key := rcpt.Key(campaign.TypeSMS)
		resp, err := f.submit(ctx, data, personalize(data.Message, rcpt), rcpt.Phone)
		if err != nil {
			result.Add(RecipientResult{RecipientKey: key, Error: err.Error()})
			continue
		}
		result.Add(RecipientResult{RecipientKey: key, Success: true, MessageID: resp.RequestID})
	}
	return result, nil
}

func (f *Fast2SMS) submit(ctx context.Context, data *campaign.SMSData, message, numbers string) (*fast2smsResponse, error) {
	req := fast2smsRequest{
		Route:      "q",
		Message:    message,
		Numbers:    numbers,
		SenderID:   data.SenderID,
		TemplateID: data.TemplateID,
	}
	if data.TemplateID != "" {
		req.Route = "dlt"
	}

	var resp fast2smsResponse
	if err := f.client.do(ctx, http.MethodPost, "/bulkV2", req, &resp); err != nil {
		return nil, err
	}
	if !resp.Return {
		return nil, fmt.Errorf("request rejected")
	}
	return &resp, nil
}
