package provider

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/kenxsak/omniflow-buisness-sub009/internal/campaign"
	"github.com/kenxsak/omniflow-buisness-sub009/internal/config"
)

const defaultMSG91BaseURL = "https://control.msg91.com/api/v5"

// MSG91 delivers SMS campaigns through the MSG91 flow API. Flows are
// DLT-registered templates, so jobs routed here must carry a template ID.
type MSG91 struct {
	client *apiClient
	logger *slog.Logger
}

// NewMSG91 creates the MSG91 SMS adapter.
func NewMSG91(cfg *config.MSG91Config, logger *slog.Logger) *MSG91 {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultMSG91BaseURL
	}
	return &MSG91{
		client: newAPIClient(baseURL, map[string]string{"authkey": cfg.AuthKey}),
		logger: logger,
	}
}

func (m *MSG91) Name() string {
	return "msg91"
}

func (m *MSG91) Channel() campaign.Type {
	return campaign.TypeSMS
}

type msg91Recipient struct {
	Mobiles string `json:"mobiles"`
}

type msg91FlowRequest struct {
	TemplateID string           `json:"template_id"`
	Sender     string           `json:"sender,omitempty"`
	Recipients []msg91Recipient `json:"recipients"`
}

type msg91FlowResponse struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// SendBatch submits the batch as one flow call. MSG91 reports only a
// request-level outcome, so every submitted recipient shares it.
func (m *MSG91) SendBatch(ctx context.Context, job *campaign.Job, batch []campaign.Recipient) (*BatchResult, error) {
	data := job.SMSData
	if data == nil {
		return nil, &BatchError{Provider: m.Name(), Err: errNoPayload(job)}
	}
	if data.TemplateID == "" {
		return nil, &BatchError{Provider: m.Name(), Err: fmt.Errorf("msg91 requires a templateId")}
	}

	result := &BatchResult{}
	req := msg91FlowRequest{
		TemplateID: data.TemplateID,
		Sender:     data.SenderID,
	}

	var submitted []string
	for _, rcpt := range batch {
		if rcpt.Phone == "" {
			result.Add(RecipientResult{RecipientKey: rcpt.Key(campaign.TypeSMS), Error: "recipient has no phone number"})
			continue
		}
		req.Recipients = append(req.Recipients, msg91Recipient{Mobiles: rcpt.Phone})
		submitted = append(submitted, rcpt.Key(campaign.TypeSMS))
	}

	if len(submitted) == 0 {
		return result, nil
	}

	var resp msg91FlowResponse
	if err := m.client.do(ctx, http.MethodPost, "/flow/", req, &resp); err != nil {
		return nil, &BatchError{Provider: m.Name(), Err: err}
	}
	if resp.Type != "success" {
		return nil, &BatchError{Provider: m.Name(), Err: fmt.Errorf("flow rejected: %s", resp.Message)}
	}

	for _, key := range submitted {
		// resp.Message carries the request ID on success
		result.Add(RecipientResult{RecipientKey: key, Success: true, MessageID: resp.Message})
	}

	return result, nil
}
