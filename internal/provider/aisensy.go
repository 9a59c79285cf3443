package provider

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/kenxsak/omniflow-buisness-sub009/internal/campaign"
	"github.com/kenxsak/omniflow-buisness-sub009/internal/config"
)

const defaultAiSensyBaseURL = "https://backend.aisensy.com"

// AiSensy delivers WhatsApp template campaigns through the AiSensy campaign
// API. The API takes one destination per call, which gives per-recipient
// outcomes for free.
type AiSensy struct {
	apiKey string
	client *apiClient
	logger *slog.Logger
}

// NewAiSensy creates the AiSensy WhatsApp adapter.
func NewAiSensy(cfg *config.APIKeyConfig, logger *slog.Logger) *AiSensy {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultAiSensyBaseURL
	}
	return &AiSensy{
		apiKey: cfg.APIKey,
		// Auth rides in the request body, not a header
		client: newAPIClient(baseURL, nil),
		logger: logger,
	}
}

func (a *AiSensy) Name() string {
	return "aisensy"
}

func (a *AiSensy) Channel() campaign.Type {
	return campaign.TypeWhatsApp
}

type aisensyRequest struct {
	APIKey         string   `json:"apiKey"`
	CampaignName   string   `json:"campaignName"`
	Destination    string   `json:"destination"`
	UserName       string   `json:"userName,omitempty"`
	TemplateParams []string `json:"templateParams,omitempty"`
}

type aisensyResponse struct {
	Success bool `json:"success"`
}

// SendBatch submits one campaign call per recipient.
func (a *AiSensy) SendBatch(ctx context.Context, job *campaign.Job, batch []campaign.Recipient) (*BatchResult, error) {
	data := job.WhatsAppData
	if data == nil {
		return nil, &BatchError{Provider: a.Name(), Err: errNoPayload(job)}
	}

	result := &BatchResult{}
	for _, rcpt := range batch {
		if err := ctx.Err(); err != nil {
			return nil, &BatchError{Provider: a.Name(), Err: err}
		}

		key := rcpt.Key(campaign.TypeWhatsApp)
		if rcpt.Phone == "" {
			result.Add(RecipientResult{RecipientKey: key, Error: "recipient has no phone number"})
			continue
		}

		req := aisensyRequest{
			APIKey:       a.apiKey,
			CampaignName: data.TemplateName,
			Destination:  rcpt.Phone,
			UserName:     rcpt.Name,
		}
		for _, p := range data.Parameters {
			req.TemplateParams = append(req.TemplateParams, personalize(p, rcpt))
		}

		var resp aisensyResponse
		if err := a.client.do(ctx, http.MethodPost, "/campaign/t1/api/v2", req, &resp); err != nil {
			result.Add(RecipientResult{RecipientKey: key, Error: err.Error()})
			continue
		}
		if !resp.Success {
			result.Add(RecipientResult{RecipientKey: key, Error: "campaign API reported failure"})
			continue
		}
		result.Add(RecipientResult{RecipientKey: key, Success: true})
	}

	return result, nil
}
