package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/kenxsak/omniflow-buisness-sub009/internal/campaign"
	"github.com/kenxsak/omniflow-buisness-sub009/internal/config"
)

const defaultGupshupBaseURL = "https://api.gupshup.io/wa/api/v1"

// Gupshup delivers WhatsApp template campaigns through the Gupshup API,
// which takes form-encoded requests, one destination per call.
type Gupshup struct {
	cfg    *config.GupshupConfig
	client *apiClient
	logger *slog.Logger
}

// NewGupshup creates the Gupshup WhatsApp adapter.
func NewGupshup(cfg *config.GupshupConfig, logger *slog.Logger) *Gupshup {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultGupshupBaseURL
	}
	return &Gupshup{
		cfg:    cfg,
		client: newAPIClient(baseURL, map[string]string{"apikey": cfg.APIKey}),
		logger: logger,
	}
}

func (g *Gupshup) Name() string {
	return "gupshup"
}

func (g *Gupshup) Channel() campaign.Type {
	return campaign.TypeWhatsApp
}

type gupshupTemplate struct {
	ID     string   `json:"id"`
	Params []string `json:"params"`
}

type gupshupResponse struct {
	Status    string `json:"status"`
	MessageID string `json:"messageId"`
}

// SendBatch submits one template message per recipient.
func (g *Gupshup) SendBatch(ctx context.Context, job *campaign.Job, batch []campaign.Recipient) (*BatchResult, error) {
	data := job.WhatsAppData
	if data == nil {
		return nil, &BatchError{Provider: g.Name(), Err: errNoPayload(job)}
	}

	result := &BatchResult{}
	for _, rcpt := range batch {
		if err := ctx.Err(); err != nil {
			return nil, &BatchError{Provider: g.Name(), Err: err}
		}

		key := rcpt.Key(campaign.TypeWhatsApp)
		if rcpt.Phone == "" {
			result.Add(RecipientResult{RecipientKey: key, Error: "recipient has no phone number"})
			continue
		}

		tmpl := gupshupTemplate{ID: data.TemplateName}
		for _, p := range data.Parameters {
			tmpl.Params = append(tmpl.Params, personalize(p, rcpt))
		}
		tmplJSON, err := json.Marshal(tmpl)
		if err != nil {
			result.Add(RecipientResult{RecipientKey: key, Error: err.Error()})
			continue
		}

		form := url.Values{}
		form.Set("channel", "whatsapp")
		form.Set("source", g.cfg.Source)
		form.Set("src.name", g.cfg.AppName)
		form.Set("destination", rcpt.Phone)
		form.Set("template", string(tmplJSON))

		var resp gupshupResponse
		if err := g.client.doForm(ctx, "/template/msg", form, &resp); err != nil {
			result.Add(RecipientResult{RecipientKey: key, Error: err.Error()})
			continue
		}
		if resp.Status != "submitted" {
			result.Add(RecipientResult{RecipientKey: key, Error: fmt.Sprintf("unexpected status %q", resp.Status)})
			continue
		}
		result.Add(RecipientResult{RecipientKey: key, Success: true, MessageID: resp.MessageID})
	}

	return result, nil
}
