package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/kenxsak/omniflow-buisness-sub009/internal/campaign"
	"github.com/kenxsak/omniflow-buisness-sub009/internal/config"
)

func TestBrevoSendBatch(t *testing.T) {
	var got brevoEmailRequest
	srv := vendorServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/smtp/email" {
			t.Errorf("path = %q, want /smtp/email", r.URL.Path)
		}
		if r.Header.Get("api-key") != "key-1" {
			t.Errorf("api-key = %q, want key-1", r.Header.Get("api-key"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{"messageIds": []string{"m-1", "m-2"}})
	})

	b := NewBrevo(&config.APIKeyConfig{APIKey: "key-1", BaseURL: srv.URL}, discardLogger())
	job := emailJob(t, []campaign.Recipient{
		{Email: "asha@example.com", Name: "Asha"},
		{Phone: "+15550001111"},
		{Email: "ravi@example.com", Name: "Ravi"},
	})

	result, err := b.SendBatch(context.Background(), job, job.Recipients)
	if err != nil {
		t.Fatalf("SendBatch() error = %v", err)
	}

	if result.TotalSent != 2 || result.TotalFailed != 1 {
		t.Errorf("counters = %d/%d, want 2/1", result.TotalSent, result.TotalFailed)
	}

	if got.Sender.Email != "news@acme.test" || got.Sender.Name != "Acme" {
		t.Errorf("sender = %+v", got.Sender)
	}
	if len(got.MessageVersions) != 2 {
		t.Fatalf("len(MessageVersions) = %d, want 2 (recipient without email skipped)", len(got.MessageVersions))
	}
	if got.MessageVersions[0].To[0].Email != "asha@example.com" {
		t.Errorf("version[0].To = %+v", got.MessageVersions[0].To)
	}
	// Placeholders produce a per-version subject
	if got.MessageVersions[0].Subject != "Hello Asha" {
		t.Errorf("version[0].Subject = %q, want Hello Asha", got.MessageVersions[0].Subject)
	}

	byKey := make(map[string]RecipientResult)
	for _, r := range result.Results {
		byKey[r.RecipientKey] = r
	}
	if byKey["asha@example.com"].MessageID != "m-1" || byKey["ravi@example.com"].MessageID != "m-2" {
		t.Errorf("message IDs not mapped in request order: %+v", result.Results)
	}
}

func TestBrevoAPIError(t *testing.T) {
	srv := vendorServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{"code": "unauthorized"})
	})

	b := NewBrevo(&config.APIKeyConfig{APIKey: "bad", BaseURL: srv.URL}, discardLogger())
	job := emailJob(t, []campaign.Recipient{{Email: "a@example.com"}})

	_, err := b.SendBatch(context.Background(), job, job.Recipients)

	var batchErr *BatchError
	if !errors.As(err, &batchErr) {
		t.Fatalf("SendBatch() error = %v, want *BatchError", err)
	}
	if batchErr.Provider != "brevo" {
		t.Errorf("BatchError.Provider = %q, want brevo", batchErr.Provider)
	}
}

func TestBrevoNoDeliverableRecipients(t *testing.T) {
	srv := vendorServer(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("API called with nothing to submit")
	})

	b := NewBrevo(&config.APIKeyConfig{APIKey: "key", BaseURL: srv.URL}, discardLogger())
	job := emailJob(t, []campaign.Recipient{{Email: "a@example.com"}})

	// Batch holds only recipients without addresses
	result, err := b.SendBatch(context.Background(), job, []campaign.Recipient{{Phone: "+1555"}})
	if err != nil {
		t.Fatalf("SendBatch() error = %v", err)
	}
	if result.TotalFailed != 1 || result.TotalSent != 0 {
		t.Errorf("counters = %d/%d, want 0/1", result.TotalSent, result.TotalFailed)
	}
}
