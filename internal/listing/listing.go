package listing

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/kenxsak/omniflow-buisness-sub009/internal/cache"
	"github.com/kenxsak/omniflow-buisness-sub009/internal/campaign"
	"github.com/kenxsak/omniflow-buisness-sub009/internal/sendlog"
)

// Source values for Entry
const (
	SourceJob     = "job"
	SourceInstant = "instant"
)

// Entry is one row of the merged campaign history for a tenant: queued jobs
// and instant sends in a single shape.
type Entry struct {
	ID           string     `json:"id"`
	Source       string     `json:"source"`
	CompanyID    string     `json:"companyId"`
	CreatedBy    string     `json:"createdBy,omitempty"`
	Channel      string     `json:"channel"`
	Provider     string     `json:"provider,omitempty"`
	CampaignName string     `json:"campaignName,omitempty"`
	Recipients   int        `json:"recipients"`
	Sent         int        `json:"sent"`
	Failed       int        `json:"failed"`
	Status       string     `json:"status"`
	CreatedAt    time.Time  `json:"createdAt"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
}

// JobSource lists queued campaign jobs for a tenant.
type JobSource interface {
	JobsForCompany(ctx context.Context, companyID string) ([]*campaign.Job, error)
}

// SendSource lists instant-send records for a tenant.
type SendSource interface {
	ListByCompany(ctx context.Context, companyID string) ([]*sendlog.Record, error)
}

// Service produces the merged tenant view, cached per company.
type Service struct {
	jobs  JobSource
	sends SendSource
	cache *cache.Cache
}

// NewService creates a listing service. cache may be nil to disable caching.
func NewService(jobs JobSource, sends SendSource, c *cache.Cache) *Service {
	return &Service{
		jobs:  jobs,
		sends: sends,
		cache: c,
	}
}

// JobsForCompany returns the merged campaign history for a tenant, newest
// first.
func (s *Service) JobsForCompany(ctx context.Context, companyID string) ([]Entry, error) {
	key := cacheKey(companyID)
	if s.cache != nil {
		if v, ok := s.cache.Get(key); ok {
			if entries, ok := v.([]Entry); ok {
				return entries, nil
			}
		}
	}

	jobs, err := s.jobs.JobsForCompany(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	sends, err := s.sends.ListByCompany(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list instant sends: %w", err)
	}

	entries := make([]Entry, 0, len(jobs)+len(sends))
	for _, j := range jobs {
		entries = append(entries, jobEntry(j))
	}
	for _, r := range sends {
		entries = append(entries, sendEntry(r))
	}

	sort.Slice(entries, func(i, k int) bool {
		return entries[i].CreatedAt.After(entries[k].CreatedAt)
	})

	if s.cache != nil {
		s.cache.Set(key, entries)
	}

	return entries, nil
}

// Invalidate drops the cached view for a tenant. Called after writes so the
// next listing reflects them immediately.
func (s *Service) Invalidate(companyID string) {
	if s.cache != nil {
		s.cache.Delete(cacheKey(companyID))
	}
}

func cacheKey(companyID string) string {
	return "listing:" + companyID
}

func jobEntry(j *campaign.Job) Entry {
	return Entry{
		ID:           j.ID,
		Source:       SourceJob,
		CompanyID:    j.CompanyID,
		CreatedBy:    j.CreatedBy,
		Channel:      string(j.JobType),
		Provider:     j.Provider(),
		CampaignName: displayName(j),
		Recipients:   j.Progress.Total,
		Sent:         j.Progress.Sent,
		Failed:       j.Progress.Failed,
		Status:       string(j.Status),
		CreatedAt:    j.CreatedAt,
		CompletedAt:  j.CompletedAt,
	}
}

func sendEntry(r *sendlog.Record) Entry {
	return Entry{
		ID:           r.ID,
		Source:       SourceInstant,
		CompanyID:    r.CompanyID,
		CreatedBy:    r.CreatedBy,
		Channel:      r.Channel,
		Provider:     r.Provider,
		CampaignName: r.CampaignName,
		Recipients:   r.Recipients,
		Sent:         r.Sent,
		Failed:       r.Failed,
		Status:       r.Status,
		CreatedAt:    r.CreatedAt,
		CompletedAt:  r.CompletedAt,
	}
}

// displayName derives a listing label from the job payload.
func displayName(j *campaign.Job) string {
	switch {
	case j.EmailData != nil:
		return j.EmailData.Subject
	case j.WhatsAppData != nil:
		return j.WhatsAppData.TemplateName
	case j.SMSData != nil:
		if j.SMSData.TemplateID != "" {
			return j.SMSData.TemplateID
		}
		if len(j.SMSData.Message) > 40 {
			return j.SMSData.Message[:40]
		}
		return j.SMSData.Message
	}
	return ""
}
