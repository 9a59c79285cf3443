package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kenxsak/omniflow-buisness-sub009/internal/campaign"
	"github.com/kenxsak/omniflow-buisness-sub009/internal/listing"
	"github.com/kenxsak/omniflow-buisness-sub009/internal/sendlog"
	"github.com/kenxsak/omniflow-buisness-sub009/internal/store"
)

// RunResponse is the response for GET /run-campaign-jobs
type RunResponse struct {
	Success   bool `json:"success"`
	Processed int  `json:"processed"`
	Succeeded int  `json:"succeeded"`
	Failed    int  `json:"failed"`
	Retried   int  `json:"retried"`
}

// ResetResponse is the response for GET /reset-job-timer
type ResetResponse struct {
	Success bool   `json:"success"`
	JobID   string `json:"jobId"`
}

// CreateJobRequest is the request body for POST /api/v1/jobs
type CreateJobRequest struct {
	CompanyID    string                 `json:"companyId"`
	CreatedBy    string                 `json:"createdBy,omitempty"`
	JobType      campaign.Type          `json:"jobType"`
	EmailData    *campaign.EmailData    `json:"emailData,omitempty"`
	SMSData      *campaign.SMSData      `json:"smsData,omitempty"`
	WhatsAppData *campaign.WhatsAppData `json:"whatsappData,omitempty"`
	Recipients   []campaign.Recipient   `json:"recipients"`
}

// CreateJobResponse is the response for POST /api/v1/jobs
type CreateJobResponse struct {
	Success bool   `json:"success"`
	JobID   string `json:"jobId"`
}

// JobResponse is the response for GET /api/v1/jobs/{jobID}
type JobResponse struct {
	Success bool          `json:"success"`
	Job     *campaign.Job `json:"job"`
}

// ListJobsResponse is the response for GET /api/v1/jobs
type ListJobsResponse struct {
	Success   bool            `json:"success"`
	Campaigns []listing.Entry `json:"campaigns"`
}

// RecordSendRequest is the request body for POST /api/v1/sends
type RecordSendRequest struct {
	CompanyID    string     `json:"companyId"`
	CreatedBy    string     `json:"createdBy,omitempty"`
	Channel      string     `json:"channel"`
	Provider     string     `json:"provider,omitempty"`
	CampaignName string     `json:"campaignName"`
	Recipients   int        `json:"recipients"`
	Sent         int        `json:"sent"`
	Failed       int        `json:"failed"`
	Status       string     `json:"status,omitempty"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
}

// RecordSendResponse is the response for POST /api/v1/sends
type RecordSendResponse struct {
	Success bool   `json:"success"`
	ID      string `json:"id"`
}

// HealthResponse is the response for GET /health
type HealthResponse struct {
	Status string          `json:"status"`
	Checks map[string]bool `json:"checks"`
}

// ErrorResponse is the error response
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// handleRunJobs handles GET /run-campaign-jobs
func (s *Server) handleRunJobs(w http.ResponseWriter, r *http.Request) {
	// A pass can outlive the server write timeout; lift it for this request.
	rc := http.NewResponseController(w)
	rc.SetWriteDeadline(time.Time{})

	summary, err := s.trigger.RunAll(r.Context())
	if err != nil {
		s.logger.Error("runner pass failed", "error", err)
		s.metrics.IncTrigger("run-campaign-jobs", http.StatusInternalServerError)
		s.sendError(w, http.StatusInternalServerError, "failed to run campaign jobs")
		return
	}

	s.metrics.IncTrigger("run-campaign-jobs", http.StatusOK)
	s.sendJSON(w, http.StatusOK, RunResponse{
		Success:   true,
		Processed: summary.Processed,
		Succeeded: summary.Succeeded,
		Failed:    summary.Failed,
		Retried:   summary.Retried,
	})
}

// handleResetTimer handles GET /reset-job-timer
func (s *Server) handleResetTimer(w http.ResponseWriter, r *http.Request) {
	jobID := r.URL.Query().Get("jobId")
	if jobID == "" {
		s.metrics.IncTrigger("reset-job-timer", http.StatusBadRequest)
		s.sendError(w, http.StatusBadRequest, "jobId is required")
		return
	}

	err := s.jobs.ResetRetryTimer(r.Context(), jobID, time.Now().UTC())
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.metrics.IncTrigger("reset-job-timer", http.StatusNotFound)
		s.sendError(w, http.StatusNotFound, "job not found")
		return
	case errors.Is(err, store.ErrNotRetrying):
		s.metrics.IncTrigger("reset-job-timer", http.StatusConflict)
		s.sendError(w, http.StatusConflict, "job not in retrying state")
		return
	case err != nil:
		s.logger.Error("failed to reset retry timer", "job_id", jobID, "error", err)
		s.metrics.IncTrigger("reset-job-timer", http.StatusInternalServerError)
		s.sendError(w, http.StatusInternalServerError, "failed to reset retry timer")
		return
	}

	s.logger.Info("retry timer reset", "job_id", jobID)
	s.metrics.IncTrigger("reset-job-timer", http.StatusOK)
	s.sendJSON(w, http.StatusOK, ResetResponse{Success: true, JobID: jobID})
}

// handleCreateJob handles POST /api/v1/jobs
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	job, err := campaign.New(campaign.CreateParams{
		CompanyID:      req.CompanyID,
		CreatedBy:      req.CreatedBy,
		JobType:        req.JobType,
		EmailData:      req.EmailData,
		SMSData:        req.SMSData,
		WhatsAppData:   req.WhatsAppData,
		Recipients:     req.Recipients,
		MaxAttempts:    s.retry.MaxAttempts,
		InitialBackoff: s.retry.InitialBackoff,
	})
	if err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.jobs.CreateJob(r.Context(), job); err != nil {
		s.logger.Error("failed to create job", "error", err)
		s.sendError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	s.campaigns.Invalidate(job.CompanyID)

	s.logger.Info("campaign job created",
		"job_id", job.ID,
		"company_id", job.CompanyID,
		"job_type", job.JobType,
		"recipients", job.Progress.Total,
	)

	s.sendJSON(w, http.StatusCreated, CreateJobResponse{Success: true, JobID: job.ID})
}

// handleListJobs handles GET /api/v1/jobs
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	companyID := r.URL.Query().Get("companyId")
	if companyID == "" {
		s.sendError(w, http.StatusBadRequest, "companyId is required")
		return
	}

	entries, err := s.campaigns.JobsForCompany(r.Context(), companyID)
	if err != nil {
		s.logger.Error("failed to list campaigns", "company_id", companyID, "error", err)
		s.sendError(w, http.StatusInternalServerError, "failed to list campaigns")
		return
	}

	s.sendJSON(w, http.StatusOK, ListJobsResponse{Success: true, Campaigns: entries})
}

// handleGetJob handles GET /api/v1/jobs/{jobID}
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")

	job, err := s.jobs.GetJob(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.sendError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to get job", "job_id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "failed to get job")
		return
	}

	s.sendJSON(w, http.StatusOK, JobResponse{Success: true, Job: job})
}

// handleRecordSend handles POST /api/v1/sends
func (s *Server) handleRecordSend(w http.ResponseWriter, r *http.Request) {
	var req RecordSendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.CompanyID == "" {
		s.sendError(w, http.StatusBadRequest, "companyId is required")
		return
	}
	if req.Channel == "" {
		s.sendError(w, http.StatusBadRequest, "channel is required")
		return
	}
	if req.CampaignName == "" {
		s.sendError(w, http.StatusBadRequest, "campaignName is required")
		return
	}

	status := req.Status
	if status == "" {
		switch {
		case req.Failed == 0:
			status = sendlog.StatusCompleted
		case req.Sent == 0:
			status = sendlog.StatusFailed
		default:
			status = sendlog.StatusPartial
		}
	}

	rec := &sendlog.Record{
		CompanyID:    req.CompanyID,
		CreatedBy:    req.CreatedBy,
		Channel:      req.Channel,
		Provider:     req.Provider,
		CampaignName: req.CampaignName,
		Recipients:   req.Recipients,
		Sent:         req.Sent,
		Failed:       req.Failed,
		Status:       status,
		CompletedAt:  req.CompletedAt,
	}

	if err := s.sends.Insert(r.Context(), rec); err != nil {
		s.logger.Error("failed to record send", "company_id", req.CompanyID, "error", err)
		s.sendError(w, http.StatusInternalServerError, "failed to record send")
		return
	}

	s.campaigns.Invalidate(req.CompanyID)

	s.logger.Info("instant send recorded",
		"id", rec.ID,
		"company_id", rec.CompanyID,
		"channel", rec.Channel,
		"recipients", rec.Recipients,
	)

	s.sendJSON(w, http.StatusCreated, RecordSendResponse{Success: true, ID: rec.ID})
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks := map[string]bool{
		"jobStore": s.jobs.Ping(r.Context()) == nil,
		"sendLog":  s.sends.Ping(r.Context()) == nil,
	}

	status := "ok"
	code := http.StatusOK
	for _, healthy := range checks {
		if !healthy {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}

	s.sendJSON(w, code, HealthResponse{Status: status, Checks: checks})
}

// sendJSON sends a JSON response
func (s *Server) sendJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// sendError sends an error response
func (s *Server) sendError(w http.ResponseWriter, status int, message string) {
	s.sendJSON(w, status, ErrorResponse{Error: message})
}
