package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/finance-analytics/internal/api/middleware"
	"github.com/dvloznov/finance-analytics/internal/domain"
	"github.com/dvloznov/finance-analytics/internal/jobs"
)

const (
	jobsPath   = "/api/analytics/jobs"
	dateLayout = "2006-01-02"
)

// JobsHandler handles analysis job endpoints.
type JobsHandler struct {
	publisher jobs.Publisher
	store     jobs.JobStore
	log       zerolog.Logger
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(publisher jobs.Publisher, store jobs.JobStore, log zerolog.Logger) *JobsHandler {
	return &JobsHandler{
		publisher: publisher,
		store:     store,
		log:       log,
	}
}

// Register mounts the job endpoints on mux.
func (h *JobsHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc(jobsPath, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			h.CreateJob(w, r)
		case http.MethodGet:
			h.ListJobs(w, r)
		default:
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc(jobsPath+"/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		jobID := strings.TrimPrefix(r.URL.Path, jobsPath+"/")
		if jobID == "" || strings.Contains(jobID, "/") {
			middleware.WriteError(w, http.StatusBadRequest, "Job ID is required")
			return
		}
		h.GetJob(w, r, jobID)
	})
}

type createJobRequest struct {
	Type  jobs.JobType `json:"type"`
	Scope struct {
		OrganizationID string `json:"organization_id"`
		UserID         string `json:"user_id"`
		StartDate      string `json:"start_date"`
		EndDate        string `json:"end_date"`
		CategoryID     string `json:"category_id"`
		AccountID      string `json:"account_id"`
	} `json:"scope"`
	Params jobs.Params `json:"params"`
}

func (req *createJobRequest) toJob() (*jobs.AnalysisJob, error) {
	if !req.Type.Valid() {
		return nil, fmt.Errorf("unknown analysis type %q", req.Type)
	}
	if req.Scope.OrganizationID == "" {
		return nil, errors.New("scope.organization_id is required")
	}
	start, err := parseDate("scope.start_date", req.Scope.StartDate)
	if err != nil {
		return nil, err
	}
	end, err := parseDate("scope.end_date", req.Scope.EndDate)
	if err != nil {
		return nil, err
	}
	if start != nil && end != nil && end.Before(*start) {
		return nil, errors.New("scope.end_date is before scope.start_date")
	}
	if req.Params.Threshold < 0 || req.Params.Contamination < 0 || req.Params.MonthsAhead < 0 || req.Params.Clusters < 0 {
		return nil, errors.New("params must not be negative")
	}

	return &jobs.AnalysisJob{
		Type: req.Type,
		Scope: domain.Scope{
			OrganizationID: req.Scope.OrganizationID,
			UserID:         req.Scope.UserID,
			StartDate:      start,
			EndDate:        end,
			CategoryID:     req.Scope.CategoryID,
			AccountID:      req.Scope.AccountID,
		},
		Params: req.Params,
	}, nil
}

func parseDate(field, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s format, expected YYYY-MM-DD", field)
	}
	return &t, nil
}

// CreateJob handles POST /api/analytics/jobs
func (h *JobsHandler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	job, err := req.toJob()
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	if err := h.publisher.PublishAnalysis(ctx, job); err != nil {
		h.log.Error().Err(err).Str("job_type", string(job.Type)).Msg("Failed to enqueue analysis job")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to enqueue analysis job")
		return
	}

	h.log.Info().
		Str("job_id", job.JobID).
		Str("job_type", string(job.Type)).
		Str("organization_id", job.Scope.OrganizationID).
		Msg("Analysis job enqueued")

	middleware.WriteJSON(w, http.StatusAccepted, map[string]string{
		"job_id": job.JobID,
		"type":   string(job.Type),
		"status": string(job.Status),
	})
}

// GetJob handles GET /api/analytics/jobs/{id}
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request, jobID string) {
	ctx := r.Context()

	job, err := h.store.GetJob(ctx, jobID)
	if errors.Is(err, jobs.ErrJobNotFound) {
		middleware.WriteError(w, http.StatusNotFound, "Job not found")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("job_id", jobID).Msg("Failed to get job")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to get job")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /api/analytics/jobs
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// Parse query parameters
	query := r.URL.Query()
	filter := jobs.JobFilter{
		OrganizationID: query.Get("organization_id"),
		Type:           jobs.JobType(query.Get("type")),
		Status:         jobs.JobStatus(query.Get("status")),
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = limit
		}
	}

	if offsetStr := query.Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil {
			filter.Offset = offset
		}
	}

	jobsList, err := h.store.ListJobs(ctx, filter)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list jobs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}
	if jobsList == nil {
		jobsList = []*jobs.AnalysisJob{}
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobsList,
		"count": len(jobsList),
	})
}

// Health handles GET /health
func Health(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}
