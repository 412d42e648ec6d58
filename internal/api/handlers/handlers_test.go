package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/finance-analytics/internal/domain"
	"github.com/dvloznov/finance-analytics/internal/jobs"
	"github.com/dvloznov/finance-analytics/internal/jobs/inmemory"
)

// recordingPublisher saves published jobs to a store without processing them.
type recordingPublisher struct {
	store *inmemory.Store
	err   error
	jobs  []*jobs.AnalysisJob
}

func (p *recordingPublisher) PublishAnalysis(ctx context.Context, job *jobs.AnalysisJob) error {
	if p.err != nil {
		return p.err
	}
	job.JobID = "job-" + string(rune('a'+len(p.jobs)))
	job.Status = jobs.JobStatusPending
	job.CreatedAt = time.Date(2024, time.June, 1, 0, 0, len(p.jobs), 0, time.UTC)
	p.jobs = append(p.jobs, job)
	return p.store.SaveJob(ctx, job)
}

func (p *recordingPublisher) Close() error { return nil }

func newTestMux(pub *recordingPublisher) *http.ServeMux {
	mux := http.NewServeMux()
	NewJobsHandler(pub, pub.store, zerolog.Nop()).Register(mux)
	mux.HandleFunc("/health", Health)
	return mux
}

func TestCreateJob(t *testing.T) {
	pub := &recordingPublisher{store: inmemory.NewStore()}
	mux := newTestMux(pub)

	body := `{"type":"forecast_spending","scope":{"organization_id":"org-1","start_date":"2023-01-01","end_date":"2023-12-31"},"params":{"months_ahead":6}}`
	req := httptest.NewRequest(http.MethodPost, "/api/analytics/jobs", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp["job_id"] != "job-a" || resp["status"] != "pending" {
		t.Errorf("unexpected response %v", resp)
	}

	if len(pub.jobs) != 1 {
		t.Fatalf("published %d jobs, want 1", len(pub.jobs))
	}
	job := pub.jobs[0]
	if job.Params.MonthsAhead != 6 {
		t.Errorf("MonthsAhead = %d", job.Params.MonthsAhead)
	}
	wantStart := time.Date(2023, time.January, 1, 0, 0, 0, 0, time.UTC)
	if job.Scope.StartDate == nil || !job.Scope.StartDate.Equal(wantStart) {
		t.Errorf("StartDate = %v", job.Scope.StartDate)
	}
}

func TestCreateJob_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed body", `{"type":`},
		{"unknown type", `{"type":"predict","scope":{"organization_id":"org-1"}}`},
		{"missing organization", `{"type":"cluster","scope":{}}`},
		{"bad date", `{"type":"cluster","scope":{"organization_id":"org-1","start_date":"01/02/2023"}}`},
		{"reversed range", `{"type":"cluster","scope":{"organization_id":"org-1","start_date":"2024-01-01","end_date":"2023-01-01"}}`},
		{"negative param", `{"type":"cluster","scope":{"organization_id":"org-1"},"params":{"n_clusters":-1}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &recordingPublisher{store: inmemory.NewStore()}
			rec := httptest.NewRecorder()
			newTestMux(pub).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/analytics/jobs", bytes.NewBufferString(tt.body)))

			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
			if len(pub.jobs) != 0 {
				t.Error("no job should be published")
			}
		})
	}
}

func TestCreateJob_PublishFailure(t *testing.T) {
	pub := &recordingPublisher{store: inmemory.NewStore(), err: errors.New("queue is closed")}
	rec := httptest.NewRecorder()
	body := `{"type":"cluster","scope":{"organization_id":"org-1"}}`
	newTestMux(pub).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/analytics/jobs", bytes.NewBufferString(body)))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestGetJob(t *testing.T) {
	store := inmemory.NewStore()
	_ = store.SaveJob(context.Background(), &jobs.AnalysisJob{
		JobID:  "job-1",
		Type:   jobs.JobTypeCluster,
		Status: jobs.JobStatusCompleted,
		Scope:  domain.Scope{OrganizationID: "org-1"},
		Result: json.RawMessage(`{"success":true,"message":"identified 2 spending clusters","data":[]}`),
	})
	mux := newTestMux(&recordingPublisher{store: store})

	tests := []struct {
		name   string
		method string
		path   string
		want   int
	}{
		{"found", http.MethodGet, "/api/analytics/jobs/job-1", http.StatusOK},
		{"missing", http.MethodGet, "/api/analytics/jobs/nope", http.StatusNotFound},
		{"empty id", http.MethodGet, "/api/analytics/jobs/", http.StatusBadRequest},
		{"wrong method", http.MethodDelete, "/api/analytics/jobs/job-1", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/analytics/jobs/job-1", nil))
	var job jobs.AnalysisJob
	if err := json.Unmarshal(rec.Body.Bytes(), &job); err != nil {
		t.Fatalf("decoding job: %v", err)
	}
	var result struct {
		Success bool `json:"success"`
	}
	if err := json.Unmarshal(job.Result, &result); err != nil || !result.Success {
		t.Errorf("result not embedded as JSON: %s", job.Result)
	}
}

func TestListJobs(t *testing.T) {
	pub := &recordingPublisher{store: inmemory.NewStore()}
	mux := newTestMux(pub)
	for _, body := range []string{
		`{"type":"cluster","scope":{"organization_id":"org-1"}}`,
		`{"type":"detect_all","scope":{"organization_id":"org-1"}}`,
		`{"type":"cluster","scope":{"organization_id":"org-2"}}`,
	} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/analytics/jobs", bytes.NewBufferString(body)))
		if rec.Code != http.StatusAccepted {
			t.Fatalf("create status = %d", rec.Code)
		}
	}

	tests := []struct {
		query string
		want  int
	}{
		{"", 3},
		{"?organization_id=org-1", 2},
		{"?type=cluster", 2},
		{"?organization_id=org-1&type=cluster", 1},
		{"?limit=1", 1},
		{"?status=failed", 0},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/analytics/jobs"+tt.query, nil))
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d", rec.Code)
			}
			var resp struct {
				Jobs  []jobs.AnalysisJob `json:"jobs"`
				Count int                `json:"count"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decoding response: %v", err)
			}
			if resp.Count != tt.want || len(resp.Jobs) != tt.want {
				t.Errorf("count = %d, jobs = %d, want %d", resp.Count, len(resp.Jobs), tt.want)
			}
		})
	}
}

func TestHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %s", ct)
	}
}
