package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/dvloznov/finance-analytics/internal/domain"
)

// JobType represents the analysis a job runs.
type JobType string

const (
	// JobTypeDetectAnomalies runs the statistical anomaly detector.
	JobTypeDetectAnomalies JobType = "detect_anomalies"
	// JobTypeDetectMultivariate runs the density-based anomaly detector.
	JobTypeDetectMultivariate JobType = "detect_multivariate"
	// JobTypeDetectAll runs both detectors and merges their findings.
	JobTypeDetectAll JobType = "detect_all"
	// JobTypeForecastSpending forecasts monthly spending.
	JobTypeForecastSpending JobType = "forecast_spending"
	// JobTypeForecastCashFlow forecasts monthly net cash flow.
	JobTypeForecastCashFlow JobType = "forecast_cash_flow"
	// JobTypeCluster segments transactions into behavioral clusters.
	JobTypeCluster JobType = "cluster"
)

// Valid reports whether t is a known job type.
func (t JobType) Valid() bool {
	switch t {
	case JobTypeDetectAnomalies, JobTypeDetectMultivariate, JobTypeDetectAll,
		JobTypeForecastSpending, JobTypeForecastCashFlow, JobTypeCluster:
		return true
	}
	return false
}

// JobStatus represents the current status of a job.
type JobStatus string

const (
	// JobStatusPending indicates the job is waiting to be processed.
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning indicates the job is currently being processed.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates the job completed successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the job failed.
	JobStatusFailed JobStatus = "failed"
	// JobStatusRetrying indicates the job failed and is being retried.
	JobStatusRetrying JobStatus = "retrying"
)

// ErrJobNotFound is returned by a JobStore for an unknown job id.
var ErrJobNotFound = errors.New("job not found")

// Params are the optional analysis parameters. Zero values select the
// engine defaults.
type Params struct {
	Threshold     float64 `json:"threshold,omitempty"`
	Contamination float64 `json:"contamination,omitempty"`
	MonthsAhead   int     `json:"months_ahead,omitempty"`
	Clusters      int     `json:"n_clusters,omitempty"`
}

// AnalysisJob represents one analysis over a transaction scope.
type AnalysisJob struct {
	// JobID is the unique identifier for this job.
	JobID string `json:"job_id"`

	// Type selects the analysis.
	Type JobType `json:"type"`

	// Scope selects the transactions to analyze.
	Scope domain.Scope `json:"scope"`

	// Params tunes the analysis.
	Params Params `json:"params"`

	// Status is the current status of the job.
	Status JobStatus `json:"status"`

	// Result is the encoded engine result once the job has completed. A
	// completed job may still carry an unsuccessful result.
	Result json.RawMessage `json:"result,omitempty"`

	// CreatedAt is when the job was created.
	CreatedAt time.Time `json:"created_at"`

	// StartedAt is when the job started processing.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// CompletedAt is when the job completed (success or failure).
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Error contains error details if the job failed.
	Error string `json:"error,omitempty"`

	// RetryCount is the number of times this job has been retried.
	RetryCount int `json:"retry_count"`

	// MaxRetries is the maximum number of retries allowed.
	MaxRetries int `json:"max_retries"`
}

// Publisher defines the interface for publishing jobs to a queue.
// This abstraction allows for different queue implementations (in-memory, Cloud Tasks, Pub/Sub).
type Publisher interface {
	// PublishAnalysis publishes an analysis job.
	PublishAnalysis(ctx context.Context, job *AnalysisJob) error

	// Close closes the publisher and releases resources.
	Close() error
}

// Consumer defines the interface for consuming jobs from a queue.
type Consumer interface {
	// Start begins consuming jobs from the queue.
	// The handler function is called for each job received.
	Start(ctx context.Context, handler JobHandler) error

	// Stop stops consuming jobs and waits for in-flight jobs to complete.
	Stop(ctx context.Context) error
}

// JobHandler processes a job and may set its Result.
// It should return an error if the job failed and should be retried.
type JobHandler func(ctx context.Context, job *AnalysisJob) error

// JobStore defines the interface for storing and retrieving job status.
type JobStore interface {
	// SaveJob saves or updates a job's state.
	SaveJob(ctx context.Context, job *AnalysisJob) error

	// GetJob retrieves a job by ID. It returns ErrJobNotFound for unknown ids.
	GetJob(ctx context.Context, jobID string) (*AnalysisJob, error)

	// ListJobs retrieves jobs with optional filtering, newest first.
	ListJobs(ctx context.Context, filter JobFilter) ([]*AnalysisJob, error)

	// UpdateJobStatus updates the status of a job.
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errorMsg string) error
}

// JobFilter defines filtering criteria for listing jobs.
type JobFilter struct {
	// OrganizationID filters jobs by scope organization.
	OrganizationID string

	// Type filters jobs by analysis type.
	Type JobType

	// Status filters jobs by status.
	Status JobStatus

	// Limit limits the number of results.
	Limit int

	// Offset for pagination.
	Offset int
}
