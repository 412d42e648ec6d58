// Package analysis runs analysis jobs: it fetches the job's transactions,
// dispatches to the engine and stores the encoded result on the job.
package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dvloznov/finance-analytics/internal/analytics"
	"github.com/dvloznov/finance-analytics/internal/domain"
	"github.com/dvloznov/finance-analytics/internal/infra/bigquery"
	"github.com/dvloznov/finance-analytics/internal/jobs"
	"github.com/dvloznov/finance-analytics/internal/logger"
)

// Service implements jobs.JobHandler over an Engine.
type Service struct {
	transactions bigquery.TransactionRepository
	categories   bigquery.CategoryRepository
	engine       *analytics.Engine
}

// NewService creates a service. categories may be nil, in which case outputs
// carry category ids only.
func NewService(transactions bigquery.TransactionRepository, categories bigquery.CategoryRepository, engine *analytics.Engine) *Service {
	return &Service{
		transactions: transactions,
		categories:   categories,
		engine:       engine,
	}
}

// Handle runs job and stores its result. Analysis failures such as too little
// history are recorded in the result and do not fail the job; store errors do.
func (s *Service) Handle(ctx context.Context, job *jobs.AnalysisJob) error {
	log := logger.WithFields(logger.FromContext(ctx), map[string]interface{}{
		"job_id":          job.JobID,
		"job_type":        string(job.Type),
		"organization_id": job.Scope.OrganizationID,
	})
	ctx = logger.WithContext(ctx, log)

	if !job.Type.Valid() {
		return fmt.Errorf("Handle: unknown job type %q", job.Type)
	}

	records, err := s.transactions.FetchTransactions(ctx, job.Scope)
	if err != nil {
		return fmt.Errorf("Handle: fetching transactions: %w", err)
	}
	log.Info().Int("transactions", len(records)).Msg("Running analysis")

	result, err := s.Run(ctx, job.Type, job.Scope.OrganizationID, records, job.Params)
	if err != nil {
		return err
	}

	encoded, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("Handle: encoding result: %w", err)
	}
	job.Result = encoded
	return nil
}

// Run executes one analysis over records. Zero parameters fall back to the
// engine defaults. The returned value is an analytics.Result of the payload
// matching the job type.
func (s *Service) Run(ctx context.Context, jobType jobs.JobType, org string, records []domain.TransactionRecord, params jobs.Params) (any, error) {
	p := s.resolve(params)

	switch jobType {
	case jobs.JobTypeDetectAnomalies:
		res := s.engine.DetectAnomalies(ctx, org, records, p.Threshold)
		s.nameFindings(ctx, res.Data)
		return finish(res)
	case jobs.JobTypeDetectMultivariate:
		res := s.engine.DetectMultivariate(ctx, org, records, p.Contamination)
		s.nameFindings(ctx, res.Data)
		return finish(res)
	case jobs.JobTypeDetectAll:
		res := s.engine.DetectAll(ctx, org, records, p.Threshold, p.Contamination)
		s.nameFindings(ctx, res.Data)
		return finish(res)
	case jobs.JobTypeForecastSpending:
		return finish(s.engine.ForecastSpending(ctx, org, records, p.MonthsAhead))
	case jobs.JobTypeForecastCashFlow:
		return finish(s.engine.ForecastCashFlow(ctx, org, records, p.MonthsAhead))
	case jobs.JobTypeCluster:
		res := s.engine.Cluster(ctx, records, p.Clusters)
		s.nameClusters(ctx, res.Data)
		return finish(res)
	default:
		return nil, fmt.Errorf("Run: unknown job type %q", jobType)
	}
}

// finish passes res through unless the analysis was cut short by its context.
// An interrupted run is returned as an error so the queue retries the job.
func finish[T any](res analytics.Result[T]) (any, error) {
	if err := res.Err(); errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("Run: analysis interrupted: %w", err)
	}
	return res, nil
}

func (s *Service) resolve(p jobs.Params) jobs.Params {
	d := s.engine.Defaults()
	if p.Threshold == 0 {
		p.Threshold = d.Threshold
	}
	if p.Contamination == 0 {
		p.Contamination = d.Contamination
	}
	if p.MonthsAhead == 0 {
		p.MonthsAhead = d.MonthsAhead
	}
	if p.Clusters == 0 {
		p.Clusters = d.Clusters
	}
	return p
}

// categoryNames loads display names. A lookup failure leaves names empty.
func (s *Service) categoryNames(ctx context.Context) map[string]string {
	if s.categories == nil {
		return nil
	}
	rows, err := s.categories.ListActiveCategories(ctx)
	if err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Msg("Failed to load category names")
		return nil
	}
	return bigquery.CategoryNames(rows)
}

func (s *Service) nameFindings(ctx context.Context, findings []domain.AnomalyFinding) {
	if len(findings) == 0 {
		return
	}
	names := s.categoryNames(ctx)
	for i := range findings {
		if id := findings[i].Context.Category; id != "" {
			findings[i].Context.CategoryName = names[id]
		}
	}
}

func (s *Service) nameClusters(ctx context.Context, clusters []domain.Cluster) {
	if len(clusters) == 0 {
		return
	}
	names := s.categoryNames(ctx)
	for i := range clusters {
		for j := range clusters[i].TopCategories {
			clusters[i].TopCategories[j].Name = names[clusters[i].TopCategories[j].Label]
		}
	}
}
