// Package scheduler enqueues recurring analyses for a fixed set of
// organizations on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dvloznov/finance-analytics/internal/domain"
	"github.com/dvloznov/finance-analytics/internal/jobs"
	"github.com/dvloznov/finance-analytics/internal/logger"
)

// DefaultJobTypes are the analyses run for every organization.
var DefaultJobTypes = []jobs.JobType{
	jobs.JobTypeDetectAll,
	jobs.JobTypeForecastSpending,
	jobs.JobTypeForecastCashFlow,
	jobs.JobTypeCluster,
}

// Scheduler publishes one job per organization and job type on each tick.
type Scheduler struct {
	cron           *cron.Cron
	publisher      jobs.Publisher
	organizations  []string
	jobTypes       []jobs.JobType
	lookbackMonths int
	now            func() time.Time
}

// New creates a scheduler. lookbackMonths <= 0 leaves the scope start open.
func New(publisher jobs.Publisher, organizations []string, lookbackMonths int) *Scheduler {
	return &Scheduler{
		cron:           cron.New(),
		publisher:      publisher,
		organizations:  organizations,
		jobTypes:       DefaultJobTypes,
		lookbackMonths: lookbackMonths,
		now:            time.Now,
	}
}

// Start registers the enqueue run on schedule and starts the cron loop.
// Runs use ctx for logging and publishing.
func (s *Scheduler) Start(ctx context.Context, schedule string) error {
	_, err := s.cron.AddFunc(schedule, func() {
		if err := s.Enqueue(ctx); err != nil {
			log := logger.FromContext(ctx)
			log.Error().Err(err).Msg("Scheduled analysis run failed")
		}
	})
	if err != nil {
		return fmt.Errorf("Start: parsing schedule %q: %w", schedule, err)
	}
	s.cron.Start()
	log := logger.FromContext(ctx)
	log.Info().
		Str("schedule", schedule).
		Int("organizations", len(s.organizations)).
		Msg("Scheduler started")
	return nil
}

// Stop stops the cron loop and waits for a running enqueue to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Enqueue publishes the scheduled jobs now. It keeps going after a failed
// publish and returns the first error.
func (s *Scheduler) Enqueue(ctx context.Context) error {
	log := logger.FromContext(ctx)
	end := s.now().UTC()
	var start *time.Time
	if s.lookbackMonths > 0 {
		t := end.AddDate(0, -s.lookbackMonths, 0)
		start = &t
	}

	var firstErr error
	published := 0
	for _, org := range s.organizations {
		for _, jobType := range s.jobTypes {
			endCopy := end
			job := &jobs.AnalysisJob{
				Type: jobType,
				Scope: domain.Scope{
					OrganizationID: org,
					StartDate:      start,
					EndDate:        &endCopy,
				},
			}
			if err := s.publisher.PublishAnalysis(ctx, job); err != nil {
				log.Error().Err(err).Str("organization_id", org).Str("job_type", string(jobType)).Msg("Failed to enqueue scheduled job")
				if firstErr == nil {
					firstErr = fmt.Errorf("Enqueue: publishing %s for %s: %w", jobType, org, err)
				}
				continue
			}
			published++
		}
	}
	log.Info().Int("jobs", published).Msg("Scheduled analyses enqueued")
	return firstErr
}
