// Package app wires the shared components of the service binaries from
// configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/dvloznov/finance-analytics/internal/analysis"
	"github.com/dvloznov/finance-analytics/internal/analytics"
	"github.com/dvloznov/finance-analytics/internal/config"
	"github.com/dvloznov/finance-analytics/internal/infra/bigquery"
	"github.com/dvloznov/finance-analytics/internal/jobs/inmemory"
	"github.com/dvloznov/finance-analytics/internal/logger"
	"github.com/dvloznov/finance-analytics/internal/metrics"
	"github.com/dvloznov/finance-analytics/internal/modelcache"
	"github.com/dvloznov/finance-analytics/internal/modelstore"
)

// App holds the components every binary needs.
type App struct {
	Config   *config.Config
	Log      zerolog.Logger
	Metrics  *metrics.Metrics
	Repo     *bigquery.Repository
	Registry *modelcache.Registry
	Engine   *analytics.Engine
	Service  *analysis.Service

	closers []func() error
}

// NewLogger builds the service logger from cfg.
func NewLogger(cfg config.LogConfig, service string) (zerolog.Logger, error) {
	return logger.NewFromConfig(logger.Config{
		Level:   cfg.Level,
		Format:  cfg.Format,
		Service: service,
	}, os.Stdout)
}

// New connects to BigQuery and the configured model store and builds the
// engine. Call Close when done.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	if cfg.GCP.ProjectID == "" {
		return nil, errors.New("New: gcp.project_id is required")
	}
	ctx = logger.WithContext(ctx, log)

	a := &App{
		Config:  cfg,
		Log:     log,
		Metrics: metrics.New(),
	}

	repo, err := bigquery.NewRepository(ctx, cfg.GCP.ProjectID, cfg.GCP.Dataset)
	if err != nil {
		return nil, fmt.Errorf("New: %w", err)
	}
	a.Repo = repo
	a.closers = append(a.closers, repo.Close)

	store, closeStore, err := modelstore.Open(ctx, cfg.ModelStore, repo)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("New: %w", err)
	}
	a.closers = append(a.closers, closeStore)

	a.Registry = modelcache.New(store, a.Metrics)
	a.Engine = analytics.NewEngine(a.Registry, a.Metrics, EngineConfig(cfg.Engine))
	a.Service = analysis.NewService(repo, repo, a.Engine)
	return a, nil
}

// Context returns ctx carrying the application logger.
func (a *App) Context(ctx context.Context) context.Context {
	return logger.WithContext(ctx, a.Log)
}

// NewQueue builds the in-process job queue and store.
func (a *App) NewQueue() (*inmemory.Queue, *inmemory.Store) {
	store := inmemory.NewStore()
	queue := inmemory.NewQueue(QueueConfig(a.Config.Queue), store, a.Metrics)
	return queue, store
}

// Close releases clients in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// EngineConfig maps configuration onto engine defaults.
func EngineConfig(c config.EngineConfig) analytics.Config {
	d := analytics.DefaultConfig()
	if c.Threshold > 0 {
		d.Threshold = c.Threshold
	}
	if c.Contamination > 0 {
		d.Contamination = c.Contamination
	}
	if c.Seed != 0 {
		d.Seed = c.Seed
	}
	if c.ForestTrees > 0 {
		d.ForestTrees = c.ForestTrees
	}
	if c.Clusters > 0 {
		d.Clusters = c.Clusters
	}
	if c.MonthsAhead > 0 {
		d.MonthsAhead = c.MonthsAhead
	}
	return d
}

// QueueConfig maps configuration onto the worker pool settings.
func QueueConfig(c config.QueueConfig) inmemory.QueueConfig {
	return inmemory.QueueConfig{
		BufferSize: c.BufferSize,
		Workers:    c.Workers,
		MaxRetries: c.MaxRetries,
		Backoff:    c.Backoff,
	}
}
