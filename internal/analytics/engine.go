// Package analytics is the entry point to the analytics engine. Engine runs
// detection, forecasting and clustering over an already-fetched snapshot of
// transactions and reports every outcome as a Result instead of an error.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"

	"github.com/dvloznov/finance-analytics/internal/analytics/aggregate"
	"github.com/dvloznov/finance-analytics/internal/analytics/anomaly"
	"github.com/dvloznov/finance-analytics/internal/analytics/cluster"
	"github.com/dvloznov/finance-analytics/internal/analytics/errs"
	"github.com/dvloznov/finance-analytics/internal/analytics/features"
	"github.com/dvloznov/finance-analytics/internal/analytics/forecast"
	"github.com/dvloznov/finance-analytics/internal/domain"
	"github.com/dvloznov/finance-analytics/internal/logger"
	"github.com/dvloznov/finance-analytics/internal/metrics"
	"github.com/dvloznov/finance-analytics/internal/modelcache"
)

// Operation names used in logs and metrics.
const (
	OpDetectAnomalies    = "detect_anomalies"
	OpDetectMultivariate = "detect_multivariate"
	OpDetectAll          = "detect_all"
	OpForecastSpending   = "forecast_spending"
	OpForecastCashFlow   = "forecast_cash_flow"
	OpCluster            = "cluster"
)

// Config holds the defaults callers fall back to for unset parameters, plus
// the fixed model settings.
type Config struct {
	Threshold     float64
	Contamination float64
	Seed          int64
	ForestTrees   int
	Clusters      int
	MonthsAhead   int
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		Threshold:     2.5,
		Contamination: anomaly.DefaultContamination,
		Seed:          42,
		ForestTrees:   forecast.DefaultTrees,
		Clusters:      5,
		MonthsAhead:   3,
	}
}

// Engine runs analyses. It is safe for concurrent use; the only shared state
// is the model registry.
type Engine struct {
	registry *modelcache.Registry
	metrics  *metrics.Metrics
	cfg      Config
}

// NewEngine creates an engine. registry and m may be nil; without a registry
// every call fits its models from scratch.
func NewEngine(registry *modelcache.Registry, m *metrics.Metrics, cfg Config) *Engine {
	return &Engine{registry: registry, metrics: m, cfg: cfg}
}

// Defaults returns the engine configuration.
func (e *Engine) Defaults() Config {
	return e.cfg
}

// DetectAnomalies flags transactions whose amount is unusual globally or
// within their category, weekday or merchant group.
func (e *Engine) DetectAnomalies(ctx context.Context, org string, records []domain.TransactionRecord, threshold float64) Result[[]domain.AnomalyFinding] {
	start := time.Now()
	findings, err := anomaly.Detect(records, threshold)
	return e.findingsResult(ctx, OpDetectAnomalies, start, findings, err)
}

// DetectMultivariate flags transactions an isolation forest over the full
// feature vector labels as outliers. The forest is cached per organization
// and input.
func (e *Engine) DetectMultivariate(ctx context.Context, org string, records []domain.TransactionRecord, contamination float64) Result[[]domain.AnomalyFinding] {
	start := time.Now()
	findings, err := e.detectMultivariate(ctx, org, records, contamination)
	return e.findingsResult(ctx, OpDetectMultivariate, start, findings, err)
}

func (e *Engine) detectMultivariate(ctx context.Context, org string, records []domain.TransactionRecord, contamination float64) ([]domain.AnomalyFinding, error) {
	cfg := anomaly.DefaultForestConfig()
	cfg.Contamination = contamination
	cfg.Seed = e.cfg.Seed
	return anomaly.DetectMultivariate(records, cfg, e.forestProvider(ctx, org))
}

// DetectAll runs both detectors concurrently and merges their findings. A
// multivariate pass that lacks data is skipped; any other failure fails the
// whole call.
func (e *Engine) DetectAll(ctx context.Context, org string, records []domain.TransactionRecord, threshold, contamination float64) Result[[]domain.AnomalyFinding] {
	start := time.Now()
	log := logger.FromContext(ctx)

	var statistical, multivariate []domain.AnomalyFinding
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		statistical, err = anomaly.Detect(records, threshold)
		return err
	})
	g.Go(func() error {
		var err error
		multivariate, err = e.detectMultivariate(gctx, org, records, contamination)
		if errors.Is(err, errs.ErrInsufficientData) {
			log.Info().Err(err).Msg("Skipping multivariate detection")
			return nil
		}
		return err
	})
	err := g.Wait()

	var merged []domain.AnomalyFinding
	if err == nil {
		merged = aggregate.Merge(statistical, multivariate)
	}
	return e.findingsResult(ctx, OpDetectAll, start, merged, err)
}

// ForecastSpending predicts total monthly outflows.
func (e *Engine) ForecastSpending(ctx context.Context, org string, records []domain.TransactionRecord, monthsAhead int) Result[[]domain.ForecastPoint] {
	start := time.Now()
	points, err := forecast.Spending(records, monthsAhead, e.forecastConfig(), e.modelProvider(ctx, org))
	return e.forecastResult(ctx, OpForecastSpending, start, points, err)
}

// ForecastCashFlow predicts monthly net cash flow.
func (e *Engine) ForecastCashFlow(ctx context.Context, org string, records []domain.TransactionRecord, monthsAhead int) Result[[]domain.ForecastPoint] {
	start := time.Now()
	points, err := forecast.CashFlow(records, monthsAhead, e.forecastConfig(), e.modelProvider(ctx, org))
	return e.forecastResult(ctx, OpForecastCashFlow, start, points, err)
}

// Cluster segments transactions into at most nClusters groups.
func (e *Engine) Cluster(ctx context.Context, records []domain.TransactionRecord, nClusters int) Result[[]domain.Cluster] {
	start := time.Now()
	cfg := cluster.DefaultKMeansConfig()
	cfg.Seed = e.cfg.Seed
	clusters, err := cluster.Cluster(records, nClusters, cfg)
	if err != nil {
		e.fail(ctx, OpCluster, start, err)
		return Fail[[]domain.Cluster](err)
	}
	e.succeed(ctx, OpCluster, start, len(clusters))
	return Ok(clusters, fmt.Sprintf("identified %d spending clusters", len(clusters)))
}

func (e *Engine) findingsResult(ctx context.Context, op string, start time.Time, findings []domain.AnomalyFinding, err error) Result[[]domain.AnomalyFinding] {
	if err != nil {
		e.fail(ctx, op, start, err)
		return Fail[[]domain.AnomalyFinding](err)
	}
	e.succeed(ctx, op, start, len(findings))
	for _, f := range findings {
		e.metrics.AddFinding(string(f.Type), f.Severity.String())
	}
	if len(findings) == 0 {
		return Ok([]domain.AnomalyFinding{}, NoAnomaliesMessage)
	}
	return Ok(findings, fmt.Sprintf("found %d anomalous transactions", len(findings)))
}

func (e *Engine) forecastResult(ctx context.Context, op string, start time.Time, points []domain.ForecastPoint, err error) Result[[]domain.ForecastPoint] {
	if err != nil {
		e.fail(ctx, op, start, err)
		return Fail[[]domain.ForecastPoint](err)
	}
	e.succeed(ctx, op, start, len(points))
	return Ok(points, fmt.Sprintf("forecast %d months ahead", len(points)))
}

func (e *Engine) succeed(ctx context.Context, op string, start time.Time, items int) {
	d := time.Since(start)
	e.metrics.ObserveOperation(op, metrics.OutcomeSuccess, "", d)
	log := logger.FromContext(ctx)
	log.Debug().
		Str("operation", op).
		Int("items", items).
		Dur("duration", d).
		Msg("Analysis completed")
}

func (e *Engine) fail(ctx context.Context, op string, start time.Time, err error) {
	kind := errs.KindOf(err)
	e.metrics.ObserveOperation(op, metrics.OutcomeFailure, string(kind), time.Since(start))
	log := logger.FromContext(ctx)
	log.Warn().
		Err(err).
		Str("operation", op).
		Str("error_kind", string(kind)).
		Msg("Analysis failed")
}

func (e *Engine) forecastConfig() forecast.Config {
	cfg := forecast.DefaultConfig()
	if e.cfg.ForestTrees > 0 {
		cfg.Trees = e.cfg.ForestTrees
	}
	cfg.Seed = e.cfg.Seed
	return cfg
}

// forestProvider caches isolation forests by the input matrix and forest
// settings.
func (e *Engine) forestProvider(ctx context.Context, org string) anomaly.ForestProvider {
	if e.registry == nil {
		return nil
	}
	return func(m features.Matrix, cfg anomaly.ForestConfig) (*anomaly.IsolationForest, error) {
		key := modelcache.Key{
			Organization: org,
			ModelType:    anomaly.ModelTypeIsolationForest,
			Signature: signature(m.Fingerprint(),
				strconv.FormatFloat(cfg.Contamination, 'g', -1, 64),
				strconv.Itoa(cfg.Trees),
				strconv.Itoa(cfg.MaxSamples),
				strconv.FormatInt(cfg.Seed, 10)),
		}
		return modelcache.Fetch(ctx, e.registry, key, func() (*anomaly.IsolationForest, error) {
			return anomaly.FitIsolationForest(m, cfg)
		})
	}
}

// modelProvider caches forecast models by the monthly series and forest
// settings.
func (e *Engine) modelProvider(ctx context.Context, org string) forecast.ModelProvider {
	if e.registry == nil {
		return nil
	}
	cfg := e.forecastConfig()
	return func(target domain.ForecastTarget, s forecast.Series, fit func() (*forecast.Model, error)) (*forecast.Model, error) {
		key := modelcache.Key{
			Organization: org,
			ModelType:    forecast.ModelType(target),
			Signature: signature(s.Fingerprint(),
				strconv.Itoa(cfg.Trees),
				strconv.FormatInt(cfg.Seed, 10)),
		}
		return modelcache.Fetch(ctx, e.registry, key, fit)
	}
}

// signature hashes a data fingerprint together with model parameters.
func signature(fingerprint uint64, params ...string) string {
	d := xxhash.New()
	_, _ = d.WriteString(strconv.FormatUint(fingerprint, 16))
	for _, p := range params {
		_, _ = d.WriteString("|")
		_, _ = d.WriteString(p)
	}
	return strconv.FormatUint(d.Sum64(), 16)
}
