// Package metrics exposes Prometheus instruments for the analytics engine,
// the model cache and the job queue.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "finance_analytics"

// Outcome labels.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Metrics holds every instrument on a private registry so tests can create
// as many instances as they need.
type Metrics struct {
	registry *prometheus.Registry

	operations        *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	findings          *prometheus.CounterVec

	cacheHits     *prometheus.CounterVec
	cacheMisses   *prometheus.CounterVec
	cacheLoads    *prometheus.CounterVec
	modelTraining *prometheus.HistogramVec

	jobs *prometheus.CounterVec
}

// New registers all instruments on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "operations_total",
			Help:      "Analytics operations by name and outcome",
		}, []string{"operation", "outcome", "error_kind"}),
		operationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "operation_duration_seconds",
			Help:      "Time spent in analytics operations",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"operation"}),
		findings: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "anomaly_findings_total",
			Help:      "Anomaly findings by detection type and severity",
		}, []string{"type", "severity"}),
		cacheHits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "model_cache",
			Name:      "hits_total",
			Help:      "Model lookups served from memory",
		}, []string{"model_type"}),
		cacheMisses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "model_cache",
			Name:      "misses_total",
			Help:      "Model lookups that required training",
		}, []string{"model_type"}),
		cacheLoads: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "model_cache",
			Name:      "store_loads_total",
			Help:      "Models reloaded from the model store",
		}, []string{"model_type"}),
		modelTraining: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "model_cache",
			Name:      "training_duration_seconds",
			Help:      "Time spent fitting models",
			Buckets:   prometheus.DefBuckets,
		}, []string{"model_type"}),
		jobs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "processed_total",
			Help:      "Analysis jobs processed by kind and final status",
		}, []string{"kind", "status"}),
	}
}

// ObserveOperation records one engine call.
func (m *Metrics) ObserveOperation(operation, outcome, errorKind string, d time.Duration) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, outcome, errorKind).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// AddFinding counts one anomaly finding.
func (m *Metrics) AddFinding(detectionType, severity string) {
	if m == nil {
		return
	}
	m.findings.WithLabelValues(detectionType, severity).Inc()
}

// CacheHit counts a model served from memory.
func (m *Metrics) CacheHit(modelType string) {
	if m == nil {
		return
	}
	m.cacheHits.WithLabelValues(modelType).Inc()
}

// CacheMiss counts a model that had to be trained.
func (m *Metrics) CacheMiss(modelType string, training time.Duration) {
	if m == nil {
		return
	}
	m.cacheMisses.WithLabelValues(modelType).Inc()
	m.modelTraining.WithLabelValues(modelType).Observe(training.Seconds())
}

// CacheLoad counts a model reloaded from the store.
func (m *Metrics) CacheLoad(modelType string) {
	if m == nil {
		return
	}
	m.cacheLoads.WithLabelValues(modelType).Inc()
}

// JobProcessed counts a job reaching a terminal status.
func (m *Metrics) JobProcessed(kind, status string) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(kind, status).Inc()
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
