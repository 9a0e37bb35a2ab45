package observability

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics tracks operational metrics for the analysis pipeline. All methods
// are safe on a nil *Metrics so components can run without instrumentation.
type Metrics struct {
	registry *prometheus.Registry

	stepRuns     *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec
	searches     *prometheus.CounterVec
	scrapes      *prometheus.CounterVec
	semantic     *prometheus.CounterVec
	llmCalls     *prometheus.CounterVec
	stored       *prometheus.CounterVec

	logger *slog.Logger
}

// NewMetrics creates a Metrics instance with its own registry.
func NewMetrics(logger *slog.Logger) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		stepRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rankwatch",
			Name:      "step_runs_total",
			Help:      "Pipeline step executions by outcome.",
		}, []string{"step", "outcome"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "rankwatch",
			Name:      "step_duration_seconds",
			Help:      "Pipeline step latency.",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60},
		}, []string{"step"}),
		searches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rankwatch",
			Name:      "search_attempts_total",
			Help:      "Search provider calls by provider and outcome.",
		}, []string{"provider", "outcome"}),
		scrapes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rankwatch",
			Name:      "scrapes_total",
			Help:      "Article scrapes by mode and outcome.",
		}, []string{"mode", "outcome"}),
		semantic: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rankwatch",
			Name:      "semantic_insights_total",
			Help:      "Semantic diff attempts by availability.",
		}, []string{"outcome"}),
		llmCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rankwatch",
			Name:      "llm_calls_total",
			Help:      "LLM generations by provider and outcome.",
		}, []string{"provider", "outcome"}),
		stored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rankwatch",
			Name:      "results_stored_total",
			Help:      "Persisted analysis results by backend and outcome.",
		}, []string{"backend", "outcome"}),
		logger: logger.With("component", "metrics"),
	}

	m.registry.MustRegister(
		m.stepRuns, m.stepDuration, m.searches, m.scrapes,
		m.semantic, m.llmCalls, m.stored,
		collectors.NewGoCollector(),
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// StepObserved records one step execution.
func (m *Metrics) StepObserved(step string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.stepRuns.WithLabelValues(step, outcome(err)).Inc()
	m.stepDuration.WithLabelValues(step).Observe(d.Seconds())
}

// SearchObserved records one search provider call.
func (m *Metrics) SearchObserved(provider, result string) {
	if m == nil {
		return
	}
	m.searches.WithLabelValues(provider, result).Inc()
}

// ScrapeObserved records one article scrape.
func (m *Metrics) ScrapeObserved(mode string, err error) {
	if m == nil {
		return
	}
	m.scrapes.WithLabelValues(mode, outcome(err)).Inc()
}

// SemanticObserved records whether a semantic insight was produced.
func (m *Metrics) SemanticObserved(available bool) {
	if m == nil {
		return
	}
	result := "unavailable"
	if available {
		result = "available"
	}
	m.semantic.WithLabelValues(result).Inc()
}

// LLMObserved records one LLM generation.
func (m *Metrics) LLMObserved(provider string, err error) {
	if m == nil {
		return
	}
	m.llmCalls.WithLabelValues(provider, outcome(err)).Inc()
}

// StoreObserved records one result persistence attempt.
func (m *Metrics) StoreObserved(backend string, err error) {
	if m == nil {
		return
	}
	m.stored.WithLabelValues(backend, outcome(err)).Inc()
}

// Handler serves metrics in Prometheus text exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
