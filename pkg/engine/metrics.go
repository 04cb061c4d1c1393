package engine

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tollboothapp/tollbooth/pkg/domain"
)

// Metrics holds all Prometheus metrics for the rule engine
type Metrics struct {
	// Evaluation metrics
	evaluationsTotal   *prometheus.CounterVec
	evaluationDuration *prometheus.HistogramVec

	// Action outcomes
	actionsTotal  *prometheus.CounterVec
	warningsTotal prometheus.Counter

	// Rule set lifecycle
	ruleSetReloads *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics instance with all engine metrics
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		evaluationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tollbooth_evaluations_total",
				Help: "Total number of rule evaluations by direction and outcome",
			},
			[]string{"direction", "outcome"},
		),

		evaluationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tollbooth_evaluation_duration_seconds",
				Help:    "Rule evaluation latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"direction"},
		),

		actionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tollbooth_actions_total",
				Help: "Total number of applied actions by type and disposition",
			},
			[]string{"action", "disposition"},
		),

		warningsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tollbooth_action_warnings_total",
				Help: "Total number of warnings emitted while applying actions",
			},
		),

		ruleSetReloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tollbooth_ruleset_reloads_total",
				Help: "Total number of rule set reload attempts by status",
			},
			[]string{"status"},
		),

		registry: registry,
	}

	registry.MustRegister(
		m.evaluationsTotal,
		m.evaluationDuration,
		m.actionsTotal,
		m.warningsTotal,
		m.ruleSetReloads,
	)

	return m
}

// RecordEvaluation records metrics for a completed evaluation
func (m *Metrics) RecordEvaluation(direction domain.Direction, result *domain.MatchResult, elapsed time.Duration) {
	outcome := "no_match"
	if result.Matched {
		outcome = "matched"
	}
	m.evaluationsTotal.WithLabelValues(string(direction), outcome).Inc()
	m.evaluationDuration.WithLabelValues(string(direction)).Observe(elapsed.Seconds())

	if result.Rule != nil {
		m.actionsTotal.WithLabelValues(string(result.Rule.Action.Type), string(result.Disposition)).Inc()
	}
	if n := len(result.Warnings); n > 0 {
		m.warningsTotal.Add(float64(n))
	}
}

// RecordRuleSetReload records a rule set reload attempt
func (m *Metrics) RecordRuleSetReload(status string) {
	m.ruleSetReloads.WithLabelValues(status).Inc()
}

// Handler returns the Prometheus metrics HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
