package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	metricsOnce              sync.Once
	metricsInitErr           error
	evaluationCounter        metric.Int64Counter
	evaluationLatency        metric.Float64Histogram
	actionWarningCounter     metric.Int64Counter
	generationCounter        metric.Int64Counter
	generationCacheHitCount  metric.Int64Counter
	storeServeCounter        metric.Int64Counter
)

// EvaluationMetrics captures the fields needed to record a single rule
// evaluation outcome.
type EvaluationMetrics struct {
	Direction   string
	RuleID      string
	Action      string
	Matched     bool
	Disposition string
	Duration    time.Duration
	Warnings    int
}

// RecordEvaluation emits counters and histograms describing one evaluation.
func RecordEvaluation(ctx context.Context, metrics EvaluationMetrics) {
	if err := ensureMetrics(); err != nil {
		return
	}

	outcome := "no_match"
	if metrics.Matched {
		outcome = "matched"
	}

	attrs := []attribute.KeyValue{
		attribute.String("flow.direction", metrics.Direction),
		attribute.String("evaluation.outcome", outcome),
		attribute.String("flow.disposition", metrics.Disposition),
	}
	if metrics.RuleID != "" {
		attrs = append(attrs, attribute.String("rule.id", metrics.RuleID))
	}
	if metrics.Action != "" {
		attrs = append(attrs, attribute.String("rule.action", metrics.Action))
	}

	evaluationCounter.Add(ctx, 1, metric.WithAttributes(attrs...))

	if metrics.Duration > 0 {
		evaluationLatency.Record(ctx, float64(metrics.Duration)/float64(time.Millisecond), metric.WithAttributes(attrs...))
	}

	if metrics.Warnings > 0 {
		actionWarningCounter.Add(ctx, int64(metrics.Warnings), metric.WithAttributes(attrs...))
	}
}

// RecordGeneration emits counters for an LLM generation attempt.
func RecordGeneration(ctx context.Context, ruleID, status string, cached bool) {
	if err := ensureMetrics(); err != nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("rule.id", ruleID),
		attribute.String("generation.status", status),
	}
	generationCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	if cached {
		generationCacheHitCount.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// RecordStoreServe emits a counter for an artifact served from the store.
func RecordStoreServe(ctx context.Context, ruleID, key string) {
	if err := ensureMetrics(); err != nil {
		return
	}

	storeServeCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("rule.id", ruleID),
		attribute.String("store.key", key),
	))
}

func ensureMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("tollbooth.engine")

		evaluationCounter, metricsInitErr = meter.Int64Counter(
			"tollbooth.evaluations_total",
			metric.WithDescription("Rule evaluations partitioned by direction and outcome"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		evaluationLatency, metricsInitErr = meter.Float64Histogram(
			"tollbooth.evaluation.duration_ms",
			metric.WithDescription("Observed rule evaluation latency"),
			metric.WithUnit("ms"),
		)
		if metricsInitErr != nil {
			return
		}

		actionWarningCounter, metricsInitErr = meter.Int64Counter(
			"tollbooth.action.warnings_total",
			metric.WithDescription("Warnings emitted while applying matched actions"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		generationCounter, metricsInitErr = meter.Int64Counter(
			"tollbooth.generation_total",
			metric.WithDescription("LLM generation attempts partitioned by status"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		generationCacheHitCount, metricsInitErr = meter.Int64Counter(
			"tollbooth.generation.cache_hits_total",
			metric.WithDescription("Generations served from the artifact cache"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		storeServeCounter, metricsInitErr = meter.Int64Counter(
			"tollbooth.store.serves_total",
			metric.WithDescription("Artifacts served from the store by rule and key"),
			metric.WithUnit("{count}"),
		)
	})

	return metricsInitErr
}
