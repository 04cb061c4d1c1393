package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tollboothapp/tollbooth/pkg/domain"
	"github.com/tollboothapp/tollbooth/pkg/engine/actions"
	"github.com/tollboothapp/tollbooth/pkg/storage"
	"github.com/tollboothapp/tollbooth/pkg/telemetry"
)

const tracerName = "tollbooth.engine"

// Engine is the single entry point for rule evaluation. The enforcement
// path and the rule-test preview both call Evaluate; nothing else in the
// system decides whether a rule fires.
type Engine struct {
	filters     *filterEvaluator
	selector    *ruleSelector
	transformer *actions.Transformer
	logger      *slog.Logger
	metrics     *Metrics
	tracer      trace.Tracer
}

// Option customizes an Engine.
type Option func(*Engine)

// WithMetrics attaches a Prometheus metrics collector.
func WithMetrics(metrics *Metrics) Option {
	return func(e *Engine) { e.metrics = metrics }
}

// New constructs the engine with its collaborators. The cursor store is the
// explicit owner of round-robin/sequential state; the host application
// constructs it once and injects it here.
func New(store storage.ArtifactStore, cursors storage.CursorStore, generator domain.Generator, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	filters := newFilterEvaluator()
	e := &Engine{
		filters:     filters,
		selector:    newRuleSelector(filters),
		transformer: actions.NewTransformer(store, cursors, generator, logger),
		logger:      logger,
		tracer:      otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewWithTransformer constructs the engine around a pre-built transformer,
// for hosts that need custom timeouts or a pinned random source.
func NewWithTransformer(transformer *actions.Transformer, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	filters := newFilterEvaluator()
	e := &Engine{
		filters:     filters,
		selector:    newRuleSelector(filters),
		transformer: transformer,
		logger:      logger,
		tracer:      otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate runs the rule set against the flow for one direction and returns
// a deterministic MatchResult. The input flow is never mutated; the result
// carries a transformed copy. Every failure path inside evaluation resolves
// to a result, never to a fault that aborts the flow.
func (e *Engine) Evaluate(ctx context.Context, flow *domain.Flow, direction domain.Direction, ruleSet *domain.RuleSet) (*domain.MatchResult, error) {
	if flow == nil {
		return nil, fmt.Errorf("flow is required")
	}
	if !direction.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidDirection, direction)
	}

	spanAttrs := telemetry.RedactAttributes(nil, []attribute.KeyValue{
		attribute.String("flow.id", flow.ID),
		attribute.String("flow.direction", string(direction)),
	})
	ctx, span := e.tracer.Start(ctx, "engine.evaluate", trace.WithAttributes(spanAttrs...))
	defer span.End()

	start := time.Now()
	clone := flow.Clone()
	tl := &traceLog{}

	if ruleSet == nil || !ruleSet.RulesEnabled {
		tl.addf("rules are disabled: passthrough")
		result := &domain.MatchResult{
			Flow:        clone,
			Disposition: domain.DispositionForward,
			Trace:       tl.lines,
		}
		e.record(ctx, span, direction, result, time.Since(start))
		return result, nil
	}

	rule := e.selector.selectRule(clone, direction, ruleSet.Rules, tl)
	if rule == nil {
		result := &domain.MatchResult{
			Flow:        clone,
			Disposition: domain.DispositionForward,
			Trace:       tl.lines,
		}
		e.record(ctx, span, direction, result, time.Since(start))
		return result, nil
	}

	outcome := e.transformer.Apply(ctx, rule, direction, clone)
	tl.addf("action %s: disposition %s", rule.Action.Type, outcome.Disposition)
	for _, warning := range outcome.Warnings {
		tl.addf("warning: %s", warning)
	}

	result := &domain.MatchResult{
		Matched:         true,
		Rule:            rule,
		Flow:            clone,
		Disposition:     outcome.Disposition,
		Trace:           tl.lines,
		Warnings:        outcome.Warnings,
		BodyModified:    outcome.BodyModified,
		HeadersModified: outcome.HeadersModified,
		ServedStoreKey:  outcome.ServedStoreKey,
	}

	e.logger.Debug("rule evaluation complete",
		"flow_id", flow.ID,
		"direction", direction,
		"rule_id", rule.ID,
		"action", rule.Action.Type,
		"disposition", result.Disposition,
	)
	e.record(ctx, span, direction, result, time.Since(start))
	return result, nil
}

func (e *Engine) record(ctx context.Context, span trace.Span, direction domain.Direction, result *domain.MatchResult, elapsed time.Duration) {
	telemetry.RecordRuleDecision(span, result)

	action := ""
	if result.Rule != nil {
		action = string(result.Rule.Action.Type)
	}
	em := telemetry.EvaluationMetrics{
		Direction:   string(direction),
		Action:      action,
		Matched:     result.Matched,
		Disposition: string(result.Disposition),
		Duration:    elapsed,
		Warnings:    len(result.Warnings),
	}
	if result.Rule != nil {
		em.RuleID = result.Rule.ID
	}
	telemetry.RecordEvaluation(ctx, em)

	if e.metrics != nil {
		e.metrics.RecordEvaluation(direction, result, elapsed)
	}
}
