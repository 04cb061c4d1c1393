package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tollboothapp/tollbooth/pkg/domain"
)

// RecordRuleDecision annotates the provided span with the evaluation outcome.
// Trace lines are deliberately excluded; the attribute set passes through
// RedactAttributes before export so flow bodies and credential-bearing
// headers never leave the process.
func RecordRuleDecision(span trace.Span, result *domain.MatchResult) {
	if span == nil || !span.IsRecording() || result == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.Bool("rule.matched", result.Matched),
		attribute.String("flow.disposition", string(result.Disposition)),
		attribute.Bool("flow.body_modified", result.BodyModified),
		attribute.Bool("flow.headers_modified", result.HeadersModified),
	}

	if result.Rule != nil {
		attrs = append(attrs,
			attribute.String("rule.id", result.Rule.ID),
			attribute.String("rule.action", string(result.Rule.Action.Type)),
		)
	}

	if result.ServedStoreKey != "" {
		attrs = append(attrs, attribute.String("store.key", result.ServedStoreKey))
	}

	span.SetAttributes(RedactAttributes(nil, attrs)...)

	if len(result.Warnings) > 0 {
		span.SetAttributes(attribute.Int("evaluation.warnings.count", len(result.Warnings)))
		span.AddEvent("rule.warnings", trace.WithAttributes(
			attribute.StringSlice("warnings", result.Warnings),
		))
	}

	if result.Disposition == domain.DispositionDrop {
		span.AddEvent("flow.dropped")
	}
}
