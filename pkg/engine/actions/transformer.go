// Package actions implements the transformation side of the rule engine:
// given a matched rule's action descriptor, it computes the resulting flow
// content or selects a stored artifact or requests an LLM rewrite.
//
// Transformations mutate the flow copy they are handed; every failure path
// degrades to a deterministic safe outcome instead of erroring, so a flow is
// never aborted by a bad rule configuration.
package actions

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/tollboothapp/tollbooth/internal/governance"
	"github.com/tollboothapp/tollbooth/pkg/domain"
	"github.com/tollboothapp/tollbooth/pkg/storage"
)

// Outcome reports what a transformation did to the flow and what the proxy
// should do with it afterwards.
type Outcome struct {
	Disposition     domain.Disposition
	Warnings        []string
	BodyModified    bool
	HeadersModified bool
	ServedStoreKey  string
}

func forward() Outcome {
	return Outcome{Disposition: domain.DispositionForward}
}

func (o *Outcome) warnf(format string, args ...any) {
	o.Warnings = append(o.Warnings, fmt.Sprintf(format, args...))
}

// Transformer applies a matched rule's action to a flow. It owns the only
// side effects the engine has: cursor advancement and generate_once caching.
type Transformer struct {
	store     storage.ArtifactStore
	cursors   storage.CursorStore
	generator domain.Generator
	timeouts  governance.CallTimeouts
	retries   *governance.RetryPolicy
	logger    *slog.Logger

	// randIntN is swappable so tests can pin the random key mode.
	randIntN func(int) int
	inflight *flightGroup
	patterns *patternCache
}

// Option customizes a Transformer.
type Option func(*Transformer)

// WithRand overrides the random index source used by the random key mode.
func WithRand(randIntN func(int) int) Option {
	return func(t *Transformer) { t.randIntN = randIntN }
}

// WithTimeouts overrides the bounded timeouts for collaborator calls.
func WithTimeouts(timeouts governance.CallTimeouts) Option {
	return func(t *Transformer) { t.timeouts = timeouts }
}

// WithRetryPolicy overrides the retry policy for LLM generation.
func WithRetryPolicy(policy *governance.RetryPolicy) Option {
	return func(t *Transformer) { t.retries = policy }
}

// NewTransformer constructs the action transformer. The generator may be nil
// when no LLM collaborator is configured; modify_llm actions then degrade to
// passthrough with a warning.
func NewTransformer(store storage.ArtifactStore, cursors storage.CursorStore, generator domain.Generator, logger *slog.Logger, opts ...Option) *Transformer {
	if logger == nil {
		logger = slog.Default()
	}

	t := &Transformer{
		store:     store,
		cursors:   cursors,
		generator: generator,
		timeouts:  governance.DefaultCallTimeouts(),
		retries:   governance.NewRetryPolicy(governance.DefaultRetryConfig()),
		logger:    logger,
		randIntN:  rand.Intn,
		inflight:  newFlightGroup(),
		patterns:  newPatternCache(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Apply runs the rule's action against the flow, mutating it in place. The
// flow is always the engine's private copy. Tags are unioned regardless of
// the action type.
func (t *Transformer) Apply(ctx context.Context, rule *domain.Rule, direction domain.Direction, flow *domain.Flow) Outcome {
	var outcome Outcome

	switch rule.Action.Type {
	case domain.ActionPassthrough:
		outcome = forward()
	case domain.ActionIntercept:
		outcome = Outcome{Disposition: domain.DispositionHold}
	case domain.ActionDrop:
		outcome = Outcome{Disposition: domain.DispositionDrop}
	case domain.ActionAutoHide:
		flow.Hidden = true
		outcome = forward()
	case domain.ActionAutoClear:
		flow.Cleared = true
		outcome = forward()
	case domain.ActionServeFromStore:
		outcome = t.applyServeFromStore(ctx, rule, direction, flow)
	case domain.ActionModifyStatic:
		outcome = t.applyModifyStatic(rule, direction, flow)
	case domain.ActionModifyLLM:
		outcome = t.applyModifyLLM(ctx, rule, direction, flow)
	default:
		// Unknown action types degrade to passthrough rather than
		// aborting the flow.
		outcome = forward()
		outcome.warnf("unknown action type %q, passing through", rule.Action.Type)
	}

	flow.AddTags(rule.Action.Tags...)
	if outcome.BodyModified || outcome.HeadersModified {
		flow.IsModified = true
	}
	return outcome
}

// body returns the mutable body for the given side, or nil when that side is
// absent on the flow.
func sideBody(flow *domain.Flow, direction domain.Direction) *string {
	if direction == domain.DirectionResponse {
		if flow.Response == nil {
			return nil
		}
		return &flow.Response.Body
	}
	return &flow.Request.Body
}

func sideHeaders(flow *domain.Flow, direction domain.Direction) map[string][]string {
	if direction == domain.DirectionResponse {
		if flow.Response == nil {
			return nil
		}
		if flow.Response.Headers == nil {
			flow.Response.Headers = make(map[string][]string)
		}
		return flow.Response.Headers
	}
	if flow.Request.Headers == nil {
		flow.Request.Headers = make(map[string][]string)
	}
	return flow.Request.Headers
}
