package actions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tollboothapp/tollbooth/pkg/domain"
	"github.com/tollboothapp/tollbooth/pkg/storage"
	"github.com/tollboothapp/tollbooth/pkg/telemetry"
)

// applyModifyLLM delegates body generation to the LLM collaborator. Failures
// fall back to the original unmodified content; a failed generate_once never
// poisons the cache, so the next match retries.
func (t *Transformer) applyModifyLLM(ctx context.Context, rule *domain.Rule, direction domain.Direction, flow *domain.Flow) Outcome {
	cfg := rule.Action.LLM()
	outcome := forward()
	if cfg == nil {
		outcome.warnf("rule %q: modify_llm action has no configuration", rule.ID)
		return outcome
	}
	if t.generator == nil {
		outcome.warnf("rule %q: no LLM collaborator configured, passing through", rule.ID)
		return outcome
	}

	body := sideBody(flow, direction)
	if body == nil {
		outcome.warnf("rule %q: flow has no %s side to modify", rule.ID, direction)
		return outcome
	}

	switch cfg.GenerationMode {
	case domain.GenerateOnce:
		return t.generateOnce(ctx, rule, direction, cfg, flow, body, outcome)
	default:
		text, err := t.generate(ctx, cfg, flow, direction)
		if err != nil {
			t.logger.Warn("llm generation failed, keeping original content",
				"rule_id", rule.ID,
				"error", err,
			)
			telemetry.RecordGeneration(ctx, rule.ID, "failure", false)
			outcome.warnf("llm generation failed: %v", err)
			return outcome
		}
		telemetry.RecordGeneration(ctx, rule.ID, "success", false)
		if text != *body {
			*body = text
			outcome.BodyModified = true
		}
		return outcome
	}
}

// generateOnce serves the cached artifact when present; otherwise it runs
// generation under the single-flight group and persists the result for all
// subsequent matches.
func (t *Transformer) generateOnce(ctx context.Context, rule *domain.Rule, direction domain.Direction, cfg *domain.LLMModificationConfig, flow *domain.Flow, body *string, outcome Outcome) Outcome {
	cacheKey := cfg.CacheKey
	if cacheKey == "" {
		cacheKey = fmt.Sprintf("llm:%s:%s", rule.ID, direction)
	}

	if cached, err := t.fetchArtifact(ctx, cacheKey); err == nil {
		telemetry.RecordGeneration(ctx, rule.ID, "success", true)
		if cached.Body != *body {
			*body = cached.Body
			outcome.BodyModified = true
		}
		outcome.ServedStoreKey = cacheKey
		return outcome
	} else if !errors.Is(err, storage.ErrNotFound) {
		outcome.warnf("llm cache read failed: %v", err)
		return outcome
	}

	text, err := t.inflight.Do(cacheKey, func() (string, error) {
		generated, genErr := t.generate(ctx, cfg, flow, direction)
		if genErr != nil {
			return "", genErr
		}

		artifact := &domain.StoredArtifact{
			Metadata: domain.ArtifactMetadata{
				CreatedAt:   time.Now().UTC(),
				Description: fmt.Sprintf("generated once for rule %s", rule.ID),
			},
			Body: generated,
		}
		if putErr := t.store.Put(ctx, cacheKey, artifact); putErr != nil {
			t.logger.Warn("failed to persist generated artifact",
				"cache_key", cacheKey,
				"error", putErr,
			)
		}
		return generated, nil
	})
	if err != nil {
		telemetry.RecordGeneration(ctx, rule.ID, "failure", false)
		outcome.warnf("llm generation failed: %v", err)
		return outcome
	}
	telemetry.RecordGeneration(ctx, rule.ID, "success", false)

	if text != *body {
		*body = text
		outcome.BodyModified = true
	}
	outcome.ServedStoreKey = cacheKey
	return outcome
}

// generate resolves the context payload and calls the collaborator with a
// bounded timeout, retrying per the configured policy.
func (t *Transformer) generate(ctx context.Context, cfg *domain.LLMModificationConfig, flow *domain.Flow, direction domain.Direction) (string, error) {
	payload := buildContextPayload(cfg.Context, flow, direction)

	var lastErr error
	attempts := t.retries.MaxAttempts()
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(t.retries.BackoffForAttempt(attempt)):
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, t.timeouts.Generate)
		text, err := t.generator.Generate(callCtx, domain.GenerationRequest{
			Prompt:   cfg.Prompt,
			Context:  payload,
			Provider: cfg.Provider,
		})
		cancel()
		if err == nil {
			return text, nil
		}
		lastErr = err
	}
	return "", fmt.Errorf("%w: %v", domain.ErrGenerationFailed, lastErr)
}

// buildContextPayload assembles what the collaborator is allowed to see.
func buildContextPayload(mode domain.LLMContext, flow *domain.Flow, direction domain.Direction) string {
	if flow == nil {
		return ""
	}

	switch mode {
	case domain.ContextNone:
		return ""
	case domain.ContextURLOnly:
		return flow.Request.URL
	case domain.ContextBodyOnly:
		if body := sideBody(flow, direction); body != nil {
			return *body
		}
		return ""
	case domain.ContextHeadersOnly:
		headers := flow.Request.Headers
		if direction == domain.DirectionResponse && flow.Response != nil {
			headers = flow.Response.Headers
		}
		encoded, err := json.Marshal(headers)
		if err != nil {
			return ""
		}
		return string(encoded)
	case domain.ContextFull:
		encoded, err := json.Marshal(flow)
		if err != nil {
			return ""
		}
		return string(encoded)
	default:
		return ""
	}
}
