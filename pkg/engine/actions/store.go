package actions

import (
	"context"
	"strings"

	"github.com/tollboothapp/tollbooth/pkg/domain"
	"github.com/tollboothapp/tollbooth/pkg/telemetry"
)

// applyServeFromStore resolves a stored artifact key for the rule and
// replaces the flow's content with it. A missing key is a local failure:
// the action degrades to passthrough with a warning, never a crash.
func (t *Transformer) applyServeFromStore(ctx context.Context, rule *domain.Rule, direction domain.Direction, flow *domain.Flow) Outcome {
	cfg := rule.Action.Store()
	outcome := forward()
	if cfg == nil {
		outcome.warnf("rule %q: serve_from_store action has no configuration", rule.ID)
		return outcome
	}

	key, ok := t.selectKey(rule, direction, cfg)
	if !ok {
		outcome.warnf("rule %q: serve_from_store has no store keys configured", rule.ID)
		return outcome
	}

	artifact, err := t.fetchArtifact(ctx, key)
	if err != nil {
		t.logger.Warn("stored artifact unavailable, passing flow through",
			"rule_id", rule.ID,
			"store_key", key,
			"error", err,
		)
		outcome.warnf("store key %q unavailable: %v", key, err)
		return outcome
	}

	t.applyArtifact(artifact, direction, cfg.RequestMergeMode, flow)
	telemetry.RecordStoreServe(ctx, rule.ID, key)
	outcome.ServedStoreKey = key
	outcome.BodyModified = true
	outcome.HeadersModified = true
	return outcome
}

// selectKey picks one key per the configured store key mode. Cursor
// advancement is the transformer's only evaluation-time side effect besides
// generate_once caching; the cursor store performs it atomically.
func (t *Transformer) selectKey(rule *domain.Rule, direction domain.Direction, cfg *domain.ServeFromStoreConfig) (string, bool) {
	keys := cfg.Keys()
	if len(keys) == 0 {
		return "", false
	}

	switch cfg.StoreKeyMode {
	case domain.KeyModeRoundRobin:
		return keys[t.cursors.AdvanceRoundRobin(rule.ID, direction, len(keys))], true
	case domain.KeyModeSequential:
		return keys[t.cursors.AdvanceSequential(rule.ID, direction, len(keys))], true
	case domain.KeyModeRandom:
		return keys[t.randIntN(len(keys))], true
	default:
		return keys[0], true
	}
}

// fetchArtifact reads from the datastore under the bounded read timeout.
func (t *Transformer) fetchArtifact(ctx context.Context, key string) (*domain.StoredArtifact, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeouts.StoreRead)
	defer cancel()
	return t.store.Get(ctx, key)
}

// applyArtifact writes the artifact's content onto the flow. For responses
// the stored status, headers and body replace the originals. For requests
// the merge mode decides how stored headers combine with incoming ones:
// merge overwrites same-named headers and keeps the rest, replace discards
// the incoming headers entirely.
func (t *Transformer) applyArtifact(artifact *domain.StoredArtifact, direction domain.Direction, mergeMode domain.MergeMode, flow *domain.Flow) {
	if direction == domain.DirectionResponse {
		if flow.Response == nil {
			flow.Response = &domain.ResponseData{}
		}
		flow.Response.Body = artifact.Body
		if artifact.StatusCode != 0 {
			flow.Response.StatusCode = artifact.StatusCode
		}
		flow.Response.Headers = cloneHeaderMap(artifact.Headers)
		return
	}

	flow.Request.Body = artifact.Body
	switch mergeMode {
	case domain.ReplaceHeaders:
		flow.Request.Headers = cloneHeaderMap(artifact.Headers)
	default:
		if flow.Request.Headers == nil {
			flow.Request.Headers = make(map[string][]string)
		}
		for name, values := range artifact.Headers {
			// Same-named means case-insensitive for HTTP headers.
			for existing := range flow.Request.Headers {
				if strings.EqualFold(existing, name) {
					delete(flow.Request.Headers, existing)
				}
			}
			flow.Request.Headers[name] = append([]string(nil), values...)
		}
	}
}

func cloneHeaderMap(headers map[string][]string) map[string][]string {
	clone := make(map[string][]string, len(headers))
	for k, v := range headers {
		clone[k] = append([]string(nil), v...)
	}
	return clone
}
