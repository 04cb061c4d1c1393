package actions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tollboothapp/tollbooth/internal/governance"
	"github.com/tollboothapp/tollbooth/pkg/domain"
	"github.com/tollboothapp/tollbooth/pkg/storage"
)

// recordingGenerator counts calls and captures the last request.
type recordingGenerator struct {
	mu    sync.Mutex
	calls int
	last  domain.GenerationRequest
	text  string
	err   error
	// block, when non-nil, is closed by the test to release in-flight calls.
	block chan struct{}
}

func (g *recordingGenerator) Generate(ctx context.Context, req domain.GenerationRequest) (string, error) {
	g.mu.Lock()
	g.calls++
	g.last = req
	block := g.block
	g.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return g.text, g.err
}

func (g *recordingGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func (g *recordingGenerator) lastRequest() domain.GenerationRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.last
}

func noRetries() *governance.RetryPolicy {
	return governance.NewRetryPolicy(governance.RetryConfig{MaxRetries: 0})
}

func llmTransformer(t *testing.T, gen domain.Generator, opts ...Option) (*Transformer, *storage.MemoryArtifactStore) {
	t.Helper()
	store := storage.NewMemoryArtifactStore()
	opts = append([]Option{WithRetryPolicy(noRetries())}, opts...)
	return NewTransformer(store, storage.NewMemoryCursorStore(), gen, slog.Default(), opts...), store
}

func llmRule(cfg *domain.LLMModificationConfig) *domain.Rule {
	return &domain.Rule{
		ID:     "llm",
		Name:   "llm",
		Action: domain.Action{Type: domain.ActionModifyLLM, Payload: cfg},
	}
}

func TestModifyLLMGenerateLive(t *testing.T) {
	gen := &recordingGenerator{text: "rewritten"}
	tr, _ := llmTransformer(t, gen)
	flow := responseFlow("original refusal")

	outcome := tr.applyModifyLLM(context.Background(), llmRule(&domain.LLMModificationConfig{
		Prompt:         "rewrite politely",
		GenerationMode: domain.GenerateLive,
	}), domain.DirectionResponse, flow)

	assert.Equal(t, "rewritten", flow.Response.Body)
	assert.True(t, outcome.BodyModified)
	assert.Equal(t, "rewrite politely", gen.lastRequest().Prompt)

	// Live mode regenerates on every match.
	tr.applyModifyLLM(context.Background(), llmRule(&domain.LLMModificationConfig{
		Prompt:         "rewrite politely",
		GenerationMode: domain.GenerateLive,
	}), domain.DirectionResponse, responseFlow("another"))
	assert.Equal(t, 2, gen.callCount())
}

func TestModifyLLMFailureKeepsOriginal(t *testing.T) {
	gen := &recordingGenerator{err: errors.New("model overloaded")}
	tr, _ := llmTransformer(t, gen)
	flow := responseFlow("keep me")

	outcome := tr.applyModifyLLM(context.Background(), llmRule(&domain.LLMModificationConfig{
		Prompt:         "rewrite",
		GenerationMode: domain.GenerateLive,
	}), domain.DirectionResponse, flow)

	assert.Equal(t, "keep me", flow.Response.Body)
	assert.False(t, outcome.BodyModified)
	require.Len(t, outcome.Warnings, 1)
	assert.Contains(t, outcome.Warnings[0], "llm generation failed")
	assert.Equal(t, domain.DispositionForward, outcome.Disposition)
}

func TestModifyLLMRetriesThenFails(t *testing.T) {
	gen := &recordingGenerator{err: errors.New("transient")}
	policy := governance.NewRetryPolicy(governance.RetryConfig{
		MaxRetries:     2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	})
	tr, _ := llmTransformer(t, gen, WithRetryPolicy(policy))

	tr.applyModifyLLM(context.Background(), llmRule(&domain.LLMModificationConfig{
		GenerationMode: domain.GenerateLive,
	}), domain.DirectionResponse, responseFlow("x"))

	assert.Equal(t, 3, gen.callCount(), "one initial attempt plus two retries")
}

func TestModifyLLMNoGeneratorConfigured(t *testing.T) {
	tr := newTestTransformer(t)
	flow := responseFlow("untouched")

	outcome := tr.applyModifyLLM(context.Background(), llmRule(&domain.LLMModificationConfig{
		GenerationMode: domain.GenerateLive,
	}), domain.DirectionResponse, flow)

	assert.Equal(t, "untouched", flow.Response.Body)
	require.Len(t, outcome.Warnings, 1)
	assert.Contains(t, outcome.Warnings[0], "no LLM collaborator configured")
}

func TestModifyLLMAbsentSide(t *testing.T) {
	gen := &recordingGenerator{text: "never used"}
	tr, _ := llmTransformer(t, gen)
	flow := responseFlow("x")
	flow.Response = nil

	outcome := tr.applyModifyLLM(context.Background(), llmRule(&domain.LLMModificationConfig{
		GenerationMode: domain.GenerateLive,
	}), domain.DirectionResponse, flow)

	require.Len(t, outcome.Warnings, 1)
	assert.Contains(t, outcome.Warnings[0], "no response side")
	assert.Zero(t, gen.callCount())
}

func TestModifyLLMGenerateOnceCaches(t *testing.T) {
	gen := &recordingGenerator{text: "cached answer"}
	tr, store := llmTransformer(t, gen)
	cfg := &domain.LLMModificationConfig{
		Prompt:         "rewrite",
		GenerationMode: domain.GenerateOnce,
	}

	first := tr.applyModifyLLM(context.Background(), llmRule(cfg), domain.DirectionResponse, responseFlow("a"))
	assert.Equal(t, "llm:llm:response", first.ServedStoreKey)
	assert.Equal(t, 1, gen.callCount())

	second := tr.applyModifyLLM(context.Background(), llmRule(cfg), domain.DirectionResponse, responseFlow("b"))
	assert.Equal(t, 1, gen.callCount(), "second match serves the cached artifact")
	assert.Equal(t, "llm:llm:response", second.ServedStoreKey)

	artifact, err := store.Get(context.Background(), "llm:llm:response")
	require.NoError(t, err)
	assert.Equal(t, "cached answer", artifact.Body)
}

func TestModifyLLMGenerateOnceExplicitCacheKey(t *testing.T) {
	gen := &recordingGenerator{text: "shared"}
	tr, store := llmTransformer(t, gen)
	cfg := &domain.LLMModificationConfig{
		GenerationMode: domain.GenerateOnce,
		CacheKey:       "shared-key",
	}

	tr.applyModifyLLM(context.Background(), llmRule(cfg), domain.DirectionResponse, responseFlow("a"))

	_, err := store.Get(context.Background(), "shared-key")
	assert.NoError(t, err)
}

func TestModifyLLMGenerateOnceFailureDoesNotPoisonCache(t *testing.T) {
	gen := &recordingGenerator{err: errors.New("boom")}
	tr, store := llmTransformer(t, gen)
	cfg := &domain.LLMModificationConfig{GenerationMode: domain.GenerateOnce}

	outcome := tr.applyModifyLLM(context.Background(), llmRule(cfg), domain.DirectionResponse, responseFlow("x"))
	require.NotEmpty(t, outcome.Warnings)

	keys, err := store.Keys(context.Background())
	require.NoError(t, err)
	assert.Empty(t, keys, "failed generation leaves no artifact behind")

	// Next match retries and succeeds.
	gen.mu.Lock()
	gen.err = nil
	gen.text = "recovered"
	gen.mu.Unlock()

	flow := responseFlow("x")
	outcome = tr.applyModifyLLM(context.Background(), llmRule(cfg), domain.DirectionResponse, flow)
	assert.Empty(t, outcome.Warnings)
	assert.Equal(t, "recovered", flow.Response.Body)
}

func TestModifyLLMGenerateOnceSingleFlight(t *testing.T) {
	gen := &recordingGenerator{text: "one answer", block: make(chan struct{})}
	tr, _ := llmTransformer(t, gen)
	cfg := &domain.LLMModificationConfig{GenerationMode: domain.GenerateOnce}

	const concurrency = 8
	var wg sync.WaitGroup
	var modified atomic.Int32
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			flow := responseFlow("original")
			outcome := tr.applyModifyLLM(context.Background(), llmRule(cfg), domain.DirectionResponse, flow)
			if outcome.BodyModified {
				modified.Add(1)
			}
		}()
	}

	require.Eventually(t, func() bool { return gen.callCount() >= 1 }, time.Second, time.Millisecond)
	// Let the remaining goroutines reach the in-flight wait before the
	// blocked call is released.
	time.Sleep(50 * time.Millisecond)
	close(gen.block)
	wg.Wait()

	assert.Equal(t, 1, gen.callCount(), "exactly one generation despite concurrent matches")
	assert.Equal(t, int32(concurrency), modified.Load())
}

func TestBuildContextPayload(t *testing.T) {
	flow := responseFlow("the body")
	flow.Request.URL = "https://api.example.com/v1/chat"
	flow.Request.Body = "request payload"

	assert.Empty(t, buildContextPayload(domain.ContextNone, flow, domain.DirectionResponse))
	assert.Equal(t, "https://api.example.com/v1/chat", buildContextPayload(domain.ContextURLOnly, flow, domain.DirectionResponse))
	assert.Equal(t, "the body", buildContextPayload(domain.ContextBodyOnly, flow, domain.DirectionResponse))
	assert.Equal(t, "request payload", buildContextPayload(domain.ContextBodyOnly, flow, domain.DirectionRequest))

	headersPayload := buildContextPayload(domain.ContextHeadersOnly, flow, domain.DirectionResponse)
	var headers map[string][]string
	require.NoError(t, json.Unmarshal([]byte(headersPayload), &headers))
	assert.Equal(t, flow.Response.Headers, headers)

	fullPayload := buildContextPayload(domain.ContextFull, flow, domain.DirectionResponse)
	var decoded domain.Flow
	require.NoError(t, json.Unmarshal([]byte(fullPayload), &decoded))
	assert.Equal(t, flow.ID, decoded.ID)
	assert.Equal(t, "the body", decoded.Response.Body)

	assert.Empty(t, buildContextPayload(domain.LLMContext("telepathy"), flow, domain.DirectionResponse))
	assert.Empty(t, buildContextPayload(domain.ContextFull, nil, domain.DirectionResponse))
}

func TestModifyLLMContextPassedToGenerator(t *testing.T) {
	gen := &recordingGenerator{text: "out"}
	tr, _ := llmTransformer(t, gen)
	flow := responseFlow("visible body")

	tr.applyModifyLLM(context.Background(), llmRule(&domain.LLMModificationConfig{
		Prompt:         "p",
		Context:        domain.ContextBodyOnly,
		GenerationMode: domain.GenerateLive,
		Provider:       "openai",
	}), domain.DirectionResponse, flow)

	req := gen.lastRequest()
	assert.Equal(t, "visible body", req.Context)
	assert.Equal(t, "openai", req.Provider)
}

func TestApplyUnknownActionType(t *testing.T) {
	tr := newTestTransformer(t)
	flow := responseFlow("x")

	rule := &domain.Rule{ID: "odd", Action: domain.Action{Type: domain.ActionType("levitate")}}
	outcome := tr.Apply(context.Background(), rule, domain.DirectionResponse, flow)

	assert.Equal(t, domain.DispositionForward, outcome.Disposition)
	require.Len(t, outcome.Warnings, 1)
	assert.Contains(t, outcome.Warnings[0], fmt.Sprintf("unknown action type %q", "levitate"))
}

func TestApplyAutoHideAndClear(t *testing.T) {
	tr := newTestTransformer(t)

	flow := responseFlow("x")
	tr.Apply(context.Background(), &domain.Rule{Action: domain.Action{Type: domain.ActionAutoHide}}, domain.DirectionResponse, flow)
	assert.True(t, flow.Hidden)

	flow = responseFlow("x")
	tr.Apply(context.Background(), &domain.Rule{Action: domain.Action{Type: domain.ActionAutoClear}}, domain.DirectionResponse, flow)
	assert.True(t, flow.Cleared)
}
