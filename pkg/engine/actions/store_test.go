package actions

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tollboothapp/tollbooth/pkg/domain"
	"github.com/tollboothapp/tollbooth/pkg/storage"
)

func serveRule(cfg *domain.ServeFromStoreConfig) *domain.Rule {
	return &domain.Rule{
		ID:     "serve",
		Name:   "serve",
		Action: domain.Action{Type: domain.ActionServeFromStore, Payload: cfg},
	}
}

func seededTransformer(t *testing.T, artifacts map[string]*domain.StoredArtifact, opts ...Option) *Transformer {
	t.Helper()
	store := storage.NewMemoryArtifactStore()
	for key, artifact := range artifacts {
		require.NoError(t, store.Put(context.Background(), key, artifact))
	}
	return NewTransformer(store, storage.NewMemoryCursorStore(), nil, slog.Default(), opts...)
}

func TestServeFromStoreResponseReplacement(t *testing.T) {
	tr := seededTransformer(t, map[string]*domain.StoredArtifact{
		"mock": {
			StatusCode: 429,
			Headers:    map[string][]string{"Retry-After": {"60"}},
			Body:       "slow down",
		},
	})
	flow := responseFlow("live body")

	outcome := tr.applyServeFromStore(context.Background(), serveRule(&domain.ServeFromStoreConfig{StoreKey: "mock"}), domain.DirectionResponse, flow)

	assert.Equal(t, "mock", outcome.ServedStoreKey)
	assert.Equal(t, "slow down", flow.Response.Body)
	assert.Equal(t, 429, flow.Response.StatusCode)
	assert.Equal(t, map[string][]string{"Retry-After": {"60"}}, flow.Response.Headers)
	assert.True(t, outcome.BodyModified)
	assert.True(t, outcome.HeadersModified)
}

func TestServeFromStoreZeroStatusKeepsOriginal(t *testing.T) {
	tr := seededTransformer(t, map[string]*domain.StoredArtifact{
		"mock": {Body: "replacement"},
	})
	flow := responseFlow("live")
	flow.Response.StatusCode = 418

	tr.applyServeFromStore(context.Background(), serveRule(&domain.ServeFromStoreConfig{StoreKey: "mock"}), domain.DirectionResponse, flow)

	assert.Equal(t, 418, flow.Response.StatusCode, "artifacts without a status keep the live one")
	assert.Equal(t, "replacement", flow.Response.Body)
}

func TestServeFromStoreCreatesResponseWhenAbsent(t *testing.T) {
	tr := seededTransformer(t, map[string]*domain.StoredArtifact{
		"mock": {StatusCode: 200, Body: "synthesized"},
	})
	flow := responseFlow("x")
	flow.Response = nil

	tr.applyServeFromStore(context.Background(), serveRule(&domain.ServeFromStoreConfig{StoreKey: "mock"}), domain.DirectionResponse, flow)

	require.NotNil(t, flow.Response)
	assert.Equal(t, "synthesized", flow.Response.Body)
	assert.Equal(t, 200, flow.Response.StatusCode)
}

func TestServeFromStoreMissingKeyDegrades(t *testing.T) {
	tr := seededTransformer(t, nil)
	flow := responseFlow("live")

	outcome := tr.applyServeFromStore(context.Background(), serveRule(&domain.ServeFromStoreConfig{StoreKey: "ghost"}), domain.DirectionResponse, flow)

	assert.Equal(t, domain.DispositionForward, outcome.Disposition)
	require.Len(t, outcome.Warnings, 1)
	assert.Contains(t, outcome.Warnings[0], `store key "ghost" unavailable`)
	assert.Equal(t, "live", flow.Response.Body)
	assert.Empty(t, outcome.ServedStoreKey)
}

func TestServeFromStoreNoKeysConfigured(t *testing.T) {
	tr := seededTransformer(t, nil)
	flow := responseFlow("live")

	outcome := tr.applyServeFromStore(context.Background(), serveRule(&domain.ServeFromStoreConfig{StoreKeyMode: domain.KeyModeRoundRobin}), domain.DirectionResponse, flow)

	require.Len(t, outcome.Warnings, 1)
	assert.Contains(t, outcome.Warnings[0], "no store keys configured")
}

func TestServeFromStoreRoundRobinWraps(t *testing.T) {
	tr := seededTransformer(t, map[string]*domain.StoredArtifact{
		"a": {Body: "A"}, "b": {Body: "B"}, "c": {Body: "C"},
	})
	rule := serveRule(&domain.ServeFromStoreConfig{
		StoreKeyMode: domain.KeyModeRoundRobin,
		StoreKeys:    []string{"a", "b", "c"},
	})

	var served []string
	for i := 0; i < 7; i++ {
		outcome := tr.applyServeFromStore(context.Background(), rule, domain.DirectionResponse, responseFlow("x"))
		served = append(served, outcome.ServedStoreKey)
	}
	assert.Equal(t, []string{"a", "b", "c", "a", "b", "c", "a"}, served)
}

func TestServeFromStoreSequentialClamps(t *testing.T) {
	tr := seededTransformer(t, map[string]*domain.StoredArtifact{
		"k1": {Body: "1"}, "k2": {Body: "2"},
	})
	rule := serveRule(&domain.ServeFromStoreConfig{
		StoreKeyMode: domain.KeyModeSequential,
		StoreKeys:    []string{"k1", "k2"},
	})

	var served []string
	for i := 0; i < 4; i++ {
		outcome := tr.applyServeFromStore(context.Background(), rule, domain.DirectionResponse, responseFlow("x"))
		served = append(served, outcome.ServedStoreKey)
	}
	assert.Equal(t, []string{"k1", "k2", "k2", "k2"}, served)
}

func TestServeFromStoreCursorsIndependentPerDirection(t *testing.T) {
	tr := seededTransformer(t, map[string]*domain.StoredArtifact{
		"k1": {Body: "1"}, "k2": {Body: "2"},
	})
	rule := serveRule(&domain.ServeFromStoreConfig{
		StoreKeyMode: domain.KeyModeSequential,
		StoreKeys:    []string{"k1", "k2"},
	})

	first := tr.applyServeFromStore(context.Background(), rule, domain.DirectionResponse, responseFlow("x"))
	assert.Equal(t, "k1", first.ServedStoreKey)

	reqFlow := responseFlow("x")
	reqSide := tr.applyServeFromStore(context.Background(), rule, domain.DirectionRequest, reqFlow)
	assert.Equal(t, "k1", reqSide.ServedStoreKey, "request direction has its own cursor")
}

func TestServeFromStoreRandomPinned(t *testing.T) {
	tr := seededTransformer(t, map[string]*domain.StoredArtifact{
		"a": {Body: "A"}, "b": {Body: "B"}, "c": {Body: "C"},
	}, WithRand(func(n int) int { return n - 1 }))

	rule := serveRule(&domain.ServeFromStoreConfig{
		StoreKeyMode: domain.KeyModeRandom,
		StoreKeys:    []string{"a", "b", "c"},
	})

	outcome := tr.applyServeFromStore(context.Background(), rule, domain.DirectionResponse, responseFlow("x"))
	assert.Equal(t, "c", outcome.ServedStoreKey)
}

func TestServeFromStoreRequestMergeModes(t *testing.T) {
	artifact := &domain.StoredArtifact{
		Method: "POST",
		Headers: map[string][]string{
			"content-type": {"text/plain"},
			"X-Mock":       {"1"},
		},
		Body: "stored request body",
	}

	t.Run("merge overwrites same-named case-insensitively", func(t *testing.T) {
		tr := seededTransformer(t, map[string]*domain.StoredArtifact{"req": artifact})
		flow := responseFlow("x")
		flow.Request.Headers = map[string][]string{
			"Content-Type":  {"application/json"},
			"Authorization": {"Bearer tok"},
		}

		tr.applyServeFromStore(context.Background(), serveRule(&domain.ServeFromStoreConfig{
			StoreKey:         "req",
			RequestMergeMode: domain.MergeHeaders,
		}), domain.DirectionRequest, flow)

		assert.Equal(t, "stored request body", flow.Request.Body)
		assert.Equal(t, []string{"text/plain"}, flow.Request.Headers["content-type"])
		assert.NotContains(t, flow.Request.Headers, "Content-Type")
		assert.Equal(t, []string{"Bearer tok"}, flow.Request.Headers["Authorization"])
		assert.Equal(t, []string{"1"}, flow.Request.Headers["X-Mock"])
	})

	t.Run("replace discards incoming headers", func(t *testing.T) {
		tr := seededTransformer(t, map[string]*domain.StoredArtifact{"req": artifact})
		flow := responseFlow("x")
		flow.Request.Headers = map[string][]string{"Authorization": {"Bearer tok"}}

		tr.applyServeFromStore(context.Background(), serveRule(&domain.ServeFromStoreConfig{
			StoreKey:         "req",
			RequestMergeMode: domain.ReplaceHeaders,
		}), domain.DirectionRequest, flow)

		assert.NotContains(t, flow.Request.Headers, "Authorization")
		assert.Equal(t, []string{"1"}, flow.Request.Headers["X-Mock"])
	})
}

func TestServeFromStoreArtifactIsolation(t *testing.T) {
	tr := seededTransformer(t, map[string]*domain.StoredArtifact{
		"mock": {Headers: map[string][]string{"X-A": {"1"}}, Body: "b"},
	})

	flow := responseFlow("x")
	tr.applyServeFromStore(context.Background(), serveRule(&domain.ServeFromStoreConfig{StoreKey: "mock"}), domain.DirectionResponse, flow)
	flow.Response.Headers["X-A"] = []string{"mutated"}

	again := responseFlow("x")
	tr.applyServeFromStore(context.Background(), serveRule(&domain.ServeFromStoreConfig{StoreKey: "mock"}), domain.DirectionResponse, again)
	assert.Equal(t, []string{"1"}, again.Response.Headers["X-A"], "served artifact is a copy each time")
}
