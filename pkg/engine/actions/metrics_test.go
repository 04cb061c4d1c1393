package actions

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/tollboothapp/tollbooth/pkg/domain"
	"github.com/tollboothapp/tollbooth/pkg/telemetry"
)

// installMetricsReader swaps in a manual-reader meter provider so the test
// can observe the counters the transformer emits.
func installMetricsReader(t *testing.T) *sdkmetric.ManualReader {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	prev := otel.GetMeterProvider()
	otel.SetMeterProvider(provider)
	telemetry.ResetMetricsForTest()
	t.Cleanup(func() {
		otel.SetMeterProvider(prev)
		telemetry.ResetMetricsForTest()
	})
	return reader
}

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	metrics := map[string]metricdata.Metrics{}
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			metrics[m.Name] = m
		}
	}
	return metrics
}

func counterValue(t *testing.T, metrics map[string]metricdata.Metrics, name string) int64 {
	t.Helper()
	m, ok := metrics[name]
	if !ok {
		return 0
	}
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "metric %s is not an int64 sum", name)

	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestServeFromStoreRecordsServeCounter(t *testing.T) {
	reader := installMetricsReader(t)
	tr := seededTransformer(t, map[string]*domain.StoredArtifact{
		"mock": {StatusCode: 200, Body: "stored"},
	})

	tr.applyServeFromStore(context.Background(), serveRule(&domain.ServeFromStoreConfig{StoreKey: "mock"}), domain.DirectionResponse, responseFlow("live"))

	metrics := collectMetrics(t, reader)
	assert.Equal(t, int64(1), counterValue(t, metrics, "tollbooth.store.serves_total"))

	sum := metrics["tollbooth.store.serves_total"].Data.(metricdata.Sum[int64])
	require.Len(t, sum.DataPoints, 1)
	key, ok := sum.DataPoints[0].Attributes.Value(attribute.Key("store.key"))
	require.True(t, ok)
	assert.Equal(t, "mock", key.AsString())
	ruleID, ok := sum.DataPoints[0].Attributes.Value(attribute.Key("rule.id"))
	require.True(t, ok)
	assert.Equal(t, "serve", ruleID.AsString())
}

func TestServeFromStoreMissingKeySkipsServeCounter(t *testing.T) {
	reader := installMetricsReader(t)
	tr := seededTransformer(t, nil)

	tr.applyServeFromStore(context.Background(), serveRule(&domain.ServeFromStoreConfig{StoreKey: "absent"}), domain.DirectionResponse, responseFlow("live"))

	metrics := collectMetrics(t, reader)
	assert.Equal(t, int64(0), counterValue(t, metrics, "tollbooth.store.serves_total"))
}

func TestModifyLLMRecordsGenerationCounter(t *testing.T) {
	reader := installMetricsReader(t)
	gen := &recordingGenerator{text: "rewritten"}
	tr, _ := llmTransformer(t, gen)

	tr.applyModifyLLM(context.Background(), llmRule(&domain.LLMModificationConfig{
		Prompt:         "rewrite",
		GenerationMode: domain.GenerateLive,
	}), domain.DirectionResponse, responseFlow("original"))

	metrics := collectMetrics(t, reader)
	assert.Equal(t, int64(1), counterValue(t, metrics, "tollbooth.generation_total"))
	assert.Equal(t, int64(0), counterValue(t, metrics, "tollbooth.generation.cache_hits_total"))

	sum := metrics["tollbooth.generation_total"].Data.(metricdata.Sum[int64])
	require.Len(t, sum.DataPoints, 1)
	status, ok := sum.DataPoints[0].Attributes.Value(attribute.Key("generation.status"))
	require.True(t, ok)
	assert.Equal(t, "success", status.AsString())
}

func TestModifyLLMFailureRecordsFailureStatus(t *testing.T) {
	reader := installMetricsReader(t)
	gen := &recordingGenerator{err: errors.New("model overloaded")}
	tr, _ := llmTransformer(t, gen)

	tr.applyModifyLLM(context.Background(), llmRule(&domain.LLMModificationConfig{
		Prompt:         "rewrite",
		GenerationMode: domain.GenerateLive,
	}), domain.DirectionResponse, responseFlow("original"))

	metrics := collectMetrics(t, reader)
	sum := metrics["tollbooth.generation_total"].Data.(metricdata.Sum[int64])
	require.Len(t, sum.DataPoints, 1)
	status, ok := sum.DataPoints[0].Attributes.Value(attribute.Key("generation.status"))
	require.True(t, ok)
	assert.Equal(t, "failure", status.AsString())
}

func TestGenerateOnceCacheHitRecordsCacheCounter(t *testing.T) {
	reader := installMetricsReader(t)
	gen := &recordingGenerator{text: "generated"}
	tr, _ := llmTransformer(t, gen)
	cfg := &domain.LLMModificationConfig{
		Prompt:         "rewrite",
		GenerationMode: domain.GenerateOnce,
	}

	// First match generates and caches, second serves the cached artifact.
	tr.applyModifyLLM(context.Background(), llmRule(cfg), domain.DirectionResponse, responseFlow("first"))
	tr.applyModifyLLM(context.Background(), llmRule(cfg), domain.DirectionResponse, responseFlow("second"))

	metrics := collectMetrics(t, reader)
	assert.Equal(t, int64(2), counterValue(t, metrics, "tollbooth.generation_total"))
	assert.Equal(t, int64(1), counterValue(t, metrics, "tollbooth.generation.cache_hits_total"))
	assert.Equal(t, 1, gen.callCount())
}
