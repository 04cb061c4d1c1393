package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/tollboothapp/tollbooth/pkg/domain"
)

// httpGenerator bridges modify_llm actions to an external completion
// service. The endpoint receives the prompt and context payload and returns
// the generated text as {"text": "..."}.
type httpGenerator struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

// newGeneratorFromEnv returns an HTTP-backed generator when
// TOLLBOOTH_GENERATOR_URL is set, or nil. A nil generator makes modify_llm
// rules degrade to passthrough with a warning instead of failing flows.
func newGeneratorFromEnv(logger *slog.Logger) domain.Generator {
	endpoint := os.Getenv("TOLLBOOTH_GENERATOR_URL")
	if endpoint == "" {
		logger.Info("No generator endpoint configured, modify_llm rules will pass through")
		return nil
	}
	return &httpGenerator{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 90 * time.Second},
		logger:   logger,
	}
}

type generateRequest struct {
	Prompt   string `json:"prompt"`
	Context  string `json:"context,omitempty"`
	Provider string `json:"provider,omitempty"`
}

type generateResponse struct {
	Text string `json:"text"`
}

func (g *httpGenerator) Generate(ctx context.Context, req domain.GenerationRequest) (string, error) {
	payload, err := json.Marshal(generateRequest{
		Prompt:   req.Prompt,
		Context:  req.Context,
		Provider: req.Provider,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode generation request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to build generation request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("generation call failed: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("generation service returned status %d", resp.StatusCode)
	}

	var decoded generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("failed to decode generation response: %w", err)
	}
	return decoded.Text, nil
}
