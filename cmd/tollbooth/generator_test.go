package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tollboothapp/tollbooth/pkg/domain"
)

func TestNewGeneratorFromEnv(t *testing.T) {
	t.Setenv("TOLLBOOTH_GENERATOR_URL", "")
	assert.Nil(t, newGeneratorFromEnv(slog.Default()))

	t.Setenv("TOLLBOOTH_GENERATOR_URL", "http://localhost:9001/generate")
	assert.NotNil(t, newGeneratorFromEnv(slog.Default()))
}

func TestHTTPGeneratorGenerate(t *testing.T) {
	var received generateRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(generateResponse{Text: "a softer answer"})
	}))
	defer server.Close()

	gen := &httpGenerator{
		endpoint: server.URL,
		client:   server.Client(),
		logger:   slog.Default(),
	}

	text, err := gen.Generate(context.Background(), domain.GenerationRequest{
		Prompt:   "rewrite politely",
		Context:  "original body",
		Provider: "anthropic",
	})
	require.NoError(t, err)
	assert.Equal(t, "a softer answer", text)
	assert.Equal(t, "rewrite politely", received.Prompt)
	assert.Equal(t, "original body", received.Context)
	assert.Equal(t, "anthropic", received.Provider)
}

func TestHTTPGeneratorNonOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	gen := &httpGenerator{endpoint: server.URL, client: server.Client(), logger: slog.Default()}

	_, err := gen.Generate(context.Background(), domain.GenerationRequest{Prompt: "p"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 503")
}

func TestHTTPGeneratorMalformedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer server.Close()

	gen := &httpGenerator{endpoint: server.URL, client: server.Client(), logger: slog.Default()}

	_, err := gen.Generate(context.Background(), domain.GenerationRequest{Prompt: "p"})
	assert.Error(t, err)
}

func TestHTTPGeneratorHonorsContext(t *testing.T) {
	started := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server watches for client disconnect;
		// otherwise r.Context() is never cancelled and Close deadlocks.
		_, _ = io.Copy(io.Discard, r.Body)
		close(started)
		<-r.Context().Done()
	}))
	defer server.Close()

	gen := &httpGenerator{endpoint: server.URL, client: server.Client(), logger: slog.Default()}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	done := make(chan error, 1)
	go func() {
		_, err := gen.Generate(ctx, domain.GenerationRequest{Prompt: "p"})
		done <- err
	}()

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("generate did not return after context cancellation")
	}
}
