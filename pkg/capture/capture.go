// Package capture classifies proxied traffic before it reaches the rule
// engine. It decides which hosts count as LLM APIs, whether a flow should be
// held for interception, how large bodies are summarized for transport, and
// whether a response is a server-sent event stream.
package capture

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Known LLM API endpoints for targeted interception.
var llmAPIHosts = []string{
	"api.anthropic.com",
	"api.openai.com",
	"generativelanguage.googleapis.com",
	"chatgpt.com",
}

// DefaultMaxBodySize is the largest non-LLM body forwarded intact.
const DefaultMaxBodySize = 1 * 1024 * 1024

// InterceptMode controls which flows are held for manual review.
type InterceptMode string

const (
	ModePassthrough  InterceptMode = "passthrough"
	ModeInterceptLLM InterceptMode = "intercept_llm"
	ModeInterceptAll InterceptMode = "intercept_all"
)

// Valid reports whether the mode is one of the known values.
func (m InterceptMode) Valid() bool {
	switch m {
	case ModePassthrough, ModeInterceptLLM, ModeInterceptAll:
		return true
	}
	return false
}

// IsLLMAPI reports whether the host belongs to a known LLM provider.
// Matching is substring based so subdomains and host:port forms qualify.
func IsLLMAPI(host string) bool {
	for _, h := range llmAPIHosts {
		if strings.Contains(host, h) {
			return true
		}
	}
	return false
}

// ShouldIntercept decides whether a flow to the given host is held for
// manual review under the given mode.
func ShouldIntercept(mode InterceptMode, host string) bool {
	switch mode {
	case ModeInterceptLLM:
		return IsLLMAPI(host)
	case ModeInterceptAll:
		return true
	}
	return false
}

// IsEventStream reports whether a Content-Type header value marks the
// response as a server-sent event stream.
func IsEventStream(contentType string) bool {
	return strings.Contains(contentType, "text/event-stream")
}

// BodyPolicy controls how captured bodies are rendered for transport.
type BodyPolicy struct {
	// MaxBodySize is the truncation threshold for non-LLM bodies, in bytes.
	MaxBodySize int
}

// DefaultBodyPolicy returns a policy with the standard 1 MiB threshold,
// honoring the MAX_BODY_SIZE environment override.
func DefaultBodyPolicy() BodyPolicy {
	max := DefaultMaxBodySize
	if raw := os.Getenv("MAX_BODY_SIZE"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			max = parsed
		}
	}
	return BodyPolicy{MaxBodySize: max}
}

// Render converts a raw body into the string stored on a flow. LLM API
// bodies are always carried in full so rules can match on their content.
// Oversized non-LLM bodies and binary payloads become placeholders.
func (p BodyPolicy) Render(content []byte, isLLM bool) string {
	if len(content) == 0 {
		return ""
	}

	if !isLLM {
		max := p.MaxBodySize
		if max <= 0 {
			max = DefaultMaxBodySize
		}
		if len(content) > max {
			return fmt.Sprintf("[Content truncated, %d bytes total]", len(content))
		}
	}

	if !utf8.Valid(content) {
		return fmt.Sprintf("[Binary content, %d bytes]", len(content))
	}
	return string(content)
}
