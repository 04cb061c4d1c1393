package domain

import "context"

// GenerationRequest is the resolved payload forwarded to the LLM
// collaborator. The engine does not interpret provider-specific semantics.
type GenerationRequest struct {
	Prompt   string
	Context  string
	Provider string
}

// Generator is the external LLM collaborator used by modify_llm actions.
type Generator interface {
	Generate(ctx context.Context, req GenerationRequest) (string, error)
}

// TagRegistry enumerates known tags for UI autocomplete. The engine never
// validates flow tags against it; free-form tagging is permitted.
type TagRegistry interface {
	Known(ctx context.Context) ([]string, error)
}
