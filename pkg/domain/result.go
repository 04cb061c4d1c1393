package domain

// Disposition is what the proxy should do with the flow after evaluation.
type Disposition string

const (
	// DispositionForward sends the (possibly transformed) flow onward.
	DispositionForward Disposition = "forward"
	// DispositionHold parks the flow in the manual-review queue.
	DispositionHold Disposition = "hold"
	// DispositionDrop discards the flow entirely.
	DispositionDrop Disposition = "drop"
)

// MatchResult is the deterministic outcome of one engine evaluation. The
// same structure backs live enforcement and "test this rule" previews; any
// divergence between the two is a defect.
type MatchResult struct {
	// Matched reports whether any rule fired. When false the implicit
	// behavior is passthrough.
	Matched bool `json:"matched"`
	// Rule is the rule that fired, nil when Matched is false.
	Rule *Rule `json:"rule,omitempty"`
	// Flow is the transformed flow. It is always a copy; the input flow
	// is never mutated.
	Flow *Flow `json:"flow"`
	// Disposition tells the proxy what to do with the flow.
	Disposition Disposition `json:"disposition"`
	// Trace is the ordered, human-readable explanation of every condition
	// evaluated, produced identically for enforcement and preview.
	Trace []string `json:"trace"`
	// Warnings records non-fatal failures (missing store key, LLM error)
	// that degraded the action to a safe fallback.
	Warnings []string `json:"warnings,omitempty"`

	// BodyModified and HeadersModified report whether the transformation
	// changed the respective part of the flow.
	BodyModified    bool `json:"body_modified,omitempty"`
	HeadersModified bool `json:"headers_modified,omitempty"`
	// ServedStoreKey names the artifact key a serve_from_store action
	// resolved, for audit logging.
	ServedStoreKey string `json:"served_store_key,omitempty"`
}
