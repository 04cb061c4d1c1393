// Package engine implements the rule matching and transformation engine for
// intercepted LLM API traffic.
//
// The engine is a single library with no transport or UI dependencies. Both
// the live enforcement path and the "test this rule" preview link the same
// Evaluate entry point, so the two can never drift: evaluating a rule set
// against a flow produces the identical explanation trace and the identical
// transformed flow in either context.
package engine
