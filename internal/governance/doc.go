// Package governance bounds the engine's external collaborator calls.
//
// Rule evaluation itself performs no blocking I/O; only datastore reads and
// LLM generation may block or fail. Both run under the timeouts defined
// here, with retries for generation, so a misbehaving collaborator can slow
// a flow but never hang it indefinitely.
package governance
