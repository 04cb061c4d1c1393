// Package storage provides artifact and cursor persistence for the rule
// engine. Artifacts are the stored request/response mocks serve_from_store
// actions replay; cursors are the per-rule positions the round_robin and
// sequential key modes advance.
package storage

import (
	"context"
	"errors"

	"github.com/tollboothapp/tollbooth/pkg/domain"
)

// ErrNotFound is returned when a requested artifact key does not exist in
// the store. A missing key is a local failure for the engine, never a crash.
var ErrNotFound = errors.New("stored artifact not found")

// ArtifactStore exposes persistence operations for stored artifacts. Keyed
// lookups are case-sensitive exact string matches.
type ArtifactStore interface {
	Get(ctx context.Context, key string) (*domain.StoredArtifact, error)
	Put(ctx context.Context, key string, artifact *domain.StoredArtifact) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
	Close() error
}

// CursorStore owns the selection cursors. One cursor exists per
// (rule id, direction); both advance operations are atomic
// read-modify-write so concurrent flows matching the same rule advance the
// cursor exactly once each, never racing to the same value.
type CursorStore interface {
	// AdvanceRoundRobin returns the position to serve for this evaluation
	// and advances the stored cursor (pos+1) mod n, wrapping indefinitely.
	// The stored cursor is clamped into [0,n) first, so key-list edits
	// mid-sequence cannot leave it out of range.
	AdvanceRoundRobin(ruleID string, direction domain.Direction, n int) int
	// AdvanceSequential returns the position to serve for this evaluation
	// and advances the stored cursor by one up to n-1, where it clamps;
	// the last position is served on all subsequent calls.
	AdvanceSequential(ruleID string, direction domain.Direction, n int) int
	// Reset clears the cursor for a rule, for use when a rule's key list
	// is edited.
	Reset(ruleID string, direction domain.Direction)
	Close() error
}
