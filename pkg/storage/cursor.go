package storage

import (
	"sync"

	"github.com/tollboothapp/tollbooth/pkg/domain"
)

// MemoryCursorStore keeps selection cursors in process memory. Cursors reset
// to zero on restart; deployments that need round-robin or sequential
// determinism across restarts should use the SQLite store instead.
type MemoryCursorStore struct {
	mu      sync.Mutex
	cursors map[cursorKey]int
}

type cursorKey struct {
	ruleID    string
	direction domain.Direction
}

// NewMemoryCursorStore creates a new MemoryCursorStore.
func NewMemoryCursorStore() *MemoryCursorStore {
	return &MemoryCursorStore{cursors: make(map[cursorKey]int)}
}

// AdvanceRoundRobin returns the position to serve and wraps the cursor.
func (s *MemoryCursorStore) AdvanceRoundRobin(ruleID string, direction domain.Direction, n int) int {
	if n <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := cursorKey{ruleID, direction}
	pos := clampCursor(s.cursors[key], n)
	s.cursors[key] = (pos + 1) % n
	return pos
}

// AdvanceSequential returns the position to serve and clamps the cursor at
// the last position.
func (s *MemoryCursorStore) AdvanceSequential(ruleID string, direction domain.Direction, n int) int {
	if n <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := cursorKey{ruleID, direction}
	pos := clampCursor(s.cursors[key], n)
	if pos+1 < n {
		s.cursors[key] = pos + 1
	} else {
		s.cursors[key] = n - 1
	}
	return pos
}

// Reset clears the cursor for a rule.
func (s *MemoryCursorStore) Reset(ruleID string, direction domain.Direction) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.cursors, cursorKey{ruleID, direction})
}

// Close is a no-op for the memory store.
func (s *MemoryCursorStore) Close() error {
	return nil
}

// clampCursor forces a stored position into [0,n). Key lists can shrink
// while a cursor is mid-sequence, so the stored value is never trusted.
func clampCursor(pos, n int) int {
	if pos < 0 {
		return 0
	}
	if pos >= n {
		return n - 1
	}
	return pos
}
