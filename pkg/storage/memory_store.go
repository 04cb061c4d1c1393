package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/tollboothapp/tollbooth/pkg/domain"
)

// MemoryArtifactStore is an in-memory implementation of ArtifactStore.
type MemoryArtifactStore struct {
	mu        sync.RWMutex
	artifacts map[string]*domain.StoredArtifact
}

// NewMemoryArtifactStore creates a new MemoryArtifactStore.
func NewMemoryArtifactStore() *MemoryArtifactStore {
	return &MemoryArtifactStore{
		artifacts: make(map[string]*domain.StoredArtifact),
	}
}

// Get retrieves an artifact by exact key.
func (s *MemoryArtifactStore) Get(_ context.Context, key string) (*domain.StoredArtifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	artifact, ok := s.artifacts[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return artifact.Clone(), nil
}

// Put saves an artifact under the given key, overwriting any existing entry.
func (s *MemoryArtifactStore) Put(_ context.Context, key string, artifact *domain.StoredArtifact) error {
	if key == "" {
		return fmt.Errorf("artifact key must not be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.artifacts[key] = artifact.Clone()
	return nil
}

// Delete removes an artifact. Deleting an absent key is a no-op.
func (s *MemoryArtifactStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.artifacts, key)
	return nil
}

// Keys returns all artifact keys in sorted order.
func (s *MemoryArtifactStore) Keys(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.artifacts))
	for k := range s.artifacts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Close is a no-op for the memory store.
func (s *MemoryArtifactStore) Close() error {
	return nil
}
