package state

import (
	"context"
	"fmt"
	"sync"

	"github.com/alanyoungcy/tradecore/internal/domain"
)

// MemoryStore is a process-local SnapshotStore for tests and throwaway
// replay runs.
type MemoryStore struct {
	mu   sync.Mutex
	recs map[string]domain.SnapshotRecord
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{recs: make(map[string]domain.SnapshotRecord)}
}

// Put replaces the record stored under rec.Key.
func (s *MemoryStore) Put(_ context.Context, rec domain.SnapshotRecord) error {
	rec.Payload = append([]byte(nil), rec.Payload...)
	s.mu.Lock()
	s.recs[rec.Key] = rec
	s.mu.Unlock()
	return nil
}

// Get returns the record stored under key.
func (s *MemoryStore) Get(_ context.Context, key string) (domain.SnapshotRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[key]
	if !ok {
		return domain.SnapshotRecord{}, fmt.Errorf("state: memory get %s: %w", key, domain.ErrNotFound)
	}
	rec.Payload = append([]byte(nil), rec.Payload...)
	return rec, nil
}
