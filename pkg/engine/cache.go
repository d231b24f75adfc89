package engine

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// MemoryOutputStore is an OutputStore kept entirely in memory. It backs
// single-process runs and tests; persistent runs use the sqlite-backed
// store from pkg/stores.
type MemoryOutputStore struct {
	mu      sync.RWMutex
	records map[string]TaskRecord
}

// NewMemoryOutputStore creates an empty in-memory output store.
func NewMemoryOutputStore() *MemoryOutputStore {
	return &MemoryOutputStore{
		records: make(map[string]TaskRecord),
	}
}

// GetOutput returns the cached output for the key, if present. A record
// written under a different invalidator does not match.
func (s *MemoryOutputStore) GetOutput(ctx context.Context, identityKey, invalidator string) (json.RawMessage, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[identityKey]
	if !ok || record.Invalidator != invalidator {
		return nil, false, nil
	}
	return record.Output, true, nil
}

// PutOutput persists a task output. Existing records are left unchanged so
// a key's observed output can never change within or across runs.
func (s *MemoryOutputStore) PutOutput(ctx context.Context, record TaskRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.records[record.IdentityKey]; ok && existing.Invalidator == record.Invalidator {
		return nil
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	s.records[record.IdentityKey] = record
	return nil
}

// Len returns the number of stored records.
func (s *MemoryOutputStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
