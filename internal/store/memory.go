package store

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps session records in process memory. Used by tests and by
// deployments without a database.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]SessionRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]SessionRecord)}
}

func (s *MemoryStore) SaveSession(_ context.Context, rec SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = rec
	return nil
}

func (s *MemoryStore) GetSession(_ context.Context, id string) (SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return SessionRecord{}, ErrNotFound
	}
	return rec, nil
}

func (s *MemoryStore) ListSessions(_ context.Context, limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]SessionRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
