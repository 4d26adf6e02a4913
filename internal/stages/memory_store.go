package stages

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory Store for tests and local runs.
type MemoryStore struct {
	mu       sync.Mutex
	entities map[string]Entity
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entities: make(map[string]Entity)}
}

// Put inserts or replaces an entity.
func (s *MemoryStore) Put(e Entity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entities[e.ID] = e
}

func (s *MemoryStore) Load(ctx context.Context, entityID string) (Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entities[entityID]
	if !ok {
		return Entity{}, ErrNotFound
	}
	return e, nil
}

func (s *MemoryStore) CompareAndSwapStage(ctx context.Context, entityID, expected, newStage string, closed bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entities[entityID]
	if !ok {
		return false, ErrNotFound
	}
	if e.Stage != expected {
		return false, nil
	}
	e.Stage = newStage
	if closed {
		e.Closed = true
	}
	s.entities[entityID] = e
	return true, nil
}

// ListByStage returns ids of entities currently at stage, sorted.
func (s *MemoryStore) ListByStage(ctx context.Context, stage string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, e := range s.entities {
		if e.Stage == stage {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// MemoryAuditSink collects audit entries in memory.
type MemoryAuditSink struct {
	mu      sync.Mutex
	entries []AuditEntry
}

func NewMemoryAuditSink() *MemoryAuditSink {
	return &MemoryAuditSink{}
}

func (s *MemoryAuditSink) Append(ctx context.Context, entry AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

// Entries returns a copy of the appended entries in order.
func (s *MemoryAuditSink) Entries() []AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]AuditEntry, len(s.entries))
	copy(out, s.entries)
	return out
}
