package children

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Store with the same uniqueness semantics
// as the Postgres one. For tests and local runs.
type MemoryStore struct {
	mu       sync.Mutex
	byParent map[string]Child
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byParent: make(map[string]Child)}
}

func (s *MemoryStore) FindByParent(ctx context.Context, parentID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	child, ok := s.byParent[parentID]
	if !ok {
		return "", false, nil
	}
	return child.ID, true, nil
}

func (s *MemoryStore) Insert(ctx context.Context, child Child) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byParent[child.ParentID]; exists {
		return ErrDuplicate
	}
	s.byParent[child.ParentID] = child
	return nil
}
