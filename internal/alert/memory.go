package alert

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is an in-process Store, used in tests and when no database is
// configured for alerts.
type MemoryStore struct {
	mu     sync.RWMutex
	alerts map[int64]Alert
	nextID int64
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{alerts: make(map[int64]Alert)}
}

// SaveAlert inserts or replaces an alert and returns the stored copy
func (s *MemoryStore) SaveAlert(ctx context.Context, a *Alert) (*Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *a
	if stored.ID == 0 {
		s.nextID++
		stored.ID = s.nextID
	} else if _, ok := s.alerts[stored.ID]; !ok {
		return nil, fmt.Errorf("failed to update alert %d: %w", stored.ID, ErrNotFound)
	}
	s.alerts[stored.ID] = stored

	out := stored
	return &out, nil
}

// FindAlert returns a copy of the alert with the given id
func (s *MemoryStore) FindAlert(ctx context.Context, id int64) (*Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.alerts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &a, nil
}
