package db

import (
	"context"
	"fmt"
	"sync"

	"github.com/destinyhacking/app/backend/internal/models"
)

// MemoryStore is an in-process ActionStore for tests and hosts without a
// writable data directory. IDs are assigned in insertion order.
type MemoryStore struct {
	mu      sync.Mutex
	nextID  int64
	actions []models.QueuedAction

	// FailWrites, when set, is returned from every mutating call.
	FailWrites error
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nextID: 1}
}

// InsertAction implements ActionStore.
func (s *MemoryStore) InsertAction(_ context.Context, action *models.QueuedAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites != nil {
		return s.FailWrites
	}
	action.ID = s.nextID
	s.nextID++
	cp := *action
	cp.Payload = append([]byte(nil), action.Payload...)
	s.actions = append(s.actions, cp)
	return nil
}

// ListActions implements ActionStore.
func (s *MemoryStore) ListActions(context.Context) ([]models.QueuedAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.QueuedAction, len(s.actions))
	copy(out, s.actions)
	return out, nil
}

// DeleteAction implements ActionStore.
func (s *MemoryStore) DeleteAction(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites != nil {
		return s.FailWrites
	}
	for i := range s.actions {
		if s.actions[i].ID == id {
			s.actions = append(s.actions[:i], s.actions[i+1:]...)
			return nil
		}
	}
	return nil
}

// IncrementRetry implements ActionStore.
func (s *MemoryStore) IncrementRetry(_ context.Context, id int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites != nil {
		return 0, s.FailWrites
	}
	for i := range s.actions {
		if s.actions[i].ID == id {
			s.actions[i].RetryCount++
			return s.actions[i].RetryCount, nil
		}
	}
	return 0, fmt.Errorf("action %d not found", id)
}

// CountActions implements ActionStore.
func (s *MemoryStore) CountActions(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.actions), nil
}
