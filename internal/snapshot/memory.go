package snapshot

import (
	"context"
	"sync"

	"github.com/rickgao/chatlink/internal/model"
)

// MemoryStore keeps the snapshot in process memory. It is the default
// when no backend is configured and the store used by tests.
type MemoryStore struct {
	mu    sync.Mutex
	msgs  []model.Message
	saves int
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Save replaces the stored snapshot.
func (s *MemoryStore) Save(ctx context.Context, msgs []model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append([]model.Message(nil), msgs...)
	s.saves++
	return nil
}

// Load returns a copy of the stored snapshot.
func (s *MemoryStore) Load(ctx context.Context) ([]model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Message{}, s.msgs...), nil
}

// Clear removes the stored snapshot.
func (s *MemoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = nil
	return nil
}

// Saves returns the number of Save calls.
func (s *MemoryStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }
