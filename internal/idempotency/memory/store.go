package memory

import (
	"context"
	"sync"

	"github.com/dejobratic/checkout/internal/checkout/ports"
)

type entryKey struct {
	owner string
	key   string
}

// Store retains idempotency responses for replaying duplicate requests.
type Store struct {
	mu    sync.RWMutex
	items map[entryKey]ports.StoredResponse
}

// NewStore creates a new in-memory idempotency store.
func NewStore() *Store {
	return &Store{items: make(map[entryKey]ports.StoredResponse)}
}

// Get returns the response stored for the owner's key, or nil if there is none.
func (s *Store) Get(_ context.Context, ownerID, key string) (*ports.StoredResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.items[entryKey{owner: ownerID, key: key}]
	if !ok {
		return nil, nil
	}
	value.Body = append([]byte(nil), value.Body...)
	return &value, nil
}

// Save keeps the first response stored for a key; later saves are ignored.
func (s *Store) Save(_ context.Context, key string, response ports.StoredResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := entryKey{owner: response.OwnerID, key: key}
	if _, exists := s.items[k]; exists {
		return nil
	}
	response.Body = append([]byte(nil), response.Body...)
	s.items[k] = response
	return nil
}
