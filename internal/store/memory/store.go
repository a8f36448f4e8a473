package memory

import (
	"context"
	"sync"

	storepkg "storefront/internal/store"
)

// Store keeps credentials in process memory. Nothing survives a restart, so
// it is meant for tests and throwaway sessions.
type Store struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewStore() *Store {
	return &Store{values: make(map[string]string)}
}

func (s *Store) Load(_ context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[storepkg.TokenKey]
	if !ok {
		return "", storepkg.ErrNotFound
	}
	return v, nil
}

func (s *Store) Save(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[storepkg.TokenKey] = token
	return nil
}

func (s *Store) Delete(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, storepkg.TokenKey)
	return nil
}
