package confirmation

import (
	"context"
	"sync"

	"enroll/internal/sentinel"
)

// TokenTypeConfirmation namespaces confirmation tokens in a shared token
// store.
const TokenTypeConfirmation = "confirmation"

// TokenStore persists outstanding token state keyed by (type, key). Add
// upserts, so resend counters can be bumped in place.
type TokenStore interface {
	Add(ctx context.Context, tokenType, key string, payload State) error
	Get(ctx context.Context, tokenType, key string) (State, error)
	Remove(ctx context.Context, tokenType, key string) error
	GetAll(ctx context.Context, tokenType string) ([]State, error)
}

// InMemoryTokenStore holds token state in memory.
type InMemoryTokenStore struct {
	mu     sync.RWMutex
	tokens map[string]map[string]State
}

func NewInMemoryTokenStore() *InMemoryTokenStore {
	return &InMemoryTokenStore{tokens: make(map[string]map[string]State)}
}

func (s *InMemoryTokenStore) Add(_ context.Context, tokenType, key string, payload State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket, ok := s.tokens[tokenType]
	if !ok {
		bucket = make(map[string]State)
		s.tokens[tokenType] = bucket
	}
	bucket[key] = payload
	return nil
}

func (s *InMemoryTokenStore) Get(_ context.Context, tokenType, key string) (State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if st, ok := s.tokens[tokenType][key]; ok {
		return st, nil
	}
	return State{}, sentinel.ErrNotFound
}

func (s *InMemoryTokenStore) Remove(_ context.Context, tokenType, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tokens[tokenType][key]; !ok {
		return sentinel.ErrNotFound
	}
	delete(s.tokens[tokenType], key)
	return nil
}

func (s *InMemoryTokenStore) GetAll(_ context.Context, tokenType string) ([]State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]State, 0, len(s.tokens[tokenType]))
	for _, st := range s.tokens[tokenType] {
		out = append(out, st)
	}
	return out, nil
}
