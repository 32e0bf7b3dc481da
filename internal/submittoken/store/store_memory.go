package store

import (
	"context"
	"fmt"
	"sync"

	"submit/internal/submittoken/models"
	"submit/pkg/platform/sentinel"
)

// InMemoryStore holds submit tokens keyed by submit id.
type InMemoryStore struct {
	mu     sync.RWMutex
	tokens map[string]models.Token
}

func New() *InMemoryStore {
	return &InMemoryStore{tokens: make(map[string]models.Token)}
}

func (s *InMemoryStore) Create(_ context.Context, t *models.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tokens[t.SubmitID]; ok {
		return fmt.Errorf("submit token %s: %w", t.SubmitID, sentinel.ErrAlreadyUsed)
	}
	s.tokens[t.SubmitID] = *t
	return nil
}

func (s *InMemoryStore) FindBySubmitID(_ context.Context, submitID string) (*models.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tokens[submitID]
	if !ok {
		return nil, fmt.Errorf("submit token %s: %w", submitID, sentinel.ErrNotFound)
	}
	return &t, nil
}

// Delete removes the token; deleting a missing token is not an error.
func (s *InMemoryStore) Delete(_ context.Context, submitID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, submitID)
	return nil
}
