package store

import (
	"context"
	"fmt"
	"sync"

	"submit/internal/verification/models"
	"submit/pkg/platform/sentinel"
)

// InMemoryStore enforces submit id uniqueness under a single lock, matching
// the partial unique index of the SQL schema.
type InMemoryStore struct {
	mu       sync.RWMutex
	attempts map[int64]*models.Attempt
	bySubmit map[string]int64
	nextID   int64
}

func New() *InMemoryStore {
	return &InMemoryStore{
		attempts: make(map[int64]*models.Attempt),
		bySubmit: make(map[string]int64),
	}
}

func (s *InMemoryStore) Create(_ context.Context, a *models.Attempt) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.SubmitID != "" {
		if _, ok := s.bySubmit[a.SubmitID]; ok {
			return 0, fmt.Errorf("submit id %s: %w", a.SubmitID, sentinel.ErrAlreadyUsed)
		}
	}
	s.nextID++
	cp := *a
	cp.ID = s.nextID
	s.attempts[cp.ID] = &cp
	if cp.SubmitID != "" {
		s.bySubmit[cp.SubmitID] = cp.ID
	}
	return cp.ID, nil
}

func (s *InMemoryStore) ExistsBySubmitID(_ context.Context, submitID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.bySubmit[submitID]
	return ok, nil
}

func (s *InMemoryStore) FindByID(_ context.Context, id int64) (*models.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.attempts[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

// Count returns the number of stored attempts.
func (s *InMemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.attempts)
}
