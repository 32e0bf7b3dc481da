package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"submit/internal/authorization/models"
	"submit/internal/identity"
	"submit/pkg/platform/sentinel"
)

// InMemoryStore keeps authorization requests in process. Every conditional
// update runs under the write lock, mirroring the guarded UPDATEs of the
// Postgres store.
type InMemoryStore struct {
	mu       sync.RWMutex
	requests map[string]*models.Request
}

func New() *InMemoryStore {
	return &InMemoryStore{requests: make(map[string]*models.Request)}
}

func (s *InMemoryStore) Create(_ context.Context, r *models.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[r.AuthID]; ok {
		return fmt.Errorf("authorization request %s: %w", r.AuthID, sentinel.ErrAlreadyUsed)
	}
	s.requests[r.AuthID] = clone(r)
	return nil
}

func (s *InMemoryStore) FindByAuthID(_ context.Context, authID string) (*models.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.requests[authID]
	if !ok {
		return nil, fmt.Errorf("authorization request %s: %w", authID, sentinel.ErrNotFound)
	}
	return clone(r), nil
}

func (s *InMemoryStore) Expire(_ context.Context, authID string, now time.Time) error {
	return s.transitionPending(authID, func(r *models.Request) {
		r.Status = models.StatusExpired
		r.UpdatedAt = now
	})
}

func (s *InMemoryStore) Fail(_ context.Context, authID, reason string, now time.Time) error {
	return s.transitionPending(authID, func(r *models.Request) {
		r.Status = models.StatusFailed
		r.FailureReason = reason
		r.UpdatedAt = now
	})
}

func (s *InMemoryStore) Complete(_ context.Context, authID, idvRec string, payload identity.Identity, now time.Time) error {
	return s.transitionPending(authID, func(r *models.Request) {
		r.Status = models.StatusCompleted
		r.IDVRec = idvRec
		r.IdentityResponse = payload
		r.CompletedAt = &now
		r.UpdatedAt = now
	})
}

// MarkConsumed sets consumed_at once; only the first caller gets true.
func (s *InMemoryStore) MarkConsumed(_ context.Context, authID string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[authID]
	if !ok {
		return false, fmt.Errorf("authorization request %s: %w", authID, sentinel.ErrNotFound)
	}
	if r.Status != models.StatusCompleted || r.ConsumedAt != nil {
		return false, nil
	}
	r.ConsumedAt = &now
	r.UpdatedAt = now
	return true, nil
}

func (s *InMemoryStore) transitionPending(authID string, apply func(*models.Request)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[authID]
	if !ok {
		return fmt.Errorf("authorization request %s: %w", authID, sentinel.ErrNotFound)
	}
	if r.Status != models.StatusPending {
		return fmt.Errorf("authorization request %s is %s: %w", authID, r.Status, sentinel.ErrInvalidState)
	}
	apply(r)
	return nil
}

func clone(r *models.Request) *models.Request {
	cp := *r
	if r.IdentityResponse != nil {
		cp.IdentityResponse = r.IdentityResponse.Project(keys(r.IdentityResponse))
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		cp.CompletedAt = &t
	}
	if r.ConsumedAt != nil {
		t := *r.ConsumedAt
		cp.ConsumedAt = &t
	}
	return &cp
}

func keys(m identity.Identity) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
