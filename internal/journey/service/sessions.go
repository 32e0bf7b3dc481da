package service

import (
	"context"

	"submit/internal/journey/models"
	"submit/internal/journey/sessionize"
	dErrors "submit/pkg/domain-errors"
)

// SessionsRequest carries the operator's filters for the sessions view.
// Query narrows the event window; Filter applies to reduced sessions.
type SessionsRequest struct {
	Query  models.Query
	Filter sessionize.Filter
	Page   int
}

// SessionsView is one page of reconstructed sessions plus the program
// options for the filter form.
type SessionsView struct {
	sessionize.Page
	Programs []string
}

// Sessions reconstructs verification sessions from the journey log.
type Sessions struct {
	store Store
}

func NewSessions(store Store) *Sessions {
	return &Sessions{store: store}
}

func (s *Sessions) List(ctx context.Context, req SessionsRequest) (*SessionsView, error) {
	q := req.Query
	q.Text = req.Filter.Text
	if q.Limit <= 0 || q.Limit > sessionize.DefaultWindow {
		q.Limit = sessionize.DefaultWindow
	}

	events, err := s.store.List(ctx, q)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load journey events")
	}
	programs, err := s.store.Programs(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load programs")
	}

	sessions := sessionize.Apply(sessionize.Sessionize(events), req.Filter)
	return &SessionsView{
		Page:     sessionize.Paginate(sessions, req.Page),
		Programs: programs,
	}, nil
}
