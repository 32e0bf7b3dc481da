package models

import (
	"time"

	"submit/internal/identity"
)

// Status is the lifecycle state of a popup authorization request.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusExpired   Status = "expired"
)

// TTL is how long a request may stay pending before a status read expires it.
const TTL = 15 * time.Minute

// IsTerminal reports whether no further transition is allowed.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusExpired
}

// Request tracks one popup handshake from creation to a single consumed read.
type Request struct {
	AuthID           string
	Program          string
	Status           Status
	PopupURL         string
	IDVRec           string
	IdentityResponse identity.Identity
	FailureReason    string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	CompletedAt      *time.Time
	ConsumedAt       *time.Time
}

// ExpiresAt is the moment a pending request becomes expirable.
func (r *Request) ExpiresAt() time.Time {
	return r.CreatedAt.Add(TTL)
}

// ShouldExpire reports whether a read at now must move the request to expired.
func (r *Request) ShouldExpire(now time.Time) bool {
	return r.Status == StatusPending && now.Sub(r.CreatedAt) > TTL
}

// IsConsumed reports whether the completed payload was already handed out.
func (r *Request) IsConsumed() bool {
	return r.Status == StatusCompleted && r.ConsumedAt != nil
}
