package sentinel

import "errors"

// Store-level facts. Stores return these wrapped with context; services
// translate them into domain errors before anything reaches a handler.
//
//   - ErrNotFound: no such record
//   - ErrConflict: a record with the same key already exists with different content
//   - ErrExpired: the record outlived its TTL
//   - ErrAlreadyUsed: a one-time key (submit id, attempt) was already recorded
//   - ErrInvalidState: the record is not in the state the update requires
//   - ErrUnavailable: backing store or upstream temporarily unreachable
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrExpired      = errors.New("expired")
	ErrAlreadyUsed  = errors.New("already used")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
