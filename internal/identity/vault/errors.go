package vault

import (
	"errors"
	"fmt"
)

// ErrorKind classifies Identity Vault failures so callers can pick the
// recorded failure reason without inspecting transport errors.
type ErrorKind string

const (
	// KindUnreachable covers connect/read timeouts and transport errors.
	KindUnreachable ErrorKind = "unreachable"
	// KindStatus is a non-2xx response other than 404.
	KindStatus ErrorKind = "status"
	// KindNotFound is a 404 for the requested identity.
	KindNotFound ErrorKind = "not_found"
	// KindMalformed is a 2xx body that is not JSON.
	KindMalformed ErrorKind = "malformed"
	// KindNoIdentity is a JSON body without an identity object.
	KindNoIdentity ErrorKind = "no_identity"
	// KindNotConfigured means the vault URL or credentials are missing.
	KindNotConfigured ErrorKind = "not_configured"
)

// Error is returned by every Client call that fails.
type Error struct {
	Op         string
	Kind       ErrorKind
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("identity vault %s: %s", e.Op, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the failure kind, or "" for foreign errors.
func KindOf(err error) ErrorKind {
	var ve *Error
	if errors.As(err, &ve) {
		return ve.Kind
	}
	return ""
}

// StatusOf extracts the upstream HTTP status, if any.
func StatusOf(err error) int {
	var ve *Error
	if errors.As(err, &ve) {
		return ve.StatusCode
	}
	return 0
}
