package models

import (
	"slices"
	"strings"
	"time"

	"submit/internal/identity"
)

// Kind is a known journey event type. Stored event types are an open set;
// anything unknown parses to KindUnrecognized.
type Kind string

const (
	KindProgramPage              Kind = "program_page"
	KindOAuthStart               Kind = "oauth_start"
	KindOAuthCallback            Kind = "oauth_callback"
	KindOAuthPassed              Kind = "oauth_passed"
	KindOAuthFailed              Kind = "oauth_failed"
	KindRedirectToForm           Kind = "redirect_to_form"
	KindVerificationAttempt      Kind = "verification_attempt"
	KindVerificationAttemptReuse Kind = "verification_attempt_reuse"
	KindUnauthorizedSubmitID     Kind = "unauthorized_submit_id"
	KindPopupOAuthSuccess        Kind = "popup_oauth_success"
	KindPopupOAuthError          Kind = "popup_oauth_error"
	KindUnrecognized             Kind = "unrecognized"
)

var knownKinds = map[Kind]struct{}{
	KindProgramPage:              {},
	KindOAuthStart:               {},
	KindOAuthCallback:            {},
	KindOAuthPassed:              {},
	KindOAuthFailed:              {},
	KindRedirectToForm:           {},
	KindVerificationAttempt:      {},
	KindVerificationAttemptReuse: {},
	KindUnauthorizedSubmitID:     {},
	KindPopupOAuthSuccess:        {},
	KindPopupOAuthError:          {},
}

func ParseKind(s string) Kind {
	if _, ok := knownKinds[Kind(s)]; ok {
		return Kind(s)
	}
	return KindUnrecognized
}

// IsFlowStage reports whether the kind marks an in-flight step of the
// redirect flow.
func (k Kind) IsFlowStage() bool {
	switch k {
	case KindOAuthStart, KindOAuthCallback, KindOAuthPassed, KindRedirectToForm, KindVerificationAttempt:
		return true
	}
	return false
}

// Metadata keys read back by the sessionizer.
const (
	MetaSubmitID           = "submit_id"
	MetaFirstName          = "first_name"
	MetaLastName           = "last_name"
	MetaSlackID            = "slack_id"
	MetaOriginalParams     = "original_params"
	MetaQueryParams        = "query_params"
	MetaFinalURL           = "final_url"
	MetaRejectionReason    = "rejection_reason"
	MetaReason             = "reason"
	MetaVerificationStatus = "verification_status"
	MetaStatus             = "status"
	MetaError              = "error"
	MetaVerified           = "verified"
	MetaAuthID             = "auth_id"
	MetaUserAgent          = "user_agent"
	MetaBrowser            = "browser"
	MetaOS                 = "os"
	MetaBot                = "bot"
)

// Metadata is the free-form bag stored with an event.
type Metadata map[string]any

func (m Metadata) String(key string) string {
	v, ok := m[key]
	if !ok {
		return ""
	}
	return identity.Stringify(v)
}

func (m Metadata) SubmitID() string           { return m.String(MetaSubmitID) }
func (m Metadata) FirstName() string          { return m.String(MetaFirstName) }
func (m Metadata) LastName() string           { return m.String(MetaLastName) }
func (m Metadata) SlackID() string            { return m.String(MetaSlackID) }
func (m Metadata) FinalURL() string           { return m.String(MetaFinalURL) }
func (m Metadata) RejectionReason() string    { return m.String(MetaRejectionReason) }
func (m Metadata) Reason() string             { return m.String(MetaReason) }
func (m Metadata) VerificationStatus() string { return m.String(MetaVerificationStatus) }
func (m Metadata) Status() string             { return m.String(MetaStatus) }
func (m Metadata) Error() string              { return m.String(MetaError) }

// OriginalParams prefers the flow's original_params and falls back to the
// query string captured on the program page.
func (m Metadata) OriginalParams() string {
	if v := m.String(MetaOriginalParams); v != "" {
		return v
	}
	return m.String(MetaQueryParams)
}

// Verified is true only for a literal boolean true.
func (m Metadata) Verified() bool {
	v, _ := m[MetaVerified].(bool)
	return v
}

// Compact drops nil and empty-string values.
func (m Metadata) Compact() Metadata {
	out := make(Metadata, len(m))
	for k, v := range m {
		if v == nil {
			continue
		}
		if s, ok := v.(string); ok && s == "" {
			continue
		}
		out[k] = v
	}
	return out
}

// Event is one append-only journey log row.
type Event struct {
	ID                    int64
	Type                  string
	Program               string
	IDVRec                string
	Email                 string
	RequestIP             string
	Metadata              Metadata
	VerificationAttemptID *int64
	CreatedAt             time.Time
}

func (e *Event) Kind() Kind { return ParseKind(e.Type) }

// Query narrows the event window read for the sessions view. Zero values
// disable a filter.
type Query struct {
	Program  string
	Email    string
	IDVRec   string
	SubmitID string
	// Text matches email, idv_rec, program, request_ip and slack_id as a
	// case-insensitive substring, or submit_id exactly.
	Text  string
	Types []string
	From  time.Time
	To    time.Time
	Limit int
}

// Matches applies the query to one event the way the SQL store does.
func (q Query) Matches(e *Event) bool {
	if q.Program != "" && e.Program != q.Program {
		return false
	}
	if q.Email != "" && e.Email != q.Email {
		return false
	}
	if q.IDVRec != "" && e.IDVRec != q.IDVRec {
		return false
	}
	if q.SubmitID != "" && e.Metadata.SubmitID() != q.SubmitID {
		return false
	}
	if len(q.Types) > 0 && !slices.Contains(q.Types, e.Type) {
		return false
	}
	if !q.From.IsZero() && e.CreatedAt.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && e.CreatedAt.After(q.To) {
		return false
	}
	if q.Text != "" {
		needle := strings.ToLower(q.Text)
		hit := e.Metadata.SubmitID() == q.Text
		for _, hay := range []string{e.Email, e.IDVRec, e.Program, e.RequestIP, e.Metadata.SlackID()} {
			if strings.Contains(strings.ToLower(hay), needle) {
				hit = true
			}
		}
		if !hit {
			return false
		}
	}
	return true
}
