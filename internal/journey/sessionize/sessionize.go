// Package sessionize groups the flat journey event log into logical
// verification sessions for operator review. It is a pure reducer: no I/O,
// no clocks, deterministic for a given input.
package sessionize

import (
	"sort"
	"strings"
	"time"

	"submit/internal/journey/models"
)

const (
	// DefaultWindow is how many of the most recent events are reduced.
	DefaultWindow = 1000
	// IdleGap is the longest silence after which a non-submit-id event no
	// longer joins an existing session.
	IdleGap = 30 * time.Minute
	// PageSize is the sessions view page length.
	PageSize = 10
)

// Result classifies a session's outcome. The zero value means unclassified.
type Result string

const (
	ResultNone             Result = ""
	ResultPassed           Result = "passed"
	ResultFailedRejected   Result = "failed-rejected"
	ResultFailedIneligible Result = "failed-ineligible"
	ResultPending          Result = "pending"
	ResultFailed           Result = "failed"
)

// Bucket collapses the failed variants into "failed".
func (r Result) Bucket() string {
	if strings.HasPrefix(string(r), "failed") {
		return "failed"
	}
	return string(r)
}

type oauthOutcome int

const (
	oauthNone oauthOutcome = iota
	oauthPassed
	oauthFailed
)

// Session is one reconstructed user journey.
type Session struct {
	Program         string
	IP              string
	Email           string
	IDVRec          string
	SubmitID        string
	SlackID         string
	FirstName       string
	LastName        string
	OriginalParams  string
	FinalURL        string
	RejectionReason string
	FirstAt         time.Time
	LastAt          time.Time
	Events          []models.Event
	Result          Result

	SawStage     bool
	VerifiedTrue bool
	PendingHint  bool
	Rejected     bool
	Ineligible   bool
	FailedOther  bool

	latestOAuth oauthOutcome
	seq         int
}

// Sessionize reduces events (any order) into sessions sorted by most recent
// activity first.
func Sessionize(events []models.Event) []*Session {
	evs := make([]models.Event, len(events))
	copy(evs, events)
	sort.SliceStable(evs, func(i, j int) bool {
		if !evs[i].CreatedAt.Equal(evs[j].CreatedAt) {
			return evs[i].CreatedAt.Before(evs[j].CreatedAt)
		}
		return evs[i].ID < evs[j].ID
	})

	var sessions []*Session
	bySubmit := make(map[string]*Session)

	for i := range evs {
		e := evs[i]
		submitID := e.Metadata.SubmitID()

		s := bySubmit[submitID]
		if submitID == "" || s == nil {
			s = findCompatible(sessions, &e)
		}
		if s == nil {
			s = &Session{
				Program: e.Program,
				IP:      e.RequestIP,
				FirstAt: e.CreatedAt,
				seq:     len(sessions),
			}
			sessions = append(sessions, s)
		}
		s.merge(e)
		if submitID != "" {
			if _, ok := bySubmit[submitID]; !ok {
				bySubmit[submitID] = s
			}
		}
	}

	for _, s := range sessions {
		s.Result = s.classify()
	}
	sort.SliceStable(sessions, func(i, j int) bool {
		if !sessions[i].LastAt.Equal(sessions[j].LastAt) {
			return sessions[i].LastAt.After(sessions[j].LastAt)
		}
		return sessions[i].seq > sessions[j].seq
	})
	return sessions
}

// findCompatible returns the most recently updated session e may join.
func findCompatible(sessions []*Session, e *models.Event) *Session {
	var best *Session
	for _, s := range sessions {
		if !s.accepts(e) {
			continue
		}
		if best == nil || s.LastAt.After(best.LastAt) || (s.LastAt.Equal(best.LastAt) && s.seq > best.seq) {
			best = s
		}
	}
	return best
}

func (s *Session) accepts(e *models.Event) bool {
	if s.Program != "" && e.Program != "" && s.Program != e.Program {
		return false
	}
	if e.CreatedAt.Sub(s.LastAt) > IdleGap {
		return false
	}
	if e.Email != "" && s.Email != "" && e.Email == s.Email {
		return true
	}
	if e.IDVRec != "" && s.IDVRec != "" && e.IDVRec == s.IDVRec {
		return true
	}
	// anonymous fallback: two visitors behind one NAT may merge
	anonymous := e.Email == "" && s.Email == "" && e.IDVRec == "" && s.IDVRec == ""
	return anonymous && e.RequestIP != "" && e.RequestIP == s.IP
}

func (s *Session) merge(e models.Event) {
	s.Events = append(s.Events, e)
	s.LastAt = e.CreatedAt
	fill(&s.Program, e.Program)
	fill(&s.Email, e.Email)
	fill(&s.IDVRec, e.IDVRec)

	m := e.Metadata
	fill(&s.FirstName, m.FirstName())
	fill(&s.LastName, m.LastName())
	fill(&s.OriginalParams, m.OriginalParams())
	fill(&s.FinalURL, m.FinalURL())
	fill(&s.SubmitID, m.SubmitID())
	fill(&s.SlackID, m.SlackID())
	if r := m.RejectionReason(); r != "" {
		s.RejectionReason = r
	}

	kind := e.Kind()
	if kind.IsFlowStage() {
		s.SawStage = true
	}

	switch kind {
	case models.KindOAuthPassed:
		if m.VerificationStatus() == "verified" {
			s.latestOAuth = oauthPassed
			s.VerifiedTrue = true
		}
	case models.KindOAuthFailed:
		s.latestOAuth = oauthFailed
		switch m.Reason() {
		case "rejected":
			s.Rejected = true
		case "pending_verification":
			s.PendingHint = true
		case "over_18":
			s.Ineligible = true
		default:
			s.FailedOther = true
		}
	case models.KindVerificationAttempt:
		errCode := m.Error()
		status := m.Status()
		if m.Verified() {
			s.VerifiedTrue = true
		}
		if m.RejectionReason() != "" {
			s.Rejected = true
		}
		if status == "pending" {
			s.PendingHint = true
		}
		if errCode == "ysws_ineligible" {
			s.Ineligible = true
		}
		if errCode != "" && status != "pending" && !s.Rejected && !s.Ineligible {
			s.FailedOther = true
		}
	}
}

func (s *Session) classify() Result {
	switch s.latestOAuth {
	case oauthPassed:
		return ResultPassed
	case oauthFailed:
		switch {
		case s.Rejected:
			return ResultFailedRejected
		case s.Ineligible:
			return ResultFailedIneligible
		case s.PendingHint:
			return ResultPending
		default:
			return ResultFailed
		}
	}
	switch {
	case s.Rejected:
		return ResultFailedRejected
	case s.Ineligible:
		return ResultFailedIneligible
	case s.FailedOther:
		return ResultFailed
	case s.PendingHint || s.SawStage:
		return ResultPending
	}
	return ResultNone
}

func fill(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}
