package models

import (
	"strings"
	"time"

	"submit/internal/identity"
)

// Attempt is the immutable audit record of one verification call. A non-empty
// SubmitID is globally unique across attempts.
type Attempt struct {
	ID                 int64
	IDVRec             string
	SubmitID           string
	FirstName          string
	LastName           string
	Email              string
	Verified           bool
	VerificationStatus string
	RejectionReason    string
	YSWSEligible       *bool
	IdentityResponse   identity.Identity
	Program            string
	IP                 string
	CreatedAt          time.Time
}

// Input is a verification request as submitted by a program backend.
type Input struct {
	IDVRec    string
	SubmitID  string
	FirstName string
	LastName  string
	Email     string
	Program   string
}

// ParseInput builds an Input from raw query values. A reference of the form
// "idvRec:submitID" carries both values and overrides submitID.
func ParseInput(ref, submitID, firstName, lastName, email, program string) Input {
	in := Input{
		IDVRec:    strings.TrimSpace(ref),
		SubmitID:  strings.TrimSpace(submitID),
		FirstName: strings.TrimSpace(firstName),
		LastName:  strings.TrimSpace(lastName),
		Email:     NormalizeEmail(email),
		Program:   strings.TrimSpace(program),
	}
	if idv, sid, ok := strings.Cut(ref, ":"); ok {
		in.IDVRec, in.SubmitID = idv, sid
	}
	return in
}

// Complete reports whether every identity field needed for matching is set.
func (in Input) Complete() bool {
	return in.IDVRec != "" && in.FirstName != "" && in.LastName != "" && in.Email != ""
}

// NormalizeEmail trims and lowercases for comparison.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Matches compares the submitted names and email against a verified identity.
func (in Input) Matches(id identity.Identity) bool {
	return strings.TrimSpace(id.String(identity.FieldFirstName)) == in.FirstName &&
		strings.TrimSpace(id.String(identity.FieldLastName)) == in.LastName &&
		NormalizeEmail(id.String(identity.FieldEmail)) == in.Email
}

// Result is a verification outcome answered with 200.
type Result struct {
	Verified  bool
	Message   string
	Identity  identity.Identity
	AttemptID int64
}
