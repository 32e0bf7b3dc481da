package models

import "time"

// Token is a one-time right to submit one verification for IDVRec, optionally
// bound to a program. Absence means never issued or already used.
type Token struct {
	SubmitID string
	IDVRec   string
	Program  string
	IssuedAt time.Time
}

// Matches reports whether the token authorizes idvRec for program. The
// program binding only applies when both sides name one.
func (t *Token) Matches(idvRec, program string) bool {
	if t.IDVRec != idvRec {
		return false
	}
	if program != "" && t.Program != "" && program != t.Program {
		return false
	}
	return true
}
