// Package identity holds the Identity Vault payload shape and the pure
// transformations applied to it before anything leaves this service.
package identity

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Well-known identity fields.
const (
	FieldID                 = "id"
	FieldVerificationStatus = "verification_status"
	FieldYSWSEligible       = "ysws_eligible"
	FieldRejectionReason    = "rejection_reason"
	FieldEmail              = "email"
	FieldPrimaryEmail       = "primary_email"
	FieldFirstName          = "first_name"
	FieldLastName           = "last_name"
	FieldFullName           = "full_name"
	FieldAddresses          = "addresses"
	FieldSlackID            = "slack_id"
)

// StatusVerified is the only verification_status that passes gating.
const (
	StatusVerified = "verified"
	StatusPending  = "pending"
)

// Identity is a loosely typed Identity Vault record.
type Identity map[string]any

// String returns the field rendered as a string. Numbers keep their JSON
// form so numeric ids survive untouched.
func (i Identity) String(field string) string {
	return Stringify(i[field])
}

// Bool reports whether field is literally true.
func (i Identity) Bool(field string) bool {
	b, ok := i[field].(bool)
	return ok && b
}

// ID returns the vault record id.
func (i Identity) ID() string { return i.String(FieldID) }

// Verified reports verification_status == verified.
func (i Identity) Verified() bool { return i.String(FieldVerificationStatus) == StatusVerified }

// Eligible reports ysws_eligible == true.
func (i Identity) Eligible() bool { return i.Bool(FieldYSWSEligible) }

// Project keeps only the named fields that are present.
func (i Identity) Project(fields []string) Identity {
	out := make(Identity, len(fields))
	for _, f := range fields {
		if v, ok := i[f]; ok {
			out[f] = deepCopy(v)
		}
	}
	return out
}

// Stringify renders an identity value for query strings and metadata.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	case int, int64, int32:
		return fmt.Sprint(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// Normalize canonicalizes a raw vault payload. It never mutates raw and is
// idempotent.
func Normalize(raw Identity) Identity {
	out, _ := deepCopy(map[string]any(raw)).(map[string]any)
	if out == nil {
		out = map[string]any{}
	}
	id := Identity(out)

	if strings.TrimSpace(id.String(FieldEmail)) == "" {
		if primary := id.String(FieldPrimaryEmail); primary != "" {
			id[FieldEmail] = primary
		}
	}

	if addrs, ok := id[FieldAddresses].([]any); ok && len(addrs) > 0 {
		id[FieldAddresses] = []any{pickAddress(addrs)}
	}

	first, last := id.String(FieldFirstName), id.String(FieldLastName)
	if first != "" || last != "" {
		id[FieldFullName] = strings.TrimSpace(first + " " + last)
	}
	return id
}

func pickAddress(addrs []any) any {
	for _, a := range addrs {
		if isPrimaryAddress(a) {
			return a
		}
	}
	return addrs[0]
}

func isPrimaryAddress(a any) bool {
	m, ok := a.(map[string]any)
	if !ok {
		return false
	}
	if p, ok := m["primary"].(bool); ok && p {
		return true
	}
	switch tags := m["tags"].(type) {
	case []any:
		for _, t := range tags {
			if s, ok := t.(string); ok && s == "primary" {
				return true
			}
		}
	case []string:
		for _, s := range tags {
			if s == "primary" {
				return true
			}
		}
	}
	return false
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, vv := range t {
			m[k] = deepCopy(vv)
		}
		return m
	case Identity:
		return Identity(deepCopy(map[string]any(t)).(map[string]any))
	case []any:
		s := make([]any, len(t))
		for i, vv := range t {
			s[i] = deepCopy(vv)
		}
		return s
	default:
		return v
	}
}
