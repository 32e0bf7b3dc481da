// Package formurl builds the program form URL a verified submitter is sent
// to, prefilled with the identity fields the program's scopes allow.
package formurl

import (
	"fmt"
	"net/url"
	"strings"

	"submit/internal/identity"
	"submit/internal/program/models"
)

// MaxOriginalParamsLen caps pass-through query parameters captured at flow start.
const MaxOriginalParamsLen = 1024

const airtableHost = "airtable.com"

var (
	defaultFields = []models.Mapping{
		{IdentityField: identity.FieldFullName, FormField: "full_name"},
		{IdentityField: identity.FieldFirstName, FormField: "first_name"},
		{IdentityField: identity.FieldLastName, FormField: "last_name"},
		{IdentityField: identity.FieldEmail, FormField: "email"},
	}
	airtableDefaultFields = []models.Mapping{
		{IdentityField: identity.FieldFullName, FormField: "Full Name"},
		{IdentityField: identity.FieldFirstName, FormField: "First Name"},
		{IdentityField: identity.FieldLastName, FormField: "Last Name"},
		{IdentityField: identity.FieldEmail, FormField: "Email"},
	}
)

// Input describes one form URL to build.
type Input struct {
	FormURL        string
	Mappings       []models.Mapping
	Scopes         map[string]bool
	IdentityKey    string
	SubmitID       string
	Identity       identity.Identity
	OriginalParams string
}

// Build appends, in order: pass-through params, the identity reference, and
// every scope-enabled mapped field with a non-empty value.
func Build(in Input) (string, error) {
	u, err := url.Parse(in.FormURL)
	if err != nil {
		return "", fmt.Errorf("parse form url: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("form url %q has no host", in.FormURL)
	}
	airtable := u.Hostname() == airtableHost

	var pairs []string
	if u.RawQuery != "" {
		pairs = append(pairs, u.RawQuery)
	}
	for _, kv := range splitQuery(SanitizeOriginalParams(in.OriginalParams)) {
		pairs = append(pairs, encodePair(kv[0], kv[1]))
	}

	idParam := "idv_rec"
	if airtable {
		pairs = append(pairs, "hide_idv_rec=true")
		idParam = "prefill_idv_rec"
	}
	ref := in.IdentityKey
	if in.SubmitID != "" {
		ref += ":" + in.SubmitID
	}
	pairs = append(pairs, encodePair(idParam, ref))

	fields := in.Mappings
	if len(fields) == 0 {
		fields = defaultFields
		if airtable {
			fields = airtableDefaultFields
		}
	}
	for _, m := range fields {
		if !in.Scopes[m.IdentityField] {
			continue
		}
		value := identity.Stringify(in.Identity[m.IdentityField])
		if strings.TrimSpace(value) == "" {
			continue
		}
		key := m.FormField
		if airtable {
			// Airtable reads '+' in prefill names as a space.
			key = "prefill_" + strings.ReplaceAll(key, "+", " ")
		}
		pairs = append(pairs, encodePair(key, value))
	}

	u.RawQuery = strings.Join(pairs, "&")
	return u.String(), nil
}

// AppendParam adds one key/value pair to the end of rawURL's query.
func AppendParam(rawURL, key, value string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.RawQuery == "" {
		u.RawQuery = encodePair(key, value)
	} else {
		u.RawQuery += "&" + encodePair(key, value)
	}
	return u.String(), nil
}

// SanitizeOriginalParams keeps printable ASCII only and caps the length.
func SanitizeOriginalParams(s string) string {
	var b strings.Builder
	for i := 0; i < len(s) && b.Len() < MaxOriginalParamsLen; i++ {
		if c := s[i]; c >= 0x20 && c < 0x7f {
			b.WriteByte(c)
		}
	}
	return b.String()
}

func splitQuery(raw string) [][2]string {
	var out [][2]string
	for _, part := range strings.Split(raw, "&") {
		if part == "" {
			continue
		}
		rk, rv, _ := strings.Cut(part, "=")
		k, err := url.QueryUnescape(rk)
		if err != nil || k == "" {
			continue
		}
		v, err := url.QueryUnescape(rv)
		if err != nil {
			continue
		}
		out = append(out, [2]string{k, v})
	}
	return out
}

func encodePair(k, v string) string {
	return url.QueryEscape(k) + "=" + url.QueryEscape(v)
}
