package middleware

import (
	"net/url"
	"strings"
)

const redacted = "[FILTERED]"

// sensitiveParams never reach request logs in clear text.
var sensitiveParams = map[string]struct{}{
	"email":          {},
	"first_name":     {},
	"last_name":      {},
	"idv_rec":        {},
	"submit_id":      {},
	"code":           {},
	"state":          {},
	"token":          {},
	"access_token":   {},
	"authorization":  {},
	"client_secret":  {},
	"password":       {},
	"originalparams": {},
}

// IsSensitiveParam reports whether a query or metadata key must be redacted.
func IsSensitiveParam(key string) bool {
	_, ok := sensitiveParams[strings.ToLower(key)]
	return ok
}

// RedactQuery replaces sensitive values in a raw query string. Ordering and
// non-sensitive values are preserved; unparseable input is dropped entirely.
func RedactQuery(raw string) string {
	if raw == "" {
		return ""
	}
	parts := strings.Split(raw, "&")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			continue
		}
		rawKey, _, hasValue := strings.Cut(part, "=")
		key, err := url.QueryUnescape(rawKey)
		if err != nil {
			return redacted
		}
		if IsSensitiveParam(key) && hasValue {
			out = append(out, rawKey+"="+redacted)
			continue
		}
		out = append(out, part)
	}
	return strings.Join(out, "&")
}
