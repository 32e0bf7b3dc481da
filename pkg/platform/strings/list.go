// Package strings parses the comma-separated lists used in configuration.
package strings

import "strings"

// SplitList splits a comma-separated value, trimming entries and dropping
// blanks and repeats. Order is preserved.
func SplitList(raw string) []string {
	return dedupe(strings.Split(raw, ","), strings.TrimSpace)
}

// SplitHosts is SplitList for hostnames, which compare case-insensitively.
//
//	SplitHosts(" Forms.example.com,airtable.com,forms.EXAMPLE.com")
//	// []string{"forms.example.com", "airtable.com"}
func SplitHosts(raw string) []string {
	return dedupe(strings.Split(raw, ","), func(s string) string {
		return strings.ToLower(strings.TrimSpace(s))
	})
}

func dedupe(values []string, norm func(string) string) []string {
	var out []string
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = norm(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
