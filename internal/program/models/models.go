package models

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/url"
	"regexp"
	"slices"
	"sort"
	"strings"
	"time"

	"submit/internal/identity"
	dErrors "submit/pkg/domain-errors"
)

// BaseIdentityFields are always returned to a program regardless of scopes.
var BaseIdentityFields = []string{identity.FieldID, identity.FieldVerificationStatus, identity.FieldYSWSEligible}

// MinimalIdentityFields apply when a verification names no program.
var MinimalIdentityFields = []string{identity.FieldID, identity.FieldVerificationStatus, identity.FieldYSWSEligible, identity.FieldEmail}

// AllowedScopes lists the identity fields a program may request.
var AllowedScopes = []string{"first_name", "last_name", "full_name", "email", "birthday", "phone_number", "addresses"}

var slugPattern = regexp.MustCompile(`^[a-z0-9_-]+$`)

// Mapping maps one identity field onto a form field name.
type Mapping struct {
	IdentityField string `json:"identity_field" yaml:"identity_field"`
	FormField     string `json:"form_field" yaml:"form_field"`
}

// Program is a third-party form that may verify submitters.
type Program struct {
	Slug       string
	Name       string
	APIKey     string
	FormURL    string
	OwnerEmail string
	// Mappings keep declaration order; form parameters are emitted in this order.
	Mappings  []Mapping
	Scopes    map[string]bool
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ScopeEnabled reports whether field is enabled for this program.
func (p *Program) ScopeEnabled(field string) bool {
	return p != nil && p.Scopes[field]
}

// EnabledScopes returns enabled scope names, sorted.
func (p *Program) EnabledScopes() []string {
	var out []string
	for k, v := range p.Scopes {
		if v {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// AllowedIdentityFields returns the base fields plus every enabled scope.
func (p *Program) AllowedIdentityFields() []string {
	fields := slices.Clone(BaseIdentityFields)
	for _, s := range p.EnabledScopes() {
		if !slices.Contains(fields, s) {
			fields = append(fields, s)
		}
	}
	return fields
}

// FilterIdentity projects id through the program's allowed fields, or the
// minimal set when p is nil.
func FilterIdentity(p *Program, id identity.Identity) identity.Identity {
	if p == nil {
		return id.Project(MinimalIdentityFields)
	}
	return id.Project(p.AllowedIdentityFields())
}

// Validate checks slug, form URL, scopes and mappings. allowedHosts, when
// non-empty, restricts the form URL host; entries must be lowercase.
func (p *Program) Validate(allowedHosts []string) error {
	if p.Slug == "" || !slugPattern.MatchString(p.Slug) {
		return dErrors.New(dErrors.CodeValidation, "slug allows lowercase letters, numbers, dashes, and underscores only")
	}
	if strings.TrimSpace(p.Name) == "" {
		return dErrors.New(dErrors.CodeValidation, "name is required")
	}
	if p.APIKey == "" {
		return dErrors.New(dErrors.CodeValidation, "api key is required")
	}

	u, err := url.Parse(p.FormURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Hostname() == "" {
		return dErrors.New(dErrors.CodeValidation, "form_url must be a valid http(s) URL")
	}
	if len(allowedHosts) > 0 && !slices.Contains(allowedHosts, strings.ToLower(u.Hostname())) {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("form_url host '%s' is not allowed", u.Hostname()))
	}

	var unknown []string
	for k := range p.Scopes {
		if !slices.Contains(AllowedScopes, k) {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return dErrors.New(dErrors.CodeValidation, "scopes contains unsupported keys: "+strings.Join(unknown, ", "))
	}
	if len(p.EnabledScopes()) == 0 {
		return dErrors.New(dErrors.CodeValidation, "scopes must have at least one enabled scope")
	}

	seen := make(map[string]bool, len(p.Mappings))
	for _, m := range p.Mappings {
		if m.IdentityField == "" || m.FormField == "" {
			return dErrors.New(dErrors.CodeValidation, "mappings need both an identity field and a form field")
		}
		if seen[m.IdentityField] {
			return dErrors.New(dErrors.CodeValidation, "duplicate mapping for "+m.IdentityField)
		}
		seen[m.IdentityField] = true
	}
	return nil
}

// NewAPIKey returns "pk_" followed by 32 random bytes, hex encoded.
func NewAPIKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return "pk_" + hex.EncodeToString(b), nil
}

// Clone returns a deep copy safe to hand out from a store.
func (p *Program) Clone() *Program {
	cp := *p
	cp.Mappings = slices.Clone(p.Mappings)
	if p.Scopes != nil {
		cp.Scopes = make(map[string]bool, len(p.Scopes))
		for k, v := range p.Scopes {
			cp.Scopes[k] = v
		}
	}
	return &cp
}
