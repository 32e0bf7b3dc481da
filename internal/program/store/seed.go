package store

import (
	"context"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"submit/internal/program/models"
)

type seedFile struct {
	Programs []seedProgram `yaml:"programs"`
}

type seedProgram struct {
	Slug       string          `yaml:"slug"`
	Name       string          `yaml:"name"`
	APIKey     string          `yaml:"api_key"`
	FormURL    string          `yaml:"form_url"`
	OwnerEmail string          `yaml:"owner_email"`
	Active     *bool           `yaml:"active"`
	Scopes     map[string]bool `yaml:"scopes"`
	Mappings   orderedMappings `yaml:"mappings"`
}

// orderedMappings decodes a YAML mapping while keeping key order, which
// decides the order of prefill parameters on the form URL.
type orderedMappings []models.Mapping

func (m *orderedMappings) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: mappings must be a mapping of identity field to form field", node.Line)
	}
	out := make(orderedMappings, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		k, v := node.Content[i], node.Content[i+1]
		if k.Kind != yaml.ScalarNode || v.Kind != yaml.ScalarNode || v.Tag != "!!str" {
			return fmt.Errorf("line %d: mapping values must be strings", v.Line)
		}
		out = append(out, models.Mapping{IdentityField: k.Value, FormField: v.Value})
	}
	*m = out
	return nil
}

// LoadYAML parses and validates a program seed document.
func LoadYAML(r io.Reader, allowedHosts []string) ([]*models.Program, error) {
	var doc seedFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode program seed: %w", err)
	}

	seen := make(map[string]bool, len(doc.Programs))
	out := make([]*models.Program, 0, len(doc.Programs))
	for _, sp := range doc.Programs {
		p := &models.Program{
			Slug:       sp.Slug,
			Name:       sp.Name,
			APIKey:     sp.APIKey,
			FormURL:    sp.FormURL,
			OwnerEmail: sp.OwnerEmail,
			Scopes:     sp.Scopes,
			Mappings:   []models.Mapping(sp.Mappings),
			Active:     sp.Active == nil || *sp.Active,
		}
		if err := p.Validate(allowedHosts); err != nil {
			return nil, fmt.Errorf("program %q: %w", sp.Slug, err)
		}
		if seen[p.Slug] {
			return nil, fmt.Errorf("program %q declared twice", p.Slug)
		}
		seen[p.Slug] = true
		out = append(out, p)
	}
	return out, nil
}

// Saver persists programs. Both stores satisfy it.
type Saver interface {
	Save(ctx context.Context, p *models.Program) error
}

// SeedFromFile loads path into s.
func SeedFromFile(ctx context.Context, s Saver, path string, allowedHosts []string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open program seed: %w", err)
	}
	defer f.Close()

	programs, err := LoadYAML(f, allowedHosts)
	if err != nil {
		return 0, err
	}
	for _, p := range programs {
		if err := s.Save(ctx, p); err != nil {
			return 0, fmt.Errorf("seed program %q: %w", p.Slug, err)
		}
	}
	return len(programs), nil
}
