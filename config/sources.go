package config

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed sources.yaml
var defaultSources []byte

// Source kinds.
const (
	KindPortal  = "portal"
	KindBrowser = "browser"
)

// Source describes one listing site in the scrape catalog.
type Source struct {
	Name         string   `yaml:"name"`
	Kind         string   `yaml:"kind"`
	BaseURL      string   `yaml:"base_url"`
	StartURLs    []string `yaml:"start_urls"`
	MaxPages     int      `yaml:"max_pages"`
	PropertyType string   `yaml:"property_type"`
	City         string   `yaml:"city"`
	State        string   `yaml:"state"`
	Enabled      bool     `yaml:"enabled"`
}

// Catalog is the parsed sources file.
type Catalog struct {
	Sources []Source `yaml:"sources"`
}

// LoadSources reads the catalog at path, or the embedded default when path is empty.
func LoadSources(path string) (*Catalog, error) {
	data := defaultSources
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("sources: read %q: %w", path, err)
		}
		data = b
	}
	return ParseSources(data)
}

// ParseSources decodes and validates a catalog document.
func ParseSources(data []byte) (*Catalog, error) {
	var cat Catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("sources: decode: %w", err)
	}

	seen := make(map[string]struct{}, len(cat.Sources))
	for i := range cat.Sources {
		s := &cat.Sources[i]
		s.Name = strings.ToLower(strings.TrimSpace(s.Name))
		if s.Name == "" {
			return nil, fmt.Errorf("sources: entry %d has no name", i)
		}
		if _, dup := seen[s.Name]; dup {
			return nil, fmt.Errorf("sources: duplicate source %q", s.Name)
		}
		seen[s.Name] = struct{}{}

		switch s.Kind {
		case KindPortal, KindBrowser:
		default:
			return nil, fmt.Errorf("sources: %s: unknown kind %q", s.Name, s.Kind)
		}
		if s.MaxPages <= 0 {
			s.MaxPages = 1
		}
	}
	return &cat, nil
}

// Select returns the enabled sources, or exactly the named ones when names is
// non-empty (named sources run even if disabled in the file).
func (c *Catalog) Select(names []string) ([]Source, error) {
	if len(names) == 0 {
		var out []Source
		for _, s := range c.Sources {
			if s.Enabled {
				out = append(out, s)
			}
		}
		return out, nil
	}

	out := make([]Source, 0, len(names))
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		found := false
		for _, s := range c.Sources {
			if s.Name == n {
				out = append(out, s)
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("sources: unknown source %q", n)
		}
	}
	return out, nil
}
