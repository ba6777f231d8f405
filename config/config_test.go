package config

import (
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HOST", "")
	t.Setenv("PORT", "")
	t.Setenv("DB_PATH", "")
	t.Setenv("DEFAULT_PAGE_SIZE", "")
	t.Setenv("MAX_PAGE_SIZE", "")
	t.Setenv("CORS_ORIGINS", "")

	cfg := Load()

	if cfg.Port != 8000 {
		t.Errorf("Port: got %d, want 8000", cfg.Port)
	}
	if cfg.DBPath != "data/polpi.db" {
		t.Errorf("DBPath: got %q", cfg.DBPath)
	}
	if cfg.DefaultPageSize != 20 || cfg.MaxPageSize != 100 {
		t.Errorf("page sizes: got %d/%d", cfg.DefaultPageSize, cfg.MaxPageSize)
	}
	if len(cfg.CORSOrigins) != 1 || cfg.CORSOrigins[0] != "*" {
		t.Errorf("CORSOrigins: got %v", cfg.CORSOrigins)
	}
	if cfg.Addr() != "0.0.0.0:8000" {
		t.Errorf("Addr: got %q", cfg.Addr())
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DEBUG", "true")
	t.Setenv("USD_RATE", "18.5")
	t.Setenv("CORS_ORIGINS", "http://localhost:3000, http://127.0.0.1:8000")
	t.Setenv("MAX_RETRIES", "not-a-number")

	cfg := Load()

	if cfg.Port != 9090 {
		t.Errorf("Port: got %d", cfg.Port)
	}
	if !cfg.Debug {
		t.Error("Debug should be true")
	}
	if cfg.USDRate != 18.5 {
		t.Errorf("USDRate: got %v", cfg.USDRate)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "http://127.0.0.1:8000" {
		t.Errorf("CORSOrigins: got %v", cfg.CORSOrigins)
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("invalid int should fall back to default, got %d", cfg.MaxRetries)
	}
}

func TestDefaultCatalog(t *testing.T) {
	cat, err := LoadSources("")
	if err != nil {
		t.Fatalf("LoadSources: %v", err)
	}

	enabled, err := cat.Select(nil)
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range enabled {
		if s.Kind != KindPortal {
			t.Errorf("default-enabled source %s should be a portal, got %s", s.Name, s.Kind)
		}
	}

	named, err := cat.Select([]string{"Sothebys"})
	if err != nil {
		t.Fatal(err)
	}
	if len(named) != 1 || named[0].Kind != KindBrowser {
		t.Errorf("expected sothebys browser source, got %+v", named)
	}

	if _, err := cat.Select([]string{"craigslist"}); err == nil {
		t.Error("expected error for unknown source")
	}
}

func TestParseSourcesValidation(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"missing name", "sources:\n  - kind: portal\n"},
		{"bad kind", "sources:\n  - name: x\n    kind: ftp\n"},
		{"duplicate", "sources:\n  - name: a\n    kind: portal\n  - name: A\n    kind: portal\n"},
	}

	for _, tt := range tests {
		if _, err := ParseSources([]byte(tt.doc)); err == nil {
			t.Errorf("%s: expected error", tt.name)
		}
	}
}
