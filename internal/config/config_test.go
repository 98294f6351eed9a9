package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pagedoc.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
page:
  size: letter
  orientation: landscape
  showPageNumbers: true
toc:
  enabled: true
  maxDepth: 2
  pageNumbers: true
pool:
  maxInstances: 4
cache:
  backend: redis
  redisURL: redis://localhost:6379/0
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Page.Size != "letter" || cfg.Page.Orientation != "landscape" {
		t.Errorf("page = %+v", cfg.Page)
	}
	if !cfg.TOC.Enabled || cfg.TOC.MaxDepth != 2 || !cfg.TOC.PageNumbers {
		t.Errorf("toc = %+v", cfg.TOC)
	}
	if cfg.Pool.MaxInstances != 4 {
		t.Errorf("pool = %+v", cfg.Pool)
	}
	// Unset sections keep defaults.
	if cfg.Render.TwoStage != "auto" {
		t.Errorf("render.twoStage = %q, want auto default", cfg.Render.TwoStage)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("log.level = %q, want info default", cfg.Log.Level)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	if _, err := LoadConfig(""); !errors.Is(err, ErrEmptyConfigName) {
		t.Errorf("empty name: got %v, want ErrEmptyConfigName", err)
	}
	if _, err := LoadConfig("./does-not-exist.yaml"); !errors.Is(err, ErrConfigNotFound) {
		t.Errorf("missing file: got %v, want ErrConfigNotFound", err)
	}

	path := writeConfig(t, "page:\n  size: [broken\n")
	if _, err := LoadConfig(path); !errors.Is(err, ErrConfigParse) {
		t.Errorf("broken yaml: got %v, want ErrConfigParse", err)
	}

	path = writeConfig(t, "bogusSection:\n  x: 1\n")
	if _, err := LoadConfig(path); !errors.Is(err, ErrConfigParse) {
		t.Errorf("unknown field: got %v, want ErrConfigParse", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(*Config) {},
		},
		{
			name:    "bad page size",
			mutate:  func(c *Config) { c.Page.Size = "tabloid" },
			wantErr: "page.size",
		},
		{
			name:    "bad orientation",
			mutate:  func(c *Config) { c.Page.Orientation = "diagonal" },
			wantErr: "page.orientation",
		},
		{
			name: "toc depth out of range",
			mutate: func(c *Config) {
				c.TOC.Enabled = true
				c.TOC.MaxDepth = 9
			},
			wantErr: "toc.maxDepth",
		},
		{
			name:    "orphans out of range",
			mutate:  func(c *Config) { c.PageBreaks.Orphans = 11 },
			wantErr: "pageBreaks.orphans",
		},
		{
			name:    "bad two-stage mode",
			mutate:  func(c *Config) { c.Render.TwoStage = "maybe" },
			wantErr: "render.twoStage",
		},
		{
			name:    "negative pool size",
			mutate:  func(c *Config) { c.Pool.MaxInstances = -1 },
			wantErr: "pool.maxInstances",
		},
		{
			name:    "redis without url",
			mutate:  func(c *Config) { c.Cache.Backend = "redis" },
			wantErr: "cache.redisURL",
		},
		{
			name:    "bad cache backend",
			mutate:  func(c *Config) { c.Cache.Backend = "memcached" },
			wantErr: "cache.backend",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Log.Level = "loud" },
			wantErr: "log.level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()

			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("got %v, want error mentioning %q", err, tt.wantErr)
			}
		})
	}
}

func TestIsFilePath(t *testing.T) {
	if !isFilePath("./config.yaml") || !isFilePath("dir/config") {
		t.Error("paths with separators not recognized")
	}
	if isFilePath("myconfig") {
		t.Error("bare name treated as path")
	}
}
