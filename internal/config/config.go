// Package config loads and validates the YAML configuration file that drives
// the command-line converter.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pagedoc/pagedoc/internal/yamlutil"
)

// Sentinel errors for config operations.
var (
	ErrConfigNotFound  = errors.New("config file not found")
	ErrEmptyConfigName = errors.New("config name cannot be empty")
	ErrConfigParse     = errors.New("failed to parse config")
)

// Config holds all configuration for document conversion.
type Config struct {
	Page       PageConfig       `yaml:"page"`
	TOC        TOCConfig        `yaml:"toc"`
	PageBreaks PageBreaksConfig `yaml:"pageBreaks"`
	Render     RenderConfig     `yaml:"render"`
	Pool       PoolConfig       `yaml:"pool"`
	Diagram    DiagramConfig    `yaml:"diagram"`
	Cache      CacheConfig      `yaml:"cache"`
	CSS        CSSConfig        `yaml:"css"`
	Log        LogConfig        `yaml:"log"`
}

// PageConfig defines PDF page settings.
type PageConfig struct {
	Size            string        `yaml:"size"`        // "letter", "a4", "legal" (default: "a4")
	Orientation     string        `yaml:"orientation"` // "portrait", "landscape" (default: "portrait")
	Margins         MarginsConfig `yaml:"margins"`
	ShowPageNumbers bool          `yaml:"showPageNumbers"`
	HeaderTemplate  string        `yaml:"headerTemplate"` // HTML, overrides the default header
	FooterTemplate  string        `yaml:"footerTemplate"` // HTML, overrides the default footer
}

// MarginsConfig holds per-side margins as CSS lengths ("2cm", "0.5in").
type MarginsConfig struct {
	Top    string `yaml:"top"`
	Right  string `yaml:"right"`
	Bottom string `yaml:"bottom"`
	Left   string `yaml:"left"`
}

// TOCConfig defines table of contents options.
type TOCConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Title       string `yaml:"title"`       // Empty = default title
	MaxDepth    int    `yaml:"maxDepth"`    // 1-6, default 3
	PageNumbers bool   `yaml:"pageNumbers"` // Show measured page numbers in the TOC
}

// PageBreaksConfig defines page-break CSS options.
type PageBreaksConfig struct {
	BeforeH1 bool `yaml:"beforeH1"`
	BeforeH2 bool `yaml:"beforeH2"`
	Orphans  int  `yaml:"orphans"` // 0 = default
	Widows   int  `yaml:"widows"`  // 0 = default
}

// RenderConfig defines rendering-path options.
type RenderConfig struct {
	TwoStage          string `yaml:"twoStage"` // "auto" (default), "on", "off"
	AccurateNumbers   bool   `yaml:"accurateNumbers"`
	NavigationTimeout int    `yaml:"navigationTimeoutSeconds"` // 0 = default
}

// PoolConfig defines render-engine pool limits.
type PoolConfig struct {
	MaxInstances   int `yaml:"maxInstances"`          // 0 = derive from CPU count
	AcquireTimeout int `yaml:"acquireTimeoutSeconds"` // 0 = default
	IdleTimeout    int `yaml:"idleTimeoutSeconds"`    // 0 = default
}

// DiagramConfig defines diagram rendering backends.
type DiagramConfig struct {
	ServerURL      string `yaml:"serverURL"`      // Remote rendering service base URL
	PlantUMLBinary string `yaml:"plantumlBinary"` // Local executable (default: "plantuml")
	Timeout        int    `yaml:"timeoutSeconds"` // 0 = default
}

// CacheConfig defines the processed-content cache backend.
type CacheConfig struct {
	Backend  string `yaml:"backend"`  // "memory" (default), "redis", "none"
	RedisURL string `yaml:"redisURL"` // redis://host:port/db, required for "redis"
	Prefix   string `yaml:"prefix"`   // Redis key prefix (default: "pagedoc")
}

// CSSConfig defines user stylesheet options.
type CSSConfig struct {
	File string `yaml:"file"` // Path to a CSS file appended after built-in rules
}

// LogConfig defines logging options.
type LogConfig struct {
	Level string `yaml:"level"` // "debug", "info" (default), "warn", "error"
}

// Validate checks enumerated fields and cross-field requirements.
// Called automatically by LoadConfig, but available for consumers who
// construct Config manually.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Page.Size) {
	case "", "letter", "a4", "legal":
	default:
		return fmt.Errorf("page.size: invalid value %q (must be letter, a4, or legal)", c.Page.Size)
	}
	switch strings.ToLower(c.Page.Orientation) {
	case "", "portrait", "landscape":
	default:
		return fmt.Errorf("page.orientation: invalid value %q (must be portrait or landscape)", c.Page.Orientation)
	}

	if c.TOC.Enabled && c.TOC.MaxDepth != 0 {
		if c.TOC.MaxDepth < 1 || c.TOC.MaxDepth > 6 {
			return fmt.Errorf("toc.maxDepth: must be between 1 and 6, got %d", c.TOC.MaxDepth)
		}
	}
	if c.PageBreaks.Orphans < 0 || c.PageBreaks.Orphans > 10 {
		return fmt.Errorf("pageBreaks.orphans: must be between 0 and 10, got %d", c.PageBreaks.Orphans)
	}
	if c.PageBreaks.Widows < 0 || c.PageBreaks.Widows > 10 {
		return fmt.Errorf("pageBreaks.widows: must be between 0 and 10, got %d", c.PageBreaks.Widows)
	}

	switch strings.ToLower(c.Render.TwoStage) {
	case "", "auto", "on", "off":
	default:
		return fmt.Errorf("render.twoStage: invalid value %q (must be auto, on, or off)", c.Render.TwoStage)
	}

	if c.Pool.MaxInstances < 0 {
		return fmt.Errorf("pool.maxInstances: must not be negative, got %d", c.Pool.MaxInstances)
	}

	switch strings.ToLower(c.Cache.Backend) {
	case "", "memory", "redis", "none":
	default:
		return fmt.Errorf("cache.backend: invalid value %q (must be memory, redis, or none)", c.Cache.Backend)
	}
	if strings.EqualFold(c.Cache.Backend, "redis") && c.Cache.RedisURL == "" {
		return fmt.Errorf("cache.redisURL: required when cache.backend is redis")
	}

	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level: invalid value %q (must be debug, info, warn, or error)", c.Log.Level)
	}

	return nil
}

// DefaultConfig returns a neutral configuration: A4 portrait, no TOC, memory
// cache, automatic two-stage detection.
func DefaultConfig() *Config {
	return &Config{
		Page:   PageConfig{Size: "a4", Orientation: "portrait"},
		Render: RenderConfig{TwoStage: "auto"},
		Cache:  CacheConfig{Backend: "memory"},
		Log:    LogConfig{Level: "info"},
	}
}

// LoadConfig loads configuration from a file path or config name.
// If nameOrPath contains a path separator, it's treated as a file path.
// Otherwise, it's treated as a config name and searched in standard locations.
// Returns error if the file is not found (no silent fallback).
func LoadConfig(nameOrPath string) (*Config, error) {
	if nameOrPath == "" {
		return nil, ErrEmptyConfigName
	}

	var configPath string
	var err error

	if isFilePath(nameOrPath) {
		configPath = nameOrPath
	} else {
		configPath, err = resolveConfigPath(nameOrPath)
		if err != nil {
			return nil, err
		}
	}

	cfg := DefaultConfig()
	if err := yamlutil.DecodeFile(configPath, cfg); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, configPath)
		}
		return nil, fmt.Errorf("%w: %v", ErrConfigParse, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// isFilePath returns true if the string looks like a file path.
func isFilePath(s string) bool {
	return strings.ContainsAny(s, "/\\")
}

// resolveConfigPath searches for a config file by name in standard locations.
// Tries extensions in order: .yaml, .yml
// Tries locations in order: current directory, ~/.config/pagedoc/
func resolveConfigPath(name string) (string, error) {
	extensions := []string{".yaml", ".yml"}
	triedPaths := make([]string, 0, len(extensions)*2) // 2 locations

	for _, ext := range extensions {
		localPath := name + ext
		if fileExists(localPath) {
			return localPath, nil
		}
		triedPaths = append(triedPaths, localPath)
	}

	userConfigDir, err := os.UserConfigDir()
	if err == nil {
		for _, ext := range extensions {
			userPath := filepath.Join(userConfigDir, "pagedoc", name+ext)
			if fileExists(userPath) {
				return userPath, nil
			}
			triedPaths = append(triedPaths, userPath)
		}
	}

	return "", fmt.Errorf("%w: tried %s", ErrConfigNotFound, strings.Join(triedPaths, ", "))
}

// fileExists returns true if the path exists and is a regular file.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
