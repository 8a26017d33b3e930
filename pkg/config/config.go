// Package config handles loading and saving livedoc configuration.
//
// Configuration follows the XDG Base Directory specification:
//   - Config:  ~/.config/livedoc/config.yaml
//   - State:   ~/.local/state/livedoc/ (cell caches)
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so intervals read naturally in YAML
// ("250ms", "1s") instead of as nanosecond integers.
type Duration time.Duration

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped standard duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// ServerConfig holds the live view HTTP settings.
type ServerConfig struct {
	Enabled bool   `yaml:"enabled,omitempty"`
	Addr    string `yaml:"addr,omitempty"`
}

// ConsoleConfig holds the terminal output settings.
type ConsoleConfig struct {
	Enabled     bool `yaml:"enabled,omitempty"`
	Progressive bool `yaml:"progressive,omitempty"` // Append instead of clearing the screen
	Width       int  `yaml:"width,omitempty"`       // 0 means auto-detect
}

// CacheConfig controls persistent cell caching.
type CacheConfig struct {
	Dir     string `yaml:"dir,omitempty"` // Defaults to the XDG state dir
	Version int    `yaml:"version,omitempty"`
}

// Config is the top-level configuration for livedoc.
type Config struct {
	Title    string        `yaml:"title,omitempty"`
	Formats  []string      `yaml:"formats,omitempty"`  // html, md, txt, console
	Artifact string        `yaml:"artifact,omitempty"` // File whose changes trigger a reload
	Refresh  Duration      `yaml:"refresh,omitempty"`  // Scheduler tick interval
	Check    Duration      `yaml:"check,omitempty"`    // Artifact check interval
	Server   ServerConfig  `yaml:"server,omitempty"`
	Console  ConsoleConfig `yaml:"console,omitempty"`
	Cache    CacheConfig   `yaml:"cache,omitempty"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Title:   "livedoc",
		Formats: []string{"html", "md", "txt", "console"},
		Refresh: Duration(100 * time.Millisecond),
		Check:   Duration(100 * time.Millisecond),
		Server: ServerConfig{
			Enabled: true,
			Addr:    "127.0.0.1:8010",
		},
		Console: ConsoleConfig{
			Enabled: true,
		},
		Cache: CacheConfig{
			Version: 1,
		},
	}
}

// ConfigDir returns the XDG config directory for livedoc.
func ConfigDir() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "livedoc")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "livedoc")
}

// StateDir returns the XDG state directory for livedoc.
func StateDir() string {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, "livedoc")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".local", "state", "livedoc")
}

// ConfigPath returns the full path to config.yaml.
func ConfigPath() string {
	dir := ConfigDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "config.yaml")
}

// Load reads the config file from the XDG config directory.
// Returns DefaultConfig if the file doesn't exist.
func Load() (Config, error) {
	path := ConfigPath()
	if path == "" {
		return DefaultConfig(), nil
	}
	return LoadFrom(path)
}

// LoadFrom reads config from a specific path.
// Returns DefaultConfig if the file doesn't exist.
func LoadFrom(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}

	cfg.Artifact = expandHome(cfg.Artifact)
	cfg.Cache.Dir = expandHome(cfg.Cache.Dir)

	return cfg, nil
}

// Save writes the config to the XDG config directory.
func Save(cfg Config) error {
	path := ConfigPath()
	if path == "" {
		return fmt.Errorf("cannot determine config directory")
	}
	return SaveTo(cfg, path)
}

// SaveTo writes the config to a specific path.
func SaveTo(cfg Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	return nil
}

// HasFormat reports whether the config enables the given output format.
func (c Config) HasFormat(format string) bool {
	for _, f := range c.Formats {
		if strings.EqualFold(f, format) {
			return true
		}
	}
	return false
}

// CachePath returns the sqlite file backing the persistent cell cache,
// or "" when no directory can be determined.
func (c Config) CachePath() string {
	dir := c.Cache.Dir
	if dir == "" {
		dir = StateDir()
	}
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "cache.db")
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
