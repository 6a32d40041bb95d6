// Package config loads the jacques TOML configuration.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/gregory-lime/jacques-context-manager-sub003/internal/fsutil"
	"github.com/gregory-lime/jacques-context-manager-sub003/internal/plans"
)

// Environment overrides, applied after the config file.
const (
	EnvArchiveDir = "JACQUES_ARCHIVE_DIR"
	EnvClaudeDir  = "JACQUES_CLAUDE_DIR"
)

// Config holds all jacques configuration.
type Config struct {
	General GeneralConfig `toml:"general"`
	Archive ArchiveConfig `toml:"archive"`
	Plans   PlansConfig   `toml:"plans"`
	Tokens  TokensConfig  `toml:"tokens"`
	Server  ServerConfig  `toml:"server"`
	Log     LogConfig     `toml:"log"`
}

// GeneralConfig holds where transcripts are read from and written to.
type GeneralConfig struct {
	ClaudeDir        string `toml:"claude_dir,omitempty"`
	ArchiveDir       string `toml:"archive_dir,omitempty"`
	IncludeSubagents bool   `toml:"include_subagents"`
}

// ArchiveConfig tunes archiving and rebuilds.
type ArchiveConfig struct {
	Workers          int  `toml:"workers"`
	CheckpointEvery  int  `toml:"checkpoint_every"`
	CopyProjectLocal bool `toml:"copy_project_local"`
	RetryAttempts    int  `toml:"retry_attempts"`
	RetryDelayMs     int  `toml:"retry_delay_ms"`
}

// PlansConfig tunes plan detection and near-duplicate merging.
type PlansConfig struct {
	SimilarityThreshold  float64  `toml:"similarity_threshold"`
	LengthTolerance      float64  `toml:"length_tolerance"`
	MinLength            int      `toml:"min_length"`
	CodeDensityThreshold float64  `toml:"code_density_threshold"`
	TriggerPhrases       []string `toml:"trigger_phrases,omitempty"`
}

// TokensConfig selects the token estimator.
type TokensConfig struct {
	Encoding      string `toml:"encoding"`
	CharsPerToken int    `toml:"chars_per_token"`
}

// ServerConfig holds the HTTP read surface settings.
type ServerConfig struct {
	Addr string `toml:"addr"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `toml:"level"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	po := plans.DefaultOptions()
	return Config{
		General: GeneralConfig{
			IncludeSubagents: true,
		},
		Archive: ArchiveConfig{
			Workers:          runtime.GOMAXPROCS(0),
			CheckpointEvery:  25,
			CopyProjectLocal: true,
			RetryAttempts:    3,
			RetryDelayMs:     50,
		},
		Plans: PlansConfig{
			SimilarityThreshold:  po.SimilarityThreshold,
			LengthTolerance:      po.LengthTolerance,
			MinLength:            po.MinLength,
			CodeDensityThreshold: po.CodeDensityThreshold,
		},
		Tokens: TokensConfig{
			Encoding:      "cl100k_base",
			CharsPerToken: 4,
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:4243",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// ConfigDir returns the XDG-compliant config directory.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "jacques")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "jacques")
}

// ConfigPath returns the full path to the config file.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.toml")
}

// CacheDir returns the directory holding the incremental-sync database.
func CacheDir() string {
	if xdg := os.Getenv("XDG_CACHE_HOME"); xdg != "" {
		return filepath.Join(xdg, "jacques")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".cache", "jacques")
}

// Load reads the config file, returning defaults if it doesn't exist.
func Load() (Config, error) {
	return LoadFrom(ConfigPath())
}

// LoadFrom reads the config at path and applies environment overrides.
func LoadFrom(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path) //nolint:gosec // user-chosen config path
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config %s: %w", path, err)
		}
	case !os.IsNotExist(err):
		return cfg, fmt.Errorf("reading config: %w", err)
	}

	if v := os.Getenv(EnvArchiveDir); v != "" {
		cfg.General.ArchiveDir = v
	}
	if v := os.Getenv(EnvClaudeDir); v != "" {
		cfg.General.ClaudeDir = v
	}
	return cfg, nil
}

// Save writes the config to the default path.
func Save(cfg Config) error {
	return SaveTo(ConfigPath(), cfg)
}

// SaveTo writes the config to path atomically.
func SaveTo(path string, cfg Config) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := fsutil.WriteFileAtomic(path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// Exists returns true if a config file exists on disk.
func Exists() bool {
	_, err := os.Stat(ConfigPath())
	return err == nil
}

// ResolveClaudeDir returns the configured Claude data directory, defaulting
// to ~/.claude.
func (c Config) ResolveClaudeDir() string {
	if c.General.ClaudeDir != "" {
		return expandHome(c.General.ClaudeDir)
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".claude")
}

// ResolveArchiveDir returns the archive root, defaulting to ~/.jacques/archive.
func (c Config) ResolveArchiveDir() string {
	if c.General.ArchiveDir != "" {
		return expandHome(c.General.ArchiveDir)
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".jacques", "archive")
}

// PlanOptions converts the [plans] section, keeping defaults for unset
// values.
func (c Config) PlanOptions() plans.Options {
	o := plans.DefaultOptions()
	if c.Plans.SimilarityThreshold > 0 {
		o.SimilarityThreshold = c.Plans.SimilarityThreshold
	}
	if c.Plans.LengthTolerance > 0 {
		o.LengthTolerance = c.Plans.LengthTolerance
	}
	if c.Plans.MinLength > 0 {
		o.MinLength = c.Plans.MinLength
	}
	if c.Plans.CodeDensityThreshold > 0 {
		o.CodeDensityThreshold = c.Plans.CodeDensityThreshold
	}
	if len(c.Plans.TriggerPhrases) > 0 {
		o.TriggerPhrases = append([]string(nil), c.Plans.TriggerPhrases...)
	}
	return o
}

// Retry converts the retry settings.
func (c Config) Retry() fsutil.RetryPolicy {
	p := fsutil.DefaultRetry()
	if c.Archive.RetryAttempts > 0 {
		p.Attempts = c.Archive.RetryAttempts
	}
	if c.Archive.RetryDelayMs > 0 {
		p.Delay = time.Duration(c.Archive.RetryDelayMs) * time.Millisecond
	}
	return p
}

func expandHome(p string) string {
	if p == "~" || len(p) > 1 && p[:2] == "~/" {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, p[1:])
	}
	return p
}
