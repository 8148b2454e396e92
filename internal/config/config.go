// Package config loads workspace configuration from .understory/config.toml
// layered over built-in defaults.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/pelletier/go-toml/v2"

	uerrors "github.com/jward/understory/internal/errors"
)

// StateDirName is the hidden workspace-local directory holding the index.
const StateDirName = ".understory"

// FileName is the config file name inside StateDirName.
const FileName = "config.toml"

type Config struct {
	Index      Index      `toml:"index"`
	Daemon     Daemon     `toml:"daemon"`
	Duplicates Duplicates `toml:"duplicates"`
	Query      Query      `toml:"query"`
	Scripts    Scripts    `toml:"scripts"`
}

type Index struct {
	// Exclude holds doublestar globs matched against root-relative,
	// slash-separated paths.
	Exclude      []string `toml:"exclude"`
	Languages    []string `toml:"languages"`
	Workers      int      `toml:"workers"`
	MaxFileBytes int64    `toml:"max_file_bytes"`
	UseGit       bool     `toml:"use_git"`
}

type Daemon struct {
	DebounceMs int `toml:"debounce_ms"`
}

type Duplicates struct {
	MinBodyBytes int `toml:"min_body_bytes"`
	MinCount     int `toml:"min_count"`
}

type Query struct {
	DefaultLimit int `toml:"default_limit"`
	MaxLimit     int `toml:"max_limit"`
}

type Scripts struct {
	Dir string `toml:"dir"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Index: Index{
			Exclude: []string{
				"**/.git/**",
				"**/node_modules/**",
				"**/target/**",
				"**/vendor/**",
				"**/__pycache__/**",
				"**/" + StateDirName + "/**",
			},
			MaxFileBytes: 2 << 20,
			UseGit:       true,
		},
		Daemon:     Daemon{DebounceMs: 300},
		Duplicates: Duplicates{MinBodyBytes: 10, MinCount: 2},
		Query:      Query{DefaultLimit: 50, MaxLimit: 500},
	}
}

// Load reads <root>/.understory/config.toml over the defaults. A missing
// file is not an error.
func Load(root string) (Config, error) {
	return LoadFile(filepath.Join(root, StateDirName, FileName))
}

// LoadFile reads the given TOML file over the defaults.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, uerrors.New(uerrors.TypeConfig, "read", err).WithPath(path)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, uerrors.New(uerrors.TypeConfig, "parse", err).WithPath(path)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, uerrors.New(uerrors.TypeConfig, "validate", err).WithPath(path)
	}
	return cfg, nil
}

// Validate rejects negative sizes and malformed globs.
func (c Config) Validate() error {
	if c.Index.Workers < 0 {
		return fmt.Errorf("index.workers must be non-negative, got %d", c.Index.Workers)
	}
	if c.Index.MaxFileBytes < 0 {
		return fmt.Errorf("index.max_file_bytes must be non-negative, got %d", c.Index.MaxFileBytes)
	}
	if c.Daemon.DebounceMs < 0 {
		return fmt.Errorf("daemon.debounce_ms must be non-negative, got %d", c.Daemon.DebounceMs)
	}
	if c.Duplicates.MinBodyBytes < 0 || c.Duplicates.MinCount < 0 {
		return fmt.Errorf("duplicates settings must be non-negative")
	}
	if c.Query.DefaultLimit < 0 || c.Query.MaxLimit < 0 {
		return fmt.Errorf("query limits must be non-negative")
	}
	for _, pattern := range c.Index.Exclude {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("index.exclude: invalid glob %q", pattern)
		}
	}
	return nil
}

// Debounce returns the daemon debounce window.
func (c Config) Debounce() time.Duration {
	return time.Duration(c.Daemon.DebounceMs) * time.Millisecond
}

// Excluded reports whether the root-relative path matches an exclude glob.
// Directories match when the glob would match a file inside them.
func (c Config) Excluded(rel string, isDir bool) bool {
	rel = filepath.ToSlash(rel)
	if rel == "." || rel == "" {
		return false
	}
	candidates := []string{rel}
	if isDir {
		candidates = append(candidates, strings.TrimSuffix(rel, "/")+"/x")
	}
	for _, pattern := range c.Index.Exclude {
		for _, cand := range candidates {
			if ok, _ := doublestar.Match(pattern, cand); ok {
				return true
			}
		}
	}
	return false
}

// LanguageEnabled reports whether lang passes the languages filter.
func (c Config) LanguageEnabled(lang string) bool {
	if len(c.Index.Languages) == 0 {
		return true
	}
	for _, l := range c.Index.Languages {
		if l == lang {
			return true
		}
	}
	return false
}
