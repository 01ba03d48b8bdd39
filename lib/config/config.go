// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/kiln/lib/block"
	"github.com/bureau-foundation/kiln/lib/blockhash"
	"github.com/bureau-foundation/kiln/lib/compress"
	"github.com/bureau-foundation/kiln/lib/dedup"
	"github.com/bureau-foundation/kiln/lib/section"
)

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local use against a personal vault.
	Development Environment = "development"
	// Staging is for pre-production testing.
	Staging Environment = "staging"
	// Production is for shared indexes.
	Production Environment = "production"
)

// Config is the master configuration for kiln.
type Config struct {
	// Environment identifies the deployment type (development, staging, production).
	Environment Environment `yaml:"environment"`

	// Paths configures directory locations.
	Paths PathsConfig `yaml:"paths"`

	// Storage configures the SQLite block store.
	Storage StorageConfig `yaml:"storage"`

	// Hashing configures block hashing.
	Hashing HashingConfig `yaml:"hashing"`

	// Virtualization configures section grouping for large documents.
	Virtualization VirtualizationConfig `yaml:"virtualization"`

	// Dedup configures deduplication queries and reports.
	Dedup DedupConfig `yaml:"dedup"`

	// Logging configures the command logger.
	Logging LoggingConfig `yaml:"logging"`

	// EnvironmentOverrides contains per-environment overrides.
	// These are applied after the base config is loaded.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per environment.
type ConfigOverrides struct {
	Paths          *PathsConfig          `yaml:"paths,omitempty"`
	Storage        *StorageConfig        `yaml:"storage,omitempty"`
	Hashing        *HashingConfig        `yaml:"hashing,omitempty"`
	Virtualization *VirtualizationConfig `yaml:"virtualization,omitempty"`
	Dedup          *DedupConfig          `yaml:"dedup,omitempty"`
	Logging        *LoggingConfig        `yaml:"logging,omitempty"`
}

// PathsConfig configures directory locations.
type PathsConfig struct {
	// Root is the base directory for kiln data.
	Root string `yaml:"root"`

	// Documents is the directory document IDs are relative to. Empty
	// means the working directory of each command.
	Documents string `yaml:"documents,omitempty"`
}

// StorageConfig configures the block store.
type StorageConfig struct {
	// Path is the SQLite database file.
	// Default: ${KILN_ROOT}/blocks.db
	Path string `yaml:"path"`

	// PoolSize is the number of pooled connections. Zero lets the
	// pool choose.
	PoolSize int `yaml:"pool_size"`

	// Compression is the preferred content encoding: none, lz4, or
	// zstd.
	// Default: lz4 (development), zstd (production)
	Compression string `yaml:"compression"`
}

// HashingConfig configures block hashing.
type HashingConfig struct {
	// Algorithm is blake3, sha256, or blake2b.
	// Default: blake3
	Algorithm string `yaml:"algorithm"`

	// MaxBlockSize is the largest block accepted, in bytes.
	// Default: 10 MiB
	MaxBlockSize int `yaml:"max_block_size"`
}

// VirtualizationConfig selects a preset, optionally adjusted by
// explicit values.
type VirtualizationConfig struct {
	// Preset is default, large, minimal, or disabled.
	Preset string `yaml:"preset"`

	// Threshold and GroupSize replace the preset's values when set.
	// An explicit threshold of 0 virtualizes every document with
	// sections.
	Threshold *int `yaml:"threshold,omitempty"`
	GroupSize *int `yaml:"group_size,omitempty"`
}

// DedupConfig configures deduplication analysis.
type DedupConfig struct {
	// AverageBlockSize is the byte estimate used for storage figures.
	// Default: 1024
	AverageBlockSize int `yaml:"average_block_size"`

	// PreviewLength bounds content previews, in runes.
	// Default: 100
	PreviewLength int `yaml:"preview_length"`

	// TopDuplicates bounds the most-duplicated list in stats.
	// Default: 10
	TopDuplicates int `yaml:"top_duplicates"`

	// SampleSizes measures the average block size from stored content
	// instead of using AverageBlockSize.
	// Default: false (development), true (production)
	SampleSizes bool `yaml:"sample_sizes"`
}

// LoggingConfig configures the command logger.
type LoggingConfig struct {
	// Level is debug, info, warn, or error.
	// Default: info
	Level string `yaml:"level"`

	// Format is auto, text, or json. Auto picks text on a terminal.
	// Default: auto
	Format string `yaml:"format"`
}

// Default returns the default configuration. It is usable as-is for
// local development; LoadFile layers a file over it.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultRoot := filepath.Join(homeDir, ".cache", "kiln")

	return &Config{
		Environment: Development,
		Paths: PathsConfig{
			Root: defaultRoot,
		},
		Storage: StorageConfig{
			Path:        filepath.Join(defaultRoot, "blocks.db"),
			Compression: "lz4",
		},
		Hashing: HashingConfig{
			Algorithm:    string(blockhash.DefaultAlgorithm),
			MaxBlockSize: block.DefaultMaxBlockSize,
		},
		Virtualization: VirtualizationConfig{
			Preset: "default",
		},
		Dedup: DedupConfig{
			AverageBlockSize: dedup.DefaultAverageBlockSize,
			PreviewLength:    dedup.DefaultPreviewLength,
			TopDuplicates:    dedup.DefaultTopDuplicates,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

// Load loads configuration from the KILN_CONFIG environment variable.
func Load() (*Config, error) {
	configPath := os.Getenv("KILN_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("KILN_CONFIG environment variable not set; " +
			"set it to the path of your kiln.yaml config file, or use --config flag")
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path, layered over
// Default. The result is not validated; call Validate.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}

	// Apply environment-specific overrides (development/staging/production sections in the file).
	cfg.applyEnvironmentOverrides()

	// Expand ${HOME} and similar variables in paths for portability.
	cfg.expandVariables()

	return cfg, nil
}

// loadFile loads a single configuration file, merging into the current config.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// applyEnvironmentOverrides applies the environment-specific overrides.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
		// Production defaults: smaller databases, measured sizes.
		if overrides == nil {
			overrides = &ConfigOverrides{
				Storage: &StorageConfig{Compression: "zstd"},
				Dedup:   &DedupConfig{SampleSizes: true},
			}
		}
	}

	if overrides == nil {
		return
	}

	if overrides.Paths != nil {
		if overrides.Paths.Root != "" {
			c.Paths.Root = overrides.Paths.Root
		}
		if overrides.Paths.Documents != "" {
			c.Paths.Documents = overrides.Paths.Documents
		}
	}

	if overrides.Storage != nil {
		if overrides.Storage.Path != "" {
			c.Storage.Path = overrides.Storage.Path
		}
		if overrides.Storage.PoolSize != 0 {
			c.Storage.PoolSize = overrides.Storage.PoolSize
		}
		if overrides.Storage.Compression != "" {
			c.Storage.Compression = overrides.Storage.Compression
		}
	}

	if overrides.Hashing != nil {
		if overrides.Hashing.Algorithm != "" {
			c.Hashing.Algorithm = overrides.Hashing.Algorithm
		}
		if overrides.Hashing.MaxBlockSize != 0 {
			c.Hashing.MaxBlockSize = overrides.Hashing.MaxBlockSize
		}
	}

	if overrides.Virtualization != nil {
		if overrides.Virtualization.Preset != "" {
			c.Virtualization.Preset = overrides.Virtualization.Preset
		}
		if overrides.Virtualization.Threshold != nil {
			c.Virtualization.Threshold = overrides.Virtualization.Threshold
		}
		if overrides.Virtualization.GroupSize != nil {
			c.Virtualization.GroupSize = overrides.Virtualization.GroupSize
		}
	}

	if overrides.Dedup != nil {
		if overrides.Dedup.AverageBlockSize != 0 {
			c.Dedup.AverageBlockSize = overrides.Dedup.AverageBlockSize
		}
		if overrides.Dedup.PreviewLength != 0 {
			c.Dedup.PreviewLength = overrides.Dedup.PreviewLength
		}
		if overrides.Dedup.TopDuplicates != 0 {
			c.Dedup.TopDuplicates = overrides.Dedup.TopDuplicates
		}
		// SampleSizes is a bool, so we always apply it from overrides.
		c.Dedup.SampleSizes = overrides.Dedup.SampleSizes
	}

	if overrides.Logging != nil {
		if overrides.Logging.Level != "" {
			c.Logging.Level = overrides.Logging.Level
		}
		if overrides.Logging.Format != "" {
			c.Logging.Format = overrides.Logging.Format
		}
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"KILN_ROOT": c.Paths.Root,
		"HOME":      os.Getenv("HOME"),
	}

	c.Paths.Root = expandVars(c.Paths.Root, vars)
	vars["KILN_ROOT"] = c.Paths.Root // Update for dependent paths.

	c.Storage.Path = expandVars(c.Storage.Path, vars)
	c.Paths.Documents = expandVars(c.Paths.Documents, vars)
}

// expandVars expands ${VAR} and ${VAR:-default} patterns.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors. Every problem is
// reported, joined with errors.Join.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	if c.Storage.Path == "" {
		errs = append(errs, fmt.Errorf("storage.path is required"))
	}
	if c.Storage.PoolSize < 0 {
		errs = append(errs, fmt.Errorf("storage.pool_size must not be negative"))
	}
	if _, err := compress.ParseTag(c.Storage.Compression); err != nil {
		errs = append(errs, fmt.Errorf("storage.compression: %w", err))
	}

	if _, err := blockhash.ParseAlgorithm(c.Hashing.Algorithm); err != nil {
		errs = append(errs, fmt.Errorf("hashing.algorithm: %w", err))
	}
	if c.Hashing.MaxBlockSize <= 0 {
		errs = append(errs, fmt.Errorf("hashing.max_block_size must be positive"))
	}

	if _, err := c.Virtualization.Resolve(); err != nil {
		errs = append(errs, fmt.Errorf("virtualization: %w", err))
	}

	if c.Dedup.AverageBlockSize <= 0 {
		errs = append(errs, fmt.Errorf("dedup.average_block_size must be positive"))
	}
	if c.Dedup.PreviewLength <= 0 {
		errs = append(errs, fmt.Errorf("dedup.preview_length must be positive"))
	}
	if c.Dedup.TopDuplicates <= 0 {
		errs = append(errs, fmt.Errorf("dedup.top_duplicates must be positive"))
	}

	if _, err := c.Logging.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	switch c.Logging.Format {
	case "auto", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be one of: auto, text, json"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// EnsurePaths creates the root directory and the database's parent
// directory if they don't exist.
func (c *Config) EnsurePaths() error {
	for _, path := range []string{c.Paths.Root, filepath.Dir(c.Storage.Path)} {
		if path == "" || path == "." {
			continue
		}
		if err := os.MkdirAll(path, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}
	return nil
}

// Resolve returns the section.Config for the preset with any explicit
// values applied, validated.
func (v VirtualizationConfig) Resolve() (section.Config, error) {
	resolved, err := section.PresetByName(v.Preset)
	if err != nil {
		return section.Config{}, err
	}
	if v.Threshold != nil {
		resolved.Threshold = *v.Threshold
	}
	if v.GroupSize != nil {
		resolved.GroupSize = *v.GroupSize
	}
	if err := resolved.Validate(); err != nil {
		return section.Config{}, err
	}
	return resolved, nil
}

// SlogLevel parses Level.
func (l LoggingConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("logging.level: %w", err)
	}
	return level, nil
}

// Hasher returns a hasher for the configured algorithm.
func (c *Config) Hasher() (*blockhash.ContentHasher, error) {
	algorithm, err := blockhash.ParseAlgorithm(c.Hashing.Algorithm)
	if err != nil {
		return nil, err
	}
	return blockhash.New(algorithm)
}

// SectionConfig returns the resolved virtualization config.
func (c *Config) SectionConfig() (section.Config, error) {
	return c.Virtualization.Resolve()
}

// CompressionTag returns the configured compression tag.
func (c *Config) CompressionTag() (compress.Tag, error) {
	return compress.ParseTag(c.Storage.Compression)
}

// BlockLimits returns the configured block size limits.
func (c *Config) BlockLimits() block.Limits {
	return block.Limits{MaxBlockSize: c.Hashing.MaxBlockSize}
}

// DetectorOptions returns dedup.Options for the configured settings.
func (c *Config) DetectorOptions(logger *slog.Logger) dedup.Options {
	return dedup.Options{
		AverageBlockSize: c.Dedup.AverageBlockSize,
		SampleSizes:      c.Dedup.SampleSizes,
		PreviewLength:    c.Dedup.PreviewLength,
		TopDuplicates:    c.Dedup.TopDuplicates,
		Logger:           logger,
	}
}
