// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/sessionlog/lib/codec"
	"github.com/bureau-foundation/sessionlog/lib/lifecycle"
	"github.com/bureau-foundation/sessionlog/lib/logbridge"
	"github.com/bureau-foundation/sessionlog/lib/version"
)

// EnvironmentVariable names the variable Load reads the config path
// from.
const EnvironmentVariable = "SESSIONLOG_CONFIG"

// Environment represents the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
)

// Config is the configuration of a session log client.
type Config struct {
	Environment Environment `yaml:"environment"`

	Paths     PathsConfig     `yaml:"paths"`
	Storage   StorageConfig   `yaml:"storage"`
	Sync      SyncConfig      `yaml:"sync"`
	Transport TransportConfig `yaml:"transport"`
	Lifecycle LifecycleConfig `yaml:"lifecycle"`
	Logging   LoggingConfig   `yaml:"logging"`

	// Per-environment overrides, applied after the file is loaded.
	Development *Overrides `yaml:"development,omitempty"`
	Staging     *Overrides `yaml:"staging,omitempty"`
	Production  *Overrides `yaml:"production,omitempty"`
}

// Overrides contains the sections an environment can override. Only
// non-zero fields replace the base values.
type Overrides struct {
	Paths     *PathsConfig     `yaml:"paths,omitempty"`
	Sync      *SyncConfig      `yaml:"sync,omitempty"`
	Transport *TransportConfig `yaml:"transport,omitempty"`
	Logging   *LoggingConfig   `yaml:"logging,omitempty"`
}

// PathsConfig configures file locations.
type PathsConfig struct {
	// Base is the session log root; sessions live in Base/sessions.
	Base string `yaml:"base"`

	// Outbox is the outbox database. Empty means Base/outbox.db;
	// "none" disables the outbox.
	Outbox string `yaml:"outbox"`
}

// StorageConfig configures the on-disk session files.
type StorageConfig struct {
	// FileMode is the octal permission for new files, e.g. "0600".
	FileMode string `yaml:"file_mode"`

	// LockPath is the file locked while a process owns Base. Defaults
	// to a lock file inside Base/sessions.
	LockPath string `yaml:"lock_path"`

	// QueueDepth bounds operations waiting on the storage queue.
	QueueDepth int `yaml:"queue_depth"`
}

// SyncConfig configures synchronization.
type SyncConfig struct {
	Interval         Duration `yaml:"interval"`
	BackgroundBudget Duration `yaml:"background_budget"`
	MaxBatchBytes    int      `yaml:"max_batch_bytes"`
	MaxBatchSessions int      `yaml:"max_batch_sessions"`
	OutboxBatch      int      `yaml:"outbox_batch"`

	// Compression is none, lz4, or zstd.
	Compression string `yaml:"compression"`
}

// TransportConfig configures the upload endpoint.
type TransportConfig struct {
	// Endpoint is the ingest URL. Empty leaves uploads unconfigured:
	// data accumulates on disk and sync requests are skipped.
	Endpoint string `yaml:"endpoint"`

	// TokenPath is a file holding the bearer token.
	TokenPath string `yaml:"token_path"`

	Timeout   Duration `yaml:"timeout"`
	UserAgent string   `yaml:"user_agent"`
}

// LifecycleConfig configures the lifecycle controller.
type LifecycleConfig struct {
	// Signals replaces the default action of each listed signal.
	Signals lifecycle.Table `yaml:"signals"`
}

// LoggingConfig configures log levels.
type LoggingConfig struct {
	// Level is the minimum level of the process logger.
	Level string `yaml:"level"`

	// BridgeLevel is the minimum level recorded as session events.
	// Empty disables the bridge.
	BridgeLevel string `yaml:"bridge_level"`
}

// Duration is a time.Duration written as a Go duration string ("30s").
type Duration time.Duration

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var text string
	if err := node.Decode(&text); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(text)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML writes the duration string.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Default returns the configuration used as the base before a file is
// loaded.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	base := filepath.Join(homeDir, ".local", "state", "sessionlog")

	return &Config{
		Environment: Development,
		Paths: PathsConfig{
			Base: base,
		},
		Storage: StorageConfig{
			FileMode:   "0600",
			QueueDepth: 256,
		},
		Sync: SyncConfig{
			Interval:         Duration(30 * time.Second),
			BackgroundBudget: Duration(25 * time.Second),
			MaxBatchBytes:    1 << 20,
			MaxBatchSessions: 25,
			OutboxBatch:      100,
			Compression:      "zstd",
		},
		Transport: TransportConfig{
			Timeout:   Duration(30 * time.Second),
			UserAgent: version.UserAgent(),
		},
		Logging: LoggingConfig{
			Level:       "info",
			BridgeLevel: "",
		},
	}
}

// Load loads the file named by SESSIONLOG_CONFIG.
func Load() (*Config, error) {
	path := os.Getenv(EnvironmentVariable)
	if path == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your sessionlog config file, or use --config", EnvironmentVariable)
	}
	return LoadFile(path)
}

// LoadFile loads configuration from path over Default(), applies the
// matching environment section, and expands ${VAR} and ${VAR:-default}
// in path fields. Files ending in .json or .jsonc may carry comments
// and trailing commas.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}
	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		// YAML is a JSON superset once comments and trailing commas
		// are gone.
		data = jsonc.ToJSON(data)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnvironmentOverrides() {
	var overrides *Overrides
	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
		if overrides == nil {
			overrides = &Overrides{Logging: &LoggingConfig{Level: "warn"}}
		}
	}
	if overrides == nil {
		return
	}

	if overrides.Paths != nil {
		override(&c.Paths.Base, overrides.Paths.Base)
		override(&c.Paths.Outbox, overrides.Paths.Outbox)
	}
	if overrides.Sync != nil {
		override(&c.Sync.Interval, overrides.Sync.Interval)
		override(&c.Sync.BackgroundBudget, overrides.Sync.BackgroundBudget)
		override(&c.Sync.MaxBatchBytes, overrides.Sync.MaxBatchBytes)
		override(&c.Sync.MaxBatchSessions, overrides.Sync.MaxBatchSessions)
		override(&c.Sync.OutboxBatch, overrides.Sync.OutboxBatch)
		override(&c.Sync.Compression, overrides.Sync.Compression)
	}
	if overrides.Transport != nil {
		override(&c.Transport.Endpoint, overrides.Transport.Endpoint)
		override(&c.Transport.TokenPath, overrides.Transport.TokenPath)
		override(&c.Transport.Timeout, overrides.Transport.Timeout)
		override(&c.Transport.UserAgent, overrides.Transport.UserAgent)
	}
	if overrides.Logging != nil {
		override(&c.Logging.Level, overrides.Logging.Level)
		override(&c.Logging.BridgeLevel, overrides.Logging.BridgeLevel)
	}
}

func override[T comparable](target *T, value T) {
	var zero T
	if value != zero {
		*target = value
	}
}

func (c *Config) expandVariables() {
	vars := map[string]string{
		"SESSIONLOG_BASE": c.Paths.Base,
		"HOME":            os.Getenv("HOME"),
	}
	c.Paths.Base = expandVars(c.Paths.Base, vars)
	vars["SESSIONLOG_BASE"] = c.Paths.Base

	c.Paths.Outbox = expandVars(c.Paths.Outbox, vars)
	c.Storage.LockPath = expandVars(c.Storage.LockPath, vars)
	c.Transport.TokenPath = expandVars(c.Transport.TokenPath, vars)
	c.Transport.Endpoint = expandVars(c.Transport.Endpoint, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default}, consulting vars
// before the process environment.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		name, defaultValue := parts[1], parts[2]
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	switch c.Environment {
	case Development, Staging, Production:
	default:
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}
	if c.Paths.Base == "" {
		errs = append(errs, errors.New("paths.base is required"))
	}
	if _, err := c.FileMode(); err != nil {
		errs = append(errs, err)
	}
	if c.Storage.QueueDepth < 0 {
		errs = append(errs, errors.New("storage.queue_depth must not be negative"))
	}
	if c.Sync.Interval <= 0 {
		errs = append(errs, errors.New("sync.interval must be positive"))
	}
	if c.Sync.BackgroundBudget <= 0 {
		errs = append(errs, errors.New("sync.background_budget must be positive"))
	}
	if c.Sync.MaxBatchBytes <= 0 || c.Sync.MaxBatchSessions <= 0 || c.Sync.OutboxBatch <= 0 {
		errs = append(errs, errors.New("sync batch limits must be positive"))
	}
	if _, err := codec.ParseCompression(c.Sync.Compression); err != nil {
		errs = append(errs, fmt.Errorf("sync.compression: %w", err))
	}
	if c.Transport.Endpoint != "" {
		if !strings.HasPrefix(c.Transport.Endpoint, "https://") && !strings.HasPrefix(c.Transport.Endpoint, "http://") {
			errs = append(errs, fmt.Errorf("transport.endpoint must be an http(s) URL (got %q)", c.Transport.Endpoint))
		}
		if c.Transport.TokenPath == "" {
			errs = append(errs, errors.New("transport.token_path is required when transport.endpoint is set"))
		}
	}
	if err := c.Lifecycle.Signals.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("lifecycle.signals: %w", err))
	}
	if _, err := logbridge.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	if c.Logging.BridgeLevel != "" {
		if _, err := logbridge.ParseLevel(c.Logging.BridgeLevel); err != nil {
			errs = append(errs, fmt.Errorf("logging.bridge_level: %w", err))
		}
	}
	return errors.Join(errs...)
}

// FileMode parses storage.file_mode.
func (c *Config) FileMode() (os.FileMode, error) {
	mode, err := strconv.ParseUint(c.Storage.FileMode, 8, 32)
	if err != nil || mode == 0 || mode > 0o777 {
		return 0, fmt.Errorf("storage.file_mode must be an octal permission like 0600 (got %q)", c.Storage.FileMode)
	}
	return os.FileMode(mode), nil
}

// Compression parses sync.compression.
func (c *Config) Compression() (codec.Compression, error) {
	return codec.ParseCompression(c.Sync.Compression)
}

// SignalTable is the default lifecycle table with the configured
// signals applied over it.
func (c *Config) SignalTable() lifecycle.Table {
	return lifecycle.DefaultTable().Merge(c.Lifecycle.Signals)
}

// OutboxPath resolves paths.outbox. Empty means the outbox is disabled.
func (c *Config) OutboxPath() string {
	switch c.Paths.Outbox {
	case "none":
		return ""
	case "":
		return filepath.Join(c.Paths.Base, "outbox.db")
	default:
		return c.Paths.Outbox
	}
}

// EnsurePaths creates the base directory and the outbox's directory.
func (c *Config) EnsurePaths() error {
	paths := []string{c.Paths.Base}
	if outbox := c.OutboxPath(); outbox != "" {
		paths = append(paths, filepath.Dir(outbox))
	}
	for _, path := range paths {
		if err := os.MkdirAll(path, 0o700); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}
	return nil
}
