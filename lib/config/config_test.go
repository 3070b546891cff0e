// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/sessionlog/lib/codec"
	"github.com/bureau-foundation/sessionlog/lib/lifecycle"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Environment != Development {
		t.Errorf("expected environment=development, got %s", cfg.Environment)
	}
	if time.Duration(cfg.Sync.Interval) != 30*time.Second {
		t.Errorf("expected sync.interval=30s, got %v", time.Duration(cfg.Sync.Interval))
	}
	if time.Duration(cfg.Sync.BackgroundBudget) != 25*time.Second {
		t.Errorf("expected sync.background_budget=25s, got %v", time.Duration(cfg.Sync.BackgroundBudget))
	}
	if cfg.Sync.MaxBatchBytes != 1<<20 || cfg.Sync.MaxBatchSessions != 25 {
		t.Errorf("unexpected batch limits: %+v", cfg.Sync)
	}
	if compression, err := cfg.Compression(); err != nil || compression != codec.CompressionZstd {
		t.Errorf("Compression() = %v, %v; want zstd", compression, err)
	}
	if cfg.OutboxPath() != filepath.Join(cfg.Paths.Base, "outbox.db") {
		t.Errorf("OutboxPath() = %q", cfg.OutboxPath())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default().Validate(): %v", err)
	}
}

func TestLoad_RequiresEnvironmentVariable(t *testing.T) {
	t.Setenv(EnvironmentVariable, "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when SESSIONLOG_CONFIG not set, got nil")
	}
	if !strings.HasPrefix(err.Error(), "SESSIONLOG_CONFIG environment variable not set") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoad_ReadsNamedFile(t *testing.T) {
	path := writeConfig(t, "sessionlog.yaml", `
environment: staging
paths:
  base: /test/base
`)
	t.Setenv(EnvironmentVariable, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Environment != Staging || cfg.Paths.Base != "/test/base" {
		t.Errorf("loaded %s %s", cfg.Environment, cfg.Paths.Base)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, "sessionlog.yaml", `
paths:
  base: /var/lib/app/telemetry
  outbox: none
storage:
  file_mode: "0640"
sync:
  interval: 2m
  background_budget: 10s
  compression: lz4
transport:
  endpoint: https://ingest.example.com/v1/sessions
  token_path: /run/secrets/ingest-token
lifecycle:
  signals:
    entered_background:
      end_session: true
logging:
  level: debug
  bridge_level: warn
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if time.Duration(cfg.Sync.Interval) != 2*time.Minute {
		t.Errorf("sync.interval = %v", time.Duration(cfg.Sync.Interval))
	}
	if cfg.Sync.MaxBatchSessions != 25 {
		t.Errorf("unset sync.max_batch_sessions lost its default: %d", cfg.Sync.MaxBatchSessions)
	}
	if mode, err := cfg.FileMode(); err != nil || mode != 0o640 {
		t.Errorf("FileMode() = %v, %v", mode, err)
	}
	if cfg.OutboxPath() != "" {
		t.Errorf("OutboxPath() = %q, want disabled", cfg.OutboxPath())
	}

	table := cfg.SignalTable()
	if !table[lifecycle.SignalEnteredBackground].EndSession {
		t.Error("entered_background override not applied")
	}
	if table[lifecycle.SignalWillResignActive].Sync != "immediate" {
		t.Error("default will_resign_active entry lost by the override")
	}
}

func TestLoadFileJSONC(t *testing.T) {
	path := writeConfig(t, "sessionlog.jsonc", `{
  // Staging points at the test collector.
  "environment": "staging",
  "sync": {"max_batch_sessions": 5,},
  "transport": {
    "endpoint": "http://localhost:8089/ingest",
    "token_path": "/tmp/token", /* throwaway */
  },
}`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if cfg.Environment != Staging || cfg.Sync.MaxBatchSessions != 5 {
		t.Errorf("loaded %+v", cfg)
	}
	if cfg.Transport.Endpoint != "http://localhost:8089/ingest" {
		t.Errorf("transport.endpoint = %q", cfg.Transport.Endpoint)
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, "sessionlog.yaml", `
environment: staging
sync:
  interval: 30s
transport:
  endpoint: https://prod.example.com/ingest
  token_path: /token
staging:
  sync:
    interval: 5s
  transport:
    endpoint: https://staging.example.com/ingest
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if time.Duration(cfg.Sync.Interval) != 5*time.Second {
		t.Errorf("sync.interval = %v, want staging override 5s", time.Duration(cfg.Sync.Interval))
	}
	if cfg.Transport.Endpoint != "https://staging.example.com/ingest" {
		t.Errorf("transport.endpoint = %q", cfg.Transport.Endpoint)
	}
	if cfg.Transport.TokenPath != "/token" {
		t.Errorf("token_path lost: %q", cfg.Transport.TokenPath)
	}
}

func TestProductionDefaultOverrides(t *testing.T) {
	path := writeConfig(t, "sessionlog.yaml", "environment: production\n")
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("production logging.level = %q, want warn", cfg.Logging.Level)
	}
}

func TestVariableExpansion(t *testing.T) {
	t.Setenv("HOME", "/home/tester")
	t.Setenv("INGEST_HOST", "")
	path := writeConfig(t, "sessionlog.yaml", `
paths:
  base: ${HOME}/.telemetry
  outbox: ${SESSIONLOG_BASE}/queue/outbox.db
transport:
  endpoint: https://${INGEST_HOST:-ingest.example.com}/v1
  token_path: ${SESSIONLOG_BASE}/token
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if cfg.Paths.Base != "/home/tester/.telemetry" {
		t.Errorf("paths.base = %q", cfg.Paths.Base)
	}
	if cfg.OutboxPath() != "/home/tester/.telemetry/queue/outbox.db" {
		t.Errorf("paths.outbox = %q", cfg.OutboxPath())
	}
	if cfg.Transport.Endpoint != "https://ingest.example.com/v1" {
		t.Errorf("transport.endpoint = %q", cfg.Transport.Endpoint)
	}
	if cfg.Transport.TokenPath != "/home/tester/.telemetry/token" {
		t.Errorf("transport.token_path = %q", cfg.Transport.TokenPath)
	}
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := Default()
	cfg.Environment = "qa"
	cfg.Storage.FileMode = "rw-------"
	cfg.Sync.Compression = "brotli"
	cfg.Transport.Endpoint = "ftp://example.com"
	cfg.Lifecycle.Signals = lifecycle.Table{lifecycle.SignalBecameActive: {Sync: "soon"}}
	cfg.Logging.Level = "verbose"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate accepted an invalid config")
	}
	for _, want := range []string{
		"invalid environment",
		"storage.file_mode",
		"sync.compression",
		"transport.endpoint",
		"transport.token_path",
		"lifecycle.signals",
		"logging.level",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Validate error missing %q:\n%v", want, err)
		}
	}
}

func TestInvalidDuration(t *testing.T) {
	path := writeConfig(t, "sessionlog.yaml", "sync:\n  interval: soon\n")
	if _, err := LoadFile(path); err == nil {
		t.Fatal("LoadFile accepted an invalid duration")
	}
}

func TestEnsurePaths(t *testing.T) {
	cfg := Default()
	cfg.Paths.Base = filepath.Join(t.TempDir(), "base")
	cfg.Paths.Outbox = filepath.Join(t.TempDir(), "nested", "outbox.db")
	if err := cfg.EnsurePaths(); err != nil {
		t.Fatalf("EnsurePaths: %v", err)
	}
	for _, directory := range []string{cfg.Paths.Base, filepath.Dir(cfg.Paths.Outbox)} {
		if info, err := os.Stat(directory); err != nil || !info.IsDir() {
			t.Errorf("%s not created: %v", directory, err)
		}
	}
}
