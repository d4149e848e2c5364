// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Ingest.PollInterval.Std() != 2*time.Second {
		t.Errorf("expected poll_interval=2s, got %s", cfg.Ingest.PollInterval)
	}
	if cfg.Ingest.Workers != 4 {
		t.Errorf("expected workers=4, got %d", cfg.Ingest.Workers)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Errorf("unexpected logging defaults %+v", cfg.Logging)
	}
	if cfg.Export.Compression != "zstd" {
		t.Errorf("expected compression=zstd, got %s", cfg.Export.Compression)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults must validate: %v", err)
	}
}

func TestLoadWithoutEnvReturnsDefaults(t *testing.T) {
	origConfig := os.Getenv("RUNLOG_CONFIG")
	defer os.Setenv("RUNLOG_CONFIG", origConfig)
	os.Unsetenv("RUNLOG_CONFIG")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load without RUNLOG_CONFIG: %v", err)
	}
	if cfg.Ingest.Workers != Default().Ingest.Workers {
		t.Errorf("expected defaults, got %+v", cfg.Ingest)
	}
}

func TestLoadFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "runlog.yaml")

	configContent := `
ingest:
  poll_interval: 500ms
  workers: 8
  interactive_preload: true
logging:
  level: debug
  format: json
export:
  directory: ${HOME}/exports
  compression: lz4
`
	if err := os.WriteFile(configPath, []byte(configContent), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Ingest.PollInterval.Std() != 500*time.Millisecond {
		t.Errorf("expected poll_interval=500ms, got %s", cfg.Ingest.PollInterval)
	}
	if cfg.Ingest.Workers != 8 {
		t.Errorf("expected workers=8, got %d", cfg.Ingest.Workers)
	}
	if !cfg.Ingest.InteractivePreload {
		t.Error("expected interactive_preload=true")
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("unexpected logging %+v", cfg.Logging)
	}
	if cfg.Export.Compression != "lz4" {
		t.Errorf("expected compression=lz4, got %s", cfg.Export.Compression)
	}
	// Unset fields keep defaults.
	if cfg.Ingest.SubscriberBuffer != 256 {
		t.Errorf("expected subscriber_buffer default 256, got %d", cfg.Ingest.SubscriberBuffer)
	}
	// ${HOME} expanded.
	home := os.Getenv("HOME")
	if home != "" && cfg.Export.Directory != filepath.Join(home, "exports") {
		t.Errorf("expected ${HOME} expansion, got %s", cfg.Export.Directory)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("loaded config must validate: %v", err)
	}
}

func TestLoadFileMissing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero poll interval", func(c *Config) { c.Ingest.PollInterval = 0 }},
		{"zero workers", func(c *Config) { c.Ingest.Workers = 0 }},
		{"bad level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }},
		{"bad compression", func(c *Config) { c.Export.Compression = "gzip" }},
		{"empty export dir", func(c *Config) { c.Export.Directory = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestExpandVarsDefault(t *testing.T) {
	got := expandVars("${DEFINITELY_UNSET_VAR:-/fallback}/x", nil)
	if got != "/fallback/x" {
		t.Errorf("expected default expansion, got %q", got)
	}
}
