// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for runlog commands.
//
// Configuration is loaded from a single file specified by:
//   - RUNLOG_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no fallbacks or automatic discovery. This ensures deterministic,
// auditable configuration with no hidden overrides.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/runlog/lib/blob"
)

// Duration is a time.Duration that unmarshals from YAML duration
// strings such as "500ms" or "2s".
type Duration time.Duration

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

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// Config is the master configuration for runlog commands.
type Config struct {
	// Ingest configures the polling engine.
	Ingest IngestConfig `yaml:"ingest"`

	// Logging configures structured log output.
	Logging LoggingConfig `yaml:"logging"`

	// Export configures runlog-export output.
	Export ExportConfig `yaml:"export"`
}

// IngestConfig configures the polling engine.
type IngestConfig struct {
	// PollInterval is the idle gap between poll cycles.
	// Default: 2s
	PollInterval Duration `yaml:"poll_interval"`

	// Workers bounds concurrent blob materializations.
	// Default: 4
	Workers int `yaml:"workers"`

	// SubscriberBuffer is the minimum notification buffer per
	// subscriber. Default: 256
	SubscriberBuffer int `yaml:"subscriber_buffer"`

	// InteractivePreload emits step notifications during the initial
	// backlog load instead of a single resync at the end.
	// Default: false
	InteractivePreload bool `yaml:"interactive_preload"`
}

// LoggingConfig configures structured log output.
type LoggingConfig struct {
	// Level is the minimum level emitted: debug, info, warn, error.
	// Default: info
	Level string `yaml:"level"`

	// Format selects the slog handler: text or json.
	// Default: text
	Format string `yaml:"format"`
}

// NewLogger builds a slog.Logger per the logging configuration,
// writing to w. Unknown values fall back to info/text; Validate
// rejects them for callers that care.
func (c LoggingConfig) NewLogger(w io.Writer) *slog.Logger {
	var level slog.Level
	switch c.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	options := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, options))
	}
	return slog.New(slog.NewTextHandler(w, options))
}

// ExportConfig configures runlog-export output.
type ExportConfig struct {
	// Directory is where exported blobs and the manifest land.
	// Default: ${HOME}/.cache/runlog/export
	Directory string `yaml:"directory"`

	// Compression names the blob compression for re-packed output:
	// none, lz4, or zstd. Default: zstd
	Compression string `yaml:"compression"`
}

// Default returns the default configuration. These defaults are used
// as a base before loading the config file; commands that run without
// a config file use them directly.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Ingest: IngestConfig{
			PollInterval:     Duration(2 * time.Second),
			Workers:          4,
			SubscriberBuffer: 256,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Export: ExportConfig{
			Directory:   filepath.Join(homeDir, ".cache", "runlog", "export"),
			Compression: "zstd",
		},
	}
}

// Load loads configuration from the RUNLOG_CONFIG environment
// variable, or returns defaults when it is unset.
func Load() (*Config, error) {
	configPath := os.Getenv("RUNLOG_CONFIG")
	if configPath == "" {
		return Default(), nil
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path.
//
// The config file is the single source of truth. Environment variables
// do not override config values. The only expansion performed is
// ${HOME} and similar path variables for portability.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.expandVariables()
	return cfg, nil
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}
	c.Export.Directory = expandVars(c.Export.Directory, vars)
}

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

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Ingest.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("ingest.poll_interval must be positive"))
	}
	if c.Ingest.Workers <= 0 {
		errs = append(errs, fmt.Errorf("ingest.workers must be positive"))
	}
	if c.Ingest.SubscriberBuffer <= 0 {
		errs = append(errs, fmt.Errorf("ingest.subscriber_buffer must be positive"))
	}

	levels := []string{"debug", "info", "warn", "error"}
	if !contains(levels, c.Logging.Level) {
		errs = append(errs, fmt.Errorf("logging.level must be one of: %v", levels))
	}
	formats := []string{"text", "json"}
	if !contains(formats, c.Logging.Format) {
		errs = append(errs, fmt.Errorf("logging.format must be one of: %v", formats))
	}

	if c.Export.Directory == "" {
		errs = append(errs, fmt.Errorf("export.directory is required"))
	}
	if _, err := blob.ParseCompressionTag(c.Export.Compression); err != nil {
		errs = append(errs, fmt.Errorf("export.compression: %w", err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func contains(slice []string, s string) bool {
	for _, v := range slice {
		if v == s {
			return true
		}
	}
	return false
}
