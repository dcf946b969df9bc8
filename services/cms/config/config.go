// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads Phoebe's YAML configuration.
//
// Values come from three layers, later ones winning: DefaultConfig, the YAML
// file, then PHOEBE_* environment variables. Watch reloads the file when it
// changes so the undo grace period can be tuned without a restart.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/AleutianAI/phoebe/pkg/undosave"
	"github.com/AleutianAI/phoebe/services/cms/middleware"
	"github.com/AleutianAI/phoebe/services/cms/observability"
	"github.com/AleutianAI/phoebe/services/cms/store"
	"gopkg.in/yaml.v3"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

// Config is the root of phoebe.yaml.
type Config struct {
	Server    ServerConfig                  `yaml:"server"`
	Store     store.Config                  `yaml:"store"`
	Saves     SavesConfig                   `yaml:"saves"`
	RateLimit middleware.RateLimitConfig    `yaml:"rate_limit"`
	Telemetry observability.TelemetryConfig `yaml:"telemetry"`
	Bootstrap BootstrapConfig               `yaml:"bootstrap"`
	Log       LogConfig                     `yaml:"log"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Listen          string        `yaml:"listen"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AuditKeep       int           `yaml:"audit_keep"`
}

// SavesConfig tunes delayed saves.
//
//   - Delay: Undo grace period. Reloaded live by Watch.
//   - CommitTimeout: Upper bound on one write.
//   - IdleTTL: Idle forms older than this are forgotten.
type SavesConfig struct {
	Delay         time.Duration `yaml:"delay"`
	CommitTimeout time.Duration `yaml:"commit_timeout"`
	IdleTTL       time.Duration `yaml:"idle_ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// BootstrapConfig creates the first administrator when no user exists.
// An empty password disables bootstrapping.
type BootstrapConfig struct {
	AdminUsername string `yaml:"admin_username"`
	AdminEmail    string `yaml:"admin_email"`
	AdminPassword string `yaml:"admin_password"`
}

// LogConfig selects the slog handler.
//
//   - Format: "auto" (text on a terminal, JSON otherwise), "text" or "json".
//   - Level: "debug", "info", "warn" or "error".
//   - Dir: Also write JSON logs to a dated file here. Empty disables.
type LogConfig struct {
	Format string `yaml:"format"`
	Level  string `yaml:"level"`
	Dir    string `yaml:"dir"`
}

// DefaultConfig returns a configuration that runs out of ./data.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Listen:          ":8080",
			ReadTimeout:     15 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			AuditKeep:       1000,
		},
		Store: store.DefaultConfig("data"),
		Saves: SavesConfig{
			Delay:         undosave.DefaultDelay,
			CommitTimeout: 30 * time.Second,
			IdleTTL:       30 * time.Minute,
			SweepInterval: time.Minute,
		},
		RateLimit: middleware.DefaultRateLimitConfig(),
		Telemetry: observability.DefaultTelemetryConfig(),
		Bootstrap: BootstrapConfig{
			AdminUsername: "admin",
			AdminEmail:    "admin@localhost",
		},
		Log: LogConfig{Format: "auto", Level: "info"},
	}
}

// Load reads path over DefaultConfig, applies the environment, and
// validates. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read the config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail deep inside startup.
func (c Config) Validate() error {
	var problems []string
	if c.Server.Listen == "" {
		problems = append(problems, "server.listen is empty")
	}
	if !c.Store.InMemory && c.Store.Path == "" {
		problems = append(problems, "store.path is empty")
	}
	if c.Saves.Delay <= 0 {
		problems = append(problems, "saves.delay must be positive")
	}
	if c.Saves.CommitTimeout < 0 {
		problems = append(problems, "saves.commit_timeout must not be negative")
	}
	if c.Bootstrap.AdminPassword != "" && len(c.Bootstrap.AdminPassword) < 8 {
		problems = append(problems, "bootstrap.admin_password must be at least 8 characters")
	}
	switch c.Log.Format {
	case "auto", "text", "json":
	default:
		problems = append(problems, fmt.Sprintf("log.format %q is not auto, text or json", c.Log.Format))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// Environment variables read by Load.
const (
	EnvListen        = "PHOEBE_LISTEN"
	EnvDataDir       = "PHOEBE_DATA_DIR"
	EnvSaveDelay     = "PHOEBE_SAVE_DELAY"
	EnvAdminPassword = "PHOEBE_ADMIN_PASSWORD"
	EnvLogFormat     = "PHOEBE_LOG_FORMAT"
	EnvLogLevel      = "PHOEBE_LOG_LEVEL"
	EnvLogDir        = "PHOEBE_LOG_DIR"
	EnvOTLPEndpoint  = "PHOEBE_OTLP_ENDPOINT"
)

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvListen); ok {
		cfg.Server.Listen = v
	}
	if v, ok := lookup(EnvDataDir); ok {
		cfg.Store.Path = v
	}
	if v, ok := lookup(EnvSaveDelay); ok {
		d, err := parseDelay(v)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalid, EnvSaveDelay, err)
		}
		cfg.Saves.Delay = d
	}
	if v, ok := lookup(EnvAdminPassword); ok {
		cfg.Bootstrap.AdminPassword = v
	}
	if v, ok := lookup(EnvLogFormat); ok {
		cfg.Log.Format = v
	}
	if v, ok := lookup(EnvLogLevel); ok {
		cfg.Log.Level = v
	}
	if v, ok := lookup(EnvLogDir); ok {
		cfg.Log.Dir = v
	}
	if v, ok := lookup(EnvOTLPEndpoint); ok {
		cfg.Telemetry.TraceExporter = "otlp"
		cfg.Telemetry.OTLPEndpoint = v
	}
	return nil
}

// parseDelay accepts a Go duration ("5s") or a bare number of milliseconds.
func parseDelay(v string) (time.Duration, error) {
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return time.ParseDuration(v)
}
