// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads .coordination/config.yaml.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/AleutianAI/claimchain/services/coordination/telemetry"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CLAIMCHAIN_"

// ErrInvalidConfig wraps every validation, parse and env override failure.
var ErrInvalidConfig = errors.New("invalid config")

// Config is the coordination configuration shared by every agent in a project.
type Config struct {
	// LockTimeout bounds a ledger lock wait.
	LockTimeout time.Duration `yaml:"lock_timeout" validate:"min=1ms"`

	// StaleLockAge is when a held lock is presumed abandoned.
	StaleLockAge time.Duration `yaml:"stale_lock_age" validate:"min=1s"`

	// PollInterval is the first lock retry delay.
	PollInterval time.Duration `yaml:"poll_interval" validate:"min=1ms"`

	// DefaultTTLMinutes applies to claims that do not give a TTL.
	DefaultTTLMinutes float64 `yaml:"default_ttl_minutes" validate:"gt=0,ltefield=MaxTTLMinutes"`

	// MaxTTLMinutes caps a lease, including extensions.
	MaxTTLMinutes float64 `yaml:"max_ttl_minutes" validate:"gt=0"`

	// CaseFold forces case-insensitive paths. Nil uses the platform default.
	CaseFold *bool `yaml:"case_fold,omitempty"`

	// SweepInterval is the period of the background sweeper in serve mode.
	SweepInterval time.Duration `yaml:"sweep_interval" validate:"min=1s"`

	Gate      GateConfig       `yaml:"gate"`
	Server    ServerConfig     `yaml:"server"`
	Log       LogConfig        `yaml:"log"`
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// GateConfig configures the enforcement gate.
type GateConfig struct {
	// FailOpen allows writes when the ledger is unreadable.
	FailOpen bool `yaml:"fail_open"`

	// AdviseDepth is the cluster depth used for claim hints.
	AdviseDepth int `yaml:"advise_depth" validate:"gte=0,lte=10"`
}

// ServerConfig configures `claimchain serve`.
type ServerConfig struct {
	Addr string `yaml:"addr" validate:"required,hostname_port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn warning error"`
	Dir   string `yaml:"dir,omitempty"`
	JSON  bool   `yaml:"json"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LockTimeout:       10 * time.Second,
		StaleLockAge:      2 * time.Minute,
		PollInterval:      25 * time.Millisecond,
		DefaultTTLMinutes: 30,
		MaxTTLMinutes:     24 * 60,
		SweepInterval:     30 * time.Second,
		Gate: GateConfig{
			AdviseDepth: 2,
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:7311",
		},
		Log: LogConfig{
			Level: "info",
		},
		Telemetry: telemetry.DefaultConfig(),
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// DefaultTTL returns DefaultTTLMinutes as a duration.
func (c Config) DefaultTTL() time.Duration {
	return time.Duration(c.DefaultTTLMinutes * float64(time.Minute))
}

// MaxTTL returns MaxTTLMinutes as a duration.
func (c Config) MaxTTL() time.Duration {
	return time.Duration(c.MaxTTLMinutes * float64(time.Minute))
}

// CaseFoldOr returns the configured case folding, or platformDefault.
func (c Config) CaseFoldOr(platformDefault bool) bool {
	if c.CaseFold == nil {
		return platformDefault
	}
	return *c.CaseFold
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("%w: parsing %s: %w", ErrInvalidConfig, path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return Config{}, fmt.Errorf("reading %s: %w", path, err)
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// EnsureDefault writes the default config to path unless a file is
// already there. It reports whether a file was written.
func EnsureDefault(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("checking %s: %w", path, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("creating config directory: %w", err)
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return false, fmt.Errorf("encoding default config: %w", err)
	}
	header := []byte("# claimchain coordination settings, shared by every agent in this project.\n")
	if err := os.WriteFile(path, append(header, data...), 0o644); err != nil {
		return false, fmt.Errorf("writing %s: %w", path, err)
	}
	return true, nil
}

// ApplyEnv overrides fields from CLAIMCHAIN_* variables.
//
// Recognized: LOCK_TIMEOUT, STALE_LOCK_AGE, POLL_INTERVAL,
// DEFAULT_TTL_MINUTES, MAX_TTL_MINUTES, CASE_FOLD, SWEEP_INTERVAL,
// FAIL_OPEN, SERVER_ADDR, LOG_LEVEL, LOG_DIR, LOG_JSON.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	var errs []error
	get := func(name string) (string, bool) {
		v, ok := lookup(EnvPrefix + name)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}
	duration := func(name string, dst *time.Duration) {
		if v, ok := get(name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = d
		}
	}
	float := func(name string, dst *float64) {
		if v, ok := get(name); ok {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = f
		}
	}
	boolean := func(name string, dst *bool) bool {
		if v, ok := get(name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return false
			}
			*dst = b
			return true
		}
		return false
	}
	str := func(name string, dst *string) {
		if v, ok := get(name); ok {
			*dst = v
		}
	}

	duration("LOCK_TIMEOUT", &c.LockTimeout)
	duration("STALE_LOCK_AGE", &c.StaleLockAge)
	duration("POLL_INTERVAL", &c.PollInterval)
	duration("SWEEP_INTERVAL", &c.SweepInterval)
	float("DEFAULT_TTL_MINUTES", &c.DefaultTTLMinutes)
	float("MAX_TTL_MINUTES", &c.MaxTTLMinutes)
	var fold bool
	if boolean("CASE_FOLD", &fold) {
		c.CaseFold = &fold
	}
	boolean("FAIL_OPEN", &c.Gate.FailOpen)
	str("SERVER_ADDR", &c.Server.Addr)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_DIR", &c.Log.Dir)
	boolean("LOG_JSON", &c.Log.JSON)

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}
