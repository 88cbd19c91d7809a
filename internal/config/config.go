// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads runtime configuration from the environment and
// the project's optional .sqltrace.yml, and defines the typed error
// taxonomy used across the agent.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the agent's resolved runtime configuration.
type Config struct {
	ProjectRoot string
	Debug       bool
	LogLevel    slog.Level
	MaxSteps    int
	Timeout     time.Duration
	ModelName   string
}

const (
	defaultMaxSteps = 15
	defaultTimeout  = 120 * time.Second
	defaultModel    = "claude-sonnet-4-5"
)

// FileOverrides is the shape of .sqltrace.yml, a project-local config
// file consulted before environment variables (which still win).
type FileOverrides struct {
	MaxSteps int    `yaml:"max_steps"`
	Timeout  string `yaml:"timeout"`
	Model    string `yaml:"model"`
}

// Load resolves configuration for projectRoot: start from defaults,
// apply .sqltrace.yml if present, then apply SQLTRACE_* environment
// variables, which take precedence over both.
func Load(projectRoot string) (Config, error) {
	cfg := Config{
		ProjectRoot: projectRoot,
		LogLevel:    slog.LevelInfo,
		MaxSteps:    defaultMaxSteps,
		Timeout:     defaultTimeout,
		ModelName:   defaultModel,
	}

	if err := applyFileOverrides(projectRoot, &cfg); err != nil {
		return cfg, err
	}
	applyEnvOverrides(&cfg)
	return cfg, nil
}

func applyFileOverrides(projectRoot string, cfg *Config) error {
	path := projectRoot + string(os.PathSeparator) + ".sqltrace.yml"
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return NewConfigurationError(fmt.Sprintf("reading %s", path), err)
	}
	var f FileOverrides
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return NewConfigurationError(fmt.Sprintf("parsing %s", path), err)
	}
	if f.MaxSteps > 0 {
		cfg.MaxSteps = f.MaxSteps
	}
	if f.Timeout != "" {
		if d, err := time.ParseDuration(f.Timeout); err == nil {
			cfg.Timeout = d
		} else {
			slog.Warn("config: invalid timeout in .sqltrace.yml, keeping default", "value", f.Timeout, "err", err)
		}
	}
	if f.Model != "" {
		cfg.ModelName = f.Model
	}
	return nil
}

// applyEnvOverrides reads SQLTRACE_DEBUG, SQLTRACE_LOG_LEVEL,
// SQLTRACE_MAX_STEPS, SQLTRACE_TIMEOUT, and SQLTRACE_MODEL. Any value that fails to
// parse falls back to the already-resolved default rather than
// aborting startup, with a warning logged.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SQLTRACE_DEBUG"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Debug = b
			if b {
				cfg.LogLevel = slog.LevelDebug
			}
		} else {
			slog.Warn("config: invalid SQLTRACE_DEBUG, ignoring", "value", v)
		}
	}
	if v := os.Getenv("SQLTRACE_LOG_LEVEL"); v != "" {
		var lvl slog.Level
		if err := lvl.UnmarshalText([]byte(v)); err == nil {
			cfg.LogLevel = lvl
		} else {
			slog.Warn("config: invalid SQLTRACE_LOG_LEVEL, keeping default", "value", v)
		}
	}
	if v := os.Getenv("SQLTRACE_MAX_STEPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxSteps = n
		} else {
			slog.Warn("config: invalid SQLTRACE_MAX_STEPS, keeping default", "value", v)
		}
	}
	if v := os.Getenv("SQLTRACE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Timeout = d
		} else {
			slog.Warn("config: invalid SQLTRACE_TIMEOUT, keeping default", "value", v)
		}
	}
	if v := os.Getenv("SQLTRACE_MODEL"); v != "" {
		cfg.ModelName = v
	}
}
