// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"SQLTRACE_DEBUG",
		"SQLTRACE_LOG_LEVEL",
		"SQLTRACE_MAX_STEPS",
		"SQLTRACE_TIMEOUT",
		"SQLTRACE_MODEL",
	} {
		os.Unsetenv(k)
	}
}

func TestLoadDefaultsWithNoFileOrEnv(t *testing.T) {
	clearEnv(t)
	root := t.TempDir()

	cfg, err := Load(root)
	require.NoError(t, err)
	assert.Equal(t, defaultMaxSteps, cfg.MaxSteps)
	assert.Equal(t, defaultTimeout, cfg.Timeout)
	assert.Equal(t, defaultModel, cfg.ModelName)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.False(t, cfg.Debug)
}

func TestLoadAppliesFileOverrides(t *testing.T) {
	clearEnv(t)
	root := t.TempDir()
	yml := "max_steps: 30\ntimeout: 45s\nmodel: claude-opus-4\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, ".sqltrace.yml"), []byte(yml), 0o644))

	cfg, err := Load(root)
	require.NoError(t, err)
	assert.Equal(t, 30, cfg.MaxSteps)
	assert.Equal(t, 45*time.Second, cfg.Timeout)
	assert.Equal(t, "claude-opus-4", cfg.ModelName)
}

func TestLoadEnvOverridesWinOverFile(t *testing.T) {
	clearEnv(t)
	root := t.TempDir()
	yml := "max_steps: 30\ntimeout: 45s\nmodel: claude-opus-4\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, ".sqltrace.yml"), []byte(yml), 0o644))

	os.Setenv("SQLTRACE_MAX_STEPS", "7")
	os.Setenv("SQLTRACE_MODEL", "claude-haiku-4")
	defer clearEnv(t)

	cfg, err := Load(root)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.MaxSteps)
	assert.Equal(t, "claude-haiku-4", cfg.ModelName)
	// Timeout wasn't overridden by env, so the file's value survives.
	assert.Equal(t, 45*time.Second, cfg.Timeout)
}

func TestLoadMalformedFileFieldsFallBackToDefault(t *testing.T) {
	clearEnv(t)
	root := t.TempDir()
	yml := "timeout: not-a-duration\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, ".sqltrace.yml"), []byte(yml), 0o644))

	cfg, err := Load(root)
	require.NoError(t, err)
	assert.Equal(t, defaultTimeout, cfg.Timeout)
}

func TestLoadMalformedEnvFieldsFallBackToDefault(t *testing.T) {
	clearEnv(t)
	root := t.TempDir()

	os.Setenv("SQLTRACE_MAX_STEPS", "not-a-number")
	os.Setenv("SQLTRACE_TIMEOUT", "nonsense")
	os.Setenv("SQLTRACE_DEBUG", "nonsense")
	os.Setenv("SQLTRACE_LOG_LEVEL", "nonsense")
	defer clearEnv(t)

	cfg, err := Load(root)
	require.NoError(t, err)
	assert.Equal(t, defaultMaxSteps, cfg.MaxSteps)
	assert.Equal(t, defaultTimeout, cfg.Timeout)
	assert.False(t, cfg.Debug)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
}

func TestLoadDebugEnvRaisesLogLevel(t *testing.T) {
	clearEnv(t)
	root := t.TempDir()
	os.Setenv("SQLTRACE_DEBUG", "true")
	defer clearEnv(t)

	cfg, err := Load(root)
	require.NoError(t, err)
	assert.True(t, cfg.Debug)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
}

func TestLoadMalformedYAMLReturnsConfigurationError(t *testing.T) {
	clearEnv(t)
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, ".sqltrace.yml"), []byte("max_steps: [this is not valid: yaml"), 0o644))

	_, err := Load(root)
	require.Error(t, err)
	var cfgErr *ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestLoadNoProjectDirectoryStillSucceeds(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist"))
	require.NoError(t, err)
	assert.Equal(t, defaultMaxSteps, cfg.MaxSteps)
}
