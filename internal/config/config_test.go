// Dynolink - Dyno Telemetry Acquisition and Live Analysis
// Copyright 2026 Dynolink Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dynolink/dynolink

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dynolink/dynolink/internal/analysis"
)

// clearConfigEnv isolates tests from the ambient environment.
func clearConfigEnv(t *testing.T) {
	t.Helper()
	t.Setenv(ConfigPathEnvVar, filepath.Join(t.TempDir(), "absent.yaml"))
}

func TestLoadDefaults(t *testing.T) {
	clearConfigEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8730, cfg.Server.Port)
	assert.Equal(t, "239.255.60.60:18864", cfg.Discovery.Group)
	assert.Equal(t, 10000, cfg.Queue.Capacity)
	assert.Equal(t, 50*time.Millisecond, cfg.Analysis.WindowSize)
	assert.Equal(t, uint32(5), cfg.Reliability.Breaker.FailureThreshold)
	assert.Equal(t, 3, cfg.Reliability.Retry.MaxAttempts)
	assert.False(t, cfg.Serial.Enabled)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadConfigFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  port: 9000
queue:
  capacity: 2500
analysis:
  mode: mean
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	t.Setenv(ConfigPathEnvVar, path)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 2500, cfg.Queue.Capacity)
	assert.Equal(t, analysis.ModeMean, cfg.Analysis.Mode)
	// Untouched sections keep their defaults.
	assert.Equal(t, 100, cfg.Queue.BatchSize)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("queue:\n  capacity: 2500\n"), 0o644))
	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("QUEUE_CAPACITY", "500")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("BREAKER_COOLDOWN", "90s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 500, cfg.Queue.Capacity)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 90*time.Second, cfg.Reliability.Breaker.Cooldown)
}

func TestCORSOriginsFromCommaSeparatedEnv(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("CORS_ORIGINS", "http://localhost:5173, http://dyno.local")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"http://localhost:5173", "http://dyno.local"}, cfg.Server.CORSOrigins)
}

func TestUnmappedEnvIsIgnored(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("QUEUE_SOMETHING_ELSE", "boom")

	_, err := Load()
	assert.NoError(t, err)
}

func TestValidationRejectsBadPort(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("HTTP_PORT", "99999")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation")
}

func TestValidationRejectsBadAnalysisMode(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("ANALYSIS_MODE", "median")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "analysis.mode")
}

func TestValidationRequiresPathForPersistence(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("QUEUE_PERSIST", "true")
	t.Setenv("QUEUE_PATH", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queue.persist")
}
