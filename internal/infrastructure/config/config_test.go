package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "3000", cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)

	assert.Equal(t, "fs", cfg.Storage.Backend)
	assert.Equal(t, "/var/lib/fiddle", cfg.Storage.Root)

	assert.Equal(t, "containerd", cfg.Sandbox.Runtime)
	assert.Equal(t, "fiddle", cfg.Sandbox.Namespace)
	assert.Equal(t, 30*time.Second, cfg.Sandbox.StartupTimeout)

	assert.Equal(t, time.Hour, cfg.Verify.WaitLimit)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Logging.Development)

	assert.Equal(t, 100, cfg.RateLimit.RequestsPerSecond)
	assert.True(t, cfg.RateLimit.Enabled)
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	envVars := map[string]string{
		"PORT":               "9000",
		"STORAGE_BACKEND":    "redis",
		"REDIS_URL":          "redis://localhost:6379/0",
		"SANDBOX_RUNTIME":    "process",
		"SANDBOX_IMAGE":      "registry.local/runner:v2",
		"VERIFY_WAIT_LIMIT":  "30m",
		"SHARE_BASE_URL":     "https://fiddle.example.com",
		"LOG_LEVEL":          "debug",
		"RATE_LIMIT_ENABLED": "false",
	}

	for key, value := range envVars {
		err := os.Setenv(key, value)
		require.NoError(t, err)
		defer os.Unsetenv(key)
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "redis", cfg.Storage.Backend)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Storage.RedisURL)
	assert.Equal(t, "process", cfg.Sandbox.Runtime)
	assert.Equal(t, "registry.local/runner:v2", cfg.Sandbox.Image)
	assert.Equal(t, 30*time.Minute, cfg.Verify.WaitLimit)
	assert.Equal(t, "https://fiddle.example.com", cfg.Share.BaseURL)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.False(t, cfg.RateLimit.Enabled)
}

func TestLoadWithPartialEnvironmentVariables(t *testing.T) {
	err := os.Setenv("PORT", "8080")
	require.NoError(t, err)
	defer os.Unsetenv("PORT")

	cfg, err := Load()
	require.NoError(t, err)

	// Overridden value
	assert.Equal(t, "8080", cfg.Server.Port)

	// Defaults still apply
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "fs", cfg.Storage.Backend)
	assert.Equal(t, time.Hour, cfg.Verify.WaitLimit)
}

func TestLoadWithConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte("server:\n  port: \"4000\"\nsandbox:\n  runtime: process\n")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	require.NoError(t, os.Setenv("CONFIG_FILE", path))
	defer os.Unsetenv("CONFIG_FILE")

	cfg, err := Load()
	require.NoError(t, err)

	// File keys win over environment defaults
	assert.Equal(t, "4000", cfg.Server.Port)
	assert.Equal(t, "process", cfg.Sandbox.Runtime)

	// Untouched keys keep their defaults
	assert.Equal(t, "fs", cfg.Storage.Backend)
}

func TestLoadOrDefault(t *testing.T) {
	cfg := LoadOrDefault()

	assert.NotNil(t, cfg)
	assert.Equal(t, "info", cfg.Logging.Level)
}
