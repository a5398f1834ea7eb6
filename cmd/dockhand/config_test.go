package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Config Loading Tests
// =============================================================================

func TestLoadConfig_DefaultValues(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, 22, cfg.Remote.Port)
	assert.Equal(t, 10*time.Second, cfg.Remote.ConnectTimeout)
	assert.Equal(t, 10*time.Minute, cfg.Remote.CommandTimeout)
	assert.Equal(t, "/srv/dockhand", cfg.Remote.StagingRoot)
	assert.Equal(t, "/etc/nginx/sites-available", cfg.Proxy.AvailableDir)
	assert.Equal(t, "/etc/nginx/sites-enabled", cfg.Proxy.EnabledDir)
	assert.Equal(t, 80, cfg.Proxy.ListenPort)
	assert.Equal(t, 15*time.Second, cfg.Health.ProbeTimeout)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestLoadConfig_FromFile(t *testing.T) {
	configContent := `
remote:
  port: 2222
  connect_timeout: 5s
  staging_root: "/opt/apps"

proxy:
  listen_port: 8080

log:
  level: "debug"
  format: "json"
`
	tmpFile := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(tmpFile, []byte(configContent), 0644))

	cfg, err := LoadConfig(tmpFile)
	require.NoError(t, err)

	assert.Equal(t, 2222, cfg.Remote.Port)
	assert.Equal(t, 5*time.Second, cfg.Remote.ConnectTimeout)
	assert.Equal(t, "/opt/apps", cfg.Remote.StagingRoot)
	assert.Equal(t, 8080, cfg.Proxy.ListenPort)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadConfig_EnvironmentOverride(t *testing.T) {
	t.Setenv("DOCKHAND_REMOTE_STAGING_ROOT", "/data/deploys")
	t.Setenv("DOCKHAND_LOG_LEVEL", "warn")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "/data/deploys", cfg.Remote.StagingRoot)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadConfig_InvalidFile(t *testing.T) {
	tmpFile := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(tmpFile, []byte("remote: [not: valid"), 0644))

	_, err := LoadConfig(tmpFile)
	assert.Error(t, err)
}

// =============================================================================
// Logger Setup Tests
// =============================================================================

func TestSetupLogger_WritesLogFile(t *testing.T) {
	dir := t.TempDir()
	cfg := &Config{
		Log: LogConfig{Level: "info", Format: "text", Dir: dir},
	}

	logger, closer, err := SetupLogger(cfg)
	require.NoError(t, err)
	defer closer.Close()

	logger.Info("pipeline started", "repo", "app")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	content, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	assert.Contains(t, string(content), "pipeline started")
}
