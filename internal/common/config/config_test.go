package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeoutDuration())
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownGraceDuration())
	assert.Equal(t, "~/.agentd/workspaces", cfg.Workspace.BasePath)
	assert.Equal(t, 24*time.Hour, cfg.Workspace.MaxAge())
	assert.Equal(t, "claude", cfg.Agent.BinaryPath)
	assert.True(t, cfg.Tools.Enabled)
	assert.Equal(t, 9090, cfg.Tools.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("AGENTD_SERVER_PORT", "9000")
	t.Setenv("AGENTD_WORKSPACE_MAX_AGE_HOURS", "48")
	t.Setenv("AGENTD_AGENT_BINARY_PATH", "/opt/claude/bin/claude")
	t.Setenv("AGENTD_LOGGING_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 48*time.Hour, cfg.Workspace.MaxAge())
	assert.Equal(t, "/opt/claude/bin/claude", cfg.Agent.BinaryPath)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestConfigFile(t *testing.T) {
	dir := t.TempDir()
	content := `
server:
  port: 8123
workspace:
  basePath: /tmp/agentd-ws
agent:
  model: opus
tools:
  enabled: false
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o644))

	cfg, err := LoadWithPath(dir)
	require.NoError(t, err)

	assert.Equal(t, 8123, cfg.Server.Port)
	assert.Equal(t, "/tmp/agentd-ws", cfg.Workspace.BasePath)
	assert.Equal(t, "opus", cfg.Agent.Model)
	assert.False(t, cfg.Tools.Enabled)
	// Untouched sections keep their defaults.
	assert.Equal(t, "claude", cfg.Agent.BinaryPath)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"empty base path", func(c *Config) { c.Workspace.BasePath = "" }},
		{"zero max age", func(c *Config) { c.Workspace.MaxAgeHours = 0 }},
		{"empty binary", func(c *Config) { c.Agent.BinaryPath = "" }},
		{"bad tools port", func(c *Config) { c.Tools.Port = -1 }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load()
			require.NoError(t, err)
			tt.mutate(cfg)
			assert.Error(t, validate(cfg))
		})
	}
}
