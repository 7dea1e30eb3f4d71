// Package config provides configuration management for agentd.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for agentd.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Workspace WorkspaceConfig `mapstructure:"workspace"`
	Agent     AgentConfig     `mapstructure:"agent"`
	Tools     ToolsConfig     `mapstructure:"tools"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	ReadTimeout int    `mapstructure:"readTimeout"` // in seconds

	// ShutdownGrace is how long in-flight requests get to finish on shutdown, in seconds.
	ShutdownGrace int `mapstructure:"shutdownGrace"`
}

// WorkspaceConfig holds workspace directory configuration.
type WorkspaceConfig struct {
	// BasePath is the base directory for per-query and per-session workspaces.
	// Supports ~ expansion. Default: ~/.agentd/workspaces
	BasePath string `mapstructure:"basePath"`

	// MaxAgeHours is the age after which an orphaned workspace directory is
	// removed during the startup sweep. Default: 24
	MaxAgeHours int `mapstructure:"maxAgeHours"`
}

// AgentConfig holds agent CLI configuration.
type AgentConfig struct {
	// BinaryPath is the Claude Code CLI binary to spawn (default: claude).
	BinaryPath string `mapstructure:"binaryPath"`

	// Model overrides the CLI's default model when set.
	Model string `mapstructure:"model"`

	// ConnectTimeout bounds the CLI handshake, in seconds.
	ConnectTimeout int `mapstructure:"connectTimeout"`
}

// ToolsConfig holds the embedded MCP tools server configuration.
type ToolsConfig struct {
	// Enabled controls whether the embedded MCP tools server is started.
	Enabled bool `mapstructure:"enabled"`

	// Port is the port the MCP tools server listens on.
	Port int `mapstructure:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// ShutdownGraceDuration returns the shutdown grace as a time.Duration.
func (s *ServerConfig) ShutdownGraceDuration() time.Duration {
	return time.Duration(s.ShutdownGrace) * time.Second
}

// MaxAge returns the orphan threshold as a time.Duration.
func (w *WorkspaceConfig) MaxAge() time.Duration {
	return time.Duration(w.MaxAgeHours) * time.Hour
}

// ConnectTimeoutDuration returns the connect timeout as a time.Duration.
func (a *AgentConfig) ConnectTimeoutDuration() time.Duration {
	return time.Duration(a.ConnectTimeout) * time.Second
}

// detectDefaultLogFormat returns the appropriate log format based on environment.
// Returns "json" if running in Kubernetes or other production environments.
// Returns "text" for terminal/development use (human-readable console format).
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("AGENTD_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.shutdownGrace", 10)

	// Workspace defaults
	v.SetDefault("workspace.basePath", "~/.agentd/workspaces")
	v.SetDefault("workspace.maxAgeHours", 24)

	// Agent defaults
	v.SetDefault("agent.binaryPath", "claude")
	v.SetDefault("agent.model", "")
	v.SetDefault("agent.connectTimeout", 30)

	// Tools defaults
	v.SetDefault("tools.enabled", true)
	v.SetDefault("tools.port", 9090)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix AGENTD_ with snake_case naming.
// Config file should be named config.yaml and placed in the current directory or /etc/agentd/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults first
	setDefaults(v)

	// Configure environment variables
	v.SetEnvPrefix("AGENTD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings for snake_case env vars (camelCase config keys)
	// AutomaticEnv does not handle camelCase to SNAKE_CASE conversion,
	// so we explicitly bind keys where env var naming differs from config key naming.
	_ = v.BindEnv("server.port", "PORT", "AGENTD_SERVER_PORT")
	_ = v.BindEnv("workspace.basePath", "AGENTD_WORKSPACE_BASE_PATH")
	_ = v.BindEnv("workspace.maxAgeHours", "AGENTD_WORKSPACE_MAX_AGE_HOURS")
	_ = v.BindEnv("agent.binaryPath", "AGENTD_AGENT_BINARY_PATH")
	_ = v.BindEnv("agent.connectTimeout", "AGENTD_AGENT_CONNECT_TIMEOUT")
	_ = v.BindEnv("tools.port", "AGENTD_TOOLS_PORT")

	// Configure config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/agentd/")

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required configuration fields are set.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	if cfg.Workspace.BasePath == "" {
		errs = append(errs, "workspace.basePath is required")
	}
	if cfg.Workspace.MaxAgeHours <= 0 {
		errs = append(errs, "workspace.maxAgeHours must be positive")
	}

	if cfg.Agent.BinaryPath == "" {
		errs = append(errs, "agent.binaryPath is required")
	}

	if cfg.Tools.Enabled && (cfg.Tools.Port <= 0 || cfg.Tools.Port > 65535) {
		errs = append(errs, "tools.port must be between 1 and 65535")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}
