package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Sandbox SandboxConfig `mapstructure:"sandbox"`
	Paths   PathsConfig   `mapstructure:"paths"`
	Grading GradingConfig `mapstructure:"grading"`
	GUI     GUIConfig     `mapstructure:"gui"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Transport string `mapstructure:"transport"`
	HTTPPort  int    `mapstructure:"http_port"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Mode  string `mapstructure:"mode"`
	Level string `mapstructure:"level"`
}

// MetricsConfig holds the Prometheus listener configuration. An empty
// address disables the metrics server.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// SandboxConfig holds sandbox configuration
type SandboxConfig struct {
	Backend      string  `mapstructure:"backend"`
	Image        string  `mapstructure:"image"`
	BuildContext string  `mapstructure:"build_context"`
	Memory       string  `mapstructure:"memory"`
	CPUs         float64 `mapstructure:"cpus"`
	Network      string  `mapstructure:"network"`
	MountMode    string  `mapstructure:"mount_mode"`
	Workdir      string  `mapstructure:"workdir"`
	StopGraceSec int     `mapstructure:"stop_grace_sec"`
	AgentPath    string  `mapstructure:"agent_path"`
}

// PathsConfig holds on-disk locations for task definitions and episode runs
type PathsConfig struct {
	TasksDir string `mapstructure:"tasks_dir"`
	RunsDir  string `mapstructure:"runs_dir"`
}

// GradingConfig holds grading configuration
type GradingConfig struct {
	Tolerance float64 `mapstructure:"tolerance"`
}

// GUIConfig holds settings for interactive (computer_use) sessions
type GUIConfig struct {
	Display         string `mapstructure:"display"`
	ReadyTimeoutSec int    `mapstructure:"ready_timeout_sec"`
}

// New loads and validates the application configuration
func New() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("SHEETBOX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// If config file not found, continue with defaults
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.transport", "stdio")
	v.SetDefault("server.http_port", 8080)

	v.SetDefault("logging.mode", "production")
	v.SetDefault("logging.level", "info")

	v.SetDefault("metrics.addr", "")

	v.SetDefault("sandbox.backend", "docker")
	v.SetDefault("sandbox.image", "sheetbox-sandbox:latest")
	v.SetDefault("sandbox.build_context", "./sandbox-image")
	v.SetDefault("sandbox.memory", "2g")
	v.SetDefault("sandbox.cpus", 1.0)
	v.SetDefault("sandbox.network", "none")
	v.SetDefault("sandbox.mount_mode", "bind")
	v.SetDefault("sandbox.workdir", "/workspace")
	v.SetDefault("sandbox.stop_grace_sec", 10)
	v.SetDefault("sandbox.agent_path", "/usr/local/bin/sheetbox-agent")

	v.SetDefault("paths.tasks_dir", "./tasks")
	v.SetDefault("paths.runs_dir", "./runs")

	v.SetDefault("grading.tolerance", 0.01)

	v.SetDefault("gui.display", ":99")
	v.SetDefault("gui.ready_timeout_sec", 10)
}

// validate ensures the configuration is valid
func (c *Config) validate() error {
	if c.Server.Transport != "stdio" && c.Server.Transport != "http" {
		return fmt.Errorf("invalid server.transport: %s, must be 'stdio' or 'http'", c.Server.Transport)
	}

	if c.Logging.Mode != "production" && c.Logging.Mode != "development" {
		return fmt.Errorf("invalid logging.mode: %s, must be 'production' or 'development'", c.Logging.Mode)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error", "dpanic", "panic", "fatal":
	default:
		return fmt.Errorf("invalid logging.level: %s", c.Logging.Level)
	}

	supportedBackends := map[string]bool{
		"docker":     true,
		"docker-cli": true,
		"podman":     true,
	}
	if !supportedBackends[c.Sandbox.Backend] {
		return fmt.Errorf("unsupported sandbox.backend: %s", c.Sandbox.Backend)
	}

	if c.Sandbox.Image == "" {
		return fmt.Errorf("sandbox.image must be set")
	}

	if _, err := c.MemoryBytes(); err != nil {
		return fmt.Errorf("invalid sandbox.memory: %w", err)
	}

	if c.Sandbox.CPUs <= 0 {
		return fmt.Errorf("sandbox.cpus must be positive, got: %v", c.Sandbox.CPUs)
	}

	if c.Sandbox.Network != "none" && c.Sandbox.Network != "bridge" {
		return fmt.Errorf("invalid sandbox.network: %s, must be 'none' or 'bridge'", c.Sandbox.Network)
	}

	if c.Sandbox.MountMode != "bind" && c.Sandbox.MountMode != "snapshot" {
		return fmt.Errorf("invalid sandbox.mount_mode: %s, must be 'bind' or 'snapshot'", c.Sandbox.MountMode)
	}

	if c.Sandbox.StopGraceSec < 0 {
		return fmt.Errorf("sandbox.stop_grace_sec must not be negative, got: %d", c.Sandbox.StopGraceSec)
	}

	if c.Paths.TasksDir == "" || c.Paths.RunsDir == "" {
		return fmt.Errorf("paths.tasks_dir and paths.runs_dir must be set")
	}

	if c.Grading.Tolerance <= 0 {
		return fmt.Errorf("grading.tolerance must be positive, got: %v", c.Grading.Tolerance)
	}

	if c.GUI.ReadyTimeoutSec <= 0 {
		return fmt.Errorf("gui.ready_timeout_sec must be positive, got: %d", c.GUI.ReadyTimeoutSec)
	}

	return nil
}

// MemoryBytes parses sandbox.memory ("512m", "2g") into bytes
func (c *Config) MemoryBytes() (int64, error) {
	return units.RAMInBytes(c.Sandbox.Memory)
}

// GetStopGrace returns the graceful stop period as a duration
func (c *Config) GetStopGrace() time.Duration {
	return time.Duration(c.Sandbox.StopGraceSec) * time.Second
}

// GetReadyTimeout returns the per-step GUI readiness timeout
func (c *Config) GetReadyTimeout() time.Duration {
	return time.Duration(c.GUI.ReadyTimeoutSec) * time.Second
}
