package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Transport: "http",
			HTTPPort:  8080,
		},
		Logging: LoggingConfig{
			Mode:  "production",
			Level: "info",
		},
		Sandbox: SandboxConfig{
			Backend:      "docker",
			Image:        "sheetbox-sandbox:latest",
			Memory:       "2g",
			CPUs:         1,
			Network:      "none",
			MountMode:    "bind",
			Workdir:      "/workspace",
			StopGraceSec: 10,
		},
		Paths: PathsConfig{
			TasksDir: "./tasks",
			RunsDir:  "./runs",
		},
		Grading: GradingConfig{Tolerance: 0.01},
		GUI:     GUIConfig{Display: ":99", ReadyTimeoutSec: 10},
	}
}

func TestConfigValidation(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		require.NoError(t, validConfig().validate())
	})

	tests := []struct {
		name    string
		mutate  func(*Config)
		message string
	}{
		{"InvalidServerTransport", func(c *Config) { c.Server.Transport = "invalid" }, "invalid server.transport"},
		{"InvalidLoggingMode", func(c *Config) { c.Logging.Mode = "invalid_mode" }, "invalid logging.mode"},
		{"InvalidLogLevel", func(c *Config) { c.Logging.Level = "invalid_level" }, "invalid logging.level"},
		{"UnsupportedBackend", func(c *Config) { c.Sandbox.Backend = "kubernetes" }, "unsupported sandbox.backend"},
		{"EmptyImage", func(c *Config) { c.Sandbox.Image = "" }, "sandbox.image must be set"},
		{"InvalidMemory", func(c *Config) { c.Sandbox.Memory = "lots" }, "invalid sandbox.memory"},
		{"InvalidCPUs", func(c *Config) { c.Sandbox.CPUs = 0 }, "sandbox.cpus must be positive"},
		{"InvalidNetwork", func(c *Config) { c.Sandbox.Network = "host" }, "invalid sandbox.network"},
		{"InvalidMountMode", func(c *Config) { c.Sandbox.MountMode = "overlay" }, "invalid sandbox.mount_mode"},
		{"NegativeGrace", func(c *Config) { c.Sandbox.StopGraceSec = -1 }, "sandbox.stop_grace_sec must not be negative"},
		{"MissingRunsDir", func(c *Config) { c.Paths.RunsDir = "" }, "paths.tasks_dir and paths.runs_dir must be set"},
		{"InvalidTolerance", func(c *Config) { c.Grading.Tolerance = 0 }, "grading.tolerance must be positive"},
		{"InvalidReadyTimeout", func(c *Config) { c.GUI.ReadyTimeoutSec = 0 }, "gui.ready_timeout_sec must be positive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}

func TestConfigHelpers(t *testing.T) {
	cfg := validConfig()

	mem, err := cfg.MemoryBytes()
	require.NoError(t, err)
	assert.Equal(t, int64(2*1024*1024*1024), mem)

	assert.Equal(t, 10*time.Second, cfg.GetStopGrace())
	assert.Equal(t, 10*time.Second, cfg.GetReadyTimeout())
}

func TestNewDefaults(t *testing.T) {
	t.Run("DefaultsWithoutConfigFile", func(t *testing.T) {
		cfg, err := New()
		require.NoError(t, err)
		assert.Equal(t, "stdio", cfg.Server.Transport)
		assert.Equal(t, "docker", cfg.Sandbox.Backend)
		assert.Equal(t, "none", cfg.Sandbox.Network)
		assert.Equal(t, "bind", cfg.Sandbox.MountMode)
		assert.InDelta(t, 0.01, cfg.Grading.Tolerance, 1e-9)
	})

	t.Run("EnvironmentOverrides", func(t *testing.T) {
		t.Setenv("SHEETBOX_SANDBOX_MEMORY", "512m")
		t.Setenv("SHEETBOX_SANDBOX_MOUNT_MODE", "snapshot")

		cfg, err := New()
		require.NoError(t, err)
		assert.Equal(t, "512m", cfg.Sandbox.Memory)
		assert.Equal(t, "snapshot", cfg.Sandbox.MountMode)
	})

	t.Run("InvalidEnvironmentValue", func(t *testing.T) {
		t.Setenv("SHEETBOX_SERVER_TRANSPORT", "carrier-pigeon")

		_, err := New()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid server.transport")
	})
}
