package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/isdmx/sheetbox/config"
)

func TestLoggerNew(t *testing.T) {
	t.Run("ValidDevelopmentMode", func(t *testing.T) {
		logger, err := New("development", "debug")
		require.NoError(t, err)
		assert.NotNil(t, logger)
		_ = logger.Sync()
	})

	t.Run("InvalidMode", func(t *testing.T) {
		_, err := New("invalid_mode", "info")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "invalid logging mode")
	})

	t.Run("InvalidLevel", func(t *testing.T) {
		_, err := New("production", "invalid_level")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "invalid logging level")
	})

	t.Run("ValidLevels", func(t *testing.T) {
		levels := []string{"debug", "info", "warn", "error", "dpanic", "panic", "fatal"}
		for _, level := range levels {
			t.Run(level, func(t *testing.T) {
				logger, err := New("production", level)
				require.NoError(t, err)
				assert.True(t, logger.Core().Enabled(zapcore.FatalLevel))
			})
		}
	})
}

func readEntries(t *testing.T, path string) []map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var entries []map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var e map[string]any
		require.NoError(t, dec.Decode(&e))
		entries = append(entries, e)
	}
	return entries
}

func TestLoggerOptions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.json")

	logger, err := New("production", "info",
		WithOutput(path),
		WithFields(map[string]any{"service": "test"}),
		WithoutStacktraces(),
	)
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Error("failed", zap.String("op", "read_cell"))
	require.NoError(t, logger.Sync())

	entries := readEntries(t, path)
	require.Len(t, entries, 1)
	assert.Equal(t, "failed", entries[0]["msg"])
	assert.Equal(t, "test", entries[0]["service"])
	assert.Equal(t, "read_cell", entries[0]["op"])
	assert.Contains(t, entries[0], "timestamp")
	assert.NotContains(t, entries[0], "stacktrace")
}

func TestLoggerNewFromConfig(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		cfg := &config.Config{
			Logging: config.LoggingConfig{
				Mode:  "development",
				Level: "debug",
			},
			Sandbox: config.SandboxConfig{Backend: "podman"},
		}
		logger, err := NewFromConfig(cfg)
		require.NoError(t, err)
		assert.NotNil(t, logger)
		_ = logger.Sync()
	})

	t.Run("InvalidConfig", func(t *testing.T) {
		cfg := &config.Config{
			Logging: config.LoggingConfig{
				Mode:  "invalid_mode",
				Level: "info",
			},
		}
		_, err := NewFromConfig(cfg)
		assert.Error(t, err)
	})
}

func TestEpisode(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)

	Episode(zap.New(core), "sum", "runs/sum/run_001").Info("started")
	Episode(zap.New(core), "sum", "").Info("resolved")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, map[string]any{"task_id": "sum", "run_dir": "runs/sum/run_001"}, entries[0].ContextMap())
	assert.Equal(t, map[string]any{"task_id": "sum"}, entries[1].ContextMap())
}
