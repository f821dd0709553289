package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/isdmx/sheetbox/config"
)

// Option adjusts the zap configuration before the logger is built.
type Option func(*zap.Config)

// WithOutput replaces the output paths. Loggers write to stderr by default
// since the MCP stdio transport and the sandbox agent own stdout.
func WithOutput(paths ...string) Option {
	return func(cfg *zap.Config) {
		cfg.OutputPaths = paths
	}
}

// WithFields adds fields to every entry.
func WithFields(fields map[string]any) Option {
	return func(cfg *zap.Config) {
		if cfg.InitialFields == nil {
			cfg.InitialFields = map[string]any{}
		}
		for k, v := range fields {
			cfg.InitialFields[k] = v
		}
	}
}

// WithoutStacktraces disables stack traces on error entries.
func WithoutStacktraces() Option {
	return func(cfg *zap.Config) {
		cfg.DisableStacktrace = true
	}
}

// NewFromConfig builds the service logger described by cfg.
func NewFromConfig(cfg *config.Config) (*zap.Logger, error) {
	return New(cfg.Logging.Mode, cfg.Logging.Level, WithFields(map[string]any{
		"service": "sheetbox",
		"backend": cfg.Sandbox.Backend,
	}))
}

// New creates a new logger instance based on configuration
func New(mode, level string, opts ...Option) (*zap.Logger, error) {
	var cfg zap.Config

	switch mode {
	case "development":
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	case "production":
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "timestamp"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	default:
		return nil, fmt.Errorf("invalid logging mode: %s, must be 'production' or 'development'", mode)
	}

	logLevel, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid logging level: %s, must be one of 'debug', 'info', 'warn', 'error', 'dpanic', 'panic', 'fatal'", level)
	}
	cfg.Level = zap.NewAtomicLevelAt(logLevel)
	cfg.OutputPaths = []string{"stderr"}

	for _, opt := range opts {
		opt(&cfg)
	}

	return cfg.Build()
}

// Episode returns l annotated with the identity of an episode. Empty values
// are left out.
func Episode(l *zap.Logger, taskID, runDir string) *zap.Logger {
	fields := make([]zap.Field, 0, 2)
	if taskID != "" {
		fields = append(fields, zap.String("task_id", taskID))
	}
	if runDir != "" {
		fields = append(fields, zap.String("run_dir", runDir))
	}
	return l.With(fields...)
}
