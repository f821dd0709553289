package episode

import (
	"go.uber.org/zap"

	"github.com/isdmx/sheetbox/config"
	"github.com/isdmx/sheetbox/sandbox"
)

// OptionsFromConfig maps application configuration onto orchestrator options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		RunsDir: cfg.Paths.RunsDir,
		Limits:  sandbox.LimitsFromConfig(cfg),
		Mount:   sandbox.MountMode(cfg.Sandbox.MountMode),
	}
}

// NewSandboxFactory returns a factory of managers configured from cfg that
// share engine.
func NewSandboxFactory(logger *zap.Logger, engine sandbox.Engine, cfg *config.Config) SandboxFactory {
	opts := sandbox.OptionsFromConfig(cfg)
	return func() *sandbox.Manager {
		return sandbox.NewManager(logger, engine, opts)
	}
}
