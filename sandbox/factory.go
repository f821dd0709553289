package sandbox

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/isdmx/sheetbox/config"
)

// NewEngine creates the container engine selected by backend.
func NewEngine(logger *zap.Logger, backend string) (Engine, error) {
	switch backend {
	case "docker":
		engine, err := NewDockerEngine(logger)
		if err != nil {
			return nil, err
		}
		return engine, nil
	case "docker-cli":
		return NewCLIEngine(logger, "docker"), nil
	case "podman":
		return NewCLIEngine(logger, "podman"), nil
	default:
		return nil, fmt.Errorf("unsupported backend: %s", backend)
	}
}

// OptionsFromConfig maps application configuration onto Manager options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Image:        cfg.Sandbox.Image,
		Workdir:      cfg.Sandbox.Workdir,
		AgentPath:    cfg.Sandbox.AgentPath,
		StopGrace:    cfg.GetStopGrace(),
		Display:      cfg.GUI.Display,
		ReadyTimeout: cfg.GetReadyTimeout(),
	}
}

// LimitsFromConfig returns the configured resource ceilings.
func LimitsFromConfig(cfg *config.Config) Limits {
	return Limits{
		Memory:  cfg.Sandbox.Memory,
		CPUs:    cfg.Sandbox.CPUs,
		Network: cfg.Sandbox.Network,
	}
}
