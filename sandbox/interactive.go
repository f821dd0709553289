package sandbox

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// SessionStatus reports which parts of an interactive session came up.
// Readiness is best effort; callers must tolerate false values.
type SessionStatus struct {
	Display         string `json:"display"`
	DisplayReady    bool   `json:"display_ready"`
	WindowManager   bool   `json:"window_manager_ready"`
	Application     bool   `json:"application_ready"`
	ApplicationFile string `json:"application_file,omitempty"`
}

// Ready reports whether every launched component answered its probe.
func (s SessionStatus) Ready() bool {
	return s.DisplayReady && s.WindowManager && (s.ApplicationFile == "" || s.Application)
}

type launchStep struct {
	name   string
	cmd    []string
	probe  []string
	result *bool
}

// BootstrapInteractiveSession starts a virtual display, a window manager and,
// when file is set, a spreadsheet application with that file open. Each step
// is followed by polling a readiness probe until the configured timeout; a
// component that never reports ready is logged and reflected in the status.
// Only a missing sandbox or a failure to launch the display is an error.
func (m *Manager) BootstrapInteractiveSession(ctx context.Context, file string) (SessionStatus, error) {
	h, err := m.current()
	if err != nil {
		return SessionStatus{}, err
	}

	display := m.opts.Display
	status := SessionStatus{Display: display, ApplicationFile: file}
	env := []string{"DISPLAY=" + display}
	logger := m.logger.With(zap.String("container_id", h.id), zap.String("display", display))

	if _, err := m.exec(ctx, ExecSpec{
		Cmd:    []string{"Xvfb", display, "-screen", "0", "1920x1080x24", "-nolisten", "tcp"},
		Detach: true,
	}); err != nil {
		return status, fmt.Errorf("failed to launch virtual display: %w", err)
	}
	status.DisplayReady = m.waitReady(ctx, []string{"xdpyinfo", "-display", display}, env)
	if !status.DisplayReady {
		logger.Warn("virtual display did not become ready", zap.Duration("timeout", m.opts.ReadyTimeout))
	}

	steps := []launchStep{{
		name:   "window manager",
		cmd:    []string{"openbox"},
		probe:  []string{"pgrep", "-x", "openbox"},
		result: &status.WindowManager,
	}}
	if file != "" {
		steps = append(steps, launchStep{
			name:   "spreadsheet application",
			cmd:    []string{"soffice", "--calc", "--norestore", "--nologo", m.containerPath(h, file)},
			probe:  []string{"pgrep", "-f", "soffice"},
			result: &status.Application,
		})
	}

	for _, step := range steps {
		if _, err := m.exec(ctx, ExecSpec{Cmd: step.cmd, Env: env, Detach: true}); err != nil {
			logger.Warn("failed to launch "+step.name, zap.Error(err))
			continue
		}
		*step.result = m.waitReady(ctx, step.probe, env)
		if !*step.result {
			logger.Warn(step.name+" did not become ready", zap.Duration("timeout", m.opts.ReadyTimeout))
		}
	}

	logger.Info("interactive session bootstrapped", zap.Bool("ready", status.Ready()))
	return status, nil
}

// waitReady polls probe until it exits zero or the ready timeout passes.
func (m *Manager) waitReady(ctx context.Context, probe, env []string) bool {
	ticker := time.NewTicker(m.opts.PollInterval)
	defer ticker.Stop()

	timeoutCtx, cancel := context.WithTimeout(ctx, m.opts.ReadyTimeout)
	defer cancel()

	for {
		select {
		case <-timeoutCtx.Done():
			return false
		case <-ticker.C:
			res, err := m.exec(timeoutCtx, ExecSpec{Cmd: probe, Env: env})
			if err == nil && res.ExitCode == 0 {
				return true
			}
		}
	}
}
