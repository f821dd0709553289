package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/docker/go-units"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/isdmx/sheetbox/monitor"
	"github.com/isdmx/sheetbox/protocol"
)

// MountMode selects how the run directory reaches the sandbox.
type MountMode string

const (
	// MountBind live-mounts the run directory read/write.
	MountBind MountMode = "bind"
	// MountSnapshot copies the run directory into the container filesystem
	// at start; later host changes are not visible.
	MountSnapshot MountMode = "snapshot"
)

const (
	fingerprintLabel = "io.sheetbox.fingerprint"
	managedByLabel   = "io.sheetbox.managed-by"
	runDirLabel      = "io.sheetbox.run-dir"

	// Upper bound for the watchdog's kill and remove calls.
	killTimeout = 30 * time.Second
)

// Limits are the resource ceilings of a sandbox.
type Limits struct {
	// Memory in docker notation ("512m", "2g"); empty means unlimited.
	Memory  string
	CPUs    float64
	Network string
}

// StartOptions configures one sandbox start.
type StartOptions struct {
	RunDir string
	Limits Limits
	Mount  MountMode
	// Deadline arms the watchdog when non-zero.
	Deadline time.Duration
	Env      []string
}

// BuildSpec describes the sandbox image build definition.
type BuildSpec struct {
	ContextDir string
	Dockerfile string
	Tag        string
	Excludes   []string
}

// Descriptor identifies a running sandbox across process boundaries.
type Descriptor struct {
	ID        string    `json:"id"`
	MountPath string    `json:"mount_path"`
	Mode      MountMode `json:"mode,omitempty"`
}

// Options holds the settings shared by every sandbox a Manager starts.
type Options struct {
	Image     string
	Workdir   string
	AgentPath string
	StopGrace time.Duration
	Display   string
	// ReadyTimeout bounds each readiness probe of the interactive session.
	ReadyTimeout time.Duration
	// PollInterval is the readiness probe period.
	PollInterval time.Duration
}

type handle struct {
	id        string
	mountPath string
	mode      MountMode
	watchdog  *time.Timer
}

// Manager owns at most one sandbox. Operations other than the watchdog are
// expected to come from a single caller at a time.
type Manager struct {
	logger *zap.Logger
	engine Engine
	opts   Options

	mu       sync.Mutex
	handle   *handle
	timedOut bool
}

// NewManager creates a Manager driving engine.
func NewManager(logger *zap.Logger, engine Engine, opts Options) *Manager {
	if opts.Workdir == "" {
		opts.Workdir = "/workspace"
	}
	if opts.StopGrace <= 0 {
		opts.StopGrace = 10 * time.Second
	}
	if opts.Display == "" {
		opts.Display = ":99"
	}
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = 10 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	return &Manager{
		logger: logger.With(zap.String("engine", engine.Name())),
		engine: engine,
		opts:   opts,
	}
}

// Build builds the sandbox image unless an image with the same tag was
// already built from identical context contents.
func (m *Manager) Build(ctx context.Context, spec BuildSpec) error {
	if spec.Tag == "" {
		spec.Tag = m.opts.Image
	}
	if spec.Dockerfile == "" {
		spec.Dockerfile = "Dockerfile"
	}

	fi, err := os.Stat(spec.ContextDir)
	if err != nil || !fi.IsDir() {
		return fmt.Errorf("%w: build context %q is not a directory", ErrBuild, spec.ContextDir)
	}
	if _, err := os.Stat(filepath.Join(spec.ContextDir, spec.Dockerfile)); err != nil {
		return fmt.Errorf("%w: %s not found in %s", ErrBuild, spec.Dockerfile, spec.ContextDir)
	}

	fingerprint, err := fingerprintDir(spec.ContextDir, spec.Excludes)
	if err != nil {
		return fmt.Errorf("%w: failed to read build context: %v", ErrBuild, err)
	}

	logger := m.logger.With(zap.String("tag", spec.Tag))
	labels, err := m.engine.ImageLabels(ctx, spec.Tag)
	switch {
	case err == nil && labels[fingerprintLabel] == fingerprint:
		logger.Info("sandbox image up to date", zap.String("fingerprint", fingerprint))
		return nil
	case err != nil && !errors.Is(err, ErrImageNotFound):
		return fmt.Errorf("%w: %v", ErrBuild, err)
	}

	buildContext, err := dirArchive(spec.ContextDir, spec.Excludes)
	if err != nil {
		return fmt.Errorf("%w: failed to archive build context: %v", ErrBuild, err)
	}
	defer buildContext.Close()

	logger.Info("building sandbox image", zap.String("fingerprint", fingerprint))
	start := time.Now()
	err = m.engine.BuildImage(ctx, buildContext, BuildRequest{
		Tag:        spec.Tag,
		Dockerfile: spec.Dockerfile,
		Labels:     map[string]string{fingerprintLabel: fingerprint},
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBuild, err)
	}
	logger.Info("sandbox image built", zap.Duration("duration", time.Since(start)))
	return nil
}

// Start starts a sandbox bound to opts.RunDir. A sandbox already owned by the
// manager is stopped first.
func (m *Manager) Start(ctx context.Context, opts StartOptions) error {
	if old := m.take(); old != nil {
		m.logger.Warn("sandbox already running, stopping it before start", zap.String("container_id", old.id))
		m.teardown(ctx, old, m.opts.StopGrace)
	}

	if opts.Mount == "" {
		opts.Mount = MountBind
	}
	if opts.Limits.Network == "" {
		opts.Limits.Network = "none"
	}

	runDir, err := filepath.Abs(opts.RunDir)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStart, err)
	}
	if fi, err := os.Stat(runDir); err != nil || !fi.IsDir() {
		return fmt.Errorf("%w: run directory %q does not exist", ErrStart, runDir)
	}

	var memory int64
	if opts.Limits.Memory != "" {
		memory, err = units.RAMInBytes(opts.Limits.Memory)
		if err != nil {
			return fmt.Errorf("%w: invalid memory limit %q: %v", ErrStart, opts.Limits.Memory, err)
		}
	}

	spec := ContainerSpec{
		Name:        "sheetbox-" + uuid.NewString(),
		Image:       m.opts.Image,
		MemoryBytes: memory,
		NanoCPUs:    int64(opts.Limits.CPUs * 1e9),
		Network:     opts.Limits.Network,
		Workdir:     m.opts.Workdir,
		Env:         opts.Env,
		Labels: map[string]string{
			managedByLabel: "sheetbox",
			runDirLabel:    runDir,
		},
		Cmd: []string{"sleep", "infinity"},
	}
	if opts.Mount == MountBind {
		spec.Binds = []string{fmt.Sprintf("%s:%s:rw", runDir, m.opts.Workdir)}
	}

	logger := m.logger.With(zap.String("image", m.opts.Image), zap.String("mount", string(opts.Mount)))
	logger.Info("starting sandbox", zap.String("run_dir", runDir))

	id, err := m.engine.Create(ctx, spec)
	if errors.Is(err, ErrImageNotFound) {
		return fmt.Errorf("%w: image %s not found, build it first", ErrStart, m.opts.Image)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStart, err)
	}

	if err := m.engine.Start(ctx, id); err != nil {
		m.discard(id)
		return fmt.Errorf("%w: %v", ErrStart, err)
	}

	if opts.Mount == MountSnapshot {
		if err := m.seed(ctx, id, runDir); err != nil {
			m.discard(id)
			return fmt.Errorf("%w: failed to copy run directory: %v", ErrStart, err)
		}
	}

	h := &handle{id: id, mountPath: m.opts.Workdir, mode: opts.Mount}

	m.mu.Lock()
	m.handle = h
	m.timedOut = false
	if opts.Deadline > 0 {
		h.watchdog = time.AfterFunc(opts.Deadline, func() { m.expire(h) })
	}
	m.mu.Unlock()

	monitor.SandboxActive.Inc()
	logger.Info("sandbox started", zap.String("container_id", id), zap.Duration("deadline", opts.Deadline))
	return nil
}

// seed copies the run directory into the workdir of a started container.
func (m *Manager) seed(ctx context.Context, id, runDir string) error {
	res, err := m.engine.Exec(ctx, id, ExecSpec{Cmd: []string{"mkdir", "-p", m.opts.Workdir}})
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("mkdir %s exited with code %d: %s", m.opts.Workdir, res.ExitCode, strings.TrimSpace(res.Stderr))
	}

	rc, err := dirArchive(runDir, nil)
	if err != nil {
		return err
	}
	defer rc.Close()

	return m.engine.CopyTo(ctx, id, m.opts.Workdir, rc)
}

// discard removes a container that never became the manager's handle.
func (m *Manager) discard(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), killTimeout)
	defer cancel()
	if err := m.engine.Remove(ctx, id); err != nil {
		m.logger.Error("failed to remove partially started sandbox", zap.String("container_id", id), zap.Error(err))
	}
}

// take detaches the current handle and disarms its watchdog. Whoever takes
// a handle is the only one allowed to tear it down.
func (m *Manager) take() *handle {
	m.mu.Lock()
	defer m.mu.Unlock()

	h := m.handle
	m.handle = nil
	if h != nil && h.watchdog != nil {
		h.watchdog.Stop()
	}
	return h
}

// expire is the watchdog callback.
func (m *Manager) expire(h *handle) {
	m.mu.Lock()
	if m.handle != h {
		m.mu.Unlock()
		return
	}
	m.handle = nil
	m.timedOut = true
	m.mu.Unlock()

	logger := m.logger.With(zap.String("container_id", h.id))
	logger.Warn("sandbox deadline reached, killing")
	monitor.SandboxTimeouts.Inc()
	monitor.SandboxActive.Dec()

	ctx, cancel := context.WithTimeout(context.Background(), killTimeout)
	defer cancel()
	if err := m.engine.Kill(ctx, h.id); err != nil {
		logger.Warn("failed to kill sandbox", zap.Error(err))
	}
	if err := m.engine.Remove(ctx, h.id); err != nil {
		logger.Error("failed to remove sandbox", zap.Error(err))
	}
}

func (m *Manager) teardown(ctx context.Context, h *handle, grace time.Duration) {
	logger := m.logger.With(zap.String("container_id", h.id))
	monitor.SandboxActive.Dec()

	if err := m.engine.Stop(ctx, h.id, grace); err != nil {
		logger.Warn("graceful stop failed, forcing removal", zap.Error(err))
	}
	if err := m.engine.Remove(ctx, h.id); err != nil {
		logger.Error("failed to remove sandbox", zap.Error(err))
		return
	}
	logger.Info("sandbox stopped")
}

// Stop stops and removes the sandbox, waiting up to grace before the engine
// kills it. A zero grace uses the configured default. Errors are logged; the
// manager always ends up without a handle. Stop after a watchdog kill does
// nothing.
func (m *Manager) Stop(ctx context.Context, grace time.Duration) {
	h := m.take()
	if h == nil {
		return
	}
	if grace <= 0 {
		grace = m.opts.StopGrace
	}
	m.teardown(ctx, h, grace)
}

// Reconnect adopts a sandbox started by another process. No watchdog is
// armed; the owning process keeps its own.
func (m *Manager) Reconnect(ctx context.Context, d Descriptor) error {
	if d.ID == "" {
		return fmt.Errorf("%w: empty sandbox id", ErrReconnect)
	}

	running, err := m.engine.Running(ctx, d.ID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrReconnect, err)
	}
	if !running {
		return fmt.Errorf("%w: sandbox %s is not running", ErrReconnect, d.ID)
	}

	// The current handle keeps its watchdog when it is already attached.
	if cur, err := m.current(); err == nil && cur.id == d.ID {
		m.logger.Debug("already attached to sandbox", zap.String("container_id", d.ID))
		return nil
	}
	if old := m.take(); old != nil {
		m.logger.Warn("replacing sandbox handle on reconnect", zap.String("container_id", old.id))
		m.teardown(ctx, old, m.opts.StopGrace)
	}

	mountPath := d.MountPath
	if mountPath == "" {
		mountPath = m.opts.Workdir
	}
	mode := d.Mode
	if mode == "" {
		mode = MountBind
	}

	m.mu.Lock()
	m.handle = &handle{id: d.ID, mountPath: mountPath, mode: mode}
	m.timedOut = false
	m.mu.Unlock()
	monitor.SandboxActive.Inc()

	m.logger.Info("reconnected to sandbox", zap.String("container_id", d.ID))
	return nil
}

func (m *Manager) current() (*handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handle == nil {
		return nil, ErrNotRunning
	}
	return m.handle, nil
}

// IsRunning probes the engine; any failure reads as not running.
func (m *Manager) IsRunning(ctx context.Context) bool {
	h, err := m.current()
	if err != nil {
		return false
	}
	running, err := m.engine.Running(ctx, h.id)
	if err != nil {
		m.logger.Debug("liveness probe failed", zap.String("container_id", h.id), zap.Error(err))
		return false
	}
	return running
}

// TimedOut reports whether the last sandbox was killed by the watchdog.
func (m *Manager) TimedOut() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.timedOut
}

// Descriptor returns the identity of the current sandbox.
func (m *Manager) Descriptor() (Descriptor, bool) {
	h, err := m.current()
	if err != nil {
		return Descriptor{}, false
	}
	return Descriptor{ID: h.id, MountPath: h.mountPath, Mode: h.mode}, true
}

// Exec runs cmd inside the sandbox. An empty workdir means the mount path.
func (m *Manager) Exec(ctx context.Context, cmd []string, workdir string) (ExecResult, error) {
	return m.exec(ctx, ExecSpec{Cmd: cmd, Workdir: workdir})
}

func (m *Manager) exec(ctx context.Context, spec ExecSpec) (ExecResult, error) {
	h, err := m.current()
	if err != nil {
		return ExecResult{}, err
	}
	if len(spec.Cmd) == 0 {
		return ExecResult{}, fmt.Errorf("no command provided")
	}
	if spec.Workdir == "" {
		spec.Workdir = h.mountPath
	}

	res, err := m.engine.Exec(ctx, h.id, spec)
	if err != nil {
		return ExecResult{}, fmt.Errorf("exec %s: %w", spec.Cmd[0], err)
	}
	monitor.SandboxExecLatency.Observe(res.Duration.Seconds())
	m.logger.Debug("sandbox exec",
		zap.Strings("cmd", spec.Cmd),
		zap.Int("exit_code", res.ExitCode),
		zap.Duration("duration", res.Duration))
	return res, nil
}

func (m *Manager) containerPath(h *handle, p string) string {
	if path.IsAbs(p) {
		return path.Clean(p)
	}
	return path.Join(h.mountPath, filepath.ToSlash(p))
}

// CopyIn copies host files into the sandbox, keyed by destination path.
// Relative destinations are resolved against the mount path. Files copied
// before a failure stay in place.
func (m *Manager) CopyIn(ctx context.Context, files map[string]string) error {
	h, err := m.current()
	if err != nil {
		return err
	}

	dests := make([]string, 0, len(files))
	for dest := range files {
		dests = append(dests, dest)
	}
	sort.Strings(dests)

	for _, dest := range dests {
		hostPath := files[dest]
		target := m.containerPath(h, dest)
		dir := path.Dir(target)

		archive, err := fileArchive(hostPath, path.Base(target))
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrCopy, hostPath, err)
		}

		res, err := m.engine.Exec(ctx, h.id, ExecSpec{Cmd: []string{"mkdir", "-p", dir}})
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrCopy, target, err)
		}
		if res.ExitCode != 0 {
			return fmt.Errorf("%w: mkdir %s: %s", ErrCopy, dir, strings.TrimSpace(res.Stderr))
		}

		if err := m.engine.CopyTo(ctx, h.id, dir, archive); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrCopy, target, err)
		}
		m.logger.Debug("copied file into sandbox", zap.String("host_path", hostPath), zap.String("path", target))
	}
	return nil
}

// CopyOut reads files from the sandbox. The first unreadable path aborts
// the call.
func (m *Manager) CopyOut(ctx context.Context, paths []string) (map[string][]byte, error) {
	h, err := m.current()
	if err != nil {
		return nil, err
	}

	out := make(map[string][]byte, len(paths))
	for _, p := range paths {
		target := m.containerPath(h, p)

		rc, err := m.engine.CopyFrom(ctx, h.id, target)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrExtract, target, err)
		}
		data, err := readArchiveFile(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrExtract, target, err)
		}
		out[p] = data
	}
	return out, nil
}

// Call sends a typed request to the agent binary inside the sandbox.
func (m *Manager) Call(ctx context.Context, req protocol.Request) (*protocol.Response, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	arg, err := req.Encode()
	if err != nil {
		return nil, err
	}

	res, err := m.Exec(ctx, []string{m.opts.AgentPath, arg}, "")
	if err != nil {
		return nil, err
	}

	stdout := strings.TrimSpace(res.Stdout)
	if stdout == "" {
		return nil, fmt.Errorf("agent exited with code %d and no response: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}

	var resp protocol.Response
	if err := json.Unmarshal([]byte(stdout), &resp); err != nil {
		return nil, fmt.Errorf("failed to decode agent response: %w", err)
	}
	return &resp, nil
}
