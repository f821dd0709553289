// Package episode runs spreadsheet tasks end to end: it provisions a run
// directory and sandbox, hands the episode to an agent, grades the result
// and tears everything down.
package episode

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/isdmx/sheetbox/grader"
	"github.com/isdmx/sheetbox/logger"
	"github.com/isdmx/sheetbox/monitor"
	"github.com/isdmx/sheetbox/sandbox"
	"github.com/isdmx/sheetbox/task"
)

var (
	// ErrTaskNotFound is returned when the task has no definition.
	ErrTaskNotFound = errors.New("task not found")
	// ErrProvision is returned when the run directory or sandbox cannot be
	// set up. No sandbox is left running.
	ErrProvision = errors.New("provisioning failed")
)

// State is the orchestrator lifecycle state.
type State string

const (
	StateIdle         State = "idle"
	StateProvisioning State = "provisioning"
	StateRunning      State = "running"
	StateEnded        State = "ended"
)

// TaskSource is the part of the task store the orchestrator needs.
type TaskSource interface {
	TaskLoader
	InitialFiles(id string) (map[string]string, error)
}

// Grader grades a run directory.
type Grader interface {
	Grade(taskID, runDir string) grader.Result
}

// Options configures an Orchestrator.
type Options struct {
	RunsDir string
	Limits  sandbox.Limits
	Mount   sandbox.MountMode
	// SessionKey is the registry key episodes are registered under.
	SessionKey string
}

// StartOptions tunes one episode start.
type StartOptions struct {
	// EpisodeNumber forces the run number; it must not exist yet.
	EpisodeNumber *int
	// Timeout overrides the task time limit when positive.
	Timeout time.Duration
}

// Started describes a provisioned episode.
type Started struct {
	Context    *Context
	Descriptor sandbox.Descriptor
	Task       *task.Definition
	RunNumber  int
	// Session is set for computer_use tasks.
	Session *sandbox.SessionStatus
}

// Handoff returns the identity other processes need to join the episode.
func (s *Started) Handoff() Handoff {
	return Handoff{TaskID: s.Task.ID, RunDir: s.Context.RunDir, Sandbox: s.Descriptor}
}

// EndOptions tunes EndEpisode.
type EndOptions struct {
	Grade bool
	// Cleanup deletes the run directory after grading.
	Cleanup bool
}

// AgentFunc acts on a started episode.
type AgentFunc func(ctx context.Context, ep *Started) error

// Orchestrator runs one episode at a time.
type Orchestrator struct {
	logger     *zap.Logger
	tasks      TaskSource
	grader     Grader
	newSandbox SandboxFactory
	registry   *Registry
	opts       Options

	mu        sync.Mutex
	state     State
	current   *Context
	startedAt time.Time
}

// NewOrchestrator creates an idle Orchestrator.
func NewOrchestrator(
	logger *zap.Logger,
	tasks TaskSource,
	g Grader,
	newSandbox SandboxFactory,
	registry *Registry,
	opts Options,
) *Orchestrator {
	if opts.Mount == "" {
		opts.Mount = sandbox.MountBind
	}
	return &Orchestrator{
		logger:     logger,
		tasks:      tasks,
		grader:     g,
		newSandbox: newSandbox,
		registry:   registry,
		opts:       opts,
		state:      StateIdle,
	}
}

// State returns the lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Current returns the running episode's context.
func (o *Orchestrator) Current() (*Context, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current, o.current != nil
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

// StartEpisode provisions a run directory and sandbox for taskID and
// registers the episode context.
func (o *Orchestrator) StartEpisode(ctx context.Context, taskID string, opts StartOptions) (*Started, error) {
	o.mu.Lock()
	if o.state == StateProvisioning || o.state == StateRunning {
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: an episode is already running", ErrProvision)
	}
	o.state = StateProvisioning
	o.mu.Unlock()

	logger := logger.Episode(o.logger, taskID, "")

	started, err := o.provision(ctx, logger, taskID, opts)
	if err != nil {
		o.setState(StateIdle)
		if !errors.Is(err, ErrTaskNotFound) {
			monitor.ProvisioningFailures.Inc()
		}
		logger.Error("failed to start episode", zap.Error(err))
		return nil, err
	}

	o.mu.Lock()
	o.current = started.Context
	o.startedAt = time.Now()
	o.state = StateRunning
	o.mu.Unlock()

	o.registry.Register(o.opts.SessionKey, started.Context)
	monitor.EpisodesStarted.WithLabelValues(string(started.Task.Mode)).Inc()
	logger.Info("episode started",
		zap.String("run_dir", started.Context.RunDir),
		zap.String("container_id", started.Descriptor.ID))
	return started, nil
}

func (o *Orchestrator) provision(ctx context.Context, logger *zap.Logger, taskID string, opts StartOptions) (*Started, error) {
	def, err := o.tasks.Load(taskID)
	if errors.Is(err, task.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProvision, err)
	}

	rd, err := AllocateRunDir(o.opts.RunsDir, def.ID, opts.EpisodeNumber)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProvision, err)
	}
	logger.Info("created run directory", zap.String("run_dir", rd.Path), zap.Int("run", rd.Number))

	initial, err := o.tasks.InitialFiles(def.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProvision, err)
	}
	names := make([]string, 0, len(initial))
	for name := range initial {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := task.CopyFile(initial[name], filepath.Join(rd.Path, name)); err != nil {
			return nil, fmt.Errorf("%w: failed to copy %s: %v", ErrProvision, name, err)
		}
		logger.Debug("copied initial file", zap.String("file", name))
	}

	deadline := opts.Timeout
	if deadline <= 0 {
		deadline = time.Duration(def.TimeLimitSeconds) * time.Second
	}

	sb := o.newSandbox()
	err = sb.Start(ctx, sandbox.StartOptions{
		RunDir:   rd.Path,
		Limits:   o.opts.Limits,
		Mount:    o.opts.Mount,
		Deadline: deadline,
	})
	if err != nil {
		sb.Stop(ctx, 0)
		return nil, fmt.Errorf("%w: %w", ErrProvision, err)
	}

	desc, ok := sb.Descriptor()
	if !ok {
		return nil, fmt.Errorf("%w: sandbox exited during start", ErrProvision)
	}

	c, err := NewContext(def, rd.Path, sb)
	if err != nil {
		sb.Stop(ctx, 0)
		return nil, fmt.Errorf("%w: %v", ErrProvision, err)
	}

	started := &Started{Context: c, Descriptor: desc, Task: def, RunNumber: rd.Number}

	if def.IsComputerUse() {
		file := ""
		if len(def.InitialFiles) > 0 {
			file = def.InitialFiles[0]
		}
		status, err := sb.BootstrapInteractiveSession(ctx, file)
		if err != nil {
			logger.Warn("interactive session did not start", zap.Error(err))
		}
		started.Session = &status
	}
	return started, nil
}

// EndEpisode grades the running episode if asked, stops its sandbox,
// clears its registry entry and removes the run directory if asked. Without
// a running episode it returns (nil, nil).
func (o *Orchestrator) EndEpisode(ctx context.Context, opts EndOptions) (*grader.Result, error) {
	o.mu.Lock()
	c := o.current
	startedAt := o.startedAt
	if c == nil {
		o.mu.Unlock()
		o.logger.Warn("no active episode")
		return nil, nil
	}
	o.current = nil
	o.mu.Unlock()

	logger := logger.Episode(o.logger, c.TaskID, c.RunDir)

	if err := c.CollectOutputs(ctx); err != nil {
		logger.Warn("failed to collect outputs from sandbox", zap.Error(err))
	}

	var result *grader.Result
	outcome := "ungraded"
	if opts.Grade {
		res := o.grader.Grade(c.TaskID, c.RunDir)
		result = &res
		outcome = "failed"
		if res.Passed {
			outcome = "passed"
		}
		logger.Info("episode graded", zap.Bool("passed", res.Passed), zap.Float64("score", res.Score))
	}
	if c.Sandbox.TimedOut() {
		logger.Warn("episode sandbox hit its deadline")
	}

	c.Sandbox.Stop(ctx, 0)
	o.registry.Clear(o.opts.SessionKey)

	if opts.Cleanup {
		if err := os.RemoveAll(c.RunDir); err != nil {
			logger.Warn("failed to remove run directory", zap.Error(err))
		} else {
			logger.Info("removed run directory")
		}
	}

	o.setState(StateEnded)
	monitor.EpisodesEnded.WithLabelValues(outcome).Inc()
	monitor.EpisodeDuration.Observe(time.Since(startedAt).Seconds())
	logger.Info("episode ended", zap.String("outcome", outcome))
	return result, nil
}

// RunEpisode starts an episode, runs agent and ends the episode graded. If
// agent fails or panics the episode ends ungraded and the failure is
// returned or re-raised.
func (o *Orchestrator) RunEpisode(ctx context.Context, taskID string, agent AgentFunc) (res *grader.Result, err error) {
	started, err := o.StartEpisode(ctx, taskID, StartOptions{})
	if err != nil {
		return nil, err
	}

	completed := false
	defer func() {
		if completed {
			return
		}
		// Teardown must outlive a canceled ctx.
		if _, endErr := o.EndEpisode(context.WithoutCancel(ctx), EndOptions{}); endErr != nil {
			o.logger.Error("failed to end episode", zap.Error(endErr))
		}
	}()

	if err := agent(ctx, started); err != nil {
		o.logger.Error("agent failed", zap.String("task_id", taskID), zap.Error(err))
		return nil, fmt.Errorf("agent failed: %w", err)
	}

	completed = true
	return o.EndEpisode(ctx, EndOptions{Grade: true})
}
