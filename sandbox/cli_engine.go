package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// CLIEngine drives the docker or podman command line. It is used on hosts
// where the Engine API socket is not reachable.
type CLIEngine struct {
	logger    *zap.Logger
	binary    string
	cmdRunner CommandRunner
}

// CLIEngineOption defines a functional option for CLIEngine
type CLIEngineOption func(*CLIEngine)

// WithCommandRunner sets the CommandRunner for CLIEngine
func WithCommandRunner(cmdRunner CommandRunner) CLIEngineOption {
	return func(c *CLIEngine) {
		c.cmdRunner = cmdRunner
	}
}

// NewCLIEngine creates an engine for binary ("docker" or "podman").
func NewCLIEngine(logger *zap.Logger, binary string, opts ...CLIEngineOption) *CLIEngine {
	engine := &CLIEngine{
		logger:    logger,
		binary:    binary,
		cmdRunner: &RealCommandRunner{}, // Default implementation
	}

	for _, opt := range opts {
		opt(engine)
	}

	return engine
}

func (c *CLIEngine) Name() string { return c.binary + "-cli" }

// run executes a CLI subcommand and turns a non-zero exit into an error.
func (c *CLIEngine) run(ctx context.Context, stdin io.Reader, args ...string) (string, error) {
	cmdArgs := append([]string{c.binary}, args...)
	stdout, stderr, exitCode, err := c.cmdRunner.RunCommand(ctx, cmdArgs, stdin)
	if err != nil {
		return "", fmt.Errorf("failed to run %s %s: %w", c.binary, args[0], err)
	}
	if exitCode != 0 {
		return stdout, &cliError{args: args, exitCode: exitCode, stderr: strings.TrimSpace(stderr)}
	}
	return stdout, nil
}

type cliError struct {
	args     []string
	exitCode int
	stderr   string
}

func (e *cliError) Error() string {
	return fmt.Sprintf("%s exited with code %d: %s", strings.Join(e.args, " "), e.exitCode, e.stderr)
}

func (e *cliError) notFound() bool {
	s := strings.ToLower(e.stderr)
	return strings.Contains(s, "no such") || strings.Contains(s, "not found") || strings.Contains(s, "not known")
}

func (c *CLIEngine) ImageLabels(ctx context.Context, ref string) (map[string]string, error) {
	out, err := c.run(ctx, nil, "image", "inspect", "--format", "{{json .Config.Labels}}", ref)
	if err != nil {
		if ce, ok := err.(*cliError); ok && ce.notFound() {
			return nil, fmt.Errorf("%w: %s", ErrImageNotFound, ref)
		}
		return nil, err
	}

	labels := map[string]string{}
	out = strings.TrimSpace(out)
	if out == "" || out == "null" {
		return labels, nil
	}
	if err := json.Unmarshal([]byte(out), &labels); err != nil {
		return nil, fmt.Errorf("failed to parse image labels: %w", err)
	}
	return labels, nil
}

func (c *CLIEngine) BuildImage(ctx context.Context, buildContext io.Reader, req BuildRequest) error {
	args := []string{"build", "-t", req.Tag}
	if req.Dockerfile != "" {
		args = append(args, "-f", req.Dockerfile)
	}
	args = append(args, labelArgs(req.Labels)...)
	args = append(args, "-")

	_, err := c.run(ctx, buildContext, args...)
	return err
}

func (c *CLIEngine) Create(ctx context.Context, spec ContainerSpec) (string, error) {
	args := []string{"create"}
	if spec.Name != "" {
		args = append(args, "--name", spec.Name)
	}
	if spec.MemoryBytes > 0 {
		args = append(args, "--memory", strconv.FormatInt(spec.MemoryBytes, 10))
	}
	if spec.NanoCPUs > 0 {
		args = append(args, "--cpus", strconv.FormatFloat(float64(spec.NanoCPUs)/1e9, 'f', -1, 64))
	}
	if spec.Network != "" {
		args = append(args, "--network", spec.Network)
	}
	if spec.Workdir != "" {
		args = append(args, "--workdir", spec.Workdir)
	}
	for _, b := range spec.Binds {
		args = append(args, "-v", b)
	}
	for _, e := range spec.Env {
		args = append(args, "-e", e)
	}
	args = append(args, labelArgs(spec.Labels)...)
	args = append(args, spec.Image)
	args = append(args, spec.Cmd...)

	out, err := c.run(ctx, nil, args...)
	if err != nil {
		if ce, ok := err.(*cliError); ok && ce.notFound() {
			return "", fmt.Errorf("%w: %s", ErrImageNotFound, spec.Image)
		}
		return "", err
	}

	id := strings.TrimSpace(out)
	if id == "" {
		return "", fmt.Errorf("%s create returned no container id", c.binary)
	}
	return id, nil
}

func (c *CLIEngine) Start(ctx context.Context, id string) error {
	_, err := c.run(ctx, nil, "start", id)
	return err
}

func (c *CLIEngine) Exec(ctx context.Context, id string, spec ExecSpec) (ExecResult, error) {
	args := []string{"exec"}
	if spec.Detach {
		args = append(args, "-d")
	}
	if spec.Workdir != "" {
		args = append(args, "-w", spec.Workdir)
	}
	for _, e := range spec.Env {
		args = append(args, "-e", e)
	}
	args = append(args, id)
	args = append(args, spec.Cmd...)

	start := time.Now()
	stdout, stderr, exitCode, err := c.cmdRunner.RunCommand(ctx, append([]string{c.binary}, args...), nil)
	if err != nil {
		return ExecResult{}, fmt.Errorf("failed to run %s exec: %w", c.binary, err)
	}

	return ExecResult{
		ExitCode: exitCode,
		Stdout:   stdout,
		Stderr:   stderr,
		Duration: time.Since(start),
	}, nil
}

func (c *CLIEngine) CopyTo(ctx context.Context, id, dir string, archive io.Reader) error {
	_, err := c.run(ctx, archive, "cp", "-", id+":"+dir)
	return err
}

func (c *CLIEngine) CopyFrom(ctx context.Context, id, path string) (io.ReadCloser, error) {
	out, err := c.run(ctx, nil, "cp", id+":"+path, "-")
	if err != nil {
		return nil, err
	}
	return io.NopCloser(strings.NewReader(out)), nil
}

func (c *CLIEngine) Stop(ctx context.Context, id string, grace time.Duration) error {
	_, err := c.run(ctx, nil, "stop", "-t", strconv.Itoa(int(grace.Seconds())), id)
	return err
}

func (c *CLIEngine) Kill(ctx context.Context, id string) error {
	_, err := c.run(ctx, nil, "kill", id)
	return err
}

func (c *CLIEngine) Remove(ctx context.Context, id string) error {
	_, err := c.run(ctx, nil, "rm", "-f", id)
	if ce, ok := err.(*cliError); ok && ce.notFound() {
		return nil
	}
	return err
}

func (c *CLIEngine) Running(ctx context.Context, id string) (bool, error) {
	out, err := c.run(ctx, nil, "inspect", "--format", "{{.State.Running}}", id)
	if err != nil {
		if ce, ok := err.(*cliError); ok && ce.notFound() {
			return false, nil
		}
		return false, err
	}
	return strings.TrimSpace(out) == "true", nil
}

var _ Engine = (*CLIEngine)(nil)

func labelArgs(labels map[string]string) []string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	args := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		args = append(args, "--label", k+"="+labels[k])
	}
	return args
}
