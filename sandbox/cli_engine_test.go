package sandbox

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type commandResult struct {
	stdout   string
	stderr   string
	exitCode int
	err      error
}

// MockCommandRunner implements CommandRunner for testing
type MockCommandRunner struct {
	commandResults map[string]commandResult
	defaultResult  commandResult
	calls          []string
	stdin          map[string]string
}

func (m *MockCommandRunner) RunCommand(_ context.Context, args []string, stdin io.Reader) (stdout, stderr string, exitCode int, err error) {
	cmdKey := strings.Join(args, " ")
	m.calls = append(m.calls, cmdKey)

	if stdin != nil {
		data, _ := io.ReadAll(stdin)
		if m.stdin == nil {
			m.stdin = make(map[string]string)
		}
		m.stdin[cmdKey] = string(data)
	}

	if result, exists := m.commandResults[cmdKey]; exists {
		return result.stdout, result.stderr, result.exitCode, result.err
	}

	return m.defaultResult.stdout, m.defaultResult.stderr, m.defaultResult.exitCode, m.defaultResult.err
}

func TestCLIEngineCreate(t *testing.T) {
	runner := &MockCommandRunner{defaultResult: commandResult{stdout: "c0ffee\n"}}
	engine := NewCLIEngine(zaptest.NewLogger(t), "podman", WithCommandRunner(runner))
	assert.Equal(t, "podman-cli", engine.Name())

	id, err := engine.Create(context.Background(), ContainerSpec{
		Name:        "sheetbox-1",
		Image:       "sheetbox-sandbox:latest",
		MemoryBytes: 1024,
		NanoCPUs:    1_500_000_000,
		Network:     "none",
		Workdir:     "/workspace",
		Binds:       []string{"/runs/t/run_001:/workspace:rw"},
		Env:         []string{"A=1"},
		Labels:      map[string]string{"b": "2", "a": "1"},
		Cmd:         []string{"sleep", "infinity"},
	})
	require.NoError(t, err)
	assert.Equal(t, "c0ffee", id)

	require.Len(t, runner.calls, 1)
	assert.Equal(t, "podman create --name sheetbox-1 --memory 1024 --cpus 1.5 --network none "+
		"--workdir /workspace -v /runs/t/run_001:/workspace:rw -e A=1 --label a=1 --label b=2 "+
		"sheetbox-sandbox:latest sleep infinity", runner.calls[0])
}

func TestCLIEngineCreateMissingImage(t *testing.T) {
	runner := &MockCommandRunner{defaultResult: commandResult{
		stderr:   "Unable to find image 'x:latest' locally\nError response from daemon: pull access denied, repository does not exist or may require 'docker login': No such image",
		exitCode: 125,
	}}
	engine := NewCLIEngine(zaptest.NewLogger(t), "docker", WithCommandRunner(runner))

	_, err := engine.Create(context.Background(), ContainerSpec{Image: "x:latest"})
	assert.ErrorIs(t, err, ErrImageNotFound)
}

func TestCLIEngineExec(t *testing.T) {
	runner := &MockCommandRunner{defaultResult: commandResult{stdout: "hello", stderr: "warn", exitCode: 7}}
	engine := NewCLIEngine(zaptest.NewLogger(t), "docker", WithCommandRunner(runner))

	res, err := engine.Exec(context.Background(), "c1", ExecSpec{
		Cmd:     []string{"echo", "hello"},
		Workdir: "/workspace",
		Env:     []string{"DISPLAY=:99"},
	})
	require.NoError(t, err)
	assert.Equal(t, 7, res.ExitCode)
	assert.Equal(t, "hello", res.Stdout)
	assert.Equal(t, "warn", res.Stderr)
	assert.Equal(t, "docker exec -w /workspace -e DISPLAY=:99 c1 echo hello", runner.calls[0])

	_, err = engine.Exec(context.Background(), "c1", ExecSpec{Cmd: []string{"Xvfb"}, Detach: true})
	require.NoError(t, err)
	assert.Equal(t, "docker exec -d c1 Xvfb", runner.calls[1])

	runner.defaultResult = commandResult{err: errors.New("executable not found")}
	_, err = engine.Exec(context.Background(), "c1", ExecSpec{Cmd: []string{"true"}})
	assert.Error(t, err)
}

func TestCLIEngineRunning(t *testing.T) {
	runner := &MockCommandRunner{
		commandResults: map[string]commandResult{
			"docker inspect --format {{.State.Running}} up":   {stdout: "true\n"},
			"docker inspect --format {{.State.Running}} down": {stdout: "false\n"},
			"docker inspect --format {{.State.Running}} gone": {stderr: "Error: No such object: gone", exitCode: 1},
			"docker inspect --format {{.State.Running}} err":  {stderr: "Cannot connect to the Docker daemon", exitCode: 1},
		},
	}
	engine := NewCLIEngine(zaptest.NewLogger(t), "docker", WithCommandRunner(runner))
	ctx := context.Background()

	running, err := engine.Running(ctx, "up")
	require.NoError(t, err)
	assert.True(t, running)

	running, err = engine.Running(ctx, "down")
	require.NoError(t, err)
	assert.False(t, running)

	running, err = engine.Running(ctx, "gone")
	require.NoError(t, err)
	assert.False(t, running)

	_, err = engine.Running(ctx, "err")
	assert.Error(t, err)
}

func TestCLIEngineImageLabels(t *testing.T) {
	runner := &MockCommandRunner{
		commandResults: map[string]commandResult{
			"docker image inspect --format {{json .Config.Labels}} built":   {stdout: `{"io.sheetbox.fingerprint":"abc"}` + "\n"},
			"docker image inspect --format {{json .Config.Labels}} bare":    {stdout: "null\n"},
			"docker image inspect --format {{json .Config.Labels}} missing": {stderr: "Error: No such image: missing", exitCode: 1},
		},
	}
	engine := NewCLIEngine(zaptest.NewLogger(t), "docker", WithCommandRunner(runner))
	ctx := context.Background()

	labels, err := engine.ImageLabels(ctx, "built")
	require.NoError(t, err)
	assert.Equal(t, "abc", labels["io.sheetbox.fingerprint"])

	labels, err = engine.ImageLabels(ctx, "bare")
	require.NoError(t, err)
	assert.Empty(t, labels)

	_, err = engine.ImageLabels(ctx, "missing")
	assert.ErrorIs(t, err, ErrImageNotFound)
}

func TestCLIEngineStdinCommands(t *testing.T) {
	runner := &MockCommandRunner{}
	engine := NewCLIEngine(zaptest.NewLogger(t), "docker", WithCommandRunner(runner))
	ctx := context.Background()

	err := engine.BuildImage(ctx, strings.NewReader("context-tar"), BuildRequest{
		Tag:        "img:1",
		Dockerfile: "Dockerfile",
		Labels:     map[string]string{"k": "v"},
	})
	require.NoError(t, err)
	assert.Equal(t, "context-tar", runner.stdin["docker build -t img:1 -f Dockerfile --label k=v -"])

	require.NoError(t, engine.CopyTo(ctx, "c1", "/workspace", strings.NewReader("file-tar")))
	assert.Equal(t, "file-tar", runner.stdin["docker cp - c1:/workspace"])

	runner.defaultResult = commandResult{stdout: "tar-bytes"}
	rc, err := engine.CopyFrom(ctx, "c1", "/workspace/out.xlsx")
	require.NoError(t, err)
	data, _ := io.ReadAll(rc)
	assert.Equal(t, "tar-bytes", string(data))
	assert.Equal(t, "docker cp c1:/workspace/out.xlsx -", runner.calls[len(runner.calls)-1])
}

func TestCLIEngineLifecycle(t *testing.T) {
	runner := &MockCommandRunner{
		commandResults: map[string]commandResult{
			"docker rm -f gone":    {stderr: "Error: No such container: gone", exitCode: 1},
			"docker stop -t 5 bad": {stderr: "permission denied", exitCode: 1},
		},
	}
	engine := NewCLIEngine(zaptest.NewLogger(t), "docker", WithCommandRunner(runner))
	ctx := context.Background()

	require.NoError(t, engine.Start(ctx, "c1"))
	require.NoError(t, engine.Stop(ctx, "c1", 5*time.Second))
	require.NoError(t, engine.Kill(ctx, "c1"))
	require.NoError(t, engine.Remove(ctx, "c1"))
	require.NoError(t, engine.Remove(ctx, "gone"))

	err := engine.Stop(ctx, "bad", 5*time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission denied")

	assert.Equal(t, []string{
		"docker start c1",
		"docker stop -t 5 c1",
		"docker kill c1",
		"docker rm -f c1",
		"docker rm -f gone",
		"docker stop -t 5 bad",
	}, runner.calls)
}

func TestRealCommandRunner(t *testing.T) {
	runner := RealCommandRunner{}
	ctx := context.Background()

	_, _, _, err := runner.RunCommand(ctx, nil, nil)
	assert.Error(t, err)

	stdout, _, exitCode, err := runner.RunCommand(ctx, []string{"cat"}, strings.NewReader("piped"))
	require.NoError(t, err)
	assert.Equal(t, 0, exitCode)
	assert.Equal(t, "piped", stdout)

	_, _, exitCode, err = runner.RunCommand(ctx, []string{"sh", "-c", "exit 4"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, exitCode)
}
