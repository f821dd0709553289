package integration

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/isdmx/sheetbox/config"
	"github.com/isdmx/sheetbox/episode"
	"github.com/isdmx/sheetbox/grader"
	"github.com/isdmx/sheetbox/logger"
	"github.com/isdmx/sheetbox/protocol"
	"github.com/isdmx/sheetbox/sandbox"
	"github.com/isdmx/sheetbox/sandbox/sandboxtest"
	"github.com/isdmx/sheetbox/sheet"
	"github.com/isdmx/sheetbox/sheet/sheettest"
	"github.com/isdmx/sheetbox/task"
	"github.com/isdmx/sheetbox/workbench"
)

func testConfig(t *testing.T, image string) *config.Config {
	root := t.TempDir()
	return &config.Config{
		Server:  config.ServerConfig{Transport: "stdio", HTTPPort: 8080},
		Logging: config.LoggingConfig{Mode: "development", Level: "debug"},
		Sandbox: config.SandboxConfig{
			Backend:      "docker",
			Image:        image,
			Memory:       "256m",
			CPUs:         1,
			Network:      "none",
			MountMode:    "bind",
			Workdir:      "/workspace",
			StopGraceSec: 1,
			AgentPath:    "/usr/local/bin/sheetbox-agent",
		},
		Paths: config.PathsConfig{
			TasksDir: filepath.Join(root, "tasks"),
			RunsDir:  filepath.Join(root, "runs"),
		},
		Grading: config.GradingConfig{Tolerance: 0.01},
		GUI:     config.GUIConfig{Display: ":99", ReadyTimeoutSec: 1},
	}
}

func addLedgerTask(t *testing.T, store *task.Store) {
	t.Helper()
	ledger := func(total string) sheettest.Sheet {
		return sheettest.Sheet{Name: "Ledger", Rows: [][]sheet.Cell{
			{sheettest.V("Item"), sheettest.V("Amount")},
			{sheettest.V("rent"), sheettest.V("1200")},
			{sheettest.V("food"), sheettest.V("310.5")},
			{sheettest.V("Total"), sheettest.V(total)},
		}}
	}
	dir := t.TempDir()
	sheettest.WriteODS(t, filepath.Join(dir, "initial.ods"), ledger(""))
	sheettest.WriteODS(t, filepath.Join(dir, "oracle.ods"), ledger("1510.5"))

	_, err := store.Create(task.Definition{ID: "ledger-total", Title: "Ledger total", Description: "Fill in B4."},
		map[string]string{"ledger.ods": filepath.Join(dir, "initial.ods")},
		map[string]string{"ledger.ods": filepath.Join(dir, "oracle.ods")})
	require.NoError(t, err)
}

// TestEpisodePipeline wires configuration, logging, tasks, episodes, the
// agent protocol and grading together over an in-memory container engine.
func TestEpisodePipeline(t *testing.T) {
	cfg := testConfig(t, "sheetbox:test")
	log, err := logger.New(cfg.Logging.Mode, cfg.Logging.Level)
	require.NoError(t, err)

	engine := sandboxtest.NewEngine(cfg.Sandbox.Image)
	engine.ExecFunc = func(id string, spec sandbox.ExecSpec) (sandbox.ExecResult, error) {
		c, ok := engine.Container(id)
		require.True(t, ok)
		root := strings.SplitN(c.Spec.Binds[0], ":", 2)[0]

		req, err := protocol.DecodeRequest(spec.Cmd[1])
		require.NoError(t, err)
		data, err := json.Marshal(workbench.New(zaptest.NewLogger(t), root).Handle(context.Background(), req))
		require.NoError(t, err)
		return sandbox.ExecResult{Stdout: string(data)}, nil
	}

	store := task.NewStore(cfg.Paths.TasksDir)
	addLedgerTask(t, store)
	g := grader.New(log, store, cfg.Grading.Tolerance)
	orch := episode.NewOrchestrator(log, store, g, episode.NewSandboxFactory(log, engine, cfg),
		episode.NewRegistry(), episode.OptionsFromConfig(cfg))

	res, err := orch.RunEpisode(context.Background(), "ledger-total", func(ctx context.Context, s *episode.Started) error {
		read, err := s.Context.Sandbox.Call(ctx, protocol.Request{
			Op: protocol.OpReadRange, File: "ledger.ods", Cell: "B2", EndCell: "B3",
		})
		if err != nil {
			return err
		}
		require.True(t, read.OK, read.Error)
		assert.Equal(t, [][]string{{"1200"}, {"310.5"}}, read.Rows)

		write, err := s.Context.Sandbox.Call(ctx, protocol.Request{
			Op: protocol.OpWriteCell, File: "ledger.ods", Sheet: "Ledger", Cell: "B4", Value: "1510.5",
		})
		if err != nil {
			return err
		}
		require.True(t, write.OK, write.Error)
		return nil
	})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.True(t, res.Passed, res.Feedback)
	assert.Equal(t, 8, res.TotalCells)

	c, ok := engine.Only()
	require.True(t, ok)
	assert.True(t, c.Removed)
}

// TestDockerSandbox runs against a real Docker daemon. It needs
// SHEETBOX_DOCKER_TESTS=1 and a local image with a shell, named by
// SHEETBOX_TEST_IMAGE (default alpine:3.20).
func TestDockerSandbox(t *testing.T) {
	if os.Getenv("SHEETBOX_DOCKER_TESTS") != "1" {
		t.Skip("set SHEETBOX_DOCKER_TESTS=1 to run against Docker")
	}
	image := os.Getenv("SHEETBOX_TEST_IMAGE")
	if image == "" {
		image = "alpine:3.20"
	}

	cfg := testConfig(t, image)
	log := zaptest.NewLogger(t)
	engine, err := sandbox.NewEngine(log, cfg.Sandbox.Backend)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	runDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(runDir, "hello.txt"), []byte("hello\n"), 0o644))

	for _, mode := range []sandbox.MountMode{sandbox.MountBind, sandbox.MountSnapshot} {
		t.Run(string(mode), func(t *testing.T) {
			m := sandbox.NewManager(log, engine, sandbox.OptionsFromConfig(cfg))
			require.NoError(t, m.Start(ctx, sandbox.StartOptions{
				RunDir: runDir,
				Limits: sandbox.LimitsFromConfig(cfg),
				Mount:  mode,
			}))
			defer m.Stop(context.WithoutCancel(ctx), time.Second)

			assert.True(t, m.IsRunning(ctx))

			res, err := m.Exec(ctx, []string{"cat", "hello.txt"}, "")
			require.NoError(t, err)
			assert.Equal(t, 0, res.ExitCode)
			assert.Equal(t, "hello\n", res.Stdout)

			res, err = m.Exec(ctx, []string{"sh", "-c", "echo out > result.txt"}, "")
			require.NoError(t, err)
			require.Equal(t, 0, res.ExitCode, res.Stderr)

			files, err := m.CopyOut(ctx, []string{"result.txt"})
			require.NoError(t, err)
			assert.Equal(t, "out\n", string(files["result.txt"]))
		})
	}
}
