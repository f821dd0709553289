package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/isdmx/sheetbox/episode"
)

var (
	runNumber  int
	runTimeout time.Duration
	runCleanup bool
	runEnvFile string
)

var runCmd = &cobra.Command{
	Use:   "run <task-id> -- <agent command> [args...]",
	Short: "Run an agent through one episode of a task",
	Long: `Start an episode for a task, run the agent command with the episode
handed off through SHEETBOX_* environment variables, then grade the run and
print the result as JSON. An MCP server started by the agent attaches to the
episode through those variables.

Examples:
  sheetbox run sum-column -- python agent.py
  sheetbox run pivot --timeout 5m --env-file /tmp/pivot.env -- ./agent.sh

Exit codes:
  0  passed
  1  error or agent failure
  2  not passed`,
	Args: cobra.MinimumNArgs(2),
	RunE: runEpisode,
}

func init() {
	runCmd.Flags().IntVar(&runNumber, "number", 0, "explicit run number (default next free)")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "sandbox deadline (default the task's time limit)")
	runCmd.Flags().BoolVar(&runCleanup, "cleanup", false, "remove the run directory after grading")
	runCmd.Flags().StringVar(&runEnvFile, "env-file", "", "also write the handoff to this dotenv file")
}

func runEpisode(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer func() { _ = a.log.Sync() }()

	orch, err := a.orchestrator()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := episode.StartOptions{Timeout: runTimeout}
	if runNumber > 0 {
		opts.EpisodeNumber = &runNumber
	}

	started, err := orch.StartEpisode(ctx, args[0], opts)
	if err != nil {
		return err
	}

	agentErr := runAgent(ctx, a.log, started, args[1:])

	// Teardown must outlive a canceled ctx.
	res, err := orch.EndEpisode(context.WithoutCancel(ctx), episode.EndOptions{
		Grade:   agentErr == nil,
		Cleanup: runCleanup,
	})
	if agentErr != nil {
		return fmt.Errorf("agent failed: %w", agentErr)
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return err
	}
	if res == nil || !res.Passed {
		return errNotPassed
	}
	return nil
}

func runAgent(ctx context.Context, log *zap.Logger, started *episode.Started, argv []string) error {
	handoff := started.Handoff()
	env := append(os.Environ(), handoff.Environ()...)

	if runEnvFile != "" {
		path, err := filepath.Abs(runEnvFile)
		if err != nil {
			return err
		}
		if err := handoff.WriteEnvFile(path); err != nil {
			return err
		}
		env = append(env, episode.EnvHandoffFile+"="+path)
	}

	c := exec.CommandContext(ctx, argv[0], argv[1:]...)
	c.Env = env
	c.Stdin = os.Stdin
	c.Stdout = os.Stderr
	c.Stderr = os.Stderr

	log.Info("running agent",
		zap.String("task_id", started.Task.ID),
		zap.String("run_dir", started.Context.RunDir),
		zap.Strings("command", argv),
	)
	return c.Run()
}
