// Sheetbox runs and grades spreadsheet task episodes from the command line.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/isdmx/sheetbox/config"
	"github.com/isdmx/sheetbox/episode"
	"github.com/isdmx/sheetbox/grader"
	"github.com/isdmx/sheetbox/logger"
	"github.com/isdmx/sheetbox/sandbox"
	"github.com/isdmx/sheetbox/task"
)

// Exit codes.
const (
	ExitSuccess   = 0
	ExitFailure   = 1
	ExitNotPassed = 2
)

var rootCmd = &cobra.Command{
	Use:   "sheetbox",
	Short: "Run spreadsheet agent episodes in disposable containers.",
	Long: `Sheetbox provisions a container per task attempt, copies the task's
starting files into a numbered run directory and grades the files the
agent leaves behind against the task's oracle.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(tasksCmd, buildCmd, gradeCmd, runCmd, versionCmd)
	_ = godotenv.Load()
}

// errNotPassed reports a graded run below its threshold. The result has
// already been printed.
var errNotPassed = errors.New("run did not pass")

func main() {
	os.Exit(exitCode(rootCmd.Execute()))
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return ExitSuccess
	case errors.Is(err, errNotPassed):
		return ExitNotPassed
	default:
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		return ExitFailure
	}
}

// app holds the components shared by the subcommands.
type app struct {
	cfg    *config.Config
	log    *zap.Logger
	store  *task.Store
	grader *grader.Grader
}

func newApp() (*app, error) {
	cfg, err := config.New()
	if err != nil {
		return nil, err
	}
	log, err := logger.NewFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	store := task.NewStore(cfg.Paths.TasksDir)
	return &app{
		cfg:    cfg,
		log:    log,
		store:  store,
		grader: grader.New(log, store, cfg.Grading.Tolerance),
	}, nil
}

func (a *app) sandboxFactory() (episode.SandboxFactory, error) {
	engine, err := sandbox.NewEngine(a.log, a.cfg.Sandbox.Backend)
	if err != nil {
		return nil, err
	}
	return episode.NewSandboxFactory(a.log, engine, a.cfg), nil
}

func (a *app) orchestrator() (*episode.Orchestrator, error) {
	factory, err := a.sandboxFactory()
	if err != nil {
		return nil, err
	}
	return episode.NewOrchestrator(a.log, a.store, a.grader, factory, episode.NewRegistry(), episode.OptionsFromConfig(a.cfg)), nil
}
