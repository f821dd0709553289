package main

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/isdmx/sheetbox/config"
	"github.com/isdmx/sheetbox/episode"
	"github.com/isdmx/sheetbox/grader"
	"github.com/isdmx/sheetbox/logger"
	"github.com/isdmx/sheetbox/mcpserver"
	"github.com/isdmx/sheetbox/monitor"
	"github.com/isdmx/sheetbox/sandbox"
	"github.com/isdmx/sheetbox/task"
)

func newEngine(cfg *config.Config, log *zap.Logger) (sandbox.Engine, error) {
	return sandbox.NewEngine(log, cfg.Sandbox.Backend)
}

func newStore(cfg *config.Config) *task.Store {
	return task.NewStore(cfg.Paths.TasksDir)
}

func newGrader(cfg *config.Config, log *zap.Logger, store *task.Store) *grader.Grader {
	return grader.New(log, store, cfg.Grading.Tolerance)
}

func newResolver(
	log *zap.Logger,
	registry *episode.Registry,
	store *task.Store,
	factory episode.SandboxFactory,
) *episode.Resolver {
	return episode.NewResolver(log, registry, store, factory)
}

func newOrchestrator(
	cfg *config.Config,
	log *zap.Logger,
	store *task.Store,
	g *grader.Grader,
	factory episode.SandboxFactory,
	registry *episode.Registry,
) *episode.Orchestrator {
	return episode.NewOrchestrator(log, store, g, factory, registry, episode.OptionsFromConfig(cfg))
}

func main() {
	app := fx.New(
		// Provide dependencies
		fx.Provide(
			// Config
			config.New,

			// Logger with configuration
			logger.NewFromConfig,

			// Container engine based on config
			newEngine,
			episode.NewSandboxFactory,

			// Tasks and grading
			newStore,
			newGrader,

			// Episodes
			episode.NewRegistry,
			newResolver,
			newOrchestrator,

			// MCP Server
			mcpserver.New,
		),

		// Serve metrics when an address is configured
		fx.Invoke(
			func(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) {
				if cfg.Metrics.Addr == "" {
					return
				}
				ctx, cancel := context.WithCancel(context.Background())
				lc.Append(fx.Hook{
					OnStart: func(context.Context) error {
						go func() {
							if err := monitor.StartMetricsServer(ctx, cfg.Metrics.Addr, log); err != nil {
								log.Error("metrics server failed", zap.Error(err))
							}
						}()
						return nil
					},
					OnStop: func(context.Context) error {
						cancel()
						return nil
					},
				})
			},
		),

		// End a running episode on shutdown
		fx.Invoke(
			func(lc fx.Lifecycle, orch *episode.Orchestrator) {
				lc.Append(fx.Hook{
					OnStop: func(ctx context.Context) error {
						_, err := orch.EndEpisode(ctx, episode.EndOptions{})
						return err
					},
				})
			},
		),

		// Start the appropriate transport based on config
		fx.Invoke(
			func(cfg *config.Config, server *mcpserver.MCPServer) {
				switch cfg.Server.Transport {
				case "stdio":
					// Use fx to run this as a background task
					go func() {
						if err := server.ServeStdio(); err != nil {
							panic(err)
						}
					}()
				case "http":
					go func() {
						if err := server.ServeHTTP(); err != nil {
							panic(err)
						}
					}()
				default:
					panic("unsupported transport: " + cfg.Server.Transport)
				}
			},
		),

		// Use the application logger for fx logs
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
	)

	// Start the application
	app.Run()
}
