// Package sandbox manages the lifecycle of one isolated, resource-limited
// container bound to an episode's run directory.
//
// A Manager owns at most one sandbox at a time. It starts the container with
// memory, CPU and network limits, optionally arms a deadline watchdog that
// kills the container exactly once, executes commands with separately
// captured stdout and stderr, and moves files across the isolation boundary
// as tar streams. Managers in other processes adopt a running sandbox with
// Reconnect, given its Descriptor.
//
// Two Engine implementations exist: DockerEngine uses the Docker Engine API,
// CLIEngine shells out to the docker or podman binary.
//
// Usage:
//
//	engine, err := sandbox.NewEngine(logger, "docker")
//	mgr := sandbox.NewManager(logger, engine, sandbox.Options{Image: "sheetbox-sandbox:latest"})
//	err = mgr.Start(ctx, sandbox.StartOptions{
//	    RunDir:   "runs/sum-column/run_001",
//	    Limits:   sandbox.Limits{Memory: "2g", CPUs: 1, Network: "none"},
//	    Deadline: 10 * time.Minute,
//	})
//	defer mgr.Stop(ctx, 0)
//	res, err := mgr.Exec(ctx, []string{"ls", "-l"}, "")
package sandbox
