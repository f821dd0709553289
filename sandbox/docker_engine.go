package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/docker/docker/pkg/stdcopy"
	"go.uber.org/zap"
)

// DockerEngine talks to the Docker Engine API.
type DockerEngine struct {
	logger *zap.Logger
	client *client.Client
}

// NewDockerEngine connects using the standard DOCKER_* environment.
func NewDockerEngine(logger *zap.Logger) (*DockerEngine, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &DockerEngine{logger: logger, client: cli}, nil
}

func (*DockerEngine) Name() string { return "docker" }

// Close releases the API client.
func (d *DockerEngine) Close() error {
	return d.client.Close()
}

func (d *DockerEngine) ImageLabels(ctx context.Context, ref string) (map[string]string, error) {
	inspect, err := d.client.ImageInspect(ctx, ref)
	if errdefs.IsNotFound(err) {
		return nil, fmt.Errorf("%w: %s", ErrImageNotFound, ref)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to inspect image: %w", err)
	}
	if inspect.Config == nil || inspect.Config.Labels == nil {
		return map[string]string{}, nil
	}
	return inspect.Config.Labels, nil
}

func (d *DockerEngine) BuildImage(ctx context.Context, buildContext io.Reader, req BuildRequest) error {
	resp, err := d.client.ImageBuild(ctx, buildContext, build.ImageBuildOptions{
		Tags:        []string{req.Tag},
		Dockerfile:  req.Dockerfile,
		Labels:      req.Labels,
		Remove:      true,
		ForceRemove: true,
	})
	if err != nil {
		return fmt.Errorf("failed to start build: %w", err)
	}
	defer resp.Body.Close()

	// The daemon reports step failures inside the progress stream.
	var progress bytes.Buffer
	if err := jsonmessage.DisplayJSONMessagesStream(resp.Body, &progress, 0, false, nil); err != nil {
		return err
	}
	d.logger.Debug("image build output", zap.String("tag", req.Tag), zap.String("output", progress.String()))
	return nil
}

func (d *DockerEngine) Create(ctx context.Context, spec ContainerSpec) (string, error) {
	cfg := &container.Config{
		Image:      spec.Image,
		Cmd:        spec.Cmd,
		Env:        spec.Env,
		WorkingDir: spec.Workdir,
		Labels:     spec.Labels,
	}
	hostCfg := &container.HostConfig{
		Binds:       spec.Binds,
		NetworkMode: container.NetworkMode(spec.Network),
		Resources: container.Resources{
			Memory:   spec.MemoryBytes,
			NanoCPUs: spec.NanoCPUs,
		},
		AutoRemove: false,
	}

	resp, err := d.client.ContainerCreate(ctx, cfg, hostCfg, &network.NetworkingConfig{}, nil, spec.Name)
	if errdefs.IsNotFound(err) {
		return "", fmt.Errorf("%w: %s", ErrImageNotFound, spec.Image)
	}
	if err != nil {
		return "", fmt.Errorf("failed to create container: %w", err)
	}
	for _, w := range resp.Warnings {
		d.logger.Warn("container create warning", zap.String("warning", w))
	}
	return resp.ID, nil
}

func (d *DockerEngine) Start(ctx context.Context, id string) error {
	return d.client.ContainerStart(ctx, id, container.StartOptions{})
}

func (d *DockerEngine) Exec(ctx context.Context, id string, spec ExecSpec) (ExecResult, error) {
	created, err := d.client.ContainerExecCreate(ctx, id, container.ExecOptions{
		Cmd:          spec.Cmd,
		Env:          spec.Env,
		WorkingDir:   spec.Workdir,
		Tty:          false,
		AttachStdout: !spec.Detach,
		AttachStderr: !spec.Detach,
		Detach:       spec.Detach,
	})
	if err != nil {
		return ExecResult{}, fmt.Errorf("failed to create exec: %w", err)
	}

	start := time.Now()
	if spec.Detach {
		if err := d.client.ContainerExecStart(ctx, created.ID, container.ExecStartOptions{Detach: true}); err != nil {
			return ExecResult{}, fmt.Errorf("failed to start detached exec: %w", err)
		}
		return ExecResult{Duration: time.Since(start)}, nil
	}

	attach, err := d.client.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{Tty: false})
	if err != nil {
		return ExecResult{}, fmt.Errorf("failed to attach to exec: %w", err)
	}
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	done := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return ExecResult{}, fmt.Errorf("failed to read exec output: %w", err)
		}
	case <-ctx.Done():
		return ExecResult{}, ctx.Err()
	}

	inspect, err := d.client.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return ExecResult{}, fmt.Errorf("failed to inspect exec: %w", err)
	}

	return ExecResult{
		ExitCode: inspect.ExitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}, nil
}

func (d *DockerEngine) CopyTo(ctx context.Context, id, dir string, archive io.Reader) error {
	return d.client.CopyToContainer(ctx, id, dir, archive, container.CopyToContainerOptions{
		AllowOverwriteDirWithFile: true,
	})
}

func (d *DockerEngine) CopyFrom(ctx context.Context, id, path string) (io.ReadCloser, error) {
	rc, _, err := d.client.CopyFromContainer(ctx, id, path)
	if err != nil {
		return nil, err
	}
	return rc, nil
}

func (d *DockerEngine) Stop(ctx context.Context, id string, grace time.Duration) error {
	timeout := int(grace.Seconds())
	return d.client.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeout})
}

func (d *DockerEngine) Kill(ctx context.Context, id string) error {
	return d.client.ContainerKill(ctx, id, "KILL")
}

func (d *DockerEngine) Remove(ctx context.Context, id string) error {
	err := d.client.ContainerRemove(ctx, id, container.RemoveOptions{Force: true})
	if errdefs.IsNotFound(err) {
		return nil
	}
	return err
}

func (d *DockerEngine) Running(ctx context.Context, id string) (bool, error) {
	inspect, err := d.client.ContainerInspect(ctx, id)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return inspect.State != nil && inspect.State.Running, nil
}

var _ Engine = (*DockerEngine)(nil)
