package sandbox

import (
	"context"
	"io"
	"time"
)

// Engine is the container runtime a Manager drives. Implementations must be
// safe for concurrent use.
type Engine interface {
	// Name identifies the backend in logs.
	Name() string

	// ImageLabels returns the labels of ref, or ErrImageNotFound.
	ImageLabels(ctx context.Context, ref string) (map[string]string, error)
	// BuildImage builds an image from a tar build context.
	BuildImage(ctx context.Context, buildContext io.Reader, req BuildRequest) error

	Create(ctx context.Context, spec ContainerSpec) (id string, err error)
	Start(ctx context.Context, id string) error
	Exec(ctx context.Context, id string, spec ExecSpec) (ExecResult, error)
	// CopyTo extracts a tar stream into dir inside the container.
	CopyTo(ctx context.Context, id, dir string, archive io.Reader) error
	// CopyFrom returns a tar stream holding path.
	CopyFrom(ctx context.Context, id, path string) (io.ReadCloser, error)
	Stop(ctx context.Context, id string, grace time.Duration) error
	Kill(ctx context.Context, id string) error
	Remove(ctx context.Context, id string) error
	Running(ctx context.Context, id string) (bool, error)
}

// BuildRequest describes an image build.
type BuildRequest struct {
	Tag        string
	Dockerfile string
	Labels     map[string]string
}

// ContainerSpec describes a container to create.
type ContainerSpec struct {
	Name        string
	Image       string
	MemoryBytes int64
	NanoCPUs    int64
	Network     string
	Workdir     string
	// Binds are host:container[:mode] mounts.
	Binds  []string
	Env    []string
	Labels map[string]string
	Cmd    []string
}

// ExecSpec describes a command run inside a container.
type ExecSpec struct {
	Cmd     []string
	Workdir string
	Env     []string
	// Detach starts the command without waiting for it.
	Detach bool
}

// ExecResult holds the separately captured output of a command.
type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}
