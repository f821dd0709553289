package episode

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/isdmx/sheetbox/logger"
	"github.com/isdmx/sheetbox/sandbox"
	"github.com/isdmx/sheetbox/task"
)

// ErrNoContext is returned when neither the registry nor the environment
// identify an episode.
var ErrNoContext = errors.New("no episode context")

// TaskLoader loads task definitions.
type TaskLoader interface {
	Load(id string) (*task.Definition, error)
}

// SandboxFactory creates an idle sandbox manager.
type SandboxFactory func() *sandbox.Manager

// Resolver finds the episode context for a session key, reconstructing it
// from a handoff when this process did not start the episode.
type Resolver struct {
	Registry       *Registry
	TaskLoader     TaskLoader
	SandboxFactory SandboxFactory
	// Lookup reads handoff variables; os.LookupEnv when nil.
	Lookup func(string) (string, bool)

	logger *zap.Logger
	mu     sync.Mutex
}

// NewResolver creates a Resolver reading handoffs from the environment.
func NewResolver(logger *zap.Logger, registry *Registry, tasks TaskLoader, newSandbox SandboxFactory) *Resolver {
	return &Resolver{
		Registry:       registry,
		TaskLoader:     tasks,
		SandboxFactory: newSandbox,
		Lookup:         os.LookupEnv,
		logger:         logger,
	}
}

// Resolve returns the context registered under key, or reconnects to the
// episode described by the handoff variables and registers it under key.
func (r *Resolver) Resolve(ctx context.Context, key string) (*Context, error) {
	if c, ok := r.Registry.Get(key); ok {
		return c, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.Registry.Get(key); ok {
		return c, nil
	}

	lookup := r.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	h, err := LookupHandoff(lookup)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoContext, err)
	}
	if !h.Complete() {
		if key == DefaultKey {
			return nil, fmt.Errorf("%w: start an episode first", ErrNoContext)
		}
		return nil, fmt.Errorf("%w: session %q not found", ErrNoContext, key)
	}

	logger := logger.Episode(r.logger, h.TaskID, h.RunDir).With(zap.String("container_id", h.Sandbox.ID))
	logger.Info("reconstructing episode context from handoff")

	def, err := r.TaskLoader.Load(h.TaskID)
	if err != nil {
		return nil, err
	}

	sb := r.SandboxFactory()
	if err := sb.Reconnect(ctx, h.Sandbox); err != nil {
		return nil, err
	}

	c, err := NewContext(def, h.RunDir, sb)
	if err != nil {
		return nil, err
	}
	r.Registry.Register(key, c)
	logger.Info("episode context reconstructed", zap.String("run_dir", h.RunDir))
	return c, nil
}
