package episode

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/isdmx/sheetbox/sandbox"
	"github.com/isdmx/sheetbox/task"
)

// DefaultKey is the session key of single-episode use.
const DefaultKey = ""

// Context is the state of one in-flight episode.
type Context struct {
	TaskID  string
	RunDir  string
	Sandbox *sandbox.Manager
	Task    *task.Definition
}

// NewContext builds a Context; the run directory must exist.
func NewContext(def *task.Definition, runDir string, sb *sandbox.Manager) (*Context, error) {
	if fi, err := os.Stat(runDir); err != nil || !fi.IsDir() {
		return nil, fmt.Errorf("run directory does not exist: %s", runDir)
	}
	return &Context{TaskID: def.ID, RunDir: runDir, Sandbox: sb, Task: def}, nil
}

// CollectOutputs copies the expected outputs of a snapshot sandbox back into
// the run directory. Bind-mounted sandboxes write there directly. Files that
// cannot be copied are skipped and reported together; grading reports them
// as missing.
func (c *Context) CollectOutputs(ctx context.Context) error {
	desc, ok := c.Sandbox.Descriptor()
	if !ok || desc.Mode != sandbox.MountSnapshot {
		return nil
	}

	var errs []error
	for _, name := range c.Task.ExpectedOutputs {
		files, err := c.Sandbox.CopyOut(ctx, []string{name})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := os.WriteFile(filepath.Join(c.RunDir, name), files[name], 0o644); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Registry maps session keys to episode contexts.
type Registry struct {
	mu       sync.RWMutex
	contexts map[string]*Context
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{contexts: map[string]*Context{}}
}

// Register stores c under key, replacing any previous context.
func (r *Registry) Register(key string, c *Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.contexts[key] = c
}

// Get returns the context under key.
func (r *Registry) Get(key string) (*Context, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.contexts[key]
	return c, ok
}

// Has reports whether a context is registered under key.
func (r *Registry) Has(key string) bool {
	_, ok := r.Get(key)
	return ok
}

// Clear removes the context under key.
func (r *Registry) Clear(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.contexts, key)
}
