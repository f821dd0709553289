// Package sandboxtest provides an in-memory sandbox.Engine for tests.
package sandboxtest

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sync"
	"time"

	"github.com/isdmx/sheetbox/sandbox"
)

// Container is the fake state of one container.
type Container struct {
	ID      string
	Spec    sandbox.ContainerSpec
	Running bool
	Removed bool
	Stopped int
	Killed  int
	Files   map[string][]byte
}

// Engine records every call and keeps containers in memory. Files copied in
// are stored by absolute container path.
type Engine struct {
	mu sync.Mutex

	Images     map[string]map[string]string
	Containers map[string]*Container
	Builds     int
	Execs      []sandbox.ExecSpec

	CreateErr  error
	StartErr   error
	BuildErr   error
	CopyToErr  error
	RunningErr error
	// ExecFunc answers Exec calls; nil means exit code 0 with no output.
	ExecFunc func(id string, spec sandbox.ExecSpec) (sandbox.ExecResult, error)

	nextID int
}

// NewEngine returns an engine that already has image.
func NewEngine(images ...string) *Engine {
	e := &Engine{
		Images:     map[string]map[string]string{},
		Containers: map[string]*Container{},
	}
	for _, img := range images {
		e.Images[img] = map[string]string{}
	}
	return e
}

// AddRunning registers a running container started elsewhere.
func (e *Engine) AddRunning(id string) *Container {
	e.mu.Lock()
	defer e.mu.Unlock()
	c := &Container{ID: id, Running: true, Files: map[string][]byte{}}
	e.Containers[id] = c
	return c
}

// Container returns a snapshot copy of the container state.
func (e *Engine) Container(id string) (Container, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.Containers[id]
	if !ok {
		return Container{}, false
	}
	cp := *c
	cp.Files = make(map[string][]byte, len(c.Files))
	for k, v := range c.Files {
		cp.Files[k] = v
	}
	return cp, true
}

// Only returns the single container created so far.
func (e *Engine) Only() (Container, bool) {
	e.mu.Lock()
	var id string
	n := 0
	for k := range e.Containers {
		id = k
		n++
	}
	e.mu.Unlock()
	if n != 1 {
		return Container{}, false
	}
	return e.Container(id)
}

// PutFile writes a file into a container as if a process inside it had.
func (e *Engine) PutFile(id, p string, data []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.Containers[id]; ok {
		c.Files[p] = data
	}
}

// ExecCount returns the number of Exec calls.
func (e *Engine) ExecCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.Execs)
}

// BuildCount returns the number of image builds.
func (e *Engine) BuildCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Builds
}

func (*Engine) Name() string { return "fake" }

func (e *Engine) ImageLabels(_ context.Context, ref string) (map[string]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	labels, ok := e.Images[ref]
	if !ok {
		return nil, fmt.Errorf("%w: %s", sandbox.ErrImageNotFound, ref)
	}
	return labels, nil
}

func (e *Engine) BuildImage(_ context.Context, buildContext io.Reader, req sandbox.BuildRequest) error {
	if _, err := io.Copy(io.Discard, buildContext); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.BuildErr != nil {
		return e.BuildErr
	}
	e.Builds++
	e.Images[req.Tag] = req.Labels
	return nil
}

func (e *Engine) Create(_ context.Context, spec sandbox.ContainerSpec) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.CreateErr != nil {
		return "", e.CreateErr
	}
	if _, ok := e.Images[spec.Image]; !ok {
		return "", fmt.Errorf("%w: %s", sandbox.ErrImageNotFound, spec.Image)
	}
	e.nextID++
	id := fmt.Sprintf("fake-%d", e.nextID)
	e.Containers[id] = &Container{ID: id, Spec: spec, Files: map[string][]byte{}}
	return id, nil
}

func (e *Engine) get(id string) (*Container, error) {
	c, ok := e.Containers[id]
	if !ok || c.Removed {
		return nil, fmt.Errorf("no such container: %s", id)
	}
	return c, nil
}

func (e *Engine) Start(_ context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.StartErr != nil {
		return e.StartErr
	}
	c, err := e.get(id)
	if err != nil {
		return err
	}
	c.Running = true
	return nil
}

func (e *Engine) Exec(_ context.Context, id string, spec sandbox.ExecSpec) (sandbox.ExecResult, error) {
	e.mu.Lock()
	e.Execs = append(e.Execs, spec)
	c, err := e.get(id)
	if err == nil && !c.Running {
		err = fmt.Errorf("container %s is not running", id)
	}
	fn := e.ExecFunc
	e.mu.Unlock()

	if err != nil {
		return sandbox.ExecResult{}, err
	}
	if fn == nil {
		return sandbox.ExecResult{Duration: time.Millisecond}, nil
	}
	return fn(id, spec)
}

func (e *Engine) CopyTo(_ context.Context, id, dir string, archive io.Reader) error {
	data, err := io.ReadAll(archive)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.CopyToErr != nil {
		return e.CopyToErr
	}
	c, err := e.get(id)
	if err != nil {
		return err
	}

	tr := tar.NewReader(bytes.NewReader(data))
	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}
		content, err := io.ReadAll(tr)
		if err != nil {
			return err
		}
		c.Files[path.Join(dir, header.Name)] = content
	}
}

func (e *Engine) CopyFrom(_ context.Context, id, p string) (io.ReadCloser, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, err := e.get(id)
	if err != nil {
		return nil, err
	}
	content, ok := c.Files[p]
	if !ok {
		return nil, fmt.Errorf("no such file: %s", p)
	}

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	if err := tw.WriteHeader(&tar.Header{Name: path.Base(p), Mode: 0o644, Size: int64(len(content))}); err != nil {
		return nil, err
	}
	if _, err := tw.Write(content); err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	return io.NopCloser(&buf), nil
}

func (e *Engine) Stop(_ context.Context, id string, _ time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, err := e.get(id)
	if err != nil {
		return err
	}
	c.Stopped++
	c.Running = false
	return nil
}

func (e *Engine) Kill(_ context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, err := e.get(id)
	if err != nil {
		return err
	}
	c.Killed++
	c.Running = false
	return nil
}

func (e *Engine) Remove(_ context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.Containers[id]; ok {
		c.Removed = true
		c.Running = false
	}
	return nil
}

func (e *Engine) Running(_ context.Context, id string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.RunningErr != nil {
		return false, e.RunningErr
	}
	c, ok := e.Containers[id]
	return ok && c.Running && !c.Removed, nil
}

var _ sandbox.Engine = (*Engine)(nil)
