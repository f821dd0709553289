// Package task loads task definitions from a directory tree:
//
//	<tasks_dir>/<id>/task.json (or task.yaml)
//	<tasks_dir>/<id>/initial/   files copied into every run directory
//	<tasks_dir>/<id>/oracle/    reference files used for grading
package task

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Mode is the interaction style of a task.
type Mode string

const (
	// ModeToolUse tasks are solved through programmatic tools.
	ModeToolUse Mode = "tool_use"
	// ModeComputerUse tasks are solved through a GUI session.
	ModeComputerUse Mode = "computer_use"

	// DefaultTimeLimitSeconds applies when a manifest sets no limit.
	DefaultTimeLimitSeconds = 600

	initialDir = "initial"
	oracleDir  = "oracle"
)

// ErrNotFound is returned when no manifest exists for a task id.
var ErrNotFound = errors.New("task not found")

// Definition is an immutable task manifest.
type Definition struct {
	ID               string   `json:"task_id" yaml:"task_id"`
	Title            string   `json:"title" yaml:"title"`
	Description      string   `json:"description" yaml:"description"`
	TimeLimitSeconds int      `json:"time_limit_seconds" yaml:"time_limit_seconds"`
	Mode             Mode     `json:"mode,omitempty" yaml:"mode,omitempty"`
	InitialFiles     []string `json:"initial_files" yaml:"initial_files"`
	ExpectedOutputs  []string `json:"expected_outputs" yaml:"expected_outputs"`
}

// IsComputerUse reports whether the task runs in GUI mode.
func (d *Definition) IsComputerUse() bool {
	return d.Mode == ModeComputerUse
}

// Store reads tasks from a directory.
type Store struct {
	dir string
}

// NewStore creates a Store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the root directory.
func (s *Store) Dir() string { return s.dir }

// Load reads and normalizes the manifest of id.
func (s *Store) Load(id string) (*Definition, error) {
	if !validID(id) {
		return nil, fmt.Errorf("%w: invalid task id %q", ErrNotFound, id)
	}

	taskDir := filepath.Join(s.dir, id)
	var (
		def Definition
		err error
	)
	if data, readErr := os.ReadFile(filepath.Join(taskDir, "task.json")); readErr == nil {
		err = json.Unmarshal(data, &def)
	} else if data, readErr := os.ReadFile(filepath.Join(taskDir, "task.yaml")); readErr == nil {
		err = yaml.Unmarshal(data, &def)
	} else {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse manifest of task %s: %w", id, err)
	}

	if def.ID == "" {
		def.ID = id
	}
	if def.TimeLimitSeconds <= 0 {
		def.TimeLimitSeconds = DefaultTimeLimitSeconds
	}
	switch def.Mode {
	case "":
		def.Mode = ModeToolUse
	case ModeToolUse, ModeComputerUse:
	default:
		return nil, fmt.Errorf("task %s: unknown mode %q", id, def.Mode)
	}
	return &def, nil
}

// validID reports whether id names a single directory below the store.
func validID(id string) bool {
	return id != "." && filepath.IsLocal(id) && !strings.ContainsAny(id, `/\`)
}

// List returns the ids of every task with a manifest, sorted.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read tasks directory: %w", err)
	}

	ids := []string{}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		for _, manifest := range []string{"task.json", "task.yaml"} {
			if _, err := os.Stat(filepath.Join(s.dir, e.Name(), manifest)); err == nil {
				ids = append(ids, e.Name())
				break
			}
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// InitialFiles maps file names to host paths of the task's initial files.
func (s *Store) InitialFiles(id string) (map[string]string, error) {
	return s.files(id, initialDir)
}

// OracleFiles maps file names to host paths of the task's reference files.
func (s *Store) OracleFiles(id string) (map[string]string, error) {
	return s.files(id, oracleDir)
}

func (s *Store) files(id, sub string) (map[string]string, error) {
	if !validID(id) {
		return nil, fmt.Errorf("%w: invalid task id %q", ErrNotFound, id)
	}
	dir := filepath.Join(s.dir, id, sub)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}

	files := make(map[string]string, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			files[e.Name()] = filepath.Join(dir, e.Name())
		}
	}
	return files, nil
}

// Create writes a new task: the manifest plus copies of the given initial
// and oracle files (name -> source path). InitialFiles and ExpectedOutputs
// default to the names of the copied files.
func (s *Store) Create(def Definition, initial, oracle map[string]string) (string, error) {
	if !validID(def.ID) {
		return "", fmt.Errorf("invalid task id %q", def.ID)
	}
	if def.TimeLimitSeconds <= 0 {
		def.TimeLimitSeconds = DefaultTimeLimitSeconds
	}
	if def.InitialFiles == nil {
		def.InitialFiles = sortedKeys(initial)
	}
	if def.ExpectedOutputs == nil {
		def.ExpectedOutputs = sortedKeys(oracle)
	}

	taskDir := filepath.Join(s.dir, def.ID)
	for sub, files := range map[string]map[string]string{initialDir: initial, oracleDir: oracle} {
		dir := filepath.Join(taskDir, sub)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", err
		}
		for name, src := range files {
			if err := CopyFile(src, filepath.Join(dir, name)); err != nil {
				return "", fmt.Errorf("failed to copy %s: %w", name, err)
			}
		}
	}

	data, err := json.MarshalIndent(def, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(taskDir, "task.json"), append(data, '\n'), 0o644); err != nil {
		return "", err
	}
	return taskDir, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// CopyFile copies a regular file, preserving its permission bits.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	fi, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, fi.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
