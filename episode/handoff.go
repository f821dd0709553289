package episode

import (
	"fmt"
	"sort"

	"github.com/joho/godotenv"

	"github.com/isdmx/sheetbox/sandbox"
)

// Environment variables that identify an episode to another process.
const (
	EnvTaskID       = "SHEETBOX_EPISODE_TASK_ID"
	EnvRunDir       = "SHEETBOX_EPISODE_RUN_DIR"
	EnvSandboxID    = "SHEETBOX_SANDBOX_ID"
	EnvSandboxMount = "SHEETBOX_SANDBOX_MOUNT"
	EnvSandboxMode  = "SHEETBOX_SANDBOX_MODE"
	// EnvHandoffFile names a dotenv file holding the variables above.
	EnvHandoffFile = "SHEETBOX_HANDOFF_FILE"
)

// Handoff is the serializable identity of a running episode.
type Handoff struct {
	TaskID  string
	RunDir  string
	Sandbox sandbox.Descriptor
}

// Vars returns the handoff as environment variables. Optional fields are
// omitted when empty.
func (h Handoff) Vars() map[string]string {
	vars := map[string]string{
		EnvTaskID:    h.TaskID,
		EnvRunDir:    h.RunDir,
		EnvSandboxID: h.Sandbox.ID,
	}
	if h.Sandbox.MountPath != "" {
		vars[EnvSandboxMount] = h.Sandbox.MountPath
	}
	if h.Sandbox.Mode != "" {
		vars[EnvSandboxMode] = string(h.Sandbox.Mode)
	}
	return vars
}

// Environ returns the handoff in os.Environ form, sorted by key.
func (h Handoff) Environ() []string {
	vars := h.Vars()
	env := make([]string, 0, len(vars))
	for k, v := range vars {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)
	return env
}

// WriteEnvFile persists the handoff as a dotenv file.
func (h Handoff) WriteEnvFile(path string) error {
	if err := godotenv.Write(h.Vars(), path); err != nil {
		return fmt.Errorf("failed to write handoff file: %w", err)
	}
	return nil
}

// Complete reports whether the three identifying fields are set.
func (h Handoff) Complete() bool {
	return h.TaskID != "" && h.RunDir != "" && h.Sandbox.ID != ""
}

// LookupHandoff reads a handoff through lookup. When EnvHandoffFile is set,
// the file fills the variables lookup does not provide.
func LookupHandoff(lookup func(string) (string, bool)) (Handoff, error) {
	get := func(key string) string {
		v, _ := lookup(key)
		return v
	}

	if file := get(EnvHandoffFile); file != "" {
		vars, err := godotenv.Read(file)
		if err != nil {
			return Handoff{}, fmt.Errorf("failed to read handoff file %s: %w", file, err)
		}
		env := get
		get = func(key string) string {
			if v := env(key); v != "" {
				return v
			}
			return vars[key]
		}
	}

	return Handoff{
		TaskID: get(EnvTaskID),
		RunDir: get(EnvRunDir),
		Sandbox: sandbox.Descriptor{
			ID:        get(EnvSandboxID),
			MountPath: get(EnvSandboxMount),
			Mode:      sandbox.MountMode(get(EnvSandboxMode)),
		},
	}, nil
}
