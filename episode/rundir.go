package episode

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const runDirPrefix = "run_"

// RunDir is the workspace of one episode attempt.
type RunDir struct {
	Path   string
	Number int
}

// RunDirName formats an episode number as a directory name.
func RunDirName(number int) string {
	return fmt.Sprintf("%s%03d", runDirPrefix, number)
}

// AllocateRunDir creates runs/<taskID>/run_NNN. Without an explicit number
// the next one is the count of existing subdirectories plus one, bumped past
// the highest existing number so a deleted run never gets its number reused.
// An explicit number must not exist yet.
func AllocateRunDir(runsDir, taskID string, number *int) (RunDir, error) {
	taskRuns := filepath.Join(runsDir, taskID)
	if err := os.MkdirAll(taskRuns, 0o755); err != nil {
		return RunDir{}, fmt.Errorf("failed to create runs directory: %w", err)
	}

	n := 0
	if number != nil {
		if *number < 1 {
			return RunDir{}, fmt.Errorf("invalid episode number %d", *number)
		}
		n = *number
	} else {
		count, highest, err := scanRuns(taskRuns)
		if err != nil {
			return RunDir{}, err
		}
		n = max(count+1, highest+1)
	}

	path := filepath.Join(taskRuns, RunDirName(n))
	if err := os.Mkdir(path, 0o755); err != nil {
		if errors.Is(err, os.ErrExist) {
			return RunDir{}, fmt.Errorf("run directory %s already exists", path)
		}
		return RunDir{}, fmt.Errorf("failed to create run directory: %w", err)
	}
	return RunDir{Path: path, Number: n}, nil
}

func scanRuns(dir string) (count, highest int, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read runs directory: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		count++
		if n, err := strconv.Atoi(strings.TrimPrefix(e.Name(), runDirPrefix)); err == nil && n > highest {
			highest = n
		}
	}
	return count, highest, nil
}
