package episode

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocateRunDirSequential(t *testing.T) {
	runs := t.TempDir()

	_, err := AllocateRunDir(runs, "other", nil)
	require.NoError(t, err)

	for want := 1; want <= 3; want++ {
		rd, err := AllocateRunDir(runs, "sum", nil)
		require.NoError(t, err)
		assert.Equal(t, want, rd.Number)
		assert.Equal(t, filepath.Join(runs, "sum", RunDirName(want)), rd.Path)
		assert.DirExists(t, rd.Path)
	}
}

func TestAllocateRunDirExplicit(t *testing.T) {
	runs := t.TempDir()
	seven := 7

	rd, err := AllocateRunDir(runs, "sum", &seven)
	require.NoError(t, err)
	assert.Equal(t, "run_007", filepath.Base(rd.Path))

	_, err = AllocateRunDir(runs, "sum", &seven)
	assert.ErrorContains(t, err, "already exists")

	zero := 0
	_, err = AllocateRunDir(runs, "sum", &zero)
	assert.Error(t, err)

	rd, err = AllocateRunDir(runs, "sum", nil)
	require.NoError(t, err)
	assert.Equal(t, 8, rd.Number)
}

func TestAllocateRunDirSkipsDeletedNumbers(t *testing.T) {
	runs := t.TempDir()
	for range 2 {
		_, err := AllocateRunDir(runs, "sum", nil)
		require.NoError(t, err)
	}
	require.NoError(t, os.Remove(filepath.Join(runs, "sum", "run_001")))

	rd, err := AllocateRunDir(runs, "sum", nil)
	require.NoError(t, err)
	assert.Equal(t, 3, rd.Number)
}
