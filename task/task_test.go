package task

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestStoreLoad(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)

	writeFile(t, filepath.Join(dir, "sum_column", "task.json"), `{
  "task_id": "sum_column",
  "title": "Sum a column",
  "description": "Put the total of B2:B10 in B11.",
  "time_limit_seconds": 120,
  "initial_files": ["budget.xlsx"],
  "expected_outputs": ["budget.xlsx"]
}`)
	writeFile(t, filepath.Join(dir, "format_gui", "task.yaml"), `
title: Format in the GUI
description: Bold the header row.
mode: computer_use
initial_files: [report.ods]
expected_outputs: [report.ods]
`)
	writeFile(t, filepath.Join(dir, "bad_mode", "task.json"), `{"mode": "telepathy"}`)
	writeFile(t, filepath.Join(dir, "broken", "task.json"), `{`)

	def, err := store.Load("sum_column")
	require.NoError(t, err)
	assert.Equal(t, "Sum a column", def.Title)
	assert.Equal(t, 120, def.TimeLimitSeconds)
	assert.Equal(t, ModeToolUse, def.Mode)
	assert.False(t, def.IsComputerUse())
	assert.Equal(t, []string{"budget.xlsx"}, def.ExpectedOutputs)

	def, err = store.Load("format_gui")
	require.NoError(t, err)
	assert.Equal(t, "format_gui", def.ID)
	assert.Equal(t, DefaultTimeLimitSeconds, def.TimeLimitSeconds)
	assert.True(t, def.IsComputerUse())

	_, err = store.Load("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.Load("../sum_column")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.Load("bad_mode")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)

	_, err = store.Load("broken")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestStoreRejectsEscapingIDs(t *testing.T) {
	root := t.TempDir()
	tasksDir := filepath.Join(root, "tasks")
	manifest := `{"task_id": "outside", "title": "Outside"}`
	writeFile(t, filepath.Join(root, "task.json"), manifest)
	writeFile(t, filepath.Join(tasksDir, "task.json"), manifest)
	writeFile(t, filepath.Join(root, "oracle", "secret.ods"), "x")
	store := NewStore(tasksDir)

	for _, id := range []string{"..", ".", "", "a/b", `a\b`, "../tasks", "/etc"} {
		t.Run(id, func(t *testing.T) {
			_, err := store.Load(id)
			assert.ErrorIs(t, err, ErrNotFound)

			_, err = store.OracleFiles(id)
			assert.ErrorIs(t, err, ErrNotFound)

			_, err = store.Create(Definition{ID: id}, nil, nil)
			assert.Error(t, err)
		})
	}
}

func TestStoreList(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)

	writeFile(t, filepath.Join(dir, "b_task", "task.json"), `{}`)
	writeFile(t, filepath.Join(dir, "a_task", "task.yaml"), `title: a`)
	writeFile(t, filepath.Join(dir, "no_manifest", "initial", "x.xlsx"), "x")
	writeFile(t, filepath.Join(dir, "README.md"), "docs")

	ids, err := store.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"a_task", "b_task"}, ids)

	ids, err = NewStore(filepath.Join(dir, "absent")).List()
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestStoreCreateAndFiles(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "in.xlsx"), "initial")
	writeFile(t, filepath.Join(src, "out.xlsx"), "oracle")

	store := NewStore(t.TempDir())
	taskDir, err := store.Create(Definition{ID: "copy_task", Title: "Copy"},
		map[string]string{"data.xlsx": filepath.Join(src, "in.xlsx")},
		map[string]string{"data.xlsx": filepath.Join(src, "out.xlsx")})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(store.Dir(), "copy_task"), taskDir)

	def, err := store.Load("copy_task")
	require.NoError(t, err)
	assert.Equal(t, []string{"data.xlsx"}, def.InitialFiles)
	assert.Equal(t, []string{"data.xlsx"}, def.ExpectedOutputs)
	assert.Equal(t, DefaultTimeLimitSeconds, def.TimeLimitSeconds)

	initial, err := store.InitialFiles("copy_task")
	require.NoError(t, err)
	data, err := os.ReadFile(initial["data.xlsx"])
	require.NoError(t, err)
	assert.Equal(t, "initial", string(data))

	oracle, err := store.OracleFiles("copy_task")
	require.NoError(t, err)
	data, err = os.ReadFile(oracle["data.xlsx"])
	require.NoError(t, err)
	assert.Equal(t, "oracle", string(data))

	none, err := store.OracleFiles("unknown")
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = store.Create(Definition{ID: "../escape"}, nil, nil)
	assert.Error(t, err)
}
