package sandbox

import (
	"archive/tar"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), DirPermission))
		require.NoError(t, os.WriteFile(p, []byte(content), FilePermission))
	}
}

func TestFingerprintDir(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"Dockerfile":     "FROM debian\n",
		"scripts/run.sh": "echo run\n",
		"cache/blob.bin": "ignored",
		".git/HEAD":      "ref: refs/heads/main\n",
	})
	excludes := []string{"cache", ".git"}

	first, err := fingerprintDir(dir, excludes)
	require.NoError(t, err)
	assert.Len(t, first, 64)

	t.Run("IgnoresTimestamps", func(t *testing.T) {
		later := time.Now().Add(time.Hour)
		require.NoError(t, os.Chtimes(filepath.Join(dir, "Dockerfile"), later, later))
		again, err := fingerprintDir(dir, excludes)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	})

	t.Run("IgnoresExcludedPaths", func(t *testing.T) {
		writeFiles(t, dir, map[string]string{"cache/blob.bin": "changed"})
		again, err := fingerprintDir(dir, excludes)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	})

	t.Run("ChangesWithContent", func(t *testing.T) {
		writeFiles(t, dir, map[string]string{"scripts/run.sh": "echo walk\n"})
		again, err := fingerprintDir(dir, excludes)
		require.NoError(t, err)
		assert.NotEqual(t, first, again)
	})
}

func TestFileArchive(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"report.ods": "ods-bytes"})

	r, err := fileArchive(filepath.Join(dir, "report.ods"), "final.ods")
	require.NoError(t, err)

	data, err := io.ReadAll(r)
	require.NoError(t, err)

	tr := tar.NewReader(bytes.NewReader(data))
	header, err := tr.Next()
	require.NoError(t, err)
	assert.Equal(t, "final.ods", header.Name)
	assert.Equal(t, int64(len("ods-bytes")), header.Size)

	content, err := readArchiveFile(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, "ods-bytes", string(content))

	_, err = fileArchive(filepath.Join(dir, "missing.ods"), "x")
	assert.Error(t, err)

	_, err = fileArchive(dir, "x")
	assert.Error(t, err)
}

func TestReadArchiveFileSkipsDirectories(t *testing.T) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "out/", Typeflag: tar.TypeDir, Mode: 0o755}))
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "out/a.txt", Typeflag: tar.TypeReg, Mode: 0o644, Size: 2}))
	_, err := tw.Write([]byte("hi"))
	require.NoError(t, err)
	require.NoError(t, tw.Close())

	content, err := readArchiveFile(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, "hi", string(content))

	var empty bytes.Buffer
	require.NoError(t, tar.NewWriter(&empty).Close())
	_, err = readArchiveFile(&empty)
	assert.Error(t, err)
}
