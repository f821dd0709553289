package sandbox

import (
	"archive/tar"
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	archive "github.com/moby/go-archive"
	"github.com/zeebo/blake3"
)

// File permission constants
const (
	DirPermission  = 0o755
	FilePermission = 0o644
)

// dirArchive streams srcDir as an uncompressed tar, skipping paths that match
// excludes (.dockerignore syntax).
func dirArchive(srcDir string, excludes []string) (io.ReadCloser, error) {
	return archive.TarWithOptions(srcDir, &archive.TarOptions{
		ExcludePatterns: excludes,
	})
}

// fileArchive wraps one host file as a tar holding a single entry named name.
func fileArchive(hostPath, name string) (io.Reader, error) {
	f, err := os.Open(hostPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if !fi.Mode().IsRegular() {
		return nil, fmt.Errorf("not a regular file: %s", hostPath)
	}

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	header := &tar.Header{
		Name:    name,
		Mode:    FilePermission,
		Size:    fi.Size(),
		ModTime: fi.ModTime(),
	}
	if err := tw.WriteHeader(header); err != nil {
		return nil, err
	}
	if _, err := io.Copy(tw, f); err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	return &buf, nil
}

// readArchiveFile returns the contents of the first regular file in a tar.
func readArchiveFile(r io.Reader) ([]byte, error) {
	tr := tar.NewReader(r)
	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("archive holds no regular file")
		}
		if err != nil {
			return nil, fmt.Errorf("error reading tar: %w", err)
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}
		return io.ReadAll(tr)
	}
}

// fingerprintDir hashes names, modes and contents of the files an image
// build would send, ignoring timestamps.
func fingerprintDir(srcDir string, excludes []string) (string, error) {
	rc, err := dirArchive(srcDir, excludes)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	h := blake3.New()
	tr := tar.NewReader(rc)
	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("error reading build context: %w", err)
		}

		_, _ = io.WriteString(h, filepath.ToSlash(header.Name))
		_, _ = io.WriteString(h, "\x00"+strconv.FormatInt(header.Mode, 8)+"\x00"+header.Linkname+"\x00")
		if header.Typeflag == tar.TypeReg {
			if _, err := io.Copy(h, tr); err != nil {
				return "", err
			}
		}
		_, _ = h.Write([]byte{0})
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
