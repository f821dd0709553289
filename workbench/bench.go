// Package workbench executes protocol requests against the files of a
// sandbox workspace. It runs inside the sandbox as the sheetbox-agent
// binary.
package workbench

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"

	"github.com/isdmx/sheetbox/protocol"
)

// ErrOutsideWorkspace is returned for paths that leave the workspace root.
var ErrOutsideWorkspace = errors.New("path outside workspace")

// Bench serves requests for one workspace directory.
type Bench struct {
	Root   string
	logger *zap.Logger
}

// New creates a Bench rooted at root.
func New(logger *zap.Logger, root string) *Bench {
	return &Bench{Root: root, logger: logger}
}

// Handle executes req. Failures are reported in the response, never as a
// Go error.
func (b *Bench) Handle(ctx context.Context, req protocol.Request) *protocol.Response {
	if err := req.Validate(); err != nil {
		return protocol.Failure(err)
	}

	resp, err := b.dispatch(ctx, req)
	if err != nil {
		b.logger.Debug("request failed", zap.String("op", string(req.Op)), zap.String("file", req.File), zap.Error(err))
		return protocol.Failure(err)
	}
	resp.OK = true
	return resp
}

func (b *Bench) dispatch(ctx context.Context, req protocol.Request) (*protocol.Response, error) {
	if req.Op == protocol.OpListFiles {
		return b.listFiles()
	}

	path, err := b.resolve(req.File)
	if err != nil {
		return nil, err
	}

	switch req.Op {
	case protocol.OpReadCell:
		return readCell(path, req.Sheet, req.Cell)
	case protocol.OpReadRange:
		return readRange(path, req.Sheet, req.Cell, req.EndCell)
	case protocol.OpWriteCell:
		return writeCell(path, req.Sheet, req.Cell, req.Value, false)
	case protocol.OpWriteFormula:
		return writeCell(path, req.Sheet, req.Cell, req.Value, true)
	case protocol.OpSheetInfo:
		return sheetInfo(path)
	case protocol.OpCreateSheet:
		return createSheet(path, req.Sheet)
	case protocol.OpRunQuery:
		return runQuery(ctx, path, req.Query)
	case protocol.OpListTables:
		return listTables(ctx, path)
	default:
		return nil, fmt.Errorf("%w: unknown op %q", protocol.ErrInvalidRequest, req.Op)
	}
}

// resolve maps a workspace-relative name to a host path.
func (b *Bench) resolve(name string) (string, error) {
	if !filepath.IsLocal(name) {
		return "", fmt.Errorf("%w: %s", ErrOutsideWorkspace, name)
	}
	return filepath.Join(b.Root, name), nil
}

func (b *Bench) listFiles() (*protocol.Response, error) {
	entries, err := os.ReadDir(b.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to list workspace: %w", err)
	}

	files := []protocol.FileInfo{}
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, protocol.FileInfo{Name: e.Name(), Size: info.Size()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return &protocol.Response{Files: files}, nil
}
