// Package protocol defines the typed command contract between the host and
// the agent binary running inside a sandbox.
//
// A Request is encoded as JSON and passed as a single argument to the agent;
// the agent prints exactly one JSON Response on stdout.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Op names a sandbox-side operation.
type Op string

const (
	OpReadCell     Op = "read_cell"
	OpReadRange    Op = "read_range"
	OpWriteCell    Op = "write_cell"
	OpWriteFormula Op = "write_formula"
	OpSheetInfo    Op = "sheet_info"
	OpCreateSheet  Op = "create_sheet"
	OpListFiles    Op = "list_files"
	OpRunQuery     Op = "run_query"
	OpListTables   Op = "list_tables"
)

// Ops lists every supported operation.
var Ops = []Op{
	OpReadCell, OpReadRange, OpWriteCell, OpWriteFormula, OpSheetInfo,
	OpCreateSheet, OpListFiles, OpRunQuery, OpListTables,
}

// ErrInvalidRequest is returned by Validate.
var ErrInvalidRequest = errors.New("invalid request")

// Request is one command for the sandbox agent. File paths are relative to
// the sandbox workspace.
type Request struct {
	Op      Op     `json:"op"`
	File    string `json:"file,omitempty"`
	Sheet   string `json:"sheet,omitempty"`
	Cell    string `json:"cell,omitempty"`
	EndCell string `json:"end_cell,omitempty"`
	Value   string `json:"value,omitempty"`
	Query   string `json:"query,omitempty"`
}

// SheetInfo describes one worksheet.
type SheetInfo struct {
	Name    string `json:"name"`
	Rows    int    `json:"rows"`
	Columns int    `json:"columns"`
}

// FileInfo describes one workspace file.
type FileInfo struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// Response is the agent's reply. Error is set when OK is false.
type Response struct {
	OK      bool        `json:"ok"`
	Value   string      `json:"value,omitempty"`
	Formula string      `json:"formula,omitempty"`
	Rows    [][]string  `json:"rows,omitempty"`
	Columns []string    `json:"columns,omitempty"`
	Sheets  []SheetInfo `json:"sheets,omitempty"`
	Files   []FileInfo  `json:"files,omitempty"`
	Tables  []string    `json:"tables,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Validate checks that the fields required by r.Op are present.
func (r Request) Validate() error {
	need := func(fields ...string) error {
		values := map[string]string{
			"file": r.File, "sheet": r.Sheet, "cell": r.Cell,
			"end_cell": r.EndCell, "query": r.Query,
		}
		for _, f := range fields {
			if values[f] == "" {
				return fmt.Errorf("%w: %s requires %s", ErrInvalidRequest, r.Op, f)
			}
		}
		return nil
	}

	switch r.Op {
	case OpReadCell, OpWriteCell:
		return need("file", "cell")
	case OpWriteFormula:
		if err := need("file", "cell"); err != nil {
			return err
		}
		if r.Value == "" {
			return fmt.Errorf("%w: %s requires value", ErrInvalidRequest, r.Op)
		}
		return nil
	case OpReadRange:
		return need("file", "cell", "end_cell")
	case OpSheetInfo, OpListTables:
		return need("file")
	case OpCreateSheet:
		return need("file", "sheet")
	case OpRunQuery:
		return need("file", "query")
	case OpListFiles:
		return nil
	case "":
		return fmt.Errorf("%w: missing op", ErrInvalidRequest)
	default:
		return fmt.Errorf("%w: unknown op %q", ErrInvalidRequest, r.Op)
	}
}

// Encode returns the JSON argument passed to the agent.
func (r Request) Encode() (string, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DecodeRequest parses and validates an agent argument.
func DecodeRequest(arg string) (Request, error) {
	var r Request
	if err := json.Unmarshal([]byte(arg), &r); err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return r, r.Validate()
}

// Failure builds an error response.
func Failure(err error) *Response {
	return &Response{OK: false, Error: err.Error()}
}
