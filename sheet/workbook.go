package sheet

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Cell is the atomic unit compared during grading.
type Cell struct {
	Value   string `json:"value"`
	Formula string `json:"formula,omitempty"`
}

// Empty reports whether the cell has neither a value nor a formula.
func (c Cell) Empty() bool {
	return strings.TrimSpace(c.Value) == "" && strings.TrimSpace(c.Formula) == ""
}

// Sheet is a named, ragged grid of cells.
type Sheet struct {
	Name string
	Rows [][]Cell
}

// Cell returns the cell at ref and whether it lies inside the grid.
func (s *Sheet) Cell(ref CellRef) (Cell, bool) {
	if s == nil || ref.Row < 0 || ref.Row >= len(s.Rows) {
		return Cell{}, false
	}
	row := s.Rows[ref.Row]
	if ref.Col < 0 || ref.Col >= len(row) {
		return Cell{}, false
	}
	return row[ref.Col], true
}

// SetCell stores c at ref, growing the grid as needed.
func (s *Sheet) SetCell(ref CellRef, c Cell) {
	for len(s.Rows) <= ref.Row {
		s.Rows = append(s.Rows, nil)
	}
	row := s.Rows[ref.Row]
	for len(row) <= ref.Col {
		row = append(row, Cell{})
	}
	row[ref.Col] = c
	s.Rows[ref.Row] = row
}

// Columns returns the width of the widest row.
func (s *Sheet) Columns() int {
	n := 0
	for _, row := range s.Rows {
		n = max(n, len(row))
	}
	return n
}

// NonEmptyCells counts the cells that participate in scoring.
func (s *Sheet) NonEmptyCells() int {
	n := 0
	for _, row := range s.Rows {
		for _, c := range row {
			if !c.Empty() {
				n++
			}
		}
	}
	return n
}

// Workbook holds sheets in document order.
type Workbook struct {
	Sheets []*Sheet
}

// Sheet looks up a sheet by name; nil when absent.
func (w *Workbook) Sheet(name string) *Sheet {
	for _, s := range w.Sheets {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// AddSheet appends an empty sheet. Names must be unique.
func (w *Workbook) AddSheet(name string) (*Sheet, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("sheet name is empty")
	}
	if w.Sheet(name) != nil {
		return nil, fmt.Errorf("sheet %q already exists", name)
	}
	s := &Sheet{Name: name}
	w.Sheets = append(w.Sheets, s)
	return s, nil
}

// Names returns the sheet names in document order.
func (w *Workbook) Names() []string {
	names := make([]string, 0, len(w.Sheets))
	for _, s := range w.Sheets {
		names = append(names, s.Name)
	}
	return names
}

// Read parses a spreadsheet file, choosing the reader by extension.
func Read(path string) (*Workbook, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ods":
		return ReadODS(path)
	case ".xlsx", ".xlsm":
		return ReadXLSX(path)
	default:
		return nil, fmt.Errorf("unsupported spreadsheet format: %s", filepath.Base(path))
	}
}
