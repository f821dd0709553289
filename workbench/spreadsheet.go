package workbench

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/isdmx/sheetbox/protocol"
	"github.com/isdmx/sheetbox/sheet"
)

const defaultSheet = "Sheet1"

func isXLSX(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return true
	}
	return false
}

func isODS(path string) bool {
	return strings.ToLower(filepath.Ext(path)) == ".ods"
}

func pickSheet(wb *sheet.Workbook, name string) (*sheet.Sheet, error) {
	if name == "" {
		if len(wb.Sheets) == 0 {
			return nil, errors.New("workbook has no sheets")
		}
		return wb.Sheets[0], nil
	}
	s := wb.Sheet(name)
	if s == nil {
		return nil, fmt.Errorf("sheet %q not found", name)
	}
	return s, nil
}

func readCell(path, sheetName, cell string) (*protocol.Response, error) {
	ref, err := sheet.ParseCellRef(cell)
	if err != nil {
		return nil, err
	}

	if isXLSX(path) {
		return readXLSXCell(path, sheetName, ref)
	}

	wb, err := sheet.Read(path)
	if err != nil {
		return nil, err
	}
	s, err := pickSheet(wb, sheetName)
	if err != nil {
		return nil, err
	}
	c, _ := s.Cell(ref)
	return &protocol.Response{Value: c.Value, Formula: c.Formula}, nil
}

// readXLSXCell computes formula cells that have no cached value, which is
// the case for formulas written by this package.
func readXLSXCell(path, sheetName string, ref sheet.CellRef) (*protocol.Response, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	if sheetName == "" {
		sheetName = f.GetSheetName(0)
	} else if idx, _ := f.GetSheetIndex(sheetName); idx < 0 {
		return nil, fmt.Errorf("sheet %q not found", sheetName)
	}

	axis := ref.String()
	value, err := f.GetCellValue(sheetName, axis)
	if err != nil {
		return nil, err
	}
	formula, err := f.GetCellFormula(sheetName, axis)
	if err != nil {
		return nil, err
	}
	if formula != "" {
		if value == "" {
			if computed, err := f.CalcCellValue(sheetName, axis); err == nil {
				value = computed
			}
		}
		formula = "=" + formula
	}
	return &protocol.Response{Value: value, Formula: formula}, nil
}

func readRange(path, sheetName, start, end string) (*protocol.Response, error) {
	from, err := sheet.ParseCellRef(start)
	if err != nil {
		return nil, err
	}
	to, err := sheet.ParseCellRef(end)
	if err != nil {
		return nil, err
	}
	if to.Row < from.Row {
		from.Row, to.Row = to.Row, from.Row
	}
	if to.Col < from.Col {
		from.Col, to.Col = to.Col, from.Col
	}

	wb, err := sheet.Read(path)
	if err != nil {
		return nil, err
	}
	s, err := pickSheet(wb, sheetName)
	if err != nil {
		return nil, err
	}

	rows := make([][]string, 0, to.Row-from.Row+1)
	for r := from.Row; r <= to.Row; r++ {
		row := make([]string, 0, to.Col-from.Col+1)
		for c := from.Col; c <= to.Col; c++ {
			cell, _ := s.Cell(sheet.CellRef{Row: r, Col: c})
			row = append(row, cell.Value)
		}
		rows = append(rows, row)
	}
	return &protocol.Response{Rows: rows}, nil
}

func writeCell(path, sheetName, cell, value string, formula bool) (*protocol.Response, error) {
	ref, err := sheet.ParseCellRef(cell)
	if err != nil {
		return nil, err
	}

	switch {
	case isXLSX(path):
		err = editXLSX(path, sheetName, func(f *excelize.File, name string) error {
			axis := ref.String()
			if formula {
				return f.SetCellFormula(name, axis, strings.TrimPrefix(strings.TrimSpace(value), "="))
			}
			if n, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
				return f.SetCellValue(name, axis, n)
			}
			return f.SetCellValue(name, axis, value)
		})
	case isODS(path):
		err = editODS(path, sheetName, func(s *sheet.Sheet) error {
			c := sheet.Cell{Value: value}
			if formula {
				c = sheet.Cell{Formula: sheet.ToODFFormula(value)}
			}
			s.SetCell(ref, c)
			return nil
		})
	default:
		err = fmt.Errorf("unsupported spreadsheet format: %s", filepath.Base(path))
	}
	if err != nil {
		return nil, err
	}
	return &protocol.Response{Value: fmt.Sprintf("wrote %s", ref)}, nil
}

// editXLSX opens or creates the workbook at path, applies fn to the target
// sheet and saves. A new workbook's first sheet takes the requested name.
func editXLSX(path, sheetName string, fn func(f *excelize.File, name string) error) error {
	var f *excelize.File
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		f = excelize.NewFile()
		if sheetName != "" && sheetName != defaultSheet {
			if err := f.SetSheetName(defaultSheet, sheetName); err != nil {
				return err
			}
		}
	} else {
		if f, err = excelize.OpenFile(path); err != nil {
			return fmt.Errorf("failed to open workbook: %w", err)
		}
	}
	defer f.Close()

	if sheetName == "" {
		sheetName = f.GetSheetName(0)
	} else if idx, _ := f.GetSheetIndex(sheetName); idx < 0 {
		return fmt.Errorf("sheet %q not found", sheetName)
	}

	if err := fn(f, sheetName); err != nil {
		return err
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save workbook: %w", err)
	}
	return nil
}

// editODS reads or creates the document at path, applies fn to the target
// sheet and rewrites the document.
func editODS(path, sheetName string, fn func(s *sheet.Sheet) error) error {
	var wb *sheet.Workbook
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		name := sheetName
		if name == "" {
			name = defaultSheet
		}
		wb = &sheet.Workbook{Sheets: []*sheet.Sheet{{Name: name}}}
	} else {
		if wb, err = sheet.ReadODS(path); err != nil {
			return err
		}
	}

	s, err := pickSheet(wb, sheetName)
	if err != nil {
		return err
	}
	if err := fn(s); err != nil {
		return err
	}
	return sheet.WriteODS(path, wb)
}

func sheetInfo(path string) (*protocol.Response, error) {
	wb, err := sheet.Read(path)
	if err != nil {
		return nil, err
	}
	infos := make([]protocol.SheetInfo, 0, len(wb.Sheets))
	for _, s := range wb.Sheets {
		infos = append(infos, protocol.SheetInfo{Name: s.Name, Rows: len(s.Rows), Columns: s.Columns()})
	}
	return &protocol.Response{Sheets: infos}, nil
}

// createSheet adds a sheet, creating the file when it does not exist.
func createSheet(path, name string) (*protocol.Response, error) {
	_, statErr := os.Stat(path)
	exists := statErr == nil

	switch {
	case isXLSX(path):
		if !exists {
			err := editXLSX(path, name, func(*excelize.File, string) error { return nil })
			if err != nil {
				return nil, err
			}
			break
		}
		err := editXLSX(path, "", func(f *excelize.File, _ string) error {
			if idx, _ := f.GetSheetIndex(name); idx >= 0 {
				return fmt.Errorf("sheet %q already exists", name)
			}
			_, err := f.NewSheet(name)
			return err
		})
		if err != nil {
			return nil, err
		}
	case isODS(path):
		if !exists {
			wb := &sheet.Workbook{Sheets: []*sheet.Sheet{{Name: name}}}
			if err := sheet.WriteODS(path, wb); err != nil {
				return nil, err
			}
			break
		}
		wb, err := sheet.ReadODS(path)
		if err != nil {
			return nil, err
		}
		if _, err := wb.AddSheet(name); err != nil {
			return nil, err
		}
		if err := sheet.WriteODS(path, wb); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported spreadsheet format: %s", filepath.Base(path))
	}
	return &protocol.Response{Value: fmt.Sprintf("created sheet %s in %s", name, filepath.Base(path))}, nil
}
