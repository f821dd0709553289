package sheet

import (
	"fmt"

	"github.com/xuri/excelize/v2"
)

// ReadXLSX reads an Office Open XML workbook. Values are the formatted cell
// text; formulas are returned with a leading "=".
func ReadXLSX(path string) (*Workbook, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open xlsx workbook: %w", err)
	}
	defer f.Close()

	wb := &Workbook{}
	for _, name := range f.GetSheetList() {
		rows, err := f.GetRows(name)
		if err != nil {
			return nil, fmt.Errorf("failed to read sheet %q: %w", name, err)
		}

		s := &Sheet{Name: name, Rows: make([][]Cell, len(rows))}
		for r, row := range rows {
			cells := make([]Cell, len(row))
			for c, v := range row {
				cells[c].Value = v
				axis, err := excelize.CoordinatesToCellName(c+1, r+1)
				if err != nil {
					return nil, err
				}
				formula, err := f.GetCellFormula(name, axis)
				if err != nil {
					return nil, fmt.Errorf("failed to read formula %s!%s: %w", name, axis, err)
				}
				if formula != "" {
					cells[c].Formula = "=" + formula
				}
			}
			s.Rows[r] = cells
		}
		wb.Sheets = append(wb.Sheets, s)
	}

	return wb, nil
}
