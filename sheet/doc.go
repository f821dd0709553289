// Package sheet reads spreadsheet documents into a per-sheet grid of cell
// records.
//
// Each cell carries its displayed value and, when present, its formula. The
// package understands OpenDocument spreadsheets (.ods) and Office Open XML
// workbooks (.xlsx) and provides A1-style cell reference parsing.
//
// Usage:
//
//	wb, err := sheet.Read("/runs/sales/run_001/report.ods")
//	if err != nil {
//	    return err
//	}
//	cell, ok := wb.Sheet("Summary").Cell(sheet.MustParseCellRef("B5"))
package sheet
