// Package sheettest writes small spreadsheet fixtures for tests.
package sheettest

import (
	"archive/zip"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/isdmx/sheetbox/sheet"
)

// Sheet is a fixture sheet; rows are ragged.
type Sheet struct {
	Name string
	Rows [][]sheet.Cell
}

// V is a value-only cell.
func V(value string) sheet.Cell { return sheet.Cell{Value: value} }

// F is a formula cell with its cached value.
func F(formula, value string) sheet.Cell { return sheet.Cell{Value: value, Formula: formula} }

// Workbook converts fixture sheets into a workbook.
func Workbook(sheets ...Sheet) *sheet.Workbook {
	wb := &sheet.Workbook{}
	for _, s := range sheets {
		wb.Sheets = append(wb.Sheets, &sheet.Sheet{Name: s.Name, Rows: s.Rows})
	}
	return wb
}

// WriteODS writes sheets as an OpenDocument spreadsheet to path.
func WriteODS(tb testing.TB, path string, sheets ...Sheet) {
	tb.Helper()
	require.NoError(tb, sheet.WriteODS(path, Workbook(sheets...)))
}

// WriteODSContent writes an ODS archive with a raw content.xml.
func WriteODSContent(tb testing.TB, path, content string) {
	tb.Helper()

	f, err := os.Create(path)
	require.NoError(tb, err)
	defer f.Close()

	zw := zip.NewWriter(f)
	mt, err := zw.CreateHeader(&zip.FileHeader{Name: "mimetype", Method: zip.Store})
	require.NoError(tb, err)
	_, err = mt.Write([]byte("application/vnd.oasis.opendocument.spreadsheet"))
	require.NoError(tb, err)

	w, err := zw.Create("content.xml")
	require.NoError(tb, err)
	_, err = w.Write([]byte(content))
	require.NoError(tb, err)

	require.NoError(tb, zw.Close())
}
