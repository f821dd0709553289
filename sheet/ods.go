package sheet

import (
	"archive/zip"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const (
	nsTable  = "urn:oasis:names:tc:opendocument:xmlns:table:1.0"
	nsText   = "urn:oasis:names:tc:opendocument:xmlns:text:1.0"
	nsOffice = "urn:oasis:names:tc:opendocument:xmlns:office:1.0"

	// Grid bounds of a sheet and of a whole workbook.
	maxRows    = 1 << 20
	maxColumns = 1 << 14
	maxCells   = 1 << 22
)

// ErrTooLarge is returned when a document expands past the grid bounds.
var ErrTooLarge = errors.New("spreadsheet too large")

// ReadODS reads an OpenDocument spreadsheet. Repeated rows and cells are
// expanded; trailing empty rows and cells are dropped. Content beyond
// 2^20 rows, 2^14 columns or 2^22 cells fails with ErrTooLarge.
func ReadODS(path string) (*Workbook, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ods archive: %w", err)
	}
	defer zr.Close()

	var content *zip.File
	for _, f := range zr.File {
		if f.Name == "content.xml" {
			content = f
			break
		}
	}
	if content == nil {
		return nil, fmt.Errorf("content.xml not found in %s", path)
	}

	rc, err := content.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open content.xml: %w", err)
	}
	defer rc.Close()

	return decodeODSContent(rc)
}

type odsDecoder struct {
	wb    *Workbook
	cells int
	err   error

	sheet        *Sheet
	pendingRows  int
	row          []Cell
	rowRepeat    int
	pendingCells int

	annotation int

	inCell     bool
	cellRepeat int
	formula    string
	paragraphs int
	capture    int
	text       strings.Builder
}

func decodeODSContent(r io.Reader) (*Workbook, error) {
	d := &odsDecoder{wb: &Workbook{}}
	dec := xml.NewDecoder(r)

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("malformed content.xml: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			d.start(t)
		case xml.EndElement:
			d.end(t)
		case xml.CharData:
			if d.capture > 0 {
				d.text.Write(t)
			}
		}
		if d.err != nil {
			return nil, d.err
		}
	}

	return d.wb, nil
}

func (d *odsDecoder) start(t xml.StartElement) {
	switch t.Name.Space {
	case nsTable:
		switch t.Name.Local {
		case "table":
			d.sheet = &Sheet{Name: attr(t, nsTable, "name")}
			d.pendingRows = 0
		case "table-row":
			d.row = nil
			d.pendingCells = 0
			d.rowRepeat = repeatAttr(t, "number-rows-repeated")
		case "table-cell", "covered-table-cell":
			d.inCell = true
			d.cellRepeat = repeatAttr(t, "number-columns-repeated")
			d.formula = attr(t, nsTable, "formula")
			d.paragraphs = 0
			d.text.Reset()
		}
	case nsOffice:
		if t.Name.Local == "annotation" {
			d.annotation++
		}
	case nsText:
		if !d.inCell || d.annotation > 0 {
			return
		}
		switch t.Name.Local {
		case "p":
			d.paragraphs++
			if d.paragraphs == 1 {
				d.capture++
			}
		case "s":
			if d.capture > 0 {
				n := 1
				if v := attr(t, nsText, "c"); v != "" {
					if c, err := strconv.Atoi(v); err == nil && c > 0 {
						n = min(c, maxColumns)
					}
				}
				d.text.WriteString(strings.Repeat(" ", n))
			}
		case "tab":
			if d.capture > 0 {
				d.text.WriteByte('\t')
			}
		case "line-break":
			if d.capture > 0 {
				d.text.WriteByte('\n')
			}
		}
	}
}

func (d *odsDecoder) end(t xml.EndElement) {
	switch t.Name.Space {
	case nsTable:
		switch t.Name.Local {
		case "table-cell", "covered-table-cell":
			d.endCell()
		case "table-row":
			d.endRow()
		case "table":
			if d.sheet != nil {
				d.wb.Sheets = append(d.wb.Sheets, d.sheet)
				d.sheet = nil
			}
		}
	case nsOffice:
		if t.Name.Local == "annotation" && d.annotation > 0 {
			d.annotation--
		}
	case nsText:
		if t.Name.Local == "p" && d.inCell && d.annotation == 0 && d.paragraphs == 1 && d.capture > 0 {
			d.capture--
		}
	}
}

func (d *odsDecoder) endCell() {
	cell := Cell{Value: d.text.String(), Formula: d.formula}
	d.inCell = false
	d.capture = 0
	if cell.Empty() {
		d.pendingCells += d.cellRepeat
		return
	}

	col := len(d.row) + d.pendingCells
	if col >= maxColumns {
		d.fail("content in column %d exceeds %d columns", col+1, maxColumns)
		return
	}
	for ; d.pendingCells > 0; d.pendingCells-- {
		d.row = append(d.row, Cell{})
	}
	for i := 0; i < min(d.cellRepeat, maxColumns-col); i++ {
		d.row = append(d.row, cell)
	}
}

func (d *odsDecoder) fail(format string, args ...any) {
	if d.err == nil {
		d.err = fmt.Errorf("%w: %s", ErrTooLarge, fmt.Sprintf(format, args...))
	}
}

func (d *odsDecoder) endRow() {
	if d.sheet == nil {
		return
	}
	if len(d.row) == 0 {
		d.pendingRows += d.rowRepeat
		return
	}

	r := len(d.sheet.Rows) + d.pendingRows
	if r >= maxRows {
		d.fail("content in row %d exceeds %d rows", r+1, maxRows)
		return
	}
	n := min(d.rowRepeat, maxRows-r)
	if d.cells += n * len(d.row); d.cells > maxCells {
		d.fail("more than %d cells", maxCells)
		return
	}
	for ; d.pendingRows > 0; d.pendingRows-- {
		d.sheet.Rows = append(d.sheet.Rows, nil)
	}
	for i := 0; i < n; i++ {
		row := make([]Cell, len(d.row))
		copy(row, d.row)
		d.sheet.Rows = append(d.sheet.Rows, row)
	}
	d.row = nil
}

func attr(t xml.StartElement, space, local string) string {
	for _, a := range t.Attr {
		if a.Name.Space == space && a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}

func repeatAttr(t xml.StartElement, local string) int {
	if v := attr(t, nsTable, local); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return 1
}
