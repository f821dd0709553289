package sheet

import (
	"archive/zip"
	"bufio"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
)

const (
	odsMimeType = "application/vnd.oasis.opendocument.spreadsheet"

	odsManifest = `<?xml version="1.0" encoding="UTF-8"?>
<manifest:manifest xmlns:manifest="urn:oasis:names:tc:opendocument:xmlns:manifest:1.0" manifest:version="1.2">
 <manifest:file-entry manifest:full-path="/" manifest:version="1.2" manifest:media-type="` + odsMimeType + `"/>
 <manifest:file-entry manifest:full-path="content.xml" manifest:media-type="text/xml"/>
</manifest:manifest>
`

	odsContentHeader = `<?xml version="1.0" encoding="UTF-8"?>
<office:document-content xmlns:office="` + nsOffice + `" xmlns:table="` + nsTable + `" xmlns:text="` + nsText + `" office:version="1.2">
<office:body><office:spreadsheet>
`
	odsContentFooter = "</office:spreadsheet></office:body></office:document-content>\n"
)

var a1RefPattern = regexp.MustCompile(`(?:('[^']+'|[A-Za-z_][A-Za-z0-9_]*)!)?\$?[A-Za-z]{1,3}\$?[0-9]+(?::\$?[A-Za-z]{1,3}\$?[0-9]+)?`)

// WriteODS writes wb as an OpenDocument spreadsheet. Only cell values and
// formulas are stored; styles of a previously read document are not kept.
func WriteODS(path string, wb *Workbook) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := encodeODS(f, wb); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func encodeODS(w io.Writer, wb *Workbook) error {
	zw := zip.NewWriter(w)

	// The mimetype entry must come first and be stored uncompressed.
	mt, err := zw.CreateHeader(&zip.FileHeader{Name: "mimetype", Method: zip.Store})
	if err != nil {
		return err
	}
	if _, err := io.WriteString(mt, odsMimeType); err != nil {
		return err
	}

	manifest, err := zw.Create("META-INF/manifest.xml")
	if err != nil {
		return err
	}
	if _, err := io.WriteString(manifest, odsManifest); err != nil {
		return err
	}

	content, err := zw.Create("content.xml")
	if err != nil {
		return err
	}
	if err := EncodeODSContent(content, wb); err != nil {
		return err
	}
	return zw.Close()
}

// EncodeODSContent writes the content.xml document of wb.
func EncodeODSContent(w io.Writer, wb *Workbook) error {
	bw := bufio.NewWriter(w)
	bw.WriteString(odsContentHeader)
	for _, s := range wb.Sheets {
		bw.WriteString(`<table:table table:name="`)
		xml.EscapeText(bw, []byte(s.Name))
		bw.WriteString(`">`)
		for _, row := range s.Rows {
			bw.WriteString("<table:table-row>")
			if len(row) == 0 {
				bw.WriteString("<table:table-cell/>")
			}
			for _, c := range row {
				writeODSCell(bw, c)
			}
			bw.WriteString("</table:table-row>")
		}
		bw.WriteString("</table:table>\n")
	}
	bw.WriteString(odsContentFooter)
	return bw.Flush()
}

func writeODSCell(w *bufio.Writer, c Cell) {
	if c.Empty() {
		w.WriteString("<table:table-cell/>")
		return
	}

	w.WriteString("<table:table-cell")
	if c.Formula != "" {
		w.WriteString(` table:formula="`)
		xml.EscapeText(w, []byte(ToODFFormula(c.Formula)))
		w.WriteString(`"`)
	}
	if _, err := strconv.ParseFloat(strings.TrimSpace(c.Value), 64); err == nil {
		w.WriteString(` office:value-type="float" office:value="`)
		xml.EscapeText(w, []byte(strings.TrimSpace(c.Value)))
		w.WriteString(`"`)
	} else {
		w.WriteString(` office:value-type="string"`)
	}
	w.WriteString("><text:p>")
	xml.EscapeText(w, []byte(c.Value))
	w.WriteString("</text:p></table:table-cell>")
}

// ToODFFormula converts an A1-style formula ("=SUM(A1:A3)") to OpenFormula
// syntax ("of:=SUM([.A1:.A3])"). Formulas already prefixed with "of:" are
// returned unchanged.
func ToODFFormula(f string) string {
	f = strings.TrimSpace(f)
	if strings.HasPrefix(strings.ToLower(f), "of:") {
		return f
	}
	f = strings.TrimPrefix(f, "=")

	var b strings.Builder
	b.WriteString("of:=")

	inString := false
	last := 0
	for _, loc := range a1RefPattern.FindAllStringSubmatchIndex(f, -1) {
		start, end := loc[0], loc[1]
		// Copy the text before the match, tracking string literals.
		for i := last; i < start; i++ {
			if f[i] == '"' {
				inString = !inString
			}
			b.WriteByte(odfSeparator(f[i], inString))
		}
		last = start

		if inString || isRefBoundary(f, start, end) {
			continue
		}

		sheetName := ""
		if loc[2] >= 0 {
			sheetName = f[loc[2]:loc[3]]
		}
		ref := f[start:end]
		if sheetName != "" {
			ref = ref[len(sheetName)+1:]
		}
		parts := strings.Split(ref, ":")
		b.WriteByte('[')
		b.WriteString(sheetName)
		b.WriteByte('.')
		b.WriteString(parts[0])
		if len(parts) == 2 {
			b.WriteString(":.")
			b.WriteString(parts[1])
		}
		b.WriteByte(']')
		last = end
	}
	for i := last; i < len(f); i++ {
		if f[i] == '"' {
			inString = !inString
		}
		b.WriteByte(odfSeparator(f[i], inString))
	}
	return b.String()
}

// isRefBoundary reports whether the match at f[start:end] is part of a
// longer identifier or a function name rather than a cell reference.
func isRefBoundary(f string, start, end int) bool {
	if start > 0 {
		p := f[start-1]
		if p == '_' || p == '.' || p == '[' || (p >= 'A' && p <= 'Z') || (p >= 'a' && p <= 'z') || (p >= '0' && p <= '9') {
			return true
		}
	}
	if end < len(f) {
		n := f[end]
		if n == '(' || n == '_' || (n >= 'A' && n <= 'Z') || (n >= 'a' && n <= 'z') || (n >= '0' && n <= '9') {
			return true
		}
	}
	return false
}

func odfSeparator(c byte, inString bool) byte {
	if c == ',' && !inString {
		return ';'
	}
	return c
}
