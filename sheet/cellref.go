package sheet

import (
	"fmt"
	"strconv"
	"strings"
)

// CellRef is a zero-indexed cell position.
type CellRef struct {
	Row int
	Col int
}

// ParseCellRef parses A1 notation ("B5" -> {Row: 4, Col: 1}). Lowercase
// letters and "$" absolute markers are accepted.
func ParseCellRef(s string) (CellRef, error) {
	s = strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "$", ""))

	i := 0
	for i < len(s) && s[i] >= 'A' && s[i] <= 'Z' {
		i++
	}
	if i == 0 || i == len(s) {
		return CellRef{}, fmt.Errorf("invalid cell reference: %q", s)
	}

	col, err := ColumnIndex(s[:i])
	if err != nil {
		return CellRef{}, err
	}

	row, err := strconv.Atoi(s[i:])
	if err != nil || row < 1 {
		return CellRef{}, fmt.Errorf("invalid row in cell reference: %q", s)
	}

	return CellRef{Row: row - 1, Col: col}, nil
}

// MustParseCellRef is ParseCellRef for constant input; it panics on error.
func MustParseCellRef(s string) CellRef {
	ref, err := ParseCellRef(s)
	if err != nil {
		panic(err)
	}
	return ref
}

// ColumnIndex converts column letters to a zero-based index (A=0, Z=25, AA=26).
func ColumnIndex(letters string) (int, error) {
	if letters == "" {
		return 0, fmt.Errorf("empty column letters")
	}
	n := 0
	for _, r := range strings.ToUpper(letters) {
		if r < 'A' || r > 'Z' {
			return 0, fmt.Errorf("invalid column letters: %q", letters)
		}
		n = n*26 + int(r-'A'+1)
	}
	return n - 1, nil
}

// ColumnLetters converts a zero-based column index to letters.
func ColumnLetters(col int) string {
	var b []byte
	for n := col + 1; n > 0; n = (n - 1) / 26 {
		b = append([]byte{byte('A' + (n-1)%26)}, b...)
	}
	return string(b)
}

// String formats the reference in A1 notation.
func (r CellRef) String() string {
	return ColumnLetters(r.Col) + strconv.Itoa(r.Row+1)
}
