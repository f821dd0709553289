package grader

import (
	"math"
	"strconv"
	"strings"
)

// CompareNumeric reports whether output matches reference within tol.
// Against a zero reference the absolute difference is used, otherwise the
// relative difference. Non-numeric values are compared as trimmed strings.
func CompareNumeric(output, reference string, tol float64) bool {
	a, errA := strconv.ParseFloat(strings.TrimSpace(output), 64)
	b, errB := strconv.ParseFloat(strings.TrimSpace(reference), 64)
	if errA != nil || errB != nil || math.IsNaN(a) || math.IsNaN(b) {
		return strings.TrimSpace(output) == strings.TrimSpace(reference)
	}

	if a == b {
		return true
	}
	if b == 0 {
		return math.Abs(a-b) < tol
	}
	return math.Abs((a-b)/b) < tol
}
