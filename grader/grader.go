// Package grader scores an episode's output spreadsheets against the task's
// reference files.
package grader

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/isdmx/sheetbox/monitor"
	"github.com/isdmx/sheetbox/sheet"
	"github.com/isdmx/sheetbox/task"
)

const (
	// DefaultTolerance is the relative tolerance for numeric cells.
	DefaultTolerance = 0.01

	toolUseThreshold = 0.9
	maxFeedbackErrs  = 5
)

// ErrGrading wraps internal grading failures. It never escapes Grade; it is
// reported through a failed Result.
var ErrGrading = errors.New("grading error")

// Result is the outcome of grading one run directory.
type Result struct {
	Passed       bool     `json:"passed"`
	Score        float64  `json:"score"`
	Feedback     string   `json:"feedback"`
	TotalCells   int      `json:"total_cells"`
	CorrectCells int      `json:"correct_cells"`
	Errors       []string `json:"errors"`
}

// TaskSource is the part of the task store grading needs.
type TaskSource interface {
	Load(id string) (*task.Definition, error)
	OracleFiles(id string) (map[string]string, error)
}

// Grader compares run directories to oracle files.
type Grader struct {
	logger    *zap.Logger
	tasks     TaskSource
	tolerance float64
}

// New creates a Grader. A non-positive tolerance uses DefaultTolerance.
func New(logger *zap.Logger, tasks TaskSource, tolerance float64) *Grader {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Grader{logger: logger, tasks: tasks, tolerance: tolerance}
}

// Threshold returns the passing score for mode and its description.
func Threshold(mode task.Mode) (float64, string) {
	if mode == task.ModeComputerUse {
		return 1.0, "100% required for computer_use"
	}
	return toolUseThreshold, "90% threshold"
}

// Passes reports whether score passes under mode.
func Passes(mode task.Mode, score float64) bool {
	threshold, _ := Threshold(mode)
	return score >= threshold
}

// Grade scores runDir for taskID. It never fails: internal errors and panics
// produce a failed zero-score Result carrying the error text.
func (g *Grader) Grade(taskID, runDir string) (res Result) {
	logger := g.logger.With(zap.String("task_id", taskID), zap.String("run_dir", runDir))

	defer func() {
		if r := recover(); r != nil {
			logger.Error("grading panicked", zap.Any("panic", r))
			res = failure(fmt.Errorf("%w: %v", ErrGrading, r))
		}
	}()

	def, err := g.tasks.Load(taskID)
	if err != nil {
		logger.Error("grading failed", zap.Error(err))
		return failure(fmt.Errorf("%w: %w", ErrGrading, err))
	}
	oracle, err := g.tasks.OracleFiles(taskID)
	if err != nil {
		logger.Error("grading failed", zap.Error(err))
		return failure(fmt.Errorf("%w: %w", ErrGrading, err))
	}

	res = g.GradeDefinition(def, oracle, runDir)

	monitor.GradingScore.WithLabelValues(string(def.Mode)).Observe(res.Score)
	logger.Info("graded run",
		zap.Bool("passed", res.Passed),
		zap.Float64("score", res.Score),
		zap.Int("correct_cells", res.CorrectCells),
		zap.Int("total_cells", res.TotalCells))
	return res
}

func failure(err error) Result {
	return Result{
		Passed:   false,
		Score:    0,
		Feedback: "Grading error: " + err.Error(),
		Errors:   []string{err.Error()},
	}
}

type tally struct {
	total   int
	correct int
	errs    []string
}

func (t *tally) fail(format string, args ...any) {
	t.errs = append(t.errs, fmt.Sprintf(format, args...))
}

// GradeDefinition grades runDir against def and its oracle files (name to
// host path).
func (g *Grader) GradeDefinition(def *task.Definition, oracle map[string]string, runDir string) Result {
	if len(def.ExpectedOutputs) == 0 {
		return Result{Passed: true, Score: 1.0, Feedback: "No expected outputs defined", Errors: []string{}}
	}

	t := &tally{}
	for _, name := range def.ExpectedOutputs {
		g.gradeFile(t, name, filepath.Join(runDir, name), oracle[name])
	}

	res := Result{
		TotalCells:   t.total,
		CorrectCells: t.correct,
		Errors:       t.errs,
	}
	if res.Errors == nil {
		res.Errors = []string{}
	}

	if t.total == 0 {
		res.Feedback = "No cells to grade - missing oracle or outputs"
		return res
	}

	score := float64(t.correct) / float64(t.total)
	_, desc := Threshold(def.Mode)
	res.Passed = Passes(def.Mode, score)
	res.Score = math.Round(score*1000) / 1000
	res.Feedback = feedback(t, desc)
	return res
}

func feedback(t *tally, thresholdDesc string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Correct: %d/%d cells (%s)", t.correct, t.total, thresholdDesc)
	if len(t.errs) > 0 {
		shown := t.errs
		if len(shown) > maxFeedbackErrs {
			shown = shown[:maxFeedbackErrs]
		}
		b.WriteString(". Errors: ")
		b.WriteString(strings.Join(shown, "; "))
		if extra := len(t.errs) - maxFeedbackErrs; extra > 0 {
			fmt.Fprintf(&b, " (and %d more)", extra)
		}
	}
	return b.String()
}

// gradeFile compares one expected output with its oracle. A missing or
// unreadable file is recorded as an error and contributes no cells.
func (g *Grader) gradeFile(t *tally, name, outputPath, oraclePath string) {
	if _, err := os.Stat(outputPath); err != nil {
		t.fail("Output file missing: %s", name)
		return
	}
	if oraclePath == "" {
		g.logger.Warn("oracle file not found, skipping", zap.String("file", name))
		return
	}

	out, err := sheet.Read(outputPath)
	if err != nil {
		t.fail("Failed to parse %s: %v", name, err)
		return
	}
	ref, err := sheet.Read(oraclePath)
	if err != nil {
		t.fail("Failed to parse %s: %v", name, err)
		return
	}

	for _, refSheet := range ref.Sheets {
		g.compareSheet(t, refSheet, out.Sheet(refSheet.Name))
	}
}

func (g *Grader) compareSheet(t *tally, ref, out *sheet.Sheet) {
	if out == nil {
		if n := ref.NonEmptyCells(); n > 0 {
			t.fail("Sheet '%s' missing from output", ref.Name)
			t.total += n
		}
		return
	}

	for r, row := range ref.Rows {
		if r >= len(out.Rows) {
			missing := 0
			for _, c := range row {
				if !c.Empty() {
					missing++
				}
			}
			if missing > 0 {
				t.fail("Sheet '%s' row %d missing", ref.Name, r+1)
				t.total += missing
			}
			continue
		}

		for c, want := range row {
			if want.Empty() {
				continue
			}
			t.total++

			pos := sheet.CellRef{Row: r, Col: c}
			got, ok := out.Cell(pos)
			if !ok {
				t.fail("Cell %s!%s missing", ref.Name, pos)
				continue
			}
			if g.cellMatches(t, ref.Name, pos, want, got) {
				t.correct++
			}
		}
	}
}

func (g *Grader) cellMatches(t *tally, sheetName string, pos sheet.CellRef, want, got sheet.Cell) bool {
	switch {
	case got.Formula != "" && want.Formula != "":
		if FormulasMatch(got.Formula, want.Formula) {
			return true
		}
		t.fail("%s!%s: formula mismatch: expected '%s', got '%s'", sheetName, pos, want.Formula, got.Formula)
	case got.Formula != "":
		// Evaluating the output formula is not attempted.
		t.fail("%s!%s: expected value '%s', got formula '%s'", sheetName, pos, want.Value, got.Formula)
	default:
		if CompareNumeric(got.Value, want.Value, g.tolerance) {
			return true
		}
		t.fail("%s!%s: expected '%s', got '%s'", sheetName, pos, want.Value, got.Value)
	}
	return false
}
