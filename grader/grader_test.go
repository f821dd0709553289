package grader_test

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/isdmx/sheetbox/grader"
	"github.com/isdmx/sheetbox/sheet"
	"github.com/isdmx/sheetbox/sheet/sheettest"
	"github.com/isdmx/sheetbox/task"
)

type fixture struct {
	store  *task.Store
	runDir string
	g      *grader.Grader
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	runDir := filepath.Join(root, "run")
	require.NoError(t, os.MkdirAll(runDir, 0o755))

	store := task.NewStore(filepath.Join(root, "tasks"))
	return &fixture{
		store:  store,
		runDir: runDir,
		g:      grader.New(zaptest.NewLogger(t), store, grader.DefaultTolerance),
	}
}

// addTask creates a task whose oracle holds the given sheets in name.
func (f *fixture) addTask(t *testing.T, def task.Definition, name string, sheets ...sheettest.Sheet) {
	t.Helper()
	oracle := map[string]string{}
	if name != "" {
		src := filepath.Join(t.TempDir(), name)
		sheettest.WriteODS(t, src, sheets...)
		oracle[name] = src
	}
	_, err := f.store.Create(def, nil, oracle)
	require.NoError(t, err)
}

func (f *fixture) writeOutput(t *testing.T, name string, sheets ...sheettest.Sheet) {
	t.Helper()
	sheettest.WriteODS(t, filepath.Join(f.runDir, name), sheets...)
}

func budget(total string) sheettest.Sheet {
	return sheettest.Sheet{Name: "Budget", Rows: [][]sheet.Cell{
		{sheettest.V("Item"), sheettest.V("Cost")},
		{sheettest.V("Rent"), sheettest.V("1200")},
		{sheettest.V("Food"), sheettest.V("300")},
		{sheettest.V("Total"), sheettest.F("of:=SUM([.B2:.B3])", total)},
	}}
}

// column returns a single-column sheet of n values where the first wrong
// values are replaced by "x".
func column(n, wrong int) sheettest.Sheet {
	rows := make([][]sheet.Cell, n)
	for i := range rows {
		v := strconv.Itoa(i + 1)
		if i < wrong {
			v = "x"
		}
		rows[i] = []sheet.Cell{sheettest.V(v)}
	}
	return sheettest.Sheet{Name: "Sheet1", Rows: rows}
}

func TestGradeAllCorrect(t *testing.T) {
	f := newFixture(t)
	f.addTask(t, task.Definition{ID: "sum"}, "budget.ods", budget("1500"))
	f.writeOutput(t, "budget.ods", budget("1500"))

	res := f.g.Grade("sum", f.runDir)
	assert.True(t, res.Passed)
	assert.Equal(t, 1.0, res.Score)
	assert.Equal(t, 8, res.TotalCells)
	assert.Equal(t, 8, res.CorrectCells)
	assert.Empty(t, res.Errors)
	assert.Equal(t, "Correct: 8/8 cells (90% threshold)", res.Feedback)
}

func TestGradeEquivalentFormula(t *testing.T) {
	f := newFixture(t)
	f.addTask(t, task.Definition{ID: "rate"}, "rate.ods", sheettest.Sheet{Name: "Sheet1", Rows: [][]sheet.Cell{
		{sheettest.F("of:=[.B2]/(1+[.D2]*[.C2]/365)", "98.6")},
	}})
	f.writeOutput(t, "rate.ods", sheettest.Sheet{Name: "Sheet1", Rows: [][]sheet.Cell{
		{sheettest.F("of:=365*[.B2]/(365+[.C2]*[.D2])", "98.6")},
	}})

	res := f.g.Grade("rate", f.runDir)
	assert.True(t, res.Passed)
	assert.Equal(t, 1, res.CorrectCells)
}

func TestGradeValueAgainstFormula(t *testing.T) {
	f := newFixture(t)
	f.addTask(t, task.Definition{ID: "sum"}, "budget.ods", budget("1500"))

	out := budget("1500")
	out.Rows[1][1] = sheettest.F("of:=1000+200", "1200")
	f.writeOutput(t, "budget.ods", out)

	res := f.g.Grade("sum", f.runDir)
	assert.Equal(t, 7, res.CorrectCells)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "Budget!B2")
	assert.Contains(t, res.Errors[0], "got formula")
}

func TestGradeIsDeterministic(t *testing.T) {
	f := newFixture(t)
	f.addTask(t, task.Definition{ID: "sum"}, "budget.ods", budget("1500"))
	f.writeOutput(t, "budget.ods", budget("1400"))

	first := f.g.Grade("sum", f.runDir)
	for range 3 {
		assert.Equal(t, first, f.g.Grade("sum", f.runDir))
	}
}

func TestGradeNoExpectedOutputs(t *testing.T) {
	f := newFixture(t)
	f.addTask(t, task.Definition{ID: "free", ExpectedOutputs: []string{}}, "")

	res := f.g.Grade("free", f.runDir)
	assert.True(t, res.Passed)
	assert.Equal(t, 1.0, res.Score)
	assert.Equal(t, "No expected outputs defined", res.Feedback)
}

func TestGradeMissingOutput(t *testing.T) {
	f := newFixture(t)
	f.addTask(t, task.Definition{ID: "sum"}, "budget.ods", budget("1500"))

	res := f.g.Grade("sum", f.runDir)
	assert.False(t, res.Passed)
	assert.Equal(t, 0.0, res.Score)
	assert.Equal(t, 0, res.TotalCells)
	assert.Equal(t, "No cells to grade - missing oracle or outputs", res.Feedback)
	assert.Equal(t, []string{"Output file missing: budget.ods"}, res.Errors)
}

func TestGradeMissingOutputAddsNoCells(t *testing.T) {
	f := newFixture(t)
	dir := t.TempDir()
	a, b := filepath.Join(dir, "a.ods"), filepath.Join(dir, "b.ods")
	sheettest.WriteODS(t, a, column(10, 0))
	sheettest.WriteODS(t, b, column(10, 0))
	_, err := f.store.Create(task.Definition{ID: "pair"}, nil, map[string]string{"a.ods": a, "b.ods": b})
	require.NoError(t, err)
	f.writeOutput(t, "a.ods", column(10, 0))

	res := f.g.Grade("pair", f.runDir)
	assert.True(t, res.Passed)
	assert.Equal(t, 1.0, res.Score)
	assert.Equal(t, 10, res.TotalCells)
	assert.Equal(t, 10, res.CorrectCells)
	assert.Equal(t, []string{"Output file missing: b.ods"}, res.Errors)
	assert.Equal(t, "Correct: 10/10 cells (90% threshold). Errors: Output file missing: b.ods", res.Feedback)
}

func TestGradeMissingOutputWithoutOracle(t *testing.T) {
	f := newFixture(t)
	f.addTask(t, task.Definition{ID: "ghost", ExpectedOutputs: []string{"ghost.ods"}}, "")

	res := f.g.Grade("ghost", f.runDir)
	assert.False(t, res.Passed)
	assert.Equal(t, 0, res.TotalCells)
	assert.Equal(t, "No cells to grade - missing oracle or outputs", res.Feedback)
	assert.Equal(t, []string{"Output file missing: ghost.ods"}, res.Errors)
}

func TestGradeMissingSheetAndRows(t *testing.T) {
	f := newFixture(t)
	f.addTask(t, task.Definition{ID: "two"}, "book.ods",
		budget("1500"),
		sheettest.Sheet{Name: "Notes", Rows: [][]sheet.Cell{{sheettest.V("a"), sheettest.V("b")}}},
	)

	short := budget("1500")
	short.Rows = short.Rows[:2]
	f.writeOutput(t, "book.ods", short)

	res := f.g.Grade("two", f.runDir)
	assert.Equal(t, 10, res.TotalCells)
	assert.Equal(t, 4, res.CorrectCells)
	assert.Equal(t, 0.4, res.Score)
	assert.Len(t, res.Errors, 3)
	assert.Contains(t, res.Feedback, "Sheet 'Notes' missing from output")
}

func TestGradeThresholds(t *testing.T) {
	tests := []struct {
		name   string
		mode   task.Mode
		cells  int
		wrong  int
		passed bool
		score  float64
	}{
		{"tool use at threshold", task.ModeToolUse, 10, 1, true, 0.9},
		{"tool use below threshold", task.ModeToolUse, 100, 11, false, 0.89},
		{"computer use near miss", task.ModeComputerUse, 20, 1, false, 0.95},
		{"computer use perfect", task.ModeComputerUse, 20, 0, true, 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.addTask(t, task.Definition{ID: "col", Mode: tt.mode}, "col.ods", column(tt.cells, 0))
			f.writeOutput(t, "col.ods", column(tt.cells, tt.wrong))

			res := f.g.Grade("col", f.runDir)
			assert.Equal(t, tt.passed, res.Passed)
			assert.Equal(t, tt.score, res.Score)
			assert.Len(t, res.Errors, tt.wrong)
		})
	}
}

func TestGradeFeedbackTruncatesErrors(t *testing.T) {
	f := newFixture(t)
	f.addTask(t, task.Definition{ID: "col", Mode: task.ModeComputerUse}, "col.ods", column(10, 0))
	f.writeOutput(t, "col.ods", column(10, 8))

	res := f.g.Grade("col", f.runDir)
	assert.Len(t, res.Errors, 8)
	assert.True(t, strings.HasPrefix(res.Feedback, "Correct: 2/10 cells (100% required for computer_use). Errors: "))
	assert.True(t, strings.HasSuffix(res.Feedback, " (and 3 more)"))
	assert.Equal(t, 4, strings.Count(res.Feedback, "; "))
}

func TestGradeMalformedOracle(t *testing.T) {
	f := newFixture(t)
	bad := filepath.Join(t.TempDir(), "budget.ods")
	require.NoError(t, os.WriteFile(bad, []byte("not a zip"), 0o644))
	_, err := f.store.Create(task.Definition{ID: "bad"}, nil, map[string]string{"budget.ods": bad})
	require.NoError(t, err)
	f.writeOutput(t, "budget.ods", budget("1500"))

	res := f.g.Grade("bad", f.runDir)
	assert.False(t, res.Passed)
	assert.Equal(t, 0.0, res.Score)
	assert.Equal(t, 0, res.TotalCells)
	assert.Equal(t, "No cells to grade - missing oracle or outputs", res.Feedback)
	require.Len(t, res.Errors, 1)
	assert.True(t, strings.HasPrefix(res.Errors[0], "Failed to parse budget.ods: "))
}

func TestGradeMalformedOutput(t *testing.T) {
	f := newFixture(t)
	f.addTask(t, task.Definition{ID: "sum"}, "budget.ods", budget("1500"))
	require.NoError(t, os.WriteFile(filepath.Join(f.runDir, "budget.ods"), []byte("garbage"), 0o644))

	res := f.g.Grade("sum", f.runDir)
	assert.False(t, res.Passed)
	assert.Equal(t, 0, res.TotalCells)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "Failed to parse budget.ods")
}

func TestGradeUnknownTask(t *testing.T) {
	f := newFixture(t)
	res := f.g.Grade("nope", f.runDir)
	assert.False(t, res.Passed)
	assert.Contains(t, res.Feedback, "Grading error")
}

type panickingSource struct{}

func (panickingSource) Load(string) (*task.Definition, error) { panic("boom") }

func (panickingSource) OracleFiles(string) (map[string]string, error) {
	return nil, errors.New("unreachable")
}

func TestGradeRecoversPanics(t *testing.T) {
	g := grader.New(zaptest.NewLogger(t), panickingSource{}, 0)
	res := g.Grade("any", t.TempDir())
	assert.False(t, res.Passed)
	assert.Equal(t, "Grading error: grading error: boom", res.Feedback)
}

func TestPasses(t *testing.T) {
	assert.True(t, grader.Passes(task.ModeToolUse, 0.9))
	assert.False(t, grader.Passes(task.ModeToolUse, 0.8999))
	assert.False(t, grader.Passes(task.ModeComputerUse, 0.999))
	assert.True(t, grader.Passes(task.ModeComputerUse, 1.0))
}
