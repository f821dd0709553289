package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
)

var gradeCmd = &cobra.Command{
	Use:   "grade <task-id> <run-dir>",
	Short: "Grade a run directory against a task's oracle",
	Long: `Grade the output files in a run directory and print the result as JSON.

Exit codes:
  0  passed
  1  error
  2  not passed`,
	Args: cobra.ExactArgs(2),
	RunE: runGrade,
}

func runGrade(_ *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}

	res := a.grader.Grade(args[0], args[1])

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return err
	}
	if !res.Passed {
		return errNotPassed
	}
	return nil
}
