package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List the available tasks",
	RunE:  runTasks,
}

func runTasks(_ *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}

	ids, err := a.store.List()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tMODE\tLIMIT\tTITLE")
	for _, id := range ids {
		def, err := a.store.Load(id)
		if err != nil {
			fmt.Fprintf(w, "%s\t?\t?\t(%v)\n", id, err)
			continue
		}
		mode := string(def.Mode)
		if mode == "" {
			mode = "tool_use"
		}
		fmt.Fprintf(w, "%s\t%s\t%ds\t%s\n", def.ID, mode, def.TimeLimitSeconds, def.Title)
	}
	return w.Flush()
}
