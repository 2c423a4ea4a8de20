package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/quayside/waverunner/internal/impact"
	"github.com/quayside/waverunner/internal/scheduler"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Compute and print the wave plan for a task set without running it",
	RunE: func(cmd *cobra.Command, args []string) error {
		dag, err := loadTaskSet(tasksPath)
		if err != nil {
			return err
		}

		tieBreak, err := cfg.TieBreakFunc()
		if err != nil {
			return err
		}

		waves, err := scheduler.NewWaveBuilder(tieBreak).Build(uuid.NewString(), dag)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		for _, wave := range waves {
			fmt.Fprintf(out, "wave %d:\n", wave.Number)
			for _, id := range wave.TaskIDs {
				task, _ := dag.Get(id)
				paths := task.MutatingPaths()
				fmt.Fprintf(out, "  %s (priority %d) writes [%s]\n",
					task.DisplayID, task.Priority, strings.Join(paths, ", "))
			}
		}
		fmt.Fprintf(out, "%d tasks in %d waves\n", len(dag.Tasks()), len(waves))

		printConflicts(out, dag)
		return nil
	},
}

// printConflicts lists the impact conflicts that force tasks into separate
// waves, so a surprising schedule can be traced back to its cause.
func printConflicts(out io.Writer, dag *scheduler.DAG) {
	tasks := dag.Tasks()
	printedHeader := false
	for i, a := range tasks {
		for _, b := range tasks[i+1:] {
			pairs := impact.ConflictPairs(a.Impacts, b.Impacts)
			if len(pairs) == 0 {
				continue
			}
			if !printedHeader {
				fmt.Fprintln(out, "conflicts:")
				printedHeader = true
			}
			for _, p := range pairs {
				fmt.Fprintf(out, "  %s %s / %s %s on %s\n",
					a.DisplayID, p.A, b.DisplayID, p.B, p.Path)
			}
		}
	}
}
