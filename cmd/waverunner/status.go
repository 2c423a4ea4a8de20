package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quayside/waverunner/internal/persistence"
	"github.com/quayside/waverunner/internal/scheduler"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the recorded state of an execution",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		path := cfg.Storage.DatabasePath
		if dbPath != "" {
			path = dbPath
		}
		store, err := persistence.NewSQLiteStore(ctx, path)
		if err != nil {
			return err
		}
		defer store.Close()

		id := executionID
		if id == "" {
			lanes, err := store.ListLanes(ctx)
			if err != nil {
				return err
			}
			if len(lanes) == 0 {
				return fmt.Errorf("no executions recorded in %s", path)
			}
			id = lanes[0].ExecutionID
		}

		sum, err := store.GetLane(ctx, id)
		if err != nil {
			return err
		}
		tasks, err := store.ListTasks(ctx, id)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "execution %s: %s (wave %d, max %d workers)\n",
			sum.ExecutionID, sum.Status, sum.CurrentWave, sum.MaxConcurrent)
		if sum.HaltReason != "" {
			fmt.Fprintf(out, "halt reason: %s\n", sum.HaltReason)
		}

		counts := make(map[scheduler.TaskStatus]int)
		for _, task := range tasks {
			counts[task.Status]++
			fmt.Fprintf(out, "  %-20s wave %2d  attempt %d  %s\n",
				task.DisplayID, task.WaveNumber, task.Attempt, task.Status)
			if task.Err != nil {
				fmt.Fprintf(out, "      error: %v\n", task.Err)
			}
		}
		fmt.Fprintf(out, "%d completed, %d failed, %d skipped, %d blocked of %d tasks\n",
			counts[scheduler.TaskCompleted], counts[scheduler.TaskFailed],
			counts[scheduler.TaskSkipped], counts[scheduler.TaskBlocked], len(tasks))
		return nil
	},
}
