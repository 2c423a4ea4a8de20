package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/quayside/waverunner/internal/config"
)

var (
	tasksPath     string
	dbPath        string
	checkpointDir string
	executionID   string
	maxConcurrent int
	timeBudget    int
	verbose       bool

	cfg *config.Config

	rootCmd = &cobra.Command{
		Use:   "waverunner",
		Short: "Run dependency-ordered task sets in parallel waves",
		Long: `Waverunner schedules a set of tasks with declared file impacts into
conflict-free waves and executes them with isolated, checkpointed workers.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.LoadDefault()
			if err != nil {
				return err
			}
			cfg = loaded

			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
			return nil
		},
	}
)

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	planCmd.Flags().StringVar(&tasksPath, "tasks", "tasks.json", "path to the task set file")
	rootCmd.AddCommand(planCmd)

	runCmd.Flags().StringVar(&tasksPath, "tasks", "tasks.json", "path to the task set file")
	runCmd.Flags().StringVar(&dbPath, "db", "", "state database path (default from config)")
	runCmd.Flags().StringVar(&checkpointDir, "checkpoint-dir", "", "checkpoint directory (default from config)")
	runCmd.Flags().IntVar(&maxConcurrent, "max-concurrent", 0, "worker cap per wave (default from config)")
	runCmd.Flags().IntVar(&timeBudget, "time-budget", 0, "run time budget in minutes (default from config)")
	rootCmd.AddCommand(runCmd)

	statusCmd.Flags().StringVar(&dbPath, "db", "", "state database path (default from config)")
	statusCmd.Flags().StringVar(&executionID, "execution", "", "execution ID (default: most recent)")
	rootCmd.AddCommand(statusCmd)
}
