package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/quayside/waverunner/internal/checkpoint"
	"github.com/quayside/waverunner/internal/collab"
	"github.com/quayside/waverunner/internal/config"
	"github.com/quayside/waverunner/internal/events"
	"github.com/quayside/waverunner/internal/lane"
	"github.com/quayside/waverunner/internal/locks"
	"github.com/quayside/waverunner/internal/orchestrator"
	"github.com/quayside/waverunner/internal/persistence"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute a task set to completion",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		dag, err := loadTaskSet(tasksPath)
		if err != nil {
			return err
		}

		applyRunFlags(cfg)

		tieBreak, err := cfg.TieBreakFunc()
		if err != nil {
			return err
		}

		store, err := persistence.NewSQLiteStore(ctx, cfg.Storage.DatabasePath)
		if err != nil {
			return err
		}
		defer store.Close()

		checkpoints, err := checkpoint.NewStore(cfg.Storage.CheckpointDir)
		if err != nil {
			return err
		}

		bus := events.NewBus()
		defer bus.Close()

		registry := lane.NewRegistry()
		ln := registry.Create(cfg.Engine.MaxConcurrent)

		engine, err := orchestrator.New(orchestrator.Config{
			Generator:         collab.NewStubGenerator(),
			Validator:         collab.AcceptAll,
			Locks:             locks.NewManager(),
			Checkpoints:       checkpoints,
			Bus:               bus,
			Recorder:          store,
			Logger:            slog.Default(),
			Policy:            cfg.Policy(),
			TieBreak:          tieBreak,
			LockTTL:           cfg.LockTTL(),
			LockWait:          cfg.LockWait(),
			LockRetryInterval: cfg.LockRetryInterval(),
			HeartbeatInterval: cfg.HeartbeatInterval(),
			HeartbeatTimeout:  cfg.HeartbeatTimeout(),
			TimeBudget:        cfg.TimeBudget(),
		}, dag, ln)
		if err != nil {
			return err
		}

		slog.Info("starting execution",
			"execution_id", ln.ExecutionID,
			"tasks", len(dag.Tasks()),
			"waves", len(engine.Waves()),
			"max_concurrent", ln.MaxConcurrent)

		// A cancelled context requests a lane stop so in-flight work winds
		// down through the engine's own interruption path.
		go func() {
			<-ctx.Done()
			ln.Stop()
		}()

		if err := engine.Run(ctx); err != nil {
			return err
		}
		_ = registry.Archive(ln.ExecutionID)

		status := engine.Status()
		fmt.Fprintf(cmd.OutOrStdout(), "execution %s finished: %s\n", ln.ExecutionID, status.Lane.Status)
		if status.Lane.HaltReason != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "reason: %s\n", status.Lane.HaltReason)
		}
		for id, reason := range status.BlockedTasks {
			fmt.Fprintf(cmd.OutOrStdout(), "blocked: %s (%s)\n", id, reason)
		}
		return nil
	},
}

// applyRunFlags overlays command-line flags onto the loaded config.
func applyRunFlags(cfg *config.Config) {
	if maxConcurrent > 0 {
		cfg.Engine.MaxConcurrent = maxConcurrent
	}
	if timeBudget > 0 {
		cfg.Engine.TimeBudgetMinutes = timeBudget
	}
	if dbPath != "" {
		cfg.Storage.DatabasePath = dbPath
	}
	if checkpointDir != "" {
		cfg.Storage.CheckpointDir = checkpointDir
	}
}
