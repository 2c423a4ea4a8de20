package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/quayside/waverunner/internal/checkpoint"
	"github.com/quayside/waverunner/internal/failure"
	"github.com/quayside/waverunner/internal/impact"
	"github.com/quayside/waverunner/internal/lane"
	"github.com/quayside/waverunner/internal/locks"
	"github.com/quayside/waverunner/internal/orchestrator"
	"github.com/quayside/waverunner/internal/scheduler"
)

// SaveLane upserts the lane's current state.
func (s *SQLiteStore) SaveLane(ctx context.Context, snap lane.Snapshot) error {
	var startedAt any
	if !snap.StartedAt.IsZero() {
		startedAt = snap.StartedAt.UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO lanes (execution_id, status, current_wave, max_concurrent, halt_reason, started_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(execution_id) DO UPDATE SET
			status = excluded.status,
			current_wave = excluded.current_wave,
			max_concurrent = excluded.max_concurrent,
			halt_reason = excluded.halt_reason,
			started_at = excluded.started_at,
			updated_at = CURRENT_TIMESTAMP
	`, snap.ExecutionID, snap.Status.String(), snap.CurrentWave, snap.MaxConcurrent, snap.HaltReason, startedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert lane: %w", err)
	}
	return nil
}

// SaveTask upserts a task with its dependencies and declared impacts.
func (s *SQLiteStore) SaveTask(ctx context.Context, executionID string, task *scheduler.Task) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	errorStr := ""
	if task.Err != nil {
		errorStr = task.Err.Error()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO tasks (execution_id, id, display_id, priority, critical, status, wave_number, creation_order, attempt, result, error, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(execution_id, id) DO UPDATE SET
			display_id = excluded.display_id,
			priority = excluded.priority,
			critical = excluded.critical,
			status = excluded.status,
			wave_number = excluded.wave_number,
			creation_order = excluded.creation_order,
			attempt = excluded.attempt,
			result = excluded.result,
			error = excluded.error,
			updated_at = CURRENT_TIMESTAMP
	`, executionID, task.ID, task.DisplayID, task.Priority, task.Critical, task.Status,
		task.WaveNumber, task.CreationOrder, task.Attempt, task.Result, errorStr)
	if err != nil {
		return fmt.Errorf("failed to upsert task: %w", err)
	}

	_, err = tx.ExecContext(ctx, `DELETE FROM task_dependencies WHERE execution_id = ? AND task_id = ?`, executionID, task.ID)
	if err != nil {
		return fmt.Errorf("failed to delete old dependencies: %w", err)
	}
	for _, depID := range task.DependsOn {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO task_dependencies (execution_id, task_id, depends_on_id)
			VALUES (?, ?, ?)
		`, executionID, task.ID, depID)
		if err != nil {
			return fmt.Errorf("failed to insert dependency %s -> %s: %w", task.ID, depID, err)
		}
	}

	_, err = tx.ExecContext(ctx, `DELETE FROM file_impacts WHERE execution_id = ? AND task_id = ?`, executionID, task.ID)
	if err != nil {
		return fmt.Errorf("failed to delete old impacts: %w", err)
	}
	for _, im := range task.Impacts {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO file_impacts (execution_id, task_id, path, operation, confidence)
			VALUES (?, ?, ?, ?, ?)
		`, executionID, task.ID, im.Path, im.Operation.String(), im.Confidence)
		if err != nil {
			return fmt.Errorf("failed to insert impact %s on %s: %w", task.ID, im.Path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetTask retrieves a task by ID, including dependencies and impacts.
func (s *SQLiteStore) GetTask(ctx context.Context, executionID, taskID string) (*scheduler.Task, error) {
	task := &scheduler.Task{}
	var errorStr string

	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_id, priority, critical, status, wave_number, creation_order, attempt, result, error
		FROM tasks
		WHERE execution_id = ? AND id = ?
	`, executionID, taskID).Scan(&task.ID, &task.DisplayID, &task.Priority, &task.Critical,
		&task.Status, &task.WaveNumber, &task.CreationOrder, &task.Attempt, &task.Result, &errorStr)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("task not found: %s", taskID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query task: %w", err)
	}
	if errorStr != "" {
		task.Err = fmt.Errorf("%s", errorStr)
	}

	task.DependsOn, err = s.taskDependencies(ctx, executionID, taskID)
	if err != nil {
		return nil, err
	}
	task.Impacts, err = s.taskImpacts(ctx, executionID, taskID)
	if err != nil {
		return nil, err
	}
	return task, nil
}

// ListTasks retrieves all tasks for an execution in creation order.
func (s *SQLiteStore) ListTasks(ctx context.Context, executionID string) ([]*scheduler.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM tasks WHERE execution_id = ? ORDER BY creation_order
	`, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan task id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	tasks := make([]*scheduler.Task, 0, len(ids))
	for _, id := range ids {
		task, err := s.GetTask(ctx, executionID, id)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

func (s *SQLiteStore) taskDependencies(ctx context.Context, executionID, taskID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT depends_on_id FROM task_dependencies
		WHERE execution_id = ? AND task_id = ?
		ORDER BY depends_on_id
	`, executionID, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to query dependencies: %w", err)
	}
	defer rows.Close()

	var deps []string
	for rows.Next() {
		var dep string
		if err := rows.Scan(&dep); err != nil {
			return nil, fmt.Errorf("failed to scan dependency: %w", err)
		}
		deps = append(deps, dep)
	}
	return deps, rows.Err()
}

func (s *SQLiteStore) taskImpacts(ctx context.Context, executionID, taskID string) ([]impact.FileImpact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT path, operation, confidence FROM file_impacts
		WHERE execution_id = ? AND task_id = ?
		ORDER BY path
	`, executionID, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to query impacts: %w", err)
	}
	defer rows.Close()

	var impacts []impact.FileImpact
	for rows.Next() {
		var im impact.FileImpact
		var op string
		if err := rows.Scan(&im.Path, &op, &im.Confidence); err != nil {
			return nil, fmt.Errorf("failed to scan impact: %w", err)
		}
		im.Operation, err = impact.ParseOperation(op)
		if err != nil {
			return nil, err
		}
		impacts = append(impacts, im)
	}
	return impacts, rows.Err()
}

// SaveWave upserts a wave's membership and status.
func (s *SQLiteStore) SaveWave(ctx context.Context, wave scheduler.Wave) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO waves (execution_id, number, task_ids, status, computed_at, updated_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(execution_id, number) DO UPDATE SET
			task_ids = excluded.task_ids,
			status = excluded.status,
			computed_at = excluded.computed_at,
			updated_at = CURRENT_TIMESTAMP
	`, wave.ExecutionID, wave.Number, strings.Join(wave.TaskIDs, ","), wave.Status.String(), wave.ComputedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert wave: %w", err)
	}
	return nil
}

// ListWaves retrieves an execution's waves in order.
func (s *SQLiteStore) ListWaves(ctx context.Context, executionID string) ([]scheduler.Wave, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT number, task_ids, status, computed_at FROM waves
		WHERE execution_id = ? ORDER BY number
	`, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list waves: %w", err)
	}
	defer rows.Close()

	var waves []scheduler.Wave
	for rows.Next() {
		w := scheduler.Wave{ExecutionID: executionID}
		var taskIDs, status string
		if err := rows.Scan(&w.Number, &taskIDs, &status, &w.ComputedAt); err != nil {
			return nil, fmt.Errorf("failed to scan wave: %w", err)
		}
		if taskIDs != "" {
			w.TaskIDs = strings.Split(taskIDs, ",")
		}
		w.Status = parseWaveStatus(status)
		waves = append(waves, w)
	}
	return waves, rows.Err()
}

func parseWaveStatus(s string) scheduler.WaveStatus {
	switch s {
	case "running":
		return scheduler.WaveRunning
	case "completed":
		return scheduler.WaveCompleted
	default:
		return scheduler.WavePending
	}
}

// SaveInstance upserts an agent instance's state.
func (s *SQLiteStore) SaveInstance(ctx context.Context, inst orchestrator.AgentInstance) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_instances (instance_id, execution_id, task_id, wave_number, attempt, status, checkpoint_id, last_heartbeat, spawned_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(instance_id) DO UPDATE SET
			status = excluded.status,
			checkpoint_id = excluded.checkpoint_id,
			last_heartbeat = excluded.last_heartbeat
	`, inst.InstanceID, inst.ExecutionID, inst.TaskID, inst.WaveNumber, inst.Attempt,
		inst.Status.String(), inst.CheckpointID, inst.LastHeartbeat.UTC(), inst.SpawnedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert instance: %w", err)
	}
	return nil
}

// SaveLocks replaces the recorded lock set for an execution with the
// current live set.
func (s *SQLiteStore) SaveLocks(ctx context.Context, executionID string, live []locks.Lock) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM locks WHERE execution_id = ?`, executionID); err != nil {
		return fmt.Errorf("failed to clear locks: %w", err)
	}
	for _, l := range live {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO locks (execution_id, path, holder, expires_at)
			VALUES (?, ?, ?, ?)
		`, executionID, l.Path, l.Holder, l.ExpiresAt.UTC())
		if err != nil {
			return fmt.Errorf("failed to insert lock on %s: %w", l.Path, err)
		}
	}
	return tx.Commit()
}

// SaveCheckpoint records checkpoint metadata. Blob content stays in the
// checkpoint store's object directory.
func (s *SQLiteStore) SaveCheckpoint(ctx context.Context, cp *checkpoint.Checkpoint) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (id, execution_id, task_id, kind, entry_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, cp.ID, cp.ExecutionID, cp.TaskID, string(cp.Kind), len(cp.Entries), cp.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert checkpoint: %w", err)
	}
	return nil
}

// SaveFailure appends a failure record.
func (s *SQLiteStore) SaveFailure(ctx context.Context, executionID string, rec failure.Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO failure_records (execution_id, task_id, attempt, category, signature, decision, file_digest, checkpoint_id, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, executionID, rec.TaskID, rec.Attempt, string(rec.Category), rec.Signature,
		string(rec.Decision), rec.FileDigest, rec.Checkpoint, rec.At.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert failure record: %w", err)
	}
	return nil
}

// ListFailures retrieves a task's failure history in order.
func (s *SQLiteStore) ListFailures(ctx context.Context, executionID, taskID string) ([]failure.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT attempt, category, signature, decision, file_digest, checkpoint_id, occurred_at
		FROM failure_records
		WHERE execution_id = ? AND task_id = ?
		ORDER BY occurred_at, id
	`, executionID, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to query failure records: %w", err)
	}
	defer rows.Close()

	var recs []failure.Record
	for rows.Next() {
		rec := failure.Record{TaskID: taskID}
		var category, decision string
		if err := rows.Scan(&rec.Attempt, &category, &rec.Signature, &decision, &rec.FileDigest, &rec.Checkpoint, &rec.At); err != nil {
			return nil, fmt.Errorf("failed to scan failure record: %w", err)
		}
		rec.Category = failure.Category(category)
		rec.Decision = failure.Decision(decision)
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// LaneSummary is the persisted view of a lane for status reporting.
type LaneSummary struct {
	ExecutionID   string
	Status        string
	CurrentWave   int
	MaxConcurrent int
	HaltReason    string
	StartedAt     time.Time
}

// GetLane retrieves a lane's persisted state.
func (s *SQLiteStore) GetLane(ctx context.Context, executionID string) (*LaneSummary, error) {
	sum := &LaneSummary{}
	var startedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT execution_id, status, current_wave, max_concurrent, halt_reason, started_at
		FROM lanes WHERE execution_id = ?
	`, executionID).Scan(&sum.ExecutionID, &sum.Status, &sum.CurrentWave, &sum.MaxConcurrent, &sum.HaltReason, &startedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("execution not found: %s", executionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query lane: %w", err)
	}
	if startedAt.Valid {
		sum.StartedAt = startedAt.Time
	}
	return sum, nil
}

// ListLanes retrieves every persisted lane, most recently updated first.
func (s *SQLiteStore) ListLanes(ctx context.Context) ([]LaneSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT execution_id, status, current_wave, max_concurrent, halt_reason, started_at
		FROM lanes ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list lanes: %w", err)
	}
	defer rows.Close()

	var lanes []LaneSummary
	for rows.Next() {
		var sum LaneSummary
		var startedAt sql.NullTime
		if err := rows.Scan(&sum.ExecutionID, &sum.Status, &sum.CurrentWave, &sum.MaxConcurrent, &sum.HaltReason, &startedAt); err != nil {
			return nil, fmt.Errorf("failed to scan lane: %w", err)
		}
		if startedAt.Valid {
			sum.StartedAt = startedAt.Time
		}
		lanes = append(lanes, sum)
	}
	return lanes, rows.Err()
}
