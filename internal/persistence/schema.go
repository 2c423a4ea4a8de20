package persistence

import (
	"context"
)

// initSchema creates all required tables if they don't exist. Everything
// is keyed by execution_id so multiple runs share one database file.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS lanes (
		execution_id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		current_wave INTEGER NOT NULL,
		max_concurrent INTEGER NOT NULL,
		halt_reason TEXT,
		started_at DATETIME,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS tasks (
		execution_id TEXT NOT NULL,
		id TEXT NOT NULL,
		display_id TEXT NOT NULL,
		priority INTEGER NOT NULL,
		critical INTEGER NOT NULL,
		status INTEGER NOT NULL,
		wave_number INTEGER NOT NULL,
		creation_order INTEGER NOT NULL,
		attempt INTEGER NOT NULL,
		result TEXT,
		error TEXT,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (execution_id, id)
	);

	CREATE TABLE IF NOT EXISTS task_dependencies (
		execution_id TEXT NOT NULL,
		task_id TEXT NOT NULL,
		depends_on_id TEXT NOT NULL,
		PRIMARY KEY (execution_id, task_id, depends_on_id)
	);

	CREATE INDEX IF NOT EXISTS idx_task_dependencies_task
		ON task_dependencies(execution_id, task_id);

	CREATE TABLE IF NOT EXISTS file_impacts (
		execution_id TEXT NOT NULL,
		task_id TEXT NOT NULL,
		path TEXT NOT NULL,
		operation TEXT NOT NULL,
		confidence REAL NOT NULL,
		PRIMARY KEY (execution_id, task_id, path, operation)
	);

	CREATE TABLE IF NOT EXISTS waves (
		execution_id TEXT NOT NULL,
		number INTEGER NOT NULL,
		task_ids TEXT NOT NULL,
		status TEXT NOT NULL,
		computed_at DATETIME NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (execution_id, number)
	);

	CREATE TABLE IF NOT EXISTS agent_instances (
		instance_id TEXT PRIMARY KEY,
		execution_id TEXT NOT NULL,
		task_id TEXT NOT NULL,
		wave_number INTEGER NOT NULL,
		attempt INTEGER NOT NULL,
		status TEXT NOT NULL,
		checkpoint_id TEXT,
		last_heartbeat DATETIME,
		spawned_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_agent_instances_execution
		ON agent_instances(execution_id);

	CREATE TABLE IF NOT EXISTS locks (
		execution_id TEXT NOT NULL,
		path TEXT NOT NULL,
		holder TEXT NOT NULL,
		expires_at DATETIME NOT NULL,
		PRIMARY KEY (execution_id, path)
	);

	CREATE TABLE IF NOT EXISTS checkpoints (
		id TEXT PRIMARY KEY,
		execution_id TEXT NOT NULL,
		task_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		entry_count INTEGER NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_checkpoints_execution
		ON checkpoints(execution_id, task_id);

	CREATE TABLE IF NOT EXISTS failure_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		execution_id TEXT NOT NULL,
		task_id TEXT NOT NULL,
		attempt INTEGER NOT NULL,
		category TEXT NOT NULL,
		signature TEXT NOT NULL,
		decision TEXT NOT NULL,
		file_digest TEXT,
		checkpoint_id TEXT,
		occurred_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_failure_records_task
		ON failure_records(execution_id, task_id, occurred_at);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}
