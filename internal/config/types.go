package config

// EngineConfig holds the execution knobs for a run.
type EngineConfig struct {
	MaxConcurrent            int `json:"max_concurrent"`             // Worker cap within a wave
	LockTTLSeconds           int `json:"lock_ttl_seconds"`           // Advisory lock lifetime
	LockWaitSeconds          int `json:"lock_wait_seconds"`          // Max wait on lock denial before a conflict failure
	LockRetryMillis          int `json:"lock_retry_millis"`          // Poll interval while waiting on a lock
	HeartbeatIntervalSeconds int `json:"heartbeat_interval_seconds"` // Worker liveness reporting period
	HeartbeatTimeoutSeconds  int `json:"heartbeat_timeout_seconds"`  // Missing heartbeats beyond this = stuck
	TimeBudgetMinutes        int `json:"time_budget_minutes"`        // Run-level wall-clock budget (0 = unbounded)
}

// RetryConfig holds the per-task retry policy.
type RetryConfig struct {
	MaxAttempts        int     `json:"max_attempts"`
	SyntaxAttempts     int     `json:"syntax_attempts"`
	ValidationAttempts int     `json:"validation_attempts"`
	BackoffSeconds     []int   `json:"backoff_seconds"`
	JitterFraction     float64 `json:"jitter_fraction"`
}

// SchedulingConfig controls wave assignment.
type SchedulingConfig struct {
	// TieBreak is the ordered list of comparison keys used when tasks
	// compete for the same wave slot: "priority" (descending),
	// "creation" (ascending), "id" (ascending).
	TieBreak []string `json:"tie_break"`
}

// StorageConfig holds on-disk state locations.
type StorageConfig struct {
	DatabasePath  string `json:"database_path"`
	CheckpointDir string `json:"checkpoint_dir"`
}

// Config is the top-level configuration.
type Config struct {
	Engine     EngineConfig     `json:"engine"`
	Retry      RetryConfig      `json:"retry"`
	Scheduling SchedulingConfig `json:"scheduling"`
	Storage    StorageConfig    `json:"storage"`
}
