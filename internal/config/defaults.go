package config

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			MaxConcurrent:            4,
			LockTTLSeconds:           60,
			LockWaitSeconds:          10,
			LockRetryMillis:          200,
			HeartbeatIntervalSeconds: 2,
			HeartbeatTimeoutSeconds:  30,
			TimeBudgetMinutes:        0,
		},
		Retry: RetryConfig{
			MaxAttempts:        5,
			SyntaxAttempts:     3,
			ValidationAttempts: 2,
			BackoffSeconds:     []int{1, 5, 15},
			JitterFraction:     0.2,
		},
		Scheduling: SchedulingConfig{
			TieBreak: []string{"priority", "creation", "id"},
		},
		Storage: StorageConfig{
			DatabasePath:  ".waverunner/state.db",
			CheckpointDir: ".waverunner/checkpoints",
		},
	}
}
