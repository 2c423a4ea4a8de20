package events

import (
	"time"
)

// Topic partitions the event stream. Subscribers attach to one topic or to
// the whole stream.
type Topic string

const (
	TopicWave      Topic = "wave"
	TopicTask      Topic = "task"
	TopicExecution Topic = "execution"
	TopicLock      Topic = "lock"
)

// Event is the base interface for all events.
type Event interface {
	EventType() string
	Topic() Topic
}

// Event type constants
const (
	EventTypeWaveStarted        = "wave.started"
	EventTypeWaveCompleted      = "wave.completed"
	EventTypeTaskStarted        = "task.started"
	EventTypeTaskCompleted      = "task.completed"
	EventTypeTaskFailed         = "task.failed"
	EventTypeTaskRetrying       = "task.retrying"
	EventTypeLockDenied         = "lock.denied"
	EventTypeExecutionStuck     = "execution.stuck"
	EventTypeExecutionCompleted = "execution.completed"
)

// WaveStarted is published when a wave begins executing.
type WaveStarted struct {
	ExecutionID string
	WaveNumber  int
	TaskIDs     []string
	Timestamp   time.Time
}

func (e WaveStarted) EventType() string { return EventTypeWaveStarted }
func (e WaveStarted) Topic() Topic { return TopicWave }

// WaveCompleted is published when every task in a wave is terminal.
type WaveCompleted struct {
	ExecutionID string
	WaveNumber  int
	Timestamp   time.Time
}

func (e WaveCompleted) EventType() string { return EventTypeWaveCompleted }
func (e WaveCompleted) Topic() Topic { return TopicWave }

// TaskStarted is published when an agent instance picks up a task attempt.
type TaskStarted struct {
	ExecutionID string
	TaskID      string
	InstanceID  string
	Attempt     int
	Timestamp   time.Time
}

func (e TaskStarted) EventType() string { return EventTypeTaskStarted }
func (e TaskStarted) Topic() Topic { return TopicTask }

// TaskCompleted is published when a task commits successfully.
type TaskCompleted struct {
	ExecutionID string
	TaskID      string
	InstanceID  string
	Duration    time.Duration
	Timestamp   time.Time
}

func (e TaskCompleted) EventType() string { return EventTypeTaskCompleted }
func (e TaskCompleted) Topic() Topic { return TopicTask }

// TaskFailed is published when a task attempt fails, before the retry
// decision is applied.
type TaskFailed struct {
	ExecutionID   string
	TaskID        string
	InstanceID    string
	ErrorCategory string
	Attempt       int
	Timestamp     time.Time
}

func (e TaskFailed) EventType() string { return EventTypeTaskFailed }
func (e TaskFailed) Topic() Topic { return TopicTask }

// TaskRetrying is published when a failed task is scheduled for another
// attempt after backoff.
type TaskRetrying struct {
	ExecutionID string
	TaskID      string
	Decision    string
	NextAttempt int
	Delay       time.Duration
	Timestamp   time.Time
}

func (e TaskRetrying) EventType() string { return EventTypeTaskRetrying }
func (e TaskRetrying) Topic() Topic { return TopicTask }

// LockDenied is published when a task could not acquire its path locks.
type LockDenied struct {
	ExecutionID string
	TaskID      string
	Path        string
	Holder      string
	Timestamp   time.Time
}

func (e LockDenied) EventType() string { return EventTypeLockDenied }
func (e LockDenied) Topic() Topic { return TopicLock }

// ExecutionStuck is published when a task is declared stuck (no progress
// or missed heartbeats) and escalated.
type ExecutionStuck struct {
	ExecutionID string
	TaskID      string
	Reason      string
	Timestamp   time.Time
}

func (e ExecutionStuck) EventType() string { return EventTypeExecutionStuck }
func (e ExecutionStuck) Topic() Topic { return TopicExecution }

// ExecutionCompleted is published when the run reaches a terminal state.
type ExecutionCompleted struct {
	ExecutionID string
	Completed   int
	Failed      int
	Skipped     int
	Blocked     int
	Halted      bool
	Reason      string
	Timestamp   time.Time
}

func (e ExecutionCompleted) EventType() string { return EventTypeExecutionCompleted }
func (e ExecutionCompleted) Topic() Topic { return TopicExecution }
