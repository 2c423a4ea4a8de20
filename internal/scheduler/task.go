package scheduler

import (
	"github.com/quayside/waverunner/internal/impact"
)

// TaskStatus represents the current state of a task.
type TaskStatus int

const (
	TaskPending   TaskStatus = iota // Waiting for its wave
	TaskReady                       // Wave reached, not yet picked up by a worker
	TaskRunning                     // Currently executing
	TaskCompleted                   // Finished successfully (terminal)
	TaskFailed                      // Exhausted or halted with an error (terminal)
	TaskSkipped                     // Retry policy gave up (terminal)
	TaskBlocked                     // Escalated, pending external analysis (terminal)
)

var statusNames = map[TaskStatus]string{
	TaskPending:   "pending",
	TaskReady:     "ready",
	TaskRunning:   "running",
	TaskCompleted: "completed",
	TaskFailed:    "failed",
	TaskSkipped:   "skipped",
	TaskBlocked:   "blocked",
}

func (s TaskStatus) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "unknown"
}

// Terminal reports whether the status is final. A wave is complete only
// when every task in it is terminal.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskSkipped, TaskBlocked:
		return true
	}
	return false
}

// Satisfies reports whether a dependency in this status allows its
// dependents to run. Only completed and skipped dependencies do.
func (s TaskStatus) Satisfies() bool {
	return s == TaskCompleted || s == TaskSkipped
}

// legalTransitions encodes the allowed status transitions. Transitions are
// applied under the DAG lock, so readers always observe a total order.
var legalTransitions = map[TaskStatus][]TaskStatus{
	TaskPending: {TaskReady, TaskBlocked, TaskSkipped, TaskFailed},
	TaskReady:   {TaskRunning, TaskBlocked, TaskSkipped, TaskFailed},
	TaskRunning: {TaskCompleted, TaskFailed, TaskSkipped, TaskBlocked, TaskReady},
}

func canTransition(from, to TaskStatus) bool {
	for _, t := range legalTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Task represents one atomic unit of work in the execution graph.
type Task struct {
	ID            string              // Unique identifier
	DisplayID     string              // Human-readable identifier
	DependsOn     []string            // Task IDs that must be terminal-satisfied first
	Impacts       []impact.FileImpact // Declared file impacts, immutable once set
	Priority      int                 // Higher runs earlier on wave tie-break
	Critical      bool                // Failure of a critical task halts the run
	Status        TaskStatus
	WaveNumber    int // Assigned by the wave builder; -1 until then
	CreationOrder int // Submission order, second tie-break key
	Attempt       int // Number of attempts started so far
	Result        string
	Err           error
}

// MutatingPaths returns the paths this task needs locks and a checkpoint for.
func (t *Task) MutatingPaths() []string {
	return impact.MutatingPaths(t.Impacts)
}

func cloneTask(task *Task) *Task {
	if task == nil {
		return nil
	}

	cp := *task
	if task.DependsOn != nil {
		cp.DependsOn = append([]string(nil), task.DependsOn...)
	}
	if task.Impacts != nil {
		cp.Impacts = append([]impact.FileImpact(nil), task.Impacts...)
	}
	return &cp
}
