package scheduler

import (
	"fmt"
	"strings"
	"sync"

	"github.com/gammazero/toposort"
)

// DAG represents a directed acyclic graph of tasks. All status transitions
// happen under the DAG lock and are checked against the legal transition
// table, so no reader can ever observe two different states without a
// total order between them.
type DAG struct {
	mu         sync.RWMutex
	tasks      map[string]*Task    // All tasks indexed by ID
	dependents map[string][]string // Maps taskID -> list of tasks that depend on it
	nextOrder  int                 // Creation-order counter for tie-breaks
}

// NewDAG creates an empty DAG.
func NewDAG() *DAG {
	return &DAG{
		tasks:      make(map[string]*Task),
		dependents: make(map[string][]string),
	}
}

// AddTask adds a task to the DAG, stamping its creation order.
// Returns error if the task ID already exists.
func (d *DAG) AddTask(task *Task) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.tasks[task.ID]; exists {
		return fmt.Errorf("task with ID %q already exists", task.ID)
	}

	task.CreationOrder = d.nextOrder
	d.nextOrder++
	task.WaveNumber = -1

	d.tasks[task.ID] = task

	// Build dependents map for efficient downstream lookup
	for _, depID := range task.DependsOn {
		d.dependents[depID] = append(d.dependents[depID], task.ID)
	}

	return nil
}

// Validate runs topological sort using gammazero/toposort.
// Returns ordered task IDs or error if a cycle is detected.
// Also verifies all task IDs in DependsOn exist in the DAG.
func (d *DAG) Validate() ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.validateLocked()
}

func (d *DAG) validateLocked() ([]string, error) {
	// First, verify all dependencies exist
	for taskID, task := range d.tasks {
		for _, depID := range task.DependsOn {
			if _, exists := d.tasks[depID]; !exists {
				return nil, fmt.Errorf("task %q depends on non-existent task %q", taskID, depID)
			}
		}
	}

	// Build edges for topological sort
	var edges []toposort.Edge
	for taskID, task := range d.tasks {
		if len(task.DependsOn) == 0 {
			// Task with no dependencies - add edge from nil to ensure it's included
			edges = append(edges, toposort.Edge{nil, taskID})
		} else {
			for _, depID := range task.DependsOn {
				// Edge (depID, taskID) means depID must come before taskID
				edges = append(edges, toposort.Edge{depID, taskID})
			}
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("task graph contains cycle: %w", err)
	}

	order := make([]string, 0, len(sorted))
	for _, id := range sorted {
		if id != nil {
			order = append(order, id.(string))
		}
	}

	// Verify all tasks are in the sorted result (catches disconnected components)
	if len(order) != len(d.tasks) {
		missing := []string{}
		foundMap := make(map[string]bool)
		for _, id := range order {
			foundMap[id] = true
		}
		for taskID := range d.tasks {
			if !foundMap[taskID] {
				missing = append(missing, taskID)
			}
		}
		return nil, fmt.Errorf("topological sort lost %d tasks: %s", len(missing), strings.Join(missing, ", "))
	}

	return order, nil
}

// transition applies a status change after checking it is legal.
// Must be called with d.mu held for writing.
func (d *DAG) transition(taskID string, to TaskStatus) (*Task, error) {
	task, exists := d.tasks[taskID]
	if !exists {
		return nil, fmt.Errorf("task %q not found", taskID)
	}
	if !canTransition(task.Status, to) {
		return nil, fmt.Errorf("task %q: illegal transition %s -> %s", taskID, task.Status, to)
	}
	task.Status = to
	return task, nil
}

// MarkReady moves a pending task to ready when its wave starts.
// Every task in depends_on must be completed or skipped first.
func (d *DAG) MarkReady(taskID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	task, exists := d.tasks[taskID]
	if !exists {
		return fmt.Errorf("task %q not found", taskID)
	}
	for _, depID := range task.DependsOn {
		dep, ok := d.tasks[depID]
		if !ok || !dep.Status.Satisfies() {
			return fmt.Errorf("task %q has unsatisfied dependency %q", taskID, depID)
		}
	}

	_, err := d.transition(taskID, TaskReady)
	return err
}

// MarkRunning moves a ready task to running and bumps its attempt counter.
func (d *DAG) MarkRunning(taskID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	task, err := d.transition(taskID, TaskRunning)
	if err != nil {
		return err
	}
	task.Attempt++
	return nil
}

// MarkRequeued returns a running task to ready for another attempt.
func (d *DAG) MarkRequeued(taskID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, err := d.transition(taskID, TaskReady)
	return err
}

// MarkCompleted sets task status to completed and stores the result.
func (d *DAG) MarkCompleted(taskID string, result string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	task, err := d.transition(taskID, TaskCompleted)
	if err != nil {
		return err
	}
	task.Result = result
	return nil
}

// MarkFailed sets task status to failed and stores the error.
func (d *DAG) MarkFailed(taskID string, taskErr error) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	task, err := d.transition(taskID, TaskFailed)
	if err != nil {
		return err
	}
	task.Err = taskErr
	return nil
}

// MarkSkipped sets task status to skipped, recording the final error.
func (d *DAG) MarkSkipped(taskID string, taskErr error) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	task, err := d.transition(taskID, TaskSkipped)
	if err != nil {
		return err
	}
	task.Err = taskErr
	return nil
}

// MarkBlocked sets task status to blocked, recording the escalated error.
func (d *DAG) MarkBlocked(taskID string, taskErr error) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	task, err := d.transition(taskID, TaskBlocked)
	if err != nil {
		return err
	}
	task.Err = taskErr
	return nil
}

// Get returns a copy of the task by ID.
func (d *DAG) Get(taskID string) (*Task, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	task, exists := d.tasks[taskID]
	if !exists {
		return nil, false
	}
	return cloneTask(task), true
}

// Tasks returns copies of all tasks.
func (d *DAG) Tasks() []*Task {
	d.mu.RLock()
	defer d.mu.RUnlock()

	tasks := make([]*Task, 0, len(d.tasks))
	for _, task := range d.tasks {
		tasks = append(tasks, cloneTask(task))
	}
	return tasks
}

// Status returns the current status of a task.
func (d *DAG) Status(taskID string) (TaskStatus, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	task, exists := d.tasks[taskID]
	if !exists {
		return 0, false
	}
	return task.Status, true
}

// Counts returns the number of tasks per status.
func (d *DAG) Counts() map[TaskStatus]int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	counts := make(map[TaskStatus]int)
	for _, task := range d.tasks {
		counts[task.Status]++
	}
	return counts
}

// setWave stamps the wave number on a task. Used by the wave builder.
func (d *DAG) setWave(taskID string, wave int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if task, ok := d.tasks[taskID]; ok {
		task.WaveNumber = wave
	}
}
