// Package lane isolates concurrent runs from each other. Every lock,
// checkpoint, instance, and status record created during a run is
// namespaced under the lane's execution ID, so independent executions
// never observe each other's state.
package lane

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of an execution lane.
type Status int

const (
	StatusPending Status = iota
	StatusRunning
	StatusPaused
	StatusCompleted // All waves terminal, run finished normally
	StatusHalted    // Run-level policy stopped the run early
	StatusStopped   // Hard cancel
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusPaused:
		return "paused"
	case StatusCompleted:
		return "completed"
	case StatusHalted:
		return "halted"
	case StatusStopped:
		return "stopped"
	}
	return "unknown"
}

// Terminal reports whether the lane reached a final state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusHalted || s == StatusStopped
}

// Lane owns the run-control state for one execution.
type Lane struct {
	ExecutionID   string
	MaxConcurrent int

	mu          sync.Mutex
	status      Status
	currentWave int
	startedAt   time.Time
	haltReason  string

	stopCh   chan struct{}
	stopOnce sync.Once
	resumeCh chan struct{} // Non-nil while paused; closed on Resume
}

func newLane(maxConcurrent int) *Lane {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	return &Lane{
		ExecutionID:   uuid.NewString(),
		MaxConcurrent: maxConcurrent,
		status:        StatusPending,
		currentWave:   -1,
		stopCh:        make(chan struct{}),
	}
}

// Start marks the lane running and stamps its start time.
func (l *Lane) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.status == StatusPending {
		l.status = StatusRunning
		l.startedAt = time.Now().UTC()
	}
}

// Stop hard-cancels the run: in-flight instances are terminated, locks
// released, checkpoints kept for forensic rollback. Idempotent.
func (l *Lane) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

// StopRequested reports whether Stop was called.
func (l *Lane) StopRequested() bool {
	select {
	case <-l.stopCh:
		return true
	default:
		return false
	}
}

// Done returns a channel closed when Stop is called.
func (l *Lane) Done() <-chan struct{} {
	return l.stopCh
}

// Pause lets in-flight instances finish their current task and prevents
// anything further from spawning until Resume.
func (l *Lane) Pause() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.status != StatusRunning {
		return
	}
	l.status = StatusPaused
	l.resumeCh = make(chan struct{})
}

// Resume re-enters the wave loop at the paused wave.
func (l *Lane) Resume() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.status != StatusPaused {
		return
	}
	l.status = StatusRunning
	close(l.resumeCh)
	l.resumeCh = nil
}

// AwaitResume blocks while the lane is paused. Returns an error if the
// context is cancelled or the lane is stopped while waiting.
func (l *Lane) AwaitResume(ctx context.Context) error {
	for {
		l.mu.Lock()
		ch := l.resumeCh
		l.mu.Unlock()
		if ch == nil {
			return nil
		}
		select {
		case <-ch:
		case <-l.stopCh:
			return fmt.Errorf("lane %s stopped while paused", l.ExecutionID)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// SetWave records the wave the run is currently executing.
func (l *Lane) SetWave(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.currentWave = n
}

// Finish moves the lane to a terminal status with an optional reason.
func (l *Lane) Finish(status Status, reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.status.Terminal() {
		return
	}
	l.status = status
	l.haltReason = reason
}

// Snapshot is a point-in-time copy of the lane's state.
type Snapshot struct {
	ExecutionID   string
	Status        Status
	CurrentWave   int
	StartedAt     time.Time
	MaxConcurrent int
	HaltReason    string
}

// Snapshot returns a copy of the lane's current state.
func (l *Lane) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Snapshot{
		ExecutionID:   l.ExecutionID,
		Status:        l.status,
		CurrentWave:   l.currentWave,
		StartedAt:     l.startedAt,
		MaxConcurrent: l.MaxConcurrent,
		HaltReason:    l.haltReason,
	}
}

// StartedAt returns the lane start time (zero until Start).
func (l *Lane) StartedAt() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.startedAt
}

// Registry tracks live and archived lanes by execution ID.
type Registry struct {
	mu       sync.RWMutex
	live     map[string]*Lane
	archived map[string]Snapshot
}

// NewRegistry creates an empty lane registry.
func NewRegistry() *Registry {
	return &Registry{
		live:     make(map[string]*Lane),
		archived: make(map[string]Snapshot),
	}
}

// Create registers a new lane for a submitted task set.
func (r *Registry) Create(maxConcurrent int) *Lane {
	l := newLane(maxConcurrent)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.live[l.ExecutionID] = l
	return l
}

// Get returns the live lane for an execution ID.
func (r *Registry) Get(executionID string) (*Lane, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.live[executionID]
	return l, ok
}

// Archive moves a terminal lane out of the live set, keeping its final
// snapshot for status queries.
func (r *Registry) Archive(executionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.live[executionID]
	if !ok {
		return fmt.Errorf("lane not found: %s", executionID)
	}
	snap := l.Snapshot()
	if !snap.Status.Terminal() {
		return fmt.Errorf("lane %s is not terminal (status %s)", executionID, snap.Status)
	}
	delete(r.live, executionID)
	r.archived[executionID] = snap
	return nil
}

// Status returns the snapshot of a live or archived lane.
func (r *Registry) Status(executionID string) (Snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if l, ok := r.live[executionID]; ok {
		return l.Snapshot(), true
	}
	snap, ok := r.archived[executionID]
	return snap, ok
}
