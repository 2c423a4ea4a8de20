package orchestrator

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InstanceStatus is the lifecycle of one agent instance (one task attempt).
type InstanceStatus int

const (
	InstanceSpawning InstanceStatus = iota
	InstanceRunning
	InstanceValidating
	InstanceCompleted
	InstanceFailed
	InstanceStuck
	InstanceTerminated
)

func (s InstanceStatus) String() string {
	switch s {
	case InstanceSpawning:
		return "spawning"
	case InstanceRunning:
		return "running"
	case InstanceValidating:
		return "validating"
	case InstanceCompleted:
		return "completed"
	case InstanceFailed:
		return "failed"
	case InstanceStuck:
		return "stuck"
	case InstanceTerminated:
		return "terminated"
	}
	return "unknown"
}

func (s InstanceStatus) live() bool {
	switch s {
	case InstanceSpawning, InstanceRunning, InstanceValidating:
		return true
	}
	return false
}

// AgentInstance is one attempt of one task by one worker.
type AgentInstance struct {
	InstanceID    string
	ExecutionID   string
	WaveNumber    int
	TaskID        string
	Attempt       int
	Status        InstanceStatus
	CheckpointID  string
	LastHeartbeat time.Time
	SpawnedAt     time.Time
}

// Holder returns the lock-holder identity for this instance.
func (a *AgentInstance) Holder() string {
	return a.ExecutionID + "/" + a.InstanceID
}

// instanceTracker is the shared table of live and finished instances for
// one execution. Heartbeats and status transitions go through it.
type instanceTracker struct {
	mu        sync.Mutex
	instances map[string]*AgentInstance
}

func newInstanceTracker() *instanceTracker {
	return &instanceTracker{instances: make(map[string]*AgentInstance)}
}

// Spawn registers a new instance for a task attempt.
func (t *instanceTracker) Spawn(executionID, taskID string, wave, attempt int) *AgentInstance {
	now := time.Now().UTC()
	inst := &AgentInstance{
		InstanceID:    uuid.NewString(),
		ExecutionID:   executionID,
		WaveNumber:    wave,
		TaskID:        taskID,
		Attempt:       attempt,
		Status:        InstanceSpawning,
		LastHeartbeat: now,
		SpawnedAt:     now,
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.instances[inst.InstanceID] = inst
	return inst
}

// Beat records a liveness signal from an instance.
func (t *instanceTracker) Beat(instanceID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	inst, ok := t.instances[instanceID]
	if !ok {
		return fmt.Errorf("instance %q not found", instanceID)
	}
	inst.LastHeartbeat = time.Now().UTC()
	return nil
}

// SetStatus transitions an instance's status.
func (t *instanceTracker) SetStatus(instanceID string, status InstanceStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if inst, ok := t.instances[instanceID]; ok {
		inst.Status = status
	}
}

// SetCheckpoint records the checkpoint created for this attempt.
func (t *instanceTracker) SetCheckpoint(instanceID, checkpointID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if inst, ok := t.instances[instanceID]; ok {
		inst.CheckpointID = checkpointID
	}
}

// Overdue returns live instances whose last heartbeat is older than the
// timeout.
func (t *instanceTracker) Overdue(timeout time.Duration) []AgentInstance {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := time.Now().UTC().Add(-timeout)
	var overdue []AgentInstance
	for _, inst := range t.instances {
		if inst.Status.live() && inst.LastHeartbeat.Before(cutoff) {
			overdue = append(overdue, *inst)
		}
	}
	return overdue
}

// Live returns copies of all live instances.
func (t *instanceTracker) Live() []AgentInstance {
	t.mu.Lock()
	defer t.mu.Unlock()

	var live []AgentInstance
	for _, inst := range t.instances {
		if inst.Status.live() {
			live = append(live, *inst)
		}
	}
	return live
}
