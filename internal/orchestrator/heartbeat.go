package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/quayside/waverunner/internal/locks"
)

// heartbeatMonitor is the timer-driven liveness checker: every tick it
// scans for instances whose heartbeat lapsed or whose locks expired while
// the worker is still alive, and reports them as stuck. An explicit loop
// keeps the ordering and cancellation semantics easy to reason about.
type heartbeatMonitor struct {
	tracker  *instanceTracker
	locks    *locks.Manager
	interval time.Duration
	timeout  time.Duration
	onStuck  func(inst AgentInstance, reason string)
	logger   *slog.Logger
}

func newHeartbeatMonitor(tracker *instanceTracker, lockMgr *locks.Manager, interval, timeout time.Duration, onStuck func(AgentInstance, string), logger *slog.Logger) *heartbeatMonitor {
	return &heartbeatMonitor{
		tracker:  tracker,
		locks:    lockMgr,
		interval: interval,
		timeout:  timeout,
		onStuck:  onStuck,
		logger:   logger,
	}
}

// Run ticks until the context is cancelled.
func (m *heartbeatMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick()
		}
	}
}

func (m *heartbeatMonitor) tick() {
	for _, inst := range m.tracker.Overdue(m.timeout) {
		m.declareStuck(inst, "heartbeat missed")
	}

	// A live worker whose lock expired out from under it is equally stuck:
	// its mutations are no longer protected.
	for _, inst := range m.tracker.Live() {
		if expired := m.locks.Expired(inst.Holder()); len(expired) > 0 {
			m.declareStuck(inst, "lock expired while instance live")
		}
	}
}

func (m *heartbeatMonitor) declareStuck(inst AgentInstance, reason string) {
	m.logger.Warn("instance stuck",
		"execution_id", inst.ExecutionID,
		"task_id", inst.TaskID,
		"instance_id", inst.InstanceID,
		"reason", reason)

	m.tracker.SetStatus(inst.InstanceID, InstanceStuck)
	m.locks.ReleaseAll(inst.Holder())
	if m.onStuck != nil {
		m.onStuck(inst, reason)
	}
}
