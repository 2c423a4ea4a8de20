package failure

import (
	"fmt"
	"time"
)

// RunSnapshot is the run-level state the continuation policy inspects.
type RunSnapshot struct {
	FailedOrBlocked int  // Tasks that reached failed or blocked, in total
	CriticalFailed  bool // Any task flagged critical reached a failing terminal state
	StartedAt       time.Time
	TimeBudget      time.Duration // Zero means unbounded
	StopRequested   bool          // External stop signal received
}

// maxFailedTasks is the run-level failure tolerance: the run halts once
// more than this many tasks are failed or blocked.
const maxFailedTasks = 3

// ShouldContinue evaluates the run-level continuation policy after every
// task terminal transition. It returns false with a human-readable reason
// when the run must halt.
func ShouldContinue(snap RunSnapshot) (bool, string) {
	if snap.StopRequested {
		return false, "external stop signal received"
	}
	if snap.CriticalFailed {
		return false, "critical task failed"
	}
	if snap.FailedOrBlocked > maxFailedTasks {
		return false, fmt.Sprintf("%d tasks failed or blocked (limit %d)", snap.FailedOrBlocked, maxFailedTasks)
	}
	if snap.TimeBudget > 0 && time.Since(snap.StartedAt) > snap.TimeBudget {
		return false, fmt.Sprintf("time budget %s exceeded", snap.TimeBudget)
	}
	return true, ""
}
