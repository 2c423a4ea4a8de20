package failure

import (
	"math/rand"
	"time"
)

// Decision is what the retry policy tells the orchestrator to do after a
// failed attempt.
type Decision string

const (
	DecisionRetry           Decision = "RETRY"
	DecisionInstallAndRetry Decision = "INSTALL_AND_RETRY"
	DecisionRebaseAndRetry  Decision = "REBASE_AND_RETRY"
	DecisionSkip            Decision = "SKIP"
	DecisionEscalate        Decision = "ESCALATE"
)

// Retryable reports whether the decision spawns another attempt.
func (d Decision) Retryable() bool {
	switch d {
	case DecisionRetry, DecisionInstallAndRetry, DecisionRebaseAndRetry:
		return true
	}
	return false
}

// Policy is the per-category retry decision table.
type Policy struct {
	MaxAttempts        int             // Global attempt cap across all decisions
	SyntaxAttempts     int             // RETRY while attempt < this, then SKIP
	ValidationAttempts int             // RETRY while attempt < this, then SKIP
	BackoffSchedule    []time.Duration // Fixed delays indexed by attempt number
	Jitter             float64         // Fractional jitter applied to each delay
}

// DefaultPolicy returns the standard decision table: syntax errors retry
// up to 3 attempts, validation failures up to 2, missing dependencies
// install-and-retry up to the global cap, conflicts rebase-and-retry, and
// anything unrecognized escalates immediately.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:        5,
		SyntaxAttempts:     3,
		ValidationAttempts: 2,
		BackoffSchedule:    []time.Duration{1 * time.Second, 5 * time.Second, 15 * time.Second},
		Jitter:             0.2,
	}
}

// Decide maps (category, attempt) to a decision. attempt is the number of
// attempts already made, including the one that just failed.
func (p Policy) Decide(cat Category, attempt int) Decision {
	if attempt >= p.MaxAttempts {
		switch cat {
		case CategoryUnknown, CategoryTimeout:
			return DecisionEscalate
		default:
			return DecisionSkip
		}
	}

	switch cat {
	case CategorySyntax:
		if attempt < p.SyntaxAttempts {
			return DecisionRetry
		}
		return DecisionSkip
	case CategoryMissingDependency:
		return DecisionInstallAndRetry
	case CategoryConflict:
		return DecisionRebaseAndRetry
	case CategoryValidationFailed:
		if attempt < p.ValidationAttempts {
			return DecisionRetry
		}
		return DecisionSkip
	case CategoryTimeout:
		return DecisionEscalate
	default:
		return DecisionEscalate
	}
}

// Backoff returns the delay before the next attempt. attempt is 1-based:
// the delay after the first failed attempt is BackoffSchedule[0]. Attempts
// beyond the schedule reuse the last entry. The delay is jittered by
// ±Jitter.
func (p Policy) Backoff(attempt int) time.Duration {
	if len(p.BackoffSchedule) == 0 {
		return 0
	}
	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(p.BackoffSchedule) {
		idx = len(p.BackoffSchedule) - 1
	}
	d := p.BackoffSchedule[idx]
	if p.Jitter <= 0 {
		return d
	}
	// Jitter in [-Jitter, +Jitter] of the base delay.
	f := 1 + p.Jitter*(2*rand.Float64()-1)
	return time.Duration(float64(d) * f)
}
