package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/quayside/waverunner/internal/collab"
)

// RetryConfig configures the transport-level retry wrapped around each
// generation call. This is distinct from the task-level retry policy: it
// only smooths over transient collaborator outages inside one attempt.
type RetryConfig struct {
	InitialInterval     time.Duration // Initial retry interval (default 100ms)
	MaxInterval         time.Duration // Maximum retry interval (default 10s)
	MaxElapsedTime      time.Duration // Maximum total retry time (default 2min)
	Multiplier          float64       // Backoff multiplier (default 2.0)
	RandomizationFactor float64       // Jitter factor (default 0.5)
}

// DefaultRetryConfig returns the default transport retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval:     100 * time.Millisecond,
		MaxInterval:         10 * time.Second,
		MaxElapsedTime:      2 * time.Minute,
		Multiplier:          2.0,
		RandomizationFactor: 0.5,
	}
}

// breakerRegistry manages per-collaborator circuit breakers.
type breakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
	logger   *slog.Logger
}

func newBreakerRegistry(logger *slog.Logger) *breakerRegistry {
	return &breakerRegistry{
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		logger:   logger,
	}
}

// Get returns the circuit breaker for the named collaborator, creating it
// on first use.
func (r *breakerRegistry) Get(name string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[name]; ok {
		return cb
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,                // Allow 3 test requests in half-open state
		Interval:    0,                // Don't clear counts automatically
		Timeout:     30 * time.Second, // Stay open for 30s before testing recovery
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			r.logger.Warn("circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			// Cancellation is not a collaborator failure.
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return true
			}
			// Typed errors are definitive verdicts about the task, not
			// transport failures.
			var cerr *collab.Error
			return errors.As(err, &cerr)
		},
	})

	r.breakers[name] = cb
	return cb
}

// generateWithRetry calls the generator through the circuit breaker,
// retrying transient failures with exponential backoff. Typed collaborator
// errors, breaker denials, and context cancellation are permanent: they
// surface immediately to the task-level failure classifier. beat reports
// liveness before each generation attempt, covering the backoff waits
// between transport retries.
func generateWithRetry(ctx context.Context, g collab.Generator, req collab.Request, hints []collab.Hint, cb *gobreaker.CircuitBreaker, retryCfg RetryConfig, beat func()) (*collab.Content, error) {
	var content *collab.Content

	operation := func() error {
		if beat != nil {
			beat()
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}

		result, err := cb.Execute(func() (interface{}, error) {
			return g.Generate(ctx, req, hints)
		})

		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(err)
			}
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			var cerr *collab.Error
			if errors.As(err, &cerr) {
				return backoff.Permanent(err)
			}
			// Transient transport failure: retry.
			return err
		}

		content = result.(*collab.Content)
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = retryCfg.InitialInterval
	policy.MaxInterval = retryCfg.MaxInterval
	policy.MaxElapsedTime = retryCfg.MaxElapsedTime
	policy.Multiplier = retryCfg.Multiplier
	policy.RandomizationFactor = retryCfg.RandomizationFactor

	err := backoff.Retry(operation, backoff.WithContext(policy, ctx))
	return content, err
}
