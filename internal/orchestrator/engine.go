// Package orchestrator drives a dependency-ordered task set to completion:
// waves execute strictly in sequence, tasks within a wave concurrently up
// to the lane's concurrency cap, each task protected by path locks and a
// pre-mutation checkpoint, each failure routed through the classifier.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quayside/waverunner/internal/checkpoint"
	"github.com/quayside/waverunner/internal/collab"
	"github.com/quayside/waverunner/internal/events"
	"github.com/quayside/waverunner/internal/failure"
	"github.com/quayside/waverunner/internal/lane"
	"github.com/quayside/waverunner/internal/locks"
	"github.com/quayside/waverunner/internal/scheduler"
)

// Recorder persists engine state transitions. All calls are best-effort:
// persistence failures are logged, never fatal to the run.
type Recorder interface {
	SaveLane(ctx context.Context, snap lane.Snapshot) error
	SaveTask(ctx context.Context, executionID string, task *scheduler.Task) error
	SaveWave(ctx context.Context, wave scheduler.Wave) error
	SaveInstance(ctx context.Context, inst AgentInstance) error
	SaveLocks(ctx context.Context, executionID string, live []locks.Lock) error
	SaveCheckpoint(ctx context.Context, cp *checkpoint.Checkpoint) error
	SaveFailure(ctx context.Context, executionID string, rec failure.Record) error
}

// Config wires the engine's collaborators and knobs.
type Config struct {
	Generator   collab.Generator
	Validator   collab.Validator
	Hints       collab.HintSource
	Locks       *locks.Manager
	Checkpoints *checkpoint.Store
	Bus         *events.Bus
	Recorder    Recorder // Optional
	Logger      *slog.Logger
	Policy      failure.Policy
	Retry       RetryConfig
	TieBreak    scheduler.TieBreak

	LockTTL           time.Duration // Advisory lock lifetime (default 60s)
	LockWait          time.Duration // Max in-wave wait on lock denial (default 10s)
	LockRetryInterval time.Duration // Poll interval while waiting (default 200ms)
	HeartbeatInterval time.Duration // Worker liveness reporting period (default 2s)
	HeartbeatTimeout  time.Duration // Missing heartbeats beyond this = stuck (default 30s)
	TimeBudget        time.Duration // Run-level wall-clock budget (0 = unbounded)
}

func (c *Config) applyDefaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Hints == nil {
		c.Hints = collab.NoHints
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 60 * time.Second
	}
	if c.LockWait <= 0 {
		c.LockWait = 10 * time.Second
	}
	if c.LockRetryInterval <= 0 {
		c.LockRetryInterval = 200 * time.Millisecond
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 2 * time.Second
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = 30 * time.Second
	}
	if c.Retry == (RetryConfig{}) {
		c.Retry = DefaultRetryConfig()
	}
	if c.Policy.MaxAttempts == 0 {
		c.Policy = failure.DefaultPolicy()
	}
}

// ExecutionStatus is the caller-visible state of a run.
type ExecutionStatus struct {
	ExecutionID  string
	Lane         lane.Snapshot
	WaveNumber   int
	TaskStatuses map[string]scheduler.TaskStatus
	BlockedTasks map[string]string // Task ID -> reason, for halted runs
}

// Engine coordinates one execution lane.
type Engine struct {
	cfg      Config
	dag      *scheduler.DAG
	lane     *lane.Lane
	waves    []scheduler.Wave
	tracker  *instanceTracker
	journal  *failure.Journal
	breakers *breakerRegistry

	mu             sync.Mutex
	halt           bool
	haltReason     string
	criticalFailed bool
	stuckFired     map[string]bool
	blockedReasons map[string]string
	attemptCancels map[string]context.CancelCauseFunc // Instance ID -> attempt cancel
}

// New validates the task graph, computes the wave sequence, and returns an
// engine ready to run. The wave sequence is immutable for the execution;
// structural edits require Rebuild before the run starts.
func New(cfg Config, dag *scheduler.DAG, ln *lane.Lane) (*Engine, error) {
	cfg.applyDefaults()
	if cfg.Generator == nil {
		return nil, errors.New("orchestrator: Generator is required")
	}
	if cfg.Validator == nil {
		return nil, errors.New("orchestrator: Validator is required")
	}
	if cfg.Locks == nil {
		cfg.Locks = locks.NewManager()
	}
	if cfg.Checkpoints == nil {
		return nil, errors.New("orchestrator: Checkpoints store is required")
	}
	if cfg.Bus == nil {
		cfg.Bus = events.NewBus()
	}

	waves, err := scheduler.NewWaveBuilder(cfg.TieBreak).Build(ln.ExecutionID, dag)
	if err != nil {
		return nil, err
	}

	return &Engine{
		cfg:            cfg,
		dag:            dag,
		lane:           ln,
		waves:          waves,
		tracker:        newInstanceTracker(),
		journal:        failure.NewJournal(),
		breakers:       newBreakerRegistry(cfg.Logger),
		stuckFired:     make(map[string]bool),
		blockedReasons: make(map[string]string),
		attemptCancels: make(map[string]context.CancelCauseFunc),
	}, nil
}

// Waves returns a copy of the computed wave sequence.
func (e *Engine) Waves() []scheduler.Wave {
	out := make([]scheduler.Wave, len(e.waves))
	copy(out, e.waves)
	return out
}

// Lane returns the engine's execution lane (the Stop/Pause/Resume surface).
func (e *Engine) Lane() *lane.Lane { return e.lane }

// Journal returns the engine's failure journal.
func (e *Engine) Journal() *failure.Journal { return e.journal }

// Status returns the caller-visible state of the run. It always reflects
// the true per-task state; a halted run carries the blocking task IDs and
// reasons.
func (e *Engine) Status() ExecutionStatus {
	snap := e.lane.Snapshot()
	st := ExecutionStatus{
		ExecutionID:  e.lane.ExecutionID,
		Lane:         snap,
		WaveNumber:   snap.CurrentWave,
		TaskStatuses: make(map[string]scheduler.TaskStatus),
		BlockedTasks: make(map[string]string),
	}
	for _, t := range e.dag.Tasks() {
		st.TaskStatuses[t.ID] = t.Status
	}
	e.mu.Lock()
	for id, reason := range e.blockedReasons {
		st.BlockedTasks[id] = reason
	}
	e.mu.Unlock()
	return st
}

// Run executes the wave sequence to a terminal state. Waves run strictly
// in order; the engine does not advance to wave N+1 until every task in
// wave N is terminal.
func (e *Engine) Run(ctx context.Context) error {
	e.lane.Start()
	e.persistLane(ctx)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-e.lane.Done():
			cancel()
		case <-runCtx.Done():
		}
	}()

	monitor := newHeartbeatMonitor(e.tracker, e.cfg.Locks, e.cfg.HeartbeatInterval, e.cfg.HeartbeatTimeout, e.onMonitorStuck, e.cfg.Logger)
	go monitor.Run(runCtx)

	for i := range e.waves {
		wave := &e.waves[i]

		if e.halted() || e.lane.StopRequested() || runCtx.Err() != nil {
			break
		}
		if err := e.lane.AwaitResume(runCtx); err != nil {
			break
		}

		e.runWave(runCtx, wave)

		if cont, reason := e.shouldContinue(); !cont {
			e.setHalt(reason)
		}
	}

	return e.finish(ctx, runCtx)
}

func (e *Engine) runWave(ctx context.Context, wave *scheduler.Wave) {
	e.lane.SetWave(wave.Number)
	wave.Status = scheduler.WaveRunning
	e.persistWave(ctx, *wave)

	e.cfg.Logger.Info("wave started", "execution_id", e.lane.ExecutionID, "wave", wave.Number, "tasks", len(wave.TaskIDs))
	e.cfg.Bus.Publish(events.WaveStarted{
		ExecutionID: e.lane.ExecutionID,
		WaveNumber:  wave.Number,
		TaskIDs:     append([]string(nil), wave.TaskIDs...),
		Timestamp:   time.Now().UTC(),
	})

	// Readiness gate: a task whose dependency failed hard is blocked, not
	// run. The strict wave barrier makes the dependency invariant hold by
	// construction for everything that passes this gate.
	var runnable []string
	for _, id := range wave.TaskIDs {
		if err := e.dag.MarkReady(id); err != nil {
			if berr := e.dag.MarkBlocked(id, err); berr == nil {
				e.noteBlocked(id, err.Error())
				e.cfg.Logger.Warn("task blocked by failed dependency", "task_id", id, "reason", err)
			}
			e.persistTask(ctx, id)
			continue
		}
		e.persistTask(ctx, id)
		runnable = append(runnable, id)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.lane.MaxConcurrent)

	for _, id := range runnable {
		id := id
		g.Go(func() error {
			e.runTask(gctx, wave.Number, id)
			return nil
		})
	}
	_ = g.Wait()

	wave.Status = scheduler.WaveCompleted
	e.persistWave(ctx, *wave)
	e.cfg.Bus.Publish(events.WaveCompleted{
		ExecutionID: e.lane.ExecutionID,
		WaveNumber:  wave.Number,
		Timestamp:   time.Now().UTC(),
	})
}

// runTask drives one task through its attempt loop until it reaches a
// terminal state or the run is interrupted.
func (e *Engine) runTask(ctx context.Context, waveNumber int, taskID string) {
	for {
		if e.halted() || e.lane.StopRequested() || ctx.Err() != nil {
			return
		}
		if err := e.lane.AwaitResume(ctx); err != nil {
			return
		}

		if err := e.dag.MarkRunning(taskID); err != nil {
			e.cfg.Logger.Error("failed to mark task running", "task_id", taskID, "error", err)
			return
		}
		task, _ := e.dag.Get(taskID)
		inst := e.tracker.Spawn(e.lane.ExecutionID, taskID, waveNumber, task.Attempt)
		e.persistInstance(ctx, inst)

		e.cfg.Logger.Info("task started",
			"execution_id", e.lane.ExecutionID, "task_id", taskID,
			"instance_id", inst.InstanceID, "attempt", task.Attempt, "wave", waveNumber)
		e.cfg.Bus.Publish(events.TaskStarted{
			ExecutionID: e.lane.ExecutionID,
			TaskID:      taskID,
			InstanceID:  inst.InstanceID,
			Attempt:     task.Attempt,
			Timestamp:   time.Now().UTC(),
		})

		start := time.Now()
		err := e.attempt(ctx, task, inst)
		if err == nil {
			e.tracker.SetStatus(inst.InstanceID, InstanceCompleted)
			e.persistInstance(ctx, inst)
			_ = e.dag.MarkCompleted(taskID, "")
			e.persistTask(ctx, taskID)
			e.cfg.Bus.Publish(events.TaskCompleted{
				ExecutionID: e.lane.ExecutionID,
				TaskID:      taskID,
				InstanceID:  inst.InstanceID,
				Duration:    time.Since(start),
				Timestamp:   time.Now().UTC(),
			})
			e.evaluateContinue()
			return
		}

		// Interrupted rather than failed: terminate the instance and leave
		// the task non-terminal. Cancellation never retroactively undoes
		// completed work; it only prevents further progress.
		if ctx.Err() != nil || e.lane.StopRequested() {
			e.tracker.SetStatus(inst.InstanceID, InstanceTerminated)
			e.persistInstance(ctx, inst)
			_ = e.dag.MarkRequeued(taskID)
			e.persistTask(ctx, taskID)
			return
		}

		category := failure.Classify(err)
		e.cfg.Logger.Warn("task attempt failed",
			"execution_id", e.lane.ExecutionID, "task_id", taskID,
			"attempt", task.Attempt, "category", string(category), "error", err)
		e.cfg.Bus.Publish(events.TaskFailed{
			ExecutionID:   e.lane.ExecutionID,
			TaskID:        taskID,
			InstanceID:    inst.InstanceID,
			ErrorCategory: string(category),
			Attempt:       task.Attempt,
			Timestamp:     time.Now().UTC(),
		})

		decision := e.cfg.Policy.Decide(category, task.Attempt)

		rec := failure.Record{
			TaskID:     taskID,
			Attempt:    task.Attempt,
			Category:   category,
			Signature:  failure.Signature(err),
			Decision:   decision,
			FileDigest: checkpoint.HashPaths(task.MutatingPaths()),
			Checkpoint: currentCheckpoint(e.tracker, inst.InstanceID),
			At:         time.Now().UTC(),
		}
		e.journal.Append(rec)
		e.persistFailure(ctx, rec)

		// Repeating an identical failing action is wasted work: the no
		// progress rule overrides a retry decision even with budget left.
		if decision.Retryable() && e.journal.Stalled(taskID) {
			e.tracker.SetStatus(inst.InstanceID, InstanceStuck)
			e.persistInstance(ctx, inst)
			_ = e.dag.MarkBlocked(taskID, err)
			e.persistTask(ctx, taskID)
			e.noteBlocked(taskID, "no progress across attempts")
			e.fireStuck(taskID, "no progress: identical failure repeated with no file changes")
			e.evaluateContinue()
			return
		}

		switch {
		case decision.Retryable():
			e.tracker.SetStatus(inst.InstanceID, InstanceFailed)
			e.persistInstance(ctx, inst)
			_ = e.dag.MarkRequeued(taskID)
			e.persistTask(ctx, taskID)

			delay := e.cfg.Policy.Backoff(task.Attempt)
			e.cfg.Bus.Publish(events.TaskRetrying{
				ExecutionID: e.lane.ExecutionID,
				TaskID:      taskID,
				Decision:    string(decision),
				NextAttempt: task.Attempt + 1,
				Delay:       delay,
				Timestamp:   time.Now().UTC(),
			})

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			case <-e.lane.Done():
				return
			}

		case decision == failure.DecisionSkip:
			e.tracker.SetStatus(inst.InstanceID, InstanceFailed)
			e.persistInstance(ctx, inst)
			_ = e.dag.MarkSkipped(taskID, err)
			e.persistTask(ctx, taskID)
			e.evaluateContinue()
			return

		default: // Escalate
			e.tracker.SetStatus(inst.InstanceID, InstanceStuck)
			e.persistInstance(ctx, inst)
			_ = e.dag.MarkBlocked(taskID, err)
			e.persistTask(ctx, taskID)
			e.noteBlocked(taskID, err.Error())
			e.fireStuck(taskID, fmt.Sprintf("escalated: %s", category))
			e.evaluateContinue()
			return
		}
	}
}

// attempt executes one task attempt: locks, checkpoint, generation,
// validation. On failure the checkpoint is restored before the locks are
// released (the deferred restore is registered after the release, so it
// runs first).
func (e *Engine) attempt(ctx context.Context, task *scheduler.Task, inst *AgentInstance) (err error) {
	holder := inst.Holder()
	paths := task.MutatingPaths()
	beat := func() { _ = e.tracker.Beat(inst.InstanceID) }

	if err := e.acquireLocks(ctx, task.ID, holder, paths, beat); err != nil {
		return err
	}
	defer func() {
		e.cfg.Locks.ReleaseAll(holder)
		e.persistLocks(ctx)
	}()
	e.persistLocks(ctx)

	cp, cpErr := e.cfg.Checkpoints.Create(e.lane.ExecutionID, task.ID, paths)
	if cpErr != nil {
		return fmt.Errorf("failed to create checkpoint: %w", cpErr)
	}
	e.tracker.SetCheckpoint(inst.InstanceID, cp.ID)
	e.persistCheckpoint(ctx, cp)
	beat()

	defer func() {
		if err == nil {
			return
		}
		// A hard cancel keeps the partial state with its checkpoint for
		// forensic rollback instead of restoring in-line.
		if errors.Is(err, context.Canceled) && e.lane.StopRequested() {
			return
		}
		if rerr := e.cfg.Checkpoints.Restore(cp.ID); rerr != nil {
			e.cfg.Logger.Error("rollback failed",
				"execution_id", e.lane.ExecutionID, "task_id", task.ID,
				"checkpoint_id", cp.ID, "error", rerr)
		}
	}()

	attemptCtx, cancel := context.WithCancelCause(ctx)
	e.trackAttempt(inst.InstanceID, cancel)
	stopRenewals := e.renewLocks(attemptCtx, inst, paths, cancel)
	defer func() {
		e.untrackAttempt(inst.InstanceID)
		cancel(nil)
		stopRenewals()
	}()

	e.tracker.SetStatus(inst.InstanceID, InstanceRunning)

	req := collab.Request{
		TaskID:    task.ID,
		DisplayID: task.DisplayID,
		Impacts:   task.Impacts,
		Attempt:   task.Attempt,
		Heartbeat: beat,
	}

	hints := e.queryHints(attemptCtx, task)
	beat()

	// The generation call runs on its own goroutine so a collaborator that
	// ignores cancellation cannot hold the wave barrier hostage: once the
	// liveness monitor cancels the attempt, the result is abandoned and its
	// content discarded.
	type genResult struct {
		content *collab.Content
		err     error
	}
	resCh := make(chan genResult, 1)
	go func() {
		c, gerr := generateWithRetry(attemptCtx, e.cfg.Generator, req, hints, e.breakers.Get("generator"), e.cfg.Retry, beat)
		resCh <- genResult{content: c, err: gerr}
	}()

	var content *collab.Content
	select {
	case res := <-resCh:
		if res.err != nil {
			return resolveCause(attemptCtx, res.err)
		}
		content = res.content
	case <-attemptCtx.Done():
		return resolveCause(attemptCtx, context.Cause(attemptCtx))
	}
	beat()

	if applyErr := applyContent(content); applyErr != nil {
		return fmt.Errorf("failed to write generated content: %w", applyErr)
	}

	e.tracker.SetStatus(inst.InstanceID, InstanceValidating)
	beat()
	result, valErr := e.cfg.Validator.Validate(attemptCtx, req, content)
	if valErr != nil {
		return resolveCause(attemptCtx, valErr)
	}
	if !result.Passed {
		return fmt.Errorf("%w: %s", failure.ErrValidationFailed, result.Output)
	}

	return nil
}

// acquireLocks tries to take every mutating path, re-polling within the
// configured wait threshold. Prolonged denial surfaces as the denial error
// itself, which classifies as CONFLICT.
func (e *Engine) acquireLocks(ctx context.Context, taskID, holder string, paths []string, beat func()) error {
	if len(paths) == 0 {
		return nil
	}

	deadline := time.Now().Add(e.cfg.LockWait)
	for {
		beat()
		err := e.cfg.Locks.AcquireAll(paths, holder, e.cfg.LockTTL)
		if err == nil {
			return nil
		}

		var denied *locks.DeniedError
		if errors.As(err, &denied) {
			e.cfg.Bus.Publish(events.LockDenied{
				ExecutionID: e.lane.ExecutionID,
				TaskID:      taskID,
				Path:        denied.Path,
				Holder:      denied.Holder,
				Timestamp:   time.Now().UTC(),
			})
		}

		if time.Now().After(deadline) {
			return err
		}
		select {
		case <-time.After(e.cfg.LockRetryInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// renewLocks keeps the attempt's path locks fresh while it runs. Liveness
// is never asserted here: heartbeats come only from the worker's own
// progress, so a wedged collaborator goes overdue and the monitor can
// declare it stuck. A failed renewal means a lock lapsed under the attempt,
// which cancels it with a timeout failure.
func (e *Engine) renewLocks(ctx context.Context, inst *AgentInstance, paths []string, cancel context.CancelCauseFunc) func() {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(e.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, path := range paths {
					if err := e.cfg.Locks.Renew(path, inst.Holder(), e.cfg.LockTTL); err != nil {
						cancel(collab.NewError(collab.KindTimeout, "lock renewal failed: %v", err))
						return
					}
				}
			}
		}
	}()
	return func() { <-done }
}

func (e *Engine) trackAttempt(instanceID string, cancel context.CancelCauseFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.attemptCancels[instanceID] = cancel
}

func (e *Engine) untrackAttempt(instanceID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.attemptCancels, instanceID)
}

// cancelAttempt aborts a live attempt with the given cause. No-op when the
// attempt already finished.
func (e *Engine) cancelAttempt(instanceID string, cause error) {
	e.mu.Lock()
	cancel := e.attemptCancels[instanceID]
	e.mu.Unlock()
	if cancel != nil {
		cancel(cause)
	}
}

func (e *Engine) queryHints(ctx context.Context, task *scheduler.Task) []collab.Hint {
	patterns := make([]string, 0, len(task.Impacts))
	for _, im := range task.Impacts {
		patterns = append(patterns, im.Path)
	}
	hints, err := e.cfg.Hints.QueryHints(ctx, patterns)
	if err != nil {
		// Hints are advisory; failures never block scheduling.
		e.cfg.Logger.Debug("hint query failed", "task_id", task.ID, "error", err)
		return nil
	}
	return hints
}

// applyContent writes the generated files and deletions to the workspace.
func applyContent(content *collab.Content) error {
	if content == nil {
		return nil
	}
	for path, data := range content.Files {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return err
		}
	}
	for _, path := range content.Deletes {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// resolveCause replaces a bare cancellation error with the cause the
// heartbeat loop recorded, if any.
func resolveCause(ctx context.Context, err error) error {
	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
		return cause
	}
	return err
}

func currentCheckpoint(t *instanceTracker, instanceID string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if inst, ok := t.instances[instanceID]; ok {
		return inst.CheckpointID
	}
	return ""
}

// onMonitorStuck is invoked by the heartbeat monitor when an instance is
// declared stuck. The instance's locks are already released; its attempt is
// cancelled and the task escalated through the same path as no-progress.
func (e *Engine) onMonitorStuck(inst AgentInstance, reason string) {
	err := collab.NewError(collab.KindTimeout, "instance stuck: %s", reason)
	e.cancelAttempt(inst.InstanceID, err)
	if berr := e.dag.MarkBlocked(inst.TaskID, err); berr != nil {
		// The attempt goroutine may have already terminalized the task.
		return
	}
	e.noteBlocked(inst.TaskID, reason)
	e.fireStuck(inst.TaskID, reason)
	e.evaluateContinue()
}

// fireStuck emits execution.stuck exactly once per task.
func (e *Engine) fireStuck(taskID, reason string) {
	e.mu.Lock()
	if e.stuckFired[taskID] {
		e.mu.Unlock()
		return
	}
	e.stuckFired[taskID] = true
	e.mu.Unlock()

	e.cfg.Bus.Publish(events.ExecutionStuck{
		ExecutionID: e.lane.ExecutionID,
		TaskID:      taskID,
		Reason:      reason,
		Timestamp:   time.Now().UTC(),
	})
}

func (e *Engine) noteBlocked(taskID, reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.blockedReasons[taskID] = reason
}

// evaluateContinue applies the run-level continuation policy after a task
// terminal transition.
func (e *Engine) evaluateContinue() {
	if task := e.latestCriticalFailure(); task != "" {
		e.mu.Lock()
		e.criticalFailed = true
		e.mu.Unlock()
	}
	if cont, reason := e.shouldContinue(); !cont {
		e.setHalt(reason)
	}
}

func (e *Engine) latestCriticalFailure() string {
	for _, t := range e.dag.Tasks() {
		if t.Critical && (t.Status == scheduler.TaskFailed || t.Status == scheduler.TaskBlocked || t.Status == scheduler.TaskSkipped) {
			return t.ID
		}
	}
	return ""
}

func (e *Engine) shouldContinue() (bool, string) {
	counts := e.dag.Counts()
	e.mu.Lock()
	critical := e.criticalFailed
	e.mu.Unlock()

	return failure.ShouldContinue(failure.RunSnapshot{
		FailedOrBlocked: counts[scheduler.TaskFailed] + counts[scheduler.TaskBlocked],
		CriticalFailed:  critical,
		StartedAt:       e.lane.StartedAt(),
		TimeBudget:      e.cfg.TimeBudget,
		StopRequested:   e.lane.StopRequested(),
	})
}

func (e *Engine) halted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.halt
}

func (e *Engine) setHalt(reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.halt {
		e.halt = true
		e.haltReason = reason
	}
}

// finish moves the lane to its terminal status and emits the final event.
func (e *Engine) finish(ctx, runCtx context.Context) error {
	e.mu.Lock()
	halted, reason := e.halt, e.haltReason
	e.mu.Unlock()

	switch {
	case e.lane.StopRequested():
		e.lane.Finish(lane.StatusStopped, "external stop signal received")
	case runCtx.Err() != nil:
		e.lane.Finish(lane.StatusStopped, "context cancelled")
	case halted:
		e.lane.Finish(lane.StatusHalted, reason)
	default:
		e.lane.Finish(lane.StatusCompleted, "")
	}
	e.persistLane(ctx)

	counts := e.dag.Counts()
	snap := e.lane.Snapshot()
	e.cfg.Logger.Info("execution finished",
		"execution_id", e.lane.ExecutionID, "status", snap.Status.String(),
		"completed", counts[scheduler.TaskCompleted], "failed", counts[scheduler.TaskFailed],
		"skipped", counts[scheduler.TaskSkipped], "blocked", counts[scheduler.TaskBlocked],
		"reason", snap.HaltReason)
	if snap.Status != lane.StatusCompleted {
		for _, edge := range e.cfg.Locks.WaitEdges() {
			e.cfg.Logger.Debug("lock contention observed",
				"waiter", edge.Waiter, "holder", edge.Holder, "path", edge.Path)
		}
	}
	e.cfg.Bus.Publish(events.ExecutionCompleted{
		ExecutionID: e.lane.ExecutionID,
		Completed:   counts[scheduler.TaskCompleted],
		Failed:      counts[scheduler.TaskFailed],
		Skipped:     counts[scheduler.TaskSkipped],
		Blocked:     counts[scheduler.TaskBlocked],
		Halted:      snap.Status == lane.StatusHalted,
		Reason:      snap.HaltReason,
		Timestamp:   time.Now().UTC(),
	})

	return ctx.Err()
}

// Persistence helpers: best-effort, log on error.

func (e *Engine) persistLane(ctx context.Context) {
	if e.cfg.Recorder == nil {
		return
	}
	if err := e.cfg.Recorder.SaveLane(ctx, e.lane.Snapshot()); err != nil {
		e.cfg.Logger.Warn("failed to persist lane", "error", err)
	}
}

func (e *Engine) persistTask(ctx context.Context, taskID string) {
	if e.cfg.Recorder == nil {
		return
	}
	task, ok := e.dag.Get(taskID)
	if !ok {
		return
	}
	if err := e.cfg.Recorder.SaveTask(ctx, e.lane.ExecutionID, task); err != nil {
		e.cfg.Logger.Warn("failed to persist task", "task_id", taskID, "error", err)
	}
}

func (e *Engine) persistWave(ctx context.Context, wave scheduler.Wave) {
	if e.cfg.Recorder == nil {
		return
	}
	if err := e.cfg.Recorder.SaveWave(ctx, wave); err != nil {
		e.cfg.Logger.Warn("failed to persist wave", "wave", wave.Number, "error", err)
	}
}

func (e *Engine) persistInstance(ctx context.Context, inst *AgentInstance) {
	if e.cfg.Recorder == nil {
		return
	}
	e.tracker.mu.Lock()
	cp := *inst
	e.tracker.mu.Unlock()
	if err := e.cfg.Recorder.SaveInstance(ctx, cp); err != nil {
		e.cfg.Logger.Warn("failed to persist instance", "instance_id", inst.InstanceID, "error", err)
	}
}

func (e *Engine) persistLocks(ctx context.Context) {
	if e.cfg.Recorder == nil {
		return
	}
	if err := e.cfg.Recorder.SaveLocks(ctx, e.lane.ExecutionID, e.cfg.Locks.Live()); err != nil {
		e.cfg.Logger.Warn("failed to persist locks", "error", err)
	}
}

func (e *Engine) persistCheckpoint(ctx context.Context, cp *checkpoint.Checkpoint) {
	if e.cfg.Recorder == nil {
		return
	}
	if err := e.cfg.Recorder.SaveCheckpoint(ctx, cp); err != nil {
		e.cfg.Logger.Warn("failed to persist checkpoint", "checkpoint_id", cp.ID, "error", err)
	}
}

func (e *Engine) persistFailure(ctx context.Context, rec failure.Record) {
	if e.cfg.Recorder == nil {
		return
	}
	if err := e.cfg.Recorder.SaveFailure(ctx, e.lane.ExecutionID, rec); err != nil {
		e.cfg.Logger.Warn("failed to persist failure record", "task_id", rec.TaskID, "error", err)
	}
}
