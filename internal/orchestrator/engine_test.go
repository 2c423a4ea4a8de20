package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/quayside/waverunner/internal/checkpoint"
	"github.com/quayside/waverunner/internal/collab"
	"github.com/quayside/waverunner/internal/events"
	"github.com/quayside/waverunner/internal/failure"
	"github.com/quayside/waverunner/internal/impact"
	"github.com/quayside/waverunner/internal/lane"
	"github.com/quayside/waverunner/internal/locks"
	"github.com/quayside/waverunner/internal/scheduler"
)

// fastPolicy retries without real delays so tests run quickly.
func fastPolicy() failure.Policy {
	return failure.Policy{
		MaxAttempts:        5,
		SyntaxAttempts:     3,
		ValidationAttempts: 2,
		BackoffSchedule:    []time.Duration{time.Millisecond},
	}
}

func testConfig(gen collab.Generator, val collab.Validator, dir string) (Config, *checkpoint.Store) {
	cps, err := checkpoint.NewStore(filepath.Join(dir, "checkpoints"))
	if err != nil {
		panic(err)
	}
	return Config{
		Generator:   gen,
		Validator:   val,
		Checkpoints: cps,
		Policy:      fastPolicy(),
		Retry: RetryConfig{
			InitialInterval:     time.Millisecond,
			MaxInterval:         time.Millisecond,
			MaxElapsedTime:      10 * time.Millisecond,
			Multiplier:          1,
			RandomizationFactor: 0,
		},
		LockTTL:           time.Minute,
		LockWait:          time.Second,
		LockRetryInterval: time.Millisecond,
		HeartbeatInterval: 10 * time.Millisecond,
		HeartbeatTimeout:  time.Minute,
	}, cps
}

func updateImpact(path string) impact.FileImpact {
	return impact.FileImpact{Path: path, Operation: impact.OpUpdate, Confidence: 1}
}

// collectEvents drains a SubscribeAll channel into a slice until closed.
func collectEvents(bus *events.Bus) (func() []events.Event, <-chan events.Event) {
	ch := bus.SubscribeAll(1024)
	var mu sync.Mutex
	var got []events.Event
	done := make(chan events.Event)
	go func() {
		for ev := range ch {
			mu.Lock()
			got = append(got, ev)
			mu.Unlock()
		}
		close(done)
	}()
	return func() []events.Event {
		mu.Lock()
		defer mu.Unlock()
		return append([]events.Event(nil), got...)
	}, done
}

func TestRunHappyPath(t *testing.T) {
	dir := t.TempDir()

	dag := scheduler.NewDAG()
	dag.AddTask(&scheduler.Task{ID: "A", DisplayID: "T-A", Impacts: []impact.FileImpact{updateImpact(filepath.Join(dir, "a.go"))}})
	dag.AddTask(&scheduler.Task{ID: "B", DisplayID: "T-B", DependsOn: []string{"A"}, Impacts: []impact.FileImpact{updateImpact(filepath.Join(dir, "b.go"))}})
	dag.AddTask(&scheduler.Task{ID: "C", DisplayID: "T-C", DependsOn: []string{"A"}, Impacts: []impact.FileImpact{updateImpact(filepath.Join(dir, "c.go"))}})
	dag.AddTask(&scheduler.Task{ID: "D", DisplayID: "T-D", DependsOn: []string{"B", "C"}, Impacts: []impact.FileImpact{updateImpact(filepath.Join(dir, "d.go"))}})

	cfg, _ := testConfig(collab.NewStubGenerator(), collab.AcceptAll, dir)
	bus := events.NewBus()
	cfg.Bus = bus
	eventsSoFar, drained := collectEvents(bus)

	ln := lane.NewRegistry().Create(4)
	engine, err := New(cfg, dag, ln)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := engine.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	bus.Close()
	<-drained

	status := engine.Status()
	if status.Lane.Status != lane.StatusCompleted {
		t.Fatalf("lane status = %s, want completed (%s)", status.Lane.Status, status.Lane.HaltReason)
	}
	for id, st := range status.TaskStatuses {
		if st != scheduler.TaskCompleted {
			t.Errorf("task %s = %s, want completed", id, st)
		}
	}

	// Generated files landed on disk.
	for _, name := range []string{"a.go", "b.go", "c.go", "d.go"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("missing generated file %s: %v", name, err)
		}
	}

	// The final event carries the counts.
	var final *events.ExecutionCompleted
	for _, ev := range eventsSoFar() {
		if ec, ok := ev.(events.ExecutionCompleted); ok {
			final = &ec
		}
	}
	if final == nil {
		t.Fatal("no execution.completed event")
	}
	if final.Completed != 4 || final.Halted {
		t.Errorf("final event = %+v", final)
	}
}

// TestRunConflictExclusion checks that two independent tasks writing the
// same path never overlap in time.
func TestRunConflictExclusion(t *testing.T) {
	dir := t.TempDir()
	shared := filepath.Join(dir, "shared.go")

	var running, maxRunning int32
	gen := collab.GeneratorFunc(func(ctx context.Context, req collab.Request, hints []collab.Hint) (*collab.Content, error) {
		n := atomic.AddInt32(&running, 1)
		for {
			old := atomic.LoadInt32(&maxRunning)
			if n <= old || atomic.CompareAndSwapInt32(&maxRunning, old, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		return &collab.Content{Files: map[string][]byte{shared: []byte(req.TaskID)}}, nil
	})

	dag := scheduler.NewDAG()
	dag.AddTask(&scheduler.Task{ID: "A", Impacts: []impact.FileImpact{updateImpact(shared)}})
	dag.AddTask(&scheduler.Task{ID: "B", Impacts: []impact.FileImpact{updateImpact(shared)}})

	cfg, _ := testConfig(gen, collab.AcceptAll, dir)
	ln := lane.NewRegistry().Create(4)
	engine, err := New(cfg, dag, ln)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if len(engine.Waves()) != 2 {
		t.Fatalf("conflicting tasks share %d waves, want 2", len(engine.Waves()))
	}

	if err := engine.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := atomic.LoadInt32(&maxRunning); got > 1 {
		t.Errorf("conflicting tasks overlapped: max concurrent = %d", got)
	}
}

// TestRunConcurrencyCap runs five independent tasks with a cap of two and
// checks the cap is never exceeded.
func TestRunConcurrencyCap(t *testing.T) {
	dir := t.TempDir()

	var running, maxRunning int32
	gen := collab.GeneratorFunc(func(ctx context.Context, req collab.Request, hints []collab.Hint) (*collab.Content, error) {
		n := atomic.AddInt32(&running, 1)
		for {
			old := atomic.LoadInt32(&maxRunning)
			if n <= old || atomic.CompareAndSwapInt32(&maxRunning, old, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		return &collab.Content{}, nil
	})

	dag := scheduler.NewDAG()
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("T%d", i)
		dag.AddTask(&scheduler.Task{ID: id, Impacts: []impact.FileImpact{updateImpact(filepath.Join(dir, id+".go"))}})
	}

	cfg, _ := testConfig(gen, collab.AcceptAll, dir)
	ln := lane.NewRegistry().Create(2)
	engine, err := New(cfg, dag, ln)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := engine.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := atomic.LoadInt32(&maxRunning); got > 2 {
		t.Errorf("max concurrent = %d, want <= 2", got)
	}
	counts := engine.Status().TaskStatuses
	for id, st := range counts {
		if st != scheduler.TaskCompleted {
			t.Errorf("task %s = %s", id, st)
		}
	}
}

// TestRunRetryThenSuccess fails the first attempt with a syntax error and
// succeeds on the second.
func TestRunRetryThenSuccess(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.go")

	var calls int32
	gen := collab.GeneratorFunc(func(ctx context.Context, req collab.Request, hints []collab.Hint) (*collab.Content, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return nil, collab.NewError(collab.KindSyntax, "unexpected token on attempt %d", req.Attempt)
		}
		return &collab.Content{Files: map[string][]byte{path: []byte("fixed")}}, nil
	})

	dag := scheduler.NewDAG()
	dag.AddTask(&scheduler.Task{ID: "A", Impacts: []impact.FileImpact{updateImpact(path)}})

	cfg, _ := testConfig(gen, collab.AcceptAll, dir)
	bus := events.NewBus()
	cfg.Bus = bus
	eventsSoFar, drained := collectEvents(bus)

	ln := lane.NewRegistry().Create(1)
	engine, err := New(cfg, dag, ln)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := engine.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	bus.Close()
	<-drained

	task, _ := dag.Get("A")
	if task.Status != scheduler.TaskCompleted {
		t.Fatalf("task status = %s, want completed", task.Status)
	}
	if task.Attempt != 2 {
		t.Errorf("attempt = %d, want 2", task.Attempt)
	}

	var sawRetry bool
	for _, ev := range eventsSoFar() {
		if tr, ok := ev.(events.TaskRetrying); ok {
			sawRetry = true
			if tr.Decision != string(failure.DecisionRetry) || tr.NextAttempt != 2 {
				t.Errorf("retry event = %+v", tr)
			}
		}
	}
	if !sawRetry {
		t.Error("no task.retrying event published")
	}
}

// TestRunValidationSkipAndRollback fails validation on every attempt: the
// task must be skipped after exactly two attempts with its writes rolled
// back each time.
func TestRunValidationSkipAndRollback(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.go")

	gen := collab.GeneratorFunc(func(ctx context.Context, req collab.Request, hints []collab.Hint) (*collab.Content, error) {
		return &collab.Content{Files: map[string][]byte{path: []byte("broken")}}, nil
	})
	val := collab.ValidatorFunc(func(ctx context.Context, req collab.Request, content *collab.Content) (collab.Result, error) {
		return collab.Result{Passed: false, Output: "2 tests failed"}, nil
	})

	dag := scheduler.NewDAG()
	dag.AddTask(&scheduler.Task{ID: "A", Impacts: []impact.FileImpact{updateImpact(path)}})

	cfg, _ := testConfig(gen, val, dir)
	ln := lane.NewRegistry().Create(1)
	engine, err := New(cfg, dag, ln)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := engine.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	task, _ := dag.Get("A")
	if task.Status != scheduler.TaskSkipped {
		t.Fatalf("task status = %s, want skipped", task.Status)
	}
	if task.Attempt != 2 {
		t.Errorf("attempt = %d, want exactly 2", task.Attempt)
	}

	// The file did not exist before the task, so rollback removes it.
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("rejected writes survived the rollback")
	}

	// The failure journal has both attempts with the restored checkpoints.
	recs := engine.Journal().Records("A")
	if len(recs) != 2 {
		t.Fatalf("journal has %d records, want 2", len(recs))
	}
	for _, rec := range recs {
		if rec.Category != failure.CategoryValidationFailed {
			t.Errorf("record category = %s", rec.Category)
		}
		if rec.Checkpoint == "" {
			t.Error("record missing checkpoint ID")
		}
	}
}

// TestRunStallEscalates repeats an identical retryable failure with no
// file changes: after three attempts the task is blocked, execution.stuck
// fires exactly once, and independent tasks still complete.
func TestRunStallEscalates(t *testing.T) {
	dir := t.TempDir()

	gen := collab.GeneratorFunc(func(ctx context.Context, req collab.Request, hints []collab.Hint) (*collab.Content, error) {
		if req.TaskID == "stuck" {
			return nil, collab.NewError(collab.KindMissingDependency, "cannot find module left-pad")
		}
		return &collab.Content{Files: map[string][]byte{filepath.Join(dir, req.TaskID+".go"): []byte("ok")}}, nil
	})

	dag := scheduler.NewDAG()
	dag.AddTask(&scheduler.Task{ID: "stuck", Impacts: []impact.FileImpact{updateImpact(filepath.Join(dir, "stuck.go"))}})
	dag.AddTask(&scheduler.Task{ID: "fine", Impacts: []impact.FileImpact{updateImpact(filepath.Join(dir, "fine.go"))}})

	cfg, _ := testConfig(gen, collab.AcceptAll, dir)
	bus := events.NewBus()
	cfg.Bus = bus
	eventsSoFar, drained := collectEvents(bus)

	ln := lane.NewRegistry().Create(2)
	engine, err := New(cfg, dag, ln)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := engine.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	bus.Close()
	<-drained

	stuckTask, _ := dag.Get("stuck")
	if stuckTask.Status != scheduler.TaskBlocked {
		t.Fatalf("stuck task status = %s, want blocked", stuckTask.Status)
	}
	if stuckTask.Attempt != 3 {
		t.Errorf("attempt = %d, want 3 (stall window)", stuckTask.Attempt)
	}

	fineTask, _ := dag.Get("fine")
	if fineTask.Status != scheduler.TaskCompleted {
		t.Errorf("independent task = %s, want completed", fineTask.Status)
	}

	stuckEvents := 0
	for _, ev := range eventsSoFar() {
		if _, ok := ev.(events.ExecutionStuck); ok {
			stuckEvents++
		}
	}
	if stuckEvents != 1 {
		t.Errorf("execution.stuck fired %d times, want exactly once", stuckEvents)
	}
}

// TestRunCriticalFailureHalts fails a critical task in wave 0 and checks
// the run halts before wave 1 starts.
func TestRunCriticalFailureHalts(t *testing.T) {
	dir := t.TempDir()

	gen := collab.GeneratorFunc(func(ctx context.Context, req collab.Request, hints []collab.Hint) (*collab.Content, error) {
		if req.TaskID == "critical" {
			return nil, collab.NewError(collab.KindUnknown, "something inexplicable")
		}
		return &collab.Content{}, nil
	})

	dag := scheduler.NewDAG()
	dag.AddTask(&scheduler.Task{ID: "critical", Critical: true, Impacts: []impact.FileImpact{updateImpact(filepath.Join(dir, "c.go"))}})
	dag.AddTask(&scheduler.Task{ID: "later", DependsOn: []string{"critical"}, Impacts: []impact.FileImpact{updateImpact(filepath.Join(dir, "l.go"))}})

	cfg, _ := testConfig(gen, collab.AcceptAll, dir)
	ln := lane.NewRegistry().Create(2)
	engine, err := New(cfg, dag, ln)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := engine.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	status := engine.Status()
	if status.Lane.Status != lane.StatusHalted {
		t.Fatalf("lane status = %s, want halted", status.Lane.Status)
	}
	if status.TaskStatuses["later"] != scheduler.TaskPending {
		t.Errorf("downstream task = %s, want pending (never started)", status.TaskStatuses["later"])
	}
}

// TestRunBlockedDependencyCascade: a blocked dependency blocks its
// dependents instead of running them.
func TestRunBlockedDependencyCascade(t *testing.T) {
	dir := t.TempDir()

	gen := collab.GeneratorFunc(func(ctx context.Context, req collab.Request, hints []collab.Hint) (*collab.Content, error) {
		if req.TaskID == "A" {
			return nil, collab.NewError(collab.KindUnknown, "something inexplicable")
		}
		return &collab.Content{}, nil
	})

	dag := scheduler.NewDAG()
	dag.AddTask(&scheduler.Task{ID: "A", Impacts: []impact.FileImpact{updateImpact(filepath.Join(dir, "a.go"))}})
	dag.AddTask(&scheduler.Task{ID: "B", DependsOn: []string{"A"}, Impacts: []impact.FileImpact{updateImpact(filepath.Join(dir, "b.go"))}})

	cfg, _ := testConfig(gen, collab.AcceptAll, dir)
	ln := lane.NewRegistry().Create(2)
	engine, err := New(cfg, dag, ln)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := engine.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	status := engine.Status()
	if status.TaskStatuses["A"] != scheduler.TaskBlocked {
		t.Fatalf("A = %s, want blocked", status.TaskStatuses["A"])
	}
	if status.TaskStatuses["B"] != scheduler.TaskBlocked {
		t.Errorf("B = %s, want blocked by cascade", status.TaskStatuses["B"])
	}
	if status.Lane.Status != lane.StatusCompleted {
		t.Errorf("two blocked tasks should not halt the run: %s (%s)",
			status.Lane.Status, status.Lane.HaltReason)
	}
}

// TestRunStopMidRun hard-cancels while a task is in flight: the run stops,
// completed work stays completed, the in-flight task stays non-terminal.
func TestRunStopMidRun(t *testing.T) {
	dir := t.TempDir()

	started := make(chan struct{})
	var once sync.Once
	gen := collab.GeneratorFunc(func(ctx context.Context, req collab.Request, hints []collab.Hint) (*collab.Content, error) {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return nil, ctx.Err()
	})

	dag := scheduler.NewDAG()
	dag.AddTask(&scheduler.Task{ID: "A", Impacts: []impact.FileImpact{updateImpact(filepath.Join(dir, "a.go"))}})

	cfg, _ := testConfig(gen, collab.AcceptAll, dir)
	ln := lane.NewRegistry().Create(1)
	engine, err := New(cfg, dag, ln)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	go func() {
		<-started
		ln.Stop()
	}()

	if err := engine.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	status := engine.Status()
	if status.Lane.Status != lane.StatusStopped {
		t.Fatalf("lane status = %s, want stopped", status.Lane.Status)
	}
	if status.TaskStatuses["A"].Terminal() {
		t.Errorf("interrupted task = %s, want non-terminal", status.TaskStatuses["A"])
	}
}

// TestRunPauseBlocksNextWave pauses between waves and checks the next wave
// does not start until Resume.
func TestRunPauseBlocksNextWave(t *testing.T) {
	dir := t.TempDir()

	ln := lane.NewRegistry().Create(1)

	var waveTwoStarted atomic.Bool
	gen := collab.GeneratorFunc(func(ctx context.Context, req collab.Request, hints []collab.Hint) (*collab.Content, error) {
		switch req.TaskID {
		case "A":
			// Pause while wave 0 is still in flight: wave 1 must then wait
			// for Resume before spawning anything.
			ln.Pause()
			go func() {
				time.Sleep(100 * time.Millisecond)
				if waveTwoStarted.Load() {
					t.Error("wave 1 started while paused")
				}
				ln.Resume()
			}()
		case "B":
			waveTwoStarted.Store(true)
		}
		return &collab.Content{}, nil
	})

	dag := scheduler.NewDAG()
	dag.AddTask(&scheduler.Task{ID: "A", Impacts: []impact.FileImpact{updateImpact(filepath.Join(dir, "a.go"))}})
	dag.AddTask(&scheduler.Task{ID: "B", DependsOn: []string{"A"}, Impacts: []impact.FileImpact{updateImpact(filepath.Join(dir, "b.go"))}})

	cfg, _ := testConfig(gen, collab.AcceptAll, dir)
	engine, err := New(cfg, dag, ln)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := engine.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if engine.Status().TaskStatuses["B"] != scheduler.TaskCompleted {
		t.Error("task B did not complete after resume")
	}
}

// TestRunLockWaitExceededClassifiesConflict holds a lock externally past
// the wait threshold and checks the attempt fails as a conflict.
func TestRunLockWaitExceededClassifiesConflict(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.go")

	mgr := locks.NewManager()
	if _, err := mgr.Acquire(path, "outsider", time.Hour); err != nil {
		t.Fatalf("setup acquire: %v", err)
	}

	dag := scheduler.NewDAG()
	dag.AddTask(&scheduler.Task{ID: "A", Impacts: []impact.FileImpact{updateImpact(path)}})

	cfg, _ := testConfig(collab.NewStubGenerator(), collab.AcceptAll, dir)
	cfg.Locks = mgr
	cfg.LockWait = 20 * time.Millisecond
	cfg.LockRetryInterval = 5 * time.Millisecond
	// Conflicts rebase-and-retry up to the cap, so cap the attempts low to
	// keep the test fast.
	cfg.Policy.MaxAttempts = 2

	ln := lane.NewRegistry().Create(1)
	engine, err := New(cfg, dag, ln)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := engine.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	recs := engine.Journal().Records("A")
	if len(recs) == 0 {
		t.Fatal("no failure records")
	}
	for _, rec := range recs {
		if rec.Category != failure.CategoryConflict {
			t.Errorf("category = %s, want CONFLICT", rec.Category)
		}
	}
	task, _ := dag.Get("A")
	if task.Status != scheduler.TaskSkipped {
		t.Errorf("task status = %s, want skipped at attempt cap", task.Status)
	}
}

// TestRunHungWorkerDeclaredStuck wedges a generator that ignores
// cancellation: the liveness monitor must declare the instance stuck,
// block the task, fire execution.stuck, and let the run finish without it.
func TestRunHungWorkerDeclaredStuck(t *testing.T) {
	dir := t.TempDir()

	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	gen := collab.GeneratorFunc(func(ctx context.Context, req collab.Request, hints []collab.Hint) (*collab.Content, error) {
		if req.TaskID == "wedged" {
			<-release
			return nil, collab.NewError(collab.KindUnknown, "released after the run")
		}
		return &collab.Content{Files: map[string][]byte{filepath.Join(dir, req.TaskID+".go"): []byte("ok")}}, nil
	})

	dag := scheduler.NewDAG()
	dag.AddTask(&scheduler.Task{ID: "wedged", Impacts: []impact.FileImpact{updateImpact(filepath.Join(dir, "wedged.go"))}})
	dag.AddTask(&scheduler.Task{ID: "fine", Impacts: []impact.FileImpact{updateImpact(filepath.Join(dir, "fine.go"))}})

	cfg, _ := testConfig(gen, collab.AcceptAll, dir)
	cfg.HeartbeatInterval = 5 * time.Millisecond
	cfg.HeartbeatTimeout = 25 * time.Millisecond
	bus := events.NewBus()
	cfg.Bus = bus
	eventsSoFar, drained := collectEvents(bus)

	ln := lane.NewRegistry().Create(2)
	engine, err := New(cfg, dag, ln)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := engine.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	bus.Close()
	<-drained

	wedged, _ := dag.Get("wedged")
	if wedged.Status != scheduler.TaskBlocked {
		t.Fatalf("wedged task status = %s, want blocked", wedged.Status)
	}
	fine, _ := dag.Get("fine")
	if fine.Status != scheduler.TaskCompleted {
		t.Errorf("healthy task status = %s, want completed", fine.Status)
	}
	if live := engine.tracker.Live(); len(live) != 0 {
		t.Errorf("instances still live after run: %v", live)
	}

	stuckEvents := 0
	for _, ev := range eventsSoFar() {
		if st, ok := ev.(events.ExecutionStuck); ok {
			stuckEvents++
			if st.TaskID != "wedged" {
				t.Errorf("stuck event for task %s", st.TaskID)
			}
		}
	}
	if stuckEvents != 1 {
		t.Errorf("execution.stuck fired %d times, want exactly once", stuckEvents)
	}

	recs := engine.Journal().Records("wedged")
	if len(recs) != 1 || recs[0].Category != failure.CategoryTimeout {
		t.Errorf("journal = %+v, want one TIMEOUT record", recs)
	}
}

// TestRunSlowWorkerHeartbeatsKeepAlive takes longer than the heartbeat
// timeout but reports progress through the request heartbeat, so it must
// complete without ever being declared stuck.
func TestRunSlowWorkerHeartbeatsKeepAlive(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.go")

	gen := collab.GeneratorFunc(func(ctx context.Context, req collab.Request, hints []collab.Hint) (*collab.Content, error) {
		for i := 0; i < 20; i++ {
			time.Sleep(5 * time.Millisecond)
			req.Heartbeat()
		}
		return &collab.Content{Files: map[string][]byte{path: []byte("slow but steady")}}, nil
	})

	dag := scheduler.NewDAG()
	dag.AddTask(&scheduler.Task{ID: "A", Impacts: []impact.FileImpact{updateImpact(path)}})

	cfg, _ := testConfig(gen, collab.AcceptAll, dir)
	cfg.HeartbeatInterval = 5 * time.Millisecond
	cfg.HeartbeatTimeout = 50 * time.Millisecond
	bus := events.NewBus()
	cfg.Bus = bus
	eventsSoFar, drained := collectEvents(bus)

	ln := lane.NewRegistry().Create(1)
	engine, err := New(cfg, dag, ln)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := engine.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	bus.Close()
	<-drained

	task, _ := dag.Get("A")
	if task.Status != scheduler.TaskCompleted {
		t.Fatalf("task status = %s, want completed", task.Status)
	}
	for _, ev := range eventsSoFar() {
		if _, ok := ev.(events.ExecutionStuck); ok {
			t.Error("progressing worker was declared stuck")
		}
	}
}
