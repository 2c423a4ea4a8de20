package scheduler

import (
	"fmt"
	"sort"
	"time"

	"github.com/quayside/waverunner/internal/impact"
)

// WaveStatus represents the lifecycle of a wave.
type WaveStatus int

const (
	WavePending WaveStatus = iota
	WaveRunning
	WaveCompleted
)

func (s WaveStatus) String() string {
	switch s {
	case WavePending:
		return "pending"
	case WaveRunning:
		return "running"
	case WaveCompleted:
		return "completed"
	}
	return "unknown"
}

// Wave is one layer of the schedule: tasks that may run concurrently.
// Waves execute in strictly increasing order.
type Wave struct {
	Number      int
	ExecutionID string
	TaskIDs     []string // Tie-break order within the wave
	Status      WaveStatus
	ComputedAt  time.Time
}

// TieBreak orders tasks competing for the same wave. It decides which of
// two conflicting same-layer tasks keeps the earlier wave, so it must be a
// strict total order for the schedule to be reproducible.
type TieBreak func(a, b *Task) bool

// DefaultTieBreak orders by priority descending, then creation order
// ascending, then ID ascending.
func DefaultTieBreak(a, b *Task) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if a.CreationOrder != b.CreationOrder {
		return a.CreationOrder < b.CreationOrder
	}
	return a.ID < b.ID
}

// WaveBuilder computes the minimum-depth wave layering of a DAG honoring
// both dependency order and pairwise conflict exclusion.
type WaveBuilder struct {
	tieBreak TieBreak
}

// NewWaveBuilder creates a WaveBuilder. A nil tieBreak uses DefaultTieBreak.
func NewWaveBuilder(tieBreak TieBreak) *WaveBuilder {
	if tieBreak == nil {
		tieBreak = DefaultTieBreak
	}
	return &WaveBuilder{tieBreak: tieBreak}
}

// Build computes the wave sequence for every task in the DAG and stamps
// each task's WaveNumber. The result satisfies:
//
//   - wave(t) > wave(dep) for every dependency edge dep -> t
//   - no two tasks whose impact sets conflict share a wave
//
// Identical input produces an identical sequence.
func (b *WaveBuilder) Build(executionID string, dag *DAG) ([]Wave, error) {
	return b.build(executionID, dag, nil, 0)
}

// Rebuild recomputes waves after a structural change while a run is in
// progress. Tasks already terminal or assigned to a wave at or below
// startedWave keep their assignment; everything else is re-layered into
// waves strictly after startedWave.
func (b *WaveBuilder) Rebuild(executionID string, dag *DAG, startedWave int) ([]Wave, error) {
	pinned := make(map[string]int)
	for _, t := range dag.Tasks() {
		if t.WaveNumber >= 0 && (t.WaveNumber <= startedWave || t.Status.Terminal()) {
			pinned[t.ID] = t.WaveNumber
		}
	}
	return b.build(executionID, dag, pinned, startedWave+1)
}

func (b *WaveBuilder) build(executionID string, dag *DAG, pinned map[string]int, minWave int) ([]Wave, error) {
	order, err := dag.Validate()
	if err != nil {
		return nil, err
	}

	tasks := make(map[string]*Task, len(order))
	for _, t := range dag.Tasks() {
		tasks[t.ID] = t
	}

	// Base layering: longest path from a root. Topological order guarantees
	// every dependency is layered before its dependents.
	base := make(map[string]int, len(order))
	for _, id := range order {
		w := 0
		for _, depID := range tasks[id].DependsOn {
			if base[depID]+1 > w {
				w = base[depID] + 1
			}
		}
		base[id] = w
	}

	// Candidates sorted by base layer, then tie-break. Processing in this
	// order keeps dependencies ahead of dependents and makes every greedy
	// choice deterministic.
	candidates := make([]*Task, 0, len(order))
	for _, id := range order {
		candidates = append(candidates, tasks[id])
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if base[candidates[i].ID] != base[candidates[j].ID] {
			return base[candidates[i].ID] < base[candidates[j].ID]
		}
		return b.tieBreak(candidates[i], candidates[j])
	})

	assigned := make(map[string]int, len(candidates))
	membership := make(map[int][]*Task)

	for id, w := range pinned {
		assigned[id] = w
		membership[w] = append(membership[w], tasks[id])
	}

	for _, task := range candidates {
		if _, ok := assigned[task.ID]; ok {
			continue
		}

		// Earliest feasible wave given already-assigned dependencies.
		w := minWave
		if base[task.ID] > w {
			w = base[task.ID]
		}
		for _, depID := range task.DependsOn {
			depWave, ok := assigned[depID]
			if !ok {
				return nil, fmt.Errorf("task %q layered before its dependency %q", task.ID, depID)
			}
			if depWave+1 > w {
				w = depWave + 1
			}
		}

		// Push forward past any wave that already holds a conflicting task.
		// Terminates because each push strictly increases w.
		for conflictsWithWave(task, membership[w]) {
			w++
		}

		assigned[task.ID] = w
		membership[w] = append(membership[w], task)
	}

	// Materialize the ordered wave sequence. Pinned waves keep their exact
	// numbers: a started wave must never shift. Only waves past the pinned
	// range are renumbered, closing any gaps the re-layering left.
	numbers := make([]int, 0, len(membership))
	for w := range membership {
		numbers = append(numbers, w)
	}
	sort.Ints(numbers)

	maxPinned := -1
	for _, w := range pinned {
		if w > maxPinned {
			maxPinned = w
		}
	}

	now := time.Now().UTC()
	waves := make([]Wave, 0, len(numbers))
	next := maxPinned + 1
	for _, w := range numbers {
		num := w
		if w > maxPinned {
			num = next
			next++
		}

		members := membership[w]
		sort.SliceStable(members, func(i, j int) bool {
			return b.tieBreak(members[i], members[j])
		})

		wave := Wave{
			Number:      num,
			ExecutionID: executionID,
			Status:      WavePending,
			ComputedAt:  now,
		}
		for _, t := range members {
			wave.TaskIDs = append(wave.TaskIDs, t.ID)
			dag.setWave(t.ID, num)
		}
		waves = append(waves, wave)
	}

	return waves, nil
}

func conflictsWithWave(task *Task, members []*Task) bool {
	for _, other := range members {
		if impact.Conflicts(task.Impacts, other.Impacts) {
			return true
		}
	}
	return false
}
