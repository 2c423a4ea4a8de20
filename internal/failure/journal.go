package failure

import (
	"sync"
	"time"
)

// Record is one append-only entry describing a failed task attempt.
type Record struct {
	TaskID     string
	Attempt    int
	Category   Category
	Signature  string // Normalized error message
	Decision   Decision
	FileDigest string // Digest of the task's impacted paths after the attempt
	Checkpoint string // Checkpoint created for the attempt, if any
	At         time.Time
}

// Journal is the append-only failure history for one execution. It backs
// the "no progress" rule: a task repeating the identical failure with no
// file changes is wasted work and must escalate instead of retrying.
type Journal struct {
	mu      sync.Mutex
	records map[string][]Record // taskID -> records in append order
}

// NewJournal creates an empty journal.
func NewJournal() *Journal {
	return &Journal{records: make(map[string][]Record)}
}

// Append records a failed attempt.
func (j *Journal) Append(rec Record) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if rec.At.IsZero() {
		rec.At = time.Now().UTC()
	}
	j.records[rec.TaskID] = append(j.records[rec.TaskID], rec)
}

// Records returns a copy of the history for a task.
func (j *Journal) Records(taskID string) []Record {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]Record, len(j.records[taskID]))
	copy(out, j.records[taskID])
	return out
}

// All returns a copy of every record, grouped by task.
func (j *Journal) All() map[string][]Record {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make(map[string][]Record, len(j.records))
	for id, recs := range j.records {
		cp := make([]Record, len(recs))
		copy(cp, recs)
		out[id] = cp
	}
	return out
}

// stallWindow is how many consecutive identical failures count as stuck.
const stallWindow = 3

// Stalled reports whether the task shows no progress: its last three
// attempts carry the identical normalized signature, identical file
// digests, and no new checkpoints between them. This overrides a RETRY
// decision even when the attempt budget is not exhausted.
func (j *Journal) Stalled(taskID string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	recs := j.records[taskID]
	if len(recs) < stallWindow {
		return false
	}

	window := recs[len(recs)-stallWindow:]
	first := window[0]
	if first.Signature == "" {
		return false
	}
	for _, rec := range window[1:] {
		if rec.Signature != first.Signature {
			return false
		}
		if rec.FileDigest != first.FileDigest {
			return false
		}
	}
	return true
}
