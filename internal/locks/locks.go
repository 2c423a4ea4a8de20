// Package locks provides exclusive, TTL-bounded advisory locks over file
// paths. Locks are namespaced by holder, where a holder is the
// "executionID/instanceID" pair of the worker that acquired them.
package locks

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ErrHeld is returned by Acquire when another live holder owns the path.
var ErrHeld = errors.New("lock held")

// DeniedError wraps ErrHeld with the current holder for diagnostics.
type DeniedError struct {
	Path   string
	Holder string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("lock on %q held by %s", e.Path, e.Holder)
}

func (e *DeniedError) Unwrap() error { return ErrHeld }

// Lock is one live advisory lock.
type Lock struct {
	Path      string
	Holder    string
	ExpiresAt time.Time
}

// WaitEdge records a denied acquisition for diagnostics: waiter wanted a
// path currently owned by holder.
type WaitEdge struct {
	Waiter string
	Holder string
	Path   string
	At     time.Time
}

// Manager is the in-process lock table. At most one live lock exists per
// path at any instant; expired locks are reclaimable by anyone.
type Manager struct {
	mu        sync.Mutex
	locks     map[string]*Lock
	waitEdges []WaitEdge
	now       func() time.Time // Injectable clock for tests
}

// NewManager creates an empty lock manager.
func NewManager() *Manager {
	return &Manager{
		locks: make(map[string]*Lock),
		now:   time.Now,
	}
}

// Acquire grants an exclusive lock on path to holder for ttl. Under
// concurrent calls for the same path exactly one caller is granted; the
// rest receive a *DeniedError and a wait edge is recorded. An expired lock
// is treated as free even if never released.
func (m *Manager) Acquire(path, holder string, ttl time.Duration) (*Lock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.locks[path]; ok && m.now().Before(existing.ExpiresAt) {
		if existing.Holder == holder {
			// Re-entrant grant refreshes the TTL.
			existing.ExpiresAt = m.now().Add(ttl)
			return cloneLock(existing), nil
		}
		m.waitEdges = append(m.waitEdges, WaitEdge{
			Waiter: holder,
			Holder: existing.Holder,
			Path:   path,
			At:     m.now(),
		})
		return nil, &DeniedError{Path: path, Holder: existing.Holder}
	}

	lock := &Lock{Path: path, Holder: holder, ExpiresAt: m.now().Add(ttl)}
	m.locks[path] = lock
	return cloneLock(lock), nil
}

// AcquireAll grants locks on every path or none. Paths are acquired in
// sorted order to prevent deadlocks between callers wanting overlapping
// sets; on the first denial all grants made so far are rolled back.
func (m *Manager) AcquireAll(paths []string, holder string, ttl time.Duration) error {
	if len(paths) == 0 {
		return nil
	}

	sorted := make([]string, len(paths))
	copy(sorted, paths)
	sort.Strings(sorted)

	var granted []string
	for _, path := range sorted {
		if _, err := m.Acquire(path, holder, ttl); err != nil {
			for i := len(granted) - 1; i >= 0; i-- {
				_ = m.Release(granted[i], holder)
			}
			return err
		}
		granted = append(granted, path)
	}
	return nil
}

// Release frees the lock on path if holder owns it. Releasing a lock that
// expired or was never held is not an error; releasing someone else's live
// lock is.
func (m *Manager) Release(path, holder string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.locks[path]
	if !ok {
		return nil
	}
	if existing.Holder != holder && m.now().Before(existing.ExpiresAt) {
		return fmt.Errorf("lock on %q owned by %s, not %s", path, existing.Holder, holder)
	}
	if existing.Holder == holder {
		delete(m.locks, path)
	}
	return nil
}

// ReleaseAll frees every lock owned by holder. Used when an instance
// terminates or is declared stuck.
func (m *Manager) ReleaseAll(holder string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for path, lock := range m.locks {
		if lock.Holder == holder {
			delete(m.locks, path)
			n++
		}
	}
	return n
}

// Renew extends the TTL of a lock the holder still owns. Renewing a lock
// that expired and was reclaimed (or never existed) fails: that is the
// signal that a live worker lost its lock.
func (m *Manager) Renew(path, holder string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.locks[path]
	if !ok || existing.Holder != holder {
		return fmt.Errorf("cannot renew lock on %q: not held by %s", path, holder)
	}
	if !m.now().Before(existing.ExpiresAt) {
		return fmt.Errorf("cannot renew lock on %q: lock expired", path)
	}
	existing.ExpiresAt = m.now().Add(ttl)
	return nil
}

// Expired returns the paths whose locks are owned by holder but have
// lapsed. A live worker with an expired lock is a stuck condition the
// orchestrator must detect.
func (m *Manager) Expired(holder string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var paths []string
	for path, lock := range m.locks {
		if lock.Holder == holder && !m.now().Before(lock.ExpiresAt) {
			paths = append(paths, path)
		}
	}
	sort.Strings(paths)
	return paths
}

// Holder returns the live holder of path, if any.
func (m *Manager) Holder(path string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	lock, ok := m.locks[path]
	if !ok || !m.now().Before(lock.ExpiresAt) {
		return "", false
	}
	return lock.Holder, true
}

// Live returns copies of all unexpired locks.
func (m *Manager) Live() []Lock {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Lock
	for _, lock := range m.locks {
		if m.now().Before(lock.ExpiresAt) {
			out = append(out, *lock)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// WaitEdges returns the recorded (waiter, holder, path) denial edges.
func (m *Manager) WaitEdges() []WaitEdge {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]WaitEdge, len(m.waitEdges))
	copy(out, m.waitEdges)
	return out
}

func cloneLock(l *Lock) *Lock {
	cp := *l
	return &cp
}
