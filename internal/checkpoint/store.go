// Package checkpoint implements versioned pre-mutation snapshots with
// exact restoration. Snapshots are content-addressed: file bytes live once
// under objects/<sha256>, and each checkpoint is a JSON manifest recording
// the digest (or absence) of every path it covers.
package checkpoint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Kind classifies a checkpoint. Only pre-task snapshots exist today.
type Kind string

// KindBeforeTask marks a snapshot taken immediately before a task mutates
// anything.
const KindBeforeTask Kind = "before_task"

// Entry records the snapshotted state of a single path.
type Entry struct {
	Path    string      `json:"path"`
	Present bool        `json:"present"`          // False if the path did not exist
	Digest  string      `json:"digest,omitempty"` // sha256 of content when present
	Mode    fs.FileMode `json:"mode,omitempty"`
}

// Checkpoint is an immutable manifest of pre-task file state.
type Checkpoint struct {
	ID          string    `json:"id"`
	ExecutionID string    `json:"execution_id"`
	TaskID      string    `json:"task_id"`
	Kind        Kind      `json:"kind"`
	Entries     []Entry   `json:"entries"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store persists checkpoints under a root directory. Checkpoints are never
// deleted by the engine; archival is a housekeeping concern outside it.
type Store struct {
	root string
}

// NewStore creates (if needed) and opens a checkpoint store rooted at dir.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(dir, "objects"), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint store: %w", err)
	}
	return &Store{root: dir}, nil
}

// Create snapshots the current content of every path the task is about to
// touch and returns the checkpoint. Missing paths are recorded as absent so
// Restore can delete files the task created.
func (s *Store) Create(executionID, taskID string, paths []string) (*Checkpoint, error) {
	cp := &Checkpoint{
		ID:          uuid.NewString(),
		ExecutionID: executionID,
		TaskID:      taskID,
		Kind:        KindBeforeTask,
		CreatedAt:   time.Now().UTC(),
	}

	sorted := make([]string, len(paths))
	copy(sorted, paths)
	sort.Strings(sorted)

	for _, path := range sorted {
		entry, err := s.snapshotPath(path)
		if err != nil {
			return nil, fmt.Errorf("failed to snapshot %q: %w", path, err)
		}
		cp.Entries = append(cp.Entries, entry)
	}

	if err := s.writeManifest(cp); err != nil {
		return nil, err
	}
	return cp, nil
}

func (s *Store) snapshotPath(path string) (Entry, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return Entry{Path: path, Present: false}, nil
	}
	if err != nil {
		return Entry{}, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Entry{}, err
	}

	digest := hashBytes(data)
	blobPath := s.blobPath(digest)
	if _, err := os.Stat(blobPath); os.IsNotExist(err) {
		// Write blob via temp file + rename so a crash never leaves a
		// truncated object under its final name.
		tmp, err := os.CreateTemp(filepath.Join(s.root, "objects"), "blob-*")
		if err != nil {
			return Entry{}, err
		}
		if _, err := tmp.Write(data); err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
			return Entry{}, err
		}
		if err := tmp.Close(); err != nil {
			os.Remove(tmp.Name())
			return Entry{}, err
		}
		if err := os.Rename(tmp.Name(), blobPath); err != nil {
			os.Remove(tmp.Name())
			return Entry{}, err
		}
	}

	return Entry{Path: path, Present: true, Digest: digest, Mode: info.Mode().Perm()}, nil
}

// Restore returns every path in the checkpoint's scope to exactly its
// snapshotted state: bytes and mode for present entries, non-existence for
// absent ones. Restoration is total; the first failure aborts with an
// error so partial restores are detectable.
func (s *Store) Restore(checkpointID string) error {
	cp, err := s.Get(checkpointID)
	if err != nil {
		return err
	}

	for _, entry := range cp.Entries {
		if !entry.Present {
			if err := os.Remove(entry.Path); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("failed to remove created file %q: %w", entry.Path, err)
			}
			continue
		}

		data, err := os.ReadFile(s.blobPath(entry.Digest))
		if err != nil {
			return fmt.Errorf("failed to read blob for %q: %w", entry.Path, err)
		}
		if err := os.MkdirAll(filepath.Dir(entry.Path), 0o755); err != nil {
			return fmt.Errorf("failed to recreate directory for %q: %w", entry.Path, err)
		}
		if err := os.WriteFile(entry.Path, data, entry.Mode); err != nil {
			return fmt.Errorf("failed to restore %q: %w", entry.Path, err)
		}
		if err := os.Chmod(entry.Path, entry.Mode); err != nil {
			return fmt.Errorf("failed to restore mode of %q: %w", entry.Path, err)
		}
	}

	return nil
}

// Get loads a checkpoint manifest by ID.
func (s *Store) Get(checkpointID string) (*Checkpoint, error) {
	matches, err := filepath.Glob(filepath.Join(s.root, "manifests", "*", checkpointID+".json"))
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("checkpoint not found: %s", checkpointID)
	}

	data, err := os.ReadFile(matches[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint manifest: %w", err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("failed to parse checkpoint manifest: %w", err)
	}
	return &cp, nil
}

// List returns all checkpoints recorded for an execution, oldest first.
func (s *Store) List(executionID string) ([]*Checkpoint, error) {
	dir := filepath.Join(s.root, "manifests", executionID)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var cps []*Checkpoint
	for _, e := range entries {
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		var cp Checkpoint
		if err := json.Unmarshal(data, &cp); err != nil {
			return nil, err
		}
		cps = append(cps, &cp)
	}
	sort.Slice(cps, func(i, j int) bool { return cps[i].CreatedAt.Before(cps[j].CreatedAt) })
	return cps, nil
}

func (s *Store) writeManifest(cp *Checkpoint) error {
	dir := filepath.Join(s.root, "manifests", cp.ExecutionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create manifest directory: %w", err)
	}
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, cp.ID+".json"), data, 0o644); err != nil {
		return fmt.Errorf("failed to write checkpoint manifest: %w", err)
	}
	return nil
}

func (s *Store) blobPath(digest string) string {
	return filepath.Join(s.root, "objects", digest)
}

// HashPaths returns a combined digest of the current content of paths.
// The orchestrator compares digests across attempts to detect that a
// failing task produced no file changes.
func HashPaths(paths []string) string {
	sorted := make([]string, len(paths))
	copy(sorted, paths)
	sort.Strings(sorted)

	h := sha256.New()
	for _, path := range sorted {
		h.Write([]byte(path))
		h.Write([]byte{0})
		data, err := os.ReadFile(path)
		if err != nil {
			h.Write([]byte("absent"))
		} else {
			h.Write(data)
		}
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func hashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
