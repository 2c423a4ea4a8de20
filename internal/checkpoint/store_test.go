package checkpoint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	workDir := t.TempDir()
	store, err := NewStore(filepath.Join(t.TempDir(), "checkpoints"))
	require.NoError(t, err)
	return store, workDir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// TestRestoreFidelity mutates, deletes, and creates files after a
// checkpoint, then restores and verifies byte-identical pre-task state.
func TestRestoreFidelity(t *testing.T) {
	store, dir := newTestStore(t)

	existing := filepath.Join(dir, "existing.go")
	doomed := filepath.Join(dir, "doomed.go")
	created := filepath.Join(dir, "created.go")
	writeFile(t, existing, "original content\n")
	writeFile(t, doomed, "will be deleted\n")

	cp, err := store.Create("exec-1", "task-1", []string{existing, doomed, created})
	require.NoError(t, err)
	require.Len(t, cp.Entries, 3)

	// The task mutates everything in scope.
	writeFile(t, existing, "clobbered\n")
	require.NoError(t, os.Remove(doomed))
	writeFile(t, created, "should not survive rollback\n")

	require.NoError(t, store.Restore(cp.ID))

	got, err := os.ReadFile(existing)
	require.NoError(t, err)
	assert.Equal(t, "original content\n", string(got))

	got, err = os.ReadFile(doomed)
	require.NoError(t, err)
	assert.Equal(t, "will be deleted\n", string(got))

	_, err = os.Stat(created)
	assert.True(t, os.IsNotExist(err), "file absent at checkpoint time must be removed")
}

func TestRestoreIsIdempotent(t *testing.T) {
	store, dir := newTestStore(t)

	path := filepath.Join(dir, "a.go")
	writeFile(t, path, "v1\n")

	cp, err := store.Create("exec-1", "task-1", []string{path})
	require.NoError(t, err)

	writeFile(t, path, "v2\n")
	require.NoError(t, store.Restore(cp.ID))
	require.NoError(t, store.Restore(cp.ID))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "v1\n", string(got))
}

func TestRestoreRecreatesMode(t *testing.T) {
	store, dir := newTestStore(t)

	script := filepath.Join(dir, "run.sh")
	writeFile(t, script, "#!/bin/sh\n")
	require.NoError(t, os.Chmod(script, 0o755))

	cp, err := store.Create("exec-1", "task-1", []string{script})
	require.NoError(t, err)

	require.NoError(t, os.Remove(script))
	require.NoError(t, store.Restore(cp.ID))

	info, err := os.Stat(script)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())
}

// TestBlobsDeduplicated checks that identical content across checkpoints
// is stored once.
func TestBlobsDeduplicated(t *testing.T) {
	store, dir := newTestStore(t)

	a := filepath.Join(dir, "a.go")
	b := filepath.Join(dir, "b.go")
	writeFile(t, a, "same bytes\n")
	writeFile(t, b, "same bytes\n")

	_, err := store.Create("exec-1", "task-1", []string{a})
	require.NoError(t, err)
	_, err = store.Create("exec-1", "task-2", []string{b})
	require.NoError(t, err)

	objects, err := os.ReadDir(filepath.Join(store.root, "objects"))
	require.NoError(t, err)
	assert.Len(t, objects, 1)
}

func TestGetAndList(t *testing.T) {
	store, dir := newTestStore(t)

	path := filepath.Join(dir, "a.go")
	writeFile(t, path, "content\n")

	first, err := store.Create("exec-1", "task-1", []string{path})
	require.NoError(t, err)
	second, err := store.Create("exec-1", "task-2", []string{path})
	require.NoError(t, err)
	_, err = store.Create("exec-other", "task-9", []string{path})
	require.NoError(t, err)

	loaded, err := store.Get(first.ID)
	require.NoError(t, err)
	assert.Equal(t, "task-1", loaded.TaskID)
	assert.Equal(t, KindBeforeTask, loaded.Kind)

	_, err = store.Get("no-such-checkpoint")
	assert.Error(t, err)

	// List is scoped to one execution, oldest first.
	cps, err := store.List("exec-1")
	require.NoError(t, err)
	require.Len(t, cps, 2)
	assert.Equal(t, first.ID, cps[0].ID)
	assert.Equal(t, second.ID, cps[1].ID)
}

func TestHashPaths(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.go")
	writeFile(t, path, "v1\n")

	before := HashPaths([]string{path})
	assert.Equal(t, before, HashPaths([]string{path}), "digest must be stable for unchanged content")

	writeFile(t, path, "v2\n")
	assert.NotEqual(t, before, HashPaths([]string{path}), "digest must change with content")

	// Absent paths hash deterministically too.
	missing := filepath.Join(dir, "missing.go")
	assert.Equal(t, HashPaths([]string{missing}), HashPaths([]string{missing}))
}
