package efsw

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// waitForEvents polls until want events have been recorded or the
// deadline passes; the generic backend ticks on a 1s timer so tests
// against it need headroom rather than a fixed sleep.
func waitForEvents(t *testing.T, l *recordingListener, want int, timeout time.Duration) []Event {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if got := l.snapshot(); len(got) >= want {
			return got
		}
		time.Sleep(50 * time.Millisecond)
	}
	return l.snapshot()
}

func newActiveGenericWatch(t *testing.T, root string, recursive bool, l FileWatchListener) (*genericBackend, *watchRecord) {
	t.Helper()
	reg := newRegistry()
	b := newGenericBackend(reg)
	rec := &watchRecord{id: reg.allocateID(), rootPath: root, listener: l, recursive: recursive, state: watchPending}
	require.True(t, reg.addIfAbsent(rec))
	require.NoError(t, b.addWatch(rec))
	rec.setState(watchActive)
	t.Cleanup(b.shutdown)
	return b, rec
}

func TestGenericBackendDetectsCreateModifyDelete(t *testing.T) {
	root := t.TempDir()
	l := &recordingListener{}
	newActiveGenericWatch(t, root, false, l)

	file := filepath.Join(root, "a.txt")
	require.NoError(t, os.WriteFile(file, []byte("hello"), 0o644))

	events := waitForEvents(t, l, 1, 3*time.Second)
	require.NotEmpty(t, events)
	assert.Equal(t, Add, events[0].Action)
	assert.Equal(t, "a.txt", events[0].Filename)

	time.Sleep(1100 * time.Millisecond) // let the initial snapshot settle before the next mutation
	require.NoError(t, os.WriteFile(file, []byte("hello world, now longer"), 0o644))
	events = waitForEvents(t, l, 2, 3*time.Second)
	require.GreaterOrEqual(t, len(events), 2)
	assert.Equal(t, Modified, events[1].Action)

	require.NoError(t, os.Remove(file))
	events = waitForEvents(t, l, 3, 3*time.Second)
	require.GreaterOrEqual(t, len(events), 3)
	assert.Equal(t, Delete, events[2].Action)
}

func TestGenericBackendPairsSameDirRename(t *testing.T) {
	root := t.TempDir()
	oldPath := filepath.Join(root, "old.txt")
	require.NoError(t, os.WriteFile(oldPath, []byte("x"), 0o644))

	l := &recordingListener{}
	newActiveGenericWatch(t, root, false, l)

	time.Sleep(1100 * time.Millisecond) // let the initial snapshot include old.txt first
	newPath := filepath.Join(root, "new.txt")
	require.NoError(t, os.Rename(oldPath, newPath))

	events := waitForEvents(t, l, 1, 3*time.Second)
	require.NotEmpty(t, events)
	assert.Equal(t, Moved, events[0].Action)
	assert.Equal(t, "new.txt", events[0].Filename)
	assert.Equal(t, "old.txt", events[0].OldFilename)
}

func TestGenericBackendRecursiveWatchesNewSubdirectory(t *testing.T) {
	root := t.TempDir()
	l := &recordingListener{}
	newActiveGenericWatch(t, root, true, l)

	sub := filepath.Join(root, "child")
	require.NoError(t, os.Mkdir(sub, 0o755))
	waitForEvents(t, l, 1, 3*time.Second)

	time.Sleep(1100 * time.Millisecond) // allow reconcileSubdirs to pick up the new directory
	require.NoError(t, os.WriteFile(filepath.Join(sub, "nested.txt"), []byte("x"), 0o644))

	events := waitForEvents(t, l, 2, 3*time.Second)
	var sawNested bool
	for _, ev := range events {
		if ev.Filename == "nested.txt" && ev.Action == Add {
			sawNested = true
		}
	}
	assert.True(t, sawNested, "expected an Add event for the file created inside the newly watched subdirectory")
}

func TestPairRenamesMatchesByInodeNotName(t *testing.T) {
	root := t.TempDir()
	oldPath := filepath.Join(root, "old.txt")
	require.NoError(t, os.WriteFile(oldPath, []byte("x"), 0o644))
	before, err := scanDir(root)
	require.NoError(t, err)

	newPath := filepath.Join(root, "new.txt")
	require.NoError(t, os.Rename(oldPath, newPath))
	after, err := scanDir(root)
	require.NoError(t, err)

	deleted, added, _ := diffSnapshots(before, after)
	rp := pairRenames(deleted, added)
	assert.Equal(t, "new.txt", rp.byOldName["old.txt"])
	assert.Equal(t, "old.txt", rp.byNewName["new.txt"])
	assert.True(t, rp.oldNames["old.txt"])
}

func TestDiffSnapshotsDetectsModifiedBySizeOrModTime(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "a.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	before, err := scanDir(root)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(file, []byte("xyz"), 0o644))
	after, err := scanDir(root)
	require.NoError(t, err)

	_, _, modified := diffSnapshots(before, after)
	assert.Contains(t, modified, "a.txt")
}
