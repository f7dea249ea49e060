package efsw

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddWatchRejectsNilListener(t *testing.T) {
	fw := NewGenericFileWatcher()
	defer fw.Close()

	id, err := fw.AddWatch(t.TempDir(), nil, false)
	assert.Error(t, err)
	assert.Equal(t, WatchID(Unspecified), id)
}

func TestAddWatchRejectsMissingDirectory(t *testing.T) {
	fw := NewGenericFileWatcher()
	defer fw.Close()

	missing := filepath.Join(t.TempDir(), "nope")
	id, err := fw.AddWatch(missing, FileWatchListenerFunc(func(WatchID, string, string, Action, string) {}), false)
	assert.Error(t, err)
	assert.Equal(t, WatchID(FileNotFound), id)
	assert.Equal(t, FileNotFound, Errors.LastErrorCode())
}

// stubBackend lets AddWatch tests control exactly what the backend layer
// returns without depending on a real platform backend.
type stubBackend struct {
	addErr error
}

func (s *stubBackend) addWatch(rec *watchRecord) error { return s.addErr }
func (s *stubBackend) removeWatch(rec *watchRecord)     {}
func (s *stubBackend) start()                           {}
func (s *stubBackend) shutdown()                        {}

func TestAddWatchPreservesBackendErrorCode(t *testing.T) {
	fw := newFileWatcher(true)
	fw.be = &stubBackend{addErr: FileRemote}

	id, err := fw.AddWatch(t.TempDir(), FileWatchListenerFunc(func(WatchID, string, string, Action, string) {}), false)
	assert.Equal(t, FileRemote, err)
	assert.Equal(t, WatchID(FileRemote), id)
	assert.Equal(t, FileRemote, Errors.LastErrorCode())
}

func TestAddWatchFallsBackToWatcherFailedForGenericErrors(t *testing.T) {
	fw := newFileWatcher(true)
	fw.be = &stubBackend{addErr: os.ErrInvalid}

	id, err := fw.AddWatch(t.TempDir(), FileWatchListenerFunc(func(WatchID, string, string, Action, string) {}), false)
	assert.Equal(t, WatcherFailed, err)
	assert.Equal(t, WatchID(WatcherFailed), id)
}

func TestAddWatchRejectsDuplicatePath(t *testing.T) {
	fw := NewGenericFileWatcher()
	defer fw.Close()

	dir := t.TempDir()
	noop := FileWatchListenerFunc(func(WatchID, string, string, Action, string) {})

	id1, err := fw.AddWatch(dir, noop, false)
	require.NoError(t, err)
	assert.True(t, id1 > 0)

	id2, err := fw.AddWatch(dir, noop, false)
	assert.Equal(t, FileRepeated, err)
	assert.Equal(t, WatchID(FileRepeated), id2)
}

func TestRemoveWatchIsIdempotent(t *testing.T) {
	fw := NewGenericFileWatcher()
	defer fw.Close()

	dir := t.TempDir()
	noop := FileWatchListenerFunc(func(WatchID, string, string, Action, string) {})
	id, err := fw.AddWatch(dir, noop, false)
	require.NoError(t, err)

	fw.RemoveWatchID(id)
	assert.NotContains(t, fw.Directories(), dir)

	assert.NotPanics(t, func() { fw.RemoveWatchID(id) })
	assert.NotPanics(t, func() { fw.RemoveWatch(dir) })
}

func TestEndToEndCreateModifyDeleteRename(t *testing.T) {
	dir := t.TempDir()
	l := &recordingListener{}
	fw := NewGenericFileWatcher()
	defer fw.Close()

	id, err := fw.AddWatch(dir, l, false)
	require.NoError(t, err)
	require.True(t, id > 0)

	file := filepath.Join(dir, "doc.txt")
	require.NoError(t, os.WriteFile(file, []byte("v1"), 0o644))
	events := waitForEvents(t, l, 1, 3*time.Second)
	require.NotEmpty(t, events)
	assert.Equal(t, Add, events[0].Action)

	time.Sleep(1100 * time.Millisecond)
	require.NoError(t, os.WriteFile(file, []byte("v2 is a fair bit longer than v1"), 0o644))
	events = waitForEvents(t, l, 2, 3*time.Second)
	require.GreaterOrEqual(t, len(events), 2)
	assert.Equal(t, Modified, events[1].Action)

	time.Sleep(1100 * time.Millisecond)
	renamed := filepath.Join(dir, "doc-renamed.txt")
	require.NoError(t, os.Rename(file, renamed))
	events = waitForEvents(t, l, 3, 3*time.Second)
	require.GreaterOrEqual(t, len(events), 3)
	assert.Equal(t, Moved, events[2].Action)
	assert.Equal(t, "doc-renamed.txt", events[2].Filename)
	assert.Equal(t, "doc.txt", events[2].OldFilename)

	for _, ev := range events {
		assert.Equal(t, id, ev.WatchID)
	}
}

func TestSymlinkTogglesDefaultOffAndRoundTrip(t *testing.T) {
	fw := NewGenericFileWatcher()
	defer fw.Close()

	assert.False(t, fw.FollowSymlinks())
	assert.False(t, fw.AllowOutOfScopeLinks())

	fw.SetFollowSymlinks(true)
	fw.SetAllowOutOfScopeLinks(true)
	assert.True(t, fw.FollowSymlinks())
	assert.True(t, fw.AllowOutOfScopeLinks())
}

func TestDirectoriesReflectsCurrentWatches(t *testing.T) {
	fw := NewGenericFileWatcher()
	defer fw.Close()

	d1, d2 := t.TempDir(), t.TempDir()
	noop := FileWatchListenerFunc(func(WatchID, string, string, Action, string) {})
	_, err := fw.AddWatch(d1, noop, false)
	require.NoError(t, err)
	_, err = fw.AddWatch(d2, noop, false)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{d1, d2}, fw.Directories())
}
