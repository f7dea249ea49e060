// Package efsw watches directories on the local filesystem and delivers
// asynchronous notifications when their contents change. It normalizes
// inotify, ReadDirectoryChangesW, FSEvents and kqueue behind one contract,
// and falls back to a polling-based generic watcher anywhere none of
// those apply.
package efsw

import (
	"errors"
	"fmt"
	"sync"
)

// FileWatcher is the public facade: it owns exactly one backend instance,
// chosen at construction, and forwards add/remove/enumerate calls to it.
// A zero-value FileWatcher is not usable; construct one with
// NewFileWatcher or NewGenericFileWatcher.
type FileWatcher struct {
	mu sync.Mutex

	reg *registry
	be  backend

	followSymlinks  bool
	allowOutOfScope bool
}

// NewFileWatcher constructs a FileWatcher backed by the best available
// native backend for the current platform (inotify, ReadDirectoryChangesW,
// FSEvents, or kqueue), falling back to the generic polling backend if
// none apply to the running GOOS.
func NewFileWatcher() *FileWatcher {
	return newFileWatcher(false)
}

// NewGenericFileWatcher constructs a FileWatcher that always uses the
// polling-based generic backend, regardless of platform. This is the Go
// equivalent of efsw's FileWatcher(bool useGenericFileWatcher) constructor
// called with true.
func NewGenericFileWatcher() *FileWatcher {
	return newFileWatcher(true)
}

func newFileWatcher(forceGeneric bool) *FileWatcher {
	reg := newRegistry()
	fw := &FileWatcher{reg: reg}
	if forceGeneric {
		fw.be = newGenericBackend(reg)
	} else {
		fw.be = newPlatformBackend(reg)
	}
	return fw
}

// AddWatch registers directory for change notifications. On success it
// returns a positive WatchID and a nil error. On failure it returns a
// negative WatchID equal to the ErrorCode encountered and that ErrorCode as
// the error; the code and a diagnostic message naming the directory are
// recorded in the process-wide last-error slot (spec.md §7).
func (fw *FileWatcher) AddWatch(directory string, listener FileWatchListener, recursive bool, options ...WatcherOption) (WatchID, error) {
	if listener == nil {
		return fw.fail(Unspecified, "listener must not be nil")
	}

	canonical, err := canonicalize(directory)
	if err != nil {
		return fw.fail(FileNotFound, fmt.Sprintf("%s: %v", directory, err))
	}

	if _, code, err := classifyDirectory(canonical); err != nil {
		return fw.fail(code, fmt.Sprintf("%s: %v", canonical, err))
	}

	if isRemoteFilesystem(canonical) {
		return fw.fail(FileRemote, fmt.Sprintf("%s: directory is on a remote filesystem", canonical))
	}

	fw.mu.Lock()
	rec := &watchRecord{
		id:        fw.reg.allocateID(),
		rootPath:  canonical,
		listener:  listener,
		recursive: recursive,
		options:   append([]WatcherOption(nil), options...),
		symlinks:  symlinkPolicy{follow: fw.followSymlinks, allowOutOfScope: fw.allowOutOfScope},
		state:     watchPending,
	}
	fw.mu.Unlock()

	if !fw.reg.addIfAbsent(rec) {
		return fw.fail(FileRepeated, fmt.Sprintf("%s: already watched", canonical))
	}

	if err := fw.be.addWatch(rec); err != nil {
		fw.reg.removeByID(rec.id)
		code := WatcherFailed
		var backendCode ErrorCode
		if errors.As(err, &backendCode) {
			code = backendCode
		}
		return fw.fail(code, fmt.Sprintf("%s: %v", canonical, err))
	}

	rec.setState(watchActive)
	return rec.id, nil
}

func (fw *FileWatcher) fail(code ErrorCode, msg string) (WatchID, error) {
	setLastError(code, msg)
	return WatchID(code), code
}

// RemoveWatch removes the watch registered for directory, if any. It is
// idempotent: removing an unwatched directory has no observable effect.
func (fw *FileWatcher) RemoveWatch(directory string) {
	canonical, err := canonicalize(directory)
	if err != nil {
		return
	}
	if rec := fw.reg.removeByPath(canonical); rec != nil {
		fw.teardown(rec)
	}
}

// RemoveWatchID removes the watch identified by id, if any. It is
// idempotent: removing an unknown id has no observable effect.
func (fw *FileWatcher) RemoveWatchID(id WatchID) {
	if rec := fw.reg.removeByID(id); rec != nil {
		fw.teardown(rec)
	}
}

func (fw *FileWatcher) teardown(rec *watchRecord) {
	rec.setState(watchRemoving)
	// Wait out a delivery already in flight; later dispatches see Removing.
	rec.dispatchMu.Lock()
	rec.dispatchMu.Unlock()
	fw.be.removeWatch(rec)
	rec.setState(watchDead)
}

// Watch starts the backend's worker thread. It is idempotent: calling it
// more than once, or after the backend has already started on its own
// (as the generic backend and native backends both do lazily on first
// AddWatch), has no additional effect.
func (fw *FileWatcher) Watch() {
	fw.be.start()
}

// Directories returns a snapshot of the canonical paths currently
// watched.
func (fw *FileWatcher) Directories() []string {
	return fw.reg.paths()
}

// FollowSymlinks reports whether recursive watches follow symbolic links.
// It is disabled by default.
func (fw *FileWatcher) FollowSymlinks() bool {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return fw.followSymlinks
}

// SetFollowSymlinks enables or disables following symbolic links when
// expanding a recursive watch. It only affects watches added after this
// call.
func (fw *FileWatcher) SetFollowSymlinks(follow bool) {
	fw.mu.Lock()
	fw.followSymlinks = follow
	fw.mu.Unlock()
}

// AllowOutOfScopeLinks reports whether a followed symlink may point
// outside the watch root's subtree. It is disabled by default and has no
// effect unless FollowSymlinks is also enabled.
func (fw *FileWatcher) AllowOutOfScopeLinks() bool {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return fw.allowOutOfScope
}

// SetAllowOutOfScopeLinks enables or disables following symlinks that
// point outside the watch root's subtree. It only affects watches added
// after this call.
func (fw *FileWatcher) SetAllowOutOfScopeLinks(allow bool) {
	fw.mu.Lock()
	fw.allowOutOfScope = allow
	fw.mu.Unlock()
}

func (fw *FileWatcher) symlinkPolicy() symlinkPolicy {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return symlinkPolicy{follow: fw.followSymlinks, allowOutOfScope: fw.allowOutOfScope}
}

// Close shuts down the backend: it stops the worker, waits for it to exit
// (so a delivery already in flight finishes), then releases the backend's
// platform handles. Registered watches are not removed from the registry:
// Directories still lists them and their listeners stay referenced.
func (fw *FileWatcher) Close() error {
	fw.be.shutdown()
	return nil
}
