package efsw

// Event is the normalized record every backend produces. Directory is the
// absolute, canonicalized path of the watch root (or, for backends that
// re-root per subdirectory, the parent directory actually observed).
// Filename is relative to Directory, never a full path: a leaf name, except
// for recursive watches on the Windows backend, where it is the path below
// the watch root as ReadDirectoryChangesW reports it.
// OldFilename is populated only when Action is Moved.
type Event struct {
	WatchID     WatchID
	Directory   string
	Filename    string
	Action      Action
	OldFilename string
}

// FileWatchListener is implemented by callers to receive events for a
// watch. The registry never invokes HandleFileAction for the same watch
// id from two goroutines concurrently (spec.md §5).
type FileWatchListener interface {
	HandleFileAction(watchID WatchID, directory, filename string, action Action, oldFilename string)
}

// FileWatchListenerFunc adapts a plain function to FileWatchListener,
// mirroring the callback-style convenience the teacher's GenericFileWatchListener
// gave callers who didn't want to implement an interface by hand.
type FileWatchListenerFunc func(watchID WatchID, directory, filename string, action Action, oldFilename string)

// HandleFileAction implements FileWatchListener.
func (f FileWatchListenerFunc) HandleFileAction(watchID WatchID, directory, filename string, action Action, oldFilename string) {
	f(watchID, directory, filename, action, oldFilename)
}
