package efsw

// WatchID identifies a single registration with a FileWatcher. It is
// allocated monotonically starting at 1 and is never reused within the
// lifetime of a FileWatcher. A negative WatchID encodes an Error returned
// by AddWatch; zero is never a valid id.
type WatchID int64

// Action describes the kind of filesystem change an Event reports.
type Action int

const (
	// Add is sent when a file or directory is created, or for the new
	// name half of a rename that could not be paired into a Moved event.
	Add Action = 1
	// Delete is sent when a file or directory is removed, or for the old
	// name half of a rename that could not be paired into a Moved event.
	Delete Action = 2
	// Modified is sent when a file's size or modification time changes.
	Modified Action = 3
	// Moved is sent when a rename is detected within the same directory.
	Moved Action = 4
)

func (a Action) String() string {
	switch a {
	case Add:
		return "Add"
	case Delete:
		return "Delete"
	case Modified:
		return "Modified"
	case Moved:
		return "Moved"
	default:
		return "Unknown"
	}
}

// Option is a recognized WatcherOption key. Unrecognized options are
// ignored by backends that don't consult them.
type Option int

const (
	// WinBufferSize sets the buffer size, in bytes, used for
	// ReadDirectoryChangesW reads. Ignored by every backend but Windows'.
	WinBufferSize Option = 1
	// WinNotifyFilter sets the bitwise-OR'd FILE_NOTIFY_CHANGE_* mask used
	// for ReadDirectoryChangesW. Ignored by every backend but Windows'.
	WinNotifyFilter Option = 2
)

// WatcherOption pairs a recognized Option with its value. Options are
// scoped to the add_watch call they were passed to; they never leak into
// another watch's behavior.
type WatcherOption struct {
	Option Option
	Value  int
}

// defaultWinBufferSize is ReadDirectoryChangesW's documented safe default;
// larger values are rejected on network drives (spec.md §4.6).
const defaultWinBufferSize = 63 * 1024
