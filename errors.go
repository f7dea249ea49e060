package efsw

import "sync"

// ErrorCode is one of the fixed error kinds a backend or the registry can
// report. Negative values double as encoded WatchIDs returned by AddWatch.
type ErrorCode int

const (
	NoError         ErrorCode = 0
	FileNotFound    ErrorCode = -1
	FileRepeated    ErrorCode = -2
	FileOutOfScope  ErrorCode = -3
	FileNotReadable ErrorCode = -4
	// FileRemote is reported when directory lives on a known network
	// filesystem type; callers should retry with a generic FileWatcher.
	FileRemote    ErrorCode = -5
	WatcherFailed ErrorCode = -6
	Unspecified   ErrorCode = -7
)

func (e ErrorCode) String() string {
	switch e {
	case NoError:
		return "NoError"
	case FileNotFound:
		return "FileNotFound"
	case FileRepeated:
		return "FileRepeated"
	case FileOutOfScope:
		return "FileOutOfScope"
	case FileNotReadable:
		return "FileNotReadable"
	case FileRemote:
		return "FileRemote"
	case WatcherFailed:
		return "WatcherFailed"
	case Unspecified:
		return "Unspecified"
	default:
		return "Unspecified"
	}
}

// Error implements the error interface so ErrorCode can be returned and
// compared with errors.Is/errors.As alongside the last-error slot.
func (e ErrorCode) Error() string { return e.String() }

// lastError is the process-wide last-error record (spec.md §4.1, §7). It
// is a single global slot shared by every FileWatcher in the process,
// mirroring efsw's Errors::Log, which is likewise process-global.
type lastError struct {
	mu   sync.Mutex
	code ErrorCode
	log  string
}

var globalLastError lastError

// Errors exposes the process-wide last-error slot. It has no exported
// fields; use its methods.
var Errors errorsAPI

type errorsAPI struct{}

// LastErrorCode returns the code of the last error logged by any
// FileWatcher in this process.
func (errorsAPI) LastErrorCode() ErrorCode {
	globalLastError.mu.Lock()
	defer globalLastError.mu.Unlock()
	return globalLastError.code
}

// LastErrorLog returns the diagnostic message of the last error logged.
func (errorsAPI) LastErrorLog() string {
	globalLastError.mu.Lock()
	defer globalLastError.mu.Unlock()
	return globalLastError.log
}

// ClearLastError resets the last-error slot to NoError.
func (errorsAPI) ClearLastError() {
	globalLastError.mu.Lock()
	defer globalLastError.mu.Unlock()
	globalLastError.code = NoError
	globalLastError.log = ""
}

// setLastError records err as the process-wide last error and returns it,
// mirroring efsw's Errors::createLastError which both records and returns
// the error kind from the same call site.
func setLastError(code ErrorCode, msg string) ErrorCode {
	globalLastError.mu.Lock()
	globalLastError.code = code
	globalLastError.log = msg
	globalLastError.mu.Unlock()
	return code
}
