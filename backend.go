package efsw

import "sync/atomic"

// backend is the contract every platform adapter implements (spec.md §4.3).
// addWatch is called with the canonical root path already validated and
// the registry record already allocated and inserted with state Pending;
// FileWatcher.AddWatch transitions it to Active once addWatch returns nil.
// removeWatch is called
// with a record already taken out of the registry's indices; the backend
// tears down its platform resources and, on return, no further delivery
// for that watch will be attempted (the registry guarantees this by not
// dispatching to Dead/Removing watches; the backend guarantees it by
// actually unsubscribing).
type backend interface {
	addWatch(rec *watchRecord) error
	removeWatch(rec *watchRecord)
	start()
	shutdown()
}

// workerLifecycle implements the Idle -> Running -> Stopping -> Stopped
// state machine shared by every backend with a dedicated worker goroutine
// (spec.md §4.9). FSEvents, which runs one consume goroutine per watch
// rather than a single worker, uses it only to track whether start and
// shutdown were called.
type workerLifecycle struct {
	state   int32 // atomic workerState
	stopped chan struct{}
}

type workerState int32

const (
	workerIdle workerState = iota
	workerRunning
	workerStopping
	workerStopped
)

func newWorkerLifecycle() *workerLifecycle {
	return &workerLifecycle{stopped: make(chan struct{})}
}

// start transitions Idle->Running, reporting whether this call performed
// the transition (false if already Running or past it).
func (wl *workerLifecycle) start() bool {
	return atomic.CompareAndSwapInt32(&wl.state, int32(workerIdle), int32(workerRunning))
}

func (wl *workerLifecycle) isRunning() bool {
	return workerState(atomic.LoadInt32(&wl.state)) == workerRunning
}

// beginStop transitions Running->Stopping, reporting whether this call
// performed the transition.
func (wl *workerLifecycle) beginStop() bool {
	return atomic.CompareAndSwapInt32(&wl.state, int32(workerRunning), int32(workerStopping))
}

// markStopped transitions to Stopped and unblocks any waitStopped callers.
func (wl *workerLifecycle) markStopped() {
	atomic.StoreInt32(&wl.state, int32(workerStopped))
	close(wl.stopped)
}

// waitStopped blocks until the worker has reached Stopped. A lifecycle
// that never left Idle moves straight to Stopped and returns at once.
func (wl *workerLifecycle) waitStopped() {
	if atomic.CompareAndSwapInt32(&wl.state, int32(workerIdle), int32(workerStopped)) {
		close(wl.stopped)
		return
	}
	<-wl.stopped
}
