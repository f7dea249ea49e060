package efsw

import "sync"

// watchState is the per-watch lifecycle of spec.md §4.9.
type watchState int32

const (
	watchPending watchState = iota
	watchActive
	watchRemoving
	watchDead
)

// watchRecord is the registry's unit of bookkeeping. Backends attach their
// own resources (file descriptors, handles, snapshots) via the opaque
// backendData field; the registry itself never looks inside it.
type watchRecord struct {
	id        WatchID
	rootPath  string
	listener  FileWatchListener
	recursive bool
	options   []WatcherOption
	symlinks  symlinkPolicy

	// dispatchMu is held for the duration of a listener callback.
	// FileWatcher.teardown acquires it before asking the backend to release
	// the watch's resources, so a delivery already in
	// flight always finishes before its watch is reclaimed (spec.md §3's
	// "no watch record is destroyed while a delivery for it is in progress").
	dispatchMu sync.Mutex

	mu    sync.Mutex
	state watchState

	// backendData is set and interpreted only by the owning backend.
	backendData interface{}
}

func (w *watchRecord) setState(s watchState) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

func (w *watchRecord) getState() watchState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *watchRecord) option(o Option) (int, bool) {
	for _, opt := range w.options {
		if opt.Option == o {
			return opt.Value, true
		}
	}
	return 0, false
}

// dispatch invokes the watch's listener if, and only if, the watch is
// Active at the moment dispatch is attempted. The registry lock is never
// held while this runs (spec.md §5).
func (w *watchRecord) dispatch(directory, filename string, action Action, oldFilename string) {
	w.dispatchMu.Lock()
	defer w.dispatchMu.Unlock()
	if w.getState() != watchActive {
		return
	}
	w.listener.HandleFileAction(w.id, directory, filename, action, oldFilename)
}

// registry maps watch ids and canonical paths to watchRecords. Its single
// RWMutex guards index mutation and lookups only, never listener
// invocation (spec.md §5).
type registry struct {
	mu     sync.RWMutex
	byID   map[WatchID]*watchRecord
	byPath map[string]*watchRecord
	nextID int64
}

func newRegistry() *registry {
	return &registry{
		byID:   make(map[WatchID]*watchRecord),
		byPath: make(map[string]*watchRecord),
	}
}

// allocateID returns the next monotonically increasing WatchID. It never
// returns 0 or a negative value (those are reserved for ErrorCode).
func (r *registry) allocateID() WatchID {
	r.nextID++
	return WatchID(r.nextID)
}

// addIfAbsent inserts rec keyed by both its id and its canonical root
// path, unless a record already exists for that path, in which case it
// does nothing and returns false. The check and the insert happen under
// one critical section so two concurrent AddWatch calls for the same path
// can't both succeed (spec.md §8's duplicate-add invariant).
func (r *registry) addIfAbsent(rec *watchRecord) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byPath[rec.rootPath]; exists {
		return false
	}
	r.byID[rec.id] = rec
	r.byPath[rec.rootPath] = rec
	return true
}

func (r *registry) get(id WatchID) *watchRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byID[id]
}

func (r *registry) getByPath(path string) *watchRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byPath[path]
}

// removeByID removes and returns the record for id, or nil if unknown.
// Removal is idempotent: removing an unknown id is a no-op, per spec.md §8.
func (r *registry) removeByID(id WatchID) *watchRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.byID[id]
	if !ok {
		return nil
	}
	delete(r.byID, id)
	delete(r.byPath, rec.rootPath)
	return rec
}

// removeByPath removes and returns the record whose canonical root path
// equals path, found by a lookup in the path index.
func (r *registry) removeByPath(path string) *watchRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.byPath[path]
	if !ok {
		return nil
	}
	delete(r.byID, rec.id)
	delete(r.byPath, path)
	return rec
}

// paths returns a snapshot of every canonical root path currently
// registered.
func (r *registry) paths() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byPath))
	for p := range r.byPath {
		out = append(out, p)
	}
	return out
}

// records returns a snapshot of every watch record currently registered.
func (r *registry) records() []*watchRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*watchRecord, 0, len(r.byID))
	for _, rec := range r.byID {
		out = append(out, rec)
	}
	return out
}

func (r *registry) markAllDead() {
	for _, rec := range r.records() {
		rec.setState(watchDead)
	}
}
