package efsw

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mgolini/efsw-go/internal/debuglog"
)

// pollInterval is the generic backend's scan period (spec.md §4.4).
const pollInterval = 1000 * time.Millisecond

// entrySnapshot is the per-leaf metadata the generic backend diffs
// between cycles (spec.md §3's Directory snapshot).
type entrySnapshot struct {
	info  os.FileInfo
	isDir bool
}

// dirSnapshot maps a leaf name to its last-observed metadata.
type dirSnapshot map[string]entrySnapshot

// genericWatch is the backendData a watchRecord carries while the
// generic backend owns it: one snapshot per watched directory, plus the
// root/recursive/policy values the worker needs without going back
// through the registry on every tick.
type genericWatch struct {
	mu        sync.Mutex
	rec       *watchRecord
	root      string
	recursive bool
	policy    symlinkPolicy
	dirs      map[string]dirSnapshot // logical dir path -> snapshot
}

// genericBackend is the polling-based fallback described in spec.md §4.4.
// It has no platform requirements: a single worker goroutine walks every
// watched directory (and, for recursive watches, every discovered
// descendant) on a fixed tick and synthesizes events from the diff.
type genericBackend struct {
	reg  *registry
	life *workerLifecycle

	mu      sync.Mutex
	watches map[WatchID]*genericWatch
	stopCh  chan struct{}
}

func newGenericBackend(reg *registry) *genericBackend {
	return &genericBackend{
		reg:     reg,
		life:    newWorkerLifecycle(),
		watches: make(map[WatchID]*genericWatch),
		stopCh:  make(chan struct{}),
	}
}

func (b *genericBackend) addWatch(rec *watchRecord) error {
	gw := &genericWatch{
		rec:       rec,
		root:      rec.rootPath,
		recursive: rec.recursive,
		policy:    rec.symlinks,
		dirs:      make(map[string]dirSnapshot),
	}

	dirs := []string{gw.root}
	if gw.recursive {
		expanded, err := expandRecursiveDirs(gw.root, gw.policy)
		if err != nil {
			return err
		}
		dirs = expanded
	}
	for _, d := range dirs {
		snap, err := scanDir(d)
		if err != nil {
			continue
		}
		gw.dirs[d] = snap
	}

	rec.backendData = gw

	b.mu.Lock()
	b.watches[rec.id] = gw
	b.mu.Unlock()

	b.start()
	return nil
}

func (b *genericBackend) removeWatch(rec *watchRecord) {
	b.mu.Lock()
	delete(b.watches, rec.id)
	b.mu.Unlock()
}

func (b *genericBackend) start() {
	if b.life.start() {
		go b.run()
	}
}

func (b *genericBackend) shutdown() {
	if b.life.beginStop() {
		close(b.stopCh)
	}
	b.life.waitStopped()
}

func (b *genericBackend) run() {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	defer b.life.markStopped()
	for {
		select {
		case <-b.stopCh:
			return
		case <-ticker.C:
			b.tick()
		}
	}
}

func (b *genericBackend) tick() {
	b.mu.Lock()
	snapshotOfWatches := make([]*genericWatch, 0, len(b.watches))
	for _, gw := range b.watches {
		snapshotOfWatches = append(snapshotOfWatches, gw)
	}
	b.mu.Unlock()

	for _, gw := range snapshotOfWatches {
		if gw.rec.getState() != watchActive {
			continue
		}
		b.scanWatch(gw)
	}
}

// scanWatch runs one diff cycle over every directory gw currently knows
// about, in the fixed per-directory order of spec.md §4.4: Delete, Add,
// Modified, with same-parent renames coalesced into Moved.
func (b *genericBackend) scanWatch(gw *genericWatch) {
	gw.mu.Lock()
	dirs := make([]string, 0, len(gw.dirs))
	for d := range gw.dirs {
		dirs = append(dirs, d)
	}
	gw.mu.Unlock()

	for _, dir := range dirs {
		b.scanDirCycle(gw, dir)
	}
}

func (b *genericBackend) scanDirCycle(gw *genericWatch, dir string) {
	gw.mu.Lock()
	old, ok := gw.dirs[dir]
	gw.mu.Unlock()
	if !ok {
		return
	}

	newSnap, err := scanDir(dir)
	if err != nil {
		// Directory vanished between ticks; treat every old entry as
		// deleted and drop it from the watch set.
		if os.IsNotExist(err) {
			for name := range old {
				gw.rec.dispatch(dir, name, Delete, "")
			}
			if gw.recursive {
				b.dropSubtree(gw, dir)
			} else {
				gw.mu.Lock()
				delete(gw.dirs, dir)
				gw.mu.Unlock()
			}
			return
		}
		debuglog.Printf("generic: scan %q failed: %v", dir, err)
		return
	}

	deleted, added, modified := diffSnapshots(old, newSnap)
	moved := pairRenames(deleted, added)

	for name := range deleted {
		if _, wasMoved := moved.oldNames[name]; wasMoved {
			continue
		}
		gw.rec.dispatch(dir, name, Delete, "")
	}
	for name := range added {
		if oldName, wasMoved := moved.byNewName[name]; wasMoved {
			gw.rec.dispatch(dir, name, Moved, oldName)
			continue
		}
		gw.rec.dispatch(dir, name, Add, "")
	}
	for name := range modified {
		gw.rec.dispatch(dir, name, Modified, "")
	}

	if gw.recursive {
		b.reconcileSubdirs(gw, dir, deleted, added)
	}

	gw.mu.Lock()
	gw.dirs[dir] = newSnap
	gw.mu.Unlock()
}

// renamePairs records, for a single cycle of a single directory, which
// deleted leaf names were paired with an added leaf name sharing the same
// inode (spec.md §4.4 step 3).
type renamePairs struct {
	byOldName map[string]string // old name -> new name
	byNewName map[string]string // new name -> old name
	oldNames  map[string]bool   // set of old names consumed by a pairing
}

func pairRenames(deleted, added dirSnapshot) renamePairs {
	rp := renamePairs{
		byOldName: make(map[string]string),
		byNewName: make(map[string]string),
		oldNames:  make(map[string]bool),
	}
	usedNew := make(map[string]bool)
	for oldName, oldEntry := range deleted {
		for newName, newEntry := range added {
			if usedNew[newName] {
				continue
			}
			if oldEntry.isDir != newEntry.isDir {
				continue
			}
			if !os.SameFile(oldEntry.info, newEntry.info) {
				continue
			}
			rp.byOldName[oldName] = newName
			rp.byNewName[newName] = oldName
			rp.oldNames[oldName] = true
			usedNew[newName] = true
			break
		}
	}
	return rp
}

func diffSnapshots(old, latest dirSnapshot) (deleted, added, modified dirSnapshot) {
	deleted = make(dirSnapshot)
	added = make(dirSnapshot)
	modified = make(dirSnapshot)
	for name, entry := range old {
		if _, ok := latest[name]; !ok {
			deleted[name] = entry
		}
	}
	for name, entry := range latest {
		oldEntry, ok := old[name]
		if !ok {
			added[name] = entry
			continue
		}
		if entry.isDir != oldEntry.isDir {
			continue
		}
		if entry.isDir {
			continue
		}
		if entry.info.Size() != oldEntry.info.Size() || !entry.info.ModTime().Equal(oldEntry.info.ModTime()) {
			modified[name] = entry
		}
	}
	return
}

// reconcileSubdirs keeps gw.dirs in sync with directories created or
// removed this cycle, subject to the watch's symlink policy, and
// recursively drops the descendants of a deleted directory from the walk
// set (spec.md §4.4 step 4).
func (b *genericBackend) reconcileSubdirs(gw *genericWatch, dir string, deleted, added dirSnapshot) {
	for name, entry := range added {
		if !entry.isDir {
			continue
		}
		childPath := filepath.Join(dir, name)
		if snap, err := scanDir(childPath); err == nil {
			gw.mu.Lock()
			gw.dirs[childPath] = snap
			gw.mu.Unlock()
			if nested, err := expandRecursiveDirs(childPath, gw.policy); err == nil {
				for _, nd := range nested {
					if nd == childPath {
						continue
					}
					if nsnap, err := scanDir(nd); err == nil {
						gw.mu.Lock()
						gw.dirs[nd] = nsnap
						gw.mu.Unlock()
					}
				}
			}
		}
	}
	for name, entry := range deleted {
		if !entry.isDir {
			continue
		}
		childPath := filepath.Join(dir, name)
		b.dropSubtree(gw, childPath)
	}
}

func (b *genericBackend) dropSubtree(gw *genericWatch, root string) {
	prefix := root + string(filepath.Separator)
	gw.mu.Lock()
	defer gw.mu.Unlock()
	delete(gw.dirs, root)
	for d := range gw.dirs {
		if len(d) > len(prefix) && d[:len(prefix)] == prefix {
			delete(gw.dirs, d)
		}
	}
}

// scanDir takes a fresh snapshot of dir's immediate entries.
func scanDir(dir string) (dirSnapshot, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	snap := make(dirSnapshot, len(entries))
	for _, ent := range entries {
		info, err := os.Lstat(filepath.Join(dir, ent.Name()))
		if err != nil {
			continue
		}
		snap[ent.Name()] = entrySnapshot{info: info, isDir: info.IsDir()}
	}
	return snap, nil
}
