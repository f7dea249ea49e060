//go:build darwin && !kqueue

package efsw

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsevents"

	"github.com/mgolini/efsw-go/internal/debuglog"
)

func newPlatformBackend(reg *registry) backend {
	return newFSEventsBackend(reg)
}

// fseventsWatch is rec.backendData for the FSEvents backend: the stream
// and the per-path records the callback diffs incoming paths against,
// since FSEvents itself doesn't distinguish create from rename in every
// case (spec.md §4.7).
type fseventsWatch struct {
	mu       sync.Mutex
	rec      *watchRecord
	root     string
	stream   *fsevents.EventStream
	lastSeen map[string]os.FileInfo // absolute path -> last known stat
}

type fseventsBackend struct {
	reg  *registry
	life *workerLifecycle

	mu      sync.Mutex
	watches map[WatchID]*fseventsWatch
}

func newFSEventsBackend(reg *registry) *fseventsBackend {
	return &fseventsBackend{reg: reg, life: newWorkerLifecycle(), watches: make(map[WatchID]*fseventsWatch)}
}

func (b *fseventsBackend) addWatch(rec *watchRecord) error {
	dev, err := fsevents.DeviceForPath(rec.rootPath)
	if err != nil {
		return err
	}

	fw := &fseventsWatch{rec: rec, root: rec.rootPath, lastSeen: make(map[string]os.FileInfo)}
	seedSnapshot(rec.rootPath, rec.recursive, rec.symlinks, fw.lastSeen)

	stream := &fsevents.EventStream{
		Paths:   []string{rec.rootPath},
		Latency: 200 * time.Millisecond,
		Device:  dev,
		Flags:   fsevents.FileEvents,
	}
	if rec.recursive {
		stream.Flags |= fsevents.WatchRoot
	}
	fw.stream = stream
	rec.backendData = fw

	b.mu.Lock()
	b.watches[rec.id] = fw
	b.mu.Unlock()

	stream.Start()
	b.start()
	go b.consume(fw)
	return nil
}

func (b *fseventsBackend) removeWatch(rec *watchRecord) {
	fw, ok := rec.backendData.(*fseventsWatch)
	if !ok {
		return
	}
	fw.stream.Stop()
	b.mu.Lock()
	delete(b.watches, rec.id)
	b.mu.Unlock()
}

func (b *fseventsBackend) start() {
	b.life.start()
}

func (b *fseventsBackend) shutdown() {
	b.mu.Lock()
	watches := make([]*fseventsWatch, 0, len(b.watches))
	for _, fw := range b.watches {
		watches = append(watches, fw)
	}
	b.mu.Unlock()
	for _, fw := range watches {
		fw.stream.Stop()
	}
	if b.life.beginStop() {
		b.life.markStopped()
	}
}

// consume drains one watch's event stream until it is stopped. Each
// FileWatcher backend instance runs one such goroutine per watch since
// FSEvents has no single cross-stream channel to multiplex on; ordering
// within a single watch is still preserved because a single goroutine
// only ever dispatches for that one watch's record.
func (b *fseventsBackend) consume(fw *fseventsWatch) {
	for events := range fw.stream.Events {
		for _, ev := range events {
			b.handle(fw, ev)
		}
	}
}

func (b *fseventsBackend) handle(fw *fseventsWatch, ev fsevents.Event) {
	path := ev.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if !isWithin(fw.root, path) {
		return
	}
	dir, name := filepath.Split(path)
	dir = filepath.Clean(dir)

	info, statErr := os.Lstat(path)
	exists := statErr == nil

	fw.mu.Lock()
	_, known := fw.lastSeen[path]
	fw.mu.Unlock()

	switch {
	case ev.Flags&(fsevents.ItemRemoved) != 0 && !exists:
		fw.rec.dispatch(dir, name, Delete, "")
		fw.mu.Lock()
		delete(fw.lastSeen, path)
		fw.mu.Unlock()
	case ev.Flags&fsevents.ItemRenamed != 0:
		if exists && !known {
			fw.rec.dispatch(dir, name, Add, "")
		} else if !exists && known {
			fw.rec.dispatch(dir, name, Delete, "")
		} else if exists {
			fw.rec.dispatch(dir, name, Modified, "")
		}
		fw.mu.Lock()
		if exists {
			fw.lastSeen[path] = info
		} else {
			delete(fw.lastSeen, path)
		}
		fw.mu.Unlock()
	case ev.Flags&fsevents.ItemCreated != 0 && !known:
		fw.rec.dispatch(dir, name, Add, "")
		fw.mu.Lock()
		fw.lastSeen[path] = info
		fw.mu.Unlock()
	case exists:
		fw.rec.dispatch(dir, name, Modified, "")
		fw.mu.Lock()
		fw.lastSeen[path] = info
		fw.mu.Unlock()
	}

	if fw.rec.recursive && exists && info.IsDir() && ev.Flags&fsevents.ItemCreated != 0 {
		seedSnapshot(path, true, fw.rec.symlinks, fw.lastSeen)
	}
}

// seedSnapshot records every entry currently under root (and, if
// recursive, its descendants subject to policy) so the first events for
// pre-existing files aren't mistaken for creates (spec.md §4.4's
// "initial snapshot" requirement, generalized here since FSEvents has no
// built-in equivalent).
func seedSnapshot(root string, recursive bool, policy symlinkPolicy, into map[string]os.FileInfo) {
	dirs := []string{root}
	if recursive {
		if expanded, err := expandRecursiveDirs(root, policy); err == nil {
			dirs = expanded
		}
	}
	for _, d := range dirs {
		entries, err := os.ReadDir(d)
		if err != nil {
			debuglog.Printf("fsevents: seed scan of %q failed: %v", d, err)
			continue
		}
		for _, ent := range entries {
			p := filepath.Join(d, ent.Name())
			if info, err := os.Lstat(p); err == nil {
				into[p] = info
			}
		}
	}
}
