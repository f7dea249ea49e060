//go:build linux

package efsw

import (
	"bytes"
	"path/filepath"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/mgolini/efsw-go/internal/debuglog"
)

// inotifyMask is the fixed set of events the backend subscribes every
// directory to (spec.md §4.5).
const inotifyMask = unix.IN_CREATE | unix.IN_DELETE | unix.IN_MODIFY |
	unix.IN_MOVED_FROM | unix.IN_MOVED_TO | unix.IN_ATTRIB |
	unix.IN_MOVE_SELF | unix.IN_DELETE_SELF

// moveFromMaxAge bounds how long an unpaired IN_MOVED_FROM is held before
// it is flushed as a plain Delete (spec.md §4.5, §9: "do not attempt
// cross-read heuristics beyond the documented ~1 s fallback").
const moveFromMaxAge = time.Second

// inotifyDirWatch is the state kept for one watch descriptor: the
// directory it covers and the watchRecord it belongs to. A single
// recursive watchRecord owns one inotifyDirWatch per subdirectory.
type inotifyDirWatch struct {
	wd   int32
	path string
	rec  *watchRecord
}

// inotifyWatchState is rec.backendData for the inotify backend: every
// watch descriptor currently installed on behalf of this watch.
type inotifyWatchState struct {
	root      string
	recursive bool
	policy    symlinkPolicy
	wds       map[int32]bool
}

// pendingMove is a MOVED_FROM seen but not yet paired with a MOVED_TO.
type pendingMove struct {
	dw   *inotifyDirWatch
	name string
	at   time.Time
}

type inotifyBackend struct {
	reg  *registry
	life *workerLifecycle

	mu        sync.Mutex
	fd        int
	byWd      map[int32]*inotifyDirWatch
	stopEvfd  int
	pendingMu sync.Mutex
	pending   map[uint32]pendingMove
}

func newPlatformBackend(reg *registry) backend {
	fd, err := unix.InotifyInit1(unix.IN_CLOEXEC)
	if err != nil {
		debuglog.Printf("inotify: init failed, falling back to generic backend: %v", err)
		return newGenericBackend(reg)
	}
	evfd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		unix.Close(fd)
		debuglog.Printf("inotify: eventfd failed, falling back to generic backend: %v", err)
		return newGenericBackend(reg)
	}
	return &inotifyBackend{
		reg:      reg,
		life:     newWorkerLifecycle(),
		fd:       fd,
		byWd:     make(map[int32]*inotifyDirWatch),
		stopEvfd: evfd,
		pending:  make(map[uint32]pendingMove),
	}
}

// cString trims the trailing NUL padding inotify_event names are padded
// with.
func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

func (b *inotifyBackend) addWatch(rec *watchRecord) error {
	dirs := []string{rec.rootPath}
	if rec.recursive {
		expanded, err := expandRecursiveDirs(rec.rootPath, rec.symlinks)
		if err != nil {
			return err
		}
		dirs = expanded
	}

	state := &inotifyWatchState{
		root:      rec.rootPath,
		recursive: rec.recursive,
		policy:    rec.symlinks,
		wds:       make(map[int32]bool),
	}

	b.mu.Lock()
	for _, d := range dirs {
		wd, err := unix.InotifyAddWatch(b.fd, d, inotifyMask)
		if err != nil {
			b.mu.Unlock()
			return err
		}
		b.byWd[int32(wd)] = &inotifyDirWatch{wd: int32(wd), path: d, rec: rec}
		state.wds[int32(wd)] = true
	}
	b.mu.Unlock()

	rec.backendData = state
	b.start()
	return nil
}

func (b *inotifyBackend) removeWatch(rec *watchRecord) {
	state, ok := rec.backendData.(*inotifyWatchState)
	if !ok {
		return
	}
	b.mu.Lock()
	for wd := range state.wds {
		unix.InotifyRmWatch(b.fd, uint32(wd))
		delete(b.byWd, wd)
	}
	b.mu.Unlock()
}

func (b *inotifyBackend) start() {
	if b.life.start() {
		go b.run()
	}
}

func (b *inotifyBackend) shutdown() {
	if b.life.beginStop() {
		var one [8]byte
		one[0] = 1
		unix.Write(b.stopEvfd, one[:])
	}
	b.life.waitStopped()
	unix.Close(b.fd)
	unix.Close(b.stopEvfd)
}

func (b *inotifyBackend) run() {
	defer b.life.markStopped()
	buf := make([]byte, 64*(unix.SizeofInotifyEvent+unix.PathMax+1))
	pfds := []unix.PollFd{
		{Fd: int32(b.fd), Events: unix.POLLIN},
		{Fd: int32(b.stopEvfd), Events: unix.POLLIN},
	}
	for {
		pfds[0].Revents, pfds[1].Revents = 0, 0
		timeout := -1
		b.pendingMu.Lock()
		if len(b.pending) > 0 {
			timeout = int(moveFromMaxAge / time.Millisecond)
		}
		b.pendingMu.Unlock()
		n, err := unix.Poll(pfds, timeout)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			debuglog.Printf("inotify: poll failed: %v", err)
			return
		}
		if n == 0 {
			b.flushStaleMoves()
			continue
		}
		if pfds[1].Revents&unix.POLLIN != 0 {
			return
		}
		if pfds[0].Revents&unix.POLLIN == 0 {
			continue
		}
		nr, err := unix.Read(b.fd, buf)
		if err != nil || nr <= 0 {
			continue
		}
		b.process(buf[:nr])
		b.flushStaleMoves()
	}
}

func (b *inotifyBackend) process(raw []byte) {
	type moveFrom struct {
		dw   *inotifyDirWatch
		name string
	}
	movesFrom := make(map[uint32]moveFrom)

	offset := 0
	for offset+unix.SizeofInotifyEvent <= len(raw) {
		ev := (*unix.InotifyEvent)(unsafe.Pointer(&raw[offset]))
		nameStart := offset + unix.SizeofInotifyEvent
		nameEnd := nameStart + int(ev.Len)
		if nameEnd > len(raw) {
			break
		}
		name := cString(raw[nameStart:nameEnd])
		offset = nameEnd

		b.mu.Lock()
		dw := b.byWd[ev.Wd]
		b.mu.Unlock()
		if dw == nil {
			continue
		}

		mask := ev.Mask
		switch {
		case mask&unix.IN_MOVED_FROM != 0:
			movesFrom[ev.Cookie] = moveFrom{dw: dw, name: name}
		case mask&unix.IN_MOVED_TO != 0:
			if mf, ok := movesFrom[ev.Cookie]; ok {
				delete(movesFrom, ev.Cookie)
				b.completeMove(mf.dw, mf.name, dw, name, mask)
			} else if pending, ok := b.takePending(ev.Cookie); ok {
				b.completeMove(pending.dw, pending.name, dw, name, mask)
			} else {
				dw.rec.dispatch(dw.path, name, Add, "")
				if mask&unix.IN_ISDIR != 0 {
					b.installRecursiveChild(dw, name)
				}
			}
		case mask&unix.IN_CREATE != 0:
			dw.rec.dispatch(dw.path, name, Add, "")
			if mask&unix.IN_ISDIR != 0 {
				b.installRecursiveChild(dw, name)
			}
		case mask&unix.IN_DELETE != 0:
			dw.rec.dispatch(dw.path, name, Delete, "")
		case mask&unix.IN_MODIFY != 0, mask&unix.IN_ATTRIB != 0:
			dw.rec.dispatch(dw.path, name, Modified, "")
		case mask&unix.IN_DELETE_SELF != 0, mask&unix.IN_MOVE_SELF != 0:
			b.mu.Lock()
			delete(b.byWd, dw.wd)
			b.mu.Unlock()
		}
	}

	now := time.Now()
	b.pendingMu.Lock()
	for cookie, mf := range movesFrom {
		b.pending[cookie] = pendingMove{dw: mf.dw, name: mf.name, at: now}
	}
	b.pendingMu.Unlock()
}

// completeMove resolves a paired MOVED_FROM/MOVED_TO. It reports a single
// Moved event only when both sides belong to the same watch record and
// the same directory, so old_filename always shares filename's parent
// (spec.md §3); otherwise the source is a Delete and the destination is
// an Add, matching spec.md §4.5's handling of moves across watches (and
// across directories within one recursive watch).
func (b *inotifyBackend) completeMove(fromDW *inotifyDirWatch, fromName string, toDW *inotifyDirWatch, toName string, toMask uint32) {
	if fromDW.rec == toDW.rec && fromDW.path == toDW.path {
		toDW.rec.dispatch(toDW.path, toName, Moved, fromName)
		return
	}
	fromDW.rec.dispatch(fromDW.path, fromName, Delete, "")
	toDW.rec.dispatch(toDW.path, toName, Add, "")
	if toMask&unix.IN_ISDIR != 0 {
		b.installRecursiveChild(toDW, toName)
	}
}

func (b *inotifyBackend) takePending(cookie uint32) (pendingMove, bool) {
	b.pendingMu.Lock()
	defer b.pendingMu.Unlock()
	p, ok := b.pending[cookie]
	if ok {
		delete(b.pending, cookie)
	}
	return p, ok
}

// flushStaleMoves turns IN_MOVED_FROM events that never found their pair
// within moveFromMaxAge into plain Delete events (spec.md §4.5).
func (b *inotifyBackend) flushStaleMoves() {
	now := time.Now()
	var stale []pendingMove
	b.pendingMu.Lock()
	for cookie, mf := range b.pending {
		if now.Sub(mf.at) > moveFromMaxAge {
			stale = append(stale, mf)
			delete(b.pending, cookie)
		}
	}
	b.pendingMu.Unlock()
	for _, mf := range stale {
		mf.dw.rec.dispatch(mf.dw.path, mf.name, Delete, "")
	}
}

// installRecursiveChild synchronously installs a watch on a newly created
// subdirectory before returning, eliminating the race spec.md §4.5
// documents between fast-following creations inside the new directory and
// the sub-watch install.
func (b *inotifyBackend) installRecursiveChild(dw *inotifyDirWatch, name string) {
	state, ok := dw.rec.backendData.(*inotifyWatchState)
	if !ok || !state.recursive {
		return
	}
	childPath := filepath.Join(dw.path, name)
	wd, err := unix.InotifyAddWatch(b.fd, childPath, inotifyMask)
	if err != nil {
		debuglog.Printf("inotify: sub-watch install for %q failed: %v", childPath, err)
		return
	}
	b.mu.Lock()
	b.byWd[int32(wd)] = &inotifyDirWatch{wd: int32(wd), path: childPath, rec: dw.rec}
	state.wds[int32(wd)] = true
	b.mu.Unlock()

	if nested, err := expandRecursiveDirs(childPath, state.policy); err == nil {
		for _, nd := range nested {
			if nd == childPath {
				continue
			}
			nwd, err := unix.InotifyAddWatch(b.fd, nd, inotifyMask)
			if err != nil {
				continue
			}
			b.mu.Lock()
			b.byWd[int32(nwd)] = &inotifyDirWatch{wd: int32(nwd), path: nd, rec: dw.rec}
			state.wds[int32(nwd)] = true
			b.mu.Unlock()
		}
	}
}
