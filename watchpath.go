package ev

import (
	"os"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
)

// PathWatcher fires when the file or directory at Path is created, written,
// removed, renamed, or has its permissions changed. It is this port's
// replacement for original_source/ev.c's ev_stat, which polls st_nlink/mtime
// at an interval; PathWatcher instead rides the kernel's native filesystem
// notification API (inotify/kqueue/ReadDirectoryChangesW, via fsnotify) for
// immediate, poll-free delivery, recording the dropped and supplemented
// feature in this port's design notes.
type PathWatcher struct {
	base
	Path string

	Op  fsnotify.Op
	Err error

	stop chan struct{}
}

var _ Watcher = (*PathWatcher)(nil)

func (w *PathWatcher) invoke(revents EventMask) { w.cb(w, revents) }

// SetPriority sets w's dispatch priority, clamped to [MinPriority, MaxPriority].
func (w *PathWatcher) SetPriority(p int) { w.priority = clampPriority(p) }

// StartPathWatch registers w and starts a background goroutine bridging
// fsnotify's channel-based API into the loop's pending queue via the
// internal self-pipe IOWatcher pattern: each filesystem event is fed through
// a dedicated pipe so it is picked up by Run like any other fd readiness,
// keeping the loop single-threaded from the callback's point of view.
func (l *Loop) StartPathWatch(w *PathWatcher, cb Callback) error {
	if w.Active() {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "ev: fsnotify.NewWatcher")
	}
	if err := watcher.Add(w.Path); err != nil {
		watcher.Close()
		return errors.Wrapf(err, "ev: watch %s", w.Path)
	}

	r, wr, err := os.Pipe()
	if err != nil {
		watcher.Close()
		return errors.Wrap(err, "ev: watchpath pipe")
	}

	w.cb = cb
	w.stop = make(chan struct{})
	w.setActive(1)

	bridge := &IOWatcher{Fd: int(r.Fd()), Events: READ}
	go w.pump(watcher, wr)

	l.StartIO(bridge, func(Watcher, EventMask) {
		var buf [1]byte
		r.Read(buf[:])
		l.pending.feed(w, READ)
	})
	l.pathBridges[w] = pathBridge{watcher: watcher, r: r, w: wr, io: bridge}
	l.ref()
	return nil
}

// pump forwards fsnotify events/errors into w's fields and wakes the loop by
// writing one byte to the bridge pipe per event. Unlike the signal self-pipe
// there is no coalescing flag: a burst of events writes one byte each, and
// only the latest Op or Err is kept in w.
func (w *PathWatcher) pump(watcher *fsnotify.Watcher, wr *os.File) {
	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			w.Op = ev.Op
			wr.Write([]byte{1})
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.Err = err
			wr.Write([]byte{1})
		case <-w.stop:
			return
		}
	}
}

type pathBridge struct {
	watcher *fsnotify.Watcher
	r, w    *os.File
	io      *IOWatcher
}

// StopPathWatch deregisters w, closing its fsnotify watch and bridge pipe.
func (l *Loop) StopPathWatch(w *PathWatcher) {
	if !w.Active() {
		return
	}
	w.setActive(0)
	pb, ok := l.pathBridges[w]
	if ok {
		close(w.stop)
		l.StopIO(pb.io)
		pb.watcher.Close()
		pb.r.Close()
		pb.w.Close()
		delete(l.pathBridges, w)
	}
	l.pending.tombstone(w)
	l.unref()
}
