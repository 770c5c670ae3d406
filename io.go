package ev

import "github.com/ev-go/ev/internal/fdset"

// IOWatcher fires when fd becomes ready for any of Events (READ and/or
// WRITE). Fd and Events must be set before Start; changing either while
// active has no effect until Stop/Start.
type IOWatcher struct {
	base
	Fd     int
	Events EventMask

	next *IOWatcher // intrusive link in fdset's per-fd list
}

var _ Watcher = (*IOWatcher)(nil)
var _ fdset.IOWatcher = (*IOWatcher)(nil)

func (w *IOWatcher) invoke(revents EventMask) { w.cb(w, revents) }

// SetPriority sets w's dispatch priority, clamped to [MinPriority, MaxPriority].
func (w *IOWatcher) SetPriority(p int) { w.priority = clampPriority(p) }

// fdset.IOWatcher plumbing.
func (w *IOWatcher) FD() int                { return w.Fd }
func (w *IOWatcher) WantEvents() uint32     { return uint32(w.Events & (READ | WRITE)) }
func (w *IOWatcher) SetNext(n fdset.IOWatcher) {
	if n == nil {
		w.next = nil
		return
	}
	w.next = n.(*IOWatcher)
}
func (w *IOWatcher) Next() fdset.IOWatcher {
	if w.next == nil {
		return nil
	}
	return w.next
}

// StartIO registers w. Idempotent: a no-op if w is already active.
func (l *Loop) StartIO(w *IOWatcher, cb Callback) {
	if w.Active() {
		return
	}
	w.cb = cb
	w.setActive(1)
	l.fds.Add(w.Fd, w)
	l.ref()
}

// StopIO deregisters w. Idempotent: a no-op if w is not active. Suppresses
// any already-queued-but-undispatched event for w.
func (l *Loop) StopIO(w *IOWatcher) {
	if !w.Active() {
		return
	}
	w.setActive(0)
	l.fds.Remove(w.Fd, w)
	l.pending.tombstone(w)
	l.unref()
}
