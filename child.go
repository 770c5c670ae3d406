package ev

import (
	"github.com/ev-go/ev/internal/childreap"
	"golang.org/x/sys/unix"
)

// ChildWatcher fires when the process with the given Pid exits, stops or
// continues (wait4 is called with WUNTRACED|WCONTINUED). Pid of 0 matches
// any child (spec.md §4.8). Child
// watchers carry no meaningful priority: SetPriority on one is a no-op, and
// they are always dispatched at the default priority, matching
// original_source/ev.c's choice to hash them by pid rather than queue them
// by priority.
type ChildWatcher struct {
	base
	Pid int

	RPid   int
	Status unix.WaitStatus
}

var _ Watcher = (*ChildWatcher)(nil)

func (w *ChildWatcher) invoke(revents EventMask) { w.cb(w, revents) }

// SetPriority is a no-op: child watchers are not priority-ordered (spec.md §3).
func (w *ChildWatcher) SetPriority(int) {}

func (w *ChildWatcher) setResult(rpid int, status *unix.WaitStatus) {
	w.RPid = rpid
	w.Status = *status
}

// childWatcherAdapter bridges ChildWatcher's public Pid field (and
// unexported setResult) to internal/childreap.Watcher's method-shaped
// contract, which needs Pid() rather than a field.
type childWatcherAdapter struct{ *ChildWatcher }

func (a childWatcherAdapter) Pid() int { return a.ChildWatcher.Pid }
func (a childWatcherAdapter) SetResult(rpid int, status *unix.WaitStatus) {
	a.ChildWatcher.setResult(rpid, status)
}

// StartChild registers w. Idempotent. Only valid on the default loop, since
// child reaping is a single process-wide SIGCHLD concern (spec.md §4.8). The
// first StartChild call lazily starts an internal SIGCHLD watcher that
// drives reaping; the last matching StopChild stops it again.
func (l *Loop) StartChild(w *ChildWatcher, cb Callback) {
	if w.Active() {
		return
	}
	if !l.isDefault {
		usageErrorf("StartChild", "child watchers are only valid on the default loop")
	}
	w.cb = cb
	w.setActive(1)
	l.children.Add(childWatcherAdapter{w})
	l.childCount++
	l.ensureSigchld()
	l.ref()
}

// StopChild deregisters w. Idempotent.
func (l *Loop) StopChild(w *ChildWatcher) {
	if !w.Active() {
		return
	}
	w.setActive(0)
	l.children.Remove(childWatcherAdapter{w})
	l.childCount--
	if l.childCount == 0 {
		l.teardownSigchld()
	}
	l.pending.tombstone(w)
	l.unref()
}

// ensureSigchld starts the internal, ref-neutral SIGCHLD watcher the first
// time a child watcher is registered: SIGCHLD delivery is what prompts a
// reap pass between backend polls, same as ev.c's childcb.
func (l *Loop) ensureSigchld() {
	if l.sigchld != nil {
		return
	}
	l.sigchld = &SignalWatcher{Signum: int(unix.SIGCHLD)}
	l.StartSignal(l.sigchld, func(Watcher, EventMask) {
		l.reapChildren()
	})
	l.unref() // internal bookkeeping watcher: must not hold the loop open
}

func (l *Loop) teardownSigchld() {
	if l.sigchld == nil {
		return
	}
	l.ref() // undo ensureSigchld's unref before Stop charges it back
	l.StopSignal(l.sigchld)
	l.sigchld = nil
}

func (l *Loop) reapChildren() {
	reaped, err := l.children.Reap(func(w childreap.Watcher) {
		if a, ok := w.(childWatcherAdapter); ok {
			l.pending.feed(a.ChildWatcher, CHILD)
		}
	})
	if err != nil {
		l.reportSystemError("wait4", err)
	}
	if reaped > 0 {
		// a reap can race a SIGCHLD delivered for a child that exited after
		// our last wait4 call returned 0; re-feeding the parent signal
		// watcher ensures another reap pass runs on the next drain (spec.md
		// §4.8), same as original_source/ev.c's childcb re-feeding sw.
		l.pending.feed(l.sigchld, SIGNAL)
	}
}
