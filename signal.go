package ev

// SignalWatcher fires when the process receives Signum (a value from
// golang.org/x/sys/unix, e.g. unix.SIGHUP). Per spec.md §3, signal watchers
// carry no priority of their own distinct from other watchers, but unlike
// child watchers they do participate in the priority queues normally.
// Signal watching is only available on the default loop (spec.md §4.7).
type SignalWatcher struct {
	base
	Signum int

	next *SignalWatcher // intrusive link in the per-signum chain
}

var _ Watcher = (*SignalWatcher)(nil)

func (w *SignalWatcher) invoke(revents EventMask) { w.cb(w, revents) }

// SetPriority sets w's dispatch priority, clamped to [MinPriority, MaxPriority].
func (w *SignalWatcher) SetPriority(p int) { w.priority = clampPriority(p) }

// StartSignal registers w on the default loop. Panics with a usage error if
// l is not the default loop, matching spec.md §4.7's restriction.
func (l *Loop) StartSignal(w *SignalWatcher, cb Callback) {
	if w.Active() {
		return
	}
	if !l.isDefault {
		usageErrorf("StartSignal", "signal watchers are only valid on the default loop")
	}
	w.cb = cb
	w.setActive(1)
	head := l.signals[w.Signum]
	w.next = head
	l.signals[w.Signum] = w
	if head == nil {
		l.sigtab.Register(w.Signum)
	}
	l.ref()
}

// StopSignal deregisters w. Idempotent.
func (l *Loop) StopSignal(w *SignalWatcher) {
	if !w.Active() {
		return
	}
	w.setActive(0)
	l.unlinkSignal(w)
	l.pending.tombstone(w)
	l.unref()
}

func (l *Loop) unlinkSignal(w *SignalWatcher) {
	head := l.signals[w.Signum]
	if head == w {
		l.signals[w.Signum] = w.next
		w.next = nil
		if l.signals[w.Signum] == nil {
			l.sigtab.Unregister(w.Signum)
		}
		return
	}
	for cur := head; cur != nil; cur = cur.next {
		if cur.next == w {
			cur.next = w.next
			w.next = nil
			return
		}
	}
}

// deliverSignal feeds SIGNAL to every watcher registered for signum,
// matching ev_feed_signal_event's fan-out in original_source/ev.c.
func (l *Loop) deliverSignal(signum int) {
	for w := l.signals[signum]; w != nil; w = w.next {
		l.pending.feed(w, SIGNAL)
	}
}
