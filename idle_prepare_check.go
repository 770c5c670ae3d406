package ev

// IdleWatcher fires once per loop iteration whenever the loop would
// otherwise block (spec.md §4.1 step 9): a cheap way to run background work
// only when nothing more urgent is pending.
type IdleWatcher struct {
	base
	idx int // position in Loop.idles, -1 when inactive
}

var _ Watcher = (*IdleWatcher)(nil)

func (w *IdleWatcher) invoke(revents EventMask) { w.cb(w, revents) }
func (w *IdleWatcher) SetPriority(p int)        { w.priority = clampPriority(p) }

// PrepareWatcher fires at the very start of every loop iteration (spec.md
// §4.1 step 1), before backend polling; used to flush application state
// into watchers the loop is about to consider.
type PrepareWatcher struct {
	base
	idx int
}

var _ Watcher = (*PrepareWatcher)(nil)

func (w *PrepareWatcher) invoke(revents EventMask) { w.cb(w, revents) }
func (w *PrepareWatcher) SetPriority(p int)        { w.priority = clampPriority(p) }

// CheckWatcher fires after backend polling, timer/periodic expiry and idle
// feeding, just before the pending queue is drained (spec.md §4.1 step 10);
// the natural place to inspect what just became ready.
type CheckWatcher struct {
	base
	idx int
}

var _ Watcher = (*CheckWatcher)(nil)

func (w *CheckWatcher) invoke(revents EventMask) { w.cb(w, revents) }
func (w *CheckWatcher) SetPriority(p int)        { w.priority = clampPriority(p) }

// denseList is a small unordered slot array shared by the idle,
// prepare and check arrays: order among them is unspecified by spec.md §3
// ("stored as a dense unordered array"), so removal swaps the last element
// into the removed slot rather than preserving order, same as
// original_source/ev.c's ev_{idle,prepare,check} arrays.
type denseList[W interface {
	Watcher
	setIdx(i int)
	getIdx() int
}] struct {
	items []W
}

func (d *denseList[W]) add(w W) {
	w.setIdx(len(d.items))
	d.items = append(d.items, w)
}

func (d *denseList[W]) remove(w W) {
	i := w.getIdx()
	last := len(d.items) - 1
	if i < 0 || i > last {
		return
	}
	if i != last {
		d.items[i] = d.items[last]
		d.items[i].setIdx(i)
	}
	var zero W
	d.items[last] = zero
	d.items = d.items[:last]
	w.setIdx(-1)
}

func (w *IdleWatcher) setIdx(i int) { w.idx = i }
func (w *IdleWatcher) getIdx() int  { return w.idx }

func (w *PrepareWatcher) setIdx(i int) { w.idx = i }
func (w *PrepareWatcher) getIdx() int  { return w.idx }

func (w *CheckWatcher) setIdx(i int) { w.idx = i }
func (w *CheckWatcher) getIdx() int  { return w.idx }

// StartIdle registers w. Idempotent.
func (l *Loop) StartIdle(w *IdleWatcher, cb Callback) {
	if w.Active() {
		return
	}
	w.cb = cb
	w.setActive(1)
	l.idles.add(w)
	l.ref()
}

// StopIdle deregisters w. Idempotent.
func (l *Loop) StopIdle(w *IdleWatcher) {
	if !w.Active() {
		return
	}
	w.setActive(0)
	l.idles.remove(w)
	l.pending.tombstone(w)
	l.unref()
}

// StartPrepare registers w. Idempotent.
func (l *Loop) StartPrepare(w *PrepareWatcher, cb Callback) {
	if w.Active() {
		return
	}
	w.cb = cb
	w.setActive(1)
	l.prepares.add(w)
	l.ref()
}

// StopPrepare deregisters w. Idempotent.
func (l *Loop) StopPrepare(w *PrepareWatcher) {
	if !w.Active() {
		return
	}
	w.setActive(0)
	l.prepares.remove(w)
	l.pending.tombstone(w)
	l.unref()
}

// StartCheck registers w. Idempotent.
func (l *Loop) StartCheck(w *CheckWatcher, cb Callback) {
	if w.Active() {
		return
	}
	w.cb = cb
	w.setActive(1)
	l.checks.add(w)
	l.ref()
}

// StopCheck deregisters w. Idempotent.
func (l *Loop) StopCheck(w *CheckWatcher) {
	if !w.Active() {
		return
	}
	w.setActive(0)
	l.checks.remove(w)
	l.pending.tombstone(w)
	l.unref()
}
