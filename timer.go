package ev

import evheap "github.com/ev-go/ev/internal/heap"

// TimerWatcher fires once after a relative delay and, if Repeat > 0, again
// every Repeat seconds thereafter, measured against the loop's monotonic
// clock. At is relative before the first Start and absolute (monotonic)
// while active; see StartTimer/StopTimer for the exact transform.
type TimerWatcher struct {
	base
	At     float64
	Repeat float64

	idx int // 1-based heap index; 0 when not in the heap
}

var _ Watcher = (*TimerWatcher)(nil)
var _ evheap.Item = (*TimerWatcher)(nil)

func (w *TimerWatcher) invoke(revents EventMask) { w.cb(w, revents) }

// SetPriority sets w's dispatch priority, clamped to [MinPriority, MaxPriority].
func (w *TimerWatcher) SetPriority(p int) { w.priority = clampPriority(p) }

func (w *TimerWatcher) Less(other evheap.Item) bool { return w.At < other.(*TimerWatcher).At }
func (w *TimerWatcher) Index() int                  { return w.idx }
func (w *TimerWatcher) SetIndex(i int)              { w.idx = i }

// Active, activeIndex and setActive are overridden (rather than inherited
// from base) so that "active" is literally the heap's 1-based index, per
// spec.md §3's invariant "An element's active equals its 1-based position" —
// there is no separate flag to keep in sync.
func (w *TimerWatcher) Active() bool   { return w.idx != 0 }
func (w *TimerWatcher) activeIndex() int { return w.idx }
func (w *TimerWatcher) setActive(int)  {} // no-op: idx is authoritative, set via SetIndex

// StartTimer registers w: asserts Repeat >= 0 (a usage error per spec.md
// §4.3), converts w.At from a relative offset to an absolute monotonic
// deadline, and pushes it onto the timer heap. Idempotent.
func (l *Loop) StartTimer(w *TimerWatcher, cb Callback) {
	if w.Active() {
		return
	}
	if w.Repeat < 0 {
		usageErrorf("StartTimer", "negative repeat %v", w.Repeat)
	}
	w.cb = cb
	_, mn := l.clock.Now()
	w.At += mn
	l.timers.Push(w)
	l.ref()
}

// StopTimer deregisters w, restoring w.At to its relative Repeat value for
// client observability (per spec.md §4.3 — this discards the original
// one-shot "after" value, matching the original implementation). Idempotent.
func (l *Loop) StopTimer(w *TimerWatcher) {
	if !w.Active() {
		return
	}
	l.timers.Remove(w)
	w.At = w.Repeat
	l.pending.tombstone(w)
	l.unref()
}

// AgainTimer implements spec.md §4.3's again semantics:
//   - active, repeat>0: reschedule to now+repeat (adjust heap in place).
//   - active, repeat==0: stop.
//   - inactive, repeat>0: start fresh with w.At set to Repeat, i.e. fires after "repeat".
//   - inactive, repeat==0: no-op.
func (l *Loop) AgainTimer(w *TimerWatcher, cb Callback) {
	if w.Active() {
		if w.Repeat > 0 {
			_, mn := l.clock.Now()
			w.At = mn + w.Repeat
			l.timers.AdjustIndex(w)
			return
		}
		l.StopTimer(w)
		return
	}
	if w.Repeat > 0 {
		w.At = w.Repeat
		l.StartTimer(w, cb)
	}
}
