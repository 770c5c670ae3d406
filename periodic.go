package ev

import (
	"math"

	evheap "github.com/ev-go/ev/internal/heap"
)

// PeriodicWatcher fires at a wall-clock deadline and, depending on which of
// Interval/Reschedule is set, reschedules itself afterward. At is the
// absolute wall-clock deadline once active. Exactly one of Interval or
// Reschedule should be used for a repeating periodic; with neither, it
// fires once at At and stops, like a wall-clock alarm.
type PeriodicWatcher struct {
	base
	At          float64
	Interval    float64
	Reschedule  func(w *PeriodicWatcher, now float64) float64

	idx int
}

var _ Watcher = (*PeriodicWatcher)(nil)
var _ evheap.Item = (*PeriodicWatcher)(nil)

func (w *PeriodicWatcher) invoke(revents EventMask) { w.cb(w, revents) }

// SetPriority sets w's dispatch priority, clamped to [MinPriority, MaxPriority].
func (w *PeriodicWatcher) SetPriority(p int) { w.priority = clampPriority(p) }

func (w *PeriodicWatcher) Less(other evheap.Item) bool {
	return w.At < other.(*PeriodicWatcher).At
}
func (w *PeriodicWatcher) Index() int     { return w.idx }
func (w *PeriodicWatcher) SetIndex(i int) { w.idx = i }

func (w *PeriodicWatcher) Active() bool     { return w.idx != 0 }
func (w *PeriodicWatcher) activeIndex() int { return w.idx }
func (w *PeriodicWatcher) setActive(int)    {}

// nextBoundary implements spec.md §4.4's round-up-to-next-interval-boundary
// formula: at + ceil((now-at)/interval)*interval.
func nextBoundary(at, interval, now float64) float64 {
	return at + math.Ceil((now-at)/interval)*interval
}

// StartPeriodic registers w, computing its initial absolute deadline per
// spec.md §4.4: via Reschedule if set, else by round-up-to-boundary if
// Interval > 0, else At is used as-is (a one-shot wall-clock alarm).
func (l *Loop) StartPeriodic(w *PeriodicWatcher, cb Callback) {
	if w.Active() {
		return
	}
	if w.Interval < 0 {
		usageErrorf("StartPeriodic", "negative interval %v", w.Interval)
	}
	w.cb = cb
	rt, _ := l.clock.Now()
	switch {
	case w.Reschedule != nil:
		next := w.Reschedule(w, rt)
		if next <= rt {
			usageErrorf("StartPeriodic", "reschedule callback returned %v, not strictly after now %v", next, rt)
		}
		w.At = next
	case w.Interval > 0:
		w.At = nextBoundary(w.At, w.Interval, rt)
	}
	l.periodics.Push(w)
	l.ref()
}

// StopPeriodic deregisters w. Idempotent.
func (l *Loop) StopPeriodic(w *PeriodicWatcher) {
	if !w.Active() {
		return
	}
	l.periodics.Remove(w)
	l.pending.tombstone(w)
	l.unref()
}

// rebase recomputes w.At against the current wall clock after a detected
// jump, per spec.md §4.4: via Reschedule if present, else the round-up
// formula with "+1." in place of ceil() to guarantee strict progress, as the
// reify path (not the start path) specifies.
func (w *PeriodicWatcher) rebase(rt float64) {
	if w.Reschedule != nil {
		next := w.Reschedule(w, rt+0.0001)
		if next <= rt {
			usageErrorf("periodic reify", "reschedule callback returned %v, not strictly after now %v", next, rt)
		}
		w.At = next
		return
	}
	if w.Interval > 0 {
		w.At = w.At + (math.Floor((rt-w.At)/w.Interval)+1)*w.Interval
	}
}
