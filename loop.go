package ev

import (
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/ev-go/ev/backend"
	"github.com/ev-go/ev/internal/childreap"
	evclock "github.com/ev-go/ev/internal/clock"
	evheap "github.com/ev-go/ev/internal/heap"
	"github.com/ev-go/ev/internal/fdset"
	"github.com/ev-go/ev/internal/sigpipe"
)

// Loop is a single reactor instance. The zero value is not usable; construct
// one with NewLoop or use DefaultLoop. A Loop is not safe for concurrent use
// from multiple goroutines except where individual methods say otherwise —
// like original_source/ev.c, it is meant to be driven by exactly one thread,
// with other goroutines feeding it via watcher Start/Stop calls made before
// Run or from inside callbacks.
type Loop struct {
	cfg       Config
	isDefault bool

	be       backend.Backend
	method   backend.Method
	fds      *fdset.Set
	pending  pendingQueues
	clock    *evclock.Clock
	timers   evheap.Heap
	periodics evheap.Heap

	idles    denseList[*IdleWatcher]
	prepares denseList[*PrepareWatcher]
	checks   denseList[*CheckWatcher]

	signals map[int]*SignalWatcher
	sigtab  *sigpipe.Table
	sigIO   *IOWatcher

	children   *childreap.Table
	sigchld    *SignalWatcher
	childCount int

	pathBridges map[*PathWatcher]pathBridge

	activecnt int
	loopDepth int
	unloop    UnloopHow

	postfork  bool
	forkCheck bool
	lastPid   int
}

var (
	defaultLoopOnce sync.Once
	defaultLoop     *Loop
	defaultLoopErr  error
)

// DefaultLoop returns the process-wide default loop, creating it on first
// call. Signal and child watchers are only valid on this loop (spec.md §4.7,
// §4.8), matching the single process-wide SIGCHLD/signal-handler table a
// real process has.
func DefaultLoop(cfg Config) (*Loop, error) {
	defaultLoopOnce.Do(func() {
		defaultLoop, defaultLoopErr = newLoop(cfg, true)
	})
	return defaultLoop, defaultLoopErr
}

// NewLoop creates an additional, non-default loop: no signal or child
// watcher support, but otherwise a full reactor (spec.md §4's "loops other
// than the default loop" carve-out).
func NewLoop(cfg Config) (*Loop, error) {
	return newLoop(cfg, false)
}

func newLoop(cfg Config, isDefault bool) (*Loop, error) {
	factories := platformFactories()
	be, method, err := backend.Select(backend.Mask(cfg.MethodMask), factories)
	if err != nil {
		return nil, errors.Wrap(err, "ev: no backend available")
	}

	l := &Loop{
		cfg:         cfg,
		isDefault:   isDefault,
		be:          be,
		method:      method,
		fds:         fdset.New(),
		clock:       evclock.New(evclock.NewSystemSource()),
		signals:     make(map[int]*SignalWatcher),
		pathBridges: make(map[*PathWatcher]pathBridge),
		forkCheck:   cfg.MethodMask&FlagForkCheck != 0,
		lastPid:     os.Getpid(),
	}

	if isDefault {
		tab, err := sigpipe.New()
		if err != nil {
			be.Destroy()
			return nil, errors.Wrap(err, "ev: sigpipe init")
		}
		l.sigtab = tab
		l.children = childreap.New()

		l.sigIO = &IOWatcher{Fd: tab.ReadFD(), Events: READ}
		l.StartIO(l.sigIO, func(Watcher, EventMask) {
			l.sigtab.Drain()
			l.sigtab.Deliver(l.deliverSignal)
		})
		l.unref() // the self-pipe reader is internal bookkeeping, not user work
	}

	cfg.logger().Infof("ev: selected backend %s", method)

	return l, nil
}

// Method reports which backend this loop selected (spec.md §4.5).
func (l *Loop) Method() string { return l.method.String() }

// ref/unref track the "loop would have nothing left to wait for" refcount
// (spec.md §3's activecnt): every Start increments it, every Stop decrements
// it, and Run's default mode exits once it reaches zero.
func (l *Loop) ref()   { l.activecnt++ }
func (l *Loop) unref() { l.activecnt-- }

// RefCount exposes activecnt, mirroring ev_loop_refcount for diagnostics.
func (l *Loop) RefCount() int { return l.activecnt }

// reportSystemError handles an "unexpected, not individually recoverable"
// backend failure (spec.md §7's "unexpected poll error" row): routed to
// Config.OnSystemError if set, else the loop panics with a *BackendError,
// matching original_source/ev.c's default syserr_cb (abort()).
func (l *Loop) reportSystemError(op string, err error) {
	if l.cfg.OnSystemError != nil {
		l.cfg.OnSystemError(err)
		return
	}
	panic(&BackendError{Backend: l.method.String(), Op: op, Err: err})
}

// Unloop requests that Run exit. how selects whether only the innermost
// Run (UnloopOne) or every nested Run (UnloopAll) is affected, per spec.md
// §4.1's termination rules. Safe to call from within a callback.
func (l *Loop) Unloop(how UnloopHow) {
	if how > l.unloop {
		l.unloop = how
	}
}

// Run drives the reactor per spec.md §4.1's twelve-step iteration:
//  1. run every prepare watcher, draining pending immediately afterward
//  2. if unloop was requested or activecnt==0, return
//  3. reify the fd interest set against the backend
//  4. compute the block timeout (nearest timer/periodic deadline, fudge,
//     clamped to maxBlockTime; zero if RunNoWait or idle watchers exist)
//  5. poll the backend, feeding fd readiness into the pending queues
//  6. update the clock, rebasing periodics (and shifting timers) on a jump
//  7. expire due timers and periodics, re-arming repeaters
//  8. if nothing else fired this iteration and idle watchers exist, feed them
//  9. feed every check watcher
//  10. drain all pending queues, highest priority first
//  11. if RunOnce and something was dispatched, or RunNoWait, stop after
//      this iteration
//  12. loop
func (l *Loop) Run(flags RunFlag) error {
	l.loopDepth++
	defer func() { l.loopDepth-- }()

	for {
		if l.forkCheck {
			if pid := os.Getpid(); pid != l.lastPid {
				l.lastPid = pid
				if err := l.Fork(); err != nil {
					return err
				}
			}
		}

		l.runPrepare()

		if l.unloop == UnloopAll {
			// only the outermost Run clears it, so every nested Run exits too.
			if l.loopDepth == 1 {
				l.unloop = 0
			}
			return nil
		}
		if l.unloop == UnloopOne {
			l.unloop = 0
			return nil
		}
		if l.activecnt == 0 {
			return nil
		}

		l.fds.Reify(l.modifyBackend)

		timeout := l.blockTimeout(flags)

		dispatchedIO := false
		err := l.be.Poll(timeout, func(fd int, revents backend.Events) {
			dispatchedIO = true
			l.feedIO(fd, revents)
		})
		if err != nil {
			l.reportSystemError("poll", err)
		}

		jumped, timerShift := l.clock.Update()
		if jumped {
			l.rebasePeriodics()
		}
		if timerShift != 0 {
			l.shiftTimers(timerShift)
		}

		dispatchedTimers := l.expireTimers()
		dispatchedTimers = l.expirePeriodics() || dispatchedTimers

		if !dispatchedIO && !dispatchedTimers && len(l.idles.items) > 0 {
			for _, w := range l.idles.items {
				l.pending.feed(w, IDLE)
			}
		}

		l.runCheck()

		l.pending.drainAll()

		if flags&RunNoWait != 0 {
			return nil
		}
		if flags&RunOnce != 0 && (dispatchedIO || dispatchedTimers) {
			return nil
		}
	}
}

func (l *Loop) runPrepare() {
	for _, w := range l.prepares.items {
		l.pending.feed(w, PREPARE)
	}
	l.pending.drainAll()
}

func (l *Loop) runCheck() {
	for _, w := range l.checks.items {
		l.pending.feed(w, CHECK)
	}
	l.pending.drainAll()
}

// modifyBackend is fdset's reify callback. A Modify failure means fd itself
// is invalid (spec.md §4.5/§7: "errors that indicate the fd is invalid
// transition the fd to a killed state"), so it is handled here by killing fd
// rather than propagating the error up through Reify and aborting the whole
// loop.
func (l *Loop) modifyBackend(fd int, old, new uint32) error {
	if err := l.be.Modify(fd, backend.Events(old), backend.Events(new)); err != nil {
		l.killFd(fd)
		return nil
	}
	return nil
}

func (l *Loop) feedIO(fd int, revents backend.Events) {
	if revents&backend.Error != 0 {
		l.killFd(fd)
		return
	}
	mask := EventMask(revents & (backend.Read | backend.Write))
	for w := l.fds.Watchers(fd); w != nil; w = w.Next() {
		iow := w.(*IOWatcher)
		got := mask & iow.Events
		if got != 0 {
			l.pending.feed(iow, got)
		}
	}
}

// killFd implements spec.md lines 117/200's fd-error contract: fd is dropped
// from the fd set entirely and every io-watcher that was registered on it is
// stopped and fed ERROR|READ|WRITE unconditionally, regardless of which
// events it asked for. Used both when the backend flags fd as invalid
// (backend.Error, from the poll/select EBADF scan or ENOMEM recovery) and
// when Reify itself fails to apply an interest change for fd (e.g. a stale
// fd rejected with EBADF). Kernel error/hang-up on a valid fd is reported as
// READ|WRITE readiness instead and does not kill the fd.
func (l *Loop) killFd(fd int) {
	for w := l.fds.Kill(fd); w != nil; {
		iow := w.(*IOWatcher)
		next := w.Next()
		iow.setActive(0)
		l.unref()
		l.pending.feed(iow, ERROR|READ|WRITE)
		w = next
	}
}

// blockTimeout implements spec.md §4.1 step 4: zero if non-blocking mode or
// an idle watcher is registered (idle watchers must not starve), else the
// nearest timer/periodic deadline (whichever is sooner) plus the backend's
// fudge factor, clamped to maxBlockTime.
func (l *Loop) blockTimeout(flags RunFlag) time.Duration {
	if flags&RunNoWait != 0 || len(l.idles.items) > 0 {
		return 0
	}

	rt, mn := l.clock.Now()
	have := false
	var deadline float64 // expressed in monotonic time, same axis as mn

	if it := l.timers.Peek(); it != nil {
		deadline = it.(*TimerWatcher).At
		have = true
	}
	if it := l.periodics.Peek(); it != nil {
		// translate the periodic's absolute wall deadline onto the
		// monotonic axis so it can be compared against the timer heap,
		// same as ev.c comparing ev_at(w)-ev_rt_now against mn_now.
		pAt := it.(*PeriodicWatcher).At
		pDeadlineMono := mn + (pAt - rt)
		if !have || pDeadlineMono < deadline {
			deadline = pDeadlineMono
			have = true
		}
	}

	if !have {
		return time.Duration(maxBlockTime * float64(time.Second))
	}

	remaining := deadline - mn + l.be.Fudge()
	if remaining < 0 {
		remaining = 0
	}
	if remaining > maxBlockTime {
		remaining = maxBlockTime
	}
	return time.Duration(remaining * float64(time.Second))
}

func (l *Loop) expireTimers() (dispatched bool) {
	_, mn := l.clock.Now()
	for {
		it := l.timers.Peek()
		if it == nil {
			break
		}
		w := it.(*TimerWatcher)
		if w.At > mn {
			break
		}
		l.timers.Pop()
		dispatched = true
		if w.Repeat > 0 {
			w.At = mn + w.Repeat
			l.timers.Push(w)
		} else {
			// one-shot timer: expiring here is equivalent to an internal
			// StopTimer, so it must release its ref like any other stop.
			w.At = w.Repeat
			l.unref()
		}
		l.pending.feed(w, TIMEOUT)
	}
	return dispatched
}

func (l *Loop) expirePeriodics() (dispatched bool) {
	rt, _ := l.clock.Now()
	for {
		it := l.periodics.Peek()
		if it == nil {
			break
		}
		w := it.(*PeriodicWatcher)
		if w.At > rt {
			break
		}
		l.periodics.Pop()
		dispatched = true
		if w.Reschedule != nil || w.Interval > 0 {
			w.rebase(rt)
			l.periodics.Push(w)
		} else {
			// one-shot wall-clock alarm: same internal-stop equivalence as
			// a non-repeating timer above.
			l.unref()
		}
		l.pending.feed(w, PERIODIC)
	}
	return dispatched
}

func (l *Loop) rebasePeriodics() {
	rt, _ := l.clock.Now()
	for _, it := range l.periodicsSnapshot() {
		w := it.(*PeriodicWatcher)
		if w.Reschedule != nil || w.Interval > 0 {
			w.rebase(rt)
		}
	}
	l.periodics.Heapify()
}

func (l *Loop) periodicsSnapshot() []evheap.Item {
	items := make([]evheap.Item, 0, l.periodics.Len())
	for l.periodics.Len() > 0 {
		items = append(items, l.periodics.Pop())
	}
	for _, it := range items {
		l.periodics.Push(it)
	}
	return items
}

func (l *Loop) shiftTimers(shift float64) {
	for _, it := range l.timersSnapshot() {
		w := it.(*TimerWatcher)
		w.At += shift
	}
	l.timers.Heapify()
}

func (l *Loop) timersSnapshot() []evheap.Item {
	items := make([]evheap.Item, 0, l.timers.Len())
	for l.timers.Len() > 0 {
		items = append(items, l.timers.Pop())
	}
	for _, it := range items {
		l.timers.Push(it)
	}
	return items
}

// Fork re-initializes kernel-side backend state after the process forks
// (spec.md §4.5's Fork contract) and forces every tracked fd to be
// re-registered with the (recreated) backend on the next Reify pass, since
// an epoll/kqueue fd's registrations do not survive fork even though the
// underlying file descriptors themselves do.
func (l *Loop) Fork() error {
	if err := l.be.Fork(); err != nil {
		return errors.Wrap(err, "ev: backend fork")
	}
	l.postfork = true
	l.fds.ForceReifyAll()
	return nil
}

// Close releases the backend and, on the default loop, the signal self-pipe.
func (l *Loop) Close() error {
	err := l.be.Destroy()
	if l.isDefault && l.sigtab != nil {
		if cerr := l.sigtab.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
