//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly || solaris

// Package sigpipe implements the default loop's self-pipe signal plumbing
// (spec.md §4.7). Go does not let user code install a raw POSIX signal
// handler, so the async-signal-safe boundary original_source/ev.c achieves
// with a C signal handler is approximated here with os/signal.Notify
// feeding one dispatcher goroutine shared by every registered signal
// number; that goroutine does only the async-signal-safe-equivalent work (set a flag,
// write one byte to the pipe) before handing off to the loop thread via the
// coalescing self-pipe, exactly like ev.c's ev_sighandler does.
package sigpipe

import (
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Table is the per-signum watcher list plus the coalescing self-pipe.
// Table.Raise is the "async-signal-safe" half (set a flag, write a byte);
// Table.Deliver is the loop-thread half (scan signums, call feed once per
// raised signum; the caller walks its watcher list), matching original_source/ev.c's split between
// ev_feed_signal (handler-safe) and ev_feed_signal_event (loop-thread).
type Table struct {
	mu      sync.Mutex
	signals map[int]*entry // signum -> watcher chain + per-signum gotsig flag

	gotsig atomic.Bool // global "something is pending" flag
	r, w   int         // self-pipe ends

	stopOnce sync.Once
	notifyCh chan os.Signal
	done     chan struct{}
}

type entry struct {
	gotsig atomic.Bool
}

// New creates the self-pipe (both ends cloexec, non-blocking, per spec.md
// §4.7) and the signal table, and starts the single dispatcher goroutine
// that stands in for the async-signal-safe handler original_source/ev.c
// installs via sigaction(2).
func New() (*Table, error) {
	fds, err := unixPipe2()
	if err != nil {
		return nil, errors.Wrap(err, "sigpipe: pipe2")
	}
	t := &Table{
		signals:  make(map[int]*entry),
		r:        fds[0],
		w:        fds[1],
		notifyCh: make(chan os.Signal, 64),
		done:     make(chan struct{}),
	}
	go t.dispatch()
	return t, nil
}

// dispatch is the one goroutine reading os/signal's delivery channel. All
// registered signums share it; this is the closest Go analogue to a single
// process-wide signal handler table.
func (t *Table) dispatch() {
	for {
		select {
		case s := <-t.notifyCh:
			if sig, ok := s.(syscall.Signal); ok {
				t.Raise(int(sig))
			}
		case <-t.done:
			return
		}
	}
}

func unixPipe2() ([2]int, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC|unix.O_NONBLOCK); err != nil {
		return fds, err
	}
	return fds, nil
}

// ReadFD is the self-pipe's read end, to be registered as an internal,
// ref-neutral io-watcher by the owning loop.
func (t *Table) ReadFD() int { return t.r }

// Register starts an OS-level watch for signum and creates the per-signum
// flag the loop-thread Deliver pass checks. It is idempotent per signum.
func (t *Table) Register(signum int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.signals[signum]; ok {
		return
	}
	t.signals[signum] = &entry{}
	signal.Notify(t.notifyCh, syscall.Signal(signum))
}

// Unregister stops the OS-level watch for signum once no watcher remains
// interested in it.
func (t *Table) Unregister(signum int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.signals[signum]; !ok {
		return
	}
	delete(t.signals, signum)
	signal.Stop(t.notifyCh) // re-registered below for remaining signums
	for s := range t.signals {
		signal.Notify(t.notifyCh, syscall.Signal(s))
	}
}

// Raise is the async-signal-safe half: set signum's flag and, if the global
// flag was clear, set it and write one coalescing byte to the pipe. Safe to
// call concurrently and from a notification goroutine standing in for a
// real signal handler.
func (t *Table) Raise(signum int) {
	t.mu.Lock()
	e, ok := t.signals[signum]
	t.mu.Unlock()
	if !ok {
		return
	}
	e.gotsig.Store(true)
	if t.gotsig.CompareAndSwap(false, true) {
		buf := [1]byte{1}
		for {
			_, err := unix.Write(t.w, buf[:])
			if err == unix.EINTR {
				continue
			}
			break
		}
	}
}

// Drain reads and discards any bytes currently in the pipe (the io-watcher
// callback's first step) and clears the global flag.
func (t *Table) Drain() {
	var buf [64]byte
	for {
		n, err := unix.Read(t.r, buf[:])
		if n <= 0 || err != nil {
			break
		}
	}
	t.gotsig.Store(false)
}

// Deliver is the loop-thread half: for every signum with its flag set,
// clears it and invokes feed(signum) once, matching the coalescing
// semantics of spec.md §8 property 8 (N raises between drains -> one feed).
func (t *Table) Deliver(feed func(signum int)) {
	t.mu.Lock()
	signums := make([]int, 0, len(t.signals))
	for s := range t.signals {
		signums = append(signums, s)
	}
	t.mu.Unlock()

	for _, signum := range signums {
		t.mu.Lock()
		e, ok := t.signals[signum]
		t.mu.Unlock()
		if !ok {
			continue
		}
		if e.gotsig.CompareAndSwap(true, false) {
			feed(signum)
		}
	}
}

// Close releases the self-pipe and stops the dispatcher goroutine.
func (t *Table) Close() error {
	t.stopOnce.Do(func() { close(t.done) })
	signal.Stop(t.notifyCh)
	err1 := unix.Close(t.r)
	err2 := unix.Close(t.w)
	if err1 != nil {
		return errors.Wrap(err1, "close sigpipe read end")
	}
	if err2 != nil {
		return errors.Wrap(err2, "close sigpipe write end")
	}
	return nil
}
