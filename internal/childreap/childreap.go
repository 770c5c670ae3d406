//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly || solaris

// Package childreap implements the pid-hashed child table and the
// waitpid(2)-based reaper driven from the default loop's SIGCHLD watcher
// (spec.md §4.8). Watchers are bucketed by pid (specific waiters) and by 0
// (any-child waiters); a reaped pid fires the watchers in its own bucket
// whose Pid equals it, and every any-child watcher in the 0 bucket.
package childreap

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// hashSize must be a power of two; spec.md §3 buckets by "pid & (PID_HASHSIZE-1)".
const hashSize = 64

// Watcher is the minimal shape childreap needs from a caller's child-watcher
// type.
type Watcher interface {
	Pid() int // 0 means "any child"
	SetResult(rpid int, status *unix.WaitStatus)
}

// Table is the pid-hashed watcher table.
type Table struct {
	buckets [hashSize][]Watcher
}

// New returns an empty child table.
func New() *Table { return &Table{} }

func bucket(pid int) int { return pid & (hashSize - 1) }

// Add registers w under its pid's bucket (or the 0 bucket for any-child watchers).
func (t *Table) Add(w Watcher) {
	b := bucket(w.Pid())
	t.buckets[b] = append(t.buckets[b], w)
}

// Remove unregisters w. No-op if not present.
func (t *Table) Remove(w Watcher) {
	b := bucket(w.Pid())
	list := t.buckets[b]
	for i, c := range list {
		if c == w {
			t.buckets[b] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// Reap drains every exited/stopped/continued child via waitpid(WNOHANG),
// firing feed(w) for each matching watcher (both the specific-pid bucket and
// the any-child bucket), per spec.md §4.8. It returns the number of
// children reaped, so the caller can decide whether to re-feed its own
// SIGCHLD watcher (a reap can race with a new SIGCHLD delivery).
func (t *Table) Reap(feed func(w Watcher)) (reaped int, err error) {
	for {
		var status unix.WaitStatus
		pid, werr := unix.Wait4(-1, &status, unix.WNOHANG|unix.WUNTRACED|unix.WCONTINUED, nil)
		if werr != nil {
			if werr == unix.ECHILD {
				return reaped, nil // no children left to wait for
			}
			if werr == unix.EINTR {
				continue
			}
			return reaped, errors.Wrap(werr, "wait4")
		}
		if pid <= 0 {
			return reaped, nil // nothing currently reapable
		}
		reaped++

		for _, w := range t.buckets[bucket(pid)] {
			if w.Pid() == pid {
				w.SetResult(pid, &status)
				feed(w)
			}
		}
		for _, w := range t.buckets[bucket(0)] {
			if w.Pid() == 0 {
				w.SetResult(pid, &status)
				feed(w)
			}
		}
	}
}
