//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly || solaris

// Package select adapts POSIX select(2) to the backend.Backend contract,
// maintaining read/write fd_set bit-vectors rebuilt from the interest map
// (spec.md §4.5). select's fudge is the largest of any backend (1e-2)
// because its millisecond-granularity timeout rounding causes the most
// visible early wakeups.
package select_

import (
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/ev-go/ev/backend"
)

// Backend implements backend.Backend over select(2).
type Backend struct {
	interest map[int]backend.Events
	maxFd    int
}

// New creates a select-based backend.
func New() (backend.Backend, error) {
	return &Backend{interest: make(map[int]backend.Events)}, nil
}

// Modify updates the in-memory interest map.
func (b *Backend) Modify(fd int, old, new backend.Events) error {
	if new == 0 {
		delete(b.interest, fd)
	} else {
		b.interest[fd] = new
		if fd > b.maxFd {
			b.maxFd = fd
		}
	}
	return nil
}

func setBit(set *unix.FdSet, fd int) {
	set.Bits[fd/64] |= 1 << (uint(fd) % 64)
}

func isSet(set *unix.FdSet, fd int) bool {
	return set.Bits[fd/64]&(1<<(uint(fd)%64)) != 0
}

// Poll blocks in select(2) up to timeout, feeding ready fds to feed. On
// EBADF it falls back to validating every registered fd individually
// (select itself gives no per-fd detail on that error) and kills the ones
// that fail, per spec.md §4.5. On ENOMEM it kills one registered fd and
// returns, so the next loop iteration polls again.
func (b *Backend) Poll(timeout time.Duration, feed func(fd int, revents backend.Events)) error {
	var rset, wset unix.FdSet
	maxFd := -1
	for fd, e := range b.interest {
		if e&backend.Read != 0 {
			setBit(&rset, fd)
		}
		if e&backend.Write != 0 {
			setBit(&wset, fd)
		}
		if fd > maxFd {
			maxFd = fd
		}
	}
	if maxFd < 0 {
		// nothing registered: select would return immediately with n=0,
		// but without a timeout that becomes a busy spin. Sleep instead.
		if timeout > 0 {
			time.Sleep(timeout)
		}
		return nil
	}

	var tv *unix.Timeval
	if timeout >= 0 {
		t := unix.NsecToTimeval(timeout.Nanoseconds())
		tv = &t
	}

	n, err := unix.Select(maxFd+1, &rset, &wset, nil, tv)
	if err != nil {
		switch err {
		case unix.EINTR:
			return nil
		case unix.EBADF:
			b.killInvalid(feed)
			return nil
		case unix.ENOMEM:
			// kill one registered fd; the loop's next iteration polls again.
			for fd := range b.interest {
				feed(fd, backend.Read|backend.Write|backend.Error)
				delete(b.interest, fd)
				return nil
			}
			return errors.Wrap(err, "select")
		default:
			return errors.Wrap(err, "select")
		}
	}
	if n <= 0 {
		return nil
	}
	for fd := range b.interest {
		var e backend.Events
		if isSet(&rset, fd) {
			e |= backend.Read
		}
		if isSet(&wset, fd) {
			e |= backend.Write
		}
		if e != 0 {
			feed(fd, e)
		}
	}
	return nil
}

func (b *Backend) killInvalid(feed func(fd int, revents backend.Events)) {
	for fd := range b.interest {
		if _, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0); err != nil {
			feed(fd, backend.Read|backend.Write|backend.Error)
			delete(b.interest, fd)
		}
	}
}

// Fudge returns select's backend-supplied compensation: the largest of any
// backend, matching spec.md §4.1 step 4.
func (b *Backend) Fudge() float64 { return 1e-2 }

// Fork is a no-op: select(2) carries no kernel-side registration to rebuild.
func (b *Backend) Fork() error { return nil }

// Destroy releases in-memory state; there is no kernel fd to close.
func (b *Backend) Destroy() error { return nil }
