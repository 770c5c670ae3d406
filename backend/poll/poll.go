//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly || solaris

// Package poll adapts POSIX poll(2) to the backend.Backend contract: a
// compact pollfd array rebuilt from the fd-interest map on each change,
// with EBADF recovery by scanning all registered fds (spec.md §4.5).
package poll

import (
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/ev-go/ev/backend"
)

// Backend implements backend.Backend over poll(2).
type Backend struct {
	interest map[int]backend.Events
	fds      []unix.PollFd // rebuilt lazily before each Poll
	dirty    bool
}

// New creates a poll-based backend. poll(2) is available wherever this
// build tag compiles, so New never fails.
func New() (backend.Backend, error) {
	return &Backend{interest: make(map[int]backend.Events)}, nil
}

func toPollEvents(e backend.Events) int16 {
	var m int16
	if e&backend.Read != 0 {
		m |= unix.POLLIN
	}
	if e&backend.Write != 0 {
		m |= unix.POLLOUT
	}
	return m
}

func fromPollEvents(m int16) backend.Events {
	var e backend.Events
	if m&unix.POLLIN != 0 {
		e |= backend.Read
	}
	if m&unix.POLLOUT != 0 {
		e |= backend.Write
	}
	if m&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
		e |= backend.Read | backend.Write
	}
	return e
}

// Modify updates the in-memory interest map; the pollfd array is rebuilt
// lazily on the next Poll.
func (b *Backend) Modify(fd int, old, new backend.Events) error {
	if new == 0 {
		delete(b.interest, fd)
	} else {
		b.interest[fd] = new
	}
	b.dirty = true
	return nil
}

func (b *Backend) rebuild() {
	if !b.dirty {
		return
	}
	b.fds = b.fds[:0]
	for fd, e := range b.interest {
		b.fds = append(b.fds, unix.PollFd{Fd: int32(fd), Events: toPollEvents(e)})
	}
	b.dirty = false
}

// Poll blocks in poll(2) up to timeout. On EBADF it scans every registered
// fd for validity and feeds ERROR (READ|WRITE) for the ones that fail,
// matching spec.md §4.5's poll/select recovery policy. On ENOMEM it kills
// one fd (the first encountered) and retries, rather than failing outright.
func (b *Backend) Poll(timeout time.Duration, feed func(fd int, revents backend.Events)) error {
	b.rebuild()
	msec := int(timeout / time.Millisecond)
	if timeout < 0 {
		msec = -1
	}

	for {
		n, err := unix.Poll(b.fds, msec)
		if err != nil {
			switch err {
			case unix.EINTR:
				return nil
			case unix.EBADF:
				b.killInvalid(feed)
				return nil
			case unix.ENOMEM:
				if len(b.fds) > 0 {
					bad := b.fds[0].Fd
					feed(int(bad), backend.Read|backend.Write|backend.Error)
					delete(b.interest, int(bad))
					b.dirty = true
					b.rebuild()
					continue
				}
				return errors.Wrap(err, "poll")
			default:
				return errors.Wrap(err, "poll")
			}
		}
		if n <= 0 {
			return nil
		}
		for _, pfd := range b.fds {
			if pfd.Revents == 0 {
				continue
			}
			feed(int(pfd.Fd), fromPollEvents(pfd.Revents))
		}
		return nil
	}
}

// killInvalid probes every registered fd with a zero-timeout poll(2) call
// and feeds ERROR for any that return POLLNVAL.
func (b *Backend) killInvalid(feed func(fd int, revents backend.Events)) {
	for fd := range b.interest {
		probe := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		if _, err := unix.Poll(probe, 0); err != nil || probe[0].Revents&unix.POLLNVAL != 0 {
			feed(fd, backend.Read|backend.Write|backend.Error)
			delete(b.interest, fd)
			b.dirty = true
		}
	}
}

// Fudge returns poll's backend-supplied compensation for early wakeups.
func (b *Backend) Fudge() float64 { return 1e-3 }

// Fork is a no-op: poll(2) carries no kernel-side registration to rebuild.
func (b *Backend) Fork() error { return nil }

// Destroy releases in-memory state; there is no kernel fd to close.
func (b *Backend) Destroy() error { return nil }
