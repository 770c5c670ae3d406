//go:build linux

// Package epoll adapts Linux epoll(7) to the backend.Backend contract,
// following the idiom of the tnet poller's epoll adapter (golang.org/x/sys/unix
// for the syscalls, github.com/pkg/errors to wrap syscall context):
// ADD/MOD/DEL per fd, ENOENT on MOD tolerated by re-ADDing and on DEL
// ignored, EEXIST on ADD tolerated by MODding, and EBADF
// reported back to the caller so it can kill the fd.
package epoll

import (
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/ev-go/ev/backend"
)

const initialEventCap = 128

// Backend implements backend.Backend over an epoll instance.
type Backend struct {
	epfd   int
	events []unix.EpollEvent
}

// New creates an epoll instance. Returns an error (not a panic) if epoll is
// unavailable, so backend.Select can fall through to the next method.
func New() (backend.Backend, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, errors.Wrap(err, "epoll_create1")
	}
	return &Backend{epfd: fd, events: make([]unix.EpollEvent, initialEventCap)}, nil
}

func toEpollEvents(e backend.Events) uint32 {
	var m uint32
	if e&backend.Read != 0 {
		m |= unix.EPOLLIN
	}
	if e&backend.Write != 0 {
		m |= unix.EPOLLOUT
	}
	return m
}

func fromEpollEvents(m uint32) backend.Events {
	var e backend.Events
	if m&(unix.EPOLLIN|unix.EPOLLPRI) != 0 {
		e |= backend.Read
	}
	if m&unix.EPOLLOUT != 0 {
		e |= backend.Write
	}
	if m&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
		// spec.md §4.5: kernel error/hup maps to both READ and WRITE so any
		// waiting watcher observes it.
		e |= backend.Read | backend.Write
	}
	return e
}

// Modify issues ADD, MOD, or DEL depending on old/new, tolerating ENOENT on
// MOD by re-adding and ignoring ENOENT on DEL (the fd may have been
// implicitly dropped by a close the loop hasn't reified yet).
func (b *Backend) Modify(fd int, old, new backend.Events) error {
	var ev unix.EpollEvent
	ev.Fd = int32(fd)
	ev.Events = toEpollEvents(new)

	switch {
	case old == 0 && new != 0:
		if err := unix.EpollCtl(b.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
			if err == unix.EEXIST {
				return unix.EpollCtl(b.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
			}
			return errors.Wrapf(err, "epoll_ctl add fd=%d", fd)
		}
		return nil
	case old != 0 && new == 0:
		if err := unix.EpollCtl(b.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
			if err == unix.ENOENT {
				return nil
			}
			return errors.Wrapf(err, "epoll_ctl del fd=%d", fd)
		}
		return nil
	default:
		if err := unix.EpollCtl(b.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
			if err == unix.ENOENT {
				return unix.EpollCtl(b.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
			}
			return errors.Wrapf(err, "epoll_ctl mod fd=%d", fd)
		}
		return nil
	}
}

// Poll blocks in epoll_wait up to timeout, feeding ready fds to feed.
func (b *Backend) Poll(timeout time.Duration, feed func(fd int, revents backend.Events)) error {
	msec := int(timeout / time.Millisecond)
	if timeout > 0 && msec == 0 {
		msec = 1 // round sub-millisecond waits up, never busy-loop on a real deadline
	}
	if timeout < 0 {
		msec = -1
	}

	n, err := unix.EpollWait(b.epfd, b.events, msec)
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		return errors.Wrap(err, "epoll_wait")
	}

	for i := 0; i < n; i++ {
		ev := b.events[i]
		feed(int(ev.Fd), fromEpollEvents(ev.Events))
	}

	if n == len(b.events) {
		// saturated the event array; grow for next time.
		b.events = make([]unix.EpollEvent, len(b.events)*2)
	}
	return nil
}

// Fudge returns epoll's backend-supplied compensation for early wakeups.
func (b *Backend) Fudge() float64 { return 1e-3 }

// Fork re-creates the epoll fd; the Linux kernel does not preserve epoll
// state usefully across fork for our purposes, so every watched fd must be
// re-armed by the caller (it will see old=0 on the next reify pass).
func (b *Backend) Fork() error {
	if err := unix.Close(b.epfd); err != nil {
		return errors.Wrap(err, "close old epoll fd")
	}
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return errors.Wrap(err, "epoll_create1 after fork")
	}
	b.epfd = fd
	return nil
}

// Destroy closes the epoll fd.
func (b *Backend) Destroy() error {
	return errors.Wrap(unix.Close(b.epfd), "close epoll fd")
}
