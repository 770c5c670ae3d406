//go:build darwin || freebsd || netbsd || openbsd || dragonfly

// Package kqueue adapts BSD/Darwin kqueue(2) to the backend.Backend
// contract. Following spec.md §4.5 and the tnet poller's kqueue adapter
// (golang.org/x/sys/unix, github.com/pkg/errors for wrapping), each
// transition queues an EV_ADD or EV_DELETE only for the filters whose wanted
// state changed; a filter that stays wanted is not deleted and re-added.
package kqueue

import (
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/ev-go/ev/backend"
)

const initialEventCap = 128

// Backend implements backend.Backend over a kqueue instance.
type Backend struct {
	kq      int
	events  []unix.Kevent_t
	pending []unix.Kevent_t // batched changelist, flushed on next Poll
}

// New creates a kqueue instance.
func New() (backend.Backend, error) {
	fd, err := unix.Kqueue()
	if err != nil {
		return nil, errors.Wrap(err, "kqueue")
	}
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_SETFD, unix.FD_CLOEXEC); err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, "fcntl cloexec")
	}
	return &Backend{kq: fd, events: make([]unix.Kevent_t, initialEventCap)}, nil
}

func (b *Backend) queue(ident int, filter int16, flags uint16) {
	b.pending = append(b.pending, unix.Kevent_t{
		Ident:  uint64(ident),
		Filter: filter,
		Flags:  flags,
	})
}

// Modify batches the DELETE/ADD changelist entries for fd's transition;
// they are flushed together on the next Poll call (spec.md §4.5: "batch
// changelist flushed in poll").
func (b *Backend) Modify(fd int, old, new backend.Events) error {
	wantRead, wantWrite := new&backend.Read != 0, new&backend.Write != 0
	hadRead, hadWrite := old&backend.Read != 0, old&backend.Write != 0

	if hadRead != wantRead {
		if wantRead {
			b.queue(fd, unix.EVFILT_READ, unix.EV_ADD|unix.EV_ENABLE)
		} else {
			b.queue(fd, unix.EVFILT_READ, unix.EV_DELETE)
		}
	}
	if hadWrite != wantWrite {
		if wantWrite {
			b.queue(fd, unix.EVFILT_WRITE, unix.EV_ADD|unix.EV_ENABLE)
		} else {
			b.queue(fd, unix.EVFILT_WRITE, unix.EV_DELETE)
		}
	}
	return nil
}

// Poll flushes the pending changelist (if any) and blocks in kevent(2) up to
// timeout, feeding ready fds to feed.
func (b *Backend) Poll(timeout time.Duration, feed func(fd int, revents backend.Events)) error {
	var ts *unix.Timespec
	if timeout >= 0 {
		s := unix.NsecToTimespec(timeout.Nanoseconds())
		ts = &s
	}

	changes := b.pending
	b.pending = nil

	n, err := unix.Kevent(b.kq, changes, b.events, ts)
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		// a failed call drops the whole flushed changelist. ENOENT is
		// ignored; any other error is returned, and the loop reports it
		// through its system-error path. Entries that come back with
		// EV_ERROR set are fed below as READ|WRITE; no fd is killed or
		// re-armed here.
		if err == unix.ENOENT {
			return nil
		}
		return errors.Wrap(err, "kevent")
	}

	results := make(map[int]backend.Events, n)
	for i := 0; i < n; i++ {
		ev := b.events[i]
		ident := int(ev.Ident)
		var e backend.Events
		switch ev.Filter {
		case unix.EVFILT_READ:
			e = backend.Read
		case unix.EVFILT_WRITE:
			e = backend.Write
		}
		if ev.Flags&(unix.EV_EOF|unix.EV_ERROR) != 0 {
			e = backend.Read | backend.Write
		}
		results[ident] |= e
	}
	for fd, e := range results {
		feed(fd, e)
	}

	if n == len(b.events) {
		b.events = make([]unix.Kevent_t, len(b.events)*2)
	}
	return nil
}

// Fudge returns kqueue's backend-supplied compensation for early wakeups.
func (b *Backend) Fudge() float64 { return 1e-3 }

// Fork re-creates the kqueue instance; kqueue fds are not inherited across
// fork(2) in a usable state.
func (b *Backend) Fork() error {
	if err := unix.Close(b.kq); err != nil {
		return errors.Wrap(err, "close old kqueue fd")
	}
	fd, err := unix.Kqueue()
	if err != nil {
		return errors.Wrap(err, "kqueue after fork")
	}
	b.kq = fd
	b.pending = nil
	return nil
}

// Destroy closes the kqueue fd.
func (b *Backend) Destroy() error {
	return errors.Wrap(unix.Close(b.kq), "close kqueue fd")
}
