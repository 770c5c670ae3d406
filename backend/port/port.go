//go:build solaris

// Package port adapts the Solaris event ports facility (port_create(3C)) to
// the backend.Backend contract. Ports associate a specific fd+interest on
// each Modify, but disassociate it automatically once an event is
// delivered, so Poll re-associates every delivered fd with its last-known
// interest itself (spec.md §4.5).
package port

import (
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/ev-go/ev/backend"
)

// Backend implements backend.Backend over a Solaris event port.
type Backend struct {
	port int
	// interest is the last interest set associated for each fd; Poll uses
	// it to re-associate an fd right after the port delivers an event for it.
	interest map[int]backend.Events
}

// New opens a new event port.
func New() (backend.Backend, error) {
	fd, err := unix.PortCreate()
	if err != nil {
		return nil, errors.Wrap(err, "port_create")
	}
	return &Backend{port: fd, interest: make(map[int]backend.Events)}, nil
}

func toPortEvents(e backend.Events) int {
	var m int
	if e&backend.Read != 0 {
		m |= unix.POLLIN
	}
	if e&backend.Write != 0 {
		m |= unix.POLLOUT
	}
	return m
}

// Modify associates fd with its new interest set, or disassociates it if
// new is zero.
func (b *Backend) Modify(fd int, old, new backend.Events) error {
	if new == 0 {
		delete(b.interest, fd)
		if err := unix.PortDissociate(b.port, unix.PORT_SOURCE_FD, uintptr(fd)); err != nil && err != unix.ENOENT {
			return errors.Wrapf(err, "port_dissociate fd=%d", fd)
		}
		return nil
	}
	b.interest[fd] = new
	if err := unix.PortAssociate(b.port, unix.PORT_SOURCE_FD, uintptr(fd), toPortEvents(new), nil); err != nil {
		return errors.Wrapf(err, "port_associate fd=%d", fd)
	}
	return nil
}

// Poll blocks in port_getn up to timeout. Every delivered fd is
// re-associated immediately with its last-known interest, since ports
// disassociate on delivery and the fd-reify pass will not see it again
// unless interest actually changed.
func (b *Backend) Poll(timeout time.Duration, feed func(fd int, revents backend.Events)) error {
	events := make([]unix.PortEvent, 64)
	var ts *unix.Timespec
	if timeout >= 0 {
		s := unix.NsecToTimespec(timeout.Nanoseconds())
		ts = &s
	}
	n := 1
	if err := unix.PortGetn(b.port, events, uint32(len(events)), &n, ts); err != nil {
		if err == unix.EINTR || err == unix.ETIME {
			return nil
		}
		return errors.Wrap(err, "port_getn")
	}
	for i := 0; i < n; i++ {
		ev := events[i]
		fd := int(ev.Object)
		var e backend.Events
		if ev.Events&unix.POLLIN != 0 {
			e |= backend.Read
		}
		if ev.Events&unix.POLLOUT != 0 {
			e |= backend.Write
		}
		if ev.Events&(unix.POLLERR|unix.POLLHUP) != 0 {
			e |= backend.Read | backend.Write
		}
		feed(fd, e)
		if want, ok := b.interest[fd]; ok {
			_ = unix.PortAssociate(b.port, unix.PORT_SOURCE_FD, uintptr(fd), toPortEvents(want), nil)
		}
	}
	return nil
}

// Fudge returns port's backend-supplied compensation for early wakeups.
func (b *Backend) Fudge() float64 { return 1e-3 }

// Fork re-creates the port; Solaris event ports are not meaningfully
// inherited across fork(2).
func (b *Backend) Fork() error {
	if err := unix.Close(b.port); err != nil {
		return errors.Wrap(err, "close old port")
	}
	fd, err := unix.PortCreate()
	if err != nil {
		return errors.Wrap(err, "port_create after fork")
	}
	b.port = fd
	return nil
}

// Destroy closes the port.
func (b *Backend) Destroy() error {
	return errors.Wrap(unix.Close(b.port), "close port")
}
