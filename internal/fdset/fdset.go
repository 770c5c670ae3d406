// Package fdset maintains the per-fd interest map ("anfds" in spec.md §3/§4.1
// step 3): for each registered fd, the union of its watchers' requested
// events, an intrusive singly-linked list of those watchers, and the change
// queue of fds whose union has drifted from what the backend was last told.
package fdset

// IOWatcher is the minimal shape fdset needs from a caller's io-watcher type.
// The root package's IOWatcher implements this by embedding a next pointer.
type IOWatcher interface {
	FD() int
	WantEvents() uint32
	SetNext(w IOWatcher)
	Next() IOWatcher
}

type entry struct {
	head  IOWatcher
	events uint32 // last interest communicated to the backend
	reify bool
}

// Set is the fd state map plus change queue.
type Set struct {
	entries map[int]*entry
	changed []int
}

// New returns an empty fd set.
func New() *Set {
	return &Set{entries: make(map[int]*entry)}
}

// Add links w into fd's watcher list and marks fd for reify.
func (s *Set) Add(fd int, w IOWatcher) {
	e := s.entries[fd]
	if e == nil {
		e = &entry{}
		s.entries[fd] = e
	}
	w.SetNext(e.head)
	e.head = w
	s.markReify(fd, e)
}

// Remove unlinks w from fd's watcher list and marks fd for reify. Returns
// true if the fd's watcher list is now empty (caller may want to fully
// forget the fd once the backend is told to stop watching it).
func (s *Set) Remove(fd int, w IOWatcher) (listEmpty bool) {
	e := s.entries[fd]
	if e == nil {
		return true
	}
	if e.head == w {
		e.head = w.Next()
	} else {
		for cur := e.head; cur != nil; cur = cur.Next() {
			if cur.Next() == w {
				cur.SetNext(w.Next())
				break
			}
		}
	}
	w.SetNext(nil)
	s.markReify(fd, e)
	return e.head == nil
}

func (s *Set) markReify(fd int, e *entry) {
	if !e.reify {
		e.reify = true
		s.changed = append(s.changed, fd)
	}
}

// Watchers returns the intrusive list head for fd, or nil.
func (s *Set) Watchers(fd int) IOWatcher {
	if e := s.entries[fd]; e != nil {
		return e.head
	}
	return nil
}

// Events returns the last interest union communicated to the backend for fd.
func (s *Set) Events(fd int) uint32 {
	if e := s.entries[fd]; e != nil {
		return e.events
	}
	return 0
}

// Reify drains the change queue, recomputing each changed fd's interest
// union from its current watcher list (per original_source/ev.c's fd_reify,
// the union is recomputed before modify is invoked, not after) and invoking
// modify(fd, old, new) whenever it differs from the last communicated value.
// Fds whose watcher list is now empty get new=0 (a delete) and are dropped
// from the map entirely once modify succeeds.
func (s *Set) Reify(modify func(fd int, old, new uint32) error) error {
	changed := s.changed
	s.changed = nil
	for _, fd := range changed {
		e := s.entries[fd]
		if e == nil {
			continue
		}
		e.reify = false

		var union uint32
		for w := e.head; w != nil; w = w.Next() {
			union |= w.WantEvents()
		}

		if union == e.events {
			if union == 0 {
				delete(s.entries, fd)
			}
			continue
		}
		old := e.events
		if err := modify(fd, old, union); err != nil {
			return err
		}
		e.events = union
		if union == 0 {
			delete(s.entries, fd)
		}
	}
	return nil
}

// ForceReifyAll marks every currently tracked fd as changed and forgets the
// interest last communicated to the backend, so the next Reify pass re-adds
// every fd from scratch. Used after a Fork, where an epoll/kqueue fd was
// recreated and lost all prior registrations even though fdset's own
// bookkeeping (which watchers want which fd) is untouched by fork.
func (s *Set) ForceReifyAll() {
	for fd, e := range s.entries {
		e.events = 0
		s.markReify(fd, e)
	}
}

// Kill stops tracking fd entirely (used when the backend reports the fd is
// invalid) and returns its watcher list so the caller can feed ERROR to each.
func (s *Set) Kill(fd int) IOWatcher {
	e := s.entries[fd]
	if e == nil {
		return nil
	}
	delete(s.entries, fd)
	return e.head
}

// Fds returns every currently-tracked fd, for backends that need to scan all
// registered fds (EBADF recovery on poll/select).
func (s *Set) Fds() []int {
	fds := make([]int, 0, len(s.entries))
	for fd := range s.entries {
		fds = append(fds, fd)
	}
	return fds
}
