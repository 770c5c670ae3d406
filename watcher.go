package ev

// Callback is invoked when a watcher's event becomes pending and is drained.
// w is the watcher itself (so one callback function can serve several
// watchers); revents is the bitmask of events that occurred.
type Callback func(w Watcher, revents EventMask)

// Watcher is implemented by every variant in the {io, timer, periodic,
// signal, child, idle, prepare, check} set described in spec.md §3. Callers
// never construct the interface directly — they construct a concrete
// *IOWatcher / *TimerWatcher / etc. (zero value plus a Callback) and pass it
// to the matching Start function.
type Watcher interface {
	// Active reports whether the watcher is currently registered anywhere.
	Active() bool
	// Data returns the opaque user data slot.
	Data() interface{}
	// SetData sets the opaque user data slot.
	SetData(v interface{})
	// Priority returns the watcher's dispatch priority (ignored for child watchers).
	Priority() int

	activeIndex() int
	setActive(i int)
	pendingIndex() int
	setPending(i int)
	invoke(revents EventMask)
}

// base is embedded by every concrete watcher type. It implements the common
// half of Watcher; each concrete type adds its own invoke override (needed
// so the callback receives the concrete *XWatcher, not base) and its own
// SetPriority (a no-op on ChildWatcher, which spec.md §3 says ignores
// priority entirely).
type base struct {
	active   int
	pending  int
	priority int
	cb       Callback
	data     interface{}
}

func (b *base) Active() bool          { return b.active != 0 }
func (b *base) Data() interface{}     { return b.data }
func (b *base) SetData(v interface{}) { b.data = v }
func (b *base) Priority() int         { return b.priority }

func (b *base) activeIndex() int  { return b.active }
func (b *base) setActive(i int)   { b.active = i }
func (b *base) pendingIndex() int { return b.pending }
func (b *base) setPending(i int)  { b.pending = i }

// clampPriority enforces spec.md §3's closed range [MinPriority, MaxPriority].
func clampPriority(p int) int {
	if p < MinPriority {
		return MinPriority
	}
	if p > MaxPriority {
		return MaxPriority
	}
	return p
}
