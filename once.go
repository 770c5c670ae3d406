package ev

// Once arranges for cb to be called exactly once, when fd becomes ready for
// any of events or when timeout elapses, whichever happens first (spec.md
// §4.9). revents reports which of READ/WRITE/TIMEOUT actually fired. If the
// fd and the timer both become ready within the same iteration, whichever
// watcher drains first wins and stops the other before it dispatches, so cb
// still runs exactly once. A non-positive timeout disables the timer half
// (fd-only); events == NONE disables the fd half (timer-only).
func (l *Loop) Once(fd int, events EventMask, timeout float64, cb func(revents EventMask)) {
	state := &onceState{loop: l}

	if events&(READ|WRITE) != 0 {
		state.io = &IOWatcher{Fd: fd, Events: events & (READ | WRITE)}
	}
	if timeout > 0 {
		state.timer = &TimerWatcher{At: timeout}
	}

	fire := func(w Watcher, revents EventMask) {
		state.fire(revents, cb)
	}

	if state.io != nil {
		l.StartIO(state.io, fire)
	}
	if state.timer != nil {
		l.StartTimer(state.timer, fire)
	}
}

// onceState tears down whichever half didn't fire once the other one does,
// so cb truly runs exactly once and both watchers are always cleaned up.
type onceState struct {
	loop  *Loop
	io    *IOWatcher
	timer *TimerWatcher
	fired bool
}

func (s *onceState) fire(revents EventMask, cb func(EventMask)) {
	if s.fired {
		return
	}
	s.fired = true
	if s.io != nil {
		s.loop.StopIO(s.io)
	}
	if s.timer != nil {
		s.loop.StopTimer(s.timer)
	}
	cb(revents)
}
