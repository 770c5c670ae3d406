package ev

import "github.com/ev-go/ev/internal/evlog"

// Config customizes a Loop's error-handling hooks and logging. The zero
// Config is valid: with OnSystemError nil an unrecoverable backend failure
// panics (matching original_source/ev.c's default syserr_cb, which calls
// abort()), and logging is silent. Config has no allocation-failure hook.
type Config struct {
	// Logger receives the loop's diagnostics; currently the only message is
	// the backend selected at construction. Fd kills and clock jumps are not
	// logged. Defaults to a no-op logger; an application's *logrus.Logger
	// satisfies the interface directly.
	Logger evlog.Logger

	// OnSystemError is called when a backend syscall fails in a way that is
	// not individually recoverable (e.g. epoll_wait returning an
	// unexpected errno). If nil, the loop panics with a *BackendError. If
	// set and it returns, the loop treats the iteration as a no-op poll and
	// continues.
	OnSystemError func(err error)

	// MethodMask restricts which backend(s) NewLoop may select; zero means
	// MethodAuto (try every compiled-in backend in the fixed preference order).
	MethodMask MethodMask
}

func (c Config) logger() evlog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return evlog.Nop()
}
