//go:build darwin || freebsd || netbsd || openbsd || dragonfly

package ev

import (
	"github.com/ev-go/ev/backend"
	"github.com/ev-go/ev/backend/kqueue"
	"github.com/ev-go/ev/backend/poll"
	"github.com/ev-go/ev/backend/select"
)

func platformFactories() []backend.Factory {
	return []backend.Factory{
		{Method: backend.MethodKqueue, New: func() (backend.Backend, error) { return kqueue.New() }},
		{Method: backend.MethodPoll, New: func() (backend.Backend, error) { return poll.New() }},
		{Method: backend.MethodSelect, New: func() (backend.Backend, error) { return select_.New() }},
	}
}
