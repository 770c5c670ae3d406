//go:build solaris

package ev

import (
	"github.com/ev-go/ev/backend"
	"github.com/ev-go/ev/backend/poll"
	"github.com/ev-go/ev/backend/port"
	"github.com/ev-go/ev/backend/select"
)

func platformFactories() []backend.Factory {
	return []backend.Factory{
		{Method: backend.MethodPort, New: func() (backend.Backend, error) { return port.New() }},
		{Method: backend.MethodPoll, New: func() (backend.Backend, error) { return poll.New() }},
		{Method: backend.MethodSelect, New: func() (backend.Backend, error) { return select_.New() }},
	}
}
