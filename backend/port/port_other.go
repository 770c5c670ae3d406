//go:build !solaris

package port

import (
	"errors"

	"github.com/ev-go/ev/backend"
)

// New always fails on non-Solaris platforms, so backend.Select falls
// through to the next candidate method.
func New() (backend.Backend, error) {
	return nil, errors.New("port: event ports are only available on solaris")
}
