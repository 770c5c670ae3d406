//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package sigpipe

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestRaiseCoalescesMultipleSignalsIntoOnePipeByte(t *testing.T) {
	tab, err := New()
	require.NoError(t, err)
	defer tab.Close()

	tab.mu.Lock()
	tab.signals[int(unix.SIGUSR1)] = &entry{}
	tab.mu.Unlock()

	tab.Raise(int(unix.SIGUSR1))
	tab.Raise(int(unix.SIGUSR1))
	tab.Raise(int(unix.SIGUSR1))

	var buf [8]byte
	n, err := unix.Read(tab.ReadFD(), buf[:])
	require.NoError(t, err)
	require.Equal(t, 1, n, "three raises before any drain must coalesce to one pipe byte")

	// a second read must see nothing more queued.
	_, err = unix.Read(tab.ReadFD(), buf[:])
	require.ErrorIs(t, err, unix.EAGAIN)
}

func TestDeliverFiresOncePerRaisedSignum(t *testing.T) {
	tab, err := New()
	require.NoError(t, err)
	defer tab.Close()

	tab.mu.Lock()
	tab.signals[int(unix.SIGUSR1)] = &entry{}
	tab.signals[int(unix.SIGUSR2)] = &entry{}
	tab.mu.Unlock()

	tab.Raise(int(unix.SIGUSR1))
	tab.Raise(int(unix.SIGUSR1))

	var delivered []int
	tab.Deliver(func(signum int) { delivered = append(delivered, signum) })
	require.Equal(t, []int{int(unix.SIGUSR1)}, delivered)

	// a second Deliver before any new Raise must fire nothing.
	delivered = nil
	tab.Deliver(func(signum int) { delivered = append(delivered, signum) })
	require.Empty(t, delivered)
}

func TestDrainClearsGlobalFlag(t *testing.T) {
	tab, err := New()
	require.NoError(t, err)
	defer tab.Close()

	tab.mu.Lock()
	tab.signals[int(unix.SIGUSR1)] = &entry{}
	tab.mu.Unlock()

	tab.Raise(int(unix.SIGUSR1))
	require.True(t, tab.gotsig.Load())
	tab.Drain()
	require.False(t, tab.gotsig.Load())

	// after drain, a fresh raise must write another byte (not suppressed).
	tab.Raise(int(unix.SIGUSR1))
	var buf [1]byte
	n, err := unix.Read(tab.ReadFD(), buf[:])
	require.NoError(t, err)
	require.Equal(t, 1, n)
}
