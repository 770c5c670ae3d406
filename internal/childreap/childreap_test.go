//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package childreap

import (
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

type fakeWatcher struct {
	pid    int
	rpid   int
	status unix.WaitStatus
}

func (w *fakeWatcher) Pid() int { return w.pid }
func (w *fakeWatcher) SetResult(rpid int, status *unix.WaitStatus) {
	w.rpid = rpid
	w.status = *status
}

func startChild(t *testing.T) int {
	t.Helper()
	cmd := exec.Command("/bin/sh", "-c", "exit 0")
	require.NoError(t, cmd.Start())
	return cmd.Process.Pid
}

func TestReapSpecificWatcherFires(t *testing.T) {
	pid := startChild(t)
	w := &fakeWatcher{pid: pid}

	table := New()
	table.Add(w)

	require.Eventually(t, func() bool {
		var fired bool
		_, err := table.Reap(func(fired_ Watcher) { fired = fired_ == w })
		return err == nil && fired
	}, 2*time.Second, 10*time.Millisecond)

	require.Equal(t, pid, w.rpid)
}

func TestReapAnyChildWatcherFiresForUnmatchedPid(t *testing.T) {
	pid := startChild(t)
	w := &fakeWatcher{pid: 0}

	table := New()
	table.Add(w)

	require.Eventually(t, func() bool {
		var fired bool
		_, err := table.Reap(func(fired_ Watcher) { fired = fired_ == w })
		return err == nil && fired
	}, 2*time.Second, 10*time.Millisecond)

	require.Equal(t, pid, w.rpid)
}

func TestReapReturnsZeroWhenNothingExited(t *testing.T) {
	table := New()
	n, err := table.Reap(func(Watcher) { t.Fatal("should not fire") })
	require.NoError(t, err)
	require.Equal(t, 0, n)
}
