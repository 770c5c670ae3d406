package ev_test

import (
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ev-go/ev"
)

func TestChildWatcherFiresOnExit(t *testing.T) {
	loop, err := ev.DefaultLoop(ev.Config{})
	require.NoError(t, err)

	// Pid 0 (any child) avoids a race against a fast-exiting child: the
	// watcher (and its SIGCHLD registration) must exist before the process
	// starts, since a SIGCHLD delivered before os/signal.Notify is listening
	// for it is lost, but we don't know cmd.Process.Pid until after Start.
	w := &ev.ChildWatcher{Pid: 0}
	done := make(chan error, 1)
	registered := make(chan struct{})

	loop.StartChild(w, func(watcher ev.Watcher, revents ev.EventMask) {
		loop.StopChild(w)
		loop.Unloop(ev.UnloopAll)
	})
	go func() {
		close(registered)
		done <- loop.Run(ev.RunDefault)
	}()
	<-registered

	cmd := exec.Command("/bin/sh", "-c", "exit 7")
	require.NoError(t, cmd.Start())

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("loop did not exit within timeout")
	}

	require.Equal(t, cmd.Process.Pid, w.RPid)
	require.False(t, w.Active())
}
