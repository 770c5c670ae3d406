package ev_test

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/ev-go/ev"
)

func TestSingleTimerFiresOnceThenLoopExits(t *testing.T) {
	loop, err := ev.NewLoop(ev.Config{})
	require.NoError(t, err)
	defer loop.Close()

	var fired int
	w := &ev.TimerWatcher{At: 0.02}
	loop.StartTimer(w, func(watcher ev.Watcher, revents ev.EventMask) {
		fired++
		require.Equal(t, ev.TIMEOUT, revents)
	})

	require.NoError(t, loop.Run(ev.RunDefault))
	require.Equal(t, 1, fired)
	require.False(t, w.Active())
	require.Equal(t, 0, loop.RefCount())
}

func TestRepeatingTimerThreeFiresStrictlyIncreasing(t *testing.T) {
	loop, err := ev.NewLoop(ev.Config{})
	require.NoError(t, err)
	defer loop.Close()

	var fires int
	var lastAt float64
	w := &ev.TimerWatcher{At: 0.01, Repeat: 0.02}
	loop.StartTimer(w, func(watcher ev.Watcher, revents ev.EventMask) {
		fires++
		require.Greater(t, w.At, lastAt)
		lastAt = w.At
		if fires == 3 {
			loop.StopTimer(w)
		}
	})

	require.NoError(t, loop.Run(ev.RunDefault))
	require.Equal(t, 3, fires)
	require.False(t, w.Active())
}

func TestPipeReadFiresOncePerWrittenByte(t *testing.T) {
	loop, err := ev.NewLoop(ev.Config{})
	require.NoError(t, err)
	defer loop.Close()

	r, wr, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer wr.Close()

	var reads int
	io := &ev.IOWatcher{Fd: int(r.Fd()), Events: ev.READ}
	prep := &ev.PrepareWatcher{}

	wroteOnce := false
	loop.StartPrepare(prep, func(ev.Watcher, ev.EventMask) {
		if !wroteOnce {
			wroteOnce = true
			_, werr := wr.Write([]byte{1})
			require.NoError(t, werr)
		}
	})
	loop.StartIO(io, func(watcher ev.Watcher, revents ev.EventMask) {
		reads++
		require.Equal(t, ev.READ, revents)
		var buf [1]byte
		unix.Read(io.Fd, buf[:])
		loop.StopIO(io)
		loop.StopPrepare(prep)
	})

	require.NoError(t, loop.Run(ev.RunDefault))
	require.Equal(t, 1, reads)
}

func TestSignalCoalescing(t *testing.T) {
	loop, err := ev.DefaultLoop(ev.Config{})
	require.NoError(t, err)

	var fires int
	check := &ev.CheckWatcher{}
	sig := &ev.SignalWatcher{Signum: int(unix.SIGUSR1)}

	raisedOnce := false
	loop.StartCheck(check, func(ev.Watcher, ev.EventMask) {
		if !raisedOnce {
			raisedOnce = true
			unix.Kill(os.Getpid(), unix.SIGUSR1)
			unix.Kill(os.Getpid(), unix.SIGUSR1)
		}
	})
	loop.StartSignal(sig, func(watcher ev.Watcher, revents ev.EventMask) {
		fires++
		loop.StopSignal(sig)
		loop.StopCheck(check)
	})
	// with no timer the first poll would block for up to maxBlockTime before
	// the check watcher ever runs; a short one-shot timer wakes it.
	wake := &ev.TimerWatcher{At: 0.01}
	loop.StartTimer(wake, func(ev.Watcher, ev.EventMask) {})

	done := make(chan error, 1)
	go func() { done <- loop.Run(ev.RunDefault) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not exit within timeout")
	}

	require.GreaterOrEqual(t, fires, 1)
	require.LessOrEqual(t, fires, 2)
}

func TestPriorityOrderingHighBeforeLow(t *testing.T) {
	loop, err := ev.NewLoop(ev.Config{})
	require.NoError(t, err)
	defer loop.Close()

	var order []int
	hi := &ev.TimerWatcher{At: 0.01}
	hi.SetPriority(ev.MaxPriority)
	lo := &ev.TimerWatcher{At: 0.01}
	lo.SetPriority(ev.MinPriority)

	loop.StartTimer(lo, func(ev.Watcher, ev.EventMask) { order = append(order, -1) })
	loop.StartTimer(hi, func(ev.Watcher, ev.EventMask) { order = append(order, 1) })

	require.NoError(t, loop.Run(ev.RunDefault))
	require.Equal(t, []int{1, -1}, order)
}

func TestOnceFiresExactlyOnceOnTimeout(t *testing.T) {
	loop, err := ev.NewLoop(ev.Config{})
	require.NoError(t, err)
	defer loop.Close()

	r, wr, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer wr.Close()

	var calls int
	var got ev.EventMask
	loop.Once(int(r.Fd()), ev.READ, 0.02, func(revents ev.EventMask) {
		calls++
		got = revents
		loop.Unloop(ev.UnloopAll)
	})

	require.NoError(t, loop.Run(ev.RunDefault))
	require.Equal(t, 1, calls)
	require.Equal(t, ev.TIMEOUT, got)
}

func TestForkRebuildsBackendWithoutError(t *testing.T) {
	loop, err := ev.NewLoop(ev.Config{})
	require.NoError(t, err)
	defer loop.Close()

	r, wr, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer wr.Close()

	io := &ev.IOWatcher{Fd: int(r.Fd()), Events: ev.READ}
	loop.StartIO(io, func(ev.Watcher, ev.EventMask) {})

	require.NoError(t, loop.Fork())
	require.True(t, io.Active())
	_, werr := wr.Write([]byte{1})
	require.NoError(t, werr)
	require.NoError(t, loop.Run(ev.RunOnce))
}
