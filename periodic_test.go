package ev_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ev-go/ev"
)

func TestPeriodicOneShotFiresAndDeactivates(t *testing.T) {
	loop, err := ev.NewLoop(ev.Config{})
	require.NoError(t, err)
	defer loop.Close()

	var fired int
	w := &ev.PeriodicWatcher{}
	// StartPeriodic treats a bare At with no Interval/Reschedule as an
	// absolute wall-clock alarm, so an At far in the past is already due.
	w.At = 0 // fires essentially immediately since At<=rt is already true
	loop.StartPeriodic(w, func(watcher ev.Watcher, revents ev.EventMask) {
		fired++
		require.Equal(t, ev.PERIODIC, revents)
	})

	require.NoError(t, loop.Run(ev.RunDefault))
	require.Equal(t, 1, fired)
	require.False(t, w.Active())
}

func TestPeriodicIntervalReschedulesToFutureBoundary(t *testing.T) {
	loop, err := ev.NewLoop(ev.Config{})
	require.NoError(t, err)
	defer loop.Close()

	var fires int
	w := &ev.PeriodicWatcher{Interval: 0.02}
	loop.StartPeriodic(w, func(watcher ev.Watcher, revents ev.EventMask) {
		fires++
		if fires == 2 {
			loop.StopPeriodic(w)
		}
	})

	require.NoError(t, loop.Run(ev.RunDefault))
	require.Equal(t, 2, fires)
	require.False(t, w.Active())
}

func TestPeriodicRescheduleCallbackDrivesNextDeadline(t *testing.T) {
	loop, err := ev.NewLoop(ev.Config{})
	require.NoError(t, err)
	defer loop.Close()

	var fires int
	w := &ev.PeriodicWatcher{}
	w.Reschedule = func(pw *ev.PeriodicWatcher, now float64) float64 {
		return now + 0.02
	}
	loop.StartPeriodic(w, func(watcher ev.Watcher, revents ev.EventMask) {
		fires++
		if fires == 2 {
			loop.StopPeriodic(w)
		}
	})

	require.NoError(t, loop.Run(ev.RunDefault))
	require.Equal(t, 2, fires)
}
