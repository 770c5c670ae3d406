package fdset

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeWatcher struct {
	fd     int
	events uint32
	next   IOWatcher
}

func (w *fakeWatcher) FD() int             { return w.fd }
func (w *fakeWatcher) WantEvents() uint32  { return w.events }
func (w *fakeWatcher) SetNext(n IOWatcher) { w.next = n }
func (w *fakeWatcher) Next() IOWatcher     { return w.next }

func collect(head IOWatcher) []uint32 {
	var out []uint32
	for w := head; w != nil; w = w.Next() {
		out = append(out, w.(*fakeWatcher).events)
	}
	return out
}

func TestReifyUnionsEventsAcrossWatchers(t *testing.T) {
	s := New()
	a := &fakeWatcher{fd: 5, events: 1}
	b := &fakeWatcher{fd: 5, events: 2}
	s.Add(5, a)
	s.Add(5, b)

	var gotOld, gotNew uint32
	calls := 0
	err := s.Reify(func(fd int, old, new uint32) error {
		calls++
		gotOld, gotNew = old, new
		require.Equal(t, 5, fd)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, calls)
	require.Equal(t, uint32(0), gotOld)
	require.Equal(t, uint32(3), gotNew)
	require.Equal(t, uint32(3), s.Events(5))
}

func TestReifyOnlyTouchesChangedFds(t *testing.T) {
	s := New()
	s.Add(1, &fakeWatcher{fd: 1, events: 1})
	require.NoError(t, s.Reify(func(int, uint32, uint32) error { return nil }))

	calls := 0
	require.NoError(t, s.Reify(func(int, uint32, uint32) error { calls++; return nil }))
	require.Equal(t, 0, calls, "reify must be a no-op when nothing changed")
}

func TestRemoveUnlinksAndMarksReify(t *testing.T) {
	s := New()
	a := &fakeWatcher{fd: 5, events: 1}
	b := &fakeWatcher{fd: 5, events: 2}
	s.Add(5, a)
	s.Add(5, b)
	require.NoError(t, s.Reify(func(int, uint32, uint32) error { return nil }))

	empty := s.Remove(5, a)
	require.False(t, empty)
	require.ElementsMatch(t, []uint32{2}, collect(s.Watchers(5)))

	var gotNew uint32
	require.NoError(t, s.Reify(func(_ int, _ uint32, new uint32) error { gotNew = new; return nil }))
	require.Equal(t, uint32(2), gotNew)

	empty = s.Remove(5, b)
	require.True(t, empty)
	require.NoError(t, s.Reify(func(_ int, _ uint32, new uint32) error {
		require.Equal(t, uint32(0), new)
		return nil
	}))
	require.Nil(t, s.Watchers(5))
}

func TestKillReturnsWatcherListAndForgetsFd(t *testing.T) {
	s := New()
	a := &fakeWatcher{fd: 9, events: 1}
	s.Add(9, a)
	require.NoError(t, s.Reify(func(int, uint32, uint32) error { return nil }))

	head := s.Kill(9)
	require.Equal(t, a, head)
	require.Nil(t, s.Watchers(9))
}
