package ev_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ev-go/ev"
)

func TestPathWatcherFiresOnFileWrite(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "watched.txt")
	require.NoError(t, os.WriteFile(target, []byte("seed"), 0o644))

	loop, err := ev.NewLoop(ev.Config{})
	require.NoError(t, err)
	defer loop.Close()

	done := make(chan error, 1)
	w := &ev.PathWatcher{Path: target}
	fired := make(chan struct{}, 1)
	require.NoError(t, loop.StartPathWatch(w, func(watcher ev.Watcher, revents ev.EventMask) {
		select {
		case fired <- struct{}{}:
		default:
		}
		loop.StopPathWatch(w)
		loop.Unloop(ev.UnloopAll)
	}))

	go func() { done <- loop.Run(ev.RunDefault) }()

	require.Eventually(t, func() bool {
		return os.WriteFile(target, []byte("changed"), 0o644) == nil
	}, time.Second, 10*time.Millisecond)

	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("path watcher did not fire within timeout")
	}

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("loop did not exit within timeout")
	}
}
