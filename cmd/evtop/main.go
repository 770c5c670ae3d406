// Command evtop is a small diagnostic CLI: it opens a default loop, reports
// which backend was selected, and (optionally) runs a repeating timer that
// prints each fire, so the reactor's dispatch loop can be observed end to end.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"
	_ "go.uber.org/automaxprocs"

	"github.com/ev-go/ev"
)

func main() {
	var (
		showMethod = pflag.BoolP("method", "m", true, "print the selected backend (exits afterwards unless --tick is set)")
		tick       = pflag.DurationP("tick", "t", 0, "if set, run a repeating timer at this interval and print each fire")
		count      = pflag.IntP("count", "n", 5, "number of ticks to print before exiting (with --tick)")
	)
	pflag.Parse()

	loop, err := ev.DefaultLoop(ev.Config{})
	if err != nil {
		fmt.Fprintln(os.Stderr, "evtop:", err)
		os.Exit(1)
	}
	defer loop.Close()

	if *showMethod {
		fmt.Println("backend:", loop.Method())
	}

	if *tick <= 0 {
		return
	}

	remaining := *count
	w := &ev.TimerWatcher{At: tick.Seconds(), Repeat: tick.Seconds()}
	loop.StartTimer(w, func(watcher ev.Watcher, revents ev.EventMask) {
		fmt.Println("tick", time.Now().Format(time.RFC3339Nano))
		remaining--
		if remaining <= 0 {
			loop.Unloop(ev.UnloopAll)
		}
	})

	if err := loop.Run(ev.RunDefault); err != nil {
		fmt.Fprintln(os.Stderr, "evtop:", err)
		os.Exit(1)
	}
}
