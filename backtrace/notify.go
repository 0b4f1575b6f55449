package backtrace

import (
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/bytedance/gopkg/util/gopool"
)

// DefaultSignals is SIGQUIT and SIGUSR1, the pair the original process
// registered a dump handler on (SIGQUIT's default core-dump behavior is
// suppressed by installing this handler at all).
var DefaultSignals = []os.Signal{syscall.SIGQUIT, syscall.SIGUSR1}

// NotifyOn installs a handler that writes every goroutine's stack to w
// whenever one of sigs arrives, using runtime.Stack with all=true rather
// than Dump since a live incident wants every goroutine, not just the caller's.
// The dump runs on gopool's default worker pool so a slow or blocked
// writer can't wedge the signal-delivery goroutine.
//
// It returns a stop func that deregisters the handler.
func NotifyOn(w writeSyncer, sigs ...os.Signal) (stop func()) {
	if len(sigs) == 0 {
		sigs = DefaultSignals
	}
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sigs...)

	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ch:
				DumpAsync(w)
			case <-done:
				signal.Stop(ch)
				return
			}
		}
	}()
	return func() { close(done) }
}

// writeSyncer is the subset of *os.File that DumpAsync needs; accepting
// the interface instead of *os.File lets tests substitute an in-memory
// sink.
type writeSyncer interface {
	Write([]byte) (int, error)
}

// DumpAsync writes the full goroutine dump to w in the background,
// grounded on the same panic-recovery discipline GoPool.runTask uses: a
// writer that itself panics must not bring down the process that asked
// for a diagnostic dump.
func DumpAsync(w writeSyncer) {
	gopool.Go(func() {
		defer func() {
			if r := recover(); r != nil {
				fmt.Fprintf(os.Stderr, "backtrace: panic while dumping: %v\n", r)
			}
		}()
		buf := make([]byte, 64<<10)
		for {
			n := runtime.Stack(buf, true)
			if n < len(buf) {
				buf = buf[:n]
				break
			}
			buf = make([]byte, 2*len(buf))
		}
		_, _ = w.Write(buf)
	})
}
