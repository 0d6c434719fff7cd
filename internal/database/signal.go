package database

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// NotifyShutdown returns a context that is canceled on the first SIGINT or
// SIGTERM. A canceled run that already stored a backup still rolls back, and
// that rollback ignores the cancellation, so later signals do not interrupt
// it: they are only passed to onSignal along with a running count.
//
// stop releases the handler and cancels the context.
func NotifyShutdown(parent context.Context, onSignal func(sig os.Signal, count int)) (ctx context.Context, stop context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	done := make(chan struct{})

	go func() {
		defer signal.Stop(sigChan)
		count := 0
		for {
			select {
			case sig := <-sigChan:
				count++
				if onSignal != nil {
					onSignal(sig, count)
				}
				cancel()
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return ctx, func() {
		once.Do(func() { close(done) })
		cancel()
	}
}
