// Package daemon provides the shared tick loop the three daemon shells
// (dump-server, restore-server, check-server) drive their scans from, per
// spec §4.4: a daemon shell's per-tick scan may fail as a whole; running as
// a daemon that failure is logged and the next tick is scheduled, running
// --once it is returned to the caller.
package daemon

import (
	"context"
	"log"
	"time"
)

// Tick is one scan-and-dispatch pass of a daemon shell.
type Tick func(ctx context.Context) error

// Run drives tick on interval until ctx is cancelled. If once is true, Run
// calls tick exactly one time and returns its error directly. Otherwise a
// tick error is logged and the loop continues to the next interval.
func Run(ctx context.Context, name string, interval time.Duration, once bool, logger *log.Logger, tick Tick) error {
	if logger == nil {
		logger = log.Default()
	}

	if once {
		return tick(ctx)
	}

	for {
		if err := tick(ctx); err != nil {
			logger.Printf("%s: tick error: %v", name, err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval):
		}
	}
}

// Semaphore bounds concurrent dispatch of per-job workers to size slots,
// used by each daemon shell's tick to cap how many jobs it drives at once.
type Semaphore chan struct{}

// NewSemaphore returns a Semaphore allowing up to size concurrent holders.
// A non-positive size is treated as 1.
func NewSemaphore(size int) Semaphore {
	if size <= 0 {
		size = 1
	}
	return make(Semaphore, size)
}

// Acquire blocks until a slot is free.
func (s Semaphore) Acquire() { s <- struct{}{} }

// Release frees a slot.
func (s Semaphore) Release() { <-s }
