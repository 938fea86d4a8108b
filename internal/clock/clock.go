// Package clock provides the timer capability used by the gateway so that
// heartbeat scheduling can be driven by a fake clock in tests.
package clock

import (
	"sync"
	"time"
)

// Timer is a handle to a scheduled callback
type Timer interface {
	// Stop cancels the timer. It reports whether the call stopped a timer
	// that had not yet been cancelled.
	Stop() bool
}

// Scheduler schedules one-shot and recurring callbacks
type Scheduler interface {
	Now() time.Time
	After(d time.Duration, fn func()) Timer
	Every(d time.Duration, fn func()) Timer
}

// Real is a Scheduler backed by the runtime timers
type Real struct{}

// NewReal creates a wall-clock scheduler
func NewReal() *Real {
	return &Real{}
}

// Now returns the current time
func (Real) Now() time.Time {
	return time.Now()
}

// After runs fn on its own goroutine once d has elapsed
func (Real) After(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

// Every runs fn every d until stopped
func (Real) Every(d time.Duration, fn func()) Timer {
	t := &ticker{
		ticker: time.NewTicker(d),
		done:   make(chan struct{}),
	}
	go t.run(fn)
	return t
}

type ticker struct {
	ticker *time.Ticker
	done   chan struct{}
	once   sync.Once
}

func (t *ticker) run(fn func()) {
	defer t.ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-t.ticker.C:
			// Stop may race with a tick that was already delivered
			select {
			case <-t.done:
				return
			default:
			}
			fn()
		}
	}
}

func (t *ticker) Stop() bool {
	stopped := false
	t.once.Do(func() {
		close(t.done)
		stopped = true
	})
	return stopped
}
