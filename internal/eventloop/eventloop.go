// Package eventloop implements the single-threaded cooperative scheduler
// every component runs behind, as one interface with two implementations:
// Realtime (one OS thread, timer wheel, mutex queue) and Backtest (no
// thread of its own, merges timed callbacks with external tick-replay
// event sources).
package eventloop

import "time"

// TimerFn is a timer callback. A non-zero returned duration reschedules the
// timer after that delay; zero cancels it.
type TimerFn func() time.Duration

// ExceptionHandler is invoked by the Realtime loop when a dispatched
// callback panics. The Realtime loop does not use the returned value: it
// goes on with the next callback whatever the handler returns. The Backtest
// loop takes no handler; a panicking callback there ends RunLoop.
type ExceptionHandler func(recovered any) bool

// EventLoop is the uniform contract both implementations satisfy.
type EventLoop interface {
	// Dispatch runs fn on the loop thread, FIFO relative to other
	// Dispatch calls from the same caller.
	Dispatch(fn func())

	// DispatchTimer runs fn after delay; if fn returns a non-zero
	// duration, it's rescheduled with that delay.
	DispatchTimer(delay time.Duration, fn TimerFn)

	// ThisThreadIsEv reports whether the calling goroutine is the loop's
	// own worker (Realtime) or always true (Backtest, single-threaded by
	// construction).
	ThisThreadIsEv() bool

	// SyncStop blocks until the loop has drained and exited.
	SyncStop()
}
