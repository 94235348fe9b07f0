package eventloop

import (
	"container/list"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// event is the union of things that can sit on the realtime loop's queue,
// mirroring the original's Event/ev_function_dispatch/ev_timer_dispatch
// hierarchy (RealtimeEventLoop.cpp) as a closure instead of a tagged union;
// idiomatic Go has no need for the original's dynamic_cast dispatch.
type event struct {
	run func() time.Duration // returns non-zero to reschedule after that delay
}

type scheduled struct {
	due time.Time
	ev  *event
}

// Realtime is the event loop used in live and paper run modes: one
// goroutine, a mutex-guarded FIFO queue, and an ordered list of pending
// timers keyed by absolute deadline, ported from
// original_source/src/apex/util/RealtimeEventLoop.{hpp,cpp}.
type Realtime struct {
	onException ExceptionHandler
	onStart     func()
	onStop      func()
	logger      *slog.Logger

	mu        sync.Mutex
	cond      *sync.Cond
	queue     *list.List // of *event, FIFO
	schedule  []scheduled // sorted ascending by due; small N, linear insert is fine
	running   bool
	onLoopFn  atomic.Bool // true while the worker goroutine is inside a callback

	stopped chan struct{}
}

// NewRealtime starts the loop's worker goroutine immediately, matching the
// original's constructor-starts-the-thread behavior.
func NewRealtime(logger *slog.Logger, onException ExceptionHandler, onStart, onStop func()) *Realtime {
	l := &Realtime{
		onException: onException,
		onStart:     onStart,
		onStop:      onStop,
		logger:      logger.With("component", "realtime-event-loop"),
		queue:       list.New(),
		running:     true,
		stopped:     make(chan struct{}),
	}
	l.cond = sync.NewCond(&l.mu)
	go l.main()
	return l
}

func (l *Realtime) main() {
	defer close(l.stopped)
	if l.onStart != nil {
		l.safeCall(func() time.Duration { l.onStart(); return 0 })
	}
	l.loop()
	if l.onStop != nil {
		l.safeCall(func() time.Duration { l.onStop(); return 0 })
	}
}

func (l *Realtime) loop() {
	for {
		l.mu.Lock()
		for l.running && l.queue.Len() == 0 {
			now := time.Now()
			if len(l.schedule) == 0 {
				l.cond.Wait()
				continue
			}
			next := l.schedule[0].due
			if !next.After(now) {
				// pull due timers onto the queue
				i := 0
				for i < len(l.schedule) && !l.schedule[i].due.After(now) {
					l.queue.PushBack(l.schedule[i].ev)
					i++
				}
				l.schedule = l.schedule[i:]
				break
			}
			l.waitUntil(next)
		}
		if !l.running && l.queue.Len() == 0 {
			l.mu.Unlock()
			return
		}
		// drain the queue under lock, then run outside it
		var toRun []*event
		for l.queue.Len() > 0 {
			e := l.queue.Front()
			toRun = append(toRun, e.Value.(*event))
			l.queue.Remove(e)
		}
		l.mu.Unlock()

		for _, ev := range toRun {
			l.safeCall(ev.run)
		}
	}
}

// waitUntil releases the lock and sleeps until deadline or a new signal;
// must be called with l.mu held, and re-acquires it before returning (the
// way sync.Cond.Wait itself behaves, via a timer-driven broadcast).
func (l *Realtime) waitUntil(deadline time.Time) {
	d := time.Until(deadline)
	if d <= 0 {
		return
	}
	timer := time.AfterFunc(d, func() {
		l.mu.Lock()
		l.cond.Broadcast()
		l.mu.Unlock()
	})
	l.cond.Wait()
	timer.Stop()
}

func (l *Realtime) isRunning() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

func (l *Realtime) safeCall(fn func() time.Duration) {
	l.onLoopFn.Store(true)
	defer l.onLoopFn.Store(false)
	defer func() {
		if r := recover(); r != nil {
			l.handlePanic(r)
		}
	}()
	if repeat := fn(); repeat > 0 {
		l.scheduleAfter(repeat, fn)
	}
}

func (l *Realtime) handlePanic(r any) {
	if l.onException == nil {
		l.logger.Error("unhandled panic in event loop callback with no handler", "panic", r)
		return
	}
	func() {
		defer func() { recover() }() // the handler itself must never bring the loop down
		l.onException(r)
	}()
}

func (l *Realtime) scheduleAfter(delay time.Duration, run func() time.Duration) {
	due := time.Now().Add(delay)
	l.mu.Lock()
	l.insertScheduledLocked(scheduled{due: due, ev: &event{run: run}})
	l.cond.Broadcast()
	l.mu.Unlock()
}

func (l *Realtime) insertScheduledLocked(s scheduled) {
	i := 0
	for i < len(l.schedule) && !l.schedule[i].due.After(s.due) {
		i++
	}
	l.schedule = append(l.schedule, scheduled{})
	copy(l.schedule[i+1:], l.schedule[i:])
	l.schedule[i] = s
}

// Dispatch implements EventLoop.
func (l *Realtime) Dispatch(fn func()) {
	l.mu.Lock()
	l.queue.PushBack(&event{run: func() time.Duration { fn(); return 0 }})
	l.cond.Broadcast()
	l.mu.Unlock()
}

// DispatchTimer implements EventLoop.
func (l *Realtime) DispatchTimer(delay time.Duration, fn TimerFn) {
	l.scheduleAfter(delay, fn)
}

// ThisThreadIsEv implements EventLoop. It is accurate only when called from
// inside a dispatched callback (the only place user code legitimately needs
// it): Go has no portable goroutine-identity primitive, so the loop tracks
// "a callback is currently executing on the worker" instead of comparing
// thread ids the way the original does.
func (l *Realtime) ThisThreadIsEv() bool {
	return l.onLoopFn.Load()
}

// SyncStop implements EventLoop: posts a stop request and blocks until the
// worker goroutine has drained its queue and exited.
func (l *Realtime) SyncStop() {
	l.mu.Lock()
	l.running = false
	l.cond.Broadcast()
	l.mu.Unlock()
	<-l.stopped
}
