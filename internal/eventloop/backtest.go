package eventloop

import (
	"log/slog"
	"time"

	"github.com/automatedalgo/apex-sub000/internal/apexclock"
)

// Source is an external feed of timestamped events the backtest loop merges
// with its own timer source, ported from the original's
// BacktestEventSource interface (BacktestEventLoop.hpp). A tick replayer is
// the canonical implementor.
type Source interface {
	NextEventTime() apexclock.Time
	ConsumeNextEvent()
	InitBacktestTimeRange(start, end apexclock.Time)
}

// pendingTimer is a timer registered before the loop's clock has been set,
// queued until the first call to SetFrom/RunLoop establishes a start time.
type pendingTimer struct {
	interval time.Duration
	fn       TimerFn
}

// btTimer is one scheduled timer callback, ordered by due time.
type btTimer struct {
	due time.Time
	fn  TimerFn
}

// backtestTimers folds DispatchTimer into the same Source interface as tick
// sources, so the merge loop treats "the next timer is due" identically to
// "the next tick is due" (mirrors the original's private BacktestTimers).
type backtestTimers struct {
	timers  []btTimer // sorted ascending by due
	pending []pendingTimer
}

func (t *backtestTimers) NextEventTime() apexclock.Time {
	if len(t.timers) == 0 {
		return apexclock.Empty
	}
	return apexclock.FromTime(t.timers[0].due)
}

func (t *backtestTimers) ConsumeNextEvent() {
	if len(t.timers) == 0 {
		return
	}
	due := t.timers[0].due
	fn := t.timers[0].fn
	t.timers = t.timers[1:]
	if repeat := fn(); repeat > 0 {
		t.schedule(due.Add(repeat), fn)
	}
}

func (t *backtestTimers) InitBacktestTimeRange(start, end apexclock.Time) {}

func (t *backtestTimers) addTimer(current apexclock.Time, interval time.Duration, fn TimerFn) {
	if current.IsEmpty() {
		t.pending = append(t.pending, pendingTimer{interval: interval, fn: fn})
		return
	}
	t.schedule(current.AsTime().Add(interval), fn)
}

func (t *backtestTimers) schedule(due time.Time, fn TimerFn) {
	i := 0
	for i < len(t.timers) && !t.timers[i].due.After(due) {
		i++
	}
	t.timers = append(t.timers, btTimer{})
	copy(t.timers[i+1:], t.timers[i:])
	t.timers[i] = btTimer{due: due, fn: fn}
}

func (t *backtestTimers) schedulePending(current apexclock.Time) {
	for _, p := range t.pending {
		t.schedule(current.AsTime().Add(p.interval), p.fn)
	}
	t.pending = nil
}

// Backtest is the deterministic, single-threaded event loop used in
// backtest run mode: no worker goroutine of its own, it merges
// timer callbacks with externally supplied tick-replay Sources by always
// consuming whichever source's next event time is earliest, ported from
// original_source/src/apex/util/BacktestEventLoop.{hpp,cpp}.
type Backtest struct {
	logger  *slog.Logger
	timers  *backtestTimers
	sources []Source
	current apexclock.Time
	from    apexclock.Time
}

// NewBacktest creates a Backtest loop. Unlike Realtime, it starts no
// goroutine: RunLoop must be called explicitly to drive it.
func NewBacktest(logger *slog.Logger) *Backtest {
	t := &backtestTimers{}
	return &Backtest{
		logger:  logger.With("component", "backtest-event-loop"),
		timers:  t,
		sources: []Source{t},
	}
}

// AddSource registers an external event source (typically a tick replayer)
// to be merged into the loop.
func (l *Backtest) AddSource(s Source) {
	l.sources = append(l.sources, s)
}

// SetFrom fixes the time RunLoop will start from; if never called, RunLoop
// starts from the earliest event across all sources.
func (l *Backtest) SetFrom(start apexclock.Time) {
	l.from = start
}

// Now returns the loop's current simulated time.
func (l *Backtest) Now() apexclock.Time { return l.current }

func (l *Backtest) findEarliest() (apexclock.Time, Source) {
	var earliest apexclock.Time
	var winner Source
	for _, s := range l.sources {
		t := s.NextEventTime()
		if t.IsEmpty() {
			continue
		}
		if earliest.IsEmpty() || t.Before(earliest) {
			earliest = t
			winner = s
		}
	}
	return earliest, winner
}

// updateCurrentTime enforces that time is monotonic non-decreasing: going
// backwards is a programming error in a tick source and panics rather than
// silently corrupting the replay.
func (l *Backtest) updateCurrentTime(t apexclock.Time) {
	if l.current == t {
		return
	}
	if l.current.IsEmpty() {
		l.logger.Info("setting backtest from-time", "time", t.AsISO8601())
		l.timers.schedulePending(t)
	} else if t.Before(l.current) {
		l.logger.Warn("attempt to set backtest time backwards", "current", l.current.AsISO8601(), "to", t.AsISO8601())
		panic("backtest time cannot go backwards")
	}
	l.current = t
}

// RunLoop drives the merge loop until either no source has a further event,
// or the loop's time reaches upto (if non-empty). A panicking callback
// terminates the loop rather than being recovered, matching the original's
// "log and return" behavior on an uncaught exception.
func (l *Backtest) RunLoop(upto apexclock.Time) {
	for _, s := range l.sources {
		s.InitBacktestTimeRange(l.from, upto)
	}

	if l.from.IsEmpty() {
		t, _ := l.findEarliest()
		l.updateCurrentTime(t)
	} else {
		l.updateCurrentTime(l.from)
	}

	l.logger.Info("starting backtest event loop")
	for {
		nextTime, nextSource := l.findEarliest()
		if nextSource == nil {
			l.logger.Info("backtest ran out of data")
			return
		}
		l.updateCurrentTime(nextTime)
		nextSource.ConsumeNextEvent()

		if !upto.IsEmpty() && upto.Before(l.current) {
			l.logger.Info("backtest reached end time")
			return
		}
	}
}

// Dispatch implements EventLoop: scheduled as a 1ms timer at the loop's
// current time, matching the original's dispatch-as-near-timer trick so an
// "immediate" callback still participates in the earliest-source merge.
func (l *Backtest) Dispatch(fn func()) {
	l.timers.addTimer(l.current, time.Millisecond, func() time.Duration {
		fn()
		return 0
	})
}

// DispatchTimer implements EventLoop.
func (l *Backtest) DispatchTimer(delay time.Duration, fn TimerFn) {
	l.timers.addTimer(l.current, delay, fn)
}

// ThisThreadIsEv implements EventLoop: always true, the loop is
// single-threaded by construction.
func (l *Backtest) ThisThreadIsEv() bool { return true }

// SyncStop implements EventLoop. RunLoop is synchronous and already
// returned by the time anyone could call SyncStop, so this is a no-op
// provided for interface conformance.
func (l *Backtest) SyncStop() {}
