package eventloop

import (
	"testing"
	"time"

	"github.com/automatedalgo/apex-sub000/internal/apexclock"
)

// tickSource is a minimal Source implementation for tests: a fixed,
// pre-sorted list of event times that get consumed one at a time.
type tickSource struct {
	times []apexclock.Time
	i     int
	onConsume func(apexclock.Time)
}

func (s *tickSource) NextEventTime() apexclock.Time {
	if s.i >= len(s.times) {
		return apexclock.Empty
	}
	return s.times[s.i]
}

func (s *tickSource) ConsumeNextEvent() {
	t := s.times[s.i]
	s.i++
	if s.onConsume != nil {
		s.onConsume(t)
	}
}

func (s *tickSource) InitBacktestTimeRange(start, end apexclock.Time) {}

func TestBacktestConsumesInNonDecreasingOrder(t *testing.T) {
	t.Parallel()
	l := NewBacktest(testLogger())

	base := apexclock.FromUnixMicro(1_700_000_000_000_000)
	src := &tickSource{times: []apexclock.Time{
		base.Add(1 * time.Second),
		base.Add(2 * time.Second),
		base.Add(5 * time.Second),
	}}
	l.AddSource(src)

	var consumed []apexclock.Time
	src.onConsume = func(tt apexclock.Time) { consumed = append(consumed, tt) }

	l.RunLoop(apexclock.Empty)

	if len(consumed) != 3 {
		t.Fatalf("consumed %d events, want 3", len(consumed))
	}
	for i := 1; i < len(consumed); i++ {
		if consumed[i].Before(consumed[i-1]) {
			t.Errorf("event order not non-decreasing: %v before %v", consumed[i], consumed[i-1])
		}
	}
}

func TestBacktestMergesTimerWithSource(t *testing.T) {
	t.Parallel()
	l := NewBacktest(testLogger())

	base := apexclock.FromUnixMicro(1_700_000_000_000_000)
	src := &tickSource{times: []apexclock.Time{base.Add(10 * time.Second)}}
	l.AddSource(src)
	l.SetFrom(base)

	var timerFired bool
	l.DispatchTimer(2*time.Second, func() time.Duration {
		timerFired = true
		return 0
	})

	l.RunLoop(apexclock.Empty)

	if !timerFired {
		t.Error("timer scheduled before the tick event should have fired")
	}
}

func TestBacktestStopsAtUpto(t *testing.T) {
	t.Parallel()
	l := NewBacktest(testLogger())

	base := apexclock.FromUnixMicro(1_700_000_000_000_000)
	src := &tickSource{times: []apexclock.Time{
		base.Add(1 * time.Second),
		base.Add(10 * time.Second),
		base.Add(20 * time.Second),
	}}
	l.AddSource(src)

	l.RunLoop(base.Add(5 * time.Second))

	if src.i >= len(src.times) {
		t.Error("loop should have stopped before exhausting the source once upto was reached")
	}
}

func TestBacktestPanicsOnBackwardsTime(t *testing.T) {
	t.Parallel()
	l := NewBacktest(testLogger())
	l.current = apexclock.FromUnixMicro(2_000_000_000_000_000)

	defer func() {
		if r := recover(); r == nil {
			t.Error("expected a panic when time moves backwards")
		}
	}()
	l.updateCurrentTime(apexclock.FromUnixMicro(1_000_000_000_000_000))
}

func TestBacktestThisThreadIsEvAlwaysTrue(t *testing.T) {
	t.Parallel()
	l := NewBacktest(testLogger())
	if !l.ThisThreadIsEv() {
		t.Error("backtest loop is single-threaded, ThisThreadIsEv must be true")
	}
}
