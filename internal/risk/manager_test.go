package risk

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/automatedalgo/apex-sub000/internal/config"
)

func testRiskConfig() config.RiskConfig {
	return config.RiskConfig{
		MaxPositionPerInstrument: 100,
		MaxGlobalExposure:        500,
		MaxInstrumentsActive:     5,
		KillSwitchDropPct:        0.10, // 10%
		KillSwitchWindowSec:      60,
		MaxDailyLoss:             50,
		CooldownAfterKill:        5 * time.Minute,
	}
}

func newTestManager() *Manager {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewManager(testRiskConfig(), logger)
}

func TestProcessReportUnderLimits(t *testing.T) {
	t.Parallel()
	rm := newTestManager()

	rm.processReport(PositionReport{
		InstrumentKey: "binance:BTCUSDT",
		ExposureUSD:   50,
		RealizedPnL:   0,
		UnrealizedPnL: 0,
		MidPrice:      50000,
		Timestamp:     time.Now(),
	})

	if rm.killSwitchActive {
		t.Error("kill switch should not fire for report under limits")
	}

	select {
	case sig := <-rm.killCh:
		t.Errorf("unexpected kill signal: %+v", sig)
	default:
	}
}

func TestProcessReportPerInstrumentBreach(t *testing.T) {
	t.Parallel()
	rm := newTestManager()

	rm.processReport(PositionReport{
		InstrumentKey: "binance:BTCUSDT",
		ExposureUSD:   150, // exceeds 100 limit
		MidPrice:      50000,
		Timestamp:     time.Now(),
	})

	if !rm.killSwitchActive {
		t.Error("kill switch should fire for per-instrument breach")
	}

	select {
	case sig := <-rm.killCh:
		if sig.InstrumentKey != "binance:BTCUSDT" {
			t.Errorf("kill signal instrument = %q, want binance:BTCUSDT", sig.InstrumentKey)
		}
	default:
		t.Error("expected kill signal on channel")
	}
}

func TestProcessReportGlobalBreach(t *testing.T) {
	t.Parallel()
	rm := newTestManager()

	// Submit multiple instruments that together exceed the global limit.
	rm.processReport(PositionReport{InstrumentKey: "i1", ExposureUSD: 90, MidPrice: 50000, Timestamp: time.Now()})
	rm.processReport(PositionReport{InstrumentKey: "i2", ExposureUSD: 90, MidPrice: 50000, Timestamp: time.Now()})
	rm.processReport(PositionReport{InstrumentKey: "i3", ExposureUSD: 90, MidPrice: 50000, Timestamp: time.Now()})
	rm.processReport(PositionReport{InstrumentKey: "i4", ExposureUSD: 90, MidPrice: 50000, Timestamp: time.Now()})
	rm.processReport(PositionReport{InstrumentKey: "i5", ExposureUSD: 90, MidPrice: 50000, Timestamp: time.Now()})
	rm.processReport(PositionReport{InstrumentKey: "i6", ExposureUSD: 90, MidPrice: 50000, Timestamp: time.Now()})

	// Total = 540 > 500 global limit.
	if !rm.killSwitchActive {
		t.Error("kill switch should fire for global exposure breach")
	}

	drained := 0
	for {
		select {
		case <-rm.killCh:
			drained++
		default:
			goto done
		}
	}
done:
	if drained == 0 {
		t.Error("expected at least one kill signal")
	}
}

func TestProcessReportDailyLossBreach(t *testing.T) {
	t.Parallel()
	rm := newTestManager()

	rm.processReport(PositionReport{
		InstrumentKey: "i1",
		ExposureUSD:   10,
		RealizedPnL:   -30,
		UnrealizedPnL: -25,
		MidPrice:      50000,
		Timestamp:     time.Now(),
	})

	// total PnL = -30 + -25 = -55 < -50 threshold
	if !rm.killSwitchActive {
		t.Error("kill switch should fire for daily loss breach")
	}
}

func TestCheckPriceMovementNormal(t *testing.T) {
	t.Parallel()
	rm := newTestManager()

	now := time.Now()

	rm.processReport(PositionReport{
		InstrumentKey: "i1",
		MidPrice:      50000,
		Timestamp:     now,
	})

	rm.processReport(PositionReport{
		InstrumentKey: "i1",
		MidPrice:      52000, // 4% move, below 10% threshold
		Timestamp:     now.Add(10 * time.Second),
	})

	select {
	case <-rm.killCh:
		t.Error("should not fire kill for 4% move")
	default:
	}
}

func TestCheckPriceMovementSpike(t *testing.T) {
	t.Parallel()
	rm := newTestManager()

	now := time.Now()

	rm.processReport(PositionReport{
		InstrumentKey: "i1",
		MidPrice:      50000,
		Timestamp:     now,
	})

	rm.processReport(PositionReport{
		InstrumentKey: "i1",
		MidPrice:      35000, // 30% drop, exceeds 10% threshold
		Timestamp:     now.Add(10 * time.Second),
	})

	if !rm.killSwitchActive {
		t.Error("kill switch should fire for 30% price spike")
	}
}

func TestRemainingBudget(t *testing.T) {
	t.Parallel()
	rm := newTestManager()

	// No position -> full budget.
	remaining := rm.RemainingBudget("i1")
	if remaining != 100 { // min(per-instrument 100, global 500)
		t.Errorf("remaining = %v, want 100", remaining)
	}

	rm.processReport(PositionReport{
		InstrumentKey: "i1",
		ExposureUSD:   60,
		MidPrice:      50000,
		Timestamp:     time.Now(),
	})

	remaining = rm.RemainingBudget("i1")
	if remaining != 40 { // 100 - 60 = 40 per-instrument; 500 - 60 = 440 global; min = 40
		t.Errorf("remaining = %v, want 40", remaining)
	}
}

func TestRemainingBudgetGlobalConstrained(t *testing.T) {
	t.Parallel()
	rm := newTestManager()

	for i := 0; i < 5; i++ {
		rm.processReport(PositionReport{
			InstrumentKey: "other-" + string(rune('A'+i)),
			ExposureUSD:   95,
			MidPrice:      50000,
			Timestamp:     time.Now(),
		})
	}
	for {
		select {
		case <-rm.killCh:
		default:
			goto done2
		}
	}
done2:

	// Total exposure = 475. Global remaining = 500 - 475 = 25.
	// Per-instrument i1 = 100 (no position). Min(100, 25) = 25.
	remaining := rm.RemainingBudget("i1")
	if remaining != 25 {
		t.Errorf("remaining = %v, want 25 (global constrained)", remaining)
	}
}

func TestIsKillSwitchCooldown(t *testing.T) {
	t.Parallel()
	rm := newTestManager()

	rm.cfg.CooldownAfterKill = 100 * time.Millisecond
	rm.processReport(PositionReport{
		InstrumentKey: "i1",
		ExposureUSD:   200, // exceeds per-instrument limit
		MidPrice:      50000,
		Timestamp:     time.Now(),
	})

	if !rm.IsKillSwitchActive() {
		t.Error("kill switch should be active immediately after breach")
	}

	time.Sleep(150 * time.Millisecond)

	if rm.IsKillSwitchActive() {
		t.Error("kill switch should expire after cooldown")
	}
}

func TestRemoveInstrumentTotalsRecomputedOnNextReport(t *testing.T) {
	t.Parallel()
	rm := newTestManager()

	now := time.Now()
	rm.processReport(PositionReport{InstrumentKey: "i1", ExposureUSD: 60, RealizedPnL: 5, MidPrice: 50000, Timestamp: now})
	rm.processReport(PositionReport{InstrumentKey: "i2", ExposureUSD: 70, RealizedPnL: 3, MidPrice: 50000, Timestamp: now})

	if got := rm.totalExposure; got != 130 {
		t.Fatalf("totalExposure before remove = %v, want 130", got)
	}
	if got := rm.totalRealizedPnL; got != 8 {
		t.Fatalf("totalRealizedPnL before remove = %v, want 8", got)
	}

	rm.RemoveInstrument("i2")

	if got := rm.totalExposure; got != 130 {
		t.Fatalf("totalExposure unaffected by RemoveInstrument alone = %v, want 130", got)
	}

	rm.processReport(PositionReport{InstrumentKey: "i1", ExposureUSD: 60, RealizedPnL: 5, MidPrice: 50000, Timestamp: now})
	if got := rm.totalExposure; got != 60 {
		t.Fatalf("totalExposure after i2 removed and i1 re-reported = %v, want 60", got)
	}
}
