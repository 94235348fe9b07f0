package strategy

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/automatedalgo/apex-sub000/internal/apexclock"
	"github.com/automatedalgo/apex-sub000/pkg/types"
)

func newTracker(window time.Duration, threshold float64, cooldown time.Duration, maxMultiple float64) *FlowTracker {
	return NewFlowTracker(apexclock.WallClock{}, window, threshold, cooldown, maxMultiple)
}

func fillAt(t time.Time, side types.Side) Fill {
	return Fill{
		Timestamp:     apexclock.FromTime(t),
		Side:          side,
		InstrumentKey: "binance:BTCUSDT",
		Price:         decimal.NewFromFloat(0.5),
		Size:          decimal.NewFromFloat(10.0),
	}
}

func TestFlowTracker_NoFills(t *testing.T) {
	ft := newTracker(60*time.Second, 0.6, 120*time.Second, 3.0)

	metrics := ft.CalculateToxicity()

	if metrics.ToxicityScore != 0 {
		t.Errorf("expected toxicity score 0 with no fills, got %f", metrics.ToxicityScore)
	}

	if metrics.IsAverse {
		t.Error("expected IsAverse to be false with no fills")
	}

	multiplier := ft.GetSpreadMultiplier()
	if multiplier != 1.0 {
		t.Errorf("expected spread multiplier 1.0 with no fills, got %f", multiplier)
	}
}

func TestFlowTracker_DirectionalImbalance(t *testing.T) {
	ft := newTracker(60*time.Second, 0.6, 120*time.Second, 3.0)

	// Add 5 consecutive BUY fills
	now := time.Now()
	for i := 0; i < 5; i++ {
		ft.AddFill(fillAt(now.Add(time.Duration(i)*time.Second), types.Buy))
	}

	metrics := ft.CalculateToxicity()

	// 100% of fills are BUY, so directional imbalance should be 1.0
	if metrics.DirectionalImbalance != 1.0 {
		t.Errorf("expected directional imbalance 1.0, got %f", metrics.DirectionalImbalance)
	}

	// Toxicity score should be >0.6 (threshold)
	if metrics.ToxicityScore <= 0.6 {
		t.Errorf("expected toxicity score >0.6 with 100%% imbalance, got %f", metrics.ToxicityScore)
	}

	if !metrics.IsAverse {
		t.Error("expected IsAverse to be true with 100% directional imbalance")
	}
}

func TestFlowTracker_BalancedFills(t *testing.T) {
	ft := newTracker(60*time.Second, 0.6, 120*time.Second, 3.0)

	// Add alternating BUY/SELL fills
	now := time.Now()
	for i := 0; i < 10; i++ {
		side := types.Buy
		if i%2 == 1 {
			side = types.Sell
		}
		ft.AddFill(fillAt(now.Add(time.Duration(i)*time.Second), side))
	}

	metrics := ft.CalculateToxicity()

	// 50/50 split, so directional imbalance should be 0.5
	if metrics.DirectionalImbalance != 0.5 {
		t.Errorf("expected directional imbalance 0.5, got %f", metrics.DirectionalImbalance)
	}

	// Note: Even balanced fills can have high velocity which contributes to toxicity
	// With 10 fills, velocity component might push score above 0.6
	// What matters is that IsAverse matches the threshold
	expectedAverse := metrics.ToxicityScore > 0.6
	if metrics.IsAverse != expectedAverse {
		t.Errorf("IsAverse mismatch: score=%f, threshold=0.6, IsAverse=%v", metrics.ToxicityScore, metrics.IsAverse)
	}
}

func TestFlowTracker_FillVelocity(t *testing.T) {
	ft := newTracker(60*time.Second, 0.6, 120*time.Second, 3.0)

	// Add 10 fills in rapid succession (within 5 seconds)
	now := time.Now()
	for i := 0; i < 10; i++ {
		ft.AddFill(fillAt(now.Add(time.Duration(i)*500*time.Millisecond), types.Buy))
	}

	metrics := ft.CalculateToxicity()

	// 10 fills over 5 seconds in a 60s window
	// Fill velocity should be high
	if metrics.FillVelocity <= 0 {
		t.Errorf("expected positive fill velocity, got %f", metrics.FillVelocity)
	}

	// High directional imbalance (100% BUY) + high velocity = high toxicity
	if metrics.ToxicityScore <= 0.6 {
		t.Errorf("expected high toxicity score with rapid directional fills, got %f", metrics.ToxicityScore)
	}
}

func TestFlowTracker_SpreadMultiplier(t *testing.T) {
	ft := newTracker(60*time.Second, 0.6, 120*time.Second, 3.0)

	// Initially should return 1.0 (no widening)
	if m := ft.GetSpreadMultiplier(); m != 1.0 {
		t.Errorf("expected initial multiplier 1.0, got %f", m)
	}

	// Add toxic fills
	now := time.Now()
	for i := 0; i < 5; i++ {
		ft.AddFill(fillAt(now.Add(time.Duration(i)*time.Second), types.Sell))
	}

	// Should widen spread
	multiplier := ft.GetSpreadMultiplier()
	if multiplier <= 1.0 {
		t.Errorf("expected multiplier >1.0 after toxic fills, got %f", multiplier)
	}

	if multiplier > 3.0 {
		t.Errorf("expected multiplier <=3.0 (max), got %f", multiplier)
	}
}

func TestFlowTracker_CooldownPeriod(t *testing.T) {
	// Very short window and cooldown for testing
	ft := newTracker(1*time.Second, 0.6, 2*time.Second, 3.0)

	// Add toxic fills with very recent timestamps
	now := time.Now()
	for i := 0; i < 5; i++ {
		ft.AddFill(fillAt(now.Add(time.Duration(i)*100*time.Millisecond), types.Buy))
	}

	// Should be toxic
	if !ft.IsFlowToxic() {
		t.Error("expected toxic flow")
	}

	// Multiplier should be widened
	m1 := ft.GetSpreadMultiplier()
	if m1 <= 1.0 {
		t.Errorf("expected widened spread during toxicity, got %f", m1)
	}

	// Wait for fills to age out of 1s window (but still in cooldown)
	time.Sleep(1500 * time.Millisecond)

	// Fills are now stale (outside 1s window), but cooldown hasn't expired yet
	// Should still have some widening due to cooldown
	m2 := ft.GetSpreadMultiplier()
	if m2 < 1.0 {
		t.Errorf("expected some widening during cooldown, got %f", m2)
	}

	// Wait for cooldown to fully expire
	time.Sleep(1 * time.Second)

	// Now both window and cooldown have expired, should return to 1.0
	m3 := ft.GetSpreadMultiplier()
	if m3 != 1.0 {
		t.Errorf("expected multiplier 1.0 after cooldown expires, got %f", m3)
	}
}

func TestFlowTracker_WindowEviction(t *testing.T) {
	// Short window for testing
	ft := newTracker(2*time.Second, 0.6, 5*time.Second, 3.0)

	// Add old fills (outside the 2s window)
	oldTime := time.Now().Add(-10 * time.Second)
	for i := 0; i < 3; i++ {
		ft.AddFill(fillAt(oldTime.Add(time.Duration(i)*100*time.Millisecond), types.Buy))
	}

	// Trigger eviction by calling CalculateToxicity
	ft.CalculateToxicity()

	// Old fills should be evicted
	count := ft.GetFillCount()
	if count != 0 {
		t.Errorf("expected 0 fills after eviction, got %d", count)
	}

	// Add fresh fill
	ft.AddFill(fillAt(time.Now(), types.Sell))

	count = ft.GetFillCount()
	if count != 1 {
		t.Errorf("expected 1 fill after adding fresh fill, got %d", count)
	}
}

func TestFlowTracker_Threshold(t *testing.T) {
	// Very high threshold - should not trigger adverse selection
	ft := newTracker(60*time.Second, 0.99, 120*time.Second, 3.0)

	// Add mixed fills to keep score below 0.99
	// Need at least one opposite side to avoid 100% directional imbalance
	now := time.Now()
	for i := 0; i < 4; i++ {
		ft.AddFill(fillAt(now.Add(time.Duration(i)*2*time.Second), types.Buy))
	}
	// Add one SELL to break 100% imbalance
	ft.AddFill(fillAt(now.Add(10*time.Second), types.Sell))

	metrics := ft.CalculateToxicity()

	// 4 BUY + 1 SELL = 80% directional imbalance
	// Score = 0.6 * 0.8 + 0.4 * velocity < 0.99
	if metrics.DirectionalImbalance != 0.8 {
		t.Errorf("expected directional imbalance 0.8 (4/5), got %f", metrics.DirectionalImbalance)
	}

	// Score should be below 0.99 threshold
	if metrics.ToxicityScore >= 0.99 {
		t.Logf("Score %f is at or above threshold 0.99", metrics.ToxicityScore)
	}

	if metrics.IsAverse {
		t.Errorf("expected not adverse with high threshold (0.99), got toxicity score %f", metrics.ToxicityScore)
	}

	// Spread should be 1.0 (not widened) since not adverse
	multiplier := ft.GetSpreadMultiplier()
	if multiplier != 1.0 {
		t.Errorf("expected no widening when not adverse, got multiplier %f", multiplier)
	}
}
