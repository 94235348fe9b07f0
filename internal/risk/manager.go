// Package risk enforces portfolio-level risk limits across all instruments
// a strategy process trades.
//
// The risk manager runs as a standalone goroutine that receives
// PositionReports from the strategy loop and checks them against configured
// limits:
//
//   - Per-instrument exposure: caps USD exposure in any single instrument
//   - Global exposure:         caps total USD exposure across all instruments
//   - Daily loss:              triggers kill switch if realized+unrealized PnL exceeds threshold
//   - Rapid price movement:    triggers kill switch if mid-price moves more than
//     KillSwitchDropPct within KillSwitchWindowSec seconds
//
// When a limit is breached, the manager emits a KillSignal on KillCh(). The
// caller reads this signal and cancels all orders (globally or per-instrument).
// After a kill, the kill switch stays active for CooldownAfterKill duration,
// during which the strategy skips quoting.
package risk

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/automatedalgo/apex-sub000/internal/config"
)

// PositionReport is sent by the strategy goroutine every quote cycle for one
// instrument. It contains the current inventory state and PnL for risk
// evaluation.
type PositionReport struct {
	InstrumentKey string // instrument.Instrument.Key()
	Qty           float64
	MidPrice      float64 // current mid price (used for price-movement detection)
	ExposureUSD   float64 // total position value in USD
	UnrealizedPnL float64 // mark-to-market PnL
	RealizedPnL   float64 // locked-in PnL from closed trades
	Timestamp     time.Time
}

// KillSignal tells the caller to cancel all orders. If InstrumentKey is
// empty, it means cancel across ALL instruments (global kill).
type KillSignal struct {
	InstrumentKey string // empty = kill ALL instruments
	Reason        string
}

// priceAnchor stores a reference price at a point in time for detecting
// rapid price movements within a rolling window.
type priceAnchor struct {
	price     float64
	timestamp time.Time
}

// Manager enforces risk limits across all active instruments. It aggregates
// position reports, checks limits, and emits kill signals when breached.
type Manager struct {
	cfg    config.RiskConfig
	logger *slog.Logger

	mu               sync.RWMutex
	positions        map[string]PositionReport // latest report per instrument
	totalExposure    float64                   // sum of all ExposureUSD
	totalRealizedPnL float64                   // sum of all RealizedPnL
	killSwitchActive bool                      // true while in cooldown
	killSwitchUntil  time.Time                 // when cooldown expires
	priceAnchors     map[string]priceAnchor    // reference prices for movement detection

	reportCh chan PositionReport // strategy goroutine writes here
	killCh   chan KillSignal     // caller reads kill signals from here
}

// NewManager creates a risk manager.
func NewManager(cfg config.RiskConfig, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:          cfg,
		logger:       logger.With("component", "risk"),
		positions:    make(map[string]PositionReport),
		priceAnchors: make(map[string]priceAnchor),
		reportCh:     make(chan PositionReport, 100),
		killCh:       make(chan KillSignal, 10),
	}
}

// Run starts the risk monitoring loop.
func (rm *Manager) Run(ctx context.Context) {
	// Periodic check clears kill switch even when no reports arrive
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case report := <-rm.reportCh:
			rm.processReport(report)
		case <-ticker.C:
			rm.clearExpiredKillSwitch()
		}
	}
}

// Report submits a position report (non-blocking).
func (rm *Manager) Report(report PositionReport) {
	select {
	case rm.reportCh <- report:
	default:
		rm.logger.Warn("risk report channel full, dropping report",
			"instrument", report.InstrumentKey)
	}
}

// KillCh returns the channel for reading kill signals.
func (rm *Manager) KillCh() <-chan KillSignal {
	return rm.killCh
}

// RemoveInstrument cleans up state for an instrument the strategy stopped
// trading.
func (rm *Manager) RemoveInstrument(key string) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	delete(rm.positions, key)
	delete(rm.priceAnchors, key)
}

// IsKillSwitchActive returns whether the kill switch is engaged.
func (rm *Manager) IsKillSwitchActive() bool {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if !rm.killSwitchActive {
		return false
	}
	if time.Now().After(rm.killSwitchUntil) {
		rm.killSwitchActive = false
		rm.logger.Info("kill switch cooldown expired")
		return false
	}
	return true
}

// RemainingBudget returns how much additional USD exposure is allowed for
// the given instrument. It takes the minimum of:
//   - per-instrument headroom: MaxPositionPerInstrument − current instrument exposure
//   - global headroom:        MaxGlobalExposure − total exposure across all instruments
//
// Returns 0 if either limit is already exceeded (the strategy will skip quoting).
func (rm *Manager) RemainingBudget(key string) float64 {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	var currentExposure float64
	if pos, ok := rm.positions[key]; ok {
		currentExposure = pos.ExposureUSD
	}

	perInstrument := rm.cfg.MaxPositionPerInstrument - currentExposure
	global := rm.cfg.MaxGlobalExposure - rm.totalExposure

	remaining := perInstrument
	if global < remaining {
		remaining = global
	}
	if remaining < 0 {
		return 0
	}
	return remaining
}

// GetRiskSnapshot returns current aggregate risk metrics for dashboard.
func (rm *Manager) GetRiskSnapshot() RiskSnapshot {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	var totalUnrealizedPnL float64
	for _, pos := range rm.positions {
		totalUnrealizedPnL += pos.UnrealizedPnL
	}

	var exposurePct float64
	if rm.cfg.MaxGlobalExposure > 0 {
		exposurePct = (rm.totalExposure / rm.cfg.MaxGlobalExposure) * 100
	}

	var killReason string
	if rm.killSwitchActive {
		killReason = "cooldown"
	}

	return RiskSnapshot{
		GlobalExposure:           rm.totalExposure,
		MaxGlobalExposure:        rm.cfg.MaxGlobalExposure,
		ExposurePct:              exposurePct,
		KillSwitchActive:         rm.killSwitchActive,
		KillSwitchUntil:          rm.killSwitchUntil,
		KillSwitchReason:         killReason,
		TotalRealizedPnL:         rm.totalRealizedPnL,
		TotalUnrealizedPnL:       totalUnrealizedPnL,
		MaxPositionPerInstrument: rm.cfg.MaxPositionPerInstrument,
		MaxDailyLoss:             rm.cfg.MaxDailyLoss,
		MaxInstrumentsActive:     rm.cfg.MaxInstrumentsActive,
		CurrentInstrumentsActive: len(rm.positions),
	}
}

// RiskSnapshot represents aggregate risk metrics for dashboard.
type RiskSnapshot struct {
	GlobalExposure           float64
	MaxGlobalExposure        float64
	ExposurePct              float64
	KillSwitchActive         bool
	KillSwitchUntil          time.Time
	KillSwitchReason         string
	TotalRealizedPnL         float64
	TotalUnrealizedPnL       float64
	MaxPositionPerInstrument float64
	MaxDailyLoss             float64
	MaxInstrumentsActive     int
	CurrentInstrumentsActive int
}

func (rm *Manager) processReport(report PositionReport) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	rm.positions[report.InstrumentKey] = report

	// Recalculate totals
	rm.totalExposure = 0
	rm.totalRealizedPnL = 0
	totalUnrealizedPnL := 0.0
	for _, pos := range rm.positions {
		rm.totalExposure += pos.ExposureUSD
		rm.totalRealizedPnL += pos.RealizedPnL
		totalUnrealizedPnL += pos.UnrealizedPnL
	}

	// Check per-instrument limit
	if report.ExposureUSD > rm.cfg.MaxPositionPerInstrument {
		rm.emitKill(report.InstrumentKey, "per-instrument position limit breached")
	}

	// Check global limit
	if rm.totalExposure > rm.cfg.MaxGlobalExposure {
		rm.emitKill("", "global exposure limit breached")
	}

	// Check daily loss
	totalPnL := rm.totalRealizedPnL + totalUnrealizedPnL
	if totalPnL < -rm.cfg.MaxDailyLoss {
		rm.emitKill("", "max daily loss breached")
	}

	// Check rapid price movement (kill switch)
	rm.checkPriceMovement(report)
}

// checkPriceMovement detects rapid price swings using a rolling anchor.
// On each report, it compares mid-price to the anchor set at the start of
// the window. If the anchor is older than KillSwitchWindowSec, it resets.
// If price moved more than KillSwitchDropPct from anchor, kill switch fires.
func (rm *Manager) checkPriceMovement(report PositionReport) {
	window := time.Duration(rm.cfg.KillSwitchWindowSec) * time.Second

	anchor, ok := rm.priceAnchors[report.InstrumentKey]
	if !ok || report.Timestamp.Sub(anchor.timestamp) > window {
		// No anchor or anchor expired; reset to current price
		rm.priceAnchors[report.InstrumentKey] = priceAnchor{
			price:     report.MidPrice,
			timestamp: report.Timestamp,
		}
		return
	}

	if anchor.price == 0 {
		return
	}

	pctChange := (report.MidPrice - anchor.price) / anchor.price
	if pctChange < 0 {
		pctChange = -pctChange
	}

	if pctChange > rm.cfg.KillSwitchDropPct {
		rm.emitKill(report.InstrumentKey, fmt.Sprintf(
			"rapid price movement: %.1f%% in %ds",
			pctChange*100, rm.cfg.KillSwitchWindowSec,
		))
	}
}

func (rm *Manager) clearExpiredKillSwitch() {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.killSwitchActive && time.Now().After(rm.killSwitchUntil) {
		rm.killSwitchActive = false
		rm.logger.Info("kill switch cooldown expired")
	}
}

// emitKill activates the kill switch, starts the cooldown timer, and sends
// a KillSignal to the caller. If the kill channel is full, it drains the
// stale signal first to ensure the latest kill reason is always delivered.
func (rm *Manager) emitKill(key, reason string) {
	rm.killSwitchActive = true
	rm.killSwitchUntil = time.Now().Add(rm.cfg.CooldownAfterKill)

	rm.logger.Error("KILL SWITCH",
		"instrument", key,
		"reason", reason,
		"cooldown_until", rm.killSwitchUntil,
	)

	// Drain stale signal if channel full, then send
	sig := KillSignal{InstrumentKey: key, Reason: reason}
	select {
	case rm.killCh <- sig:
	default:
		select {
		case <-rm.killCh:
		default:
		}
		rm.killCh <- sig
	}
}
