package api

import (
	"time"

	"github.com/automatedalgo/apex-sub000/internal/config"
	"github.com/automatedalgo/apex-sub000/internal/risk"
)

// MarketSnapshotProvider provides snapshot access to strategy state.
type MarketSnapshotProvider interface {
	GetInstrumentsSnapshot() []InstrumentStatus
	GetRiskManager() *risk.Manager
}

// BuildSnapshot aggregates state from all components into a dashboard
// snapshot.
func BuildSnapshot(provider MarketSnapshotProvider, cfg config.StrategyConfig) DashboardSnapshot {
	instruments := provider.GetInstrumentsSnapshot()

	riskMgr := provider.GetRiskManager()
	riskSnap := riskMgr.GetRiskSnapshot()

	var totalRealized, totalUnrealized float64
	for _, inst := range instruments {
		totalRealized += inst.Position.RealizedPnL
		totalUnrealized += inst.Position.UnrealizedPnL
	}

	return DashboardSnapshot{
		Timestamp:       time.Now(),
		Instruments:     instruments,
		TotalRealized:   totalRealized,
		TotalUnrealized: totalUnrealized,
		TotalPnL:        totalRealized + totalUnrealized,
		Risk:            convertRiskSnapshot(riskSnap),
		Config:          NewConfigSummary(cfg),
	}
}

// convertRiskSnapshot converts the internal risk snapshot to API format.
func convertRiskSnapshot(snap risk.RiskSnapshot) RiskSnapshot {
	return RiskSnapshot{
		GlobalExposure:           snap.GlobalExposure,
		MaxGlobalExposure:        snap.MaxGlobalExposure,
		ExposurePct:              snap.ExposurePct,
		KillSwitchActive:         snap.KillSwitchActive,
		KillSwitchUntil:          snap.KillSwitchUntil,
		KillSwitchReason:         snap.KillSwitchReason,
		TotalRealizedPnL:         snap.TotalRealizedPnL,
		TotalUnrealizedPnL:       snap.TotalUnrealizedPnL,
		MaxPositionPerInstrument: snap.MaxPositionPerInstrument,
		MaxDailyLoss:             snap.MaxDailyLoss,
		MaxInstrumentsActive:     snap.MaxInstrumentsActive,
		CurrentInstrumentsActive: snap.CurrentInstrumentsActive,
	}
}
