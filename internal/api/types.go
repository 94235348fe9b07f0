package api

import (
	"time"

	"github.com/automatedalgo/apex-sub000/internal/config"
)

// DashboardSnapshot represents the complete dashboard state.
type DashboardSnapshot struct {
	Timestamp time.Time `json:"timestamp"`

	Instruments []InstrumentStatus `json:"instruments"`

	TotalRealized   float64 `json:"total_realized"`
	TotalUnrealized float64 `json:"total_unrealized"`
	TotalPnL        float64 `json:"total_pnl"`

	Risk   RiskSnapshot  `json:"risk"`
	Config ConfigSummary `json:"config"`
}

// InstrumentStatus represents per-instrument dashboard state, one
// venue/symbol pair per entry.
type InstrumentStatus struct {
	InstrumentKey string `json:"instrument_key"` // exchange:symbol

	MidPrice    float64   `json:"mid_price"`
	BestBid     float64   `json:"best_bid"`
	BestAsk     float64   `json:"best_ask"`
	Spread      float64   `json:"spread"`
	SpreadBps   float64   `json:"spread_bps"`
	LastUpdated time.Time `json:"last_updated"`
	IsStale     bool      `json:"is_stale"`

	Position PositionSnapshot `json:"position"`

	ActiveBid        *QuoteInfo `json:"active_bid,omitempty"`
	ActiveAsk        *QuoteInfo `json:"active_ask,omitempty"`
	ReservationPrice float64    `json:"reservation_price"`
	OptimalSpread    float64    `json:"optimal_spread"`

	TickSize float64 `json:"tick_size"`
}

// PositionSnapshot represents position and P&L for an instrument.
type PositionSnapshot struct {
	NetQty        float64   `json:"net_qty"`
	AvgBuyPrice   float64   `json:"avg_buy_price"`
	AvgSellPrice  float64   `json:"avg_sell_price"`
	RealizedPnL   float64   `json:"realized_pnl"`
	UnrealizedPnL float64   `json:"unrealized_pnl"`
	ExposureUSD   float64   `json:"exposure_usd"`
	Skew          float64   `json:"skew"` // [-1, 1]
	LastUpdated   time.Time `json:"last_updated"`
}

// QuoteInfo represents a single quote (bid or ask).
type QuoteInfo struct {
	Price     float64   `json:"price"`
	Size      float64   `json:"size"`
	OrderID   string    `json:"order_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// RiskSnapshot represents aggregate risk metrics.
type RiskSnapshot struct {
	GlobalExposure    float64 `json:"global_exposure"`
	MaxGlobalExposure float64 `json:"max_global_exposure"`
	ExposurePct       float64 `json:"exposure_pct"`

	KillSwitchActive bool      `json:"kill_switch_active"`
	KillSwitchUntil  time.Time `json:"kill_switch_until,omitempty"`
	KillSwitchReason string    `json:"kill_switch_reason,omitempty"`

	TotalRealizedPnL   float64 `json:"total_realized_pnl"`
	TotalUnrealizedPnL float64 `json:"total_unrealized_pnl"`

	MaxPositionPerInstrument float64 `json:"max_position_per_instrument"`
	MaxDailyLoss             float64 `json:"max_daily_loss"`
	MaxInstrumentsActive     int     `json:"max_instruments_active"`
	CurrentInstrumentsActive int     `json:"current_instruments_active"`
}

// ConfigSummary represents strategy and risk configuration.
type ConfigSummary struct {
	Gamma            float64 `json:"gamma"`
	Sigma            float64 `json:"sigma"`
	K                float64 `json:"k"`
	T                float64 `json:"t"`
	DefaultSpreadBps int     `json:"default_spread_bps"`
	OrderSize        float64 `json:"order_size"`
	RefreshInterval  string  `json:"refresh_interval"`
	StaleBookTimeout string  `json:"stale_book_timeout"`

	MaxPositionPerInstrument float64 `json:"max_position_per_instrument"`
	MaxGlobalExposure        float64 `json:"max_global_exposure"`
	MaxInstrumentsActive     int     `json:"max_instruments_active"`
	KillSwitchDropPct        float64 `json:"kill_switch_drop_pct"`
	KillSwitchWindowSec      int     `json:"kill_switch_window_sec"`
	MaxDailyLoss             float64 `json:"max_daily_loss"`
	CooldownAfterKill        string  `json:"cooldown_after_kill"`

	RunMode string `json:"run_mode"`
	DryRun  bool   `json:"dry_run"`
}

// NewConfigSummary creates a config summary from a strategy config.
func NewConfigSummary(cfg config.StrategyConfig) ConfigSummary {
	return ConfigSummary{
		Gamma:            cfg.Strategy.Gamma,
		Sigma:            cfg.Strategy.Sigma,
		K:                cfg.Strategy.K,
		T:                cfg.Strategy.T,
		DefaultSpreadBps: cfg.Strategy.DefaultSpreadBps,
		OrderSize:        cfg.Strategy.OrderSize,
		RefreshInterval:  cfg.Strategy.RefreshInterval.String(),
		StaleBookTimeout: cfg.Strategy.StaleBookTimeout.String(),

		MaxPositionPerInstrument: cfg.Risk.MaxPositionPerInstrument,
		MaxGlobalExposure:        cfg.Risk.MaxGlobalExposure,
		MaxInstrumentsActive:     cfg.Risk.MaxInstrumentsActive,
		KillSwitchDropPct:        cfg.Risk.KillSwitchDropPct,
		KillSwitchWindowSec:      cfg.Risk.KillSwitchWindowSec,
		MaxDailyLoss:             cfg.Risk.MaxDailyLoss,
		CooldownAfterKill:        cfg.Risk.CooldownAfterKill.String(),

		RunMode: cfg.RunMode,
		DryRun:  cfg.DryRun,
	}
}
