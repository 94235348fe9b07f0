package strategy

import (
	"sync"

	"github.com/shopspring/decimal"

	"github.com/automatedalgo/apex-sub000/internal/apexclock"
	"github.com/automatedalgo/apex-sub000/pkg/types"
)

// Position is the inventory state for a single instrument: a startup
// quantity carried over from a prior run plus the cumulative buy/sell
// quantity and cost accumulated since. Net, turnover, and PnL are derived
// rather than stored, so persistence only ever needs the five raw fields.
type Position struct {
	StartupQty decimal.Decimal `json:"startup_qty"`
	BuyQty     decimal.Decimal `json:"buy_qty"`
	SellQty    decimal.Decimal `json:"sell_qty"`
	BuyCost    decimal.Decimal `json:"buy_cost"`
	SellCost   decimal.Decimal `json:"sell_cost"`
}

// Net returns startup + buy − sell: the current holding.
func (p Position) Net() decimal.Decimal {
	return p.StartupQty.Add(p.BuyQty).Sub(p.SellQty)
}

// Turnover returns the total notional bought plus sold.
func (p Position) Turnover() decimal.Decimal {
	return p.BuyCost.Add(p.SellCost)
}

// AvgBuyPrice returns BuyCost/BuyQty, or zero if nothing has been bought.
func (p Position) AvgBuyPrice() decimal.Decimal {
	if p.BuyQty.IsZero() {
		return decimal.Zero
	}
	return p.BuyCost.Div(p.BuyQty)
}

// AvgSellPrice returns SellCost/SellQty, or zero if nothing has been sold.
func (p Position) AvgSellPrice() decimal.Decimal {
	if p.SellQty.IsZero() {
		return decimal.Zero
	}
	return p.SellCost.Div(p.SellQty)
}

// RealizedPnL is the usual realized-PnL formula: the quantity matched
// between buys and sells, valued at the spread between their average
// prices. It ignores the startup quantity, which carries no cost basis.
func (p Position) RealizedPnL() decimal.Decimal {
	matched := decimal.Min(p.BuyQty, p.SellQty)
	if matched.IsZero() {
		return decimal.Zero
	}
	return matched.Mul(p.AvgSellPrice().Sub(p.AvgBuyPrice()))
}

// UnrealizedPnL marks the current net holding to mark, against the average
// cost of whichever side built that holding (buys for a net-long position,
// sells for a net-short one).
func (p Position) UnrealizedPnL(mark decimal.Decimal) decimal.Decimal {
	net := p.Net()
	if net.IsZero() {
		return decimal.Zero
	}
	if net.IsPositive() {
		return net.Mul(mark.Sub(p.AvgBuyPrice()))
	}
	return net.Neg().Mul(p.AvgSellPrice().Sub(mark))
}

// applyFill returns the Position that results from a fill of size at price
// on the given side.
func (p Position) applyFill(side types.Side, price, size decimal.Decimal) Position {
	switch side {
	case types.Buy:
		p.BuyQty = p.BuyQty.Add(size)
		p.BuyCost = p.BuyCost.Add(price.Mul(size))
	case types.Sell:
		p.SellQty = p.SellQty.Add(size)
		p.SellCost = p.SellCost.Add(price.Mul(size))
	}
	return p
}

// Fill records a single execution against an instrument, independent of
// which venue or order produced it.
type Fill struct {
	Timestamp     apexclock.Time
	Side          types.Side
	InstrumentKey string
	Price         decimal.Decimal
	Size          decimal.Decimal
	TradeID       string
}

// Inventory tracks the Position for one instrument and the mark-to-market
// PnL derived from it. Thread-safe via RWMutex since fills and quote
// refreshes may run on different goroutines in live mode.
type Inventory struct {
	mu            sync.RWMutex
	key           string
	pos           Position
	unrealizedPnL decimal.Decimal
	updated       apexclock.Time
}

// NewInventory creates inventory tracking for an instrument, seeded with a
// startup quantity restored from a prior run (zero for a fresh start).
func NewInventory(key string, startupQty decimal.Decimal) *Inventory {
	return &Inventory{
		key: key,
		pos: Position{StartupQty: startupQty},
	}
}

// OnFill applies a fill to the position.
func (inv *Inventory) OnFill(now apexclock.Time, side types.Side, price, size decimal.Decimal) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.pos = inv.pos.applyFill(side, price, size)
	inv.updated = now
}

// Snapshot returns a copy of the current position.
func (inv *Inventory) Snapshot() Position {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	return inv.pos
}

// NetQty returns the current net holding.
func (inv *Inventory) NetQty() decimal.Decimal {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	return inv.pos.Net()
}

// Skew returns the net holding as a fraction of maxInventory, clamped to
// [-1, 1], used to skew quotes toward flattening the position. A zero or
// negative maxInventory returns 0 (no skew signal available).
func (inv *Inventory) Skew(maxInventory decimal.Decimal) float64 {
	inv.mu.RLock()
	net := inv.pos.Net()
	inv.mu.RUnlock()

	if !maxInventory.IsPositive() {
		return 0
	}
	skew, _ := net.Div(maxInventory).Float64()
	if skew > 1 {
		skew = 1
	} else if skew < -1 {
		skew = -1
	}
	return skew
}

// TotalExposureUSD returns the dollar value of the net holding at mark.
func (inv *Inventory) TotalExposureUSD(mark decimal.Decimal) decimal.Decimal {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	return inv.pos.Net().Mul(mark).Abs()
}

// UpdateMarkToMarket recalculates unrealized PnL at the given mark price.
func (inv *Inventory) UpdateMarkToMarket(mark decimal.Decimal) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.unrealizedPnL = inv.pos.UnrealizedPnL(mark)
}

// UnrealizedPnL returns the PnL computed by the last UpdateMarkToMarket.
func (inv *Inventory) UnrealizedPnL() decimal.Decimal {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	return inv.unrealizedPnL
}

// RealizedPnL returns the position's realized PnL.
func (inv *Inventory) RealizedPnL() decimal.Decimal {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	return inv.pos.RealizedPnL()
}

// SetPosition restores position from persistence (used on restart).
func (inv *Inventory) SetPosition(pos Position) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.pos = pos
}
