// Package audit writes the append-only per-transaction CSV trail every
// strategy process keeps of every order and fill event, ported from
// original_source/src/apex/core/Auditor.{hpp,cpp}. One file is opened per
// process lifetime, named audit-transactions-<start-time>.csv; the caller
// is responsible for periodically calling Flush (the original dispatches
// this as a 5-second event-loop timer).
package audit

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/automatedalgo/apex-sub000/internal/apexclock"
	"github.com/automatedalgo/apex-sub000/pkg/types"
)

// columns is the transactions file's header, ported column-for-column from
// Auditor.cpp's constructor (strat_id moved up front here; the original's
// ordering otherwise, including the now-unused iside, is preserved for
// anyone diffing a transactions file against the original tool's output).
var columns = []string{
	"time", "strategy_id", "symbol", "venue", "event",
	"order_state", "order_id", "side", "qty", "price", "value_usd",
	"done_qty", "remain_qty",
	"fill_qty", "fill_price",
	"exch_order_id",
	"buy_qty", "sell_qty", "net_qty", "buy_cost", "sell_cost", "turnover", "total_pnl",
	"bid", "ask", "last", "last_qty", "last_time", "iside",
}

// Entry is one row of the transactions file: an order lifecycle event,
// optionally carrying a fill, plus the position and market snapshot at the
// time it was recorded.
type Entry struct {
	Time       apexclock.Time
	StrategyID string
	Symbol     string
	Venue      string
	IsFill     bool

	OrderState string
	OrderID    string
	ExtOrderID string
	Side       types.Side
	Qty        decimal.Decimal
	Price      decimal.Decimal
	DoneQty    decimal.Decimal
	RemainQty  decimal.Decimal

	FillQty   decimal.Decimal
	FillPrice decimal.Decimal

	BuyQty, SellQty, NetQty     decimal.Decimal
	BuyCost, SellCost, Turnover decimal.Decimal
	TotalPnL                    decimal.Decimal

	Bid, Ask, Last, LastQty decimal.Decimal
	LastTime                apexclock.Time
}

// Auditor appends Entry rows to a single CSV file for the lifetime of the
// process that opened it.
type Auditor struct {
	mu   sync.Mutex
	file *os.File
	w    *csv.Writer
}

// Open creates (truncating any existing file of the same name, which
// cannot happen in practice since the filename is timestamped) a new
// transactions file under dir, named with startTime, and writes its
// header row.
func Open(dir string, startTime apexclock.Time) (*Auditor, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("audit: create dir: %w", err)
	}
	name := fmt.Sprintf("audit-transactions-%s.csv", startTime.AsTime().Format("20060102_150405"))
	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("audit: open transactions file: %w", err)
	}
	w := csv.NewWriter(f)
	if err := w.Write(columns); err != nil {
		f.Close()
		return nil, fmt.Errorf("audit: write header: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return nil, fmt.Errorf("audit: flush header: %w", err)
	}
	return &Auditor{file: f, w: w}, nil
}

func fmtDecimal(d decimal.Decimal) string {
	if d.IsZero() {
		return "0"
	}
	return d.String()
}

func fmtSide(s types.Side) string {
	switch s {
	case types.Buy:
		return "buy"
	case types.Sell:
		return "sell"
	default:
		return ""
	}
}

func sideInt(s types.Side) string {
	switch s {
	case types.Buy:
		return "1"
	case types.Sell:
		return "-1"
	default:
		return "0"
	}
}

// Record appends one row for e. Safe for concurrent use.
func (a *Auditor) Record(e Entry) error {
	event := "order"
	fillQty, fillPrice := "", ""
	if e.IsFill {
		event = "fill"
		fillQty = fmtDecimal(e.FillQty)
		fillPrice = fmtDecimal(e.FillPrice)
	}

	row := []string{
		e.Time.AsISO8601Micros(),
		e.StrategyID,
		e.Symbol,
		e.Venue,
		event,
		e.OrderState,
		e.OrderID,
		fmtSide(e.Side),
		fmtDecimal(e.Qty),
		fmtDecimal(e.Price),
		fmtDecimal(e.Qty.Mul(e.Price)),
		fmtDecimal(e.DoneQty),
		fmtDecimal(e.RemainQty),
		fillQty,
		fillPrice,
		e.ExtOrderID,
		fmtDecimal(e.BuyQty),
		fmtDecimal(e.SellQty),
		fmtDecimal(e.NetQty),
		fmtDecimal(e.BuyCost),
		fmtDecimal(e.SellCost),
		fmtDecimal(e.Turnover),
		fmtDecimal(e.TotalPnL),
		fmtDecimal(e.Bid),
		fmtDecimal(e.Ask),
		fmtDecimal(e.Last),
		fmtDecimal(e.LastQty),
		e.LastTime.AsISO8601Micros(),
		sideInt(e.Side),
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.w.Write(row); err != nil {
		return fmt.Errorf("audit: write row: %w", err)
	}
	return nil
}

// Flush forces buffered rows to disk. The caller is expected to call this
// periodically (the original does so every 5 seconds from its event loop).
func (a *Auditor) Flush() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.w.Flush()
	return a.w.Error()
}

// Close flushes and closes the underlying file.
func (a *Auditor) Close() error {
	if err := a.Flush(); err != nil {
		a.file.Close()
		return err
	}
	return a.file.Close()
}
