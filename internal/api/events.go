package api

import (
	"time"
)

// DashboardEvent is the wrapper for all events sent to the dashboard.
type DashboardEvent struct {
	Type          string      `json:"type"` // "snapshot", "fill", "order", "position", "kill"
	Timestamp     time.Time   `json:"timestamp"`
	InstrumentKey string      `json:"instrument_key,omitempty"` // empty for global events
	Data          interface{} `json:"data"`
}

// FillEvent represents a trade fill notification.
type FillEvent struct {
	OrderID       string  `json:"order_id"`
	Side          string  `json:"side"` // "buy" or "sell"
	InstrumentKey string  `json:"instrument_key"`
	Price         float64 `json:"price"`
	Size          float64 `json:"size"`

	NetQty        float64 `json:"net_qty"`
	RealizedPnL   float64 `json:"realized_pnl"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
}

// OrderEvent represents order placement/cancellation.
type OrderEvent struct {
	OrderID       string  `json:"order_id"`
	Status        string  `json:"status"` // "placed", "cancelled", "filled", "rejected"
	Side          string  `json:"side"`
	InstrumentKey string  `json:"instrument_key"`
	Price         float64 `json:"price"`
	Size          float64 `json:"size"`
}

// PositionEvent is emitted when an instrument's position changes.
type PositionEvent struct {
	InstrumentKey string  `json:"instrument_key"`
	NetQty        float64 `json:"net_qty"`
	AvgBuyPrice   float64 `json:"avg_buy_price"`
	AvgSellPrice  float64 `json:"avg_sell_price"`
	RealizedPnL   float64 `json:"realized_pnl"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	ExposureUSD   float64 `json:"exposure_usd"`
	MidPrice      float64 `json:"mid_price"`
}

// KillEvent is emitted when the kill switch activates.
type KillEvent struct {
	Reason        string    `json:"reason"`
	Until         time.Time `json:"until"`
	InstrumentKey string    `json:"instrument_key,omitempty"` // empty = global kill
}

// QuoteEvent represents the current bid/ask quotes for an instrument.
type QuoteEvent struct {
	InstrumentKey    string  `json:"instrument_key"`
	BidPrice         float64 `json:"bid_price"`
	BidSize          float64 `json:"bid_size"`
	AskPrice         float64 `json:"ask_price"`
	AskSize          float64 `json:"ask_size"`
	ReservationPrice float64 `json:"reservation_price"`
	OptimalSpread    float64 `json:"optimal_spread"`
	MidPrice         float64 `json:"mid_price"`
}

// BookUpdateEvent represents order book changes for an instrument.
type BookUpdateEvent struct {
	InstrumentKey string    `json:"instrument_key"`
	BestBid       float64   `json:"best_bid"`
	BestAsk       float64   `json:"best_ask"`
	MidPrice      float64   `json:"mid_price"`
	Spread        float64   `json:"spread"`
	UpdateTime    time.Time `json:"update_time"`
}

// NewFillEvent creates a fill event from a completed trade.
func NewFillEvent(orderID, side, instrumentKey string, price, size float64, pos PositionSnapshot) FillEvent {
	return FillEvent{
		OrderID:       orderID,
		Side:          side,
		InstrumentKey: instrumentKey,
		Price:         price,
		Size:          size,
		NetQty:        pos.NetQty,
		RealizedPnL:   pos.RealizedPnL,
		UnrealizedPnL: pos.UnrealizedPnL,
	}
}

// NewOrderEvent creates an order event.
func NewOrderEvent(orderID, status, side, instrumentKey string, price, size float64) OrderEvent {
	return OrderEvent{
		OrderID:       orderID,
		Status:        status,
		Side:          side,
		InstrumentKey: instrumentKey,
		Price:         price,
		Size:          size,
	}
}

// NewPositionEvent creates a position event.
func NewPositionEvent(instrumentKey string, pos PositionSnapshot, midPrice float64) PositionEvent {
	return PositionEvent{
		InstrumentKey: instrumentKey,
		NetQty:        pos.NetQty,
		AvgBuyPrice:   pos.AvgBuyPrice,
		AvgSellPrice:  pos.AvgSellPrice,
		RealizedPnL:   pos.RealizedPnL,
		UnrealizedPnL: pos.UnrealizedPnL,
		ExposureUSD:   pos.ExposureUSD,
		MidPrice:      midPrice,
	}
}

// NewKillEvent creates a kill switch event.
func NewKillEvent(reason string, until time.Time, instrumentKey string) KillEvent {
	return KillEvent{
		Reason:        reason,
		Until:         until,
		InstrumentKey: instrumentKey,
	}
}
