// Package order implements the order object, its state machine, and the
// process-wide order service, ported from
// original_source/src/apex/model/Order.hpp and
// original_source/src/apex/core/OrderService.{hpp,cpp}.
package order

import (
	"github.com/shopspring/decimal"

	"github.com/automatedalgo/apex-sub000/internal/apexclock"
	"github.com/automatedalgo/apex-sub000/internal/instrument"
	"github.com/automatedalgo/apex-sub000/pkg/types"
)

// ID is the engine-assigned order identifier: a fixed-width strategy-id
// prefix followed by 8 hex digits of process-start epoch seconds and 8 hex
// digits of a monotonic counter.
type ID string

// Fill is one partial or full execution against an order.
type Fill struct {
	RecvTime      apexclock.Time
	Price         decimal.Decimal
	Size          decimal.Decimal
	IsFullyFilled bool
}

// EventFlags marks what changed in an OrderEvent.
type EventFlags uint8

const (
	FlagStateChange EventFlags = 1 << 0
	FlagFill        EventFlags = 1 << 1
)

// Event is published on an order's event stream whenever its state changes
// or it receives a fill.
type Event struct {
	Order    *Order
	Flags    EventFlags
	Time     apexclock.Time
	OldState types.OrderState
	NewState types.OrderState
}

// Params are the caller-supplied attributes for a new order.
type Params struct {
	Instrument instrument.Instrument
	Side       types.Side
	Size       decimal.Decimal
	Price      decimal.Decimal
	TIF        types.TimeInForce
	UserData   any
}

// Order is exclusively owned by the order Service for the duration of its
// lifecycle; other code holds an ID and looks the order up through the
// Service rather than holding a direct reference across an async boundary.
type Order struct {
	ID         ID
	ExtOrderID string // venue-assigned, populated after ack

	Instrument instrument.Instrument
	Side       types.Side
	Size       decimal.Decimal
	Price      decimal.Decimal
	TIF        types.TimeInForce
	UserData   any

	State       types.OrderState
	CancelState types.OrderCancelState
	CloseReason types.OrderCloseReason
	ErrorCode   string
	ErrorText   string

	SentTime apexclock.Time
	LiveTime apexclock.Time

	TotalFillQty decimal.Decimal
	Fills        []Fill

	listeners []func(Event)
}

func newOrder(id ID, p Params) *Order {
	return &Order{
		ID:           id,
		Instrument:   p.Instrument,
		Side:         p.Side,
		Size:         p.Size,
		Price:        p.Price,
		TIF:          p.TIF,
		UserData:     p.UserData,
		State:        types.OrderStateInit,
		TotalFillQty: decimal.Zero,
	}
}

// FilledSize returns the cumulative filled quantity.
func (o *Order) FilledSize() decimal.Decimal { return o.TotalFillQty }

// RemainSize returns Size - FilledSize, floored at zero.
func (o *Order) RemainSize() decimal.Decimal {
	r := o.Size.Sub(o.TotalFillQty)
	if r.IsNegative() {
		return decimal.Zero
	}
	return r
}

// HasFills reports whether the order has received at least one fill.
func (o *Order) HasFills() bool { return len(o.Fills) > 0 }

// LastFill returns the most recent fill, or the zero Fill if none.
func (o *Order) LastFill() Fill {
	if len(o.Fills) == 0 {
		return Fill{}
	}
	return o.Fills[len(o.Fills)-1]
}

// IsClosed, IsLive, IsRejected, IsCanceling, IsCancelRejected mirror the
// predicates on the original Order class.
func (o *Order) IsClosed() bool  { return o.State == types.OrderStateClosed }
func (o *Order) IsLive() bool    { return o.State == types.OrderStateLive }
func (o *Order) IsRejected() bool {
	return o.State == types.OrderStateClosed && o.CloseReason == types.CloseReasonRejected
}
func (o *Order) IsCanceling() bool      { return o.CancelState == types.CancelStateCanceling }
func (o *Order) IsCancelRejected() bool { return o.CancelState == types.CancelStateRejected }

func (o *Order) subscribe(fn func(Event)) {
	o.listeners = append(o.listeners, fn)
}

func (o *Order) publish(ev Event) {
	for _, fn := range o.listeners {
		fn(ev)
	}
}

// Send transitions init -> sent, recording the send time. Invalid from any
// other state.
func (o *Order) send(now apexclock.Time) {
	if o.State != types.OrderStateInit {
		return
	}
	old := o.State
	o.State = types.OrderStateSent
	o.SentTime = now
	o.publish(Event{Order: o, Flags: FlagStateChange, Time: now, OldState: old, NewState: o.State})
}

// ApplyAck transitions sent -> live on a venue acknowledgement.
func (o *Order) ApplyAck(now apexclock.Time, extOrderID string) {
	if o.State != types.OrderStateSent {
		return
	}
	old := o.State
	o.ExtOrderID = extOrderID
	o.State = types.OrderStateLive
	if o.LiveTime.IsEmpty() {
		o.LiveTime = now
	}
	o.publish(Event{Order: o, Flags: FlagStateChange, Time: now, OldState: old, NewState: o.State})
}

// applyClose transitions sent|live -> closed with the given reason. Once
// closed, no further transitions occur.
func (o *Order) applyClose(now apexclock.Time, reason types.OrderCloseReason, errCode, errText string) {
	if o.IsClosed() {
		return
	}
	old := o.State
	o.State = types.OrderStateClosed
	o.CloseReason = reason
	if errCode != "" {
		o.ErrorCode = errCode
		o.ErrorText = errText
	}
	o.publish(Event{Order: o, Flags: FlagStateChange, Time: now, OldState: old, NewState: o.State})
}

// ApplyReject closes a sent order immediately (venue rejected before ack).
func (o *Order) ApplyReject(now apexclock.Time, code, text string) {
	if o.State != types.OrderStateSent && o.State != types.OrderStateLive {
		return
	}
	o.applyClose(now, types.CloseReasonRejected, code, text)
}

// ApplyCancelConfirm closes a live order with close-reason cancelled.
func (o *Order) ApplyCancelConfirm(now apexclock.Time) {
	o.CancelState = types.CancelStateCanceled
	o.applyClose(now, types.CloseReasonCancelled, "", "")
}

// ApplyCancelReject marks the cancel-state rejected; the order's own state
// is unchanged.
func (o *Order) ApplyCancelReject(now apexclock.Time, code, text string) {
	o.CancelState = types.CancelStateRejected
	o.ErrorCode = code
	o.ErrorText = text
	_ = now
}

// ApplyLapse closes a live order because the venue cancelled/expired it
// unsolicited.
func (o *Order) ApplyLapse(now apexclock.Time) {
	o.applyClose(now, types.CloseReasonLapsed, "", "")
}

// MarkCanceling sets the orthogonal cancel-state to "canceling" when a
// cancel request is sent to the venue.
func (o *Order) MarkCanceling() {
	if o.CancelState == types.CancelStateNone {
		o.CancelState = types.CancelStateCanceling
	}
}

// ApplyFill records a fill. A fully-filled fill implies state=closed,
// close_reason=filled.
func (o *Order) ApplyFill(now apexclock.Time, price, size decimal.Decimal, isFullyFilled bool) {
	o.Fills = append(o.Fills, Fill{RecvTime: now, Price: price, Size: size, IsFullyFilled: isFullyFilled})
	o.TotalFillQty = o.TotalFillQty.Add(size)
	o.publish(Event{Order: o, Flags: FlagFill, Time: now, OldState: o.State, NewState: o.State})
	if isFullyFilled {
		o.applyClose(now, types.CloseReasonFilled, "", "")
	}
}
