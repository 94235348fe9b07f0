package router

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/automatedalgo/apex-sub000/internal/apexclock"
	"github.com/automatedalgo/apex-sub000/internal/apexerr"
	"github.com/automatedalgo/apex-sub000/internal/eventloop"
	"github.com/automatedalgo/apex-sub000/internal/matching"
	"github.com/automatedalgo/apex-sub000/internal/order"
)

// DefaultAckLatency is the constant delay the simulated router applies
// before acking a new order or a cancel, approximating the ~100ms a real
// gateway round-trip typically takes.
const DefaultAckLatency = 100 * time.Millisecond

// Simulated is the matching engine's server face: it adds
// orders to the engine's book and schedules asynchronous acks/fills/cancel
// confirmations through the event loop rather than replying synchronously,
// so strategy code observes the same asynchronous shape it would against a
// real gateway.
type Simulated struct {
	loop       eventloop.EventLoop
	engine     *matching.Engine
	svc        *order.Service
	clock      apexclock.Source
	ackLatency time.Duration
}

// NewSimulated builds a Simulated router over engine, routing acks/fills
// back through svc. clock supplies "now" for routed events: apexclock.
// WallClock{} in paper mode, the Backtest loop itself in backtest mode, so
// that fill timestamps always agree with whichever clock is authoritative.
func NewSimulated(loop eventloop.EventLoop, engine *matching.Engine, svc *order.Service, clock apexclock.Source) *Simulated {
	return &Simulated{loop: loop, engine: engine, svc: svc, clock: clock, ackLatency: DefaultAckLatency}
}

// SendOrder implements OrderRouter.
func (r *Simulated) SendOrder(o *order.Order) error {
	id := o.ID
	price := o.Price

	onFill := func(size decimal.Decimal, fullyFilled bool) {
		r.svc.RouteFill(r.clock.Now(), id, price, size, fullyFilled)
	}

	if err := r.engine.AddOrder(o.Instrument, id, o.Size, o.Price, o.Side, onFill, nil); err != nil {
		return err
	}

	r.loop.DispatchTimer(r.ackLatency, func() time.Duration {
		r.svc.RouteUpdate(r.clock.Now(), id, order.Update{Kind: order.UpdateAck, ExtOrderID: string(id)})
		return 0
	})
	return nil
}

// CancelOrder implements OrderRouter.
func (r *Simulated) CancelOrder(o *order.Order) error {
	id := o.ID
	err := r.engine.CancelOrder(id)

	r.loop.DispatchTimer(r.ackLatency, func() time.Duration {
		if err != nil {
			r.svc.RouteUpdate(r.clock.Now(), id, order.Update{
				Kind:      order.UpdateCancelReject,
				ErrorCode: string(apexerr.CodeOrderNotFound),
				ErrorText: "order not found",
			})
			return 0
		}
		r.svc.RouteUpdate(r.clock.Now(), id, order.Update{Kind: order.UpdateCancelConfirm})
		return 0
	})
	return nil
}

// IsUp implements OrderRouter: the simulated router has no connectivity
// state of its own, it is always available.
func (r *Simulated) IsUp() bool { return true }
