// Package router implements the OrderRouter interface and its two
// implementations: Realtime, which forwards to a gateway
// client session, and Simulated, which is the matching engine's server
// face for paper/backtest run modes.
package router

import (
	"time"

	"github.com/automatedalgo/apex-sub000/internal/order"
)

// OrderRouter is how a strategy's orders reach a venue, real or simulated.
type OrderRouter interface {
	SendOrder(o *order.Order) error
	CancelOrder(o *order.Order) error
	IsUp() bool
}
