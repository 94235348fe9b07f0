package router

import "github.com/automatedalgo/apex-sub000/internal/order"

// GatewayClient is the subset of the gateway client session a Realtime
// router needs: submit/cancel translate directly to wire
// messages, and IsLoggedOn reflects whether the session's om_logon
// exchange has completed. Declared here rather than importing package
// gwsession directly so router stays a leaf dependency of the session
// layer instead of the reverse.
type GatewayClient interface {
	SubmitOrder(o *order.Order) error
	SubmitCancel(o *order.Order) error
	IsLoggedOn() bool
}

// Realtime forwards orders to a gateway client session: up
// only once the session's om_logon has been acknowledged.
type Realtime struct {
	client GatewayClient
}

// NewRealtime builds a Realtime router over client.
func NewRealtime(client GatewayClient) *Realtime {
	return &Realtime{client: client}
}

// SendOrder implements OrderRouter.
func (r *Realtime) SendOrder(o *order.Order) error {
	return r.client.SubmitOrder(o)
}

// CancelOrder implements OrderRouter.
func (r *Realtime) CancelOrder(o *order.Order) error {
	return r.client.SubmitCancel(o)
}

// IsUp implements OrderRouter: true only once the session's logon
// handshake has completed.
func (r *Realtime) IsUp() bool {
	return r.client.IsLoggedOn()
}
