// Package gwsession implements the gateway client session and
// the gateway server/session/process, ported from
// original_source/src/apex/comm/GxClientSession.{hpp,cpp} and
// GxServerSession.{hpp,cpp}. The reactor owns every socket; a session is a
// pure state machine over decoded gwire.Frames that only ever runs on the
// event loop.
package gwsession

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sys/unix"

	"github.com/automatedalgo/apex-sub000/internal/apexclock"
	"github.com/automatedalgo/apex-sub000/internal/apexerr"
	"github.com/automatedalgo/apex-sub000/internal/eventloop"
	"github.com/automatedalgo/apex-sub000/internal/gwire"
	"github.com/automatedalgo/apex-sub000/internal/instrument"
	"github.com/automatedalgo/apex-sub000/internal/marketdata"
	"github.com/automatedalgo/apex-sub000/internal/order"
	"github.com/automatedalgo/apex-sub000/internal/reactor"
	"github.com/automatedalgo/apex-sub000/pkg/types"
)

const (
	// DefaultConnectTimeout bounds how long a single connect attempt waits
	// before the connector gives up.
	DefaultConnectTimeout = 3 * time.Second
	// DefaultReconnectCheck is how often the client checks whether it needs
	// to (re)connect.
	DefaultReconnectCheck = time.Second
)

// Client is the gateway client session: one TCP connection to a gateway
// process, reconnecting on a periodic check, re-subscribing and re-logging-on
// on every fresh connect. All exported methods except Start are intended to
// be called from the event loop (the same assumption router.Realtime's
// caller, the strategy layer, already makes).
type Client struct {
	logger     *slog.Logger
	loop       eventloop.EventLoop
	reactor    *reactor.Reactor
	connector  *reactor.Connector
	clock      apexclock.Source
	addr       string
	strategyID string
	runMode    types.RunMode
	orderSvc   *order.Service
	md         *marketdata.Registry

	connectTimeout time.Duration
	reconnectCheck time.Duration

	stream     *reactor.Stream
	decoder    *gwire.Decoder
	connected  bool
	connecting bool
	loggedOn   bool

	// writeMu guards writeQueue, which the loop goroutine (send) and the
	// reactor goroutine (onWrite) both touch.
	writeMu    sync.Mutex
	writeQueue []byte

	nextReqID     uint32
	pendingSubmit map[uint32]order.ID
	pendingCancel map[uint32]order.ID
	subs          map[string]instrument.Instrument // key -> instrument, replayed on every (re)connect

	// OnAccountUpdate, if set, receives account_update frames; account
	// subscription itself is reserved, so this is a hook for a
	// future position tracker rather than a fully wired feature.
	OnAccountUpdate func(gwire.AccountUpdate)
}

// NewClient builds a gateway client session. Start must be called to begin
// connecting.
func NewClient(logger *slog.Logger, loop eventloop.EventLoop, rx *reactor.Reactor, clock apexclock.Source, addr, strategyID string, runMode types.RunMode, orderSvc *order.Service, md *marketdata.Registry) *Client {
	return &Client{
		logger:         logger.With("component", "gwsession-client", "strategy_id", strategyID),
		loop:           loop,
		reactor:        rx,
		connector:      reactor.NewConnector(rx),
		clock:          clock,
		addr:           addr,
		strategyID:     strategyID,
		runMode:        runMode,
		orderSvc:       orderSvc,
		md:             md,
		connectTimeout: DefaultConnectTimeout,
		reconnectCheck: DefaultReconnectCheck,
		pendingSubmit:  make(map[uint32]order.ID),
		pendingCancel:  make(map[uint32]order.ID),
		subs:           make(map[string]instrument.Instrument),
	}
}

// Start begins the periodic connect check. Must be called from
// the event loop (or before it starts dispatching).
func (c *Client) Start() {
	c.loop.DispatchTimer(0, c.checkConnection)
}

func (c *Client) checkConnection() time.Duration {
	if !c.connected && !c.connecting {
		c.beginConnect()
	}
	return c.reconnectCheck
}

func (c *Client) beginConnect() {
	c.connecting = true
	result := make(chan reactor.ConnectResult, 1)
	c.connector.Dial(context.Background(), c.addr, c.connectTimeout, result)
	go func() {
		r := <-result
		c.loop.Dispatch(func() { c.onConnectResult(r) })
	}()
}

func (c *Client) onConnectResult(r reactor.ConnectResult) {
	c.connecting = false
	if r.Err != nil {
		c.logger.Warn("connect failed", "addr", c.addr, "error", r.Err)
		return
	}
	c.stream = r.Stream
	c.decoder = gwire.NewDecoder(0)
	c.stream.OnRead = c.onRead
	c.stream.OnWrite = c.onWrite
	c.stream.OnDispose = func() { c.loop.Dispatch(c.onDisconnected) }
	c.reactor.StartRead(c.stream)
	c.connected = true
	c.logger.Info("connected", "addr", c.addr)
	c.sendLogon()
}

func (c *Client) onDisconnected() {
	c.connected = false
	c.loggedOn = false
	c.stream = nil
	c.decoder = nil
	c.pendingSubmit = make(map[uint32]order.ID)
	c.pendingCancel = make(map[uint32]order.ID)
	c.logger.Warn("disconnected")
}

// onRead runs on the reactor goroutine: decode whatever frames are fully
// buffered, then hand each one to the event loop.
func (c *Client) onRead(data []byte, err error) {
	if err != nil {
		c.reactor.DisposeStream(c.stream)
		return
	}
	if e := c.decoder.Feed(data); e != nil {
		c.logger.Error("decode buffer overflow, dropping connection", "error", e)
		c.reactor.DisposeStream(c.stream)
		return
	}
	for {
		f, ok, derr := c.decoder.Next()
		if derr != nil {
			c.logger.Error("frame decode error, dropping connection", "error", derr)
			c.reactor.DisposeStream(c.stream)
			return
		}
		if !ok {
			return
		}
		frame := f
		c.loop.Dispatch(func() { c.handleFrame(frame) })
	}
}

// onWrite drains the write queue in a tight non-blocking loop, the reactor
// goroutine's half of send.
func (c *Client) onWrite() (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	total := 0
	for len(c.writeQueue) > 0 {
		n, err := unix.Write(c.stream.Fd(), c.writeQueue)
		if n > 0 {
			c.writeQueue = c.writeQueue[n:]
			total += n
		}
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return total + 1, nil
			}
			return 0, err
		}
	}
	return 0, nil
}

func (c *Client) send(frame []byte) {
	c.writeMu.Lock()
	c.writeQueue = append(c.writeQueue, frame...)
	c.writeMu.Unlock()
	if c.stream != nil {
		c.reactor.StartWrite(c.stream)
	}
}

func (c *Client) allocReqID() uint32 {
	c.nextReqID++
	return c.nextReqID
}

func (c *Client) sendLogon() {
	payload, _ := gwire.Marshal(gwire.OmLogonRequest{StrategyID: c.strategyID, RunMode: string(c.runMode)})
	frame, err := gwire.EncodeFrame(gwire.TypeOmLogon, c.allocReqID(), payload)
	if err != nil {
		c.logger.Error("encode om_logon", "error", err)
		return
	}
	c.send(frame)
}

// performSubscriptions replays every tracked subscription, used both on
// first logon and on every reconnect.
func (c *Client) performSubscriptions() {
	for _, inst := range c.subs {
		c.sendSubscribe(inst)
	}
}

func (c *Client) sendSubscribe(inst instrument.Instrument) {
	payload, _ := gwire.Marshal(gwire.SubscribeRequest{Symbol: inst.NativeSymbol, Exchange: inst.Exchange})
	frame, err := gwire.EncodeFrame(gwire.TypeSubscribe, c.allocReqID(), payload)
	if err != nil {
		c.logger.Error("encode subscribe", "error", err)
		return
	}
	c.send(frame)
}

// Subscribe registers interest in inst's trades/top-of-book, sending the
// wire request immediately if logged on and replaying it on every future
// (re)connect.
func (c *Client) Subscribe(inst instrument.Instrument) {
	c.subs[inst.Key()] = inst
	if c.loggedOn {
		c.sendSubscribe(inst)
	}
}

// IsLoggedOn implements router.GatewayClient.
func (c *Client) IsLoggedOn() bool { return c.loggedOn }

// SubmitOrder implements router.GatewayClient.
func (c *Client) SubmitOrder(o *order.Order) error {
	if !c.loggedOn {
		return apexerr.New(apexerr.CodeGatewayNotLoggedOn, "gateway session not logged on")
	}
	reqID := c.allocReqID()
	payload, err := gwire.Marshal(gwire.NewOrderRequest{
		Symbol:   o.Instrument.NativeSymbol,
		Exchange: o.Instrument.Exchange,
		Side:     string(o.Side),
		Price:    o.Price.String(),
		Size:     o.Size.String(),
		TIF:      string(o.TIF),
		OrderID:  string(o.ID),
	})
	if err != nil {
		return err
	}
	frame, err := gwire.EncodeFrame(gwire.TypeNewOrder, reqID, payload)
	if err != nil {
		return err
	}
	c.pendingSubmit[reqID] = o.ID
	c.send(frame)
	return nil
}

// SubmitCancel implements router.GatewayClient.
func (c *Client) SubmitCancel(o *order.Order) error {
	if !c.loggedOn {
		return apexerr.New(apexerr.CodeGatewayNotLoggedOn, "gateway session not logged on")
	}
	reqID := c.allocReqID()
	payload, err := gwire.Marshal(gwire.CancelOrderRequest{
		Symbol:     o.Instrument.NativeSymbol,
		Exchange:   o.Instrument.Exchange,
		OrderID:    string(o.ID),
		ExtOrderID: o.ExtOrderID,
	})
	if err != nil {
		return err
	}
	frame, err := gwire.EncodeFrame(gwire.TypeCancelOrder, reqID, payload)
	if err != nil {
		return err
	}
	c.pendingCancel[reqID] = o.ID
	c.send(frame)
	return nil
}

// handleFrame dispatches one decoded frame by type. Runs on the event loop.
func (c *Client) handleFrame(f gwire.Frame) {
	switch f.Header.Type {
	case gwire.TypeOmLogon:
		c.handleLogonReply(f.Payload)
	case gwire.TypeTrade:
		c.handleTrade(f.Payload)
	case gwire.TypeTickTop:
		c.handleTickTop(f.Payload)
	case gwire.TypeAccountUpdate:
		c.handleAccountUpdate(f.Payload)
	case gwire.TypeOrderExec:
		c.handleOrderExec(f.Header, f.Payload)
	case gwire.TypeOrderFill:
		c.handleOrderFill(f.Payload)
	case gwire.TypeError:
		c.handleError(f.Header, f.Payload)
	default:
		c.logger.Warn("unhandled frame type", "type", f.Header.Type.String())
	}
}

func (c *Client) handleLogonReply(payload []byte) {
	var reply gwire.OmLogonReply
	if err := gwire.Unmarshal(payload, &reply); err != nil {
		c.logger.Error("decode om_logon reply", "error", err)
		return
	}
	if reply.Error != "" {
		c.logger.Error("logon rejected", "error", reply.Error)
		c.loggedOn = false
		return
	}
	c.loggedOn = true
	c.logger.Info("logged on")
	c.performSubscriptions()
}

func (c *Client) sinkFor(symbol, exchange string) (instrument.Instrument, bool) {
	key := instrument.Instrument{Exchange: exchange, NativeSymbol: symbol}.Key()
	inst, ok := c.subs[key]
	return inst, ok
}

func (c *Client) handleTrade(payload []byte) {
	var t gwire.Trade
	if err := gwire.Unmarshal(payload, &t); err != nil {
		c.logger.Error("decode trade", "error", err)
		return
	}
	inst, ok := c.sinkFor(t.Symbol, t.Exchange)
	if !ok {
		c.logger.Warn("trade for unsubscribed symbol", "symbol", t.Symbol, "exchange", t.Exchange)
		return
	}
	price, perr := decimal.NewFromString(t.Price)
	size, serr := decimal.NewFromString(t.Size)
	if perr != nil || serr != nil {
		c.logger.Error("decode trade price/size", "price_error", perr, "size_error", serr)
		return
	}
	c.md.ApplyTrade(inst, marketdata.Trade{Price: price, Size: size, Side: t.Side, Time: c.clock.Now()})
}

func (c *Client) handleTickTop(payload []byte) {
	var top gwire.TickTop
	if err := gwire.Unmarshal(payload, &top); err != nil {
		c.logger.Error("decode tick_top", "error", err)
		return
	}
	inst, ok := c.sinkFor(top.Symbol, top.Exchange)
	if !ok {
		c.logger.Warn("tick_top for unsubscribed symbol", "symbol", top.Symbol, "exchange", top.Exchange)
		return
	}
	bid, berr := decimal.NewFromString(top.BidPrice)
	ask, aerr := decimal.NewFromString(top.AskPrice)
	if berr != nil || aerr != nil {
		c.logger.Error("decode tick_top bid/ask", "bid_error", berr, "ask_error", aerr)
		return
	}
	c.md.ApplyTop(inst, marketdata.Top{BidPrice: bid, AskPrice: ask, Time: c.clock.Now()})
}

func (c *Client) handleAccountUpdate(payload []byte) {
	var u gwire.AccountUpdate
	if err := gwire.Unmarshal(payload, &u); err != nil {
		c.logger.Error("decode account_update", "error", err)
		return
	}
	if c.OnAccountUpdate != nil {
		c.OnAccountUpdate(u)
	}
}

func (c *Client) handleOrderExec(h gwire.Header, payload []byte) {
	var exec gwire.OrderExec
	if err := gwire.Unmarshal(payload, &exec); err != nil {
		c.logger.Error("decode order_exec", "error", err)
		return
	}
	switch exec.Reason {
	case gwire.ReasonNewAck:
		id, ok := c.pendingSubmit[h.ID]
		if !ok {
			c.logger.Warn("order_exec new_ack with no pending submit", "req_id", h.ID)
			return
		}
		delete(c.pendingSubmit, h.ID)
		c.orderSvc.RouteUpdate(c.clock.Now(), id, order.Update{Kind: order.UpdateAck, ExtOrderID: exec.ExtOrderID})
	case gwire.ReasonCancelAck:
		id, ok := c.pendingCancel[h.ID]
		if !ok {
			c.logger.Warn("order_exec cancel_ack with no pending cancel", "req_id", h.ID)
			return
		}
		delete(c.pendingCancel, h.ID)
		c.orderSvc.RouteUpdate(c.clock.Now(), id, order.Update{Kind: order.UpdateCancelConfirm})
	case gwire.ReasonUnsolicited:
		id := order.ID(exec.OrderID)
		if exec.CloseReason == types.CloseReasonLapsed.String() {
			c.orderSvc.RouteUpdate(c.clock.Now(), id, order.Update{Kind: order.UpdateLapse})
			return
		}
		c.logger.Warn("unhandled unsolicited order_exec", "order_id", id, "close_reason", exec.CloseReason)
	}
}

func (c *Client) handleOrderFill(payload []byte) {
	var f gwire.OrderFill
	if err := gwire.Unmarshal(payload, &f); err != nil {
		c.logger.Error("decode order_fill", "error", err)
		return
	}
	price, perr := decimal.NewFromString(f.Price)
	size, serr := decimal.NewFromString(f.Size)
	if perr != nil || serr != nil {
		c.logger.Error("decode order_fill price/size", "price_error", perr, "size_error", serr)
		return
	}
	c.orderSvc.RouteFill(c.clock.Now(), order.ID(f.OrderID), price, size, f.FullyFilled)
}

func (c *Client) handleError(h gwire.Header, payload []byte) {
	var e gwire.ErrorReply
	if err := gwire.Unmarshal(payload, &e); err != nil {
		c.logger.Error("decode error reply", "error", err)
		return
	}
	if id, ok := c.pendingSubmit[h.ID]; ok {
		delete(c.pendingSubmit, h.ID)
		c.orderSvc.RouteUpdate(c.clock.Now(), id, order.Update{Kind: order.UpdateReject, ErrorCode: e.Code, ErrorText: e.Text})
		return
	}
	if id, ok := c.pendingCancel[h.ID]; ok {
		delete(c.pendingCancel, h.ID)
		c.orderSvc.RouteUpdate(c.clock.Now(), id, order.Update{Kind: order.UpdateCancelReject, ErrorCode: e.Code, ErrorText: e.Text})
		return
	}
	c.logger.Warn("error reply with no matching pending request", "req_id", h.ID, "code", e.Code, "text", e.Text)
}
