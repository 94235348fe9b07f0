package gwsession

import (
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"
	"golang.org/x/sys/unix"

	"github.com/automatedalgo/apex-sub000/internal/apexerr"
	"github.com/automatedalgo/apex-sub000/internal/eventloop"
	"github.com/automatedalgo/apex-sub000/internal/gwire"
	"github.com/automatedalgo/apex-sub000/internal/order"
	"github.com/automatedalgo/apex-sub000/internal/reactor"
	"github.com/automatedalgo/apex-sub000/pkg/types"
)

// maxPendingWrite bounds a session's outbound write buffer.
const maxPendingWrite = 1 << 20

// Venue is the gateway server's view of an exchange session:
// subscribe/submit/cancel, all callback-driven since the real adapter talks
// to the venue over its own WebSocket/REST connections on its own goroutine.
type Venue interface {
	Start() error
	SubscribeTrades(symbol string, cb func(price, size decimal.Decimal, side string)) error
	SubscribeTop(symbol string, cb func(bid, ask decimal.Decimal)) error
	SubscribeAccount(cb func(symbol string, position decimal.Decimal)) error
	SubmitOrder(req gwire.NewOrderRequest, onReply func(extOrderID string), onRejected func(code, text string))
	CancelOrder(symbol, orderID, extOrderID string, onReply func(), onRejected func(code, text string))
}

type exchangeSubscription struct {
	sessions map[*serverSession]struct{}
}

// serverSession is one accepted gateway-client connection.
type serverSession struct {
	stream     *reactor.Stream
	decoder    *gwire.Decoder
	writeMu    sync.Mutex
	writeQueue []byte

	strategyID string
	runMode    types.RunMode
	loggedOn   bool
}

func (sess *serverSession) trySend(frame []byte) error {
	sess.writeMu.Lock()
	if len(sess.writeQueue)+len(frame) > maxPendingWrite {
		sess.writeMu.Unlock()
		return apexerr.New(apexerr.CodeWriteNoSpace, "session write buffer full")
	}
	sess.writeQueue = append(sess.writeQueue, frame...)
	sess.writeMu.Unlock()
	return nil
}

func (sess *serverSession) onWrite() (int, error) {
	sess.writeMu.Lock()
	defer sess.writeMu.Unlock()
	total := 0
	for len(sess.writeQueue) > 0 {
		n, err := unix.Write(sess.stream.Fd(), sess.writeQueue)
		if n > 0 {
			sess.writeQueue = sess.writeQueue[n:]
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

// Server is the gateway server process: a listen socket, the set
// of accepted client sessions, and one Venue per exchange.
type Server struct {
	logger  *slog.Logger
	loop    eventloop.EventLoop
	reactor *reactor.Reactor
	venues  map[string]Venue
	runMode types.RunMode

	listenStream *reactor.Stream

	sessions     map[*serverSession]struct{}
	byStrategyID map[string]*serverSession
	tradeSubs    map[string]*exchangeSubscription // key "exchange:symbol"
	topSubs      map[string]*exchangeSubscription
}

// NewServer builds a gateway server that only accepts logons matching
// runMode.
func NewServer(logger *slog.Logger, loop eventloop.EventLoop, rx *reactor.Reactor, runMode types.RunMode, venues map[string]Venue) *Server {
	return &Server{
		logger:       logger.With("component", "gwsession-server"),
		loop:         loop,
		reactor:      rx,
		venues:       venues,
		runMode:      runMode,
		sessions:     make(map[*serverSession]struct{}),
		byStrategyID: make(map[string]*serverSession),
		tradeSubs:    make(map[string]*exchangeSubscription),
		topSubs:      make(map[string]*exchangeSubscription),
	}
}

// Listen binds addr and starts accepting connections. Must be called once.
func (s *Server) Listen(addr string) error {
	stream, err := s.reactor.Listen(addr)
	if err != nil {
		return err
	}
	stream.OnAcceptable = s.onAcceptable
	s.listenStream = stream
	return nil
}

func (s *Server) onAcceptable() {
	for {
		fd, err := reactor.Accept(s.listenStream)
		if err != nil {
			s.logger.Error("accept failed", "error", err)
			return
		}
		if fd < 0 {
			return
		}
		sess := &serverSession{decoder: gwire.NewDecoder(0)}
		st := reactor.NewStream(fd)
		st.OnRead = func(data []byte, rerr error) { s.onSessionRead(sess, st, data, rerr) }
		st.OnWrite = sess.onWrite
		st.OnDispose = func() { s.loop.Dispatch(func() { s.onSessionClosed(sess) }) }
		sess.stream = st
		s.reactor.AddStream(st)
		s.reactor.StartRead(st)
		s.loop.Dispatch(func() { s.sessions[sess] = struct{}{} })
	}
}

func (s *Server) onSessionRead(sess *serverSession, st *reactor.Stream, data []byte, err error) {
	if err != nil {
		s.reactor.DisposeStream(st)
		return
	}
	if e := sess.decoder.Feed(data); e != nil {
		s.logger.Error("session decode buffer overflow", "error", e)
		s.reactor.DisposeStream(st)
		return
	}
	for {
		f, ok, derr := sess.decoder.Next()
		if derr != nil {
			s.logger.Error("session frame decode error", "error", derr)
			s.reactor.DisposeStream(st)
			return
		}
		if !ok {
			return
		}
		frame := f
		s.loop.Dispatch(func() { s.handleSessionFrame(sess, frame) })
	}
}

func (s *Server) onSessionClosed(sess *serverSession) {
	delete(s.sessions, sess)
	if sess.strategyID != "" {
		delete(s.byStrategyID, sess.strategyID)
	}
	for _, sub := range s.tradeSubs {
		delete(sub.sessions, sess)
	}
	for _, sub := range s.topSubs {
		delete(sub.sessions, sess)
	}
}

func (s *Server) handleSessionFrame(sess *serverSession, f gwire.Frame) {
	switch f.Header.Type {
	case gwire.TypeOmLogon:
		s.handleLogon(sess, f.Header, f.Payload)
	case gwire.TypeSubscribe:
		s.handleSubscribe(sess, f.Header, f.Payload)
	case gwire.TypeSubscribeAccount:
		s.handleSubscribeAccount(sess, f.Header, f.Payload)
	case gwire.TypeNewOrder:
		s.handleSubmitOrder(sess, f.Header, f.Payload)
	case gwire.TypeCancelOrder:
		s.handleCancelOrder(sess, f.Header, f.Payload)
	default:
		s.logger.Warn("unhandled frame type from session", "type", f.Header.Type.String())
	}
}

// handleLogon accepts a logon iff the strategy id isn't already logged on at
// this gateway and the client's run mode matches the gateway's.
func (s *Server) handleLogon(sess *serverSession, h gwire.Header, payload []byte) {
	var req gwire.OmLogonRequest
	if err := gwire.Unmarshal(payload, &req); err != nil {
		s.logger.Error("decode om_logon", "error", err)
		return
	}
	if _, exists := s.byStrategyID[req.StrategyID]; exists {
		s.replyLogon(sess, h.ID, "strategy id already logged on")
		return
	}
	if types.RunMode(req.RunMode) != s.runMode {
		s.replyLogon(sess, h.ID, "run mode mismatch")
		return
	}
	sess.strategyID = req.StrategyID
	sess.runMode = types.RunMode(req.RunMode)
	sess.loggedOn = true
	s.byStrategyID[req.StrategyID] = sess
	s.replyLogon(sess, h.ID, "")
}

func (s *Server) replyLogon(sess *serverSession, reqID uint32, errMsg string) {
	payload, _ := gwire.Marshal(gwire.OmLogonReply{Error: errMsg})
	frame, err := gwire.EncodeFrame(gwire.TypeOmLogon, reqID, payload)
	if err != nil {
		s.logger.Error("encode om_logon reply", "error", err)
		return
	}
	_ = sess.trySend(frame)
}

func (s *Server) handleSubscribe(sess *serverSession, h gwire.Header, payload []byte) {
	var req gwire.SubscribeRequest
	if err := gwire.Unmarshal(payload, &req); err != nil {
		s.logger.Error("decode subscribe", "error", err)
		return
	}
	venue, ok := s.venues[req.Exchange]
	if !ok {
		s.sendErrorReply(sess, h.ID, "subscribe", apexerr.CodeConfigInvalid, "unknown exchange "+req.Exchange)
		return
	}
	key := req.Exchange + ":" + req.Symbol

	ts, ok := s.tradeSubs[key]
	if !ok {
		ts = &exchangeSubscription{sessions: make(map[*serverSession]struct{})}
		s.tradeSubs[key] = ts
		if err := venue.SubscribeTrades(req.Symbol, func(price, size decimal.Decimal, side string) {
			s.loop.Dispatch(func() { s.fanoutTrade(ts, req.Exchange, req.Symbol, price, size, side) })
		}); err != nil {
			s.logger.Error("venue subscribe_trades failed", "symbol", req.Symbol, "error", err)
		}
	}
	ts.sessions[sess] = struct{}{}

	top, ok := s.topSubs[key]
	if !ok {
		top = &exchangeSubscription{sessions: make(map[*serverSession]struct{})}
		s.topSubs[key] = top
		if err := venue.SubscribeTop(req.Symbol, func(bid, ask decimal.Decimal) {
			s.loop.Dispatch(func() { s.fanoutTop(top, req.Exchange, req.Symbol, bid, ask) })
		}); err != nil {
			s.logger.Error("venue subscribe_top failed", "symbol", req.Symbol, "error", err)
		}
	}
	top.sessions[sess] = struct{}{}
}

func (s *Server) handleSubscribeAccount(sess *serverSession, h gwire.Header, payload []byte) {
	var req gwire.SubscribeAccountRequest
	if err := gwire.Unmarshal(payload, &req); err != nil {
		s.logger.Error("decode subscribe_account", "error", err)
		return
	}
	venue, ok := s.venues[req.Exchange]
	if !ok {
		s.sendErrorReply(sess, h.ID, "subscribe_account", apexerr.CodeConfigInvalid, "unknown exchange "+req.Exchange)
		return
	}
	// Account subscription is reserved: wire it through to the
	// venue so the adapter layer can start tracking it, but there is no
	// fan-out session table yet; one venue account maps to one session by
	// construction (account updates are strategy-scoped, not symbol-scoped).
	_ = venue.SubscribeAccount(func(symbol string, position decimal.Decimal) {
		s.loop.Dispatch(func() {
			payload, _ := gwire.Marshal(gwire.AccountUpdate{Symbol: symbol, Exchange: req.Exchange, Position: position.String()})
			frame, err := gwire.EncodeFrame(gwire.TypeAccountUpdate, 0, payload)
			if err != nil {
				return
			}
			_ = sess.trySend(frame)
		})
	})
}

func (s *Server) fanoutTrade(ts *exchangeSubscription, exchange, symbol string, price, size decimal.Decimal, side string) {
	payload, _ := gwire.Marshal(gwire.Trade{Symbol: symbol, Exchange: exchange, Price: price.String(), Size: size.String(), Side: side})
	frame, err := gwire.EncodeFrame(gwire.TypeTrade, 0, payload)
	if err != nil {
		return
	}
	for sess := range ts.sessions {
		if err := sess.trySend(frame); err != nil {
			s.logger.Warn("dropping session from trade fanout", "error", err)
			delete(ts.sessions, sess)
		}
	}
}

func (s *Server) fanoutTop(top *exchangeSubscription, exchange, symbol string, bid, ask decimal.Decimal) {
	payload, _ := gwire.Marshal(gwire.TickTop{Symbol: symbol, Exchange: exchange, BidPrice: bid.String(), AskPrice: ask.String()})
	frame, err := gwire.EncodeFrame(gwire.TypeTickTop, 0, payload)
	if err != nil {
		return
	}
	for sess := range top.sessions {
		if err := sess.trySend(frame); err != nil {
			s.logger.Warn("dropping session from top fanout", "error", err)
			delete(top.sessions, sess)
		}
	}
}

func (s *Server) handleSubmitOrder(sess *serverSession, h gwire.Header, payload []byte) {
	var req gwire.NewOrderRequest
	if err := gwire.Unmarshal(payload, &req); err != nil {
		s.logger.Error("decode new_order", "error", err)
		return
	}
	venue, ok := s.venues[req.Exchange]
	if !ok {
		s.sendErrorReply(sess, h.ID, "new_order", apexerr.CodeConfigInvalid, "unknown exchange "+req.Exchange)
		return
	}
	reqID := h.ID
	venue.SubmitOrder(req,
		func(extOrderID string) {
			s.loop.Dispatch(func() { s.sendOrderExec(sess, reqID, req.OrderID, extOrderID, "live", "", gwire.ReasonNewAck) })
		},
		func(code, text string) {
			s.loop.Dispatch(func() { s.sendErrorReply(sess, reqID, "new_order", apexerr.Code(code), text) })
		},
	)
}

func (s *Server) handleCancelOrder(sess *serverSession, h gwire.Header, payload []byte) {
	var req gwire.CancelOrderRequest
	if err := gwire.Unmarshal(payload, &req); err != nil {
		s.logger.Error("decode cancel_order", "error", err)
		return
	}
	venue, ok := s.venues[req.Exchange]
	if !ok {
		s.sendErrorReply(sess, h.ID, "cancel_order", apexerr.CodeConfigInvalid, "unknown exchange "+req.Exchange)
		return
	}
	reqID := h.ID
	venue.CancelOrder(req.Symbol, req.OrderID, req.ExtOrderID,
		func() {
			s.loop.Dispatch(func() { s.sendOrderExec(sess, reqID, req.OrderID, req.ExtOrderID, "closed", "cancelled", gwire.ReasonCancelAck) })
		},
		func(code, text string) {
			s.loop.Dispatch(func() { s.sendErrorReply(sess, reqID, "cancel_order", apexerr.Code(code), text) })
		},
	)
}

func (s *Server) sendOrderExec(sess *serverSession, reqID uint32, orderID, extOrderID, state, closeReason string, reason gwire.OrderExecReason) {
	payload, _ := gwire.Marshal(gwire.OrderExec{OrderID: orderID, ExtOrderID: extOrderID, State: state, CloseReason: closeReason, Reason: reason})
	frame, err := gwire.EncodeFrame(gwire.TypeOrderExec, reqID, payload)
	if err != nil {
		return
	}
	_ = sess.trySend(frame)
}

func (s *Server) sendErrorReply(sess *serverSession, reqID uint32, origType string, code apexerr.Code, text string) {
	payload, _ := gwire.Marshal(gwire.ErrorReply{OrigRequestType: origType, Code: string(code), Text: text})
	frame, err := gwire.EncodeFrame(gwire.TypeError, reqID, payload)
	if err != nil {
		return
	}
	_ = sess.trySend(frame)
}

// RouteFill delivers an order_fill to whichever session owns orderID,
// demultiplexed by splitting the strategy-id prefix: unmatched
// ids are logged and dropped.
func (s *Server) RouteFill(orderID string, price, size decimal.Decimal, fullyFilled bool) {
	s.loop.Dispatch(func() {
		sess, ok := s.sessionForOrder(orderID)
		if !ok {
			return
		}
		payload, _ := gwire.Marshal(gwire.OrderFill{OrderID: orderID, Size: size.String(), Price: price.String(), FullyFilled: fullyFilled})
		frame, err := gwire.EncodeFrame(gwire.TypeOrderFill, 0, payload)
		if err != nil {
			return
		}
		_ = sess.trySend(frame)
	})
}

// RouteUnsolicitedLapse delivers an unsolicited order_exec with close-reason
// lapsed (a venue-initiated cancel or expiry) to orderID's owning session.
func (s *Server) RouteUnsolicitedLapse(orderID string) {
	s.loop.Dispatch(func() {
		sess, ok := s.sessionForOrder(orderID)
		if !ok {
			return
		}
		payload, _ := gwire.Marshal(gwire.OrderExec{OrderID: orderID, State: "closed", CloseReason: "lapsed", Reason: gwire.ReasonUnsolicited})
		frame, err := gwire.EncodeFrame(gwire.TypeOrderExec, 0, payload)
		if err != nil {
			return
		}
		_ = sess.trySend(frame)
	})
}

func (s *Server) sessionForOrder(orderID string) (*serverSession, bool) {
	strategyID, _, ok := order.SplitOrderID(order.ID(orderID))
	if !ok {
		s.logger.Warn("order id too short to carry a strategy id prefix", "order_id", orderID)
		return nil, false
	}
	sess, ok := s.byStrategyID[strategyID]
	if !ok {
		s.logger.Warn("execution event for unknown strategy id", "strategy_id", strategyID, "order_id", orderID)
		return nil, false
	}
	return sess, true
}

// Stop tears down the listen socket. Individual sessions are closed as their
// underlying streams are disposed by the reactor.
func (s *Server) Stop() {
	if s.listenStream != nil {
		s.reactor.DisposeStream(s.listenStream)
	}
}
