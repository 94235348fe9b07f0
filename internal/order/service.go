package order

import (
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/automatedalgo/apex-sub000/internal/apexclock"
	"github.com/automatedalgo/apex-sub000/internal/apexerr"
)

// deadSetCapacity bounds the "recently closed" id set (§9 Open Question 6:
// bounded-by-count rather than a time-swept map).
const deadSetCapacity = 4096

// idGenerator allocates order ids in the format
// <strategy_id><hex8 start-epoch-seconds><hex8 counter>, the one format
// OrderService.cpp actually wires up (FullUniqueOrderIdGenerator); the
// commented-out ClientOrderIdGenerator alternative in the original is not
// carried forward (see SPEC_FULL.md §C.1).
type idGenerator struct {
	strategyID string
	startHex   string
	counter    uint32
}

func newIDGenerator(strategyID string, startTime apexclock.Time) *idGenerator {
	return &idGenerator{
		strategyID: strategyID,
		startHex:   fmt.Sprintf("%08x", startTime.AsTime().Unix()),
	}
}

func (g *idGenerator) next() (ID, error) {
	if g.counter == 0xFFFFFFFF {
		return "", apexerr.New(apexerr.CodeCounterExhausted, "order id counter exhausted")
	}
	id := ID(fmt.Sprintf("%s%s%08x", g.strategyID, g.startHex, g.counter))
	g.counter++
	return id, nil
}

// StrategyIDSize is the fixed-width prefix width used to demultiplex
// inbound gateway messages by strategy id. A compile-time constant (5).
const StrategyIDSize = 5

// SplitOrderID splits id into its strategy-id prefix and remainder, per the
// fixed StrategyIDSize width.
func SplitOrderID(id ID) (strategyID string, rest string, ok bool) {
	s := string(id)
	if len(s) < StrategyIDSize {
		return "", "", false
	}
	return s[:StrategyIDSize], s[StrategyIDSize:], true
}

// Service is the process-wide order registry: allocates order
// ids, owns the order_id -> *Order map, and routes fills/updates from
// asynchronous sources back to the originating order.
type Service struct {
	logger *slog.Logger
	gen    *idGenerator

	live map[ID]*Order
	dead []ID // bounded ring of recently-closed order ids
}

// NewService creates an order Service for one strategy-id.
func NewService(strategyID string, startTime apexclock.Time, logger *slog.Logger) *Service {
	return &Service{
		logger: logger.With("component", "order-service"),
		gen:    newIDGenerator(strategyID, startTime),
		live:   make(map[ID]*Order),
	}
}

// Create allocates an id, constructs an Order, registers it, and subscribes
// to its close transition so the id can move to the dead set.
func (s *Service) Create(p Params) (*Order, error) {
	id, err := s.gen.next()
	if err != nil {
		return nil, err
	}
	o := newOrder(id, p)
	o.subscribe(func(ev Event) {
		if ev.Flags&FlagStateChange != 0 && ev.Order.IsClosed() {
			s.retire(ev.Order.ID)
		}
	})
	s.live[id] = o
	return o, nil
}

// Send transitions the order to sent and records it under its id (the
// order already lives in the registry from Create; Send just drives its
// state machine at the point the router actually dispatches the wire
// message).
func (s *Service) Send(o *Order, now apexclock.Time) {
	o.send(now)
}

func (s *Service) retire(id ID) {
	delete(s.live, id)
	s.dead = append(s.dead, id)
	if len(s.dead) > deadSetCapacity {
		s.dead = s.dead[len(s.dead)-deadSetCapacity:]
	}
}

func (s *Service) isDead(id ID) bool {
	for _, d := range s.dead {
		if d == id {
			return true
		}
	}
	return false
}

// Get returns the live order for id, if any.
func (s *Service) Get(id ID) (*Order, bool) {
	o, ok := s.live[id]
	return o, ok
}

// RouteFill looks up id and applies the fill. A miss against the live map
// that hits the recent-dead set is silently ignored (e.g. a websocket fill
// raced with a REST cancel already processed); a miss against both is
// logged as a warning.
func (s *Service) RouteFill(now apexclock.Time, id ID, price, size decimal.Decimal, isFullyFilled bool) {
	o, ok := s.live[id]
	if !ok {
		if s.isDead(id) {
			s.logger.Debug("fill for recently-closed order ignored", "order_id", id)
			return
		}
		s.logger.Warn("fill for unknown order id", "order_id", id)
		return
	}
	o.ApplyFill(now, price, size, isFullyFilled)
}

// RouteUpdate looks up id and applies a state update (ack, reject, lapse,
// or cancel confirmation/rejection), with the same dead-set semantics as
// RouteFill.
func (s *Service) RouteUpdate(now apexclock.Time, id ID, update Update) {
	o, ok := s.live[id]
	if !ok {
		if s.isDead(id) {
			s.logger.Debug("update for recently-closed order ignored", "order_id", id)
			return
		}
		s.logger.Warn("update for unknown order id", "order_id", id)
		return
	}
	switch update.Kind {
	case UpdateAck:
		o.ApplyAck(now, update.ExtOrderID)
	case UpdateReject:
		o.ApplyReject(now, update.ErrorCode, update.ErrorText)
	case UpdateCancelConfirm:
		o.ApplyCancelConfirm(now)
	case UpdateCancelReject:
		o.ApplyCancelReject(now, update.ErrorCode, update.ErrorText)
	case UpdateLapse:
		o.ApplyLapse(now)
	}
}

// UpdateKind discriminates the shapes of an asynchronous order update.
type UpdateKind int

const (
	UpdateAck UpdateKind = iota
	UpdateReject
	UpdateCancelConfirm
	UpdateCancelReject
	UpdateLapse
)

// Update carries an asynchronous state change destined for RouteUpdate.
type Update struct {
	Kind       UpdateKind
	ExtOrderID string
	ErrorCode  string
	ErrorText  string
}
