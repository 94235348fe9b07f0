// Package matching implements the simulated matching engine used by the
// backtest and paper run modes, ported from
// original_source/src/apex/core/MockMatchingEngine.{hpp,cpp}. Per DESIGN.md
// Open Question 5, each instrument's resting book is a price-sorted slice
// plus an id-indexed map rather than a balanced tree: the original itself
// is a std::multimap (an ordered associative container, not a tree
// structure exposed to callers), and the conservative trade-through fill
// model below never needs more than "iterate in price order," which a
// sorted slice serves directly.
package matching

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/automatedalgo/apex-sub000/internal/apexerr"
	"github.com/automatedalgo/apex-sub000/internal/instrument"
	"github.com/automatedalgo/apex-sub000/internal/order"
	"github.com/automatedalgo/apex-sub000/pkg/types"
)

// OnFillFunc reports a (partial or full) fill against a resting order.
type OnFillFunc func(size decimal.Decimal, fullyFilled bool)

// OnUnsolCancelFunc reports an engine-initiated cancel (not implemented by
// this engine today, carried for interface parity with the original's
// optional unsolicited-cancel timer).
type OnUnsolCancelFunc func()

type restingOrder struct {
	id            order.ID
	instrumentKey string
	side          types.Side
	price         decimal.Decimal
	size          decimal.Decimal
	sizeRemain    decimal.Decimal
	onFill        OnFillFunc
	onUnsolCancel OnUnsolCancelFunc
}

func (o *restingOrder) isFullyFilled() bool {
	return o.sizeRemain.LessThanOrEqual(decimal.Zero)
}

type book struct {
	bids              []*restingOrder // sorted descending by price
	asks              []*restingOrder // sorted ascending by price
	marketDataTicking bool
}

// Engine holds one resting order book per instrument and matches incoming
// trade prints against them using the conservative "trade-through" model
//: a resting order only fills when a print crosses strictly
// through its price, never merely touches it.
type Engine struct {
	books     map[string]*book
	allOrders map[order.ID]*restingOrder
}

// New creates an empty Engine.
func New() *Engine {
	return &Engine{
		books:     make(map[string]*book),
		allOrders: make(map[order.ID]*restingOrder),
	}
}

func (e *Engine) bookFor(inst instrument.Instrument) *book {
	key := inst.Key()
	b, ok := e.books[key]
	if !ok {
		b = &book{}
		e.books[key] = b
	}
	return b
}

// AddOrder inserts a new resting order into inst's book. Returns an error
// if id is already live.
func (e *Engine) AddOrder(inst instrument.Instrument, id order.ID, size, price decimal.Decimal, side types.Side, onFill OnFillFunc, onUnsolCancel OnUnsolCancelFunc) error {
	if _, exists := e.allOrders[id]; exists {
		return apexerr.New(apexerr.CodeDuplicateOrderID, fmt.Sprintf("order already live for id %q", id))
	}

	o := &restingOrder{
		id:            id,
		instrumentKey: inst.Key(),
		side:          side,
		price:         price,
		size:          size,
		sizeRemain:    size,
		onFill:        onFill,
		onUnsolCancel: onUnsolCancel,
	}
	e.allOrders[id] = o

	b := e.bookFor(inst)
	if side == types.Buy {
		b.bids = insertDescending(b.bids, o)
	} else {
		b.asks = insertAscending(b.asks, o)
	}
	return nil
}

func insertDescending(list []*restingOrder, o *restingOrder) []*restingOrder {
	i := 0
	for i < len(list) && list[i].price.GreaterThanOrEqual(o.price) {
		i++
	}
	return insertAt(list, i, o)
}

func insertAscending(list []*restingOrder, o *restingOrder) []*restingOrder {
	i := 0
	for i < len(list) && list[i].price.LessThanOrEqual(o.price) {
		i++
	}
	return insertAt(list, i, o)
}

func insertAt(list []*restingOrder, i int, o *restingOrder) []*restingOrder {
	list = append(list, nil)
	copy(list[i+1:], list[i:])
	list[i] = o
	return list
}

// CancelOrder removes id from its book. Returns a not-found error if id is
// not currently resting.
func (e *Engine) CancelOrder(id order.ID) error {
	o, ok := e.allOrders[id]
	if !ok {
		return apexerr.New(apexerr.CodeOrderNotFound, fmt.Sprintf("order not found: %s", id))
	}
	delete(e.allOrders, id)

	b := e.books[o.instrumentKey]
	if o.side == types.Buy {
		b.bids = removeByID(b.bids, id)
	} else {
		b.asks = removeByID(b.asks, id)
	}
	return nil
}

func removeByID(list []*restingOrder, id order.ID) []*restingOrder {
	for i, o := range list {
		if o.id == id {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

// ApplyTrade walks the opposite side of inst's book against a market print
// (price, size) and fills any resting order the print trades through: bids
// fill when the print price is strictly below the resting price, asks when
// strictly above, highest/lowest priority first, consuming the print's size
// across as many levels as it reaches.
func (e *Engine) ApplyTrade(inst instrument.Instrument, price, size decimal.Decimal) {
	b := e.bookFor(inst)
	b.marketDataTicking = true

	remain := size

	var filled []order.ID
	for _, o := range b.bids {
		if remain.LessThanOrEqual(decimal.Zero) {
			break
		}
		if price.GreaterThanOrEqual(o.price) {
			break // no further bid prices are crossed by this print
		}
		qty := decimal.Min(remain, o.sizeRemain)
		o.sizeRemain = o.sizeRemain.Sub(qty)
		remain = remain.Sub(qty)
		if o.onFill != nil {
			o.onFill(qty, o.isFullyFilled())
		}
		if o.isFullyFilled() {
			filled = append(filled, o.id)
		}
	}

	remain = size
	for _, o := range b.asks {
		if remain.LessThanOrEqual(decimal.Zero) {
			break
		}
		if price.LessThanOrEqual(o.price) {
			break
		}
		qty := decimal.Min(remain, o.sizeRemain)
		o.sizeRemain = o.sizeRemain.Sub(qty)
		remain = remain.Sub(qty)
		if o.onFill != nil {
			o.onFill(qty, o.isFullyFilled())
		}
		if o.isFullyFilled() {
			filled = append(filled, o.id)
		}
	}

	for _, id := range filled {
		// CancelOrder also accepts an already-filled id; ignore the
		// not-found case since ApplyTrade and CancelOrder can race a
		// caller's own cancel in real use, but never within one call.
		_ = e.CancelOrder(id)
	}
}

// IsTicking reports whether inst has ever received a trade print, the Go
// equivalent of the original's market_data_ticking flag (folded in here as
// a plain query rather than an internal-only warning per SPEC_FULL.md §C.3).
func (e *Engine) IsTicking(inst instrument.Instrument) bool {
	b, ok := e.books[inst.Key()]
	return ok && b.marketDataTicking
}
