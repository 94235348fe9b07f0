// Package marketdata holds the per-instrument last-trade/top-of-book model
// and its subscriber fan-out, keyed by (exchange, symbol) so a single
// registry can serve any instrument a strategy trades.
package marketdata

import (
	"sync"

	"github.com/shopspring/decimal"

	"github.com/automatedalgo/apex-sub000/internal/apexclock"
	"github.com/automatedalgo/apex-sub000/internal/instrument"
)

// Event is the bitmask of what changed in an update, handed to subscribers
// alongside the MarketData snapshot.
type Event uint8

const (
	EventTrade Event = 1 << 0
	EventTop   Event = 1 << 1
)

// Trade is the last observed public trade for an instrument.
type Trade struct {
	Price decimal.Decimal
	Size  decimal.Decimal
	Side  string
	Time  apexclock.Time
}

// Top is the current best bid/ask for an instrument.
type Top struct {
	BidPrice decimal.Decimal
	AskPrice decimal.Decimal
	Time     apexclock.Time
}

// MarketData is the per-instrument record subscribers observe: last trade
// plus top-of-book, updated independently.
type MarketData struct {
	Instrument instrument.Instrument
	LastTrade  Trade
	Top        Top
}

// Subscriber receives an Event bitmask and the current MarketData snapshot.
type Subscriber func(ev Event, md MarketData)

// Registry is the process-wide per-instrument market-data store and
// subscriber fan-out, keyed by instrument rather than a single hardcoded
// market.
type Registry struct {
	mu   sync.RWMutex
	data map[string]*entry
}

type entry struct {
	md   MarketData
	subs []Subscriber
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{data: make(map[string]*entry)}
}

func (r *Registry) entryFor(inst instrument.Instrument) *entry {
	key := inst.Key()
	e, ok := r.data[key]
	if !ok {
		e = &entry{md: MarketData{Instrument: inst}}
		r.data[key] = e
	}
	return e
}

// Subscribe registers fn to receive updates for inst. Returns an unsubscribe
// function.
func (r *Registry) Subscribe(inst instrument.Instrument, fn Subscriber) func() {
	r.mu.Lock()
	e := r.entryFor(inst)
	idx := len(e.subs)
	e.subs = append(e.subs, fn)
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if idx < len(e.subs) {
			e.subs[idx] = nil
		}
	}
}

// ApplyTrade records a new last trade and fans out EventTrade.
func (r *Registry) ApplyTrade(inst instrument.Instrument, t Trade) {
	r.mu.Lock()
	e := r.entryFor(inst)
	e.md.LastTrade = t
	snapshot := e.md
	subs := append([]Subscriber(nil), e.subs...)
	r.mu.Unlock()

	notify(subs, EventTrade, snapshot)
}

// ApplyTop records a new top-of-book and fans out EventTop.
func (r *Registry) ApplyTop(inst instrument.Instrument, top Top) {
	r.mu.Lock()
	e := r.entryFor(inst)
	e.md.Top = top
	snapshot := e.md
	subs := append([]Subscriber(nil), e.subs...)
	r.mu.Unlock()

	notify(subs, EventTop, snapshot)
}

func notify(subs []Subscriber, ev Event, md MarketData) {
	for _, fn := range subs {
		if fn != nil {
			fn(ev, md)
		}
	}
}

// Get returns the current snapshot for inst, if any.
func (r *Registry) Get(inst instrument.Instrument) (MarketData, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.data[inst.Key()]
	if !ok {
		return MarketData{}, false
	}
	return e.md, true
}

// Mid returns the mid-price (bid+ask)/2 for inst, or false if either side
// of the book is unset.
func (md MarketData) Mid() (decimal.Decimal, bool) {
	if md.Top.BidPrice.IsZero() || md.Top.AskPrice.IsZero() {
		return decimal.Zero, false
	}
	return md.Top.BidPrice.Add(md.Top.AskPrice).Div(decimal.NewFromInt(2)), true
}

// IsStale reports whether md has never received a top-of-book update.
func (md MarketData) IsStale() bool {
	return md.Top.Time.IsEmpty()
}
