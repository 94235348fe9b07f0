package main

import (
	"sync"
	"time"

	"github.com/automatedalgo/apex-sub000/internal/api"
	"github.com/automatedalgo/apex-sub000/internal/instrument"
	"github.com/automatedalgo/apex-sub000/internal/marketdata"
	"github.com/automatedalgo/apex-sub000/internal/risk"
	"github.com/automatedalgo/apex-sub000/internal/strategy"
)

// botEntry is everything botProvider needs to render one instrument's
// dashboard row.
type botEntry struct {
	inst instrument.Instrument
	inv  *strategy.Inventory
}

// botProvider implements api.MarketSnapshotProvider plus the
// DashboardEvents() hook api.Server's event bridge requires, backed by the
// set of strategy.Bot instances a strategy process runs.
type botProvider struct {
	riskMgr *risk.Manager
	events  chan api.DashboardEvent
	md      *marketdata.Registry

	mu      sync.Mutex
	entries map[string]*botEntry
}

func (p *botProvider) register(key string, inst instrument.Instrument, inv *strategy.Inventory) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.entries == nil {
		p.entries = make(map[string]*botEntry)
	}
	p.entries[key] = &botEntry{inst: inst, inv: inv}
}

func (p *botProvider) inventories() map[string]*strategy.Inventory {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]*strategy.Inventory, len(p.entries))
	for key, e := range p.entries {
		out[key] = e.inv
	}
	return out
}

// GetRiskManager implements api.MarketSnapshotProvider.
func (p *botProvider) GetRiskManager() *risk.Manager {
	return p.riskMgr
}

// DashboardEvents satisfies the event-bridge interface api.Server.consumeEvents
// asserts for against its MarketSnapshotProvider.
func (p *botProvider) DashboardEvents() <-chan api.DashboardEvent {
	return p.events
}

// GetInstrumentsSnapshot implements api.MarketSnapshotProvider.
func (p *botProvider) GetInstrumentsSnapshot() []api.InstrumentStatus {
	p.mu.Lock()
	entries := make(map[string]*botEntry, len(p.entries))
	for k, v := range p.entries {
		entries[k] = v
	}
	p.mu.Unlock()

	out := make([]api.InstrumentStatus, 0, len(entries))
	for key, e := range entries {
		md, _ := p.md.Get(e.inst)
		mid, _ := md.Mid()
		bid, _ := md.Top.BidPrice.Float64()
		ask, _ := md.Top.AskPrice.Float64()
		midF, _ := mid.Float64()

		pos := e.inv.Snapshot()
		net, _ := pos.Net().Float64()
		avgBuy, _ := pos.AvgBuyPrice().Float64()
		avgSell, _ := pos.AvgSellPrice().Float64()
		realized, _ := pos.RealizedPnL().Float64()
		var unrealized float64
		if !mid.IsZero() {
			unrealized, _ = pos.UnrealizedPnL(mid).Float64()
		}
		exposure, _ := e.inv.TotalExposureUSD(mid).Float64()

		out = append(out, api.InstrumentStatus{
			InstrumentKey: key,
			MidPrice:      midF,
			BestBid:       bid,
			BestAsk:       ask,
			Spread:        ask - bid,
			LastUpdated:   md.Top.Time.AsTime(),
			IsStale:       md.IsStale(),
			TickSize:      tickSizeFloat(e.inst),
			Position: api.PositionSnapshot{
				NetQty:        net,
				AvgBuyPrice:   avgBuy,
				AvgSellPrice:  avgSell,
				RealizedPnL:   realized,
				UnrealizedPnL: unrealized,
				ExposureUSD:   exposure,
				LastUpdated:   time.Now(),
			},
		})
	}
	return out
}

func tickSizeFloat(inst instrument.Instrument) float64 {
	f, _ := inst.TickSize.Decimal().Float64()
	return f
}
