// Package strategy implements the Avellaneda-Stoikov market-making
// algorithm over arbitrary instrument.Instrument price/size scales.
//
// The core idea: post a bid below and an ask above a "reservation price"
// that accounts for inventory risk. When the bot is long, it lowers quotes
// to attract sellers; when short, it raises quotes to attract buyers.
//
// Per-tick flow (every RefreshInterval):
//  1. Check market-data staleness and risk limits.
//  2. Compute reservation price:  r = mid - q * gamma * sigma^2 * T
//  3. Compute optimal spread:     delta = gamma * sigma^2 * T + (2/gamma) * ln(1 + gamma/k)
//  4. Derive bid = r - delta/2, ask = r + delta/2, rounded to the
//     instrument's tick size.
//  5. Reconcile: cancel stale orders, place new ones through the router.
//
// The bot earns the spread when both sides fill. Inventory skew (q) keeps
// it from accumulating unbounded directional risk.
package strategy

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/automatedalgo/apex-sub000/internal/apexclock"
	"github.com/automatedalgo/apex-sub000/internal/api"
	"github.com/automatedalgo/apex-sub000/internal/audit"
	"github.com/automatedalgo/apex-sub000/internal/config"
	"github.com/automatedalgo/apex-sub000/internal/instrument"
	"github.com/automatedalgo/apex-sub000/internal/marketdata"
	"github.com/automatedalgo/apex-sub000/internal/order"
	"github.com/automatedalgo/apex-sub000/internal/risk"
	"github.com/automatedalgo/apex-sub000/internal/router"
	"github.com/automatedalgo/apex-sub000/pkg/types"
)

// quotePair is the desired bid/ask for one tick, or nil on either side if
// risk or sizing rules mean that side shouldn't be quoted.
type quotePair struct {
	bid, ask         *order.Params
	reservationPrice decimal.Decimal
	optimalSpread    decimal.Decimal
}

// trackedOrder pairs a live order with the index of the last fill the bot
// has already processed, since Order exposes no external subscription
// (fills are observed by polling Order.Fills each tick).
type trackedOrder struct {
	o            *order.Order
	processedIdx int
}

// Bot runs the Avellaneda-Stoikov strategy for a single instrument.
type Bot struct {
	cfg  config.StrategyConfig
	inst instrument.Instrument

	md        *marketdata.Registry
	inventory *Inventory
	orderSvc  *order.Service
	router    router.OrderRouter
	riskMgr   *risk.Manager
	clock     apexclock.Source

	flowTracker *FlowTracker

	bid *trackedOrder
	ask *trackedOrder

	auditor         *audit.Auditor
	dashboardEvents chan<- api.DashboardEvent

	logger *slog.Logger
}

// NewBot creates a strategy instance for one instrument. auditor may be nil,
// in which case order and fill events are not written to a transactions
// trail.
func NewBot(
	cfg config.StrategyConfig,
	inst instrument.Instrument,
	md *marketdata.Registry,
	inventory *Inventory,
	orderSvc *order.Service,
	rtr router.OrderRouter,
	riskMgr *risk.Manager,
	clock apexclock.Source,
	logger *slog.Logger,
	auditor *audit.Auditor,
	dashboardEvents chan<- api.DashboardEvent,
) *Bot {
	return &Bot{
		cfg:       cfg,
		inst:      inst,
		md:        md,
		inventory: inventory,
		orderSvc:  orderSvc,
		router:    rtr,
		riskMgr:   riskMgr,
		clock:     clock,
		flowTracker: NewFlowTracker(
			clock,
			cfg.Strategy.FlowWindow,
			cfg.Strategy.FlowToxicityThreshold,
			cfg.Strategy.FlowCooldownPeriod,
			cfg.Strategy.FlowMaxSpreadMultiplier,
		),
		auditor:         auditor,
		dashboardEvents: dashboardEvents,
		logger: logger.With(
			"component", "strategy-bot",
			"instrument", inst.Key(),
		),
	}
}

// Run is the main loop for this instrument. Blocks until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) {
	ticker := time.NewTicker(b.cfg.Strategy.RefreshInterval)
	defer ticker.Stop()

	b.logger.Info("strategy started",
		"tick_size", b.inst.TickSize.String(),
		"order_size", b.cfg.Strategy.OrderSize,
	)

	for {
		select {
		case <-ctx.Done():
			b.cancelAllOrders()
			b.logger.Info("strategy stopped")
			return
		case <-ticker.C:
			b.quoteUpdate()
		}
	}
}

// quoteUpdate is the core per-tick logic.
func (b *Bot) quoteUpdate() {
	b.pollFills()

	md, ok := b.md.Get(b.inst)
	if !ok || md.IsStale() {
		b.logger.Warn("market data stale, cancelling all orders")
		b.cancelAllOrders()
		return
	}

	mid, ok := md.Mid()
	if !ok {
		b.logger.Debug("no mid price available")
		return
	}

	b.inventory.UpdateMarkToMarket(mid)
	b.reportPosition(mid)

	if b.riskMgr.IsKillSwitchActive() {
		b.logger.Warn("kill switch active, cancelling all orders")
		b.cancelAllOrders()
		return
	}

	remaining := b.riskMgr.RemainingBudget(b.inst.Key())
	if remaining <= 0 {
		b.logger.Info("risk budget exhausted")
		b.cancelAllOrders()
		return
	}

	quotes := b.computeQuotes(mid, decimal.NewFromFloat(remaining))
	b.reconcileOrders(quotes)
}

// computeQuotes implements the Avellaneda-Stoikov model.
//
// Variables:
//
//	q     = inventory skew in [-1, 1] from Inventory.Skew
//	gamma = risk aversion (higher = tighter spread, less inventory risk)
//	sigma = estimated volatility
//	k     = order arrival intensity
//	T     = time horizon
func (b *Bot) computeQuotes(mid, remainingBudget decimal.Decimal) quotePair {
	st := b.cfg.Strategy
	midF, _ := mid.Float64()

	maxInventoryQty := decimal.Zero
	if midF > 0 {
		maxInventoryQty = decimal.NewFromFloat(b.cfg.Risk.MaxPositionPerInstrument / midF)
	}
	q := b.inventory.Skew(maxInventoryQty)
	gamma, sigma, k, T := st.Gamma, st.Sigma, st.K, st.T
	minSpread := float64(st.DefaultSpreadBps) / 10000.0

	flowMultiplier := b.flowTracker.GetSpreadMultiplier()
	minSpread *= flowMultiplier

	reservationPrice := midF - q*gamma*sigma*sigma*T

	optSpread := gamma*sigma*sigma*T + (2.0/gamma)*math.Log(1+gamma/k)
	optSpread *= flowMultiplier

	bidRaw := reservationPrice - optSpread/2
	askRaw := reservationPrice + optSpread/2

	if (askRaw - bidRaw) < minSpread {
		bidRaw = reservationPrice - minSpread/2
		askRaw = reservationPrice + minSpread/2
	}

	bidDec := b.inst.RoundPrice(types.Buy, decimal.NewFromFloat(bidRaw))
	askDec := b.inst.RoundPrice(types.Sell, decimal.NewFromFloat(askRaw))

	if bidDec.GreaterThanOrEqual(askDec) {
		askDec = bidDec.Add(b.inst.TickSize.Decimal())
	}

	absQ := math.Abs(q)
	sizeFactor := 1.0 - 0.5*absQ
	baseSize := st.OrderSize / midF
	size := decimal.NewFromFloat(baseSize * sizeFactor)
	size = b.inst.RoundSize(size)

	maxBidSize := remainingBudget.Div(bidDec)
	maxAskSize := remainingBudget.Div(askDec)
	bidSize := decimal.Min(size, maxBidSize)
	askSize := decimal.Min(size, maxAskSize)

	totalNotional := bidSize.Mul(bidDec).Add(askSize.Mul(askDec))
	if totalNotional.GreaterThan(remainingBudget) && totalNotional.IsPositive() {
		scale := remainingBudget.Div(totalNotional)
		bidSize = bidSize.Mul(scale)
		askSize = askSize.Mul(scale)
	}
	bidSize = b.inst.RoundSize(bidSize)
	askSize = b.inst.RoundSize(askSize)

	var bidParams, askParams *order.Params
	if b.inst.MeetsMinimums(bidDec, bidSize) {
		bidParams = &order.Params{Instrument: b.inst, Side: types.Buy, Size: bidSize, Price: bidDec, TIF: types.TIFGTC}
	}
	if b.inst.MeetsMinimums(askDec, askSize) {
		askParams = &order.Params{Instrument: b.inst, Side: types.Sell, Size: askSize, Price: askDec, TIF: types.TIFGTC}
	}

	toxicity := b.flowTracker.CalculateToxicity()
	b.logger.Debug("quotes computed",
		"mid", midF,
		"q", q,
		"reservation", reservationPrice,
		"bid", bidDec.String(),
		"ask", askDec.String(),
		"toxicity_score", toxicity.ToxicityScore,
		"flow_spread_multiplier", flowMultiplier,
	)

	return quotePair{
		bid:              bidParams,
		ask:              askParams,
		reservationPrice: decimal.NewFromFloat(reservationPrice),
		optimalSpread:    decimal.NewFromFloat(optSpread),
	}
}

// reconcileOrders diffs desired quotes against the two live orders. An
// existing order is kept if its price is within one tick and its remaining
// size is within 10% of the desired size; otherwise it's cancelled and
// replaced.
func (b *Bot) reconcileOrders(desired quotePair) {
	const sizeTolerance = 0.10
	tick := b.inst.TickSize.Decimal()

	b.reconcileSide(&b.bid, desired.bid, tick, sizeTolerance)
	b.reconcileSide(&b.ask, desired.ask, tick, sizeTolerance)
}

func (b *Bot) reconcileSide(slot **trackedOrder, desired *order.Params, tick decimal.Decimal, sizeTolerance float64) {
	existing := *slot

	if existing != nil && existing.o.IsLive() {
		if desired != nil && matchesQuote(existing.o, desired, tick, sizeTolerance) {
			return
		}
		if err := b.router.CancelOrder(existing.o); err != nil {
			b.logger.Error("cancel order failed", "order_id", existing.o.ID, "error", err)
		} else {
			existing.o.MarkCanceling()
		}
		*slot = nil
		existing = nil
	}

	if existing != nil || desired == nil {
		return
	}

	o, err := b.orderSvc.Create(*desired)
	if err != nil {
		b.logger.Error("create order failed", "error", err)
		return
	}
	now := b.clock.Now()
	b.orderSvc.Send(o, now)
	if err := b.router.SendOrder(o); err != nil {
		b.logger.Error("send order failed", "order_id", o.ID, "error", err)
		return
	}

	*slot = &trackedOrder{o: o}
	b.emitOrderEvent(o, "placed")
	b.recordAudit(audit.Entry{
		Time:       now,
		StrategyID: b.cfg.Strategy.Code,
		Symbol:     b.inst.Key(),
		Venue:      b.inst.Exchange,
		OrderState: o.State.String(),
		OrderID:    string(o.ID),
		Side:       o.Side,
		Qty:        o.Size,
		Price:      o.Price,
		RemainQty:  o.RemainSize(),
	})
}

// recordAudit writes e to the transactions trail if auditing is enabled,
// logging rather than failing the caller if the write itself errors.
func (b *Bot) recordAudit(e audit.Entry) {
	if b.auditor == nil {
		return
	}
	if err := b.auditor.Record(e); err != nil {
		b.logger.Error("audit record failed", "error", err)
	}
}

func matchesQuote(o *order.Order, desired *order.Params, tick decimal.Decimal, sizeTolerance float64) bool {
	if o.Side != desired.Side {
		return false
	}
	if o.Price.Sub(desired.Price).Abs().GreaterThan(tick) {
		return false
	}
	remaining := o.RemainSize()
	if desired.Size.IsZero() {
		return remaining.IsZero()
	}
	diff := remaining.Sub(desired.Size).Abs().Div(desired.Size)
	tolerance := decimal.NewFromFloat(sizeTolerance)
	return diff.LessThanOrEqual(tolerance)
}

// pollFills scans both tracked orders for fills that haven't yet been
// applied to inventory, the polling counterpart to a push-based fill
// subscription (Order exposes no external event hook).
func (b *Bot) pollFills() {
	b.pollSide(b.bid)
	b.pollSide(b.ask)

	if b.bid != nil && b.bid.o.IsClosed() {
		b.bid = nil
	}
	if b.ask != nil && b.ask.o.IsClosed() {
		b.ask = nil
	}
}

func (b *Bot) pollSide(t *trackedOrder) {
	if t == nil {
		return
	}
	for t.processedIdx < len(t.o.Fills) {
		fill := t.o.Fills[t.processedIdx]
		t.processedIdx++

		now := b.clock.Now()
		b.inventory.OnFill(now, t.o.Side, fill.Price, fill.Size)
		b.flowTracker.AddFill(Fill{
			Timestamp:     now,
			Side:          t.o.Side,
			InstrumentKey: b.inst.Key(),
			Price:         fill.Price,
			Size:          fill.Size,
		})

		pos := b.inventory.Snapshot()
		priceF, _ := fill.Price.Float64()
		sizeF, _ := fill.Size.Float64()

		toxicity := b.flowTracker.CalculateToxicity()
		if toxicity.IsAverse {
			b.logger.Warn("toxic flow detected",
				"side", t.o.Side,
				"toxicity_score", toxicity.ToxicityScore,
				"directional_imbalance", toxicity.DirectionalImbalance,
			)
		}

		b.logger.Info("fill",
			"side", t.o.Side,
			"price", priceF,
			"size", sizeF,
			"net_qty", pos.Net().String(),
			"realized_pnl", pos.RealizedPnL().String(),
		)

		b.emitFillEvent(t.o, fill.Price, fill.Size, priceF, sizeF)
		b.recordAudit(audit.Entry{
			Time:       now,
			StrategyID: b.cfg.Strategy.Code,
			Symbol:     b.inst.Key(),
			Venue:      b.inst.Exchange,
			IsFill:     true,
			OrderState: t.o.State.String(),
			OrderID:    string(t.o.ID),
			Side:       t.o.Side,
			Qty:        t.o.Size,
			Price:      t.o.Price,
			DoneQty:    t.o.FilledSize(),
			RemainQty:  t.o.RemainSize(),
			FillQty:    fill.Size,
			FillPrice:  fill.Price,
			BuyQty:     pos.BuyQty,
			SellQty:    pos.SellQty,
			NetQty:     pos.Net(),
			BuyCost:    pos.BuyCost,
			SellCost:   pos.SellCost,
			Turnover:   pos.Turnover(),
			TotalPnL:   pos.RealizedPnL(),
		})
	}
}

func (b *Bot) reportPosition(mid decimal.Decimal) {
	pos := b.inventory.Snapshot()
	exposure := b.inventory.TotalExposureUSD(mid)
	midF, _ := mid.Float64()
	exposureF, _ := exposure.Float64()
	unrealizedF, _ := pos.UnrealizedPnL(mid).Float64()
	realizedF, _ := pos.RealizedPnL().Float64()
	netF, _ := pos.Net().Float64()

	b.riskMgr.Report(risk.PositionReport{
		InstrumentKey: b.inst.Key(),
		Qty:           netF,
		MidPrice:      midF,
		ExposureUSD:   exposureF,
		UnrealizedPnL: unrealizedF,
		RealizedPnL:   realizedF,
		Timestamp:     b.clock.Now().AsTime(),
	})

	b.emitPositionEvent(pos, exposureF, midF)
}

func (b *Bot) cancelAllOrders() {
	for _, t := range []*trackedOrder{b.bid, b.ask} {
		if t == nil || !t.o.IsLive() {
			continue
		}
		if err := b.router.CancelOrder(t.o); err != nil {
			b.logger.Error("cancel order failed", "order_id", t.o.ID, "error", err)
			continue
		}
		t.o.MarkCanceling()
	}
}

func (b *Bot) emitDashboardEvent(evt api.DashboardEvent) {
	if b.dashboardEvents == nil {
		return
	}
	select {
	case b.dashboardEvents <- evt:
	default:
	}
}

func (b *Bot) emitFillEvent(o *order.Order, price, size decimal.Decimal, priceF, sizeF float64) {
	pos := b.toAPIPosition(b.inventory.Snapshot(), decimal.Zero)
	b.emitDashboardEvent(api.DashboardEvent{
		Type:          "fill",
		Timestamp:     b.clock.Now().AsTime(),
		InstrumentKey: b.inst.Key(),
		Data:          api.NewFillEvent(string(o.ID), string(o.Side), b.inst.Key(), priceF, sizeF, pos),
	})
}

func (b *Bot) emitOrderEvent(o *order.Order, status string) {
	priceF, _ := o.Price.Float64()
	sizeF, _ := o.Size.Float64()
	b.emitDashboardEvent(api.DashboardEvent{
		Type:          "order",
		Timestamp:     b.clock.Now().AsTime(),
		InstrumentKey: b.inst.Key(),
		Data:          api.NewOrderEvent(string(o.ID), status, string(o.Side), b.inst.Key(), priceF, sizeF),
	})
}

func (b *Bot) emitPositionEvent(pos Position, exposureUSD, mid float64) {
	apiPos := b.toAPIPosition(pos, decimal.NewFromFloat(mid))
	apiPos.ExposureUSD = exposureUSD
	b.emitDashboardEvent(api.DashboardEvent{
		Type:          "position",
		Timestamp:     b.clock.Now().AsTime(),
		InstrumentKey: b.inst.Key(),
		Data:          api.NewPositionEvent(b.inst.Key(), apiPos, mid),
	})
}

func (b *Bot) toAPIPosition(pos Position, mid decimal.Decimal) api.PositionSnapshot {
	net, _ := pos.Net().Float64()
	avgBuy, _ := pos.AvgBuyPrice().Float64()
	avgSell, _ := pos.AvgSellPrice().Float64()
	realized, _ := pos.RealizedPnL().Float64()
	var unrealized float64
	if !mid.IsZero() {
		unrealized, _ = pos.UnrealizedPnL(mid).Float64()
	}
	return api.PositionSnapshot{
		NetQty:        net,
		AvgBuyPrice:   avgBuy,
		AvgSellPrice:  avgSell,
		RealizedPnL:   realized,
		UnrealizedPnL: unrealized,
	}
}
