package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/automatedalgo/apex-sub000/internal/gwire"
	"github.com/automatedalgo/apex-sub000/internal/gwsession"
)

// listenKeyRefreshInterval is how often a live listen key is renewed. Venues
// in this family expire a listen key after 60 minutes of silence; refreshing
// at half that keeps comfortable margin.
const listenKeyRefreshInterval = 30 * time.Minute

// Adapter wires a venue's REST client and market/user WebSocket feeds into
// gwsession.Venue, so a gateway process can subscribe to its market data and
// route orders through it without knowing the venue's wire formats.
//
// Unsolicited execution reports (fills, exchange-initiated cancels) arrive
// on the user feed outside any request/reply pair; Adapter routes these
// directly into the owning Server via RouteFill/RouteUnsolicitedLapse,
// demultiplexed there by the order id's strategy-id prefix.
type Adapter struct {
	client *Client
	server *gwsession.Server
	logger *slog.Logger

	marketFeed *WSFeed
	userFeed   *WSFeed

	listenKeyMu sync.Mutex
	listenKey   string

	cbMu      sync.Mutex
	tradeCbs  map[string]func(price, size decimal.Decimal, side string)
	topCbs    map[string]func(bid, ask decimal.Decimal)
	accountCb func(symbol string, position decimal.Decimal)
}

// NewAdapter builds an Adapter for one venue account. server is the gateway
// server this adapter's unsolicited execution events route into; it may be
// set after construction via SetServer if the Server and its Venue map are
// wired in the same constructor call (a common chicken-and-egg at startup).
func NewAdapter(cfg Config, logger *slog.Logger) *Adapter {
	logger = logger.With("venue", cfg.Name)
	a := &Adapter{
		client:   NewClient(cfg, logger),
		logger:   logger,
		tradeCbs: make(map[string]func(price, size decimal.Decimal, side string)),
		topCbs:   make(map[string]func(bid, ask decimal.Decimal)),
	}
	a.marketFeed = NewWSFeed(cfg.Name+"-market", func() string {
		return cfg.WSBaseURL + "/stream"
	}, logger)
	a.marketFeed.OnMessage = a.handleMarketMessage
	a.userFeed = NewWSFeed(cfg.Name+"-user", func() string {
		return cfg.WSBaseURL + "/ws/" + a.currentListenKey()
	}, logger)
	a.userFeed.OnMessage = a.handleUserMessage
	return a
}

// SetServer attaches the gateway server this adapter routes unsolicited
// execution events into.
func (a *Adapter) SetServer(s *gwsession.Server) {
	a.server = s
}

func (a *Adapter) currentListenKey() string {
	a.listenKeyMu.Lock()
	defer a.listenKeyMu.Unlock()
	return a.listenKey
}

// Start opens a listen key, connects the market and user feeds, and starts
// the listen-key renewal loop. It runs the feeds in background goroutines
// and returns once the listen key has been created.
func (a *Adapter) Start() error {
	ctx := context.Background()
	key, err := a.client.CreateListenKey(ctx)
	if err != nil {
		return fmt.Errorf("create listen key: %w", err)
	}
	a.listenKeyMu.Lock()
	a.listenKey = key
	a.listenKeyMu.Unlock()

	go a.runFeed(a.marketFeed)
	go a.runFeed(a.userFeed)
	go a.renewListenKeyLoop(ctx)
	return nil
}

func (a *Adapter) runFeed(f *WSFeed) {
	if err := f.Run(context.Background()); err != nil && err != context.Canceled {
		a.logger.Error("feed terminated", "feed", f.name, "error", err)
	}
}

func (a *Adapter) renewListenKeyLoop(ctx context.Context) {
	ticker := time.NewTicker(listenKeyRefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			key := a.currentListenKey()
			if key == "" {
				continue
			}
			if err := a.client.RenewListenKey(ctx, key); err != nil {
				a.logger.Warn("listen key renewal failed, re-creating", "error", err)
				if newKey, err := a.client.CreateListenKey(ctx); err == nil {
					a.listenKeyMu.Lock()
					a.listenKey = newKey
					a.listenKeyMu.Unlock()
					a.userFeed.Close()
				}
			}
		}
	}
}

// SubscribeTrades registers cb for trade prints on symbol and subscribes the
// market feed to that symbol's trade stream.
func (a *Adapter) SubscribeTrades(symbol string, cb func(price, size decimal.Decimal, side string)) error {
	key := strings.ToLower(symbol)
	a.cbMu.Lock()
	a.tradeCbs[key] = cb
	a.cbMu.Unlock()
	return a.marketFeed.Subscribe([]string{key + "@trade"})
}

// SubscribeTop registers cb for best bid/ask updates on symbol and
// subscribes the market feed to that symbol's book-ticker stream.
func (a *Adapter) SubscribeTop(symbol string, cb func(bid, ask decimal.Decimal)) error {
	key := strings.ToLower(symbol)
	a.cbMu.Lock()
	a.topCbs[key] = cb
	a.cbMu.Unlock()
	return a.marketFeed.Subscribe([]string{key + "@bookTicker"})
}

// SubscribeAccount stores cb and returns nil. The user-feed handler processes
// only executionReport events, so cb is never invoked.
func (a *Adapter) SubscribeAccount(cb func(symbol string, position decimal.Decimal)) error {
	a.cbMu.Lock()
	a.accountCb = cb
	a.cbMu.Unlock()
	return nil
}

// SubmitOrder places req on the venue. onReply/onRejected are invoked from
// whatever goroutine the REST call completes on; the caller (gwsession.
// Server) marshals back onto its own event loop before touching session
// state.
func (a *Adapter) SubmitOrder(req gwire.NewOrderRequest, onReply func(extOrderID string), onRejected func(code, text string)) {
	go func() {
		price, err1 := decimal.NewFromString(req.Price)
		size, err2 := decimal.NewFromString(req.Size)
		if err1 != nil || err2 != nil {
			onRejected("e0010", "invalid price/size")
			return
		}
		ack, err := a.client.NewOrder(context.Background(), req.Symbol, req.Side, price, size, req.OrderID)
		if err != nil {
			onRejected("e0050", err.Error())
			return
		}
		onReply(ack.ExtOrderID)
	}()
}

// CancelOrder cancels a resting order on the venue.
func (a *Adapter) CancelOrder(symbol, orderID, extOrderID string, onReply func(), onRejected func(code, text string)) {
	go func() {
		if err := a.client.CancelOrder(context.Background(), symbol, extOrderID); err != nil {
			onRejected("e0102", err.Error())
			return
		}
		onReply()
	}()
}

// binanceStreamEnvelope mirrors the outer shape of a Binance-style combined
// stream message: {"stream": "<name>", "data": {...}}.
type binanceStreamEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type tradeEvent struct {
	Symbol   string `json:"s"`
	Price    string `json:"p"`
	Quantity string `json:"q"`
	IsBuyer  bool   `json:"m"` // true if the buyer is the market maker (i.e. the aggressor sold)
}

type bookTickerEvent struct {
	Symbol   string `json:"s"`
	BidPrice string `json:"b"`
	AskPrice string `json:"a"`
}

func (a *Adapter) handleMarketMessage(data []byte) {
	var env binanceStreamEnvelope
	if err := json.Unmarshal(data, &env); err != nil || env.Stream == "" {
		return
	}
	switch {
	case strings.HasSuffix(env.Stream, "@trade"):
		var evt tradeEvent
		if err := json.Unmarshal(env.Data, &evt); err != nil {
			a.logger.Error("unmarshal trade event", "error", err)
			return
		}
		price, err1 := decimal.NewFromString(evt.Price)
		size, err2 := decimal.NewFromString(evt.Quantity)
		if err1 != nil || err2 != nil {
			return
		}
		side := "buy"
		if evt.IsBuyer {
			side = "sell"
		}
		a.cbMu.Lock()
		cb := a.tradeCbs[strings.ToLower(evt.Symbol)]
		a.cbMu.Unlock()
		if cb != nil {
			cb(price, size, side)
		}

	case strings.HasSuffix(env.Stream, "@bookTicker"):
		var evt bookTickerEvent
		if err := json.Unmarshal(env.Data, &evt); err != nil {
			a.logger.Error("unmarshal book ticker event", "error", err)
			return
		}
		bid, err1 := decimal.NewFromString(evt.BidPrice)
		ask, err2 := decimal.NewFromString(evt.AskPrice)
		if err1 != nil || err2 != nil {
			return
		}
		a.cbMu.Lock()
		cb := a.topCbs[strings.ToLower(evt.Symbol)]
		a.cbMu.Unlock()
		if cb != nil {
			cb(bid, ask)
		}
	}
}

// userExecutionReport is the subset of a venue's user-data "executionReport"
// event needed to classify and route it.
type userExecutionReport struct {
	EventType       string `json:"e"`
	Symbol          string `json:"s"`
	ClientOrderID   string `json:"c"`
	ExecutionType   string `json:"x"` // NEW, CANCELED, EXPIRED, TRADE, REJECTED
	OrderStatus     string `json:"X"`
	LastFilledQty   string `json:"l"`
	LastFilledPrice string `json:"L"`
	FilledQty       string `json:"z"`
	OrigQty         string `json:"q"`
}

func (a *Adapter) handleUserMessage(data []byte) {
	eventType, err := marshalEnvelope(data)
	if err != nil {
		return
	}
	if eventType != "executionReport" {
		return
	}
	var evt userExecutionReport
	if err := json.Unmarshal(data, &evt); err != nil {
		a.logger.Error("unmarshal execution report", "error", err)
		return
	}
	if a.server == nil || evt.ClientOrderID == "" {
		return
	}

	switch evt.ExecutionType {
	case "TRADE":
		price, err1 := decimal.NewFromString(evt.LastFilledPrice)
		size, err2 := decimal.NewFromString(evt.LastFilledQty)
		if err1 != nil || err2 != nil {
			return
		}
		fullyFilled := evt.FilledQty == evt.OrigQty
		a.server.RouteFill(evt.ClientOrderID, price, size, fullyFilled)

	case "CANCELED", "EXPIRED":
		a.server.RouteUnsolicitedLapse(evt.ClientOrderID)
	}
}
