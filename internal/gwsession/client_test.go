package gwsession

import (
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/automatedalgo/apex-sub000/internal/apexclock"
	"github.com/automatedalgo/apex-sub000/internal/eventloop"
	"github.com/automatedalgo/apex-sub000/internal/gwire"
	"github.com/automatedalgo/apex-sub000/internal/instrument"
	"github.com/automatedalgo/apex-sub000/internal/marketdata"
	"github.com/automatedalgo/apex-sub000/internal/order"
	"github.com/automatedalgo/apex-sub000/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testInstrument() instrument.Instrument {
	return instrument.Instrument{Exchange: "binance", NativeSymbol: "BTCUSDT"}
}

func newTestClient(t *testing.T) (*Client, *order.Service, *marketdata.Registry) {
	t.Helper()
	loop := eventloop.NewRealtime(testLogger(), nil, nil, nil)
	t.Cleanup(loop.SyncStop)
	svc := order.NewService("DEMO1", apexclock.Now(), testLogger())
	md := marketdata.New()
	c := NewClient(testLogger(), loop, nil, apexclock.WallClock{}, "127.0.0.1:0", "DEMO1", types.RunModePaper, svc, md)
	return c, svc, md
}

func TestClientOrderExecAckClearsPendingSubmit(t *testing.T) {
	t.Parallel()
	c, svc, _ := newTestClient(t)

	o, _ := svc.Create(order.Params{
		Instrument: testInstrument(), Side: types.Buy,
		Size: decimal.NewFromInt(1), Price: decimal.NewFromInt(100), TIF: types.TIFGTC,
	})
	svc.Send(o, apexclock.Now())

	const reqID = uint32(7)
	c.pendingSubmit[reqID] = o.ID
	payload, _ := gwire.Marshal(gwire.OrderExec{OrderID: string(o.ID), ExtOrderID: "EXT-1", Reason: gwire.ReasonNewAck})
	c.handleOrderExec(gwire.Header{ID: reqID}, payload)

	if !o.IsLive() {
		t.Error("order should be live after new_ack")
	}
	if _, stillPending := c.pendingSubmit[reqID]; stillPending {
		t.Error("pendingSubmit entry should be cleared after a matched ack")
	}
}

func TestClientOrderExecUnmatchedReqIDIsIgnored(t *testing.T) {
	t.Parallel()
	c, svc, _ := newTestClient(t)
	o, _ := svc.Create(order.Params{
		Instrument: testInstrument(), Side: types.Buy,
		Size: decimal.NewFromInt(1), Price: decimal.NewFromInt(100), TIF: types.TIFGTC,
	})
	svc.Send(o, apexclock.Now())

	payload, _ := gwire.Marshal(gwire.OrderExec{OrderID: string(o.ID), Reason: gwire.ReasonNewAck})
	c.handleOrderExec(gwire.Header{ID: 999}, payload)

	if o.IsLive() {
		t.Error("order should not be live: no pending submit matched this req id")
	}
}

func TestClientErrorReplyRejectsPendingSubmit(t *testing.T) {
	t.Parallel()
	c, svc, _ := newTestClient(t)
	o, _ := svc.Create(order.Params{
		Instrument: testInstrument(), Side: types.Buy,
		Size: decimal.NewFromInt(1), Price: decimal.NewFromInt(100), TIF: types.TIFGTC,
	})
	svc.Send(o, apexclock.Now())

	const reqID = uint32(3)
	c.pendingSubmit[reqID] = o.ID
	payload, _ := gwire.Marshal(gwire.ErrorReply{OrigRequestType: "new_order", Code: "e0050", Text: "insufficient balance"})
	c.handleError(gwire.Header{ID: reqID}, payload)

	if !o.IsRejected() {
		t.Error("order should be rejected after error reply correlated to its pending submit")
	}
}

func TestClientErrorReplyRejectsPendingCancel(t *testing.T) {
	t.Parallel()
	c, svc, _ := newTestClient(t)
	o, _ := svc.Create(order.Params{
		Instrument: testInstrument(), Side: types.Buy,
		Size: decimal.NewFromInt(1), Price: decimal.NewFromInt(100), TIF: types.TIFGTC,
	})
	svc.Send(o, apexclock.Now())
	svc.RouteUpdate(apexclock.Now(), o.ID, order.Update{Kind: order.UpdateAck, ExtOrderID: "EXT-1"})
	o.MarkCanceling()

	const reqID = uint32(9)
	c.pendingCancel[reqID] = o.ID
	payload, _ := gwire.Marshal(gwire.ErrorReply{OrigRequestType: "cancel_order", Code: "e0102", Text: "not found"})
	c.handleError(gwire.Header{ID: reqID}, payload)

	if o.CancelState != types.CancelStateRejected {
		t.Errorf("cancel state = %v, want rejected", o.CancelState)
	}
}

func TestClientUnsolicitedLapseRoutesByOrderID(t *testing.T) {
	t.Parallel()
	c, svc, _ := newTestClient(t)
	o, _ := svc.Create(order.Params{
		Instrument: testInstrument(), Side: types.Buy,
		Size: decimal.NewFromInt(1), Price: decimal.NewFromInt(100), TIF: types.TIFGTC,
	})
	svc.Send(o, apexclock.Now())
	svc.RouteUpdate(apexclock.Now(), o.ID, order.Update{Kind: order.UpdateAck, ExtOrderID: "EXT-1"})

	payload, _ := gwire.Marshal(gwire.OrderExec{OrderID: string(o.ID), Reason: gwire.ReasonUnsolicited, CloseReason: "lapsed"})
	c.handleOrderExec(gwire.Header{}, payload)

	if !o.IsClosed() || o.CloseReason != types.CloseReasonLapsed {
		t.Errorf("order should be closed/lapsed, got state=%v close_reason=%v", o.State, o.CloseReason)
	}
}

func TestClientOrderFillRoutesByOrderID(t *testing.T) {
	t.Parallel()
	c, svc, _ := newTestClient(t)
	o, _ := svc.Create(order.Params{
		Instrument: testInstrument(), Side: types.Buy,
		Size: decimal.NewFromInt(2), Price: decimal.NewFromInt(100), TIF: types.TIFGTC,
	})
	svc.Send(o, apexclock.Now())
	svc.RouteUpdate(apexclock.Now(), o.ID, order.Update{Kind: order.UpdateAck, ExtOrderID: "EXT-1"})

	payload, _ := gwire.Marshal(gwire.OrderFill{OrderID: string(o.ID), Size: "2", Price: "100", FullyFilled: true})
	c.handleOrderFill(payload)

	if !o.HasFills() || !o.IsClosed() {
		t.Error("order should have a fill and be closed after a fully-filled order_fill")
	}
}

func TestClientTradeUpdatesMarketDataForSubscribedInstrument(t *testing.T) {
	t.Parallel()
	c, _, md := newTestClient(t)
	inst := testInstrument()
	c.subs[inst.Key()] = inst

	payload, _ := gwire.Marshal(gwire.Trade{Symbol: inst.NativeSymbol, Exchange: inst.Exchange, Price: "100.5", Size: "2", Side: "buy"})
	c.handleTrade(payload)

	got, ok := md.Get(inst)
	if !ok {
		t.Fatal("expected market data entry to exist")
	}
	if !got.LastTrade.Price.Equal(decimal.RequireFromString("100.5")) {
		t.Errorf("last trade price = %v, want 100.5", got.LastTrade.Price)
	}
}

func TestClientTradeDroppedForUnsubscribedSymbol(t *testing.T) {
	t.Parallel()
	c, _, md := newTestClient(t)
	inst := testInstrument()

	payload, _ := gwire.Marshal(gwire.Trade{Symbol: inst.NativeSymbol, Exchange: inst.Exchange, Price: "100.5", Size: "2", Side: "buy"})
	c.handleTrade(payload)

	if _, ok := md.Get(inst); ok {
		t.Error("trade for a symbol with no sink should not reach the market-data registry")
	}
}

func TestClientLogonReplyFlipsLoggedOnAndReplaysSubscriptions(t *testing.T) {
	t.Parallel()
	c, _, _ := newTestClient(t)
	inst := testInstrument()
	c.subs[inst.Key()] = inst

	payload, _ := gwire.Marshal(gwire.OmLogonReply{})
	c.handleLogonReply(payload)

	if !c.loggedOn {
		t.Error("client should be logged on after an empty-error om_logon reply")
	}
}

func TestClientLogonRejectLeavesLoggedOnFalse(t *testing.T) {
	t.Parallel()
	c, _, _ := newTestClient(t)
	payload, _ := gwire.Marshal(gwire.OmLogonReply{Error: "strategy id already logged on"})
	c.handleLogonReply(payload)
	if c.loggedOn {
		t.Error("client should not be logged on after a rejected om_logon reply")
	}
}
