package marketdata

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/automatedalgo/apex-sub000/internal/apexclock"
	"github.com/automatedalgo/apex-sub000/internal/instrument"
)

func testInstrument() instrument.Instrument {
	return instrument.Instrument{Exchange: "binance", NativeSymbol: "BTCUSDT"}
}

func TestApplyTopFansOutEventTop(t *testing.T) {
	t.Parallel()
	r := New()
	inst := testInstrument()

	var gotEvent Event
	var gotMid decimal.Decimal
	r.Subscribe(inst, func(ev Event, md MarketData) {
		gotEvent = ev
		mid, ok := md.Mid()
		if ok {
			gotMid = mid
		}
	})

	r.ApplyTop(inst, Top{BidPrice: decimal.NewFromInt(100), AskPrice: decimal.NewFromInt(102), Time: apexclock.Now()})

	if gotEvent != EventTop {
		t.Errorf("event = %v, want EventTop", gotEvent)
	}
	if !gotMid.Equal(decimal.NewFromInt(101)) {
		t.Errorf("mid = %v, want 101", gotMid)
	}
}

func TestApplyTradeDoesNotClearTop(t *testing.T) {
	t.Parallel()
	r := New()
	inst := testInstrument()
	r.ApplyTop(inst, Top{BidPrice: decimal.NewFromInt(10), AskPrice: decimal.NewFromInt(11), Time: apexclock.Now()})
	r.ApplyTrade(inst, Trade{Price: decimal.NewFromInt(10), Size: decimal.NewFromInt(1)})

	md, ok := r.Get(inst)
	if !ok {
		t.Fatal("expected market data present")
	}
	if md.Top.BidPrice.IsZero() {
		t.Error("top should survive an unrelated trade update")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	t.Parallel()
	r := New()
	inst := testInstrument()
	calls := 0
	unsub := r.Subscribe(inst, func(ev Event, md MarketData) { calls++ })
	unsub()
	r.ApplyTrade(inst, Trade{Price: decimal.NewFromInt(1)})

	if calls != 0 {
		t.Errorf("calls = %d, want 0 after unsubscribe", calls)
	}
}

func TestIsStaleBeforeAnyTop(t *testing.T) {
	t.Parallel()
	md := MarketData{}
	if !md.IsStale() {
		t.Error("zero-value MarketData should be stale")
	}
}
