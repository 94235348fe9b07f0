package matching

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/automatedalgo/apex-sub000/internal/instrument"
	"github.com/automatedalgo/apex-sub000/internal/order"
	"github.com/automatedalgo/apex-sub000/pkg/types"
)

func testInstrument() instrument.Instrument {
	return instrument.Instrument{Exchange: "binance", NativeSymbol: "BTCUSDT"}
}

func TestAddOrderRejectsDuplicateID(t *testing.T) {
	t.Parallel()
	e := New()
	inst := testInstrument()
	if err := e.AddOrder(inst, "id-1", decimal.NewFromInt(1), decimal.NewFromInt(100), types.Buy, nil, nil); err != nil {
		t.Fatalf("AddOrder: %v", err)
	}
	if err := e.AddOrder(inst, "id-1", decimal.NewFromInt(1), decimal.NewFromInt(100), types.Buy, nil, nil); err == nil {
		t.Error("expected duplicate id to be rejected")
	}
}

func TestCancelUnknownOrderErrors(t *testing.T) {
	t.Parallel()
	e := New()
	if err := e.CancelOrder(order.ID("nope")); err == nil {
		t.Error("expected not-found error for unknown order id")
	}
}

func TestBidFillsOnlyWhenTradeThrough(t *testing.T) {
	t.Parallel()
	e := New()
	inst := testInstrument()

	var filledQty decimal.Decimal
	var fullyFilled bool
	_ = e.AddOrder(inst, "bid-1", decimal.NewFromInt(10), decimal.NewFromInt(100), types.Buy,
		func(size decimal.Decimal, full bool) { filledQty = size; fullyFilled = full }, nil)

	// trade at 100 does not cross a bid resting at 100 (must be strictly below)
	e.ApplyTrade(inst, decimal.NewFromInt(100), decimal.NewFromInt(5))
	if !filledQty.IsZero() {
		t.Fatalf("trade at the resting price should not fill, got qty %v", filledQty)
	}

	// trade at 99 crosses the bid
	e.ApplyTrade(inst, decimal.NewFromInt(99), decimal.NewFromInt(5))
	if !filledQty.Equal(decimal.NewFromInt(5)) {
		t.Errorf("filled qty = %v, want 5", filledQty)
	}
	if fullyFilled {
		t.Error("5 of 10 filled should not be fully filled")
	}
}

func TestAskFillsOnlyWhenTradeThrough(t *testing.T) {
	t.Parallel()
	e := New()
	inst := testInstrument()

	var filledQty decimal.Decimal
	_ = e.AddOrder(inst, "ask-1", decimal.NewFromInt(3), decimal.NewFromInt(100), types.Sell,
		func(size decimal.Decimal, full bool) { filledQty = filledQty.Add(size) }, nil)

	e.ApplyTrade(inst, decimal.NewFromInt(100), decimal.NewFromInt(10)) // no cross
	if !filledQty.IsZero() {
		t.Fatal("trade at resting ask price should not fill")
	}

	e.ApplyTrade(inst, decimal.NewFromInt(101), decimal.NewFromInt(10)) // crosses
	if !filledQty.Equal(decimal.NewFromInt(3)) {
		t.Errorf("filled qty = %v, want 3 (full order size)", filledQty)
	}
}

func TestFullyFilledOrderRemovedFromBook(t *testing.T) {
	t.Parallel()
	e := New()
	inst := testInstrument()
	_ = e.AddOrder(inst, "bid-1", decimal.NewFromInt(1), decimal.NewFromInt(100), types.Buy, nil, nil)

	e.ApplyTrade(inst, decimal.NewFromInt(50), decimal.NewFromInt(1))

	if err := e.CancelOrder("bid-1"); err == nil {
		t.Error("fully filled order should already be removed from the book")
	}
}

func TestIsTickingSetByFirstTrade(t *testing.T) {
	t.Parallel()
	e := New()
	inst := testInstrument()
	if e.IsTicking(inst) {
		t.Error("should not be ticking before any trade")
	}
	e.ApplyTrade(inst, decimal.NewFromInt(1), decimal.NewFromInt(1))
	if !e.IsTicking(inst) {
		t.Error("should be ticking after a trade")
	}
}
