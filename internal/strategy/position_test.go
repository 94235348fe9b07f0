package strategy

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/automatedalgo/apex-sub000/internal/apexclock"
	"github.com/automatedalgo/apex-sub000/pkg/types"
)

const testKey = "binance:BTCUSDT"

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func newTestInventory() *Inventory {
	return NewInventory(testKey, decimal.Zero)
}

func requireDecimalClose(t *testing.T, got decimal.Decimal, want float64) {
	t.Helper()
	if diff := got.Sub(d(want)).Abs(); diff.GreaterThan(d(1e-9)) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestOnFillBuy(t *testing.T) {
	t.Parallel()
	inv := newTestInventory()

	inv.OnFill(apexclock.Now(), types.Buy, d(0.50), d(10))

	pos := inv.Snapshot()
	requireDecimalClose(t, pos.BuyQty, 10)
	requireDecimalClose(t, pos.AvgBuyPrice(), 0.50)
}

func TestOnFillBuyMultiple(t *testing.T) {
	t.Parallel()
	inv := newTestInventory()

	inv.OnFill(apexclock.Now(), types.Buy, d(0.50), d(10))
	inv.OnFill(apexclock.Now(), types.Buy, d(0.60), d(10))

	pos := inv.Snapshot()
	requireDecimalClose(t, pos.BuyQty, 20)
	// avg = (0.50*10 + 0.60*10) / 20 = 0.55
	requireDecimalClose(t, pos.AvgBuyPrice(), 0.55)
}

func TestOnFillSellPartial(t *testing.T) {
	t.Parallel()
	inv := newTestInventory()

	inv.OnFill(apexclock.Now(), types.Buy, d(0.50), d(10))
	inv.OnFill(apexclock.Now(), types.Sell, d(0.60), d(5))

	pos := inv.Snapshot()
	requireDecimalClose(t, pos.Net(), 5)
	// realized = (0.60 - 0.50) * 5 = 0.50
	requireDecimalClose(t, pos.RealizedPnL(), 0.50)
}

func TestOnFillSellAll(t *testing.T) {
	t.Parallel()
	inv := newTestInventory()

	inv.OnFill(apexclock.Now(), types.Buy, d(0.40), d(10))
	inv.OnFill(apexclock.Now(), types.Sell, d(0.50), d(10))

	pos := inv.Snapshot()
	requireDecimalClose(t, pos.Net(), 0)
	// realized = (0.50 - 0.40) * 10 = 1.0
	requireDecimalClose(t, pos.RealizedPnL(), 1.0)
}

func TestSkew(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		buyQty  float64
		sellQty float64
		max     float64
		want    float64
	}{
		{"no position", 0, 0, 10, 0},
		{"fully long", 10, 0, 10, 1.0},
		{"fully short", 0, 10, 10, -1.0},
		{"balanced", 10, 10, 10, 0},
		{"partially long", 7, 3, 10, 0.4},
		{"zero max", 5, 0, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			inv := newTestInventory()
			if tt.buyQty > 0 {
				inv.OnFill(apexclock.Now(), types.Buy, d(0.50), d(tt.buyQty))
			}
			if tt.sellQty > 0 {
				inv.OnFill(apexclock.Now(), types.Sell, d(0.50), d(tt.sellQty))
			}

			got := inv.Skew(d(tt.max))
			if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("Skew() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTotalExposureUSD(t *testing.T) {
	t.Parallel()
	inv := newTestInventory()

	inv.OnFill(apexclock.Now(), types.Buy, d(0.50), d(10))

	// net 10 at mark 0.60 => 6.0
	got := inv.TotalExposureUSD(d(0.60))
	requireDecimalClose(t, got, 6.0)
}

func TestUpdateMarkToMarket(t *testing.T) {
	t.Parallel()
	inv := newTestInventory()

	inv.OnFill(apexclock.Now(), types.Buy, d(0.50), d(10))
	inv.UpdateMarkToMarket(d(0.60))

	// unrealized = 10 * (0.60 - 0.50) = 1.0
	requireDecimalClose(t, inv.UnrealizedPnL(), 1.0)
}

func TestSetPosition(t *testing.T) {
	t.Parallel()
	inv := newTestInventory()

	inv.SetPosition(Position{BuyQty: d(42), BuyCost: d(42 * 0.55)})

	pos := inv.Snapshot()
	requireDecimalClose(t, pos.BuyQty, 42)
	requireDecimalClose(t, pos.AvgBuyPrice(), 0.55)
}
