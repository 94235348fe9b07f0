// Package instrument defines the tradable instrument and asset vocabulary:
// identity by (exchange, native symbol), and exact scaled-integer tick/lot
// rounding so passive-direction rounding is always exact.
package instrument

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/automatedalgo/apex-sub000/pkg/types"
)

// Asset identifies a currency/token on a specific venue with a fixed
// display precision. Two assets are equal iff all three fields match.
type Asset struct {
	Symbol    string
	Exchange  string
	Precision int
}

// Equal reports whether a and other identify the same asset.
func (a Asset) Equal(other Asset) bool {
	return a.Symbol == other.Symbol && a.Exchange == other.Exchange && a.Precision == other.Precision
}

// Scaled is a (mantissa, scale) scaled integer: the value is
// Mantissa * 10^-Scale. This is the representation used for tick and lot
// sizes so rounding up, down, and to-passive is exact; plain float64
// rounding cannot guarantee that round-passive is idempotent at arbitrary
// scales.
type Scaled struct {
	Mantissa int64
	Scale    int32
}

// Decimal returns the decimal.Decimal value of s.
func (s Scaled) Decimal() decimal.Decimal {
	return decimal.New(s.Mantissa, -s.Scale)
}

func (s Scaled) String() string {
	return s.Decimal().String()
}

// RoundDown rounds x down to the nearest multiple of s (toward negative
// infinity is not implied; rounding is toward zero for positive x, which is
// the only direction tick/lot rounding is ever applied in this platform).
func (s Scaled) RoundDown(x decimal.Decimal) decimal.Decimal {
	step := s.Decimal()
	if step.IsZero() {
		return x
	}
	units := x.Div(step).Floor()
	return units.Mul(step)
}

// RoundUp rounds x up to the nearest multiple of s.
func (s Scaled) RoundUp(x decimal.Decimal) decimal.Decimal {
	step := s.Decimal()
	if step.IsZero() {
		return x
	}
	units := x.Div(step).Ceil()
	return units.Mul(step)
}

// RoundPassive rounds a price to the side's passive direction: a buy rounds
// down (never pays more than intended), a sell rounds up (never sells for
// less than intended). Idempotent: RoundPassive(RoundPassive(x)) ==
// RoundPassive(x), and for a buy the result is <= x, for a sell it is >= x.
func (s Scaled) RoundPassive(side types.Side, x decimal.Decimal) decimal.Decimal {
	if side == types.Sell {
		return s.RoundUp(x)
	}
	return s.RoundDown(x)
}

// Instrument is a tradable (exchange, native-symbol) pair with tick/lot/size
// metadata.
type Instrument struct {
	Exchange     string
	NativeSymbol string
	Type         types.InstrumentType
	Base         Asset
	Quote        Asset
	TickSize     Scaled
	LotSize      Scaled
	MinSize      decimal.Decimal
	MinNotional  decimal.Decimal
}

// Key is the stable (exchange, symbol) identity used as a map key throughout
// the platform (order routing, market-data subscriptions, tick-file paths).
func (i Instrument) Key() string {
	return fmt.Sprintf("%s:%s", i.Exchange, i.NativeSymbol)
}

// RoundPrice rounds a limit price to the instrument's tick size in the
// side's passive direction.
func (i Instrument) RoundPrice(side types.Side, price decimal.Decimal) decimal.Decimal {
	return i.TickSize.RoundPassive(side, price)
}

// RoundSize rounds an order size down to the instrument's lot size. Sizes
// always round toward zero (never send more than requested).
func (i Instrument) RoundSize(size decimal.Decimal) decimal.Decimal {
	return i.LotSize.RoundDown(size)
}

// MeetsMinimums reports whether price/size clear the instrument's minimum
// size and minimum notional; an order whose size rounds to zero must never
// reach the router, which this check also catches.
func (i Instrument) MeetsMinimums(price, size decimal.Decimal) bool {
	if size.LessThanOrEqual(decimal.Zero) {
		return false
	}
	if !i.MinSize.IsZero() && size.LessThan(i.MinSize) {
		return false
	}
	notional := price.Mul(size)
	if !i.MinNotional.IsZero() && notional.LessThan(i.MinNotional) {
		return false
	}
	return true
}
