package instrument

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/automatedalgo/apex-sub000/pkg/types"
)

// refdataColumns is the instruments.csv header, ported from
// original_source/src/apex/core/RefDataService.cpp's load_assets: one row
// per tradable instrument, base/quote assets created on first reference.
var refdataColumns = []string{
	"inst_id", "symbol", "type", "venue",
	"base_asset", "quote_asset", "lot_qty", "tick_size",
	"min_notional", "min_qty", "base_precision", "quote_precision",
}

// LoadCSV reads a reference-data CSV file and returns every instrument it
// defines, keyed by Key() (exchange:symbol). A symbol defined twice with
// conflicting fields is an error; an exact duplicate row is tolerated.
func LoadCSV(path string) (map[string]Instrument, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("instrument: open ref-data csv: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(refdataColumns)

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("instrument: read ref-data header: %w", err)
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[h] = i
	}
	for _, col := range refdataColumns {
		if _, ok := idx[col]; !ok {
			return nil, fmt.Errorf("instrument: ref-data csv missing column %q", col)
		}
	}

	out := make(map[string]Instrument)
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("instrument: read ref-data row: %w", err)
		}

		inst, err := parseRow(row, idx)
		if err != nil {
			return nil, err
		}

		key := inst.Key()
		if existing, ok := out[key]; ok {
			if existing != inst {
				return nil, fmt.Errorf("instrument: ref-data symbol defined twice with conflicting fields: %s", key)
			}
			continue
		}
		out[key] = inst
	}
	return out, nil
}

func parseRow(row []string, idx map[string]int) (Instrument, error) {
	col := func(name string) string { return row[idx[name]] }

	basePrec, err := strconv.Atoi(col("base_precision"))
	if err != nil {
		return Instrument{}, fmt.Errorf("instrument: base_precision: %w", err)
	}
	quotePrec, err := strconv.Atoi(col("quote_precision"))
	if err != nil {
		return Instrument{}, fmt.Errorf("instrument: quote_precision: %w", err)
	}
	tickSize, err := parseScaled(col("tick_size"))
	if err != nil {
		return Instrument{}, fmt.Errorf("instrument: tick_size: %w", err)
	}
	lotSize, err := parseScaled(col("lot_qty"))
	if err != nil {
		return Instrument{}, fmt.Errorf("instrument: lot_qty: %w", err)
	}
	minQty, err := decimal.NewFromString(col("min_qty"))
	if err != nil {
		return Instrument{}, fmt.Errorf("instrument: min_qty: %w", err)
	}
	minNotional, err := decimal.NewFromString(col("min_notional"))
	if err != nil {
		return Instrument{}, fmt.Errorf("instrument: min_notional: %w", err)
	}

	venue := col("venue")
	return Instrument{
		Exchange:     venue,
		NativeSymbol: col("symbol"),
		Type:         parseInstrumentType(col("type")),
		Base:         Asset{Symbol: col("base_asset"), Exchange: venue, Precision: basePrec},
		Quote:        Asset{Symbol: col("quote_asset"), Exchange: venue, Precision: quotePrec},
		TickSize:     tickSize,
		LotSize:      lotSize,
		MinSize:      minQty,
		MinNotional:  minNotional,
	}, nil
}

// parseScaled parses a decimal string into its exact (mantissa, scale) form,
// preserving the trailing zeros' significance (e.g. "0.010" has scale 3).
func parseScaled(s string) (Scaled, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Scaled{}, err
	}
	return Scaled{Mantissa: d.Coefficient().Int64(), Scale: -d.Exponent()}, nil
}

func parseInstrumentType(s string) types.InstrumentType {
	switch s {
	case "perpetual":
		return types.InstrumentPerpetual
	case "future":
		return types.InstrumentFuture
	default:
		return types.InstrumentCoinPair
	}
}
