package tick

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/klauspost/compress/gzip"
	"github.com/shopspring/decimal"

	"github.com/automatedalgo/apex-sub000/internal/apexclock"
	"github.com/automatedalgo/apex-sub000/pkg/types"
)

// bookSnapshotHeader and tradeHeader are the exact column orders Tardis.dev
// publishes for its "book_snapshot_5" and "trades" datasets, grounded on
// original_source/src/apex/backtest/TardisCsvParsers.cpp's
// book_check_header/TardisCsvParserTrades::check_header.
var bookSnapshotHeader = func() []string {
	h := []string{"exchange", "symbol", "timestamp", "local_timestamp"}
	for i := 0; i < 5; i++ {
		h = append(h,
			fmt.Sprintf("asks[%d].price", i), fmt.Sprintf("asks[%d].amount", i),
			fmt.Sprintf("bids[%d].price", i), fmt.Sprintf("bids[%d].amount", i),
		)
	}
	return h
}()

var tradeHeader = []string{"exchange", "symbol", "timestamp", "local_timestamp", "id", "side", "price", "amount"}

// BookLevel is one price/qty pair on one side of a book snapshot row.
type BookLevel struct {
	AskPrice, AskQty decimal.Decimal
	BidPrice, BidQty decimal.Decimal
}

// BookSnapshot5 is one row of a Tardis "book_snapshot_5" CSV dataset.
type BookSnapshot5 struct {
	Exchange, Symbol string
	Timestamp      apexclock.Time
	LocalTimestamp apexclock.Time
	Levels         [5]BookLevel
}

// Trade is one row of a Tardis "trades" CSV dataset.
type Trade struct {
	Exchange, Symbol string
	Timestamp      apexclock.Time
	LocalTimestamp apexclock.Time
	ID             string
	Side           types.Side
	Price, Qty     decimal.Decimal
}

// BookSnapshotReader reads rows from a gzip-compressed Tardis
// "book_snapshot_5" CSV file.
type BookSnapshotReader struct {
	gz  *gzip.Reader
	csv *csv.Reader
	rec BookSnapshot5
	err error
}

// NewBookSnapshotReader opens the gzip stream, reads the header row, and
// verifies it matches the expected book_snapshot_5 layout.
func NewBookSnapshotReader(r io.Reader) (*BookSnapshotReader, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("tick: open tardis gzip stream: %w", err)
	}
	cr := csv.NewReader(gz)
	cr.ReuseRecord = true
	header, err := cr.Read()
	if err != nil {
		gz.Close()
		return nil, fmt.Errorf("tick: read tardis book snapshot header: %w", err)
	}
	if err := checkHeader(bookSnapshotHeader, header); err != nil {
		gz.Close()
		return nil, err
	}
	return &BookSnapshotReader{gz: gz, csv: cr}, nil
}

// Next reads the next row. Returns false at EOF or on error; call Err to
// distinguish the two.
func (r *BookSnapshotReader) Next() bool {
	row, err := r.csv.Read()
	if err != nil {
		if err != io.EOF {
			r.err = fmt.Errorf("tick: read tardis book snapshot row: %w", err)
		}
		return false
	}
	if len(row) != len(bookSnapshotHeader) {
		r.err = fmt.Errorf("tick: book snapshot row has %d fields, want %d", len(row), len(bookSnapshotHeader))
		return false
	}
	ts, err := parseMicroTimestamp(row[2])
	if err != nil {
		r.err = err
		return false
	}
	lts, err := parseMicroTimestamp(row[3])
	if err != nil {
		r.err = err
		return false
	}
	rec := BookSnapshot5{Exchange: row[0], Symbol: row[1], Timestamp: ts, LocalTimestamp: lts}
	for i := 0; i < 5; i++ {
		off := 4 + i*4
		rec.Levels[i] = BookLevel{
			AskPrice: parseDecimalOrZero(row[off]),
			AskQty:   parseDecimalOrZero(row[off+1]),
			BidPrice: parseDecimalOrZero(row[off+2]),
			BidQty:   parseDecimalOrZero(row[off+3]),
		}
	}
	r.rec = rec
	return true
}

// Record returns the last row Next decoded.
func (r *BookSnapshotReader) Record() BookSnapshot5 { return r.rec }

// Err returns the error that stopped Next, if any (nil at a clean EOF).
func (r *BookSnapshotReader) Err() error { return r.err }

// Close releases the underlying gzip stream.
func (r *BookSnapshotReader) Close() error { return r.gz.Close() }

// TradeReader reads rows from a gzip-compressed Tardis "trades" CSV file.
type TradeReader struct {
	gz  *gzip.Reader
	csv *csv.Reader
	rec Trade
	err error
}

// NewTradeReader opens the gzip stream, reads the header row, and verifies
// it matches the expected trades layout.
func NewTradeReader(r io.Reader) (*TradeReader, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("tick: open tardis gzip stream: %w", err)
	}
	cr := csv.NewReader(gz)
	cr.ReuseRecord = true
	header, err := cr.Read()
	if err != nil {
		gz.Close()
		return nil, fmt.Errorf("tick: read tardis trades header: %w", err)
	}
	if err := checkHeader(tradeHeader, header); err != nil {
		gz.Close()
		return nil, err
	}
	return &TradeReader{gz: gz, csv: cr}, nil
}

// Next reads the next row. Returns false at EOF or on error; call Err to
// distinguish the two.
func (r *TradeReader) Next() bool {
	row, err := r.csv.Read()
	if err != nil {
		if err != io.EOF {
			r.err = fmt.Errorf("tick: read tardis trade row: %w", err)
		}
		return false
	}
	if len(row) != len(tradeHeader) {
		r.err = fmt.Errorf("tick: trade row has %d fields, want %d", len(row), len(tradeHeader))
		return false
	}
	ts, err := parseMicroTimestamp(row[2])
	if err != nil {
		r.err = err
		return false
	}
	lts, err := parseMicroTimestamp(row[3])
	if err != nil {
		r.err = err
		return false
	}
	side := types.SideNone
	switch row[5] {
	case "buy":
		side = types.Buy
	case "sell":
		side = types.Sell
	}
	r.rec = Trade{
		Exchange:       row[0],
		Symbol:         row[1],
		Timestamp:      ts,
		LocalTimestamp: lts,
		ID:             row[4],
		Side:           side,
		Price:          parseDecimalOrZero(row[6]),
		Qty:            parseDecimalOrZero(row[7]),
	}
	return true
}

// Record returns the last row Next decoded.
func (r *TradeReader) Record() Trade { return r.rec }

// Err returns the error that stopped Next, if any (nil at a clean EOF).
func (r *TradeReader) Err() error { return r.err }

// Close releases the underlying gzip stream.
func (r *TradeReader) Close() error { return r.gz.Close() }

func checkHeader(expected, actual []string) error {
	if len(expected) != len(actual) {
		return fmt.Errorf("tick: tardis csv header has %d columns, want %d", len(actual), len(expected))
	}
	for i, want := range expected {
		if actual[i] != want {
			return fmt.Errorf("tick: tardis csv header column %d = %q, want %q", i, actual[i], want)
		}
	}
	return nil
}

func parseMicroTimestamp(s string) (apexclock.Time, error) {
	us, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return apexclock.Time{}, fmt.Errorf("tick: parse tardis timestamp %q: %w", s, err)
	}
	return apexclock.FromUnixMicro(us), nil
}

// parseDecimalOrZero matches the original parser's use of atof/strtod,
// which silently return 0 on an unparsable (e.g. empty, for a missing book
// level) field rather than erroring the whole row.
func parseDecimalOrZero(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
