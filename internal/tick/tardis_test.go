package tick

import (
	"bytes"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"

	"github.com/automatedalgo/apex-sub000/pkg/types"
)

func gzipString(t *testing.T, s string) *bytes.Reader {
	t.Helper()
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write([]byte(s)); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := gw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return bytes.NewReader(buf.Bytes())
}

func TestTradeReaderParsesRowsAndInfersSide(t *testing.T) {
	t.Parallel()
	csv := strings.Join([]string{
		strings.Join(tradeHeader, ","),
		"binance,BTCUSDT,1700000000000000,1700000000001000,12345,buy,100.5,2",
		"binance,BTCUSDT,1700000000500000,1700000000501000,12346,sell,100.2,1",
		"",
	}, "\n")

	r, err := NewTradeReader(gzipString(t, csv))
	if err != nil {
		t.Fatalf("NewTradeReader: %v", err)
	}
	defer r.Close()

	if !r.Next() {
		t.Fatalf("Next (row 1): %v", r.Err())
	}
	got := r.Record()
	if got.Side != types.Buy {
		t.Errorf("side = %v, want buy", got.Side)
	}
	if got.ID != "12345" {
		t.Errorf("id = %q, want 12345", got.ID)
	}
	if !got.Price.Equal(d("100.5")) {
		t.Errorf("price = %v, want 100.5", got.Price)
	}
	if got.Timestamp.UnixMicro() != 1700000000000000 {
		t.Errorf("timestamp = %d, want 1700000000000000", got.Timestamp.UnixMicro())
	}

	if !r.Next() {
		t.Fatalf("Next (row 2): %v", r.Err())
	}
	if r.Record().Side != types.Sell {
		t.Errorf("row 2 side = %v, want sell", r.Record().Side)
	}

	if r.Next() {
		t.Fatal("expected EOF after two rows")
	}
	if r.Err() != nil {
		t.Errorf("Err() at EOF = %v, want nil", r.Err())
	}
}

func TestTradeReaderRejectsWrongHeader(t *testing.T) {
	t.Parallel()
	csv := "exchange,symbol,timestamp\n"
	if _, err := NewTradeReader(gzipString(t, csv)); err == nil {
		t.Fatal("expected an error for a malformed header")
	}
}

func TestBookSnapshotReaderParsesFiveLevels(t *testing.T) {
	t.Parallel()
	row := []string{"binance", "BTCUSDT", "1700000000000000", "1700000000001000"}
	for i := 0; i < 5; i++ {
		row = append(row, "100.1", "1", "99.9", "2")
	}
	csv := strings.Join(bookSnapshotHeader, ",") + "\n" + strings.Join(row, ",") + "\n"

	r, err := NewBookSnapshotReader(gzipString(t, csv))
	if err != nil {
		t.Fatalf("NewBookSnapshotReader: %v", err)
	}
	defer r.Close()

	if !r.Next() {
		t.Fatalf("Next: %v", r.Err())
	}
	got := r.Record()
	if got.Exchange != "binance" || got.Symbol != "BTCUSDT" {
		t.Errorf("exchange/symbol = %q/%q, want binance/BTCUSDT", got.Exchange, got.Symbol)
	}
	for i, lvl := range got.Levels {
		if !lvl.AskPrice.Equal(d("100.1")) || !lvl.BidPrice.Equal(d("99.9")) {
			t.Errorf("level %d = %+v, want ask 100.1 / bid 99.9", i, lvl)
		}
	}
}
