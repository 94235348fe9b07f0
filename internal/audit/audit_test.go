package audit

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/automatedalgo/apex-sub000/internal/apexclock"
	"github.com/automatedalgo/apex-sub000/pkg/types"
)

func mustTime(t *testing.T, s string) apexclock.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatal(err)
	}
	return apexclock.FromTime(ts)
}

func TestOpenWritesHeader(t *testing.T) {
	dir := t.TempDir()
	start := mustTime(t, "2024-05-01T12:00:00Z")

	a, err := Open(dir, start)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 file, got %d", len(entries))
	}
	if want := "audit-transactions-20240501_120000.csv"; entries[0].Name() != want {
		t.Fatalf("filename = %q, want %q", entries[0].Name(), want)
	}

	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected only the header row, got %d lines", len(lines))
	}
	if !strings.HasPrefix(lines[0], "time,strategy_id,symbol,venue,event,") {
		t.Fatalf("unexpected header: %s", lines[0])
	}
}

func TestRecordOrderAndFill(t *testing.T) {
	dir := t.TempDir()
	start := mustTime(t, "2024-05-01T12:00:00Z")
	a, err := Open(dir, start)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	order := Entry{
		Time:       start,
		StrategyID: "mm01",
		Symbol:     "BTCUSDT",
		Venue:      "binance",
		OrderState: "live",
		OrderID:    "mm01-000001",
		Side:       types.Buy,
		Qty:        decimal.NewFromFloat(1),
		Price:      decimal.NewFromFloat(50000),
		RemainQty:  decimal.NewFromFloat(1),
	}
	if err := a.Record(order); err != nil {
		t.Fatal(err)
	}

	fill := order
	fill.IsFill = true
	fill.OrderState = "closed"
	fill.DoneQty = decimal.NewFromFloat(1)
	fill.FillQty = decimal.NewFromFloat(1)
	fill.FillPrice = decimal.NewFromFloat(50000)
	fill.NetQty = decimal.NewFromFloat(1)
	fill.BuyQty = decimal.NewFromFloat(1)
	fill.BuyCost = decimal.NewFromFloat(50000)
	if err := a.Record(fill); err != nil {
		t.Fatal(err)
	}
	if err := a.Flush(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "audit-transactions-20240501_120000.csv"))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header + 2 rows, got %d lines: %v", len(lines), lines)
	}
	if !strings.Contains(lines[1], ",order,") {
		t.Fatalf("expected order event in row 1: %s", lines[1])
	}
	if !strings.Contains(lines[2], ",fill,") {
		t.Fatalf("expected fill event in row 2: %s", lines[2])
	}
	if !strings.Contains(lines[2], "50000") {
		t.Fatalf("expected fill price/qty in row 2: %s", lines[2])
	}
}
