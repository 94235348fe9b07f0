package exchange

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
)

func testClientLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newDryRunClient() *Client {
	return NewClient(Config{Name: "binance", RESTBaseURL: "http://localhost", DryRun: true}, testClientLogger())
}

func TestDryRunNewOrderReturnsFakeAck(t *testing.T) {
	t.Parallel()
	c := newDryRunClient()

	ack, err := c.NewOrder(context.Background(), "BTCUSDT", "buy", decimal.NewFromInt(100), decimal.NewFromInt(1), "ord-1")
	if err != nil {
		t.Fatalf("NewOrder: %v", err)
	}
	if ack.ExtOrderID == "" {
		t.Error("expected a non-empty ext order id from a dry-run ack")
	}
	if ack.Status != "NEW" {
		t.Errorf("status = %q, want NEW", ack.Status)
	}
}

func TestDryRunCancelOrderSucceeds(t *testing.T) {
	t.Parallel()
	c := newDryRunClient()

	if err := c.CancelOrder(context.Background(), "BTCUSDT", "ord-1"); err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
}

func TestNewClientAppliesDryRunFromConfig(t *testing.T) {
	t.Parallel()
	c := NewClient(Config{Name: "binance", RESTBaseURL: "http://localhost", DryRun: true}, testClientLogger())
	if !c.dryRun {
		t.Error("client.dryRun should be true when Config.DryRun is true")
	}
	if c.Name() != "binance" {
		t.Errorf("Name() = %q, want binance", c.Name())
	}
}
