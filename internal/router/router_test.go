package router

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/automatedalgo/apex-sub000/internal/apexclock"
	"github.com/automatedalgo/apex-sub000/internal/eventloop"
	"github.com/automatedalgo/apex-sub000/internal/instrument"
	"github.com/automatedalgo/apex-sub000/internal/matching"
	"github.com/automatedalgo/apex-sub000/internal/order"
	"github.com/automatedalgo/apex-sub000/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testParams() order.Params {
	return order.Params{
		Instrument: instrument.Instrument{Exchange: "binance", NativeSymbol: "BTCUSDT"},
		Side:       types.Buy,
		Size:       decimal.NewFromInt(1),
		Price:      decimal.NewFromInt(100),
		TIF:        types.TIFGTC,
	}
}

func TestSimulatedSendOrderAcksAfterLatency(t *testing.T) {
	t.Parallel()
	loop := eventloop.NewRealtime(testLogger(), nil, nil, nil)
	defer loop.SyncStop()

	svc := order.NewService("DEMO1", apexclock.Now(), testLogger())
	engine := matching.New()
	r := NewSimulated(loop, engine, svc, apexclock.WallClock{})
	r.ackLatency = 10 * time.Millisecond

	o, err := svc.Create(testParams())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	svc.Send(o, apexclock.Now())

	done := make(chan struct{})
	loop.Dispatch(func() {
		if err := r.SendOrder(o); err != nil {
			t.Errorf("SendOrder: %v", err)
		}
	})

	go func() {
		for i := 0; i < 50 && !o.IsLive(); i++ {
			time.Sleep(5 * time.Millisecond)
		}
		close(done)
	}()
	<-done

	if !o.IsLive() {
		t.Error("order should be live after the simulated ack latency elapses")
	}
}

func TestSimulatedCancelUnknownOrderRejected(t *testing.T) {
	t.Parallel()
	loop := eventloop.NewRealtime(testLogger(), nil, nil, nil)
	defer loop.SyncStop()

	svc := order.NewService("DEMO1", apexclock.Now(), testLogger())
	engine := matching.New()
	r := NewSimulated(loop, engine, svc, apexclock.WallClock{})
	r.ackLatency = 5 * time.Millisecond

	o, _ := svc.Create(testParams())
	svc.Send(o, apexclock.Now())
	svc.RouteUpdate(apexclock.Now(), o.ID, order.Update{Kind: order.UpdateAck, ExtOrderID: "x"})
	o.MarkCanceling()

	done := make(chan struct{})
	loop.Dispatch(func() {
		_ = r.CancelOrder(o)
	})
	go func() {
		for i := 0; i < 50 && o.CancelState == types.CancelStateCanceling; i++ {
			time.Sleep(5 * time.Millisecond)
		}
		close(done)
	}()
	<-done

	if o.CancelState != types.CancelStateRejected {
		t.Errorf("cancel state = %v, want rejected (order never added to engine)", o.CancelState)
	}
}

type fakeGatewayClient struct {
	loggedOn    bool
	submitted   []order.ID
	cancelled   []order.ID
}

func (f *fakeGatewayClient) SubmitOrder(o *order.Order) error {
	f.submitted = append(f.submitted, o.ID)
	return nil
}

func (f *fakeGatewayClient) SubmitCancel(o *order.Order) error {
	f.cancelled = append(f.cancelled, o.ID)
	return nil
}

func (f *fakeGatewayClient) IsLoggedOn() bool { return f.loggedOn }

func TestRealtimeRouterIsUpReflectsLogon(t *testing.T) {
	t.Parallel()
	client := &fakeGatewayClient{}
	r := NewRealtime(client)
	if r.IsUp() {
		t.Error("should not be up before logon")
	}
	client.loggedOn = true
	if !r.IsUp() {
		t.Error("should be up after logon")
	}
}

func TestRealtimeRouterForwardsToClient(t *testing.T) {
	t.Parallel()
	client := &fakeGatewayClient{}
	r := NewRealtime(client)
	svc := order.NewService("DEMO1", apexclock.Now(), testLogger())
	o, _ := svc.Create(testParams())

	_ = r.SendOrder(o)
	_ = r.CancelOrder(o)

	if len(client.submitted) != 1 || client.submitted[0] != o.ID {
		t.Errorf("submitted = %v, want [%v]", client.submitted, o.ID)
	}
	if len(client.cancelled) != 1 || client.cancelled[0] != o.ID {
		t.Errorf("cancelled = %v, want [%v]", client.cancelled, o.ID)
	}
}
