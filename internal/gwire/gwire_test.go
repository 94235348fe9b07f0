package gwire

import (
	"bytes"
	"testing"
)

func TestHeaderRoundTrip(t *testing.T) {
	t.Parallel()
	h := Header{Len: 42, Type: TypeNewOrder, Flags: FlagProto3, ID: 0xDEADBEEF}
	buf := make([]byte, HeaderSize)
	EncodeHeader(buf, h)
	got := DecodeHeader(buf)
	if got != h {
		t.Errorf("round trip = %+v, want %+v", got, h)
	}
}

func TestEncodeFrameStructure(t *testing.T) {
	t.Parallel()
	payload := []byte(`{"symbol":"BTCUSDT"}`)
	frame, err := EncodeFrame(TypeSubscribe, 7, payload)
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	if len(frame) != HeaderSize+len(payload) {
		t.Fatalf("frame len = %d, want %d", len(frame), HeaderSize+len(payload))
	}
	h := DecodeHeader(frame)
	if h.Type != TypeSubscribe || h.ID != 7 {
		t.Errorf("decoded header = %+v", h)
	}
	if !bytes.Equal(frame[HeaderSize:], payload) {
		t.Error("payload bytes mismatch after encode")
	}
}

func TestDecoderSingleFrame(t *testing.T) {
	t.Parallel()
	payload, _ := Marshal(SubscribeRequest{Symbol: "BTCUSDT", Exchange: "binance"})
	frame, _ := EncodeFrame(TypeSubscribe, 1, payload)

	d := NewDecoder(0)
	if err := d.Feed(frame); err != nil {
		t.Fatalf("Feed: %v", err)
	}
	f, ok, err := d.Next()
	if err != nil || !ok {
		t.Fatalf("Next() = %v, %v, %v", f, ok, err)
	}
	var req SubscribeRequest
	if err := Unmarshal(f.Payload, &req); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if req.Symbol != "BTCUSDT" {
		t.Errorf("symbol = %q, want BTCUSDT", req.Symbol)
	}
	if d.Pending() != 0 {
		t.Errorf("pending = %d, want 0 after full consume", d.Pending())
	}
}

func TestDecoderPartialThenComplete(t *testing.T) {
	t.Parallel()
	payload, _ := Marshal(Trade{Symbol: "ETHUSDT", Price: "3000.5", Size: "1.2", Side: "buy"})
	frame, _ := EncodeFrame(TypeTrade, 2, payload)

	d := NewDecoder(0)
	if err := d.Feed(frame[:5]); err != nil {
		t.Fatalf("Feed partial: %v", err)
	}
	if _, ok, err := d.Next(); ok || err != nil {
		t.Fatalf("Next on partial frame should report not-ok, got ok=%v err=%v", ok, err)
	}
	if err := d.Feed(frame[5:]); err != nil {
		t.Fatalf("Feed rest: %v", err)
	}
	f, ok, err := d.Next()
	if err != nil || !ok {
		t.Fatalf("Next() after completing frame = %v, %v, %v", f, ok, err)
	}
}

func TestDecoderShiftsUnreadBytesForNextFrame(t *testing.T) {
	t.Parallel()
	p1, _ := Marshal(Trade{Symbol: "A"})
	p2, _ := Marshal(Trade{Symbol: "B"})
	f1, _ := EncodeFrame(TypeTrade, 1, p1)
	f2, _ := EncodeFrame(TypeTrade, 2, p2)

	d := NewDecoder(0)
	_ = d.Feed(append(append([]byte{}, f1...), f2...))

	first, ok, _ := d.Next()
	if !ok {
		t.Fatal("expected first frame ready")
	}
	var t1 Trade
	_ = Unmarshal(first.Payload, &t1)
	if t1.Symbol != "A" {
		t.Errorf("first frame symbol = %q, want A", t1.Symbol)
	}

	second, ok, _ := d.Next()
	if !ok {
		t.Fatal("expected second frame ready after shift")
	}
	var t2 Trade
	_ = Unmarshal(second.Payload, &t2)
	if t2.Symbol != "B" {
		t.Errorf("second frame symbol = %q, want B", t2.Symbol)
	}
}

func TestDecoderOverflowIsFatal(t *testing.T) {
	t.Parallel()
	d := NewDecoder(10)
	err := d.Feed(make([]byte, 11))
	if err == nil {
		t.Error("expected overflow error when exceeding bounded max")
	}
}
