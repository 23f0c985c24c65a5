package codec

import (
	"testing"

	"github.com/pkg/errors"
)

func TestDecode_TradeBatch(t *testing.T) {
	data := []byte(`{"type":"trade","data":[` +
		`{"s":"AAPL","p":191.25,"v":100,"t":1700000000100,"c":["1","12"]},` +
		`{"s":"BINANCE:BTCUSDT","p":43000.5,"v":0.002,"t":1700000000150},` +
		`{"s":"AAPL","p":191.3,"v":50,"t":1700000000200}]}`)

	msg, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if msg.Kind != KindTrade {
		t.Errorf("Kind = %q, want %q", msg.Kind, KindTrade)
	}
	if len(msg.Ticks) != 3 {
		t.Fatalf("got %d ticks, want 3", len(msg.Ticks))
	}

	first := msg.Ticks[0]
	if first.Symbol != "AAPL" {
		t.Errorf("Symbol = %q, want AAPL", first.Symbol)
	}
	if first.Price != 191.25 {
		t.Errorf("Price = %v, want 191.25", first.Price)
	}
	if first.Volume != 100 {
		t.Errorf("Volume = %v, want 100", first.Volume)
	}
	if first.TimestampMs != 1700000000100 {
		t.Errorf("TimestampMs = %v, want 1700000000100", first.TimestampMs)
	}

	// Entry order must survive decoding.
	if msg.Ticks[1].Symbol != "BINANCE:BTCUSDT" || msg.Ticks[2].Price != 191.3 {
		t.Errorf("tick order not preserved: %+v", msg.Ticks)
	}
}

func TestDecode_EmptyTradeBatch(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"trade","data":[]}`))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(msg.Ticks) != 0 {
		t.Errorf("got %d ticks, want 0", len(msg.Ticks))
	}
}

func TestDecode_Ping(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"ping"}`))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if msg.Kind != KindPing {
		t.Errorf("Kind = %q, want %q", msg.Kind, KindPing)
	}
	if len(msg.Ticks) != 0 {
		t.Errorf("ping produced %d ticks, want 0", len(msg.Ticks))
	}
}

func TestDecode_UnknownType(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"news","data":[]}`))
	if err == nil {
		t.Fatal("expected error for unknown frame type")
	}
	if !errors.Is(err, ErrUnknownFrame) {
		t.Errorf("error = %v, want ErrUnknownFrame", err)
	}
	if len(msg.Ticks) != 0 {
		t.Errorf("unknown frame produced %d ticks, want 0", len(msg.Ticks))
	}
}

func TestDecode_Malformed(t *testing.T) {
	if _, err := Decode([]byte(`not json at all`)); err == nil {
		t.Fatal("expected error for malformed frame")
	}
}

func TestEncodeSubscribe(t *testing.T) {
	data, err := EncodeSubscribe("AAPL")
	if err != nil {
		t.Fatalf("EncodeSubscribe failed: %v", err)
	}
	want := `{"type":"subscribe","symbol":"AAPL"}`
	if string(data) != want {
		t.Errorf("got %s, want %s", data, want)
	}
}

func TestEncodeUnsubscribe(t *testing.T) {
	data, err := EncodeUnsubscribe("MSFT")
	if err != nil {
		t.Fatalf("EncodeUnsubscribe failed: %v", err)
	}
	want := `{"type":"unsubscribe","symbol":"MSFT"}`
	if string(data) != want {
		t.Errorf("got %s, want %s", data, want)
	}
}
