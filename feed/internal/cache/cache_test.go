package cache

import (
	"testing"
	"time"

	"go_tickstream/feed/pkg/types"
)

func TestTickRingBuffer_Eviction(t *testing.T) {
	rb := NewTickRingBuffer(3)
	for i := 1; i <= 5; i++ {
		rb.Add(types.Tick{Symbol: "AAPL", Price: float64(i)})
	}

	if rb.Len() != 3 {
		t.Errorf("Len = %d, want 3", rb.Len())
	}

	recent := rb.GetRecent(3)
	if len(recent) != 3 {
		t.Fatalf("GetRecent returned %d ticks, want 3", len(recent))
	}
	// Oldest first: prices 3, 4, 5 survive.
	for i, want := range []float64{3, 4, 5} {
		if recent[i].Price != want {
			t.Errorf("recent[%d].Price = %v, want %v", i, recent[i].Price, want)
		}
	}
}

func TestTickRingBuffer_GetRecentPartial(t *testing.T) {
	rb := NewTickRingBuffer(10)
	rb.Add(types.Tick{Price: 1})
	rb.Add(types.Tick{Price: 2})

	recent := rb.GetRecent(5)
	if len(recent) != 2 {
		t.Fatalf("GetRecent returned %d ticks, want 2", len(recent))
	}
	if recent[0].Price != 1 || recent[1].Price != 2 {
		t.Errorf("unexpected order: %+v", recent)
	}
}

func TestTickRingBuffer_NonPositiveCount(t *testing.T) {
	rb := NewTickRingBuffer(10)
	rb.Add(types.Tick{Price: 1})

	if got := rb.GetRecent(-1); len(got) != 0 {
		t.Errorf("GetRecent(-1) = %v, want empty", got)
	}
	if got := rb.GetRecent(0); len(got) != 0 {
		t.Errorf("GetRecent(0) = %v, want empty", got)
	}
}

func TestLayer_PutAndLatest(t *testing.T) {
	layer := NewLayer(16, nil, 0, nil)

	layer.Put(types.Tick{Symbol: "AAPL", Price: 191.25, TimestampMs: 1})
	layer.Put(types.Tick{Symbol: "AAPL", Price: 191.3, TimestampMs: 2})

	latest, ok := layer.Latest("AAPL")
	if !ok {
		t.Fatal("expected latest tick for AAPL")
	}
	if latest.Price != 191.3 {
		t.Errorf("latest Price = %v, want 191.3", latest.Price)
	}

	if _, ok := layer.Latest("MSFT"); ok {
		t.Error("unexpected latest tick for MSFT")
	}
}

func TestLayer_Recent(t *testing.T) {
	layer := NewLayer(4, nil, 0, nil)
	for i := 1; i <= 6; i++ {
		layer.Put(types.Tick{Symbol: "AAPL", Price: float64(i)})
	}

	recent := layer.Recent("AAPL", 10)
	if len(recent) != 4 {
		t.Fatalf("Recent returned %d ticks, want 4", len(recent))
	}
	if recent[0].Price != 3 || recent[3].Price != 6 {
		t.Errorf("unexpected window: %+v", recent)
	}

	if got := layer.Recent("MSFT", 10); len(got) != 0 {
		t.Errorf("Recent for unknown symbol = %v, want empty", got)
	}
}

func TestLayer_Symbols(t *testing.T) {
	layer := NewLayer(4, nil, 0, nil)
	layer.Put(types.Tick{Symbol: "AAPL"})
	layer.Put(types.Tick{Symbol: "MSFT"})

	symbols := layer.Symbols()
	if len(symbols) != 2 {
		t.Errorf("Symbols = %v, want 2 entries", symbols)
	}
}

func TestLayer_Cleanup(t *testing.T) {
	layer := NewLayer(4, nil, 0, nil)
	stale := time.Now().Add(-time.Hour)
	layer.Put(types.Tick{Symbol: "OLD", TimestampMs: stale.UnixMilli()})
	layer.Put(types.Tick{Symbol: "NEW", TimestampMs: time.Now().UnixMilli()})

	layer.Cleanup(10 * time.Minute)

	if _, ok := layer.Latest("OLD"); ok {
		t.Error("stale symbol not cleaned up")
	}
	if _, ok := layer.Latest("NEW"); !ok {
		t.Error("fresh symbol removed by cleanup")
	}
}
