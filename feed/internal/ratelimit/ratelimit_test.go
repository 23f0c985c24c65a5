package ratelimit

import (
	"testing"
	"time"
)

func TestLimiter_AllowWithinBurst(t *testing.T) {
	l := NewLimiter(&Config{
		DefaultRPS:        10,
		DefaultMaxStreams: 5,
		BurstMultiplier:   2.0,
	})

	// Burst is RPS * multiplier; all of these fit.
	for i := 0; i < 20; i++ {
		if !l.Allow("key-1") {
			t.Fatalf("request %d rejected within burst", i)
		}
	}
	if l.Allow("key-1") {
		t.Error("request beyond burst allowed")
	}

	// Independent keys have independent budgets.
	if !l.Allow("key-2") {
		t.Error("fresh key rejected")
	}
}

func TestLimiter_StreamQuota(t *testing.T) {
	l := NewLimiter(&Config{
		DefaultRPS:        10,
		DefaultMaxStreams: 2,
		BurstMultiplier:   2.0,
	})

	if !l.AcquireStream("key-1") {
		t.Fatal("first stream rejected")
	}
	if !l.AcquireStream("key-1") {
		t.Fatal("second stream rejected")
	}
	if l.AcquireStream("key-1") {
		t.Error("third stream allowed beyond quota")
	}

	l.ReleaseStream("key-1")
	if !l.AcquireStream("key-1") {
		t.Error("stream rejected after release")
	}
}

func TestLimiter_CleanupRemovesIdleKeys(t *testing.T) {
	l := NewLimiter(&Config{
		DefaultRPS:        10,
		DefaultMaxStreams: 5,
		BurstMultiplier:   2.0,
	})

	l.Allow("stale")
	l.Allow("fresh")

	l.mu.RLock()
	l.limiters["stale"].lastAccess.Store(time.Now().Add(-time.Hour).UnixNano())
	l.mu.RUnlock()

	l.cleanup()

	l.mu.RLock()
	defer l.mu.RUnlock()
	if _, ok := l.limiters["stale"]; ok {
		t.Error("idle key survived cleanup")
	}
	if _, ok := l.limiters["fresh"]; !ok {
		t.Error("active key removed by cleanup")
	}
}

func TestLimiter_Stats(t *testing.T) {
	l := NewLimiter(&Config{
		DefaultRPS:        10,
		DefaultMaxStreams: 5,
		BurstMultiplier:   2.0,
	})

	l.Allow("key-1")
	l.AcquireStream("key-2")

	stats := l.GetStats()
	if stats.TotalKeys != 2 {
		t.Errorf("TotalKeys = %d, want 2", stats.TotalKeys)
	}
	if stats.TotalStreams != 1 {
		t.Errorf("TotalStreams = %d, want 1", stats.TotalStreams)
	}
}
