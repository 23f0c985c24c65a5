// Package cache provides in-memory caching of the latest quotes and
// recent ticks, with an optional Redis mirror of the latest tick per
// symbol.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/valyala/bytebufferpool"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"go_tickstream/feed/pkg/types"
)

// Layer is a thread-safe cache of the latest tick and a ring of recent
// ticks per symbol. It is a quote cache, not a replay buffer: nothing
// here is ever fed back into the stream.
type Layer struct {
	latest     map[string]types.Tick
	history    map[string]*TickRingBuffer
	mu         sync.RWMutex
	historySz  int
	redis      *redis.Client
	redisTTL   time.Duration
	bufferPool *bytebufferpool.Pool
	logger     *zap.Logger
}

// TickRingBuffer is a fixed-size ring buffer of ticks.
type TickRingBuffer struct {
	ticks []types.Tick
	head  int
	count int
	mu    sync.RWMutex
}

// NewTickRingBuffer creates a ring buffer of the given size.
func NewTickRingBuffer(size int) *TickRingBuffer {
	return &TickRingBuffer{
		ticks: make([]types.Tick, size),
	}
}

// Add appends a tick, evicting the oldest when full.
func (rb *TickRingBuffer) Add(tick types.Tick) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.ticks[rb.head] = tick
	rb.head = (rb.head + 1) % len(rb.ticks)
	if rb.count < len(rb.ticks) {
		rb.count++
	}
}

// GetRecent returns the N most recent ticks, oldest first.
func (rb *TickRingBuffer) GetRecent(n int) []types.Tick {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if n < 0 {
		n = 0
	}
	if n > rb.count {
		n = rb.count
	}
	result := make([]types.Tick, n)
	for i := 0; i < n; i++ {
		idx := (rb.head - n + i + len(rb.ticks)) % len(rb.ticks)
		result[i] = rb.ticks[idx]
	}
	return result
}

// Len returns the number of buffered ticks.
func (rb *TickRingBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.count
}

// NewLayer creates a cache layer. redisClient may be nil to disable
// the mirror.
func NewLayer(historySize int, redisClient *redis.Client, redisTTL time.Duration, logger *zap.Logger) *Layer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Layer{
		latest:     make(map[string]types.Tick),
		history:    make(map[string]*TickRingBuffer),
		historySz:  historySize,
		redis:      redisClient,
		redisTTL:   redisTTL,
		bufferPool: &bytebufferpool.Pool{},
		logger:     logger,
	}
}

// Put records a tick as the latest quote for its symbol and appends it
// to the symbol's history ring.
func (l *Layer) Put(tick types.Tick) {
	l.mu.Lock()
	l.latest[tick.Symbol] = tick
	rb, ok := l.history[tick.Symbol]
	if !ok {
		rb = NewTickRingBuffer(l.historySz)
		l.history[tick.Symbol] = rb
	}
	l.mu.Unlock()

	rb.Add(tick)

	if l.redis != nil {
		l.mirror(tick)
	}
}

// mirror writes the msgpack-encoded tick to Redis. Failures are logged
// and ignored; the in-memory cache stays authoritative.
func (l *Layer) mirror(tick types.Tick) {
	buf := l.bufferPool.Get()
	defer l.bufferPool.Put(buf)

	enc := msgpack.NewEncoder(buf)
	if err := enc.Encode(tick); err != nil {
		l.logger.Warn("encode tick for mirror", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := l.redis.Set(ctx, "tick:latest:"+tick.Symbol, buf.B, l.redisTTL).Err(); err != nil {
		l.logger.Warn("mirror tick to redis", zap.Error(err))
	}
}

// Latest returns the latest tick for a symbol.
func (l *Layer) Latest(symbol string) (types.Tick, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	tick, ok := l.latest[symbol]
	return tick, ok
}

// Recent returns up to count recent ticks for a symbol, oldest first.
func (l *Layer) Recent(symbol string, count int) []types.Tick {
	l.mu.RLock()
	rb, ok := l.history[symbol]
	l.mu.RUnlock()

	if !ok {
		return nil
	}
	return rb.GetRecent(count)
}

// Symbols returns all cached symbols.
func (l *Layer) Symbols() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	symbols := make([]string, 0, len(l.latest))
	for s := range l.latest {
		symbols = append(symbols, s)
	}
	return symbols
}

// Cleanup removes symbols whose latest tick is older than the
// threshold.
func (l *Layer) Cleanup(staleThreshold time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().Add(-staleThreshold).UnixMilli()
	for symbol, tick := range l.latest {
		if tick.TimestampMs < cutoff {
			delete(l.latest, symbol)
			delete(l.history, symbol)
		}
	}
}

// Stats returns cache statistics.
type Stats struct {
	Symbols int
}

// GetStats returns current cache statistics.
func (l *Layer) GetStats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return Stats{Symbols: len(l.latest)}
}
