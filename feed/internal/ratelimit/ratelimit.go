// Package ratelimit provides per-key rate limiting using a token
// bucket, plus a concurrent-stream cap for the streaming endpoint.
package ratelimit

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Limiter provides per-key rate limiting.
type Limiter struct {
	limiters        map[string]*ClientLimiter
	mu              sync.RWMutex
	defaultRPS      int
	defaultBurst    int
	defaultStreams  int
	cleanupInterval time.Duration
}

// ClientLimiter holds the limiters for a single API key.
type ClientLimiter struct {
	RPS     *rate.Limiter
	Streams *StreamLimiter

	// lastAccess is unix nanos, stored atomically so request
	// goroutines never contend with cleanup on the limiter mutex.
	lastAccess atomic.Int64
}

func (c *ClientLimiter) touch() {
	c.lastAccess.Store(time.Now().UnixNano())
}

// StreamLimiter caps concurrent streams per key.
type StreamLimiter struct {
	maxStreams    int
	activeStreams int
	mu            sync.Mutex
}

// NewStreamLimiter creates a stream limiter.
func NewStreamLimiter(maxStreams int) *StreamLimiter {
	return &StreamLimiter{maxStreams: maxStreams}
}

// Acquire tries to take a stream slot.
func (sl *StreamLimiter) Acquire() bool {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.activeStreams >= sl.maxStreams {
		return false
	}
	sl.activeStreams++
	return true
}

// Release frees a stream slot.
func (sl *StreamLimiter) Release() {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.activeStreams > 0 {
		sl.activeStreams--
	}
}

// ActiveCount returns the number of active streams.
func (sl *StreamLimiter) ActiveCount() int {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return sl.activeStreams
}

// Config holds rate limiter configuration.
type Config struct {
	DefaultRPS        int
	DefaultMaxStreams int
	BurstMultiplier   float64
	CleanupInterval   time.Duration
}

// NewLimiter creates a rate limiter.
func NewLimiter(cfg *Config) *Limiter {
	if cfg.BurstMultiplier < 1 {
		cfg.BurstMultiplier = 2.0
	}
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = 5 * time.Minute
	}

	l := &Limiter{
		limiters:        make(map[string]*ClientLimiter),
		defaultRPS:      cfg.DefaultRPS,
		defaultBurst:    int(float64(cfg.DefaultRPS) * cfg.BurstMultiplier),
		defaultStreams:  cfg.DefaultMaxStreams,
		cleanupInterval: cfg.CleanupInterval,
	}

	go l.cleanupLoop()

	return l
}

// Allow checks whether a request is allowed for the given key.
func (l *Limiter) Allow(key string) bool {
	limiter := l.getOrCreate(key)
	limiter.touch()
	return limiter.RPS.Allow()
}

// AcquireStream tries to take a stream slot for the given key.
func (l *Limiter) AcquireStream(key string) bool {
	limiter := l.getOrCreate(key)
	limiter.touch()
	return limiter.Streams.Acquire()
}

// ReleaseStream frees a stream slot for the given key.
func (l *Limiter) ReleaseStream(key string) {
	l.mu.RLock()
	limiter, ok := l.limiters[key]
	l.mu.RUnlock()

	if ok && limiter.Streams != nil {
		limiter.Streams.Release()
	}
}

// getOrCreate gets or creates a limiter for a key.
func (l *Limiter) getOrCreate(key string) *ClientLimiter {
	l.mu.RLock()
	limiter, ok := l.limiters[key]
	l.mu.RUnlock()

	if ok {
		return limiter
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Double-check after acquiring write lock
	if limiter, ok = l.limiters[key]; ok {
		return limiter
	}

	limiter = &ClientLimiter{
		RPS:     rate.NewLimiter(rate.Limit(l.defaultRPS), l.defaultBurst),
		Streams: NewStreamLimiter(l.defaultStreams),
	}
	limiter.touch()
	l.limiters[key] = limiter
	return limiter
}

// cleanupLoop periodically removes inactive limiters.
func (l *Limiter) cleanupLoop() {
	ticker := time.NewTicker(l.cleanupInterval)
	defer ticker.Stop()

	for range ticker.C {
		l.cleanup()
	}
}

// cleanup removes limiters that haven't been accessed recently.
func (l *Limiter) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	threshold := time.Now().Add(-l.cleanupInterval * 2).UnixNano()
	for key, limiter := range l.limiters {
		if limiter.lastAccess.Load() < threshold && limiter.Streams.ActiveCount() == 0 {
			delete(l.limiters, key)
		}
	}
}

// Stats returns overall rate limiter statistics.
type Stats struct {
	TotalKeys    int
	TotalStreams int
}

// GetStats returns overall statistics.
func (l *Limiter) GetStats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	totalStreams := 0
	for _, limiter := range l.limiters {
		totalStreams += limiter.Streams.ActiveCount()
	}

	return Stats{
		TotalKeys:    len(l.limiters),
		TotalStreams: totalStreams,
	}
}
