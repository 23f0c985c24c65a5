package upstream

import (
	"time"
)

// Policy decides the delay before a reconnect attempt and whether to
// keep trying. The backoff is linear rather than exponential: staleness
// has real cost for a market-data feed, so the worst-case recovery
// latency stays bounded while still easing off a struggling upstream.
type Policy struct {
	BaseDelay   time.Duration
	MaxAttempts int
}

// NewPolicy builds a policy, applying defaults for zero values.
func NewPolicy(baseDelay time.Duration, maxAttempts int) Policy {
	if baseDelay <= 0 {
		baseDelay = DefaultConfig().ReconnectBaseDelay
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultConfig().ReconnectMaxAttempts
	}
	return Policy{BaseDelay: baseDelay, MaxAttempts: maxAttempts}
}

// ShouldRetry reports whether the given attempt number (1-based) is
// within budget.
func (p Policy) ShouldRetry(attempt int) bool {
	return attempt <= p.MaxAttempts
}

// Delay returns the wait before the given attempt: BaseDelay * attempt.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return p.BaseDelay * time.Duration(attempt)
}
