// Package types defines the core types for the Tick Feed Service.
package types

import (
	"time"
)

// ConnState represents the lifecycle state of the upstream connection.
type ConnState int

const (
	StateIdle ConnState = iota
	StateConnecting
	StateOpen
	StateClosing
	StateReconnecting
	StateFailed
)

func (s ConnState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StateClosing:
		return "CLOSING"
	case StateReconnecting:
		return "RECONNECTING"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Tick is one normalized trade observation. Immutable; handed to
// consumers by value.
type Tick struct {
	Symbol      string  `json:"symbol"`
	Price       float64 `json:"price"`
	Volume      float64 `json:"volume"`
	TimestampMs int64   `json:"timestamp_ms"`
}

// Time returns the tick timestamp as a time.Time.
func (t Tick) Time() time.Time {
	return time.UnixMilli(t.TimestampMs)
}

// SignalAction is the direction of a trading signal.
type SignalAction string

const (
	SignalBuy  SignalAction = "BUY"
	SignalSell SignalAction = "SELL"
)

// Signal is a trading signal derived from the tick stream.
type Signal struct {
	Symbol string       `json:"symbol"`
	Action SignalAction `json:"action"`
	Price  float64      `json:"price"`
	At     time.Time    `json:"at"`
}

// Article is one news item produced by the news poller.
type Article struct {
	ID       int64     `json:"id"`
	Headline string    `json:"headline"`
	Source   string    `json:"source"`
	URL      string    `json:"url"`
	At       time.Time `json:"at"`
}
