package upstream

import (
	"time"

	"github.com/pkg/errors"
)

// Sentinel errors surfaced by the client and manager.
var (
	// ErrAlreadyRunning is returned by Start when the manager is not
	// in a startable state.
	ErrAlreadyRunning = errors.New("upstream: already running")

	// ErrConnectTimeout is returned by Start when the transport does
	// not reach open within the configured bound.
	ErrConnectTimeout = errors.New("upstream: connect timeout")

	// ErrStopped is returned by Start when Stop is called while the
	// initial dial is still in flight.
	ErrStopped = errors.New("upstream: stopped during connect")

	// ErrNotConnected is returned by Send when no socket is open.
	ErrNotConnected = errors.New("upstream: not connected")

	// ErrAlreadyClosed is returned by Connect on a closed client.
	ErrAlreadyClosed = errors.New("upstream: client already closed")
)

// ClientConfig holds settings for a single WebSocket connection.
type ClientConfig struct {
	// URL is the upstream WebSocket endpoint, without the token.
	URL string

	// Token is appended as a query parameter (?token=...).
	Token string

	// HandshakeTimeout bounds the WebSocket handshake.
	HandshakeTimeout time.Duration

	// WriteTimeout bounds each outbound write.
	WriteTimeout time.Duration

	// BufferSize is the capacity of the inbound frame channel.
	BufferSize int
}

// DefaultClientConfig returns client settings suitable for production.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		BufferSize:       1000,
	}
}

// Config holds manager settings.
type Config struct {
	Client ClientConfig

	// ConnectTimeout bounds the initial Start; reconnect attempts are
	// not subject to it.
	ConnectTimeout time.Duration

	// KeepaliveInterval is the ping cadence while the connection is open.
	KeepaliveInterval time.Duration

	// ReconnectBaseDelay is multiplied by the attempt number to produce
	// the linear backoff sequence.
	ReconnectBaseDelay time.Duration

	// ReconnectMaxAttempts caps consecutive disconnects-or-failed-retries
	// before the manager gives up.
	ReconnectMaxAttempts int
}

// DefaultConfig returns manager settings suitable for production.
func DefaultConfig() Config {
	return Config{
		Client:               DefaultClientConfig(),
		ConnectTimeout:       10 * time.Second,
		KeepaliveInterval:    30 * time.Second,
		ReconnectBaseDelay:   5 * time.Second,
		ReconnectMaxAttempts: 5,
	}
}

// Frame is one raw inbound frame with its local receive timestamp.
type Frame struct {
	Data       []byte
	ReceivedAt time.Time
}
