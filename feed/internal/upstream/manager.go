// Package upstream manages the connection to the tick provider: the
// socket lifecycle, linear-backoff reconnection, keepalive, and the
// subscription registry that survives reconnects.
package upstream

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"go_tickstream/feed/internal/codec"
	"go_tickstream/feed/pkg/types"
)

// Events are the side effects the manager exposes to external
// listeners. Handlers run on the manager's goroutines and must not
// block for long or call back into the manager.
type Events struct {
	// OnTick receives one normalized tick per decoded trade entry, in
	// wire order per connection.
	OnTick func(types.Tick)

	// OnConnectionLost fires once when the reconnect budget is
	// exhausted and the manager transitions to FAILED.
	OnConnectionLost func()

	// OnStateChange observes every state transition. Optional.
	OnStateChange func(types.ConnState)

	// OnDecodeError observes dropped undecodable frames. Optional.
	OnDecodeError func(err error)
}

// Manager drives the upstream connection state machine:
//
//	IDLE → CONNECTING → OPEN → (CLOSING → IDLE) | (RECONNECTING → CONNECTING | FAILED)
//
// All state transitions are serialized by a single mutex. Start
// suspends the caller until the socket is open or the connect fails;
// everything after that runs asynchronously and reports failures only
// through Events.
type Manager struct {
	cfg    Config
	policy Policy
	logger *zap.Logger
	events Events

	mu       sync.Mutex
	state    types.ConnState
	attempts int
	client   *Client
	registry *Registry
	kaStop   chan struct{}
	cancel   context.CancelFunc
}

// NewManager creates a manager. Events fields may be nil.
func NewManager(cfg Config, logger *zap.Logger, events Events) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConfig().ConnectTimeout
	}
	if cfg.KeepaliveInterval <= 0 {
		cfg.KeepaliveInterval = DefaultConfig().KeepaliveInterval
	}
	return &Manager{
		cfg:      cfg,
		policy:   NewPolicy(cfg.ReconnectBaseDelay, cfg.ReconnectMaxAttempts),
		logger:   logger,
		events:   events,
		state:    types.StateIdle,
		registry: NewRegistry(),
	}
}

// Start opens the upstream connection and blocks until the socket is
// open, the connect fails, or the connect timeout elapses. On success
// the subscription registry has been replayed and the keepalive timer
// is running. Restartable from IDLE and FAILED only.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.state != types.StateIdle && m.state != types.StateFailed {
		m.mu.Unlock()
		return ErrAlreadyRunning
	}
	m.attempts = 0
	m.setStateLocked(types.StateConnecting)
	runCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.mu.Unlock()

	cli := NewClient(m.cfg.Client, m.logger)

	dialCtx, dialCancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer dialCancel()

	if err := cli.Connect(dialCtx); err != nil {
		cli.Close()
		cancel()
		m.mu.Lock()
		if m.state == types.StateConnecting {
			m.setStateLocked(types.StateIdle)
		}
		m.cancel = nil
		m.mu.Unlock()

		if errors.Is(dialCtx.Err(), context.DeadlineExceeded) {
			return ErrConnectTimeout
		}
		return errors.Wrap(err, "upstream: connect")
	}

	m.mu.Lock()
	if m.state != types.StateConnecting {
		// Stop raced the dial; the socket must not outlive it.
		m.mu.Unlock()
		cli.Close()
		return ErrStopped
	}
	m.openLocked(cli)
	m.mu.Unlock()

	go m.readLoop(runCtx, cli)
	return nil
}

// Stop closes the connection, cancels any pending reconnect or
// keepalive timer, and clears the subscription registry. Idempotent;
// safe to call concurrently. A stopped manager is restartable as if
// newly constructed.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.state == types.StateIdle {
		m.mu.Unlock()
		return
	}
	m.setStateLocked(types.StateClosing)
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.stopKeepaliveLocked()
	cli := m.client
	m.client = nil
	m.registry.Clear()
	m.attempts = 0
	m.setStateLocked(types.StateIdle)
	m.mu.Unlock()

	if cli != nil {
		cli.Close()
	}
}

// Subscribe adds a symbol to the registry unconditionally; if the
// connection is open a subscribe frame is sent immediately. Duplicate
// calls are no-ops.
func (m *Manager) Subscribe(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.registry.Add(symbol) {
		return
	}
	if m.state == types.StateOpen && m.client != nil {
		m.sendSubscribeLocked(symbol)
	}
}

// Unsubscribe removes a symbol from the registry; an unsubscribe frame
// is sent only while the connection is open.
func (m *Manager) Unsubscribe(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.registry.Remove(symbol) {
		return
	}
	if m.state == types.StateOpen && m.client != nil {
		frame, err := codec.EncodeUnsubscribe(symbol)
		if err != nil {
			m.logger.Error("encode unsubscribe", zap.Error(err))
			return
		}
		if err := m.client.Send(frame); err != nil {
			m.logger.Warn("unsubscribe send failed",
				zap.String("symbol", symbol),
				zap.Error(err))
		}
	}
}

// IsRunning reports whether the manager is connecting, open, or
// reconnecting.
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case types.StateConnecting, types.StateOpen, types.StateReconnecting:
		return true
	}
	return false
}

// State returns the current connection state.
func (m *Manager) State() types.ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Symbols returns the subscribed symbols, sorted.
func (m *Manager) Symbols() []string {
	return m.registry.Snapshot()
}

// openLocked installs a freshly connected client: resets the attempt
// counter, replays the registry, and starts the keepalive timer.
func (m *Manager) openLocked(cli *Client) {
	m.client = cli
	m.attempts = 0
	m.setStateLocked(types.StateOpen)
	m.replayLocked()
	m.startKeepaliveLocked(cli)
}

// replayLocked issues one subscribe frame per registered symbol. The
// state mutex is held, so subscribe/unsubscribe calls racing the replay
// serialize after it and the server ends up reflecting the latest
// caller intent.
func (m *Manager) replayLocked() {
	symbols := m.registry.Snapshot()
	for _, symbol := range symbols {
		m.sendSubscribeLocked(symbol)
	}
	if len(symbols) > 0 {
		m.logger.Info("subscriptions replayed", zap.Int("count", len(symbols)))
	}
}

func (m *Manager) sendSubscribeLocked(symbol string) {
	frame, err := codec.EncodeSubscribe(symbol)
	if err != nil {
		m.logger.Error("encode subscribe", zap.Error(err))
		return
	}
	if err := m.client.Send(frame); err != nil {
		m.logger.Warn("subscribe send failed",
			zap.String("symbol", symbol),
			zap.Error(err))
	}
}

func (m *Manager) startKeepaliveLocked(cli *Client) {
	stop := make(chan struct{})
	m.kaStop = stop
	go m.keepaliveLoop(cli, stop)
}

func (m *Manager) stopKeepaliveLocked() {
	if m.kaStop != nil {
		close(m.kaStop)
		m.kaStop = nil
	}
}

// keepaliveLoop sends a transport ping on a fixed cadence while the
// connection is open. Advisory only: a failed ping is logged, never
// treated as a liveness verdict.
func (m *Manager) keepaliveLoop(cli *Client, stop chan struct{}) {
	ticker := time.NewTicker(m.cfg.KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := cli.Ping(); err != nil {
				m.logger.Debug("keepalive ping failed", zap.Error(err))
			}
		}
	}
}

// readLoop consumes frames until the socket closes, then hands off to
// the reconnect path. Transport errors observed while open are logged
// and do not themselves end the connection.
func (m *Manager) readLoop(ctx context.Context, cli *Client) {
	for {
		select {
		case <-ctx.Done():
			return

		case err := <-cli.Errors():
			m.logger.Warn("transport error", zap.Error(err))

		case frame, ok := <-cli.Frames():
			if !ok {
				m.handleDisconnect(ctx, cli)
				return
			}
			m.dispatch(frame)
		}
	}
}

// dispatch decodes one frame and emits its ticks. Malformed or
// unrecognized frames are logged and dropped.
func (m *Manager) dispatch(frame Frame) {
	msg, err := codec.Decode(frame.Data)
	if err != nil {
		m.logger.Warn("dropping frame", zap.Error(err))
		if m.events.OnDecodeError != nil {
			m.events.OnDecodeError(err)
		}
		return
	}

	switch msg.Kind {
	case codec.KindPing:
		m.logger.Debug("upstream ping")
	case codec.KindTrade:
		if m.events.OnTick == nil {
			return
		}
		for _, tick := range msg.Ticks {
			m.events.OnTick(tick)
		}
	}
}

// handleDisconnect reacts to the socket closing while the manager
// believes it should still be running.
func (m *Manager) handleDisconnect(ctx context.Context, cli *Client) {
	m.mu.Lock()
	if m.state != types.StateOpen {
		// Stop() owns the teardown.
		m.mu.Unlock()
		return
	}
	m.stopKeepaliveLocked()
	m.client = nil
	m.setStateLocked(types.StateReconnecting)
	m.mu.Unlock()

	cli.Close()
	m.logger.Warn("upstream disconnected")

	go m.reconnectLoop(ctx)
}

// reconnectLoop retries the connection with linear backoff until it
// succeeds, the budget is exhausted, or the manager is stopped. A
// failed attempt counts the same as a fresh disconnect.
func (m *Manager) reconnectLoop(ctx context.Context) {
	for {
		m.mu.Lock()
		if m.state != types.StateReconnecting {
			m.mu.Unlock()
			return
		}
		m.attempts++
		attempt := m.attempts
		m.mu.Unlock()

		if !m.policy.ShouldRetry(attempt) {
			m.fail()
			return
		}

		delay := m.policy.Delay(attempt)
		m.logger.Info("scheduling reconnect",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay))

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		m.mu.Lock()
		if m.state != types.StateReconnecting {
			m.mu.Unlock()
			return
		}
		m.setStateLocked(types.StateConnecting)
		m.mu.Unlock()

		cli := NewClient(m.cfg.Client, m.logger)
		if err := cli.Connect(ctx); err != nil {
			cli.Close()
			m.logger.Warn("reconnect attempt failed",
				zap.Int("attempt", attempt),
				zap.Error(err))
			m.mu.Lock()
			if m.state != types.StateConnecting {
				m.mu.Unlock()
				return
			}
			m.setStateLocked(types.StateReconnecting)
			m.mu.Unlock()
			continue
		}

		m.mu.Lock()
		if m.state != types.StateConnecting {
			m.mu.Unlock()
			cli.Close()
			return
		}
		m.openLocked(cli)
		m.mu.Unlock()

		m.logger.Info("reconnected")
		go m.readLoop(ctx, cli)
		return
	}
}

// fail transitions to FAILED and emits the connection-lost event. The
// manager stays queryable and must be restarted explicitly.
func (m *Manager) fail() {
	m.mu.Lock()
	if m.state != types.StateReconnecting {
		m.mu.Unlock()
		return
	}
	m.setStateLocked(types.StateFailed)
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.mu.Unlock()

	m.logger.Error("reconnect attempts exhausted, giving up")
	if m.events.OnConnectionLost != nil {
		m.events.OnConnectionLost()
	}
}

func (m *Manager) setStateLocked(s types.ConnState) {
	if m.state == s {
		return
	}
	m.state = s
	if m.events.OnStateChange != nil {
		m.events.OnStateChange(s)
	}
}
