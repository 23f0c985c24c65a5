package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"go_tickstream/feed/internal/cache"
	"go_tickstream/feed/internal/config"
	"go_tickstream/feed/internal/fanout"
	"go_tickstream/feed/internal/metrics"
	"go_tickstream/feed/internal/ratelimit"
	"go_tickstream/feed/internal/upstream"
)

// WSMessage represents a WebSocket message from a client.
type WSMessage struct {
	Op     string `json:"op"`
	Symbol string `json:"symbol,omitempty"`
	APIKey string `json:"api_key,omitempty"`
}

// tickUpdate is the outgoing tick frame.
type tickUpdate struct {
	Type        string  `json:"type"`
	Symbol      string  `json:"symbol"`
	Price       float64 `json:"price"`
	Volume      float64 `json:"volume"`
	TimestampMs int64   `json:"timestamp_ms"`
}

// WSHandler handles downstream WebSocket connections.
type WSHandler struct {
	cfg      *config.ServerConfig
	cache    *cache.Layer
	fanout   *fanout.Hub
	upstream *upstream.Manager
	limiter  *ratelimit.Limiter
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewWSHandler creates a new WebSocket handler.
func NewWSHandler(
	cfg *config.ServerConfig,
	cacheLyr *cache.Layer,
	fanoutHub *fanout.Hub,
	upstreamMgr *upstream.Manager,
	limiter *ratelimit.Limiter,
	m *metrics.Metrics,
	logger *zap.Logger,
) *WSHandler {
	return &WSHandler{
		cfg:      cfg,
		cache:    cacheLyr,
		fanout:   fanoutHub,
		upstream: upstreamMgr,
		limiter:  limiter,
		metrics:  m,
		logger:   logger,
	}
}

// ServeHTTP upgrades the request and hands the connection to Handle.
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.logger.Warn("WebSocket accept failed", zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusInternalError, "closed")

	apiKey := r.Header.Get("X-API-Key")
	if apiKey == "" {
		apiKey = r.URL.Query().Get("api_key")
	}

	if err := h.Handle(r.Context(), conn, apiKey); err != nil {
		conn.Close(websocket.StatusPolicyViolation, err.Error())
		return
	}
	conn.Close(websocket.StatusNormalClosure, "")
}

// Handle handles a WebSocket connection.
func (h *WSHandler) Handle(ctx context.Context, conn *websocket.Conn, apiKey string) error {
	if len(h.cfg.APIKeys) > 0 && !h.keyAllowed(apiKey) {
		wsjson.Write(ctx, conn, map[string]string{
			"error": "invalid API key",
			"code":  "AUTH_INVALID_KEY",
		})
		return errors.New("invalid API key")
	}
	if apiKey == "" {
		apiKey = "anonymous"
	}

	// Check stream limit
	if !h.limiter.AcquireStream(apiKey) {
		wsjson.Write(ctx, conn, map[string]string{
			"error": "Maximum concurrent streams exceeded",
			"code":  "QUOTA_EXCEEDED_STREAMS",
		})
		if h.metrics != nil {
			h.metrics.RecordRateLimitHit("streams")
		}
		return errors.New("stream limit exceeded")
	}
	defer h.limiter.ReleaseStream(apiKey)

	sub := h.fanout.CreateSubscriber(generateID())
	session := &wsSession{symbols: make(map[string]struct{})}
	defer h.teardown(session, sub)

	if h.metrics != nil {
		h.metrics.ActiveSubscribers.Inc()
		defer h.metrics.ActiveSubscribers.Dec()
	}

	go h.handleIncoming(ctx, conn, sub, session)

	// Send outgoing messages
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case tick, ok := <-sub.SendChan:
			if !ok {
				return nil
			}
			update := tickUpdate{
				Type:        "tick",
				Symbol:      tick.Symbol,
				Price:       tick.Price,
				Volume:      tick.Volume,
				TimestampMs: tick.TimestampMs,
			}
			if err := wsjson.Write(ctx, conn, update); err != nil {
				return err
			}
		}
	}
}

// wsSession tracks the symbols one connection is attached to so they
// can be detached when the connection goes away.
type wsSession struct {
	mu      sync.Mutex
	symbols map[string]struct{}
}

func (s *wsSession) add(symbol string) {
	s.mu.Lock()
	s.symbols[symbol] = struct{}{}
	s.mu.Unlock()
}

func (s *wsSession) remove(symbol string) {
	s.mu.Lock()
	delete(s.symbols, symbol)
	s.mu.Unlock()
}

func (s *wsSession) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.symbols))
	for sym := range s.symbols {
		out = append(out, sym)
	}
	return out
}

func (h *WSHandler) teardown(session *wsSession, sub *fanout.Subscriber) {
	for _, symbol := range session.snapshot() {
		h.fanout.Unsubscribe(symbol, sub.ID)
	}
	h.fanout.CloseSubscriber(sub)
}

func (h *WSHandler) keyAllowed(key string) bool {
	for _, k := range h.cfg.APIKeys {
		if k == key {
			return true
		}
	}
	return false
}

// handleIncoming handles incoming WebSocket messages.
func (h *WSHandler) handleIncoming(ctx context.Context, conn *websocket.Conn, sub *fanout.Subscriber, session *wsSession) {
	for {
		var msg WSMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			return
		}

		switch msg.Op {
		case "subscribe":
			if msg.Symbol == "" {
				wsjson.Write(ctx, conn, map[string]string{"error": "symbol is required"})
				continue
			}

			// Subscribe to upstream if needed
			h.upstream.Subscribe(msg.Symbol)
			if h.metrics != nil {
				h.metrics.Subscriptions.Set(float64(len(h.upstream.Symbols())))
			}

			// Add to fanout
			h.fanout.Subscribe(msg.Symbol, sub)
			session.add(msg.Symbol)

			// Send the cached tick first so the client has a
			// starting point before live updates arrive.
			if latest, ok := h.cache.Latest(msg.Symbol); ok {
				wsjson.Write(ctx, conn, tickUpdate{
					Type:        "snapshot",
					Symbol:      latest.Symbol,
					Price:       latest.Price,
					Volume:      latest.Volume,
					TimestampMs: latest.TimestampMs,
				})
			}

			wsjson.Write(ctx, conn, map[string]string{
				"op":     "subscribed",
				"symbol": msg.Symbol,
			})

		case "unsubscribe":
			h.fanout.Unsubscribe(msg.Symbol, sub.ID)
			session.remove(msg.Symbol)
			wsjson.Write(ctx, conn, map[string]string{
				"op":     "unsubscribed",
				"symbol": msg.Symbol,
			})

		case "ping":
			wsjson.Write(ctx, conn, map[string]string{"op": "pong"})
		}
	}
}

// StreamServer serves the WebSocket endpoint and Prometheus metrics on
// a port separate from the REST API.
type StreamServer struct {
	srv    *http.Server
	logger *zap.Logger
}

// NewStreamServer creates the streaming HTTP server.
func NewStreamServer(cfg *config.ServerConfig, handler *WSHandler, metricsHandler http.Handler, logger *zap.Logger) *StreamServer {
	mux := http.NewServeMux()
	mux.Handle("/ws", handler)
	mux.Handle("/metrics", metricsHandler)

	return &StreamServer{
		srv: &http.Server{
			Addr:        fmt.Sprintf("%s:%d", cfg.Host, cfg.WSPort),
			Handler:     mux,
			ReadTimeout: 30 * time.Second,
			IdleTimeout: 120 * time.Second,
		},
		logger: logger,
	}
}

// Start starts the streaming server.
func (s *StreamServer) Start() error {
	s.logger.Info("Starting stream server", zap.String("addr", s.srv.Addr))
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the streaming server.
func (s *StreamServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// generateID generates a random subscriber ID.
func generateID() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}
