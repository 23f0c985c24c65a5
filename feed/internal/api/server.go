// Package api provides the HTTP API using Fiber and the downstream
// streaming WebSocket endpoint.
package api

import (
	"crypto/subtle"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"go_tickstream/feed/internal/cache"
	"go_tickstream/feed/internal/config"
	"go_tickstream/feed/internal/fanout"
	"go_tickstream/feed/internal/metrics"
	"go_tickstream/feed/internal/ratelimit"
	"go_tickstream/feed/internal/upstream"
)

// Server is the HTTP API server.
type Server struct {
	app      *fiber.App
	cfg      *config.ServerConfig
	cache    *cache.Layer
	fanout   *fanout.Hub
	upstream *upstream.Manager
	limiter  *ratelimit.Limiter
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewServer creates an API server.
func NewServer(
	cfg *config.ServerConfig,
	cacheLyr *cache.Layer,
	fanoutHub *fanout.Hub,
	upstreamMgr *upstream.Manager,
	limiter *ratelimit.Limiter,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Server {
	app := fiber.New(fiber.Config{
		AppName:      "Tick Feed Service",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	})

	s := &Server{
		app:      app,
		cfg:      cfg,
		cache:    cacheLyr,
		fanout:   fanoutHub,
		upstream: upstreamMgr,
		limiter:  limiter,
		metrics:  m,
		logger:   logger,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// setupMiddleware sets up middleware.
func (s *Server) setupMiddleware() {
	s.app.Use(recover.New())
	s.app.Use(fiberlogger.New())
	s.app.Use(cors.New())
}

// setupRoutes sets up routes.
func (s *Server) setupRoutes() {
	// Health check
	s.app.Get("/health", s.handleHealth)

	// API v1
	v1 := s.app.Group("/v1", s.authMiddleware)

	v1.Get("/ticks", s.handleGetTicks)
	v1.Get("/symbols", s.handleGetSymbols)
	v1.Get("/subscriptions", s.handleListSubscriptions)
	v1.Post("/subscriptions/:symbol", s.handleSubscribe)
	v1.Delete("/subscriptions/:symbol", s.handleUnsubscribe)

	// Stats endpoint (internal)
	s.app.Get("/stats", s.handleStats)
}

// authMiddleware validates the API key and rate limits. Auth is
// disabled when no keys are configured.
func (s *Server) authMiddleware(c *fiber.Ctx) error {
	key := c.Get("X-API-Key")
	if key == "" {
		key = c.Query("api_key")
	}

	if len(s.cfg.APIKeys) > 0 {
		if key == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "API key is required",
				"code":  "AUTH_MISSING_KEY",
			})
		}
		if !s.validKey(key) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid API key",
				"code":  "AUTH_INVALID_KEY",
			})
		}
	}

	if key == "" {
		key = "anonymous"
	}
	if !s.limiter.Allow(key) {
		if s.metrics != nil {
			s.metrics.RecordRateLimitHit("rps")
		}
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
			"error": "Rate limit exceeded",
			"code":  "QUOTA_EXCEEDED_RPS",
		})
	}

	c.Locals("api_key", key)
	return c.Next()
}

func (s *Server) validKey(key string) bool {
	for _, k := range s.cfg.APIKeys {
		if subtle.ConstantTimeCompare([]byte(k), []byte(key)) == 1 {
			return true
		}
	}
	return false
}

// handleHealth returns health status.
func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "ok",
		"state":   s.upstream.State().String(),
		"running": s.upstream.IsRunning(),
		"time":    time.Now().UTC(),
	})
}

// handleGetTicks returns the latest tick and recent history for a
// symbol.
func (s *Server) handleGetTicks(c *fiber.Ctx) error {
	symbol := c.Query("symbol")
	if symbol == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "symbol is required",
		})
	}

	count := c.QueryInt("count", 100)
	if count < 0 {
		count = 0
	}
	if count > 1000 {
		count = 1000
	}

	latest, ok := s.cache.Latest(symbol)
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "no ticks for symbol",
		})
	}

	return c.JSON(fiber.Map{
		"symbol": symbol,
		"latest": latest,
		"recent": s.cache.Recent(symbol, count),
	})
}

// handleGetSymbols returns symbols with cached ticks.
func (s *Server) handleGetSymbols(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"symbols": s.cache.Symbols(),
	})
}

// handleListSubscriptions returns the subscription registry.
func (s *Server) handleListSubscriptions(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"symbols": s.upstream.Symbols(),
	})
}

// handleSubscribe adds a symbol to the upstream subscription set.
func (s *Server) handleSubscribe(c *fiber.Ctx) error {
	symbol := c.Params("symbol")
	if symbol == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "symbol is required",
		})
	}

	s.upstream.Subscribe(symbol)
	if s.metrics != nil {
		s.metrics.Subscriptions.Set(float64(len(s.upstream.Symbols())))
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"symbol": symbol,
	})
}

// handleUnsubscribe removes a symbol from the upstream subscription set.
func (s *Server) handleUnsubscribe(c *fiber.Ctx) error {
	symbol := c.Params("symbol")
	if symbol == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "symbol is required",
		})
	}

	s.upstream.Unsubscribe(symbol)
	if s.metrics != nil {
		s.metrics.Subscriptions.Set(float64(len(s.upstream.Symbols())))
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"symbol": symbol,
	})
}

// handleStats returns service statistics.
func (s *Server) handleStats(c *fiber.Ctx) error {
	cacheStats := s.cache.GetStats()
	fanoutStats := s.fanout.GetStats()
	limiterStats := s.limiter.GetStats()

	return c.JSON(fiber.Map{
		"upstream": fiber.Map{
			"state":      s.upstream.State().String(),
			"running":    s.upstream.IsRunning(),
			"subscribed": s.upstream.Symbols(),
		},
		"cache": fiber.Map{
			"symbols": cacheStats.Symbols,
		},
		"fanout": fiber.Map{
			"active_topics":      fanoutStats.ActiveTopics,
			"active_subscribers": fanoutStats.ActiveSubscribers,
			"dropped_messages":   fanoutStats.DroppedMessages,
		},
		"ratelimit": fiber.Map{
			"total_keys":    limiterStats.TotalKeys,
			"total_streams": limiterStats.TotalStreams,
		},
	})
}

// Start starts the server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.HTTPPort)
	s.logger.Info("Starting HTTP server", zap.String("addr", addr))
	return s.app.Listen(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
