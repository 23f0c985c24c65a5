// Package main is the entry point for the Tick Feed Service.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go_tickstream/feed/internal/api"
	"go_tickstream/feed/internal/cache"
	"go_tickstream/feed/internal/config"
	"go_tickstream/feed/internal/fanout"
	"go_tickstream/feed/internal/journal"
	"go_tickstream/feed/internal/logger"
	"go_tickstream/feed/internal/metrics"
	"go_tickstream/feed/internal/news"
	"go_tickstream/feed/internal/notifier"
	"go_tickstream/feed/internal/ratelimit"
	tradesignal "go_tickstream/feed/internal/signal"
	"go_tickstream/feed/internal/upstream"
	"go_tickstream/feed/pkg/types"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	if err := logger.Init(&logger.Config{
		Level:       cfg.Logger.Level,
		Development: cfg.Logger.Development,
		Encoding:    cfg.Logger.Encoding,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	log := logger.Log
	log.Info("Starting Tick Feed Service",
		zap.Int("http_port", cfg.Server.HTTPPort),
		zap.Int("ws_port", cfg.Server.WSPort))

	m := metrics.New()

	// Initialize MySQL connection for the event journal (optional)
	var journalWriter *journal.Writer
	if cfg.Database.Host != "" {
		db, err := initMySQL(&cfg.Database)
		if err != nil {
			log.Fatal("Failed to connect to MySQL", zap.Error(err))
		}
		defer db.Close()
		log.Info("Connected to MySQL")

		journalWriter = journal.NewWriter(db, 5*time.Second, log)
		defer journalWriter.Close()
	}

	// Initialize Redis connection (optional)
	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = initRedis(&cfg.Redis)
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			log.Warn("Failed to connect to Redis, continuing without mirror", zap.Error(err))
			redisClient = nil
		} else {
			log.Info("Connected to Redis")
			defer redisClient.Close()
		}
	}

	// Initialize components
	cacheLayer := cache.NewLayer(cfg.Cache.TickHistorySize, redisClient, cfg.Cache.RedisTTL, log)
	log.Info("Cache layer initialized")

	fanoutHub := fanout.NewHub(
		cfg.Fanout.SubscriberBufferSize,
		cfg.Fanout.SlowConsumerThreshold,
	)
	fanoutHub.OnDrop(func(symbol string) { m.RecordDroppedMessage(symbol) })
	log.Info("Fanout hub initialized")

	rateLimiter := ratelimit.NewLimiter(&ratelimit.Config{
		DefaultRPS:        cfg.Rate.DefaultRPS,
		DefaultMaxStreams: cfg.Rate.DefaultMaxStreams,
		BurstMultiplier:   cfg.Rate.BurstMultiplier,
	})
	log.Info("Rate limiter initialized")

	// Email notifier
	var mailer *notifier.Mailer
	if cfg.Notifier.Enabled {
		mailer = notifier.NewMailer(notifier.Config{
			SMTPHost:  cfg.Notifier.SMTPHost,
			SMTPPort:  cfg.Notifier.SMTPPort,
			Username:  cfg.Notifier.Username,
			Password:  cfg.Notifier.Password,
			From:      cfg.Notifier.From,
			To:        cfg.Notifier.To,
			QueueSize: cfg.Notifier.QueueSize,
		}, log, notifier.WithDeliveryHooks(
			func() { m.NotificationsSent.Inc() },
			func() { m.NotificationsFailed.Inc() },
		))
		defer mailer.Close()
		log.Info("Mail notifier initialized")
	}

	// Signal engine
	onSignal := func(sig types.Signal) {
		m.RecordSignal(sig.Symbol, string(sig.Action))
		fanoutHub.PublishSignal(sig)
		if mailer != nil {
			mailer.NotifySignal(sig)
		}
		if journalWriter != nil {
			journalWriter.RecordSignal(sig)
		}
	}

	var signalEngine *tradesignal.Engine
	if cfg.Signal.Enabled {
		signalEngine, err = tradesignal.NewEngine(tradesignal.Config{
			FastWindow: cfg.Signal.FastWindow,
			SlowWindow: cfg.Signal.SlowWindow,
			PoolSize:   cfg.Signal.PoolSize,
		}, log, onSignal)
		if err != nil {
			log.Fatal("Failed to create signal engine", zap.Error(err))
		}
		defer signalEngine.Close()
		log.Info("Signal engine initialized")
	}

	// Upstream manager
	upstreamCfg := upstream.DefaultConfig()
	upstreamCfg.Client.URL = cfg.Upstream.URL
	upstreamCfg.Client.Token = cfg.Upstream.Token
	if cfg.Upstream.WriteTimeout > 0 {
		upstreamCfg.Client.WriteTimeout = cfg.Upstream.WriteTimeout
	}
	if cfg.Upstream.FrameBufferSize > 0 {
		upstreamCfg.Client.BufferSize = cfg.Upstream.FrameBufferSize
	}
	if cfg.Upstream.ConnectTimeout > 0 {
		upstreamCfg.ConnectTimeout = cfg.Upstream.ConnectTimeout
	}
	if cfg.Upstream.KeepaliveInterval > 0 {
		upstreamCfg.KeepaliveInterval = cfg.Upstream.KeepaliveInterval
	}
	if cfg.Upstream.ReconnectBaseDelay > 0 {
		upstreamCfg.ReconnectBaseDelay = cfg.Upstream.ReconnectBaseDelay
	}
	if cfg.Upstream.ReconnectMaxAttempts > 0 {
		upstreamCfg.ReconnectMaxAttempts = cfg.Upstream.ReconnectMaxAttempts
	}

	upstreamMgr := upstream.NewManager(upstreamCfg, log, upstream.Events{
		OnTick: func(tick types.Tick) {
			m.RecordTick(tick.Symbol)
			cacheLayer.Put(tick)
			fanoutHub.PublishTick(tick)
			if signalEngine != nil {
				signalEngine.Consume(tick)
			}
		},
		OnConnectionLost: func() {
			m.ConnectionsLost.Inc()
			fanoutHub.PublishConnectionLost()
			if mailer != nil {
				mailer.NotifyConnectionLost()
			}
			if journalWriter != nil {
				journalWriter.RecordConnectionLost()
			}
		},
		OnStateChange: func(state types.ConnState) {
			m.RecordState(int(state))
			if state == types.StateReconnecting {
				m.Reconnects.Inc()
			}
		},
		OnDecodeError: func(error) {
			m.DecodeErrors.Inc()
		},
	})
	log.Info("Upstream manager initialized")

	// Start upstream manager
	if err := upstreamMgr.Start(context.Background()); err != nil {
		log.Fatal("Failed to start upstream manager", zap.Error(err))
	}
	log.Info("Upstream manager started")

	for _, symbol := range cfg.Upstream.Symbols {
		upstreamMgr.Subscribe(symbol)
	}
	m.Subscriptions.Set(float64(len(cfg.Upstream.Symbols)))

	// News poller
	newsCtx, cancelNews := context.WithCancel(context.Background())
	defer cancelNews()
	if cfg.News.Enabled {
		poller := news.NewPoller(news.Config{
			URL:               cfg.News.URL,
			Token:             cfg.News.Token,
			PollInterval:      cfg.News.PollInterval,
			RequestsPerMinute: cfg.News.RequestsPerMinute,
		}, log, func(article types.Article) {
			m.NewsArticles.Inc()
			fanoutHub.PublishArticle(article)
		}, news.WithPollHook(func() { m.NewsPolls.Inc() }))
		go poller.Run(newsCtx)
		log.Info("News poller started")
	}

	// Initialize API server
	server := api.NewServer(
		&cfg.Server,
		cacheLayer,
		fanoutHub,
		upstreamMgr,
		rateLimiter,
		m,
		log,
	)
	log.Info("API server initialized")

	wsHandler := api.NewWSHandler(
		&cfg.Server,
		cacheLayer,
		fanoutHub,
		upstreamMgr,
		rateLimiter,
		m,
		log,
	)
	streamServer := api.NewStreamServer(&cfg.Server, wsHandler, metrics.Handler(), log)

	// Start servers in goroutines
	go func() {
		if err := server.Start(); err != nil {
			log.Fatal("Server failed", zap.Error(err))
		}
	}()
	go func() {
		if err := streamServer.Start(); err != nil {
			log.Fatal("Stream server failed", zap.Error(err))
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down...")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cancelNews()
	upstreamMgr.Stop()
	if err := server.Shutdown(); err != nil {
		log.Error("Server shutdown error", zap.Error(err))
	}
	if err := streamServer.Shutdown(ctx); err != nil {
		log.Error("Stream server shutdown error", zap.Error(err))
	}

	select {
	case <-ctx.Done():
		log.Warn("Shutdown timed out")
	default:
		log.Info("Shutdown complete")
	}
}

// initMySQL initializes MySQL connection.
func initMySQL(cfg *config.DatabaseConfig) (*sql.DB, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&loc=Local",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return db, nil
}

// initRedis initializes Redis connection.
func initRedis(cfg *config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
}
