// Package config provides configuration management using viper.
package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration structure.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Upstream UpstreamConfig `mapstructure:"upstream"`
	Fanout   FanoutConfig   `mapstructure:"fanout"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Signal   SignalConfig   `mapstructure:"signal"`
	Notifier NotifierConfig `mapstructure:"notifier"`
	News     NewsConfig     `mapstructure:"news"`
	Rate     RateConfig     `mapstructure:"rate"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Logger   LoggerConfig   `mapstructure:"logger"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	HTTPPort int      `mapstructure:"http_port"`
	WSPort   int      `mapstructure:"ws_port"`
	Host     string   `mapstructure:"host"`
	APIKeys  []string `mapstructure:"api_keys"`
}

// UpstreamConfig holds tick provider connection settings.
type UpstreamConfig struct {
	URL                  string        `mapstructure:"url"`
	Token                string        `mapstructure:"token"`
	Symbols              []string      `mapstructure:"symbols"`
	ConnectTimeout       time.Duration `mapstructure:"connect_timeout"`
	KeepaliveInterval    time.Duration `mapstructure:"keepalive_interval"`
	ReconnectBaseDelay   time.Duration `mapstructure:"reconnect_base_delay"`
	ReconnectMaxAttempts int           `mapstructure:"reconnect_max_attempts"`
	WriteTimeout         time.Duration `mapstructure:"write_timeout"`
	FrameBufferSize      int           `mapstructure:"frame_buffer_size"`
}

// FanoutConfig holds fanout hub settings.
type FanoutConfig struct {
	SubscriberBufferSize  int `mapstructure:"subscriber_buffer_size"`
	SlowConsumerThreshold int `mapstructure:"slow_consumer_threshold"`
}

// CacheConfig holds tick cache settings.
type CacheConfig struct {
	TickHistorySize int           `mapstructure:"tick_history_size"`
	RedisTTL        time.Duration `mapstructure:"redis_ttl"`
}

// SignalConfig holds signal engine settings.
type SignalConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	FastWindow int  `mapstructure:"fast_window"`
	SlowWindow int  `mapstructure:"slow_window"`
	PoolSize   int  `mapstructure:"pool_size"`
}

// NotifierConfig holds email notification settings.
type NotifierConfig struct {
	Enabled   bool     `mapstructure:"enabled"`
	SMTPHost  string   `mapstructure:"smtp_host"`
	SMTPPort  int      `mapstructure:"smtp_port"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
	From      string   `mapstructure:"from"`
	To        []string `mapstructure:"to"`
	QueueSize int      `mapstructure:"queue_size"`
}

// NewsConfig holds news poller settings.
type NewsConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	URL               string        `mapstructure:"url"`
	Token             string        `mapstructure:"token"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
}

// RateConfig holds rate limiter settings.
type RateConfig struct {
	DefaultRPS        int     `mapstructure:"default_rps"`
	DefaultMaxStreams int     `mapstructure:"default_max_streams"`
	BurstMultiplier   float64 `mapstructure:"burst_multiplier"`
}

// DatabaseConfig holds MySQL settings for the signal journal.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// RedisConfig holds Redis settings for the quote cache mirror.
type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// LoggerConfig holds logger settings.
type LoggerConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
	Encoding    string `mapstructure:"encoding"`
}

// Load loads configuration from file and environment.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Read config file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/tickfeed")
	}

	// Read environment variables
	v.AutomaticEnv()
	v.SetEnvPrefix("TICKFEED")

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		// Config file not found, use defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.ws_port", 8081)
	v.SetDefault("server.host", "0.0.0.0")

	// Upstream defaults
	v.SetDefault("upstream.url", "wss://ws.finnhub.io")
	v.SetDefault("upstream.connect_timeout", "10s")
	v.SetDefault("upstream.keepalive_interval", "30s")
	v.SetDefault("upstream.reconnect_base_delay", "5s")
	v.SetDefault("upstream.reconnect_max_attempts", 5)
	v.SetDefault("upstream.write_timeout", "5s")
	v.SetDefault("upstream.frame_buffer_size", 1000)

	// Fanout defaults
	v.SetDefault("fanout.subscriber_buffer_size", 500)
	v.SetDefault("fanout.slow_consumer_threshold", 1000)

	// Cache defaults
	v.SetDefault("cache.tick_history_size", 1000)
	v.SetDefault("cache.redis_ttl", "1m")

	// Signal defaults
	v.SetDefault("signal.enabled", true)
	v.SetDefault("signal.fast_window", 9)
	v.SetDefault("signal.slow_window", 21)
	v.SetDefault("signal.pool_size", 32)

	// Notifier defaults
	v.SetDefault("notifier.enabled", false)
	v.SetDefault("notifier.smtp_port", 587)
	v.SetDefault("notifier.queue_size", 100)

	// News defaults
	v.SetDefault("news.enabled", false)
	v.SetDefault("news.poll_interval", "5m")
	v.SetDefault("news.requests_per_minute", 10)

	// Rate limiter defaults
	v.SetDefault("rate.default_rps", 100)
	v.SetDefault("rate.default_max_streams", 10)
	v.SetDefault("rate.burst_multiplier", 2.0)

	// Database defaults; the journal is disabled until a host is set
	v.SetDefault("database.host", "")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.conn_max_lifetime", "1h")

	// Redis defaults
	v.SetDefault("redis.pool_size", 100)
	v.SetDefault("redis.min_idle_conns", 10)
	v.SetDefault("redis.dial_timeout", "5s")
	v.SetDefault("redis.read_timeout", "3s")
	v.SetDefault("redis.write_timeout", "3s")

	// Logger defaults
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.development", false)
	v.SetDefault("logger.encoding", "json")
}
