package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Feed     FeedConfig
	Store    StoreConfig
	Monitor  MonitorConfig
	Dispatch DispatchConfig
	Metrics  MetricsConfig
	Redis    RedisConfig
	Symbols  SymbolsConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	HTTPPort    int
	Environment string
}

type FeedConfig struct {
	URL               string
	HandshakeTimeout  time.Duration
	WriteTimeout      time.Duration
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	ReconnectBaseWait time.Duration
	ReconnectMaxWait  time.Duration
	FrameBufferSize   int
	SubscribeRate     float64
	SubscribeBurst    int
}

type StoreConfig struct {
	TradeCapacity  int
	CandleCapacity int
	BookDepth      int
}

type MonitorConfig struct {
	StaleThreshold time.Duration
	SweepInterval  time.Duration
}

type DispatchConfig struct {
	TradeInterval  time.Duration
	BookInterval   time.Duration
	CandleInterval time.Duration
	TickerInterval time.Duration
}

type MetricsConfig struct {
	AggregateInterval  time.Duration
	DegradedUpdateRate float64
	CriticalReconnects int
}

type RedisConfig struct {
	Enabled       bool
	Host          string
	Port          int
	Password      string
	DB            int
	PubSubChannel string
}

type SymbolsConfig struct {
	File string
}

type LoggingConfig struct {
	Level  string
	Format string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			HTTPPort:    getEnvInt("HTTP_PORT", 8080),
			Environment: getEnv("ENVIRONMENT", "development"),
		},
		Feed: FeedConfig{
			URL:               getEnv("FEED_URL", "wss://api-pub.bitfinex.com/ws/2"),
			HandshakeTimeout:  parseDuration(getEnv("FEED_HANDSHAKE_TIMEOUT", "15s"), 15*time.Second),
			WriteTimeout:      parseDuration(getEnv("FEED_WRITE_TIMEOUT", "5s"), 5*time.Second),
			HeartbeatInterval: parseDuration(getEnv("FEED_HEARTBEAT_INTERVAL", "15s"), 15*time.Second),
			HeartbeatTimeout:  parseDuration(getEnv("FEED_HEARTBEAT_TIMEOUT", "60s"), 60*time.Second),
			ReconnectBaseWait: parseDuration(getEnv("FEED_RECONNECT_BASE_WAIT", "1s"), time.Second),
			ReconnectMaxWait:  parseDuration(getEnv("FEED_RECONNECT_MAX_WAIT", "60s"), 60*time.Second),
			FrameBufferSize:   getEnvInt("FEED_FRAME_BUFFER_SIZE", 4096),
			SubscribeRate:     getEnvFloat("FEED_SUBSCRIBE_RATE", 5),
			SubscribeBurst:    getEnvInt("FEED_SUBSCRIBE_BURST", 10),
		},
		Store: StoreConfig{
			TradeCapacity:  getEnvInt("STORE_TRADE_CAPACITY", 1000),
			CandleCapacity: getEnvInt("STORE_CANDLE_CAPACITY", 500),
			BookDepth:      getEnvInt("STORE_BOOK_DEPTH", 100),
		},
		Monitor: MonitorConfig{
			StaleThreshold: parseDuration(getEnv("MONITOR_STALE_THRESHOLD", "30s"), 30*time.Second),
			SweepInterval:  parseDuration(getEnv("MONITOR_SWEEP_INTERVAL", "5s"), 5*time.Second),
		},
		Dispatch: DispatchConfig{
			TradeInterval:  parseDuration(getEnv("DISPATCH_TRADE_INTERVAL", "250ms"), 250*time.Millisecond),
			BookInterval:   parseDuration(getEnv("DISPATCH_BOOK_INTERVAL", "250ms"), 250*time.Millisecond),
			CandleInterval: parseDuration(getEnv("DISPATCH_CANDLE_INTERVAL", "1s"), time.Second),
			TickerInterval: parseDuration(getEnv("DISPATCH_TICKER_INTERVAL", "500ms"), 500*time.Millisecond),
		},
		Metrics: MetricsConfig{
			AggregateInterval:  parseDuration(getEnv("METRICS_AGGREGATE_INTERVAL", "10s"), 10*time.Second),
			DegradedUpdateRate: getEnvFloat("METRICS_DEGRADED_UPDATE_RATE", 1),
			CriticalReconnects: getEnvInt("METRICS_CRITICAL_RECONNECTS", 3),
		},
		Redis: RedisConfig{
			Enabled:       getEnvBool("REDIS_ENABLED", false),
			Host:          getEnv("REDIS_HOST", "localhost"),
			Port:          getEnvInt("REDIS_PORT", 6379),
			Password:      getEnv("REDIS_PASSWORD", ""),
			DB:            getEnvInt("REDIS_DB", 0),
			PubSubChannel: getEnv("REDIS_PUBSUB_CHANNEL", "marketsync:updates"),
		},
		Symbols: SymbolsConfig{
			File: getEnv("SYMBOLS_FILE", "symbols.yaml"),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Feed.URL == "" {
		return fmt.Errorf("FEED_URL is required")
	}
	if c.Store.TradeCapacity <= 0 {
		return fmt.Errorf("STORE_TRADE_CAPACITY must be positive")
	}
	if c.Store.CandleCapacity <= 0 {
		return fmt.Errorf("STORE_CANDLE_CAPACITY must be positive")
	}
	if c.Store.BookDepth <= 0 {
		return fmt.Errorf("STORE_BOOK_DEPTH must be positive")
	}
	if c.Monitor.StaleThreshold <= 0 {
		return fmt.Errorf("MONITOR_STALE_THRESHOLD must be positive")
	}
	if c.Monitor.SweepInterval <= 0 {
		return fmt.Errorf("MONITOR_SWEEP_INTERVAL must be positive")
	}
	for name, d := range map[string]time.Duration{
		"DISPATCH_TRADE_INTERVAL":  c.Dispatch.TradeInterval,
		"DISPATCH_BOOK_INTERVAL":   c.Dispatch.BookInterval,
		"DISPATCH_CANDLE_INTERVAL": c.Dispatch.CandleInterval,
		"DISPATCH_TICKER_INTERVAL": c.Dispatch.TickerInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if c.Feed.ReconnectBaseWait > c.Feed.ReconnectMaxWait {
		return fmt.Errorf("FEED_RECONNECT_BASE_WAIT exceeds FEED_RECONNECT_MAX_WAIT")
	}
	if c.Redis.Enabled && c.Redis.Host == "" {
		return fmt.Errorf("REDIS_HOST is required when REDIS_ENABLED")
	}
	return nil
}

func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func parseDuration(s string, defaultValue time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultValue
	}
	return d
}
