package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Feed.URL == "" {
		t.Error("default feed URL empty")
	}
	if cfg.Store.TradeCapacity != 1000 {
		t.Errorf("TradeCapacity = %d, want 1000", cfg.Store.TradeCapacity)
	}
	if cfg.Monitor.StaleThreshold != 30*time.Second {
		t.Errorf("StaleThreshold = %v, want 30s", cfg.Monitor.StaleThreshold)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STORE_TRADE_CAPACITY", "50")
	t.Setenv("MONITOR_STALE_THRESHOLD", "2m")
	t.Setenv("DISPATCH_TICKER_INTERVAL", "100ms")
	t.Setenv("REDIS_ENABLED", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.TradeCapacity != 50 {
		t.Errorf("TradeCapacity = %d, want 50", cfg.Store.TradeCapacity)
	}
	if cfg.Monitor.StaleThreshold != 2*time.Minute {
		t.Errorf("StaleThreshold = %v, want 2m", cfg.Monitor.StaleThreshold)
	}
	if cfg.Dispatch.TickerInterval != 100*time.Millisecond {
		t.Errorf("TickerInterval = %v, want 100ms", cfg.Dispatch.TickerInterval)
	}
	if !cfg.Redis.Enabled {
		t.Error("Redis.Enabled = false, want true")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty feed url", func(c *Config) { c.Feed.URL = "" }},
		{"zero trade capacity", func(c *Config) { c.Store.TradeCapacity = 0 }},
		{"negative candle capacity", func(c *Config) { c.Store.CandleCapacity = -1 }},
		{"zero book depth", func(c *Config) { c.Store.BookDepth = 0 }},
		{"zero stale threshold", func(c *Config) { c.Monitor.StaleThreshold = 0 }},
		{"zero dispatch interval", func(c *Config) { c.Dispatch.BookInterval = 0 }},
		{"backoff base above max", func(c *Config) {
			c.Feed.ReconnectBaseWait = time.Minute
			c.Feed.ReconnectMaxWait = time.Second
		}},
		{"redis enabled without host", func(c *Config) {
			c.Redis.Enabled = true
			c.Redis.Host = ""
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := Load()
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate accepted bad config")
			}
		})
	}
}

func TestBadEnvFallsBackToDefault(t *testing.T) {
	t.Setenv("STORE_TRADE_CAPACITY", "not-a-number")
	t.Setenv("MONITOR_SWEEP_INTERVAL", "soon")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.TradeCapacity != 1000 {
		t.Errorf("TradeCapacity = %d, want default 1000", cfg.Store.TradeCapacity)
	}
	if cfg.Monitor.SweepInterval != 5*time.Second {
		t.Errorf("SweepInterval = %v, want default 5s", cfg.Monitor.SweepInterval)
	}
}

func TestRedisAddr(t *testing.T) {
	rc := RedisConfig{Host: "cache", Port: 6380}
	if got := rc.Addr(); got != "cache:6380" {
		t.Errorf("Addr() = %s, want cache:6380", got)
	}
}
