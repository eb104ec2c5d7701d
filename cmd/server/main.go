package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"marketsync/internal/config"
	"marketsync/internal/dispatch"
	"marketsync/internal/feed"
	"marketsync/internal/handlers"
	"marketsync/internal/metrics"
	"marketsync/internal/models"
	"marketsync/internal/monitor"
	"marketsync/internal/pubsub"
	"marketsync/internal/registry"
	"marketsync/internal/router"
	"marketsync/internal/symbols"
)

var (
	version   = "1.0.0"
	startTime = time.Now()
)

func main() {
	// Setup logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)

	logger.Info("Starting Marketsync Service...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config: ", err)
	}

	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid config: ", err)
	}

	// Set log level
	if level, err := logrus.ParseLevel(cfg.Logging.Level); err == nil {
		logger.SetLevel(level)
	}
	if cfg.Logging.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Metrics collector
	collector := metrics.NewCollector(metrics.CollectorConfig{
		Interval:           cfg.Metrics.AggregateInterval,
		DegradedUpdateRate: cfg.Metrics.DegradedUpdateRate,
		CriticalReconnects: int64(cfg.Metrics.CriticalReconnects),
	}, logger)
	go collector.Run(ctx)

	// Throttled dispatch
	dispatcher := dispatch.New(logger)
	defer dispatcher.Close()

	// Optional Redis fan-out
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		logger.Info("Connecting to Redis...")
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal("Failed to connect to Redis: ", err)
		}
		defer redisClient.Close()
		logger.Info("Redis connected successfully")

		publisher := pubsub.NewPublisher(redisClient, cfg.Redis.PubSubChannel, logger)
		intervals := map[models.EventKind]time.Duration{
			models.KindTrade:  cfg.Dispatch.TradeInterval,
			models.KindBook:   cfg.Dispatch.BookInterval,
			models.KindCandle: cfg.Dispatch.CandleInterval,
			models.KindTicker: cfg.Dispatch.TickerInterval,
		}
		for kind, interval := range intervals {
			dispatcher.SubscribeThrottled(kind, interval, publisher.OnChange(ctx))
		}
	}

	// Channel registry and per-kind handlers
	reg := registry.New(logger)
	set := handlers.NewSet(handlers.Config{
		TradeCapacity:  cfg.Store.TradeCapacity,
		CandleCapacity: cfg.Store.CandleCapacity,
		BookDepth:      cfg.Store.BookDepth,
	}, collector, dispatcher.Publish)

	// Stale monitor
	mon := monitor.New(monitor.Config{
		Threshold:     cfg.Monitor.StaleThreshold,
		SweepInterval: cfg.Monitor.SweepInterval,
	}, reg, collector, logger)
	go mon.Run(ctx)

	// Feed connection
	mgr := feed.NewManager(feed.Config{
		URL:               cfg.Feed.URL,
		HandshakeTimeout:  cfg.Feed.HandshakeTimeout,
		WriteTimeout:      cfg.Feed.WriteTimeout,
		HeartbeatInterval: cfg.Feed.HeartbeatInterval,
		HeartbeatTimeout:  cfg.Feed.HeartbeatTimeout,
		ReconnectBaseWait: cfg.Feed.ReconnectBaseWait,
		ReconnectMaxWait:  cfg.Feed.ReconnectMaxWait,
		FrameBufferSize:   cfg.Feed.FrameBufferSize,
		SubscribeRate:     cfg.Feed.SubscribeRate,
		SubscribeBurst:    cfg.Feed.SubscribeBurst,
	}, collector, logger)

	// A reconnected session issues fresh channel ids, so drop all state
	// keyed by the old ones before the subscriptions are replayed.
	mgr.OnDisconnect(func() {
		for _, sub := range reg.Active() {
			set.DropSymbol(sub.Kind, sub.Symbol)
		}
		reg.Clear()
	})

	// Router consumes the frame stream
	rt := router.New(reg, set, collector, logger)
	routerDone := make(chan struct{})
	go func() {
		defer close(routerDone)
		rt.Run(mgr.Frames())
	}()

	mgr.Start(ctx)

	// Subscribe the configured symbol list
	entries := symbols.LoadWithFallback(cfg.Symbols.File)
	for _, e := range entries {
		if err := mgr.Subscribe(e.Symbol, e.Kind); err != nil {
			logger.WithError(err).Warnf("Subscribe failed for %s/%s", e.Symbol, e.Kind)
		}
	}
	logger.Infof("Requested %d channel subscriptions", len(entries))

	// HTTP server for health checks and Prometheus metrics
	httpSrv := startHTTPServer(cfg, logger, collector, reg, mgr)

	logger.Infof("Marketsync Service v%s started successfully", version)
	logger.Infof("HTTP server listening on :%d", cfg.Server.HTTPPort)

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	logger.Info("Received shutdown signal")

	logger.Info("Shutting down gracefully...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)

	cancel()
	mgr.Stop()
	<-routerDone

	logger.Info("Shutdown complete")
}

func startHTTPServer(cfg *config.Config, logger *logrus.Logger, collector *metrics.Collector, reg *registry.Registry, mgr *feed.Manager) *http.Server {
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		snap := collector.Snapshot()
		w.Header().Set("Content-Type", "application/json")
		if snap.ConnectionHealth == metrics.HealthCritical {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		fmt.Fprintf(w, `{"healthy":%t,"health":"%s","connection":"%s","version":"%s","uptime_seconds":%d,"channels":%d,"frames_per_second":%.2f}`,
			snap.ConnectionHealth != metrics.HealthCritical, snap.ConnectionHealth, mgr.State(),
			version, int64(time.Since(startTime).Seconds()), reg.Len(), mgr.FrameRate())
	})

	// Diagnostics: aggregated snapshot plus active channels
	mux.HandleFunc("/api/v1/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"metrics":  collector.Snapshot(),
			"channels": reg.Active(),
		})
	})

	// Prometheus metrics
	mux.Handle("/metrics", promhttp.Handler())

	addr := fmt.Sprintf(":%d", cfg.Server.HTTPPort)
	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		logger.Infof("HTTP server starting on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failed: ", err)
		}
	}()
	return server
}
