package metrics

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"marketsync/internal/models"
)

// Health classifies current connection quality for consumers.
type Health string

const (
	HealthGood     Health = "good"
	HealthDegraded Health = "degraded"
	HealthCritical Health = "critical"
)

func (h Health) gaugeValue() float64 {
	switch h {
	case HealthDegraded:
		return 1
	case HealthCritical:
		return 2
	}
	return 0
}

// maxLatencySamples bounds the per-kind sample buffer between aggregations.
const maxLatencySamples = 256

// Snapshot is a read-only aggregate recomputed on a fixed interval.
// Consumers receive deep copies, never a live reference into the counters.
type Snapshot struct {
	UpdatesPerMinute    map[int64]float64                  `json:"updates_per_minute"`
	LatencyMsByKind     map[models.EventKind][]float64     `json:"latency_ms_by_kind"`
	DecodeErrors        int64                              `json:"decode_errors"`
	UnknownChannelDrops int64                              `json:"unknown_channel_drops"`
	Reconnects          int64                              `json:"reconnects"`
	ConnectionHealth    Health                             `json:"connection_health"`
	GeneratedAt         time.Time                          `json:"generated_at"`
}

// CollectorConfig tunes aggregation cadence and health thresholds.
type CollectorConfig struct {
	Interval           time.Duration
	DegradedUpdateRate float64 // updates/minute below which health degrades
	CriticalReconnects int64   // reconnects within one window forcing critical
}

// DefaultCollectorConfig returns production defaults.
func DefaultCollectorConfig() CollectorConfig {
	return CollectorConfig{
		Interval:           10 * time.Second,
		DegradedUpdateRate: 1,
		CriticalReconnects: 3,
	}
}

// Collector aggregates throughput, latency and connection health. It is the
// single owner of its counters; domain state is never mutated from here.
type Collector struct {
	cfg    CollectorConfig
	logger *logrus.Logger

	decodeErrors int64
	unknownDrops int64
	reconnects   int64

	mu              sync.RWMutex
	counts          map[int64]int64
	latency         map[models.EventKind][]float64
	reconnectsAtAgg int64
	snapshot        Snapshot
}

// NewCollector creates a collector with the given config.
func NewCollector(cfg CollectorConfig, logger *logrus.Logger) *Collector {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultCollectorConfig().Interval
	}
	return &Collector{
		cfg:     cfg,
		logger:  logger,
		counts:  make(map[int64]int64),
		latency: make(map[models.EventKind][]float64),
		snapshot: Snapshot{
			UpdatesPerMinute: map[int64]float64{},
			LatencyMsByKind:  map[models.EventKind][]float64{},
			ConnectionHealth: HealthGood,
			GeneratedAt:      time.Now(),
		},
	}
}

// RecordMessage counts one successfully routed message for a channel.
func (c *Collector) RecordMessage(channelID int64, symbol string, kind models.EventKind) {
	ChannelMessages.WithLabelValues(symbol, string(kind)).Inc()

	c.mu.Lock()
	c.counts[channelID]++
	c.mu.Unlock()
}

// RecordLatency records one end-to-end latency sample in milliseconds.
func (c *Collector) RecordLatency(kind models.EventKind, ms float64) {
	EventLatency.WithLabelValues(string(kind)).Observe(ms)

	c.mu.Lock()
	samples := c.latency[kind]
	if len(samples) >= maxLatencySamples {
		samples = samples[1:]
	}
	c.latency[kind] = append(samples, ms)
	c.mu.Unlock()
}

// RecordDecodeError counts one dropped malformed frame or payload.
func (c *Collector) RecordDecodeError() {
	DecodeErrors.Inc()
	atomic.AddInt64(&c.decodeErrors, 1)
}

// RecordUnknownChannel counts one frame for an unregistered channel id.
func (c *Collector) RecordUnknownChannel() {
	UnknownChannelDrops.Inc()
	atomic.AddInt64(&c.unknownDrops, 1)
}

// RecordReconnect counts one transport reconnection.
func (c *Collector) RecordReconnect() {
	Reconnects.Inc()
	atomic.AddInt64(&c.reconnects, 1)
}

// RecordHeartbeatTimeout counts one watchdog-forced reconnect.
func (c *Collector) RecordHeartbeatTimeout() {
	HeartbeatTimeouts.Inc()
}

// SetStaleCount publishes the number of currently stale channels.
func (c *Collector) SetStaleCount(n int) {
	StaleChannels.Set(float64(n))
}

// Run recomputes the snapshot on the configured interval until ctx is done.
func (c *Collector) Run(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Aggregate(time.Now())
		}
	}
}

// Aggregate folds the window's counters into a fresh snapshot and resets
// the windowed state.
func (c *Collector) Aggregate(now time.Time) {
	reconnects := atomic.LoadInt64(&c.reconnects)

	c.mu.Lock()
	defer c.mu.Unlock()

	perMinute := make(map[int64]float64, len(c.counts))
	minutes := c.cfg.Interval.Minutes()
	var total float64
	for ch, n := range c.counts {
		rate := float64(n) / minutes
		perMinute[ch] = rate
		total += rate
	}

	latencyCopy := make(map[models.EventKind][]float64, len(c.latency))
	for kind, samples := range c.latency {
		cp := make([]float64, len(samples))
		copy(cp, samples)
		latencyCopy[kind] = cp
	}

	windowReconnects := reconnects - c.reconnectsAtAgg
	health := classify(total, windowReconnects, c.cfg)
	ConnectionHealthGauge.Set(health.gaugeValue())

	c.snapshot = Snapshot{
		UpdatesPerMinute:    perMinute,
		LatencyMsByKind:     latencyCopy,
		DecodeErrors:        atomic.LoadInt64(&c.decodeErrors),
		UnknownChannelDrops: atomic.LoadInt64(&c.unknownDrops),
		Reconnects:          reconnects,
		ConnectionHealth:    health,
		GeneratedAt:         now,
	}

	c.counts = make(map[int64]int64)
	c.latency = make(map[models.EventKind][]float64)
	c.reconnectsAtAgg = reconnects
}

// classify derives connection health from recent update rate and the
// reconnect count inside the current window.
func classify(updatesPerMinute float64, windowReconnects int64, cfg CollectorConfig) Health {
	switch {
	case windowReconnects >= cfg.CriticalReconnects:
		return HealthCritical
	case updatesPerMinute == 0 && windowReconnects > 0:
		return HealthCritical
	case windowReconnects > 0 || updatesPerMinute < cfg.DegradedUpdateRate:
		return HealthDegraded
	default:
		return HealthGood
	}
}

// Snapshot returns a deep copy of the latest aggregate.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := c.snapshot
	snap.UpdatesPerMinute = make(map[int64]float64, len(c.snapshot.UpdatesPerMinute))
	for k, v := range c.snapshot.UpdatesPerMinute {
		snap.UpdatesPerMinute[k] = v
	}
	snap.LatencyMsByKind = make(map[models.EventKind][]float64, len(c.snapshot.LatencyMsByKind))
	for k, v := range c.snapshot.LatencyMsByKind {
		cp := make([]float64, len(v))
		copy(cp, v)
		snap.LatencyMsByKind[k] = cp
	}
	return snap
}
