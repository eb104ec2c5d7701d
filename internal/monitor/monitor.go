// Package monitor periodically sweeps the channel registry and flags
// subscriptions whose last update is older than the configured threshold.
// It only ever sets the stale flag; clearing is the registry's job when
// fresh traffic arrives.
package monitor

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"marketsync/internal/metrics"
	"marketsync/internal/registry"
)

// Config tunes the sweep cadence and the silence threshold.
type Config struct {
	Threshold     time.Duration
	SweepInterval time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Threshold:     30 * time.Second,
		SweepInterval: 5 * time.Second,
	}
}

// Monitor marks silent channels stale.
type Monitor struct {
	cfg       Config
	logger    *logrus.Logger
	registry  *registry.Registry
	collector *metrics.Collector

	now func() time.Time
}

func New(cfg Config, reg *registry.Registry, collector *metrics.Collector, logger *logrus.Logger) *Monitor {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultConfig().Threshold
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultConfig().SweepInterval
	}
	return &Monitor{
		cfg:       cfg,
		logger:    logger,
		registry:  reg,
		collector: collector,
		now:       time.Now,
	}
}

// Run sweeps on the configured interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(m.now())
		}
	}
}

// Sweep flags every subscription silent for longer than the threshold and
// publishes the resulting stale count. Returns how many channels were
// newly flagged in this pass.
func (m *Monitor) Sweep(now time.Time) int {
	flagged := 0
	stale := 0
	for _, sub := range m.registry.Active() {
		if now.Sub(sub.LastUpdateAt) <= m.cfg.Threshold {
			continue
		}
		stale++
		if sub.IsStale {
			continue
		}
		if m.registry.MarkStale(sub.ChannelID) {
			flagged++
			m.logger.WithFields(logrus.Fields{
				"channel_id": sub.ChannelID,
				"symbol":     sub.Symbol,
				"kind":       sub.Kind,
				"silent_for": now.Sub(sub.LastUpdateAt).Round(time.Second),
			}).Warn("⚠️  Channel marked stale")
		}
	}
	if m.collector != nil {
		m.collector.SetStaleCount(stale)
	}
	return flagged
}
