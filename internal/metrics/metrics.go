package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

var (
	// Routing metrics
	ChannelMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketsync_channel_messages_total",
			Help: "Total data messages routed per symbol and event kind",
		},
		[]string{"symbol", "kind"},
	)

	DecodeErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "marketsync_decode_errors_total",
			Help: "Total malformed frames or payloads dropped",
		},
	)

	UnknownChannelDrops = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "marketsync_unknown_channel_drops_total",
			Help: "Total frames dropped for unregistered channel ids",
		},
	)

	EventLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "marketsync_event_latency_ms",
			Help:    "Frame arrival time minus embedded server timestamp in milliseconds",
			Buckets: []float64{1, 5, 10, 50, 100, 500, 1000, 5000},
		},
		[]string{"kind"},
	)

	RoutingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "marketsync_routing_duration_ms",
			Help:    "Time from frame arrival to routing completion in milliseconds",
			Buckets: []float64{1, 5, 10, 50, 100, 500},
		},
	)

	// Connection metrics
	Reconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "marketsync_reconnects_total",
			Help: "Total transport reconnections",
		},
	)

	HeartbeatTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "marketsync_heartbeat_timeouts_total",
			Help: "Total reconnects forced by the heartbeat watchdog",
		},
	)

	ConnectionHealthGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "marketsync_connection_health",
			Help: "Connection health classification (0=good, 1=degraded, 2=critical)",
		},
	)

	// Liveness metrics
	StaleChannels = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "marketsync_stale_channels",
			Help: "Number of subscriptions currently flagged stale",
		},
	)

	// Dispatch metrics
	ThrottledNotifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketsync_throttled_notifications_total",
			Help: "Total coalesced notifications emitted per event kind",
		},
		[]string{"kind"},
	)

	// Publishing metrics
	PublishSuccess = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketsync_publish_success_total",
			Help: "Total successful Redis publishes",
		},
		[]string{"kind"},
	)

	PublishFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketsync_publish_failures_total",
			Help: "Total failed Redis publishes",
		},
		[]string{"kind"},
	)
)

// RateTracker tracks rate per second for dynamic metrics
type RateTracker struct {
	count       int64
	lastCount   int64
	lastUpdated time.Time
	mu          sync.Mutex
}

func NewRateTracker() *RateTracker {
	return &RateTracker{
		lastUpdated: time.Now(),
	}
}

func (rt *RateTracker) Increment() {
	atomic.AddInt64(&rt.count, 1)
}

func (rt *RateTracker) GetRate() float64 {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(rt.lastUpdated).Seconds()

	if elapsed < 1.0 {
		return 0 // Not enough time passed
	}

	current := atomic.LoadInt64(&rt.count)
	diff := current - rt.lastCount
	rate := float64(diff) / elapsed

	rt.lastCount = current
	rt.lastUpdated = now

	return rate
}

// TrackLatency is a helper to measure and record latency
func TrackLatency(start time.Time, histogram prometheus.Observer) {
	duration := time.Since(start).Milliseconds()
	histogram.Observe(float64(duration))
}

// CounterValue reads the current value of a counter without a registry
// scrape.
func CounterValue(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		return 0
	}
	return m.Counter.GetValue()
}
