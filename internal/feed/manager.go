package feed

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"marketsync/internal/metrics"
	"marketsync/internal/models"
)

// Manager maintains a single multiplexed WebSocket session. All subscribed
// channels share the one connection; after a reconnect every desired
// subscription is replayed in its original registration order.
type Manager struct {
	cfg       Config
	logger    *logrus.Logger
	collector *metrics.Collector

	dialer    *websocket.Dialer
	limiter   *rate.Limiter
	frameRate *metrics.RateTracker

	frames chan RawFrame

	connMu sync.Mutex
	conn   *websocket.Conn

	state      atomic.Int32
	retryCount atomic.Int64
	// failureCount drives backoff growth and resets on a successful dial.
	failureCount int

	subsMu sync.Mutex
	subs   []subscription

	lastInbound atomic.Int64

	// onDisconnect, when set, runs after an open session ends and before
	// the next dial. The new session issues fresh channel ids, so this is
	// where consumers discard state keyed by the old ones.
	onDisconnect func()

	now func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a connection manager. It does not dial until Start.
func NewManager(cfg Config, collector *metrics.Collector, logger *logrus.Logger) *Manager {
	if cfg.FrameBufferSize <= 0 {
		cfg.FrameBufferSize = DefaultConfig().FrameBufferSize
	}
	if cfg.ReconnectBaseWait <= 0 {
		cfg.ReconnectBaseWait = DefaultConfig().ReconnectBaseWait
	}
	if cfg.ReconnectMaxWait <= 0 {
		cfg.ReconnectMaxWait = DefaultConfig().ReconnectMaxWait
	}
	if cfg.SubscribeRate <= 0 {
		cfg.SubscribeRate = DefaultConfig().SubscribeRate
	}
	if cfg.SubscribeBurst <= 0 {
		cfg.SubscribeBurst = DefaultConfig().SubscribeBurst
	}

	m := &Manager{
		cfg:       cfg,
		logger:    logger,
		collector: collector,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		limiter:   rate.NewLimiter(rate.Limit(cfg.SubscribeRate), cfg.SubscribeBurst),
		frameRate: metrics.NewRateTracker(),
		frames:    make(chan RawFrame, cfg.FrameBufferSize),
		now:       time.Now,
	}
	m.state.Store(int32(StateConnecting))
	return m
}

// OnDisconnect registers a hook invoked each time an open session ends,
// before the reconnect dial. Set before Start.
func (m *Manager) OnDisconnect(fn func()) {
	m.onDisconnect = fn
}

// Start dials and spawns the session and watchdog loops. It returns
// immediately; a failed first dial is retried like any other disconnect.
func (m *Manager) Start(ctx context.Context) {
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.lastInbound.Store(m.now().UnixNano())

	m.wg.Add(2)
	go m.sessionLoop()
	go m.watchdogLoop()
}

// Stop tears the connection down and waits for the loops to exit.
func (m *Manager) Stop() {
	m.state.Store(int32(StateClosed))
	if m.cancel != nil {
		m.cancel()
	}
	m.closeConn()
	m.wg.Wait()
	close(m.frames)
	m.logger.Info("🛑 Feed connection stopped")
}

// Frames returns the inbound frame stream. Closed after Stop.
func (m *Manager) Frames() <-chan RawFrame {
	return m.frames
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	return State(m.state.Load())
}

// RetryCount returns the total number of reconnect attempts.
func (m *Manager) RetryCount() int64 {
	return m.retryCount.Load()
}

// FrameRate returns the inbound frames-per-second rate since it was last
// read.
func (m *Manager) FrameRate() float64 {
	return m.frameRate.GetRate()
}

// Subscribe records a desired channel and, if the session is open, sends
// the subscribe command. The recorded set is replayed on every reconnect.
func (m *Manager) Subscribe(symbol string, kind models.EventKind) error {
	m.subsMu.Lock()
	known := false
	for _, s := range m.subs {
		if s.Symbol == symbol && s.Kind == kind {
			known = true
			break
		}
	}
	if !known {
		m.subs = append(m.subs, subscription{Symbol: symbol, Kind: kind})
	}
	m.subsMu.Unlock()

	if m.State() != StateOpen {
		// Replayed when the session opens.
		return nil
	}
	return m.sendSubscribe(symbol, kind)
}

// Unsubscribe removes a channel from the desired set and, if open, sends
// the unsubscribe command for the live channel id.
func (m *Manager) Unsubscribe(symbol string, kind models.EventKind, channelID int64) error {
	m.subsMu.Lock()
	for i, s := range m.subs {
		if s.Symbol == symbol && s.Kind == kind {
			m.subs = append(m.subs[:i], m.subs[i+1:]...)
			break
		}
	}
	m.subsMu.Unlock()

	if m.State() != StateOpen {
		return nil
	}
	return m.Send(unsubscribeCmd{Event: "unsubscribe", ChannelID: channelID})
}

// Send writes one JSON command on the live connection.
func (m *Manager) Send(v any) error {
	if m.State() == StateClosed {
		return ErrConnectionClosed
	}
	m.connMu.Lock()
	defer m.connMu.Unlock()
	if m.conn == nil {
		return ErrConnectionClosed
	}
	if m.cfg.WriteTimeout > 0 {
		m.conn.SetWriteDeadline(m.now().Add(m.cfg.WriteTimeout))
	}
	return m.conn.WriteJSON(v)
}

func (m *Manager) sendSubscribe(symbol string, kind models.EventKind) error {
	if err := m.limiter.Wait(m.ctx); err != nil {
		return err
	}
	return m.Send(subscribeCmd{Event: "subscribe", Channel: string(kind), Symbol: symbol})
}

// sessionLoop owns the dial/read/reconnect cycle.
func (m *Manager) sessionLoop() {
	defer m.wg.Done()

	for {
		if m.ctx.Err() != nil {
			return
		}

		conn, _, err := m.dialer.DialContext(m.ctx, m.cfg.URL, nil)
		if err != nil {
			if m.ctx.Err() != nil {
				return
			}
			m.failureCount++
			wait := m.backoffWait()
			m.logger.WithError(err).Warnf("Feed dial failed (attempt %d, retrying in %v)", m.failureCount, wait)
			m.state.Store(int32(StateReconnecting))
			m.retryCount.Add(1)
			if m.collector != nil {
				m.collector.RecordReconnect()
			}
			select {
			case <-m.ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}

		m.connMu.Lock()
		m.conn = conn
		m.connMu.Unlock()

		m.failureCount = 0
		m.state.Store(int32(StateOpen))
		m.lastInbound.Store(m.now().UnixNano())
		m.logger.Infof("✅ Feed connected to %s", m.cfg.URL)

		m.replaySubscriptions()

		m.readLoop(conn)

		m.closeConn()
		if m.onDisconnect != nil {
			m.onDisconnect()
		}
		if m.ctx.Err() != nil {
			return
		}

		m.failureCount++
		wait := m.backoffWait()
		m.logger.Warnf("Feed connection lost, reconnecting in %v", wait)
		m.state.Store(int32(StateReconnecting))
		m.retryCount.Add(1)
		if m.collector != nil {
			m.collector.RecordReconnect()
		}
		select {
		case <-m.ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// replaySubscriptions re-sends every desired subscription in registration
// order on a fresh session.
func (m *Manager) replaySubscriptions() {
	m.subsMu.Lock()
	subs := make([]subscription, len(m.subs))
	copy(subs, m.subs)
	m.subsMu.Unlock()

	for _, s := range subs {
		if err := m.sendSubscribe(s.Symbol, s.Kind); err != nil {
			m.logger.WithError(err).Warnf("Resubscribe failed for %s/%s", s.Symbol, s.Kind)
			return
		}
	}
	if len(subs) > 0 {
		m.logger.Infof("📡 Replayed %d subscriptions", len(subs))
	}
}

func (m *Manager) readLoop(conn *websocket.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if m.ctx.Err() == nil {
				m.logger.WithError(err).Debug("Feed read loop ended")
			}
			return
		}

		m.lastInbound.Store(m.now().UnixNano())
		m.frameRate.Increment()

		frame := RawFrame{Data: message, ReceivedAt: m.now()}
		select {
		case m.frames <- frame:
		default:
			// Consumer is behind. Dropping the oldest would reorder, so
			// drop the newest and let the upstream snapshot heal state.
			m.logger.Warn("Frame buffer full, dropping frame")
		}
	}
}

// watchdogLoop sends periodic pings and forces a reconnect when the feed
// has been silent past the heartbeat timeout. Heartbeat frames count as
// inbound traffic, so a healthy idle channel never trips it.
func (m *Manager) watchdogLoop() {
	defer m.wg.Done()

	interval := m.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = DefaultConfig().HeartbeatInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			if m.State() != StateOpen {
				continue
			}
			silent := m.now().Sub(time.Unix(0, m.lastInbound.Load()))
			if m.cfg.HeartbeatTimeout > 0 && silent > m.cfg.HeartbeatTimeout {
				m.logger.Warnf("No frames for %v, forcing reconnect", silent.Round(time.Second))
				if m.collector != nil {
					m.collector.RecordHeartbeatTimeout()
				}
				m.closeConn()
				continue
			}
			if err := m.Send(pingCmd{Event: "ping"}); err != nil {
				m.logger.WithError(err).Debug("Ping failed")
			}
		}
	}
}

// backoffWait returns the next reconnect delay: exponential in the failure
// count, capped, with up to 25% random jitter to avoid thundering herds.
func (m *Manager) backoffWait() time.Duration {
	wait := m.cfg.ReconnectBaseWait
	for i := 1; i < m.failureCount; i++ {
		wait *= 2
		if wait >= m.cfg.ReconnectMaxWait {
			break
		}
	}
	if wait > m.cfg.ReconnectMaxWait {
		wait = m.cfg.ReconnectMaxWait
	}
	jitter := time.Duration(rand.Int63n(int64(wait)/4 + 1))
	return wait + jitter
}

func (m *Manager) closeConn() {
	m.connMu.Lock()
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.connMu.Unlock()
}
