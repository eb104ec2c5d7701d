// Package dispatch fans normalized updates out to downstream consumers
// with per-subscriber throttling. Bursts coalesce: a subscriber sees at
// most one notification per symbol per interval, always carrying the
// latest value. Publishing never blocks on a slow consumer.
package dispatch

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"marketsync/internal/metrics"
	"marketsync/internal/models"
)

// Update is one coalesced notification.
type Update struct {
	Kind   models.EventKind
	Symbol string
	Value  any
}

// OnChangeFunc receives coalesced updates on the subscriber's own
// goroutine. A slow callback delays only its own subscriber.
type OnChangeFunc func(Update)

type subscriber struct {
	id       string
	kind     models.EventKind
	interval time.Duration
	onChange OnChangeFunc

	mu      sync.Mutex
	pending map[string]Update

	stop chan struct{}
	done chan struct{}
}

// Dispatcher routes published updates to throttled subscribers.
type Dispatcher struct {
	logger *logrus.Logger

	mu     sync.RWMutex
	byID   map[string]*subscriber
	byKind map[models.EventKind][]*subscriber
	closed bool
}

func New(logger *logrus.Logger) *Dispatcher {
	return &Dispatcher{
		logger: logger,
		byID:   make(map[string]*subscriber),
		byKind: make(map[models.EventKind][]*subscriber),
	}
}

// Publish records the latest value for (kind, symbol) on every subscriber
// of that kind. It returns immediately; delivery happens on each
// subscriber's flush tick. Its signature matches the handler notify hook.
func (d *Dispatcher) Publish(kind models.EventKind, symbol string, value any) {
	d.mu.RLock()
	subs := d.byKind[kind]
	d.mu.RUnlock()

	for _, s := range subs {
		s.mu.Lock()
		s.pending[symbol] = Update{Kind: kind, Symbol: symbol, Value: value}
		s.mu.Unlock()
	}
}

// SubscribeThrottled registers a consumer for one event kind and returns
// its handle for Unsubscribe.
func (d *Dispatcher) SubscribeThrottled(kind models.EventKind, interval time.Duration, onChange OnChangeFunc) string {
	if interval <= 0 {
		interval = time.Second
	}

	s := &subscriber{
		id:       uuid.NewString(),
		kind:     kind,
		interval: interval,
		onChange: onChange,
		pending:  make(map[string]Update),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		close(s.done)
		return s.id
	}
	d.byID[s.id] = s
	d.byKind[kind] = append(d.byKind[kind], s)
	d.mu.Unlock()

	go s.flushLoop()

	d.logger.WithFields(logrus.Fields{
		"subscriber": s.id,
		"kind":       kind,
		"interval":   interval,
	}).Debug("Throttled subscriber added")
	return s.id
}

// Unsubscribe removes a subscriber and waits for its flush loop to exit.
// Unknown ids are a no-op.
func (d *Dispatcher) Unsubscribe(id string) {
	d.mu.Lock()
	s, ok := d.byID[id]
	if ok {
		delete(d.byID, id)
		d.byKind[s.kind] = removeSub(d.byKind[s.kind], s)
	}
	d.mu.Unlock()

	if ok {
		close(s.stop)
		<-s.done
	}
}

// Close stops every subscriber.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	subs := make([]*subscriber, 0, len(d.byID))
	for _, s := range d.byID {
		subs = append(subs, s)
	}
	d.byID = make(map[string]*subscriber)
	d.byKind = make(map[models.EventKind][]*subscriber)
	d.mu.Unlock()

	for _, s := range subs {
		close(s.stop)
		<-s.done
	}
}

func (s *subscriber) flushLoop() {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			s.flush()
			return
		case <-ticker.C:
			s.flush()
		}
	}
}

// flush delivers everything accumulated since the last tick, one coalesced
// update per symbol.
func (s *subscriber) flush() {
	s.mu.Lock()
	if len(s.pending) == 0 {
		s.mu.Unlock()
		return
	}
	batch := s.pending
	s.pending = make(map[string]Update)
	s.mu.Unlock()

	for _, u := range batch {
		s.onChange(u)
		metrics.ThrottledNotifications.WithLabelValues(string(u.Kind)).Inc()
	}
}

// removeSub builds a fresh slice rather than shifting in place: Publish
// iterates a slice header captured under RLock after releasing it, so the
// old backing array must never be mutated.
func removeSub(subs []*subscriber, target *subscriber) []*subscriber {
	out := make([]*subscriber, 0, len(subs))
	for _, s := range subs {
		if s != target {
			out = append(out, s)
		}
	}
	return out
}
