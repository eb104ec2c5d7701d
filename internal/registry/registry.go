// Package registry tracks active channel subscriptions and their liveness.
package registry

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"marketsync/internal/models"
)

// Subscription is the registry's record for one active channel. External
// callers always receive copies; the registry is the only mutator.
type Subscription struct {
	ChannelID    int64            `json:"channel_id"`
	Symbol       string           `json:"symbol"`
	Kind         models.EventKind `json:"kind"`
	LastUpdateAt time.Time        `json:"last_update_at"`
	IsStale      bool             `json:"is_stale"`
}

// LivenessFunc is invoked whenever a subscription's stale flag flips.
type LivenessFunc func(sub Subscription, stale bool)

// Registry maps channel ids to subscription metadata. All operations are
// O(1) keyed lookups. The routing path is the only writer of LastUpdateAt;
// the stale monitor writes only IsStale.
type Registry struct {
	logger *logrus.Logger

	mu         sync.RWMutex
	byChannel  map[int64]*Subscription
	onLiveness LivenessFunc
}

// New creates an empty registry.
func New(logger *logrus.Logger) *Registry {
	return &Registry{
		logger:    logger,
		byChannel: make(map[int64]*Subscription),
	}
}

// OnLivenessChange installs the callback fired when a channel goes stale or
// recovers. Install before routing starts; not safe to swap concurrently.
func (r *Registry) OnLivenessChange(fn LivenessFunc) {
	r.onLiveness = fn
}

// Register binds channelID to a symbol and event kind. Any prior entry for
// the id is wiped first, so a reused channel id never aliases stale
// metadata from an earlier subscription.
func (r *Registry) Register(channelID int64, symbol string, kind models.EventKind) Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.byChannel[channelID]; ok {
		r.logger.WithFields(logrus.Fields{
			"channel_id": channelID,
			"old_symbol": old.Symbol,
			"symbol":     symbol,
		}).Warn("channel id reused, wiping prior entry")
		delete(r.byChannel, channelID)
	}

	sub := &Subscription{
		ChannelID:    channelID,
		Symbol:       symbol,
		Kind:         kind,
		LastUpdateAt: time.Now(),
	}
	r.byChannel[channelID] = sub
	return *sub
}

// Get returns a copy of the subscription for channelID.
func (r *Registry) Get(channelID int64) (Subscription, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sub, ok := r.byChannel[channelID]
	if !ok {
		return Subscription{}, false
	}
	return *sub, true
}

// Touch records a successfully routed message for channelID at the given
// time and clears the stale flag on every currently-stale subscription, not
// just the touched one. Treating activity on any channel as evidence that
// the whole session is alive is a deliberate heuristic: it trades
// per-channel precision for fewer false stale alarms on genuinely idle
// channels. Swap the clearAllStaleLocked call for a per-channel clear if
// that trade-off changes.
func (r *Registry) Touch(channelID int64, at time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.byChannel[channelID]
	if !ok {
		return false
	}
	sub.LastUpdateAt = at
	r.clearAllStaleLocked()
	return true
}

// clearAllStaleLocked unflags every stale subscription, emitting a liveness
// notification per recovered channel. Caller holds the write lock.
func (r *Registry) clearAllStaleLocked() {
	for _, sub := range r.byChannel {
		if !sub.IsStale {
			continue
		}
		sub.IsStale = false
		if r.onLiveness != nil {
			r.onLiveness(*sub, false)
		}
	}
}

// MarkStale flags channelID as stale. Returns true when the flag actually
// flipped. Called only by the stale monitor.
func (r *Registry) MarkStale(channelID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.byChannel[channelID]
	if !ok || sub.IsStale {
		return false
	}
	sub.IsStale = true
	if r.onLiveness != nil {
		r.onLiveness(*sub, true)
	}
	return true
}

// Unregister removes channelID from the registry.
func (r *Registry) Unregister(channelID int64) {
	r.mu.Lock()
	delete(r.byChannel, channelID)
	r.mu.Unlock()
}

// Active returns copies of all active subscriptions.
func (r *Registry) Active() []Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Subscription, 0, len(r.byChannel))
	for _, sub := range r.byChannel {
		out = append(out, *sub)
	}
	return out
}

// Len returns the number of active subscriptions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byChannel)
}

// Clear removes every subscription, used on connection teardown.
func (r *Registry) Clear() {
	r.mu.Lock()
	r.byChannel = make(map[int64]*Subscription)
	r.mu.Unlock()
}
