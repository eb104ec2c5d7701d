// Package feed owns the upstream WebSocket session: dialing, the
// reconnect/backoff state machine, the heartbeat watchdog, and subscription
// replay. It emits raw frames for the message router and knows nothing
// about payload contents.
package feed

import (
	"errors"
	"time"

	"marketsync/internal/models"
)

// State is the connection lifecycle state. Timers and transport errors are
// the only inputs that drive transitions.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// ErrConnectionClosed is returned by Send after Stop.
var ErrConnectionClosed = errors.New("connection closed")

// RawFrame is one inbound wire frame plus its arrival time.
type RawFrame struct {
	Data       []byte
	ReceivedAt time.Time
}

// Config tunes the connection manager.
type Config struct {
	URL string

	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration

	// HeartbeatInterval is the outbound probe cadence; HeartbeatTimeout is
	// how long the watchdog tolerates silence (no inbound frame of any
	// kind) before forcing a reconnect.
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	ReconnectBaseWait time.Duration
	ReconnectMaxWait  time.Duration

	FrameBufferSize int

	// Outbound subscribe commands are rate limited.
	SubscribeRate  float64
	SubscribeBurst int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout:  15 * time.Second,
		WriteTimeout:      5 * time.Second,
		HeartbeatInterval: 15 * time.Second,
		HeartbeatTimeout:  60 * time.Second,
		ReconnectBaseWait: time.Second,
		ReconnectMaxWait:  60 * time.Second,
		FrameBufferSize:   4096,
		SubscribeRate:     5,
		SubscribeBurst:    10,
	}
}

// subscription is one desired channel, kept in registration order so
// replay after reconnect preserves it.
type subscription struct {
	Symbol string
	Kind   models.EventKind
}

// subscribeCmd and unsubscribeCmd are the wire-level commands.
type subscribeCmd struct {
	Event   string `json:"event"`
	Channel string `json:"channel"`
	Symbol  string `json:"symbol"`
}

type unsubscribeCmd struct {
	Event     string `json:"event"`
	ChannelID int64  `json:"channelId"`
}

type pingCmd struct {
	Event string `json:"event"`
}
