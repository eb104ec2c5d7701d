package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// EventKind identifies one of the four channel types carried on the feed.
// The set is closed: every subscription and every normalized record belongs
// to exactly one of these kinds.
type EventKind string

const (
	KindTrade  EventKind = "trades"
	KindBook   EventKind = "book"
	KindCandle EventKind = "candles"
	KindTicker EventKind = "ticker"
)

// Kinds returns all valid event kinds.
func Kinds() []EventKind {
	return []EventKind{KindTrade, KindBook, KindCandle, KindTicker}
}

// Valid reports whether k is a known event kind.
func (k EventKind) Valid() bool {
	switch k {
	case KindTrade, KindBook, KindCandle, KindTicker:
		return true
	}
	return false
}

// ParseKind converts a wire channel name into an EventKind.
func ParseKind(s string) (EventKind, error) {
	k := EventKind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown channel kind %q", s)
	}
	return k, nil
}

// Side identifies which half of the order book a level belongs to.
type Side string

const (
	SideBid Side = "bid"
	SideAsk Side = "ask"
)

// Trade is a single executed trade. Immutable once constructed.
type Trade struct {
	ID        int64           `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Price     decimal.Decimal `json:"price"`
	Amount    decimal.Decimal `json:"amount"`
}

// BookLevel is one price level of the order book. An Amount of zero on the
// wire means the level is to be removed.
type BookLevel struct {
	Price  decimal.Decimal `json:"price"`
	Amount decimal.Decimal `json:"amount"`
	Count  int             `json:"count"`
	Side   Side            `json:"side"`
}

// Candle is OHLCV data for one time window, keyed by OpenTime.
type Candle struct {
	OpenTime time.Time       `json:"open_time"`
	Open     decimal.Decimal `json:"open"`
	High     decimal.Decimal `json:"high"`
	Low      decimal.Decimal `json:"low"`
	Close    decimal.Decimal `json:"close"`
	Volume   decimal.Decimal `json:"volume"`
}

// Ticker is the latest top-of-book summary for a symbol. Single-slot: the
// current value always replaces the previous one.
type Ticker struct {
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	LastPrice decimal.Decimal `json:"last_price"`
	Volume24h decimal.Decimal `json:"volume_24h"`
	UpdatedAt time.Time       `json:"updated_at"`
}
