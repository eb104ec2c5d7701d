// Package handlers normalizes raw channel payloads into typed domain
// records and writes them into the bounded stores, one handler per event
// kind. The kind set is closed, so dispatch is a fixed set of concrete
// handlers rather than open-ended registration.
package handlers

import (
	"sort"
	"time"

	"marketsync/internal/metrics"
	"marketsync/internal/models"
	"marketsync/internal/series"
)

// NotifyFunc receives the newest normalized value after every successful
// write. The throttled dispatch layer and the Redis publisher hang off it.
type NotifyFunc func(kind models.EventKind, symbol string, value any)

// Handler is the shared contract for all event kinds. A snapshot replaces
// the symbol's state atomically; an increment merges a single record.
// Decode failures are returned so the router can count them; they never
// leave partial state behind.
type Handler interface {
	Kind() models.EventKind
	ApplySnapshot(symbol string, records []models.Record) error
	ApplyIncrement(symbol string, record models.Record) error
}

// Set bundles one handler per event kind plus read access to the stores.
type Set struct {
	Trades  *series.Store[models.Trade]
	Candles *series.Store[models.Candle]
	Book    *series.BookStore
	Tickers *series.SlotStore[models.Ticker]

	byKind map[models.EventKind]Handler
}

// Config holds per-kind retention capacities.
type Config struct {
	TradeCapacity  int
	CandleCapacity int
	BookDepth      int
}

// NewSet builds the stores and one handler per kind. notify may be nil;
// collector may be nil in tests.
func NewSet(cfg Config, collector *metrics.Collector, notify NotifyFunc) *Set {
	if notify == nil {
		notify = func(models.EventKind, string, any) {}
	}
	s := &Set{
		Trades:  series.NewStore[models.Trade](cfg.TradeCapacity),
		Candles: series.NewStore[models.Candle](cfg.CandleCapacity),
		Book:    series.NewBookStore(cfg.BookDepth),
		Tickers: series.NewSlotStore[models.Ticker](),
	}
	s.byKind = map[models.EventKind]Handler{
		models.KindTrade:  &tradeHandler{store: s.Trades, collector: collector, notify: notify},
		models.KindCandle: &candleHandler{store: s.Candles, collector: collector, notify: notify},
		models.KindBook:   &bookHandler{store: s.Book, notify: notify},
		models.KindTicker: &tickerHandler{store: s.Tickers, notify: notify},
	}
	return s
}

// For returns the handler for an event kind.
func (s *Set) For(kind models.EventKind) (Handler, bool) {
	h, ok := s.byKind[kind]
	return h, ok
}

// DropSymbol clears all state held for a symbol under one kind, used when
// its channel is torn down.
func (s *Set) DropSymbol(kind models.EventKind, symbol string) {
	switch kind {
	case models.KindTrade:
		s.Trades.Drop(symbol)
	case models.KindCandle:
		s.Candles.Drop(symbol)
	case models.KindBook:
		s.Book.Drop(symbol)
	case models.KindTicker:
		s.Tickers.Drop(symbol)
	}
}

// tradeHandler keeps the N most recent trades per symbol,
// most-recent-first.
type tradeHandler struct {
	store     *series.Store[models.Trade]
	collector *metrics.Collector
	notify    NotifyFunc
}

func (h *tradeHandler) Kind() models.EventKind { return models.KindTrade }

func (h *tradeHandler) ApplySnapshot(symbol string, records []models.Record) error {
	trades := make([]models.Trade, 0, len(records))
	for _, r := range records {
		trade, err := models.DecodeTrade(r)
		if err != nil {
			return err
		}
		trades = append(trades, trade)
	}

	// Sort ascending by timestamp, then store most-recent-first so the
	// capacity truncation keeps the newest N.
	sort.Slice(trades, func(i, j int) bool {
		return trades[i].Timestamp.Before(trades[j].Timestamp)
	})
	for i, j := 0, len(trades)-1; i < j; i, j = i+1, j-1 {
		trades[i], trades[j] = trades[j], trades[i]
	}

	h.store.Replace(symbol, trades)
	if len(trades) > 0 {
		h.notify(models.KindTrade, symbol, trades[0])
	}
	return nil
}

func (h *tradeHandler) ApplyIncrement(symbol string, record models.Record) error {
	trade, err := models.DecodeTrade(record)
	if err != nil {
		return err
	}
	h.store.PushFront(symbol, trade)
	if h.collector != nil {
		h.collector.RecordLatency(models.KindTrade, float64(time.Since(trade.Timestamp).Milliseconds()))
	}
	h.notify(models.KindTrade, symbol, trade)
	return nil
}

// candleHandler keys candles by open time; an increment with the newest
// candle's open time updates the in-progress candle in place.
type candleHandler struct {
	store     *series.Store[models.Candle]
	collector *metrics.Collector
	notify    NotifyFunc
}

func (h *candleHandler) Kind() models.EventKind { return models.KindCandle }

func (h *candleHandler) ApplySnapshot(symbol string, records []models.Record) error {
	candles := make([]models.Candle, 0, len(records))
	for _, r := range records {
		candle, err := models.DecodeCandle(r)
		if err != nil {
			return err
		}
		candles = append(candles, candle)
	}

	sort.Slice(candles, func(i, j int) bool {
		return candles[i].OpenTime.After(candles[j].OpenTime)
	})

	h.store.Replace(symbol, candles)
	if len(candles) > 0 {
		h.notify(models.KindCandle, symbol, candles[0])
	}
	return nil
}

func (h *candleHandler) ApplyIncrement(symbol string, record models.Record) error {
	candle, err := models.DecodeCandle(record)
	if err != nil {
		return err
	}

	front, ok := h.store.Front(symbol)
	if ok && front.OpenTime.Equal(candle.OpenTime) {
		h.store.SetFront(symbol, candle)
	} else {
		h.store.PushFront(symbol, candle)
	}
	if h.collector != nil {
		h.collector.RecordLatency(models.KindCandle, float64(time.Since(candle.OpenTime).Milliseconds()))
	}
	h.notify(models.KindCandle, symbol, candle)
	return nil
}

// bookHandler maintains the price-sorted order book per symbol.
type bookHandler struct {
	store  *series.BookStore
	notify NotifyFunc
}

func (h *bookHandler) Kind() models.EventKind { return models.KindBook }

func (h *bookHandler) ApplySnapshot(symbol string, records []models.Record) error {
	levels := make([]models.BookLevel, 0, len(records))
	for _, r := range records {
		lvl, err := models.DecodeBookLevel(r)
		if err != nil {
			return err
		}
		levels = append(levels, lvl)
	}
	h.store.Replace(symbol, levels)
	h.notify(models.KindBook, symbol, levels)
	return nil
}

func (h *bookHandler) ApplyIncrement(symbol string, record models.Record) error {
	lvl, err := models.DecodeBookLevel(record)
	if err != nil {
		return err
	}
	h.store.Apply(symbol, lvl)
	h.notify(models.KindBook, symbol, lvl)
	return nil
}

// tickerHandler holds the single latest ticker per symbol.
type tickerHandler struct {
	store  *series.SlotStore[models.Ticker]
	notify NotifyFunc
}

func (h *tickerHandler) Kind() models.EventKind { return models.KindTicker }

func (h *tickerHandler) ApplySnapshot(symbol string, records []models.Record) error {
	// Ticker snapshots carry the current value; the last record wins.
	// Decode everything before writing so a bad record changes nothing.
	var latest models.Ticker
	ok := false
	for _, r := range records {
		ticker, err := models.DecodeTicker(r)
		if err != nil {
			return err
		}
		latest = ticker
		ok = true
	}
	if ok {
		h.store.Set(symbol, latest)
		h.notify(models.KindTicker, symbol, latest)
	}
	return nil
}

func (h *tickerHandler) ApplyIncrement(symbol string, record models.Record) error {
	ticker, err := models.DecodeTicker(record)
	if err != nil {
		return err
	}
	h.store.Set(symbol, ticker)
	h.notify(models.KindTicker, symbol, ticker)
	return nil
}
