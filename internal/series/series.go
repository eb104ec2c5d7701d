// Package series provides the bounded in-memory containers backing every
// event handler: a fixed-capacity most-recent-first ring, a price-sorted
// order book, and a single-slot latest-value store, each keyed by symbol.
package series

import "sync"

// ring is a fixed-capacity circular buffer holding elements
// most-recent-first. buf[head] is the newest element; writing a new head
// when full overwrites the oldest.
type ring[T any] struct {
	buf  []T
	head int
	n    int
}

func newRing[T any](capacity int) *ring[T] {
	return &ring[T]{buf: make([]T, capacity)}
}

func (r *ring[T]) pushFront(v T) {
	c := len(r.buf)
	r.head = (r.head - 1 + c) % c
	r.buf[r.head] = v
	if r.n < c {
		r.n++
	}
}

func (r *ring[T]) at(i int) T {
	return r.buf[(r.head+i)%len(r.buf)]
}

func (r *ring[T]) snapshot() []T {
	out := make([]T, r.n)
	for i := 0; i < r.n; i++ {
		out[i] = r.at(i)
	}
	return out
}

// Store is a per-symbol collection of bounded rings. One concurrent writer
// (the routing path) and many concurrent readers are supported.
type Store[T any] struct {
	capacity int

	mu       sync.RWMutex
	bySymbol map[string]*ring[T]
}

// NewStore creates a store whose series hold at most capacity elements.
func NewStore[T any](capacity int) *Store[T] {
	if capacity <= 0 {
		panic("series capacity must be positive")
	}
	return &Store[T]{
		capacity: capacity,
		bySymbol: make(map[string]*ring[T]),
	}
}

// Capacity returns the configured per-symbol capacity.
func (s *Store[T]) Capacity() int {
	return s.capacity
}

// PushFront inserts v as the newest element of the symbol's series,
// evicting the oldest element when the series is at capacity.
func (s *Store[T]) PushFront(symbol string, v T) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.bySymbol[symbol]
	if !ok {
		r = newRing[T](s.capacity)
		s.bySymbol[symbol] = r
	}
	r.pushFront(v)
}

// Replace atomically swaps the symbol's series for items (expected
// most-recent-first), truncated to capacity. The new ring is built outside
// the lock and swapped in whole, so readers observe either the old series
// or the new one, never a mix.
func (s *Store[T]) Replace(symbol string, items []T) {
	if len(items) > s.capacity {
		items = items[:s.capacity]
	}
	r := newRing[T](s.capacity)
	for i := len(items) - 1; i >= 0; i-- {
		r.pushFront(items[i])
	}

	s.mu.Lock()
	s.bySymbol[symbol] = r
	s.mu.Unlock()
}

// Front returns the newest element of the symbol's series.
func (s *Store[T]) Front(symbol string) (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.bySymbol[symbol]
	if !ok || r.n == 0 {
		var zero T
		return zero, false
	}
	return r.at(0), true
}

// SetFront replaces the newest element in place. It is a no-op on an empty
// series.
func (s *Store[T]) SetFront(symbol string, v T) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.bySymbol[symbol]
	if !ok || r.n == 0 {
		return
	}
	r.buf[r.head] = v
}

// Len returns the current length of the symbol's series.
func (s *Store[T]) Len(symbol string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.bySymbol[symbol]
	if !ok {
		return 0
	}
	return r.n
}

// Snapshot returns an immutable copy of the symbol's series,
// most-recent-first.
func (s *Store[T]) Snapshot(symbol string) []T {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.bySymbol[symbol]
	if !ok {
		return nil
	}
	return r.snapshot()
}

// Drop removes the symbol's series entirely.
func (s *Store[T]) Drop(symbol string) {
	s.mu.Lock()
	delete(s.bySymbol, symbol)
	s.mu.Unlock()
}
