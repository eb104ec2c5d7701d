package series

import "sync"

// SlotStore holds a single latest value per symbol. Used for ticker state,
// where the current value always supersedes the previous one.
type SlotStore[T any] struct {
	mu       sync.RWMutex
	bySymbol map[string]T
}

// NewSlotStore creates an empty slot store.
func NewSlotStore[T any]() *SlotStore[T] {
	return &SlotStore[T]{bySymbol: make(map[string]T)}
}

// Set replaces the symbol's value.
func (s *SlotStore[T]) Set(symbol string, v T) {
	s.mu.Lock()
	s.bySymbol[symbol] = v
	s.mu.Unlock()
}

// Get returns the symbol's current value.
func (s *SlotStore[T]) Get(symbol string) (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.bySymbol[symbol]
	return v, ok
}

// Drop removes the symbol's value.
func (s *SlotStore[T]) Drop(symbol string) {
	s.mu.Lock()
	delete(s.bySymbol, symbol)
	s.mu.Unlock()
}
