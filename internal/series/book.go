package series

import (
	"sync"

	"marketsync/internal/models"
)

// book holds the two sides of one symbol's order book, each kept
// price-sorted: bids descending (best bid first), asks ascending (best ask
// first). Inserts use binary search so applying a level is O(log N) plus
// the slice shift.
type book struct {
	bids []models.BookLevel
	asks []models.BookLevel
}

// BookStore maintains per-symbol order books. Same writer/reader discipline
// as Store: one concurrent writer, many concurrent readers. Each side is
// capped at maxDepth levels; inserts past the cap drop the worst price.
type BookStore struct {
	maxDepth int

	mu       sync.RWMutex
	bySymbol map[string]*book
}

// NewBookStore creates an empty book store holding at most maxDepth levels
// per side.
func NewBookStore(maxDepth int) *BookStore {
	if maxDepth <= 0 {
		panic("book depth must be positive")
	}
	return &BookStore{maxDepth: maxDepth, bySymbol: make(map[string]*book)}
}

// sideIndex locates the insertion point for price on a sorted side.
// The bool reports whether the price already exists at that index.
func sideIndex(side []models.BookLevel, lvl models.BookLevel) (int, bool) {
	lo, hi := 0, len(side)
	for lo < hi {
		mid := (lo + hi) / 2
		cmp := side[mid].Price.Cmp(lvl.Price)
		if cmp == 0 {
			return mid, true
		}
		before := cmp < 0 // ascending: smaller prices first
		if lvl.Side == models.SideBid {
			before = cmp > 0 // descending: larger prices first
		}
		if before {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo, false
}

func (b *book) sideFor(s models.Side) *[]models.BookLevel {
	if s == models.SideBid {
		return &b.bids
	}
	return &b.asks
}

// Apply upserts lvl into the symbol's book, or removes the price level when
// lvl.Amount is zero.
func (s *BookStore) Apply(symbol string, lvl models.BookLevel) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bySymbol[symbol]
	if !ok {
		b = &book{}
		s.bySymbol[symbol] = b
	}

	side := b.sideFor(lvl.Side)
	i, found := sideIndex(*side, lvl)

	if lvl.Amount.IsZero() {
		if found {
			*side = append((*side)[:i], (*side)[i+1:]...)
		}
		return
	}

	if found {
		(*side)[i] = lvl
		return
	}
	if i >= s.maxDepth {
		// Worse than everything we retain.
		return
	}
	*side = append(*side, models.BookLevel{})
	copy((*side)[i+1:], (*side)[i:])
	(*side)[i] = lvl
	if len(*side) > s.maxDepth {
		*side = (*side)[:s.maxDepth]
	}
}

// Replace atomically swaps the symbol's entire book for the given levels.
// The new book is built outside the lock; zero-amount levels are skipped.
func (s *BookStore) Replace(symbol string, levels []models.BookLevel) {
	b := &book{}
	for _, lvl := range levels {
		if lvl.Amount.IsZero() {
			continue
		}
		side := b.sideFor(lvl.Side)
		i, found := sideIndex(*side, lvl)
		if found {
			(*side)[i] = lvl
			continue
		}
		*side = append(*side, models.BookLevel{})
		copy((*side)[i+1:], (*side)[i:])
		(*side)[i] = lvl
	}
	if len(b.bids) > s.maxDepth {
		b.bids = b.bids[:s.maxDepth]
	}
	if len(b.asks) > s.maxDepth {
		b.asks = b.asks[:s.maxDepth]
	}

	s.mu.Lock()
	s.bySymbol[symbol] = b
	s.mu.Unlock()
}

// Side returns a copy of one side of the symbol's book in sorted order.
func (s *BookStore) Side(symbol string, side models.Side) []models.BookLevel {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.bySymbol[symbol]
	if !ok {
		return nil
	}
	src := b.bids
	if side == models.SideAsk {
		src = b.asks
	}
	out := make([]models.BookLevel, len(src))
	copy(out, src)
	return out
}

// Snapshot returns copies of both sides of the symbol's book.
func (s *BookStore) Snapshot(symbol string) (bids, asks []models.BookLevel) {
	return s.Side(symbol, models.SideBid), s.Side(symbol, models.SideAsk)
}

// Drop removes the symbol's book entirely.
func (s *BookStore) Drop(symbol string) {
	s.mu.Lock()
	delete(s.bySymbol, symbol)
	s.mu.Unlock()
}
