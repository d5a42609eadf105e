// Package orderbook keeps the latest validated depth snapshot per symbol.
package orderbook

import (
	"fmt"
	"sort"
	"sync"

	"github.com/alanyoungcy/cryptoquant/internal/domain"
)

// DefaultDepthLevels is used by Depth when the caller passes levels <= 0.
const DefaultDepthLevels = 5

type entry struct {
	mu   sync.RWMutex
	book domain.OrderBook
	set  bool
}

// Store is a per-symbol snapshot store. Each symbol has its own lock so that
// readers and writers of different symbols never contend.
type Store struct {
	entries sync.Map // domain.Symbol -> *entry
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{}
}

func (s *Store) entry(sym domain.Symbol) *entry {
	if e, ok := s.entries.Load(sym); ok {
		return e.(*entry)
	}
	e, _ := s.entries.LoadOrStore(sym, &entry{})
	return e.(*entry)
}

func (s *Store) lookup(sym domain.Symbol) (*entry, bool) {
	e, ok := s.entries.Load(sym)
	if !ok {
		return nil, false
	}
	return e.(*entry), true
}

// Update replaces the snapshot for book.Symbol. Invalid or crossed books and
// snapshots older than the stored one are rejected and leave the store
// untouched.
func (s *Store) Update(book domain.OrderBook) error {
	if err := book.Validate(); err != nil {
		return fmt.Errorf("orderbook: update: %w", err)
	}
	cp := book.Clone()

	e := s.entry(book.Symbol)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.set && book.Timestamp < e.book.Timestamp {
		return fmt.Errorf("orderbook: update %s: %w (%d < %d)", book.Symbol, domain.ErrStaleSnapshot, book.Timestamp, e.book.Timestamp)
	}
	e.book = cp
	e.set = true
	return nil
}

// Get returns a copy of the latest snapshot, or the zero OrderBook.
func (s *Store) Get(sym domain.Symbol) domain.OrderBook {
	e, ok := s.lookup(sym)
	if !ok {
		return domain.OrderBook{}
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.set {
		return domain.OrderBook{}
	}
	return e.book.Clone()
}

// read runs fn against the stored book under the symbol's read lock.
func (s *Store) read(sym domain.Symbol, fn func(b *domain.OrderBook)) {
	e, ok := s.lookup(sym)
	if !ok {
		return
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.set {
		fn(&e.book)
	}
}

// BestBid returns the highest bid, 0 when unknown.
func (s *Store) BestBid(sym domain.Symbol) (v float64) {
	s.read(sym, func(b *domain.OrderBook) { v = b.BestBid() })
	return v
}

// BestAsk returns the lowest ask, 0 when unknown.
func (s *Store) BestAsk(sym domain.Symbol) (v float64) {
	s.read(sym, func(b *domain.OrderBook) { v = b.BestAsk() })
	return v
}

// MidPrice returns (bid+ask)/2, 0 if either side is empty.
func (s *Store) MidPrice(sym domain.Symbol) (v float64) {
	s.read(sym, func(b *domain.OrderBook) { v = b.MidPrice() })
	return v
}

// Spread returns ask-bid, 0 if either side is empty.
func (s *Store) Spread(sym domain.Symbol) (v float64) {
	s.read(sym, func(b *domain.OrderBook) { v = b.Spread() })
	return v
}

// Timestamp returns the stored snapshot timestamp in milliseconds.
func (s *Store) Timestamp(sym domain.Symbol) (v uint64) {
	s.read(sym, func(b *domain.OrderBook) { v = b.Timestamp })
	return v
}

// Depth sums quantity over the first levels entries of side, clamped to the
// number of levels present.
func (s *Store) Depth(sym domain.Symbol, side domain.BookSide, levels int) (total float64) {
	if levels <= 0 {
		levels = DefaultDepthLevels
	}
	s.read(sym, func(b *domain.OrderBook) {
		lv := b.Bids
		if side == domain.Ask {
			lv = b.Asks
		}
		if levels > len(lv) {
			levels = len(lv)
		}
		for _, l := range lv[:levels] {
			total += l.Quantity
		}
	})
	return total
}

// IsValid reports whether both sides are populated with positive prices and
// the book is not crossed.
func (s *Store) IsValid(sym domain.Symbol) (ok bool) {
	s.read(sym, func(b *domain.OrderBook) {
		bid, ask := b.BestBid(), b.BestAsk()
		ok = len(b.Bids) > 0 && len(b.Asks) > 0 && bid > 0 && ask > 0 && bid < ask
	})
	return ok
}

// Symbols lists every symbol that has a stored snapshot, sorted.
func (s *Store) Symbols() []domain.Symbol {
	var out []domain.Symbol
	s.entries.Range(func(k, v any) bool {
		e := v.(*entry)
		e.mu.RLock()
		if e.set {
			out = append(out, k.(domain.Symbol))
		}
		e.mu.RUnlock()
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
