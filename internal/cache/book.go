// Package cache holds the in-memory position book. Nothing here persists;
// the book is rebuilt wholesale from upstream on restart.
package cache

import (
	"sync"

	"github.com/eddiefleurent/schrute_ledger/internal/models"
)

// Book is the contract for the position book.
//
// Implementations must be safe for concurrent readers. Mutation follows a
// single-writer discipline: exactly one owner calls Replace/ApplyQuote, and
// readers always receive deep copies so in-place P&L updates never race with
// an encoder walking a snapshot.
type Book interface {
	// Replace swaps the full position set (wholesale rebuild).
	Replace(positions []*models.Position)
	// All returns deep copies of every position in insertion order.
	All() []models.Position
	// ByID returns a deep copy of one position.
	ByID(id string) (models.Position, bool)
	// ApplyQuote updates every open leg matching the option symbol and
	// recomputes P&L, atomically for all legs of a tick. Returns deep copies
	// of the positions that changed.
	ApplyQuote(symbol string, mid float64) []models.Position
	// OpenSymbols returns the distinct option symbols of all open legs.
	OpenSymbols() []string
}

// MemoryBook is the only Book implementation.
type MemoryBook struct {
	mu    sync.RWMutex
	byID  map[string]*models.Position
	order []string
}

// Ensure MemoryBook implements Book at compile time.
var _ Book = (*MemoryBook)(nil)

// NewMemoryBook creates an empty position book.
func NewMemoryBook() *MemoryBook {
	return &MemoryBook{byID: make(map[string]*models.Position)}
}

// Replace swaps the full position set. The book takes exclusive ownership of
// the given positions and their legs.
func (b *MemoryBook) Replace(positions []*models.Position) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.byID = make(map[string]*models.Position, len(positions))
	b.order = make([]string, 0, len(positions))
	for _, p := range positions {
		b.byID[p.ID] = p
		b.order = append(b.order, p.ID)
	}
}

// All returns deep copies of every position in insertion order.
func (b *MemoryBook) All() []models.Position {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]models.Position, 0, len(b.order))
	for _, id := range b.order {
		if p, ok := b.byID[id]; ok {
			out = append(out, p.Clone())
		}
	}
	return out
}

// ByID returns a deep copy of one position.
func (b *MemoryBook) ByID(id string) (models.Position, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	p, ok := b.byID[id]
	if !ok {
		return models.Position{}, false
	}
	return p.Clone(), true
}

// ApplyQuote updates the mark of every open leg matching symbol under one
// lock acquisition, so a tick is applied to all its legs atomically.
func (b *MemoryBook) ApplyQuote(symbol string, mid float64) []models.Position {
	b.mu.Lock()
	defer b.mu.Unlock()

	var touched []models.Position
	for _, id := range b.order {
		p, ok := b.byID[id]
		if !ok {
			continue
		}
		if p.ApplyQuote(symbol, mid) {
			touched = append(touched, p.Clone())
		}
	}
	return touched
}

// OpenSymbols returns the distinct option symbols of all open legs.
func (b *MemoryBook) OpenSymbols() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	seen := make(map[string]struct{})
	var symbols []string
	for _, id := range b.order {
		p, ok := b.byID[id]
		if !ok {
			continue
		}
		for _, s := range p.OpenLegSymbols() {
			if _, dup := seen[s]; !dup {
				seen[s] = struct{}{}
				symbols = append(symbols, s)
			}
		}
	}
	return symbols
}
