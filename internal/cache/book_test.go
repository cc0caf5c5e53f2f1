package cache

import (
	"testing"
	"time"

	"github.com/eddiefleurent/schrute_ledger/internal/models"
)

func testPosition(id, underlying string, strike float64, closed bool) *models.Position {
	expiry := time.Date(2026, 6, 19, 0, 0, 0, 0, time.UTC)
	opt := models.NewOptionSymbol(underlying, expiry, models.OptionTypeCall, strike)
	p := &models.Position{
		ID:     id,
		Symbol: underlying,
		Legs: []*models.Leg{{
			Symbol:     opt.String(),
			Option:     opt,
			Direction:  models.LegShort,
			Quantity:   1,
			OpenPrice:  1.50,
			OpenAction: models.ActionSell,
			Closed:     closed,
		}},
	}
	p.Recompute()
	return p
}

func TestMemoryBook_ReplaceAndLookup(t *testing.T) {
	b := NewMemoryBook()
	b.Replace([]*models.Position{
		testPosition("p1", "SPY", 450, false),
		testPosition("p2", "AAPL", 180, false),
	})

	all := b.All()
	if len(all) != 2 {
		t.Fatalf("All() = %d positions, want 2", len(all))
	}
	if all[0].ID != "p1" || all[1].ID != "p2" {
		t.Fatalf("insertion order lost: %s, %s", all[0].ID, all[1].ID)
	}

	got, ok := b.ByID("p2")
	if !ok || got.Symbol != "AAPL" {
		t.Fatalf("ByID(p2) = %+v, %v", got, ok)
	}
	if _, ok := b.ByID("missing"); ok {
		t.Fatal("ByID(missing) must report false")
	}

	// Replace is wholesale.
	b.Replace([]*models.Position{testPosition("p3", "MSFT", 420, false)})
	if _, ok := b.ByID("p1"); ok {
		t.Fatal("old positions must be gone after Replace")
	}
}

func TestMemoryBook_ReadsAreDeepCopies(t *testing.T) {
	b := NewMemoryBook()
	b.Replace([]*models.Position{testPosition("p1", "SPY", 450, false)})

	snapshot := b.All()
	snapshot[0].Legs[0].OpenPrice = 99.0

	fresh, _ := b.ByID("p1")
	if fresh.Legs[0].OpenPrice != 1.50 {
		t.Fatalf("mutation through snapshot leaked into the book: %v", fresh.Legs[0].OpenPrice)
	}
}

func TestMemoryBook_ApplyQuote(t *testing.T) {
	b := NewMemoryBook()
	p1 := testPosition("p1", "SPY", 450, false)
	p2 := testPosition("p2", "AAPL", 180, false)
	b.Replace([]*models.Position{p1, p2})

	symbol := p1.Legs[0].Symbol
	touched := b.ApplyQuote(symbol, 1.20)
	if len(touched) != 1 || touched[0].ID != "p1" {
		t.Fatalf("ApplyQuote touched %+v, want just p1", touched)
	}
	if touched[0].Legs[0].MarkPrice != 1.20 {
		t.Fatalf("MarkPrice = %v, want 1.20", touched[0].Legs[0].MarkPrice)
	}

	if touched := b.ApplyQuote("ZZZ260619C00100000", 5.0); len(touched) != 0 {
		t.Fatalf("unknown symbol touched %d positions", len(touched))
	}
}

func TestMemoryBook_OpenSymbols(t *testing.T) {
	b := NewMemoryBook()
	open := testPosition("p1", "SPY", 450, false)
	closed := testPosition("p2", "AAPL", 180, true)
	// Second position sharing the same open instrument must not duplicate.
	dup := testPosition("p3", "SPY", 450, false)
	b.Replace([]*models.Position{open, closed, dup})

	symbols := b.OpenSymbols()
	if len(symbols) != 1 || symbols[0] != open.Legs[0].Symbol {
		t.Fatalf("OpenSymbols() = %v", symbols)
	}
}
