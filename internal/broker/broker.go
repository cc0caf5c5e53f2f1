// Package broker provides the narrow adapter over the upstream trading API.
// The core only sees fills, quotes, and a tick feed; the upstream client's
// concrete types never leak past this package.
package broker

import (
	"context"
	"errors"
	"time"

	"github.com/eddiefleurent/schrute_ledger/internal/models"
)

// ErrNotConfigured is returned when the upstream integration has no
// credentials. Callers surface an explicit unavailable status instead of
// treating this as a failure.
var ErrNotConfigured = errors.New("upstream broker is not configured")

// Fill is one already-executed option fill as reported by the upstream API.
// Quantity is signed: negative means the contract was sold.
type Fill struct {
	Symbol     string    // OPRA option symbol
	Quantity   float64   // signed contract count
	AvgPrice   float64   // average fill price per contract
	Side       string    // "buy" or "sell" as reported upstream
	AssetClass string    // "option" or "equity"
	FilledAt   time.Time
}

// Tick is one live quote update from the streaming feed.
type Tick struct {
	Symbol string
	Bid    float64
	Ask    float64
	Last   float64
	At     time.Time
}

// Broker is the read-only surface the core needs from the upstream API.
// Orders are already filled and sourced externally; nothing here places or
// modifies them.
type Broker interface {
	// Fills returns the currently open option fills for the account.
	Fills(ctx context.Context) ([]Fill, error)
	// Quote returns the current market quote for one symbol.
	Quote(ctx context.Context, symbol string) (*models.PriceQuote, error)
}

// QuoteFeed is a subscribe-by-symbol live quote stream.
type QuoteFeed interface {
	// Subscribe adds symbols to the subscription set. Idempotent; already
	// subscribed symbols are ignored.
	Subscribe(symbols ...string) error
	// Ticks returns the channel live ticks are delivered on. The channel is
	// closed when the feed shuts down.
	Ticks() <-chan Tick
	// Close tears the feed down and releases its connection.
	Close() error
}
