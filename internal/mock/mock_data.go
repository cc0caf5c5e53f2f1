// Package mock provides in-memory broker and feed implementations for
// development and integration runs without upstream credentials.
package mock

import (
	"context"
	"crypto/rand"
	"math/big"
	"sync"
	"time"

	"github.com/eddiefleurent/schrute_ledger/internal/broker"
	"github.com/eddiefleurent/schrute_ledger/internal/models"
)

// secureFloat64 generates a cryptographically secure random float64 between 0 and 1
func secureFloat64() float64 {
	n, err := rand.Int(rand.Reader, big.NewInt(1<<53))
	if err != nil {
		// Fallback to a reasonable default if crypto/rand fails
		return 0.5
	}
	return float64(n.Int64()) / (1 << 53)
}

// Broker serves a fixed book of fills: an open SPY iron condor plus a closed
// MSFT call vertical with realized profit.
type Broker struct {
	mu    sync.Mutex
	fills []broker.Fill
	marks map[string]float64
}

var _ broker.Broker = (*Broker)(nil)

func NewBroker() *Broker {
	now := time.Now()
	expiry := now.AddDate(0, 0, 21)
	occ := func(underlying string, typ models.OptionType, strike float64) string {
		return models.NewOptionSymbol(underlying, expiry, typ, strike).String()
	}

	b := &Broker{
		fills: []broker.Fill{
			// SPY iron condor, opened and still on.
			{Symbol: occ("SPY", models.OptionTypePut, 430), Quantity: 1, AvgPrice: 0.45, Side: "buy", AssetClass: "option", FilledAt: now.Add(-48 * time.Hour)},
			{Symbol: occ("SPY", models.OptionTypePut, 440), Quantity: -1, AvgPrice: 1.10, Side: "sell", AssetClass: "option", FilledAt: now.Add(-48 * time.Hour)},
			{Symbol: occ("SPY", models.OptionTypeCall, 460), Quantity: -1, AvgPrice: 1.05, Side: "sell", AssetClass: "option", FilledAt: now.Add(-48 * time.Hour)},
			{Symbol: occ("SPY", models.OptionTypeCall, 470), Quantity: 1, AvgPrice: 0.40, Side: "buy", AssetClass: "option", FilledAt: now.Add(-48 * time.Hour)},
			// MSFT call vertical, opened then closed for a profit.
			{Symbol: occ("MSFT", models.OptionTypeCall, 420), Quantity: -1, AvgPrice: 3.67, Side: "sell", AssetClass: "option", FilledAt: now.Add(-96 * time.Hour)},
			{Symbol: occ("MSFT", models.OptionTypeCall, 430), Quantity: 1, AvgPrice: 1.20, Side: "buy", AssetClass: "option", FilledAt: now.Add(-96 * time.Hour)},
			{Symbol: occ("MSFT", models.OptionTypeCall, 420), Quantity: 1, AvgPrice: 3.25, Side: "buy", AssetClass: "option", FilledAt: now.Add(-24 * time.Hour)},
			{Symbol: occ("MSFT", models.OptionTypeCall, 430), Quantity: -1, AvgPrice: 1.02, Side: "sell", AssetClass: "option", FilledAt: now.Add(-24 * time.Hour)},
		},
		marks: make(map[string]float64),
	}
	for _, f := range b.fills {
		b.marks[f.Symbol] = f.AvgPrice
	}
	return b
}

func (b *Broker) Fills(_ context.Context) ([]broker.Fill, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]broker.Fill, len(b.fills))
	copy(out, b.fills)
	return out, nil
}

func (b *Broker) Quote(_ context.Context, symbol string) (*models.PriceQuote, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	mark, ok := b.marks[symbol]
	if !ok {
		mark = 1.0 + secureFloat64()
	}
	// Small random drift so repeated quotes move.
	mark += (secureFloat64() - 0.5) * 0.10
	if mark < 0.05 {
		mark = 0.05
	}
	b.marks[symbol] = mark

	spread := 0.02
	return &models.PriceQuote{
		Symbol:     symbol,
		Bid:        mark - spread/2,
		Ask:        mark + spread/2,
		Last:       mark,
		ObservedAt: time.Now(),
	}, nil
}

// Feed emits a synthetic random-walk tick for every subscribed symbol on a
// fixed interval.
type Feed struct {
	interval time.Duration
	source   *Broker

	mu      sync.Mutex
	symbols map[string]struct{}
	ticks   chan broker.Tick
	done    chan struct{}
	once    sync.Once
}

var _ broker.QuoteFeed = (*Feed)(nil)

func NewFeed(source *Broker, interval time.Duration) *Feed {
	f := &Feed{
		interval: interval,
		source:   source,
		symbols:  make(map[string]struct{}),
		ticks:    make(chan broker.Tick, 64),
		done:     make(chan struct{}),
	}
	go f.run()
	return f
}

func (f *Feed) Subscribe(symbols ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range symbols {
		f.symbols[s] = struct{}{}
	}
	return nil
}

func (f *Feed) Ticks() <-chan broker.Tick {
	return f.ticks
}

func (f *Feed) Close() error {
	f.once.Do(func() {
		close(f.done)
	})
	return nil
}

func (f *Feed) run() {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	defer close(f.ticks)

	for {
		select {
		case <-f.done:
			return
		case <-ticker.C:
			f.emit()
		}
	}
}

func (f *Feed) emit() {
	f.mu.Lock()
	subscribed := make([]string, 0, len(f.symbols))
	for s := range f.symbols {
		subscribed = append(subscribed, s)
	}
	f.mu.Unlock()

	for _, symbol := range subscribed {
		quote, err := f.source.Quote(context.Background(), symbol)
		if err != nil {
			continue
		}
		tick := broker.Tick{
			Symbol: symbol,
			Bid:    quote.Bid,
			Ask:    quote.Ask,
			Last:   quote.Last,
			At:     quote.ObservedAt,
		}
		select {
		case f.ticks <- tick:
		case <-f.done:
			return
		default:
		}
	}
}
