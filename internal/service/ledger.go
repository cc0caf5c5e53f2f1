// Package service wires the resilient gateway, the position book, and the
// streaming pipeline into the single service object the presentation layer
// talks to. It is constructed once at process start and passed by reference;
// there is no global state.
package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/schrute_ledger/internal/broker"
	"github.com/eddiefleurent/schrute_ledger/internal/cache"
	"github.com/eddiefleurent/schrute_ledger/internal/gateway"
	"github.com/eddiefleurent/schrute_ledger/internal/models"
	"github.com/eddiefleurent/schrute_ledger/internal/stream"
	"github.com/eddiefleurent/schrute_ledger/internal/util"
)

// ErrPositionNotFound is returned for an unknown position id. Surfaced as an
// empty result by HTTP handlers, never a panic.
var ErrPositionNotFound = errors.New("position not found")

// statusNotConfigured is reported when the upstream integration has no
// credentials; the service stays up and answers with it instead of erroring.
const statusNotConfigured = "NOT_CONFIGURED"

// Event is one item on the push channel: a throttled price update, or a full
// position snapshot when a tick changed a position's P&L.
type Event struct {
	Price    *stream.Update   `json:"price,omitempty"`
	Position *models.Position `json:"position,omitempty"`
}

// Config tunes the streaming pipeline.
type Config struct {
	ThrottleInterval time.Duration // minimum spacing between sends per symbol
	QueueCapacity    int           // backpressure queue bound
	SubscriberBuffer int           // per-subscriber channel buffer
}

func (c Config) withDefaults() Config {
	if c.ThrottleInterval <= 0 {
		c.ThrottleInterval = 500 * time.Millisecond
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 1024
	}
	if c.SubscriberBuffer <= 0 {
		c.SubscriberBuffer = 64
	}
	return c
}

// Ledger owns the position book and the price caches. All mutation funnels
// through one mutex (single-writer discipline): the refresh path and the
// accepted-tick path both take it, while subscribers and HTTP readers only
// ever see deep copies.
type Ledger struct {
	gw     *gateway.Gateway // nil when the upstream is not configured
	feed   broker.QuoteFeed // nil when no live feed is available
	book   cache.Book
	bc     *stream.Broadcaster
	queue  *stream.Queue[Event]
	hub    *stream.Hub[Event]
	logger *logrus.Logger
	cfg    Config

	mu      sync.Mutex // serializes book + quote cache mutation
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// New constructs the service. gw and feed may be nil when the upstream is
// not configured; the service then reports an explicit unavailable status
// instead of failing.
func New(gw *gateway.Gateway, feed broker.QuoteFeed, book cache.Book, cfg Config, logger *logrus.Logger) *Ledger {
	if logger == nil {
		logger = logrus.New()
	}
	cfg = cfg.withDefaults()

	l := &Ledger{
		gw:     gw,
		feed:   feed,
		book:   book,
		logger: logger,
		cfg:    cfg,
	}
	l.bc = stream.NewBroadcaster(cfg.ThrottleInterval, l.applyAccepted)
	l.queue = stream.NewQueue[Event](cfg.QueueCapacity)
	l.hub = stream.NewHub[Event](logger)
	return l
}

// Start launches the tick loop, the queue drain loop, and the quote cache
// sweeper. All background work stops when ctx is cancelled.
func (l *Ledger) Start(ctx context.Context) {
	if l.started {
		return
	}
	l.started = true

	ctx, l.cancel = context.WithCancel(ctx)

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.drainLoop(ctx)
	}()

	if l.feed != nil {
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			l.tickLoop(ctx)
		}()
	}

	if l.gw != nil {
		l.gw.StartSweeper(ctx)
	}
}

// Stop cancels background work and closes the push pipeline. Safe to call
// once after Start.
func (l *Ledger) Stop() {
	if l.cancel != nil {
		l.cancel()
	}
	if l.feed != nil {
		if err := l.feed.Close(); err != nil {
			l.logger.WithError(err).Warn("closing quote feed")
		}
	}
	l.bc.Close()
	l.queue.Close()
	l.wg.Wait()
	l.hub.Close()
}

// Positions performs a resilience-wrapped full refresh: the book is rebuilt
// wholesale and the feed subscription set extended to every open leg.
func (l *Ledger) Positions(ctx context.Context) ([]models.Position, error) {
	if l.gw == nil {
		return nil, broker.ErrNotConfigured
	}

	positions, err := l.gw.Positions(ctx)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.book.Replace(positions)
	l.mu.Unlock()

	if err := l.SubscribePrices(l.book.OpenSymbols()...); err != nil {
		l.logger.WithError(err).Warn("subscribing open legs to quote feed")
	}

	return l.book.All(), nil
}

// Position returns one position by id.
func (l *Ledger) Position(id string) (models.Position, error) {
	if p, ok := l.book.ByID(id); ok {
		return p, nil
	}
	return models.Position{}, ErrPositionNotFound
}

// SubscribePrices adds symbols to the live feed's subscription set.
// Idempotent; a service without a feed treats it as a no-op.
func (l *Ledger) SubscribePrices(symbols ...string) error {
	if l.feed == nil || len(symbols) == 0 {
		return nil
	}
	return l.feed.Subscribe(symbols...)
}

// CircuitStatus reports the gateway breaker state, or an explicit
// not-configured status when there is no upstream.
func (l *Ledger) CircuitStatus() gateway.Status {
	if l.gw == nil {
		return gateway.Status{State: statusNotConfigured}
	}
	return l.gw.CircuitStatus()
}

// Updates subscribes to the push channel. The returned channel closes when
// ctx is cancelled; a cancelled subscriber never affects the others.
func (l *Ledger) Updates(ctx context.Context) <-chan Event {
	return l.hub.Subscribe(ctx, l.cfg.SubscriberBuffer)
}

// QueueDropped exposes the backpressure queue's monotonic drop counter.
func (l *Ledger) QueueDropped() uint64 {
	return l.queue.Dropped()
}

func (l *Ledger) tickLoop(ctx context.Context) {
	ticks := l.feed.Ticks()
	for {
		select {
		case <-ctx.Done():
			return
		case tick, ok := <-ticks:
			if !ok {
				return
			}
			quote := models.PriceQuote{
				Symbol: tick.Symbol,
				Bid:    tick.Bid,
				Ask:    tick.Ask,
				Last:   tick.Last,
			}
			l.bc.Offer(stream.Update{
				Symbol: tick.Symbol,
				Bid:    tick.Bid,
				Ask:    tick.Ask,
				Mid:    util.RoundToTick(quote.Mid(), 0.01),
				Last:   tick.Last,
				At:     tick.At,
			})
		}
	}
}

// applyAccepted runs for every tick the broadcaster forwards: store the
// quote, patch every matching open leg atomically, recompute P&L, then hand
// the update and any changed position snapshots to the queue. Pure over
// already-owned data; it never calls the upstream.
func (l *Ledger) applyAccepted(u stream.Update) {
	l.mu.Lock()
	if l.gw != nil {
		l.gw.StoreQuote(models.PriceQuote{
			Symbol:     u.Symbol,
			Bid:        u.Bid,
			Ask:        u.Ask,
			Last:       u.Last,
			ObservedAt: u.At,
		})
	}
	touched := l.book.ApplyQuote(u.Symbol, u.Mid)
	l.mu.Unlock()

	update := u
	l.queue.Push(Event{Price: &update})
	for i := range touched {
		l.queue.Push(Event{Position: &touched[i]})
	}
}

func (l *Ledger) drainLoop(ctx context.Context) {
	for {
		event, ok := l.queue.Pop(ctx)
		if !ok {
			return
		}
		l.hub.Publish(event)
	}
}
