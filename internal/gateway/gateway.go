// Package gateway shields the core from upstream API instability. Every
// upstream call runs through a circuit breaker and a per-call timeout, with
// the last good snapshot served as a fallback and a TTL cache for quotes.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/singleflight"

	"github.com/eddiefleurent/schrute_ledger/internal/broker"
	"github.com/eddiefleurent/schrute_ledger/internal/models"
	"github.com/eddiefleurent/schrute_ledger/internal/strategy"
)

// ErrCircuitOpen is returned when the breaker rejects a call without
// attempting the upstream. It is handled locally by serving cached data and
// only surfaces to callers when no cache exists.
var ErrCircuitOpen = errors.New("upstream circuit is open")

// Config tunes the breaker and caches.
type Config struct {
	FailureThreshold uint32        // consecutive failures before opening
	RecoveryTimeout  time.Duration // open duration before the half-open probe
	RequestTimeout   time.Duration // per upstream call; expiry counts as a failure
	QuoteTTL         time.Duration // quote cache time-to-live
	SweepInterval    time.Duration // periodic expired-quote eviction
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 5
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = 60 * time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 10 * time.Second
	}
	if c.QuoteTTL <= 0 {
		c.QuoteTTL = 5 * time.Second
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Minute
	}
	return c
}

// Status is the externally visible breaker state.
type Status struct {
	State        string    `json:"state"` // CLOSED | OPEN | HALF_OPEN
	FailureCount uint32    `json:"failure_count"`
	RecoveryETA  time.Time `json:"recovery_eta,omitempty"`
}

type cachedQuote struct {
	quote    models.PriceQuote
	cachedAt time.Time
}

// Gateway wraps a Broker with resilience. Safe for concurrent use; the
// single-flight group guarantees at most one in-flight refresh, so the
// breaker's half-open probe is never fired concurrently and concurrent
// callers share the probe's result.
type Gateway struct {
	broker  broker.Broker
	breaker *gobreaker.CircuitBreaker
	cfg     Config
	logger  *logrus.Logger
	flight  singleflight.Group

	mu        sync.RWMutex
	lastFills []broker.Fill // last successful snapshot, nil until first success
	quotes    map[string]cachedQuote
	openedAt  time.Time
}

// New creates a Gateway around the given broker.
func New(b broker.Broker, cfg Config, logger *logrus.Logger) *Gateway {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = logrus.New()
	}

	g := &Gateway{
		broker: b,
		cfg:    cfg,
		logger: logger,
		quotes: make(map[string]cachedQuote),
	}

	g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "upstream",
		MaxRequests: 1, // single half-open probe
		Timeout:     cfg.RecoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    stateLabel(from),
				"to":      stateLabel(to),
			}).Warn("circuit breaker state changed")
			if to == gobreaker.StateOpen {
				g.mu.Lock()
				g.openedAt = time.Now()
				g.mu.Unlock()
			}
		},
	})

	return g
}

func stateLabel(s gobreaker.State) string {
	switch s {
	case gobreaker.StateClosed:
		return "CLOSED"
	case gobreaker.StateOpen:
		return "OPEN"
	case gobreaker.StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// CircuitStatus reports breaker state, consecutive failure count, and the
// earliest time a half-open probe will be allowed when OPEN.
func (g *Gateway) CircuitStatus() Status {
	status := Status{
		State:        stateLabel(g.breaker.State()),
		FailureCount: g.breaker.Counts().ConsecutiveFailures,
	}
	if status.State == "OPEN" {
		g.mu.RLock()
		status.RecoveryETA = g.openedAt.Add(g.cfg.RecoveryTimeout)
		g.mu.RUnlock()
	}
	return status
}

// Positions fetches the current fills and assembles them into positions.
// Concurrent callers collapse onto one upstream call. On upstream failure
// the last good snapshot is re-assembled and served; the error only
// propagates when no snapshot exists.
func (g *Gateway) Positions(ctx context.Context) ([]*models.Position, error) {
	v, err, _ := g.flight.Do("positions", func() (interface{}, error) {
		return g.refresh(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.([]*models.Position), nil
}

func (g *Gateway) refresh(ctx context.Context) ([]*models.Position, error) {
	fills, err := g.fetchFills(ctx)
	if err != nil {
		g.mu.RLock()
		cached := g.lastFills
		g.mu.RUnlock()
		if cached == nil {
			return nil, err
		}
		g.logger.WithError(err).Warn("upstream unavailable, serving cached position snapshot")
		return strategy.Assemble(cached, g.mark)
	}

	positions, err := strategy.Assemble(fills, g.mark)
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	g.lastFills = fills
	g.mu.Unlock()
	return positions, nil
}

// fetchFills runs the upstream call through the breaker with a timeout that
// counts as a breaker failure on expiry.
func (g *Gateway) fetchFills(ctx context.Context) ([]broker.Fill, error) {
	res, err := g.breaker.Execute(func() (interface{}, error) {
		callCtx, cancel := context.WithTimeout(ctx, g.cfg.RequestTimeout)
		defer cancel()
		return g.broker.Fills(callCtx)
	})
	if err != nil {
		return nil, g.classify(err, "fetching fills")
	}
	return res.([]broker.Fill), nil
}

func (g *Gateway) classify(err error, op string) error {
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return ErrCircuitOpen
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: upstream timeout after %v: %w", op, g.cfg.RequestTimeout, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

// mark resolves a leg's current mid from the quote cache only; assembly
// never triggers upstream quote calls.
func (g *Gateway) mark(symbol string) (float64, bool) {
	quote, ok := g.CachedQuote(symbol)
	if !ok {
		return 0, false
	}
	return quote.Mid(), true
}

// Quote returns a cached quote while fresh, otherwise fetches through the
// breaker and stores the result.
func (g *Gateway) Quote(ctx context.Context, symbol string) (*models.PriceQuote, error) {
	if quote, ok := g.CachedQuote(symbol); ok {
		return &quote, nil
	}

	res, err := g.breaker.Execute(func() (interface{}, error) {
		callCtx, cancel := context.WithTimeout(ctx, g.cfg.RequestTimeout)
		defer cancel()
		return g.broker.Quote(callCtx, symbol)
	})
	if err != nil {
		return nil, g.classify(err, "fetching quote")
	}

	quote := res.(*models.PriceQuote)
	g.StoreQuote(*quote)
	return quote, nil
}

// CachedQuote returns the cached quote for symbol if it is still within its
// TTL. Expired entries are treated as misses and lazily evicted.
func (g *Gateway) CachedQuote(symbol string) (models.PriceQuote, bool) {
	g.mu.RLock()
	entry, ok := g.quotes[symbol]
	g.mu.RUnlock()
	if !ok {
		return models.PriceQuote{}, false
	}
	if time.Since(entry.cachedAt) >= g.cfg.QuoteTTL {
		g.mu.Lock()
		// Re-check under the write lock; a fresher entry may have landed.
		if current, still := g.quotes[symbol]; still && time.Since(current.cachedAt) >= g.cfg.QuoteTTL {
			delete(g.quotes, symbol)
		}
		g.mu.Unlock()
		return models.PriceQuote{}, false
	}
	return entry.quote, true
}

// StoreQuote caches a quote, restarting its TTL.
func (g *Gateway) StoreQuote(quote models.PriceQuote) {
	g.mu.Lock()
	g.quotes[quote.Symbol] = cachedQuote{quote: quote, cachedAt: time.Now()}
	g.mu.Unlock()
}

// StartSweeper evicts expired quotes periodically until ctx is cancelled.
func (g *Gateway) StartSweeper(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(g.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				g.sweep()
			}
		}
	}()
}

func (g *Gateway) sweep() {
	now := time.Now()
	g.mu.Lock()
	for symbol, entry := range g.quotes {
		if now.Sub(entry.cachedAt) >= g.cfg.QuoteTTL {
			delete(g.quotes, symbol)
		}
	}
	g.mu.Unlock()
}
