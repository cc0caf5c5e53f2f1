package gateway

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/schrute_ledger/internal/broker"
	"github.com/eddiefleurent/schrute_ledger/internal/models"
)

var errUpstream = errors.New("upstream down")

// fakeBroker fails while failing is set and otherwise serves canned fills.
type fakeBroker struct {
	mu      sync.Mutex
	failing bool
	fills   []broker.Fill
	calls   int
}

func (f *fakeBroker) setFailing(v bool) {
	f.mu.Lock()
	f.failing = v
	f.mu.Unlock()
}

func (f *fakeBroker) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeBroker) Fills(_ context.Context) ([]broker.Fill, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failing {
		return nil, errUpstream
	}
	out := make([]broker.Fill, len(f.fills))
	copy(out, f.fills)
	return out, nil
}

func (f *fakeBroker) Quote(_ context.Context, symbol string) (*models.PriceQuote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failing {
		return nil, errUpstream
	}
	return &models.PriceQuote{Symbol: symbol, Bid: 1.00, Ask: 1.10, Last: 1.05, ObservedAt: time.Now()}, nil
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func testFills() []broker.Fill {
	expiry := time.Date(2026, 6, 19, 0, 0, 0, 0, time.UTC)
	sym := models.NewOptionSymbol("SPY", expiry, models.OptionTypeCall, 450).String()
	return []broker.Fill{{
		Symbol:     sym,
		Quantity:   -1,
		AvgPrice:   1.50,
		Side:       "sell",
		AssetClass: "option",
		FilledAt:   time.Date(2026, 5, 1, 14, 30, 0, 0, time.UTC),
	}}
}

func TestGateway_PositionsHappyPath(t *testing.T) {
	fb := &fakeBroker{fills: testFills()}
	g := New(fb, Config{}, quietLogger())

	positions, err := g.Positions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, "SPY", positions[0].Symbol)
	assert.Equal(t, "CLOSED", g.CircuitStatus().State)
}

func TestGateway_OpensAfterConsecutiveFailures(t *testing.T) {
	fb := &fakeBroker{failing: true}
	g := New(fb, Config{FailureThreshold: 3, RecoveryTimeout: time.Hour}, quietLogger())

	for i := 0; i < 3; i++ {
		_, err := g.Positions(context.Background())
		require.Error(t, err)
	}

	status := g.CircuitStatus()
	assert.Equal(t, "OPEN", status.State)
	assert.False(t, status.RecoveryETA.IsZero(), "open state must expose a recovery ETA")

	// While open the upstream is never touched.
	calls := fb.callCount()
	_, err := g.Positions(context.Background())
	require.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, calls, fb.callCount())
}

func TestGateway_FailureCountResetsOnSuccess(t *testing.T) {
	fb := &fakeBroker{failing: true, fills: testFills()}
	g := New(fb, Config{FailureThreshold: 5}, quietLogger())

	for i := 0; i < 3; i++ {
		_, _ = g.Positions(context.Background())
	}
	assert.Equal(t, uint32(3), g.CircuitStatus().FailureCount)

	fb.setFailing(false)
	_, err := g.Positions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint32(0), g.CircuitStatus().FailureCount)
	assert.Equal(t, "CLOSED", g.CircuitStatus().State)
}

func TestGateway_HalfOpenProbeRecovers(t *testing.T) {
	fb := &fakeBroker{failing: true, fills: testFills()}
	g := New(fb, Config{FailureThreshold: 2, RecoveryTimeout: 50 * time.Millisecond}, quietLogger())

	for i := 0; i < 2; i++ {
		_, _ = g.Positions(context.Background())
	}
	require.Equal(t, "OPEN", g.CircuitStatus().State)

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, "HALF_OPEN", g.CircuitStatus().State)

	fb.setFailing(false)
	_, err := g.Positions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "CLOSED", g.CircuitStatus().State)
}

func TestGateway_HalfOpenProbeFailureReopens(t *testing.T) {
	fb := &fakeBroker{failing: true}
	g := New(fb, Config{FailureThreshold: 2, RecoveryTimeout: 50 * time.Millisecond}, quietLogger())

	for i := 0; i < 2; i++ {
		_, _ = g.Positions(context.Background())
	}
	time.Sleep(60 * time.Millisecond)

	_, err := g.Positions(context.Background())
	require.Error(t, err)
	assert.Equal(t, "OPEN", g.CircuitStatus().State)
}

func TestGateway_ServesCachedSnapshotWhileOpen(t *testing.T) {
	fb := &fakeBroker{fills: testFills()}
	g := New(fb, Config{FailureThreshold: 2, RecoveryTimeout: time.Hour}, quietLogger())

	// Prime the snapshot, then break the upstream and trip the breaker.
	_, err := g.Positions(context.Background())
	require.NoError(t, err)

	fb.setFailing(true)
	for i := 0; i < 2; i++ {
		positions, err := g.Positions(context.Background())
		require.NoError(t, err, "cached snapshot must mask upstream failures")
		require.Len(t, positions, 1)
	}

	require.Equal(t, "OPEN", g.CircuitStatus().State)
	positions, err := g.Positions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "SPY", positions[0].Symbol)
}

func TestGateway_ErrorWithoutSnapshot(t *testing.T) {
	fb := &fakeBroker{failing: true}
	g := New(fb, Config{}, quietLogger())

	_, err := g.Positions(context.Background())
	require.ErrorIs(t, err, errUpstream)
	require.NotErrorIs(t, err, ErrCircuitOpen)
}

func TestGateway_QuoteCacheTTL(t *testing.T) {
	fb := &fakeBroker{}
	g := New(fb, Config{QuoteTTL: 50 * time.Millisecond}, quietLogger())

	_, err := g.Quote(context.Background(), "SPY260619C00450000")
	require.NoError(t, err)
	first := fb.callCount()

	// Within TTL the cache answers.
	_, err = g.Quote(context.Background(), "SPY260619C00450000")
	require.NoError(t, err)
	assert.Equal(t, first, fb.callCount())

	time.Sleep(60 * time.Millisecond)
	_, err = g.Quote(context.Background(), "SPY260619C00450000")
	require.NoError(t, err)
	assert.Equal(t, first+1, fb.callCount())
}

func TestGateway_StoreQuoteFeedsAssemblyMarks(t *testing.T) {
	fb := &fakeBroker{fills: testFills()}
	// Make the leg open by dropping the close; testFills has a single open leg already.
	g := New(fb, Config{QuoteTTL: time.Minute}, quietLogger())

	g.StoreQuote(models.PriceQuote{
		Symbol:     "SPY260619C00450000",
		Bid:        1.00,
		Ask:        1.20,
		ObservedAt: time.Now(),
	})

	positions, err := g.Positions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.InDelta(t, 1.10, positions[0].Legs[0].MarkPrice, 1e-9)
}

func TestGateway_SweepEvictsExpired(t *testing.T) {
	g := New(&fakeBroker{}, Config{QuoteTTL: time.Nanosecond}, quietLogger())
	g.StoreQuote(models.PriceQuote{Symbol: "SPY260619C00450000", Bid: 1, Ask: 1.2})

	time.Sleep(time.Millisecond)
	g.sweep()

	g.mu.RLock()
	defer g.mu.RUnlock()
	assert.Empty(t, g.quotes)
}

func TestGateway_ConcurrentPositionsCollapse(t *testing.T) {
	fb := &fakeBroker{fills: testFills()}
	g := New(fb, Config{}, quietLogger())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := g.Positions(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// Single-flight collapses concurrent refreshes; exact count depends on
	// scheduling but must be well under one call per caller.
	assert.LessOrEqual(t, fb.callCount(), 8)
	assert.GreaterOrEqual(t, fb.callCount(), 1)
}
