// Package stream turns a torrent of per-instrument price ticks into a
// bounded stream of consumable updates: dedupe, per-key throttling with
// latest-value coalescing, a backpressure queue, and subscriber fan-out.
package stream

import (
	"sync"
	"time"
)

// Update is one quote tick keyed by option symbol.
type Update struct {
	Symbol string    `json:"symbol"`
	Bid    float64   `json:"bid"`
	Ask    float64   `json:"ask"`
	Mid    float64   `json:"mid"`
	Last   float64   `json:"last,omitempty"`
	At     time.Time `json:"timestamp"`
}

// sameValue reports whether two updates carry identical prices. Timestamps
// are ignored: a repeated tick at unchanged prices carries no information.
func sameValue(a, b Update) bool {
	return a.Bid == b.Bid && a.Ask == b.Ask && a.Last == b.Last
}

type keyState struct {
	lastSeen   Update
	lastSent   time.Time
	seen       bool
	sent       bool
	pending    *Update
	flushTimer *time.Timer
}

// Broadcaster throttles updates per key with latest-value coalescing.
// The first update for a key, or one arriving after the throttle window has
// fully elapsed, is forwarded immediately. Within the window the pending
// value is overwritten (intermediate ticks are superseded, never queued) and
// at most one flush is scheduled for when the remainder of the window
// elapses. Keys are fully independent.
type Broadcaster struct {
	interval time.Duration
	forward  func(Update)

	mu     sync.Mutex
	keys   map[string]*keyState
	closed bool
}

// NewBroadcaster creates a broadcaster delivering accepted updates to
// forward. forward is called outside the broadcaster's lock, from either the
// offering goroutine or a flush timer.
func NewBroadcaster(interval time.Duration, forward func(Update)) *Broadcaster {
	return &Broadcaster{
		interval: interval,
		forward:  forward,
		keys:     make(map[string]*keyState),
	}
}

// Offer submits a tick. Identical consecutive values for a key are dropped
// before throttling even begins.
func (b *Broadcaster) Offer(u Update) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}

	ks, ok := b.keys[u.Symbol]
	if !ok {
		ks = &keyState{}
		b.keys[u.Symbol] = ks
	}

	if ks.seen && sameValue(ks.lastSeen, u) {
		b.mu.Unlock()
		return
	}
	ks.lastSeen = u
	ks.seen = true

	now := time.Now()
	if !ks.sent || now.Sub(ks.lastSent) >= b.interval {
		ks.sent = true
		ks.lastSent = now
		ks.pending = nil
		if ks.flushTimer != nil {
			ks.flushTimer.Stop()
			ks.flushTimer = nil
		}
		b.mu.Unlock()
		b.forward(u)
		return
	}

	// Latest-value-wins: supersede whatever was pending.
	pending := u
	ks.pending = &pending
	if ks.flushTimer == nil {
		delay := b.interval - now.Sub(ks.lastSent)
		symbol := u.Symbol
		ks.flushTimer = time.AfterFunc(delay, func() { b.flush(symbol) })
	}
	b.mu.Unlock()
}

// flush sends whatever value is pending when the timer fires, which may
// differ from the value that scheduled it.
func (b *Broadcaster) flush(symbol string) {
	b.mu.Lock()
	ks, ok := b.keys[symbol]
	if !ok || b.closed {
		b.mu.Unlock()
		return
	}
	ks.flushTimer = nil
	if ks.pending == nil {
		b.mu.Unlock()
		return
	}
	u := *ks.pending
	ks.pending = nil
	ks.lastSent = time.Now()
	ks.sent = true
	b.mu.Unlock()

	b.forward(u)
}

// Close cancels all pending flush timers. Subsequent offers are dropped.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, ks := range b.keys {
		if ks.flushTimer != nil {
			ks.flushTimer.Stop()
			ks.flushTimer = nil
		}
	}
}
