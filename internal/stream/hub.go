package stream

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// Hub fans items out to live subscribers over per-subscriber buffered
// channels. A slow subscriber only loses its own items; a cancelled one is
// removed and its channel closed without affecting the others.
type Hub[T any] struct {
	logger *logrus.Logger

	mu     sync.Mutex
	subs   map[*subscriber[T]]struct{}
	closed bool
}

type subscriber[T any] struct {
	ch      chan T
	dropped uint64
}

// NewHub creates an empty hub.
func NewHub[T any](logger *logrus.Logger) *Hub[T] {
	if logger == nil {
		logger = logrus.New()
	}
	return &Hub[T]{
		logger: logger,
		subs:   make(map[*subscriber[T]]struct{}),
	}
}

// Subscribe registers a subscriber with the given channel buffer. The
// returned channel is closed when ctx is cancelled or the hub shuts down.
func (h *Hub[T]) Subscribe(ctx context.Context, buffer int) <-chan T {
	if buffer < 1 {
		buffer = 1
	}
	sub := &subscriber[T]{ch: make(chan T, buffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(sub.ch)
		return sub.ch
	}
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.unsubscribe(sub)
	}()

	return sub.ch
}

func (h *Hub[T]) unsubscribe(sub *subscriber[T]) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub]; !ok {
		return
	}
	delete(h.subs, sub)
	close(sub.ch)
}

// Publish delivers an item to every subscriber without blocking. A
// subscriber with a full buffer misses the item.
func (h *Hub[T]) Publish(item T) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		select {
		case sub.ch <- item:
		default:
			sub.dropped++
			if sub.dropped == 1 || sub.dropped%100 == 0 {
				h.logger.WithField("dropped", sub.dropped).Debug("slow subscriber missing updates")
			}
		}
	}
}

// Subscribers returns the current subscriber count.
func (h *Hub[T]) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close removes and closes every subscriber channel.
func (h *Hub[T]) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for sub := range h.subs {
		delete(h.subs, sub)
		close(sub.ch)
	}
}
