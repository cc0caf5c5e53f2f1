package stream

import (
	"context"
	"sync"
)

// Queue is a bounded, insertion-ordered buffer between the broadcaster and a
// slow fan-out transport. When full, the oldest buffered item is evicted and
// the drop counter incremented: completeness is traded for bounded memory
// and latency under sustained overload.
type Queue[T any] struct {
	mu       sync.Mutex
	items    []T
	capacity int
	dropped  uint64
	signal   chan struct{}
	closed   bool
}

// NewQueue creates a queue holding at most capacity items.
func NewQueue[T any](capacity int) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue[T]{
		capacity: capacity,
		signal:   make(chan struct{}, 1),
	}
}

// Push appends an item, evicting the oldest when the queue is full.
func (q *Queue[T]) Push(item T) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	if len(q.items) == q.capacity {
		copy(q.items, q.items[1:])
		q.items[len(q.items)-1] = item
		q.dropped++
	} else {
		q.items = append(q.items, item)
	}
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Pop removes the oldest item, blocking until one is available or ctx is
// cancelled. The second return is false on cancellation or close.
func (q *Queue[T]) Pop(ctx context.Context) (T, bool) {
	var zero T
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items[0] = zero // release the reference
			q.items = q.items[1:]
			q.mu.Unlock()
			return item, true
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return zero, false
		}

		select {
		case <-ctx.Done():
			return zero, false
		case <-q.signal:
		}
	}
}

// Len returns the number of buffered items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dropped returns the monotonically increasing count of evicted items.
func (q *Queue[T]) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Close wakes any blocked Pop. Buffered items are still drained.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}
