// Package pkg provides shared utilities for prompteval.
package pkg

import (
	"sync"
	"time"
)

// pollInterval bounds how long an empty Pop sleeps before re-checking the
// queue. A wakeup signal usually arrives much sooner; the interval is a
// backstop so no consumer can miss a wakeup when several of them race for
// the same signal.
const pollInterval = 50 * time.Millisecond

// PollQueue is an unbounded FIFO queue of items of type T shared between
// producers and consumers. Pop waits in bounded slices so consumers can
// notice a shutdown signal promptly without busy-spinning.
type PollQueue[T any] struct {
	mu     sync.Mutex
	items  []T
	signal chan struct{}
}

// NewPollQueue constructs an empty PollQueue.
func NewPollQueue[T any]() *PollQueue[T] {
	return &PollQueue[T]{
		signal: make(chan struct{}, 1),
	}
}

// Push appends an item to the queue. It never blocks.
func (q *PollQueue[T]) Push(item T) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()

	q.notify()
}

// PushBatch appends a batch of items in order. It never blocks.
func (q *PollQueue[T]) PushBatch(items []T) {
	if len(items) == 0 {
		return
	}

	q.mu.Lock()
	q.items = append(q.items, items...)
	q.mu.Unlock()

	q.notify()
}

// Pop removes and returns the oldest item. When the queue is empty it
// waits until an item arrives or the done channel is closed, whichever
// happens first, and reports ok=false if it returns empty-handed.
func (q *PollQueue[T]) Pop(done <-chan struct{}) (T, bool) {
	timer := time.NewTimer(pollInterval)
	defer timer.Stop()

	for {
		if item, ok := q.TryPop(); ok {
			return item, true
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}

		timer.Reset(pollInterval)

		select {
		case <-q.signal:
		case <-timer.C:
		case <-done:
			var zero T
			return zero, false
		}
	}
}

// TryPop removes and returns the oldest item without waiting.
func (q *PollQueue[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		var zero T
		return zero, false
	}

	item := q.items[0]
	q.items = q.items[1:]

	return item, true
}

// Drain removes and returns all queued items in FIFO order.
func (q *PollQueue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := q.items
	q.items = nil

	return items
}

// Len reports the number of queued items.
func (q *PollQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.items)
}

func (q *PollQueue[T]) notify() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}
