// Package domain implements the concurrent evaluation harness: the worker
// pool, the result collector and the retry-driving workflow.
package domain

import "sync/atomic"

// AtomicCounter is a monotonic counter shared between goroutines. It only
// exposes Get, Increment and Add so callers cannot move it backwards.
type AtomicCounter struct {
	n atomic.Int64
}

// Get returns the current value.
func (c *AtomicCounter) Get() int64 {
	return c.n.Load()
}

// Increment advances the counter by one.
func (c *AtomicCounter) Increment() {
	c.n.Add(1)
}

// Add advances the counter by delta. Negative deltas are ignored.
func (c *AtomicCounter) Add(delta int64) {
	if delta < 0 {
		return
	}

	c.n.Add(delta)
}
