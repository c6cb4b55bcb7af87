package console

import "sync"

// RingBuffer keeps the last N items in insertion order.
type RingBuffer[T any] struct {
	items   []T
	size    int
	current int
	full    bool
	mu      sync.RWMutex
}

// NewRingBuffer creates a buffer holding at most size items (minimum 1).
func NewRingBuffer[T any](size int) *RingBuffer[T] {
	if size < 1 {
		size = 1
	}
	return &RingBuffer[T]{
		items: make([]T, size),
		size:  size,
	}
}

// Add appends an item, overwriting the oldest once full.
func (rb *RingBuffer[T]) Add(item T) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.items[rb.current] = item
	rb.current = (rb.current + 1) % rb.size
	if rb.current == 0 {
		rb.full = true
	}
}

// Items returns a copy, oldest first.
func (rb *RingBuffer[T]) Items() []T {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if !rb.full {
		out := make([]T, rb.current)
		copy(out, rb.items[:rb.current])
		return out
	}

	out := make([]T, rb.size)
	for i := 0; i < rb.size; i++ {
		out[i] = rb.items[(rb.current+i)%rb.size]
	}
	return out
}

// Last returns the newest n items, oldest first.
func (rb *RingBuffer[T]) Last(n int) []T {
	items := rb.Items()
	if n < 0 || len(items) <= n {
		return items
	}
	return items[len(items)-n:]
}

// Len reports how many items are stored.
func (rb *RingBuffer[T]) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	if rb.full {
		return rb.size
	}
	return rb.current
}
