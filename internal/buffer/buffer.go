// Package buffer provides a bounded generic ring used for event replay
// and recent-execution history: once full, each push evicts the oldest
// entry.
package buffer

import (
	"sync"
)

// Ring is a thread-safe bounded FIFO that drops its oldest entry on
// overflow.
type Ring[T any] struct {
	mu       sync.Mutex
	data     []T
	capacity int
}

// NewRing creates a ring holding at most capacity entries.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring[T]{
		data:     make([]T, 0, capacity),
		capacity: capacity,
	}
}

// Push appends an entry, evicting the oldest when the ring is full.
func (r *Ring[T]) Push(item T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.data) >= r.capacity {
		r.data = r.data[1:]
	}
	r.data = append(r.data, item)
}

// Items returns a copy of the buffered entries, oldest first.
func (r *Ring[T]) Items() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]T, len(r.data))
	copy(out, r.data)
	return out
}

// Last returns up to n of the newest entries, oldest first.
func (r *Ring[T]) Last(n int) []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n <= 0 || len(r.data) == 0 {
		return nil
	}
	if n > len(r.data) {
		n = len(r.data)
	}
	out := make([]T, n)
	copy(out, r.data[len(r.data)-n:])
	return out
}

// Len returns the number of buffered entries.
func (r *Ring[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.data)
}

// Clear empties the ring.
func (r *Ring[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data = r.data[:0]
}
