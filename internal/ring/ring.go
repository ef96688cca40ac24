// Package ring provides a fixed-capacity circular buffer. Once full, each push
// overwrites the oldest element, so insertion is O(1) with oldest-first eviction.
package ring

import "github.com/creatorpad/settlement-engine/internal/journal"

// Buffer is a circular buffer of at most Cap() elements.
type Buffer[T any] struct {
	items []T
	next  int // slot the next Push writes to
	size  int
}

// New creates a buffer holding at most capacity elements. Capacity below 1 is
// treated as 1.
func New[T any](capacity int) *Buffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer[T]{items: make([]T, capacity)}
}

// Push appends v, evicting the oldest element when the buffer is full. The
// previous slot contents are recorded in j so a revert restores them.
func (b *Buffer[T]) Push(j *journal.Journal, v T) {
	slot, prevNext, prevSize := b.next, b.next, b.size
	prev := b.items[slot]
	j.Append(func() {
		b.items[slot] = prev
		b.next = prevNext
		b.size = prevSize
	})

	b.items[slot] = v
	b.next = (b.next + 1) % len(b.items)
	if b.size < len(b.items) {
		b.size++
	}
}

// Len returns the number of stored elements.
func (b *Buffer[T]) Len() int { return b.size }

// Cap returns the buffer capacity.
func (b *Buffer[T]) Cap() int { return len(b.items) }

// At returns the i-th element counting from the oldest (0) to the newest
// (Len()-1). It panics if i is out of range, like a slice index.
func (b *Buffer[T]) At(i int) T {
	if i < 0 || i >= b.size {
		panic("ring: index out of range")
	}
	start := (b.next - b.size + len(b.items)) % len(b.items)
	return b.items[(start+i)%len(b.items)]
}

// Newest returns up to n elements, newest first. n <= 0 returns everything.
func (b *Buffer[T]) Newest(n int) []T {
	if n <= 0 || n > b.size {
		n = b.size
	}
	out := make([]T, 0, n)
	for i := b.size - 1; i >= b.size-n; i-- {
		out = append(out, b.At(i))
	}
	return out
}

// Walk visits elements from newest to oldest until fn returns false.
func (b *Buffer[T]) Walk(fn func(T) bool) {
	for i := b.size - 1; i >= 0; i-- {
		if !fn(b.At(i)) {
			return
		}
	}
}
