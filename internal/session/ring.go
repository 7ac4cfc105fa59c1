package session

// Ring is a bounded FIFO. Pushing past capacity overwrites the oldest entry in
// O(1). Storage grows with use up to capacity, so idle sessions stay small.
// Ring is not safe for concurrent use; the Store guards it.
type Ring[T any] struct {
	data []T
	cap  int
	head int // index of the oldest entry once full
}

// NewRing creates a ring holding at most capacity entries
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{cap: capacity}
}

// Push appends v and reports whether an older entry was evicted
func (r *Ring[T]) Push(v T) bool {
	if len(r.data) < r.cap {
		r.data = append(r.data, v)
		return false
	}
	r.data[r.head] = v
	r.head = (r.head + 1) % r.cap
	return true
}

// Len returns the number of stored entries
func (r *Ring[T]) Len() int {
	return len(r.data)
}

// Cap returns the maximum number of entries
func (r *Ring[T]) Cap() int {
	return r.cap
}

// Items returns a copy of the entries, oldest first
func (r *Ring[T]) Items() []T {
	return r.Tail(len(r.data))
}

// Tail returns a copy of the newest n entries, oldest first
func (r *Ring[T]) Tail(n int) []T {
	size := len(r.data)
	if n > size {
		n = size
	}
	if n <= 0 {
		return []T{}
	}

	out := make([]T, n)
	start := (r.head + size - n) % size
	for i := 0; i < n; i++ {
		out[i] = r.data[(start+i)%size]
	}
	return out
}

// Last returns the newest entry
func (r *Ring[T]) Last() (T, bool) {
	var zero T
	if len(r.data) == 0 {
		return zero, false
	}
	return r.data[(r.head+len(r.data)-1)%len(r.data)], true
}

// Clear drops every entry and releases storage
func (r *Ring[T]) Clear() {
	r.data = nil
	r.head = 0
}
