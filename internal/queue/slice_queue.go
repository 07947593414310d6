// Package queue provides the FIFO primitives used to serialize access to the
// PLC link and to script simulator faults.
package queue

// SliceQueue is a FIFO queue backed by a slice. It is not safe for concurrent use.
type SliceQueue[T any] struct {
	items []T
}

// NewSliceQueue creates a new SliceQueue with room for prealloc items.
func NewSliceQueue[T any](prealloc int) *SliceQueue[T] {
	return &SliceQueue[T]{items: make([]T, 0, prealloc)}
}

// Enqueue adds an item to the tail of the queue.
func (q *SliceQueue[T]) Enqueue(item T) {
	q.items = append(q.items, item)
}

// Dequeue removes and returns the item at the head of the queue.
// ok is false when the queue is empty.
func (q *SliceQueue[T]) Dequeue() (item T, ok bool) {
	if len(q.items) == 0 {
		return item, false
	}
	item = q.items[0]
	var zero T
	q.items[0] = zero
	q.items = q.items[1:]

	return item, true
}

// Peek returns the item at the head of the queue without removing it.
func (q *SliceQueue[T]) Peek() (item T, ok bool) {
	if len(q.items) == 0 {
		return item, false
	}
	return q.items[0], true
}

// Remove deletes the first item for which match returns true and reports whether one was found.
func (q *SliceQueue[T]) Remove(match func(T) bool) bool {
	for i, it := range q.items {
		if match(it) {
			last := len(q.items) - 1
			copy(q.items[i:], q.items[i+1:])
			var zero T
			q.items[last] = zero
			q.items = q.items[:last]

			return true
		}
	}
	return false
}

// Reset resets the queue to an empty state.
func (q *SliceQueue[T]) Reset() {
	clear(q.items)
	q.items = q.items[:0]
}

// IsEmpty returns true if the queue is empty, false otherwise.
func (q *SliceQueue[T]) IsEmpty() bool {
	return len(q.items) == 0
}

// Length returns the number of items in the queue.
func (q *SliceQueue[T]) Length() int {
	return len(q.items)
}
