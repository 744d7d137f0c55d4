package queue

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// FIFO is a first-in first-out work queue. Items are popped in discovery
// order, which keeps the crawl breadth first.
type FIFO[T any] struct {
	items  []T
	head   int // Index of the next item to pop
	mu     sync.Mutex
	closed bool
	log    *logrus.Entry
}

// NewFIFO creates an empty queue
func NewFIFO[T any](logger *logrus.Entry) *FIFO[T] {
	return &FIFO[T]{log: logger}
}

// Push appends an item. Items pushed after Close are dropped.
func (q *FIFO[T]) Push(item T) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		q.log.Warnf("Attempted to add item to closed queue: %v", item)
		return
	}
	q.items = append(q.items, item)
}

// Pop removes and returns the oldest item, or false if the queue is empty.
// It never blocks.
func (q *FIFO[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if q.head == len(q.items) {
		return zero, false
	}
	item := q.items[q.head]
	q.items[q.head] = zero
	q.head++

	// Reclaim the consumed prefix once it dominates the backing array
	if q.head > 1024 && q.head*2 >= len(q.items) {
		q.items = append([]T(nil), q.items[q.head:]...)
		q.head = 0
	}
	return item, true
}

// Close signals that no more items will be added
func (q *FIFO[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
}

// Len returns the number of queued items
func (q *FIFO[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}
