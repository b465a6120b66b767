package dispatch

import "sync"

// Queue is an unbounded FIFO handoff between a producer and a consumer.
// Pop blocks until an item arrives or the queue is closed, so consumer
// loops never busy-poll.
type Queue[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []T
	closed bool
}

// NewQueue creates an open, empty queue.
func NewQueue[T any]() *Queue[T] {
	q := &Queue[T]{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends an item. Pushing to a closed queue is a silent no-op so
// producers racing a shutdown need no coordination.
func (q *Queue[T]) Push(item T) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.items = append(q.items, item)
	q.cond.Signal()
}

// Pop removes and returns the oldest item, blocking while the queue is
// empty. Returns ok=false once the queue is closed and drained.
func (q *Queue[T]) Pop() (item T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		var zero T
		return zero, false
	}
	item = q.items[0]
	q.items = q.items[1:]
	return item, true
}

// Close wakes all blocked consumers. Items already queued are still
// delivered before Pop starts returning ok=false.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

// Len returns the current queue depth.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
