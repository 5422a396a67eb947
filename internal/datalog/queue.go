package datalog

import "sync"

// Queue is an unbounded FIFO shared between many producers and the single
// drain goroutine. Push never blocks on I/O or capacity, so logging can never
// throttle acquisition; memory growth between drain passes is bounded by the
// drain interval, not by the queue.
type Queue[T any] struct {
	mu    sync.Mutex
	items []T
}

// Push appends one item. Safe for concurrent producers.
func (q *Queue[T]) Push(item T) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()
}

// DrainAll removes and returns every currently queued item in arrival order.
// Returns nil when the queue is empty. The backing slice is handed over
// wholesale so the producers start a fresh one; the consumer owns the result.
func (q *Queue[T]) DrainAll() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil
	}

	items := q.items
	q.items = nil
	return items
}

// Len returns the current number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
