package workflow

import (
	"errors"
	"sync"
)

// ErrQueueClosed is returned when pushing onto a closed queue.
var ErrQueueClosed = errors.New("queue closed")

// Queue is an unbounded FIFO shared between producers and one stage's
// workers. Close marks the end of input; Pop keeps handing out buffered items
// and reports drained only once the queue is both closed and empty.
type Queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []*Item
	closed bool
}

// NewQueue returns an empty open queue.
func NewQueue() *Queue {
	q := &Queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends item to the tail.
func (q *Queue) Push(item *Item) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	q.items = append(q.items, item)
	q.cond.Signal()
	return nil
}

// Pop blocks until an item is available or the queue is closed and drained.
// The boolean is false only in the latter case.
func (q *Queue) Pop() (*Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return nil, false
	}
	item := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return item, true
}

// Close stops accepting items and wakes every waiting consumer. Closing twice
// is a no-op.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.cond.Broadcast()
}

// Len reports the number of buffered items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Closed reports whether Close has been called.
func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
