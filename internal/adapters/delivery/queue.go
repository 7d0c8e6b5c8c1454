package delivery

import (
	"sync"
	"time"

	"github.com/username/branchtalk/internal/domain/entities"
)

// PopStatus reports how a Pop call returned
type PopStatus int

const (
	// PopItem means an event was dequeued
	PopItem PopStatus = iota
	// PopTimedOut means the wait window elapsed with no event
	PopTimedOut
	// PopClosed means the queue was closed and drained
	PopClosed
)

// Queue is the unbounded FIFO event queue owned by one connection. A single
// delivery loop consumes it; producers never block. Backpressure is
// deliberately not modeled.
type Queue struct {
	mu     sync.Mutex
	items  []entities.Event
	closed bool

	wake chan struct{}
	done chan struct{}

	closeOnce sync.Once
}

// NewQueue creates an empty queue
func NewQueue() *Queue {
	return &Queue{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Push appends an event. Pushing to a closed queue is a no-op.
func (q *Queue) Push(ev entities.Event) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, ev)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Pop waits up to timeout for the next event. Already-queued events are
// drained even after Close, so nothing enqueued before teardown is lost.
func (q *Queue) Pop(timeout time.Duration) (entities.Event, PopStatus) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			ev := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return ev, PopItem
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			return entities.Event{}, PopClosed
		}

		select {
		case <-q.wake:
		case <-q.done:
		case <-timer.C:
			return entities.Event{}, PopTimedOut
		}
	}
}

// Close marks the queue closed and unblocks the delivery loop. Idempotent.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		q.mu.Lock()
		q.closed = true
		q.mu.Unlock()
		close(q.done)
	})
}

// Done is closed when the queue is closed
func (q *Queue) Done() <-chan struct{} {
	return q.done
}

// Len returns the number of queued events
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
