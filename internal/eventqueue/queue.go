package eventqueue

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Push after Close and by Pop once a closed queue is drained.
var ErrClosed = errors.New("event queue is closed")

// Queue is an unbounded multi-producer, single-consumer FIFO.
type Queue[T any] struct {
	mu     sync.Mutex
	items  []T
	head   int
	closed bool

	// notify holds at most one wake-up for the consumer.
	notify chan struct{}
	// done is closed by Close.
	done chan struct{}
}

// New creates an empty queue.
func New[T any]() *Queue[T] {
	return &Queue[T]{
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Push appends an item without blocking.
func (q *Queue[T]) Push(item T) error {
	q.mu.Lock()

	if q.closed {
		q.mu.Unlock()

		return ErrClosed
	}

	q.items = append(q.items, item)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}

	return nil
}

// Pop removes the oldest item, waiting for one if the queue is empty.
// Items pushed before Close are still delivered.
func (q *Queue[T]) Pop(ctx context.Context) (T, error) {
	var zero T

	for {
		if item, ok, closed := q.take(); ok {
			return item, nil
		} else if closed {
			return zero, ErrClosed
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-q.notify:
		case <-q.done:
		}
	}
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.items) - q.head
}

// Close stops accepting items and wakes the consumer. It is safe to call twice.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.done)
}

func (q *Queue[T]) take() (item T, ok, closed bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.head == len(q.items) {
		return item, false, q.closed
	}

	item = q.items[q.head]

	var zero T
	q.items[q.head] = zero
	q.head++

	// Compact once the consumed prefix dominates the backing array.
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	} else if q.head > 64 && q.head*2 > len(q.items) {
		n := copy(q.items, q.items[q.head:])
		clear(q.items[n:])
		q.items = q.items[:n]
		q.head = 0
	}

	return item, true, false
}
