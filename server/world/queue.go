package world

import (
	"sync"
	"time"
)

// queue is an unbounded multi-producer, single-consumer FIFO queue. Pushing
// never blocks.
type queue[T any] struct {
	mu     sync.Mutex
	items  []T
	signal chan struct{}
}

func newQueue[T any]() *queue[T] {
	return &queue[T]{signal: make(chan struct{}, 1)}
}

// push appends v to the end of the queue and wakes up a waiting consumer.
func (q *queue[T]) push(v T) int {
	q.mu.Lock()
	q.items = append(q.items, v)
	n := len(q.items)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return n
}

// tryPop removes the first item of the queue without waiting.
func (q *queue[T]) tryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	v := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	return v, true
}

// poll removes the first item of the queue, waiting at most timeout for one
// to be pushed. poll returns early if done is closed.
func (q *queue[T]) poll(timeout time.Duration, done <-chan struct{}) (T, bool) {
	if v, ok := q.tryPop(); ok {
		return v, true
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	for {
		select {
		case <-q.signal:
			if v, ok := q.tryPop(); ok {
				return v, true
			}
		case <-t.C:
			return q.tryPop()
		case <-done:
			return q.tryPop()
		}
	}
}

// drain removes and returns all items currently in the queue.
func (q *queue[T]) drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

// len returns the amount of items in the queue.
func (q *queue[T]) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
