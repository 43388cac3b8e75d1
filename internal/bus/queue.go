package bus

import (
	"context"
	"errors"
	"sync"
)

var (
	ErrQueueFull   = errors.New("event queue full")
	ErrQueueClosed = errors.New("event queue closed")
)

// Queue is a bounded FIFO shared between producer goroutines and the single
// event loop goroutine that consumes it. Publishers never observe a closed
// channel: Close only signals done, and the consumer drains what is left.
type Queue[T any] struct {
	ch        chan T
	done      chan struct{}
	closeOnce sync.Once
}

// NewQueue allocates a queue with the given capacity.
func NewQueue[T any](capacity int) *Queue[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue[T]{
		ch:   make(chan T, capacity),
		done: make(chan struct{}),
	}
}

// TryPublish enqueues without blocking.
func (q *Queue[T]) TryPublish(v T) error {
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}
	select {
	case q.ch <- v:
		return nil
	default:
		return ErrQueueFull
	}
}

// Publish blocks until there is room, the queue closes or ctx is done.
func (q *Queue[T]) Publish(ctx context.Context, v T) error {
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}
	select {
	case q.ch <- v:
		return nil
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryPop dequeues without blocking.
func (q *Queue[T]) TryPop() (T, bool) {
	select {
	case v := <-q.ch:
		return v, true
	default:
		var zero T
		return zero, false
	}
}

// C exposes the receive side for select loops.
func (q *Queue[T]) C() <-chan T {
	return q.ch
}

// Done is closed once Close is called.
func (q *Queue[T]) Done() <-chan struct{} {
	return q.done
}

func (q *Queue[T]) Len() int {
	return len(q.ch)
}

func (q *Queue[T]) Cap() int {
	return cap(q.ch)
}

// Close stops the queue from accepting new items. Items already queued stay
// poppable.
func (q *Queue[T]) Close() {
	q.closeOnce.Do(func() {
		close(q.done)
	})
}

// Closed reports whether Close was called.
func (q *Queue[T]) Closed() bool {
	select {
	case <-q.done:
		return true
	default:
		return false
	}
}

// Run consumes items until the context is done, or the queue is closed and
// drained.
func (q *Queue[T]) Run(ctx context.Context, handler func(T)) {
	for {
		select {
		case <-ctx.Done():
			return
		case v := <-q.ch:
			handler(v)
		case <-q.done:
			for {
				v, ok := q.TryPop()
				if !ok {
					return
				}
				handler(v)
			}
		}
	}
}
