package queue

import (
	"context"
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// ErrClosed is returned once a closed queue has been drained
var ErrClosed = errors.New("queue closed")

// Queue is a bounded FIFO shared by producers and consumers.
// Close never closes the data channel, so producers racing with
// shutdown get ErrClosed instead of a panic.
type Queue[T any] struct {
	items     chan T
	done      chan struct{}
	closeOnce sync.Once
	depth     prometheus.Gauge
}

// New creates a queue holding at most capacity items
func New[T any](capacity int) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue[T]{
		items: make(chan T, capacity),
		done:  make(chan struct{}),
	}
}

// WithDepthGauge reports the buffered item count to g after every Put and Get
func (q *Queue[T]) WithDepthGauge(g prometheus.Gauge) *Queue[T] {
	q.depth = g
	q.observe()
	return q
}

func (q *Queue[T]) observe() {
	if q.depth != nil {
		q.depth.Set(float64(len(q.items)))
	}
}

// Put blocks while the queue is full
func (q *Queue[T]) Put(ctx context.Context, item T) error {
	select {
	case <-q.done:
		return ErrClosed
	default:
	}

	select {
	case q.items <- item:
		q.observe()
		return nil
	case <-q.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryPut enqueues without blocking and reports whether it succeeded
func (q *Queue[T]) TryPut(item T) bool {
	select {
	case <-q.done:
		return false
	default:
	}

	select {
	case q.items <- item:
		q.observe()
		return true
	default:
		return false
	}
}

// Get blocks until an item is available. After Close the remaining
// items are still delivered before ErrClosed.
func (q *Queue[T]) Get(ctx context.Context) (T, error) {
	var zero T

	select {
	case item := <-q.items:
		q.observe()
		return item, nil
	default:
	}

	select {
	case item := <-q.items:
		q.observe()
		return item, nil
	case <-q.done:
		select {
		case item := <-q.items:
			q.observe()
			return item, nil
		default:
			return zero, ErrClosed
		}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Close stops accepting new items
func (q *Queue[T]) Close() {
	q.closeOnce.Do(func() { close(q.done) })
}

// Len returns the number of buffered items
func (q *Queue[T]) Len() int {
	return len(q.items)
}

// Cap returns the queue capacity
func (q *Queue[T]) Cap() int {
	return cap(q.items)
}
