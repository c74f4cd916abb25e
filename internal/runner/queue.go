package runner

import (
	"context"
	"iter"
	"sync"
)

// Queue adapts push-style emission into a pull-style sequence for a single
// logical reader. Values are delivered in FIFO order, at most once.
//
// The zero value is ready to use.
type Queue[T any] struct {
	mu      sync.Mutex
	values  []T
	waiters []chan delivery[T]
	closed  bool
	err     error
}

type delivery[T any] struct {
	value T
	done  bool
	err   error
}

// NewQueue returns an empty queue.
func NewQueue[T any]() *Queue[T] {
	return &Queue[T]{}
}

// Push hands v to a waiting reader or buffers it. Push after Close or Fail is
// a no-op.
func (q *Queue[T]) Push(v T) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || q.err != nil {
		return
	}

	if len(q.waiters) > 0 {
		w := q.waiters[0]
		q.waiters = q.waiters[1:]
		w <- delivery[T]{value: v}
		return
	}

	q.values = append(q.values, v)
}

// Close ends the sequence. Buffered values are still drained before readers
// observe the end.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	q.err = nil

	for _, w := range q.waiters {
		w <- delivery[T]{done: true}
	}
	q.waiters = nil
}

// Fail makes every pending and future read return err until the queue is
// closed. Each pending reader receives err exactly once.
func (q *Queue[T]) Fail(err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || q.err != nil {
		return
	}
	q.err = err

	for _, w := range q.waiters {
		w <- delivery[T]{err: err}
	}
	q.waiters = nil
}

// Next blocks until a value is available, the queue ends, or ctx is done.
// ok is false once the sequence has ended.
func (q *Queue[T]) Next(ctx context.Context) (v T, ok bool, err error) {
	q.mu.Lock()
	if len(q.values) > 0 {
		v = q.values[0]
		var zero T
		q.values[0] = zero
		q.values = q.values[1:]
		q.mu.Unlock()
		return v, true, nil
	}
	if q.err != nil {
		err = q.err
		q.mu.Unlock()
		return v, false, err
	}
	if q.closed {
		q.mu.Unlock()
		return v, false, nil
	}

	w := make(chan delivery[T], 1)
	q.waiters = append(q.waiters, w)
	q.mu.Unlock()

	select {
	case d := <-w:
		return d.value, !d.done && d.err == nil, d.err
	case <-ctx.Done():
	}

	q.mu.Lock()
	for i, pending := range q.waiters {
		if pending == w {
			q.waiters = append(q.waiters[:i], q.waiters[i+1:]...)
			q.mu.Unlock()
			return v, false, ctx.Err()
		}
	}
	q.mu.Unlock()

	// A producer already handed us a delivery.
	d := <-w
	return d.value, !d.done && d.err == nil, d.err
}

// All returns an iterator that drains the queue. Iteration stops at the end
// of the sequence, on the first error, or when the caller breaks out.
func (q *Queue[T]) All(ctx context.Context) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for {
			v, ok, err := q.Next(ctx)
			if err != nil {
				var zero T
				yield(zero, err)
				return
			}
			if !ok {
				return
			}
			if !yield(v, nil) {
				return
			}
		}
	}
}

// Len returns the number of buffered values.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.values)
}
