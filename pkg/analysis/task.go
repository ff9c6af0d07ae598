package analysis

import (
	"context"
	"fmt"
)

// Task is the pending result of work started by Submit.
type Task[T any] struct {
	done  chan struct{}
	value T
	err   error
}

// Submit runs fn on its own goroutine and returns immediately. The core
// computations have no cancellation points, so ctx is only handed to fn; a
// caller that loses interest stops waiting instead.
func Submit[T any](ctx context.Context, fn func(context.Context) (T, error)) *Task[T] {
	t := &Task[T]{done: make(chan struct{})}
	go func() {
		defer close(t.done)
		defer func() {
			if r := recover(); r != nil {
				t.err = fmt.Errorf("analysis task panicked: %v", r)
			}
		}()
		t.value, t.err = fn(ctx)
	}()
	return t
}

// Wait blocks until the task finishes or ctx is done. When ctx ends first
// the task keeps running and its result is discarded.
func (t *Task[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-t.done:
		return t.value, t.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Done is closed when the task has finished.
func (t *Task[T]) Done() <-chan struct{} {
	return t.done
}
