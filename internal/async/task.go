// Package async adapts deferred work into a begin/poll/end contract so that
// synchronous and asynchronous steps can be driven through one resumption
// point.
package async

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
)

// Deferred is a unit of work whose completion is reported asynchronously.
// Err must only be consulted after Done is closed.
type Deferred interface {
	Done() <-chan struct{}
	Err() error
}

// Task is a Deferred that is completed exactly once.
type Task struct {
	done chan struct{}
	once sync.Once
	err  error
}

var _ Deferred = (*Task)(nil)

func newTask() *Task {
	return &Task{done: make(chan struct{})}
}

// Done is closed once the task has finished.
func (t *Task) Done() <-chan struct{} { return t.done }

// Err returns the failure recorded by the task, or nil while it is running.
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// complete finishes the task. Later calls are ignored.
func (t *Task) complete(err error) bool {
	finished := false
	t.once.Do(func() {
		t.err = err
		close(t.done)
		finished = true
	})
	return finished
}

// Completed returns a task that has already finished with err.
func Completed(err error) *Task {
	t := newTask()
	t.complete(err)
	return t
}

// NewSource returns a pending task and the function that completes it.
// The first call to complete wins; it reports whether it did.
func NewSource() (*Task, func(error) bool) {
	t := newTask()
	return t, t.complete
}

// Go runs fn on a new goroutine and returns a task tracking it.
// A panic inside fn is reported as a *PanicError.
func Go(ctx context.Context, fn func(context.Context) error) *Task {
	t := newTask()
	go func() {
		var err error
		defer func() { t.complete(err) }()
		err = Call(func() error { return fn(ctx) })
	}()
	return t
}

// Call invokes fn and converts a panic into a *PanicError.
func Call(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return fn()
}

// PanicError reports a panic recovered from pipeline or task code.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Unwrap exposes the panic value when it was itself an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// Wait blocks until d has finished or ctx is done.
func Wait(ctx context.Context, d Deferred) error {
	select {
	case <-d.Done():
		return d.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}
