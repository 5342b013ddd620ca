// Package future provides a completion handle for asynchronous grid operations
package future

import (
	"context"
	"sync"
)

// Future completes exactly once with a nil error or a failure
type Future struct {
	once sync.Once
	done chan struct{}
	err  error
}

// New creates a pending future
func New() *Future {
	return &Future{done: make(chan struct{})}
}

// Completed returns a future that is already complete
func Completed(err error) *Future {
	f := New()
	f.Complete(err)
	return f
}

// Go runs fn in a new goroutine and completes the future with its result
func Go(fn func() error) *Future {
	f := New()
	go func() {
		f.Complete(fn())
	}()
	return f
}

// Complete sets the result. Only the first call has any effect; it reports
// whether this call completed the future.
func (f *Future) Complete(err error) bool {
	completed := false
	f.once.Do(func() {
		f.err = err
		close(f.done)
		completed = true
	})
	return completed
}

// Done is closed once the future completes
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// IsDone reports whether the future has completed
func (f *Future) IsDone() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Err returns the result, or nil while still pending
func (f *Future) Err() error {
	select {
	case <-f.done:
		return f.err
	default:
		return nil
	}
}

// Wait blocks until completion or until ctx is done
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
