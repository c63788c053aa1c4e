package register

import "context"

// Future is the pending result of an asynchronous transfer.
type Future[T any] struct {
	done chan struct{}
	val  T
	err  error
}

// run starts op on its own goroutine unless ctx is already done. A transfer that has
// started is never interrupted.
func run[T any](ctx context.Context, op func() (T, error)) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}
	if err := ctx.Err(); err != nil {
		f.err = err
		close(f.done)
		return f
	}
	go func() {
		defer close(f.done)
		f.val, f.err = op()
	}()
	return f
}

// failed returns an already resolved future.
func failed[T any](err error) *Future[T] {
	f := &Future[T]{done: make(chan struct{}), err: err}
	close(f.done)
	return f
}

// Done is closed once the transfer completes.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the transfer completes.
func (f *Future[T]) Wait() (T, error) {
	<-f.done
	return f.val, f.err
}

// Err waits for completion and returns only the error.
func (f *Future[T]) Err() error {
	<-f.done
	return f.err
}
