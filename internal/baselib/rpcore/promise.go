package rpcore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// Future represents the result of an asynchronous ask operation. Consumers
// can block for the result (Await), transform it (ThenApply), or register a
// completion callback (OnComplete).
type Future[T any] interface {
	// Await blocks until the result is available or ctx is cancelled,
	// then returns it. A cancelled ctx yields fn.Err(ctx.Err()); an
	// expired deadline yields an error matching both ErrTimeout and
	// context.DeadlineExceeded.
	Await(ctx context.Context) fn.Result[T]

	// ThenApply returns a new Future that applies fn to this Future's
	// result once it completes. The original Future is unaffected.
	ThenApply(ctx context.Context, fn func(T) T) Future[T]

	// OnComplete registers a callback invoked when the result is ready,
	// or when ctx is cancelled first (in which case the callback
	// receives fn.Err(ctx.Err())).
	OnComplete(ctx context.Context, fn func(fn.Result[T]))
}

// Promise allows a single producer to complete an associated Future exactly
// once. This is the capability a local ReplyContext wraps: completing the
// promise resolves every Future obtained from it.
type Promise[T any] interface {
	// Future returns the Future associated with this Promise.
	Future() Future[T]

	// Complete attempts to set the result. Returns true if this call was
	// the first (and therefore only) one to set it.
	Complete(result fn.Result[T]) bool
}

// channelPromise is a channel-backed Promise/Future pair: Complete closes
// done exactly once, and every Await selects on it.
type channelPromise[T any] struct {
	done   chan struct{}
	once   sync.Once
	result fn.Result[T]
}

// NewPromise creates a new, uncompleted Promise.
func NewPromise[T any]() Promise[T] {
	return &channelPromise[T]{
		done: make(chan struct{}),
	}
}

func (p *channelPromise[T]) Future() Future[T] {
	return p
}

func (p *channelPromise[T]) Complete(result fn.Result[T]) bool {
	completed := false
	p.once.Do(func() {
		p.result = result
		close(p.done)
		completed = true
	})
	return completed
}

func (p *channelPromise[T]) Await(ctx context.Context) fn.Result[T] {
	select {
	case <-p.done:
		return p.result
	case <-ctx.Done():
		return fn.Err[T](translateCtxErr(ctx.Err()))
	}
}

// translateCtxErr maps a deadline expiring to ErrTimeout, keeping
// context.DeadlineExceeded in the chain as well; any other context error
// (Canceled) passes through unchanged.
func translateCtxErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return err
}

func (p *channelPromise[T]) ThenApply(
	ctx context.Context, mapFn func(T) T,
) Future[T] {
	derived := NewPromise[T]()
	go func() {
		result := p.Await(ctx)
		result.WhenOk(func(val T) {
			derived.Complete(fn.Ok(mapFn(val)))
		})
		result.WhenErr(func(err error) {
			derived.Complete(fn.Err[T](err))
		})
	}()
	return derived.Future()
}

func (p *channelPromise[T]) OnComplete(
	ctx context.Context, fn func(fn.Result[T]),
) {
	go func() {
		fn(p.Await(ctx))
	}()
}

// okBytes and errBytes are small readability wrappers around fn.Ok/fn.Err
// for the []byte result type every reply context and ask operation produces.
func okBytes(payload []byte) fn.Result[[]byte] {
	return fn.Ok(payload)
}

func errBytes(err error) fn.Result[[]byte] {
	return fn.Err[[]byte](err)
}

// completedFuture returns a Future that is already resolved with result. It
// is used whenever the Dispatcher must fail an ask immediately (unknown
// endpoint, environment stopped) without ever touching an Inbox.
func completedFuture[T any](result fn.Result[T]) Future[T] {
	p := NewPromise[T]()
	p.Complete(result)
	return p.Future()
}
