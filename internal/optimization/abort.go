package optimization

import (
	"context"
	"sync/atomic"
)

// AbortSignal is the cooperative cancellation contract. Set may be called
// from any goroutine (an interrupt handler, an HTTP cancel endpoint); the run
// thread polls IsSet at most once per outer iteration, so cancellation
// latency is bounded by one line search.
type AbortSignal interface {
	// Set requests cancellation. Idempotent.
	Set()
	// IsSet reports whether cancellation has been requested.
	IsSet() bool
}

// AtomicAbortSignal is an AbortSignal backed by an atomic flag, safe for
// concurrent Set and IsSet without tearing.
type AtomicAbortSignal struct {
	flag atomic.Bool
}

// NewAtomicAbortSignal returns an unset signal.
func NewAtomicAbortSignal() *AtomicAbortSignal { return &AtomicAbortSignal{} }

// Set implements AbortSignal.
func (a *AtomicAbortSignal) Set() { a.flag.Store(true) }

// IsSet implements AbortSignal.
func (a *AtomicAbortSignal) IsSet() bool { return a.flag.Load() }

// NopAbortSignal is never set, for callers who do not need cancellation.
type NopAbortSignal struct{}

// Set implements AbortSignal as a no-op.
func (NopAbortSignal) Set() {}

// IsSet implements AbortSignal and always reports false.
func (NopAbortSignal) IsSet() bool { return false }

// ContextAbortSignal bridges a context.Context into the AbortSignal contract
// so context-based callers can cancel a run.
type ContextAbortSignal struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// NewContextAbortSignal derives a cancellable signal from parent.
func NewContextAbortSignal(parent context.Context) *ContextAbortSignal {
	ctx, cancel := context.WithCancel(parent)
	return &ContextAbortSignal{ctx: ctx, cancel: cancel}
}

// Set implements AbortSignal by cancelling the derived context.
func (c *ContextAbortSignal) Set() { c.cancel() }

// IsSet implements AbortSignal.
func (c *ContextAbortSignal) IsSet() bool {
	select {
	case <-c.ctx.Done():
		return true
	default:
		return false
	}
}
