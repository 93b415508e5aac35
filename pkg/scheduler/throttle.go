// Package scheduler paces dashboard reloads: a trailing-edge throttle, a
// self-retrying reloader on top of it, and a replaceable auto-refresh timer.
package scheduler

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Throttle invokes fn at most once per window. The first call in an idle
// window runs immediately; calls inside an active window are coalesced into
// one trailing invocation with the latest argument, fired when the window
// closes and opening a new one.
type Throttle[T any] struct {
	mu         sync.Mutex
	clock      clock.Clock
	window     time.Duration
	fn         func(T)
	timer      *clock.Timer
	pending    bool
	pendingArg T
	stopped    bool
}

// NewThrottle creates a throttle around fn. A nil clock uses the wall clock.
func NewThrottle[T any](window time.Duration, clk clock.Clock, fn func(T)) *Throttle[T] {
	if clk == nil {
		clk = clock.New()
	}
	return &Throttle[T]{
		clock:  clk,
		window: window,
		fn:     fn,
	}
}

// Call requests an invocation with arg.
func (t *Throttle[T]) Call(arg T) {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	if t.timer != nil {
		t.pending = true
		t.pendingArg = arg
		t.mu.Unlock()
		return
	}
	t.timer = t.clock.AfterFunc(t.window, t.windowClosed)
	t.mu.Unlock()

	t.fn(arg)
}

// Pending reports whether a trailing invocation is queued.
func (t *Throttle[T]) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending
}

// Stop drops any queued invocation and ignores future calls.
func (t *Throttle[T]) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopped = true
	t.pending = false
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

func (t *Throttle[T]) windowClosed() {
	t.mu.Lock()
	if t.stopped || !t.pending {
		t.timer = nil
		t.mu.Unlock()
		return
	}

	arg := t.pendingArg
	var zero T
	t.pending = false
	t.pendingArg = zero
	t.timer = t.clock.AfterFunc(t.window, t.windowClosed)
	t.mu.Unlock()

	t.fn(arg)
}
