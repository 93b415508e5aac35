// Package cache provides an async cache keyed by request identity.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/singleflight"
)

type entry[V any] struct {
	value    V
	storedAt time.Time
}

// Flight caches the outcome of loads keyed by request identity.
//
// At most one load per key is in flight at any time: concurrent Get calls for
// the same key share that load's outcome. Successful values are kept for ttl
// (forever when ttl is 0) or until Forget; errors are never cached.
type Flight[V any] struct {
	group   singleflight.Group
	clock   clock.Clock
	ttl     time.Duration
	mu      sync.Mutex
	entries map[string]entry[V]
}

// NewFlight creates a Flight. A nil clock uses the wall clock.
func NewFlight[V any](ttl time.Duration, clk clock.Clock) *Flight[V] {
	if clk == nil {
		clk = clock.New()
	}
	return &Flight[V]{
		clock:   clk,
		ttl:     ttl,
		entries: make(map[string]entry[V]),
	}
}

// Get returns the cached value for key, or runs load once for all concurrent
// callers. The load runs detached from the caller's cancellation so a
// departing caller does not fail the others; ctx only bounds this caller's wait.
func (f *Flight[V]) Get(ctx context.Context, key string, load func(ctx context.Context) (V, error)) (V, error) {
	if v, ok := f.lookup(key); ok {
		return v, nil
	}

	ch := f.group.DoChan(key, func() (interface{}, error) {
		v, err := load(context.WithoutCancel(ctx))
		if err != nil {
			return v, err
		}
		f.mu.Lock()
		f.entries[key] = entry[V]{value: v, storedAt: f.clock.Now()}
		f.mu.Unlock()
		return v, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			var zero V
			return zero, res.Err
		}
		return res.Val.(V), nil
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}

// Peek returns a cached value without loading.
func (f *Flight[V]) Peek(key string) (V, bool) {
	return f.lookup(key)
}

// Forget drops the cached value for key. A load already in flight still
// completes and repopulates the entry.
func (f *Flight[V]) Forget(key string) {
	f.mu.Lock()
	delete(f.entries, key)
	f.mu.Unlock()
	f.group.Forget(key)
}

// Purge drops every cached value.
func (f *Flight[V]) Purge() {
	f.mu.Lock()
	f.entries = make(map[string]entry[V])
	f.mu.Unlock()
}

func (f *Flight[V]) lookup(key string) (V, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	e, ok := f.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	if f.ttl > 0 && f.clock.Since(e.storedAt) > f.ttl {
		delete(f.entries, key)
		var zero V
		return zero, false
	}
	return e.value, true
}
