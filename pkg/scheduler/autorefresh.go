package scheduler

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// AutoRefresh runs load(true) every interval. Starting with a new interval
// cancels the outstanding timer first, so at most one loop is ever live.
type AutoRefresh struct {
	mu       sync.Mutex
	clock    clock.Clock
	load     func(force bool)
	timer    *clock.Timer
	interval time.Duration
	gen      uint64
}

// NewAutoRefresh creates a stopped AutoRefresh. A nil clock uses the wall clock.
func NewAutoRefresh(clk clock.Clock, load func(force bool)) *AutoRefresh {
	if clk == nil {
		clk = clock.New()
	}
	return &AutoRefresh{clock: clk, load: load}
}

// Start replaces any running loop with one firing every interval.
// A non-positive interval stops the loop.
func (a *AutoRefresh) Start(interval time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stopLocked()
	if interval <= 0 {
		return
	}
	a.interval = interval
	a.scheduleLocked(a.gen)
}

// Stop cancels the loop.
func (a *AutoRefresh) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopLocked()
}

// Interval returns the live interval, or 0 when stopped.
func (a *AutoRefresh) Interval() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.interval
}

func (a *AutoRefresh) stopLocked() {
	a.gen++
	a.interval = 0
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}

func (a *AutoRefresh) scheduleLocked(gen uint64) {
	a.timer = a.clock.AfterFunc(a.interval, func() { a.fire(gen) })
}

func (a *AutoRefresh) fire(gen uint64) {
	a.mu.Lock()
	if gen != a.gen || a.interval <= 0 {
		a.mu.Unlock()
		return
	}
	a.timer = nil
	a.mu.Unlock()

	a.load(true)

	// the continuation re-checks the loop is still current before rescheduling
	a.mu.Lock()
	defer a.mu.Unlock()
	if gen == a.gen && a.interval > 0 && a.timer == nil {
		a.scheduleLocked(gen)
	}
}
