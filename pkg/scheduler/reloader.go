package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-dashboards/pkg/models"
	"github.com/ekaya-inc/ekaya-dashboards/pkg/retry"
)

// FetchFunc loads the dashboard resource.
type FetchFunc func(ctx context.Context) (*models.Dashboard, error)

// RenderFunc receives every successfully fetched dashboard. force asks the
// render pass to ignore cached query results.
type RenderFunc func(ctx context.Context, dashboard *models.Dashboard, force bool)

// ReloaderConfig configures a Reloader.
type ReloaderConfig struct {
	// Window is the throttle window; at most one fetch starts per window.
	Window time.Duration
	// Backoff, when set, delays retries of failed fetches exponentially on top
	// of the throttle. Nil retries through the throttle alone, without limit.
	Backoff *retry.Config
	Clock   clock.Clock
}

// Reloader is the throttled, self-retrying dashboard loader.
//
// A failed fetch is never surfaced: it is logged and the load is requested
// again through the same throttle, so retries run at most once per window.
// Renders are delivered in dispatch order; a fetch that completes after a
// newer one has rendered is dropped.
type Reloader struct {
	ctx      context.Context
	fetch    FetchFunc
	render   RenderFunc
	throttle *Throttle[bool]
	clock    clock.Clock
	logger   *zap.Logger

	dispatches atomic.Int64

	mu           sync.Mutex
	seq          uint64
	lastRendered uint64
	backoff      *retry.Backoff
	retryTimer   *clock.Timer
	closed       bool
}

// NewReloader creates a Reloader whose fetches run under ctx. Cancelling ctx
// stops retries.
func NewReloader(ctx context.Context, cfg ReloaderConfig, fetch FetchFunc, render RenderFunc, logger *zap.Logger) *Reloader {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Second
	}

	r := &Reloader{
		ctx:    ctx,
		fetch:  fetch,
		render: render,
		clock:  cfg.Clock,
		logger: logger.Named("reloader"),
	}
	if cfg.Backoff != nil {
		r.backoff = retry.NewBackoff(cfg.Backoff)
	}
	r.throttle = NewThrottle(cfg.Window, cfg.Clock, r.dispatch)
	return r
}

// Load requests a dashboard load. Calls inside the throttle window coalesce;
// the latest force flag wins.
func (r *Reloader) Load(force bool) {
	r.throttle.Call(force)
}

// Dispatches returns how many fetches have been started.
func (r *Reloader) Dispatches() int64 {
	return r.dispatches.Load()
}

// Close stops the throttle and any pending retry.
func (r *Reloader) Close() {
	r.throttle.Stop()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	if r.retryTimer != nil {
		r.retryTimer.Stop()
		r.retryTimer = nil
	}
}

func (r *Reloader) dispatch(force bool) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.seq++
	seq := r.seq
	r.mu.Unlock()

	r.dispatches.Add(1)
	go r.run(seq, force)
}

func (r *Reloader) run(seq uint64, force bool) {
	dashboard, err := r.fetch(r.ctx)
	if r.ctx.Err() != nil {
		return
	}

	if err != nil {
		r.logger.Warn("Dashboard load failed, retrying",
			zap.Uint64("seq", seq),
			zap.Bool("force", force),
			zap.Error(err))
		r.retry(force)
		return
	}

	r.mu.Lock()
	if r.closed || seq < r.lastRendered {
		r.mu.Unlock()
		r.logger.Debug("Dropping stale dashboard load", zap.Uint64("seq", seq))
		return
	}
	r.lastRendered = seq
	if r.backoff != nil {
		r.backoff.Reset()
	}
	r.mu.Unlock()

	r.render(r.ctx, dashboard, force)
}

func (r *Reloader) retry(force bool) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	if r.backoff == nil {
		r.mu.Unlock()
		r.Load(force)
		return
	}
	if r.retryTimer == nil {
		r.retryTimer = r.clock.AfterFunc(r.backoff.Next(), func() {
			r.mu.Lock()
			r.retryTimer = nil
			r.mu.Unlock()
			r.Load(force)
		})
	}
	r.mu.Unlock()
}
