// Package retry runs operations with capped exponential backoff. Do and
// DoWithResult retry a call in place; Backoff hands the delays to callers
// that schedule their own attempts.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// Config defines retry behavior with exponential backoff
type Config struct {
	MaxRetries   int // 0 = unlimited when used as a Backoff
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	JitterFactor float64 // 0.0-1.0, +/- share of each delay

	// OnRetry, when set, is called before each wait with the failed attempt
	// number (from 1), the error and the delay about to be slept.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultConfig retries startup dependencies such as the database:
// 5 retries from 200ms, capped at 5s.
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:   5,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

// ReloadConfig is the backoff used for failed dashboard loads: starts at the
// reload throttle window and caps at one minute, never giving up.
func ReloadConfig(window time.Duration) *Config {
	return &Config{
		MaxRetries:   0,
		InitialDelay: window,
		MaxDelay:     time.Minute,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Do and DoWithResult return the
// wrapped error immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

func applyJitter(delay time.Duration, jitterFactor float64) time.Duration {
	if jitterFactor <= 0 {
		return delay
	}
	jitter := float64(delay) * jitterFactor * (rand.Float64()*2 - 1)
	return time.Duration(float64(delay) + jitter)
}

// Do calls fn until it succeeds, returns a Permanent error, the retries run
// out or ctx is done.
func Do(ctx context.Context, cfg *Config, fn func(ctx context.Context) error) error {
	_, err := DoWithResult(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoWithResult is Do for calls that produce a value, such as opening a
// connection pool. The last result is returned along with the last error.
func DoWithResult[T any](ctx context.Context, cfg *Config, fn func(ctx context.Context) (T, error)) (T, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	backoff := NewBackoff(cfg)
	for attempt := 1; ; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		var p *permanentError
		if errors.As(err, &p) {
			return result, p.err
		}
		if attempt > cfg.MaxRetries {
			return result, err
		}

		delay := backoff.Next()
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return result, ctx.Err()
		}
	}
}

// Backoff hands out successive exponential delays for callers that own their
// own timers. It is not safe for concurrent use.
type Backoff struct {
	cfg   Config
	delay time.Duration
}

// NewBackoff creates a Backoff starting at cfg.InitialDelay.
func NewBackoff(cfg *Config) *Backoff {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Backoff{cfg: *cfg, delay: cfg.InitialDelay}
}

// Next returns the delay to wait before the next attempt and advances the
// schedule, capped at MaxDelay.
func (b *Backoff) Next() time.Duration {
	d := applyJitter(b.delay, b.cfg.JitterFactor)
	next := time.Duration(float64(b.delay) * b.cfg.Multiplier)
	if b.cfg.MaxDelay > 0 && next > b.cfg.MaxDelay {
		next = b.cfg.MaxDelay
	}
	b.delay = next
	return d
}

// Reset returns the schedule to InitialDelay, after a success.
func (b *Backoff) Reset() {
	b.delay = b.cfg.InitialDelay
}
