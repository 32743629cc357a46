// Package ratelimit implements the sender's bandwidth cap (§4.2): a
// token-bucket limiter whose rate is supplied by a callback re-read on
// every request, so a UI can change the cap live. A rate of 0 means
// unlimited and is a fast-path that never touches the underlying limiter.
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// RateFunc returns the current allowed rate in bytes/second. It is called
// on every Await, letting the caller change the limit while a transfer is
// in progress.
type RateFunc func() int64

// Limiter throttles byte consumption against a live rate. It wraps
// golang.org/x/time/rate.Limiter, rebuilding the underlying limiter
// whenever the configured rate changes so burst capacity (one second's
// worth of tokens, per §4.2) always matches the current rate.
type Limiter struct {
	rateFn RateFunc

	mu          sync.Mutex
	lastRate    int64
	rateLimiter *rate.Limiter
}

// New returns a Limiter whose rate is read from rateFn on every Await.
func New(rateFn RateFunc) *Limiter {
	return &Limiter{rateFn: rateFn}
}

// Await blocks until n bytes' worth of tokens are available, or ctx is
// canceled. A rate of 0 is unlimited and returns immediately.
//
// rate.Limiter.WaitN rejects any single call with n greater than the
// limiter's burst instead of waiting for it (it can never be satisfied
// in one reservation), so a request larger than one second's worth of
// tokens is split into burst-sized sub-awaits here; each sub-await still
// sleeps and retries exactly as §4.2 specifies, it just does so in
// burst-sized steps instead of one.
func (l *Limiter) Await(ctx context.Context, n int) error {
	currentRate := l.rateFn()
	if currentRate <= 0 || n <= 0 {
		return nil
	}

	rl := l.limiterFor(currentRate)
	burst := rl.Burst()

	for remaining := n; remaining > 0; {
		chunk := remaining
		if chunk > burst {
			chunk = burst
		}
		if err := rl.WaitN(ctx, chunk); err != nil {
			return err
		}
		remaining -= chunk
	}
	return nil
}

func (l *Limiter) limiterFor(currentRate int64) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.rateLimiter == nil || l.lastRate != currentRate {
		burst := int(currentRate)
		if burst <= 0 {
			burst = 1
		}
		l.rateLimiter = rate.NewLimiter(rate.Limit(currentRate), burst)
		l.lastRate = currentRate
	}

	return l.rateLimiter
}
