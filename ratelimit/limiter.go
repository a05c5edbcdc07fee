// Package ratelimit throttles outbound delivery attempts per subscription.
//
// Each subscription with a positive rate limit gets a token bucket sized to
// one second of traffic: a limit of N allows a burst of N and refills
// continuously at N tokens per second. Subscriptions without a limit bypass
// the limiter entirely.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter hands out delivery slots keyed by subscription ID.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
}

// bucket tracks the fill level for one subscription. The level is advanced
// lazily on each take, so idle subscriptions cost nothing.
type bucket struct {
	level   float64   // available tokens
	perSec  float64   // refill rate; also the burst cap
	touched time.Time // last time level was advanced
}

// New creates an empty limiter. Buckets are created on first use.
func New() *Limiter {
	return &Limiter{buckets: make(map[string]*bucket)}
}

// Allow consumes a token for the subscription if one is available and
// reports whether the delivery may proceed. A rateLimit of 0 or less means
// unlimited.
func (l *Limiter) Allow(subscriptionID string, rateLimit int) bool {
	if rateLimit <= 0 {
		return true
	}
	ok, _ := l.take(subscriptionID, rateLimit)
	return ok
}

// Wait blocks until a token is available or ctx is done. A rateLimit of 0 or
// less returns immediately.
func (l *Limiter) Wait(ctx context.Context, subscriptionID string, rateLimit int) error {
	if rateLimit <= 0 {
		return nil
	}

	for {
		ok, retryIn := l.take(subscriptionID, rateLimit)
		if ok {
			return nil
		}

		timer := time.NewTimer(retryIn)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Reset drops the bucket for a subscription so its next delivery starts from
// a full burst.
func (l *Limiter) Reset(subscriptionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, subscriptionID)
}

// take advances the bucket to now and consumes one token if available. When
// the bucket is empty it returns how long until the next token accrues.
func (l *Limiter) take(subscriptionID string, rateLimit int) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	perSec := float64(rateLimit)

	b, ok := l.buckets[subscriptionID]
	if !ok {
		// New buckets start full so the first burst goes straight through.
		b = &bucket{level: perSec, perSec: perSec, touched: now}
		l.buckets[subscriptionID] = b
	}

	b.level += now.Sub(b.touched).Seconds() * b.perSec
	if b.level > b.perSec {
		b.level = b.perSec
	}
	b.touched = now

	if b.level >= 1 {
		b.level--
		return true, 0
	}

	retryIn := time.Duration((1 - b.level) / b.perSec * float64(time.Second))
	return false, retryIn
}
