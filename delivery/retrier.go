package delivery

import (
	"math/rand/v2"
	"time"
)

// Decision is the outcome of evaluating a delivery attempt.
type Decision int

const (
	// Succeeded means the endpoint acknowledged with a 2xx.
	Succeeded Decision = iota

	// Retry means the failure is retryable and attempts remain.
	Retry

	// Dead means the attempt budget is exhausted; the delivery moves to the
	// dead letter queue.
	Dead

	// DisableSubscription means the endpoint reported 410 Gone: the
	// subscription is deactivated and the delivery dead-lettered.
	DisableSubscription
)

// Result holds the outcome of a single HTTP delivery attempt.
type Result struct {
	StatusCode int
	Error      string
	Response   string
	LatencyMs  int
}

// Backoff computes the delay before the next retry attempt:
// Base × 2^(attempt-1), capped at Cap, with ±Jitter fraction of noise.
//
// The defaults (30s base, 1h cap, 10% jitter, 5 attempts set on the
// delivery) are part of the public contract: a permanently failing endpoint
// dead-letters after roughly 30s + 1m + 2m + 4m of waiting.
type Backoff struct {
	Base   time.Duration
	Cap    time.Duration
	Jitter float64
}

// DefaultBackoff is the contract backoff curve.
var DefaultBackoff = Backoff{
	Base:   30 * time.Second,
	Cap:    time.Hour,
	Jitter: 0.1,
}

// Delay returns the backoff delay after the given attempt number (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	d := b.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if b.Cap > 0 && d >= b.Cap {
			d = b.Cap
			break
		}
	}
	if b.Cap > 0 && d > b.Cap {
		d = b.Cap
	}

	if b.Jitter > 0 {
		// Spread attempts from concurrent workers; noise stays well inside
		// the gap between consecutive exponential steps.
		noise := 1 + b.Jitter*(2*rand.Float64()-1)
		d = time.Duration(float64(d) * noise)
	}

	return d
}

// Retrier decides what to do after a delivery attempt.
type Retrier struct {
	backoff Backoff
}

// NewRetrier creates a retrier with the given backoff curve.
func NewRetrier(b Backoff) *Retrier {
	if b.Base <= 0 {
		b = DefaultBackoff
	}
	return &Retrier{backoff: b}
}

// Decide determines what to do with a delivery after an attempt.
//
// Decision matrix:
//   - 2xx → Succeeded
//   - 410 Gone → DisableSubscription (endpoint says it is permanently gone)
//   - any other status, or 0 (timeout/DNS/connection error) → Retry while
//     attempts remain, else Dead
//
// Unlike client-error short-circuiting schemes, every non-2xx response is
// retryable: tenant endpoints routinely return 4xx during deploys and
// misconfigurations that later resolve.
func (r *Retrier) Decide(res Result, d *Delivery) Decision {
	code := res.StatusCode

	if code >= 200 && code < 300 {
		return Succeeded
	}

	if code == 410 {
		return DisableSubscription
	}

	if d.AttemptCount < d.MaxAttempts {
		return Retry
	}
	return Dead
}

// NextRetryAt returns the time of the next attempt after attemptCount
// attempts have been made.
func (r *Retrier) NextRetryAt(attemptCount int) time.Time {
	return time.Now().UTC().Add(r.backoff.Delay(attemptCount))
}
