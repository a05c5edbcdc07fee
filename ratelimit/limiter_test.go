package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestAllowUnlimited(t *testing.T) {
	l := New()
	for range 100 {
		if !l.Allow("sub-1", 0) {
			t.Fatal("Allow(0) should always return true")
		}
	}
}

func TestAllowRateLimited(t *testing.T) {
	l := New()
	subID := "sub-limited"
	rateLimit := 2

	// The bucket starts full.
	if !l.Allow(subID, rateLimit) {
		t.Fatal("first call should be allowed")
	}
	if !l.Allow(subID, rateLimit) {
		t.Fatal("second call should be allowed")
	}

	// Exhausted.
	if l.Allow(subID, rateLimit) {
		t.Fatal("third call should be denied")
	}
}

func TestAllowRefills(t *testing.T) {
	l := New()
	subID := "sub-refill"
	rateLimit := 10 // 10 per second

	for range 10 {
		l.Allow(subID, rateLimit)
	}

	if l.Allow(subID, rateLimit) {
		t.Fatal("should be denied after exhausting bucket")
	}

	time.Sleep(200 * time.Millisecond)

	// At least one token should have refilled.
	if !l.Allow(subID, rateLimit) {
		t.Fatal("should be allowed after refill")
	}
}

func TestWaitUnlimited(t *testing.T) {
	l := New()
	if err := l.Wait(context.Background(), "sub-1", 0); err != nil {
		t.Fatalf("Wait(0) should return nil, got %v", err)
	}
}

func TestWaitContextCancelled(t *testing.T) {
	l := New()
	subID := "sub-wait"
	rateLimit := 1

	l.Allow(subID, rateLimit)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := l.Wait(ctx, subID, rateLimit); err == nil {
		t.Fatal("Wait should return error when context is cancelled")
	}
}

func TestWaitEventuallyAllowed(t *testing.T) {
	l := New()
	subID := "sub-eventual"
	rateLimit := 20 // ~50ms per token

	for range 20 {
		l.Allow(subID, rateLimit)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	start := time.Now()
	if err := l.Wait(ctx, subID, rateLimit); err != nil {
		t.Fatalf("Wait should succeed, got %v", err)
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Fatal("Wait should have blocked for at least some time")
	}
}

func TestReset(t *testing.T) {
	l := New()
	subID := "sub-reset"
	rateLimit := 1

	l.Allow(subID, rateLimit)
	if l.Allow(subID, rateLimit) {
		t.Fatal("should be denied")
	}

	l.Reset(subID)

	if !l.Allow(subID, rateLimit) {
		t.Fatal("should be allowed after reset")
	}
}

func TestConcurrentAccess(t *testing.T) {
	l := New()
	subID := "sub-concurrent"
	rateLimit := 100

	var wg sync.WaitGroup
	allowed := make(chan bool, 200)

	for range 200 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			allowed <- l.Allow(subID, rateLimit)
		}()
	}

	wg.Wait()
	close(allowed)

	trueCount := 0
	for v := range allowed {
		if v {
			trueCount++
		}
	}

	// The bucket starts with 100 tokens, so at most 100 should be allowed.
	if trueCount > 100 {
		t.Fatalf("expected at most 100 allowed, got %d", trueCount)
	}
	if trueCount < 90 {
		t.Fatalf("expected at least 90 allowed (timing), got %d", trueCount)
	}
}
