package webhooks

import (
	"time"

	"github.com/tallyhq/webhooks/delivery"
)

// Config holds the configuration for an Engine instance.
type Config struct {
	// Concurrency is the number of delivery worker goroutines.
	Concurrency int

	// PollInterval is how often the delivery worker checks for due deliveries.
	PollInterval time.Duration

	// BatchSize is the maximum number of deliveries claimed per poll cycle.
	BatchSize int

	// RequestTimeout is the HTTP timeout per delivery attempt.
	RequestTimeout time.Duration

	// MaxAttempts is the total number of delivery attempts before a delivery
	// is dead-lettered.
	MaxAttempts int

	// Backoff shapes the delay between retry attempts.
	Backoff delivery.Backoff

	// ShutdownTimeout is the maximum time to wait for in-flight deliveries on shutdown.
	ShutdownTimeout time.Duration

	// CacheTTL is the TTL for the catalog's in-memory event type cache.
	// Set to 0 to disable expiry.
	CacheTTL time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:     10,
		PollInterval:    1 * time.Second,
		BatchSize:       50,
		RequestTimeout:  30 * time.Second,
		MaxAttempts:     5,
		Backoff:         delivery.DefaultBackoff,
		ShutdownTimeout: 30 * time.Second,
		CacheTTL:        30 * time.Second,
	}
}
