package delivery

import "errors"

// Sentinel errors for delivery operations. The root package re-exports them
// so callers can match with errors.Is at either level.
var (
	// ErrNotFound is returned when a delivery does not exist or does not
	// belong to the given subscription.
	ErrNotFound = errors.New("webhooks: delivery not found")

	// ErrNotRedeliverable is returned when redelivery is requested for a
	// delivery that is not in a redeliverable state (failed or dead).
	ErrNotRedeliverable = errors.New("webhooks: delivery is not in a redeliverable state")
)
