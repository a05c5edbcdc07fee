package event

import "errors"

var (
	// ErrNotFound is returned when an event does not exist.
	ErrNotFound = errors.New("webhooks: event not found")

	// ErrDuplicateIdempotencyKey is returned when an event with the same
	// idempotency key has already been accepted for the tenant.
	ErrDuplicateIdempotencyKey = errors.New("webhooks: duplicate idempotency key")
)
