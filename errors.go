package webhooks

import (
	"errors"

	"github.com/tallyhq/webhooks/catalog"
	"github.com/tallyhq/webhooks/delivery"
	"github.com/tallyhq/webhooks/dlq"
	"github.com/tallyhq/webhooks/event"
	"github.com/tallyhq/webhooks/subscription"
)

// Sentinel errors returned by Engine operations. Several alias the sentinel
// of the subsystem that produces them, so errors.Is matches whether callers
// compare against this package or the subsystem package.
var (
	// ErrNoStore is returned when an Engine is created without a store.
	ErrNoStore = errors.New("webhooks: store is required")

	// ErrStoreClosed is returned when a store operation is attempted after the store is closed.
	ErrStoreClosed = errors.New("webhooks: store is closed")

	// ErrMigrationFailed is returned when a database migration fails.
	ErrMigrationFailed = errors.New("webhooks: migration failed")

	// ErrPayloadValidationFailed is returned when event data fails JSON Schema validation.
	ErrPayloadValidationFailed = errors.New("webhooks: payload validation failed")

	// ErrSubscriptionNotFound is returned when a subscription cannot be found.
	ErrSubscriptionNotFound = subscription.ErrNotFound

	// ErrEventTypeNotFound is returned when an event type is not registered in the catalog.
	ErrEventTypeNotFound = catalog.ErrNotFound

	// ErrEventTypeDeprecated is returned when dispatching an event with a deprecated type.
	ErrEventTypeDeprecated = catalog.ErrDeprecated

	// ErrEventNotFound is returned when an event cannot be found.
	ErrEventNotFound = event.ErrNotFound

	// ErrDuplicateIdempotencyKey is returned when an event with the same idempotency key already exists.
	ErrDuplicateIdempotencyKey = event.ErrDuplicateIdempotencyKey

	// ErrDeliveryNotFound is returned when a delivery cannot be found.
	ErrDeliveryNotFound = delivery.ErrNotFound

	// ErrNotRedeliverable is returned when redelivery is requested for a delivery
	// that has not terminally failed.
	ErrNotRedeliverable = delivery.ErrNotRedeliverable

	// ErrDLQNotFound is returned when a dead letter entry cannot be found.
	ErrDLQNotFound = dlq.ErrNotFound
)
