package catalog

import "errors"

var (
	// ErrNotFound is returned when an event type is not registered.
	ErrNotFound = errors.New("webhooks: event type not found")

	// ErrDeprecated is returned when dispatching an event whose type has
	// been deprecated.
	ErrDeprecated = errors.New("webhooks: event type is deprecated")
)
