package dlq

import "errors"

// ErrNotFound is returned when a dead letter entry does not exist.
var ErrNotFound = errors.New("webhooks: dead letter entry not found")
