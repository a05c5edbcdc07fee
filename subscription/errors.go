package subscription

import "errors"

// ErrNotFound is returned when a subscription does not exist or has been
// deleted.
var ErrNotFound = errors.New("webhooks: subscription not found")
