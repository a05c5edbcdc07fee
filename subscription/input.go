package subscription

// Input is the creation/update payload for subscriptions.
type Input struct {
	// TenantID identifies the tenant that owns this subscription.
	TenantID string `json:"tenant_id"`

	// URL is the delivery destination. Must be HTTPS.
	URL string `json:"url"`

	// Description is a human-readable description.
	Description string `json:"description"`

	// EventTypes are the event type patterns to subscribe to.
	EventTypes []string `json:"event_types"`

	// Headers are custom HTTP headers sent with each delivery.
	Headers map[string]string `json:"headers,omitempty"`

	// RateLimit is the maximum deliveries per second. 0 means unlimited;
	// nil leaves the current value unchanged on update.
	RateLimit *int `json:"rate_limit,omitempty"`

	// CreatedBy records the operator registering the subscription.
	CreatedBy string `json:"created_by,omitempty"`

	// Metadata holds user-defined key-value pairs.
	Metadata map[string]string `json:"metadata,omitempty"`
}
