package dlq

import (
	"encoding/json"
	"time"

	"github.com/tallyhq/webhooks/id"
	"github.com/tallyhq/webhooks/internal/entity"
)

// Entry records a delivery whose retries were exhausted. Entries are the
// operator-facing audit trail for dead deliveries: they snapshot everything
// needed to diagnose the failure even after the subscription changes.
type Entry struct {
	entity.Entity

	// ID is the unique TypeID for this DLQ entry.
	ID id.ID `json:"id"`

	// DeliveryID references the dead delivery.
	DeliveryID id.ID `json:"delivery_id"`

	// EventID references the original event.
	EventID id.ID `json:"event_id"`

	// SubscriptionID references the target subscription.
	SubscriptionID id.ID `json:"subscription_id"`

	// EventType is the event type name for filtering.
	EventType string `json:"event_type"`

	// TenantID identifies the tenant that owns the event.
	TenantID string `json:"tenant_id"`

	// URL is the subscription URL at the time of failure.
	URL string `json:"url"`

	// Payload is the envelope that failed to deliver, verbatim.
	Payload json.RawMessage `json:"payload"`

	// Error is the error message from the final attempt.
	Error string `json:"error"`

	// AttemptCount is the total number of attempts made.
	AttemptCount int `json:"attempt_count"`

	// LastStatusCode is the HTTP status code from the final attempt.
	// 0 when the failure was transport-level.
	LastStatusCode int `json:"last_status_code,omitempty"`

	// RequeuedAt is set once the entry has been requeued for redelivery.
	RequeuedAt *time.Time `json:"requeued_at,omitempty"`

	// FailedAt is when the delivery permanently failed.
	FailedAt time.Time `json:"failed_at"`
}

// ListOpts configures filtering and pagination for DLQ listing.
type ListOpts struct {
	Offset         int
	Limit          int
	TenantID       string
	SubscriptionID *id.ID
	From           *time.Time
	To             *time.Time
}
