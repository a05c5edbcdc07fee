package delivery

import (
	"encoding/json"
	"time"

	"github.com/tallyhq/webhooks/id"
	"github.com/tallyhq/webhooks/internal/entity"
)

// Status represents the current state of a delivery.
//
// Transitions: pending → {success, retrying, dead};
// retrying → {success, retrying, dead}. success and dead are terminal;
// only an explicit redeliver/requeue resurrects a dead or failed row, and it
// does so by resetting the attempt counter for a fresh cycle.
type Status string

const (
	// StatusPending indicates the delivery is awaiting its first attempt.
	StatusPending Status = "pending"

	// StatusDelivering marks a delivery claimed by a worker. Stores use it
	// to prevent double-dequeue; it is never a resting state.
	StatusDelivering Status = "delivering"

	// StatusRetrying indicates a failed attempt with retries remaining;
	// NextRetryAt says when the next attempt is due.
	StatusRetrying Status = "retrying"

	// StatusSuccess indicates the endpoint acknowledged with a 2xx.
	StatusSuccess Status = "success"

	// StatusFailed indicates a terminal single-attempt failure recorded by
	// an operator; like dead, it is only revived by explicit redelivery.
	StatusFailed Status = "failed"

	// StatusDead indicates retries are exhausted. Dead deliveries surface in
	// the dead-letter listing and require manual requeue.
	StatusDead Status = "dead"
)

// Terminal reports whether the status admits no further automatic attempts.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusDead
}

// MaxResponseBody caps stored response bodies and test delivery bodies.
const MaxResponseBody = 1000

// VisibilityTimeout is how long a claimed (delivering) delivery stays
// invisible to Dequeue. A worker that crashes or shuts down mid-attempt never
// writes the row back; once the window lapses the store hands the row out
// again and the attempt repeats. It must exceed the longest RequestTimeout in
// use, or a slow-but-alive attempt can run twice.
const VisibilityTimeout = 5 * time.Minute

// Delivery represents one webhook delivery to one subscription. Each job in
// the queue maps to exactly one Delivery row; the row is the unit of
// mutation, so concurrent workers never contend on shared state.
type Delivery struct {
	entity.Entity

	// ID is the unique TypeID for this delivery.
	ID id.ID `json:"id"`

	// EventID references the event being delivered.
	EventID id.ID `json:"event_id"`

	// SubscriptionID references the target subscription.
	SubscriptionID id.ID `json:"subscription_id"`

	// TenantID carries the tenant scope of the originating event.
	TenantID string `json:"tenant_id"`

	// EventType is denormalized from the event for filtering and audit.
	EventType string `json:"event_type"`

	// Payload is the serialized envelope, stored verbatim at dispatch time
	// so redelivery and audit replay exactly what was (or would have been)
	// sent.
	Payload json.RawMessage `json:"payload"`

	// Status is the current delivery state.
	Status Status `json:"status"`

	// AttemptCount is the number of HTTP attempts made so far. Monotonic
	// within one life; reset to 0 only by explicit redelivery.
	AttemptCount int `json:"attempt_count"`

	// MaxAttempts is the attempt budget before dead-lettering.
	MaxAttempts int `json:"max_attempts"`

	// NextRetryAt is when the next attempt is due. Zero when not awaiting
	// retry.
	NextRetryAt time.Time `json:"next_retry_at"`

	// LastStatusCode is the HTTP status from the most recent attempt.
	// 0 means the attempt never got an HTTP response.
	LastStatusCode int `json:"last_status_code,omitempty"`

	// LastResponse is the response body from the most recent attempt,
	// truncated to MaxResponseBody.
	LastResponse string `json:"last_response,omitempty"`

	// LastError is the transport-level failure message from the most recent
	// attempt, if any.
	LastError string `json:"last_error,omitempty"`

	// LastLatencyMs is the latency of the most recent attempt.
	LastLatencyMs int `json:"last_latency_ms,omitempty"`

	// DeliveredAt is set only on success.
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
}

// ListOpts configures filtering and pagination for delivery listing.
type ListOpts struct {
	Offset int
	Limit  int
	Status *Status
}
