package event

import (
	"encoding/json"
	"time"

	"github.com/tallyhq/webhooks/id"
	"github.com/tallyhq/webhooks/internal/entity"
)

// Event represents a domain event submitted for webhook fan-out.
// One event is persisted per occurrence; each matching subscription gets its
// own delivery referencing this event.
type Event struct {
	entity.Entity

	// ID is the unique TypeID for this event. Shared across every envelope
	// produced by the fan-out, so receivers can dedupe on it.
	ID id.ID `json:"id"`

	// Type is the dot-separated event type name (e.g. "invoice.paid").
	Type string `json:"type"`

	// TenantID identifies the tenant that produced this event.
	TenantID string `json:"tenant_id"`

	// Data is the event payload, stored verbatim.
	Data json.RawMessage `json:"data"`

	// IdempotencyKey prevents duplicate fan-out when the producer retries
	// its dispatch call. Empty means no dedup.
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// Envelope is the wire payload POSTed to subscriber endpoints. It is
// serialized once at dispatch time; the resulting bytes are stored on each
// delivery, signed, and transmitted verbatim.
type Envelope struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	CreatedAt time.Time       `json:"created_at"`
	Data      json.RawMessage `json:"data"`
}

// Envelope builds the wire envelope for this event.
func (e *Event) Envelope() Envelope {
	return Envelope{
		ID:        e.ID.String(),
		Type:      e.Type,
		CreatedAt: e.CreatedAt,
		Data:      e.Data,
	}
}

// Marshal serializes the envelope to the exact bytes that are signed and
// transmitted.
func (env Envelope) Marshal() ([]byte, error) {
	return json.Marshal(env)
}

// ListOpts configures filtering and pagination for event listing.
type ListOpts struct {
	Offset int
	Limit  int
	Type   string
	From   *time.Time
	To     *time.Time
}
