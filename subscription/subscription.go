package subscription

import (
	"time"

	"github.com/tallyhq/webhooks/id"
	"github.com/tallyhq/webhooks/internal/entity"
)

// Subscription represents a tenant-registered webhook endpoint plus the set
// of event types it wants to receive.
type Subscription struct {
	entity.Entity

	// ID is the unique TypeID for this subscription.
	ID id.ID `json:"id"`

	// TenantID identifies the tenant that owns this subscription.
	TenantID string `json:"tenant_id"`

	// URL is the delivery destination. Must be syntactically HTTPS.
	URL string `json:"url"`

	// Description is a human-readable description of this subscription.
	Description string `json:"description"`

	// Secret is the HMAC signing secret. Never serialized; the plaintext is
	// surfaced exactly once at creation or rotation.
	Secret string `json:"-"`

	// EventTypes are the event type patterns this subscription receives.
	// Exact names or segment globs ("invoice.*", "*").
	EventTypes []string `json:"event_types"`

	// Active indicates whether the subscription participates in dispatch.
	// Inactive subscriptions are retained for audit.
	Active bool `json:"active"`

	// Headers are custom HTTP headers sent with each delivery.
	Headers map[string]string `json:"headers,omitempty"`

	// RateLimit is the maximum deliveries per second. 0 means unlimited.
	RateLimit int `json:"rate_limit"`

	// CreatedBy records the operator that registered the subscription.
	CreatedBy string `json:"created_by,omitempty"`

	// Metadata holds user-defined key-value pairs.
	Metadata map[string]string `json:"metadata,omitempty"`

	// DeletedAt is set by soft delete. Deleted subscriptions never match
	// dispatch and are hidden from listings, but rows are kept so delivery
	// history retains its reference.
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// Deliverable reports whether the subscription should still receive
// deliveries. The worker checks this before every attempt.
func (s *Subscription) Deliverable() bool {
	return s.Active && s.DeletedAt == nil
}

// ListOpts configures filtering and pagination for subscription listing.
type ListOpts struct {
	Offset int
	Limit  int
	Active *bool
}
