package subscription

import (
	"context"

	"github.com/tallyhq/webhooks/id"
)

// Store defines the persistence contract for webhook subscriptions.
type Store interface {
	// CreateSubscription persists a new subscription.
	CreateSubscription(ctx context.Context, sub *Subscription) error

	// GetSubscription returns a subscription by ID, including soft-deleted
	// rows (the worker needs them to dead-letter orphaned deliveries).
	GetSubscription(ctx context.Context, subID id.ID) (*Subscription, error)

	// UpdateSubscription modifies an existing subscription.
	UpdateSubscription(ctx context.Context, sub *Subscription) error

	// ListSubscriptions returns non-deleted subscriptions for a tenant.
	ListSubscriptions(ctx context.Context, tenantID string, opts ListOpts) ([]*Subscription, error)

	// Resolve finds all active, non-deleted subscriptions of a tenant whose
	// event type patterns match the given event type.
	Resolve(ctx context.Context, tenantID, eventType string) ([]*Subscription, error)

	// SetActive activates or deactivates a subscription.
	SetActive(ctx context.Context, subID id.ID, active bool) error
}
