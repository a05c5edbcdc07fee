package delivery

import (
	"context"

	"github.com/tallyhq/webhooks/id"
)

// Store is the persistence contract for deliveries. It doubles as the work
// queue: Dequeue claims due rows atomically (SKIP LOCKED, Lua script,
// findAndModify — backend-specific), and UpdateDelivery persists the outcome
// and releases the claim. A worker crash before UpdateDelivery leaves the
// row claimed until the store's claim expires or a requeue, never silently
// lost.
type Store interface {
	// Enqueue creates a single pending delivery.
	Enqueue(ctx context.Context, d *Delivery) error

	// EnqueueBatch creates multiple deliveries atomically (fan-out). Either
	// the whole batch persists or none of it does.
	EnqueueBatch(ctx context.Context, ds []*Delivery) error

	// Dequeue atomically claims up to limit deliveries that are pending or
	// retrying with NextRetryAt <= now. A claimed delivery is not returned
	// again until UpdateDelivery releases it.
	Dequeue(ctx context.Context, limit int) ([]*Delivery, error)

	// UpdateDelivery persists a delivery's state and releases its claim.
	UpdateDelivery(ctx context.Context, d *Delivery) error

	// GetDelivery returns a delivery by ID.
	GetDelivery(ctx context.Context, delID id.ID) (*Delivery, error)

	// ListBySubscription returns delivery history for a subscription.
	ListBySubscription(ctx context.Context, subID id.ID, opts ListOpts) ([]*Delivery, error)

	// ListByEvent returns all deliveries fanned out from one event.
	ListByEvent(ctx context.Context, evtID id.ID) ([]*Delivery, error)

	// ListByStatus returns a tenant's deliveries in the given status, most
	// recent first. The dead-letter listing is ListByStatus(dead).
	ListByStatus(ctx context.Context, tenantID string, status Status, opts ListOpts) ([]*Delivery, error)

	// CountPending returns the number of deliveries awaiting attempt.
	CountPending(ctx context.Context) (int64, error)

	// CountByStatus returns the number of a tenant's deliveries per status.
	CountByStatus(ctx context.Context, tenantID string) (map[Status]int64, error)
}
