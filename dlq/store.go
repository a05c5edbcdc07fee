package dlq

import (
	"context"
	"time"

	"github.com/tallyhq/webhooks/id"
)

// Store defines the persistence contract for the dead letter queue.
type Store interface {
	// PushEntry records a permanently failed delivery in the DLQ.
	PushEntry(ctx context.Context, entry *Entry) error

	// ListDLQ returns DLQ entries, optionally filtered, most recent failure
	// first.
	ListDLQ(ctx context.Context, opts ListOpts) ([]*Entry, error)

	// GetDLQ returns a DLQ entry by ID.
	GetDLQ(ctx context.Context, dlqID id.ID) (*Entry, error)

	// GetDLQByDelivery returns the newest un-requeued entry for a delivery.
	GetDLQByDelivery(ctx context.Context, delID id.ID) (*Entry, error)

	// MarkRequeued stamps RequeuedAt on an entry.
	MarkRequeued(ctx context.Context, dlqID id.ID, at time.Time) error

	// PurgeDLQ deletes DLQ entries older than a threshold.
	PurgeDLQ(ctx context.Context, before time.Time) (int64, error)

	// CountDLQ returns the total number of un-requeued DLQ entries.
	CountDLQ(ctx context.Context) (int64, error)
}
