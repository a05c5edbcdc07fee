// Package dlq manages the dead letter queue: the audit trail of deliveries
// whose retries were exhausted, and the manual recovery path back into the
// delivery queue.
package dlq

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/tallyhq/webhooks/delivery"
	"github.com/tallyhq/webhooks/id"
	"github.com/tallyhq/webhooks/internal/entity"
	"github.com/tallyhq/webhooks/subscription"
)

// DeliveryStore is the slice of the delivery store the DLQ service needs to
// requeue dead rows.
type DeliveryStore interface {
	GetDelivery(ctx context.Context, delID id.ID) (*delivery.Delivery, error)
	UpdateDelivery(ctx context.Context, d *delivery.Delivery) error
}

// Service manages the dead letter queue.
type Service struct {
	store      Store
	deliveries DeliveryStore
	logger     *slog.Logger
}

// NewService creates a new DLQ service.
func NewService(store Store, deliveries DeliveryStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:      store,
		deliveries: deliveries,
		logger:     logger,
	}
}

// PushDead records a DLQ entry for a dead delivery. Implements
// delivery.DLQPusher. sub may be nil when the subscription row disappeared;
// the entry still captures everything the delivery itself knows.
func (svc *Service) PushDead(ctx context.Context, d *delivery.Delivery, sub *subscription.Subscription) error {
	entry := &Entry{
		Entity:         entity.New(),
		ID:             id.NewDLQID(),
		DeliveryID:     d.ID,
		EventID:        d.EventID,
		SubscriptionID: d.SubscriptionID,
		EventType:      d.EventType,
		TenantID:       d.TenantID,
		Payload:        d.Payload,
		Error:          d.LastError,
		AttemptCount:   d.AttemptCount,
		LastStatusCode: d.LastStatusCode,
		FailedAt:       time.Now().UTC(),
	}
	if sub != nil {
		entry.URL = sub.URL
	}

	return svc.store.PushEntry(ctx, entry)
}

// List returns DLQ entries matching the given options.
func (svc *Service) List(ctx context.Context, opts ListOpts) ([]*Entry, error) {
	return svc.store.ListDLQ(ctx, opts)
}

// Get returns a DLQ entry by ID.
func (svc *Service) Get(ctx context.Context, dlqID id.ID) (*Entry, error) {
	return svc.store.GetDLQ(ctx, dlqID)
}

// Requeue resets a dead delivery for a fresh attempt cycle and stamps its
// DLQ entry. Rows in any other state signal not-found, so an in-flight
// delivery can never be duplicated by an operator click.
func (svc *Service) Requeue(ctx context.Context, delID id.ID) (*delivery.Delivery, error) {
	d, err := svc.deliveries.GetDelivery(ctx, delID)
	if err != nil {
		return nil, err
	}

	if d.Status != delivery.StatusDead {
		return nil, delivery.ErrNotFound
	}

	delivery.Reset(d)
	if err := svc.deliveries.UpdateDelivery(ctx, d); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if entry, entryErr := svc.store.GetDLQByDelivery(ctx, delID); entryErr == nil {
		if markErr := svc.store.MarkRequeued(ctx, entry.ID, now); markErr != nil {
			svc.logger.WarnContext(ctx, "mark DLQ entry requeued failed",
				"dlq_id", entry.ID, "error", markErr)
		}
	}

	svc.logger.InfoContext(ctx, "dead delivery requeued", "delivery_id", delID)
	return d, nil
}

// RequeueBulk requeues every un-requeued dead delivery that failed inside
// the given time window. Returns the number requeued.
func (svc *Service) RequeueBulk(ctx context.Context, from, to time.Time) (int64, error) {
	entries, err := svc.store.ListDLQ(ctx, ListOpts{From: &from, To: &to})
	if err != nil {
		return 0, err
	}

	var count int64
	for _, e := range entries {
		if e.RequeuedAt != nil {
			continue
		}
		if _, requeueErr := svc.Requeue(ctx, e.DeliveryID); requeueErr != nil {
			// Already requeued through another entry, or swept by a racing
			// bulk call. Skip rather than abort the batch.
			if errors.Is(requeueErr, delivery.ErrNotFound) {
				continue
			}
			return count, requeueErr
		}
		count++
	}
	return count, nil
}

// Purge removes DLQ entries older than the threshold.
func (svc *Service) Purge(ctx context.Context, before time.Time) (int64, error) {
	return svc.store.PurgeDLQ(ctx, before)
}

// Count returns the number of un-requeued DLQ entries.
func (svc *Service) Count(ctx context.Context) (int64, error) {
	return svc.store.CountDLQ(ctx)
}
