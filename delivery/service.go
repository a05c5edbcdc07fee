package delivery

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/tallyhq/webhooks/event"
	"github.com/tallyhq/webhooks/id"
	"github.com/tallyhq/webhooks/subscription"
)

// TestTimeout bounds the synchronous test delivery HTTP call.
const TestTimeout = 10 * time.Second

// ServiceStore is the interface the delivery service needs.
type ServiceStore interface {
	GetDelivery(ctx context.Context, delID id.ID) (*Delivery, error)
	UpdateDelivery(ctx context.Context, d *Delivery) error
	ListBySubscription(ctx context.Context, subID id.ID, opts ListOpts) ([]*Delivery, error)
	ListByEvent(ctx context.Context, evtID id.ID) ([]*Delivery, error)
	ListByStatus(ctx context.Context, tenantID string, status Status, opts ListOpts) ([]*Delivery, error)
	GetSubscription(ctx context.Context, subID id.ID) (*subscription.Subscription, error)
}

// Service exposes operator-facing delivery operations: history, manual
// redelivery, and synchronous test deliveries.
type Service struct {
	store  ServiceStore
	sender *Sender
	logger *slog.Logger
}

// NewService creates a delivery service.
func NewService(store ServiceStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		sender: NewSender(TestTimeout),
		logger: logger,
	}
}

// Get returns one delivery, verifying it belongs to the subscription.
func (svc *Service) Get(ctx context.Context, subID, delID id.ID) (*Delivery, error) {
	d, err := svc.store.GetDelivery(ctx, delID)
	if err != nil {
		return nil, err
	}
	if d.SubscriptionID.String() != subID.String() {
		return nil, ErrNotFound
	}
	return d, nil
}

// List returns delivery history for a subscription, filtered and paginated.
func (svc *Service) List(ctx context.Context, subID id.ID, opts ListOpts) ([]*Delivery, error) {
	return svc.store.ListBySubscription(ctx, subID, opts)
}

// ListDead returns a tenant's dead-lettered deliveries, most recent first.
func (svc *Service) ListDead(ctx context.Context, tenantID string, opts ListOpts) ([]*Delivery, error) {
	return svc.store.ListByStatus(ctx, tenantID, StatusDead, opts)
}

// Redeliver resets a failed or dead delivery for a fresh attempt cycle:
// AttemptCount back to 0, status pending, attempt bookkeeping cleared. The
// worker picks it up on its next poll. Deliveries in any other state are
// rejected so an in-flight record cannot be duplicated.
func (svc *Service) Redeliver(ctx context.Context, subID, delID id.ID) (*Delivery, error) {
	d, err := svc.store.GetDelivery(ctx, delID)
	if err != nil {
		return nil, err
	}
	if d.SubscriptionID.String() != subID.String() {
		return nil, ErrNotFound
	}

	if d.Status != StatusFailed && d.Status != StatusDead {
		return nil, ErrNotRedeliverable
	}

	Reset(d)

	if err := svc.store.UpdateDelivery(ctx, d); err != nil {
		return nil, err
	}

	svc.logger.InfoContext(ctx, "delivery requeued",
		"delivery_id", d.ID, "subscription_id", subID)

	return d, nil
}

// Reset returns a delivery to the start of a fresh attempt cycle. Shared by
// redelivery and DLQ requeue.
func Reset(d *Delivery) {
	d.Status = StatusPending
	d.AttemptCount = 0
	d.NextRetryAt = time.Time{}
	d.LastError = ""
	d.LastStatusCode = 0
	d.LastResponse = ""
	d.LastLatencyMs = 0
	d.DeliveredAt = nil
}

// TestResult is the synchronous outcome of a test delivery.
type TestResult struct {
	Success      bool   `json:"success"`
	StatusCode   int    `json:"status_code,omitempty"`
	ResponseBody string `json:"response_body,omitempty"`
	Error        string `json:"error,omitempty"`
	LatencyMs    int    `json:"latency_ms"`
}

// Test performs a one-off synchronous delivery so operators can validate an
// endpoint before relying on async dispatch. It builds an ad-hoc envelope
// with a distinct test id prefix, signs and POSTs it once with a bounded
// timeout, and reports the outcome directly. Nothing is persisted and
// failures are never retried.
func (svc *Service) Test(ctx context.Context, subID id.ID, eventType string, data json.RawMessage) (*TestResult, error) {
	sub, err := svc.store.GetSubscription(ctx, subID)
	if err != nil {
		return nil, err
	}

	env := event.Envelope{
		ID:        id.NewTestEventID().String(),
		Type:      eventType,
		CreatedAt: time.Now().UTC(),
		Data:      data,
	}
	payload, err := env.Marshal()
	if err != nil {
		return nil, err
	}

	result := svc.sender.Send(ctx, sub, env.ID, payload)

	return &TestResult{
		Success:      result.StatusCode >= 200 && result.StatusCode < 300,
		StatusCode:   result.StatusCode,
		ResponseBody: truncate(result.Response, MaxResponseBody),
		Error:        result.Error,
		LatencyMs:    result.LatencyMs,
	}, nil
}
