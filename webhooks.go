package webhooks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tallyhq/webhooks/catalog"
	"github.com/tallyhq/webhooks/delivery"
	"github.com/tallyhq/webhooks/dlq"
	"github.com/tallyhq/webhooks/event"
	"github.com/tallyhq/webhooks/id"
	"github.com/tallyhq/webhooks/internal/entity"
	"github.com/tallyhq/webhooks/scope"
	"github.com/tallyhq/webhooks/store"
	"github.com/tallyhq/webhooks/subscription"
)

// wireServices initializes the internal services after options have been applied.
func (e *Engine) wireServices() {
	e.catalog = catalog.NewCatalog(e.store, catalog.Config{
		CacheTTL: e.config.CacheTTL,
	}, e.logger)

	e.validator = catalog.NewValidator()

	e.subSvc = subscription.NewService(e.store, e.logger)

	e.delSvc = delivery.NewService(e.store, e.logger)

	e.dlqSvc = dlq.NewService(e.store, e.store, e.logger)

	e.worker = delivery.NewWorker(e.store, e.dlqSvc, delivery.WorkerConfig{
		Concurrency:     e.config.Concurrency,
		PollInterval:    e.config.PollInterval,
		BatchSize:       e.config.BatchSize,
		RequestTimeout:  e.config.RequestTimeout,
		Backoff:         e.config.Backoff,
		Metrics:         e.metrics,
		Tracer:          e.tracer,
		ShutdownTimeout: e.config.ShutdownTimeout,
	}, e.logger)
}

// Start begins the delivery worker pool.
func (e *Engine) Start(ctx context.Context) {
	e.worker.Start(ctx)
}

// Stop gracefully shuts down the delivery worker pool.
func (e *Engine) Stop(ctx context.Context) {
	e.worker.Stop(ctx)
}

// RegisterEventType registers a webhook event type definition in the catalog.
func (e *Engine) RegisterEventType(ctx context.Context, def catalog.Definition, opts ...catalog.RegisterOption) (*catalog.EventType, error) {
	return e.catalog.RegisterType(ctx, def, opts...)
}

// Dispatch validates and persists an event, then fans out deliveries to
// matching subscriptions.
//
// The critical path:
//  1. Look up the event type in the catalog (reject unknown types).
//  2. Check whether the event type is deprecated (reject if so).
//  3. Validate the event payload against the JSON Schema (if configured).
//  4. Persist the event (idempotency key dedup is handled here).
//  5. Resolve matching active subscriptions for this tenant + event type.
//  6. Serialize the envelope once and enqueue one delivery per match.
//
// Zero matches is a success: the event is persisted and nothing is enqueued.
// A store failure anywhere aborts the whole dispatch.
func (e *Engine) Dispatch(ctx context.Context, evt *event.Event) error {
	// 1. Validate event type exists.
	et, err := e.catalog.GetType(ctx, evt.Type)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrEventTypeNotFound, evt.Type)
	}

	// 2. Reject deprecated event types.
	if et.IsDeprecated {
		return fmt.Errorf("%w: %s", ErrEventTypeDeprecated, evt.Type)
	}

	// 3. Validate payload against schema (if defined).
	if len(et.Definition.Schema) > 0 {
		if validateErr := e.validator.ValidateRaw(et.Definition.Schema, evt.Data); validateErr != nil {
			return fmt.Errorf("%w: %s", ErrPayloadValidationFailed, validateErr.Error())
		}
	}

	// 4. Assign ID, capture tenant scope, set entity timestamps.
	evt.Entity = entity.New()
	evt.ID = id.NewEventID()
	if evt.TenantID == "" {
		evt.TenantID = scope.Tenant(ctx)
	}

	// Persist the event. Idempotency key conflicts return a no-op success.
	if createErr := e.store.CreateEvent(ctx, evt); createErr != nil {
		if errors.Is(createErr, ErrDuplicateIdempotencyKey) {
			return nil // idempotent: already processed
		}
		return fmt.Errorf("webhooks: persist event: %w", createErr)
	}

	// 5. Resolve matching subscriptions.
	subs, err := e.store.Resolve(ctx, evt.TenantID, evt.Type)
	if err != nil {
		return fmt.Errorf("webhooks: resolve subscriptions: %w", err)
	}

	if len(subs) == 0 {
		return nil // no matching subscriptions — nothing to deliver
	}

	// 6. Serialize the envelope once; every subscriber receives identical bytes.
	payload, err := evt.Envelope().Marshal()
	if err != nil {
		return fmt.Errorf("webhooks: marshal envelope: %w", err)
	}

	now := time.Now().UTC()
	deliveries := make([]*delivery.Delivery, 0, len(subs))
	for _, sub := range subs {
		d := &delivery.Delivery{
			Entity:         entity.New(),
			ID:             id.NewDeliveryID(),
			EventID:        evt.ID,
			SubscriptionID: sub.ID,
			TenantID:       evt.TenantID,
			EventType:      evt.Type,
			Payload:        payload,
			Status:         delivery.StatusPending,
			AttemptCount:   0,
			MaxAttempts:    e.config.MaxAttempts,
			NextRetryAt:    now,
		}
		deliveries = append(deliveries, d)
	}

	if err := e.store.EnqueueBatch(ctx, deliveries); err != nil {
		return fmt.Errorf("webhooks: enqueue deliveries: %w", err)
	}

	if e.metrics != nil {
		e.metrics.EventsDispatched.Inc()
		e.metrics.PendingDeliveries.Add(float64(len(deliveries)))
	}

	e.logger.DebugContext(ctx, "event dispatched",
		"event_id", evt.ID,
		"type", evt.Type,
		"subscriptions", len(subs),
	)

	return nil
}

// Subscriptions returns the subscription management service.
func (e *Engine) Subscriptions() *subscription.Service {
	return e.subSvc
}

// Deliveries returns the delivery inspection and redelivery service.
func (e *Engine) Deliveries() *delivery.Service {
	return e.delSvc
}

// Catalog returns the event type catalog.
func (e *Engine) Catalog() *catalog.Catalog {
	return e.catalog
}

// DLQ returns the dead letter queue service.
func (e *Engine) DLQ() *dlq.Service {
	return e.dlqSvc
}

// Store returns the underlying store.
func (e *Engine) Store() store.Store {
	return e.store
}
