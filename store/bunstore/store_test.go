package bunstore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tallyhq/webhooks"
	"github.com/tallyhq/webhooks/catalog"
	"github.com/tallyhq/webhooks/delivery"
	"github.com/tallyhq/webhooks/dlq"
	"github.com/tallyhq/webhooks/event"
	"github.com/tallyhq/webhooks/id"
	"github.com/tallyhq/webhooks/internal/entity"
	"github.com/tallyhq/webhooks/store/bunstore"
	"github.com/tallyhq/webhooks/subscription"
)

func newStore(t *testing.T) *bunstore.Store {
	t.Helper()

	s, err := bunstore.NewSQLite(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	// In-memory SQLite lives per connection.
	s.DB().SetMaxOpenConns(1)
	t.Cleanup(func() { s.Close() })

	if err := s.Migrate(context.Background()); err != nil {
		t.Fatal(err)
	}
	return s
}

func TestMigrateIdempotent(t *testing.T) {
	s := newStore(t)

	// Running migrations twice must not fail.
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := s.Ping(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestEventTypeRoundTrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	et := &catalog.EventType{
		Entity: entity.New(),
		ID:     id.NewEventTypeID(),
		Definition: catalog.Definition{
			Name:        "invoice.paid",
			Description: "an invoice was paid",
			Group:       "billing",
			Schema:      []byte(`{"type":"object"}`),
		},
		Metadata: map[string]string{"owner": "billing-team"},
	}
	if err := s.RegisterType(ctx, et); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetType(ctx, "invoice.paid")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID.String() != et.ID.String() {
		t.Fatalf("ID mismatch: %s vs %s", got.ID, et.ID)
	}
	if got.Definition.Group != "billing" {
		t.Fatalf("group not persisted: %q", got.Definition.Group)
	}
	if string(got.Definition.Schema) != `{"type":"object"}` {
		t.Fatalf("schema not persisted: %s", got.Definition.Schema)
	}
	if got.Metadata["owner"] != "billing-team" {
		t.Fatalf("metadata not persisted: %v", got.Metadata)
	}

	// Upsert keeps the original ID.
	et2 := &catalog.EventType{
		Entity:     entity.New(),
		ID:         id.NewEventTypeID(),
		Definition: catalog.Definition{Name: "invoice.paid", Description: "v2"},
	}
	if err := s.RegisterType(ctx, et2); err != nil {
		t.Fatal(err)
	}
	got, err = s.GetType(ctx, "invoice.paid")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID.String() != et.ID.String() {
		t.Fatal("upsert must not change the ID")
	}
	if got.Definition.Description != "v2" {
		t.Fatalf("description not updated: %q", got.Definition.Description)
	}
}

func TestSubscriptionRoundTrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	sub := &subscription.Subscription{
		Entity:     entity.New(),
		ID:         id.NewSubscriptionID(),
		TenantID:   "t1",
		URL:        "https://example.com/hooks",
		Secret:     "whsec_test",
		EventTypes: []string{"invoice.*", "expense.approved"},
		Headers:    map[string]string{"X-Env": "prod"},
		Active:     true,
	}
	if err := s.CreateSubscription(ctx, sub); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetSubscription(ctx, sub.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.EventTypes) != 2 || got.EventTypes[0] != "invoice.*" {
		t.Fatalf("event types not persisted: %v", got.EventTypes)
	}
	if got.Headers["X-Env"] != "prod" {
		t.Fatalf("headers not persisted: %v", got.Headers)
	}

	// Resolve matches glob patterns across the stored rows.
	matched, err := s.Resolve(ctx, "t1", "invoice.paid")
	if err != nil {
		t.Fatal(err)
	}
	if len(matched) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matched))
	}

	// Soft delete hides from listings but not from Get.
	now := time.Now().UTC()
	got.DeletedAt = &now
	got.Active = false
	if err := s.UpdateSubscription(ctx, got); err != nil {
		t.Fatal(err)
	}
	subs, err := s.ListSubscriptions(ctx, "t1", subscription.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(subs) != 0 {
		t.Fatalf("expected deleted subscription hidden, got %d", len(subs))
	}
	if _, err := s.GetSubscription(ctx, sub.ID); err != nil {
		t.Fatal(err)
	}
}

func TestEventIdempotencyIndex(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	mk := func(tenant, key string) *event.Event {
		return &event.Event{
			Entity:         entity.New(),
			ID:             id.NewEventID(),
			Type:           "invoice.paid",
			TenantID:       tenant,
			Data:           []byte(`{}`),
			IdempotencyKey: key,
		}
	}

	if err := s.CreateEvent(ctx, mk("t1", "req-1")); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateEvent(ctx, mk("t1", "req-1")); !errors.Is(err, webhooks.ErrDuplicateIdempotencyKey) {
		t.Fatalf("expected ErrDuplicateIdempotencyKey, got %v", err)
	}
	// Another tenant can reuse the key.
	if err := s.CreateEvent(ctx, mk("t2", "req-1")); err != nil {
		t.Fatal(err)
	}
	// Keyless events never conflict.
	if err := s.CreateEvent(ctx, mk("t1", "")); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateEvent(ctx, mk("t1", "")); err != nil {
		t.Fatal(err)
	}
}

func TestDequeueClaimsRow(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	d := &delivery.Delivery{
		Entity:         entity.New(),
		ID:             id.NewDeliveryID(),
		EventID:        id.NewEventID(),
		SubscriptionID: id.NewSubscriptionID(),
		TenantID:       "t1",
		EventType:      "invoice.paid",
		Payload:        []byte(`{"id":"evt_x"}`),
		Status:         delivery.StatusPending,
		MaxAttempts:    5,
	}
	if err := s.Enqueue(ctx, d); err != nil {
		t.Fatal(err)
	}

	batch, err := s.Dequeue(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(batch) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(batch))
	}
	if batch[0].Status != delivery.StatusDelivering {
		t.Fatalf("claimed delivery must be delivering, got %s", batch[0].Status)
	}

	// The claimed row stays invisible to other workers.
	again, err := s.Dequeue(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(again) != 0 {
		t.Fatalf("expected no deliveries while claimed, got %d", len(again))
	}

	// Persisting a retryable outcome releases the claim.
	claimed := batch[0]
	claimed.Status = delivery.StatusRetrying
	claimed.AttemptCount = 1
	claimed.NextRetryAt = time.Now().Add(-time.Second)
	claimed.LastError = "connection refused"
	if err := s.UpdateDelivery(ctx, claimed); err != nil {
		t.Fatal(err)
	}

	batch, err = s.Dequeue(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(batch) != 1 {
		t.Fatalf("expected released delivery back, got %d", len(batch))
	}
	if batch[0].AttemptCount != 1 || batch[0].LastError != "connection refused" {
		t.Fatalf("outcome fields not persisted: %+v", batch[0])
	}
}

func TestDequeueReclaimsStaleClaim(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	d := &delivery.Delivery{
		Entity:         entity.New(),
		ID:             id.NewDeliveryID(),
		EventID:        id.NewEventID(),
		SubscriptionID: id.NewSubscriptionID(),
		TenantID:       "t1",
		EventType:      "invoice.paid",
		Payload:        []byte(`{}`),
		Status:         delivery.StatusPending,
		AttemptCount:   1,
		MaxAttempts:    5,
	}
	if err := s.Enqueue(ctx, d); err != nil {
		t.Fatal(err)
	}

	batch, err := s.Dequeue(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(batch) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(batch))
	}

	// The claiming worker dies without writing the row back. A fresh claim
	// keeps the row invisible.
	again, err := s.Dequeue(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(again) != 0 {
		t.Fatalf("expected no deliveries while claim is fresh, got %d", len(again))
	}

	// Age the claim past the visibility window.
	stale := time.Now().UTC().Add(-delivery.VisibilityTimeout - time.Minute)
	if _, err := s.DB().NewRaw(
		"UPDATE webhook_deliveries SET updated_at = ? WHERE id = ?",
		stale, d.ID.String(),
	).Exec(ctx); err != nil {
		t.Fatal(err)
	}

	reclaimed, err := s.Dequeue(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(reclaimed) != 1 {
		t.Fatalf("expected stale claim handed out again, got %d", len(reclaimed))
	}
	if reclaimed[0].ID.String() != d.ID.String() {
		t.Fatalf("expected delivery %s, got %s", d.ID, reclaimed[0].ID)
	}
	if reclaimed[0].AttemptCount != 1 {
		t.Fatalf("expected AttemptCount preserved across reclaim, got %d", reclaimed[0].AttemptCount)
	}
}

func TestDequeueSkipsFutureRetries(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	d := &delivery.Delivery{
		Entity:         entity.New(),
		ID:             id.NewDeliveryID(),
		EventID:        id.NewEventID(),
		SubscriptionID: id.NewSubscriptionID(),
		TenantID:       "t1",
		EventType:      "invoice.paid",
		Payload:        []byte(`{}`),
		Status:         delivery.StatusRetrying,
		AttemptCount:   1,
		MaxAttempts:    5,
		NextRetryAt:    time.Now().Add(time.Hour),
	}
	if err := s.Enqueue(ctx, d); err != nil {
		t.Fatal(err)
	}

	batch, err := s.Dequeue(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(batch) != 0 {
		t.Fatalf("expected no due deliveries, got %d", len(batch))
	}
}

func TestDLQRoundTrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	entry := &dlq.Entry{
		Entity:         entity.New(),
		ID:             id.NewDLQID(),
		DeliveryID:     id.NewDeliveryID(),
		EventID:        id.NewEventID(),
		SubscriptionID: id.NewSubscriptionID(),
		EventType:      "invoice.paid",
		TenantID:       "t1",
		URL:            "https://example.com/hooks",
		Payload:        []byte(`{}`),
		Error:          "max attempts exhausted",
		AttemptCount:   5,
		FailedAt:       time.Now().UTC(),
	}
	if err := s.PushEntry(ctx, entry); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetDLQByDelivery(ctx, entry.DeliveryID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Error != "max attempts exhausted" {
		t.Fatalf("error not persisted: %q", got.Error)
	}

	if err := s.MarkRequeued(ctx, entry.ID, time.Now().UTC()); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetDLQByDelivery(ctx, entry.DeliveryID); !errors.Is(err, webhooks.ErrDLQNotFound) {
		t.Fatalf("expected ErrDLQNotFound after requeue, got %v", err)
	}

	count, err := s.CountDLQ(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Fatalf("expected 0 un-requeued entries, got %d", count)
	}
}
