package dlq_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/tallyhq/webhooks/delivery"
	"github.com/tallyhq/webhooks/dlq"
	"github.com/tallyhq/webhooks/id"
	"github.com/tallyhq/webhooks/internal/entity"
	"github.com/tallyhq/webhooks/store/memory"
	"github.com/tallyhq/webhooks/subscription"
)

func ctx() context.Context { return context.Background() }

func newService() (*dlq.Service, *memory.Store) {
	store := memory.New()
	svc := dlq.NewService(store, store, nil)
	return svc, store
}

func deadDelivery() *delivery.Delivery {
	return &delivery.Delivery{
		Entity:         entity.New(),
		ID:             id.NewDeliveryID(),
		EventID:        id.NewEventID(),
		SubscriptionID: id.NewSubscriptionID(),
		TenantID:       "tenant-1",
		EventType:      "invoice.created",
		Payload:        json.RawMessage(`{"amount":100}`),
		Status:         delivery.StatusDead,
		AttemptCount:   5,
		MaxAttempts:    5,
		LastError:      "server error",
		LastStatusCode: 500,
	}
}

func TestPushDead(t *testing.T) {
	svc, store := newService()

	d := deadDelivery()
	sub := &subscription.Subscription{
		Entity:   entity.New(),
		ID:       d.SubscriptionID,
		TenantID: "tenant-1",
		URL:      "https://example.com/webhook",
	}

	if err := svc.PushDead(ctx(), d, sub); err != nil {
		t.Fatal(err)
	}

	// Verify entry was stored.
	entries, err := store.ListDLQ(ctx(), dlq.ListOpts{Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}

	entry := entries[0]
	if entry.DeliveryID != d.ID {
		t.Fatalf("delivery ID mismatch: got %v, want %v", entry.DeliveryID, d.ID)
	}
	if entry.EventID != d.EventID {
		t.Fatal("event ID mismatch")
	}
	if entry.SubscriptionID != d.SubscriptionID {
		t.Fatal("subscription ID mismatch")
	}
	if entry.EventType != "invoice.created" {
		t.Fatalf("event type: got %q, want %q", entry.EventType, "invoice.created")
	}
	if entry.TenantID != "tenant-1" {
		t.Fatalf("tenant ID: got %q, want %q", entry.TenantID, "tenant-1")
	}
	if entry.URL != "https://example.com/webhook" {
		t.Fatal("URL mismatch")
	}
	if entry.Error != "server error" {
		t.Fatalf("error: got %q, want %q", entry.Error, "server error")
	}
	if entry.AttemptCount != 5 {
		t.Fatalf("attempt count: got %d, want 5", entry.AttemptCount)
	}
	if entry.LastStatusCode != 500 {
		t.Fatalf("status code: got %d, want 500", entry.LastStatusCode)
	}
	if entry.RequeuedAt != nil {
		t.Fatal("fresh entry must not be marked requeued")
	}
}

func TestPushDeadNilSubscription(t *testing.T) {
	svc, store := newService()

	// The subscription row may be gone by the time the delivery dies.
	if err := svc.PushDead(ctx(), deadDelivery(), nil); err != nil {
		t.Fatal(err)
	}

	entries, _ := store.ListDLQ(ctx(), dlq.ListOpts{})
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].URL != "" {
		t.Fatal("expected empty URL without subscription")
	}
}

func TestRequeueResetsDelivery(t *testing.T) {
	svc, store := newService()

	d := deadDelivery()
	if err := store.Enqueue(ctx(), d); err != nil {
		t.Fatal(err)
	}
	if err := svc.PushDead(ctx(), d, nil); err != nil {
		t.Fatal(err)
	}

	requeued, err := svc.Requeue(ctx(), d.ID)
	if err != nil {
		t.Fatal(err)
	}

	if requeued.Status != delivery.StatusPending {
		t.Fatalf("expected pending, got %q", requeued.Status)
	}
	if requeued.AttemptCount != 0 {
		t.Fatalf("expected AttemptCount 0, got %d", requeued.AttemptCount)
	}

	// The DLQ entry is stamped, not deleted: the audit trail survives.
	entries, _ := store.ListDLQ(ctx(), dlq.ListOpts{})
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].RequeuedAt == nil {
		t.Fatal("expected RequeuedAt to be stamped")
	}

	// The count of actionable entries drops to zero.
	n, err := svc.Count(ctx())
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("expected 0 un-requeued entries, got %d", n)
	}
}

func TestRequeueRejectsNonDeadDelivery(t *testing.T) {
	svc, store := newService()

	d := deadDelivery()
	d.Status = delivery.StatusRetrying
	if err := store.Enqueue(ctx(), d); err != nil {
		t.Fatal(err)
	}

	_, err := svc.Requeue(ctx(), d.ID)
	if !errors.Is(err, delivery.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for non-dead delivery, got %v", err)
	}
}

func TestRequeueBulk(t *testing.T) {
	svc, store := newService()

	// Three dead deliveries inside the window.
	var ids []id.ID
	for range 3 {
		d := deadDelivery()
		if err := store.Enqueue(ctx(), d); err != nil {
			t.Fatal(err)
		}
		if err := svc.PushDead(ctx(), d, nil); err != nil {
			t.Fatal(err)
		}
		ids = append(ids, d.ID)
	}

	from := time.Now().UTC().Add(-time.Hour)
	to := time.Now().UTC().Add(time.Hour)

	count, err := svc.RequeueBulk(ctx(), from, to)
	if err != nil {
		t.Fatal(err)
	}
	if count != 3 {
		t.Fatalf("expected 3 requeued, got %d", count)
	}

	for _, delID := range ids {
		got, err := store.GetDelivery(ctx(), delID)
		if err != nil {
			t.Fatal(err)
		}
		if got.Status != delivery.StatusPending {
			t.Fatalf("delivery %s: expected pending, got %q", delID, got.Status)
		}
	}

	// A second pass finds nothing actionable.
	count, err = svc.RequeueBulk(ctx(), from, to)
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Fatalf("expected 0 on second pass, got %d", count)
	}
}

func TestRequeueBulkWindowExcludes(t *testing.T) {
	svc, store := newService()

	d := deadDelivery()
	if err := store.Enqueue(ctx(), d); err != nil {
		t.Fatal(err)
	}
	if err := svc.PushDead(ctx(), d, nil); err != nil {
		t.Fatal(err)
	}

	// Window entirely in the past.
	from := time.Now().UTC().Add(-2 * time.Hour)
	to := time.Now().UTC().Add(-time.Hour)

	count, err := svc.RequeueBulk(ctx(), from, to)
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Fatalf("expected 0 requeued outside window, got %d", count)
	}
}

func TestPurge(t *testing.T) {
	svc, store := newService()

	for range 2 {
		if err := svc.PushDead(ctx(), deadDelivery(), nil); err != nil {
			t.Fatal(err)
		}
	}

	// Purge everything older than the future threshold.
	n, err := svc.Purge(ctx(), time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("expected 2 purged, got %d", n)
	}

	entries, _ := store.ListDLQ(ctx(), dlq.ListOpts{})
	if len(entries) != 0 {
		t.Fatalf("expected empty DLQ, got %d entries", len(entries))
	}
}

func TestListFilters(t *testing.T) {
	svc, _ := newService()

	d1 := deadDelivery()
	if err := svc.PushDead(ctx(), d1, nil); err != nil {
		t.Fatal(err)
	}
	d2 := deadDelivery()
	d2.TenantID = "tenant-2"
	if err := svc.PushDead(ctx(), d2, nil); err != nil {
		t.Fatal(err)
	}

	entries, err := svc.List(ctx(), dlq.ListOpts{TenantID: "tenant-2"})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry for tenant-2, got %d", len(entries))
	}

	bySub, err := svc.List(ctx(), dlq.ListOpts{SubscriptionID: &d1.SubscriptionID})
	if err != nil {
		t.Fatal(err)
	}
	if len(bySub) != 1 {
		t.Fatalf("expected 1 entry by subscription, got %d", len(bySub))
	}
}
