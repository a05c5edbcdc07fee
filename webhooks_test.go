package webhooks_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/tallyhq/webhooks"
	"github.com/tallyhq/webhooks/catalog"
	"github.com/tallyhq/webhooks/delivery"
	"github.com/tallyhq/webhooks/event"
	"github.com/tallyhq/webhooks/store/memory"
	"github.com/tallyhq/webhooks/subscription"
)

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func ctx() context.Context { return context.Background() }

func setup(t *testing.T) (*webhooks.Engine, *memory.Store) {
	t.Helper()
	s := memory.New()
	e, err := webhooks.New(webhooks.WithStore(s))
	if err != nil {
		t.Fatal(err)
	}
	return e, s
}

func registerType(t *testing.T, e *webhooks.Engine, name string) {
	t.Helper()
	_, err := e.RegisterEventType(ctx(), catalog.Definition{
		Name: name,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func createSubscription(t *testing.T, e *webhooks.Engine, tenantID string, patterns []string) {
	t.Helper()
	_, err := e.Subscriptions().Create(ctx(), subscription.Input{
		TenantID:   tenantID,
		URL:        "https://example.com/webhook",
		EventTypes: patterns,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestNewRequiresStore(t *testing.T) {
	_, err := webhooks.New()
	if !errors.Is(err, webhooks.ErrNoStore) {
		t.Fatalf("expected ErrNoStore, got %v", err)
	}
}

func TestDispatchHappyPath(t *testing.T) {
	e, s := setup(t)

	registerType(t, e, "invoice.paid")
	createSubscription(t, e, "t1", []string{"invoice.*"})
	createSubscription(t, e, "t1", []string{"*"})

	evt := &event.Event{
		Type:     "invoice.paid",
		TenantID: "t1",
		Data:     mustJSON(map[string]any{"amount": 100}),
	}

	if err := e.Dispatch(ctx(), evt); err != nil {
		t.Fatal(err)
	}

	if evt.ID.IsNil() {
		t.Fatal("expected event ID to be assigned")
	}

	// 2 subscriptions matched, so 2 deliveries.
	pending, _ := s.CountPending(ctx())
	if pending != 2 {
		t.Fatalf("expected 2 pending deliveries, got %d", pending)
	}

	deliveries, _ := s.ListByEvent(ctx(), evt.ID)
	if len(deliveries) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(deliveries))
	}
	for _, d := range deliveries {
		if d.Status != delivery.StatusPending {
			t.Fatalf("expected pending, got %s", d.Status)
		}
		if d.MaxAttempts != 5 {
			t.Fatalf("expected default max attempts 5, got %d", d.MaxAttempts)
		}
	}

	// Every subscriber receives the identical envelope bytes.
	if !bytes.Equal(deliveries[0].Payload, deliveries[1].Payload) {
		t.Fatal("fan-out payloads must match")
	}
}

func TestDispatchEnvelopeSnapshot(t *testing.T) {
	e, s := setup(t)

	registerType(t, e, "invoice.paid")
	createSubscription(t, e, "t1", []string{"invoice.paid"})

	evt := &event.Event{
		Type:     "invoice.paid",
		TenantID: "t1",
		Data:     mustJSON(map[string]any{"invoice_id": "inv_1"}),
	}
	if err := e.Dispatch(ctx(), evt); err != nil {
		t.Fatal(err)
	}

	deliveries, _ := s.ListByEvent(ctx(), evt.ID)
	if len(deliveries) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(deliveries))
	}

	var env struct {
		ID   string          `json:"id"`
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(deliveries[0].Payload, &env); err != nil {
		t.Fatal(err)
	}
	if env.ID != evt.ID.String() {
		t.Fatalf("envelope ID mismatch: %s vs %s", env.ID, evt.ID)
	}
	if env.Type != "invoice.paid" {
		t.Fatalf("envelope type mismatch: %s", env.Type)
	}
	if !bytes.Equal(env.Data, evt.Data) {
		t.Fatalf("envelope data mismatch: %s", env.Data)
	}
}

func TestDispatchUnknownEventType(t *testing.T) {
	e, _ := setup(t)

	evt := &event.Event{
		Type:     "does.not.exist",
		TenantID: "t1",
		Data:     mustJSON(map[string]any{}),
	}

	err := e.Dispatch(ctx(), evt)
	if !errors.Is(err, webhooks.ErrEventTypeNotFound) {
		t.Fatalf("expected ErrEventTypeNotFound, got %v", err)
	}
}

func TestDispatchDeprecatedEventType(t *testing.T) {
	e, _ := setup(t)

	registerType(t, e, "legacy.event")

	if err := e.Catalog().DeleteType(ctx(), "legacy.event"); err != nil {
		t.Fatal(err)
	}

	evt := &event.Event{
		Type:     "legacy.event",
		TenantID: "t1",
		Data:     mustJSON(map[string]any{}),
	}

	err := e.Dispatch(ctx(), evt)
	if !errors.Is(err, webhooks.ErrEventTypeDeprecated) {
		t.Fatalf("expected ErrEventTypeDeprecated, got %v", err)
	}
}

func TestDispatchSchemaValidationFailure(t *testing.T) {
	e, _ := setup(t)

	_, err := e.RegisterEventType(ctx(), catalog.Definition{
		Name: "validated.event",
		Schema: mustJSON(map[string]any{
			"type": "object",
			"properties": map[string]any{
				"amount": map[string]any{"type": "number"},
			},
			"required": []any{"amount"},
		}),
	})
	if err != nil {
		t.Fatal(err)
	}

	// Missing required field.
	evt := &event.Event{
		Type:     "validated.event",
		TenantID: "t1",
		Data:     mustJSON(map[string]any{"other": "value"}),
	}

	err = e.Dispatch(ctx(), evt)
	if !errors.Is(err, webhooks.ErrPayloadValidationFailed) {
		t.Fatalf("expected ErrPayloadValidationFailed, got %v", err)
	}
}

func TestDispatchSchemaValidationSuccess(t *testing.T) {
	e, _ := setup(t)

	_, err := e.RegisterEventType(ctx(), catalog.Definition{
		Name: "validated.event",
		Schema: mustJSON(map[string]any{
			"type": "object",
			"properties": map[string]any{
				"amount": map[string]any{"type": "number"},
			},
			"required": []any{"amount"},
		}),
	})
	if err != nil {
		t.Fatal(err)
	}

	createSubscription(t, e, "t1", []string{"validated.event"})

	evt := &event.Event{
		Type:     "validated.event",
		TenantID: "t1",
		Data:     mustJSON(map[string]any{"amount": 42.5}),
	}

	if err := e.Dispatch(ctx(), evt); err != nil {
		t.Fatal(err)
	}
}

func TestDispatchIdempotencyKeyNoOp(t *testing.T) {
	e, s := setup(t)

	registerType(t, e, "invoice.paid")
	createSubscription(t, e, "t1", []string{"*"})

	evt1 := &event.Event{
		Type:           "invoice.paid",
		TenantID:       "t1",
		Data:           mustJSON(map[string]any{"v": 1}),
		IdempotencyKey: "idem-1",
	}

	if err := e.Dispatch(ctx(), evt1); err != nil {
		t.Fatal(err)
	}

	count1, _ := s.CountPending(ctx())
	if count1 != 1 {
		t.Fatalf("expected 1 pending, got %d", count1)
	}

	// Same key again: no error, no new deliveries.
	evt2 := &event.Event{
		Type:           "invoice.paid",
		TenantID:       "t1",
		Data:           mustJSON(map[string]any{"v": 2}),
		IdempotencyKey: "idem-1",
	}

	if err := e.Dispatch(ctx(), evt2); err != nil {
		t.Fatal("expected no-op, got:", err)
	}

	count2, _ := s.CountPending(ctx())
	if count2 != 1 {
		t.Fatalf("expected still 1 (idempotent), got %d", count2)
	}
}

func TestDispatchNoMatchingSubscriptions(t *testing.T) {
	e, s := setup(t)

	registerType(t, e, "invoice.paid")
	// No subscriptions created.

	evt := &event.Event{
		Type:     "invoice.paid",
		TenantID: "t1",
		Data:     mustJSON(map[string]any{}),
	}

	if err := e.Dispatch(ctx(), evt); err != nil {
		t.Fatal(err)
	}

	// The event is persisted even with no subscribers.
	got, err := s.GetEvent(ctx(), evt.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Type != "invoice.paid" {
		t.Fatal("expected persisted event")
	}

	pending, _ := s.CountPending(ctx())
	if pending != 0 {
		t.Fatalf("expected 0 pending, got %d", pending)
	}
}

func TestDispatchFanout(t *testing.T) {
	e, s := setup(t)

	registerType(t, e, "expense.approved")

	for range 5 {
		createSubscription(t, e, "t1", []string{"expense.*"})
	}

	evt := &event.Event{
		Type:     "expense.approved",
		TenantID: "t1",
		Data:     mustJSON(map[string]any{"expense_id": "exp_1"}),
	}

	if err := e.Dispatch(ctx(), evt); err != nil {
		t.Fatal(err)
	}

	pending, _ := s.CountPending(ctx())
	if pending != 5 {
		t.Fatalf("expected 5 deliveries, got %d", pending)
	}
}

func TestDispatchTenantIsolation(t *testing.T) {
	e, s := setup(t)

	registerType(t, e, "invoice.paid")
	createSubscription(t, e, "t1", []string{"*"})
	createSubscription(t, e, "t2", []string{"*"})

	evt := &event.Event{
		Type:     "invoice.paid",
		TenantID: "t1",
		Data:     mustJSON(map[string]any{}),
	}
	if err := e.Dispatch(ctx(), evt); err != nil {
		t.Fatal(err)
	}

	pending, _ := s.CountPending(ctx())
	if pending != 1 {
		t.Fatalf("expected 1 delivery, got %d", pending)
	}
}

func TestDispatchSkipsInactiveSubscription(t *testing.T) {
	e, s := setup(t)

	registerType(t, e, "invoice.paid")
	sub, err := e.Subscriptions().Create(ctx(), subscription.Input{
		TenantID:   "t1",
		URL:        "https://example.com/webhook",
		EventTypes: []string{"invoice.*"},
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := e.Subscriptions().SetActive(ctx(), sub.ID, false); err != nil {
		t.Fatal(err)
	}

	evt := &event.Event{
		Type:     "invoice.paid",
		TenantID: "t1",
		Data:     mustJSON(map[string]any{"n": 1}),
	}
	if err := e.Dispatch(ctx(), evt); err != nil {
		t.Fatal(err)
	}

	// The event persists, but the inactive subscription gets no delivery.
	if _, err := s.GetEvent(ctx(), evt.ID); err != nil {
		t.Fatal(err)
	}
	deliveries, _ := s.ListByEvent(ctx(), evt.ID)
	if len(deliveries) != 0 {
		t.Fatalf("expected no deliveries for inactive subscription, got %d", len(deliveries))
	}

	// Reactivating resumes fan-out for subsequent events.
	if err := e.Subscriptions().SetActive(ctx(), sub.ID, true); err != nil {
		t.Fatal(err)
	}

	evt2 := &event.Event{
		Type:     "invoice.paid",
		TenantID: "t1",
		Data:     mustJSON(map[string]any{"n": 2}),
	}
	if err := e.Dispatch(ctx(), evt2); err != nil {
		t.Fatal(err)
	}
	deliveries, _ = s.ListByEvent(ctx(), evt2.ID)
	if len(deliveries) != 1 {
		t.Fatalf("expected exactly 1 delivery after reactivation, got %d", len(deliveries))
	}
}

func TestDispatchMaxAttemptsOption(t *testing.T) {
	s := memory.New()
	e, err := webhooks.New(
		webhooks.WithStore(s),
		webhooks.WithMaxAttempts(3),
	)
	if err != nil {
		t.Fatal(err)
	}

	registerType(t, e, "invoice.paid")
	createSubscription(t, e, "t1", []string{"*"})

	evt := &event.Event{
		Type:     "invoice.paid",
		TenantID: "t1",
		Data:     mustJSON(map[string]any{}),
	}
	if err := e.Dispatch(ctx(), evt); err != nil {
		t.Fatal(err)
	}

	deliveries, _ := s.ListByEvent(ctx(), evt.ID)
	if len(deliveries) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(deliveries))
	}
	if deliveries[0].MaxAttempts != 3 {
		t.Fatalf("expected max attempts 3, got %d", deliveries[0].MaxAttempts)
	}
}
