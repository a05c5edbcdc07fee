// Package webhooks provides a composable webhook dispatch and delivery
// engine for Go.
//
// It is a library, not a service. Import it into your application to get
// tenant-scoped webhook subscriptions, dynamic event type definitions,
// signed at-least-once delivery with exponential backoff retries, a dead
// letter queue, and manual redelivery.
//
// Key features:
//   - Dynamic, persisted event type definitions with JSON Schema validation
//   - Composable store pattern with multiple backends (Postgres, SQLite, Redis, Mongo, Memory)
//   - HMAC-SHA256 signature on every delivery
//   - Exponential backoff retries with dead letter queue and requeue
//   - Per-subscription rate limiting
//   - Test deliveries that never touch durable state
//
// Quick start:
//
//	engine, err := webhooks.New(
//	    webhooks.WithStore(memory.New()),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	engine.RegisterEventType(ctx, catalog.Definition{
//	    Name:    "invoice.paid",
//	    Version: "2026-01-01",
//	})
//
//	engine.Start(ctx)
//	defer engine.Stop(ctx)
//
//	engine.Dispatch(ctx, &event.Event{
//	    Type:     "invoice.paid",
//	    TenantID: "tenant_123",
//	    Data:     json.RawMessage(`{"invoice_id": "inv_01h..."}`),
//	})
package webhooks
