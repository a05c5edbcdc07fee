// Package store defines the composite Store interface for all persistence.
//
// Each subsystem defines its own store interface next to its domain types;
// the aggregate Store composes them all, so one backend satisfies the whole
// engine while services depend only on the slice they use.
package store

import (
	"context"

	"github.com/tallyhq/webhooks/catalog"
	"github.com/tallyhq/webhooks/delivery"
	"github.com/tallyhq/webhooks/dlq"
	"github.com/tallyhq/webhooks/event"
	"github.com/tallyhq/webhooks/subscription"
)

// Store is the aggregate persistence interface.
type Store interface {
	catalog.Store
	subscription.Store
	event.Store
	delivery.Store
	dlq.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
