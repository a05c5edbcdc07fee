package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/tallyhq/webhooks"
	"github.com/tallyhq/webhooks/event"
	"github.com/tallyhq/webhooks/id"
)

// CreateEvent persists an event. The sparse unique index on
// (tenant_id, idempotency_key) rejects replays.
func (s *Store) CreateEvent(ctx context.Context, evt *event.Event) error {
	_, err := s.col(colEvents).InsertOne(ctx, toEventModel(evt))
	if mongod.IsDuplicateKeyError(err) {
		return webhooks.ErrDuplicateIdempotencyKey
	}
	if err != nil {
		return fmt.Errorf("webhooks/mongo: insert event: %w", err)
	}
	return nil
}

// GetEvent returns an event by ID.
func (s *Store) GetEvent(ctx context.Context, evtID id.ID) (*event.Event, error) {
	var m eventModel
	err := s.col(colEvents).FindOne(ctx, bson.M{"_id": evtID.String()}).Decode(&m)
	if isNoDocuments(err) {
		return nil, webhooks.ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("webhooks/mongo: get event: %w", err)
	}
	return fromEventModel(&m)
}

// ListEvents returns events, optionally filtered by type or time range.
func (s *Store) ListEvents(ctx context.Context, opts event.ListOpts) ([]*event.Event, error) {
	return s.findEvents(ctx, bson.M{}, opts)
}

// ListEventsByTenant returns events for a specific tenant.
func (s *Store) ListEventsByTenant(ctx context.Context, tenantID string, opts event.ListOpts) ([]*event.Event, error) {
	return s.findEvents(ctx, bson.M{"tenant_id": tenantID}, opts)
}

func (s *Store) findEvents(ctx context.Context, filter bson.M, opts event.ListOpts) ([]*event.Event, error) {
	if opts.Type != "" {
		filter["type"] = opts.Type
	}
	if opts.From != nil || opts.To != nil {
		rng := bson.M{}
		if opts.From != nil {
			rng["$gte"] = *opts.From
		}
		if opts.To != nil {
			rng["$lte"] = *opts.To
		}
		filter["created_at"] = rng
	}

	findOpts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if opts.Offset > 0 {
		findOpts.SetSkip(int64(opts.Offset))
	}
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}

	cur, err := s.col(colEvents).Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("webhooks/mongo: list events: %w", err)
	}
	defer cur.Close(ctx)

	var models []eventModel
	if err := cur.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("webhooks/mongo: decode events: %w", err)
	}

	out := make([]*event.Event, 0, len(models))
	for i := range models {
		evt, err := fromEventModel(&models[i])
		if err != nil {
			return nil, err
		}
		out = append(out, evt)
	}
	return out, nil
}
