package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/tallyhq/webhooks"
	"github.com/tallyhq/webhooks/catalog"
	"github.com/tallyhq/webhooks/id"
)

// RegisterType creates or updates an event type definition, upserting by name.
func (s *Store) RegisterType(ctx context.Context, et *catalog.EventType) error {
	m := toEventTypeModel(et)

	var existing eventTypeModel
	err := s.col(colEventTypes).FindOne(ctx, bson.M{"name": m.Name}).Decode(&existing)
	switch {
	case err == nil:
		// Keep the original ID and creation time on re-registration.
		m.ID = existing.ID
		m.CreatedAt = existing.CreatedAt
		if _, err := s.col(colEventTypes).ReplaceOne(ctx, bson.M{"_id": m.ID}, m); err != nil {
			return fmt.Errorf("webhooks/mongo: update event type: %w", err)
		}
		etID, perr := id.ParseEventTypeID(m.ID)
		if perr != nil {
			return perr
		}
		et.ID = etID
		et.CreatedAt = m.CreatedAt
		return nil
	case isNoDocuments(err):
		if _, err := s.col(colEventTypes).InsertOne(ctx, m); err != nil {
			return fmt.Errorf("webhooks/mongo: insert event type: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("webhooks/mongo: lookup event type: %w", err)
	}
}

// GetType returns an event type by name.
func (s *Store) GetType(ctx context.Context, name string) (*catalog.EventType, error) {
	var m eventTypeModel
	err := s.col(colEventTypes).FindOne(ctx, bson.M{"name": name}).Decode(&m)
	if isNoDocuments(err) {
		return nil, webhooks.ErrEventTypeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("webhooks/mongo: get event type: %w", err)
	}
	return fromEventTypeModel(&m)
}

// GetTypeByID returns an event type by its TypeID.
func (s *Store) GetTypeByID(ctx context.Context, etID id.ID) (*catalog.EventType, error) {
	var m eventTypeModel
	err := s.col(colEventTypes).FindOne(ctx, bson.M{"_id": etID.String()}).Decode(&m)
	if isNoDocuments(err) {
		return nil, webhooks.ErrEventTypeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("webhooks/mongo: get event type by ID: %w", err)
	}
	return fromEventTypeModel(&m)
}

// ListTypes returns registered event types, optionally filtered.
func (s *Store) ListTypes(ctx context.Context, opts catalog.ListOpts) ([]*catalog.EventType, error) {
	filter := bson.M{}
	if !opts.IncludeDeprecated {
		filter["is_deprecated"] = false
	}
	if opts.Group != "" {
		filter["group_name"] = opts.Group
	}

	findOpts := options.Find().SetSort(bson.D{{Key: "name", Value: 1}})
	if opts.Offset > 0 {
		findOpts.SetSkip(int64(opts.Offset))
	}
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}

	cur, err := s.col(colEventTypes).Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("webhooks/mongo: list event types: %w", err)
	}
	defer cur.Close(ctx)

	var models []eventTypeModel
	if err := cur.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("webhooks/mongo: decode event types: %w", err)
	}

	out := make([]*catalog.EventType, 0, len(models))
	for i := range models {
		et, err := fromEventTypeModel(&models[i])
		if err != nil {
			return nil, err
		}
		out = append(out, et)
	}
	return out, nil
}

// DeleteType soft-deletes an event type by marking it deprecated.
func (s *Store) DeleteType(ctx context.Context, name string) error {
	t := now()
	res, err := s.col(colEventTypes).UpdateOne(ctx,
		bson.M{"name": name},
		bson.M{"$set": bson.M{
			"is_deprecated": true,
			"deprecated_at": t,
			"updated_at":    t,
		}},
	)
	if err != nil {
		return fmt.Errorf("webhooks/mongo: deprecate event type: %w", err)
	}
	if res.MatchedCount == 0 {
		return webhooks.ErrEventTypeNotFound
	}
	return nil
}
