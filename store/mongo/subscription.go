package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/tallyhq/webhooks"
	"github.com/tallyhq/webhooks/catalog"
	"github.com/tallyhq/webhooks/id"
	"github.com/tallyhq/webhooks/subscription"
)

// CreateSubscription persists a new subscription.
func (s *Store) CreateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	if _, err := s.col(colSubscriptions).InsertOne(ctx, toSubscriptionModel(sub)); err != nil {
		return fmt.Errorf("webhooks/mongo: insert subscription: %w", err)
	}
	return nil
}

// GetSubscription returns a subscription by ID, including soft-deleted rows.
func (s *Store) GetSubscription(ctx context.Context, subID id.ID) (*subscription.Subscription, error) {
	var m subscriptionModel
	err := s.col(colSubscriptions).FindOne(ctx, bson.M{"_id": subID.String()}).Decode(&m)
	if isNoDocuments(err) {
		return nil, webhooks.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("webhooks/mongo: get subscription: %w", err)
	}
	return fromSubscriptionModel(&m)
}

// UpdateSubscription replaces an existing subscription document.
func (s *Store) UpdateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	res, err := s.col(colSubscriptions).ReplaceOne(ctx,
		bson.M{"_id": sub.ID.String()}, toSubscriptionModel(sub))
	if err != nil {
		return fmt.Errorf("webhooks/mongo: update subscription: %w", err)
	}
	if res.MatchedCount == 0 {
		return webhooks.ErrSubscriptionNotFound
	}
	return nil
}

// ListSubscriptions returns non-deleted subscriptions for a tenant.
func (s *Store) ListSubscriptions(ctx context.Context, tenantID string, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	filter := bson.M{
		"tenant_id":  tenantID,
		"deleted_at": bson.M{"$exists": false},
	}
	if opts.Active != nil {
		filter["active"] = *opts.Active
	}

	findOpts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if opts.Offset > 0 {
		findOpts.SetSkip(int64(opts.Offset))
	}
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}

	cur, err := s.col(colSubscriptions).Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("webhooks/mongo: list subscriptions: %w", err)
	}
	defer cur.Close(ctx)

	var models []subscriptionModel
	if err := cur.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("webhooks/mongo: decode subscriptions: %w", err)
	}
	return subscriptionsFromModels(models)
}

// Resolve finds the tenant's active subscriptions whose patterns match the
// given event type. Glob patterns cannot be matched server-side, so the
// candidate set is the tenant's active subscriptions and matching happens
// here.
func (s *Store) Resolve(ctx context.Context, tenantID, eventType string) ([]*subscription.Subscription, error) {
	filter := bson.M{
		"tenant_id":  tenantID,
		"active":     true,
		"deleted_at": bson.M{"$exists": false},
	}
	cur, err := s.col(colSubscriptions).Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("webhooks/mongo: resolve subscriptions: %w", err)
	}
	defer cur.Close(ctx)

	var models []subscriptionModel
	if err := cur.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("webhooks/mongo: decode subscriptions: %w", err)
	}

	var out []*subscription.Subscription
	for i := range models {
		sub, err := fromSubscriptionModel(&models[i])
		if err != nil {
			return nil, err
		}
		for _, pattern := range sub.EventTypes {
			if catalog.Match(pattern, eventType) {
				out = append(out, sub)
				break
			}
		}
	}
	return out, nil
}

// SetActive activates or deactivates a subscription.
func (s *Store) SetActive(ctx context.Context, subID id.ID, active bool) error {
	res, err := s.col(colSubscriptions).UpdateOne(ctx,
		bson.M{"_id": subID.String()},
		bson.M{"$set": bson.M{"active": active, "updated_at": now()}},
	)
	if err != nil {
		return fmt.Errorf("webhooks/mongo: set subscription active: %w", err)
	}
	if res.MatchedCount == 0 {
		return webhooks.ErrSubscriptionNotFound
	}
	return nil
}

func subscriptionsFromModels(models []subscriptionModel) ([]*subscription.Subscription, error) {
	out := make([]*subscription.Subscription, 0, len(models))
	for i := range models {
		sub, err := fromSubscriptionModel(&models[i])
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, nil
}
