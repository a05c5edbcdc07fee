package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/tallyhq/webhooks"
	"github.com/tallyhq/webhooks/dlq"
	"github.com/tallyhq/webhooks/id"
)

// PushEntry records a permanently failed delivery in the DLQ.
func (s *Store) PushEntry(ctx context.Context, entry *dlq.Entry) error {
	if _, err := s.col(colDLQ).InsertOne(ctx, toDLQEntryModel(entry)); err != nil {
		return fmt.Errorf("webhooks/mongo: insert DLQ entry: %w", err)
	}
	return nil
}

// ListDLQ returns DLQ entries, optionally filtered, most recent failure first.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	filter := bson.M{}
	if opts.TenantID != "" {
		filter["tenant_id"] = opts.TenantID
	}
	if opts.SubscriptionID != nil {
		filter["subscription_id"] = opts.SubscriptionID.String()
	}
	if opts.From != nil || opts.To != nil {
		rng := bson.M{}
		if opts.From != nil {
			rng["$gte"] = *opts.From
		}
		if opts.To != nil {
			rng["$lte"] = *opts.To
		}
		filter["failed_at"] = rng
	}

	findOpts := options.Find().SetSort(bson.D{{Key: "failed_at", Value: -1}})
	if opts.Offset > 0 {
		findOpts.SetSkip(int64(opts.Offset))
	}
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}

	cur, err := s.col(colDLQ).Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("webhooks/mongo: list DLQ entries: %w", err)
	}
	defer cur.Close(ctx)

	var models []dlqEntryModel
	if err := cur.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("webhooks/mongo: decode DLQ entries: %w", err)
	}

	out := make([]*dlq.Entry, 0, len(models))
	for i := range models {
		entry, err := fromDLQEntryModel(&models[i])
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, nil
}

// GetDLQ returns a DLQ entry by ID.
func (s *Store) GetDLQ(ctx context.Context, dlqID id.ID) (*dlq.Entry, error) {
	var m dlqEntryModel
	err := s.col(colDLQ).FindOne(ctx, bson.M{"_id": dlqID.String()}).Decode(&m)
	if isNoDocuments(err) {
		return nil, webhooks.ErrDLQNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("webhooks/mongo: get DLQ entry: %w", err)
	}
	return fromDLQEntryModel(&m)
}

// GetDLQByDelivery returns the newest un-requeued entry for a delivery.
func (s *Store) GetDLQByDelivery(ctx context.Context, delID id.ID) (*dlq.Entry, error) {
	var m dlqEntryModel
	err := s.col(colDLQ).FindOne(ctx,
		bson.M{
			"delivery_id": delID.String(),
			"requeued_at": bson.M{"$exists": false},
		},
		options.FindOne().SetSort(bson.D{{Key: "failed_at", Value: -1}}),
	).Decode(&m)
	if isNoDocuments(err) {
		return nil, webhooks.ErrDLQNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("webhooks/mongo: get DLQ entry by delivery: %w", err)
	}
	return fromDLQEntryModel(&m)
}

// MarkRequeued stamps RequeuedAt on an entry.
func (s *Store) MarkRequeued(ctx context.Context, dlqID id.ID, at time.Time) error {
	res, err := s.col(colDLQ).UpdateOne(ctx,
		bson.M{"_id": dlqID.String()},
		bson.M{"$set": bson.M{"requeued_at": at, "updated_at": now()}},
	)
	if err != nil {
		return fmt.Errorf("webhooks/mongo: mark DLQ entry requeued: %w", err)
	}
	if res.MatchedCount == 0 {
		return webhooks.ErrDLQNotFound
	}
	return nil
}

// PurgeDLQ deletes DLQ entries that failed before the threshold.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.col(colDLQ).DeleteMany(ctx, bson.M{
		"failed_at": bson.M{"$lt": before},
	})
	if err != nil {
		return 0, fmt.Errorf("webhooks/mongo: purge DLQ: %w", err)
	}
	return res.DeletedCount, nil
}

// CountDLQ returns the number of un-requeued DLQ entries.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	n, err := s.col(colDLQ).CountDocuments(ctx, bson.M{
		"requeued_at": bson.M{"$exists": false},
	})
	if err != nil {
		return 0, fmt.Errorf("webhooks/mongo: count DLQ: %w", err)
	}
	return n, nil
}
