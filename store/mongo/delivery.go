package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/tallyhq/webhooks"
	"github.com/tallyhq/webhooks/delivery"
	"github.com/tallyhq/webhooks/id"
)

// Enqueue creates a single pending delivery.
func (s *Store) Enqueue(ctx context.Context, d *delivery.Delivery) error {
	if _, err := s.col(colDeliveries).InsertOne(ctx, toDeliveryModel(d)); err != nil {
		return fmt.Errorf("webhooks/mongo: insert delivery: %w", err)
	}
	return nil
}

// EnqueueBatch creates multiple deliveries in one insert. InsertMany is
// ordered by default, so a failure aborts the remainder of the batch.
func (s *Store) EnqueueBatch(ctx context.Context, ds []*delivery.Delivery) error {
	if len(ds) == 0 {
		return nil
	}
	docs := make([]any, 0, len(ds))
	for _, d := range ds {
		docs = append(docs, toDeliveryModel(d))
	}
	if _, err := s.col(colDeliveries).InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("webhooks/mongo: insert delivery batch: %w", err)
	}
	return nil
}

// Dequeue atomically claims up to limit due deliveries. Each claim is a
// FindOneAndUpdate flipping the status to delivering, so two workers can
// never take the same row. Delivering documents not touched within the
// visibility window belong to a dead worker and are reclaimed.
func (s *Store) Dequeue(ctx context.Context, limit int) ([]*delivery.Delivery, error) {
	t := now()
	filter := bson.M{"$or": []bson.M{
		{
			"status":        bson.M{"$in": []string{string(delivery.StatusPending), string(delivery.StatusRetrying)}},
			"next_retry_at": bson.M{"$lte": t},
		},
		{
			"status":     string(delivery.StatusDelivering),
			"updated_at": bson.M{"$lte": t.Add(-delivery.VisibilityTimeout)},
		},
	}}
	update := bson.M{"$set": bson.M{
		"status":     string(delivery.StatusDelivering),
		"updated_at": t,
	}}
	opts := options.FindOneAndUpdate().
		SetSort(bson.D{{Key: "next_retry_at", Value: 1}}).
		SetReturnDocument(options.After)

	var out []*delivery.Delivery
	for range limit {
		var m deliveryModel
		err := s.col(colDeliveries).FindOneAndUpdate(ctx, filter, update, opts).Decode(&m)
		if isNoDocuments(err) {
			break
		}
		if err != nil {
			return out, fmt.Errorf("webhooks/mongo: dequeue delivery: %w", err)
		}
		d, err := fromDeliveryModel(&m)
		if err != nil {
			return out, err
		}
		out = append(out, d)
	}
	return out, nil
}

// UpdateDelivery replaces a delivery document, releasing its claim.
func (s *Store) UpdateDelivery(ctx context.Context, d *delivery.Delivery) error {
	res, err := s.col(colDeliveries).ReplaceOne(ctx,
		bson.M{"_id": d.ID.String()}, toDeliveryModel(d))
	if err != nil {
		return fmt.Errorf("webhooks/mongo: update delivery: %w", err)
	}
	if res.MatchedCount == 0 {
		return webhooks.ErrDeliveryNotFound
	}
	return nil
}

// GetDelivery returns a delivery by ID.
func (s *Store) GetDelivery(ctx context.Context, delID id.ID) (*delivery.Delivery, error) {
	var m deliveryModel
	err := s.col(colDeliveries).FindOne(ctx, bson.M{"_id": delID.String()}).Decode(&m)
	if isNoDocuments(err) {
		return nil, webhooks.ErrDeliveryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("webhooks/mongo: get delivery: %w", err)
	}
	return fromDeliveryModel(&m)
}

// ListBySubscription returns delivery history for a subscription.
func (s *Store) ListBySubscription(ctx context.Context, subID id.ID, opts delivery.ListOpts) ([]*delivery.Delivery, error) {
	filter := bson.M{"subscription_id": subID.String()}
	if opts.Status != nil {
		filter["status"] = string(*opts.Status)
	}
	return s.findDeliveries(ctx, filter, opts.Offset, opts.Limit)
}

// ListByEvent returns all deliveries fanned out from one event.
func (s *Store) ListByEvent(ctx context.Context, evtID id.ID) ([]*delivery.Delivery, error) {
	return s.findDeliveries(ctx, bson.M{"event_id": evtID.String()}, 0, 0)
}

// ListByStatus returns a tenant's deliveries in the given status.
func (s *Store) ListByStatus(ctx context.Context, tenantID string, status delivery.Status, opts delivery.ListOpts) ([]*delivery.Delivery, error) {
	filter := bson.M{
		"tenant_id": tenantID,
		"status":    string(status),
	}
	return s.findDeliveries(ctx, filter, opts.Offset, opts.Limit)
}

// CountPending returns the number of deliveries awaiting attempt.
func (s *Store) CountPending(ctx context.Context) (int64, error) {
	n, err := s.col(colDeliveries).CountDocuments(ctx, bson.M{
		"status": bson.M{"$in": []string{string(delivery.StatusPending), string(delivery.StatusRetrying)}},
	})
	if err != nil {
		return 0, fmt.Errorf("webhooks/mongo: count pending deliveries: %w", err)
	}
	return n, nil
}

// CountByStatus returns the number of a tenant's deliveries per status.
func (s *Store) CountByStatus(ctx context.Context, tenantID string) (map[delivery.Status]int64, error) {
	pipeline := []bson.M{
		{"$match": bson.M{"tenant_id": tenantID}},
		{"$group": bson.M{"_id": "$status", "count": bson.M{"$sum": 1}}},
	}
	cur, err := s.col(colDeliveries).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("webhooks/mongo: count deliveries by status: %w", err)
	}
	defer cur.Close(ctx)

	var rows []struct {
		Status string `bson:"_id"`
		Count  int64  `bson:"count"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("webhooks/mongo: decode status counts: %w", err)
	}

	counts := make(map[delivery.Status]int64, len(rows))
	for _, row := range rows {
		counts[delivery.Status(row.Status)] = row.Count
	}
	return counts, nil
}

func (s *Store) findDeliveries(ctx context.Context, filter bson.M, offset, limit int) ([]*delivery.Delivery, error) {
	findOpts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if offset > 0 {
		findOpts.SetSkip(int64(offset))
	}
	if limit > 0 {
		findOpts.SetLimit(int64(limit))
	}

	cur, err := s.col(colDeliveries).Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("webhooks/mongo: list deliveries: %w", err)
	}
	defer cur.Close(ctx)

	var models []deliveryModel
	if err := cur.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("webhooks/mongo: decode deliveries: %w", err)
	}

	out := make([]*delivery.Delivery, 0, len(models))
	for i := range models {
		d, err := fromDeliveryModel(&models[i])
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}
