package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/tallyhq/webhooks"
	"github.com/tallyhq/webhooks/delivery"
	"github.com/tallyhq/webhooks/id"
	"github.com/tallyhq/webhooks/internal/entity"
)

// deliveryModel is the JSON representation stored in Redis.
type deliveryModel struct {
	ID             string          `json:"id"`
	EventID        string          `json:"event_id"`
	SubscriptionID string          `json:"subscription_id"`
	TenantID       string          `json:"tenant_id"`
	EventType      string          `json:"event_type"`
	Payload        json.RawMessage `json:"payload"`
	Status         string          `json:"status"`
	AttemptCount   int             `json:"attempt_count"`
	MaxAttempts    int             `json:"max_attempts"`
	NextRetryAt    time.Time       `json:"next_retry_at"`
	LastError      string          `json:"last_error"`
	LastStatusCode int             `json:"last_status_code"`
	LastResponse   string          `json:"last_response"`
	LastLatencyMs  int             `json:"last_latency_ms"`
	DeliveredAt    *time.Time      `json:"delivered_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

func toDeliveryModel(d *delivery.Delivery) *deliveryModel {
	return &deliveryModel{
		ID:             d.ID.String(),
		EventID:        d.EventID.String(),
		SubscriptionID: d.SubscriptionID.String(),
		TenantID:       d.TenantID,
		EventType:      d.EventType,
		Payload:        d.Payload,
		Status:         string(d.Status),
		AttemptCount:   d.AttemptCount,
		MaxAttempts:    d.MaxAttempts,
		NextRetryAt:    d.NextRetryAt,
		LastError:      d.LastError,
		LastStatusCode: d.LastStatusCode,
		LastResponse:   d.LastResponse,
		LastLatencyMs:  d.LastLatencyMs,
		DeliveredAt:    d.DeliveredAt,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
}

func fromDeliveryModel(m *deliveryModel) (*delivery.Delivery, error) {
	delID, err := id.ParseDeliveryID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse delivery ID %q: %w", m.ID, err)
	}
	evtID, err := id.ParseEventID(m.EventID)
	if err != nil {
		return nil, fmt.Errorf("parse event ID %q: %w", m.EventID, err)
	}
	subID, err := id.ParseSubscriptionID(m.SubscriptionID)
	if err != nil {
		return nil, fmt.Errorf("parse subscription ID %q: %w", m.SubscriptionID, err)
	}
	return &delivery.Delivery{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:             delID,
		EventID:        evtID,
		SubscriptionID: subID,
		TenantID:       m.TenantID,
		EventType:      m.EventType,
		Payload:        m.Payload,
		Status:         delivery.Status(m.Status),
		AttemptCount:   m.AttemptCount,
		MaxAttempts:    m.MaxAttempts,
		NextRetryAt:    m.NextRetryAt,
		LastError:      m.LastError,
		LastStatusCode: m.LastStatusCode,
		LastResponse:   m.LastResponse,
		LastLatencyMs:  m.LastLatencyMs,
		DeliveredAt:    m.DeliveredAt,
	}, nil
}

// dequeueScript atomically claims due deliveries from the sorted set.
// A claimed member moves from the due set into the claimed set, scored by
// the claim's expiry; UpdateDelivery removes it from the claimed set when
// the worker writes the attempt back. Members whose claim expired before
// this run belong to a dead worker and rejoin the due set first, so they
// are immediately reclaimable.
// KEYS[1] = wh:z:del:due
// KEYS[2] = wh:z:del:claimed
// ARGV[1] = current unix timestamp (score threshold)
// ARGV[2] = limit
// ARGV[3] = claim expiry timestamp
var dequeueScript = goredis.NewScript(`
local expired = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[1])
for i, id in ipairs(expired) do
    redis.call('ZREM', KEYS[2], id)
    redis.call('ZADD', KEYS[1], ARGV[1], id)
end
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
if #ids == 0 then return {} end
for i, id in ipairs(ids) do
    redis.call('ZREM', KEYS[1], id)
    redis.call('ZADD', KEYS[2], ARGV[3], id)
end
return ids
`)

func (s *Store) Enqueue(ctx context.Context, d *delivery.Delivery) error {
	m := toDeliveryModel(d)
	key := entityKey(prefixDelivery, m.ID)

	if err := s.setEntity(ctx, key, m); err != nil {
		return fmt.Errorf("webhooks/redis: enqueue delivery: %w", err)
	}

	pipe := s.rdb.Pipeline()
	s.indexDelivery(ctx, pipe, m)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("webhooks/redis: enqueue delivery indexes: %w", err)
	}
	return nil
}

func (s *Store) EnqueueBatch(ctx context.Context, ds []*delivery.Delivery) error {
	if len(ds) == 0 {
		return nil
	}

	pipe := s.rdb.Pipeline()
	for _, d := range ds {
		m := toDeliveryModel(d)
		key := entityKey(prefixDelivery, m.ID)

		raw, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("webhooks/redis: enqueue batch marshal: %w", err)
		}
		pipe.Set(ctx, key, raw, 0)
		s.indexDelivery(ctx, pipe, m)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("webhooks/redis: enqueue batch: %w", err)
	}
	return nil
}

func (s *Store) indexDelivery(ctx context.Context, pipe goredis.Pipeliner, m *deliveryModel) {
	pipe.ZAdd(ctx, zDeliveryDue, goredis.Z{Score: scoreFromTime(m.NextRetryAt), Member: m.ID})
	pipe.ZAdd(ctx, zDeliverySub+m.SubscriptionID, goredis.Z{Score: scoreFromTime(m.CreatedAt), Member: m.ID})
	pipe.ZAdd(ctx, zDeliveryEvt+m.EventID, goredis.Z{Score: scoreFromTime(m.CreatedAt), Member: m.ID})
	pipe.ZAdd(ctx, zDeliveryTenant+m.TenantID, goredis.Z{Score: scoreFromTime(m.CreatedAt), Member: m.ID})
}

func (s *Store) Dequeue(ctx context.Context, limit int) ([]*delivery.Delivery, error) {
	t := now()
	nowScore := strconv.FormatFloat(scoreFromTime(t), 'f', -1, 64)
	expiryScore := strconv.FormatFloat(scoreFromTime(t.Add(delivery.VisibilityTimeout)), 'f', -1, 64)
	result, err := dequeueScript.Run(ctx, s.rdb, []string{zDeliveryDue, zDeliveryClaimed}, nowScore, limit, expiryScore).StringSlice()
	if err != nil {
		if isRedisNil(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("webhooks/redis: dequeue script: %w", err)
	}
	if len(result) == 0 {
		return nil, nil
	}

	// Fetch and mark each claimed delivery.
	deliveries := make([]*delivery.Delivery, 0, len(result))
	for _, entryID := range result {
		key := entityKey(prefixDelivery, entryID)
		var m deliveryModel
		if err := s.getEntity(ctx, key, &m); err != nil {
			if isRedisNil(err) {
				continue
			}
			return nil, fmt.Errorf("webhooks/redis: dequeue get: %w", err)
		}

		m.Status = string(delivery.StatusDelivering)
		m.UpdatedAt = now()
		if err := s.setEntity(ctx, key, &m); err != nil {
			return nil, fmt.Errorf("webhooks/redis: dequeue update: %w", err)
		}

		d, err := fromDeliveryModel(&m)
		if err != nil {
			return nil, err
		}
		deliveries = append(deliveries, d)
	}

	return deliveries, nil
}

func (s *Store) UpdateDelivery(ctx context.Context, d *delivery.Delivery) error {
	m := toDeliveryModel(d)
	m.UpdatedAt = now()
	key := entityKey(prefixDelivery, m.ID)

	if err := s.setEntity(ctx, key, m); err != nil {
		return fmt.Errorf("webhooks/redis: update delivery: %w", err)
	}

	// Writing the row back releases the claim. Rows going back to a
	// runnable state rejoin the due set.
	s.rdb.ZRem(ctx, zDeliveryClaimed, m.ID)
	if d.Status == delivery.StatusPending || d.Status == delivery.StatusRetrying {
		s.rdb.ZAdd(ctx, zDeliveryDue, goredis.Z{Score: scoreFromTime(m.NextRetryAt), Member: m.ID})
	}
	return nil
}

func (s *Store) GetDelivery(ctx context.Context, delID id.ID) (*delivery.Delivery, error) {
	var m deliveryModel
	if err := s.getEntity(ctx, entityKey(prefixDelivery, delID.String()), &m); err != nil {
		if isRedisNil(err) {
			return nil, webhooks.ErrDeliveryNotFound
		}
		return nil, fmt.Errorf("webhooks/redis: get delivery: %w", err)
	}
	return fromDeliveryModel(&m)
}

func (s *Store) ListBySubscription(ctx context.Context, subID id.ID, opts delivery.ListOpts) ([]*delivery.Delivery, error) {
	ids, err := s.rdb.ZRange(ctx, zDeliverySub+subID.String(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("webhooks/redis: list by subscription: %w", err)
	}

	result := make([]*delivery.Delivery, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- { // reverse for DESC order
		var m deliveryModel
		if err := s.getEntity(ctx, entityKey(prefixDelivery, ids[i]), &m); err != nil {
			if isRedisNil(err) {
				continue
			}
			return nil, err
		}
		if opts.Status != nil && delivery.Status(m.Status) != *opts.Status {
			continue
		}
		d, err := fromDeliveryModel(&m)
		if err != nil {
			return nil, err
		}
		result = append(result, d)
	}

	return applyPagination(result, opts.Offset, opts.Limit), nil
}

func (s *Store) ListByEvent(ctx context.Context, evtID id.ID) ([]*delivery.Delivery, error) {
	ids, err := s.rdb.ZRange(ctx, zDeliveryEvt+evtID.String(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("webhooks/redis: list by event: %w", err)
	}

	result := make([]*delivery.Delivery, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- { // reverse for DESC order
		var m deliveryModel
		if err := s.getEntity(ctx, entityKey(prefixDelivery, ids[i]), &m); err != nil {
			if isRedisNil(err) {
				continue
			}
			return nil, err
		}
		d, err := fromDeliveryModel(&m)
		if err != nil {
			return nil, err
		}
		result = append(result, d)
	}

	return result, nil
}

func (s *Store) ListByStatus(ctx context.Context, tenantID string, status delivery.Status, opts delivery.ListOpts) ([]*delivery.Delivery, error) {
	ids, err := s.rdb.ZRange(ctx, zDeliveryTenant+tenantID, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("webhooks/redis: list by status: %w", err)
	}

	result := make([]*delivery.Delivery, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- { // reverse for DESC order
		var m deliveryModel
		if err := s.getEntity(ctx, entityKey(prefixDelivery, ids[i]), &m); err != nil {
			if isRedisNil(err) {
				continue
			}
			return nil, err
		}
		if delivery.Status(m.Status) != status {
			continue
		}
		d, err := fromDeliveryModel(&m)
		if err != nil {
			return nil, err
		}
		result = append(result, d)
	}

	return applyPagination(result, opts.Offset, opts.Limit), nil
}

func (s *Store) CountPending(ctx context.Context) (int64, error) {
	count, err := s.rdb.ZCard(ctx, zDeliveryDue).Result()
	if err != nil {
		return 0, fmt.Errorf("webhooks/redis: count pending: %w", err)
	}
	return count, nil
}

func (s *Store) CountByStatus(ctx context.Context, tenantID string) (map[delivery.Status]int64, error) {
	ids, err := s.rdb.ZRange(ctx, zDeliveryTenant+tenantID, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("webhooks/redis: count by status: %w", err)
	}

	counts := make(map[delivery.Status]int64)
	for _, entryID := range ids {
		var m deliveryModel
		if err := s.getEntity(ctx, entityKey(prefixDelivery, entryID), &m); err != nil {
			if isRedisNil(err) {
				continue
			}
			return nil, err
		}
		counts[delivery.Status(m.Status)]++
	}
	return counts, nil
}
