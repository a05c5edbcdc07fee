package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/tallyhq/webhooks"
	"github.com/tallyhq/webhooks/dlq"
	"github.com/tallyhq/webhooks/id"
	"github.com/tallyhq/webhooks/internal/entity"
)

// dlqEntryModel is the JSON representation stored in Redis.
type dlqEntryModel struct {
	ID             string          `json:"id"`
	DeliveryID     string          `json:"delivery_id"`
	EventID        string          `json:"event_id"`
	SubscriptionID string          `json:"subscription_id"`
	EventType      string          `json:"event_type"`
	TenantID       string          `json:"tenant_id"`
	URL            string          `json:"url"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Error          string          `json:"error"`
	AttemptCount   int             `json:"attempt_count"`
	LastStatusCode int             `json:"last_status_code"`
	RequeuedAt     *time.Time      `json:"requeued_at,omitempty"`
	FailedAt       time.Time       `json:"failed_at"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

func toDLQEntryModel(e *dlq.Entry) *dlqEntryModel {
	return &dlqEntryModel{
		ID:             e.ID.String(),
		DeliveryID:     e.DeliveryID.String(),
		EventID:        e.EventID.String(),
		SubscriptionID: e.SubscriptionID.String(),
		EventType:      e.EventType,
		TenantID:       e.TenantID,
		URL:            e.URL,
		Payload:        e.Payload,
		Error:          e.Error,
		AttemptCount:   e.AttemptCount,
		LastStatusCode: e.LastStatusCode,
		RequeuedAt:     e.RequeuedAt,
		FailedAt:       e.FailedAt,
		CreatedAt:      e.CreatedAt,
		UpdatedAt:      e.UpdatedAt,
	}
}

func fromDLQEntryModel(m *dlqEntryModel) (*dlq.Entry, error) {
	dlqID, err := id.ParseDLQID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse DLQ ID %q: %w", m.ID, err)
	}
	delID, err := id.ParseDeliveryID(m.DeliveryID)
	if err != nil {
		return nil, fmt.Errorf("parse delivery ID %q: %w", m.DeliveryID, err)
	}
	evtID, err := id.ParseEventID(m.EventID)
	if err != nil {
		return nil, fmt.Errorf("parse event ID %q: %w", m.EventID, err)
	}
	subID, err := id.ParseSubscriptionID(m.SubscriptionID)
	if err != nil {
		return nil, fmt.Errorf("parse subscription ID %q: %w", m.SubscriptionID, err)
	}
	return &dlq.Entry{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:             dlqID,
		DeliveryID:     delID,
		EventID:        evtID,
		SubscriptionID: subID,
		EventType:      m.EventType,
		TenantID:       m.TenantID,
		URL:            m.URL,
		Payload:        m.Payload,
		Error:          m.Error,
		AttemptCount:   m.AttemptCount,
		LastStatusCode: m.LastStatusCode,
		RequeuedAt:     m.RequeuedAt,
		FailedAt:       m.FailedAt,
	}, nil
}

func (s *Store) PushEntry(ctx context.Context, entry *dlq.Entry) error {
	m := toDLQEntryModel(entry)
	key := entityKey(prefixDLQ, m.ID)

	if err := s.setEntity(ctx, key, m); err != nil {
		return fmt.Errorf("webhooks/redis: push dlq: %w", err)
	}

	pipe := s.rdb.Pipeline()
	pipe.ZAdd(ctx, zDLQAll, goredis.Z{Score: scoreFromTime(m.FailedAt), Member: m.ID})
	pipe.Set(ctx, uniqueDLQDelivery+m.DeliveryID, m.ID, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("webhooks/redis: push dlq indexes: %w", err)
	}
	return nil
}

func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	minScore := math.Inf(-1)
	maxScore := math.Inf(1)
	if opts.From != nil {
		minScore = scoreFromTime(*opts.From)
	}
	if opts.To != nil {
		maxScore = scoreFromTime(*opts.To)
	}

	ids, err := s.zRangeByScoreIDs(ctx, zDLQAll, minScore, maxScore)
	if err != nil {
		return nil, fmt.Errorf("webhooks/redis: list dlq: %w", err)
	}

	result := make([]*dlq.Entry, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- { // reverse for DESC order
		var m dlqEntryModel
		if err := s.getEntity(ctx, entityKey(prefixDLQ, ids[i]), &m); err != nil {
			if isRedisNil(err) {
				continue
			}
			return nil, err
		}
		if opts.TenantID != "" && m.TenantID != opts.TenantID {
			continue
		}
		if opts.SubscriptionID != nil && m.SubscriptionID != opts.SubscriptionID.String() {
			continue
		}
		entry, err := fromDLQEntryModel(&m)
		if err != nil {
			return nil, err
		}
		result = append(result, entry)
	}

	return applyPagination(result, opts.Offset, opts.Limit), nil
}

func (s *Store) GetDLQ(ctx context.Context, dlqID id.ID) (*dlq.Entry, error) {
	var m dlqEntryModel
	if err := s.getEntity(ctx, entityKey(prefixDLQ, dlqID.String()), &m); err != nil {
		if isRedisNil(err) {
			return nil, webhooks.ErrDLQNotFound
		}
		return nil, fmt.Errorf("webhooks/redis: get dlq: %w", err)
	}
	return fromDLQEntryModel(&m)
}

func (s *Store) GetDLQByDelivery(ctx context.Context, delID id.ID) (*dlq.Entry, error) {
	entryID, err := s.rdb.Get(ctx, uniqueDLQDelivery+delID.String()).Result()
	if err != nil {
		if isRedisNil(err) {
			return nil, webhooks.ErrDLQNotFound
		}
		return nil, fmt.Errorf("webhooks/redis: get dlq by delivery: %w", err)
	}

	var m dlqEntryModel
	if err := s.getEntity(ctx, entityKey(prefixDLQ, entryID), &m); err != nil {
		if isRedisNil(err) {
			return nil, webhooks.ErrDLQNotFound
		}
		return nil, fmt.Errorf("webhooks/redis: get dlq by delivery entry: %w", err)
	}
	if m.RequeuedAt != nil {
		return nil, webhooks.ErrDLQNotFound
	}
	return fromDLQEntryModel(&m)
}

func (s *Store) MarkRequeued(ctx context.Context, dlqID id.ID, at time.Time) error {
	key := entityKey(prefixDLQ, dlqID.String())

	var m dlqEntryModel
	if err := s.getEntity(ctx, key, &m); err != nil {
		if isRedisNil(err) {
			return webhooks.ErrDLQNotFound
		}
		return fmt.Errorf("webhooks/redis: mark requeued get: %w", err)
	}

	m.RequeuedAt = &at
	m.UpdatedAt = now()

	if err := s.setEntity(ctx, key, &m); err != nil {
		return fmt.Errorf("webhooks/redis: mark requeued: %w", err)
	}

	// The delivery may dead-letter again later; release the mapping so a
	// future entry can claim it.
	s.rdb.Del(ctx, uniqueDLQDelivery+m.DeliveryID)
	return nil
}

func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	maxScore := scoreFromTime(before)
	ids, err := s.zRangeByScoreIDs(ctx, zDLQAll, math.Inf(-1), maxScore)
	if err != nil {
		return 0, fmt.Errorf("webhooks/redis: purge list: %w", err)
	}

	var count int64
	for _, entryID := range ids {
		var m dlqEntryModel
		if err := s.getEntity(ctx, entityKey(prefixDLQ, entryID), &m); err != nil {
			if isRedisNil(err) {
				continue
			}
			return count, err
		}

		pipe := s.rdb.Pipeline()
		pipe.Del(ctx, entityKey(prefixDLQ, entryID))
		pipe.ZRem(ctx, zDLQAll, entryID)
		pipe.Del(ctx, uniqueDLQDelivery+m.DeliveryID)
		if _, err := pipe.Exec(ctx); err != nil {
			return count, err
		}
		count++
	}

	return count, nil
}

func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	ids, err := s.rdb.ZRange(ctx, zDLQAll, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("webhooks/redis: count dlq: %w", err)
	}

	var count int64
	for _, entryID := range ids {
		var m dlqEntryModel
		if err := s.getEntity(ctx, entityKey(prefixDLQ, entryID), &m); err != nil {
			if isRedisNil(err) {
				continue
			}
			return 0, err
		}
		if m.RequeuedAt == nil {
			count++
		}
	}
	return count, nil
}
