package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/tallyhq/webhooks"
	"github.com/tallyhq/webhooks/catalog"
	"github.com/tallyhq/webhooks/id"
	"github.com/tallyhq/webhooks/internal/entity"
	"github.com/tallyhq/webhooks/subscription"
)

// subscriptionModel is the JSON representation stored in Redis.
type subscriptionModel struct {
	ID          string            `json:"id"`
	TenantID    string            `json:"tenant_id"`
	URL         string            `json:"url"`
	Description string            `json:"description"`
	Secret      string            `json:"secret"`
	EventTypes  []string          `json:"event_types"`
	Active      bool              `json:"active"`
	Headers     map[string]string `json:"headers,omitempty"`
	RateLimit   int               `json:"rate_limit"`
	CreatedBy   string            `json:"created_by,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	DeletedAt   *time.Time        `json:"deleted_at,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

func toSubscriptionModel(sub *subscription.Subscription) *subscriptionModel {
	return &subscriptionModel{
		ID:          sub.ID.String(),
		TenantID:    sub.TenantID,
		URL:         sub.URL,
		Description: sub.Description,
		Secret:      sub.Secret,
		EventTypes:  sub.EventTypes,
		Active:      sub.Active,
		Headers:     sub.Headers,
		RateLimit:   sub.RateLimit,
		CreatedBy:   sub.CreatedBy,
		Metadata:    sub.Metadata,
		DeletedAt:   sub.DeletedAt,
		CreatedAt:   sub.CreatedAt,
		UpdatedAt:   sub.UpdatedAt,
	}
}

func fromSubscriptionModel(m *subscriptionModel) (*subscription.Subscription, error) {
	subID, err := id.ParseSubscriptionID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse subscription ID %q: %w", m.ID, err)
	}
	return &subscription.Subscription{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:          subID,
		TenantID:    m.TenantID,
		URL:         m.URL,
		Description: m.Description,
		Secret:      m.Secret,
		EventTypes:  m.EventTypes,
		Active:      m.Active,
		Headers:     m.Headers,
		RateLimit:   m.RateLimit,
		CreatedBy:   m.CreatedBy,
		Metadata:    m.Metadata,
		DeletedAt:   m.DeletedAt,
	}, nil
}

func (s *Store) CreateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	m := toSubscriptionModel(sub)
	key := entityKey(prefixSubscription, m.ID)

	if err := s.setEntity(ctx, key, m); err != nil {
		return fmt.Errorf("webhooks/redis: create subscription: %w", err)
	}

	if err := s.rdb.ZAdd(ctx, zSubTenant+m.TenantID,
		goredis.Z{Score: scoreFromTime(m.CreatedAt), Member: m.ID}).Err(); err != nil {
		return fmt.Errorf("webhooks/redis: create subscription index: %w", err)
	}
	return nil
}

func (s *Store) GetSubscription(ctx context.Context, subID id.ID) (*subscription.Subscription, error) {
	var m subscriptionModel
	if err := s.getEntity(ctx, entityKey(prefixSubscription, subID.String()), &m); err != nil {
		if isRedisNil(err) {
			return nil, webhooks.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("webhooks/redis: get subscription: %w", err)
	}
	return fromSubscriptionModel(&m)
}

func (s *Store) UpdateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	key := entityKey(prefixSubscription, sub.ID.String())

	// Verify existence.
	var existing subscriptionModel
	if err := s.getEntity(ctx, key, &existing); err != nil {
		if isRedisNil(err) {
			return webhooks.ErrSubscriptionNotFound
		}
		return fmt.Errorf("webhooks/redis: update subscription get: %w", err)
	}

	m := toSubscriptionModel(sub)
	m.UpdatedAt = now()

	if err := s.setEntity(ctx, key, m); err != nil {
		return fmt.Errorf("webhooks/redis: update subscription: %w", err)
	}
	return nil
}

func (s *Store) ListSubscriptions(ctx context.Context, tenantID string, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	ids, err := s.rdb.ZRange(ctx, zSubTenant+tenantID, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("webhooks/redis: list subscriptions: %w", err)
	}

	result := make([]*subscription.Subscription, 0, len(ids))
	for _, entryID := range ids {
		var m subscriptionModel
		if err := s.getEntity(ctx, entityKey(prefixSubscription, entryID), &m); err != nil {
			if isRedisNil(err) {
				continue
			}
			return nil, err
		}
		if m.DeletedAt != nil {
			continue
		}
		if opts.Active != nil && m.Active != *opts.Active {
			continue
		}
		sub, err := fromSubscriptionModel(&m)
		if err != nil {
			return nil, err
		}
		result = append(result, sub)
	}

	return applyPagination(result, opts.Offset, opts.Limit), nil
}

func (s *Store) Resolve(ctx context.Context, tenantID, eventType string) ([]*subscription.Subscription, error) {
	ids, err := s.rdb.ZRange(ctx, zSubTenant+tenantID, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("webhooks/redis: resolve: %w", err)
	}

	var result []*subscription.Subscription
	for _, entryID := range ids {
		var m subscriptionModel
		if err := s.getEntity(ctx, entityKey(prefixSubscription, entryID), &m); err != nil {
			if isRedisNil(err) {
				continue
			}
			return nil, err
		}
		if !m.Active || m.DeletedAt != nil {
			continue
		}
		for _, pattern := range m.EventTypes {
			if catalog.Match(pattern, eventType) {
				sub, err := fromSubscriptionModel(&m)
				if err != nil {
					return nil, err
				}
				result = append(result, sub)
				break
			}
		}
	}
	return result, nil
}

func (s *Store) SetActive(ctx context.Context, subID id.ID, active bool) error {
	key := entityKey(prefixSubscription, subID.String())

	var m subscriptionModel
	if err := s.getEntity(ctx, key, &m); err != nil {
		if isRedisNil(err) {
			return webhooks.ErrSubscriptionNotFound
		}
		return fmt.Errorf("webhooks/redis: set active get: %w", err)
	}

	m.Active = active
	m.UpdatedAt = now()

	if err := s.setEntity(ctx, key, &m); err != nil {
		return fmt.Errorf("webhooks/redis: set active: %w", err)
	}
	return nil
}
