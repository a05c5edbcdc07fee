package mongo

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tallyhq/webhooks/catalog"
	"github.com/tallyhq/webhooks/delivery"
	"github.com/tallyhq/webhooks/dlq"
	"github.com/tallyhq/webhooks/event"
	"github.com/tallyhq/webhooks/id"
	"github.com/tallyhq/webhooks/internal/entity"
	"github.com/tallyhq/webhooks/subscription"
)

// --- Event type models ---

type eventTypeModel struct {
	ID            string            `bson:"_id"`
	Name          string            `bson:"name"`
	Description   string            `bson:"description,omitempty"`
	GroupName     string            `bson:"group_name,omitempty"`
	Schema        []byte            `bson:"schema,omitempty"`
	SchemaVersion string            `bson:"schema_version,omitempty"`
	Version       string            `bson:"version,omitempty"`
	Example       []byte            `bson:"example,omitempty"`
	IsDeprecated  bool              `bson:"is_deprecated"`
	DeprecatedAt  *time.Time        `bson:"deprecated_at,omitempty"`
	Metadata      map[string]string `bson:"metadata,omitempty"`
	CreatedAt     time.Time         `bson:"created_at"`
	UpdatedAt     time.Time         `bson:"updated_at"`
}

func toEventTypeModel(et *catalog.EventType) *eventTypeModel {
	return &eventTypeModel{
		ID:            et.ID.String(),
		Name:          et.Definition.Name,
		Description:   et.Definition.Description,
		GroupName:     et.Definition.Group,
		Schema:        et.Definition.Schema,
		SchemaVersion: et.Definition.SchemaVersion,
		Version:       et.Definition.Version,
		Example:       et.Definition.Example,
		IsDeprecated:  et.IsDeprecated,
		DeprecatedAt:  et.DeprecatedAt,
		Metadata:      et.Metadata,
		CreatedAt:     et.CreatedAt,
		UpdatedAt:     et.UpdatedAt,
	}
}

func fromEventTypeModel(m *eventTypeModel) (*catalog.EventType, error) {
	etID, err := id.ParseEventTypeID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse event type ID %q: %w", m.ID, err)
	}
	return &catalog.EventType{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID: etID,
		Definition: catalog.Definition{
			Name:          m.Name,
			Description:   m.Description,
			Group:         m.GroupName,
			Schema:        m.Schema,
			SchemaVersion: m.SchemaVersion,
			Version:       m.Version,
			Example:       m.Example,
		},
		IsDeprecated: m.IsDeprecated,
		DeprecatedAt: m.DeprecatedAt,
		Metadata:     m.Metadata,
	}, nil
}

// --- Subscription models ---

type subscriptionModel struct {
	ID          string            `bson:"_id"`
	TenantID    string            `bson:"tenant_id"`
	URL         string            `bson:"url"`
	Description string            `bson:"description,omitempty"`
	Secret      string            `bson:"secret"`
	EventTypes  []string          `bson:"event_types"`
	Active      bool              `bson:"active"`
	Headers     map[string]string `bson:"headers,omitempty"`
	RateLimit   int               `bson:"rate_limit,omitempty"`
	CreatedBy   string            `bson:"created_by,omitempty"`
	Metadata    map[string]string `bson:"metadata,omitempty"`
	DeletedAt   *time.Time        `bson:"deleted_at,omitempty"`
	CreatedAt   time.Time         `bson:"created_at"`
	UpdatedAt   time.Time         `bson:"updated_at"`
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

// --- Event models ---

// IdempotencyKey is omitempty so events without a key stay out of the sparse
// unique index.
type eventModel struct {
	ID             string    `bson:"_id"`
	Type           string    `bson:"type"`
	TenantID       string    `bson:"tenant_id"`
	Data           []byte    `bson:"data,omitempty"`
	IdempotencyKey string    `bson:"idempotency_key,omitempty"`
	CreatedAt      time.Time `bson:"created_at"`
	UpdatedAt      time.Time `bson:"updated_at"`
}

func toEventModel(evt *event.Event) *eventModel {
	return &eventModel{
		ID:             evt.ID.String(),
		Type:           evt.Type,
		TenantID:       evt.TenantID,
		Data:           evt.Data,
		IdempotencyKey: evt.IdempotencyKey,
		CreatedAt:      evt.CreatedAt,
		UpdatedAt:      evt.UpdatedAt,
	}
}

func fromEventModel(m *eventModel) (*event.Event, error) {
	evtID, err := id.ParseEventID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse event ID %q: %w", m.ID, err)
	}
	return &event.Event{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:             evtID,
		Type:           m.Type,
		TenantID:       m.TenantID,
		Data:           json.RawMessage(m.Data),
		IdempotencyKey: m.IdempotencyKey,
	}, nil
}

// --- Delivery models ---

type deliveryModel struct {
	ID             string     `bson:"_id"`
	EventID        string     `bson:"event_id"`
	SubscriptionID string     `bson:"subscription_id"`
	TenantID       string     `bson:"tenant_id"`
	EventType      string     `bson:"event_type"`
	Payload        []byte     `bson:"payload,omitempty"`
	Status         string     `bson:"status"`
	AttemptCount   int        `bson:"attempt_count"`
	MaxAttempts    int        `bson:"max_attempts"`
	NextRetryAt    time.Time  `bson:"next_retry_at"`
	LastError      string     `bson:"last_error,omitempty"`
	LastStatusCode int        `bson:"last_status_code,omitempty"`
	LastResponse   string     `bson:"last_response,omitempty"`
	LastLatencyMs  int        `bson:"last_latency_ms,omitempty"`
	DeliveredAt    *time.Time `bson:"delivered_at,omitempty"`
	CreatedAt      time.Time  `bson:"created_at"`
	UpdatedAt      time.Time  `bson:"updated_at"`
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
		Payload:        json.RawMessage(m.Payload),
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

// --- DLQ models ---

type dlqEntryModel struct {
	ID             string     `bson:"_id"`
	DeliveryID     string     `bson:"delivery_id"`
	EventID        string     `bson:"event_id"`
	SubscriptionID string     `bson:"subscription_id"`
	EventType      string     `bson:"event_type"`
	TenantID       string     `bson:"tenant_id"`
	URL            string     `bson:"url"`
	Payload        []byte     `bson:"payload,omitempty"`
	Error          string     `bson:"error,omitempty"`
	AttemptCount   int        `bson:"attempt_count"`
	LastStatusCode int        `bson:"last_status_code,omitempty"`
	RequeuedAt     *time.Time `bson:"requeued_at,omitempty"`
	FailedAt       time.Time  `bson:"failed_at"`
	CreatedAt      time.Time  `bson:"created_at"`
	UpdatedAt      time.Time  `bson:"updated_at"`
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
		Payload:        json.RawMessage(m.Payload),
		Error:          m.Error,
		AttemptCount:   m.AttemptCount,
		LastStatusCode: m.LastStatusCode,
		RequeuedAt:     m.RequeuedAt,
		FailedAt:       m.FailedAt,
	}, nil
}
