package bunstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/tallyhq/webhooks/catalog"
	"github.com/tallyhq/webhooks/delivery"
	"github.com/tallyhq/webhooks/dlq"
	"github.com/tallyhq/webhooks/event"
	"github.com/tallyhq/webhooks/id"
	"github.com/tallyhq/webhooks/internal/entity"
	"github.com/tallyhq/webhooks/subscription"
)

// Collection-valued fields are stored as serialized JSON text so the same
// models work on both the Postgres and SQLite dialects.

// --- Event type models ---

type eventTypeModel struct {
	bun.BaseModel `bun:"table:webhook_event_types"`

	ID            string          `bun:"id,pk"`
	Name          string          `bun:"name,unique"`
	Description   string          `bun:"description"`
	GroupName     string          `bun:"group_name"`
	Schema        json.RawMessage `bun:"schema"`
	SchemaVersion string          `bun:"schema_version"`
	Version       string          `bun:"version"`
	Example       json.RawMessage `bun:"example"`
	IsDeprecated  bool            `bun:"is_deprecated"`
	DeprecatedAt  *time.Time      `bun:"deprecated_at"`
	Metadata      []byte          `bun:"metadata"`
	CreatedAt     time.Time       `bun:"created_at"`
	UpdatedAt     time.Time       `bun:"updated_at"`
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
		Metadata:      marshalMap(et.Metadata),
		CreatedAt:     et.CreatedAt,
		UpdatedAt:     et.UpdatedAt,
	}
}

func fromEventTypeModel(m *eventTypeModel) (*catalog.EventType, error) {
	etID, err := id.ParseEventTypeID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse event type ID %q: %w", m.ID, err)
	}
	metadata, err := unmarshalMap(m.Metadata)
	if err != nil {
		return nil, err
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
		Metadata:     metadata,
	}, nil
}

// --- Subscription models ---

type subscriptionModel struct {
	bun.BaseModel `bun:"table:webhook_subscriptions"`

	ID          string     `bun:"id,pk"`
	TenantID    string     `bun:"tenant_id"`
	URL         string     `bun:"url"`
	Description string     `bun:"description"`
	Secret      string     `bun:"secret"`
	EventTypes  []byte     `bun:"event_types"`
	Active      bool       `bun:"active"`
	Headers     []byte     `bun:"headers"`
	RateLimit   int        `bun:"rate_limit"`
	CreatedBy   string     `bun:"created_by"`
	Metadata    []byte     `bun:"metadata"`
	DeletedAt   *time.Time `bun:"deleted_at"`
	CreatedAt   time.Time  `bun:"created_at"`
	UpdatedAt   time.Time  `bun:"updated_at"`
}

func toSubscriptionModel(sub *subscription.Subscription) *subscriptionModel {
	eventTypes, _ := json.Marshal(sub.EventTypes) //nolint:errcheck // string slice
	return &subscriptionModel{
		ID:          sub.ID.String(),
		TenantID:    sub.TenantID,
		URL:         sub.URL,
		Description: sub.Description,
		Secret:      sub.Secret,
		EventTypes:  eventTypes,
		Active:      sub.Active,
		Headers:     marshalMap(sub.Headers),
		RateLimit:   sub.RateLimit,
		CreatedBy:   sub.CreatedBy,
		Metadata:    marshalMap(sub.Metadata),
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
	var eventTypes []string
	if len(m.EventTypes) > 0 {
		if err := json.Unmarshal(m.EventTypes, &eventTypes); err != nil {
			return nil, fmt.Errorf("unmarshal event types: %w", err)
		}
	}
	headers, err := unmarshalMap(m.Headers)
	if err != nil {
		return nil, err
	}
	metadata, err := unmarshalMap(m.Metadata)
	if err != nil {
		return nil, err
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
		EventTypes:  eventTypes,
		Active:      m.Active,
		Headers:     headers,
		RateLimit:   m.RateLimit,
		CreatedBy:   m.CreatedBy,
		Metadata:    metadata,
		DeletedAt:   m.DeletedAt,
	}, nil
}

// --- Event models ---

type eventModel struct {
	bun.BaseModel `bun:"table:webhook_events"`

	ID             string          `bun:"id,pk"`
	Type           string          `bun:"type"`
	TenantID       string          `bun:"tenant_id"`
	Data           json.RawMessage `bun:"data"`
	IdempotencyKey string          `bun:"idempotency_key"`
	CreatedAt      time.Time       `bun:"created_at"`
	UpdatedAt      time.Time       `bun:"updated_at"`
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
		Data:           m.Data,
		IdempotencyKey: m.IdempotencyKey,
	}, nil
}

// --- Delivery models ---

type deliveryModel struct {
	bun.BaseModel `bun:"table:webhook_deliveries"`

	ID             string          `bun:"id,pk"`
	EventID        string          `bun:"event_id"`
	SubscriptionID string          `bun:"subscription_id"`
	TenantID       string          `bun:"tenant_id"`
	EventType      string          `bun:"event_type"`
	Payload        json.RawMessage `bun:"payload"`
	Status         string          `bun:"status"`
	AttemptCount   int             `bun:"attempt_count"`
	MaxAttempts    int             `bun:"max_attempts"`
	NextRetryAt    time.Time       `bun:"next_retry_at"`
	LastError      string          `bun:"last_error"`
	LastStatusCode int             `bun:"last_status_code"`
	LastResponse   string          `bun:"last_response"`
	LastLatencyMs  int             `bun:"last_latency_ms"`
	DeliveredAt    *time.Time      `bun:"delivered_at"`
	CreatedAt      time.Time       `bun:"created_at"`
	UpdatedAt      time.Time       `bun:"updated_at"`
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

// --- DLQ models ---

type dlqEntryModel struct {
	bun.BaseModel `bun:"table:webhook_dlq"`

	ID             string          `bun:"id,pk"`
	DeliveryID     string          `bun:"delivery_id"`
	EventID        string          `bun:"event_id"`
	SubscriptionID string          `bun:"subscription_id"`
	EventType      string          `bun:"event_type"`
	TenantID       string          `bun:"tenant_id"`
	URL            string          `bun:"url"`
	Payload        json.RawMessage `bun:"payload"`
	Error          string          `bun:"error"`
	AttemptCount   int             `bun:"attempt_count"`
	LastStatusCode int             `bun:"last_status_code"`
	RequeuedAt     *time.Time      `bun:"requeued_at"`
	FailedAt       time.Time       `bun:"failed_at"`
	CreatedAt      time.Time       `bun:"created_at"`
	UpdatedAt      time.Time       `bun:"updated_at"`
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

func marshalMap(m map[string]string) []byte {
	if len(m) == 0 {
		return nil
	}
	b, _ := json.Marshal(m) //nolint:errcheck // string map
	return b
}

func unmarshalMap(b []byte) (map[string]string, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return m, nil
}
