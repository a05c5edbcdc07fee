package subscription

import (
	"context"
	"log/slog"
	"net/url"
	"time"

	"github.com/tallyhq/webhooks/id"
	"github.com/tallyhq/webhooks/internal/entity"
	"github.com/tallyhq/webhooks/signature"
)

// Service provides subscription management operations.
type Service struct {
	store  Store
	logger *slog.Logger
}

// NewService creates a new subscription service.
func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		logger: logger,
	}
}

// Create registers a new webhook subscription. The generated signing secret
// is returned on the Subscription exactly once; it is not retrievable later.
// Configuration errors (bad URL scheme, empty event types) are rejected here
// and never reach the delivery worker.
func (svc *Service) Create(ctx context.Context, in Input) (*Subscription, error) {
	if err := validateURL(in.URL); err != nil {
		return nil, err
	}

	if in.TenantID == "" {
		return nil, &ValidationError{Field: "tenant_id", Message: "required"}
	}

	if len(in.EventTypes) == 0 {
		return nil, &ValidationError{Field: "event_types", Message: "at least one event type required"}
	}

	sub := &Subscription{
		Entity:      entity.New(),
		ID:          id.NewSubscriptionID(),
		TenantID:    in.TenantID,
		URL:         in.URL,
		Description: in.Description,
		Secret:      signature.GenerateSecret(),
		EventTypes:  in.EventTypes,
		Headers:     in.Headers,
		Active:      true,
		CreatedBy:   in.CreatedBy,
		Metadata:    in.Metadata,
	}
	if in.RateLimit != nil {
		sub.RateLimit = *in.RateLimit
	}

	if err := svc.store.CreateSubscription(ctx, sub); err != nil {
		return nil, err
	}

	svc.logger.DebugContext(ctx, "subscription created",
		"subscription_id", sub.ID,
		"tenant_id", sub.TenantID,
		"event_types", sub.EventTypes,
	)

	return sub, nil
}

// Get returns a subscription by ID.
func (svc *Service) Get(ctx context.Context, subID id.ID) (*Subscription, error) {
	return svc.store.GetSubscription(ctx, subID)
}

// Update modifies an existing subscription. Zero-valued fields are left
// unchanged.
func (svc *Service) Update(ctx context.Context, subID id.ID, in Input) (*Subscription, error) {
	sub, err := svc.store.GetSubscription(ctx, subID)
	if err != nil {
		return nil, err
	}

	if in.URL != "" {
		if err := validateURL(in.URL); err != nil {
			return nil, err
		}
		sub.URL = in.URL
	}
	if in.Description != "" {
		sub.Description = in.Description
	}
	if len(in.EventTypes) > 0 {
		sub.EventTypes = in.EventTypes
	}
	if in.Headers != nil {
		sub.Headers = in.Headers
	}
	if in.RateLimit != nil {
		sub.RateLimit = *in.RateLimit
	}
	if in.Metadata != nil {
		sub.Metadata = in.Metadata
	}

	if err := svc.store.UpdateSubscription(ctx, sub); err != nil {
		return nil, err
	}

	return sub, nil
}

// Delete soft-deletes a subscription: it is deactivated and hidden, but the
// row is retained so delivery history keeps a valid reference.
func (svc *Service) Delete(ctx context.Context, subID id.ID) error {
	sub, err := svc.store.GetSubscription(ctx, subID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	sub.Active = false
	sub.DeletedAt = &now

	if err := svc.store.UpdateSubscription(ctx, sub); err != nil {
		return err
	}

	svc.logger.InfoContext(ctx, "subscription soft-deleted",
		"subscription_id", subID, "tenant_id", sub.TenantID)

	return nil
}

// List returns non-deleted subscriptions for a tenant.
func (svc *Service) List(ctx context.Context, tenantID string, opts ListOpts) ([]*Subscription, error) {
	return svc.store.ListSubscriptions(ctx, tenantID, opts)
}

// SetActive activates or deactivates a subscription.
func (svc *Service) SetActive(ctx context.Context, subID id.ID, active bool) error {
	return svc.store.SetActive(ctx, subID, active)
}

// RotateSecret generates a new signing secret for a subscription and returns
// its plaintext. The old secret stops verifying immediately.
func (svc *Service) RotateSecret(ctx context.Context, subID id.ID) (string, error) {
	sub, err := svc.store.GetSubscription(ctx, subID)
	if err != nil {
		return "", err
	}

	sub.Secret = signature.GenerateSecret()
	if err := svc.store.UpdateSubscription(ctx, sub); err != nil {
		return "", err
	}

	return sub.Secret, nil
}

// validateURL requires a syntactically valid HTTPS destination.
func validateURL(raw string) error {
	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return &ValidationError{Field: "url", Message: "invalid URL"}
	}
	if u.Scheme != "https" {
		return &ValidationError{Field: "url", Message: "must use https"}
	}
	if u.Host == "" {
		return &ValidationError{Field: "url", Message: "missing host"}
	}
	return nil
}

// ValidationError indicates invalid input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "subscription validation: " + e.Field + ": " + e.Message
}
