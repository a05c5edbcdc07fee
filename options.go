package webhooks

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tallyhq/webhooks/catalog"
	"github.com/tallyhq/webhooks/delivery"
	"github.com/tallyhq/webhooks/dlq"
	"github.com/tallyhq/webhooks/observability"
	"github.com/tallyhq/webhooks/store"
	"github.com/tallyhq/webhooks/subscription"
)

// Engine is the root webhook dispatch and delivery engine.
type Engine struct {
	config    Config
	store     store.Store
	catalog   *catalog.Catalog
	validator *catalog.Validator
	subSvc    *subscription.Service
	delSvc    *delivery.Service
	dlqSvc    *dlq.Service
	worker    *delivery.Worker
	metrics   *observability.Metrics
	tracer    *observability.Tracer
	logger    *slog.Logger
}

// Option configures an Engine instance.
type Option func(*Engine) error

// New creates a new Engine with the given options.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	if e.store == nil {
		return nil, ErrNoStore
	}
	e.wireServices()
	return e, nil
}

// WithStore sets the persistence backend for the Engine instance.
func WithStore(s store.Store) Option {
	return func(e *Engine) error {
		e.store = s
		return nil
	}
}

// WithLogger sets the structured logger for the Engine instance.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) error {
		e.logger = logger
		return nil
	}
}

// WithConcurrency sets the number of delivery worker goroutines.
func WithConcurrency(n int) Option {
	return func(e *Engine) error {
		e.config.Concurrency = n
		return nil
	}
}

// WithPollInterval sets how often the delivery worker checks for due deliveries.
func WithPollInterval(d time.Duration) Option {
	return func(e *Engine) error {
		e.config.PollInterval = d
		return nil
	}
}

// WithBatchSize sets the maximum number of deliveries claimed per poll cycle.
func WithBatchSize(n int) Option {
	return func(e *Engine) error {
		e.config.BatchSize = n
		return nil
	}
}

// WithRequestTimeout sets the HTTP timeout per delivery attempt.
func WithRequestTimeout(d time.Duration) Option {
	return func(e *Engine) error {
		e.config.RequestTimeout = d
		return nil
	}
}

// WithMaxAttempts sets the total number of delivery attempts before dead-lettering.
func WithMaxAttempts(n int) Option {
	return func(e *Engine) error {
		e.config.MaxAttempts = n
		return nil
	}
}

// WithBackoff sets the retry backoff curve.
func WithBackoff(b delivery.Backoff) Option {
	return func(e *Engine) error {
		e.config.Backoff = b
		return nil
	}
}

// WithShutdownTimeout sets the maximum time to wait for in-flight deliveries on shutdown.
func WithShutdownTimeout(d time.Duration) Option {
	return func(e *Engine) error {
		e.config.ShutdownTimeout = d
		return nil
	}
}

// WithCacheTTL sets the TTL for the catalog's in-memory event type cache.
func WithCacheTTL(d time.Duration) Option {
	return func(e *Engine) error {
		e.config.CacheTTL = d
		return nil
	}
}

// WithMetrics registers Prometheus metrics on the given registerer.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(e *Engine) error {
		e.metrics = observability.NewMetrics(reg)
		return nil
	}
}

// WithTracing enables OpenTelemetry spans around delivery attempts, using the
// globally registered tracer provider.
func WithTracing() Option {
	return func(e *Engine) error {
		e.tracer = observability.NewTracer()
		return nil
	}
}
