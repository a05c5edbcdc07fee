package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/tallyhq/webhooks/id"
	"github.com/tallyhq/webhooks/observability"
	"github.com/tallyhq/webhooks/ratelimit"
	"github.com/tallyhq/webhooks/subscription"
)

// WorkerStore is the interface the worker needs for delivery processing.
type WorkerStore interface {
	Dequeue(ctx context.Context, limit int) ([]*Delivery, error)
	UpdateDelivery(ctx context.Context, d *Delivery) error
	GetSubscription(ctx context.Context, subID id.ID) (*subscription.Subscription, error)
	SetActive(ctx context.Context, subID id.ID, active bool) error
}

// DLQPusher records permanently failed deliveries in the dead letter queue.
type DLQPusher interface {
	PushDead(ctx context.Context, d *Delivery, sub *subscription.Subscription) error
}

// WorkerConfig holds worker pool configuration.
type WorkerConfig struct {
	Concurrency    int
	PollInterval   time.Duration
	BatchSize      int
	RequestTimeout time.Duration
	Backoff        Backoff
	Metrics        *observability.Metrics
	Tracer         *observability.Tracer

	// ShutdownTimeout bounds how long Stop waits for in-flight deliveries.
	// Zero waits indefinitely.
	ShutdownTimeout time.Duration
}

// Worker is the delivery pool that claims due deliveries and drives the
// state machine: attempt → success / retrying / dead. Multiple Worker
// instances may run against the same store; the store's atomic claim keeps
// them from processing the same row twice within a visibility window.
type Worker struct {
	store   WorkerStore
	sender  *Sender
	retrier *Retrier
	limiter *ratelimit.Limiter
	dlq     DLQPusher
	config  WorkerConfig
	logger  *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWorker creates a delivery worker pool.
func NewWorker(store WorkerStore, dlq DLQPusher, cfg WorkerConfig, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		store:   store,
		sender:  NewSender(cfg.RequestTimeout),
		retrier: NewRetrier(cfg.Backoff),
		limiter: ratelimit.New(),
		dlq:     dlq,
		config:  cfg,
		logger:  logger,
	}
}

// Start begins the poll loop.
func (w *Worker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.pollLoop(ctx)
	}()
}

// Stop cancels the poll loop and waits for in-flight deliveries to complete,
// up to ShutdownTimeout or until ctx is done. Rows still in flight at the
// deadline stay claimed; the store's visibility window returns them to the
// queue for another worker.
func (w *Worker) Stop(ctx context.Context) {
	if w.cancel != nil {
		w.cancel()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	var deadline <-chan time.Time
	if w.config.ShutdownTimeout > 0 {
		timer := time.NewTimer(w.config.ShutdownTimeout)
		defer timer.Stop()
		deadline = timer.C
	}

	select {
	case <-done:
	case <-deadline:
		w.logger.Warn("shutdown deadline reached with deliveries in flight")
	case <-ctx.Done():
	}
}

// pollLoop periodically claims due deliveries and hands them to workers.
func (w *Worker) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	sem := make(chan struct{}, w.config.Concurrency)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			batch, err := w.store.Dequeue(ctx, w.config.BatchSize)
			if err != nil {
				w.logger.ErrorContext(ctx, "dequeue failed", "error", err)
				continue
			}

			for _, d := range batch {
				select {
				case <-ctx.Done():
					return
				case sem <- struct{}{}:
				}

				w.wg.Add(1)
				go func(del *Delivery) {
					defer w.wg.Done()
					defer func() { <-sem }()
					w.process(ctx, del)
				}(d)
			}
		}
	}
}

// process handles a single claimed delivery: check subscription, send, decide,
// persist. The persistence call releases the store claim, so every state
// transition is durable before the job is acknowledged.
func (w *Worker) process(ctx context.Context, d *Delivery) {
	var span trace.Span
	if w.config.Tracer != nil {
		ctx, span = w.config.Tracer.StartDeliverySpan(ctx, d.ID.String(), d.EventID.String(), d.SubscriptionID.String())
	}

	sub, err := w.store.GetSubscription(ctx, d.SubscriptionID)
	if err != nil {
		// Subscription row is gone entirely: nothing left to deliver to.
		w.abandon(ctx, d, nil, fmt.Sprintf("subscription %s not found: %v", d.SubscriptionID, err))
		w.endSpan(span, d)
		return
	}

	// Deactivation after enqueue cancels the delivery without an attempt.
	if !sub.Deliverable() {
		w.abandon(ctx, d, sub, fmt.Sprintf("subscription %s is no longer active", d.SubscriptionID))
		w.endSpan(span, d)
		return
	}

	if waitErr := w.limiter.Wait(ctx, d.SubscriptionID.String(), sub.RateLimit); waitErr != nil {
		// Shutdown while throttled: leave the row claimed-but-unmodified;
		// Dequeue reclaims it once the visibility window lapses.
		w.endSpan(span, d)
		return
	}

	d.AttemptCount++
	result := w.sender.Send(ctx, sub, d.ID.String(), d.Payload)

	d.LastError = result.Error
	d.LastStatusCode = result.StatusCode
	d.LastResponse = truncate(result.Response, MaxResponseBody)
	d.LastLatencyMs = result.LatencyMs

	latencySeconds := float64(result.LatencyMs) / 1000.0

	switch w.retrier.Decide(result, d) {
	case Succeeded:
		now := time.Now().UTC()
		d.Status = StatusSuccess
		d.DeliveredAt = &now
		d.NextRetryAt = time.Time{}
		if w.config.Metrics != nil {
			w.config.Metrics.RecordDelivery("success", latencySeconds)
			w.config.Metrics.PendingDeliveries.Dec()
		}
		w.logger.DebugContext(ctx, "delivered",
			"delivery_id", d.ID, "status", result.StatusCode, "attempt", d.AttemptCount, "latency_ms", result.LatencyMs)

	case Retry:
		d.Status = StatusRetrying
		d.NextRetryAt = w.retrier.NextRetryAt(d.AttemptCount)
		if w.config.Metrics != nil {
			w.config.Metrics.RecordDelivery("retry", latencySeconds)
		}
		w.logger.DebugContext(ctx, "retry scheduled",
			"delivery_id", d.ID, "attempt", d.AttemptCount, "next_retry_at", d.NextRetryAt)

	case Dead:
		w.markDead(ctx, d, sub)
		if w.config.Metrics != nil {
			w.config.Metrics.RecordDelivery("dead", latencySeconds)
			w.config.Metrics.PendingDeliveries.Dec()
			w.config.Metrics.DLQSize.Inc()
		}
		w.logger.WarnContext(ctx, "delivery dead-lettered",
			"delivery_id", d.ID, "status", result.StatusCode, "error", result.Error, "attempts", d.AttemptCount)

	case DisableSubscription:
		if disableErr := w.store.SetActive(ctx, d.SubscriptionID, false); disableErr != nil {
			w.logger.ErrorContext(ctx, "deactivate subscription failed",
				"subscription_id", d.SubscriptionID, "error", disableErr)
		}
		w.markDead(ctx, d, sub)
		if w.config.Metrics != nil {
			w.config.Metrics.RecordDelivery("dead", latencySeconds)
			w.config.Metrics.PendingDeliveries.Dec()
			w.config.Metrics.DLQSize.Inc()
		}
		w.logger.WarnContext(ctx, "subscription deactivated (410 Gone)",
			"subscription_id", d.SubscriptionID, "delivery_id", d.ID)
	}

	w.endSpan(span, d)

	if updateErr := w.store.UpdateDelivery(ctx, d); updateErr != nil {
		w.logger.ErrorContext(ctx, "update delivery failed",
			"delivery_id", d.ID, "error", updateErr)
	}
}

// abandon dead-letters a delivery without an HTTP attempt. Used when the
// subscription disappeared or was deactivated after enqueue.
func (w *Worker) abandon(ctx context.Context, d *Delivery, sub *subscription.Subscription, reason string) {
	d.LastError = reason
	w.markDead(ctx, d, sub)

	if w.config.Metrics != nil {
		w.config.Metrics.RecordDelivery("dead", 0)
		w.config.Metrics.PendingDeliveries.Dec()
		w.config.Metrics.DLQSize.Inc()
	}
	w.logger.WarnContext(ctx, "delivery abandoned", "delivery_id", d.ID, "reason", reason)

	if updateErr := w.store.UpdateDelivery(ctx, d); updateErr != nil {
		w.logger.ErrorContext(ctx, "update delivery failed",
			"delivery_id", d.ID, "error", updateErr)
	}
}

// markDead transitions the delivery to dead and records it in the DLQ.
func (w *Worker) markDead(ctx context.Context, d *Delivery, sub *subscription.Subscription) {
	d.Status = StatusDead
	d.NextRetryAt = time.Time{}

	if w.dlq != nil {
		if dlqErr := w.dlq.PushDead(ctx, d, sub); dlqErr != nil {
			w.logger.ErrorContext(ctx, "push to DLQ failed",
				"delivery_id", d.ID, "error", dlqErr)
		}
	}
}

func (w *Worker) endSpan(span trace.Span, d *Delivery) {
	if span != nil {
		w.config.Tracer.EndDeliverySpan(span, d.LastStatusCode, d.LastLatencyMs, d.LastError)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
