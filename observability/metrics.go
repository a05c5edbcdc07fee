// Package observability provides Prometheus metrics and OpenTelemetry
// tracing for the webhook delivery engine.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the metric instruments for the delivery engine.
type Metrics struct {
	EventsDispatched  prometheus.Counter
	DeliveriesTotal   *prometheus.CounterVec
	DeliveryLatency   prometheus.Histogram
	DLQSize           prometheus.Gauge
	PendingDeliveries prometheus.Gauge
}

// NewMetrics creates and registers the engine's metric instruments.
// Pass prometheus.DefaultRegisterer for standalone usage, or the host
// application's registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		EventsDispatched: factory.NewCounter(prometheus.CounterOpts{
			Name: "webhooks_events_dispatched_total",
			Help: "Number of events accepted for webhook fan-out.",
		}),
		DeliveriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "webhooks_deliveries_total",
			Help: "Delivery attempts by outcome.",
		}, []string{"status"}),
		DeliveryLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "webhooks_delivery_latency_seconds",
			Help:    "Latency of delivery HTTP attempts.",
			Buckets: prometheus.DefBuckets,
		}),
		DLQSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "webhooks_dlq_size",
			Help: "Number of dead-lettered deliveries awaiting requeue.",
		}),
		PendingDeliveries: factory.NewGauge(prometheus.GaugeOpts{
			Name: "webhooks_pending_deliveries",
			Help: "Number of deliveries awaiting attempt.",
		}),
	}
}

// RecordDelivery records a delivery attempt with the given outcome and
// latency.
func (m *Metrics) RecordDelivery(status string, latencySeconds float64) {
	m.DeliveriesTotal.WithLabelValues(status).Inc()
	m.DeliveryLatency.Observe(latencySeconds)
}
