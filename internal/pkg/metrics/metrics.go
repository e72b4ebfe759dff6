package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsProcessed tracks background job throughput by kind and terminal state.
	JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stockr_jobs_processed_total",
		Help: "Total number of background jobs processed",
	}, []string{"kind", "status"})

	// EventsPublished counts domain events handed to the event bus.
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stockr_events_published_total",
		Help: "Total number of domain events published",
	}, []string{"event"})

	// WebhookDeliveries counts delivery outcomes after the retry loop settles.
	WebhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stockr_webhook_deliveries_total",
		Help: "Total number of webhook delivery outcomes",
	}, []string{"status"})

	// WebhookDeliveryDuration measures wall-clock time of a full delivery
	// including backoff sleeps between attempts.
	WebhookDeliveryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "stockr_webhook_delivery_duration_seconds",
		Help:    "Duration of webhook deliveries in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// ImportChunkSize tracks rows committed per import chunk transaction.
	ImportChunkSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "stockr_import_chunk_size",
		Help:    "Number of rows persisted per import chunk",
		Buckets: []float64{1, 10, 50, 100, 500, 1000},
	})

	// ImportDuration measures full CSV import runs.
	ImportDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "stockr_import_duration_seconds",
		Help:    "Duration of CSV imports in seconds",
		Buckets: prometheus.DefBuckets,
	})
)
