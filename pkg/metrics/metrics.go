// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// UpstreamRequestDuration tracks Crisp API call duration.
	UpstreamRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crisp_upstream_request_duration_seconds",
			Help:    "Crisp API request duration in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"operation", "status"},
	)

	// BackfillRunsTotal counts backfill runs by outcome (complete, partial, failed).
	BackfillRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crisp_backfill_runs_total",
			Help: "Total backfill runs by outcome",
		},
		[]string{"outcome"},
	)

	// BackfillPagesTotal counts fetched upstream pages.
	BackfillPagesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crisp_backfill_pages_total",
			Help: "Total upstream conversation pages fetched by backfill",
		},
	)

	// RecordsWrittenTotal counts writer results by record kind and operation.
	RecordsWrittenTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crisp_records_written_total",
			Help: "Records written by kind (conversation, message) and op (insert, update, skip)",
		},
		[]string{"kind", "op"},
	)

	// ConflictRecoveriesTotal counts batch inserts that fell back to per-row inserts.
	ConflictRecoveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crisp_conflict_recoveries_total",
			Help: "Batch inserts recovered from a unique constraint conflict",
		},
		[]string{"kind"},
	)

	// StubConversationsTotal counts placeholder conversations.
	StubConversationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crisp_stub_conversations_total",
			Help: "Stub conversations inserted because details could not be fetched",
		},
	)

	// EventsTotal counts live events by kind and outcome.
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crisp_events_total",
			Help: "Live events handled by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	// EventQueueDepth tracks buffered events awaiting the ingestor.
	EventQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "crisp_event_queue_depth",
			Help: "Events buffered between the subscription and the ingestor",
		},
	)

	// NATSConsumerPending tracks pending messages for consumers.
	NATSConsumerPending = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nats_consumer_pending",
			Help: "Pending messages for NATS consumer",
		},
		[]string{"stream", "consumer"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordUpstream records one Crisp API call.
func RecordUpstream(operation, status string, duration float64) {
	UpstreamRequestDuration.WithLabelValues(operation, status).Observe(duration)
}

// RecordWrite records the outcome of one writer batch.
func RecordWrite(kind string, inserted, updated, skipped int) {
	RecordsWrittenTotal.WithLabelValues(kind, "insert").Add(float64(inserted))
	RecordsWrittenTotal.WithLabelValues(kind, "update").Add(float64(updated))
	RecordsWrittenTotal.WithLabelValues(kind, "skip").Add(float64(skipped))
}

// RecordEvent records one handled live event.
func RecordEvent(kind, outcome string) {
	EventsTotal.WithLabelValues(kind, outcome).Inc()
}
