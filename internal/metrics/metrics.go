// Package metrics defines and registers all custom Prometheus metrics for the
// authstream service. It is the single source of truth for metric names,
// labels, and help strings.
//
// Metrics are registered with the default Prometheus registry at package
// init through promauto.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "authstream"

// ── Auth metrics ──────────────────────────────────────────────────────────────

// LoginsTotal counts login attempts.
// Label:
//   - result: "success", "invalid_credentials" or "error"
var LoginsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "logins_total",
		Help:      "Total number of login attempts, by result.",
	},
	[]string{"result"},
)

// ── Publish metrics ───────────────────────────────────────────────────────────

// EventsPublishedTotal counts publish outcomes.
// Labels:
//   - topic: destination topic
//   - result: "sent", "dropped" (queue full), "not_connected", "encode_error" or "error"
var EventsPublishedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_published_total",
		Help:      "Total number of events handed to the broker, by topic and result.",
	},
	[]string{"topic", "result"},
)

// PublishQueueDepth tracks pending outbound messages per dispatcher worker.
var PublishQueueDepth = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "publish_queue_depth",
		Help:      "Current number of events pending in each dispatcher worker channel.",
	},
	[]string{"worker_id"},
)

// ── Consume metrics ───────────────────────────────────────────────────────────

// MessagesConsumedTotal counts consumed messages.
// Labels:
//   - topic: source topic
//   - result: "processed", "duplicate", "malformed" or "error"
var MessagesConsumedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_consumed_total",
		Help:      "Total number of consumed messages, by topic and result.",
	},
	[]string{"topic", "result"},
)

// MessagesDedupTotal counts deduplication decisions ("hit", "miss", "error").
var MessagesDedupTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_dedup_total",
		Help:      "Total number of deduplication checks, labelled by result.",
	},
	[]string{"result"},
)

// MessageProcessingDuration measures how long a consumed message takes to process.
var MessageProcessingDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "message_processing_duration_seconds",
		Help:      "Duration of message processing from poll to sink write.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"topic"},
)

// ── Connection metrics ────────────────────────────────────────────────────────

// ConnectionState reports each supervised resource's state:
// 0 disconnected, 1 connecting, 2 connected.
var ConnectionState = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "connection_state",
		Help:      "Current state of each supervised connection (0 disconnected, 1 connecting, 2 connected).",
	},
	[]string{"resource"},
)

// ConnectionAttemptsTotal counts dial attempts by resource and result ("success", "failure").
var ConnectionAttemptsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "connection_attempts_total",
		Help:      "Total number of connection attempts per supervised resource.",
	},
	[]string{"resource", "result"},
)
