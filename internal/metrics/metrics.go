// Package metrics exposes the gateway's Prometheus counters and gauges.
// Grounded on prometheus/client_golang usage elsewhere in the retrieved
// corpus (other_examples); the teacher repo carries no metrics surface
// of its own, so the counter set is built fresh from spec.md §2's
// component responsibilities.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// FramesParsed counts successfully decoded frames, by command.
	FramesParsed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "parklock",
		Name:      "frames_parsed_total",
		Help:      "Frames successfully parsed from device connections, by command byte.",
	}, []string{"command"})

	// FramesDropped counts frames rejected during parsing, by reason.
	FramesDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "parklock",
		Name:      "frames_dropped_total",
		Help:      "Frames dropped due to framing or CRC errors, by reason.",
	}, []string{"reason"})

	// WebhookDeliveries counts webhook POST outcomes.
	WebhookDeliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "parklock",
		Name:      "webhook_deliveries_total",
		Help:      "Webhook delivery attempts, by outcome (delivered, failed).",
	}, []string{"outcome"})

	// WebhookQueueDropped counts reports dropped from the webhook queue
	// due to backpressure.
	WebhookQueueDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "parklock",
		Name:      "webhook_queue_dropped_total",
		Help:      "Heartbeat reports dropped from the webhook delivery queue due to backpressure.",
	})

	// SessionsActive is the current number of registered device sessions.
	SessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "parklock",
		Name:      "sessions_active",
		Help:      "Number of devices currently registered with an active session.",
	})
)

// Registry is the collector set registered with the HTTP /metrics
// endpoint. A dedicated registry (rather than the global default) keeps
// gateway metrics isolated from anything else linked into the process.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(FramesParsed, FramesDropped, WebhookDeliveries, WebhookQueueDropped, SessionsActive)
}
