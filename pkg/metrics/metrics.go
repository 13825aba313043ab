package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	InboundDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbound_deliveries_total",
			Help: "Total number of inbound webhook deliveries by outcome (count)",
		},
		[]string{"outcome"},
	)

	InboundRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbound_rejections_total",
			Help: "Total number of rejected inbound deliveries by pipeline stage and reason (count)",
		},
		[]string{"stage", "code"},
	)

	InboundProcessingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inbound_processing_duration_ms",
			Help:    "End-to-end processing duration for inbound deliveries in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"outcome"},
	)

	NotificationAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_attempts_total",
			Help: "Total number of agent notification attempts (count)",
		},
		[]string{"status", "recipient_type"},
	)

	ShortContentMessagesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "short_content_messages_total",
			Help: "Total number of stored messages below the minimum content threshold (count)",
		},
	)

	FlaggedMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flagged_messages_total",
			Help: "Total number of stored messages flagged as low-signal by classifier rule (count)",
		},
		[]string{"rule"},
	)

	EventPublishTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "event_publish_total",
			Help: "Total number of message.created event publish attempts (count)",
		},
		[]string{"status"},
	)

	RateLimitRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_requests_total",
			Help: "Total number of requests seen by the rate limiter (count)",
		},
		[]string{"status"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open) (state code)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker (count)",
		},
		[]string{"name", "state"},
	)

	CircuitBreakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Total number of failures recorded by circuit breaker (count)",
		},
		[]string{"name"},
	)
)

func RegisterIngestMetrics() {
	prometheus.MustRegister(InboundDeliveriesTotal)
	prometheus.MustRegister(InboundRejectionsTotal)
	prometheus.MustRegister(InboundProcessingDuration)
	prometheus.MustRegister(NotificationAttemptsTotal)
	prometheus.MustRegister(ShortContentMessagesTotal)
	prometheus.MustRegister(FlaggedMessagesTotal)
	prometheus.MustRegister(EventPublishTotal)
}

func RegisterRateLimitMetrics() {
	prometheus.MustRegister(RateLimitRequestsTotal)
}

func RegisterCircuitBreakerMetrics() {
	prometheus.MustRegister(CircuitBreakerState)
	prometheus.MustRegister(CircuitBreakerRequests)
	prometheus.MustRegister(CircuitBreakerFailures)
}

func ObserveInboundDuration(duration time.Duration, outcome string) {
	InboundProcessingDuration.WithLabelValues(outcome).Observe(float64(duration.Milliseconds()))
}
