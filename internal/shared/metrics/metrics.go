package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shopora_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration tracks HTTP request latency.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shopora_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// PaymentInitiations counts payment initiations by gateway and outcome.
	PaymentInitiations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shopora_payment_initiations_total",
			Help: "Total payment initiations by gateway and outcome",
		},
		[]string{"gateway", "outcome"},
	)

	// WebhookEvents counts webhook deliveries by gateway and result.
	WebhookEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shopora_payment_webhook_events_total",
			Help: "Total webhook events by gateway and result",
		},
		[]string{"gateway", "result"},
	)

	// SignatureFailures counts rejected callback and webhook signatures.
	SignatureFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shopora_payment_signature_failures_total",
			Help: "Total signature verification failures by gateway and source",
		},
		[]string{"gateway", "source"},
	)

	// PaymentAnomalies counts detected anomalies such as amount mismatches.
	PaymentAnomalies = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shopora_payment_anomalies_total",
			Help: "Total payment anomalies by gateway and kind",
		},
		[]string{"gateway", "kind"},
	)
)
