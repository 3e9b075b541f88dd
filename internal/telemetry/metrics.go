package telemetry

import "github.com/prometheus/client_golang/prometheus"

var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "channelcore",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds by method, route, and status.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	},
	[]string{"method", "route", "status"},
)

var LockAcquisitionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "channelcore",
		Subsystem: "lock",
		Name:      "acquisitions_total",
		Help:      "Total fenced lock acquisition attempts by resource kind and outcome.",
	},
	[]string{"kind", "outcome"},
)

var LockContentionTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "channelcore",
		Subsystem: "lock",
		Name:      "contention_total",
		Help:      "Total lock acquisition attempts that found the resource already held.",
	},
	[]string{"kind"},
)

var RateLimiterWaitDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "channelcore",
		Subsystem: "ratelimit",
		Name:      "wait_duration_seconds",
		Help:      "Time a caller waited (or was rejected after) for a per-channel rate token.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	},
	[]string{"channel"},
)

var RateLimiterThrottledTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "channelcore",
		Subsystem: "ratelimit",
		Name:      "throttled_total",
		Help:      "Total requests rejected by the per-channel rate limiter.",
	},
	[]string{"channel"},
)

var CircuitBreakerTransitionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "channelcore",
		Subsystem: "circuitbreaker",
		Name:      "transitions_total",
		Help:      "Total circuit breaker state transitions by channel and target state.",
	},
	[]string{"channel", "state"},
)

var OutboxDepth = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "channelcore",
		Subsystem: "outbox",
		Name:      "depth",
		Help:      "Number of outbound events not yet settled, by channel.",
	},
	[]string{"channel"},
)

var DeliveryDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "channelcore",
		Subsystem: "delivery",
		Name:      "duration_seconds",
		Help:      "Duration of an adapter delivery attempt.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	},
	[]string{"channel", "event_type"},
)

var DeliveryOutcomeTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "channelcore",
		Subsystem: "delivery",
		Name:      "outcome_total",
		Help:      "Total delivery attempts by channel and outcome (ok, transient, permanent).",
	},
	[]string{"channel", "event_type", "outcome"},
)

var ReconcilerDriftTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "channelcore",
		Subsystem: "reconciler",
		Name:      "drift_total",
		Help:      "Total drift records found during daily reconciliation by channel and resolution.",
	},
	[]string{"channel", "resolution"},
)

var CheckoutFunnelTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "channelcore",
		Subsystem: "checkout",
		Name:      "funnel_total",
		Help:      "Bookings transitioning through checkout funnel stages.",
	},
	[]string{"stage"},
)

// All returns every channelcore metric collector for registration against a
// prometheus.Registerer at startup.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		LockAcquisitionsTotal,
		LockContentionTotal,
		RateLimiterWaitDuration,
		RateLimiterThrottledTotal,
		CircuitBreakerTransitionsTotal,
		OutboxDepth,
		DeliveryDuration,
		DeliveryOutcomeTotal,
		ReconcilerDriftTotal,
		CheckoutFunnelTotal,
	}
}
