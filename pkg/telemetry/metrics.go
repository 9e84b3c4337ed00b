package telemetry

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Guard metrics
	guardEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rampart_guard_events_total",
			Help: "Total number of guard events by type and severity",
		},
		[]string{"event", "severity", "tenant"},
	)

	turnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rampart_turns_total",
			Help: "Total number of processed turns by outcome",
		},
		[]string{"tenant", "outcome"},
	)

	turnDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rampart_turn_duration_seconds",
			Help:    "Turn processing duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	// Delivery metrics
	outboundSendsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rampart_outbound_sends_total",
			Help: "Total number of outbound deliveries by status",
		},
		[]string{"channel", "status"},
	)

	// Rate limit metrics
	rateRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rampart_rate_rejections_total",
			Help: "Total number of rate-limited requests by scope",
		},
		[]string{"scope"},
	)

	initOnce sync.Once
)

// InitMetrics registers the Prometheus metrics, safe to call more than once
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			guardEventsTotal,
			turnsTotal,
			turnDuration,
			outboundSendsTotal,
			rateRejectionsTotal,
		)
	})
}

// MetricsHandler returns an HTTP handler for Prometheus metrics
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordGuardEvent records one guard event
func RecordGuardEvent(event, severity, tenant string) {
	guardEventsTotal.WithLabelValues(event, severity, tenant).Inc()
}

// RecordTurn records a processed turn and its duration
func RecordTurn(tenant, outcome string, duration time.Duration) {
	turnsTotal.WithLabelValues(tenant, outcome).Inc()
	turnDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordOutboundSend records one delivery attempt
func RecordOutboundSend(channel, status string) {
	outboundSendsTotal.WithLabelValues(channel, status).Inc()
}

// RecordRateRejection records one rate-limited request
func RecordRateRejection(scope string) {
	rateRejectionsTotal.WithLabelValues(scope).Inc()
}
