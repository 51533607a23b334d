package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Publish metrics
	publishedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pgmb_published_total",
			Help: "Total number of messages accepted by publish",
		},
	)

	fanoutDeliveriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pgmb_fanout_deliveries_total",
			Help: "Total number of deliveries created by routing fan-out",
		},
	)

	// Dispatch metrics
	deliveryAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pgmb_delivery_attempts_total",
			Help: "Total number of delivery attempts by outcome",
		},
		[]string{"queue", "outcome"},
	)

	deliveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pgmb_delivery_duration_seconds",
			Help:    "Worker endpoint round-trip duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"queue"},
	)

	abandonedLeasesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pgmb_abandoned_leases_total",
			Help: "Total number of expired leases swept, by resolution",
		},
		[]string{"queue", "resolution"},
	)
)

// RecordPublished records an accepted message and its fan-out width.
func RecordPublished(matched int) {
	publishedTotal.Inc()
	fanoutDeliveriesTotal.Add(float64(matched))
}

// RecordDeliveryAttempt records one resolved delivery attempt.
func RecordDeliveryAttempt(queue, outcome string) {
	deliveryAttemptsTotal.WithLabelValues(queue, outcome).Inc()
}

// ObserveDeliveryDuration records a worker endpoint round trip.
func ObserveDeliveryDuration(queue string, duration time.Duration) {
	deliveryDuration.WithLabelValues(queue).Observe(duration.Seconds())
}

// RecordAbandoned records the outcome of an abandoned-lease sweep.
func RecordAbandoned(queue string, requeued, deadLettered int64) {
	if requeued > 0 {
		abandonedLeasesTotal.WithLabelValues(queue, "requeued").Add(float64(requeued))
	}
	if deadLettered > 0 {
		abandonedLeasesTotal.WithLabelValues(queue, "dead_lettered").Add(float64(deadLettered))
	}
}

// MetricsHandler returns the Prometheus metrics handler.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
