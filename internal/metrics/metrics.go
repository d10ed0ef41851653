package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "checkout"

// Checkout outcomes used as the "outcome" label.
const (
	OutcomeSuccess       = "success"
	OutcomeReplayed      = "replayed"
	OutcomeInvalidInput  = "invalid_input"
	OutcomeStockConflict = "stock_conflict"
	OutcomeInProgress    = "in_progress"
	OutcomeFailure       = "failure"
)

type Metrics struct {
	Checkouts           *prometheus.CounterVec
	CheckoutDuration    prometheus.Histogram
	UnavailableProducts prometheus.Counter
	OutboxEvents        *prometheus.CounterVec
	Requests            *prometheus.CounterVec
	LatencyMS           *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Checkouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempts_total",
			Help:      "Checkout attempts by outcome.",
		}, []string{"outcome"}),
		CheckoutDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "duration_seconds",
			Help:      "Checkout latency from request to commit.",
			Buckets:   prometheus.DefBuckets,
		}),
		UnavailableProducts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unavailable_products_total",
			Help:      "Products reported unavailable in stock conflicts.",
		}),
		OutboxEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "events_total",
			Help:      "Outbox events relayed to the broker by result.",
		}, []string{"result"}),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"handler", "status"}),
		LatencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_ms",
			Help:      "HTTP request latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"handler"}),
	}

	reg.MustRegister(m.Checkouts, m.CheckoutDuration, m.UnavailableProducts, m.OutboxEvents, m.Requests, m.LatencyMS)
	return m
}

func (m *Metrics) ObserveCheckout(outcome string, unavailable int, elapsed time.Duration) {
	m.Checkouts.WithLabelValues(outcome).Inc()
	m.CheckoutDuration.Observe(elapsed.Seconds())
	if unavailable > 0 {
		m.UnavailableProducts.Add(float64(unavailable))
	}
}

func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
