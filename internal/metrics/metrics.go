package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	HTTPRequests    *prometheus.CounterVec
	HTTPLatencyMS   *prometheus.HistogramVec
	EventsProcessed *prometheus.CounterVec
}

// New registers the service metrics on the given registerer; pass
// prometheus.DefaultRegisterer in main.
func New(reg prometheus.Registerer, service string) *Metrics {
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shopcommerce",
		Subsystem: service,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"handler", "status"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "shopcommerce",
		Subsystem: service,
		Name:      "http_request_duration_ms",
		Help:      "HTTP request latency in milliseconds.",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"handler"})
	eventsProcessed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shopcommerce",
		Subsystem: service,
		Name:      "events_processed_total",
		Help:      "Total number of domain events processed by the async pipeline.",
	}, []string{"type", "status"})

	reg.MustRegister(requests, latency, eventsProcessed)
	return &Metrics{HTTPRequests: requests, HTTPLatencyMS: latency, EventsProcessed: eventsProcessed}
}

func Handler() http.Handler {
	return promhttp.Handler()
}
