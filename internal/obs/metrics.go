package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	connectionsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "connections_in_flight",
		Help: "Accepted connections currently being served.",
	})

	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "requests_total",
			Help: "Total number of requests.",
		},
		[]string{"method", "path", "status"},
	)

	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "request_duration_seconds",
			Help:    "Request latencies in seconds.",
			Buckets: prometheus.DefBuckets, // [0.005..10]
		},
		[]string{"method", "path", "status"},
	)

	keySetRefreshes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "federated_keyset_refreshes_total",
		Help: "Fetches of the federated signing key set.",
	})
)

// Init registers the metrics in the default registry.
func Init() {
	prometheus.MustRegister(connectionsInFlight, requestsTotal, requestDuration, keySetRefreshes)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// TrackConnection marks a connection in flight and returns the matching
// decrement.
func TrackConnection() func() {
	connectionsInFlight.Inc()
	return connectionsInFlight.Dec
}

// ObserveRequest records one served request.
func ObserveRequest(method, path string, status int, d time.Duration) {
	s := strconv.Itoa(status)
	requestsTotal.WithLabelValues(method, path, s).Inc()
	requestDuration.WithLabelValues(method, path, s).Observe(d.Seconds())
}

// CountKeySetRefresh records a federated key set fetch.
func CountKeySetRefresh() {
	keySetRefreshes.Inc()
}
