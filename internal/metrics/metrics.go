// v1
// internal/metrics/metrics.go
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level collectors registered on a dedicated registry so tests can
// exercise instrumented paths without tripping duplicate-registration panics
// against the global default.
var (
	registry = prometheus.NewRegistry()

	ingestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "moldsense",
		Subsystem: "ingest",
		Name:      "readings_total",
		Help:      "Readings processed by the ingestion pipeline, by persistence reason.",
	}, []string{"reason"})

	ingestDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "moldsense",
		Subsystem: "ingest",
		Name:      "duration_seconds",
		Help:      "Time spent processing one reading end to end.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	})

	persistenceErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "moldsense",
		Subsystem: "ingest",
		Name:      "persistence_errors_total",
		Help:      "Log writes rejected by the datastore.",
	})

	broadcastClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "moldsense",
		Subsystem: "live",
		Name:      "subscribers_connected",
		Help:      "Currently connected live-update subscribers.",
	})

	broadcastsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "moldsense",
		Subsystem: "live",
		Name:      "broadcasts_total",
		Help:      "Broadcast fan-outs performed.",
	})

	predictionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "moldsense",
		Subsystem: "predict",
		Name:      "requests_total",
		Help:      "Classification requests, by result.",
	}, []string{"result"})

	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "moldsense",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests served, by path and status class.",
	}, []string{"path", "status"})
)

func init() {
	registry.MustRegister(
		ingestTotal,
		ingestDuration,
		persistenceErrors,
		broadcastClients,
		broadcastsTotal,
		predictionsTotal,
		httpRequests,
	)
}

// Handler exposes the service registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// ObserveIngest records one reading processed with the given persistence reason.
func ObserveIngest(reason string, duration time.Duration) {
	ingestTotal.WithLabelValues(reason).Inc()
	ingestDuration.Observe(duration.Seconds())
}

// IncPersistenceError records a rejected log write.
func IncPersistenceError() {
	persistenceErrors.Inc()
}

// SetSubscribers records the current live-subscriber count.
func SetSubscribers(n int) {
	broadcastClients.Set(float64(n))
}

// IncBroadcast records one fan-out to the live subscriber set.
func IncBroadcast() {
	broadcastsTotal.Inc()
}

// ObservePrediction records a classification request outcome
// ("ok", "empty_history", "parse_error", "error").
func ObservePrediction(result string) {
	predictionsTotal.WithLabelValues(result).Inc()
}

// ObserveHTTPRequest records a served request for the access-log middleware.
func ObserveHTTPRequest(path string, status int) {
	class := "2xx"
	switch {
	case status >= 500:
		class = "5xx"
	case status >= 400:
		class = "4xx"
	case status >= 300:
		class = "3xx"
	}
	httpRequests.WithLabelValues(path, class).Inc()
}
