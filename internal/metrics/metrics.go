// Package metrics holds the Prometheus collectors shared by the store,
// the offline cache service and the HTTP layer.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "budget"

var (
	// SyncOutcomes counts SyncData results by outcome.
	SyncOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sync",
		Name:      "outcomes_total",
		Help:      "Sync attempts by outcome.",
	}, []string{"outcome"})

	// PendingChanges tracks the length of the pending-change queue.
	PendingChanges = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "sync",
		Name:      "pending_changes",
		Help:      "Number of changes waiting for the remote exchange.",
	})

	// CacheResponses counts responses served by the offline cache worker.
	CacheResponses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "responses_total",
		Help:      "Responses served by the cache worker by strategy and source.",
	}, []string{"strategy", "source"})

	// CacheLifecycle counts worker lifecycle transitions.
	CacheLifecycle = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "lifecycle_events_total",
		Help:      "Cache worker lifecycle events.",
	}, []string{"event"})

	// WorkerBatches counts change batches handled by the remote worker.
	WorkerBatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "worker",
		Name:      "batches_total",
		Help:      "Change batches handled by the remote worker by result.",
	}, []string{"result"})

	// HTTPRequests counts origin requests.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests handled by the origin server.",
	}, []string{"method", "route", "status"})

	// SecurityEvents counts rate-limited and suspicious origin requests.
	SecurityEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "security_events_total",
		Help:      "Requests rejected by the rate limiter or flagged as suspicious.",
	}, []string{"event"})

	// HTTPDuration observes origin request latency.
	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Latency of HTTP requests handled by the origin server.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})
)

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
