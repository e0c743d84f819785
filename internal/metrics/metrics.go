// Package metrics exposes Prometheus collectors for the raffle service.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "raffle_layer",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "raffle_layer",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "raffle_layer",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	entriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "raffle_layer",
			Subsystem: "raffle",
			Name:      "entries_total",
			Help:      "Total number of admitted raffle entries.",
		},
	)

	entriesRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "raffle_layer",
			Subsystem: "raffle",
			Name:      "entries_rejected_total",
			Help:      "Total number of rejected raffle entries.",
		},
		[]string{"reason"},
	)

	selectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "raffle_layer",
			Subsystem: "raffle",
			Name:      "selections_requested_total",
			Help:      "Total number of randomness requests issued.",
		},
	)

	fulfillments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "raffle_layer",
			Subsystem: "raffle",
			Name:      "fulfillments_total",
			Help:      "Total number of fulfillment callbacks by outcome.",
		},
		[]string{"outcome"},
	)

	payoutAmount = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "raffle_layer",
			Subsystem: "raffle",
			Name:      "payout_amount",
			Help:      "Distribution of pool amounts paid to winners.",
			Buckets:   prometheus.ExponentialBuckets(1, 10, 8),
		},
	)

	poolBalance = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "raffle_layer",
			Subsystem: "raffle",
			Name:      "pool_balance",
			Help:      "Current pool balance awaiting payout.",
		},
	)

	playerCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "raffle_layer",
			Subsystem: "raffle",
			Name:      "players",
			Help:      "Current number of entries in the pool.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		entriesTotal,
		entriesRejected,
		selectionsTotal,
		fulfillments,
		payoutAmount,
		poolBalance,
		playerCount,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordEntry records an admitted entry and the resulting pool state.
func RecordEntry(players int, pool int64) {
	entriesTotal.Inc()
	playerCount.Set(float64(players))
	poolBalance.Set(float64(pool))
}

// RecordEntryRejected records a rejected entry by reason.
func RecordEntryRejected(reason string) {
	entriesRejected.WithLabelValues(reason).Inc()
}

// RecordSelectionRequested records an issued randomness request.
func RecordSelectionRequested() {
	selectionsTotal.Inc()
}

// RecordFulfillment records the outcome of a fulfillment callback.
// On success the paid amount is observed and the pool gauges reset.
func RecordFulfillment(outcome string, payout int64) {
	fulfillments.WithLabelValues(outcome).Inc()
	if outcome == "success" {
		payoutAmount.Observe(float64(payout))
		poolBalance.Set(0)
		playerCount.Set(0)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func canonicalPath(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if parts[0] == "players" {
		return "/players/:index"
	}
	return "/" + parts[0]
}
