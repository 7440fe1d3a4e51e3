package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	mutations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vitals",
			Name:      "mutations_total",
			Help:      "Mutations handled by the coordinator.",
		},
		[]string{"table", "op", "outcome"},
	)

	auditFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vitals",
			Name:      "audit_failures_total",
			Help:      "Change-log appends that failed after the data write succeeded.",
		},
		[]string{"table"},
	)

	cacheRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vitals",
			Name:      "cache_refreshes_total",
			Help:      "Summary cache refreshes by outcome.",
		},
		[]string{"outcome"},
	)

	storeOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "vitals",
			Name:      "store_op_duration_seconds",
			Help:      "Duration of record store operations.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
		},
		[]string{"op"},
	)

	latestScore = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "vitals",
			Name:      "latest_engagement_score",
			Help:      "Engagement score of the most recent weekly log.",
		},
	)

	reconcileOrphans = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "vitals",
			Name:      "reconcile_orphans",
			Help:      "Data rows without a change-log entry at the last reconciliation.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vitals",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "vitals",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "route"},
	)
)

func init() {
	Registry.MustRegister(
		mutations,
		auditFailures,
		cacheRefreshes,
		storeOpDuration,
		latestScore,
		reconcileOrphans,
		httpRequests,
		httpDuration,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordMutation counts one coordinator operation.
func RecordMutation(table, op string, err error) {
	mutations.WithLabelValues(table, op, outcome(err)).Inc()
}

// RecordAuditFailure counts a change-log append lost after a successful write.
func RecordAuditFailure(table string) {
	auditFailures.WithLabelValues(table).Inc()
}

// RecordCacheRefresh counts a summary refresh. outcome is "stored",
// "discarded" or "error".
func RecordCacheRefresh(outcome string) {
	cacheRefreshes.WithLabelValues(outcome).Inc()
}

// ObserveStoreOp records how long a store operation took.
func ObserveStoreOp(op string, duration time.Duration) {
	storeOpDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// SetLatestScore publishes the newest engagement score.
func SetLatestScore(score int) {
	latestScore.Set(float64(score))
}

// SetReconcileOrphans publishes the orphan count of the last reconciliation.
func SetReconcileOrphans(n int) {
	reconcileOrphans.Set(float64(n))
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
// Routes are labelled by their chi pattern to keep cardinality bounded.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(rec, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, route, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
