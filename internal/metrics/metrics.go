package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	leadsAdded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "leads_added_total",
			Help: "Total number of new lead rows created",
		},
	)

	leadsMerged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leads_merged_total",
			Help: "Total number of incoming leads merged into existing rows",
		},
		[]string{"matched_on"},
	)

	syncRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airtable_sync_records_total",
			Help: "Lead records pushed to Airtable by result",
		},
		[]string{"result"},
	)

	syncBatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airtable_sync_batches_total",
			Help: "Airtable push batches by result",
		},
		[]string{"result"},
	)

	poolInUse = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_pool_in_use_connections",
			Help: "Database connections currently handed out",
		},
	)

	poolTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "db_pool_acquire_timeouts_total",
			Help: "Pool acquisitions that timed out",
		},
	)

	lockWaits = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "resource_lock_wait_seconds",
			Help:    "Time spent waiting for a named resource lock",
			Buckets: []float64{.001, .005, .025, .1, .5, 1, 5, 30},
		},
		[]string{"resource"},
	)

	deadlocks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "resource_lock_deadlocks_total",
			Help: "Acquisitions rejected by deadlock detection",
		},
	)
)

func RecordLeadAdded() { leadsAdded.Inc() }

func RecordLeadMerged(matchedOn string) { leadsMerged.WithLabelValues(matchedOn).Inc() }

func RecordSyncRecords(result string, n int) {
	syncRecords.WithLabelValues(result).Add(float64(n))
}
func RecordSyncBatch(result string) { syncBatches.WithLabelValues(result).Inc() }

func PoolConnOut() { poolInUse.Inc() }

func PoolConnBack() { poolInUse.Dec() }

func RecordPoolTimeout() { poolTimeouts.Inc() }

func RecordDeadlock() { deadlocks.Inc() }

func RecordLockWait(resource string, d time.Duration) {
	lockWaits.WithLabelValues(resource).Observe(d.Seconds())
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware records request counts and latency per method/path.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		status := strconv.Itoa(rw.statusCode)
		httpRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
		httpRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
	})
}
