package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status_code"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Scheduling metrics
	bookingsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "appointment_writes_total",
			Help: "Booking and rescheduling attempts by outcome",
		},
		[]string{"operation", "outcome"},
	)

	lockWaitSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "schedule_lock_wait_seconds",
			Help:    "Time spent waiting for the doctor-day lock",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		},
	)

	slotQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "schedule_reads_total",
			Help: "Doctor-day schedule reads by cache result",
		},
		[]string{"cache"},
	)

	statusChangesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "appointment_status_changes_total",
			Help: "Committed status transitions by target status",
		},
		[]string{"status"},
	)

	// Outbox metrics
	eventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_events_published_total",
			Help: "Outbox events handed to the broker by outcome",
		},
		[]string{"event_type", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		bookingsTotal,
		lockWaitSeconds,
		slotQueriesTotal,
		statusChangesTotal,
		eventsPublishedTotal,
	)
}

// RecordWrite counts one Book or Reschedule attempt.
func RecordWrite(operation, outcome string) {
	bookingsTotal.WithLabelValues(operation, outcome).Inc()
}

func ObserveLockWait(d time.Duration) {
	lockWaitSeconds.Observe(d.Seconds())
}

// RecordScheduleRead counts a schedule load; cache is "hit", "miss" or "off".
func RecordScheduleRead(cache string) {
	slotQueriesTotal.WithLabelValues(cache).Inc()
}

func RecordStatusChange(status string) {
	statusChangesTotal.WithLabelValues(status).Inc()
}

func RecordEventPublish(eventType string, ok bool) {
	outcome := "published"
	if !ok {
		outcome = "failed"
	}
	eventsPublishedTotal.WithLabelValues(eventType, outcome).Inc()
}

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// HTTPMiddleware records request count and latency per chi route pattern, so
// path parameters do not explode label cardinality.
func HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapper := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapper, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}

		httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(wrapper.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
