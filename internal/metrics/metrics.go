package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"peerprep/proctoring/internal/models"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "peerprep",
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests received",
	}, []string{"service", "method", "path", "status"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "peerprep",
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"service", "method", "path", "status"})

	httpInFlight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "peerprep",
		Name:      "http_in_flight_requests",
		Help:      "Current number of in-flight HTTP requests",
	}, []string{"service"})

	eventsAppended = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "peerprep",
		Subsystem: "proctoring",
		Name:      "events_appended_total",
		Help:      "Detection events accepted, by kind",
	}, []string{"kind", "severity"})

	sessionsFinalized = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "peerprep",
		Subsystem: "proctoring",
		Name:      "sessions_finalized_total",
		Help:      "Sessions that reached a terminal status",
	}, []string{"status"})

	integrityScores = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "peerprep",
		Subsystem: "proctoring",
		Name:      "integrity_score",
		Help:      "Final integrity score of finalized sessions",
		Buckets:   prometheus.LinearBuckets(0, 10, 11),
	})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "peerprep",
		Subsystem: "proctoring",
		Name:      "session_duration_seconds",
		Help:      "Wall-clock length of finalized sessions",
		Buckets:   prometheus.ExponentialBuckets(60, 2, 8),
	})

	operationErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "peerprep",
		Subsystem: "proctoring",
		Name:      "operation_errors_total",
		Help:      "Failed engine operations, by operation and error kind",
	}, []string{"operation", "kind"})
)

type responseRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *responseRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

func (r *responseRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack is required by the live websocket upgrade.
func (r *responseRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := r.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, fmt.Errorf("proctoring metrics: underlying ResponseWriter does not support hijacking")
}

// Middleware records request metrics. The path label is the matched chi route
// pattern so session ids never become label values.
func Middleware(service string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()

			httpInFlight.WithLabelValues(service).Inc()
			defer httpInFlight.WithLabelValues(service).Dec()

			next.ServeHTTP(rec, r)

			labels := prometheus.Labels{
				"service": service,
				"method":  r.Method,
				"path":    routePattern(r),
				"status":  strconv.Itoa(rec.status),
			}
			httpRequests.With(labels).Inc()
			httpLatency.With(labels).Observe(time.Since(start).Seconds())
		})
	}
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

// Handler exposes the default Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Observer feeds engine activity into the domain metrics.
type Observer struct{}

func NewObserver() *Observer { return &Observer{} }

func (o *Observer) EventAppended(_ models.Session, event models.Event, _ int) {
	eventsAppended.WithLabelValues(string(event.Kind), string(event.Severity)).Inc()
}

func (o *Observer) SessionFinalized(session models.Session) {
	sessionsFinalized.WithLabelValues(string(session.Status)).Inc()
	if session.IntegrityScore != nil {
		integrityScores.Observe(float64(*session.IntegrityScore))
	}
	if session.DurationMs != nil {
		sessionDuration.Observe(float64(*session.DurationMs) / 1000)
	}
}

// ObserveError counts a failed engine operation.
func ObserveError(operation string, err error) {
	if err == nil {
		return
	}
	operationErrors.WithLabelValues(operation, string(models.KindOf(err))).Inc()
}
