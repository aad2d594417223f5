// Package metrics exports authentication and housekeeping counters to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "session_auth"

// Recorder holds all Prometheus metrics. It implements auth.Observer and
// housekeeping.Observer.
type Recorder struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Authentication metrics
	LoginFailuresTotal    *prometheus.CounterVec
	LockoutsTotal         *prometheus.CounterVec
	RefreshOutcomesTotal  *prometheus.CounterVec
	SessionsCreatedTotal  *prometheus.CounterVec
	SweepRemovedTotal     *prometheus.CounterVec
	SweepLastRunTimestamp prometheus.Gauge
}

// New creates a Recorder and registers its metrics on registry.
func New(registry *prometheus.Registry) *Recorder {
	r := &Recorder{
		registry: registry,

		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		LoginFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "login_failures_total",
				Help:      "Failed password or MFA attempts by stage",
			},
			[]string{"stage"},
		),
		LockoutsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lockouts_total",
				Help:      "Requests rejected by an active lockout",
			},
			[]string{"counter"},
		),
		RefreshOutcomesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "refresh_outcomes_total",
				Help:      "Refresh attempts by outcome; theft marks detected token reuse",
			},
			[]string{"outcome"},
		),
		SessionsCreatedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_created_total",
				Help:      "Sessions created by client type",
			},
			[]string{"client_type"},
		),
		SweepRemovedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sweep_removed_total",
				Help:      "Records removed by the expiry sweep",
			},
			[]string{"kind"},
		),
		SweepLastRunTimestamp: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sweep_last_run_timestamp_seconds",
				Help:      "Unix time the expiry sweep last finished",
			},
		),
	}

	registry.MustRegister(
		r.HTTPRequestsTotal,
		r.HTTPRequestDuration,
		r.LoginFailuresTotal,
		r.LockoutsTotal,
		r.RefreshOutcomesTotal,
		r.SessionsCreatedTotal,
		r.SweepRemovedTotal,
		r.SweepLastRunTimestamp,
	)
	return r
}

func (r *Recorder) LoginFailed(stage string) {
	r.LoginFailuresTotal.WithLabelValues(stage).Inc()
}

func (r *Recorder) LockedOut(counter string) {
	r.LockoutsTotal.WithLabelValues(counter).Inc()
}

func (r *Recorder) RefreshCompleted(outcome string) {
	r.RefreshOutcomesTotal.WithLabelValues(outcome).Inc()
}

func (r *Recorder) SessionCreated(clientType string) {
	r.SessionsCreatedTotal.WithLabelValues(clientType).Inc()
}

// SweepRemoved counts records of kind deleted by one sweep.
func (r *Recorder) SweepRemoved(kind string, n int64) {
	r.SweepRemovedTotal.WithLabelValues(kind).Add(float64(n))
}

func (r *Recorder) SweepFinished(at time.Time) {
	r.SweepLastRunTimestamp.Set(float64(at.Unix()))
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware instruments every request. Paths are not used as labels since
// session ids appear in them.
func (r *Recorder) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, req)

		r.HTTPRequestsTotal.WithLabelValues(req.Method, strconv.Itoa(rw.statusCode)).Inc()
		r.HTTPRequestDuration.WithLabelValues(req.Method).Observe(time.Since(start).Seconds())
	})
}
