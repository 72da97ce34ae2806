package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Common HTTP metrics.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Domain metrics.
var (
	tokenRefreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jiralink_token_refresh_total",
			Help: "Token refresh attempts by result.",
		},
		[]string{"result"},
	)

	upstreamRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jiralink_upstream_requests_total",
			Help: "Calls to the issue tracker by operation and status.",
		},
		[]string{"op", "status"},
	)

	upstreamDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "jiralink_upstream_request_duration_seconds",
			Help:    "Issue tracker call latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	projectsSyncedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "jiralink_projects_synced_total",
		Help: "Projects upserted by the synchronizer.",
	})

	accessRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jiralink_access_requests_total",
			Help: "Access request transitions.",
		},
		[]string{"transition"},
	)
)

var initOnce sync.Once

// Init registers all metrics in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			tokenRefreshTotal, upstreamRequestsTotal, upstreamDuration,
			projectsSyncedTotal, accessRequestsTotal, readyGauge,
		)
	})
}

// Handler exposes the Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument records in-flight, totals and latency per canonical path.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

var knownPaths = map[string]struct{}{
	"/":                           {},
	"/healthz":                    {},
	"/readyz":                     {},
	"/metrics":                    {},
	"/v1/info":                    {},
	"/v1/organizations":           {},
	"/v1/connection/credentials":  {},
	"/v1/connection/authorize":    {},
	"/v1/connection/callback":     {},
	"/v1/connection/token":        {},
	"/v1/connection/cloud":        {},
	"/v1/connection/status":       {},
	"/v1/projects":                {},
	"/v1/projects/sync":           {},
	"/v1/organization/projects":   {},
	"/v1/access-requests":         {},
	"/v1/access-requests/pending": {},
	"/v1/access-requests/accept":  {},
}

// CanonicalPath maps a request path onto a bounded label set.
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	if len(p) > 1 {
		p = strings.TrimSuffix(p, "/")
	}
	if _, ok := knownPaths[p]; ok {
		return p
	}
	return "unmatched"
}

// ObserveUpstream records one call to the issue tracker. status is the HTTP
// status code, or 0 when no response arrived.
func ObserveUpstream(op string, status int, d time.Duration) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	upstreamRequestsTotal.WithLabelValues(op, label).Inc()
	upstreamDuration.WithLabelValues(op).Observe(d.Seconds())
}

// TokenRefreshed counts a refresh attempt; result is "ok", "error" or "shared".
func TokenRefreshed(result string) {
	tokenRefreshTotal.WithLabelValues(result).Inc()
}

// ProjectsSynced adds n upserted projects.
func ProjectsSynced(n int) {
	projectsSyncedTotal.Add(float64(n))
}

// AccessRequestTransition counts a workflow transition ("requested", "accepted").
func AccessRequestTransition(transition string) {
	accessRequestsTotal.WithLabelValues(transition).Inc()
}

// statusWriter captures the response code for the metrics labels.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
