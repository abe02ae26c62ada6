package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Общие HTTP-метрики
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
			Buckets: prometheus.DefBuckets, // [0.005..10]
		},
		[]string{"method", "path", "status"},
	)
)

// Метрики движка разрешений
var (
	checksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "permission_checks_total",
			Help: "Permission checks by verdict.",
		},
		[]string{"verdict"},
	)

	resolveDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "permission_resolve_duration_seconds",
		Help:    "Latency of full permission resolution.",
		Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
	})

	sweepRemovalsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "expiry_sweep_removals_total",
		Help: "Timed entries removed by the expiry sweeper.",
	})

	savesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_saves_total",
			Help: "Persistence flushes by outcome.",
		},
		[]string{"status"},
	)
)

// Регистрация метрик в default-регистре.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		checksTotal, resolveDuration, sweepRemovalsTotal, savesTotal,
	)
}

// Хэндлер Prometheus.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveCheck records one permission check.
func ObserveCheck(verdict string, d time.Duration) {
	checksTotal.WithLabelValues(verdict).Inc()
	resolveDuration.Observe(d.Seconds())
}

// ObserveSweep records one expiry-sweep pass.
func ObserveSweep(removedAny bool) {
	if removedAny {
		sweepRemovalsTotal.Inc()
	}
}

// ObserveSave records one persistence flush.
func ObserveSave(err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	savesTotal.WithLabelValues(status).Inc()
}

// Обёртка для измерения RPS/latency/в полёте.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// CanonicalPath collapses identifier segments so metric cardinality stays
// bounded: world names, group names and user identities become
// placeholders.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")
	if len(parts) >= 3 && parts[0] == "v1" && parts[1] == "worlds" {
		parts[2] = ":world"
		if len(parts) >= 5 && (parts[3] == "groups" || parts[3] == "users") {
			parts[4] = ":id"
		}
		return "/" + strings.Join(parts, "/")
	}
	if len(parts) >= 3 && parts[0] == "v1" && parts[1] == "globalgroups" {
		parts[2] = ":name"
		return "/" + strings.Join(parts, "/")
	}
	if len(parts) == 3 && parts[0] == "v1" && parts[1] == "reload" {
		parts[2] = ":world"
		return "/" + strings.Join(parts, "/")
	}
	return path
}

// statusWriter — локальная копия, чтобы знать код ответа.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
