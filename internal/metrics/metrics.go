package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes application metrics that are safe to scrape via Prometheus.
type Metrics struct {
	registry            *prometheus.Registry
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	mapLoadsTotal       *prometheus.CounterVec
	mapLoadDuration     prometheus.Histogram
	loadedMaps          prometheus.Gauge
	snapshotsTotal      prometheus.Counter
	rollbacksTotal      prometheus.Counter
	failuresHandled     *prometheus.CounterVec
}

// New creates a fresh Metrics registry with HTTP and map lifecycle metrics
// registered.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	httpRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fleetmap",
		Name:      "http_requests_total",
		Help:      "Count of HTTP requests processed by core-go",
	}, []string{"method", "path", "status"})

	httpRequestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "fleetmap",
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests served by core-go",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	mapLoadsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fleetmap",
		Name:      "map_loads_total",
		Help:      "Count of map load attempts by outcome",
	}, []string{"outcome"})

	mapLoadDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "fleetmap",
		Name:      "map_load_duration_seconds",
		Help:      "Duration of successful map loads from fetch to normalized buffer",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	loadedMaps := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fleetmap",
		Name:      "loaded_maps",
		Help:      "Number of maps currently holding a pixel buffer",
	})

	snapshotsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "fleetmap",
		Name:      "snapshots_total",
		Help:      "Total number of registry snapshots taken",
	})

	rollbacksTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "fleetmap",
		Name:      "rollbacks_total",
		Help:      "Total number of applied snapshot rollbacks",
	})

	failuresHandled := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fleetmap",
		Name:      "failures_handled_total",
		Help:      "Count of failures processed by the recovery dispatcher",
	}, []string{"category", "severity"})

	registry.MustRegister(
		httpRequests,
		httpRequestDuration,
		mapLoadsTotal,
		mapLoadDuration,
		loadedMaps,
		snapshotsTotal,
		rollbacksTotal,
		failuresHandled,
	)

	return &Metrics{
		registry:            registry,
		httpRequests:        httpRequests,
		httpRequestDuration: httpRequestDuration,
		mapLoadsTotal:       mapLoadsTotal,
		mapLoadDuration:     mapLoadDuration,
		loadedMaps:          loadedMaps,
		snapshotsTotal:      snapshotsTotal,
		rollbacksTotal:      rollbacksTotal,
		failuresHandled:     failuresHandled,
	}
}

// ObserveHTTPRequest records a single HTTP request/response cycle.
func (m *Metrics) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labels := prometheus.Labels{
		"method": method,
		"path":   path,
		"status": strconv.Itoa(status),
	}
	m.httpRequests.With(labels).Inc()
	m.httpRequestDuration.With(labels).Observe(duration.Seconds())
}

// IncMapLoad counts one map load attempt by outcome ("ok" or "error").
func (m *Metrics) IncMapLoad(outcome string) {
	if m == nil {
		return
	}
	m.mapLoadsTotal.With(prometheus.Labels{"outcome": outcome}).Inc()
}

// ObserveMapLoadDuration observes one successful load's duration.
func (m *Metrics) ObserveMapLoadDuration(duration time.Duration) {
	if m == nil {
		return
	}
	m.mapLoadDuration.Observe(duration.Seconds())
}

// SetLoadedMaps records how many maps currently hold a buffer.
func (m *Metrics) SetLoadedMaps(n int) {
	if m == nil {
		return
	}
	m.loadedMaps.Set(float64(n))
}

// IncSnapshot counts one snapshot taken.
func (m *Metrics) IncSnapshot() {
	if m == nil {
		return
	}
	m.snapshotsTotal.Inc()
}

// IncRollback counts one applied rollback.
func (m *Metrics) IncRollback() {
	if m == nil {
		return
	}
	m.rollbacksTotal.Inc()
}

// IncFailureHandled counts one failure processed by the dispatcher.
func (m *Metrics) IncFailureHandled(category, severity string) {
	if m == nil {
		return
	}
	m.failuresHandled.With(prometheus.Labels{"category": category, "severity": severity}).Inc()
}

// Handler exposes the Prometheus registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("metrics unavailable"))
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
