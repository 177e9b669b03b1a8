// Package metrics exposes export and API client metrics for Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"skylightcal/internal/model"
)

const namespace = "skylightcal"

// Manager owns a private registry and the collectors registered on it.
type Manager struct {
	registry *prometheus.Registry

	runs            *prometheus.CounterVec
	runDuration     prometheus.Histogram
	eventsExtracted prometheus.Gauge
	eventsExported  prometheus.Gauge
	diagnostics     *prometheus.CounterVec
	lastSuccessUnix prometheus.Gauge

	apiRequests        *prometheus.CounterVec
	apiRequestDuration *prometheus.HistogramVec
	apiCacheHits       *prometheus.CounterVec
}

// NewManager creates a Manager on a fresh registry.
func NewManager() *Manager {
	m := &Manager{registry: prometheus.NewRegistry()}
	auto := promauto.With(m.registry)

	m.runs = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "export",
		Name:      "runs_total",
		Help:      "Export runs by result.",
	}, []string{"result"})
	m.runDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "export",
		Name:      "run_duration_seconds",
		Help:      "Wall time of export runs.",
		Buckets:   prometheus.DefBuckets,
	})
	m.eventsExtracted = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "export",
		Name:      "events_extracted",
		Help:      "Events extracted by the last successful run.",
	})
	m.eventsExported = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "export",
		Name:      "events_exported",
		Help:      "VEVENTs written by the last successful run.",
	})
	m.diagnostics = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "export",
		Name:      "skipped_records_total",
		Help:      "Records skipped by stage.",
	}, []string{"stage"})
	m.lastSuccessUnix = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "export",
		Name:      "last_success_timestamp_seconds",
		Help:      "Unix time of the last successful run.",
	})

	m.apiRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "api",
		Name:      "requests_total",
		Help:      "Vendor API requests by endpoint and status code (0 = transport error).",
	}, []string{"endpoint", "code"})
	m.apiRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "api",
		Name:      "request_duration_seconds",
		Help:      "Vendor API request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"endpoint"})
	m.apiCacheHits = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "api",
		Name:      "cache_hits_total",
		Help:      "Responses served from the conditional-GET cache.",
	}, []string{"endpoint"})

	return m
}

// Registry returns the private registry.
func (m *Manager) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Manager) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRun records one export run. extracted and exported are ignored
// when err is non-nil.
func (m *Manager) ObserveRun(elapsed time.Duration, extracted, exported int, diags []model.Diagnostic, err error) {
	m.runDuration.Observe(elapsed.Seconds())
	if err != nil {
		m.runs.WithLabelValues("failure").Inc()
		return
	}
	m.runs.WithLabelValues("success").Inc()
	m.eventsExtracted.Set(float64(extracted))
	m.eventsExported.Set(float64(exported))
	m.lastSuccessUnix.Set(float64(time.Now().Unix()))
	for _, d := range diags {
		m.diagnostics.WithLabelValues(d.Stage).Inc()
	}
}

// ObserveRequest records one vendor API request. Its signature matches
// skylight.RequestObserver.
func (m *Manager) ObserveRequest(endpoint string, status int, fromCache bool, elapsed time.Duration) {
	m.apiRequests.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
	m.apiRequestDuration.WithLabelValues(endpoint).Observe(elapsed.Seconds())
	if fromCache {
		m.apiCacheHits.WithLabelValues(endpoint).Inc()
	}
}
