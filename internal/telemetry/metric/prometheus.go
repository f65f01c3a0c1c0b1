package metric

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yndnr/ksefbridge-go/internal/infra/buildinfo"
)

const namespace = "ksefbridge"

// Registry holds the application metrics.
type Registry struct {
	registry *prometheus.Registry

	// Inbound API
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Submission outcomes by result code
	SubmissionsTotal *prometheus.CounterVec

	// Scrape-time gauges
	Live *Collector
}

// NewRegistry creates a registry with Go runtime, process and build
// metrics plus the inbound API metrics.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{
		registry: reg,
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Inbound API requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Inbound API request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		SubmissionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Document submissions by outcome.",
		}, []string{"outcome"}),
		Live: NewCollector(),
	}

	info := buildinfo.Get()
	buildInfo := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        "build_info",
		Help:        "Build information.",
		ConstLabels: prometheus.Labels{"version": info.Version, "commit": info.Commit, "go_version": info.GoVersion},
	})
	buildInfo.Set(1)

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		buildInfo,
		r.RequestsTotal,
		r.RequestDuration,
		r.SubmissionsTotal,
		r.Live,
	)
	return r
}

var (
	globalOnce sync.Once
	global     *Registry
)

// Global returns a process-wide registry.
func Global() *Registry {
	globalOnce.Do(func() { global = NewRegistry() })
	return global
}

// Registerer is where components register their own collectors.
func (r *Registry) Registerer() prometheus.Registerer {
	return r.registry
}

// Gatherer exposes the registry for tests and custom exporters.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

// Handler serves the registry in the Prometheus text format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
