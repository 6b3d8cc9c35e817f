package metric

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mdm"

// Registry holds all application metrics.
type Registry struct {
	reg *prometheus.Registry

	buildsTotal   *prometheus.CounterVec
	buildDuration *prometheus.HistogramVec
	classesTotal  *prometheus.CounterVec
	bytesWritten  prometheus.Counter

	fetchTotal    *prometheus.CounterVec
	streamsActive prometheus.Gauge
	fetchBytes    prometheus.Counter

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// NewRegistry creates and registers all metrics.
func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		buildsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "builds_total",
			Help:      "Partition builds by kind and result (ok, partial, error).",
		}, []string{"kind", "result"}),
		buildDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "build_duration_seconds",
			Help:      "Partition build duration.",
			Buckets:   []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"kind"}),
		classesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "build_classes_total",
			Help:      "Class files built, by result.",
		}, []string{"result"}),
		bytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_bytes_written_total",
			Help:      "Bytes of class payloads written to the cache.",
		}),
		fetchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_total",
			Help:      "Finished partition streams, by result (ok, aborted, cancelled).",
		}, []string{"result"}),
		streamsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "fetch_streams_active",
			Help:      "Partition streams currently open.",
		}),
		fetchBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_bytes_total",
			Help:      "Bytes streamed to clients.",
		}),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
	r.reg.MustRegister(
		r.buildsTotal, r.buildDuration, r.classesTotal, r.bytesWritten,
		r.fetchTotal, r.streamsActive, r.fetchBytes,
		r.requestsTotal, r.requestDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Registerer lets other components add their own collectors.
func (r *Registry) Registerer() prometheus.Registerer {
	return r.reg
}

// Gatherer returns the underlying gatherer.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// Handler returns the /metrics handler.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

// BuildFinished records one partition build.
func (r *Registry) BuildFinished(kind, result string, elapsed time.Duration) {
	r.buildsTotal.WithLabelValues(kind, result).Inc()
	r.buildDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

// ClassFinished records one class file.
func (r *Registry) ClassFinished(result string, bytes int) {
	r.classesTotal.WithLabelValues(result).Inc()
	if bytes > 0 {
		r.bytesWritten.Add(float64(bytes))
	}
}

// StreamOpened records a stream being opened.
func (r *Registry) StreamOpened() {
	r.streamsActive.Inc()
}

// StreamClosed records a stream being closed.
func (r *Registry) StreamClosed(result string, bytes int64) {
	r.streamsActive.Dec()
	r.fetchTotal.WithLabelValues(result).Inc()
	if bytes > 0 {
		r.fetchBytes.Add(float64(bytes))
	}
}

// ObserveRequest records one HTTP request. route is the mux pattern, not
// the raw path, so label cardinality stays bounded.
func (r *Registry) ObserveRequest(route string, code int, elapsed time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	r.requestsTotal.WithLabelValues(route, strconv.Itoa(code)).Inc()
	r.requestDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}
