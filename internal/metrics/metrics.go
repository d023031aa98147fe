// internal/metrics/metrics.go

// Package metrics exposes movement processing counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "collectortrack"

// Recorder counts processed movements by kind and outcome.
type Recorder struct {
	registry *prometheus.Registry
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// NewRecorder registers the movement collectors on a private registry along
// with the Go runtime and process collectors.
func NewRecorder() *Recorder {
	fieldKeys := []string{"kind", "outcome"}
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "movements",
			Name:      "total",
			Help:      "Number of movements submitted, by kind and outcome.",
		}, fieldKeys),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "movements",
			Name:      "process_duration_seconds",
			Help:      "Time spent validating and recording a movement.",
			Buckets:   prometheus.DefBuckets,
		}, fieldKeys),
	}
	r.registry.MustRegister(
		r.requests,
		r.latency,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// ObserveProcess records one Process call.
func (r *Recorder) ObserveProcess(kind, outcome string, d time.Duration) {
	r.requests.WithLabelValues(kind, outcome).Inc()
	r.latency.WithLabelValues(kind, outcome).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Registry exposes the underlying registry for tests.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }
