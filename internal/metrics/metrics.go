package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "memelib"

// Metrics owns a private registry so tests and multiple App instances do
// not collide on the global one.
type Metrics struct {
	registry        *prometheus.Registry
	operations      *prometheus.CounterVec
	storageDuration *prometheus.HistogramVec
	orphans         *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "template_operations_total",
			Help:      "Template lifecycle operations by outcome.",
		}, []string{"operation", "result"}),
		storageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "storage_operation_duration_seconds",
			Help:      "Latency of blob storage calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"backend", "operation"}),
		orphans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orphan_blobs_total",
			Help:      "Blobs left in storage without a template row.",
		}, []string{"operation"}),
	}
	m.registry.MustRegister(
		m.operations,
		m.storageDuration,
		m.orphans,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) TemplateOperation(operation, result string) {
	m.operations.WithLabelValues(operation, result).Inc()
}

func (m *Metrics) OrphanBlob(operation string) {
	m.orphans.WithLabelValues(operation).Inc()
}

func (m *Metrics) observeStorage(backend, operation string, seconds float64) {
	m.storageDuration.WithLabelValues(backend, operation).Observe(seconds)
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
