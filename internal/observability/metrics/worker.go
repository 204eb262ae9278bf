package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// WorkerMetrics covers the ingest worker: job outcomes, job latency and how
// long uploads wait on the queue.
type WorkerMetrics struct {
	registry *prometheus.Registry

	jobs     *prometheus.CounterVec
	jobTime  *prometheus.HistogramVec
	running  prometheus.Gauge
	queueLag *prometheus.HistogramVec
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &WorkerMetrics{
		registry: reg,
		jobs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "worker", Name: "ingest_jobs_total",
			Help: "Total ingest jobs by resulting document status.",
		}, []string{"service", "status"}),
		jobTime: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "worker", Name: "ingest_job_duration_seconds",
			Help:    "Ingest job duration in seconds by resulting status.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}, []string{"service", "status"}),
		running: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "worker", Name: "ingest_jobs_in_flight",
			Help:        "Number of ingest jobs currently running.",
			ConstLabels: prometheus.Labels{"service": service},
		}),
		queueLag: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "worker", Name: "queue_lag_seconds",
			Help:    "Delay between upload and the worker picking up the ingest job.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2.5, 10),
		}, []string{"service"}),
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartDocument() { m.running.Inc() }

// FinishDocument records one ingest job by the document status it ended in:
// ready, error, skipped for redeliveries, or failed when the status could not be stored.
func (m *WorkerMetrics) FinishDocument(service string, duration time.Duration, status string) {
	m.running.Dec()
	if status == "" {
		status = "unknown"
	}
	m.jobs.WithLabelValues(service, status).Inc()
	m.jobTime.WithLabelValues(service, status).Observe(duration.Seconds())
}

// ObserveQueueLag ignores negative lag caused by clock skew between hosts.
func (m *WorkerMetrics) ObserveQueueLag(service string, lag time.Duration) {
	if lag >= 0 {
		m.queueLag.WithLabelValues(service).Observe(lag.Seconds())
	}
}
