package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pdfqa"

var endpointLabels = []string{"service", "endpoint"}

// HTTPServerMetrics owns the API registry: request traffic plus
// answer, upload and streaming outcomes.
type HTTPServerMetrics struct {
	registry *prometheus.Registry

	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	inFlight prometheus.Gauge

	answers       *prometheus.CounterVec
	grounded      *prometheus.CounterVec
	ungrounded    *prometheus.CounterVec
	sourcesPerAns *prometheus.HistogramVec
	answerLatency *prometheus.HistogramVec
	tokens        *prometheus.CounterVec
	uploads       *prometheus.CounterVec
	streams       *prometheus.CounterVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	counter := func(subsystem, name, help string, labels ...string) *prometheus.CounterVec {
		return f.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Subsystem: subsystem, Name: name, Help: help}, labels)
	}
	histogram := func(subsystem, name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
		return f.NewHistogramVec(prometheus.HistogramOpts{Namespace: namespace, Subsystem: subsystem, Name: name, Help: help, Buckets: buckets}, labels)
	}

	return &HTTPServerMetrics{
		registry: reg,
		requests: counter("http", "requests_total", "Total HTTP requests processed.", "service", "method", "path", "status"),
		latency:  histogram("http", "request_duration_seconds", "HTTP request duration in seconds.", prometheus.DefBuckets, "service", "method", "path"),
		inFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "http",
			Name:        "in_flight_requests",
			Help:        "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{"service": service},
		}),

		answers:       counter("rag", "requests_total", "Total answered chat requests.", endpointLabels...),
		grounded:      counter("rag", "retrieval_hit_total", "Answered chat requests that cited at least one source.", endpointLabels...),
		ungrounded:    counter("rag", "no_context_total", "Answered chat requests without any relevant excerpt.", endpointLabels...),
		sourcesPerAns: histogram("rag", "sources", "Cited sources per answered chat request.", []float64{0, 1, 2, 3, 4, 5, 6}, endpointLabels...),
		answerLatency: histogram("rag", "duration_seconds", "Time from request to final answer.", []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80, 120}, endpointLabels...),
		tokens:        counter("llm", "tokens_total", "Approximate word-level token usage by direction.", "service", "endpoint", "direction", "model"),
		uploads:       counter("ingest", "uploads_total", "Accepted uploads by resulting document status.", "service", "status"),
		streams:       counter("rag", "stream_outcome_total", "Streamed answers by outcome: done, error or disconnected.", "service", "outcome"),
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Middleware(service string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		m.inFlight.Inc()
		next.ServeHTTP(rec, r)
		m.inFlight.Dec()

		path := normalizePath(r.URL.Path)
		m.requests.WithLabelValues(service, r.Method, path, strconv.Itoa(rec.statusCode)).Inc()
		m.latency.WithLabelValues(service, r.Method, path).Observe(time.Since(started).Seconds())
	})
}

// normalizePath keeps label cardinality bounded.
func normalizePath(path string) string {
	switch {
	case strings.HasPrefix(path, "/v1/documents/") && strings.HasSuffix(path, "/file"):
		return "/v1/documents/{id}/file"
	case strings.HasPrefix(path, "/v1/documents/"):
		return "/v1/documents/{id}"
	case path == "/v1/documents", path == "/v1/chat", path == "/v1/chat/stream", path == "/healthz", path == "/metrics":
		return path
	default:
		return "other"
	}
}

func (m *HTTPServerMetrics) RecordRAGObservation(service, endpoint string, sourceCount int, duration time.Duration) {
	m.answers.WithLabelValues(service, endpoint).Inc()
	m.sourcesPerAns.WithLabelValues(service, endpoint).Observe(float64(sourceCount))
	m.answerLatency.WithLabelValues(service, endpoint).Observe(duration.Seconds())
	if sourceCount == 0 {
		m.ungrounded.WithLabelValues(service, endpoint).Inc()
	} else {
		m.grounded.WithLabelValues(service, endpoint).Inc()
	}
}

func (m *HTTPServerMetrics) RecordTokenUsage(service, endpoint, model string, promptTokens, completionTokens int) {
	if model == "" {
		model = "unknown"
	}
	for direction, n := range map[string]int{"in": promptTokens, "out": completionTokens} {
		if n > 0 {
			m.tokens.WithLabelValues(service, endpoint, direction, model).Add(float64(n))
		}
	}
}

func (m *HTTPServerMetrics) RecordIngest(service, status string) {
	if status == "" {
		status = "unknown"
	}
	m.uploads.WithLabelValues(service, status).Inc()
}

func (m *HTTPServerMetrics) RecordStreamOutcome(service, outcome string) {
	m.streams.WithLabelValues(service, outcome).Inc()
}

// statusRecorder keeps Flush and Hijack reachable for SSE.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Unwrap() http.ResponseWriter { return w.ResponseWriter }

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := w.ResponseWriter.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, fmt.Errorf("hijack: %T is not an http.Hijacker", w.ResponseWriter)
}
