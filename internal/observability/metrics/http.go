package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/docs-assistant/internal/core/domain"
)

const namespace = "docs"

type HTTPServerMetrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	retrievalTotal         *prometheus.CounterVec
	retrievalLowConfidence *prometheus.CounterVec
	retrievalDegraded      *prometheus.CounterVec
	retrievalNoResults     *prometheus.CounterVec
	retrievalPassages      *prometheus.HistogramVec
	retrievalDuration      *prometheus.HistogramVec
	retrievalConfidence    *prometheus.HistogramVec
	feedbackTotal          *prometheus.CounterVec
	reindexRequestsTotal   *prometheus.CounterVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	retrievalTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "requests_total",
			Help:      "Total successful retrievals by effective strategy and intent.",
		},
		[]string{"service", "endpoint", "strategy", "intent"},
	)
	retrievalLowConfidence := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "low_confidence_total",
			Help:      "Total retrievals whose top score fell below the confidence threshold.",
		},
		[]string{"service", "endpoint", "strategy"},
	)
	retrievalDegraded := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "degraded_total",
			Help:      "Total retrievals that took a fallback path, by mode.",
		},
		[]string{"service", "endpoint", "mode"},
	)
	retrievalNoResults := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "no_results_total",
			Help:      "Total retrievals without any passage.",
		},
		[]string{"service", "endpoint"},
	)
	retrievalPassages := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "passages",
			Help:      "Distribution of passages returned per retrieval.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21},
		},
		[]string{"service", "endpoint"},
	)
	retrievalDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "duration_seconds",
			Help:      "Retrieval pipeline duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "endpoint"},
	)
	retrievalConfidence := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "confidence",
			Help:      "Calibrated top score per retrieval, by score scale.",
			Buckets:   []float64{0.05, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1},
		},
		[]string{"service", "scale"},
	)
	feedbackTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feedback",
			Name:      "total",
			Help:      "Total feedback submissions by helpfulness.",
		},
		[]string{"service", "helpful"},
	)
	reindexRequestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reindex",
			Name:      "requests_total",
			Help:      "Total re-index requests accepted, by trigger.",
		},
		[]string{"service", "trigger"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		retrievalTotal,
		retrievalLowConfidence,
		retrievalDegraded,
		retrievalNoResults,
		retrievalPassages,
		retrievalDuration,
		retrievalConfidence,
		feedbackTotal,
		reindexRequestsTotal,
	)

	return &HTTPServerMetrics{
		registry:               registry,
		requestTotal:           requestTotal,
		requestDuration:        requestDuration,
		requestInFlight:        requestInFlight,
		retrievalTotal:         retrievalTotal,
		retrievalLowConfidence: retrievalLowConfidence,
		retrievalDegraded:      retrievalDegraded,
		retrievalNoResults:     retrievalNoResults,
		retrievalPassages:      retrievalPassages,
		retrievalDuration:      retrievalDuration,
		retrievalConfidence:    retrievalConfidence,
		feedbackTotal:          feedbackTotal,
		reindexRequestsTotal:   reindexRequestsTotal,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Middleware(service string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			service,
			r.Method,
			r.URL.Path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(service, r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
	})
}

// RecordRetrieval records one completed retrieval outcome.
func (m *HTTPServerMetrics) RecordRetrieval(service, endpoint string, outcome *domain.RetrievalOutcome) {
	if outcome == nil {
		return
	}
	intent := string(outcome.Query.Intent)
	if intent == "" {
		intent = "unknown"
	}
	strategy := string(outcome.Strategy)
	if strategy == "" {
		strategy = "unknown"
	}

	m.retrievalTotal.WithLabelValues(service, endpoint, strategy, intent).Inc()
	m.retrievalPassages.WithLabelValues(service, endpoint).Observe(float64(len(outcome.Passages)))
	m.retrievalDuration.WithLabelValues(service, endpoint).Observe(outcome.Duration.Seconds())

	if outcome.Empty() {
		m.retrievalNoResults.WithLabelValues(service, endpoint).Inc()
	} else if outcome.Scale != "" {
		m.retrievalConfidence.WithLabelValues(service, string(outcome.Scale)).Observe(outcome.Confidence)
	}
	if outcome.LowConfidence {
		m.retrievalLowConfidence.WithLabelValues(service, endpoint, strategy).Inc()
	}
	if outcome.Degraded.RerankFallback {
		m.retrievalDegraded.WithLabelValues(service, endpoint, "rerank_fallback").Inc()
	}
	if outcome.Degraded.KeywordUnavailable {
		m.retrievalDegraded.WithLabelValues(service, endpoint, "keyword_unavailable").Inc()
	}
	if outcome.Degraded.SemanticOnly {
		m.retrievalDegraded.WithLabelValues(service, endpoint, "semantic_only").Inc()
	}
}

func (m *HTTPServerMetrics) RecordFeedback(service string, helpful bool) {
	m.feedbackTotal.WithLabelValues(service, strconv.FormatBool(helpful)).Inc()
}

func (m *HTTPServerMetrics) RecordReindexRequest(service, trigger string) {
	if trigger == "" {
		trigger = "unknown"
	}
	m.reindexRequestsTotal.WithLabelValues(service, trigger).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}
