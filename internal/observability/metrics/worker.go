package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/docs-assistant/internal/core/domain"
)

type WorkerMetrics struct {
	registry *prometheus.Registry

	reindexTotal    *prometheus.CounterVec
	reindexDuration *prometheus.HistogramVec
	reindexInFlight prometheus.Gauge
	indexChunks     prometheus.Gauge
	indexTerms      prometheus.Gauge
	queueLag        *prometheus.HistogramVec
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	reindexTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "reindex_total",
			Help:      "Total re-index runs by trigger and status.",
		},
		[]string{"service", "trigger", "status"},
	)
	reindexDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "reindex_duration_seconds",
			Help:      "Re-index run duration in seconds by status.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		},
		[]string{"service", "status"},
	)
	reindexInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "reindex_in_flight",
			Help:      "Number of re-index runs in progress in this worker.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	indexChunks := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "index",
			Name:        "chunks",
			Help:        "Chunks in the last published index.",
			ConstLabels: prometheus.Labels{"service": service},
		},
	)
	indexTerms := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "index",
			Name:        "terms",
			Help:        "Distinct terms in the last published index.",
			ConstLabels: prometheus.Labels{"service": service},
		},
	)
	queueLag := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "queue_lag_seconds",
			Help:      "Delay between a re-index request and the start of its run.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"service"},
	)

	registry.MustRegister(reindexTotal, reindexDuration, reindexInFlight, indexChunks, indexTerms, queueLag)

	return &WorkerMetrics{
		registry:        registry,
		reindexTotal:    reindexTotal,
		reindexDuration: reindexDuration,
		reindexInFlight: reindexInFlight,
		indexChunks:     indexChunks,
		indexTerms:      indexTerms,
		queueLag:        queueLag,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartReindex() {
	m.reindexInFlight.Inc()
}

// FinishReindex classifies the run as success, failed (report errors),
// skipped (lease held elsewhere) or error.
func (m *WorkerMetrics) FinishReindex(service, trigger string, duration time.Duration, report *domain.ReindexReport, err error) {
	m.reindexInFlight.Dec()

	status := "success"
	switch {
	case domain.IsKind(err, domain.ErrReindexInProgress):
		status = "skipped"
	case err != nil:
		status = "error"
	case report != nil && report.Failed():
		status = "failed"
	}
	if trigger == "" {
		trigger = "unknown"
	}

	m.reindexTotal.WithLabelValues(service, trigger, status).Inc()
	m.reindexDuration.WithLabelValues(service, status).Observe(duration.Seconds())
	if status == "success" && report != nil {
		m.indexChunks.Set(float64(report.Chunks))
		m.indexTerms.Set(float64(report.Terms))
	}
}

func (m *WorkerMetrics) ObserveQueueLag(service string, lag time.Duration) {
	if lag < 0 {
		return
	}
	m.queueLag.WithLabelValues(service).Observe(lag.Seconds())
}
