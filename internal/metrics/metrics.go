// Package metrics holds the Prometheus instruments for the capture pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Capture results.
const (
	CaptureOK        = "ok"
	CaptureFailed    = "failed"
	CaptureRecovered = "recovered"
)

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	registry *prometheus.Registry

	Captures         *prometheus.CounterVec
	AnalysisAttempts *prometheus.CounterVec
	AnalysisDuration prometheus.Histogram
	SnapshotsStored  prometheus.Counter
	ItemsFailed      *prometheus.CounterVec
	BatchSize        prometheus.Histogram
	LoopErrors       prometheus.Counter
}

// New registers all instruments on a fresh registry. queueDepth is sampled on
// every scrape and may be nil.
func New(queueDepth func() int) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	m := &Metrics{
		registry: reg,

		Captures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "focus_captures_total",
			Help: "Captures taken or recovered, by result",
		}, []string{"result"}),

		AnalysisAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "focus_analysis_attempts_total",
			Help: "Provider calls by outcome",
		}, []string{"outcome"}),

		// Vision calls are slow; buckets run up to the default 60s timeout
		AnalysisDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "focus_analysis_duration_seconds",
			Help:    "Provider call latency in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
		}),

		SnapshotsStored: factory.NewCounter(prometheus.CounterOpts{
			Name: "focus_snapshots_stored_total",
			Help: "Snapshots written to the store",
		}),

		ItemsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "focus_batch_items_failed_total",
			Help: "Batch items dropped, by error code",
		}, []string{"code"}),

		BatchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "focus_batch_size",
			Help:    "Captures drained per batch",
			Buckets: prometheus.LinearBuckets(0, 4, 8),
		}),

		LoopErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "focus_loop_errors_total",
			Help: "Loop-level errors counted toward the fatal ceiling",
		}),
	}

	if queueDepth != nil {
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "focus_queue_depth",
			Help: "Captures waiting for analysis",
		}, func() float64 { return float64(queueDepth()) })
	}

	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) CaptureResult(result string) {
	if m == nil {
		return
	}
	m.Captures.WithLabelValues(result).Inc()
}

func (m *Metrics) Attempt(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.AnalysisAttempts.WithLabelValues(outcome).Inc()
	m.AnalysisDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) Stored() {
	if m == nil {
		return
	}
	m.SnapshotsStored.Inc()
}

func (m *Metrics) ItemFailed(code string) {
	if m == nil {
		return
	}
	m.ItemsFailed.WithLabelValues(code).Inc()
}

func (m *Metrics) Batch(size int) {
	if m == nil {
		return
	}
	m.BatchSize.Observe(float64(size))
}

func (m *Metrics) LoopError() {
	if m == nil {
		return
	}
	m.LoopErrors.Inc()
}
