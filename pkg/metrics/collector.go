// Package metrics exposes Prometheus metrics for puzzle generation, validation
// and serving.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ekaya-inc/puzzle-engine/pkg/llm"
)

const namespace = "puzzle_engine"

// Allocation outcomes.
const (
	AllocationHit      = "hit"
	AllocationEmpty    = "empty"
	AllocationFallback = "fallback"
)

// Collector holds every engine metric. A nil *Collector is valid and records
// nothing, so components can run without metrics in tests.
type Collector struct {
	jobsEnqueued *prometheus.CounterVec
	jobsFinished *prometheus.CounterVec
	jobsRequeued *prometheus.CounterVec
	jobDuration  prometheus.Histogram
	dispositions *prometheus.CounterVec
	scores       prometheus.Histogram
	allocations  *prometheus.CounterVec
	llmCalls     *prometheus.CounterVec
	llmLatency   *prometheus.HistogramVec
	llmTokens    *prometheus.CounterVec
	poolSize     *prometheus.GaugeVec
	httpRequests *prometheus.CounterVec
	gatherer     prometheus.Gatherer
}

var _ llm.CallObserver = (*Collector)(nil)

// NewCollector creates the collector and registers it with reg. When reg also
// implements prometheus.Gatherer it backs Handler.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		jobsEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_enqueued_total",
			Help:      "Generation jobs enqueued, by source.",
		}, []string{"source"}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Generation jobs reaching a terminal status.",
		}, []string{"status"}),
		jobsRequeued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_requeued_total",
			Help:      "Generation jobs returned to the queue, by reason.",
		}, []string{"reason"}),
		jobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Wall-clock time of one job attempt.",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600},
		}),
		dispositions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispositions_total",
			Help:      "Validation outcomes by resulting puzzle status.",
		}, []string{"status"}),
		scores: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "validation_score",
			Help:      "Final validation score of validated puzzles.",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		}),
		allocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "allocations_total",
			Help:      "Puzzle allocation requests by outcome.",
		}, []string{"config", "outcome"}),
		llmCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_calls_total",
			Help:      "Model call attempts by stage and outcome.",
		}, []string{"stage", "outcome"}),
		llmLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_call_seconds",
			Help:      "Model call latency by stage.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		}, []string{"stage"}),
		llmTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_total",
			Help:      "Tokens consumed by direction.",
		}, []string{"direction"}),
		poolSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_puzzles",
			Help:      "Stored puzzles by config and status.",
		}, []string{"config", "status"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Operator HTTP requests by method and status code.",
		}, []string{"method", "code"}),
	}

	reg.MustRegister(
		c.jobsEnqueued, c.jobsFinished, c.jobsRequeued, c.jobDuration,
		c.dispositions, c.scores, c.allocations,
		c.llmCalls, c.llmLatency, c.llmTokens,
		c.poolSize, c.httpRequests,
	)
	if g, ok := reg.(prometheus.Gatherer); ok {
		c.gatherer = g
	}
	return c
}

// Handler serves the registered metrics in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	if c == nil || c.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

// RecordEnqueued counts n jobs enqueued by source.
func (c *Collector) RecordEnqueued(source string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.jobsEnqueued.WithLabelValues(source).Add(float64(n))
}

// RecordJobFinished counts a job reaching status and observes the attempt duration.
func (c *Collector) RecordJobFinished(status string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.jobsFinished.WithLabelValues(status).Inc()
	c.jobDuration.Observe(elapsed.Seconds())
}

// RecordRequeued counts jobs returned to the queue.
func (c *Collector) RecordRequeued(reason string, n int64) {
	if c == nil || n <= 0 {
		return
	}
	c.jobsRequeued.WithLabelValues(reason).Add(float64(n))
}

// RecordDisposition counts a validation outcome and its score.
func (c *Collector) RecordDisposition(status string, score float64) {
	if c == nil {
		return
	}
	c.dispositions.WithLabelValues(status).Inc()
	c.scores.Observe(score)
}

// RecordAllocation counts one allocation request.
func (c *Collector) RecordAllocation(config, outcome string) {
	if c == nil {
		return
	}
	c.allocations.WithLabelValues(config, outcome).Inc()
}

// SetPoolSize sets the stored puzzle count for one config and status.
func (c *Collector) SetPoolSize(config, status string, n int64) {
	if c == nil {
		return
	}
	c.poolSize.WithLabelValues(config, status).Set(float64(n))
}

// RecordHTTPRequest counts one operator request.
func (c *Collector) RecordHTTPRequest(method string, code string) {
	if c == nil {
		return
	}
	c.httpRequests.WithLabelValues(method, code).Inc()
}

// ObserveLLMCall implements llm.CallObserver.
func (c *Collector) ObserveLLMCall(stage, outcome string, elapsed time.Duration, usage llm.Usage) {
	if c == nil {
		return
	}
	c.llmCalls.WithLabelValues(stage, outcome).Inc()
	c.llmLatency.WithLabelValues(stage).Observe(elapsed.Seconds())
	if usage.InputTokens > 0 {
		c.llmTokens.WithLabelValues("input").Add(float64(usage.InputTokens))
	}
	if usage.OutputTokens > 0 {
		c.llmTokens.WithLabelValues("output").Add(float64(usage.OutputTokens))
	}
}
