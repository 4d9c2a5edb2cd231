package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/MarkoPoloResearchLab/tonstore/pkg/storefront"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "tonstore"

// Metrics owns a private registry. A nil *Metrics accepts every call and records nothing.
type Metrics struct {
	registry       *prometheus.Registry
	httpRequests   *prometheus.CounterVec
	httpLatency    *prometheus.HistogramVec
	ledgerPolls    *prometheus.CounterVec
	verdicts       *prometheus.CounterVec
	enqueues       *prometheus.CounterVec
	jobs           *prometheus.CounterVec
	queueDepth     prometheus.Gauge
	recoveredTotal prometheus.Counter
	notifyFailures prometheus.Counter
}

// NewMetrics registers every collector on a fresh registry.
func NewMetrics() *Metrics {
	metrics := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests segmented by route, method and status code.",
		}, []string{"route", "method", "code"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP handler latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		ledgerPolls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "settlement",
			Name:      "ledger_polls_total",
			Help:      "Ledger polls issued by the settlement verifier.",
		}, []string{"result"}),
		verdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "settlement",
			Name:      "verdicts_total",
			Help:      "Verification runs by outcome.",
		}, []string{"outcome"}),
		enqueues: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "dispatch",
			Name:      "enqueues_total",
			Help:      "Settlement jobs offered to the queue.",
		}, []string{"outcome"}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "dispatch",
			Name:      "jobs_total",
			Help:      "Settlement jobs processed by kind and outcome.",
		}, []string{"kind", "outcome"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "dispatch",
			Name:      "queue_depth",
			Help:      "Buffered settlement jobs.",
		}),
		recoveredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "dispatch",
			Name:      "recovered_jobs_total",
			Help:      "PENDING records re-enqueued by the recovery sweep.",
		}),
		notifyFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "notify",
			Name:      "failures_total",
			Help:      "Buyer notifications that could not be delivered.",
		}),
	}
	metrics.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		metrics.httpRequests,
		metrics.httpLatency,
		metrics.ledgerPolls,
		metrics.verdicts,
		metrics.enqueues,
		metrics.jobs,
		metrics.queueDepth,
		metrics.recoveredTotal,
		metrics.notifyFailures,
	)
	return metrics
}

// Handler serves the registry in the Prometheus text format.
func (metrics *Metrics) Handler() http.Handler {
	if metrics == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(metrics.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (metrics *Metrics) Registry() *prometheus.Registry {
	if metrics == nil {
		return nil
	}
	return metrics.registry
}

func (metrics *Metrics) ObserveHTTP(route string, method string, code int, elapsed time.Duration) {
	if metrics == nil {
		return
	}
	metrics.httpRequests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	metrics.httpLatency.WithLabelValues(route, method).Observe(elapsed.Seconds())
}

func (metrics *Metrics) ObservePoll(result string) {
	if metrics == nil {
		return
	}
	metrics.ledgerPolls.WithLabelValues(result).Inc()
}

func (metrics *Metrics) ObserveVerdict(outcome string) {
	if metrics == nil {
		return
	}
	metrics.verdicts.WithLabelValues(outcome).Inc()
}

func (metrics *Metrics) ObserveEnqueue(outcome string) {
	if metrics == nil {
		return
	}
	metrics.enqueues.WithLabelValues(outcome).Inc()
}

func (metrics *Metrics) ObserveJob(kind storefront.JobKind, outcome string) {
	if metrics == nil {
		return
	}
	metrics.jobs.WithLabelValues(string(kind), outcome).Inc()
}

func (metrics *Metrics) SetQueueDepth(depth int) {
	if metrics == nil {
		return
	}
	metrics.queueDepth.Set(float64(depth))
}

func (metrics *Metrics) AddRecovered(count int) {
	if metrics == nil || count <= 0 {
		return
	}
	metrics.recoveredTotal.Add(float64(count))
}

func (metrics *Metrics) ObserveNotifyFailure() {
	if metrics == nil {
		return
	}
	metrics.notifyFailures.Inc()
}
