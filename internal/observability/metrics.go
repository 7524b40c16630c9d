package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce       sync.Once
	httpRequestsTotal  *prometheus.CounterVec
	httpLatencySeconds *prometheus.HistogramVec
	httpErrorsTotal    *prometheus.CounterVec
	jobsTotal          *prometheus.CounterVec
	jobPhaseSeconds    *prometheus.HistogramVec
	callLogDropped     prometheus.Counter
)

// RegisterMetrics initialises the Prometheus collectors shared by the API and the worker.
func RegisterMetrics() {
	registerOnce.Do(func() {
		httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "creverse",
			Name:      "http_requests_total",
			Help:      "Total number of API requests served.",
		}, []string{"method", "route", "status"})

		httpLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "creverse",
			Name:      "http_latency_seconds",
			Help:      "Latency distribution for API requests.",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		httpErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "creverse",
			Name:      "http_errors_total",
			Help:      "Total number of error responses returned by the API.",
		}, []string{"method", "route", "status"})

		jobsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "creverse",
			Name:      "jobs_total",
			Help:      "Submission jobs handled by the worker, by type and outcome.",
		}, []string{"type", "outcome"})

		jobPhaseSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "creverse",
			Name:      "job_phase_duration_seconds",
			Help:      "Duration of each submission processing phase.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"phase", "outcome"})

		callLogDropped = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "creverse",
			Name:      "call_log_dropped_total",
			Help:      "Evaluation call records dropped because the log buffer was full.",
		})

		prometheus.MustRegister(httpRequestsTotal, httpLatencySeconds, httpErrorsTotal, jobsTotal, jobPhaseSeconds, callLogDropped)
	})
}

// HTTPRequests exposes the counter for API requests.
func HTTPRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return httpRequestsTotal
}

// HTTPLatency exposes the latency histogram for API requests.
func HTTPLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return httpLatencySeconds
}

// HTTPErrors exposes the counter for API error responses.
func HTTPErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return httpErrorsTotal
}

// Jobs exposes the job outcome counter.
func Jobs() *prometheus.CounterVec {
	RegisterMetrics()
	return jobsTotal
}

// JobPhaseDuration exposes the per-phase latency histogram.
func JobPhaseDuration() *prometheus.HistogramVec {
	RegisterMetrics()
	return jobPhaseSeconds
}

// CallLogDropped exposes the counter of discarded evaluation call records.
func CallLogDropped() prometheus.Counter {
	RegisterMetrics()
	return callLogDropped
}
