// Package metrics defines the Prometheus instrumentation shared by the
// graph store, task queue, and LLM adapters, in the promauto style the
// teacher uses for its own tracing metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Graph holds the C1 Graph Store Adapter's metrics (spec §4.1).
type Graph struct {
	QueriesTotal        *prometheus.CounterVec
	QueryDurationSeconds *prometheus.HistogramVec
	LiveConnections      prometheus.Gauge
}

// NewGraph registers and returns the graph-store metrics under namespace.
func NewGraph(namespace string) *Graph {
	return &Graph{
		QueriesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Total graph store queries by operation and outcome.",
		}, []string{"operation", "success"}),
		QueryDurationSeconds: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "Graph store query latency by operation.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		LiveConnections: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_connections",
			Help:      "Open graph store driver sessions.",
		}),
	}
}

// Queue holds the C2 Task Queue Adapter's metrics.
type Queue struct {
	TasksSubmittedTotal *prometheus.CounterVec
	TasksCompletedTotal *prometheus.CounterVec
	QueueDepth          *prometheus.GaugeVec
}

func NewQueue(namespace string) *Queue {
	return &Queue{
		TasksSubmittedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_submitted_total",
			Help:      "Total tasks submitted by queue name.",
		}, []string{"queue"}),
		TasksCompletedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_completed_total",
			Help:      "Total tasks completed by queue name and outcome.",
		}, []string{"queue", "outcome"}),
		QueueDepth: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Current queue depth by queue name.",
		}, []string{"queue"}),
	}
}

// LLM holds the C3 LLM Adapter's metrics.
type LLM struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RetriesTotal    *prometheus.CounterVec
}

func NewLLM(namespace string) *LLM {
	return &LLM{
		RequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "Total LLM requests by call kind and outcome.",
		}, []string{"call", "success"}),
		RequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "LLM request latency by call kind.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"call"}),
		RetriesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_retries_total",
			Help:      "Total LLM request retries by call kind.",
		}, []string{"call"}),
	}
}

// Orchestrator holds the C9 Pipeline Orchestrator's metrics.
type Orchestrator struct {
	JobsTotal       *prometheus.CounterVec
	JobDuration     *prometheus.HistogramVec
	JobsInFlight    prometheus.Gauge
	StepDuration    *prometheus.HistogramVec
}

func NewOrchestrator(namespace string) *Orchestrator {
	return &Orchestrator{
		JobsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Total ingestion jobs by terminal status.",
		}, []string{"status"}),
		JobDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Job wall-clock duration from dispatch to terminal status.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}, []string{"status"}),
		JobsInFlight: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_in_flight",
			Help:      "Jobs currently RUNNING.",
		}),
		StepDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Per-step duration by step name and outcome.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}, []string{"step", "outcome"}),
	}
}
