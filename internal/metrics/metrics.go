// Package metrics defines the Prometheus collectors exported at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Provider metrics
	ProviderRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deep_research_provider_requests_total",
			Help: "Total provider search calls by outcome",
		},
		[]string{"provider", "mode", "result"},
	)

	ProviderLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "deep_research_provider_latency_seconds",
			Help:    "Provider search latency in seconds, retries included",
			Buckets: []float64{1, 2.5, 5, 10, 20, 30, 60, 90},
		},
		[]string{"provider", "mode"},
	)

	ProviderRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deep_research_provider_retries_total",
			Help: "Total retried provider attempts",
		},
		[]string{"provider"},
	)

	CircuitState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "deep_research_circuit_breaker_state",
			Help: "Current circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"provider"},
	)

	// Pipeline metrics
	RunsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deep_research_runs_started_total",
			Help: "Total research runs started",
		},
		[]string{"mode"},
	)

	RunsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deep_research_runs_finished_total",
			Help: "Total research runs finished by status",
		},
		[]string{"mode", "status"},
	)

	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "deep_research_run_duration_seconds",
			Help:    "End-to-end research run duration in seconds",
			Buckets: []float64{30, 60, 120, 300, 600, 900, 1200, 1800},
		},
		[]string{"mode"},
	)

	TasksFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deep_research_tasks_finished_total",
			Help: "Total analysis tasks finished by status",
		},
		[]string{"task", "status"},
	)

	FactCheckGrades = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deep_research_fact_check_grades_total",
			Help: "Fact-check verdicts by trust grade",
		},
		[]string{"grade"},
	)

	RunCostUSD = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "deep_research_run_cost_usd",
			Help:    "Estimated provider cost per research run",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
	)

	// Event metrics
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deep_research_events_published_total",
			Help: "Total progress events published",
		},
		[]string{"type"},
	)

	EventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deep_research_events_dropped_total",
			Help: "Events dropped because a subscriber buffer was full",
		},
	)

	ActiveStreams = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "deep_research_active_streams",
			Help: "Open SSE progress streams",
		},
	)
)
