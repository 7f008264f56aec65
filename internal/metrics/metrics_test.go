package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorsRegistered(t *testing.T) {
	ProviderRequests.WithLabelValues("gemini", "verify", "success").Inc()
	ProviderLatency.WithLabelValues("gemini", "verify").Observe(1.5)
	RunsStarted.WithLabelValues("quick").Inc()
	FactCheckGrades.WithLabelValues("A").Inc()
	EventsDropped.Inc()
	CircuitState.WithLabelValues("openai").Set(1)

	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, mf := range families {
		if strings.HasPrefix(mf.GetName(), "deep_research_") {
			names[mf.GetName()] = true
		}
	}

	for _, want := range []string{
		"deep_research_provider_requests_total",
		"deep_research_provider_latency_seconds",
		"deep_research_runs_started_total",
		"deep_research_fact_check_grades_total",
		"deep_research_events_dropped_total",
		"deep_research_circuit_breaker_state",
	} {
		assert.True(t, names[want], want)
	}
}
