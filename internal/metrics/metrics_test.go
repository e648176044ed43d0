package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCountersRecord(t *testing.T) {
	before := testutil.ToFloat64(BatchFetches.WithLabelValues("failed"))
	BatchFetches.WithLabelValues("failed").Inc()
	require.Equal(t, before+1, testutil.ToFloat64(BatchFetches.WithLabelValues("failed")))

	CircuitBreakerState.WithLabelValues("autograph").Set(2)
	require.Equal(t, float64(2), testutil.ToFloat64(CircuitBreakerState.WithLabelValues("autograph")))
}

func TestMetricsLint(t *testing.T) {
	UpstreamRequests.WithLabelValues("GetTripItems", "ok").Inc()
	UpstreamDuration.WithLabelValues("GetTripItems").Observe(0.2)
	PipelineRuns.WithLabelValues("empty").Inc()
	PipelineDuration.Observe(1)
	MergeCountMismatches.Inc()
	CircuitBreakerTransitions.WithLabelValues("autograph", "closed", "open").Inc()
	SnapshotsSaved.WithLabelValues("ok").Inc()

	problems, err := testutil.GatherAndLint(prometheus.DefaultGatherer)
	require.NoError(t, err)
	for _, p := range problems {
		if len(p.Metric) > len(namespace) && p.Metric[:len(namespace)] == namespace {
			t.Errorf("lint problem on %s: %s", p.Metric, p.Text)
		}
	}
}
