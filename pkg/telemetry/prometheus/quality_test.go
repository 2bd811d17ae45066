package prometheus

import (
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/livekit/quality-manager/pkg/quality"
)

func TestQualityMetrics(t *testing.T) {
	Init("ND_test", "test")
	m := NewQualityMetrics()

	admitted := sessionsAdmittedTotal.Load()
	m.SessionAdmitted(quality.TierGold, quality.Level1080p)
	m.SessionAdmitted(quality.TierGold, quality.Level1080p)
	require.Equal(t, admitted+2, sessionsAdmittedTotal.Load())
	require.Equal(t, 2.0, testutil.ToFloat64(promSessionsAdmitted.WithLabelValues("gold", "1080p")))

	m.SessionRejected(quality.TierBronze, "concurrency_limit")
	require.Equal(t, 1.0, testutil.ToFloat64(promSessionsRejected.WithLabelValues("bronze", "concurrency_limit")))

	m.ActionHandled("optimize_quality", http.StatusOK, 3*time.Millisecond)
	require.Equal(t, 1.0, testutil.ToFloat64(promActionCounter.WithLabelValues("optimize_quality", "200")))

	m.MetricSampleStored(true)
	m.MetricSampleStored(false)
	require.Equal(t, 1.0, testutil.ToFloat64(promMetricSamples.WithLabelValues("true")))
	require.Equal(t, 1.0, testutil.ToFloat64(promMetricSamples.WithLabelValues("false")))

	changes := optimizationChangesTotal.Load()
	m.OptimizationRecorded(quality.TierSilver, 55, true)
	m.OptimizationRecorded(quality.TierSilver, 85, false)
	require.Equal(t, changes+1, optimizationChangesTotal.Load())
	require.Equal(t, 1.0, testutil.ToFloat64(promOptimizations.WithLabelValues("silver", "true")))
	require.Equal(t, 2, testutil.CollectAndCount(promPerformanceScore))
}

func TestNodeStats(t *testing.T) {
	Init("ND_test", "test")

	first, err := GetUpdatedNodeStats(nil)
	require.NoError(t, err)
	require.NotZero(t, first.NumCPUs)
	require.Equal(t, first.UpdatedAt, first.StartedAt)

	next, err := GetUpdatedNodeStats(first)
	require.NoError(t, err)
	require.Equal(t, first.StartedAt, next.StartedAt)
	require.GreaterOrEqual(t, next.CPULoad, float32(0))
	require.LessOrEqual(t, next.MemoryLoad, float32(1))
}
