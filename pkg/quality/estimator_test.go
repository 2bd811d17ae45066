package quality

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func sampleWith(bandwidth, bufferRatio float64) ViewerMetricSample {
	return ViewerMetricSample{
		UserID:   "user",
		StreamID: "stream",
		PlaybackMetrics: PlaybackMetrics{
			BandwidthEstimate: bandwidth,
			BufferRatio:       bufferRatio,
		},
	}
}

func TestEstimateNetwork(t *testing.T) {
	t.Run("no samples", func(t *testing.T) {
		est := EstimateNetwork(nil)
		require.Equal(t, float64(DefaultBandwidthBps), est.BandwidthBps)
		require.Equal(t, StabilityUnknown, est.Stability)
		require.Zero(t, est.Samples)
	})

	t.Run("averages window", func(t *testing.T) {
		est := EstimateNetwork([]ViewerMetricSample{
			sampleWith(4_000_000, 0.1),
			sampleWith(6_000_000, 0.3),
		})
		require.Equal(t, 5_000_000.0, est.BandwidthBps)
		require.InDelta(t, 0.2, est.BufferRatio, 1e-9)
		require.Equal(t, StabilityModerate, est.Stability)
		require.Equal(t, 2, est.Samples)
	})

	t.Run("bad samples are ignored", func(t *testing.T) {
		est := EstimateNetwork([]ViewerMetricSample{
			sampleWith(math.NaN(), 0.05),
			sampleWith(-1, 0.05),
			sampleWith(3_000_000, 7),
			sampleWith(6_000_000, 0.05),
		})
		require.Equal(t, 6_000_000.0, est.BandwidthBps)
		require.Equal(t, StabilityStable, est.Stability)
		require.Equal(t, 1, est.Samples)
	})

	t.Run("only bad samples yields default", func(t *testing.T) {
		est := EstimateNetwork([]ViewerMetricSample{sampleWith(math.Inf(1), 0.1)})
		require.Equal(t, DefaultNetworkEstimate(), est)
	})
}

func TestClassifyStability(t *testing.T) {
	cases := []struct {
		ratio    float64
		expected Stability
	}{
		{0, StabilityStable},
		{0.0999, StabilityStable},
		{0.1, StabilityModerate},
		{0.3, StabilityModerate},
		{0.3001, StabilityUnstable},
		{1, StabilityUnstable},
	}
	for _, c := range cases {
		require.Equal(t, c.expected, ClassifyStability(c.ratio), "ratio %v", c.ratio)
	}
}
