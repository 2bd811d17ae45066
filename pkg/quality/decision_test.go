package quality

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecommend(t *testing.T) {
	gold := PolicyFor(TierGold)

	cases := []struct {
		name     string
		policy   Policy
		estimate NetworkEstimate
		expected Level
	}{
		{"gold stable fits 1080p", gold, NetworkEstimate{BandwidthBps: 6_000_000, Stability: StabilityStable}, Level1080p},
		{"gold exact inflated requirement", gold, NetworkEstimate{BandwidthBps: 5_500_000, Stability: StabilityStable}, Level1080p},
		{"gold moderate needs 6Mbps for 1080p", gold, NetworkEstimate{BandwidthBps: 5_999_999, Stability: StabilityModerate}, Level720p},
		{"gold unstable", gold, NetworkEstimate{BandwidthBps: 6_000_000, Stability: StabilityUnstable}, Level720p},
		{"unknown stability uses stable margin", gold, NetworkEstimate{BandwidthBps: 2_750_000, Stability: StabilityUnknown}, Level720p},
		{"starved falls back to lowest", gold, NetworkEstimate{BandwidthBps: 10, Stability: StabilityUnstable}, Level480p},
		{"bronze never exceeds ladder", PolicyFor(TierBronze), NetworkEstimate{BandwidthBps: 100_000_000, Stability: StabilityStable}, Level480p},
		{"silver capped at 720p", PolicyFor(TierSilver), NetworkEstimate{BandwidthBps: 100_000_000, Stability: StabilityStable}, Level720p},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			require.Equal(t, c.expected, Recommend(c.policy, c.estimate))
		})
	}
}

func TestRecommendStaysOnLadder(t *testing.T) {
	for _, tier := range Tiers() {
		p := PolicyFor(tier)
		for _, bw := range []float64{0, 500_000, 1_100_000, 3_000_000, 6_000_000, 1e9} {
			for _, s := range []Stability{StabilityStable, StabilityModerate, StabilityUnstable, StabilityUnknown} {
				require.True(t, p.Allows(Recommend(p, NetworkEstimate{BandwidthBps: bw, Stability: s})))
			}
		}
	}
}

func TestShouldTrigger(t *testing.T) {
	cases := []struct {
		name     string
		metrics  PlaybackMetrics
		expected bool
	}{
		{"healthy", PlaybackMetrics{}, false},
		{"buffer ratio at threshold", PlaybackMetrics{BufferRatio: 0.2}, false},
		{"buffer ratio above threshold", PlaybackMetrics{BufferRatio: 0.2001}, true},
		{"rebuffers at threshold", PlaybackMetrics{RebufferCount: 3}, false},
		{"rebuffers above threshold", PlaybackMetrics{RebufferCount: 4}, true},
		{"startup at threshold", PlaybackMetrics{StartupTimeMs: 5000}, false},
		{"startup above threshold", PlaybackMetrics{StartupTimeMs: 5001}, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			require.Equal(t, c.expected, ShouldTrigger(c.metrics))
		})
	}
}

func TestAnalyzePerformance(t *testing.T) {
	t.Run("perfect playback", func(t *testing.T) {
		a := AnalyzePerformance(PlaybackMetrics{})
		require.Equal(t, 100.0, a.Score)
		require.Empty(t, a.Recommendations)
		require.Equal(t, HealthGood, a.BufferHealth)
		require.Equal(t, HealthGood, a.StartupHealth)
		require.Equal(t, HealthGood, a.Stability)
	})

	t.Run("penalties", func(t *testing.T) {
		a := AnalyzePerformance(PlaybackMetrics{
			BufferRatio:     0.25,
			RebufferCount:   2,
			StartupTimeMs:   1000,
			QualitySwitches: 1,
		})
		require.InDelta(t, 100-25-10-10-2, a.Score, 1e-9)
		require.Equal(t, []string{"Reduce quality to improve buffering"}, a.Recommendations)
		require.Equal(t, HealthPoor, a.BufferHealth)
		require.Equal(t, HealthGood, a.StartupHealth)
	})

	t.Run("extreme values clamp to zero", func(t *testing.T) {
		a := AnalyzePerformance(PlaybackMetrics{
			BufferRatio:     1.0,
			RebufferCount:   100,
			StartupTimeMs:   100000,
			QualitySwitches: 100,
		})
		require.Equal(t, 0.0, a.Score)
		require.Len(t, a.Recommendations, 4)
		require.Equal(t, HealthPoor, a.Stability)
	})

	t.Run("score never exceeds 100", func(t *testing.T) {
		a := AnalyzePerformance(PlaybackMetrics{BufferRatio: -5, StartupTimeMs: -1000})
		require.Equal(t, 100.0, a.Score)
	})
}

func TestOptimize(t *testing.T) {
	gold := PolicyFor(TierGold)

	t.Run("steps up on high score", func(t *testing.T) {
		require.Equal(t, Level1080p, Optimize(gold, PerformanceAnalysis{Score: 80.5}, Level720p))
	})

	t.Run("holds at tier maximum", func(t *testing.T) {
		require.Equal(t, Level1080p, Optimize(gold, PerformanceAnalysis{Score: 100}, Level1080p))
	})

	t.Run("steps down on low score", func(t *testing.T) {
		require.Equal(t, Level720p, Optimize(gold, PerformanceAnalysis{Score: 59.9}, Level1080p))
	})

	t.Run("holds at tier minimum", func(t *testing.T) {
		require.Equal(t, Level480p, Optimize(gold, PerformanceAnalysis{Score: 0}, Level480p))
	})

	t.Run("hysteresis band", func(t *testing.T) {
		for _, tier := range Tiers() {
			p := PolicyFor(tier)
			for _, level := range p.AllowedQualities {
				for score := 60.0; score <= 80.0; score += 0.5 {
					require.Equal(t, level, Optimize(p, PerformanceAnalysis{Score: score}, level))
				}
			}
		}
	})

	t.Run("hysteresis band keeps off-ladder level", func(t *testing.T) {
		silver := PolicyFor(TierSilver)
		for _, score := range []float64{60, 70, 80} {
			require.Equal(t, Level1080p, Optimize(silver, PerformanceAnalysis{Score: score}, Level1080p))
			require.Equal(t, Level("240p"), Optimize(silver, PerformanceAnalysis{Score: score}, "240p"))
		}
	})

	t.Run("off-ladder level is clamped then stepped", func(t *testing.T) {
		silver := PolicyFor(TierSilver)
		require.Equal(t, Level480p, Optimize(silver, PerformanceAnalysis{Score: 30}, Level1080p))
		require.Equal(t, Level720p, Optimize(silver, PerformanceAnalysis{Score: 95}, Level1080p))
		require.Equal(t, Level720p, Optimize(gold, PerformanceAnalysis{Score: 95}, "240p"))
		require.Equal(t, Level480p, Optimize(gold, PerformanceAnalysis{Score: 10}, "240p"))
	})
}

func TestAdaptiveSettingsFor(t *testing.T) {
	gold := PolicyFor(TierGold)

	good := AdaptiveSettingsFor(gold, AnalyzePerformance(PlaybackMetrics{}))
	require.Equal(t, AdaptiveSettings{
		BufferTarget:           0.05,
		QualitySwitchThreshold: 0.2,
		StartupQuality:         Level720p,
	}, good)

	poor := AdaptiveSettingsFor(gold, AnalyzePerformance(PlaybackMetrics{
		BufferRatio:     0.5,
		StartupTimeMs:   4000,
		QualitySwitches: 3,
	}))
	require.Equal(t, AdaptiveSettings{
		BufferTarget:           0.2,
		QualitySwitchThreshold: 0.4,
		StartupQuality:         Level480p,
	}, poor)

	neutral := AdaptiveSettingsFor(gold, PerformanceAnalysis{Score: 70, StartupHealth: HealthGood, Stability: HealthGood})
	require.Equal(t, 0.1, neutral.BufferTarget)

	// single rung ladders start at their only level
	bronze := AdaptiveSettingsFor(PolicyFor(TierBronze), AnalyzePerformance(PlaybackMetrics{}))
	require.Equal(t, Level480p, bronze.StartupQuality)
}
