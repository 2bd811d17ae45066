package quality

import "math"

const (
	upgradeScore   = 80
	downgradeScore = 60

	triggerBufferRatio   = 0.2
	triggerRebuffers     = 3
	triggerStartupTimeMs = 5000
)

// Health is a coarse good/poor classification of one playback aspect.
type Health string

const (
	HealthGood Health = "good"
	HealthPoor Health = "poor"
)

// PerformanceAnalysis scores a telemetry report on a 0-100 scale.
type PerformanceAnalysis struct {
	Score           float64  `json:"score"`
	Recommendations []string `json:"recommendations"`
	BufferHealth    Health   `json:"buffer_health"`
	StartupHealth   Health   `json:"startup_health"`
	Stability       Health   `json:"stability"`
}

func bufferMultiplier(s Stability) float64 {
	switch s {
	case StabilityUnstable:
		return 1.5
	case StabilityModerate:
		return 1.2
	default:
		return 1.1
	}
}

// Recommend picks the highest level on the tier's ladder whose bitrate,
// inflated for connection stability, fits the estimated bandwidth. It falls
// back to the lowest rung and always returns an in-tier level.
func Recommend(policy Policy, estimate NetworkEstimate) Level {
	multiplier := bufferMultiplier(estimate.Stability)
	for i := len(policy.AllowedQualities) - 1; i >= 0; i-- {
		level := policy.AllowedQualities[i]
		if float64(level.RequiredBitrate())*multiplier <= estimate.BandwidthBps {
			return level
		}
	}
	return policy.Lowest()
}

// ShouldTrigger reports whether a report is bad enough to reoptimize.
func ShouldTrigger(m PlaybackMetrics) bool {
	return m.BufferRatio > triggerBufferRatio ||
		m.RebufferCount > triggerRebuffers ||
		m.StartupTimeMs > triggerStartupTimeMs
}

// AnalyzePerformance scores playback health. Each penalty is capped and the
// total is clamped to [0, 100].
func AnalyzePerformance(m PlaybackMetrics) PerformanceAnalysis {
	score := 100.0
	score -= math.Min(m.BufferRatio*100, 30)
	score -= math.Min(float64(m.RebufferCount)*5, 20)
	score -= math.Min(m.StartupTimeMs/100, 20)
	score -= math.Min(float64(m.QualitySwitches)*2, 10)
	if math.IsNaN(score) {
		score = 0
	}
	score = math.Max(0, math.Min(100, score))

	recommendations := make([]string, 0, 4)
	if m.BufferRatio > 0.15 {
		recommendations = append(recommendations, "Reduce quality to improve buffering")
	}
	if m.StartupTimeMs > 3000 {
		recommendations = append(recommendations, "Use lower startup quality for faster playback")
	}
	if m.QualitySwitches > 5 {
		recommendations = append(recommendations, "Increase switching threshold to reduce oscillation")
	}
	if m.RebufferCount > 2 {
		recommendations = append(recommendations, "Consider adaptive buffer sizing")
	}

	return PerformanceAnalysis{
		Score:           score,
		Recommendations: recommendations,
		BufferHealth:    healthIf(m.BufferRatio < 0.1),
		StartupHealth:   healthIf(m.StartupTimeMs < 2000),
		Stability:       healthIf(m.QualitySwitches < 3),
	}
}

// Optimize steps the current level one rung up or down the tier's ladder.
// Scores in [60, 80] return current as is, even when it is off the ladder.
// Otherwise an off-ladder level is first clamped onto the ladder, then stepped.
func Optimize(policy Policy, analysis PerformanceAnalysis, current Level) Level {
	if analysis.Score >= downgradeScore && analysis.Score <= upgradeScore {
		return current
	}

	idx := policy.indexOf(current)
	if idx < 0 {
		idx = policy.indexOf(clampToLadder(policy, current))
	}

	switch {
	case analysis.Score > upgradeScore && idx < len(policy.AllowedQualities)-1:
		idx++
	case analysis.Score < downgradeScore && idx > 0:
		idx--
	}
	return policy.AllowedQualities[idx]
}

// AdaptiveSettingsFor derives player tuning from the analysis.
func AdaptiveSettingsFor(policy Policy, analysis PerformanceAnalysis) AdaptiveSettings {
	bufferTarget := 0.1
	switch {
	case analysis.Score < downgradeScore:
		bufferTarget = 0.2
	case analysis.Score > upgradeScore:
		bufferTarget = 0.05
	}

	switchThreshold := 0.2
	if analysis.Stability == HealthPoor {
		switchThreshold = 0.4
	}

	startup := policy.AllowedQualities[min(1, len(policy.AllowedQualities)-1)]
	if analysis.StartupHealth == HealthPoor {
		startup = policy.Lowest()
	}

	return AdaptiveSettings{
		BufferTarget:           bufferTarget,
		QualitySwitchThreshold: switchThreshold,
		StartupQuality:         startup,
	}
}

// clampToLadder maps an off-ladder level to the highest rung whose bitrate
// does not exceed it, or the lowest rung.
func clampToLadder(policy Policy, level Level) Level {
	target := level.RequiredBitrate()
	best := policy.Lowest()
	for _, l := range policy.AllowedQualities {
		if l.RequiredBitrate() <= target {
			best = l
		}
	}
	return best
}

func healthIf(good bool) Health {
	if good {
		return HealthGood
	}
	return HealthPoor
}
