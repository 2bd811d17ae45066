package quality

import "time"

// StreamingSession is one admitted playback of a stream by a user.
type StreamingSession struct {
	SessionID        string    `json:"session_id"`
	UserID           string    `json:"user_id"`
	StreamID         string    `json:"stream_id"`
	Quality          Level     `json:"quality"`
	SubscriptionTier Tier      `json:"subscription_tier"`
	StartTime        time.Time `json:"start_time"`
	ExpiresAt        time.Time `json:"expires_at"`
}

// PlaybackMetrics is one client report of playback health.
type PlaybackMetrics struct {
	BufferRatio       float64 `json:"buffer_ratio"`
	StartupTimeMs     float64 `json:"startup_time"`
	RebufferCount     int     `json:"rebuffer_count"`
	QualitySwitches   int     `json:"quality_switches"`
	CurrentQuality    Level   `json:"current_quality,omitempty"`
	BandwidthEstimate float64 `json:"bandwidth_estimate,omitempty"`
}

// ViewerMetricSample is a persisted telemetry report. Samples are append-only.
type ViewerMetricSample struct {
	UserID    string    `json:"user_id"`
	StreamID  string    `json:"stream_id"`
	Timestamp time.Time `json:"timestamp"`
	PlaybackMetrics
}

// OptimizationResult is the advisory output of one optimization run.
type OptimizationResult struct {
	UserID             string           `json:"user_id"`
	StreamID           string           `json:"stream_id"`
	Timestamp          time.Time        `json:"timestamp"`
	SubscriptionTier   Tier             `json:"subscription_tier"`
	CurrentQuality     Level            `json:"current_quality"`
	RecommendedQuality Level            `json:"recommended_quality"`
	PerformanceScore   float64          `json:"performance_score"`
	Optimizations      []string         `json:"optimizations"`
	AdaptiveSettings   AdaptiveSettings `json:"adaptive_settings"`
}

// AdaptiveSettings are the player tuning parameters sent back to the client.
type AdaptiveSettings struct {
	BufferTarget           float64 `json:"buffer_target"`
	QualitySwitchThreshold float64 `json:"quality_switch_threshold"`
	StartupQuality         Level   `json:"startup_quality"`
}
