package service

import (
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/livekit/quality-manager/pkg/quality"
)

// RequiredMetrics are the telemetry fields every report must carry, in the
// order they are checked.
var RequiredMetrics = []string{"buffer_ratio", "startup_time", "rebuffer_count", "quality_switches"}

type QualityConfigRequest struct {
	UserID           string       `json:"user_id" validate:"required"`
	SubscriptionTier quality.Tier `json:"subscription_tier"`
}

type StreamAccessRequest struct {
	UserID           string        `json:"user_id" validate:"required"`
	SubscriptionTier quality.Tier  `json:"subscription_tier"`
	RequestedQuality quality.Level `json:"requested_quality" validate:"required"`
	StreamID         string        `json:"stream_id" validate:"required"`
}

type ViewerMetricsRequest struct {
	UserID   string         `json:"user_id" validate:"required"`
	StreamID string         `json:"stream_id" validate:"required"`
	Metrics  *MetricsReport `json:"metrics"`
}

type OptimizeRequest struct {
	UserID         string         `json:"user_id" validate:"required"`
	StreamID       string         `json:"stream_id" validate:"required"`
	CurrentMetrics *MetricsReport `json:"current_metrics"`
}

// MetricsReport is client telemetry as received. Pointers distinguish an
// absent field from a zero value.
type MetricsReport struct {
	BufferRatio       *float64      `json:"buffer_ratio,omitempty" validate:"omitempty,gte=0,lte=1"`
	StartupTime       *float64      `json:"startup_time,omitempty" validate:"omitempty,gte=0"`
	RebufferCount     *int          `json:"rebuffer_count,omitempty" validate:"omitempty,gte=0"`
	QualitySwitches   *int          `json:"quality_switches,omitempty" validate:"omitempty,gte=0"`
	CurrentQuality    quality.Level `json:"current_quality,omitempty"`
	BandwidthEstimate *float64      `json:"bandwidth_estimate,omitempty" validate:"omitempty,gte=0"`
}

// Missing returns the first required metric that is absent, or "".
func (m *MetricsReport) Missing() string {
	if m == nil {
		return RequiredMetrics[0]
	}
	present := []bool{m.BufferRatio != nil, m.StartupTime != nil, m.RebufferCount != nil, m.QualitySwitches != nil}
	for i, ok := range present {
		if !ok {
			return RequiredMetrics[i]
		}
	}
	return ""
}

// Playback converts the report, defaulting absent values to zero and the
// current quality to the lowest level.
func (m *MetricsReport) Playback() quality.PlaybackMetrics {
	pm := quality.PlaybackMetrics{CurrentQuality: quality.Level480p}
	if m == nil {
		return pm
	}
	if m.BufferRatio != nil {
		pm.BufferRatio = *m.BufferRatio
	}
	if m.StartupTime != nil {
		pm.StartupTimeMs = *m.StartupTime
	}
	if m.RebufferCount != nil {
		pm.RebufferCount = *m.RebufferCount
	}
	if m.QualitySwitches != nil {
		pm.QualitySwitches = *m.QualitySwitches
	}
	if m.CurrentQuality != "" {
		pm.CurrentQuality = m.CurrentQuality
	}
	if m.BandwidthEstimate != nil {
		pm.BandwidthEstimate = *m.BandwidthEstimate
	}
	return pm
}

type ConcurrentStreams struct {
	Limit       int  `json:"limit"`
	Current     int  `json:"current"`
	CanStartNew bool `json:"can_start_new"`
}

type AdaptiveStreaming struct {
	Enabled                bool    `json:"enabled"`
	BufferThreshold        float64 `json:"buffer_threshold"`
	QualitySwitchThreshold float64 `json:"quality_switch_threshold"`
}

type QualityConfigResponse struct {
	UserID             string                      `json:"user_id"`
	SubscriptionTier   quality.Tier                `json:"subscription_tier"`
	MaxResolution      quality.Level               `json:"max_resolution"`
	MaxBitrate         int64                       `json:"max_bitrate"`
	AllowedQualities   []quality.Level             `json:"allowed_qualities"`
	ConcurrentStreams  ConcurrentStreams           `json:"concurrent_streams"`
	ActiveSessions     []*quality.StreamingSession `json:"active_sessions"`
	NetworkConditions  quality.NetworkEstimate     `json:"network_conditions"`
	RecommendedQuality quality.Level               `json:"recommended_quality"`
	PriorityAccess     bool                        `json:"priority_access"`
	AdaptiveStreaming  AdaptiveStreaming           `json:"adaptive_streaming"`
}

type SessionInfo struct {
	// seconds
	MaxDuration     int64 `json:"max_duration"`
	BufferSize      int64 `json:"buffer_size"`
	AdaptiveEnabled bool  `json:"adaptive_enabled"`
}

type StreamAccessResponse struct {
	AccessGranted bool          `json:"access_granted"`
	SessionID     string        `json:"session_id"`
	Quality       quality.Level `json:"quality"`
	StreamID      string        `json:"stream_id"`
	SessionInfo   SessionInfo   `json:"session_info"`
}

type ViewerMetricsResponse struct {
	Message               string                      `json:"message"`
	OptimizationTriggered bool                        `json:"optimization_triggered"`
	Optimization          *quality.OptimizationResult `json:"optimization,omitempty"`
}

var (
	requestValidator     *validator.Validate
	requestValidatorOnce sync.Once
)

func getRequestValidator() *validator.Validate {
	requestValidatorOnce.Do(func() {
		requestValidator = validator.New(validator.WithRequiredStructEnabled())
		// report json names
		requestValidator.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return requestValidator
}

// validateRequest maps the first validation failure to an InvalidRequest.
func validateRequest(req interface{}) error {
	err := getRequestValidator().Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		if fe.Tag() == "required" {
			return invalidRequest("Missing required field: %s", fe.Field())
		}
		return invalidRequest("Invalid value for %s", fe.Field())
	}
	return invalidRequest("Invalid request: %v", err)
}
