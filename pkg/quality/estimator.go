package quality

import (
	"math"

	"github.com/thoas/go-funk"
)

type Stability string

const (
	StabilityStable   Stability = "stable"
	StabilityModerate Stability = "moderate"
	StabilityUnstable Stability = "unstable"
	StabilityUnknown  Stability = "unknown"
)

const (
	// SampleWindow is the number of most recent samples an estimate averages.
	SampleWindow = 10

	DefaultBandwidthBps = 1_000_000

	stableBufferRatio   = 0.10
	unstableBufferRatio = 0.30
)

// NetworkEstimate summarizes a viewer's recent network conditions.
type NetworkEstimate struct {
	BandwidthBps float64   `json:"bandwidth_estimate"`
	BufferRatio  float64   `json:"buffer_ratio"`
	Stability    Stability `json:"stability"`
	Samples      int       `json:"samples"`
}

// DefaultNetworkEstimate is used when there is no usable history.
func DefaultNetworkEstimate() NetworkEstimate {
	return NetworkEstimate{
		BandwidthBps: DefaultBandwidthBps,
		Stability:    StabilityUnknown,
	}
}

// EstimateNetwork averages bandwidth and buffer ratio across the samples and
// classifies stability. Samples with unusable values are ignored; if none
// remain the conservative default is returned.
func EstimateNetwork(samples []ViewerMetricSample) NetworkEstimate {
	valid := funk.Filter(samples, isUsableSample).([]ViewerMetricSample)
	if len(valid) == 0 {
		return DefaultNetworkEstimate()
	}

	var bandwidth, bufferRatio float64
	for _, s := range valid {
		bandwidth += s.BandwidthEstimate
		bufferRatio += s.BufferRatio
	}
	n := float64(len(valid))
	est := NetworkEstimate{
		BandwidthBps: bandwidth / n,
		BufferRatio:  bufferRatio / n,
		Samples:      len(valid),
	}
	est.Stability = ClassifyStability(est.BufferRatio)
	return est
}

func ClassifyStability(bufferRatio float64) Stability {
	switch {
	case bufferRatio < stableBufferRatio:
		return StabilityStable
	case bufferRatio > unstableBufferRatio:
		return StabilityUnstable
	default:
		return StabilityModerate
	}
}

func isUsableSample(s ViewerMetricSample) bool {
	if !isFinite(s.BandwidthEstimate) || s.BandwidthEstimate < 0 {
		return false
	}
	if !isFinite(s.BufferRatio) || s.BufferRatio < 0 || s.BufferRatio > 1 {
		return false
	}
	return true
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
