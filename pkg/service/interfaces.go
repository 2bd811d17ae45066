package service

import (
	"context"
	"time"

	"github.com/livekit/quality-manager/pkg/quality"
)

// SessionStore persists admitted playback sessions. Sessions are never
// deleted explicitly; they stop being listed once ExpiresAt has passed.
type SessionStore interface {
	// ListActiveSessions returns unexpired sessions ordered by start time.
	ListActiveSessions(ctx context.Context, userID string) ([]*quality.StreamingSession, error)
	StoreSession(ctx context.Context, session *quality.StreamingSession) error
	// AdmitSession stores the session only if the user holds fewer than limit
	// unexpired sessions. The check and the write happen atomically.
	// active is the number of sessions held after the call.
	AdmitSession(ctx context.Context, session *quality.StreamingSession, limit int) (admitted bool, active int, err error)
}

// MetricStore is an append-only, time-windowed store of telemetry samples.
type MetricStore interface {
	StoreMetricSample(ctx context.Context, sample *quality.ViewerMetricSample, ttl time.Duration) error
	// ListRecentMetricSamples returns up to limit samples, newest first.
	ListRecentMetricSamples(ctx context.Context, userID string, limit int) ([]*quality.ViewerMetricSample, error)
}

type OptimizationStore interface {
	StoreOptimization(ctx context.Context, result *quality.OptimizationResult, ttl time.Duration) error
	// ListOptimizations returns up to limit results, newest first.
	ListOptimizations(ctx context.Context, userID string, limit int) ([]*quality.OptimizationResult, error)
}

type QualityStore interface {
	SessionStore
	MetricStore
	OptimizationStore
}

// SubscriptionDirectory resolves the subscription tier of a user. Unknown
// users resolve to a default tier rather than an error.
type SubscriptionDirectory interface {
	GetSubscriptionTier(ctx context.Context, userID string) (quality.Tier, error)
}

// MetricsSink receives fire-and-forget counters. It never affects decisions.
type MetricsSink interface {
	ActionHandled(action string, status int, elapsed time.Duration)
	SessionAdmitted(tier quality.Tier, level quality.Level)
	SessionRejected(tier quality.Tier, reason string)
	MetricSampleStored(triggered bool)
	OptimizationRecorded(tier quality.Tier, score float64, changed bool)
}

type noopMetricsSink struct{}

func (noopMetricsSink) ActionHandled(string, int, time.Duration)         {}
func (noopMetricsSink) SessionAdmitted(quality.Tier, quality.Level)      {}
func (noopMetricsSink) SessionRejected(quality.Tier, string)             {}
func (noopMetricsSink) MetricSampleStored(bool)                          {}
func (noopMetricsSink) OptimizationRecorded(quality.Tier, float64, bool) {}

// NoopMetricsSink discards everything.
var NoopMetricsSink MetricsSink = noopMetricsSink{}
