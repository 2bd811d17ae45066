// Copyright 2023 LiveKit, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package service

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/livekit/protocol/logger"

	"github.com/livekit/quality-manager/pkg/config"
	"github.com/livekit/quality-manager/pkg/quality"
)

// QualityManager implements the quality actions. It holds no per-request
// state; everything durable lives in the store.
type QualityManager struct {
	conf      *config.QualityConfig
	registry  *SessionRegistry
	estimator *NetworkEstimator
	samples   MetricStore
	results   OptimizationStore
	directory SubscriptionDirectory
	sink      MetricsSink
	now       func() time.Time
}

func NewQualityManager(
	conf *config.QualityConfig,
	store QualityStore,
	directory SubscriptionDirectory,
	sink MetricsSink,
) *QualityManager {
	if sink == nil {
		sink = NoopMetricsSink
	}
	return &QualityManager{
		conf:      conf,
		registry:  NewSessionRegistry(store, conf.SessionTTL),
		estimator: NewNetworkEstimator(store, conf.SampleWindow),
		samples:   store,
		results:   store,
		directory: directory,
		sink:      sink,
		now:       time.Now,
	}
}

// SetClock overrides the time used to stamp sessions and records.
func (m *QualityManager) SetClock(now func() time.Time) {
	m.now = now
	m.registry.SetClock(now)
}

// GetQualityConfig reports the tier's entitlements, the viewer's sessions and
// a recommended starting quality. It does not write anything.
func (m *QualityManager) GetQualityConfig(ctx context.Context, req QualityConfigRequest) (*QualityConfigResponse, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	policy := quality.PolicyFor(req.SubscriptionTier)

	var (
		sessions []*quality.StreamingSession
		estimate quality.NetworkEstimate
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		sessions, err = m.registry.ActiveSessions(gctx, req.UserID)
		return storageError("list_sessions", err)
	})
	g.Go(func() error {
		var err error
		estimate, err = m.estimator.Estimate(gctx, req.UserID)
		return storageError("list_metric_samples", err)
	})
	if err := g.Wait(); err != nil {
		logger.Errorw("could not build quality config", err, "userID", req.UserID)
		return nil, err
	}

	recommended := quality.Recommend(policy, estimate)
	logger.Infow("generated quality config",
		"userID", req.UserID,
		"tier", policy.Tier,
		"recommended", recommended,
		"stability", estimate.Stability,
	)

	return &QualityConfigResponse{
		UserID:           req.UserID,
		SubscriptionTier: policy.Tier,
		MaxResolution:    policy.MaxResolution,
		MaxBitrate:       policy.MaxBitrate,
		AllowedQualities: policy.AllowedQualities,
		ConcurrentStreams: ConcurrentStreams{
			Limit:       policy.ConcurrentStreamLimit,
			Current:     len(sessions),
			CanStartNew: len(sessions) < policy.ConcurrentStreamLimit,
		},
		ActiveSessions:     sessions,
		NetworkConditions:  estimate,
		RecommendedQuality: recommended,
		PriorityAccess:     policy.PriorityAccess,
		AdaptiveStreaming: AdaptiveStreaming{
			Enabled:                true,
			BufferThreshold:        policy.BufferThreshold,
			QualitySwitchThreshold: policy.QualitySwitchThreshold,
		},
	}, nil
}

// ValidateStreamAccess admits a new playback session. The quality check
// always runs first and does not depend on store state.
func (m *QualityManager) ValidateStreamAccess(ctx context.Context, req StreamAccessRequest) (*StreamAccessResponse, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	policy := quality.PolicyFor(req.SubscriptionTier)

	if !policy.Allows(req.RequestedQuality) {
		m.sink.SessionRejected(policy.Tier, "quality_not_allowed")
		return nil, newRequestError(ErrQualityNotAllowed, "Quality not allowed for subscription tier", map[string]interface{}{
			"requested_quality": req.RequestedQuality,
			"allowed_qualities": policy.AllowedQualities,
			"subscription_tier": policy.Tier,
			"upgrade_required":  true,
		})
	}

	var session *quality.StreamingSession
	switch m.conf.Admission {
	case config.AdmissionAtomic:
		admitted, active, err := m.registry.AdmitSession(ctx, req.UserID, req.StreamID, req.RequestedQuality, policy.Tier, policy.ConcurrentStreamLimit)
		if err != nil {
			return nil, m.storageFailure("admit_session", err, req.UserID)
		}
		if admitted == nil {
			sessions, err := m.registry.ActiveSessions(ctx, req.UserID)
			if err != nil {
				return nil, m.storageFailure("list_sessions", err, req.UserID)
			}
			return nil, m.concurrencyExceeded(policy, active, sessions)
		}
		session = admitted

	default:
		// check and insert are separate; concurrent requests can both pass
		sessions, err := m.registry.ActiveSessions(ctx, req.UserID)
		if err != nil {
			return nil, m.storageFailure("list_sessions", err, req.UserID)
		}
		if len(sessions) >= policy.ConcurrentStreamLimit {
			return nil, m.concurrencyExceeded(policy, len(sessions), sessions)
		}
		session, err = m.registry.RecordSession(ctx, req.UserID, req.StreamID, req.RequestedQuality, policy.Tier)
		if err != nil {
			return nil, m.storageFailure("store_session", err, req.UserID)
		}
	}

	m.sink.SessionAdmitted(policy.Tier, req.RequestedQuality)
	logger.Infow("stream access granted",
		"userID", req.UserID,
		"streamID", req.StreamID,
		"sessionID", session.SessionID,
		"tier", policy.Tier,
		"quality", req.RequestedQuality,
	)

	return &StreamAccessResponse{
		AccessGranted: true,
		SessionID:     session.SessionID,
		Quality:       req.RequestedQuality,
		StreamID:      req.StreamID,
		SessionInfo: SessionInfo{
			MaxDuration:     int64(policy.MaxSessionDuration / time.Second),
			BufferSize:      int64(policy.BufferSize / time.Second),
			AdaptiveEnabled: true,
		},
	}, nil
}

// UpdateViewerMetrics stores a telemetry report and reoptimizes when the
// report crosses a degradation threshold.
func (m *QualityManager) UpdateViewerMetrics(ctx context.Context, req ViewerMetricsRequest) (*ViewerMetricsResponse, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if missing := req.Metrics.Missing(); missing != "" {
		return nil, newRequestError(ErrMissingMetric, fmt.Sprintf("Missing required metric: %s", missing), map[string]interface{}{
			"missing_metric":   missing,
			"required_metrics": RequiredMetrics,
		})
	}

	metrics := req.Metrics.Playback()
	sample := &quality.ViewerMetricSample{
		UserID:          req.UserID,
		StreamID:        req.StreamID,
		Timestamp:       m.now(),
		PlaybackMetrics: metrics,
	}
	if err := m.samples.StoreMetricSample(ctx, sample, m.conf.MetricTTL); err != nil {
		return nil, m.storageFailure("store_metric_sample", err, req.UserID)
	}

	triggered := quality.ShouldTrigger(metrics)
	m.sink.MetricSampleStored(triggered)
	res := &ViewerMetricsResponse{
		Message:               "Viewer metrics updated successfully",
		OptimizationTriggered: triggered,
	}
	if triggered {
		result, err := m.optimize(ctx, req.UserID, req.StreamID, metrics)
		if err != nil {
			return nil, err
		}
		res.Optimization = result
	}

	logger.Infow("updated viewer metrics",
		"userID", req.UserID,
		"streamID", req.StreamID,
		"optimizationTriggered", triggered,
	)
	return res, nil
}

// OptimizeQuality scores the reported playback and steps quality along the
// viewer's tier ladder. The tier comes from the subscription directory.
func (m *QualityManager) OptimizeQuality(ctx context.Context, req OptimizeRequest) (*quality.OptimizationResult, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	return m.optimize(ctx, req.UserID, req.StreamID, req.CurrentMetrics.Playback())
}

// ActiveSessions lists the viewer's live sessions.
func (m *QualityManager) ActiveSessions(ctx context.Context, userID string) ([]*quality.StreamingSession, error) {
	sessions, err := m.registry.ActiveSessions(ctx, userID)
	if err != nil {
		return nil, m.storageFailure("list_sessions", err, userID)
	}
	return sessions, nil
}

func (m *QualityManager) optimize(ctx context.Context, userID, streamID string, metrics quality.PlaybackMetrics) (*quality.OptimizationResult, error) {
	tier, err := m.directory.GetSubscriptionTier(ctx, userID)
	if err != nil {
		return nil, m.storageFailure("get_subscription_tier", err, userID)
	}
	policy := quality.PolicyFor(tier)

	analysis := quality.AnalyzePerformance(metrics)
	recommended := quality.Optimize(policy, analysis, metrics.CurrentQuality)

	result := &quality.OptimizationResult{
		UserID:             userID,
		StreamID:           streamID,
		Timestamp:          m.now(),
		SubscriptionTier:   policy.Tier,
		CurrentQuality:     metrics.CurrentQuality,
		RecommendedQuality: recommended,
		PerformanceScore:   analysis.Score,
		Optimizations:      analysis.Recommendations,
		AdaptiveSettings:   quality.AdaptiveSettingsFor(policy, analysis),
	}
	if err = m.results.StoreOptimization(ctx, result, m.conf.OptimizationTTL); err != nil {
		return nil, m.storageFailure("store_optimization", err, userID)
	}

	m.sink.OptimizationRecorded(policy.Tier, analysis.Score, recommended != metrics.CurrentQuality)
	logger.Infow("generated quality optimization",
		"userID", userID,
		"streamID", streamID,
		"tier", policy.Tier,
		"score", analysis.Score,
		"current", metrics.CurrentQuality,
		"recommended", recommended,
	)
	return result, nil
}

func (m *QualityManager) concurrencyExceeded(policy quality.Policy, current int, sessions []*quality.StreamingSession) error {
	m.sink.SessionRejected(policy.Tier, "concurrency_limit")
	return newRequestError(ErrConcurrencyLimitExceeded, "Concurrent stream limit exceeded", map[string]interface{}{
		"current_sessions": current,
		"limit":            policy.ConcurrentStreamLimit,
		"active_sessions":  sessions,
	})
}

func (m *QualityManager) storageFailure(op string, err error, userID string) error {
	logger.Errorw("quality store failure", err, "operation", op, "userID", userID)
	return storageError(op, err)
}
