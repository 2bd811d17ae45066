package service

import (
	"context"
	"time"

	"github.com/pkg/errors"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/livekit/protocol/logger"

	"github.com/livekit/quality-manager/pkg/config"
	"github.com/livekit/quality-manager/pkg/quality"
)

// BreakerStore guards a QualityStore with a circuit breaker. While the
// breaker is open calls fail immediately instead of waiting on a dead store.
type BreakerStore struct {
	store QualityStore
	cb    *gobreaker.CircuitBreaker[any]
}

func NewBreakerStore(store QualityStore, conf config.BreakerConfig) *BreakerStore {
	threshold := conf.FailureThreshold
	settings := gobreaker.Settings{
		Name:        "quality-store",
		MaxRequests: conf.MaxRequests,
		Interval:    conf.Interval,
		Timeout:     conf.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Infow("store breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
		// a caller giving up says nothing about store health
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	}
	return &BreakerStore{
		store: store,
		cb:    gobreaker.NewCircuitBreaker[any](settings),
	}
}

func (b *BreakerStore) State() gobreaker.State {
	return b.cb.State()
}

func (b *BreakerStore) ListActiveSessions(ctx context.Context, userID string) ([]*quality.StreamingSession, error) {
	return execute(b, func() ([]*quality.StreamingSession, error) {
		return b.store.ListActiveSessions(ctx, userID)
	})
}

func (b *BreakerStore) StoreSession(ctx context.Context, session *quality.StreamingSession) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, b.store.StoreSession(ctx, session)
	})
	return err
}

func (b *BreakerStore) AdmitSession(ctx context.Context, session *quality.StreamingSession, limit int) (bool, int, error) {
	type admission struct {
		admitted bool
		active   int
	}
	res, err := execute(b, func() (admission, error) {
		admitted, active, err := b.store.AdmitSession(ctx, session, limit)
		return admission{admitted, active}, err
	})
	return res.admitted, res.active, err
}

func (b *BreakerStore) StoreMetricSample(ctx context.Context, sample *quality.ViewerMetricSample, ttl time.Duration) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, b.store.StoreMetricSample(ctx, sample, ttl)
	})
	return err
}

func (b *BreakerStore) ListRecentMetricSamples(ctx context.Context, userID string, limit int) ([]*quality.ViewerMetricSample, error) {
	return execute(b, func() ([]*quality.ViewerMetricSample, error) {
		return b.store.ListRecentMetricSamples(ctx, userID, limit)
	})
}

func (b *BreakerStore) StoreOptimization(ctx context.Context, result *quality.OptimizationResult, ttl time.Duration) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, b.store.StoreOptimization(ctx, result, ttl)
	})
	return err
}

func (b *BreakerStore) ListOptimizations(ctx context.Context, userID string, limit int) ([]*quality.OptimizationResult, error) {
	return execute(b, func() ([]*quality.OptimizationResult, error) {
		return b.store.ListOptimizations(ctx, userID, limit)
	})
}

func execute[T any](b *BreakerStore, fn func() (T, error)) (T, error) {
	res, err := b.cb.Execute(func() (any, error) {
		return fn()
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return res.(T), nil
}
