package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/livekit/quality-manager/pkg/config"
	"github.com/livekit/quality-manager/pkg/quality"
	"github.com/livekit/quality-manager/pkg/service"
)

var errStoreDown = errors.New("connection refused")

// flakyStore fails every call while down is set.
type flakyStore struct {
	*service.LocalStore
	down  atomic.Bool
	calls atomic.Int32
}

func newFlakyStore() *flakyStore {
	return &flakyStore{LocalStore: service.NewLocalStore()}
}

func (f *flakyStore) ListActiveSessions(ctx context.Context, userID string) ([]*quality.StreamingSession, error) {
	f.calls.Inc()
	if f.down.Load() {
		return nil, errStoreDown
	}
	return f.LocalStore.ListActiveSessions(ctx, userID)
}

func (f *flakyStore) ListRecentMetricSamples(ctx context.Context, userID string, limit int) ([]*quality.ViewerMetricSample, error) {
	f.calls.Inc()
	if f.down.Load() {
		return nil, errStoreDown
	}
	return f.LocalStore.ListRecentMetricSamples(ctx, userID, limit)
}

func (f *flakyStore) StoreSession(ctx context.Context, session *quality.StreamingSession) error {
	f.calls.Inc()
	if f.down.Load() {
		return errStoreDown
	}
	return f.LocalStore.StoreSession(ctx, session)
}

func (f *flakyStore) StoreMetricSample(ctx context.Context, sample *quality.ViewerMetricSample, ttl time.Duration) error {
	f.calls.Inc()
	if f.down.Load() {
		return errStoreDown
	}
	return f.LocalStore.StoreMetricSample(ctx, sample, ttl)
}

func TestBreakerStore(t *testing.T) {
	ctx := context.Background()
	store := newFlakyStore()
	bs := service.NewBreakerStore(store, config.BreakerConfig{
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          20 * time.Millisecond,
		FailureThreshold: 3,
	})

	require.NoError(t, bs.StoreSession(ctx, newSession("u1", "s1", time.Now(), time.Hour)))
	sessions, err := bs.ListActiveSessions(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, sessions, 1)

	admitted, active, err := bs.AdmitSession(ctx, newSession("u1", "s2", time.Now(), time.Hour), 1)
	require.NoError(t, err)
	require.False(t, admitted)
	require.Equal(t, 1, active)

	store.down.Store(true)
	for i := 0; i < 3; i++ {
		_, err = bs.ListActiveSessions(ctx, "u1")
		require.ErrorIs(t, err, errStoreDown)
	}
	require.Equal(t, gobreaker.StateOpen, bs.State())

	// open breaker short-circuits without touching the store
	calls := store.calls.Load()
	_, err = bs.ListRecentMetricSamples(ctx, "u1", 10)
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
	require.Equal(t, calls, store.calls.Load())

	// recovers after the open timeout
	store.down.Store(false)
	require.Eventually(t, func() bool {
		_, err := bs.ListActiveSessions(ctx, "u1")
		return err == nil
	}, time.Second, 10*time.Millisecond)
	require.Equal(t, gobreaker.StateClosed, bs.State())
}

func TestBreakerStoreIgnoresCanceledCalls(t *testing.T) {
	store := newFlakyStore()
	bs := service.NewBreakerStore(canceledStore{store}, config.BreakerConfig{
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          time.Minute,
		FailureThreshold: 1,
	})

	_, err := bs.ListActiveSessions(context.Background(), "u1")
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, gobreaker.StateClosed, bs.State())
}

type canceledStore struct {
	*flakyStore
}

func (canceledStore) ListActiveSessions(context.Context, string) ([]*quality.StreamingSession, error) {
	return nil, context.Canceled
}
