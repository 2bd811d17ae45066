package service_test

import (
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/livekit/quality-manager/pkg/quality"
	"github.com/livekit/quality-manager/pkg/service"
)

func redisClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() { _ = rc.Close() })
	return rc, mr
}

type testClock struct {
	lock sync.Mutex
	now  time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.lock.Lock()
	c.now = c.now.Add(d)
	c.lock.Unlock()
}

type clockedStore interface {
	service.QualityStore
	SetClock(func() time.Time)
}

// storeFactories returns every store implementation, each on the given clock.
func storeFactories() map[string]func(t *testing.T, clock *testClock) clockedStore {
	return map[string]func(t *testing.T, clock *testClock) clockedStore{
		"local": func(t *testing.T, clock *testClock) clockedStore {
			s := service.NewLocalStore()
			s.SetClock(clock.Now)
			return s
		},
		"redis": func(t *testing.T, clock *testClock) clockedStore {
			rc, _ := redisClient(t)
			s := service.NewRedisStore(rc)
			s.SetClock(clock.Now)
			return s
		},
	}
}

func newSession(userID, streamID string, start time.Time, ttl time.Duration) *quality.StreamingSession {
	return &quality.StreamingSession{
		SessionID:        "SE_" + streamID,
		UserID:           userID,
		StreamID:         streamID,
		Quality:          quality.Level480p,
		SubscriptionTier: quality.TierBronze,
		StartTime:        start,
		ExpiresAt:        start.Add(ttl),
	}
}

func newSample(userID string, ts time.Time, bandwidth, bufferRatio float64) *quality.ViewerMetricSample {
	return &quality.ViewerMetricSample{
		UserID:    userID,
		StreamID:  "stream",
		Timestamp: ts,
		PlaybackMetrics: quality.PlaybackMetrics{
			BufferRatio:       bufferRatio,
			StartupTimeMs:     800,
			CurrentQuality:    quality.Level480p,
			BandwidthEstimate: bandwidth,
		},
	}
}

func requireRequestError(t *testing.T, err error, kind error, status int) *service.RequestError {
	t.Helper()
	require.Error(t, err)
	require.ErrorIs(t, err, kind)
	require.Equal(t, status, service.StatusCode(err))
	var re *service.RequestError
	require.ErrorAs(t, err, &re)
	return re
}
