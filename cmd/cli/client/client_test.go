package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/livekit/quality-manager/pkg/config"
	"github.com/livekit/quality-manager/pkg/quality"
	"github.com/livekit/quality-manager/pkg/service"
)

func newQualityServer(t *testing.T) *httptest.Server {
	conf := config.DefaultConfig
	directory := service.NewStaticDirectory(conf.Directory)
	manager := service.NewQualityManager(&conf.Quality, service.NewLocalStore(), directory, nil)
	s := service.NewQualityServer(&conf, service.NewActionHandler(manager, nil))

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func TestQualityClient(t *testing.T) {
	ts := newQualityServer(t)
	c := NewQualityClient(ts.URL + "/")
	ctx := context.Background()

	res, err := c.Do(ctx, &service.ActionRequest{
		Action:           service.ActionValidateStreamAccess,
		UserID:           "u1",
		SubscriptionTier: quality.TierSilver,
		RequestedQuality: quality.Level720p,
		StreamID:         "s1",
	})
	require.NoError(t, err)
	require.True(t, res.OK())
	require.Contains(t, string(res.Body), `"access_granted":true`)

	res, err = c.Do(ctx, &service.ActionRequest{
		Action:           service.ActionValidateStreamAccess,
		UserID:           "u1",
		SubscriptionTier: quality.TierBronze,
		RequestedQuality: quality.Level1080p,
		StreamID:         "s2",
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusForbidden, res.StatusCode)
	require.Contains(t, string(res.Body), `"upgrade_required":true`)
}

func TestQualityClientRetries(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Inc() < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":"Storage unavailable","retryable":true}`))
			return
		}
		_, _ = w.Write([]byte(`{"user_id":"u1"}`))
	}))
	defer ts.Close()

	c := NewQualityClient(ts.URL)
	res, err := c.Do(context.Background(), &service.ActionRequest{UserID: "u1"})
	require.NoError(t, err)
	require.True(t, res.OK())
	require.Equal(t, int32(3), calls.Load())
}

func TestQualityClientGivesUp(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Inc()
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"Storage unavailable","retryable":true}`))
	}))
	defer ts.Close()

	c := NewQualityClient(ts.URL)
	c.maxRetries = 1
	res, err := c.Do(context.Background(), &service.ActionRequest{UserID: "u1"})
	require.NoError(t, err)
	require.Equal(t, http.StatusServiceUnavailable, res.StatusCode)
	require.Equal(t, int32(2), calls.Load())
}

func TestQualityClientRejectsNonJSON(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}))
	defer ts.Close()

	_, err := NewQualityClient(ts.URL).Do(context.Background(), &service.ActionRequest{UserID: "u1"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "unexpected reply (405)")
}
