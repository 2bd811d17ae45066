package service

import (
	"context"

	"github.com/livekit/quality-manager/pkg/quality"
)

// NetworkEstimator turns a viewer's recent telemetry into a bandwidth and
// stability estimate. Missing or unusable samples give the conservative
// default; store failures are returned.
type NetworkEstimator struct {
	store  MetricStore
	window int
}

func NewNetworkEstimator(store MetricStore, window int) *NetworkEstimator {
	if window <= 0 {
		window = quality.SampleWindow
	}
	return &NetworkEstimator{
		store:  store,
		window: window,
	}
}

func (e *NetworkEstimator) Estimate(ctx context.Context, userID string) (quality.NetworkEstimate, error) {
	samples, err := e.store.ListRecentMetricSamples(ctx, userID, e.window)
	if err != nil {
		return quality.NetworkEstimate{}, err
	}

	values := make([]quality.ViewerMetricSample, 0, len(samples))
	for _, s := range samples {
		values = append(values, *s)
	}
	return quality.EstimateNetwork(values), nil
}
