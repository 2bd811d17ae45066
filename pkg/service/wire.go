//go:build wireinject
// +build wireinject

package service

import (
	"github.com/google/wire"

	"github.com/livekit/quality-manager/pkg/config"
)

func InitializeServer(conf *config.Config, sink MetricsSink) (*QualityServer, error) {
	wire.Build(
		createRedisClient,
		createStore,
		createDirectory,
		getQualityConfig,
		NewQualityManager,
		NewActionHandler,
		NewQualityServer,
	)
	return &QualityServer{}, nil
}

func InitializeQualityManager(conf *config.Config, sink MetricsSink) (*QualityManager, error) {
	wire.Build(
		createRedisClient,
		createStore,
		createDirectory,
		getQualityConfig,
		NewQualityManager,
	)
	return nil, nil
}
