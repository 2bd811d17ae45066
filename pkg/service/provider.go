package service

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/livekit/protocol/logger"
	redisLiveKit "github.com/livekit/protocol/redis"

	"github.com/livekit/quality-manager/pkg/config"
)

const defaultConnectTimeout = 10 * time.Second

func getQualityConfig(conf *config.Config) *config.QualityConfig {
	return &conf.Quality
}

// createRedisClient returns nil when redis is not configured.
func createRedisClient(conf *config.Config) (redis.UniversalClient, error) {
	if !conf.Redis.IsConfigured() {
		return nil, nil
	}

	logger.Infow("using redis store", "address", conf.Redis.Address)
	var rc redis.UniversalClient
	err := connectWithBackoff(context.Background(), "redis", conf.Redis.ConnectTimeout, func(context.Context) error {
		var err error
		rc, err = redisLiveKit.GetRedisClient(&conf.Redis.RedisConfig)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rc, nil
}

// createStore picks redis when a client is available, otherwise an
// in-process store that is lost on restart.
func createStore(rc redis.UniversalClient, conf *config.Config) (QualityStore, error) {
	if rc == nil {
		logger.Infow("using local store")
		return NewLocalStore(), nil
	}

	rs := NewRedisStore(rc)
	if err := rs.Start(context.Background()); err != nil {
		return nil, err
	}
	return NewBreakerStore(rs, conf.Breaker), nil
}

func createDirectory(conf *config.Config) (SubscriptionDirectory, error) {
	var directory SubscriptionDirectory
	switch conf.Directory.Kind {
	case config.DirectoryKindPostgres:
		db, err := openPostgres(conf.Directory.PostgresDSN)
		if err != nil {
			return nil, err
		}
		directory = NewSQLDirectory(db, conf.Directory)
	default:
		directory = NewStaticDirectory(conf.Directory)
	}

	if conf.Directory.CacheSize > 0 {
		directory = NewCachedDirectory(directory, conf.Directory.CacheSize, conf.Directory.CacheTTL)
	}
	return directory, nil
}

func openPostgres(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "could not open subscription database")
	}

	err = connectWithBackoff(context.Background(), "postgres", defaultConnectTimeout, db.PingContext)
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "unable to connect to subscription database")
	}
	return db, nil
}

func connectWithBackoff(ctx context.Context, name string, timeout time.Duration, ping func(context.Context) error) error {
	eb := backoff.NewExponentialBackOff()
	eb.MaxElapsedTime = timeout

	return backoff.RetryNotify(func() error {
		return ping(ctx)
	}, backoff.WithContext(eb, ctx), func(err error, next time.Duration) {
		logger.Warnw("connection failed, retrying", err, "backend", name, "retryIn", next)
	})
}
