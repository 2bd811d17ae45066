package service

import (
	"context"
	"slices"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	goversion "github.com/hashicorp/go-version"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/livekit/protocol/logger"

	"github.com/livekit/quality-manager/pkg/quality"
	"github.com/livekit/quality-manager/version"
)

const (
	VersionKey = "quality_manager_version"

	// ActiveSessionsPrefix is a sorted set of session JSON scored by expiry (unix ms)
	ActiveSessionsPrefix = "active_sessions:"
	// ViewerMetricsPrefix is a sorted set of sample JSON scored by expiry (unix ms)
	ViewerMetricsPrefix = "viewer_metrics:"
	// OptimizationPrefix is a sorted set of result JSON scored by expiry (unix ms)
	OptimizationPrefix = "optimization:"
)

// records written by a different major version are not readable
const storeSchemaMajor = 0

// admitSessionScript prunes expired sessions, then adds the new one only when
// the user is below the limit. Returns {admitted, active}.
var admitSessionScript = redis.NewScript(`
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
local active = redis.call("ZCARD", KEYS[1])
if active >= tonumber(ARGV[2]) then
	return {0, active}
end
redis.call("ZADD", KEYS[1], ARGV[3], ARGV[4])
redis.call("PEXPIRE", KEYS[1], ARGV[5])
return {1, active + 1}
`)

type RedisStore struct {
	rc  redis.UniversalClient
	now func() time.Time
}

func NewRedisStore(rc redis.UniversalClient) *RedisStore {
	return &RedisStore{
		rc:  rc,
		now: time.Now,
	}
}

// SetClock overrides the time source used for expiry.
func (s *RedisStore) SetClock(now func() time.Time) {
	s.now = now
}

// Start checks the stored schema version and records ours.
func (s *RedisStore) Start(ctx context.Context) error {
	current, err := s.rc.Get(ctx, VersionKey).Result()
	if err != nil && err != redis.Nil {
		return err
	}
	if current == "" {
		current = "0.0.0"
	}

	stored, err := goversion.NewVersion(current)
	if err != nil {
		return errors.Wrapf(err, "invalid %s %q", VersionKey, current)
	}
	ours, err := goversion.NewVersion(version.Version)
	if err != nil {
		return err
	}
	if stored.Segments()[0] > storeSchemaMajor {
		return errors.Errorf("store was written by incompatible version %s", stored)
	}
	if stored.LessThan(ours) {
		logger.Infow("updating store version", "from", stored.String(), "to", ours.String())
		if err = s.rc.Set(ctx, VersionKey, version.Version, 0).Err(); err != nil {
			return err
		}
	}
	return nil
}

func (s *RedisStore) ListActiveSessions(ctx context.Context, userID string) ([]*quality.StreamingSession, error) {
	items, err := s.rc.ZRangeByScore(ctx, ActiveSessionsPrefix+userID, &redis.ZRangeBy{
		Min: "(" + msString(s.now()),
		Max: "+inf",
	}).Result()
	if err != nil && err != redis.Nil {
		return nil, errors.Wrap(err, "could not list sessions")
	}

	sessions := decodeAll[quality.StreamingSession](items, "session")
	slices.SortStableFunc(sessions, func(a, b *quality.StreamingSession) int {
		return a.StartTime.Compare(b.StartTime)
	})
	return sessions, nil
}

func (s *RedisStore) StoreSession(ctx context.Context, session *quality.StreamingSession) error {
	data, err := json.Marshal(session)
	if err != nil {
		return err
	}

	key := ActiveSessionsPrefix + session.UserID
	now := s.now()
	pp := s.rc.TxPipeline()
	pp.ZRemRangeByScore(ctx, key, "-inf", msString(now))
	pp.ZAdd(ctx, key, redis.Z{Score: float64(session.ExpiresAt.UnixMilli()), Member: data})
	pp.PExpire(ctx, key, session.ExpiresAt.Sub(now))
	if _, err = pp.Exec(ctx); err != nil {
		return errors.Wrap(err, "could not store session")
	}
	return nil
}

func (s *RedisStore) AdmitSession(ctx context.Context, session *quality.StreamingSession, limit int) (bool, int, error) {
	data, err := json.Marshal(session)
	if err != nil {
		return false, 0, err
	}

	now := s.now()
	res, err := admitSessionScript.Run(ctx, s.rc,
		[]string{ActiveSessionsPrefix + session.UserID},
		now.UnixMilli(),
		limit,
		session.ExpiresAt.UnixMilli(),
		string(data),
		session.ExpiresAt.Sub(now).Milliseconds(),
	).Int64Slice()
	if err != nil {
		return false, 0, errors.Wrap(err, "could not admit session")
	}
	if len(res) != 2 {
		return false, 0, errors.Errorf("unexpected admission reply %v", res)
	}
	return res[0] == 1, int(res[1]), nil
}

func (s *RedisStore) StoreMetricSample(ctx context.Context, sample *quality.ViewerMetricSample, ttl time.Duration) error {
	if err := s.appendTimed(ctx, ViewerMetricsPrefix+sample.UserID, sample, sample.Timestamp, ttl); err != nil {
		return errors.Wrap(err, "could not store metric sample")
	}
	return nil
}

func (s *RedisStore) ListRecentMetricSamples(ctx context.Context, userID string, limit int) ([]*quality.ViewerMetricSample, error) {
	items, err := s.listRecent(ctx, ViewerMetricsPrefix+userID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "could not list metric samples")
	}
	return decodeAll[quality.ViewerMetricSample](items, "metric sample"), nil
}

func (s *RedisStore) StoreOptimization(ctx context.Context, result *quality.OptimizationResult, ttl time.Duration) error {
	if err := s.appendTimed(ctx, OptimizationPrefix+result.UserID, result, result.Timestamp, ttl); err != nil {
		return errors.Wrap(err, "could not store optimization")
	}
	return nil
}

func (s *RedisStore) ListOptimizations(ctx context.Context, userID string, limit int) ([]*quality.OptimizationResult, error) {
	items, err := s.listRecent(ctx, OptimizationPrefix+userID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "could not list optimizations")
	}
	return decodeAll[quality.OptimizationResult](items, "optimization"), nil
}

// appendTimed adds a record that expires ttl after ts and drops expired
// records. With a fixed ttl, expiry order is timestamp order.
func (s *RedisStore) appendTimed(ctx context.Context, key string, v interface{}, ts time.Time, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	pp := s.rc.TxPipeline()
	pp.ZRemRangeByScore(ctx, key, "-inf", msString(s.now()))
	pp.ZAdd(ctx, key, redis.Z{Score: float64(ts.Add(ttl).UnixMilli()), Member: data})
	pp.PExpire(ctx, key, ttl)
	_, err = pp.Exec(ctx)
	return err
}

func (s *RedisStore) listRecent(ctx context.Context, key string, limit int) ([]string, error) {
	by := &redis.ZRangeBy{
		Min: "(" + msString(s.now()),
		Max: "+inf",
	}
	if limit > 0 {
		by.Count = int64(limit)
	}
	items, err := s.rc.ZRevRangeByScore(ctx, key, by).Result()
	if err == redis.Nil {
		err = nil
	}
	return items, err
}

// decodeAll skips records that no longer decode; they are treated as bad data
// rather than a store failure.
func decodeAll[T any](items []string, kind string) []*T {
	out := make([]*T, 0, len(items))
	for _, item := range items {
		v := new(T)
		if err := json.Unmarshal([]byte(item), v); err != nil {
			logger.Warnw("skipping unreadable record", err, "kind", kind)
			continue
		}
		out = append(out, v)
	}
	return out
}

func msString(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}
