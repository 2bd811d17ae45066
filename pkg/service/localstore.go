package service

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/thoas/go-funk"

	"github.com/livekit/quality-manager/pkg/quality"
)

type expiring[T any] struct {
	value     *T
	expiresAt time.Time
}

// LocalStore is an in-process QualityStore for development and tests.
// Expired records are dropped lazily on access.
type LocalStore struct {
	// map of userID => records
	sessions      map[string][]expiring[quality.StreamingSession]
	samples       map[string][]expiring[quality.ViewerMetricSample]
	optimizations map[string][]expiring[quality.OptimizationResult]

	now  func() time.Time
	lock sync.RWMutex
}

func NewLocalStore() *LocalStore {
	return &LocalStore{
		sessions:      make(map[string][]expiring[quality.StreamingSession]),
		samples:       make(map[string][]expiring[quality.ViewerMetricSample]),
		optimizations: make(map[string][]expiring[quality.OptimizationResult]),
		now:           time.Now,
	}
}

// SetClock overrides the time source used for expiry.
func (s *LocalStore) SetClock(now func() time.Time) {
	s.lock.Lock()
	s.now = now
	s.lock.Unlock()
}

func (s *LocalStore) ListActiveSessions(_ context.Context, userID string) ([]*quality.StreamingSession, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	live := s.pruneSessionsLocked(userID)
	sessions := make([]*quality.StreamingSession, 0, len(live))
	for _, e := range live {
		c := *e.value
		sessions = append(sessions, &c)
	}
	slices.SortStableFunc(sessions, func(a, b *quality.StreamingSession) int {
		return a.StartTime.Compare(b.StartTime)
	})
	return sessions, nil
}

func (s *LocalStore) StoreSession(_ context.Context, session *quality.StreamingSession) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.appendSessionLocked(session)
	return nil
}

func (s *LocalStore) AdmitSession(_ context.Context, session *quality.StreamingSession, limit int) (bool, int, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	live := s.pruneSessionsLocked(session.UserID)
	if len(live) >= limit {
		return false, len(live), nil
	}
	s.appendSessionLocked(session)
	return true, len(live) + 1, nil
}

func (s *LocalStore) StoreMetricSample(_ context.Context, sample *quality.ViewerMetricSample, ttl time.Duration) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	c := *sample
	s.samples[sample.UserID] = append(s.samples[sample.UserID], expiring[quality.ViewerMetricSample]{
		value:     &c,
		expiresAt: sample.Timestamp.Add(ttl),
	})
	return nil
}

func (s *LocalStore) ListRecentMetricSamples(_ context.Context, userID string, limit int) ([]*quality.ViewerMetricSample, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	live := pruneExpired(s.samples[userID], s.now())
	s.samples[userID] = live
	return newestFirst(live, limit, func(v *quality.ViewerMetricSample) time.Time { return v.Timestamp }), nil
}

func (s *LocalStore) StoreOptimization(_ context.Context, result *quality.OptimizationResult, ttl time.Duration) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	c := *result
	c.Optimizations = slices.Clone(result.Optimizations)
	s.optimizations[result.UserID] = append(s.optimizations[result.UserID], expiring[quality.OptimizationResult]{
		value:     &c,
		expiresAt: result.Timestamp.Add(ttl),
	})
	return nil
}

func (s *LocalStore) ListOptimizations(_ context.Context, userID string, limit int) ([]*quality.OptimizationResult, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	live := pruneExpired(s.optimizations[userID], s.now())
	s.optimizations[userID] = live
	return newestFirst(live, limit, func(v *quality.OptimizationResult) time.Time { return v.Timestamp }), nil
}

func (s *LocalStore) pruneSessionsLocked(userID string) []expiring[quality.StreamingSession] {
	live := pruneExpired(s.sessions[userID], s.now())
	if len(live) == 0 {
		delete(s.sessions, userID)
	} else {
		s.sessions[userID] = live
	}
	return live
}

func (s *LocalStore) appendSessionLocked(session *quality.StreamingSession) {
	c := *session
	s.sessions[session.UserID] = append(s.sessions[session.UserID], expiring[quality.StreamingSession]{
		value:     &c,
		expiresAt: session.ExpiresAt,
	})
}

func pruneExpired[T any](entries []expiring[T], now time.Time) []expiring[T] {
	return funk.Filter(entries, func(e expiring[T]) bool {
		return e.expiresAt.After(now)
	}).([]expiring[T])
}

func newestFirst[T any](entries []expiring[T], limit int, ts func(*T) time.Time) []*T {
	out := make([]*T, 0, len(entries))
	for _, e := range entries {
		c := *e.value
		out = append(out, &c)
	}
	slices.SortStableFunc(out, func(a, b *T) int {
		return ts(b).Compare(ts(a))
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
