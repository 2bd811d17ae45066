package service

import (
	"context"
	"time"

	"github.com/livekit/protocol/utils"

	"github.com/livekit/quality-manager/pkg/quality"
)

const sessionPrefix = "SE_"

// SessionRegistry tracks each viewer's admitted sessions. Sessions are never
// ended explicitly; a reconnecting viewer keeps its old slot until the TTL
// elapses.
type SessionRegistry struct {
	store SessionStore
	ttl   time.Duration
	now   func() time.Time
}

func NewSessionRegistry(store SessionStore, ttl time.Duration) *SessionRegistry {
	return &SessionRegistry{
		store: store,
		ttl:   ttl,
		now:   time.Now,
	}
}

func (r *SessionRegistry) SetClock(now func() time.Time) {
	r.now = now
}

// ActiveSessions returns unexpired sessions, oldest first.
func (r *SessionRegistry) ActiveSessions(ctx context.Context, userID string) ([]*quality.StreamingSession, error) {
	return r.store.ListActiveSessions(ctx, userID)
}

// RecordSession stores a new session without any admission check.
func (r *SessionRegistry) RecordSession(ctx context.Context, userID, streamID string, level quality.Level, tier quality.Tier) (*quality.StreamingSession, error) {
	session := r.newSession(userID, streamID, level, tier)
	if err := r.store.StoreSession(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// AdmitSession records a new session only if the user is below limit, in a
// single conditional write. The session is nil when admission was refused.
func (r *SessionRegistry) AdmitSession(ctx context.Context, userID, streamID string, level quality.Level, tier quality.Tier, limit int) (*quality.StreamingSession, int, error) {
	session := r.newSession(userID, streamID, level, tier)
	admitted, active, err := r.store.AdmitSession(ctx, session, limit)
	if err != nil || !admitted {
		return nil, active, err
	}
	return session, active, nil
}

func (r *SessionRegistry) newSession(userID, streamID string, level quality.Level, tier quality.Tier) *quality.StreamingSession {
	now := r.now()
	return &quality.StreamingSession{
		SessionID:        utils.NewGuid(sessionPrefix),
		UserID:           userID,
		StreamID:         streamID,
		Quality:          level,
		SubscriptionTier: tier,
		StartTime:        now,
		ExpiresAt:        now.Add(r.ttl),
	}
}
