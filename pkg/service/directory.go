package service

import (
	"context"
	"database/sql"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/livekit/protocol/logger"

	"github.com/livekit/quality-manager/pkg/config"
	"github.com/livekit/quality-manager/pkg/quality"
)

// StaticDirectory assigns tiers from configuration.
type StaticDirectory struct {
	users       map[string]quality.Tier
	defaultTier quality.Tier
}

func NewStaticDirectory(conf config.DirectoryConfig) *StaticDirectory {
	defaultTier := parseTier(conf.DefaultTier, quality.DefaultTier)
	users := make(map[string]quality.Tier, len(conf.Users))
	for userID, tier := range conf.Users {
		users[userID] = parseTier(tier, defaultTier)
	}
	return &StaticDirectory{
		users:       users,
		defaultTier: defaultTier,
	}
}

func (d *StaticDirectory) GetSubscriptionTier(_ context.Context, userID string) (quality.Tier, error) {
	if tier, ok := d.users[userID]; ok {
		return tier, nil
	}
	return d.defaultTier, nil
}

// SQLDirectory reads the tier from the users table. The query takes the user
// id as its only argument and selects a single tier column.
type SQLDirectory struct {
	db          *sqlx.DB
	query       string
	defaultTier quality.Tier
}

func NewSQLDirectory(db *sqlx.DB, conf config.DirectoryConfig) *SQLDirectory {
	return &SQLDirectory{
		db:          db,
		query:       conf.Query,
		defaultTier: parseTier(conf.DefaultTier, quality.DefaultTier),
	}
}

func (d *SQLDirectory) GetSubscriptionTier(ctx context.Context, userID string) (quality.Tier, error) {
	var tier sql.NullString
	err := d.db.GetContext(ctx, &tier, d.query, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return d.defaultTier, nil
	}
	if err != nil {
		return "", errors.Wrap(err, "could not look up subscription tier")
	}
	if !tier.Valid {
		return d.defaultTier, nil
	}
	return parseTier(tier.String, d.defaultTier), nil
}

// CachedDirectory remembers successful lookups for a while.
type CachedDirectory struct {
	directory SubscriptionDirectory
	cache     *expirable.LRU[string, quality.Tier]
}

func NewCachedDirectory(directory SubscriptionDirectory, size int, ttl time.Duration) *CachedDirectory {
	return &CachedDirectory{
		directory: directory,
		cache:     expirable.NewLRU[string, quality.Tier](size, nil, ttl),
	}
}

func (d *CachedDirectory) GetSubscriptionTier(ctx context.Context, userID string) (quality.Tier, error) {
	if tier, ok := d.cache.Get(userID); ok {
		return tier, nil
	}
	tier, err := d.directory.GetSubscriptionTier(ctx, userID)
	if err != nil {
		return "", err
	}
	d.cache.Add(userID, tier)
	return tier, nil
}

func (d *CachedDirectory) Purge() {
	d.cache.Purge()
}

func parseTier(s string, fallback quality.Tier) quality.Tier {
	if tier, ok := quality.ParseTier(s); ok {
		return tier
	}
	if s != "" {
		logger.Warnw("unknown subscription tier", nil, "tier", s, "using", fallback)
	}
	return fallback
}
