package service_test

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/livekit/quality-manager/pkg/config"
	"github.com/livekit/quality-manager/pkg/quality"
	"github.com/livekit/quality-manager/pkg/service"
)

func TestStaticDirectory(t *testing.T) {
	ctx := context.Background()
	d := service.NewStaticDirectory(config.DirectoryConfig{
		DefaultTier: "Silver",
		Users: map[string]string{
			"alice": "gold",
			"bob":   " BRONZE ",
			"carol": "diamond",
		},
	})

	cases := map[string]quality.Tier{
		"alice":   quality.TierGold,
		"bob":     quality.TierBronze,
		"carol":   quality.TierSilver,
		"unknown": quality.TierSilver,
	}
	for userID, expected := range cases {
		tier, err := d.GetSubscriptionTier(ctx, userID)
		require.NoError(t, err)
		require.Equal(t, expected, tier, userID)
	}

	t.Run("invalid default falls back to bronze", func(t *testing.T) {
		d := service.NewStaticDirectory(config.DirectoryConfig{DefaultTier: "nope"})
		tier, err := d.GetSubscriptionTier(ctx, "x")
		require.NoError(t, err)
		require.Equal(t, quality.TierBronze, tier)
	})
}

func newMockDirectory(t *testing.T) (*service.SQLDirectory, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	conf := config.DefaultConfig.Directory
	return service.NewSQLDirectory(sqlx.NewDb(db, "postgres"), conf), mock
}

func TestSQLDirectory(t *testing.T) {
	ctx := context.Background()
	query := regexp.QuoteMeta(config.DefaultConfig.Directory.Query)

	t.Run("known user", func(t *testing.T) {
		d, mock := newMockDirectory(t)
		mock.ExpectQuery(query).WithArgs("alice").
			WillReturnRows(sqlmock.NewRows([]string{"subscription_tier"}).AddRow("gold"))

		tier, err := d.GetSubscriptionTier(ctx, "alice")
		require.NoError(t, err)
		require.Equal(t, quality.TierGold, tier)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing user gets default tier", func(t *testing.T) {
		d, mock := newMockDirectory(t)
		mock.ExpectQuery(query).WithArgs("ghost").WillReturnError(sql.ErrNoRows)

		tier, err := d.GetSubscriptionTier(ctx, "ghost")
		require.NoError(t, err)
		require.Equal(t, quality.TierBronze, tier)
	})

	t.Run("null tier gets default tier", func(t *testing.T) {
		d, mock := newMockDirectory(t)
		mock.ExpectQuery(query).WithArgs("bob").
			WillReturnRows(sqlmock.NewRows([]string{"subscription_tier"}).AddRow(nil))

		tier, err := d.GetSubscriptionTier(ctx, "bob")
		require.NoError(t, err)
		require.Equal(t, quality.TierBronze, tier)
	})

	t.Run("database failure is returned", func(t *testing.T) {
		d, mock := newMockDirectory(t)
		mock.ExpectQuery(query).WithArgs("alice").WillReturnError(errors.New("connection reset"))

		_, err := d.GetSubscriptionTier(ctx, "alice")
		require.Error(t, err)
	})
}

type countingDirectory struct {
	tier  quality.Tier
	err   error
	calls atomic.Int32
}

func (d *countingDirectory) GetSubscriptionTier(context.Context, string) (quality.Tier, error) {
	d.calls.Inc()
	return d.tier, d.err
}

func TestCachedDirectory(t *testing.T) {
	ctx := context.Background()
	inner := &countingDirectory{tier: quality.TierGold}
	d := service.NewCachedDirectory(inner, 10, time.Minute)

	for i := 0; i < 3; i++ {
		tier, err := d.GetSubscriptionTier(ctx, "alice")
		require.NoError(t, err)
		require.Equal(t, quality.TierGold, tier)
	}
	require.Equal(t, int32(1), inner.calls.Load())

	d.Purge()
	inner.err = errors.New("down")
	_, err := d.GetSubscriptionTier(ctx, "alice")
	require.Error(t, err)

	// failures are not cached
	inner.err = nil
	tier, err := d.GetSubscriptionTier(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, quality.TierGold, tier)
	require.Equal(t, int32(3), inner.calls.Load())
}
