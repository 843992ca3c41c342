package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xraph/grove"
	"github.com/xraph/grove/driver"
	"github.com/xraph/grove/drivers/sqlitedriver"

	"github.com/xraph/remittance"
	"github.com/xraph/remittance/fee"
	"github.com/xraph/remittance/state"
	"github.com/xraph/remittance/store"
	"github.com/xraph/remittance/store/sqlite"
	"github.com/xraph/remittance/store/storetest"
)

func open(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "remittance.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return open(t) })
}

func TestInMemory(t *testing.T) {
	s, err := sqlite.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	require.NoError(t, s.Migrate(ctx))
	require.NoError(t, s.Ping(ctx))
}

func TestMigrateIdempotent(t *testing.T) {
	s := open(t)
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	require.NoError(t, s.Migrate(ctx))

	var n int64
	require.NoError(t, sqlitedriver.Unwrap(s.DB()).
		NewRaw(`SELECT COUNT(*) FROM grove_migrations WHERE "group" = ?`, sqlite.Migrations.Name()).
		Scan(ctx, &n))
	assert.Equal(t, int64(len(sqlite.Migrations.Migrations())), n)
}

func TestMigrationStatus(t *testing.T) {
	ctx := context.Background()
	s, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "remittance.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	before, err := s.MigrationStatus(ctx)
	require.NoError(t, err)
	require.Len(t, before, 1)
	assert.Equal(t, sqlite.Migrations.Name(), before[0].Name)
	assert.Empty(t, before[0].Applied)
	assert.Len(t, before[0].Pending, len(sqlite.Migrations.Migrations()))

	require.NoError(t, s.Migrate(ctx))

	after, err := s.MigrationStatus(ctx)
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Empty(t, after[0].Pending)
	assert.Len(t, after[0].Applied, len(sqlite.Migrations.Migrations()))
}

func TestNewOnCallerDB(t *testing.T) {
	ctx := context.Background()
	sdb := sqlitedriver.New()
	require.NoError(t, sdb.Open(ctx, sqlite.DSN(filepath.Join(t.TempDir(), "shared.db")), driver.WithPoolSize(1)))
	db, err := grove.Open(sdb)
	require.NoError(t, err)

	s := sqlite.New(db)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(ctx))

	_, err = s.LoadState(ctx)
	require.ErrorIs(t, err, remittance.ErrNotInitialized)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.Atomic(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.InitState(ctx, state.Default(fee.Percentage(3), now))
	}))
	st, err := s.LoadState(ctx)
	require.NoError(t, err)
	assert.Equal(t, fee.Percentage(3), st.FeePercentage)
	assert.True(t, now.Equal(st.UpdatedAt))
	assert.Same(t, db, s.DB())
}

func TestCloseTwice(t *testing.T) {
	s := open(t)
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Close(), grove.ErrDriverClosed)
}
