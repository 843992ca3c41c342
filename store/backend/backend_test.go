package backend_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xraph/grove"
	"github.com/xraph/grove/driver"
	"github.com/xraph/grove/drivers/sqlitedriver"

	"github.com/xraph/remittance/store/backend"
	"github.com/xraph/remittance/store/memory"
	"github.com/xraph/remittance/store/sqlite"
)

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := backend.Open(ctx, backend.Config{})
	require.NoError(t, err)
	assert.IsType(t, &memory.Store{}, s)

	s, err = backend.Open(ctx, backend.Config{
		Driver: "SQLite",
		DSN:    filepath.Join(t.TempDir(), "remittance.db"),
	})
	require.NoError(t, err)
	assert.IsType(t, &sqlite.Store{}, s)
	require.NoError(t, s.Migrate(ctx))
	require.NoError(t, s.Ping(ctx))
	require.NoError(t, s.Close())
}

func TestOpenRejectsBadConfig(t *testing.T) {
	ctx := context.Background()

	_, err := backend.Open(ctx, backend.Config{Driver: "postgres"})
	assert.ErrorContains(t, err, "needs a dsn")

	_, err = backend.Open(ctx, backend.Config{Driver: "redis", DSN: "redis://localhost"})
	assert.ErrorContains(t, err, `unknown driver "redis"`)
}

func TestFromGrove(t *testing.T) {
	ctx := context.Background()
	sdb := sqlitedriver.New()
	require.NoError(t, sdb.Open(ctx, sqlite.DSN(filepath.Join(t.TempDir(), "grove.db")), driver.WithPoolSize(1)))
	db, err := grove.Open(sdb)
	require.NoError(t, err)

	s, err := backend.FromGrove(db)
	require.NoError(t, err)
	assert.IsType(t, &sqlite.Store{}, s)
	require.NoError(t, s.Migrate(ctx))
	require.NoError(t, s.Close())

	_, err = backend.FromGrove(nil)
	assert.ErrorContains(t, err, "nil grove handle")
}

func TestConfigDurable(t *testing.T) {
	assert.False(t, backend.Config{}.Durable())
	assert.False(t, backend.Config{Driver: " Memory "}.Durable())
	assert.True(t, backend.Config{Driver: "sqlite"}.Durable())
	assert.True(t, backend.Config{Driver: "postgres"}.Durable())
}
