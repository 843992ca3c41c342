package mongo_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

	"github.com/xraph/remittance/store"
	"github.com/xraph/remittance/store/mongo"
	"github.com/xraph/remittance/store/storetest"
)

// Set REMITTANCE_MONGO_URI to a replica set to run these tests. Every case
// drops the remittance_test database first.
func uri(t *testing.T) string {
	t.Helper()
	u := os.Getenv("REMITTANCE_MONGO_URI")
	if u == "" {
		t.Skip("REMITTANCE_MONGO_URI not set")
	}
	return u
}

func TestConformance(t *testing.T) {
	u := uri(t)
	storetest.Run(t, func(t *testing.T) store.Store {
		ctx := context.Background()
		s, err := mongo.Open(ctx, u, "remittance_test")
		require.NoError(t, err)
		require.NoError(t, s.Database().Drop(ctx))
		require.NoError(t, s.Migrate(ctx))
		return s
	})
}

func TestNewOnGroveDB(t *testing.T) {
	u := uri(t)
	ctx := context.Background()

	mdb := mongodriver.New()
	require.NoError(t, mdb.Open(ctx, u, mongodriver.WithDatabase("remittance_test")))
	db, err := grove.Open(mdb)
	require.NoError(t, err)

	s := mongo.New(db)
	t.Cleanup(func() { _ = s.Close() })
	assert.Same(t, db, s.DB())
	assert.Equal(t, "remittance_test", s.Database().Name())
	require.NoError(t, s.Migrate(ctx))
	require.NoError(t, s.Ping(ctx))
}
