package extension

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/xraph/remittance"
	"github.com/xraph/remittance/store/memory"
)

func intPtr(n int) *int { return &n }

func TestMergeWithDefaults(t *testing.T) {
	cfg := mergeWithDefaults(Config{Owner: "ops", DefaultFeePercentage: intPtr(0)})

	assert.Equal(t, "/remittance", cfg.BasePath)
	assert.Equal(t, 0, *cfg.DefaultFeePercentage, "explicit zero fee survives defaults")
	assert.Equal(t, int64(remittance.DefaultMinAmount), cfg.MinAmount)
	assert.Equal(t, int64(remittance.DefaultMaxAmount), cfg.MaxAmount)
	assert.Equal(t, 7*24*time.Hour, cfg.PaymentDuration)
	assert.Equal(t, "memory", cfg.Store.Driver)
}

func TestMergeConfigurations(t *testing.T) {
	fromFile := Config{
		BasePath:  "/pay",
		MinAmount: 1,
		MaxAmount: 1_000,
	}
	programmatic := Config{
		DisableMigrate:       true,
		BasePath:             "/ignored",
		Owner:                "ops",
		DefaultFeePercentage: intPtr(3),
		MinAmount:            5,
		JWTSecret:            "s3cret",
	}

	cfg := mergeConfigurations(fromFile, programmatic)

	assert.True(t, cfg.DisableMigrate)
	assert.False(t, cfg.DisableRoutes)
	assert.Equal(t, "/pay", cfg.BasePath)
	assert.Equal(t, "ops", cfg.Owner)
	assert.Equal(t, 3, *cfg.DefaultFeePercentage)
	assert.Equal(t, int64(1), cfg.MinAmount)
	assert.Equal(t, int64(1_000), cfg.MaxAmount)
	assert.Equal(t, "s3cret", cfg.JWTSecret)
	assert.Equal(t, remittance.DefaultPaymentDuration, cfg.PaymentDuration)
}

func TestConfigFromYAML(t *testing.T) {
	raw := `
base_path: /v1
owner: treasury-admin
default_fee_percentage: 0
min_amount: 100
max_amount: 500000
payment_duration: 48h
store:
  driver: sqlite
  dsn: /var/lib/remittance.db
`
	var cfg Config
	require.NoError(t, yaml.Unmarshal([]byte(raw), &cfg))

	assert.Equal(t, "/v1", cfg.BasePath)
	assert.Equal(t, "treasury-admin", cfg.Owner)
	require.NotNil(t, cfg.DefaultFeePercentage)
	assert.Equal(t, 0, *cfg.DefaultFeePercentage)
	assert.Equal(t, 48*time.Hour, cfg.PaymentDuration)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "/var/lib/remittance.db", cfg.Store.DSN)
}

func TestBuildLedgerOpts(t *testing.T) {
	ctx := context.Background()
	e := &Extension{config: mergeWithDefaults(Config{
		Owner:                "ops",
		DefaultFeePercentage: intPtr(0),
		MinAmount:            100,
		MaxAmount:            1_000,
	})}
	e.ledgerOpts = append(e.ledgerOpts, remittance.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	l := remittance.New(memory.New(), e.buildLedgerOpts()...)
	require.NoError(t, l.Start(ctx))

	pct, err := l.FeePercentage(ctx)
	require.NoError(t, err)
	assert.Equal(t, remittance.FeePercentage(0), pct)

	ok, err := l.HasRole(ctx, remittance.OwnerRole, "ops")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = l.SendPayment(ctx, "alice", remittance.SendRequest{
		Recipient: "bob", PaymentID: "pay-1", Amount: 1_001, AttachedValue: 1_001,
	})
	assert.ErrorIs(t, err, remittance.ErrInvalidPaymentAmount)

	p, err := l.SendPayment(ctx, "alice", remittance.SendRequest{
		Recipient: "bob", PaymentID: "pay-2", Amount: 1_000, AttachedValue: 1_000,
	})
	require.NoError(t, err)
	assert.Equal(t, remittance.Amount(1_000), p.NetAmount)
}
