package observability_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/remittance"
	"github.com/xraph/remittance/observability"
	"github.com/xraph/remittance/store/memory"
)

func TestMetricsExtension(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	m := observability.NewMetricsExtension(observability.NewPrometheusFactory(reg))

	l := remittance.New(memory.New(),
		remittance.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		remittance.WithOwner("owner"),
		remittance.WithPlugin(m),
	)
	require.NoError(t, l.Start(ctx))

	_, err := l.SendPayment(ctx, "alice", remittance.SendRequest{
		Recipient: "bob", PaymentID: "pay-1", Amount: 50_000_000, AttachedValue: 50_000_000,
	})
	require.NoError(t, err)
	_, err = l.ClaimPayment(ctx, "bob", "pay-1")
	require.NoError(t, err)
	_, err = l.ClaimPayment(ctx, "bob", "pay-1")
	require.ErrorIs(t, err, remittance.ErrAlreadyClaimed)
	require.ErrorIs(t, l.Pause(ctx, "mallory"), remittance.ErrUnauthorized)
	_, err = l.Withdraw(ctx, "owner", 500_000)
	require.NoError(t, err)

	for _, name := range []string{
		"remittance_payment_sent_total",
		"remittance_payment_claimed_total",
		"remittance_payment_gross_amount",
		"remittance_treasury_withdrawals_total",
		"remittance_operation_rejected_total",
	} {
		assert.Equal(t, 1, testutil.CollectAndCount(reg, name), name)
	}

	assert.Equal(t, float64(1), value(t, m.PaymentsSent))
	assert.Equal(t, float64(1), value(t, m.PaymentsClaimed))
	assert.Equal(t, float64(1), value(t, m.RoleGrants))
	assert.Equal(t, float64(1), value(t, m.Withdrawals))
	assert.Equal(t, float64(2), value(t, m.Rejected))
	assert.Equal(t, float64(1), value(t, m.Unauthorized))
	assert.Equal(t, float64(0), value(t, m.TransferFailures))
	// role grant, sent, claimed, withdrawn
	assert.Equal(t, float64(4), value(t, m.EventsCommitted))
}

func value(t *testing.T, c observability.Counter) float64 {
	t.Helper()
	pc, ok := c.(prometheus.Counter)
	require.True(t, ok)
	return testutil.ToFloat64(pc)
}

func TestPrometheusFactoryReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	a := observability.NewPrometheusFactory(reg)
	b := observability.NewPrometheusFactory(reg)

	c1 := a.Counter("remittance.payment.sent")
	c2 := a.Counter("remittance.payment.sent")
	c3 := b.Counter("remittance.payment.sent")
	c1.Inc()
	c3.Add(2)

	assert.Same(t, c1, c2)
	assert.Equal(t, float64(3), value(t, c1))

	h := a.Histogram("remittance.payment.gross_amount")
	h.Observe(50_000_000)
	assert.Equal(t, 1, testutil.CollectAndCount(reg, "remittance_payment_gross_amount"))
}
