package remittance_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/remittance"
	"github.com/xraph/remittance/access"
	"github.com/xraph/remittance/clock"
	"github.com/xraph/remittance/custody"
	"github.com/xraph/remittance/event"
	"github.com/xraph/remittance/payment"
	"github.com/xraph/remittance/store/memory"
	"github.com/xraph/remittance/types"
)

const (
	owner access.Principal = "owner"
	alice access.Principal = "alice"
	bob   access.Principal = "bob"
	carol access.Principal = "carol"
)

var epoch = time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)

type harness struct {
	l     *remittance.Ledger
	clock *clock.Fake
	vault *custody.Vault
	st    *memory.Store
}

func newHarness(t *testing.T, opts ...remittance.Option) *harness {
	t.Helper()
	h := &harness{
		clock: clock.NewFake(epoch),
		vault: custody.NewVault(),
		st:    memory.New(),
	}
	base := []remittance.Option{
		remittance.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		remittance.WithClock(h.clock),
		remittance.WithTransferer(h.vault),
		remittance.WithOwner(owner),
	}
	h.l = remittance.New(h.st, append(base, opts...)...)
	require.NoError(t, h.l.Start(context.Background()))
	return h
}

func (h *harness) send(t *testing.T, from access.Principal, paymentID string, to access.Principal, amount types.Amount) *payment.Payment {
	t.Helper()
	p, err := h.l.SendPayment(context.Background(), from, remittance.SendRequest{
		Recipient:     to,
		PaymentID:     paymentID,
		Currency:      "USDC",
		Amount:        amount,
		AttachedValue: amount,
	})
	require.NoError(t, err)
	return p
}

func (h *harness) events(t *testing.T) []*event.Event {
	t.Helper()
	es, err := h.l.Events(context.Background(), event.ListOpts{})
	require.NoError(t, err)
	return es
}

func req(paymentID string, to access.Principal, amount types.Amount) remittance.SendRequest {
	return remittance.SendRequest{
		Recipient:     to,
		PaymentID:     paymentID,
		Currency:      "USDC",
		Amount:        amount,
		AttachedValue: amount,
	}
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

func TestStartInitializesStore(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	ok, err := h.l.HasRole(ctx, access.OwnerRole, owner)
	require.NoError(t, err)
	assert.True(t, ok)

	pct, err := h.l.FeePercentage(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pct.Int())

	paused, err := h.l.Paused(ctx)
	require.NoError(t, err)
	assert.False(t, paused)

	es := h.events(t)
	require.Len(t, es, 1)
	assert.Equal(t, int64(1), es[0].Seq)
	assert.Equal(t, event.TypeRoleGranted, es[0].Type)

	assert.ErrorIs(t, h.l.Start(ctx), remittance.ErrAlreadyStarted)
}

func TestStartKeepsExistingState(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.l.SetFeePercentage(ctx, owner, 5))

	// A second ledger on the same store ignores its own owner and fee defaults.
	second := remittance.New(h.st,
		remittance.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		remittance.WithOwner(carol),
		remittance.WithDefaultFeePercentage(9),
	)
	require.NoError(t, second.Start(ctx))

	pct, err := second.FeePercentage(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, pct.Int())

	ok, err := second.HasRole(ctx, access.OwnerRole, carol)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStartRequiresOwnerOnEmptyStore(t *testing.T) {
	l := remittance.New(memory.New(), remittance.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	err := l.Start(context.Background())
	assert.ErrorIs(t, err, remittance.ErrInvalidInput)
}

func TestOperationsBeforeStart(t *testing.T) {
	ctx := context.Background()
	l := remittance.New(memory.New(),
		remittance.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		remittance.WithOwner(owner),
	)

	_, err := l.SendPayment(ctx, alice, req("pay-1", bob, 50_000))
	assert.ErrorIs(t, err, remittance.ErrNotInitialized)
	_, err = l.ClaimPayment(ctx, bob, "pay-1")
	assert.ErrorIs(t, err, remittance.ErrNotInitialized)
	assert.ErrorIs(t, l.Pause(ctx, owner), remittance.ErrNotInitialized)
	_, err = l.TreasuryBalance(ctx)
	assert.ErrorIs(t, err, remittance.ErrNotInitialized)
}

func TestStartRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name string
		opt  remittance.Option
	}{
		{"zero min", remittance.WithAmountBounds(0, 100)},
		{"min above max", remittance.WithAmountBounds(200, 100)},
		{"max overflow", remittance.WithAmountBounds(1, types.MaxAmount)},
		{"zero duration", remittance.WithPaymentDuration(0)},
		{"fee above max", remittance.WithDefaultFeePercentage(101)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := remittance.New(memory.New(), remittance.WithOwner(owner), tt.opt)
			assert.True(t, remittance.IsValidation(l.Start(context.Background())))
		})
	}
}

// ──────────────────────────────────────────────────
// Send
// ──────────────────────────────────────────────────

func TestSendPayment(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	p := h.send(t, alice, "pay-1", bob, 50_000_000)
	assert.Equal(t, "pay-1", p.ID)
	assert.Equal(t, alice, p.Sender)
	assert.Equal(t, bob, p.Recipient)
	assert.Equal(t, types.Amount(50_000_000), p.GrossAmount)
	assert.Equal(t, types.Amount(49_500_000), p.NetAmount)
	assert.Equal(t, types.Amount(500_000), p.FeeAmount)
	assert.Equal(t, 1, p.FeePercentage.Int())
	assert.False(t, p.Claimed)
	assert.Equal(t, epoch, p.CreatedAt)
	assert.Equal(t, epoch.Add(7*24*time.Hour), p.Expiration)

	stored, err := h.l.GetPayment(ctx, "pay-1")
	require.NoError(t, err)
	assert.Equal(t, p, stored)

	balance, err := h.l.TreasuryBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.Amount(500_000), balance)

	status, err := h.l.PaymentStatus(ctx, "pay-1")
	require.NoError(t, err)
	assert.Equal(t, payment.StatusActive, status)

	es := h.events(t)
	require.Len(t, es, 2)
	assert.Equal(t, event.TypePaymentSent, es[1].Type)
	assert.Equal(t, int64(2), es[1].Seq)
	assert.Equal(t, alice, es[1].Actor)

	var sent event.PaymentSent
	require.NoError(t, es[1].Decode(&sent))
	assert.Equal(t, "pay-1", sent.PaymentID)
	assert.Equal(t, types.Amount(49_500_000), sent.Net)
	assert.Equal(t, types.Amount(500_000), sent.Fee)

	assert.Empty(t, h.vault.Transfers(), "sending moves nothing out of custody")
}

func TestSendPaymentTrimsCurrency(t *testing.T) {
	h := newHarness(t)
	p, err := h.l.SendPayment(context.Background(), alice, remittance.SendRequest{
		Recipient: bob, PaymentID: "pay-1", Currency: "  EURC ", Amount: 10_000, AttachedValue: 10_000,
	})
	require.NoError(t, err)
	assert.Equal(t, "EURC", p.Currency)
}

func TestSendPaymentRejections(t *testing.T) {
	tests := []struct {
		name   string
		caller access.Principal
		req    remittance.SendRequest
		want   error
	}{
		{"empty id", alice, req("", bob, 50_000), remittance.ErrInvalidInput},
		{"blank id", alice, req("  \t", bob, 50_000), remittance.ErrInvalidInput},
		{"long id", alice, req(strings.Repeat("x", 129), bob, 50_000), remittance.ErrInvalidInput},
		{"empty sender", "", req("pay-2", bob, 50_000), remittance.ErrInvalidInput},
		{"empty recipient", alice, req("pay-2", "", 50_000), remittance.ErrInvalidInput},
		{"long currency", alice, remittance.SendRequest{
			Recipient: bob, PaymentID: "pay-2", Currency: strings.Repeat("ü", 17), Amount: 50_000, AttachedValue: 50_000,
		}, remittance.ErrInvalidInput},
		{"below min", alice, req("pay-2", bob, 9_999), remittance.ErrInvalidPaymentAmount},
		{"above max", alice, req("pay-2", bob, 100_000_001), remittance.ErrInvalidPaymentAmount},
		{"zero", alice, req("pay-2", bob, 0), remittance.ErrInvalidPaymentAmount},
		{"attached mismatch", alice, remittance.SendRequest{
			Recipient: bob, PaymentID: "pay-2", Amount: 50_000, AttachedValue: 49_999,
		}, remittance.ErrInvalidPaymentAmount},
		{"duplicate beats amount", alice, req("pay-1", bob, 1), remittance.ErrDuplicatePaymentID},
		{"duplicate from another sender", carol, req("pay-1", bob, 50_000), remittance.ErrDuplicatePaymentID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.send(t, alice, "pay-1", bob, 50_000)
			before := len(h.events(t))

			_, err := h.l.SendPayment(context.Background(), tt.caller, tt.req)
			require.ErrorIs(t, err, tt.want)

			balance, err := h.l.TreasuryBalance(context.Background())
			require.NoError(t, err)
			assert.Equal(t, types.Amount(500), balance, "rejected send must not accrue fees")
			assert.Len(t, h.events(t), before)
		})
	}
}

func TestSendPaymentAmountBounds(t *testing.T) {
	h := newHarness(t, remittance.WithAmountBounds(100, 1_000))
	h.send(t, alice, "min", bob, 100)
	h.send(t, alice, "max", bob, 1_000)

	_, err := h.l.SendPayment(context.Background(), alice, req("over", bob, 1_001))
	assert.ErrorIs(t, err, remittance.ErrInvalidPaymentAmount)
}

func TestSendPaymentPausedFirst(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.send(t, alice, "pay-1", bob, 50_000)
	require.NoError(t, h.l.Pause(ctx, owner))

	// Paused wins over every other failure.
	_, err := h.l.SendPayment(ctx, alice, req("", bob, 1))
	assert.ErrorIs(t, err, remittance.ErrSystemPaused)
	_, err = h.l.SendPayment(ctx, alice, req("pay-1", bob, 50_000))
	assert.ErrorIs(t, err, remittance.ErrSystemPaused)
	_, err = h.l.SendPayment(ctx, alice, req("pay-2", bob, 50_000))
	assert.ErrorIs(t, err, remittance.ErrSystemPaused)

	require.NoError(t, h.l.Unpause(ctx, owner))
	h.send(t, alice, "pay-2", bob, 50_000)
}

func TestSendPaymentUsesCurrentFee(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	old := h.send(t, alice, "before", bob, 10_001)
	require.NoError(t, h.l.SetFeePercentage(ctx, owner, 3))
	p := h.send(t, alice, "after", bob, 10_001)

	assert.Equal(t, types.Amount(9_700), p.NetAmount)
	assert.Equal(t, types.Amount(301), p.FeeAmount)
	assert.Equal(t, 3, p.FeePercentage.Int())

	stored, err := h.l.GetPayment(ctx, "before")
	require.NoError(t, err)
	assert.Equal(t, old.FeeAmount, stored.FeeAmount, "rate change does not touch escrowed payments")
	assert.Equal(t, 1, stored.FeePercentage.Int())

	require.NoError(t, h.l.SetFeePercentage(ctx, owner, 0))
	free := h.send(t, alice, "free", bob, 10_000)
	assert.Equal(t, types.Amount(10_000), free.NetAmount)
	assert.Zero(t, free.FeeAmount)
}

func TestConcurrentSendSameID(t *testing.T) {
	h := newHarness(t)
	const n = 16

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.l.SendPayment(context.Background(), alice, req("race", bob, 50_000))
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}()
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, remittance.ErrDuplicatePaymentID)
	}
	assert.Equal(t, 1, ok)

	balance, err := h.l.TreasuryBalance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.Amount(500), balance)
}

// ──────────────────────────────────────────────────
// Claim
// ──────────────────────────────────────────────────

func TestClaimPayment(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.send(t, alice, "pay-1", bob, 50_000_000)

	h.clock.Advance(time.Hour)
	p, err := h.l.ClaimPayment(ctx, bob, "pay-1")
	require.NoError(t, err)
	assert.True(t, p.Claimed)
	require.NotNil(t, p.ClaimedAt)
	assert.Equal(t, epoch.Add(time.Hour), *p.ClaimedAt)

	assert.Equal(t, types.Amount(49_500_000), h.vault.BalanceOf(bob))
	transfers := h.vault.Transfers()
	require.Len(t, transfers, 1)
	assert.Equal(t, "claim:pay-1", transfers[0].Reference)
	assert.Equal(t, "USDC", transfers[0].Currency)

	status, err := h.l.PaymentStatus(ctx, "pay-1")
	require.NoError(t, err)
	assert.Equal(t, payment.StatusClaimed, status)

	balance, err := h.l.TreasuryBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.Amount(500_000), balance, "claim leaves the treasury untouched")

	es := h.events(t)
	require.Len(t, es, 3)
	assert.Equal(t, event.TypePaymentClaimed, es[2].Type)
	assert.Equal(t, bob, es[2].Actor)
	assert.Equal(t, "pay-1", es[2].Subject)
}

func TestClaimPaymentPrecedence(t *testing.T) {
	ctx := context.Background()

	t.Run("paused beats unknown", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.l.Pause(ctx, owner))
		_, err := h.l.ClaimPayment(ctx, bob, "missing")
		assert.ErrorIs(t, err, remittance.ErrSystemPaused)
	})

	t.Run("unknown", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.l.ClaimPayment(ctx, bob, "missing")
		assert.ErrorIs(t, err, remittance.ErrUnknownPayment)
		assert.True(t, remittance.IsNotFound(err))
	})

	t.Run("unauthorized beats claimed and expired", func(t *testing.T) {
		h := newHarness(t)
		h.send(t, alice, "pay-1", bob, 50_000)
		_, err := h.l.ClaimPayment(ctx, bob, "pay-1")
		require.NoError(t, err)
		h.clock.Advance(8 * 24 * time.Hour)

		_, err = h.l.ClaimPayment(ctx, alice, "pay-1")
		assert.ErrorIs(t, err, remittance.ErrUnauthorized)
	})

	t.Run("claimed beats expired", func(t *testing.T) {
		h := newHarness(t)
		h.send(t, alice, "pay-1", bob, 50_000)
		_, err := h.l.ClaimPayment(ctx, bob, "pay-1")
		require.NoError(t, err)
		h.clock.Advance(8 * 24 * time.Hour)

		_, err = h.l.ClaimPayment(ctx, bob, "pay-1")
		assert.ErrorIs(t, err, remittance.ErrAlreadyClaimed)
	})

	t.Run("expired at the boundary", func(t *testing.T) {
		h := newHarness(t)
		h.send(t, alice, "pay-1", bob, 50_000)
		h.clock.Advance(7 * 24 * time.Hour)

		_, err := h.l.ClaimPayment(ctx, bob, "pay-1")
		assert.ErrorIs(t, err, remittance.ErrExpired)

		status, err := h.l.PaymentStatus(ctx, "pay-1")
		require.NoError(t, err)
		assert.Equal(t, payment.StatusExpired, status)
		assert.Zero(t, h.vault.BalanceOf(bob))
	})

	t.Run("just before the boundary", func(t *testing.T) {
		h := newHarness(t)
		h.send(t, alice, "pay-1", bob, 50_000)
		h.clock.Advance(7*24*time.Hour - time.Millisecond)

		_, err := h.l.ClaimPayment(ctx, bob, "pay-1")
		assert.NoError(t, err)
	})
}

func TestClaimPaymentTransferFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.send(t, alice, "pay-1", bob, 50_000)
	before := len(h.events(t))

	bridgeDown := errors.New("bridge down")
	h.vault.FailWith(func(custody.Transfer) error { return bridgeDown })

	_, err := h.l.ClaimPayment(ctx, bob, "pay-1")
	require.ErrorIs(t, err, remittance.ErrTransferFailed)
	require.ErrorIs(t, err, bridgeDown)
	assert.True(t, remittance.IsRetryable(err))

	p, err := h.l.GetPayment(ctx, "pay-1")
	require.NoError(t, err)
	assert.False(t, p.Claimed, "failed transfer must leave the payment unclaimed")
	assert.Len(t, h.events(t), before)

	report, err := h.l.Reconcile(ctx)
	require.NoError(t, err)
	assert.True(t, report.Balanced(), report.Discrepancies)
	assert.Zero(t, report.Claimed)

	h.vault.FailWith(nil)
	_, err = h.l.ClaimPayment(ctx, bob, "pay-1")
	require.NoError(t, err)
	assert.Equal(t, types.Amount(49_500), h.vault.BalanceOf(bob))
}

func TestConcurrentClaims(t *testing.T) {
	h := newHarness(t)
	h.send(t, alice, "pay-1", bob, 50_000)
	const n = 16

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.l.ClaimPayment(context.Background(), bob, "pay-1")
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}()
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, remittance.ErrAlreadyClaimed)
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, types.Amount(49_500), h.vault.BalanceOf(bob))
	assert.Len(t, h.vault.Transfers(), 1)
}

// ──────────────────────────────────────────────────
// Listing
// ──────────────────────────────────────────────────

func TestListPayments(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.send(t, alice, "a-1", bob, 10_000)
	h.clock.Advance(time.Second)
	h.send(t, alice, "a-2", carol, 10_000)
	h.clock.Advance(time.Second)
	h.send(t, carol, "c-1", bob, 10_000)
	_, err := h.l.ClaimPayment(ctx, bob, "a-1")
	require.NoError(t, err)

	fromAlice, err := h.l.ListPayments(ctx, payment.ListOpts{Sender: alice})
	require.NoError(t, err)
	require.Len(t, fromAlice, 2)
	assert.Equal(t, "a-1", fromAlice[0].ID)
	assert.Equal(t, "a-2", fromAlice[1].ID)

	active, err := h.l.ListPayments(ctx, payment.ListOpts{Recipient: bob, Status: payment.StatusActive})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "c-1", active[0].ID)

	h.clock.Advance(7 * 24 * time.Hour)
	expired, err := h.l.ListPayments(ctx, payment.ListOpts{Status: payment.StatusExpired})
	require.NoError(t, err)
	assert.Len(t, expired, 2)

	_, err = h.l.ListPayments(ctx, payment.ListOpts{Status: "pending"})
	assert.ErrorIs(t, err, remittance.ErrInvalidInput)
}

func TestEventsAreGapFree(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.send(t, alice, "pay-1", bob, 50_000)
	_, _ = h.l.ClaimPayment(ctx, carol, "pay-1") // rejected, no event
	_, err := h.l.ClaimPayment(ctx, bob, "pay-1")
	require.NoError(t, err)
	require.NoError(t, h.l.SetFeePercentage(ctx, owner, 2))
	require.NoError(t, h.l.Pause(ctx, owner))
	require.NoError(t, h.l.Unpause(ctx, owner))
	require.NoError(t, h.l.GrantRole(ctx, owner, access.OwnerRole, carol))
	require.NoError(t, h.l.GrantRole(ctx, owner, access.OwnerRole, carol)) // no-op, no event
	_, err = h.l.Withdraw(ctx, owner, 100)
	require.NoError(t, err)
	require.NoError(t, h.l.RenounceRole(ctx, carol, access.OwnerRole))

	want := []event.Type{
		event.TypeRoleGranted,
		event.TypePaymentSent,
		event.TypePaymentClaimed,
		event.TypeFeePercentageChanged,
		event.TypePaused,
		event.TypeUnpaused,
		event.TypeRoleGranted,
		event.TypeWithdrawn,
		event.TypeRoleRevoked,
	}
	es := h.events(t)
	require.Len(t, es, len(want))
	for i, e := range es {
		assert.Equal(t, int64(i+1), e.Seq)
		assert.Equal(t, want[i], e.Type)
	}

	tail, err := h.l.Events(ctx, event.ListOpts{AfterSeq: 7, Limit: 1})
	require.NoError(t, err)
	require.Len(t, tail, 1)
	assert.Equal(t, event.TypeWithdrawn, tail[0].Type)
}
