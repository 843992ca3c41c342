package remittance_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/remittance"
	"github.com/xraph/remittance/access"
	"github.com/xraph/remittance/event"
	"github.com/xraph/remittance/fee"
	"github.com/xraph/remittance/payment"
	"github.com/xraph/remittance/treasury"
	"github.com/xraph/remittance/types"
)

// ──────────────────────────────────────────────────
// Fees
// ──────────────────────────────────────────────────

func TestSetFeePercentage(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	// Authorization is checked before the value.
	assert.ErrorIs(t, h.l.SetFeePercentage(ctx, alice, 101), remittance.ErrUnauthorized)
	assert.ErrorIs(t, h.l.SetFeePercentage(ctx, owner, 101), remittance.ErrInvalidFeePercentage)
	assert.ErrorIs(t, h.l.SetFeePercentage(ctx, owner, -1), remittance.ErrInvalidFeePercentage)

	require.NoError(t, h.l.SetFeePercentage(ctx, owner, fee.Max))
	require.NoError(t, h.l.SetFeePercentage(ctx, owner, 4))

	pct, err := h.l.FeePercentage(ctx)
	require.NoError(t, err)
	assert.Equal(t, fee.Percentage(4), pct)

	es, err := h.l.Events(ctx, event.ListOpts{Type: event.TypeFeePercentageChanged})
	require.NoError(t, err)
	require.Len(t, es, 2)
	var changed event.FeePercentageChanged
	require.NoError(t, es[1].Decode(&changed))
	assert.Equal(t, fee.Max, changed.Old)
	assert.Equal(t, fee.Percentage(4), changed.New)
}

// ──────────────────────────────────────────────────
// Pause
// ──────────────────────────────────────────────────

func TestPauseUnpause(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	assert.ErrorIs(t, h.l.Pause(ctx, alice), remittance.ErrUnauthorized)
	assert.ErrorIs(t, h.l.Unpause(ctx, alice), remittance.ErrUnauthorized, "unauthorized beats not paused")
	assert.ErrorIs(t, h.l.Unpause(ctx, owner), remittance.ErrNotPaused)

	require.NoError(t, h.l.Pause(ctx, owner))
	assert.ErrorIs(t, h.l.Pause(ctx, owner), remittance.ErrAlreadyPaused)

	paused, err := h.l.Paused(ctx)
	require.NoError(t, err)
	assert.True(t, paused)

	require.NoError(t, h.l.Unpause(ctx, owner))
	paused, err = h.l.Paused(ctx)
	require.NoError(t, err)
	assert.False(t, paused)
}

func TestPauseLeavesReadsAndAdminOpen(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.send(t, alice, "pay-1", bob, 50_000)
	require.NoError(t, h.l.Pause(ctx, owner))

	_, err := h.l.GetPayment(ctx, "pay-1")
	require.NoError(t, err)
	require.NoError(t, h.l.SetFeePercentage(ctx, owner, 2))
	require.NoError(t, h.l.GrantRole(ctx, owner, access.OwnerRole, carol))

	w, err := h.l.Withdraw(ctx, owner, 500)
	require.NoError(t, err, "withdraw works while paused")
	assert.Zero(t, w.BalanceAfter)
}

// ──────────────────────────────────────────────────
// Treasury
// ──────────────────────────────────────────────────

func TestWithdraw(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.send(t, alice, "pay-1", bob, 50_000_000) // fee 500_000

	_, err := h.l.Withdraw(ctx, alice, 1)
	assert.ErrorIs(t, err, remittance.ErrUnauthorized)
	_, err = h.l.Withdraw(ctx, owner, -5)
	assert.ErrorIs(t, err, remittance.ErrInvalidInput)
	_, err = h.l.Withdraw(ctx, owner, 500_001)
	assert.ErrorIs(t, err, remittance.ErrInsufficientTreasuryBalance)

	h.clock.Advance(time.Minute)
	w, err := h.l.Withdraw(ctx, owner, 200_000)
	require.NoError(t, err)
	assert.Equal(t, owner, w.Owner)
	assert.Equal(t, types.Amount(200_000), w.Amount)
	assert.Equal(t, types.Amount(300_000), w.BalanceAfter)
	assert.Equal(t, epoch.Add(time.Minute), w.CreatedAt)

	_, err = h.l.Withdraw(ctx, owner, 300_000)
	require.NoError(t, err)

	balance, err := h.l.TreasuryBalance(ctx)
	require.NoError(t, err)
	assert.Zero(t, balance)
	assert.Equal(t, types.Amount(500_000), h.vault.BalanceOf(owner))

	transfers := h.vault.Transfers()
	require.Len(t, transfers, 2)
	assert.Equal(t, "withdraw:"+w.ID.String(), transfers[0].Reference)

	history, err := h.l.Withdrawals(ctx, treasury.ListOpts{Owner: owner})
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, w.ID.String(), history[0].ID.String())

	// Escrowed net amounts are not withdrawable.
	_, err = h.l.Withdraw(ctx, owner, 1)
	assert.ErrorIs(t, err, remittance.ErrInsufficientTreasuryBalance)
}

func TestWithdrawZero(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	w, err := h.l.Withdraw(ctx, owner, 0)
	require.NoError(t, err)
	assert.Zero(t, w.Amount)
	assert.Zero(t, w.BalanceAfter)

	es, err := h.l.Events(ctx, event.ListOpts{Type: event.TypeWithdrawn})
	require.NoError(t, err)
	require.Len(t, es, 1)
	var withdrawn event.Withdrawn
	require.NoError(t, es[0].Decode(&withdrawn))
	assert.Equal(t, owner, withdrawn.Owner)
	assert.Zero(t, withdrawn.Amount)

	balance, err := h.l.TreasuryBalance(ctx)
	require.NoError(t, err)
	assert.Zero(t, balance)
	assert.Zero(t, h.vault.BalanceOf(owner))
}

// ──────────────────────────────────────────────────
// Access control
// ──────────────────────────────────────────────────

func TestGrantAndRevokeRoles(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	assert.ErrorIs(t, h.l.GrantRole(ctx, alice, access.OwnerRole, alice), remittance.ErrUnauthorized)
	assert.ErrorIs(t, h.l.GrantRole(ctx, owner, "lower_case", alice), remittance.ErrInvalidInput)
	assert.ErrorIs(t, h.l.GrantRole(ctx, owner, access.OwnerRole, ""), remittance.ErrInvalidInput)

	h.clock.Advance(time.Second)
	require.NoError(t, h.l.GrantRole(ctx, owner, access.OwnerRole, alice))
	require.NoError(t, h.l.GrantRole(ctx, owner, "AUDITOR", carol))

	members, err := h.l.RoleMembers(ctx, access.OwnerRole)
	require.NoError(t, err)
	assert.Equal(t, []access.Principal{owner, alice}, members)

	// The new owner can act as one.
	require.NoError(t, h.l.Pause(ctx, alice))
	require.NoError(t, h.l.Unpause(ctx, alice))

	assert.ErrorIs(t, h.l.RevokeRole(ctx, carol, access.OwnerRole, alice), remittance.ErrUnauthorized)
	require.NoError(t, h.l.RevokeRole(ctx, alice, access.OwnerRole, owner))
	require.NoError(t, h.l.RevokeRole(ctx, alice, "AUDITOR", bob), "revoking an absent grant is a no-op")

	ok, err := h.l.HasRole(ctx, access.OwnerRole, owner)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.ErrorIs(t, h.l.Pause(ctx, owner), remittance.ErrUnauthorized)

	assert.ErrorIs(t, h.l.RevokeRole(ctx, alice, access.OwnerRole, alice), remittance.ErrLastOwner)
	assert.ErrorIs(t, h.l.RenounceRole(ctx, alice, access.OwnerRole), remittance.ErrLastOwner)

	require.NoError(t, h.l.RenounceRole(ctx, carol, "AUDITOR"))
	ok, err = h.l.HasRole(ctx, "AUDITOR", carol)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRenounceWithoutRoleIsNoop(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	before := len(h.events(t))

	require.NoError(t, h.l.RenounceRole(ctx, bob, access.OwnerRole))
	assert.Len(t, h.events(t), before)
}

func TestConcurrentRevokeKeepsAnOwner(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.l.GrantRole(ctx, owner, access.OwnerRole, alice))

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, p := range []access.Principal{owner, alice} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = h.l.RenounceRole(ctx, p, access.OwnerRole)
		}()
	}
	wg.Wait()

	members, err := h.l.RoleMembers(ctx, access.OwnerRole)
	require.NoError(t, err)
	assert.Len(t, members, 1)
	assert.True(t, errs[0] == nil || errs[1] == nil)
	assert.True(t, remittance.CodeOf(errs[0]) == "LastOwner" || remittance.CodeOf(errs[1]) == "LastOwner")
}

// ──────────────────────────────────────────────────
// Reconciliation
// ──────────────────────────────────────────────────

func TestReconcile(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	h.send(t, alice, "pay-1", bob, 50_000_000)
	h.send(t, alice, "pay-2", carol, 10_001)
	h.send(t, carol, "pay-3", bob, 20_000)
	_, err := h.l.ClaimPayment(ctx, bob, "pay-1")
	require.NoError(t, err)
	_, err = h.l.Withdraw(ctx, owner, 100_000)
	require.NoError(t, err)

	report, err := h.l.Reconcile(ctx)
	require.NoError(t, err)
	assert.True(t, report.Balanced(), strings.Join(report.Discrepancies, "; "))
	assert.Equal(t, 3, report.Payments)
	assert.Equal(t, 2, report.Unclaimed)
	assert.Equal(t, types.Amount(50_030_001), report.Deposited)
	assert.Equal(t, types.Amount(49_500_000), report.Claimed)
	assert.Equal(t, types.Amount(100_000), report.Withdrawn)
	assert.Zero(t, report.Stranded)
	assert.Equal(t, report.Deposited, report.Claimed+report.Escrowed+report.TreasuryBalance+report.Withdrawn)

	h.clock.Advance(7 * 24 * time.Hour)
	report, err = h.l.Reconcile(ctx)
	require.NoError(t, err)
	assert.True(t, report.Balanced())
	assert.Equal(t, report.Escrowed, report.Stranded)

	expired, err := h.l.ListPayments(ctx, payment.ListOpts{Status: payment.StatusExpired})
	require.NoError(t, err)
	assert.Len(t, expired, 2)
}
