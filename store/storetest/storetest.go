// Package storetest is a conformance suite run against every store backend.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/remittance"
	"github.com/xraph/remittance/access"
	"github.com/xraph/remittance/event"
	"github.com/xraph/remittance/fee"
	"github.com/xraph/remittance/id"
	"github.com/xraph/remittance/payment"
	"github.com/xraph/remittance/state"
	"github.com/xraph/remittance/store"
	"github.com/xraph/remittance/treasury"
	"github.com/xraph/remittance/types"
)

// Factory returns an empty, migrated store. The suite closes it.
type Factory func(t *testing.T) store.Store

// Epoch is the base time of all fixtures. Offsets are whole milliseconds.
var Epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func at(ms int) time.Time { return Epoch.Add(time.Duration(ms) * time.Millisecond) }

// Run executes the whole suite.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"State", testState},
		{"Payments", testPayments},
		{"PaymentFilters", testPaymentFilters},
		{"MarkClaimed", testMarkClaimed},
		{"Rollback", testRollback},
		{"Roles", testRoles},
		{"Withdrawals", testWithdrawals},
		{"Events", testEvents},
		{"ConcurrentAtomic", testConcurrentAtomic},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s)
		})
	}
}

func atomic(t *testing.T, s store.Store, fn func(ctx context.Context, tx store.Tx) error) {
	t.Helper()
	require.NoError(t, s.Atomic(context.Background(), fn))
}

func initState(t *testing.T, s store.Store) {
	t.Helper()
	atomic(t, s, func(ctx context.Context, tx store.Tx) error {
		return tx.InitState(ctx, state.Default(fee.Default, Epoch))
	})
}

// Payment returns an unclaimed fixture created at the given millisecond offset.
func Payment(paymentID string, sender, recipient access.Principal, gross types.Amount, ms int) *payment.Payment {
	net, cut := fee.Split(gross, fee.Default)
	created := at(ms)
	return &payment.Payment{
		Entity:        types.NewEntity(created),
		ID:            paymentID,
		Sender:        sender,
		Recipient:     recipient,
		Currency:      "USDC",
		GrossAmount:   gross,
		NetAmount:     net,
		FeeAmount:     cut,
		FeePercentage: fee.Default,
		Expiration:    created.Add(7 * 24 * time.Hour),
	}
}

func insert(t *testing.T, s store.Store, ps ...*payment.Payment) {
	t.Helper()
	atomic(t, s, func(ctx context.Context, tx store.Tx) error {
		for _, p := range ps {
			if err := tx.InsertPayment(ctx, p); err != nil {
				return err
			}
		}
		return nil
	})
}

func ids(ps []*payment.Payment) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.ID
	}
	return out
}

// ──────────────────────────────────────────────────
// Cases
// ──────────────────────────────────────────────────

func testState(t *testing.T, s store.Store) {
	ctx := context.Background()

	_, err := s.LoadState(ctx)
	require.ErrorIs(t, err, remittance.ErrNotInitialized)

	err = s.Atomic(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.SaveState(ctx, state.Default(fee.Default, Epoch))
	})
	require.ErrorIs(t, err, remittance.ErrNotInitialized)

	initState(t, s)

	err = s.Atomic(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.InitState(ctx, state.Default(fee.Default, Epoch))
	})
	require.ErrorIs(t, err, remittance.ErrStateConflict)

	want := &state.State{
		Paused:          true,
		FeePercentage:   7,
		TreasuryBalance: 1_500,
		Deposited:       150_000,
		Claimed:         100_000,
		Withdrawn:       500,
		EventSeq:        42,
		UpdatedAt:       at(250),
	}
	atomic(t, s, func(ctx context.Context, tx store.Tx) error {
		st, err := tx.LoadState(ctx)
		if err != nil {
			return err
		}
		assert.Equal(t, fee.Default, st.FeePercentage)
		return tx.SaveState(ctx, want)
	})

	got, err := s.LoadState(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func testPayments(t *testing.T, s store.Store) {
	ctx := context.Background()

	p := Payment("pay-1", "alice", "bob", 50_000_000, 0)
	insert(t, s, p)

	got, err := s.GetPayment(ctx, "pay-1")
	require.NoError(t, err)
	assert.Equal(t, p, got)

	_, err = s.GetPayment(ctx, "missing")
	require.ErrorIs(t, err, remittance.ErrUnknownPayment)

	err = s.Atomic(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.InsertPayment(ctx, Payment("pay-1", "carol", "dave", 20_000, 5))
	})
	require.ErrorIs(t, err, remittance.ErrDuplicatePaymentID)

	got, err = s.GetPayment(ctx, "pay-1")
	require.NoError(t, err)
	assert.Equal(t, access.Principal("alice"), got.Sender, "duplicate must not overwrite")

	atomic(t, s, func(ctx context.Context, tx store.Tx) error {
		inTx, err := tx.GetPayment(ctx, "pay-1")
		if err != nil {
			return err
		}
		assert.Equal(t, p, inTx)
		_, err = tx.GetPayment(ctx, "missing")
		assert.ErrorIs(t, err, remittance.ErrUnknownPayment)
		return nil
	})
}

func testPaymentFilters(t *testing.T, s store.Store) {
	ctx := context.Background()

	// p-b and p-a share a creation time; the id breaks the tie.
	insert(t, s,
		Payment("p-c", "alice", "bob", 10_000, 30),
		Payment("p-b", "alice", "carol", 20_000, 10),
		Payment("p-a", "dave", "bob", 30_000, 10),
		Payment("p-d", "dave", "carol", 40_000, 40),
	)

	all, err := s.ListPayments(ctx, payment.ListOpts{})
	require.NoError(t, err)
	assert.Equal(t, []string{"p-a", "p-b", "p-c", "p-d"}, ids(all))

	bySender, err := s.ListPayments(ctx, payment.ListOpts{Sender: "alice"})
	require.NoError(t, err)
	assert.Equal(t, []string{"p-b", "p-c"}, ids(bySender))

	byRecipient, err := s.ListPayments(ctx, payment.ListOpts{Recipient: "bob"})
	require.NoError(t, err)
	assert.Equal(t, []string{"p-a", "p-c"}, ids(byRecipient))

	both, err := s.ListPayments(ctx, payment.ListOpts{Sender: "dave", Recipient: "carol"})
	require.NoError(t, err)
	assert.Equal(t, []string{"p-d"}, ids(both))

	page, err := s.ListPayments(ctx, payment.ListOpts{Limit: 2, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"p-b", "p-c"}, ids(page))

	tail, err := s.ListPayments(ctx, payment.ListOpts{Offset: 3})
	require.NoError(t, err)
	assert.Equal(t, []string{"p-d"}, ids(tail))

	atomic(t, s, func(ctx context.Context, tx store.Tx) error {
		return tx.MarkClaimed(ctx, "p-b", at(100))
	})

	// p-a and p-c expire at +7d+10ms and +7d+30ms; p-d at +7d+40ms.
	asOf := at(30).Add(7 * 24 * time.Hour)

	claimed, err := s.ListPayments(ctx, payment.ListOpts{Status: payment.StatusClaimed, AsOf: asOf})
	require.NoError(t, err)
	assert.Equal(t, []string{"p-b"}, ids(claimed))

	expired, err := s.ListPayments(ctx, payment.ListOpts{Status: payment.StatusExpired, AsOf: asOf})
	require.NoError(t, err)
	assert.Equal(t, []string{"p-a", "p-c"}, ids(expired), "expiration is inclusive")

	active, err := s.ListPayments(ctx, payment.ListOpts{Status: payment.StatusActive, AsOf: asOf})
	require.NoError(t, err)
	assert.Equal(t, []string{"p-d"}, ids(active))

	none, err := s.ListPayments(ctx, payment.ListOpts{Sender: "nobody"})
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func testMarkClaimed(t *testing.T, s store.Store) {
	ctx := context.Background()
	insert(t, s, Payment("pay-1", "alice", "bob", 50_000, 0))

	claimedAt := at(500)
	atomic(t, s, func(ctx context.Context, tx store.Tx) error {
		return tx.MarkClaimed(ctx, "pay-1", claimedAt)
	})

	got, err := s.GetPayment(ctx, "pay-1")
	require.NoError(t, err)
	assert.True(t, got.Claimed)
	require.NotNil(t, got.ClaimedAt)
	assert.Equal(t, claimedAt, *got.ClaimedAt)
	assert.Equal(t, claimedAt, got.UpdatedAt)
	assert.Equal(t, at(0), got.CreatedAt)

	err = s.Atomic(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.MarkClaimed(ctx, "pay-1", at(600))
	})
	require.ErrorIs(t, err, remittance.ErrAlreadyClaimed)

	err = s.Atomic(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.MarkClaimed(ctx, "missing", at(600))
	})
	require.ErrorIs(t, err, remittance.ErrUnknownPayment)

	got, err = s.GetPayment(ctx, "pay-1")
	require.NoError(t, err)
	assert.Equal(t, claimedAt, *got.ClaimedAt)
}

func testRollback(t *testing.T, s store.Store) {
	ctx := context.Background()
	initState(t, s)
	insert(t, s, Payment("keep", "alice", "bob", 10_000, 0))

	boom := errors.New("boom")
	err := s.Atomic(ctx, func(ctx context.Context, tx store.Tx) error {
		st, err := tx.LoadState(ctx)
		if err != nil {
			return err
		}
		st.Deposited = 99
		st.EventSeq = 1
		if err := tx.SaveState(ctx, st); err != nil {
			return err
		}
		if err := tx.InsertPayment(ctx, Payment("gone", "alice", "bob", 10_000, 1)); err != nil {
			return err
		}
		if err := tx.MarkClaimed(ctx, "keep", at(2)); err != nil {
			return err
		}
		if err := tx.GrantRole(ctx, grant("ADMIN", "eve", 3)); err != nil {
			return err
		}
		if err := tx.RevokeRole(ctx, access.OwnerRole, "owner"); err != nil {
			return err
		}
		if err := tx.InsertWithdrawal(ctx, withdrawal("owner", 5, 4)); err != nil {
			return err
		}
		e := mustEvent(t, event.TypePaused, 1)
		if err := tx.AppendEvent(ctx, e); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	st, err := s.LoadState(ctx)
	require.NoError(t, err)
	assert.Zero(t, st.Deposited)
	assert.Zero(t, st.EventSeq)

	_, err = s.GetPayment(ctx, "gone")
	require.ErrorIs(t, err, remittance.ErrUnknownPayment)

	keep, err := s.GetPayment(ctx, "keep")
	require.NoError(t, err)
	assert.False(t, keep.Claimed)
	assert.Nil(t, keep.ClaimedAt)

	ok, err := s.HasRole(ctx, "ADMIN", "eve")
	require.NoError(t, err)
	assert.False(t, ok)

	ws, err := s.ListWithdrawals(ctx, treasury.ListOpts{})
	require.NoError(t, err)
	assert.Empty(t, ws)

	es, err := s.ListEvents(ctx, event.ListOpts{})
	require.NoError(t, err)
	assert.Empty(t, es)

	// The store stays usable after a rollback.
	insert(t, s, Payment("after", "alice", "bob", 10_000, 10))

	// A panic rolls back too and propagates.
	assert.Panics(t, func() {
		_ = s.Atomic(ctx, func(ctx context.Context, tx store.Tx) error {
			if err := tx.InsertPayment(ctx, Payment("panicked", "alice", "bob", 10_000, 11)); err != nil {
				return err
			}
			panic("boom")
		})
	})
	_, err = s.GetPayment(ctx, "panicked")
	require.ErrorIs(t, err, remittance.ErrUnknownPayment)
}

func grant(role access.Role, p access.Principal, ms int) *access.Grant {
	return &access.Grant{
		Entity:    types.NewEntity(at(ms)),
		ID:        id.NewGrantID(),
		Role:      role,
		Principal: p,
		GrantedBy: "owner",
	}
}

func testRoles(t *testing.T, s store.Store) {
	ctx := context.Background()

	atomic(t, s, func(ctx context.Context, tx store.Tx) error {
		for _, g := range []*access.Grant{
			grant(access.OwnerRole, "owner", 0),
			grant(access.OwnerRole, "second", 20),
			grant(access.OwnerRole, "first", 10),
			grant("AUDITOR", "owner", 30),
		} {
			if err := tx.GrantRole(ctx, g); err != nil {
				return err
			}
		}
		// Granting twice keeps the original grant.
		return tx.GrantRole(ctx, grant(access.OwnerRole, "owner", 40))
	})

	members, err := s.RoleMembers(ctx, access.OwnerRole)
	require.NoError(t, err)
	assert.Equal(t, []access.Principal{"owner", "first", "second"}, members)

	ok, err := s.HasRole(ctx, access.OwnerRole, "first")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.HasRole(ctx, "AUDITOR", "first")
	require.NoError(t, err)
	assert.False(t, ok)

	atomic(t, s, func(ctx context.Context, tx store.Tx) error {
		n, err := tx.CountRole(ctx, access.OwnerRole)
		if err != nil {
			return err
		}
		assert.Equal(t, 3, n)

		if err := tx.RevokeRole(ctx, access.OwnerRole, "first"); err != nil {
			return err
		}
		// Revoking an absent member is a no-op.
		if err := tx.RevokeRole(ctx, access.OwnerRole, "nobody"); err != nil {
			return err
		}

		has, err := tx.HasRole(ctx, access.OwnerRole, "first")
		if err != nil {
			return err
		}
		assert.False(t, has, "revoke is visible inside the transaction")

		n, err = tx.CountRole(ctx, access.OwnerRole)
		if err != nil {
			return err
		}
		assert.Equal(t, 2, n)
		return nil
	})

	members, err = s.RoleMembers(ctx, access.OwnerRole)
	require.NoError(t, err)
	assert.Equal(t, []access.Principal{"owner", "second"}, members)

	empty, err := s.RoleMembers(ctx, "NOBODY")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func withdrawal(owner access.Principal, amount types.Amount, ms int) *treasury.Withdrawal {
	return &treasury.Withdrawal{
		Entity:       types.NewEntity(at(ms)),
		ID:           id.NewWithdrawalID(),
		Owner:        owner,
		Amount:       amount,
		BalanceAfter: 1_000 - amount,
	}
}

func testWithdrawals(t *testing.T, s store.Store) {
	ctx := context.Background()

	first := withdrawal("owner", 100, 10)
	second := withdrawal("other", 200, 20)
	third := withdrawal("owner", 300, 30)
	atomic(t, s, func(ctx context.Context, tx store.Tx) error {
		for _, w := range []*treasury.Withdrawal{third, first, second} {
			if err := tx.InsertWithdrawal(ctx, w); err != nil {
				return err
			}
		}
		return nil
	})

	all, err := s.ListWithdrawals(ctx, treasury.ListOpts{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, first.ID.String(), all[0].ID.String())
	assert.Equal(t, second.ID.String(), all[1].ID.String())
	assert.Equal(t, third.ID.String(), all[2].ID.String())
	assert.Equal(t, types.Amount(100), all[0].Amount)
	assert.Equal(t, types.Amount(900), all[0].BalanceAfter)
	assert.Equal(t, at(10), all[0].CreatedAt)

	mine, err := s.ListWithdrawals(ctx, treasury.ListOpts{Owner: "owner"})
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, types.Amount(300), mine[1].Amount)

	page, err := s.ListWithdrawals(ctx, treasury.ListOpts{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, second.ID.String(), page[0].ID.String())
}

func mustEvent(t *testing.T, typ event.Type, seq int64) *event.Event {
	t.Helper()
	e, err := event.New(typ, "owner", fmt.Sprintf("subject-%d", seq),
		event.PauseChanged{Account: "owner"}, at(int(seq)))
	require.NoError(t, err)
	e.Seq = seq
	return e
}

func testEvents(t *testing.T, s store.Store) {
	ctx := context.Background()

	written := []*event.Event{
		mustEvent(t, event.TypePaused, 1),
		mustEvent(t, event.TypeUnpaused, 2),
		mustEvent(t, event.TypePaused, 3),
	}
	atomic(t, s, func(ctx context.Context, tx store.Tx) error {
		for _, e := range written {
			if err := tx.AppendEvent(ctx, e); err != nil {
				return err
			}
		}
		return nil
	})

	all, err := s.ListEvents(ctx, event.ListOpts{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	for i, e := range all {
		w := written[i]
		assert.Equal(t, w.Seq, e.Seq)
		assert.Equal(t, w.ID.String(), e.ID.String())
		assert.Equal(t, w.Type, e.Type)
		assert.Equal(t, w.Actor, e.Actor)
		assert.Equal(t, w.Subject, e.Subject)
		assert.JSONEq(t, string(w.Payload), string(e.Payload))
		assert.Equal(t, w.OccurredAt, e.OccurredAt)
	}

	after, err := s.ListEvents(ctx, event.ListOpts{AfterSeq: 1})
	require.NoError(t, err)
	require.Len(t, after, 2)
	assert.Equal(t, int64(2), after[0].Seq)

	paused, err := s.ListEvents(ctx, event.ListOpts{Type: event.TypePaused})
	require.NoError(t, err)
	require.Len(t, paused, 2)
	assert.Equal(t, int64(3), paused[1].Seq)

	limited, err := s.ListEvents(ctx, event.ListOpts{Limit: 1, AfterSeq: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, int64(2), limited[0].Seq)

	var decoded event.PauseChanged
	require.NoError(t, all[0].Decode(&decoded))
	assert.Equal(t, access.Principal("owner"), decoded.Account)
}

// testConcurrentAtomic checks that read-modify-write cycles on the state
// never lose an update.
func testConcurrentAtomic(t *testing.T, s store.Store) {
	initState(t, s)

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.Atomic(context.Background(), func(ctx context.Context, tx store.Tx) error {
				st, err := tx.LoadState(ctx)
				if err != nil {
					return err
				}
				st.EventSeq++
				st.Deposited += 10
				return tx.SaveState(ctx, st)
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	st, err := s.LoadState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(workers), st.EventSeq)
	assert.Equal(t, types.Amount(workers*10), st.Deposited)
}
