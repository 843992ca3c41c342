// Package remittance provides an escrow-based remittance ledger for Go
// applications.
//
// A sender escrows an amount for a named recipient under a caller-chosen
// payment id. A fee at the current rate is credited to the treasury at send
// time and the net amount stays in custody until the recipient claims it.
// An unclaimed payment expires seven days after it was sent. It provides:
//
//   - Payments with integer-only fee splitting (net + fee == gross, always)
//   - Role-based access control with a protected OWNER_ROLE
//   - A global pause switch for sends and claims
//   - Treasury withdrawals for accrued fees
//   - A gap-free event log written in the same transaction as every effect
//   - Pluggable stores (memory, SQLite, PostgreSQL, MongoDB)
//   - Post-commit plugin hooks for audit trails, metrics and fan-out
//
// # Quick Start
//
//	import (
//	    "github.com/xraph/remittance"
//	    "github.com/xraph/remittance/store/postgres"
//	)
//
//	store, err := postgres.Open(ctx, databaseURL)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	l := remittance.New(store, remittance.WithOwner("treasury-admin"))
//
//	// Start migrates the store and initializes it on first use.
//	if err := l.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer l.Stop()
//
// # Payments
//
//	p, err := l.SendPayment(ctx, "alice", remittance.SendRequest{
//	    Recipient:     "bob",
//	    PaymentID:     "pay-1",
//	    Currency:      "USDC",
//	    Amount:        50_000_000,
//	    AttachedValue: 50_000_000,
//	})
//	// p.NetAmount == 49_500_000, p.FeeAmount == 500_000 at the default 1%
//
//	_, err = l.ClaimPayment(ctx, "bob", "pay-1")
//
// Every failure is a *Error with a stable code. Use errors.Is against the
// exported sentinels, or KindOf and CodeOf to classify.
//
// # Transactions
//
// Every mutating call is one store transaction that locks the ledger state
// first, so calls are totally ordered across processes. The value transfer
// of a claim or withdrawal runs last inside that transaction; when it fails
// nothing is committed.
//
// # TypeID
//
// Generated records use TypeIDs:
//
//	evt_01h2xcejqtf2nbrexx3vqjhp41    // Event ID
//	wdr_01h2xcejqtf2nbrexx3vqjhp41    // Withdrawal ID
//	grant_01h455vb4pex5vsknk084sn02q  // Role grant ID
package remittance
