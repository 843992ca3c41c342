package remittance

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/remittance/payment"
	"github.com/xraph/remittance/treasury"
	"github.com/xraph/remittance/types"
)

// Report is the result of a conservation check. Every unit ever deposited
// must be accounted for as claimed, escrowed, held by the treasury or
// withdrawn.
type Report struct {
	AsOf time.Time `json:"as_of"`

	Deposited       types.Amount `json:"deposited"`
	Claimed         types.Amount `json:"claimed"`
	Escrowed        types.Amount `json:"escrowed"`
	TreasuryBalance types.Amount `json:"treasury_balance"`
	Withdrawn       types.Amount `json:"withdrawn"`

	// Stranded is the part of Escrowed held by expired, unclaimed payments.
	// Nothing can release it.
	Stranded types.Amount `json:"stranded"`

	Payments  int `json:"payments"`
	Unclaimed int `json:"unclaimed"`

	Discrepancies []string `json:"discrepancies,omitempty"`
}

// Balanced reports whether the check found no discrepancies.
func (r *Report) Balanced() bool { return len(r.Discrepancies) == 0 }

// Reconcile recomputes custody totals from payment and withdrawal records
// and compares them with the running totals on the ledger state. It reads
// outside a transaction, so writes in flight can show up as transient
// discrepancies.
func (l *Ledger) Reconcile(ctx context.Context) (*Report, error) {
	st, err := l.store.LoadState(ctx)
	if err != nil {
		return nil, err
	}
	payments, err := l.store.ListPayments(ctx, payment.ListOpts{})
	if err != nil {
		return nil, err
	}
	withdrawals, err := l.store.ListWithdrawals(ctx, treasury.ListOpts{})
	if err != nil {
		return nil, err
	}

	now := l.clock.Now().UTC()
	r := &Report{
		AsOf:            now,
		Deposited:       st.Deposited,
		Claimed:         st.Claimed,
		TreasuryBalance: st.TreasuryBalance,
		Withdrawn:       st.Withdrawn,
		Payments:        len(payments),
	}

	var gross, claimed, fees, withdrawn types.Amount
	for _, p := range payments {
		gross += p.GrossAmount
		fees += p.FeeAmount
		if p.NetAmount+p.FeeAmount != p.GrossAmount {
			r.Discrepancies = append(r.Discrepancies,
				fmt.Sprintf("payment %s: net %d + fee %d != gross %d", p.ID, p.NetAmount, p.FeeAmount, p.GrossAmount))
		}
		if p.Claimed {
			claimed += p.NetAmount
			continue
		}
		r.Unclaimed++
		r.Escrowed += p.NetAmount
		if p.ExpiredAt(now) {
			r.Stranded += p.NetAmount
		}
	}
	for _, w := range withdrawals {
		withdrawn += w.Amount
	}

	check := func(name string, want, got types.Amount) {
		if want != got {
			r.Discrepancies = append(r.Discrepancies, fmt.Sprintf("%s: state %d, records %d", name, want, got))
		}
	}
	check("deposited", st.Deposited, gross)
	check("claimed", st.Claimed, claimed)
	check("withdrawn", st.Withdrawn, withdrawn)
	check("fees", st.TreasuryBalance+st.Withdrawn, fees)
	check("custody", st.Deposited, st.Claimed+r.Escrowed+st.TreasuryBalance+st.Withdrawn)

	if !r.Balanced() {
		l.logger.Warn("reconciliation found discrepancies", "count", len(r.Discrepancies))
	}
	return r, nil
}
