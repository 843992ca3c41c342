// Package custody is the seam between the ledger and whatever actually moves
// value. The ledger calls a Transferer as the last step of a claim or a
// withdrawal, inside the transaction, so a failed transfer rolls the whole
// operation back.
package custody

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/xraph/remittance/access"
	"github.com/xraph/remittance/types"
)

// Transfer moves Amount out of custody to To. Reference is deterministic
// for a given operation ("claim:<payment id>", "withdraw:<withdrawal id>")
// so a substrate can drop a retried duplicate.
type Transfer struct {
	Reference string           `json:"reference"`
	To        access.Principal `json:"to"`
	Amount    types.Amount     `json:"amount"`
	Currency  string           `json:"currency,omitempty"`
}

// Validate checks the transfer is well formed.
func (t Transfer) Validate() error {
	switch {
	case t.Reference == "":
		return errors.New("custody: empty reference")
	case t.To.IsZero():
		return errors.New("custody: empty destination")
	case t.Amount.IsNegative():
		return fmt.Errorf("custody: negative amount %d", t.Amount)
	}
	return nil
}

type Transferer interface {
	Transfer(ctx context.Context, t Transfer) error
}

// TransfererFunc adapts a function to Transferer.
type TransfererFunc func(ctx context.Context, t Transfer) error

func (f TransfererFunc) Transfer(ctx context.Context, t Transfer) error { return f(ctx, t) }

// Vault is an in-process Transferer that keeps per-principal balances of
// everything paid out. Transfers are idempotent by reference. It backs the
// memory store in tests and single-process deployments.
type Vault struct {
	mu       sync.Mutex
	balances map[access.Principal]types.Amount
	seen     map[string]struct{}
	log      []Transfer
	fail     func(Transfer) error
}

func NewVault() *Vault {
	return &Vault{
		balances: make(map[access.Principal]types.Amount),
		seen:     make(map[string]struct{}),
	}
}

// FailWith installs a function consulted before every transfer. A non-nil
// result aborts the transfer with that error. Pass nil to clear it.
func (v *Vault) FailWith(fn func(Transfer) error) {
	v.mu.Lock()
	v.fail = fn
	v.mu.Unlock()
}

func (v *Vault) Transfer(ctx context.Context, t Transfer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := t.Validate(); err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.fail != nil {
		if err := v.fail(t); err != nil {
			return err
		}
	}
	if _, dup := v.seen[t.Reference]; dup {
		return nil
	}

	bal, ok := v.balances[t.To].Add(t.Amount)
	if !ok {
		return fmt.Errorf("custody: balance overflow for %s", t.To)
	}
	v.balances[t.To] = bal
	v.seen[t.Reference] = struct{}{}
	v.log = append(v.log, t)
	return nil
}

// BalanceOf returns the total paid out to p.
func (v *Vault) BalanceOf(p access.Principal) types.Amount {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.balances[p]
}

// Transfers returns the applied transfers in order.
func (v *Vault) Transfers() []Transfer {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]Transfer, len(v.log))
	copy(out, v.log)
	return out
}
