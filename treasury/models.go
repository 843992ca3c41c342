// Package treasury records owner withdrawals of accrued fees. The balance
// itself lives on the ledger state.
package treasury

import (
	"context"

	"github.com/xraph/remittance/access"
	"github.com/xraph/remittance/id"
	"github.com/xraph/remittance/types"
)

type Withdrawal struct {
	types.Entity
	ID           id.WithdrawalID  `json:"id"`
	Owner        access.Principal `json:"owner"`
	Amount       types.Amount     `json:"amount"`
	BalanceAfter types.Amount     `json:"balance_after"`
}

type Store interface {
	ListWithdrawals(ctx context.Context, opts ListOpts) ([]*Withdrawal, error)
}

type ListOpts struct {
	Owner  access.Principal
	Limit  int
	Offset int
}
