// Package state holds the ledger's singleton aggregate: the pause flag, the
// current fee rate, the treasury balance and the running custody totals.
// Every mutating operation loads and saves it inside one transaction, which
// totally orders mutations.
package state

import (
	"time"

	"github.com/xraph/remittance/fee"
	"github.com/xraph/remittance/types"
)

type State struct {
	Paused          bool           `json:"paused"`
	FeePercentage   fee.Percentage `json:"fee_percentage"`
	TreasuryBalance types.Amount   `json:"treasury_balance"`

	// Deposited is the sum of gross amounts ever sent. Claimed and Withdrawn
	// are the sums paid out to recipients and owners.
	Deposited types.Amount `json:"deposited"`
	Claimed   types.Amount `json:"claimed"`
	Withdrawn types.Amount `json:"withdrawn"`

	// EventSeq is the sequence number of the last appended event.
	EventSeq  int64     `json:"event_seq"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Default returns the state of a freshly initialized ledger.
func Default(rate fee.Percentage, now time.Time) *State {
	return &State{
		FeePercentage: rate,
		UpdatedAt:     now.UTC(),
	}
}

// Custody is the amount the ledger still holds: unclaimed escrow plus the
// treasury balance.
func (s *State) Custody() types.Amount {
	return s.Deposited - s.Claimed - s.Withdrawn
}

func (s *State) Clone() *State {
	c := *s
	return &c
}
