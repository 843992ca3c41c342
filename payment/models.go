package payment

import (
	"time"

	"github.com/xraph/remittance/access"
	"github.com/xraph/remittance/fee"
	"github.com/xraph/remittance/types"
)

type Status string

const (
	StatusActive  Status = "active"
	StatusClaimed Status = "claimed"
	StatusExpired Status = "expired"
)

func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusClaimed, StatusExpired:
		return true
	}
	return false
}

// Payment is an escrowed transfer from Sender to Recipient. Every field except
// Claimed and ClaimedAt is fixed at creation.
type Payment struct {
	types.Entity
	ID            string           `json:"id"`
	Sender        access.Principal `json:"sender"`
	Recipient     access.Principal `json:"recipient"`
	Currency      string           `json:"currency"`
	GrossAmount   types.Amount     `json:"gross_amount"`
	NetAmount     types.Amount     `json:"net_amount"`
	FeeAmount     types.Amount     `json:"fee_amount"`
	FeePercentage fee.Percentage   `json:"fee_percentage"`
	Claimed       bool             `json:"claimed"`
	ClaimedAt     *time.Time       `json:"claimed_at,omitempty"`
	Expiration    time.Time        `json:"expiration"`
}

// ExpiredAt reports whether the claim window has closed at now. The window
// is half-open: a claim at exactly Expiration is too late.
func (p *Payment) ExpiredAt(now time.Time) bool {
	return !now.Before(p.Expiration)
}

// StatusAt derives the payment status as observed at now.
func (p *Payment) StatusAt(now time.Time) Status {
	switch {
	case p.Claimed:
		return StatusClaimed
	case p.ExpiredAt(now):
		return StatusExpired
	default:
		return StatusActive
	}
}

// Matches reports whether p passes the filters in opts, with status judged
// at opts.AsOf.
func (p *Payment) Matches(opts ListOpts) bool {
	if !opts.Sender.IsZero() && p.Sender != opts.Sender {
		return false
	}
	if !opts.Recipient.IsZero() && p.Recipient != opts.Recipient {
		return false
	}
	if opts.Status != "" && p.StatusAt(opts.AsOf) != opts.Status {
		return false
	}
	return true
}
