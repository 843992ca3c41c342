// Package event defines the ledger's append-only event log. Each committed
// mutation writes its events in the same transaction as the effect, with a
// gap-free ledger-wide sequence number.
package event

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/remittance/access"
	"github.com/xraph/remittance/fee"
	"github.com/xraph/remittance/id"
	"github.com/xraph/remittance/types"
)

type Type string

const (
	TypePaymentSent          Type = "payment.sent"
	TypePaymentClaimed       Type = "payment.claimed"
	TypeFeePercentageChanged Type = "fee.changed"
	TypePaused               Type = "ledger.paused"
	TypeUnpaused             Type = "ledger.unpaused"
	TypeWithdrawn            Type = "treasury.withdrawn"
	TypeRoleGranted          Type = "role.granted"
	TypeRoleRevoked          Type = "role.revoked"
)

// Types lists every event type in a stable order.
var Types = []Type{
	TypePaymentSent,
	TypePaymentClaimed,
	TypeFeePercentageChanged,
	TypePaused,
	TypeUnpaused,
	TypeWithdrawn,
	TypeRoleGranted,
	TypeRoleRevoked,
}

type Event struct {
	ID         id.EventID       `json:"id"`
	Seq        int64            `json:"seq"`
	Type       Type             `json:"type"`
	Actor      access.Principal `json:"actor"`
	Subject    string           `json:"subject,omitempty"`
	Payload    json.RawMessage  `json:"payload"`
	OccurredAt time.Time        `json:"occurred_at"`
}

// New builds an unsequenced event. Seq is assigned when the event is
// appended to the log.
func New(typ Type, actor access.Principal, subject string, payload any, now time.Time) (*Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("event: marshal %s payload: %w", typ, err)
	}
	return &Event{
		ID:         id.NewEventID(),
		Type:       typ,
		Actor:      actor,
		Subject:    subject,
		Payload:    raw,
		OccurredAt: now.UTC(),
	}, nil
}

// Decode unmarshals the payload into v.
func (e *Event) Decode(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("event: decode %s payload: %w", e.Type, err)
	}
	return nil
}

// ──────────────────────────────────────────────────
// Payloads
// ──────────────────────────────────────────────────

type PaymentSent struct {
	PaymentID  string           `json:"payment_id"`
	Sender     access.Principal `json:"sender"`
	Recipient  access.Principal `json:"recipient"`
	Currency   string           `json:"currency"`
	Gross      types.Amount     `json:"gross_amount"`
	Net        types.Amount     `json:"net_amount"`
	Fee        types.Amount     `json:"fee_amount"`
	Expiration time.Time        `json:"expiration"`
}

type PaymentClaimed struct {
	PaymentID string           `json:"payment_id"`
	Recipient access.Principal `json:"recipient"`
	Net       types.Amount     `json:"net_amount"`
}

type FeePercentageChanged struct {
	Old fee.Percentage `json:"old"`
	New fee.Percentage `json:"new"`
}

// PauseChanged is the payload of both Paused and Unpaused.
type PauseChanged struct {
	Account access.Principal `json:"account"`
}

type Withdrawn struct {
	WithdrawalID id.WithdrawalID  `json:"withdrawal_id"`
	Owner        access.Principal `json:"owner"`
	Amount       types.Amount     `json:"amount"`
}

// RoleChanged is the payload of both RoleGranted and RoleRevoked.
type RoleChanged struct {
	Role    access.Role      `json:"role"`
	Account access.Principal `json:"account"`
	Sender  access.Principal `json:"sender"`
}

// ──────────────────────────────────────────────────
// Store
// ──────────────────────────────────────────────────

type Store interface {
	ListEvents(ctx context.Context, opts ListOpts) ([]*Event, error)
}

// ListOpts selects events with Seq greater than AfterSeq, in sequence order.
// A zero Limit means no limit.
type ListOpts struct {
	AfterSeq int64
	Type     Type
	Limit    int
}

// Matches reports whether e passes the filters in opts.
func (e *Event) Matches(opts ListOpts) bool {
	if e.Seq <= opts.AfterSeq {
		return false
	}
	return opts.Type == "" || e.Type == opts.Type
}
