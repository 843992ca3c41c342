// Package plugin provides an extensible plugin system for the remittance
// ledger. Hooks run after a transaction commits and can never change its
// outcome.
package plugin

import (
	"context"

	"github.com/xraph/remittance/access"
	"github.com/xraph/remittance/event"
	"github.com/xraph/remittance/fee"
	"github.com/xraph/remittance/payment"
	"github.com/xraph/remittance/treasury"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the ledger starts. l is the *remittance.Ledger.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, l any) error
}

// OnShutdown is called when the plugin is shutting down.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Payment hooks
// ──────────────────────────────────────────────────

// OnPaymentSent is called after a payment is escrowed.
type OnPaymentSent interface {
	Plugin
	OnPaymentSent(ctx context.Context, p *payment.Payment) error
}

// OnPaymentClaimed is called after a recipient claims a payment.
type OnPaymentClaimed interface {
	Plugin
	OnPaymentClaimed(ctx context.Context, p *payment.Payment) error
}

// ──────────────────────────────────────────────────
// Administrative hooks
// ──────────────────────────────────────────────────

// OnFeePercentageChanged is called after the owner changes the fee rate.
type OnFeePercentageChanged interface {
	Plugin
	OnFeePercentageChanged(ctx context.Context, actor access.Principal, oldPct, newPct fee.Percentage) error
}

// OnPauseChanged is called after the ledger is paused or unpaused.
type OnPauseChanged interface {
	Plugin
	OnPauseChanged(ctx context.Context, actor access.Principal, paused bool) error
}

// OnWithdrawn is called after a treasury withdrawal.
type OnWithdrawn interface {
	Plugin
	OnWithdrawn(ctx context.Context, w *treasury.Withdrawal) error
}

// OnRoleGranted is called after a role is granted.
type OnRoleGranted interface {
	Plugin
	OnRoleGranted(ctx context.Context, g *access.Grant) error
}

// OnRoleRevoked is called after a role is revoked or renounced.
type OnRoleRevoked interface {
	Plugin
	OnRoleRevoked(ctx context.Context, role access.Role, principal, actor access.Principal) error
}

// ──────────────────────────────────────────────────
// Event log hooks
// ──────────────────────────────────────────────────

// OnEventCommitted is called once per committed event, in sequence order.
type OnEventCommitted interface {
	Plugin
	OnEventCommitted(ctx context.Context, e *event.Event) error
}

// OnOperationRejected is called when a mutating operation fails. op names
// the operation ("send_payment", "claim_payment", ...).
type OnOperationRejected interface {
	Plugin
	OnOperationRejected(ctx context.Context, op string, actor access.Principal, err error) error
}
