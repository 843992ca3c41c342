package store

import (
	"context"
	"time"

	"github.com/xraph/remittance/access"
	"github.com/xraph/remittance/event"
	"github.com/xraph/remittance/payment"
	"github.com/xraph/remittance/state"
	"github.com/xraph/remittance/treasury"
)

// Store is the unified storage interface for the remittance ledger.
// Reads run outside a transaction. Every mutation goes through Atomic.
type Store interface {
	// Payment reads
	GetPayment(ctx context.Context, paymentID string) (*payment.Payment, error)
	ListPayments(ctx context.Context, opts payment.ListOpts) ([]*payment.Payment, error)

	// Access reads
	HasRole(ctx context.Context, role access.Role, principal access.Principal) (bool, error)
	RoleMembers(ctx context.Context, role access.Role) ([]access.Principal, error)

	// Treasury and event reads
	ListWithdrawals(ctx context.Context, opts treasury.ListOpts) ([]*treasury.Withdrawal, error)
	ListEvents(ctx context.Context, opts event.ListOpts) ([]*event.Event, error)

	// LoadState returns the ledger state or remittance.ErrNotInitialized.
	LoadState(ctx context.Context) (*state.State, error)

	// Atomic runs fn in one serializable transaction that locks the ledger
	// state first. If fn returns an error every write is discarded. Atomic
	// never retries fn.
	Atomic(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// The unified interface carries every domain read surface.
var (
	_ payment.Store  = Store(nil)
	_ access.Store   = Store(nil)
	_ treasury.Store = Store(nil)
	_ event.Store    = Store(nil)
)

// Tx is the write surface available inside Atomic.
type Tx interface {
	// LoadState returns the locked ledger state or remittance.ErrNotInitialized.
	LoadState(ctx context.Context) (*state.State, error)
	// InitState creates the state row. It fails if one exists.
	InitState(ctx context.Context, s *state.State) error
	SaveState(ctx context.Context, s *state.State) error

	// GetPayment returns remittance.ErrUnknownPayment when absent.
	GetPayment(ctx context.Context, paymentID string) (*payment.Payment, error)
	// InsertPayment returns remittance.ErrDuplicatePaymentID on an id clash.
	InsertPayment(ctx context.Context, p *payment.Payment) error
	// MarkClaimed flips an unclaimed payment to claimed. It returns
	// remittance.ErrAlreadyClaimed if the payment was claimed already.
	MarkClaimed(ctx context.Context, paymentID string, at time.Time) error

	HasRole(ctx context.Context, role access.Role, principal access.Principal) (bool, error)
	CountRole(ctx context.Context, role access.Role) (int, error)
	GrantRole(ctx context.Context, g *access.Grant) error
	RevokeRole(ctx context.Context, role access.Role, principal access.Principal) error

	InsertWithdrawal(ctx context.Context, w *treasury.Withdrawal) error
	AppendEvent(ctx context.Context, e *event.Event) error
}

// Ordering used by every backend: payments, withdrawals and role members
// sort by creation time, then id. Events sort by sequence number.

// Page applies offset/limit to a slice already in result order.
// A non-positive limit means no limit.
func Page[T any](items []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset > len(items) {
		offset = len(items)
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}
