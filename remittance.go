package remittance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/xraph/remittance/access"
	"github.com/xraph/remittance/clock"
	"github.com/xraph/remittance/custody"
	"github.com/xraph/remittance/event"
	"github.com/xraph/remittance/fee"
	"github.com/xraph/remittance/id"
	"github.com/xraph/remittance/payment"
	"github.com/xraph/remittance/plugin"
	"github.com/xraph/remittance/state"
	"github.com/xraph/remittance/store"
	"github.com/xraph/remittance/treasury"
	"github.com/xraph/remittance/types"
)

// Operation names passed to rejection hooks and logs.
const (
	OpSendPayment      = "send_payment"
	OpClaimPayment     = "claim_payment"
	OpSetFeePercentage = "set_fee_percentage"
	OpPause            = "pause"
	OpUnpause          = "unpause"
	OpWithdraw         = "withdraw"
	OpGrantRole        = "grant_role"
	OpRevokeRole       = "revoke_role"
	OpRenounceRole     = "renounce_role"
)

const (
	maxPaymentIDLen = 128
	maxCurrencyLen  = 16
)

// Ledger is the escrow remittance engine.
type Ledger struct {
	store      store.Store
	plugins    *plugin.Registry
	logger     *slog.Logger
	clock      clock.Clock
	transferer custody.Transferer
	owner      access.Principal

	// Configuration
	minAmount       types.Amount
	maxAmount       types.Amount
	paymentDuration time.Duration
	defaultFee      fee.Percentage

	skipMigrate bool
	configErr   error
	started     atomic.Bool
}

// New creates a new Ledger instance. Configuration errors from options are
// reported by Start.
func New(s store.Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:           s,
		plugins:         plugin.NewRegistry(),
		logger:          slog.Default(),
		clock:           clock.System,
		transferer:      custody.NewVault(),
		minAmount:       DefaultMinAmount,
		maxAmount:       DefaultMaxAmount,
		paymentDuration: DefaultPaymentDuration,
		defaultFee:      fee.Default,
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Start migrates the store and, when it holds no ledger state yet, writes
// the default state and grants OWNER_ROLE to the configured owner.
func (l *Ledger) Start(ctx context.Context) error {
	if l.configErr != nil {
		return l.configErr
	}
	if l.started.Load() {
		return ErrAlreadyStarted
	}

	if !l.skipMigrate {
		if err := l.store.Migrate(ctx); err != nil {
			return err
		}
	}

	grant, ev, err := l.bootstrap(ctx)
	if errors.Is(err, ErrStateConflict) {
		// Another process initialized the store first.
		grant, ev, err = nil, nil, nil
	}
	if err != nil {
		return err
	}

	st, err := l.store.LoadState(ctx)
	if err != nil {
		return err
	}

	l.started.Store(true)
	l.plugins.EmitInit(ctx, l)
	if ev != nil {
		l.plugins.EmitRoleGranted(ctx, grant)
		l.plugins.EmitEventCommitted(ctx, ev)
	}

	l.logger.Info("remittance ledger started",
		"initialized", ev != nil,
		"paused", st.Paused,
		"fee_percentage", st.FeePercentage,
		"min_amount", l.minAmount,
		"max_amount", l.maxAmount,
		"payment_duration", l.paymentDuration,
	)

	return nil
}

func (l *Ledger) bootstrap(ctx context.Context) (*access.Grant, *event.Event, error) {
	var (
		grant *access.Grant
		ev    *event.Event
	)
	now := l.now()

	err := l.store.Atomic(ctx, func(ctx context.Context, tx store.Tx) error {
		grant, ev = nil, nil

		_, err := tx.LoadState(ctx)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrNotInitialized) {
			return err
		}
		if l.owner.IsZero() {
			return invalid("owner", "required to initialize an empty store")
		}

		st := state.Default(l.defaultFee, now)
		g := &access.Grant{
			Entity:    types.NewEntity(now),
			ID:        id.NewGrantID(),
			Role:      access.OwnerRole,
			Principal: l.owner,
			GrantedBy: l.owner,
		}
		e, err := event.New(event.TypeRoleGranted, l.owner, string(l.owner), event.RoleChanged{
			Role:    access.OwnerRole,
			Account: l.owner,
			Sender:  l.owner,
		}, now)
		if err != nil {
			return err
		}
		st.EventSeq = 1
		e.Seq = 1

		if err := tx.InitState(ctx, st); err != nil {
			return err
		}
		if err := tx.GrantRole(ctx, g); err != nil {
			return err
		}
		if err := tx.AppendEvent(ctx, e); err != nil {
			return err
		}
		grant, ev = g, e
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return grant, ev, nil
}

// Stop shuts down the Ledger.
func (l *Ledger) Stop() error {
	l.started.Store(false)

	ctx := context.Background()
	l.plugins.EmitShutdown(ctx)

	return l.store.Close()
}

// now reads the clock at the millisecond precision every backend can store.
func (l *Ledger) now() time.Time {
	return l.clock.Now().UTC().Truncate(time.Millisecond)
}

// Store returns the underlying store.
func (l *Ledger) Store() store.Store { return l.store }

// Plugins returns the plugin registry.
func (l *Ledger) Plugins() *plugin.Registry { return l.plugins }

// ──────────────────────────────────────────────────
// Transaction plumbing
// ──────────────────────────────────────────────────

// txn is the working set of one mutating call.
type txn struct {
	tx       store.Tx
	state    *state.State
	now      time.Time
	caller   access.Principal
	events   []*event.Event
	transfer *custody.Transfer
}

func (t *txn) emit(typ event.Type, subject string, payload any) error {
	ev, err := event.New(typ, t.caller, subject, payload, t.now)
	if err != nil {
		return err
	}
	t.events = append(t.events, ev)
	return nil
}

func (t *txn) requireRole(ctx context.Context, role access.Role) error {
	ok, err := t.tx.HasRole(ctx, role, t.caller)
	if err != nil {
		return err
	}
	if !ok {
		return ErrUnauthorized
	}
	return nil
}

// mutate runs fn in one store transaction. Events fn emitted are sequenced
// and appended, the state is saved, and the pending transfer, if any, runs
// last so its failure discards everything. Calls that emit nothing leave
// the store untouched.
func (l *Ledger) mutate(ctx context.Context, op string, caller access.Principal, fn func(ctx context.Context, t *txn) error) ([]*event.Event, error) {
	if !l.started.Load() {
		l.reject(ctx, op, caller, ErrNotInitialized)
		return nil, ErrNotInitialized
	}

	now := l.now()
	var committed []*event.Event

	err := l.store.Atomic(ctx, func(ctx context.Context, tx store.Tx) error {
		committed = nil

		st, err := tx.LoadState(ctx)
		if err != nil {
			return err
		}
		t := &txn{tx: tx, state: st, now: now, caller: caller}
		if err := fn(ctx, t); err != nil {
			return err
		}
		if len(t.events) == 0 {
			return nil
		}

		for _, ev := range t.events {
			st.EventSeq++
			ev.Seq = st.EventSeq
			if err := tx.AppendEvent(ctx, ev); err != nil {
				return err
			}
		}
		st.UpdatedAt = now
		if err := tx.SaveState(ctx, st); err != nil {
			return err
		}

		if t.transfer != nil {
			if err := l.transferer.Transfer(ctx, *t.transfer); err != nil {
				return &transferError{reference: t.transfer.Reference, cause: err}
			}
		}
		committed = t.events
		return nil
	})
	if err != nil {
		l.reject(ctx, op, caller, err)
		return nil, err
	}

	l.plugins.EmitEventCommitted(ctx, committed...)
	return committed, nil
}

func (l *Ledger) reject(ctx context.Context, op string, caller access.Principal, err error) {
	level := slog.LevelDebug
	switch KindOf(err) {
	case KindAuthorization, KindResource, KindInternal:
		level = slog.LevelWarn
	}
	l.logger.Log(ctx, level, "operation rejected",
		"op", op,
		"caller", caller,
		"code", CodeOf(err),
		"error", err,
	)
	l.plugins.EmitOperationRejected(ctx, op, caller, err)
}

// ──────────────────────────────────────────────────
// Payments
// ──────────────────────────────────────────────────

// SendRequest describes a new escrowed payment. AttachedValue is the value
// the caller actually supplied and must equal Amount.
type SendRequest struct {
	Recipient     access.Principal
	PaymentID     string
	Currency      string
	Amount        types.Amount
	AttachedValue types.Amount
}

func (r SendRequest) validate(sender access.Principal) error {
	switch {
	case strings.TrimSpace(r.PaymentID) == "":
		return invalid("payment_id", "must not be empty")
	case len(r.PaymentID) > maxPaymentIDLen:
		return invalid("payment_id", fmt.Sprintf("longer than %d bytes", maxPaymentIDLen))
	case sender.IsZero():
		return invalid("sender", "must not be empty")
	case r.Recipient.IsZero():
		return invalid("recipient", "must not be empty")
	case utf8.RuneCountInString(strings.TrimSpace(r.Currency)) > maxCurrencyLen:
		return invalid("currency", fmt.Sprintf("longer than %d characters", maxCurrencyLen))
	}
	return nil
}

// SendPayment escrows req.Amount for req.Recipient under req.PaymentID. The
// fee at the current rate is credited to the treasury immediately; the net
// amount stays in custody until claimed.
func (l *Ledger) SendPayment(ctx context.Context, caller access.Principal, req SendRequest) (*payment.Payment, error) {
	var p *payment.Payment

	_, err := l.mutate(ctx, OpSendPayment, caller, func(ctx context.Context, t *txn) error {
		if t.state.Paused {
			return ErrSystemPaused
		}
		if err := req.validate(caller); err != nil {
			return err
		}
		if _, err := t.tx.GetPayment(ctx, req.PaymentID); err == nil {
			return ErrDuplicatePaymentID
		} else if !errors.Is(err, ErrUnknownPayment) {
			return err
		}
		if req.Amount < l.minAmount || req.Amount > l.maxAmount || req.AttachedValue != req.Amount {
			return ErrInvalidPaymentAmount
		}

		rate := t.state.FeePercentage
		net, cut := fee.Split(req.Amount, rate)

		deposited, ok1 := t.state.Deposited.Add(req.Amount)
		balance, ok2 := t.state.TreasuryBalance.Add(cut)
		if !ok1 || !ok2 {
			return fmt.Errorf("%w: custody totals overflow", ErrInvalidPaymentAmount)
		}

		p = &payment.Payment{
			Entity:        types.NewEntity(t.now),
			ID:            req.PaymentID,
			Sender:        caller,
			Recipient:     req.Recipient,
			Currency:      strings.TrimSpace(req.Currency),
			GrossAmount:   req.Amount,
			NetAmount:     net,
			FeeAmount:     cut,
			FeePercentage: rate,
			Expiration:    t.now.Add(l.paymentDuration),
		}
		if err := t.tx.InsertPayment(ctx, p); err != nil {
			return err
		}
		t.state.Deposited = deposited
		t.state.TreasuryBalance = balance

		return t.emit(event.TypePaymentSent, p.ID, event.PaymentSent{
			PaymentID:  p.ID,
			Sender:     p.Sender,
			Recipient:  p.Recipient,
			Currency:   p.Currency,
			Gross:      p.GrossAmount,
			Net:        p.NetAmount,
			Fee:        p.FeeAmount,
			Expiration: p.Expiration,
		})
	})
	if err != nil {
		return nil, err
	}

	l.logger.Debug("payment sent",
		"payment_id", p.ID,
		"sender", p.Sender,
		"recipient", p.Recipient,
		"gross", p.GrossAmount,
		"fee", p.FeeAmount,
	)
	l.plugins.EmitPaymentSent(ctx, p)
	return p, nil
}

// ClaimPayment releases the net amount of paymentID to its recipient. Checks
// run in a fixed order: paused, unknown, wrong caller, already claimed,
// expired.
func (l *Ledger) ClaimPayment(ctx context.Context, caller access.Principal, paymentID string) (*payment.Payment, error) {
	var p *payment.Payment

	_, err := l.mutate(ctx, OpClaimPayment, caller, func(ctx context.Context, t *txn) error {
		if t.state.Paused {
			return ErrSystemPaused
		}
		found, err := t.tx.GetPayment(ctx, paymentID)
		if err != nil {
			return err
		}
		switch {
		case caller != found.Recipient:
			return ErrUnauthorized
		case found.Claimed:
			return ErrAlreadyClaimed
		case found.ExpiredAt(t.now):
			return ErrExpired
		}

		claimed, ok := t.state.Claimed.Add(found.NetAmount)
		if !ok {
			return errors.New("remittance: claimed total overflow")
		}
		if err := t.tx.MarkClaimed(ctx, found.ID, t.now); err != nil {
			return err
		}
		t.state.Claimed = claimed

		at := t.now
		found.Claimed = true
		found.ClaimedAt = &at
		found.Touch(t.now)
		p = found

		t.transfer = &custody.Transfer{
			Reference: "claim:" + found.ID,
			To:        found.Recipient,
			Amount:    found.NetAmount,
			Currency:  found.Currency,
		}
		return t.emit(event.TypePaymentClaimed, found.ID, event.PaymentClaimed{
			PaymentID: found.ID,
			Recipient: found.Recipient,
			Net:       found.NetAmount,
		})
	})
	if err != nil {
		return nil, err
	}

	l.logger.Debug("payment claimed",
		"payment_id", p.ID,
		"recipient", p.Recipient,
		"net", p.NetAmount,
	)
	l.plugins.EmitPaymentClaimed(ctx, p)
	return p, nil
}

// GetPayment retrieves a payment by id.
func (l *Ledger) GetPayment(ctx context.Context, paymentID string) (*payment.Payment, error) {
	return l.store.GetPayment(ctx, paymentID)
}

// ListPayments lists payments. A status filter is judged at opts.AsOf,
// which defaults to now.
func (l *Ledger) ListPayments(ctx context.Context, opts payment.ListOpts) ([]*payment.Payment, error) {
	if opts.Status != "" && !opts.Status.Valid() {
		return nil, invalid("status", fmt.Sprintf("unknown status %q", opts.Status))
	}
	if opts.AsOf.IsZero() {
		opts.AsOf = l.clock.Now().UTC()
	}
	return l.store.ListPayments(ctx, opts)
}

// PaymentStatus derives the current status of a payment.
func (l *Ledger) PaymentStatus(ctx context.Context, paymentID string) (payment.Status, error) {
	p, err := l.store.GetPayment(ctx, paymentID)
	if err != nil {
		return "", err
	}
	return p.StatusAt(l.clock.Now()), nil
}

// ──────────────────────────────────────────────────
// Fees and pausing
// ──────────────────────────────────────────────────

// SetFeePercentage changes the rate applied to payments sent from now on.
func (l *Ledger) SetFeePercentage(ctx context.Context, caller access.Principal, pct fee.Percentage) error {
	var old fee.Percentage

	_, err := l.mutate(ctx, OpSetFeePercentage, caller, func(ctx context.Context, t *txn) error {
		if err := t.requireRole(ctx, access.OwnerRole); err != nil {
			return err
		}
		if !pct.Valid() {
			return ErrInvalidFeePercentage
		}
		old = t.state.FeePercentage
		t.state.FeePercentage = pct
		return t.emit(event.TypeFeePercentageChanged, "", event.FeePercentageChanged{Old: old, New: pct})
	})
	if err != nil {
		return err
	}

	l.logger.Info("fee percentage changed", "old", old, "new", pct, "by", caller)
	l.plugins.EmitFeePercentageChanged(ctx, caller, old, pct)
	return nil
}

// FeePercentage returns the current fee rate.
func (l *Ledger) FeePercentage(ctx context.Context) (fee.Percentage, error) {
	st, err := l.store.LoadState(ctx)
	if err != nil {
		return 0, err
	}
	return st.FeePercentage, nil
}

// Pause halts sends and claims.
func (l *Ledger) Pause(ctx context.Context, caller access.Principal) error {
	return l.setPaused(ctx, OpPause, caller, true)
}

// Unpause resumes sends and claims.
func (l *Ledger) Unpause(ctx context.Context, caller access.Principal) error {
	return l.setPaused(ctx, OpUnpause, caller, false)
}

func (l *Ledger) setPaused(ctx context.Context, op string, caller access.Principal, paused bool) error {
	_, err := l.mutate(ctx, op, caller, func(ctx context.Context, t *txn) error {
		if err := t.requireRole(ctx, access.OwnerRole); err != nil {
			return err
		}
		if paused && t.state.Paused {
			return ErrAlreadyPaused
		}
		if !paused && !t.state.Paused {
			return ErrNotPaused
		}
		t.state.Paused = paused

		typ := event.TypeUnpaused
		if paused {
			typ = event.TypePaused
		}
		return t.emit(typ, "", event.PauseChanged{Account: caller})
	})
	if err != nil {
		return err
	}

	l.logger.Info("pause state changed", "paused", paused, "by", caller)
	l.plugins.EmitPauseChanged(ctx, caller, paused)
	return nil
}

// Paused reports whether the ledger is paused.
func (l *Ledger) Paused(ctx context.Context) (bool, error) {
	st, err := l.store.LoadState(ctx)
	if err != nil {
		return false, err
	}
	return st.Paused, nil
}

// ──────────────────────────────────────────────────
// Treasury
// ──────────────────────────────────────────────────

// Withdraw moves amount of accrued fees to the calling owner. It works while
// the ledger is paused.
func (l *Ledger) Withdraw(ctx context.Context, caller access.Principal, amount types.Amount) (*treasury.Withdrawal, error) {
	var w *treasury.Withdrawal

	_, err := l.mutate(ctx, OpWithdraw, caller, func(ctx context.Context, t *txn) error {
		if err := t.requireRole(ctx, access.OwnerRole); err != nil {
			return err
		}
		if amount.IsNegative() {
			return invalid("amount", "must not be negative")
		}
		balance, ok := t.state.TreasuryBalance.Sub(amount)
		if !ok {
			return ErrInsufficientTreasuryBalance
		}
		withdrawn, ok := t.state.Withdrawn.Add(amount)
		if !ok {
			return errors.New("remittance: withdrawn total overflow")
		}

		w = &treasury.Withdrawal{
			Entity:       types.NewEntity(t.now),
			ID:           id.NewWithdrawalID(),
			Owner:        caller,
			Amount:       amount,
			BalanceAfter: balance,
		}
		if err := t.tx.InsertWithdrawal(ctx, w); err != nil {
			return err
		}
		t.state.TreasuryBalance = balance
		t.state.Withdrawn = withdrawn

		t.transfer = &custody.Transfer{
			Reference: "withdraw:" + w.ID.String(),
			To:        caller,
			Amount:    amount,
		}
		return t.emit(event.TypeWithdrawn, w.ID.String(), event.Withdrawn{
			WithdrawalID: w.ID,
			Owner:        caller,
			Amount:       amount,
		})
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info("treasury withdrawal",
		"withdrawal_id", w.ID.String(),
		"owner", caller,
		"amount", amount,
		"balance_after", w.BalanceAfter,
	)
	l.plugins.EmitWithdrawn(ctx, w)
	return w, nil
}

// TreasuryBalance returns the accrued, unwithdrawn fees.
func (l *Ledger) TreasuryBalance(ctx context.Context) (types.Amount, error) {
	st, err := l.store.LoadState(ctx)
	if err != nil {
		return 0, err
	}
	return st.TreasuryBalance, nil
}

// Withdrawals lists past treasury withdrawals, oldest first.
func (l *Ledger) Withdrawals(ctx context.Context, opts treasury.ListOpts) ([]*treasury.Withdrawal, error) {
	return l.store.ListWithdrawals(ctx, opts)
}

// ──────────────────────────────────────────────────
// Access control
// ──────────────────────────────────────────────────

// GrantRole gives role to principal. Granting a role the principal already
// holds is a no-op.
func (l *Ledger) GrantRole(ctx context.Context, caller access.Principal, role access.Role, principal access.Principal) error {
	var g *access.Grant

	_, err := l.mutate(ctx, OpGrantRole, caller, func(ctx context.Context, t *txn) error {
		if err := t.requireRole(ctx, access.OwnerRole); err != nil {
			return err
		}
		if err := validateMember(role, principal); err != nil {
			return err
		}
		has, err := t.tx.HasRole(ctx, role, principal)
		if err != nil || has {
			return err
		}

		g = &access.Grant{
			Entity:    types.NewEntity(t.now),
			ID:        id.NewGrantID(),
			Role:      role,
			Principal: principal,
			GrantedBy: caller,
		}
		if err := t.tx.GrantRole(ctx, g); err != nil {
			return err
		}
		return t.emit(event.TypeRoleGranted, string(principal), event.RoleChanged{
			Role:    role,
			Account: principal,
			Sender:  caller,
		})
	})
	if err != nil || g == nil {
		return err
	}

	l.logger.Info("role granted", "role", role, "principal", principal, "by", caller)
	l.plugins.EmitRoleGranted(ctx, g)
	return nil
}

// RevokeRole removes role from principal. Revoking a role the principal does
// not hold is a no-op. The last OWNER_ROLE holder cannot be removed.
func (l *Ledger) RevokeRole(ctx context.Context, caller access.Principal, role access.Role, principal access.Principal) error {
	return l.removeRole(ctx, OpRevokeRole, caller, role, principal, true)
}

// RenounceRole drops a role the caller holds.
func (l *Ledger) RenounceRole(ctx context.Context, caller access.Principal, role access.Role) error {
	return l.removeRole(ctx, OpRenounceRole, caller, role, caller, false)
}

func (l *Ledger) removeRole(ctx context.Context, op string, caller access.Principal, role access.Role, principal access.Principal, ownerOnly bool) error {
	removed := false

	_, err := l.mutate(ctx, op, caller, func(ctx context.Context, t *txn) error {
		if ownerOnly {
			if err := t.requireRole(ctx, access.OwnerRole); err != nil {
				return err
			}
		}
		if err := validateMember(role, principal); err != nil {
			return err
		}
		has, err := t.tx.HasRole(ctx, role, principal)
		if err != nil || !has {
			return err
		}
		if role == access.OwnerRole {
			n, err := t.tx.CountRole(ctx, role)
			if err != nil {
				return err
			}
			if n <= 1 {
				return ErrLastOwner
			}
		}

		if err := t.tx.RevokeRole(ctx, role, principal); err != nil {
			return err
		}
		removed = true
		return t.emit(event.TypeRoleRevoked, string(principal), event.RoleChanged{
			Role:    role,
			Account: principal,
			Sender:  caller,
		})
	})
	if err != nil || !removed {
		return err
	}

	l.logger.Info("role revoked", "role", role, "principal", principal, "by", caller)
	l.plugins.EmitRoleRevoked(ctx, role, principal, caller)
	return nil
}

func validateMember(role access.Role, principal access.Principal) error {
	if !role.Valid() {
		return invalid("role", fmt.Sprintf("malformed role %q", role))
	}
	if principal.IsZero() {
		return invalid("principal", "must not be empty")
	}
	return nil
}

// HasRole reports whether principal holds role.
func (l *Ledger) HasRole(ctx context.Context, role access.Role, principal access.Principal) (bool, error) {
	return l.store.HasRole(ctx, role, principal)
}

// RoleMembers lists the holders of role in grant order.
func (l *Ledger) RoleMembers(ctx context.Context, role access.Role) ([]access.Principal, error) {
	return l.store.RoleMembers(ctx, role)
}

// ──────────────────────────────────────────────────
// Event log
// ──────────────────────────────────────────────────

// Events returns committed events in sequence order.
func (l *Ledger) Events(ctx context.Context, opts event.ListOpts) ([]*event.Event, error) {
	return l.store.ListEvents(ctx, opts)
}
