// Package memory is an in-process store for tests and single-process
// deployments. Atomic holds a store-wide lock for the whole transaction and
// undoes every write if the transaction fails.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/xraph/remittance"
	"github.com/xraph/remittance/access"
	"github.com/xraph/remittance/event"
	"github.com/xraph/remittance/payment"
	"github.com/xraph/remittance/state"
	"github.com/xraph/remittance/store"
	"github.com/xraph/remittance/treasury"
)

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

type Store struct {
	mu     sync.RWMutex
	closed bool

	state *state.State

	// Payment storage, with ids in creation order
	payments map[string]*payment.Payment
	order    []string

	// Role grants in grant order
	roles map[access.Role][]*access.Grant

	withdrawals []*treasury.Withdrawal
	events      []*event.Event
}

func New() *Store {
	return &Store{
		payments: make(map[string]*payment.Payment),
		roles:    make(map[access.Role][]*access.Grant),
	}
}

// ──────────────────────────────────────────────────
// Reads
// ──────────────────────────────────────────────────

func (s *Store) GetPayment(_ context.Context, paymentID string) (*payment.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p, ok := s.payments[paymentID]; ok {
		return clonePayment(p), nil
	}
	return nil, remittance.ErrUnknownPayment
}

func (s *Store) ListPayments(_ context.Context, opts payment.ListOpts) ([]*payment.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*payment.Payment, 0)
	for _, paymentID := range s.order {
		p := s.payments[paymentID]
		if p.Matches(opts) {
			result = append(result, clonePayment(p))
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return createdBefore(result[i].CreatedAt, result[i].ID, result[j].CreatedAt, result[j].ID)
	})
	return store.Page(result, opts.Limit, opts.Offset), nil
}

func (s *Store) HasRole(_ context.Context, role access.Role, principal access.Principal) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hasRole(role, principal), nil
}

func (s *Store) RoleMembers(_ context.Context, role access.Role) ([]access.Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	grants := append([]*access.Grant(nil), s.roles[role]...)
	sort.SliceStable(grants, func(i, j int) bool {
		return createdBefore(grants[i].CreatedAt, grants[i].ID.String(), grants[j].CreatedAt, grants[j].ID.String())
	})
	members := make([]access.Principal, 0, len(grants))
	for _, g := range grants {
		members = append(members, g.Principal)
	}
	return members, nil
}

func (s *Store) ListWithdrawals(_ context.Context, opts treasury.ListOpts) ([]*treasury.Withdrawal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*treasury.Withdrawal, 0)
	for _, w := range s.withdrawals {
		if opts.Owner.IsZero() || w.Owner == opts.Owner {
			c := *w
			result = append(result, &c)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return createdBefore(result[i].CreatedAt, result[i].ID.String(), result[j].CreatedAt, result[j].ID.String())
	})
	return store.Page(result, opts.Limit, opts.Offset), nil
}

func (s *Store) ListEvents(_ context.Context, opts event.ListOpts) ([]*event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*event.Event, 0)
	for _, e := range s.events {
		if !e.Matches(opts) {
			continue
		}
		c := *e
		result = append(result, &c)
		if opts.Limit > 0 && len(result) == opts.Limit {
			break
		}
	}
	return result, nil
}

func (s *Store) LoadState(_ context.Context) (*state.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.state == nil {
		return nil, remittance.ErrNotInitialized
	}
	return s.state.Clone(), nil
}

// ──────────────────────────────────────────────────
// Transactions
// ──────────────────────────────────────────────────

func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return remittance.ErrStoreClosed
	}

	t := &tx{s: s}
	defer func() {
		if r := recover(); r != nil {
			t.rollback()
			panic(r)
		}
		if err != nil {
			t.rollback()
		}
	}()

	return fn(ctx, t)
}

// tx applies writes directly to the store and journals how to undo them.
type tx struct {
	s    *Store
	undo []func()
}

func (t *tx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *tx) LoadState(_ context.Context) (*state.State, error) {
	if t.s.state == nil {
		return nil, remittance.ErrNotInitialized
	}
	return t.s.state.Clone(), nil
}

func (t *tx) InitState(_ context.Context, st *state.State) error {
	if t.s.state != nil {
		return remittance.ErrStateConflict
	}
	t.s.state = st.Clone()
	t.undo = append(t.undo, func() { t.s.state = nil })
	return nil
}

func (t *tx) SaveState(_ context.Context, st *state.State) error {
	if t.s.state == nil {
		return remittance.ErrNotInitialized
	}
	prev := t.s.state
	t.s.state = st.Clone()
	t.undo = append(t.undo, func() { t.s.state = prev })
	return nil
}

func (t *tx) GetPayment(_ context.Context, paymentID string) (*payment.Payment, error) {
	if p, ok := t.s.payments[paymentID]; ok {
		return clonePayment(p), nil
	}
	return nil, remittance.ErrUnknownPayment
}

func (t *tx) InsertPayment(_ context.Context, p *payment.Payment) error {
	if _, exists := t.s.payments[p.ID]; exists {
		return remittance.ErrDuplicatePaymentID
	}
	t.s.payments[p.ID] = clonePayment(p)
	t.s.order = append(t.s.order, p.ID)
	t.undo = append(t.undo, func() {
		delete(t.s.payments, p.ID)
		t.s.order = t.s.order[:len(t.s.order)-1]
	})
	return nil
}

func (t *tx) MarkClaimed(_ context.Context, paymentID string, at time.Time) error {
	p, ok := t.s.payments[paymentID]
	if !ok {
		return remittance.ErrUnknownPayment
	}
	if p.Claimed {
		return remittance.ErrAlreadyClaimed
	}
	prev := clonePayment(p)
	at = at.UTC()
	p.Claimed = true
	p.ClaimedAt = &at
	p.Touch(at)
	t.undo = append(t.undo, func() { t.s.payments[paymentID] = prev })
	return nil
}

func (t *tx) HasRole(_ context.Context, role access.Role, principal access.Principal) (bool, error) {
	return t.s.hasRole(role, principal), nil
}

func (t *tx) CountRole(_ context.Context, role access.Role) (int, error) {
	return len(t.s.roles[role]), nil
}

func (t *tx) GrantRole(_ context.Context, g *access.Grant) error {
	if t.s.hasRole(g.Role, g.Principal) {
		return nil
	}
	prev := t.s.roles[g.Role]
	c := *g
	t.s.roles[g.Role] = append(append([]*access.Grant(nil), prev...), &c)
	t.undo = append(t.undo, func() { t.s.roles[g.Role] = prev })
	return nil
}

func (t *tx) RevokeRole(_ context.Context, role access.Role, principal access.Principal) error {
	prev := t.s.roles[role]
	kept := make([]*access.Grant, 0, len(prev))
	for _, g := range prev {
		if g.Principal != principal {
			kept = append(kept, g)
		}
	}
	t.s.roles[role] = kept
	t.undo = append(t.undo, func() { t.s.roles[role] = prev })
	return nil
}

func (t *tx) InsertWithdrawal(_ context.Context, w *treasury.Withdrawal) error {
	c := *w
	t.s.withdrawals = append(t.s.withdrawals, &c)
	t.undo = append(t.undo, func() {
		t.s.withdrawals = t.s.withdrawals[:len(t.s.withdrawals)-1]
	})
	return nil
}

func (t *tx) AppendEvent(_ context.Context, e *event.Event) error {
	if want := int64(len(t.s.events)) + 1; e.Seq != want {
		return fmt.Errorf("memory: event seq %d out of order, want %d", e.Seq, want)
	}
	c := *e
	t.s.events = append(t.s.events, &c)
	t.undo = append(t.undo, func() {
		t.s.events = t.s.events[:len(t.s.events)-1]
	})
	return nil
}

// ──────────────────────────────────────────────────
// Core
// ──────────────────────────────────────────────────

func (s *Store) Migrate(_ context.Context) error {
	return nil
}

func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return remittance.ErrStoreClosed
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func (s *Store) hasRole(role access.Role, principal access.Principal) bool {
	for _, g := range s.roles[role] {
		if g.Principal == principal {
			return true
		}
	}
	return false
}

func createdBefore(a time.Time, aID string, b time.Time, bID string) bool {
	if !a.Equal(b) {
		return a.Before(b)
	}
	return aID < bID
}

func clonePayment(p *payment.Payment) *payment.Payment {
	c := *p
	if p.ClaimedAt != nil {
		at := *p.ClaimedAt
		c.ClaimedAt = &at
	}
	return &c
}
