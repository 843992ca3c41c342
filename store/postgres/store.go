package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/driver"
	"github.com/xraph/grove/drivers/pgdriver"
	_ "github.com/xraph/grove/drivers/pgdriver/pgmigrate" // registers the "pg" migration executor
	"github.com/xraph/grove/migrate"

	"github.com/xraph/remittance"
	"github.com/xraph/remittance/access"
	"github.com/xraph/remittance/event"
	"github.com/xraph/remittance/payment"
	"github.com/xraph/remittance/state"
	remittancestore "github.com/xraph/remittance/store"
	"github.com/xraph/remittance/treasury"
)

// compile-time interface check
var _ remittancestore.Store = (*Store)(nil)

// Store implements store.Store on PostgreSQL via Grove ORM. Every
// transaction locks the single state row with SELECT ... FOR UPDATE before
// anything else, so mutations execute one at a time across all processes
// sharing the database. Read committed isolation is enough once that lock
// is held.
type Store struct {
	db *grove.DB
	pg *pgdriver.PgDB
}

// New creates a new PostgreSQL store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db: db,
		pg: pgdriver.Unwrap(db),
	}
}

// Open connects to the database at dsn.
func Open(ctx context.Context, dsn string, opts ...driver.Option) (*Store, error) {
	pg := pgdriver.New()
	if err := pg.Open(ctx, dsn, opts...); err != nil {
		return nil, fmt.Errorf("remittance/postgres: connect: %w", err)
	}
	db, err := grove.Open(pg)
	if err != nil {
		_ = pg.Close() //nolint:errcheck // the open error is what matters
		return nil, fmt.Errorf("remittance/postgres: open: %w", err)
	}
	return New(db), nil
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	orch, err := s.orchestrator()
	if err != nil {
		return err
	}
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("%w: postgres: %w", remittance.ErrMigrationFailed, err)
	}
	return nil
}

// MigrationStatus reports applied and pending migrations.
func (s *Store) MigrationStatus(ctx context.Context) ([]*migrate.GroupStatus, error) {
	orch, err := s.orchestrator()
	if err != nil {
		return nil, err
	}
	return orch.Status(ctx)
}

func (s *Store) orchestrator() (*migrate.Orchestrator, error) {
	executor, err := migrate.NewExecutorFor(s.pg)
	if err != nil {
		return nil, fmt.Errorf("%w: postgres: create executor: %w", remittance.ErrMigrationFailed, err)
	}
	return migrate.NewOrchestrator(executor, Migrations), nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Reads ====================

// querier is satisfied by *pgdriver.PgDB and *pgdriver.PgTx.
type querier interface {
	NewSelect(model ...any) *pgdriver.SelectQuery
	NewInsert(model any) *pgdriver.InsertQuery
	NewUpdate(model any) *pgdriver.UpdateQuery
	NewDelete(model any) *pgdriver.DeleteQuery
}

func (s *Store) GetPayment(ctx context.Context, paymentID string) (*payment.Payment, error) {
	return getPayment(ctx, s.pg, paymentID)
}

func (s *Store) ListPayments(ctx context.Context, opts payment.ListOpts) ([]*payment.Payment, error) {
	var models []paymentModel
	q := s.pg.NewSelect(&models)

	argIdx := 0
	if !opts.Sender.IsZero() {
		argIdx++
		q = q.Where(fmt.Sprintf("sender = $%d", argIdx), string(opts.Sender))
	}
	if !opts.Recipient.IsZero() {
		argIdx++
		q = q.Where(fmt.Sprintf("recipient = $%d", argIdx), string(opts.Recipient))
	}
	switch opts.Status {
	case payment.StatusClaimed:
		q = q.Where("claimed")
	case payment.StatusActive:
		argIdx++
		q = q.Where(fmt.Sprintf("NOT claimed AND expiration > $%d", argIdx), opts.AsOf.UTC())
	case payment.StatusExpired:
		argIdx++
		q = q.Where(fmt.Sprintf("NOT claimed AND expiration <= $%d", argIdx), opts.AsOf.UTC())
	}
	q = q.OrderExpr("created_at ASC, id ASC").Limit(opts.Limit).Offset(opts.Offset)

	if err := q.Scan(ctx); err != nil {
		return nil, wrap("list payments", err)
	}

	result := make([]*payment.Payment, len(models))
	for i := range models {
		result[i] = fromPaymentModel(&models[i])
	}
	return result, nil
}

func (s *Store) HasRole(ctx context.Context, role access.Role, principal access.Principal) (bool, error) {
	return hasRole(ctx, s.pg, role, principal)
}

func (s *Store) RoleMembers(ctx context.Context, role access.Role) ([]access.Principal, error) {
	var models []roleModel
	err := s.pg.NewSelect(&models).
		Where("role = $1", string(role)).
		OrderExpr("created_at ASC, id ASC").
		Scan(ctx)
	if err != nil {
		return nil, wrap("role members", err)
	}

	members := make([]access.Principal, len(models))
	for i := range models {
		members[i] = access.Principal(models[i].Principal)
	}
	return members, nil
}

func (s *Store) ListWithdrawals(ctx context.Context, opts treasury.ListOpts) ([]*treasury.Withdrawal, error) {
	var models []withdrawalModel
	q := s.pg.NewSelect(&models)
	if !opts.Owner.IsZero() {
		q = q.Where("owner = $1", string(opts.Owner))
	}
	q = q.OrderExpr("created_at ASC, id ASC").Limit(opts.Limit).Offset(opts.Offset)

	if err := q.Scan(ctx); err != nil {
		return nil, wrap("list withdrawals", err)
	}

	result := make([]*treasury.Withdrawal, len(models))
	for i := range models {
		w, err := fromWithdrawalModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = w
	}
	return result, nil
}

func (s *Store) ListEvents(ctx context.Context, opts event.ListOpts) ([]*event.Event, error) {
	var models []eventModel
	q := s.pg.NewSelect(&models).Where("seq > $1", opts.AfterSeq)
	if opts.Type != "" {
		q = q.Where("type = $2", string(opts.Type))
	}
	q = q.OrderExpr("seq ASC").Limit(opts.Limit)

	if err := q.Scan(ctx); err != nil {
		return nil, wrap("list events", err)
	}

	result := make([]*event.Event, len(models))
	for i := range models {
		e, err := fromEventModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = e
	}
	return result, nil
}

func (s *Store) LoadState(ctx context.Context) (*state.State, error) {
	return loadState(ctx, s.pg, false)
}

// ==================== Transactions ====================

func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, tx remittancestore.Tx) error) error {
	pgTx, err := s.pg.BeginTxQuery(ctx, &driver.TxOptions{IsolationLevel: driver.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("%w: postgres begin: %w", remittance.ErrTransactionFailed, err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = pgTx.Rollback() //nolint:errcheck // re-panicking
			panic(p)
		}
	}()

	if err := fn(ctx, &tx{q: pgTx}); err != nil {
		_ = pgTx.Rollback() //nolint:errcheck // the fn error is what matters
		if isConflict(err) {
			return fmt.Errorf("%w: %w", remittance.ErrTransactionFailed, err)
		}
		return err
	}
	if err := pgTx.Commit(); err != nil {
		return fmt.Errorf("%w: postgres commit: %w", remittance.ErrTransactionFailed, err)
	}
	return nil
}

type tx struct {
	q querier
}

// LoadState locks the state row for the rest of the transaction.
func (t *tx) LoadState(ctx context.Context) (*state.State, error) {
	return loadState(ctx, t.q, true)
}

func (t *tx) InitState(ctx context.Context, st *state.State) error {
	_, err := t.q.NewInsert(toStateModel(st)).Exec(ctx)
	if isUniqueViolation(err) {
		return remittance.ErrStateConflict
	}
	return wrap("init state", err)
}

func (t *tx) SaveState(ctx context.Context, st *state.State) error {
	res, err := t.q.NewUpdate(toStateModel(st)).WherePK().Exec(ctx)
	if err != nil {
		return wrap("save state", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrap("save state", err)
	}
	if n == 0 {
		return remittance.ErrNotInitialized
	}
	return nil
}

func (t *tx) GetPayment(ctx context.Context, paymentID string) (*payment.Payment, error) {
	return getPayment(ctx, t.q, paymentID)
}

func (t *tx) InsertPayment(ctx context.Context, p *payment.Payment) error {
	_, err := t.q.NewInsert(toPaymentModel(p)).Exec(ctx)
	if isUniqueViolation(err) {
		return remittance.ErrDuplicatePaymentID
	}
	return wrap("insert payment", err)
}

func (t *tx) MarkClaimed(ctx context.Context, paymentID string, at time.Time) error {
	at = at.UTC()
	res, err := t.q.NewUpdate((*paymentModel)(nil)).
		Set("claimed = TRUE").
		Set("claimed_at = ?", at).
		Set("updated_at = ?", at).
		Where("id = ?", paymentID).
		Where("NOT claimed").
		Exec(ctx)
	if err != nil {
		return wrap("mark claimed", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrap("mark claimed", err)
	}
	if n == 1 {
		return nil
	}
	if _, err := getPayment(ctx, t.q, paymentID); err != nil {
		return err
	}
	return remittance.ErrAlreadyClaimed
}

func (t *tx) HasRole(ctx context.Context, role access.Role, principal access.Principal) (bool, error) {
	return hasRole(ctx, t.q, role, principal)
}

func (t *tx) CountRole(ctx context.Context, role access.Role) (int, error) {
	n, err := t.q.NewSelect((*roleModel)(nil)).
		Where("role = $1", string(role)).
		Count(ctx)
	return int(n), wrap("count role", err)
}

func (t *tx) GrantRole(ctx context.Context, g *access.Grant) error {
	_, err := t.q.NewInsert(toRoleModel(g)).
		OnConflict("(role, principal) DO NOTHING").
		Exec(ctx)
	return wrap("grant role", err)
}

func (t *tx) RevokeRole(ctx context.Context, role access.Role, principal access.Principal) error {
	_, err := t.q.NewDelete((*roleModel)(nil)).
		Where("role = ?", string(role)).
		Where("principal = ?", string(principal)).
		Exec(ctx)
	return wrap("revoke role", err)
}

func (t *tx) InsertWithdrawal(ctx context.Context, w *treasury.Withdrawal) error {
	_, err := t.q.NewInsert(toWithdrawalModel(w)).Exec(ctx)
	return wrap("insert withdrawal", err)
}

func (t *tx) AppendEvent(ctx context.Context, e *event.Event) error {
	_, err := t.q.NewInsert(toEventModel(e)).Exec(ctx)
	return wrap("append event", err)
}

// ==================== Shared queries ====================

func loadState(ctx context.Context, q querier, lock bool) (*state.State, error) {
	m := new(stateModel)
	sel := q.NewSelect(m).Where("id = $1", stateRowID)
	if lock {
		sel = sel.ForUpdate()
	}
	if err := sel.Scan(ctx); err != nil {
		if isNoRows(err) {
			return nil, remittance.ErrNotInitialized
		}
		return nil, wrap("load state", err)
	}
	return fromStateModel(m), nil
}

func getPayment(ctx context.Context, q querier, paymentID string) (*payment.Payment, error) {
	m := new(paymentModel)
	err := q.NewSelect(m).
		Where("id = $1", paymentID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, remittance.ErrUnknownPayment
		}
		return nil, wrap("get payment", err)
	}
	return fromPaymentModel(m), nil
}

func hasRole(ctx context.Context, q querier, role access.Role, principal access.Principal) (bool, error) {
	n, err := q.NewSelect((*roleModel)(nil)).
		Where("role = $1", string(role)).
		Where("principal = $2", string(principal)).
		Count(ctx)
	if err != nil {
		return false, wrap("has role", err)
	}
	return n > 0, nil
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("remittance/postgres: %s: %w", op, err)
}
