package sqlite

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/driver"
	"github.com/xraph/grove/drivers/sqlitedriver"
	_ "github.com/xraph/grove/drivers/sqlitedriver/sqlitemigrate" // registers the "sqlite" migration executor
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

// Store implements store.Store on SQLite via Grove ORM and the pure Go
// modernc driver. The pool is limited to one connection and transactions
// begin IMMEDIATE, so Atomic calls run one at a time.
type Store struct {
	db  *grove.DB
	sdb *sqlitedriver.SqliteDB
}

// New creates a new SQLite store backed by Grove ORM. Callers opening their
// own handle should use a DSN with _txlock=immediate and a pool size of
// one; Open does both.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		sdb: sqlitedriver.Unwrap(db),
	}
}

// DSN returns the connection string Open uses for path.
func DSN(path string) string {
	dsn := "file:" + path + "?_txlock=immediate" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=foreign_keys(1)"
	if path != ":memory:" {
		dsn += "&_pragma=journal_mode(WAL)"
	}
	return dsn
}

// Open opens (or creates) the database at path. Use ":memory:" for a
// private in-memory database.
func Open(ctx context.Context, path string) (*Store, error) {
	sdb := sqlitedriver.New()
	if err := sdb.Open(ctx, DSN(path), driver.WithPoolSize(1)); err != nil {
		return nil, fmt.Errorf("remittance/sqlite: open %s: %w", path, err)
	}
	db, err := grove.Open(sdb)
	if err != nil {
		_ = sdb.Close() //nolint:errcheck // the open error is what matters
		return nil, fmt.Errorf("remittance/sqlite: open %s: %w", path, err)
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
		return fmt.Errorf("%w: sqlite: %w", remittance.ErrMigrationFailed, err)
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
	executor, err := migrate.NewExecutorFor(s.sdb)
	if err != nil {
		return nil, fmt.Errorf("%w: sqlite: create executor: %w", remittance.ErrMigrationFailed, err)
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

// querier is satisfied by *sqlitedriver.SqliteDB and *sqlitedriver.SqliteTx.
type querier interface {
	NewSelect(model ...any) *sqlitedriver.SelectQuery
	NewInsert(model any) *sqlitedriver.InsertQuery
	NewUpdate(model any) *sqlitedriver.UpdateQuery
	NewDelete(model any) *sqlitedriver.DeleteQuery
}

func (s *Store) GetPayment(ctx context.Context, paymentID string) (*payment.Payment, error) {
	return getPayment(ctx, s.sdb, paymentID)
}

func (s *Store) ListPayments(ctx context.Context, opts payment.ListOpts) ([]*payment.Payment, error) {
	var models []paymentModel
	q := s.sdb.NewSelect(&models)
	if !opts.Sender.IsZero() {
		q = q.Where("sender = ?", string(opts.Sender))
	}
	if !opts.Recipient.IsZero() {
		q = q.Where("recipient = ?", string(opts.Recipient))
	}
	switch opts.Status {
	case payment.StatusClaimed:
		q = q.Where("claimed = 1")
	case payment.StatusActive:
		q = q.Where("claimed = 0 AND expiration > ?", formatTime(opts.AsOf))
	case payment.StatusExpired:
		q = q.Where("claimed = 0 AND expiration <= ?", formatTime(opts.AsOf))
	}
	q = q.OrderExpr("created_at ASC, id ASC")
	q = paginate(q, opts.Limit, opts.Offset)

	if err := q.Scan(ctx); err != nil {
		return nil, wrap("list payments", err)
	}

	result := make([]*payment.Payment, len(models))
	for i := range models {
		p, err := fromPaymentModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = p
	}
	return result, nil
}

func (s *Store) HasRole(ctx context.Context, role access.Role, principal access.Principal) (bool, error) {
	return hasRole(ctx, s.sdb, role, principal)
}

func (s *Store) RoleMembers(ctx context.Context, role access.Role) ([]access.Principal, error) {
	var models []roleModel
	err := s.sdb.NewSelect(&models).
		Where("role = ?", string(role)).
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
	q := s.sdb.NewSelect(&models)
	if !opts.Owner.IsZero() {
		q = q.Where("owner = ?", string(opts.Owner))
	}
	q = q.OrderExpr("created_at ASC, id ASC")
	q = paginate(q, opts.Limit, opts.Offset)

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
	q := s.sdb.NewSelect(&models).Where("seq > ?", opts.AfterSeq)
	if opts.Type != "" {
		q = q.Where("type = ?", string(opts.Type))
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
	return loadState(ctx, s.sdb)
}

// ==================== Transactions ====================

func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, tx remittancestore.Tx) error) error {
	sqlTx, err := s.sdb.BeginTxQuery(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: sqlite begin: %w", remittance.ErrTransactionFailed, err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback() //nolint:errcheck // re-panicking
			panic(p)
		}
	}()

	if err := fn(ctx, &tx{q: sqlTx}); err != nil {
		_ = sqlTx.Rollback() //nolint:errcheck // the fn error is what matters
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("%w: sqlite commit: %w", remittance.ErrTransactionFailed, err)
	}
	return nil
}

type tx struct {
	q querier
}

func (t *tx) LoadState(ctx context.Context) (*state.State, error) {
	return loadState(ctx, t.q)
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
	ts := formatTime(at)
	res, err := t.q.NewUpdate((*paymentModel)(nil)).
		Set("claimed = 1").
		Set("claimed_at = ?", ts).
		Set("updated_at = ?", ts).
		Where("id = ?", paymentID).
		Where("claimed = 0").
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
		Where("role = ?", string(role)).
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

func loadState(ctx context.Context, q querier) (*state.State, error) {
	m := new(stateModel)
	if err := q.NewSelect(m).Where("id = ?", stateRowID).Scan(ctx); err != nil {
		if isNoRows(err) {
			return nil, remittance.ErrNotInitialized
		}
		return nil, wrap("load state", err)
	}
	return fromStateModel(m)
}

func getPayment(ctx context.Context, q querier, paymentID string) (*payment.Payment, error) {
	m := new(paymentModel)
	if err := q.NewSelect(m).Where("id = ?", paymentID).Scan(ctx); err != nil {
		if isNoRows(err) {
			return nil, remittance.ErrUnknownPayment
		}
		return nil, wrap("get payment", err)
	}
	return fromPaymentModel(m)
}

func hasRole(ctx context.Context, q querier, role access.Role, principal access.Principal) (bool, error) {
	n, err := q.NewSelect((*roleModel)(nil)).
		Where("role = ?", string(role)).
		Where("principal = ?", string(principal)).
		Count(ctx)
	if err != nil {
		return false, wrap("has role", err)
	}
	return n > 0, nil
}

// paginate applies LIMIT and OFFSET. SQLite rejects OFFSET without LIMIT,
// so an offset alone gets an unbounded limit.
func paginate(q *sqlitedriver.SelectQuery, limit, offset int) *sqlitedriver.SelectQuery {
	if limit <= 0 && offset > 0 {
		limit = math.MaxInt
	}
	return q.Limit(limit).Offset(offset)
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("remittance/sqlite: %s: %w", op, err)
}
