package mongo

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readconcern"
	"go.mongodb.org/mongo-driver/v2/mongo/writeconcern"

	"github.com/xraph/remittance"
	"github.com/xraph/remittance/access"
	"github.com/xraph/remittance/event"
	"github.com/xraph/remittance/payment"
	"github.com/xraph/remittance/state"
	remittancestore "github.com/xraph/remittance/store"
	"github.com/xraph/remittance/treasury"
)

// Collection name constants.
const (
	colState       = "remittance_state"
	colPayments    = "remittance_payments"
	colRoles       = "remittance_roles"
	colWithdrawals = "remittance_withdrawals"
	colEvents      = "remittance_events"
)

const (
	lockDocID       = "lock"
	maxLockAttempts = 8
	lockBackoff     = 10 * time.Millisecond
)

// compile-time interface check
var _ remittancestore.Store = (*Store)(nil)

// Store implements store.Store on MongoDB. Transactions need a replica set.
//
// Each transaction first increments a lock document. A concurrent
// transaction in another process fails that write with a transient write
// conflict before it has done anything else, and is retried after a short
// backoff. Transactions within one process are serialized by a mutex.
type Store struct {
	db  *grove.DB
	mdb *mongodriver.MongoDB

	mu sync.Mutex
}

// New creates a store on a grove handle opened with mongodriver.
func New(db *grove.DB) *Store {
	return &Store{db: db, mdb: mongodriver.Unwrap(db)}
}

// Open connects to uri and uses the named database. When database is empty
// the name is taken from the URI path.
func Open(ctx context.Context, uri, database string) (*Store, error) {
	mdb := mongodriver.New()
	var opts []mongodriver.MongoOption
	if database != "" {
		opts = append(opts, mongodriver.WithDatabase(database))
	}
	if err := mdb.Open(ctx, uri, opts...); err != nil {
		_ = mdb.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("remittance/mongo: open: %w", err)
	}
	db, err := grove.Open(mdb)
	if err != nil {
		_ = mdb.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("remittance/mongo: %w", err)
	}
	return New(db), nil
}

// DB returns the grove handle.
func (s *Store) DB() *grove.DB { return s.db }

// Database returns the underlying database for direct access.
func (s *Store) Database() *mongo.Database { return s.mdb.Database() }

// Migrate creates indexes for all remittance collections.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if _, err := s.mdb.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("%w: mongo: %s indexes: %w", remittance.ErrMigrationFailed, col, err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close disconnects the client.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) col(name string) *mongo.Collection { return s.mdb.Collection(name) }

// ==================== Reads ====================

func (s *Store) GetPayment(ctx context.Context, paymentID string) (*payment.Payment, error) {
	return getPayment(ctx, s, paymentID)
}

func (s *Store) ListPayments(ctx context.Context, opts payment.ListOpts) ([]*payment.Payment, error) {
	filter := bson.M{}
	if !opts.Sender.IsZero() {
		filter["sender"] = string(opts.Sender)
	}
	if !opts.Recipient.IsZero() {
		filter["recipient"] = string(opts.Recipient)
	}
	switch opts.Status {
	case payment.StatusClaimed:
		filter["claimed"] = true
	case payment.StatusActive:
		filter["claimed"] = false
		filter["expiration"] = bson.M{"$gt": opts.AsOf.UTC()}
	case payment.StatusExpired:
		filter["claimed"] = false
		filter["expiration"] = bson.M{"$lte": opts.AsOf.UTC()}
	}

	var models []paymentModel
	if err := s.find(ctx, colPayments, filter, byCreation, opts.Limit, opts.Offset, &models); err != nil {
		return nil, fmt.Errorf("remittance/mongo: list payments: %w", err)
	}
	result := make([]*payment.Payment, len(models))
	for i := range models {
		result[i] = fromPaymentModel(&models[i])
	}
	return result, nil
}

func (s *Store) HasRole(ctx context.Context, role access.Role, principal access.Principal) (bool, error) {
	return hasRole(ctx, s, role, principal)
}

func (s *Store) RoleMembers(ctx context.Context, role access.Role) ([]access.Principal, error) {
	var models []grantModel
	if err := s.find(ctx, colRoles, bson.M{"role": string(role)}, byCreation, 0, 0, &models); err != nil {
		return nil, fmt.Errorf("remittance/mongo: role members: %w", err)
	}
	members := make([]access.Principal, len(models))
	for i, m := range models {
		members[i] = access.Principal(m.Principal)
	}
	return members, nil
}

func (s *Store) ListWithdrawals(ctx context.Context, opts treasury.ListOpts) ([]*treasury.Withdrawal, error) {
	filter := bson.M{}
	if !opts.Owner.IsZero() {
		filter["owner"] = string(opts.Owner)
	}
	var models []withdrawalModel
	if err := s.find(ctx, colWithdrawals, filter, byCreation, opts.Limit, opts.Offset, &models); err != nil {
		return nil, fmt.Errorf("remittance/mongo: list withdrawals: %w", err)
	}
	result := make([]*treasury.Withdrawal, 0, len(models))
	for i := range models {
		w, err := fromWithdrawalModel(&models[i])
		if err != nil {
			return nil, err
		}
		result = append(result, w)
	}
	return result, nil
}

func (s *Store) ListEvents(ctx context.Context, opts event.ListOpts) ([]*event.Event, error) {
	filter := bson.M{"_id": bson.M{"$gt": opts.AfterSeq}}
	if opts.Type != "" {
		filter["type"] = string(opts.Type)
	}
	var models []eventModel
	if err := s.find(ctx, colEvents, filter, bson.D{{Key: "_id", Value: 1}}, opts.Limit, 0, &models); err != nil {
		return nil, fmt.Errorf("remittance/mongo: list events: %w", err)
	}
	result := make([]*event.Event, 0, len(models))
	for i := range models {
		e, err := fromEventModel(&models[i])
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, nil
}

func (s *Store) LoadState(ctx context.Context) (*state.State, error) {
	return loadState(ctx, s)
}

// ==================== Transactions ====================

// lockError marks a failed lock acquisition that may be retried.
type lockError struct{ err error }

func (e *lockError) Error() string { return e.err.Error() }
func (e *lockError) Unwrap() error { return e.err }

func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, tx remittancestore.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var lastErr error
	for attempt := range maxLockAttempts {
		err := s.attempt(ctx, fn)
		var le *lockError
		if !errors.As(err, &le) {
			return err
		}
		lastErr = le.err

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(lockBackoff * time.Duration(attempt+1)):
		}
	}
	return fmt.Errorf("%w: mongo lock: %w", remittance.ErrTransactionFailed, lastErr)
}

func (s *Store) attempt(ctx context.Context, fn func(ctx context.Context, tx remittancestore.Tx) error) error {
	sess, err := s.mdb.Client().StartSession()
	if err != nil {
		return fmt.Errorf("%w: mongo session: %w", remittance.ErrTransactionFailed, err)
	}
	defer sess.EndSession(context.WithoutCancel(ctx))

	txOpts := options.Transaction().
		SetReadConcern(readconcern.Snapshot()).
		SetWriteConcern(writeconcern.Majority())
	if err := sess.StartTransaction(txOpts); err != nil {
		return fmt.Errorf("%w: mongo begin: %w", remittance.ErrTransactionFailed, err)
	}
	sctx := mongo.NewSessionContext(ctx, sess)
	abort := func() {
		_ = sess.AbortTransaction(context.WithoutCancel(sctx)) //nolint:errcheck // the cause is returned instead
	}

	if err := s.lock(sctx); err != nil {
		abort()
		if isTransient(err) {
			return &lockError{err: err}
		}
		return fmt.Errorf("%w: mongo lock: %w", remittance.ErrTransactionFailed, err)
	}

	defer func() {
		if p := recover(); p != nil {
			abort()
			panic(p)
		}
	}()

	if err := fn(sctx, &tx{s: s}); err != nil {
		abort()
		return err
	}
	if err := sess.CommitTransaction(sctx); err != nil {
		return fmt.Errorf("%w: mongo commit: %w", remittance.ErrTransactionFailed, err)
	}
	return nil
}

func (s *Store) lock(ctx context.Context) error {
	_, err := s.col(colState).UpdateOne(ctx,
		bson.M{"_id": lockDocID},
		bson.M{"$inc": bson.M{"n": 1}},
		options.UpdateOne().SetUpsert(true))
	return err
}

type tx struct {
	s *Store
}

func (t *tx) LoadState(ctx context.Context) (*state.State, error) {
	return loadState(ctx, t.s)
}

func (t *tx) InitState(ctx context.Context, st *state.State) error {
	_, err := t.s.col(colState).InsertOne(ctx, toStateModel(st))
	if mongo.IsDuplicateKeyError(err) {
		return remittance.ErrStateConflict
	}
	return wrap("init state", err)
}

func (t *tx) SaveState(ctx context.Context, st *state.State) error {
	res, err := t.s.col(colState).ReplaceOne(ctx, bson.M{"_id": stateDocID}, toStateModel(st))
	if err != nil {
		return wrap("save state", err)
	}
	if res.MatchedCount == 0 {
		return remittance.ErrNotInitialized
	}
	return nil
}

func (t *tx) GetPayment(ctx context.Context, paymentID string) (*payment.Payment, error) {
	return getPayment(ctx, t.s, paymentID)
}

// InsertPayment checks for the id first: a duplicate key error aborts the
// server-side transaction.
func (t *tx) InsertPayment(ctx context.Context, p *payment.Payment) error {
	n, err := t.s.col(colPayments).CountDocuments(ctx, bson.M{"_id": p.ID})
	if err != nil {
		return wrap("insert payment", err)
	}
	if n > 0 {
		return remittance.ErrDuplicatePaymentID
	}
	_, err = t.s.col(colPayments).InsertOne(ctx, toPaymentModel(p))
	if mongo.IsDuplicateKeyError(err) {
		return remittance.ErrDuplicatePaymentID
	}
	return wrap("insert payment", err)
}

func (t *tx) MarkClaimed(ctx context.Context, paymentID string, at time.Time) error {
	at = at.UTC()
	res, err := t.s.col(colPayments).UpdateOne(ctx,
		bson.M{"_id": paymentID, "claimed": false},
		bson.M{"$set": bson.M{"claimed": true, "claimed_at": at, "updated_at": at}})
	if err != nil {
		return wrap("mark claimed", err)
	}
	if res.MatchedCount == 1 {
		return nil
	}
	if _, err := getPayment(ctx, t.s, paymentID); err != nil {
		return err
	}
	return remittance.ErrAlreadyClaimed
}

func (t *tx) HasRole(ctx context.Context, role access.Role, principal access.Principal) (bool, error) {
	return hasRole(ctx, t.s, role, principal)
}

func (t *tx) CountRole(ctx context.Context, role access.Role) (int, error) {
	n, err := t.s.col(colRoles).CountDocuments(ctx, bson.M{"role": string(role)})
	if err != nil {
		return 0, wrap("count role", err)
	}
	return int(n), nil
}

func (t *tx) GrantRole(ctx context.Context, g *access.Grant) error {
	ok, err := hasRole(ctx, t.s, g.Role, g.Principal)
	if err != nil || ok {
		return err
	}
	_, err = t.s.col(colRoles).InsertOne(ctx, toGrantModel(g))
	return wrap("grant role", err)
}

func (t *tx) RevokeRole(ctx context.Context, role access.Role, principal access.Principal) error {
	_, err := t.s.col(colRoles).DeleteOne(ctx, bson.M{"role": string(role), "principal": string(principal)})
	return wrap("revoke role", err)
}

func (t *tx) InsertWithdrawal(ctx context.Context, w *treasury.Withdrawal) error {
	_, err := t.s.col(colWithdrawals).InsertOne(ctx, toWithdrawalModel(w))
	return wrap("insert withdrawal", err)
}

func (t *tx) AppendEvent(ctx context.Context, e *event.Event) error {
	_, err := t.s.col(colEvents).InsertOne(ctx, toEventModel(e))
	return wrap("append event", err)
}

// ==================== Helpers ====================

var byCreation = bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}

func (s *Store) find(ctx context.Context, col string, filter any, sort bson.D, limit, offset int, out any) error {
	opts := options.Find().SetSort(sort)
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	if offset > 0 {
		opts.SetSkip(int64(offset))
	}
	cur, err := s.col(col).Find(ctx, filter, opts)
	if err != nil {
		return err
	}
	return cur.All(ctx, out)
}

func loadState(ctx context.Context, s *Store) (*state.State, error) {
	var m stateModel
	err := s.col(colState).FindOne(ctx, bson.M{"_id": stateDocID}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, remittance.ErrNotInitialized
		}
		return nil, wrap("load state", err)
	}
	return fromStateModel(&m), nil
}

func getPayment(ctx context.Context, s *Store, paymentID string) (*payment.Payment, error) {
	var m paymentModel
	err := s.col(colPayments).FindOne(ctx, bson.M{"_id": paymentID}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, remittance.ErrUnknownPayment
		}
		return nil, wrap("get payment", err)
	}
	return fromPaymentModel(&m), nil
}

func hasRole(ctx context.Context, s *Store, role access.Role, principal access.Principal) (bool, error) {
	n, err := s.col(colRoles).CountDocuments(ctx, bson.M{"role": string(role), "principal": string(principal)})
	if err != nil {
		return false, wrap("has role", err)
	}
	return n > 0, nil
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("remittance/mongo: %s: %w", op, err)
}

func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// labeled is implemented by driver errors that carry server error labels.
type labeled interface {
	HasErrorLabel(label string) bool
}

func isTransient(err error) bool {
	var le labeled
	return errors.As(err, &le) && le.HasErrorLabel("TransientTransactionError")
}

// migrationIndexes returns the index definitions for all remittance collections.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colPayments: {
			{Keys: bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}},
			{Keys: bson.D{{Key: "sender", Value: 1}, {Key: "created_at", Value: 1}}},
			{Keys: bson.D{{Key: "recipient", Value: 1}, {Key: "created_at", Value: 1}}},
			{Keys: bson.D{{Key: "claimed", Value: 1}, {Key: "expiration", Value: 1}}},
		},
		colRoles: {
			{
				Keys:    bson.D{{Key: "role", Value: 1}, {Key: "principal", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "role", Value: 1}, {Key: "created_at", Value: 1}}},
		},
		colWithdrawals: {
			{Keys: bson.D{{Key: "owner", Value: 1}, {Key: "created_at", Value: 1}}},
			{Keys: bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}},
		},
		colEvents: {
			{Keys: bson.D{{Key: "type", Value: 1}, {Key: "_id", Value: 1}}},
			{
				Keys:    bson.D{{Key: "event_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
	}
}
