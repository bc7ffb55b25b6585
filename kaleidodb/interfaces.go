package kaleidodb

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lightninglabs/kaleido/kaleidodb/sqlc"
)

var (
	// DefaultStoreTimeout is the default timeout used for any interaction
	// with the storage/database.
	DefaultStoreTimeout = time.Second * 10

	// DefaultNumTxRetries is how often a transaction is attempted before
	// giving up on serialization failures.
	DefaultNumTxRetries = 10

	// retryDelay is the time waited between transaction attempts.
	retryDelay = 50 * time.Millisecond
)

// TxOptions represents a set of options one can use to control what type of
// database transaction is created.
type TxOptions interface {
	// ReadOnly returns true if the transaction should be read only.
	ReadOnly() bool
}

// BatchedTx is a generic interface that represents the ability to execute
// several operations to a given storage interface in a single atomic
// transaction. Q is usually the subset of sqlc.Querier a store needs.
type BatchedTx[Q any] interface {
	// ExecTx will execute the passed txBody, operating upon generic
	// parameter Q (usually a storage interface) in a single transaction.
	ExecTx(ctx context.Context, txOptions TxOptions,
		txBody func(Q) error) error
}

// Tx represents a database transaction that can be committed or rolled back.
type Tx interface {
	// Commit commits the database transaction, an error should be
	// returned if the commit isn't possible.
	Commit() error

	// Rollback rolls back an incomplete database transaction.
	// Transactions that were able to be committed can still call this as a
	// noop.
	Rollback() error
}

// QueryCreator is a generic function that's used to create a Querier, which
// is a type of interface that implements storage related methods from a
// database transaction.
type QueryCreator[Q any] func(Tx) Q

// BatchedQuerier is a generic interface that allows callers to create a new
// database transaction based on an abstract type that implements the TxOptions
// interface.
type BatchedQuerier interface {
	// Querier is the underlying query source, this is in place so we can
	// pass a BatchedQuerier implementation directly into objects that
	// create a batched version of the normal methods they need.
	sqlc.Querier

	// BeginTx creates a new database transaction given the set of
	// transaction options.
	BeginTx(ctx context.Context, options TxOptions) (Tx, error)
}

// TransactionExecutor is a generic struct that abstracts away from the type
// of query a type needs to run under a database transaction. The
// QueryCreator is used to create a query given a database transaction
// created by the BatchedQuerier.
type TransactionExecutor[Query any] struct {
	BatchedQuerier

	createQuery QueryCreator[Query]

	numRetries int
}

// NewTransactionExecutor creates a new instance of a TransactionExecutor
// given a Querier query object and a concrete type for the type of
// transactions the Querier understands.
func NewTransactionExecutor[Querier any](db BatchedQuerier,
	createQuery QueryCreator[Querier]) *TransactionExecutor[Querier] {

	return &TransactionExecutor[Querier]{
		BatchedQuerier: db,
		createQuery:    createQuery,
		numRetries:     DefaultNumTxRetries,
	}
}

// ExecTx runs txBody in a single database transaction, which is retried if
// the backend reports a serialization failure.
func (t *TransactionExecutor[Q]) ExecTx(ctx context.Context,
	txOptions TxOptions, txBody func(Q) error) error {

	for i := 0; i < t.numRetries; i++ {
		err := t.execTxOnce(ctx, txOptions, txBody)

		var serErr *ErrSerializationError
		if !errors.As(MapSQLError(err), &serErr) {
			return err
		}

		log.Debugf("Retrying transaction due to serialization "+
			"failure (attempt %d): %v", i+1, err)

		select {
		case <-time.After(retryDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return ErrRetriesExceeded
}

func (t *TransactionExecutor[Q]) execTxOnce(ctx context.Context,
	txOptions TxOptions, txBody func(Q) error) error {

	tx, err := t.BatchedQuerier.BeginTx(ctx, txOptions)
	if err != nil {
		return err
	}

	// Rollback is safe to call even if the tx is already closed, so if the
	// tx commits successfully, this is a no-op.
	defer func() {
		_ = tx.Rollback()
	}()

	if err := txBody(t.createQuery(tx)); err != nil {
		return err
	}

	return tx.Commit()
}

// BaseDB is the base database struct that each implementation can embed to
// gain some common functionality.
type BaseDB struct {
	*sql.DB

	*sqlc.Queries
}

// BeginTx wraps the normal sql specific BeginTx method with the TxOptions
// interface. This interface is then mapped to the concrete sql tx options
// struct.
func (s *BaseDB) BeginTx(ctx context.Context, opts TxOptions) (Tx, error) {
	sqlOptions := sql.TxOptions{
		ReadOnly: opts.ReadOnly(),
	}
	return s.DB.BeginTx(ctx, &sqlOptions)
}

// QueriesFromTx returns the queries bound to a transaction created by BeginTx.
func (s *BaseDB) QueriesFromTx(tx Tx) *sqlc.Queries {
	return s.Queries.WithTx(tx.(*sql.Tx))
}
