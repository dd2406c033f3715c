package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
)

// MySQLStore implements Store on top of MySQL.  The per-table repositories
// expose `...Tx` methods in the same style as the rest of the data layer; the
// store only opens the transaction and hands the repositories a shared
// *sql.Tx.
type MySQLStore struct {
	db             *sql.DB
	Ledger         *LedgerRepo
	Participations *ParticipationRepo
	Slots          *SlotRepo
	Completions    *CompletionRepo
}

// NewMySQLStore wires the table repositories around db.
func NewMySQLStore(db *sql.DB) *MySQLStore {
	return &MySQLStore{
		db:             db,
		Ledger:         NewLedgerRepo(db),
		Participations: NewParticipationRepo(db),
		Slots:          NewSlotRepo(db),
		Completions:    NewCompletionRepo(db),
	}
}

// DB exposes the underlying sql.DB.
func (s *MySQLStore) DB() *sql.DB { return s.db }

// WithTx begins a transaction, runs fn and commits.  Any error from fn or
// from the commit rolls the transaction back.
func (s *MySQLStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := fn(ctx, &mysqlTx{s: s, tx: tx, lock: true}); err != nil {
		return translateMySQL(err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", translateMySQL(err))
	}
	committed = true
	return nil
}

// View runs fn in a READ ONLY transaction with plain consistent reads.
func (s *MySQLStore) View(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return fmt.Errorf("begin read-only tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(ctx, &mysqlTx{s: s, tx: tx}); err != nil {
		return translateMySQL(err)
	}
	return nil
}

// Close closes the connection pool.
func (s *MySQLStore) Close(context.Context) error { return s.db.Close() }

// MySQL error numbers that mean "another transaction got there first".
const (
	mysqlDuplicateEntry   = 1062
	mysqlLockWaitTimeout  = 1205
	mysqlDeadlockDetected = 1213
	mysqlReadOnlyTx       = 1792
)

// translateMySQL maps duplicate-key, deadlock and lock-timeout errors onto
// ErrConflict and leaves everything else untouched.
func translateMySQL(err error) error {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		switch me.Number {
		case mysqlDuplicateEntry, mysqlLockWaitTimeout, mysqlDeadlockDetected:
			return fmt.Errorf("%w: %s", ErrConflict, me.Message)
		case mysqlReadOnlyTx:
			return fmt.Errorf("%w: %s", ErrReadOnly, me.Message)
		}
	}
	return err
}

// forUpdate is the locking clause appended to reads made inside WithTx.
func forUpdate(lock bool) string {
	if lock {
		return " FOR UPDATE"
	}
	return ""
}

// mysqlTx adapts the table repositories to the Tx interface.  lock is set
// for read-write transactions.
type mysqlTx struct {
	s    *MySQLStore
	tx   *sql.Tx
	lock bool
}
