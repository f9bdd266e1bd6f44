package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/Veraticus/pocket-ledger/internal/common"
)

// queryable is satisfied by both *sql.DB and *sql.Tx.
type queryable interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// FaultHook is called at named points inside multi-step mutations. A non-nil
// return aborts the mutation and rolls it back.
type FaultHook func(point string) error

// Fault points raised during multi-step mutations.
const (
	FaultTransactionInserted = "transaction.inserted"
	FaultBalanceApplied      = "transaction.balance_applied"
	FaultDebitLegInserted    = "transfer.debit_inserted"
	FaultCreditLegInserted   = "transfer.credit_inserted"
	FaultFromBalanceApplied  = "transfer.from_balance_applied"
	FaultToBalanceApplied    = "transfer.to_balance_applied"
	FaultTransactionDeleted  = "transaction.deleted"
	FaultBudgetFolded        = "budget.folded"
)

// queries holds every single-statement and read operation. It is embedded in
// both SQLiteStorage (running against the pool) and Tx (running inside one
// database transaction), so each method is written once.
type queries struct {
	q queryable
	s *SQLiteStorage
}

// SQLiteStorage is the local ledger database.
type SQLiteStorage struct {
	queries
	db        *sql.DB
	clock     func() time.Time
	newID     func() string
	faultHook FaultHook
	dbPath    string
	retry     common.RetryOptions
	hookMu    sync.RWMutex
}

// NewSQLiteStorage opens (creating if needed) the ledger database at dbPath.
// Call Migrate before use.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if err := validateString(dbPath, "dbPath"); err != nil {
		return nil, err
	}

	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("%w: failed to create database directory: %w", common.ErrStorageUnavailable, err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %w", common.ErrStorageUnavailable, err)
	}

	// A single connection serializes writers and keeps readers from ever
	// observing a half-applied mutation.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: failed to ping database: %w", common.ErrStorageUnavailable, err)
	}

	s := &SQLiteStorage{
		db:     db,
		dbPath: dbPath,
		clock:  time.Now,
		newID:  uuid.NewString,
		retry: common.RetryOptions{
			MaxAttempts:  5,
			InitialDelay: 20 * time.Millisecond,
			MaxDelay:     500 * time.Millisecond,
			Multiplier:   2,
		},
	}
	s.queries = queries{q: db, s: s}
	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *SQLiteStorage) Path() string {
	return s.dbPath
}

// SetClock replaces the time source. Timestamps are always stored in UTC.
func (s *SQLiteStorage) SetClock(clock func() time.Time) {
	s.clock = clock
}

// SetFaultHook installs a hook invoked at each fault point. Pass nil to remove it.
func (s *SQLiteStorage) SetFaultHook(hook FaultHook) {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()
	s.faultHook = hook
}

func (s *SQLiteStorage) now() time.Time {
	return s.clock().UTC()
}

func (s *SQLiteStorage) fault(point string) error {
	s.hookMu.RLock()
	hook := s.faultHook
	s.hookMu.RUnlock()
	if hook == nil {
		return nil
	}
	if err := hook(point); err != nil {
		return fmt.Errorf("fault at %s: %w", point, err)
	}
	return nil
}

// Tx is a single database transaction. Every method on Tx runs inside it, so
// a sequence of calls either commits together or not at all.
type Tx struct {
	queries
	tx *sql.Tx
}

// NewID returns a fresh identifier.
func (q *queries) NewID() string {
	return q.s.newID()
}

// Now returns the storage clock's current time in UTC.
func (q *queries) Now() time.Time {
	return q.s.now()
}

// InTx runs fn inside a database transaction, committing if fn returns nil and
// rolling back otherwise. Busy or locked databases are retried.
func (s *SQLiteStorage) InTx(ctx context.Context, fn func(tx *Tx) error) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	return common.WithRetry(ctx, func() error {
		return s.runTx(ctx, fn)
	}, s.retry)
}

func (s *SQLiteStorage) runTx(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classifyError(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer func() { _ = sqlTx.Rollback() }()

	tx := &Tx{queries: queries{q: sqlTx, s: s}, tx: sqlTx}
	if err := fn(tx); err != nil {
		return classifyError(err)
	}

	if err := sqlTx.Commit(); err != nil {
		return classifyError(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

// classifyError maps SQLite failures onto the ledger's error taxonomy.
// Busy and locked errors become retryable; I/O, permission and corruption
// errors become ErrStorageUnavailable.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	var retryable *common.RetryableError
	if errors.As(err, &retryable) || errors.Is(err, common.ErrStorageUnavailable) {
		return err
	}
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return err
	}
	switch sqliteErr.Code {
	case sqlite3.ErrBusy, sqlite3.ErrLocked:
		return &common.RetryableError{Err: err, Retryable: true}
	case sqlite3.ErrCantOpen, sqlite3.ErrIoErr, sqlite3.ErrCorrupt, sqlite3.ErrFull,
		sqlite3.ErrReadonly, sqlite3.ErrNotADB, sqlite3.ErrPerm:
		return fmt.Errorf("%w: %w", common.ErrStorageUnavailable, err)
	default:
		return err
	}
}

// isUniqueViolation reports whether err is a UNIQUE or PRIMARY KEY constraint failure.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

// nullTime converts an optional timestamp for storage.
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

// timePtr converts a scanned nullable timestamp back into a pointer.
func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

func nullString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
