// Package sqlite implements store.Store on SQLite.
//
// Amounts are stored as integer cents so balance increments are a single
// atomic UPDATE ... SET current_cents = current_cents + ? rather than a
// read-modify-write in Go. Every mutable table carries a version column used
// as the compare-and-set predicate of updates.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/cleared-dev/ledger/internal/ledgererr"
	"github.com/cleared-dev/ledger/internal/model"
	"github.com/cleared-dev/ledger/internal/store"
)

// Store implements store.Store on a SQLite database file.
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// New opens (and migrates) the SQLite database at path.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One writer at a time; transactions queue on the pool instead of
	// failing with SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// WithTx implements store.Store.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapErr(fmt.Errorf("beginning transaction: %w", err))
	}
	defer sqlTx.Rollback()

	if err := fn(ctx, &tx{tx: sqlTx}); err != nil {
		return mapErr(err)
	}
	if err := sqlTx.Commit(); err != nil {
		return mapErr(fmt.Errorf("committing transaction: %w", err))
	}
	return nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(schema)
	return err
}

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	code TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	type TEXT NOT NULL,
	category TEXT NOT NULL DEFAULT '',
	normal_balance TEXT NOT NULL,
	parent_code TEXT NOT NULL DEFAULT '',
	level INTEGER NOT NULL DEFAULT 0,
	allow_direct_posting INTEGER NOT NULL DEFAULT 1,
	is_system INTEGER NOT NULL DEFAULT 0,
	is_active INTEGER NOT NULL DEFAULT 1,
	opening_cents INTEGER NOT NULL DEFAULT 0,
	current_cents INTEGER NOT NULL DEFAULT 0,
	recon_status TEXT NOT NULL DEFAULT 'not_started',
	locked_by TEXT NOT NULL DEFAULT '',
	locked_at TEXT NOT NULL DEFAULT '',
	lock_expires_at TEXT NOT NULL DEFAULT '',
	reconciled_at TEXT NOT NULL DEFAULT '',
	discrepancy_cents INTEGER NOT NULL DEFAULT 0,
	discrepancy_reason TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	version INTEGER NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS transaction_sets (
	id TEXT PRIMARY KEY,
	number TEXT NOT NULL UNIQUE,
	kind TEXT NOT NULL,
	date TEXT NOT NULL,
	ref_type TEXT NOT NULL DEFAULT '',
	ref_id TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	total_cents INTEGER NOT NULL,
	reversal_of TEXT NOT NULL DEFAULT '',
	reversed_cents INTEGER NOT NULL DEFAULT 0,
	voucher_id TEXT NOT NULL DEFAULT '',
	posted_by TEXT NOT NULL DEFAULT '',
	posted_at TEXT NOT NULL DEFAULT '',
	version INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sets_date ON transaction_sets(date);
CREATE INDEX IF NOT EXISTS idx_sets_reversal_of ON transaction_sets(reversal_of) WHERE reversal_of != '';

CREATE TABLE IF NOT EXISTS lines (
	id TEXT PRIMARY KEY,
	set_id TEXT NOT NULL REFERENCES transaction_sets(id) ON DELETE CASCADE,
	seq INTEGER NOT NULL,
	account_code TEXT NOT NULL REFERENCES accounts(code),
	debit_cents INTEGER NOT NULL DEFAULT 0,
	credit_cents INTEGER NOT NULL DEFAULT 0,
	description TEXT NOT NULL DEFAULT '',
	ref_type TEXT NOT NULL DEFAULT '',
	ref_id TEXT NOT NULL DEFAULT '',
	date TEXT NOT NULL,
	status TEXT NOT NULL,
	created_at TEXT NOT NULL,
	CHECK (debit_cents >= 0 AND credit_cents >= 0),
	CHECK ((debit_cents = 0) != (credit_cents = 0))
);

-- Balance replay (hot path for trial balance and balance-as-of queries).
CREATE INDEX IF NOT EXISTS idx_lines_account_date ON lines(account_code, date);
CREATE INDEX IF NOT EXISTS idx_lines_set ON lines(set_id, seq);

CREATE TABLE IF NOT EXISTS vouchers (
	id TEXT PRIMARY KEY,
	number TEXT NOT NULL UNIQUE,
	date TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	reference TEXT NOT NULL DEFAULT '',
	entries_json TEXT NOT NULL,
	status TEXT NOT NULL,
	workflow_json TEXT NOT NULL,
	created_by TEXT NOT NULL,
	created_at TEXT NOT NULL,
	posted_by TEXT NOT NULL DEFAULT '',
	posted_at TEXT NOT NULL DEFAULT '',
	transaction_set_id TEXT NOT NULL DEFAULT '',
	is_closing INTEGER NOT NULL DEFAULT 0,
	period_id TEXT NOT NULL DEFAULT '',
	version INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_vouchers_date ON vouchers(date);
-- At most one closing voucher per period.
CREATE UNIQUE INDEX IF NOT EXISTS idx_vouchers_closing_period
	ON vouchers(period_id) WHERE is_closing = 1;

CREATE TABLE IF NOT EXISTS periods (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	type TEXT NOT NULL,
	start_date TEXT NOT NULL,
	end_date TEXT NOT NULL,
	status TEXT NOT NULL,
	prior_status TEXT NOT NULL DEFAULT '',
	closed_by TEXT NOT NULL DEFAULT '',
	closed_at TEXT NOT NULL DEFAULT '',
	closing_note TEXT NOT NULL DEFAULT '',
	locked_by TEXT NOT NULL DEFAULT '',
	locked_at TEXT NOT NULL DEFAULT '',
	lock_reason TEXT NOT NULL DEFAULT '',
	reconciled INTEGER NOT NULL DEFAULT 0,
	txn_count INTEGER NOT NULL DEFAULT 0,
	total_debit_cents INTEGER NOT NULL DEFAULT 0,
	total_credit_cents INTEGER NOT NULL DEFAULT 0,
	version INTEGER NOT NULL,
	created_at TEXT NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_periods_type_start ON periods(type, start_date);
CREATE INDEX IF NOT EXISTS idx_periods_range ON periods(start_date, end_date);

CREATE TABLE IF NOT EXISTS sequences (
	name TEXT PRIMARY KEY,
	value INTEGER NOT NULL
);
`

// mapErr translates driver errors into ledger sentinels.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		switch {
		case se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked:
			return fmt.Errorf("%w: %v", ledgererr.ErrConflict, err)
		case se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey || se.ExtendedCode == sqlite3.ErrConstraintUnique:
			return fmt.Errorf("%w: %v", ledgererr.ErrAlreadyExists, err)
		}
	}
	return err
}

func toCents(d decimal.Decimal) int64 {
	return d.Shift(2).Round(0).IntPart()
}

func fromCents(c int64) decimal.Decimal {
	return decimal.New(c, -2)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing time %q: %w", s, err)
	}
	return t, nil
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return model.Day(t).Format(model.DateFormat)
}

func parseDate(s string) (time.Time, error) {
	t, err := time.Parse(model.DateFormat, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing date %q: %w", s, err)
	}
	return t, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
