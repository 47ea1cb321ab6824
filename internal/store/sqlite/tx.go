package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cleared-dev/ledger/internal/ledgererr"
	"github.com/cleared-dev/ledger/internal/model"
	"github.com/cleared-dev/ledger/internal/store"
)

type tx struct {
	tx *sql.Tx
}

var _ store.Tx = (*tx)(nil)

type scanner interface {
	Scan(dest ...any) error
}

func notFound(kind, key string) error {
	return fmt.Errorf("%s %q: %w", kind, key, ledgererr.ErrNotFound)
}

func conflict(kind, key string, version int64) error {
	return fmt.Errorf("%s %q version %d is stale: %w", kind, key, version, ledgererr.ErrConflict)
}

// casResult turns the affected row count of a versioned UPDATE into an error.
func casResult(res sql.Result, kind, key string, version int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading affected rows: %w", err)
	}
	if n == 0 {
		return conflict(kind, key, version)
	}
	return nil
}

// =============================================================================
// ACCOUNTS
// =============================================================================

const accountColumns = `code, name, type, category, normal_balance, parent_code, level,
	allow_direct_posting, is_system, is_active, opening_cents, current_cents,
	recon_status, locked_by, locked_at, lock_expires_at, reconciled_at,
	discrepancy_cents, discrepancy_reason, description, version, created_at, updated_at`

func scanAccount(row scanner) (model.Account, error) {
	var (
		a                                                   model.Account
		typ, normal, recon                                  string
		allowDirect, isSystem, isActive                     int
		opening, current, discrepancy                       int64
		lockedAt, expiresAt, reconciledAt, created, updated string
	)
	err := row.Scan(&a.Code, &a.Name, &typ, &a.Category, &normal, &a.ParentCode, &a.Level,
		&allowDirect, &isSystem, &isActive, &opening, &current,
		&recon, &a.Reconciliation.LockedBy, &lockedAt, &expiresAt, &reconciledAt,
		&discrepancy, &a.Reconciliation.DiscrepancyReason, &a.Description, &a.Version, &created, &updated)
	if err != nil {
		return model.Account{}, err
	}
	a.Type = model.AccountType(typ)
	a.NormalBalance = model.NormalBalance(normal)
	a.AllowDirectPosting = allowDirect == 1
	a.IsSystemAccount = isSystem == 1
	a.IsActive = isActive == 1
	a.OpeningBalance = fromCents(opening)
	a.CurrentBalance = fromCents(current)
	a.Reconciliation.Status = model.ReconciliationStatus(recon)
	a.Reconciliation.DiscrepancyAmount = fromCents(discrepancy)

	for _, f := range []struct {
		dst *time.Time
		src string
	}{
		{&a.Reconciliation.LockedAt, lockedAt},
		{&a.Reconciliation.LockExpiresAt, expiresAt},
		{&a.Reconciliation.ReconciledAt, reconciledAt},
		{&a.CreatedAt, created},
		{&a.UpdatedAt, updated},
	} {
		if *f.dst, err = parseTime(f.src); err != nil {
			return model.Account{}, err
		}
	}
	return a, nil
}

func (t *tx) GetAccount(ctx context.Context, code string) (model.Account, error) {
	row := t.tx.QueryRowContext(ctx, "SELECT "+accountColumns+" FROM accounts WHERE code = ?", code)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Account{}, notFound("account", code)
	}
	if err != nil {
		return model.Account{}, fmt.Errorf("reading account %s: %w", code, err)
	}
	return a, nil
}

func (t *tx) ListAccounts(ctx context.Context) ([]model.Account, error) {
	rows, err := t.tx.QueryContext(ctx, "SELECT "+accountColumns+" FROM accounts ORDER BY code")
	if err != nil {
		return nil, fmt.Errorf("listing accounts: %w", err)
	}
	defer rows.Close()

	var out []model.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning account: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (t *tx) InsertAccount(ctx context.Context, a model.Account) error {
	r := a.Reconciliation
	_, err := t.tx.ExecContext(ctx, `INSERT INTO accounts (`+accountColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
		a.Code, a.Name, string(a.Type), a.Category, string(a.NormalBalance), a.ParentCode, a.Level,
		boolInt(a.AllowDirectPosting), boolInt(a.IsSystemAccount), boolInt(a.IsActive),
		toCents(a.OpeningBalance), toCents(a.CurrentBalance),
		reconStatus(r.Status), r.LockedBy, formatTime(r.LockedAt), formatTime(r.LockExpiresAt), formatTime(r.ReconciledAt),
		toCents(r.DiscrepancyAmount), r.DiscrepancyReason, a.Description,
		formatTime(a.CreatedAt), formatTime(a.UpdatedAt),
	)
	if err != nil {
		return mapErr(fmt.Errorf("inserting account %s: %w", a.Code, err))
	}
	return nil
}

func (t *tx) UpdateAccount(ctx context.Context, a model.Account) (model.Account, error) {
	r := a.Reconciliation
	res, err := t.tx.ExecContext(ctx, `UPDATE accounts SET
		name = ?, type = ?, category = ?, normal_balance = ?, parent_code = ?, level = ?,
		allow_direct_posting = ?, is_system = ?, is_active = ?, opening_cents = ?,
		recon_status = ?, locked_by = ?, locked_at = ?, lock_expires_at = ?, reconciled_at = ?,
		discrepancy_cents = ?, discrepancy_reason = ?, description = ?, updated_at = ?,
		version = version + 1
		WHERE code = ? AND version = ?`,
		a.Name, string(a.Type), a.Category, string(a.NormalBalance), a.ParentCode, a.Level,
		boolInt(a.AllowDirectPosting), boolInt(a.IsSystemAccount), boolInt(a.IsActive), toCents(a.OpeningBalance),
		reconStatus(r.Status), r.LockedBy, formatTime(r.LockedAt), formatTime(r.LockExpiresAt), formatTime(r.ReconciledAt),
		toCents(r.DiscrepancyAmount), r.DiscrepancyReason, a.Description, formatTime(a.UpdatedAt),
		a.Code, a.Version,
	)
	if err != nil {
		return model.Account{}, fmt.Errorf("updating account %s: %w", a.Code, err)
	}
	if err := casResult(res, "account", a.Code, a.Version); err != nil {
		if _, gerr := t.GetAccount(ctx, a.Code); errors.Is(gerr, ledgererr.ErrNotFound) {
			return model.Account{}, gerr
		}
		return model.Account{}, err
	}
	return t.GetAccount(ctx, a.Code)
}

func (t *tx) AddToBalance(ctx context.Context, code string, delta decimal.Decimal) error {
	res, err := t.tx.ExecContext(ctx,
		"UPDATE accounts SET current_cents = current_cents + ? WHERE code = ?", toCents(delta), code)
	if err != nil {
		return fmt.Errorf("incrementing balance of %s: %w", code, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading affected rows: %w", err)
	}
	if n == 0 {
		return notFound("account", code)
	}
	return nil
}

func (t *tx) DeleteAccount(ctx context.Context, code string) error {
	res, err := t.tx.ExecContext(ctx, "DELETE FROM accounts WHERE code = ?", code)
	if err != nil {
		return fmt.Errorf("deleting account %s: %w", code, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("account", code)
	}
	return nil
}

func reconStatus(s model.ReconciliationStatus) string {
	if s == "" {
		return string(model.ReconNotStarted)
	}
	return string(s)
}

// =============================================================================
// TRANSACTION SETS AND LINES
// =============================================================================

const setColumns = `id, number, kind, date, ref_type, ref_id, description, status, total_cents,
	reversal_of, reversed_cents, voucher_id, posted_by, posted_at, version`

func scanSet(row scanner) (model.TransactionSet, error) {
	var (
		s                      model.TransactionSet
		kind, date, status     string
		postedAt               string
		totalCents, reversedCt int64
	)
	err := row.Scan(&s.ID, &s.Number, &kind, &date, &s.Reference.Type, &s.Reference.ID, &s.Description,
		&status, &totalCents, &s.ReversalOf, &reversedCt, &s.VoucherID, &s.PostedBy, &postedAt, &s.Version)
	if err != nil {
		return model.TransactionSet{}, err
	}
	s.Kind = model.SetKind(kind)
	s.Status = model.SetStatus(status)
	s.Total = fromCents(totalCents)
	s.ReversedAmount = fromCents(reversedCt)
	if s.Date, err = parseDate(date); err != nil {
		return model.TransactionSet{}, err
	}
	if s.PostedAt, err = parseTime(postedAt); err != nil {
		return model.TransactionSet{}, err
	}
	return s, nil
}

func (t *tx) InsertSet(ctx context.Context, s model.TransactionSet) error {
	_, err := t.tx.ExecContext(ctx, `INSERT INTO transaction_sets (`+setColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
		s.ID, s.Number, string(s.Kind), formatDate(s.Date), s.Reference.Type, s.Reference.ID, s.Description,
		string(s.Status), toCents(s.Total), s.ReversalOf, toCents(s.ReversedAmount), s.VoucherID,
		s.PostedBy, formatTime(s.PostedAt),
	)
	if err != nil {
		return mapErr(fmt.Errorf("inserting transaction set %s: %w", s.ID, err))
	}

	stmt, err := t.tx.PrepareContext(ctx, `INSERT INTO lines
		(id, set_id, seq, account_code, debit_cents, credit_cents, description, ref_type, ref_id, date, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing line insert: %w", err)
	}
	defer stmt.Close()

	for _, l := range s.Lines {
		if _, err := stmt.ExecContext(ctx, l.ID, s.ID, l.Seq, l.AccountCode, toCents(l.Debit), toCents(l.Credit),
			l.Description, l.Reference.Type, l.Reference.ID, formatDate(l.Date), string(l.Status), formatTime(l.CreatedAt)); err != nil {
			return mapErr(fmt.Errorf("inserting line %s: %w", l.ID, err))
		}
	}
	return nil
}

func (t *tx) GetSet(ctx context.Context, id string) (model.TransactionSet, error) {
	row := t.tx.QueryRowContext(ctx, "SELECT "+setColumns+" FROM transaction_sets WHERE id = ?", id)
	s, err := scanSet(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.TransactionSet{}, notFound("transaction set", id)
	}
	if err != nil {
		return model.TransactionSet{}, fmt.Errorf("reading transaction set %s: %w", id, err)
	}
	s.Lines, err = t.ListLines(ctx, store.LineFilter{SetID: id})
	if err != nil {
		return model.TransactionSet{}, err
	}
	return s, nil
}

func (t *tx) UpdateSet(ctx context.Context, s model.TransactionSet) (model.TransactionSet, error) {
	res, err := t.tx.ExecContext(ctx, `UPDATE transaction_sets SET
		status = ?, reversed_cents = ?, description = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		string(s.Status), toCents(s.ReversedAmount), s.Description, s.ID, s.Version)
	if err != nil {
		return model.TransactionSet{}, fmt.Errorf("updating transaction set %s: %w", s.ID, err)
	}
	if err := casResult(res, "transaction set", s.ID, s.Version); err != nil {
		return model.TransactionSet{}, err
	}
	s.Version++
	return s, nil
}

func (t *tx) DeleteSet(ctx context.Context, id string) error {
	if _, err := t.tx.ExecContext(ctx, "DELETE FROM lines WHERE set_id = ?", id); err != nil {
		return fmt.Errorf("deleting lines of %s: %w", id, err)
	}
	res, err := t.tx.ExecContext(ctx, "DELETE FROM transaction_sets WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting transaction set %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("transaction set", id)
	}
	return nil
}

func (t *tx) ListSets(ctx context.Context, f store.SetFilter) ([]model.TransactionSet, error) {
	var (
		where []string
		args  []any
	)
	if !f.From.IsZero() {
		where, args = append(where, "date >= ?"), append(args, formatDate(f.From))
	}
	if !f.To.IsZero() {
		where, args = append(where, "date <= ?"), append(args, formatDate(f.To))
	}
	if f.Kind != "" {
		where, args = append(where, "kind = ?"), append(args, string(f.Kind))
	}
	if f.ReversalOf != "" {
		where, args = append(where, "reversal_of = ?"), append(args, f.ReversalOf)
	}

	rows, err := t.tx.QueryContext(ctx, "SELECT "+setColumns+" FROM transaction_sets"+whereClause(where)+
		" ORDER BY date, number", args...)
	if err != nil {
		return nil, fmt.Errorf("listing transaction sets: %w", err)
	}
	defer rows.Close()

	var out []model.TransactionSet
	for rows.Next() {
		s, err := scanSet(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning transaction set: %w", err)
		}
		if f.Match(s) {
			out = append(out, s)
		}
	}
	return out, rows.Err()
}

func (t *tx) ListLines(ctx context.Context, f store.LineFilter) ([]model.Line, error) {
	var (
		where []string
		args  []any
	)
	if f.AccountCode != "" {
		where, args = append(where, "account_code = ?"), append(args, f.AccountCode)
	}
	if f.SetID != "" {
		where, args = append(where, "set_id = ?"), append(args, f.SetID)
	}
	if !f.From.IsZero() {
		where, args = append(where, "date >= ?"), append(args, formatDate(f.From))
	}
	if !f.To.IsZero() {
		where, args = append(where, "date <= ?"), append(args, formatDate(f.To))
	}
	if f.Status != "" {
		where, args = append(where, "status = ?"), append(args, string(f.Status))
	}

	rows, err := t.tx.QueryContext(ctx, `SELECT id, set_id, seq, account_code, debit_cents, credit_cents,
		description, ref_type, ref_id, date, status, created_at FROM lines`+whereClause(where)+
		" ORDER BY date, set_id, seq", args...)
	if err != nil {
		return nil, fmt.Errorf("listing lines: %w", err)
	}
	defer rows.Close()

	var out []model.Line
	for rows.Next() {
		var (
			l                      model.Line
			debit, credit          int64
			date, status, created string
		)
		if err := rows.Scan(&l.ID, &l.SetID, &l.Seq, &l.AccountCode, &debit, &credit,
			&l.Description, &l.Reference.Type, &l.Reference.ID, &date, &status, &created); err != nil {
			return nil, fmt.Errorf("scanning line: %w", err)
		}
		l.Debit = fromCents(debit)
		l.Credit = fromCents(credit)
		l.Status = model.LineStatus(status)
		if l.Date, err = parseDate(date); err != nil {
			return nil, err
		}
		if l.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// =============================================================================
// VOUCHERS
// =============================================================================

const voucherColumns = `id, number, date, description, reference, entries_json, status, workflow_json,
	created_by, created_at, posted_by, posted_at, transaction_set_id, is_closing, period_id, version`

func scanVoucher(row scanner) (model.Voucher, error) {
	var (
		v                                      model.Voucher
		date, entries, status, workflow        string
		created, posted                        string
		isClosing                              int
	)
	err := row.Scan(&v.ID, &v.Number, &date, &v.Description, &v.Reference, &entries, &status, &workflow,
		&v.CreatedBy, &created, &v.PostedBy, &posted, &v.TransactionSetID, &isClosing, &v.PeriodID, &v.Version)
	if err != nil {
		return model.Voucher{}, err
	}
	v.Status = model.VoucherStatus(status)
	v.IsClosingEntry = isClosing == 1
	if err := json.Unmarshal([]byte(entries), &v.Entries); err != nil {
		return model.Voucher{}, fmt.Errorf("decoding voucher entries: %w", err)
	}
	if err := json.Unmarshal([]byte(workflow), &v.Workflow); err != nil {
		return model.Voucher{}, fmt.Errorf("decoding voucher workflow: %w", err)
	}
	if v.Date, err = parseDate(date); err != nil {
		return model.Voucher{}, err
	}
	if v.CreatedAt, err = parseTime(created); err != nil {
		return model.Voucher{}, err
	}
	if v.PostedAt, err = parseTime(posted); err != nil {
		return model.Voucher{}, err
	}
	return v, nil
}

func encodeVoucher(v model.Voucher) (entries, workflow string, err error) {
	e, err := json.Marshal(v.Entries)
	if err != nil {
		return "", "", fmt.Errorf("encoding voucher entries: %w", err)
	}
	w, err := json.Marshal(v.Workflow)
	if err != nil {
		return "", "", fmt.Errorf("encoding voucher workflow: %w", err)
	}
	return string(e), string(w), nil
}

func (t *tx) InsertVoucher(ctx context.Context, v model.Voucher) error {
	entries, workflow, err := encodeVoucher(v)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx, `INSERT INTO vouchers (`+voucherColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
		v.ID, v.Number, formatDate(v.Date), v.Description, v.Reference, entries, string(v.Status), workflow,
		v.CreatedBy, formatTime(v.CreatedAt), v.PostedBy, formatTime(v.PostedAt), v.TransactionSetID,
		boolInt(v.IsClosingEntry), v.PeriodID,
	)
	if err != nil {
		return mapErr(fmt.Errorf("inserting voucher %s: %w", v.Number, err))
	}
	return nil
}

func (t *tx) GetVoucher(ctx context.Context, id string) (model.Voucher, error) {
	row := t.tx.QueryRowContext(ctx, "SELECT "+voucherColumns+" FROM vouchers WHERE id = ?", id)
	v, err := scanVoucher(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Voucher{}, notFound("voucher", id)
	}
	if err != nil {
		return model.Voucher{}, fmt.Errorf("reading voucher %s: %w", id, err)
	}
	return v, nil
}

func (t *tx) UpdateVoucher(ctx context.Context, v model.Voucher) (model.Voucher, error) {
	entries, workflow, err := encodeVoucher(v)
	if err != nil {
		return model.Voucher{}, err
	}
	res, err := t.tx.ExecContext(ctx, `UPDATE vouchers SET
		date = ?, description = ?, reference = ?, entries_json = ?, status = ?, workflow_json = ?,
		posted_by = ?, posted_at = ?, transaction_set_id = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		formatDate(v.Date), v.Description, v.Reference, entries, string(v.Status), workflow,
		v.PostedBy, formatTime(v.PostedAt), v.TransactionSetID, v.ID, v.Version)
	if err != nil {
		return model.Voucher{}, fmt.Errorf("updating voucher %s: %w", v.Number, err)
	}
	if err := casResult(res, "voucher", v.ID, v.Version); err != nil {
		return model.Voucher{}, err
	}
	v.Version++
	return v, nil
}

func (t *tx) ListVouchers(ctx context.Context, f store.VoucherFilter) ([]model.Voucher, error) {
	var (
		where []string
		args  []any
	)
	if !f.From.IsZero() {
		where, args = append(where, "date >= ?"), append(args, formatDate(f.From))
	}
	if !f.To.IsZero() {
		where, args = append(where, "date <= ?"), append(args, formatDate(f.To))
	}
	if f.PeriodID != "" {
		where, args = append(where, "period_id = ?"), append(args, f.PeriodID)
	}
	if f.ClosingOnly {
		where = append(where, "is_closing = 1")
	}

	rows, err := t.tx.QueryContext(ctx, "SELECT "+voucherColumns+" FROM vouchers"+whereClause(where)+
		" ORDER BY number", args...)
	if err != nil {
		return nil, fmt.Errorf("listing vouchers: %w", err)
	}
	defer rows.Close()

	var out []model.Voucher
	for rows.Next() {
		v, err := scanVoucher(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning voucher: %w", err)
		}
		if f.Match(v) {
			out = append(out, v)
		}
	}
	return out, rows.Err()
}

// =============================================================================
// PERIODS
// =============================================================================

const periodColumns = `id, name, type, start_date, end_date, status, prior_status, closed_by, closed_at,
	closing_note, locked_by, locked_at, lock_reason, reconciled, txn_count, total_debit_cents,
	total_credit_cents, version, created_at`

func scanPeriod(row scanner) (model.Period, error) {
	var (
		p                                 model.Period
		typ, start, end, status, prior    string
		closedAt, lockedAt, created       string
		reconciled                        int
		debits, credits                   int64
	)
	err := row.Scan(&p.ID, &p.Name, &typ, &start, &end, &status, &prior, &p.ClosedBy, &closedAt,
		&p.ClosingNote, &p.LockedBy, &lockedAt, &p.LockReason, &reconciled, &p.Stats.TransactionCount,
		&debits, &credits, &p.Version, &created)
	if err != nil {
		return model.Period{}, err
	}
	p.Type = model.PeriodType(typ)
	p.Status = model.PeriodStatus(status)
	p.PriorStatus = model.PeriodStatus(prior)
	p.Reconciled = reconciled == 1
	p.Stats.TotalDebits = fromCents(debits)
	p.Stats.TotalCredits = fromCents(credits)
	if p.Start, err = parseDate(start); err != nil {
		return model.Period{}, err
	}
	if p.End, err = parseDate(end); err != nil {
		return model.Period{}, err
	}
	if p.ClosedAt, err = parseTime(closedAt); err != nil {
		return model.Period{}, err
	}
	if p.LockedAt, err = parseTime(lockedAt); err != nil {
		return model.Period{}, err
	}
	if p.CreatedAt, err = parseTime(created); err != nil {
		return model.Period{}, err
	}
	return p, nil
}

func (t *tx) InsertPeriod(ctx context.Context, p model.Period) error {
	_, err := t.tx.ExecContext(ctx, `INSERT INTO periods (`+periodColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?)`,
		p.ID, p.Name, string(p.Type), formatDate(p.Start), formatDate(p.End), string(p.Status),
		string(p.PriorStatus), p.ClosedBy, formatTime(p.ClosedAt), p.ClosingNote, p.LockedBy,
		formatTime(p.LockedAt), p.LockReason, boolInt(p.Reconciled), p.Stats.TransactionCount,
		toCents(p.Stats.TotalDebits), toCents(p.Stats.TotalCredits), formatTime(p.CreatedAt),
	)
	if err != nil {
		return mapErr(fmt.Errorf("inserting period %s: %w", p.Name, err))
	}
	return nil
}

func (t *tx) GetPeriod(ctx context.Context, id string) (model.Period, error) {
	row := t.tx.QueryRowContext(ctx, "SELECT "+periodColumns+" FROM periods WHERE id = ?", id)
	p, err := scanPeriod(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Period{}, notFound("period", id)
	}
	if err != nil {
		return model.Period{}, fmt.Errorf("reading period %s: %w", id, err)
	}
	return p, nil
}

func (t *tx) UpdatePeriod(ctx context.Context, p model.Period) (model.Period, error) {
	res, err := t.tx.ExecContext(ctx, `UPDATE periods SET
		name = ?, status = ?, prior_status = ?, closed_by = ?, closed_at = ?, closing_note = ?,
		locked_by = ?, locked_at = ?, lock_reason = ?, reconciled = ?, txn_count = ?,
		total_debit_cents = ?, total_credit_cents = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		p.Name, string(p.Status), string(p.PriorStatus), p.ClosedBy, formatTime(p.ClosedAt), p.ClosingNote,
		p.LockedBy, formatTime(p.LockedAt), p.LockReason, boolInt(p.Reconciled), p.Stats.TransactionCount,
		toCents(p.Stats.TotalDebits), toCents(p.Stats.TotalCredits), p.ID, p.Version)
	if err != nil {
		return model.Period{}, fmt.Errorf("updating period %s: %w", p.Name, err)
	}
	if err := casResult(res, "period", p.ID, p.Version); err != nil {
		return model.Period{}, err
	}
	p.Version++
	return p, nil
}

func (t *tx) ListPeriods(ctx context.Context, f store.PeriodFilter) ([]model.Period, error) {
	var (
		where []string
		args  []any
	)
	if f.Type != "" {
		where, args = append(where, "type = ?"), append(args, string(f.Type))
	}
	if !f.Covering.IsZero() {
		d := formatDate(f.Covering)
		where, args = append(where, "start_date <= ? AND end_date >= ?"), append(args, d, d)
	}

	rows, err := t.tx.QueryContext(ctx, "SELECT "+periodColumns+" FROM periods"+whereClause(where)+
		" ORDER BY start_date, type", args...)
	if err != nil {
		return nil, fmt.Errorf("listing periods: %w", err)
	}
	defer rows.Close()

	var out []model.Period
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning period: %w", err)
		}
		if f.Match(p) {
			out = append(out, p)
		}
	}
	return out, rows.Err()
}

// =============================================================================
// SEQUENCES
// =============================================================================

func (t *tx) NextSequence(ctx context.Context, name string) (int64, error) {
	var value int64
	err := t.tx.QueryRowContext(ctx, `INSERT INTO sequences (name, value) VALUES (?, 1)
		ON CONFLICT(name) DO UPDATE SET value = value + 1
		RETURNING value`, name).Scan(&value)
	if err != nil {
		return 0, fmt.Errorf("advancing sequence %s: %w", name, err)
	}
	return value, nil
}

func whereClause(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}
