// Package store defines the ledger's persistence contract. A Store runs
// functions inside atomic transactions; every multi-record write the ledger
// performs goes through a single Tx so it is applied completely or not at all.
package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cleared-dev/ledger/internal/model"
)

// Store opens atomic transactions over the ledger's records.
type Store interface {
	// WithTx runs fn inside one transaction. The transaction commits when fn
	// returns nil and rolls back otherwise.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Close() error
}

// Tx is the set of record operations available inside a transaction.
//
// Update methods are compare-and-set on the record's Version: they fail with
// ledgererr.ErrConflict when the stored version differs, and return the record
// with its version incremented on success.
type Tx interface {
	GetAccount(ctx context.Context, code string) (model.Account, error)
	ListAccounts(ctx context.Context) ([]model.Account, error)
	InsertAccount(ctx context.Context, a model.Account) error
	UpdateAccount(ctx context.Context, a model.Account) (model.Account, error)
	// AddToBalance atomically increments an account's current balance.
	AddToBalance(ctx context.Context, code string, delta decimal.Decimal) error
	DeleteAccount(ctx context.Context, code string) error

	InsertSet(ctx context.Context, s model.TransactionSet) error
	GetSet(ctx context.Context, id string) (model.TransactionSet, error)
	UpdateSet(ctx context.Context, s model.TransactionSet) (model.TransactionSet, error)
	DeleteSet(ctx context.Context, id string) error
	ListSets(ctx context.Context, f SetFilter) ([]model.TransactionSet, error)
	ListLines(ctx context.Context, f LineFilter) ([]model.Line, error)

	InsertVoucher(ctx context.Context, v model.Voucher) error
	GetVoucher(ctx context.Context, id string) (model.Voucher, error)
	UpdateVoucher(ctx context.Context, v model.Voucher) (model.Voucher, error)
	ListVouchers(ctx context.Context, f VoucherFilter) ([]model.Voucher, error)

	InsertPeriod(ctx context.Context, p model.Period) error
	GetPeriod(ctx context.Context, id string) (model.Period, error)
	UpdatePeriod(ctx context.Context, p model.Period) (model.Period, error)
	ListPeriods(ctx context.Context, f PeriodFilter) ([]model.Period, error)

	// NextSequence increments and returns a named counter, starting at 1.
	NextSequence(ctx context.Context, name string) (int64, error)
}

// LineFilter selects transaction lines. Zero values mean "any".
// From and To are inclusive calendar dates.
type LineFilter struct {
	AccountCode string
	SetID       string
	From        time.Time
	To          time.Time
	Status      model.LineStatus
}

// SetFilter selects transaction set headers (Lines is not populated).
type SetFilter struct {
	From       time.Time
	To         time.Time
	Kind       model.SetKind
	ReversalOf string
	Reference  string
}

// VoucherFilter selects journal vouchers.
type VoucherFilter struct {
	From        time.Time
	To          time.Time
	Statuses    []model.VoucherStatus
	PeriodID    string
	ClosingOnly bool
}

// PeriodFilter selects accounting periods.
type PeriodFilter struct {
	Type     model.PeriodType
	Covering time.Time // periods containing this date
	Statuses []model.PeriodStatus
}

// Match reports whether l passes the filter.
func (f LineFilter) Match(l model.Line) bool {
	if f.AccountCode != "" && l.AccountCode != f.AccountCode {
		return false
	}
	if f.SetID != "" && l.SetID != f.SetID {
		return false
	}
	if f.Status != "" && l.Status != f.Status {
		return false
	}
	return inRange(l.Date, f.From, f.To)
}

// Match reports whether s passes the filter.
func (f SetFilter) Match(s model.TransactionSet) bool {
	if f.Kind != "" && s.Kind != f.Kind {
		return false
	}
	if f.ReversalOf != "" && s.ReversalOf != f.ReversalOf {
		return false
	}
	if f.Reference != "" && s.Reference.String() != f.Reference {
		return false
	}
	return inRange(s.Date, f.From, f.To)
}

// Match reports whether v passes the filter.
func (f VoucherFilter) Match(v model.Voucher) bool {
	if f.ClosingOnly && !v.IsClosingEntry {
		return false
	}
	if f.PeriodID != "" && v.PeriodID != f.PeriodID {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if v.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return inRange(v.Date, f.From, f.To)
}

// Match reports whether p passes the filter.
func (f PeriodFilter) Match(p model.Period) bool {
	if f.Type != "" && p.Type != f.Type {
		return false
	}
	if !f.Covering.IsZero() && !p.Contains(f.Covering) {
		return false
	}
	if len(f.Statuses) > 0 {
		for _, s := range f.Statuses {
			if p.Status == s {
				return true
			}
		}
		return false
	}
	return true
}

func inRange(date, from, to time.Time) bool {
	d := model.Day(date)
	if !from.IsZero() && d.Before(model.Day(from)) {
		return false
	}
	if !to.IsZero() && d.After(model.Day(to)) {
		return false
	}
	return true
}
