package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// AccountType classifies accounts in the chart of accounts.
type AccountType string

const (
	AccountTypeAsset     AccountType = "asset"
	AccountTypeLiability AccountType = "liability"
	AccountTypeEquity    AccountType = "equity"
	AccountTypeRevenue   AccountType = "revenue"
	AccountTypeExpense   AccountType = "expense"
)

// Valid reports whether t is one of the five account types.
func (t AccountType) Valid() bool {
	switch t {
	case AccountTypeAsset, AccountTypeLiability, AccountTypeEquity, AccountTypeRevenue, AccountTypeExpense:
		return true
	}
	return false
}

// NormalBalance is the side on which an account's balance grows.
type NormalBalance string

const (
	NormalDebit  NormalBalance = "debit"
	NormalCredit NormalBalance = "credit"
)

// NormalBalanceFor returns the conventional polarity for an account type.
func NormalBalanceFor(t AccountType) NormalBalance {
	switch t {
	case AccountTypeAsset, AccountTypeExpense:
		return NormalDebit
	default:
		return NormalCredit
	}
}

// ReconciliationStatus is the per-account reconciliation state.
type ReconciliationStatus string

const (
	ReconNotStarted  ReconciliationStatus = "not_started"
	ReconInProgress  ReconciliationStatus = "in_progress"
	ReconReconciled  ReconciliationStatus = "reconciled"
	ReconDiscrepancy ReconciliationStatus = "discrepancy"
)

// MaxAccountLevel is the deepest allowed hierarchy level (root = 0).
const MaxAccountLevel = 5

// Reconciliation holds the lock and outcome of a manual reconciliation.
type Reconciliation struct {
	Status            ReconciliationStatus
	LockedBy          string
	LockedAt          time.Time
	LockExpiresAt     time.Time
	ReconciledAt      time.Time
	DiscrepancyAmount decimal.Decimal
	DiscrepancyReason string
}

// Active reports whether the reconciliation lock is in force at now.
func (r Reconciliation) Active(now time.Time) bool {
	return r.Status == ReconInProgress && r.LockExpiresAt.After(now)
}

// BlocksActor reports whether an active lock is held by someone other than actor.
func (r Reconciliation) BlocksActor(actor string, now time.Time) bool {
	return r.Active(now) && r.LockedBy != actor
}

// Account is a chart-of-accounts entry.
type Account struct {
	Code               string
	Name               string
	Type               AccountType
	Category           string
	NormalBalance      NormalBalance
	ParentCode         string // "" = top-level
	Level              int
	AllowDirectPosting bool
	IsSystemAccount    bool
	IsActive           bool
	OpeningBalance     decimal.Decimal
	CurrentBalance     decimal.Decimal
	Reconciliation     Reconciliation
	Description        string
	Version            int64
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// CanonicalCode trims and upper-cases an account code.
func CanonicalCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// SignedDelta converts a debit/credit pair into a change of the account
// balance in its normal-balance sense.
func (a Account) SignedDelta(debit, credit decimal.Decimal) decimal.Decimal {
	if a.NormalBalance == NormalCredit {
		return credit.Sub(debit)
	}
	return debit.Sub(credit)
}

// Columns places a balance in the debit or credit column of a trial balance.
// A positive balance lands on the normal side; a negative one on the other.
func (a Account) Columns(balance decimal.Decimal) (debit, credit decimal.Decimal) {
	abs := balance.Abs()
	debitSide := a.NormalBalance == NormalDebit
	if balance.IsNegative() {
		debitSide = !debitSide
	}
	if debitSide {
		return abs, decimal.Zero
	}
	return decimal.Zero, abs
}
