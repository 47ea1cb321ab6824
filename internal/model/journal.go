package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Tolerance is the largest debit/credit difference still treated as balanced.
var Tolerance = decimal.New(1, -2)

// DateFormat is the canonical calendar-date layout.
const DateFormat = "2006-01-02"

// Day truncates t to its UTC calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Balanced reports whether two totals agree within Tolerance.
func Balanced(debits, credits decimal.Decimal) bool {
	return debits.Sub(credits).Abs().LessThanOrEqual(Tolerance)
}

// LineStatus represents the lifecycle state of a transaction line.
type LineStatus string

const (
	LinePending   LineStatus = "pending"
	LineCompleted LineStatus = "completed"
	LineFailed    LineStatus = "failed"
	LineCancelled LineStatus = "cancelled"
)

// Line is one side of a double-entry posting against a single account.
type Line struct {
	ID          string
	SetID       string
	Seq         int
	AccountCode string
	Debit       decimal.Decimal // zero if credit side
	Credit      decimal.Decimal // zero if debit side
	Description string
	Reference   Reference
	Date        time.Time
	Status      LineStatus
	CreatedAt   time.Time
}

// Amount returns whichever side of the line is set.
func (l Line) Amount() decimal.Decimal {
	if !l.Debit.IsZero() {
		return l.Debit
	}
	return l.Credit
}

// Reference points at the business document a posting came from.
type Reference struct {
	Type string // "sale", "purchase", "voucher", ...
	ID   string
}

func (r Reference) String() string {
	if r.Type == "" {
		return r.ID
	}
	return r.Type + ":" + r.ID
}

// SetKind names the business event behind a transaction set.
type SetKind string

const (
	KindSale        SetKind = "sale"
	KindPurchase    SetKind = "purchase"
	KindCashReceipt SetKind = "cash_receipt"
	KindCashPayment SetKind = "cash_payment"
	KindBankReceipt SetKind = "bank_receipt"
	KindBankPayment SetKind = "bank_payment"
	KindJournal     SetKind = "journal"
	KindClosing     SetKind = "closing"
	KindInvoice     SetKind = "invoice"
	KindReversal    SetKind = "reversal"
)

// InvoiceLike reports whether sets of this kind may be partially reversed.
func (k SetKind) InvoiceLike() bool {
	switch k {
	case KindSale, KindPurchase, KindInvoice:
		return true
	}
	return false
}

// SetStatus represents the lifecycle state of a transaction set.
type SetStatus string

const (
	SetPosted            SetStatus = "posted"
	SetPartiallyReversed SetStatus = "partially_reversed"
	SetReversed          SetStatus = "reversed"
)

// TransactionSet is an atomically posted, balanced group of lines.
type TransactionSet struct {
	ID             string
	Number         string
	Kind           SetKind
	Date           time.Time
	Reference      Reference
	Description    string
	Status         SetStatus
	Total          decimal.Decimal // sum of debits
	ReversalOf     string
	ReversedAmount decimal.Decimal
	VoucherID      string
	PostedBy       string
	PostedAt       time.Time
	Lines          []Line
	Version        int64
}

// Totals sums the debit and credit sides of the set's lines.
func (s TransactionSet) Totals() (debits, credits decimal.Decimal) {
	return SumLines(s.Lines)
}

// OpenAmount is what is still available for reversal.
func (s TransactionSet) OpenAmount() decimal.Decimal {
	return s.Total.Sub(s.ReversedAmount)
}

// SumLines sums the debit and credit sides of lines.
func SumLines(lines []Line) (debits, credits decimal.Decimal) {
	debits, credits = decimal.Zero, decimal.Zero
	for _, l := range lines {
		debits = debits.Add(l.Debit)
		credits = credits.Add(l.Credit)
	}
	return debits, credits
}
