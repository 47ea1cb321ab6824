package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// BankTransaction is one row of a bank statement, before it is posted as a
// bank receipt (Amount > 0) or bank payment (Amount < 0).
type BankTransaction struct {
	Date        time.Time
	Description string
	Amount      decimal.Decimal
	// Reference identifies the row across imports; a posted set carries it
	// so the same row is never posted twice.
	Reference   string
	Type        string // bank's own code, e.g. ACH_DEBIT
	CheckNumber string // empty unless the row is a cheque
}

// Receipt reports whether the row brings money into the bank account.
func (t BankTransaction) Receipt() bool { return t.Amount.IsPositive() }
