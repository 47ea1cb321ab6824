// Package journal holds the pure, storage-free rules for transaction lines
// and their CSV representation.
package journal

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/cleared-dev/ledger/internal/ledgererr"
	"github.com/cleared-dev/ledger/internal/model"
)

// LineInput is one caller-supplied posting line.
type LineInput struct {
	AccountCode string
	Debit       decimal.Decimal
	Credit      decimal.Decimal
	Description string
}

// ValidationError describes a single malformed line.
type ValidationError struct {
	Index       int
	AccountCode string
	Description string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("line %d [%s]: %s", e.Index+1, e.AccountCode, e.Description)
}

// ValidationErrors aggregates every problem found in a set of lines.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, v := range e {
		msgs[i] = v.Error()
	}
	return "invalid lines: " + strings.Join(msgs, "; ")
}

func (e ValidationErrors) Unwrap() error { return ledgererr.ErrInvalidInput }

var hundred = decimal.NewFromInt(100)

// HasSubCent reports whether d has a non-zero digit past the cents.
func HasSubCent(d decimal.Decimal) bool {
	scaled := d.Mul(hundred)
	return !scaled.Equal(scaled.Floor())
}

// ValidateLines checks the shape of each line: an account code, exactly one
// of debit or credit, no negative amounts and no more than two decimal places.
func ValidateLines(lines []LineInput) ValidationErrors {
	var errs ValidationErrors
	for i, l := range lines {
		add := func(format string, args ...any) {
			errs = append(errs, ValidationError{Index: i, AccountCode: l.AccountCode, Description: fmt.Sprintf(format, args...)})
		}

		if strings.TrimSpace(l.AccountCode) == "" {
			add("account code is required")
		}
		if l.Debit.IsNegative() || l.Credit.IsNegative() {
			add("amounts must not be negative")
			continue
		}
		hasDebit := !l.Debit.IsZero()
		hasCredit := !l.Credit.IsZero()
		if hasDebit == hasCredit {
			add("line must have exactly one of debit or credit")
		}
		if HasSubCent(l.Debit) {
			add("debit %s has more than 2 decimal places", l.Debit)
		}
		if HasSubCent(l.Credit) {
			add("credit %s has more than 2 decimal places", l.Credit)
		}
	}
	return errs
}

// Totals sums the debit and credit sides.
func Totals(lines []LineInput) (debits, credits decimal.Decimal) {
	debits, credits = decimal.Zero, decimal.Zero
	for _, l := range lines {
		debits = debits.Add(l.Debit)
		credits = credits.Add(l.Credit)
	}
	return debits, credits
}

// CheckBalance rejects totals that are not positive or that differ by more
// than model.Tolerance.
func CheckBalance(debits, credits decimal.Decimal) error {
	if !debits.IsPositive() || !credits.IsPositive() {
		return &ledgererr.UnbalancedError{Debits: debits, Credits: credits}
	}
	if !model.Balanced(debits, credits) {
		return &ledgererr.UnbalancedError{Debits: debits, Credits: credits}
	}
	return nil
}

// ValidateInputs runs every storage-free check on a posting, in order:
// non-empty, line shape, then balance.
func ValidateInputs(lines []LineInput) error {
	if len(lines) == 0 {
		return ledgererr.ErrEmptyPosting
	}
	if errs := ValidateLines(lines); len(errs) > 0 {
		return errs
	}
	return CheckBalance(Totals(lines))
}

// ValidateSet re-checks persisted lines: every line one-sided and the set balanced.
func ValidateSet(lines []model.Line) error {
	if len(lines) == 0 {
		return ledgererr.ErrEmptyPosting
	}
	for _, l := range lines {
		if l.Debit.IsZero() == l.Credit.IsZero() {
			return fmt.Errorf("%w: line %s has both or neither side set", ledgererr.ErrIntegrity, l.ID)
		}
	}
	return CheckBalance(model.SumLines(lines))
}
