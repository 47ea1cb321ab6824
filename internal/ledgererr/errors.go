// Package ledgererr defines the ledger's error taxonomy. Every error returned
// by the ledger services maps to a Kind through KindOf so callers can react
// to the category without parsing messages.
package ledgererr

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Kind is a machine-checkable error category.
type Kind string

const (
	KindUnknown       Kind = "unknown"
	KindValidation    Kind = "validation"
	KindNotFound      Kind = "not_found"
	KindStateConflict Kind = "state_conflict"
	KindConcurrency   Kind = "concurrency"
	KindIntegrity     Kind = "integrity"
	KindPermission    Kind = "permission"
)

type kindError struct {
	kind Kind
	msg  string
}

func (e *kindError) Error() string { return e.msg }

func newKind(kind Kind, msg string) error {
	return &kindError{kind: kind, msg: msg}
}

// Validation errors.
var (
	ErrInvalidInput            = newKind(KindValidation, "invalid input")
	ErrUnbalanced              = newKind(KindValidation, "debits and credits do not balance")
	ErrEmptyPosting            = newKind(KindValidation, "posting has no lines")
	ErrDirectPostingDisallowed = newKind(KindValidation, "account does not allow direct posting")
	ErrInactive                = newKind(KindValidation, "account is inactive")
	ErrOverReversal            = newKind(KindValidation, "amount exceeds remaining open amount")
)

// Not-found errors.
var (
	ErrNotFound = newKind(KindNotFound, "not found")
)

// State-conflict errors.
var (
	ErrAlreadyExists        = newKind(KindStateConflict, "already exists")
	ErrAlreadyLocked        = newKind(KindStateConflict, "account is already locked for reconciliation")
	ErrNotLockHolder        = newKind(KindStateConflict, "caller does not hold the reconciliation lock")
	ErrAccountLocked        = newKind(KindStateConflict, "account is locked for reconciliation")
	ErrPeriodNotOpen        = newKind(KindStateConflict, "accounting period does not accept postings")
	ErrInvalidTransition    = newKind(KindStateConflict, "invalid state transition")
	ErrAlreadyReversed      = newKind(KindStateConflict, "transaction set is already reversed")
	ErrCyclicHierarchy      = newKind(KindStateConflict, "account hierarchy would contain a cycle")
	ErrSystemAccount        = newKind(KindStateConflict, "system accounts cannot be modified")
	ErrAccountInUse         = newKind(KindStateConflict, "account is in use")
	ErrUnpostedTransactions = newKind(KindStateConflict, "period has unposted transactions")
	ErrSegregationOfDuties  = newKind(KindStateConflict, "voucher creator cannot approve or reject it")
	ErrOverlappingPeriod    = newKind(KindStateConflict, "period overlaps an existing period")
)

// Concurrency errors.
var (
	ErrConflict  = newKind(KindConcurrency, "concurrent modification")
	ErrTransient = newKind(KindConcurrency, "could not post, retry")
)

// Integrity errors.
var (
	ErrIntegrity = newKind(KindIntegrity, "ledger integrity check failed")
)

// Permission errors.
var (
	ErrForbidden = newKind(KindPermission, "actor is not permitted to perform this action")
)

// KindOf returns the category of err, or KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind
	}
	return KindUnknown
}

// Is reports whether err belongs to kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// AccountError ties a sentinel to the account code that caused it.
type AccountError struct {
	Code string
	Err  error
}

func (e *AccountError) Error() string {
	return fmt.Sprintf("account %s: %v", e.Code, e.Err)
}

func (e *AccountError) Unwrap() error { return e.Err }

// Account wraps err with the offending account code.
func Account(code string, err error) error {
	return &AccountError{Code: code, Err: err}
}

// UnbalancedError reports the exact imbalance of a posting or trial balance.
type UnbalancedError struct {
	Debits  decimal.Decimal
	Credits decimal.Decimal
}

// Difference is debits minus credits.
func (e *UnbalancedError) Difference() decimal.Decimal {
	return e.Debits.Sub(e.Credits)
}

func (e *UnbalancedError) Error() string {
	return fmt.Sprintf("debits (%s) != credits (%s), difference %s",
		e.Debits.StringFixed(2), e.Credits.StringFixed(2), e.Difference().StringFixed(2))
}

func (e *UnbalancedError) Unwrap() error { return ErrUnbalanced }

// PeriodStatusError is returned when a date falls in a period that does not
// accept postings.
type PeriodStatusError struct {
	Name   string
	Start  time.Time
	End    time.Time
	Status string
}

func (e *PeriodStatusError) Error() string {
	return fmt.Sprintf("period %s (%s to %s) is %s",
		e.Name, e.Start.Format("2006-01-02"), e.End.Format("2006-01-02"), e.Status)
}

func (e *PeriodStatusError) Unwrap() error { return ErrPeriodNotOpen }

// UnpostedError reports how many transactions block a period close.
type UnpostedError struct {
	Period string
	Count  int
}

func (e *UnpostedError) Error() string {
	return fmt.Sprintf("period %s has %d unposted transaction(s)", e.Period, e.Count)
}

func (e *UnpostedError) Unwrap() error { return ErrUnpostedTransactions }

// LockedError reports who holds a reconciliation lock and until when.
type LockedError struct {
	Code      string
	Holder    string
	ExpiresAt time.Time
	Err       error
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("account %s: %v (held by %s until %s)",
		e.Code, e.Err, e.Holder, e.ExpiresAt.Format(time.RFC3339))
}

func (e *LockedError) Unwrap() error { return e.Err }

// TransitionError describes a rejected state change.
type TransitionError struct {
	Entity string
	From   string
	To     string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s cannot move from %s to %s", e.Entity, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// Invalid builds a validation error with a specific message.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
