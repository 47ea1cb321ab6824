package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PeriodType is the length of an accounting period.
type PeriodType string

const (
	PeriodMonthly   PeriodType = "monthly"
	PeriodQuarterly PeriodType = "quarterly"
	PeriodYearly    PeriodType = "yearly"
)

// Valid reports whether t is a known period type.
func (t PeriodType) Valid() bool {
	switch t {
	case PeriodMonthly, PeriodQuarterly, PeriodYearly:
		return true
	}
	return false
}

// PeriodStatus is the lifecycle state of an accounting period.
type PeriodStatus string

const (
	PeriodOpen    PeriodStatus = "open"
	PeriodClosing PeriodStatus = "closing"
	PeriodClosed  PeriodStatus = "closed"
	PeriodLocked  PeriodStatus = "locked"
)

// AcceptsPostings reports whether new postings may be dated in a period in this state.
func (s PeriodStatus) AcceptsPostings() bool {
	return s == PeriodOpen
}

// PeriodStats caches figures gathered when a period is closed.
type PeriodStats struct {
	TransactionCount int
	TotalDebits      decimal.Decimal
	TotalCredits     decimal.Decimal
}

// Period is an accounting period. Start and End are inclusive calendar dates.
type Period struct {
	ID          string
	Name        string
	Type        PeriodType
	Start       time.Time
	End         time.Time
	Status      PeriodStatus
	PriorStatus PeriodStatus // status before locking
	ClosedBy    string
	ClosedAt    time.Time
	ClosingNote string
	LockedBy    string
	LockedAt    time.Time
	LockReason  string
	Reconciled  bool
	Stats       PeriodStats
	Version     int64
	CreatedAt   time.Time
}

// Contains reports whether date falls within the period.
func (p Period) Contains(date time.Time) bool {
	d := Day(date)
	return !d.Before(p.Start) && !d.After(p.End)
}

// Overlaps reports whether two date ranges share at least one day.
func (p Period) Overlaps(start, end time.Time) bool {
	return !Day(start).After(p.End) && !Day(end).Before(p.Start)
}
