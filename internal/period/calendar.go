package period

import (
	"fmt"
	"time"

	"github.com/cleared-dev/ledger/internal/model"
)

// fiscalYearStart returns the start of the fiscal year containing date.
func (s *Service) fiscalYearStart(date time.Time) time.Time {
	fy := time.Date(date.Year(), s.fyMonth, s.fyDay, 0, 0, 0, 0, time.UTC)
	if date.Before(fy) {
		fy = fy.AddDate(-1, 0, 0)
	}
	return fy
}

// startFor returns the first day of the period of type t containing date.
// Months follow the calendar; quarters and years follow the fiscal year.
func (s *Service) startFor(t model.PeriodType, date time.Time) time.Time {
	date = model.Day(date)
	switch t {
	case model.PeriodMonthly:
		return time.Date(date.Year(), date.Month(), 1, 0, 0, 0, 0, time.UTC)
	case model.PeriodQuarterly:
		q := s.fiscalYearStart(date)
		for next := q.AddDate(0, 3, 0); !date.Before(next); next = q.AddDate(0, 3, 0) {
			q = next
		}
		return q
	default:
		return s.fiscalYearStart(date)
	}
}

// endFor returns the last day of a period of type t starting at start.
func (s *Service) endFor(t model.PeriodType, start time.Time) time.Time {
	switch t {
	case model.PeriodMonthly:
		return start.AddDate(0, 1, -1)
	case model.PeriodQuarterly:
		return start.AddDate(0, 3, -1)
	default:
		return start.AddDate(1, 0, -1)
	}
}

// nameFor derives "2025-01", "2025-Q1" or "FY2025". Quarters and fiscal
// years are numbered from the fiscal year start and named by its calendar year.
func (s *Service) nameFor(t model.PeriodType, start time.Time) string {
	switch t {
	case model.PeriodMonthly:
		return start.Format("2006-01")
	case model.PeriodQuarterly:
		fy := s.fiscalYearStart(start)
		months := (start.Year()-fy.Year())*12 + int(start.Month()) - int(fy.Month())
		return fmt.Sprintf("%d-Q%d", fy.Year(), months/3+1)
	default:
		return fmt.Sprintf("FY%d", s.fiscalYearStart(start).Year())
	}
}
