// Package period manages accounting periods: their creation, the
// open → closing → closed lifecycle, locking, and the posting-date gate.
package period

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/cleared-dev/ledger/internal/auditlog"
	"github.com/cleared-dev/ledger/internal/closing"
	"github.com/cleared-dev/ledger/internal/id"
	"github.com/cleared-dev/ledger/internal/ledgererr"
	"github.com/cleared-dev/ledger/internal/model"
	"github.com/cleared-dev/ledger/internal/store"
	"github.com/cleared-dev/ledger/internal/trialbalance"
)

// PendingDocuments counts business documents dated within a range that
// have not reached the ledger yet, such as unposted invoices.
type PendingDocuments interface {
	CountUnposted(ctx context.Context, from, to time.Time) (int, error)
}

// NewPeriod describes a period to create. End and Name are derived from the
// type and start when empty.
type NewPeriod struct {
	Type  model.PeriodType
	Start time.Time
	End   time.Time
	Name  string
}

// Service manages accounting periods.
type Service struct {
	store      store.Store
	trial      *trialbalance.Generator
	closer     *closing.Generator
	pending    PendingDocuments
	closingFor []model.PeriodType
	admins     []string
	fyMonth    time.Month
	fyDay      int
	retry      store.RetryPolicy
	audit      auditlog.Recorder
	log        zerolog.Logger
	now        func() time.Time
	group      singleflight.Group
}

// Option configures a Service.
type Option func(*Service)

// WithPendingDocuments adds an external source of unposted documents
// consulted when closing.
func WithPendingDocuments(p PendingDocuments) Option {
	return func(s *Service) { s.pending = p }
}

// WithClosingEntriesFor sets the period types that get closing entries.
func WithClosingEntriesFor(types ...model.PeriodType) Option {
	return func(s *Service) { s.closingFor = slices.Clone(types) }
}

// WithAdmins restricts unlock and reopen to the named actors.
func WithAdmins(admins ...string) Option {
	return func(s *Service) { s.admins = slices.Clone(admins) }
}

// WithFiscalYearStart sets the first day of the fiscal year.
func WithFiscalYearStart(month time.Month, day int) Option {
	return func(s *Service) { s.fyMonth, s.fyDay = month, day }
}

// WithRetryPolicy sets the optimistic-concurrency retry bounds.
func WithRetryPolicy(p store.RetryPolicy) Option {
	return func(s *Service) { s.retry = p }
}

// WithAudit sets the audit trail recorder.
func WithAudit(r auditlog.Recorder) Option {
	return func(s *Service) {
		if r != nil {
			s.audit = r
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithClock overrides the clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates a period service. closer may be nil when no period
// type gets closing entries.
func NewService(st store.Store, trial *trialbalance.Generator, closer *closing.Generator, opts ...Option) *Service {
	s := &Service{
		store:      st,
		trial:      trial,
		closer:     closer,
		closingFor: []model.PeriodType{model.PeriodMonthly, model.PeriodQuarterly, model.PeriodYearly},
		fyMonth:    time.January,
		fyDay:      1,
		retry:      store.DefaultRetryPolicy,
		audit:      auditlog.Discard,
		log:        zerolog.Nop(),
		now:        time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) record(ctx context.Context, actor, action string, p model.Period, details string) {
	err := s.audit.Record(ctx, auditlog.Entry{
		Timestamp: s.now(),
		Actor:     actor,
		Action:    action,
		Entity:    "period",
		EntityID:  p.Name,
		Details:   details,
	})
	if err != nil {
		s.log.Warn().Err(err).Str("period", p.Name).Msg("audit record failed")
	}
}

// Create adds a period. Periods of the same type may not overlap.
func (s *Service) Create(ctx context.Context, in NewPeriod, actor string) (model.Period, error) {
	if !in.Type.Valid() {
		return model.Period{}, ledgererr.Invalid("unknown period type %q", in.Type)
	}
	if in.Start.IsZero() {
		return model.Period{}, ledgererr.Invalid("period start is required")
	}
	start := model.Day(in.Start)
	end := model.Day(in.End)
	if in.End.IsZero() {
		end = s.endFor(in.Type, start)
	}
	if end.Before(start) {
		return model.Period{}, ledgererr.Invalid("period ends %s before it starts %s", end.Format(model.DateFormat), start.Format(model.DateFormat))
	}
	name := in.Name
	if name == "" {
		name = s.nameFor(in.Type, start)
	}

	p := model.Period{
		ID:        id.New(),
		Name:      name,
		Type:      in.Type,
		Start:     start,
		End:       end,
		Status:    model.PeriodOpen,
		CreatedAt: s.now(),
	}
	err := store.RunInTx(ctx, s.store, s.retry, func(ctx context.Context, tx store.Tx) error {
		existing, err := tx.ListPeriods(ctx, store.PeriodFilter{Type: in.Type})
		if err != nil {
			return err
		}
		for _, e := range existing {
			if e.Overlaps(start, end) {
				return fmt.Errorf("%w: %s overlaps %s (%s to %s)", ledgererr.ErrOverlappingPeriod,
					name, e.Name, e.Start.Format(model.DateFormat), e.End.Format(model.DateFormat))
			}
		}
		return tx.InsertPeriod(ctx, p)
	})
	if err != nil {
		return model.Period{}, err
	}
	p.Version = 1

	s.log.Info().Str("period", p.Name).Str("type", string(p.Type)).Msg("period created")
	s.record(ctx, actor, auditlog.ActionPeriodCreate, p, fmt.Sprintf("%s to %s", start.Format(model.DateFormat), end.Format(model.DateFormat)))
	return p, nil
}

// Current returns the period of type t covering date, creating it on first
// use. Concurrent callers asking for the same period share one creation.
func (s *Service) Current(ctx context.Context, t model.PeriodType, date time.Time) (model.Period, error) {
	if !t.Valid() {
		return model.Period{}, ledgererr.Invalid("unknown period type %q", t)
	}
	date = model.Day(date)
	if p, ok, err := s.covering(ctx, t, date); err != nil || ok {
		return p, err
	}

	start := s.startFor(t, date)
	key := string(t) + "/" + start.Format(model.DateFormat)
	v, err, _ := s.group.Do(key, func() (any, error) {
		if p, ok, err := s.covering(ctx, t, date); err != nil || ok {
			return p, err
		}
		p, err := s.Create(ctx, NewPeriod{Type: t, Start: start}, "system")
		if errors.Is(err, ledgererr.ErrOverlappingPeriod) {
			if p, ok, cerr := s.covering(ctx, t, date); cerr == nil && ok {
				return p, nil
			}
		}
		return p, err
	})
	if err != nil {
		return model.Period{}, err
	}
	return v.(model.Period), nil
}

func (s *Service) covering(ctx context.Context, t model.PeriodType, date time.Time) (model.Period, bool, error) {
	ps, err := s.List(ctx, store.PeriodFilter{Type: t, Covering: date})
	if err != nil || len(ps) == 0 {
		return model.Period{}, false, err
	}
	return ps[0], true, nil
}

// Get returns a period by ID.
func (s *Service) Get(ctx context.Context, periodID string) (model.Period, error) {
	var p model.Period
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		p, err = tx.GetPeriod(ctx, periodID)
		return err
	})
	return p, err
}

// List returns periods matching f ordered by start date.
func (s *Service) List(ctx context.Context, f store.PeriodFilter) ([]model.Period, error) {
	var out []model.Period
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = tx.ListPeriods(ctx, f)
		return err
	})
	return out, err
}

// CheckPostingDate rejects dates inside a period that is closing, closed or
// locked. A closing period still accepts its own closing entries.
func (s *Service) CheckPostingDate(ctx context.Context, tx store.Tx, date time.Time, closingPeriodID string) error {
	ps, err := tx.ListPeriods(ctx, store.PeriodFilter{Covering: date})
	if err != nil {
		return err
	}
	for _, p := range ps {
		if p.Status.AcceptsPostings() {
			continue
		}
		if p.Status == model.PeriodClosing && p.ID == closingPeriodID {
			continue
		}
		return &ledgererr.PeriodStatusError{Name: p.Name, Start: p.Start, End: p.End, Status: string(p.Status)}
	}
	return nil
}

// ClosingEntriesRequired reports whether closing the period would post
// closing entries.
func (s *Service) ClosingEntriesRequired(ctx context.Context, periodID string) (bool, error) {
	p, err := s.Get(ctx, periodID)
	if err != nil {
		return false, err
	}
	if s.closer == nil || !slices.Contains(s.closingFor, p.Type) {
		return false, nil
	}
	return s.closer.Required(ctx, p.ID)
}

// transition applies fn to the stored period in a retried transaction.
func (s *Service) transition(ctx context.Context, periodID string, fn func(p *model.Period) error) (model.Period, error) {
	var out model.Period
	err := store.RunInTx(ctx, s.store, s.retry, func(ctx context.Context, tx store.Tx) error {
		p, err := tx.GetPeriod(ctx, periodID)
		if err != nil {
			return err
		}
		if err := fn(&p); err != nil {
			return err
		}
		out, err = tx.UpdatePeriod(ctx, p)
		return err
	})
	return out, err
}

func invalidMove(p model.Period, to model.PeriodStatus) error {
	return &ledgererr.TransitionError{Entity: "period " + p.Name, From: string(p.Status), To: string(to)}
}

func (s *Service) authorize(actor, action string) error {
	if len(s.admins) == 0 || slices.Contains(s.admins, actor) {
		return nil
	}
	return fmt.Errorf("%w: %s may not %s periods", ledgererr.ErrForbidden, actor, action)
}

// Lock freezes an open or closed period. The prior status is restored on unlock.
func (s *Service) Lock(ctx context.Context, periodID, actor, reason string) (model.Period, error) {
	p, err := s.transition(ctx, periodID, func(p *model.Period) error {
		if p.Status != model.PeriodOpen && p.Status != model.PeriodClosed {
			return invalidMove(*p, model.PeriodLocked)
		}
		p.PriorStatus = p.Status
		p.Status = model.PeriodLocked
		p.LockedBy = actor
		p.LockedAt = s.now()
		p.LockReason = reason
		return nil
	})
	if err != nil {
		return model.Period{}, err
	}
	s.log.Info().Str("period", p.Name).Str("actor", actor).Msg("period locked")
	s.record(ctx, actor, auditlog.ActionPeriodLock, p, reason)
	return p, nil
}

// Unlock returns a locked period to the status it had before locking.
func (s *Service) Unlock(ctx context.Context, periodID, actor string) (model.Period, error) {
	if err := s.authorize(actor, "unlock"); err != nil {
		return model.Period{}, err
	}
	p, err := s.transition(ctx, periodID, func(p *model.Period) error {
		if p.Status != model.PeriodLocked {
			return invalidMove(*p, model.PeriodOpen)
		}
		p.Status = p.PriorStatus
		if p.Status == "" {
			p.Status = model.PeriodOpen
		}
		p.PriorStatus = ""
		p.LockedBy, p.LockReason, p.LockedAt = "", "", time.Time{}
		return nil
	})
	if err != nil {
		return model.Period{}, err
	}
	s.log.Info().Str("period", p.Name).Str("actor", actor).Str("status", string(p.Status)).Msg("period unlocked")
	s.record(ctx, actor, auditlog.ActionPeriodUnlock, p, string(p.Status))
	return p, nil
}

// Reopen moves a closed period back to open.
func (s *Service) Reopen(ctx context.Context, periodID, actor string) (model.Period, error) {
	if err := s.authorize(actor, "reopen"); err != nil {
		return model.Period{}, err
	}
	p, err := s.transition(ctx, periodID, func(p *model.Period) error {
		if p.Status != model.PeriodClosed {
			return invalidMove(*p, model.PeriodOpen)
		}
		p.Status = model.PeriodOpen
		return nil
	})
	if err != nil {
		return model.Period{}, err
	}
	s.log.Warn().Str("period", p.Name).Str("actor", actor).Msg("period reopened")
	s.record(ctx, actor, auditlog.ActionPeriodReopen, p, "")
	return p, nil
}
