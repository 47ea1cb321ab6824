// Package posting is the ledger posting engine: it turns balanced sets of
// lines into persisted transaction sets and account balance changes.
package posting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/cleared-dev/ledger/internal/accounts"
	"github.com/cleared-dev/ledger/internal/auditlog"
	"github.com/cleared-dev/ledger/internal/id"
	"github.com/cleared-dev/ledger/internal/journal"
	"github.com/cleared-dev/ledger/internal/ledgererr"
	"github.com/cleared-dev/ledger/internal/model"
	"github.com/cleared-dev/ledger/internal/store"
)

// PeriodGuard decides whether a posting date is accepted. closingPeriodID
// is set only for the closing entries of that period.
type PeriodGuard interface {
	CheckPostingDate(ctx context.Context, tx store.Tx, date time.Time, closingPeriodID string) error
}

// Request is one business event to post.
type Request struct {
	Date        time.Time
	Kind        model.SetKind
	Reference   model.Reference
	Description string
	Lines       []journal.LineInput
	VoucherID   string
	// ClosingPeriodID marks the closing entries of a period being closed.
	ClosingPeriodID string
	ReversalOf      string
}

// Engine posts transaction sets.
type Engine struct {
	store    store.Store
	accounts *accounts.Service
	guard    PeriodGuard
	retry    store.RetryPolicy
	audit    auditlog.Recorder
	log      zerolog.Logger
	now      func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithPeriodGuard sets the period gate consulted before persisting.
func WithPeriodGuard(g PeriodGuard) Option {
	return func(e *Engine) { e.guard = g }
}

// WithRetryPolicy sets the optimistic-concurrency retry bounds.
func WithRetryPolicy(p store.RetryPolicy) Option {
	return func(e *Engine) { e.retry = p }
}

// WithAudit sets the audit trail recorder.
func WithAudit(r auditlog.Recorder) Option {
	return func(e *Engine) {
		if r != nil {
			e.audit = r
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithClock overrides the clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine creates a posting engine.
func NewEngine(st store.Store, accts *accounts.Service, opts ...Option) *Engine {
	e := &Engine{
		store:    st,
		accounts: accts,
		retry:    store.DefaultRetryPolicy,
		audit:    auditlog.Discard,
		log:      zerolog.Nop(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// SetPeriodGuard installs the period gate after construction; the period
// service itself depends on the engine.
func (e *Engine) SetPeriodGuard(g PeriodGuard) { e.guard = g }

// Store returns the store the engine posts to.
func (e *Engine) Store() store.Store { return e.store }

// RetryPolicy returns the engine's retry bounds.
func (e *Engine) RetryPolicy() store.RetryPolicy { return e.retry }

// Post validates and persists req as one atomic transaction set, retrying
// on write conflicts.
func (e *Engine) Post(ctx context.Context, req Request, actor string) (model.TransactionSet, error) {
	if err := precheck(req); err != nil {
		return model.TransactionSet{}, err
	}

	var set model.TransactionSet
	err := store.RunInTx(ctx, e.store, e.retry, func(ctx context.Context, tx store.Tx) error {
		var err error
		set, err = e.PostTx(ctx, tx, req, actor)
		return err
	})
	if err != nil {
		return model.TransactionSet{}, err
	}
	e.Posted(ctx, set, auditlog.ActionPost, actor)
	return set, nil
}

// Posted logs and audits a committed set. Callers that post through PostTx
// call it after their own transaction commits.
func (e *Engine) Posted(ctx context.Context, set model.TransactionSet, action, actor string) {
	e.log.Info().
		Str("set", set.Number).
		Str("kind", string(set.Kind)).
		Str("total", set.Total.StringFixed(2)).
		Int("lines", len(set.Lines)).
		Str("actor", actor).
		Msg("transaction set posted")

	details := fmt.Sprintf("%s %s total %s", set.Kind, set.Reference, set.Total.StringFixed(2))
	err := e.audit.Record(ctx, auditlog.Entry{
		Timestamp: e.now(),
		Actor:     actor,
		Action:    action,
		Entity:    "transaction_set",
		EntityID:  set.Number,
		Details:   details,
	})
	if err != nil {
		e.log.Warn().Err(err).Str("set", set.Number).Msg("audit record failed")
	}
}

func precheck(req Request) error {
	if req.Date.IsZero() {
		return ledgererr.Invalid("posting date is required")
	}
	if len(req.Lines) == 0 {
		return ledgererr.ErrEmptyPosting
	}
	if errs := journal.ValidateLines(req.Lines); len(errs) > 0 {
		return errs
	}
	return nil
}

// PostTx performs the posting inside an existing transaction. Steps run in
// order: line shape, account validation, balance, period gate, persist,
// balance deltas, integrity re-check.
func (e *Engine) PostTx(ctx context.Context, tx store.Tx, req Request, actor string) (model.TransactionSet, error) {
	if err := precheck(req); err != nil {
		return model.TransactionSet{}, err
	}

	accts := make([]model.Account, len(req.Lines))
	for i, l := range req.Lines {
		a, err := e.accounts.ValidatePostable(ctx, tx, l.AccountCode)
		if err != nil {
			return model.TransactionSet{}, err
		}
		accts[i] = a
	}

	debits, credits := journal.Totals(req.Lines)
	if err := journal.CheckBalance(debits, credits); err != nil {
		return model.TransactionSet{}, err
	}

	date := model.Day(req.Date)
	if e.guard != nil {
		if err := e.guard.CheckPostingDate(ctx, tx, date, req.ClosingPeriodID); err != nil {
			return model.TransactionSet{}, err
		}
	}

	set, err := e.persist(ctx, tx, req, accts, date, debits, actor)
	if err != nil {
		return model.TransactionSet{}, err
	}

	for i, l := range set.Lines {
		delta := accts[i].SignedDelta(l.Debit, l.Credit)
		if err := e.accounts.ApplyBalanceDelta(ctx, tx, l.AccountCode, delta, actor); err != nil {
			return model.TransactionSet{}, err
		}
	}

	if err := e.verify(ctx, tx, set); err != nil {
		return model.TransactionSet{}, err
	}
	return set, nil
}

func (e *Engine) persist(ctx context.Context, tx store.Tx, req Request, accts []model.Account, date time.Time, total decimal.Decimal, actor string) (model.TransactionSet, error) {
	seq, err := tx.NextSequence(ctx, id.SequenceName(id.PrefixTransactionSet, date.Year()))
	if err != nil {
		return model.TransactionSet{}, err
	}

	kind := req.Kind
	if kind == "" {
		kind = model.KindJournal
	}
	now := e.now()
	setID := id.New()
	set := model.TransactionSet{
		ID:          setID,
		Number:      id.FormatNumber(id.PrefixTransactionSet, date.Year(), seq),
		Kind:        kind,
		Date:        date,
		Reference:   req.Reference,
		Description: req.Description,
		Status:      model.SetPosted,
		Total:       total,
		ReversalOf:  req.ReversalOf,
		VoucherID:   req.VoucherID,
		PostedBy:    actor,
		PostedAt:    now,
		Version:     1,
	}
	for i, l := range req.Lines {
		desc := l.Description
		if desc == "" {
			desc = req.Description
		}
		set.Lines = append(set.Lines, model.Line{
			ID:          id.LineID(setID, i),
			SetID:       setID,
			Seq:         i,
			AccountCode: accts[i].Code,
			Debit:       l.Debit,
			Credit:      l.Credit,
			Description: desc,
			Reference:   req.Reference,
			Date:        date,
			Status:      model.LineCompleted,
			CreatedAt:   now,
		})
	}

	if err := tx.InsertSet(ctx, set); err != nil {
		return model.TransactionSet{}, fmt.Errorf("persisting transaction set: %w", err)
	}
	return set, nil
}

// verify re-reads the persisted lines. A set that does not come back intact
// and balanced is deleted and the whole transaction fails.
func (e *Engine) verify(ctx context.Context, tx store.Tx, set model.TransactionSet) error {
	persisted, err := tx.ListLines(ctx, store.LineFilter{SetID: set.ID})
	if err != nil {
		return err
	}

	var problem error
	switch {
	case len(persisted) != len(set.Lines):
		problem = fmt.Errorf("%d of %d lines persisted", len(persisted), len(set.Lines))
	default:
		problem = journal.ValidateSet(persisted)
	}
	if problem == nil {
		return nil
	}

	debits, credits := model.SumLines(persisted)
	e.log.Error().
		Err(problem).
		Str("set", set.Number).
		Str("debits", debits.StringFixed(2)).
		Str("credits", credits.StringFixed(2)).
		Msg("integrity check failed, rolling back transaction set")

	if derr := tx.DeleteSet(ctx, set.ID); derr != nil && !errors.Is(derr, ledgererr.ErrNotFound) {
		e.log.Error().Err(derr).Str("set", set.Number).Msg("compensating delete failed")
	}
	return fmt.Errorf("%w: set %s: %v", ledgererr.ErrIntegrity, set.Number, problem)
}

// Get returns a transaction set with its lines.
func (e *Engine) Get(ctx context.Context, setID string) (model.TransactionSet, error) {
	var set model.TransactionSet
	err := e.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		set, err = tx.GetSet(ctx, setID)
		return err
	})
	return set, err
}

// Find returns a set by ID or by its document number.
func (e *Engine) Find(ctx context.Context, ref string) (model.TransactionSet, error) {
	if _, _, _, err := id.ParseNumber(ref); err != nil {
		return e.Get(ctx, ref)
	}
	sets, err := e.List(ctx, store.SetFilter{})
	if err != nil {
		return model.TransactionSet{}, err
	}
	for _, s := range sets {
		if s.Number == ref {
			return e.Get(ctx, s.ID)
		}
	}
	return model.TransactionSet{}, fmt.Errorf("transaction set %s: %w", ref, ledgererr.ErrNotFound)
}

// List returns transaction set headers matching f.
func (e *Engine) List(ctx context.Context, f store.SetFilter) ([]model.TransactionSet, error) {
	var sets []model.TransactionSet
	err := e.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		sets, err = tx.ListSets(ctx, f)
		return err
	})
	return sets, err
}

// BalanceAsOf replays an account's balance: opening balance plus every
// completed line dated on or before asOf, in the account's normal-balance sense.
func (e *Engine) BalanceAsOf(ctx context.Context, code string, asOf time.Time) (decimal.Decimal, error) {
	var bal decimal.Decimal
	err := e.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		a, err := tx.GetAccount(ctx, model.CanonicalCode(code))
		if errors.Is(err, ledgererr.ErrNotFound) {
			return ledgererr.Account(model.CanonicalCode(code), ledgererr.ErrNotFound)
		}
		if err != nil {
			return err
		}
		lines, err := tx.ListLines(ctx, store.LineFilter{AccountCode: a.Code, To: asOf, Status: model.LineCompleted})
		if err != nil {
			return err
		}
		bal = a.OpeningBalance
		for _, l := range lines {
			bal = bal.Add(a.SignedDelta(l.Debit, l.Credit))
		}
		return nil
	})
	return bal, err
}
