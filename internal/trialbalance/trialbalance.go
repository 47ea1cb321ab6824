// Package trialbalance replays the ledger into a trial balance and checks
// that total debits equal total credits.
package trialbalance

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/cleared-dev/ledger/internal/ledgererr"
	"github.com/cleared-dev/ledger/internal/model"
	"github.com/cleared-dev/ledger/internal/store"
)

// Row is one account in the trial balance.
type Row struct {
	Code          string
	Name          string
	Type          model.AccountType
	NormalBalance model.NormalBalance
	Balance       decimal.Decimal // normal-balance sense
	Debit         decimal.Decimal
	Credit        decimal.Decimal
}

// Mismatch is an account whose stored balance disagrees with a full replay
// of its lines.
type Mismatch struct {
	Code     string
	Cached   decimal.Decimal
	Replayed decimal.Decimal
}

// TrialBalance is the ledger's debit and credit columns at a date.
type TrialBalance struct {
	AsOf         time.Time
	Rows         []Row
	TotalDebits  decimal.Decimal
	TotalCredits decimal.Decimal
	IsBalanced   bool
	Mismatches   []Mismatch
}

// Difference is total debits minus total credits.
func (tb TrialBalance) Difference() decimal.Decimal {
	return tb.TotalDebits.Sub(tb.TotalCredits)
}

// Err returns an UnbalancedError when the columns disagree.
func (tb TrialBalance) Err() error {
	if tb.IsBalanced {
		return nil
	}
	return &ledgererr.UnbalancedError{Debits: tb.TotalDebits, Credits: tb.TotalCredits}
}

// Generator builds trial balances from a store.
type Generator struct {
	store store.Store
	log   zerolog.Logger
}

// Option configures a Generator.
type Option func(*Generator)

// WithLogger sets the generator logger.
func WithLogger(l zerolog.Logger) Option {
	return func(g *Generator) { g.log = l }
}

// NewGenerator creates a trial balance generator.
func NewGenerator(st store.Store, opts ...Option) *Generator {
	g := &Generator{store: st, log: zerolog.Nop()}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Generate replays every account up to and including asOf.
func (g *Generator) Generate(ctx context.Context, asOf time.Time) (TrialBalance, error) {
	var tb TrialBalance
	err := g.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		tb, err = g.GenerateTx(ctx, tx, asOf)
		return err
	})
	return tb, err
}

// Validate generates the trial balance and fails with an UnbalancedError
// carrying the exact discrepancy when it does not balance.
func (g *Generator) Validate(ctx context.Context, asOf time.Time) (TrialBalance, error) {
	tb, err := g.Generate(ctx, asOf)
	if err != nil {
		return TrialBalance{}, err
	}
	return tb, tb.Err()
}

// ValidateTx is Validate inside an existing transaction.
func (g *Generator) ValidateTx(ctx context.Context, tx store.Tx, asOf time.Time) (TrialBalance, error) {
	tb, err := g.GenerateTx(ctx, tx, asOf)
	if err != nil {
		return TrialBalance{}, err
	}
	return tb, tb.Err()
}

// GenerateTx builds the trial balance inside tx. Balances are replayed from
// the opening balance and completed lines; the stored current balance is
// only cross-checked. Inactive accounts appear only while they carry a balance.
func (g *Generator) GenerateTx(ctx context.Context, tx store.Tx, asOf time.Time) (TrialBalance, error) {
	asOf = model.Day(asOf)
	accts, err := tx.ListAccounts(ctx)
	if err != nil {
		return TrialBalance{}, err
	}
	lines, err := tx.ListLines(ctx, store.LineFilter{Status: model.LineCompleted})
	if err != nil {
		return TrialBalance{}, err
	}

	type sums struct{ asOf, all decimal.Decimal }
	byCode := make(map[string]model.Account, len(accts))
	replay := make(map[string]*sums, len(accts))
	for _, a := range accts {
		byCode[a.Code] = a
		replay[a.Code] = &sums{asOf: a.OpeningBalance, all: a.OpeningBalance}
	}
	for _, l := range lines {
		a, ok := byCode[l.AccountCode]
		if !ok {
			g.log.Warn().Str("account", l.AccountCode).Str("line", l.ID).Msg("line references unknown account")
			continue
		}
		delta := a.SignedDelta(l.Debit, l.Credit)
		s := replay[a.Code]
		s.all = s.all.Add(delta)
		if !l.Date.After(asOf) {
			s.asOf = s.asOf.Add(delta)
		}
	}

	tb := TrialBalance{AsOf: asOf, TotalDebits: decimal.Zero, TotalCredits: decimal.Zero}
	for _, a := range accts {
		s := replay[a.Code]
		if !s.all.Equal(a.CurrentBalance) {
			tb.Mismatches = append(tb.Mismatches, Mismatch{Code: a.Code, Cached: a.CurrentBalance, Replayed: s.all})
			g.log.Warn().
				Str("account", a.Code).
				Str("cached", a.CurrentBalance.StringFixed(2)).
				Str("replayed", s.all.StringFixed(2)).
				Msg("stored balance differs from replayed lines")
		}
		if !a.IsActive && s.asOf.IsZero() {
			continue
		}
		debit, credit := a.Columns(s.asOf)
		tb.Rows = append(tb.Rows, Row{
			Code:          a.Code,
			Name:          a.Name,
			Type:          a.Type,
			NormalBalance: a.NormalBalance,
			Balance:       s.asOf,
			Debit:         debit,
			Credit:        credit,
		})
		tb.TotalDebits = tb.TotalDebits.Add(debit)
		tb.TotalCredits = tb.TotalCredits.Add(credit)
	}
	sort.Slice(tb.Rows, func(i, j int) bool { return tb.Rows[i].Code < tb.Rows[j].Code })
	tb.IsBalanced = model.Balanced(tb.TotalDebits, tb.TotalCredits)

	if !tb.IsBalanced {
		g.log.Error().
			Str("as_of", asOf.Format(model.DateFormat)).
			Str("debits", tb.TotalDebits.StringFixed(2)).
			Str("credits", tb.TotalCredits.StringFixed(2)).
			Msg("trial balance does not balance")
	}
	return tb, nil
}
