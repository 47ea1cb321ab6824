// Package closing generates the closing entries of an accounting period:
// revenue and expense balances are moved to income summary, and income
// summary is closed to retained earnings.
package closing

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/cleared-dev/ledger/internal/journal"
	"github.com/cleared-dev/ledger/internal/ledgererr"
	"github.com/cleared-dev/ledger/internal/model"
	"github.com/cleared-dev/ledger/internal/posting"
	"github.com/cleared-dev/ledger/internal/store"
	"github.com/cleared-dev/ledger/internal/voucher"
)

// MessageNoneRequired is returned when there is nothing to close.
const MessageNoneRequired = "none required"

// Result is the outcome of Generate. Voucher is nil when nothing was posted.
type Result struct {
	Voucher   *model.Voucher
	NetIncome decimal.Decimal
	Message   string
}

// Generator builds and posts closing vouchers.
type Generator struct {
	store    store.Store
	vouchers *voucher.Service
	roles    *posting.Resolver
	retry    store.RetryPolicy
	log      zerolog.Logger
}

// NewGenerator creates a closing entries generator.
func NewGenerator(st store.Store, vouchers *voucher.Service, roles *posting.Resolver, log zerolog.Logger) *Generator {
	return &Generator{store: st, vouchers: vouchers, roles: roles, retry: store.DefaultRetryPolicy, log: log}
}

// balancesTx returns every revenue and expense account with a non-zero
// balance at the period end, ordered by code.
func balancesTx(ctx context.Context, tx store.Tx, p model.Period) ([]Balance, error) {
	accts, err := tx.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}
	lines, err := tx.ListLines(ctx, store.LineFilter{To: p.End, Status: model.LineCompleted})
	if err != nil {
		return nil, err
	}

	bal := make(map[string]decimal.Decimal)
	byCode := make(map[string]model.Account)
	for _, a := range accts {
		if a.Type == model.AccountTypeRevenue || a.Type == model.AccountTypeExpense {
			byCode[a.Code] = a
			bal[a.Code] = a.OpeningBalance
		}
	}
	for _, l := range lines {
		if a, ok := byCode[l.AccountCode]; ok {
			bal[a.Code] = bal[a.Code].Add(a.SignedDelta(l.Debit, l.Credit))
		}
	}
	var out []Balance
	for code, b := range bal {
		if !b.IsZero() {
			out = append(out, Balance{Code: code, Type: byCode[code].Type, Balance: b})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

// closedByTx returns the posted closing voucher that already covers p: its
// own, or one of an overlapping period dated on or after p's end. Closing
// entries zero balances cumulatively, so a later closing of an enclosing
// period has already swept p's revenue and expenses.
func closedByTx(ctx context.Context, tx store.Tx, p model.Period) (*model.Voucher, error) {
	own, err := tx.ListVouchers(ctx, store.VoucherFilter{PeriodID: p.ID, ClosingOnly: true})
	if err != nil {
		return nil, err
	}
	if len(own) > 0 {
		return &own[0], nil
	}

	later, err := tx.ListVouchers(ctx, store.VoucherFilter{
		From:        p.End,
		ClosingOnly: true,
		Statuses:    []model.VoucherStatus{model.VoucherPosted},
	})
	if err != nil {
		return nil, err
	}
	for _, v := range later {
		q, err := tx.GetPeriod(ctx, v.PeriodID)
		if err != nil {
			if errors.Is(err, ledgererr.ErrNotFound) {
				continue
			}
			return nil, err
		}
		if q.Start.After(p.End) || q.End.Before(p.Start) {
			continue
		}
		return &v, nil
	}
	return nil, nil
}

// Required reports whether the period still needs closing entries.
func (g *Generator) Required(ctx context.Context, periodID string) (bool, error) {
	var required bool
	err := g.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		p, err := tx.GetPeriod(ctx, periodID)
		if err != nil {
			return err
		}
		done, err := closedByTx(ctx, tx, p)
		if err != nil || done != nil {
			return err
		}
		nominals, err := balancesTx(ctx, tx, p)
		required = len(nominals) > 0
		return err
	})
	return required, err
}

// Targets are the accounts closing entries settle into.
type Targets struct {
	IncomeSummary    string
	RetainedEarnings string
}

// Targets resolves the income summary and retained earnings accounts. It
// opens its own transaction, so call it before GenerateTx.
func (g *Generator) Targets(ctx context.Context) (Targets, error) {
	summary, err := g.roles.Code(ctx, posting.RoleIncomeSummary)
	if err != nil {
		return Targets{}, err
	}
	retained, err := g.roles.Code(ctx, posting.RoleRetainedEarnings)
	if err != nil {
		return Targets{}, err
	}
	return Targets{IncomeSummary: summary, RetainedEarnings: retained}, nil
}

// Generate posts the closing voucher of a period dated on its last day. It
// is idempotent: a period already covered by a closing voucher, or with no
// revenue or expense balance, yields MessageNoneRequired.
func (g *Generator) Generate(ctx context.Context, periodID, actor string) (Result, error) {
	targets, err := g.Targets(ctx)
	if err != nil {
		return Result{}, err
	}
	var (
		res Result
		set *model.TransactionSet
	)
	err = store.RunInTx(ctx, g.store, g.retry, func(ctx context.Context, tx store.Tx) error {
		p, err := tx.GetPeriod(ctx, periodID)
		if err != nil {
			return err
		}
		res, set, err = g.GenerateTx(ctx, tx, p, targets, actor)
		return err
	})
	if err != nil {
		return Result{}, err
	}
	g.Committed(ctx, res, set, actor)
	return res, nil
}

// GenerateTx builds and posts the closing voucher of p inside tx, so it
// commits or rolls back with the caller's work. Call Committed once tx has
// committed.
func (g *Generator) GenerateTx(ctx context.Context, tx store.Tx, p model.Period, t Targets, actor string) (Result, *model.TransactionSet, error) {
	done, err := closedByTx(ctx, tx, p)
	if err != nil {
		return Result{}, nil, err
	}
	if done != nil {
		g.log.Debug().Str("period", p.Name).Str("voucher", done.Number).Msg("period already closed by voucher")
		return Result{Message: MessageNoneRequired}, nil, nil
	}

	nominals, err := balancesTx(ctx, tx, p)
	if err != nil {
		return Result{}, nil, err
	}
	if len(nominals) == 0 {
		return Result{Message: MessageNoneRequired}, nil, nil
	}

	entries, net := Entries(nominals, t.IncomeSummary, t.RetainedEarnings)
	lines := make([]journal.LineInput, len(entries))
	for i, e := range entries {
		lines[i] = journal.LineInput{AccountCode: e.AccountCode, Debit: e.Debit, Credit: e.Credit}
	}
	if err := journal.CheckBalance(journal.Totals(lines)); err != nil {
		return Result{}, nil, fmt.Errorf("closing entries for %s: %w", p.Name, err)
	}

	v, set, err := g.vouchers.CreateClosingTx(ctx, tx, voucher.ClosingDraft{
		PeriodID:    p.ID,
		Date:        p.End,
		Description: "Closing entries " + p.Name,
		Entries:     entries,
	}, actor)
	if err != nil {
		return Result{}, nil, err
	}
	return Result{Voucher: &v, NetIncome: net, Message: fmt.Sprintf("posted %s", v.Number)}, set, nil
}

// Committed logs and audits a closing voucher after its transaction commits.
func (g *Generator) Committed(ctx context.Context, res Result, set *model.TransactionSet, actor string) {
	if res.Voucher == nil {
		return
	}
	g.vouchers.ClosingPosted(ctx, *res.Voucher, set, actor)
	g.log.Info().
		Str("voucher", res.Voucher.Number).
		Str("net_income", res.NetIncome.StringFixed(2)).
		Msg("closing entries posted")
}

// Balance is a nominal account balance in its normal-balance sense.
type Balance struct {
	Code    string
	Type    model.AccountType
	Balance decimal.Decimal
}

// Entries builds closing entries for the given revenue and expense
// balances. Revenue is debited and expenses credited to zero against income
// summary, which is then closed to retained earnings. It returns the
// entries and the net income (revenue minus expenses).
func Entries(balances []Balance, incomeSummary, retainedEarnings string) ([]model.VoucherEntry, decimal.Decimal) {
	var (
		entries  []model.VoucherEntry
		revenue  = decimal.Zero
		expenses = decimal.Zero
	)
	add := func(code string, signed decimal.Decimal) {
		switch {
		case signed.IsPositive():
			entries = append(entries, model.VoucherEntry{AccountCode: code, Debit: signed})
		case signed.IsNegative():
			entries = append(entries, model.VoucherEntry{AccountCode: code, Credit: signed.Neg()})
		}
	}

	for _, b := range balances {
		switch b.Type {
		case model.AccountTypeRevenue:
			revenue = revenue.Add(b.Balance)
			add(b.Code, b.Balance)
		case model.AccountTypeExpense:
			expenses = expenses.Add(b.Balance)
			add(b.Code, b.Balance.Neg())
		}
	}

	add(incomeSummary, revenue.Neg())
	add(incomeSummary, expenses)
	net := revenue.Sub(expenses)
	add(incomeSummary, net)
	add(retainedEarnings, net.Neg())
	return entries, net
}
