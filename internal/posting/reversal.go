package posting

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/cleared-dev/ledger/internal/auditlog"
	"github.com/cleared-dev/ledger/internal/journal"
	"github.com/cleared-dev/ledger/internal/ledgererr"
	"github.com/cleared-dev/ledger/internal/model"
	"github.com/cleared-dev/ledger/internal/store"
)

// Reverse posts a set that swaps every debit and credit of the original's
// remaining open amount and marks the original reversed. The reversal is
// dated today so it lands in an open period even when the original's is closed.
func (e *Engine) Reverse(ctx context.Context, setID, reason, actor string) (model.TransactionSet, error) {
	if strings.TrimSpace(reason) == "" {
		return model.TransactionSet{}, ledgererr.Invalid("reversal reason is required")
	}

	var rev model.TransactionSet
	err := store.RunInTx(ctx, e.store, e.retry, func(ctx context.Context, tx store.Tx) error {
		orig, err := e.reversible(ctx, tx, setID)
		if err != nil {
			return err
		}
		rev, err = e.reverseTx(ctx, tx, orig, orig.OpenAmount(), reason, actor)
		return err
	})
	if err != nil {
		return model.TransactionSet{}, err
	}
	e.Posted(ctx, rev, auditlog.ActionReverse, actor)
	return rev, nil
}

// ReversePartial reverses amount of an invoice-like set. Lines are scaled
// proportionally and rounded to cents; the last line on each side absorbs
// the rounding so the reversal balances exactly. The slice that consumes the
// rest reverses what is left of each line, so no cent stays behind.
func (e *Engine) ReversePartial(ctx context.Context, setID string, amount decimal.Decimal, reason, actor string) (model.TransactionSet, error) {
	if strings.TrimSpace(reason) == "" {
		return model.TransactionSet{}, ledgererr.Invalid("reversal reason is required")
	}
	if !amount.IsPositive() {
		return model.TransactionSet{}, ledgererr.Invalid("reversal amount must be positive")
	}
	if !amount.Equal(amount.Round(2)) {
		return model.TransactionSet{}, ledgererr.Invalid("reversal amount %s has more than 2 decimal places", amount)
	}

	var rev model.TransactionSet
	err := store.RunInTx(ctx, e.store, e.retry, func(ctx context.Context, tx store.Tx) error {
		orig, err := e.reversible(ctx, tx, setID)
		if err != nil {
			return err
		}
		if !orig.Kind.InvoiceLike() {
			return ledgererr.Invalid("%s sets cannot be partially reversed", orig.Kind)
		}
		if amount.GreaterThan(orig.OpenAmount()) {
			return fmt.Errorf("%w: %s requested, %s open on %s",
				ledgererr.ErrOverReversal, amount.StringFixed(2), orig.OpenAmount().StringFixed(2), orig.Number)
		}
		rev, err = e.reverseTx(ctx, tx, orig, amount, reason, actor)
		return err
	})
	if err != nil {
		return model.TransactionSet{}, err
	}
	e.Posted(ctx, rev, auditlog.ActionReversePartial, actor)
	return rev, nil
}

func (e *Engine) reversible(ctx context.Context, tx store.Tx, setID string) (model.TransactionSet, error) {
	orig, err := tx.GetSet(ctx, setID)
	if err != nil {
		if errors.Is(err, ledgererr.ErrNotFound) {
			return model.TransactionSet{}, fmt.Errorf("transaction set %s: %w", setID, err)
		}
		return model.TransactionSet{}, err
	}
	if orig.Kind == model.KindReversal || orig.ReversalOf != "" {
		return model.TransactionSet{}, fmt.Errorf("%w: %s is itself a reversal", ledgererr.ErrAlreadyReversed, orig.Number)
	}
	if orig.Status == model.SetReversed || !orig.OpenAmount().IsPositive() {
		return model.TransactionSet{}, fmt.Errorf("%w: %s", ledgererr.ErrAlreadyReversed, orig.Number)
	}
	return orig, nil
}

func (e *Engine) reverseTx(ctx context.Context, tx store.Tx, orig model.TransactionSet, amount decimal.Decimal, reason, actor string) (model.TransactionSet, error) {
	var lines []journal.LineInput
	if orig.ReversedAmount.IsPositive() && amount.Equal(orig.OpenAmount()) {
		prior, err := e.reversedLines(ctx, tx, orig.ID)
		if err != nil {
			return model.TransactionSet{}, err
		}
		lines = RemainingLines(orig.Lines, prior)
	} else {
		lines = ScaleLines(orig.Lines, orig.Total, amount)
	}
	for i := range lines {
		lines[i].Debit, lines[i].Credit = lines[i].Credit, lines[i].Debit
	}

	rev, err := e.PostTx(ctx, tx, Request{
		Date:        e.now(),
		Kind:        model.KindReversal,
		Reference:   model.Reference{Type: "reversal", ID: orig.Number},
		Description: fmt.Sprintf("Reversal of %s: %s", orig.Number, reason),
		Lines:       lines,
		ReversalOf:  orig.ID,
	}, actor)
	if err != nil {
		return model.TransactionSet{}, err
	}

	orig.ReversedAmount = orig.ReversedAmount.Add(amount)
	orig.Status = model.SetPartiallyReversed
	if !orig.OpenAmount().IsPositive() {
		orig.Status = model.SetReversed
	}
	if _, err := tx.UpdateSet(ctx, orig); err != nil {
		return model.TransactionSet{}, err
	}
	return rev, nil
}

func (e *Engine) reversedLines(ctx context.Context, tx store.Tx, origID string) ([]model.Line, error) {
	revs, err := tx.ListSets(ctx, store.SetFilter{ReversalOf: origID})
	if err != nil {
		return nil, fmt.Errorf("listing reversals of %s: %w", origID, err)
	}
	var out []model.Line
	for _, r := range revs {
		lines, err := tx.ListLines(ctx, store.LineFilter{SetID: r.ID})
		if err != nil {
			return nil, fmt.Errorf("loading lines of %s: %w", r.Number, err)
		}
		out = append(out, lines...)
	}
	return out, nil
}

// RemainingLines returns what is still unreversed of each original line,
// given the lines of the reversals already posted against it. Reversal
// lines sit on the opposite side of the line they undo. A line whose
// earlier slices overshot by a rounding cent comes back on the other side.
func RemainingLines(lines, reversed []model.Line) []journal.LineInput {
	type key struct {
		code  string
		debit bool
	}
	undone := make(map[key]decimal.Decimal)
	for _, r := range reversed {
		if r.Credit.IsPositive() {
			k := key{r.AccountCode, true}
			undone[k] = undone[k].Add(r.Credit)
		}
		if r.Debit.IsPositive() {
			k := key{r.AccountCode, false}
			undone[k] = undone[k].Add(r.Debit)
		}
	}

	out := make([]journal.LineInput, 0, len(lines))
	for _, l := range lines {
		k := key{l.AccountCode, l.Debit.IsPositive()}
		orig := l.Debit.Add(l.Credit)
		take := decimal.Min(orig, undone[k])
		undone[k] = undone[k].Sub(take)
		left := orig.Sub(take)
		if left.IsZero() {
			continue
		}
		in := journal.LineInput{AccountCode: l.AccountCode, Description: l.Description}
		if k.debit {
			in.Debit = left
		} else {
			in.Credit = left
		}
		out = append(out, in)
	}
	// Overshoot left in undone is owed back on the opposite side.
	for _, l := range lines {
		k := key{l.AccountCode, l.Debit.IsPositive()}
		over := undone[k]
		if !over.IsPositive() {
			continue
		}
		undone[k] = decimal.Zero
		in := journal.LineInput{AccountCode: l.AccountCode, Description: l.Description}
		if k.debit {
			in.Credit = over
		} else {
			in.Debit = over
		}
		out = append(out, in)
	}
	return out
}

// ScaleLines returns inputs for lines scaled from total to amount. Each side
// is rounded to cents independently and its last non-zero line takes the
// remainder so both sides sum to exactly amount. Lines that scale to zero are
// dropped.
func ScaleLines(lines []model.Line, total, amount decimal.Decimal) []journal.LineInput {
	out := make([]journal.LineInput, 0, len(lines))
	for _, l := range lines {
		out = append(out, journal.LineInput{
			AccountCode: l.AccountCode,
			Debit:       l.Debit,
			Credit:      l.Credit,
			Description: l.Description,
		})
	}
	if amount.Equal(total) || total.IsZero() {
		return out
	}

	ratio := amount.Div(total)
	scaleSide(out, ratio, amount, func(l *journal.LineInput) *decimal.Decimal { return &l.Debit })
	scaleSide(out, ratio, amount, func(l *journal.LineInput) *decimal.Decimal { return &l.Credit })

	kept := out[:0]
	for _, l := range out {
		if l.Debit.IsZero() && l.Credit.IsZero() {
			continue
		}
		kept = append(kept, l)
	}
	return kept
}

func scaleSide(lines []journal.LineInput, ratio, target decimal.Decimal, side func(*journal.LineInput) *decimal.Decimal) {
	last := -1
	sum := decimal.Zero
	for i := range lines {
		v := side(&lines[i])
		if v.IsZero() {
			continue
		}
		*v = v.Mul(ratio).Round(2)
		sum = sum.Add(*v)
		last = i
	}
	if last >= 0 {
		v := side(&lines[last])
		*v = v.Add(target.Sub(sum))
	}
}
