package posting

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleared-dev/ledger/internal/accounts"
	"github.com/cleared-dev/ledger/internal/journal"
	"github.com/cleared-dev/ledger/internal/ledgererr"
	"github.com/cleared-dev/ledger/internal/model"
	"github.com/cleared-dev/ledger/internal/store"
)

func creditSale(t *testing.T, f fixture, amount string) model.TransactionSet {
	t.Helper()
	set, err := f.engine.Post(context.Background(), Request{
		Date:      march1,
		Kind:      model.KindInvoice,
		Reference: model.Reference{Type: "invoice", ID: "INV-7"},
		Lines:     []journal.LineInput{dr(accounts.CodeAccountsReceivable, amount), cr(accounts.CodeSalesRevenue, amount)},
	}, "clerk")
	require.NoError(t, err)
	return set
}

func TestReverse_Full(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	orig := creditSale(t, f, "200.00")

	rev, err := f.engine.Reverse(ctx, orig.ID, "entered twice", "clerk")
	require.NoError(t, err)
	assert.Equal(t, model.KindReversal, rev.Kind)
	assert.Equal(t, orig.ID, rev.ReversalOf)
	require.Len(t, rev.Lines, 2)
	assert.Equal(t, accounts.CodeAccountsReceivable, rev.Lines[0].AccountCode)
	assert.Equal(t, "200.00", rev.Lines[0].Credit.StringFixed(2))
	assert.True(t, rev.Lines[0].Debit.IsZero())
	assert.Equal(t, "200.00", rev.Lines[1].Debit.StringFixed(2))

	assert.Equal(t, "0.00", f.balance(t, accounts.CodeAccountsReceivable))
	assert.Equal(t, "0.00", f.balance(t, accounts.CodeSalesRevenue))

	got, err := f.engine.Get(ctx, orig.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SetReversed, got.Status)
	assert.Equal(t, "200.00", got.ReversedAmount.StringFixed(2))

	_, err = f.engine.Reverse(ctx, orig.ID, "again", "clerk")
	assert.ErrorIs(t, err, ledgererr.ErrAlreadyReversed)

	_, err = f.engine.Reverse(ctx, rev.ID, "undo the undo", "clerk")
	assert.ErrorIs(t, err, ledgererr.ErrAlreadyReversed)
	assert.Equal(t, ledgererr.KindStateConflict, ledgererr.KindOf(err))

	linked, err := f.engine.List(ctx, store.SetFilter{ReversalOf: orig.ID})
	require.NoError(t, err)
	assert.Len(t, linked, 1)
}

func TestReverse_RequiresReason(t *testing.T) {
	f := newFixture(t, nil)
	orig := creditSale(t, f, "10.00")
	_, err := f.engine.Reverse(context.Background(), orig.ID, " ", "clerk")
	assert.ErrorIs(t, err, ledgererr.ErrInvalidInput)

	_, err = f.engine.Reverse(context.Background(), "missing", "typo", "clerk")
	assert.ErrorIs(t, err, ledgererr.ErrNotFound)
}

func TestReversePartial(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	orig := creditSale(t, f, "100.00")

	rev, err := f.engine.ReversePartial(ctx, orig.ID, d("40"), "damaged goods", "clerk")
	require.NoError(t, err)
	debits, credits := rev.Totals()
	assert.Equal(t, "40.00", debits.StringFixed(2))
	assert.Equal(t, "40.00", credits.StringFixed(2))
	assert.Equal(t, "60.00", f.balance(t, accounts.CodeAccountsReceivable))

	got, err := f.engine.Get(ctx, orig.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SetPartiallyReversed, got.Status)
	assert.Equal(t, "60.00", got.OpenAmount().StringFixed(2))

	_, err = f.engine.ReversePartial(ctx, orig.ID, d("60.01"), "too much", "clerk")
	require.ErrorIs(t, err, ledgererr.ErrOverReversal)

	_, err = f.engine.ReversePartial(ctx, orig.ID, d("60"), "rest", "clerk")
	require.NoError(t, err)
	got, err = f.engine.Get(ctx, orig.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SetReversed, got.Status)
	assert.Equal(t, "0.00", f.balance(t, accounts.CodeAccountsReceivable))

	_, err = f.engine.ReversePartial(ctx, orig.ID, d("0.01"), "more", "clerk")
	assert.ErrorIs(t, err, ledgererr.ErrAlreadyReversed)
}

func TestReverse_AfterPartialTakesRemainder(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	orig := creditSale(t, f, "90.00")

	_, err := f.engine.ReversePartial(ctx, orig.ID, d("30"), "return", "clerk")
	require.NoError(t, err)
	rev, err := f.engine.Reverse(ctx, orig.ID, "cancelled", "clerk")
	require.NoError(t, err)
	assert.Equal(t, "60.00", rev.Total.StringFixed(2))
	assert.Equal(t, "0.00", f.balance(t, accounts.CodeSalesRevenue))
}

func TestReversePartial_SlicesLeaveNoResidue(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	orig, err := f.engine.Post(ctx, Request{
		Date:      march1,
		Kind:      model.KindInvoice,
		Reference: model.Reference{Type: "invoice", ID: "INV-9"},
		Lines: []journal.LineInput{
			dr(accounts.CodeCash, "1.00"),
			dr(accounts.CodeAccountsReceivable, "1.00"),
			dr(accounts.CodeBank, "1.00"),
			cr(accounts.CodeSalesRevenue, "3.00"),
		},
	}, "clerk")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := f.engine.ReversePartial(ctx, orig.ID, d("1.00"), "instalment refund", "clerk")
		require.NoError(t, err, "slice %d", i+1)
	}

	got, err := f.engine.Get(ctx, orig.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SetReversed, got.Status)
	for _, code := range []string{accounts.CodeCash, accounts.CodeAccountsReceivable, accounts.CodeBank, accounts.CodeSalesRevenue} {
		assert.Equal(t, "0.00", f.balance(t, code), code)
	}
}

func TestRemainingLines(t *testing.T) {
	lines := []model.Line{
		{AccountCode: "1001", Debit: d("1.00")},
		{AccountCode: "1100", Debit: d("1.00")},
		{AccountCode: "4001", Credit: d("2.00")},
	}
	reversed := []model.Line{
		{AccountCode: "1001", Credit: d("0.67")},
		{AccountCode: "1100", Credit: d("1.02")},
		{AccountCode: "4001", Debit: d("1.69")},
	}
	out := RemainingLines(lines, reversed)
	require.Len(t, out, 3)
	assert.Equal(t, "0.33", out[0].Debit.StringFixed(2))
	assert.Equal(t, "4001", out[1].AccountCode)
	assert.Equal(t, "0.31", out[1].Credit.StringFixed(2))
	assert.Equal(t, "1100", out[2].AccountCode)
	assert.Equal(t, "0.02", out[2].Credit.StringFixed(2), "overshoot comes back on the other side")

	debits, credits := journal.Totals(out)
	assert.True(t, debits.Equal(credits))
}

func TestReversePartial_Rejects(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	journalSet, err := f.engine.Post(ctx, Request{
		Date:  march1,
		Lines: []journal.LineInput{dr("5100", "50"), cr(accounts.CodeCash, "50")},
	}, "clerk")
	require.NoError(t, err)
	_, err = f.engine.ReversePartial(ctx, journalSet.ID, d("10"), "x", "clerk")
	assert.ErrorIs(t, err, ledgererr.ErrInvalidInput, "journal sets are not invoice-like")

	inv := creditSale(t, f, "50.00")
	for _, amt := range []string{"0", "-1", "1.001"} {
		_, err = f.engine.ReversePartial(ctx, inv.ID, d(amt), "x", "clerk")
		assert.ErrorIs(t, err, ledgererr.ErrInvalidInput, amt)
	}
}

func TestScaleLines_LastLineAbsorbsRounding(t *testing.T) {
	lines := []model.Line{
		{AccountCode: "1100", Debit: d("100.00")},
		{AccountCode: "4001", Credit: d("33.33")},
		{AccountCode: "4100", Credit: d("33.33")},
		{AccountCode: "4900", Credit: d("33.34")},
	}
	out := ScaleLines(lines, d("100"), d("10"))
	require.Len(t, out, 4)
	assert.Equal(t, "10.00", out[0].Debit.StringFixed(2))
	assert.Equal(t, "3.33", out[1].Credit.StringFixed(2))
	assert.Equal(t, "3.33", out[2].Credit.StringFixed(2))
	assert.Equal(t, "3.34", out[3].Credit.StringFixed(2))

	debits, credits := journal.Totals(out)
	assert.True(t, debits.Equal(credits))
}

func TestScaleLines_DropsZeroLines(t *testing.T) {
	lines := []model.Line{
		{AccountCode: "1100", Debit: d("1000.00")},
		{AccountCode: "4001", Credit: d("999.99")},
		{AccountCode: "4900", Credit: d("0.01")},
	}
	out := ScaleLines(lines, d("1000"), d("1"))
	debits, credits := journal.Totals(out)
	assert.Equal(t, "1.00", debits.StringFixed(2))
	assert.Equal(t, "1.00", credits.StringFixed(2))
	for _, l := range out {
		assert.False(t, l.Debit.IsZero() && l.Credit.IsZero())
	}
}
