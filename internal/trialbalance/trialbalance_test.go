package trialbalance

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleared-dev/ledger/internal/accounts"
	"github.com/cleared-dev/ledger/internal/journal"
	"github.com/cleared-dev/ledger/internal/ledgererr"
	"github.com/cleared-dev/ledger/internal/posting"
	"github.com/cleared-dev/ledger/internal/store"
)

func day(m time.Month, d int) time.Time { return time.Date(2025, m, d, 0, 0, 0, 0, time.UTC) }

func amt(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fixture struct {
	st       *store.Memory
	accounts *accounts.Service
	engine   *posting.Engine
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	st := store.NewMemory()
	accts := accounts.NewService(st)
	_, err := accts.Seed(context.Background(), accounts.DefaultChart())
	require.NoError(t, err)
	return fixture{st: st, accounts: accts, engine: posting.NewEngine(st, accts)}
}

func (f fixture) post(t *testing.T, date time.Time, lines ...journal.LineInput) {
	t.Helper()
	_, err := f.engine.Post(context.Background(), posting.Request{Date: date, Lines: lines}, "tester")
	require.NoError(t, err)
}

func debit(code, a string) journal.LineInput  { return journal.LineInput{AccountCode: code, Debit: amt(a)} }
func credit(code, a string) journal.LineInput { return journal.LineInput{AccountCode: code, Credit: amt(a)} }

func row(t *testing.T, tb TrialBalance, code string) Row {
	t.Helper()
	for _, r := range tb.Rows {
		if r.Code == code {
			return r
		}
	}
	t.Fatalf("no row for %s", code)
	return Row{}
}

func TestGenerate_Balanced(t *testing.T) {
	f := newFixture(t)
	f.post(t, day(3, 1),
		debit(accounts.CodeCash, "1000"), credit(accounts.CodeSalesRevenue, "1000"),
		debit(accounts.CodeCostOfGoodsSold, "600"), credit(accounts.CodeInventory, "600"))
	f.post(t, day(3, 2), debit("5100", "250"), credit(accounts.CodeBank, "250"))

	tb, err := NewGenerator(f.st).Validate(context.Background(), day(3, 31))
	require.NoError(t, err)
	assert.True(t, tb.IsBalanced)
	assert.Equal(t, "1850.00", tb.TotalDebits.StringFixed(2))
	assert.Equal(t, "1850.00", tb.TotalCredits.StringFixed(2))
	assert.Empty(t, tb.Mismatches)

	inv := row(t, tb, accounts.CodeInventory)
	assert.Equal(t, "-600.00", inv.Balance.StringFixed(2))
	assert.True(t, inv.Debit.IsZero())
	assert.Equal(t, "600.00", inv.Credit.StringFixed(2), "negative asset lands in the credit column")

	bank := row(t, tb, accounts.CodeBank)
	assert.Equal(t, "250.00", bank.Credit.StringFixed(2))

	rev := row(t, tb, accounts.CodeSalesRevenue)
	assert.Equal(t, "1000.00", rev.Credit.StringFixed(2))
	assert.True(t, rev.Debit.IsZero())

	for i := 1; i < len(tb.Rows); i++ {
		assert.Less(t, tb.Rows[i-1].Code, tb.Rows[i].Code)
	}
}

func TestGenerate_AsOfExcludesLaterLines(t *testing.T) {
	f := newFixture(t)
	f.post(t, day(3, 1), debit(accounts.CodeCash, "100"), credit("3001", "100"))
	f.post(t, day(4, 1), debit(accounts.CodeCash, "50"), credit("3001", "50"))

	tb, err := NewGenerator(f.st).Generate(context.Background(), day(3, 31))
	require.NoError(t, err)
	assert.Equal(t, "100.00", row(t, tb, accounts.CodeCash).Balance.StringFixed(2))
	assert.Equal(t, "100.00", tb.TotalDebits.StringFixed(2))
	assert.Empty(t, tb.Mismatches, "cross-check compares the full replay")
}

func TestValidate_ReportsDiscrepancy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.post(t, day(3, 1), debit(accounts.CodeCash, "100"), credit("3001", "100"))
	_, err := f.accounts.AdjustOpeningBalance(ctx, accounts.CodeBank, amt("12.34"), "admin", "migration")
	require.NoError(t, err)

	tb, err := NewGenerator(f.st).Validate(ctx, day(3, 31))
	require.ErrorIs(t, err, ledgererr.ErrUnbalanced)
	assert.False(t, tb.IsBalanced)

	var ue *ledgererr.UnbalancedError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, "12.34", ue.Difference().StringFixed(2))
}

func TestGenerate_WithinTolerance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.accounts.AdjustOpeningBalance(ctx, accounts.CodeCash, amt("0.01"), "admin", "rounding")
	require.NoError(t, err)

	tb, err := NewGenerator(f.st).Validate(ctx, day(3, 31))
	require.NoError(t, err)
	assert.True(t, tb.IsBalanced)
	assert.Equal(t, "0.01", tb.Difference().StringFixed(2))
}

func TestGenerate_CrossCheckFlagsDrift(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.post(t, day(3, 1), debit(accounts.CodeCash, "100"), credit("3001", "100"))

	err := f.st.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.AddToBalance(ctx, accounts.CodeCash, amt("5"))
	})
	require.NoError(t, err)

	var logs bytes.Buffer
	tb, err := NewGenerator(f.st, WithLogger(zerolog.New(&logs))).Validate(ctx, day(3, 31))
	require.NoError(t, err, "replayed columns still balance")
	require.Len(t, tb.Mismatches, 1)
	assert.Equal(t, accounts.CodeCash, tb.Mismatches[0].Code)
	assert.Equal(t, "105.00", tb.Mismatches[0].Cached.StringFixed(2))
	assert.Equal(t, "100.00", tb.Mismatches[0].Replayed.StringFixed(2))
	assert.Contains(t, logs.String(), "stored balance differs")
}

func TestGenerate_SkipsIdleInactiveAccounts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.accounts.Deactivate(ctx, "5400", "admin")
	require.NoError(t, err)

	tb, err := NewGenerator(f.st).Generate(ctx, day(3, 31))
	require.NoError(t, err)
	for _, r := range tb.Rows {
		assert.NotEqual(t, "5400", r.Code)
	}
}
