package accounts

import (
	"bytes"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleared-dev/ledger/internal/model"
)

func TestRoundTrip(t *testing.T) {
	accounts := []model.Account{
		{Code: "1001", Name: "Cash", Type: model.AccountTypeAsset, NormalBalance: model.NormalDebit, AllowDirectPosting: true, IsActive: true, IsSystemAccount: true, OpeningBalance: decimal.RequireFromString("250.00")},
		{Code: "5400", Name: "Office Supplies, misc", Type: model.AccountTypeExpense, NormalBalance: model.NormalDebit, ParentCode: "5000", IsActive: true, Description: "Pens & paper"},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteAccounts(&buf, accounts))

	got, err := ReadAccounts(&buf)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "1001", got[0].Code)
	assert.True(t, got[0].IsSystemAccount)
	assert.True(t, got[0].AllowDirectPosting)
	assert.True(t, decimal.RequireFromString("250").Equal(got[0].OpeningBalance))

	assert.Equal(t, "5000", got[1].ParentCode)
	assert.False(t, got[1].AllowDirectPosting)
	assert.Equal(t, "Office Supplies, misc", got[1].Name)
	assert.Equal(t, "Pens & paper", got[1].Description)
}

func TestUnmarshalAccount_Errors(t *testing.T) {
	good := MarshalAccount(model.Account{Code: "1", Name: "X", Type: model.AccountTypeAsset})

	tests := []struct {
		name   string
		mutate func([]string)
		want   string
	}{
		{"bad type", func(r []string) { r[colType] = "income" }, "unknown account_type"},
		{"bad bool", func(r []string) { r[colActive] = "maybe" }, "parsing boolean"},
		{"bad amount", func(r []string) { r[colOpening] = "1,000" }, "parsing opening_balance"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := append([]string(nil), good...)
			tt.mutate(rec)
			_, err := UnmarshalAccount(rec)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	_, err := UnmarshalAccount([]string{"1", "2"})
	assert.Error(t, err)
}

func TestUnmarshalAccount_DerivesNormalBalance(t *testing.T) {
	rec := MarshalAccount(model.Account{Code: "4001", Name: "Sales", Type: model.AccountTypeRevenue})
	rec[colNormal] = ""
	rec[colCode] = " 4001 "
	got, err := UnmarshalAccount(rec)
	require.NoError(t, err)
	assert.Equal(t, model.NormalCredit, got.NormalBalance)
	assert.Equal(t, "4001", got.Code)
}

func TestDefaultChart(t *testing.T) {
	chart := DefaultChart()
	require.NotEmpty(t, chart)

	codes := make(map[string]model.Account)
	for _, acct := range chart {
		if acct.ParentCode != "" {
			_, ok := codes[acct.ParentCode]
			assert.True(t, ok, "parent %s of %s must precede it", acct.ParentCode, acct.Code)
		}
		codes[acct.Code] = acct
		assert.NotEmpty(t, acct.Name)
		assert.True(t, acct.Type.Valid())
		assert.Equal(t, model.NormalBalanceFor(acct.Type), acct.NormalBalance)
	}

	for _, code := range []string{
		CodeCash, CodeBank, CodeAccountsReceivable, CodeInventory, CodeAccountsPayable,
		CodeRetainedEarnings, CodeIncomeSummary, CodeSalesRevenue, CodeCostOfGoodsSold,
	} {
		a, ok := codes[code]
		require.True(t, ok, "expected system account %s", code)
		assert.True(t, a.IsSystemAccount)
		assert.True(t, a.AllowDirectPosting)
	}
	assert.False(t, codes["1000"].AllowDirectPosting, "summary accounts refuse direct postings")
}

func TestDefaultChartRoundTrip(t *testing.T) {
	chart := DefaultChart()

	var buf bytes.Buffer
	require.NoError(t, WriteAccounts(&buf, chart))

	got, err := ReadAccounts(&buf)
	require.NoError(t, err)
	require.Len(t, got, len(chart))

	for i := range chart {
		assert.Equal(t, chart[i].Code, got[i].Code)
		assert.Equal(t, chart[i].Name, got[i].Name)
		assert.Equal(t, chart[i].Type, got[i].Type)
		assert.Equal(t, chart[i].ParentCode, got[i].ParentCode)
		assert.Equal(t, chart[i].IsSystemAccount, got[i].IsSystemAccount)
	}
}
