package journal

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleared-dev/ledger/internal/ledgererr"
	"github.com/cleared-dev/ledger/internal/model"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func dr(code, amount string) LineInput { return LineInput{AccountCode: code, Debit: d(amount)} }
func cr(code, amount string) LineInput { return LineInput{AccountCode: code, Credit: d(amount)} }

func TestValidateInputs_Balanced(t *testing.T) {
	err := ValidateInputs([]LineInput{dr("1001", "1000.00"), cr("4001", "1000.00"), dr("5001", "600"), cr("1200", "600")})
	assert.NoError(t, err)
}

func TestValidateInputs_Empty(t *testing.T) {
	err := ValidateInputs(nil)
	assert.ErrorIs(t, err, ledgererr.ErrEmptyPosting)
	assert.Equal(t, ledgererr.KindValidation, ledgererr.KindOf(err))
}

func TestValidateInputs_Unbalanced(t *testing.T) {
	err := ValidateInputs([]LineInput{dr("1001", "100.00"), cr("4001", "99.50")})
	require.ErrorIs(t, err, ledgererr.ErrUnbalanced)

	var ue *ledgererr.UnbalancedError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, "0.50", ue.Difference().StringFixed(2))
}

func TestValidateInputs_WithinTolerance(t *testing.T) {
	assert.NoError(t, ValidateInputs([]LineInput{dr("1001", "100.00"), cr("4001", "99.99")}))
	assert.ErrorIs(t, ValidateInputs([]LineInput{dr("1001", "100.00"), cr("4001", "99.98")}), ledgererr.ErrUnbalanced)
}

func TestValidateInputs_OneSidedTotals(t *testing.T) {
	err := ValidateInputs([]LineInput{dr("1001", "0.01")})
	assert.ErrorIs(t, err, ledgererr.ErrUnbalanced, "credits total zero")
}

func TestValidateLines(t *testing.T) {
	tests := []struct {
		name string
		line LineInput
		want string
	}{
		{"both sides", LineInput{AccountCode: "1001", Debit: d("1"), Credit: d("1")}, "exactly one"},
		{"neither side", LineInput{AccountCode: "1001"}, "exactly one"},
		{"negative", LineInput{AccountCode: "1001", Debit: d("-5")}, "negative"},
		{"sub-cent", LineInput{AccountCode: "1001", Credit: d("1.005")}, "more than 2 decimal places"},
		{"no account", LineInput{Debit: d("1")}, "account code is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := ValidateLines([]LineInput{tt.line})
			require.Len(t, errs, 1)
			assert.Contains(t, errs[0].Error(), tt.want)

			err := ValidateInputs([]LineInput{tt.line})
			assert.ErrorIs(t, err, ledgererr.ErrInvalidInput)
		})
	}
}

func TestValidationErrors_ReportsEveryLine(t *testing.T) {
	errs := ValidateLines([]LineInput{
		{AccountCode: "1001"},
		dr("1002", "5"),
		{AccountCode: "1003", Credit: d("0.001")},
	})
	require.Len(t, errs, 2)
	assert.Equal(t, 0, errs[0].Index)
	assert.Equal(t, 2, errs[1].Index)
	assert.Contains(t, errs.Error(), "line 3 [1003]")
}

func TestValidateSet(t *testing.T) {
	lines := []model.Line{
		{ID: "s/0", AccountCode: "1001", Debit: d("10")},
		{ID: "s/1", AccountCode: "4001", Credit: d("10")},
	}
	assert.NoError(t, ValidateSet(lines))

	lines[1].Credit = d("9")
	assert.ErrorIs(t, ValidateSet(lines), ledgererr.ErrUnbalanced)

	lines[1].Debit = d("1")
	assert.ErrorIs(t, ValidateSet(lines), ledgererr.ErrIntegrity)
}
