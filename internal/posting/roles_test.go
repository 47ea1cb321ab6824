package posting

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleared-dev/ledger/internal/accounts"
	"github.com/cleared-dev/ledger/internal/ledgererr"
	"github.com/cleared-dev/ledger/internal/model"
	"github.com/cleared-dev/ledger/internal/store"
)

func seeded(t *testing.T, chart []model.Account) *store.Memory {
	t.Helper()
	mem := store.NewMemory()
	_, err := accounts.NewService(mem).Seed(context.Background(), chart)
	require.NoError(t, err)
	return mem
}

func postable(code, name string, typ model.AccountType, category string) model.Account {
	return model.Account{Code: code, Name: name, Type: typ, Category: category, AllowDirectPosting: true, IsActive: true}
}

func TestResolveAll_DefaultChart(t *testing.T) {
	var logs bytes.Buffer
	r := NewResolver(seeded(t, accounts.DefaultChart()), nil, zerolog.New(&logs))

	all, err := r.ResolveAll(context.Background())
	require.NoError(t, err)
	require.Len(t, all, len(Roles()))

	want := map[Role]string{
		RoleCash:               accounts.CodeCash,
		RoleBank:               accounts.CodeBank,
		RoleAccountsReceivable: accounts.CodeAccountsReceivable,
		RoleAccountsPayable:    accounts.CodeAccountsPayable,
		RoleSalesRevenue:       accounts.CodeSalesRevenue,
		RoleCostOfGoodsSold:    accounts.CodeCostOfGoodsSold,
		RoleInventory:          accounts.CodeInventory,
		RoleIncomeSummary:      accounts.CodeIncomeSummary,
		RoleRetainedEarnings:   accounts.CodeRetainedEarnings,
	}
	for role, code := range want {
		assert.Equal(t, code, all[role].Code, role)
		assert.Equal(t, SourceExactName, all[role].Source, role)
		assert.True(t, all[role].Fallback, role)
	}
	assert.Contains(t, logs.String(), `"fallback":true`)
	assert.Contains(t, logs.String(), `"level":"warn"`)
}

func TestResolve_ConfiguredWins(t *testing.T) {
	chart := append(accounts.DefaultChart(), postable("1003", "Petty Cash", model.AccountTypeAsset, accounts.CategoryCurrentAssets))
	chart[len(chart)-1].ParentCode = "1000"

	var logs bytes.Buffer
	r := NewResolver(seeded(t, chart), map[string]string{"cash": "1003"}, zerolog.New(&logs))
	code, err := r.Code(context.Background(), RoleCash)
	require.NoError(t, err)
	assert.Equal(t, "1003", code)

	all, err := r.ResolveAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SourceConfigured, all[RoleCash].Source)
	assert.False(t, all[RoleCash].Fallback)
}

func TestResolve_ConfiguredMissingFallsThrough(t *testing.T) {
	r := NewResolver(seeded(t, accounts.DefaultChart()), map[string]string{"bank": "1999"}, zerolog.Nop())
	all, err := r.ResolveAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, accounts.CodeBank, all[RoleBank].Code)
	assert.True(t, all[RoleBank].Fallback)
}

func TestResolve_FallbackStages(t *testing.T) {
	chart := []model.Account{
		postable("1010", "Main Cash Drawer", model.AccountTypeAsset, accounts.CategoryCurrentAssets),
		postable("1020", "First National Bank", model.AccountTypeAsset, "treasury"),
		postable("4010", "Sales Revenue Closed", model.AccountTypeRevenue, accounts.CategoryOperatingRevenue),
	}
	chart[2].IsActive = false

	r := NewResolver(seeded(t, chart), nil, zerolog.Nop())
	all, err := r.ResolveAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Resolution{Role: RoleCash, Code: "1010", Source: SourceCategoryMatch, Fallback: true}, all[RoleCash])
	assert.Equal(t, Resolution{Role: RoleBank, Code: "1020", Source: SourceTypeMatch, Fallback: true}, all[RoleBank])
	assert.Equal(t, Resolution{Role: RoleSalesRevenue, Code: accounts.CodeSalesRevenue, Source: SourceDefault, Fallback: true}, all[RoleSalesRevenue],
		"inactive accounts are skipped")
}

func TestResolver_CachesUntilInvalidated(t *testing.T) {
	mem := seeded(t, accounts.DefaultChart())
	r := NewResolver(mem, nil, zerolog.Nop())
	ctx := context.Background()

	code, err := r.Code(ctx, RoleInventory)
	require.NoError(t, err)
	assert.Equal(t, accounts.CodeInventory, code)

	_, err = accounts.NewService(mem).Seed(ctx, []model.Account{
		postable("1150", "Stock", model.AccountTypeAsset, accounts.CategoryCurrentAssets),
	})
	require.NoError(t, err)

	code, err = r.Code(ctx, RoleInventory)
	require.NoError(t, err)
	assert.Equal(t, accounts.CodeInventory, code, "cached")

	r.Invalidate()
	code, err = r.Code(ctx, RoleInventory)
	require.NoError(t, err)
	assert.Equal(t, "1150", code, "exact name, lowest code")
}

func TestResolver_UnknownRole(t *testing.T) {
	r := NewResolver(store.NewMemory(), nil, zerolog.Nop())
	_, err := r.Code(context.Background(), Role("petty_cash"))
	assert.ErrorIs(t, err, ledgererr.ErrInvalidInput)
}
