package accounts

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleared-dev/ledger/internal/ledgererr"
	"github.com/cleared-dev/ledger/internal/model"
	"github.com/cleared-dev/ledger/internal/store"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newSeeded(t *testing.T) (*Service, *store.Memory, *fakeClock) {
	t.Helper()
	st := store.NewMemory()
	clock := newClock()
	svc := NewService(st, WithClock(clock.Now))
	n, err := svc.Seed(context.Background(), DefaultChart())
	require.NoError(t, err)
	require.Equal(t, len(DefaultChart()), n)
	return svc, st, clock
}

func TestSeed_Idempotent(t *testing.T) {
	svc, _, _ := newSeeded(t)
	n, err := svc.Seed(context.Background(), DefaultChart())
	require.NoError(t, err)
	assert.Zero(t, n)

	cash, err := svc.Resolve(context.Background(), CodeCash)
	require.NoError(t, err)
	assert.Equal(t, 1, cash.Level)
}

func TestCreate(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newSeeded(t)

	a, err := svc.Create(ctx, NewAccount{
		Code:           " 5600a ",
		Name:           "Travel",
		Type:           model.AccountTypeExpense,
		ParentCode:     "5000",
		OpeningBalance: decimal.NewFromInt(15),
	}, "admin")
	require.NoError(t, err)
	assert.Equal(t, "5600A", a.Code)
	assert.Equal(t, model.NormalDebit, a.NormalBalance)
	assert.Equal(t, 1, a.Level)
	assert.True(t, a.AllowDirectPosting)
	assert.True(t, a.CurrentBalance.Equal(decimal.NewFromInt(15)))

	got, err := svc.Resolve(ctx, "5600a")
	require.NoError(t, err)
	assert.Equal(t, "Travel", got.Name)
}

func TestCreate_Rejects(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newSeeded(t)

	tests := []struct {
		name string
		in   NewAccount
	}{
		{"empty code", NewAccount{Name: "X", Type: model.AccountTypeAsset}},
		{"empty name", NewAccount{Code: "9", Type: model.AccountTypeAsset}},
		{"bad type", NewAccount{Code: "9", Name: "X", Type: "income"}},
		{"bad polarity", NewAccount{Code: "9", Name: "X", Type: model.AccountTypeAsset, NormalBalance: "up"}},
		{"duplicate", NewAccount{Code: "1001", Name: "Cash 2", Type: model.AccountTypeAsset}},
		{"missing parent", NewAccount{Code: "9", Name: "X", Type: model.AccountTypeAsset, ParentCode: "8888"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(ctx, tt.in, "admin")
			require.Error(t, err)
			assert.Equal(t, ledgererr.KindValidation, ledgererr.KindOf(err))
		})
	}
}

func TestCreate_MaxDepth(t *testing.T) {
	ctx := context.Background()
	svc := NewService(store.NewMemory())

	parent := ""
	for i, code := range []string{"L0", "L1", "L2", "L3", "L4", "L5"} {
		a, err := svc.Create(ctx, NewAccount{Code: code, Name: code, Type: model.AccountTypeAsset, ParentCode: parent}, "admin")
		require.NoError(t, err)
		assert.Equal(t, i, a.Level)
		parent = code
	}
	_, err := svc.Create(ctx, NewAccount{Code: "L6", Name: "L6", Type: model.AccountTypeAsset, ParentCode: "L5"}, "admin")
	assert.ErrorIs(t, err, ledgererr.ErrInvalidInput)
}

func TestValidatePostable(t *testing.T) {
	ctx := context.Background()
	svc, st, _ := newSeeded(t)

	_, err := svc.Create(ctx, NewAccount{Code: "5900", Name: "Misc", Type: model.AccountTypeExpense, ParentCode: "5000"}, "admin")
	require.NoError(t, err)
	_, err = svc.Deactivate(ctx, "5900", "admin")
	require.NoError(t, err)

	tests := []struct {
		code string
		want error
	}{
		{"1001", nil},
		{"nope", ledgererr.ErrNotFound},
		{"5900", ledgererr.ErrInactive},
		{"1000", ledgererr.ErrDirectPostingDisallowed},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := st.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
				_, err := svc.ValidatePostable(ctx, tx, tt.code)
				return err
			})
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
			var ae *ledgererr.AccountError
			assert.ErrorAs(t, err, &ae)
		})
	}
}

func TestUpdate_SystemAccountImmutable(t *testing.T) {
	svc, _, _ := newSeeded(t)
	_, err := svc.Deactivate(context.Background(), CodeCash, "admin")
	assert.ErrorIs(t, err, ledgererr.ErrSystemAccount)
}

func TestReparent(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newSeeded(t)

	_, err := svc.Create(ctx, NewAccount{Code: "5800", Name: "Travel", Type: model.AccountTypeExpense, ParentCode: "5000", Summary: true}, "admin")
	require.NoError(t, err)
	_, err = svc.Create(ctx, NewAccount{Code: "5810", Name: "Airfare", Type: model.AccountTypeExpense, ParentCode: "5800"}, "admin")
	require.NoError(t, err)
	_, err = svc.Create(ctx, NewAccount{Code: "5811", Name: "Baggage", Type: model.AccountTypeExpense, ParentCode: "5810"}, "admin")
	require.NoError(t, err)

	t.Run("cycle rejected", func(t *testing.T) {
		_, err := svc.Reparent(ctx, "5800", "5811", "admin")
		assert.ErrorIs(t, err, ledgererr.ErrCyclicHierarchy)
		assert.Equal(t, ledgererr.KindStateConflict, ledgererr.KindOf(err))
	})

	t.Run("self rejected", func(t *testing.T) {
		_, err := svc.Reparent(ctx, "5810", "5810", "admin")
		assert.ErrorIs(t, err, ledgererr.ErrCyclicHierarchy)
	})

	t.Run("subtree levels follow", func(t *testing.T) {
		moved, err := svc.Reparent(ctx, "5810", "", "admin")
		require.NoError(t, err)
		assert.Equal(t, 0, moved.Level)

		child, err := svc.Resolve(ctx, "5811")
		require.NoError(t, err)
		assert.Equal(t, 1, child.Level)
	})

	t.Run("system account", func(t *testing.T) {
		_, err := svc.Reparent(ctx, CodeCash, "", "admin")
		assert.ErrorIs(t, err, ledgererr.ErrSystemAccount)
	})
}

func TestDelete_Guards(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newSeeded(t)

	assert.ErrorIs(t, svc.Delete(ctx, CodeCash, "admin"), ledgererr.ErrSystemAccount)

	_, err := svc.Create(ctx, NewAccount{Code: "5900", Name: "Misc", Type: model.AccountTypeExpense, OpeningBalance: decimal.NewFromInt(1)}, "admin")
	require.NoError(t, err)
	assert.ErrorIs(t, svc.Delete(ctx, "5900", "admin"), ledgererr.ErrAccountInUse)

	_, err = svc.Create(ctx, NewAccount{Code: "5910", Name: "Misc parent", Type: model.AccountTypeExpense}, "admin")
	require.NoError(t, err)
	_, err = svc.Create(ctx, NewAccount{Code: "5911", Name: "Misc child", Type: model.AccountTypeExpense, ParentCode: "5910"}, "admin")
	require.NoError(t, err)
	assert.ErrorIs(t, svc.Delete(ctx, "5910", "admin"), ledgererr.ErrAccountInUse)

	require.NoError(t, svc.Delete(ctx, "5911", "admin"))
	_, err = svc.Resolve(ctx, "5911")
	assert.ErrorIs(t, err, ledgererr.ErrNotFound)
}

func TestApplyBalanceDelta_IsIncrement(t *testing.T) {
	ctx := context.Background()
	svc, st, _ := newSeeded(t)

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := st.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
				return svc.ApplyBalanceDelta(ctx, tx, CodeCash, decimal.RequireFromString("4.00"), "clerk")
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	cash, err := svc.Resolve(ctx, CodeCash)
	require.NoError(t, err)
	assert.Equal(t, "100.00", cash.CurrentBalance.StringFixed(2))
}

func TestAdjustOpeningBalance(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newSeeded(t)

	_, err := svc.AdjustOpeningBalance(ctx, CodeBank, decimal.NewFromInt(50), "admin", "")
	assert.ErrorIs(t, err, ledgererr.ErrInvalidInput)

	a, err := svc.AdjustOpeningBalance(ctx, CodeBank, decimal.NewFromInt(50), "admin", "migrated from old books")
	require.NoError(t, err)
	assert.True(t, a.OpeningBalance.Equal(decimal.NewFromInt(50)))
	assert.True(t, a.CurrentBalance.Equal(decimal.NewFromInt(50)))
}

func TestTree(t *testing.T) {
	svc, _, _ := newSeeded(t)
	roots, err := svc.Tree(context.Background())
	require.NoError(t, err)
	require.Len(t, roots, 5)
	assert.Equal(t, "1000", roots[0].Account.Code)
	require.Len(t, roots[0].Children, 4)
	assert.Equal(t, CodeCash, roots[0].Children[0].Account.Code)
}

func TestEnsureSubledgerAccount(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newSeeded(t)

	a, err := svc.EnsureSubledgerAccount(ctx, CodeAccountsReceivable, "cust-42", "Acme Corp", "clerk")
	require.NoError(t, err)
	assert.Equal(t, "1100-CUST-42", a.Code)
	assert.Equal(t, model.AccountTypeAsset, a.Type)
	assert.Equal(t, CodeAccountsReceivable, a.ParentCode)
	assert.Equal(t, 2, a.Level)

	again, err := svc.EnsureSubledgerAccount(ctx, CodeAccountsReceivable, "CUST-42", "", "clerk")
	require.NoError(t, err)
	assert.Equal(t, "Acme Corp", again.Name)
}
