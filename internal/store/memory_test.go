package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleared-dev/ledger/internal/ledgererr"
	"github.com/cleared-dev/ledger/internal/model"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func cash() model.Account {
	return model.Account{
		Code:          "1001",
		Name:          "Cash",
		Type:          model.AccountTypeAsset,
		NormalBalance: model.NormalDebit,
		IsActive:      true,
	}
}

func TestMemory_CommitAndRollback(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.InsertAccount(ctx, cash())
	}))

	boom := errors.New("boom")
	err := m.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		require.NoError(t, tx.AddToBalance(ctx, "1001", decimal.NewFromInt(50)))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	require.NoError(t, m.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		a, err := tx.GetAccount(ctx, "1001")
		require.NoError(t, err)
		assert.True(t, a.CurrentBalance.IsZero(), "rolled back increment must not persist")
		assert.Equal(t, int64(1), a.Version)
		return nil
	}))
}

func TestMemory_UpdateAccountCAS(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.InsertAccount(ctx, cash())
	}))

	var stale model.Account
	require.NoError(t, m.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		a, err := tx.GetAccount(ctx, "1001")
		stale = a
		if err != nil {
			return err
		}
		a.Name = "Petty Cash"
		updated, err := tx.UpdateAccount(ctx, a)
		assert.Equal(t, int64(2), updated.Version)
		return err
	}))

	err := m.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		stale.Name = "Till"
		_, err := tx.UpdateAccount(ctx, stale)
		return err
	})
	assert.ErrorIs(t, err, ledgererr.ErrConflict)
}

func TestMemory_UpdateAccountKeepsBalance(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.InsertAccount(ctx, cash()); err != nil {
			return err
		}
		a, _ := tx.GetAccount(ctx, "1001")
		if err := tx.AddToBalance(ctx, "1001", decimal.NewFromInt(10)); err != nil {
			return err
		}
		a.CurrentBalance = decimal.NewFromInt(999)
		got, err := tx.UpdateAccount(ctx, a)
		assert.True(t, decimal.NewFromInt(10).Equal(got.CurrentBalance))
		return err
	}))
}

func TestMemory_SetsAndLines(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	set := model.TransactionSet{
		ID:     "s1",
		Number: "TS-2025-000001",
		Date:   date(2025, 1, 15),
		Status: model.SetPosted,
		Lines: []model.Line{
			{ID: "s1/0", SetID: "s1", Seq: 0, AccountCode: "1001", Debit: decimal.NewFromInt(5), Date: date(2025, 1, 15), Status: model.LineCompleted},
			{ID: "s1/1", SetID: "s1", Seq: 1, AccountCode: "4001", Credit: decimal.NewFromInt(5), Date: date(2025, 1, 15), Status: model.LineCompleted},
		},
	}
	require.NoError(t, m.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.InsertSet(ctx, set)
	}))

	require.NoError(t, m.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		got, err := tx.GetSet(ctx, "s1")
		require.NoError(t, err)
		assert.Len(t, got.Lines, 2)

		lines, err := tx.ListLines(ctx, LineFilter{AccountCode: "1001", To: date(2025, 1, 31)})
		require.NoError(t, err)
		assert.Len(t, lines, 1)

		lines, err = tx.ListLines(ctx, LineFilter{To: date(2025, 1, 14)})
		require.NoError(t, err)
		assert.Empty(t, lines)

		return tx.DeleteSet(ctx, "s1")
	}))

	require.NoError(t, m.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		_, err := tx.GetSet(ctx, "s1")
		assert.ErrorIs(t, err, ledgererr.ErrNotFound)
		lines, err := tx.ListLines(ctx, LineFilter{})
		assert.Empty(t, lines)
		return err
	}))
}

func TestMemory_NextSequence(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		a, _ := tx.NextSequence(ctx, "JV-2025")
		b, _ := tx.NextSequence(ctx, "JV-2025")
		c, _ := tx.NextSequence(ctx, "JV-2026")
		assert.Equal(t, []int64{1, 2, 1}, []int64{a, b, c})
		return nil
	}))
}

func TestPeriodFilter(t *testing.T) {
	p := model.Period{Type: model.PeriodMonthly, Start: date(2025, 1, 1), End: date(2025, 1, 31), Status: model.PeriodOpen}
	assert.True(t, PeriodFilter{Covering: date(2025, 1, 20)}.Match(p))
	assert.False(t, PeriodFilter{Covering: date(2025, 2, 1)}.Match(p))
	assert.False(t, PeriodFilter{Type: model.PeriodYearly}.Match(p))
	assert.False(t, PeriodFilter{Statuses: []model.PeriodStatus{model.PeriodClosed}}.Match(p))
}

// flakyStore fails the first n transactions with a conflict.
type flakyStore struct {
	*Memory
	failures int
	calls    int
}

func (f *flakyStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	f.calls++
	if f.calls <= f.failures {
		return ledgererr.ErrConflict
	}
	return f.Memory.WithTx(ctx, fn)
}

func TestRunInTx_RetriesConflicts(t *testing.T) {
	s := &flakyStore{Memory: NewMemory(), failures: 2}
	err := RunInTx(context.Background(), s, RetryPolicy{MaxAttempts: 3, Backoff: time.Millisecond}, func(ctx context.Context, tx Tx) error {
		return tx.InsertAccount(ctx, cash())
	})
	require.NoError(t, err)
	assert.Equal(t, 3, s.calls)
}

func TestRunInTx_ExhaustedIsTransient(t *testing.T) {
	s := &flakyStore{Memory: NewMemory(), failures: 10}
	err := RunInTx(context.Background(), s, RetryPolicy{MaxAttempts: 3}, func(ctx context.Context, tx Tx) error {
		return nil
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ledgererr.ErrTransient)
	assert.Equal(t, ledgererr.KindConcurrency, ledgererr.KindOf(err))
	assert.Equal(t, 3, s.calls)
}

func TestRunInTx_OtherErrorsNotRetried(t *testing.T) {
	s := &flakyStore{Memory: NewMemory()}
	err := RunInTx(context.Background(), s, RetryPolicy{MaxAttempts: 5}, func(ctx context.Context, tx Tx) error {
		return ledgererr.ErrUnbalanced
	})
	assert.ErrorIs(t, err, ledgererr.ErrUnbalanced)
	assert.Equal(t, 1, s.calls)
}
