package voucher

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleared-dev/ledger/internal/accounts"
	"github.com/cleared-dev/ledger/internal/ledgererr"
	"github.com/cleared-dev/ledger/internal/model"
	"github.com/cleared-dev/ledger/internal/posting"
	"github.com/cleared-dev/ledger/internal/store"
)

var may5 = time.Date(2025, 5, 5, 0, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fixture struct {
	svc      *Service
	accounts *accounts.Service
	engine   *posting.Engine
}

func newFixture(t *testing.T, opts ...Option) fixture {
	t.Helper()
	st := store.NewMemory()
	now := func() time.Time { return may5 }
	accts := accounts.NewService(st, accounts.WithClock(now))
	_, err := accts.Seed(context.Background(), accounts.DefaultChart())
	require.NoError(t, err)
	engine := posting.NewEngine(st, accts, posting.WithClock(now))

	opts = append([]Option{WithClock(now), WithApprovalThreshold(d("10000"))}, opts...)
	return fixture{svc: NewService(st, engine, opts...), accounts: accts, engine: engine}
}

func (f fixture) balance(t *testing.T, code string) string {
	t.Helper()
	a, err := f.accounts.Resolve(context.Background(), code)
	require.NoError(t, err)
	return a.CurrentBalance.StringFixed(2)
}

func accrual(amount string) Draft {
	return Draft{
		Date:        may5,
		Description: "Accrue May salaries",
		Entries: []model.VoucherEntry{
			{AccountCode: "5200", Debit: d(amount)},
			{AccountCode: "2100", Credit: d(amount)},
		},
	}
}

func TestCreate(t *testing.T) {
	f := newFixture(t)
	v, err := f.svc.Create(context.Background(), accrual("500"), "maker")
	require.NoError(t, err)
	assert.Equal(t, "JV-2025-000001", v.Number)
	assert.Equal(t, model.VoucherDraft, v.Status)
	assert.Equal(t, "maker", v.CreatedBy)
	assert.Equal(t, "0.00", f.balance(t, "5200"), "drafts do not touch balances")

	byNumber, err := f.svc.Get(context.Background(), "JV-2025-000001")
	require.NoError(t, err)
	assert.Equal(t, v.ID, byNumber.ID)
}

func TestCreate_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		entries []model.VoucherEntry
		want    error
	}{
		{"single entry", []model.VoucherEntry{{AccountCode: "5200", Debit: d("1")}}, ledgererr.ErrInvalidInput},
		{"unbalanced", []model.VoucherEntry{{AccountCode: "5200", Debit: d("10")}, {AccountCode: "2100", Credit: d("9")}}, ledgererr.ErrUnbalanced},
		{"both sides", []model.VoucherEntry{{AccountCode: "5200", Debit: d("1"), Credit: d("1")}, {AccountCode: "2100", Credit: d("1")}}, ledgererr.ErrInvalidInput},
		{"unknown account", []model.VoucherEntry{{AccountCode: "7777", Debit: d("10")}, {AccountCode: "2100", Credit: d("10")}}, ledgererr.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.svc.Create(context.Background(), Draft{Date: may5, Entries: tt.entries}, "maker")
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestApprovalOverThreshold(t *testing.T) {
	f := newFixture(t, WithApprovers("controller"))
	ctx := context.Background()

	v, err := f.svc.Create(ctx, accrual("15000"), "maker")
	require.NoError(t, err)
	v, err = f.svc.Submit(ctx, v.ID, "maker")
	require.NoError(t, err)
	assert.Equal(t, model.VoucherPendingApproval, v.Status)
	assert.Equal(t, []string{"controller"}, v.Workflow.RequiredApprovers)

	_, err = f.svc.Approve(ctx, v.ID, "maker")
	require.ErrorIs(t, err, ledgererr.ErrSegregationOfDuties)
	assert.Equal(t, ledgererr.KindStateConflict, ledgererr.KindOf(err))

	_, err = f.svc.Approve(ctx, v.ID, "intern")
	require.ErrorIs(t, err, ledgererr.ErrForbidden)

	v, err = f.svc.Approve(ctx, v.ID, "controller")
	require.NoError(t, err)
	assert.Equal(t, model.VoucherPosted, v.Status)
	assert.NotEmpty(t, v.TransactionSetID)
	assert.Equal(t, "controller", v.PostedBy)
	assert.Equal(t, "15000.00", f.balance(t, "5200"))

	set, err := f.engine.Get(ctx, v.TransactionSetID)
	require.NoError(t, err)
	assert.Equal(t, v.ID, set.VoucherID)
	assert.Equal(t, "voucher:"+v.Number, set.Reference.String())
}

func TestApprovalChainOrder(t *testing.T) {
	f := newFixture(t, WithApprovers("manager", "cfo"))
	ctx := context.Background()

	v, err := f.svc.Create(ctx, accrual("20000"), "maker")
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, v.ID, "maker")
	require.NoError(t, err)

	_, err = f.svc.Approve(ctx, v.ID, "cfo")
	require.ErrorIs(t, err, ledgererr.ErrForbidden, "cfo is second")

	v, err = f.svc.Approve(ctx, v.ID, "manager")
	require.NoError(t, err)
	assert.Equal(t, model.VoucherPendingApproval, v.Status)
	assert.Equal(t, 1, v.Workflow.CurrentIndex)
	assert.Equal(t, "0.00", f.balance(t, "5200"))

	v, err = f.svc.Approve(ctx, v.ID, "cfo")
	require.NoError(t, err)
	assert.Equal(t, model.VoucherPosted, v.Status)
	assert.Len(t, v.Workflow.Approvals, 2)
}

func TestSubmitBelowThreshold(t *testing.T) {
	f := newFixture(t, WithApprovers("controller"))
	ctx := context.Background()

	v, err := f.svc.Create(ctx, accrual("9999.99"), "maker")
	require.NoError(t, err)
	v, err = f.svc.Submit(ctx, v.ID, "maker")
	require.NoError(t, err)
	assert.Equal(t, model.VoucherPosted, v.Status)
	assert.Equal(t, "9999.99", f.balance(t, "2100"))
}

func TestManualPostWithoutAutoPost(t *testing.T) {
	f := newFixture(t, WithAutoPost(false))
	ctx := context.Background()

	v, err := f.svc.Create(ctx, accrual("100"), "maker")
	require.NoError(t, err)

	_, err = f.svc.Post(ctx, v.ID, "maker")
	require.ErrorIs(t, err, ledgererr.ErrInvalidTransition, "drafts cannot be posted")

	v, err = f.svc.Approve(ctx, v.ID, "checker")
	require.NoError(t, err)
	assert.Equal(t, model.VoucherApproved, v.Status)
	assert.Equal(t, "0.00", f.balance(t, "5200"))

	v, err = f.svc.Post(ctx, v.ID, "checker")
	require.NoError(t, err)
	assert.Equal(t, model.VoucherPosted, v.Status)
	assert.Equal(t, "100.00", f.balance(t, "5200"))

	_, err = f.svc.Post(ctx, v.ID, "checker")
	assert.ErrorIs(t, err, ledgererr.ErrInvalidTransition)
}

func TestReject(t *testing.T) {
	f := newFixture(t, WithApprovers("controller"))
	ctx := context.Background()

	v, err := f.svc.Create(ctx, accrual("12000"), "maker")
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, v.ID, "maker")
	require.NoError(t, err)

	_, err = f.svc.Reject(ctx, v.ID, "controller", "")
	require.ErrorIs(t, err, ledgererr.ErrInvalidInput)
	_, err = f.svc.Reject(ctx, v.ID, "maker", "never mind")
	require.ErrorIs(t, err, ledgererr.ErrSegregationOfDuties)

	v, err = f.svc.Reject(ctx, v.ID, "controller", "no support attached")
	require.NoError(t, err)
	assert.Equal(t, model.VoucherRejected, v.Status)
	assert.Equal(t, "no support attached", v.Workflow.RejectionReason)

	_, err = f.svc.Approve(ctx, v.ID, "controller")
	assert.ErrorIs(t, err, ledgererr.ErrInvalidTransition, "rejection is terminal")
	assert.Equal(t, "0.00", f.balance(t, "5200"))
}

func TestPost_FailureLeavesVoucherApproved(t *testing.T) {
	f := newFixture(t, WithAutoPost(false))
	ctx := context.Background()

	v, err := f.svc.Create(ctx, accrual("100"), "maker")
	require.NoError(t, err)
	_, err = f.svc.Approve(ctx, v.ID, "checker")
	require.NoError(t, err)

	_, err = f.accounts.Deactivate(ctx, "2100", "admin")
	require.NoError(t, err)
	_, err = f.svc.Post(ctx, v.ID, "checker")
	require.ErrorIs(t, err, ledgererr.ErrInactive)

	got, err := f.svc.Get(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, model.VoucherApproved, got.Status)
	assert.Empty(t, got.TransactionSetID)
}

func TestCreateClosing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	draft := ClosingDraft{
		PeriodID: "p-2025-05",
		Date:     may5,
		Entries: []model.VoucherEntry{
			{AccountCode: accounts.CodeIncomeSummary, Debit: d("10")},
			{AccountCode: accounts.CodeRetainedEarnings, Credit: d("10")},
		},
	}

	v, err := f.svc.CreateClosing(ctx, draft, "system")
	require.NoError(t, err)
	assert.True(t, v.IsClosingEntry)
	assert.Equal(t, model.VoucherPosted, v.Status)

	set, err := f.engine.Get(ctx, v.TransactionSetID)
	require.NoError(t, err)
	assert.Equal(t, model.KindClosing, set.Kind)

	_, err = f.svc.CreateClosing(ctx, draft, "system")
	assert.ErrorIs(t, err, ledgererr.ErrAlreadyExists)

	found, err := f.svc.ClosingVoucherFor(ctx, "p-2025-05")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, v.ID, found.ID)

	none, err := f.svc.ClosingVoucherFor(ctx, "other")
	require.NoError(t, err)
	assert.Nil(t, none)

	pending, err := f.svc.List(ctx, store.VoucherFilter{Statuses: []model.VoucherStatus{model.VoucherDraft}})
	require.NoError(t, err)
	assert.Empty(t, pending)
}
