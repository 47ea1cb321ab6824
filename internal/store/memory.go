package store

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/cleared-dev/ledger/internal/ledgererr"
	"github.com/cleared-dev/ledger/internal/model"
)

// Memory is an in-process Store. Transactions are serialized and work on a
// copy of the state that replaces the committed state only on success.
type Memory struct {
	mu    sync.Mutex
	state *memState
}

type memState struct {
	accounts map[string]model.Account
	sets     map[string]model.TransactionSet
	lines    map[string][]model.Line // set ID -> lines
	vouchers map[string]model.Voucher
	periods  map[string]model.Period
	seqs     map[string]int64
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{state: &memState{
		accounts: make(map[string]model.Account),
		sets:     make(map[string]model.TransactionSet),
		lines:    make(map[string][]model.Line),
		vouchers: make(map[string]model.Voucher),
		periods:  make(map[string]model.Period),
		seqs:     make(map[string]int64),
	}}
}

// WithTx implements Store.
func (m *Memory) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	work := m.state.clone()
	if err := fn(ctx, &memTx{st: work}); err != nil {
		return err
	}
	m.state = work
	return nil
}

// Close implements Store.
func (m *Memory) Close() error { return nil }

func (s *memState) clone() *memState {
	return &memState{
		accounts: maps.Clone(s.accounts),
		sets:     maps.Clone(s.sets),
		lines:    maps.Clone(s.lines),
		vouchers: maps.Clone(s.vouchers),
		periods:  maps.Clone(s.periods),
		seqs:     maps.Clone(s.seqs),
	}
}

type memTx struct {
	st *memState
}

func notFound(kind, key string) error {
	return fmt.Errorf("%s %q: %w", kind, key, ledgererr.ErrNotFound)
}

func conflict(kind, key string, want, got int64) error {
	return fmt.Errorf("%s %q version %d, stored %d: %w", kind, key, want, got, ledgererr.ErrConflict)
}

// Accounts

func (t *memTx) GetAccount(_ context.Context, code string) (model.Account, error) {
	a, ok := t.st.accounts[code]
	if !ok {
		return model.Account{}, notFound("account", code)
	}
	return a, nil
}

func (t *memTx) ListAccounts(_ context.Context) ([]model.Account, error) {
	out := slices.Collect(maps.Values(t.st.accounts))
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (t *memTx) InsertAccount(_ context.Context, a model.Account) error {
	if _, ok := t.st.accounts[a.Code]; ok {
		return fmt.Errorf("account %q: %w", a.Code, ledgererr.ErrAlreadyExists)
	}
	a.Version = 1
	t.st.accounts[a.Code] = a
	return nil
}

func (t *memTx) UpdateAccount(_ context.Context, a model.Account) (model.Account, error) {
	cur, ok := t.st.accounts[a.Code]
	if !ok {
		return model.Account{}, notFound("account", a.Code)
	}
	if cur.Version != a.Version {
		return model.Account{}, conflict("account", a.Code, a.Version, cur.Version)
	}
	// Balances only move through AddToBalance.
	a.CurrentBalance = cur.CurrentBalance
	a.Version++
	t.st.accounts[a.Code] = a
	return a, nil
}

func (t *memTx) AddToBalance(_ context.Context, code string, delta decimal.Decimal) error {
	a, ok := t.st.accounts[code]
	if !ok {
		return notFound("account", code)
	}
	a.CurrentBalance = a.CurrentBalance.Add(delta)
	t.st.accounts[code] = a
	return nil
}

func (t *memTx) DeleteAccount(_ context.Context, code string) error {
	if _, ok := t.st.accounts[code]; !ok {
		return notFound("account", code)
	}
	delete(t.st.accounts, code)
	return nil
}

// Transaction sets

func (t *memTx) InsertSet(_ context.Context, s model.TransactionSet) error {
	if _, ok := t.st.sets[s.ID]; ok {
		return fmt.Errorf("transaction set %q: %w", s.ID, ledgererr.ErrAlreadyExists)
	}
	t.st.lines[s.ID] = slices.Clone(s.Lines)
	s.Lines = nil
	s.Version = 1
	t.st.sets[s.ID] = s
	return nil
}

func (t *memTx) GetSet(_ context.Context, id string) (model.TransactionSet, error) {
	s, ok := t.st.sets[id]
	if !ok {
		return model.TransactionSet{}, notFound("transaction set", id)
	}
	s.Lines = slices.Clone(t.st.lines[id])
	return s, nil
}

func (t *memTx) UpdateSet(_ context.Context, s model.TransactionSet) (model.TransactionSet, error) {
	cur, ok := t.st.sets[s.ID]
	if !ok {
		return model.TransactionSet{}, notFound("transaction set", s.ID)
	}
	if cur.Version != s.Version {
		return model.TransactionSet{}, conflict("transaction set", s.ID, s.Version, cur.Version)
	}
	lines := s.Lines
	s.Lines = nil
	s.Version++
	t.st.sets[s.ID] = s
	s.Lines = lines
	return s, nil
}

func (t *memTx) DeleteSet(_ context.Context, id string) error {
	if _, ok := t.st.sets[id]; !ok {
		return notFound("transaction set", id)
	}
	delete(t.st.sets, id)
	delete(t.st.lines, id)
	return nil
}

func (t *memTx) ListSets(_ context.Context, f SetFilter) ([]model.TransactionSet, error) {
	var out []model.TransactionSet
	for _, s := range t.st.sets {
		if f.Match(s) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].Number < out[j].Number
	})
	return out, nil
}

func (t *memTx) ListLines(_ context.Context, f LineFilter) ([]model.Line, error) {
	var out []model.Line
	for setID, lines := range t.st.lines {
		if f.SetID != "" && setID != f.SetID {
			continue
		}
		for _, l := range lines {
			if f.Match(l) {
				out = append(out, l)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		if c := strings.Compare(out[i].SetID, out[j].SetID); c != 0 {
			return c < 0
		}
		return out[i].Seq < out[j].Seq
	})
	return out, nil
}

// Vouchers

func (t *memTx) InsertVoucher(_ context.Context, v model.Voucher) error {
	if _, ok := t.st.vouchers[v.ID]; ok {
		return fmt.Errorf("voucher %q: %w", v.ID, ledgererr.ErrAlreadyExists)
	}
	v.Version = 1
	t.st.vouchers[v.ID] = cloneVoucher(v)
	return nil
}

func (t *memTx) GetVoucher(_ context.Context, id string) (model.Voucher, error) {
	v, ok := t.st.vouchers[id]
	if !ok {
		return model.Voucher{}, notFound("voucher", id)
	}
	return cloneVoucher(v), nil
}

func (t *memTx) UpdateVoucher(_ context.Context, v model.Voucher) (model.Voucher, error) {
	cur, ok := t.st.vouchers[v.ID]
	if !ok {
		return model.Voucher{}, notFound("voucher", v.ID)
	}
	if cur.Version != v.Version {
		return model.Voucher{}, conflict("voucher", v.ID, v.Version, cur.Version)
	}
	v.Version++
	t.st.vouchers[v.ID] = cloneVoucher(v)
	return v, nil
}

func (t *memTx) ListVouchers(_ context.Context, f VoucherFilter) ([]model.Voucher, error) {
	var out []model.Voucher
	for _, v := range t.st.vouchers {
		if f.Match(v) {
			out = append(out, cloneVoucher(v))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func cloneVoucher(v model.Voucher) model.Voucher {
	v.Entries = slices.Clone(v.Entries)
	v.Workflow.RequiredApprovers = slices.Clone(v.Workflow.RequiredApprovers)
	v.Workflow.Approvals = slices.Clone(v.Workflow.Approvals)
	return v
}

// Periods

func (t *memTx) InsertPeriod(_ context.Context, p model.Period) error {
	if _, ok := t.st.periods[p.ID]; ok {
		return fmt.Errorf("period %q: %w", p.ID, ledgererr.ErrAlreadyExists)
	}
	p.Version = 1
	t.st.periods[p.ID] = p
	return nil
}

func (t *memTx) GetPeriod(_ context.Context, id string) (model.Period, error) {
	p, ok := t.st.periods[id]
	if !ok {
		return model.Period{}, notFound("period", id)
	}
	return p, nil
}

func (t *memTx) UpdatePeriod(_ context.Context, p model.Period) (model.Period, error) {
	cur, ok := t.st.periods[p.ID]
	if !ok {
		return model.Period{}, notFound("period", p.ID)
	}
	if cur.Version != p.Version {
		return model.Period{}, conflict("period", p.ID, p.Version, cur.Version)
	}
	p.Version++
	t.st.periods[p.ID] = p
	return p, nil
}

func (t *memTx) ListPeriods(_ context.Context, f PeriodFilter) ([]model.Period, error) {
	var out []model.Period
	for _, p := range t.st.periods {
		if f.Match(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		return out[i].Type < out[j].Type
	})
	return out, nil
}

func (t *memTx) NextSequence(_ context.Context, name string) (int64, error) {
	t.st.seqs[name]++
	return t.st.seqs[name], nil
}
