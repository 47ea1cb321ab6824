// Package accounts maintains the chart of accounts: the account registry,
// its hierarchy, posting eligibility, balances and reconciliation locks.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/cleared-dev/ledger/internal/auditlog"
	"github.com/cleared-dev/ledger/internal/ledgererr"
	"github.com/cleared-dev/ledger/internal/model"
	"github.com/cleared-dev/ledger/internal/store"
)

// Default reconciliation lock lifetimes.
const (
	DefaultLockTTL = 30 * time.Minute
	MaxLockTTL     = 8 * time.Hour
)

// Service provides the chart of accounts over a Store.
type Service struct {
	store      store.Store
	retry      store.RetryPolicy
	audit      auditlog.Recorder
	log        zerolog.Logger
	now        func() time.Time
	defaultTTL time.Duration
	maxTTL     time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithRetryPolicy sets the optimistic-concurrency retry bounds.
func WithRetryPolicy(p store.RetryPolicy) Option {
	return func(s *Service) { s.retry = p }
}

// WithAudit sets the audit trail recorder.
func WithAudit(r auditlog.Recorder) Option {
	return func(s *Service) {
		if r != nil {
			s.audit = r
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithLockTTL sets the default and maximum reconciliation lock lifetimes.
func WithLockTTL(def, max time.Duration) Option {
	return func(s *Service) {
		if def > 0 {
			s.defaultTTL = def
		}
		if max > 0 {
			s.maxTTL = max
		}
	}
}

// NewService creates a chart-of-accounts service.
func NewService(st store.Store, opts ...Option) *Service {
	s := &Service{
		store:      st,
		retry:      store.DefaultRetryPolicy,
		audit:      auditlog.Discard,
		log:        zerolog.Nop(),
		now:        time.Now,
		defaultTTL: DefaultLockTTL,
		maxTTL:     MaxLockTTL,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Now returns the service clock's current time.
func (s *Service) Now() time.Time { return s.now() }

// NewAccount is the input to Create.
type NewAccount struct {
	Code          string
	Name          string
	Type          model.AccountType
	Category      string
	NormalBalance model.NormalBalance // derived from Type when empty
	ParentCode    string
	// Summary accounts only aggregate their children and refuse direct postings.
	Summary         bool
	IsSystemAccount bool
	OpeningBalance  decimal.Decimal
	Description     string
}

// AccountUpdate lists the mutable attributes of an account. Nil fields are left unchanged.
type AccountUpdate struct {
	Name               *string
	Category           *string
	Description        *string
	Active             *bool
	AllowDirectPosting *bool
}

func (s *Service) run(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	return store.RunInTx(ctx, s.store, s.retry, fn)
}

func (s *Service) record(ctx context.Context, actor, action, code, details string) {
	err := s.audit.Record(ctx, auditlog.Entry{
		Timestamp: s.now(),
		Actor:     actor,
		Action:    action,
		Entity:    "account",
		EntityID:  code,
		Details:   details,
	})
	if err != nil {
		s.log.Warn().Err(err).Str("action", action).Str("account", code).Msg("audit record failed")
	}
}

// Create validates and stores a new account.
func (s *Service) Create(ctx context.Context, in NewAccount, actor string) (model.Account, error) {
	acct, err := s.build(in)
	if err != nil {
		return model.Account{}, err
	}

	err = s.run(ctx, func(ctx context.Context, tx store.Tx) error {
		a := acct
		if err := s.placeUnderParent(ctx, tx, &a); err != nil {
			return err
		}
		if _, err := tx.GetAccount(ctx, a.Code); err == nil {
			return ledgererr.Invalid("account %s already exists", a.Code)
		} else if !errors.Is(err, ledgererr.ErrNotFound) {
			return err
		}
		if err := tx.InsertAccount(ctx, a); err != nil {
			return fmt.Errorf("creating account %s: %w", a.Code, err)
		}
		acct = a
		return nil
	})
	if err != nil {
		return model.Account{}, err
	}
	acct.Version = 1

	s.log.Info().Str("account", acct.Code).Str("type", string(acct.Type)).Msg("account created")
	s.record(ctx, actor, auditlog.ActionAccountCreate, acct.Code, acct.Name)
	return acct, nil
}

func (s *Service) build(in NewAccount) (model.Account, error) {
	code := model.CanonicalCode(in.Code)
	if code == "" {
		return model.Account{}, ledgererr.Invalid("account code is required")
	}
	if in.Name == "" {
		return model.Account{}, ledgererr.Invalid("account %s: name is required", code)
	}
	if !in.Type.Valid() {
		return model.Account{}, ledgererr.Invalid("account %s: unknown type %q", code, in.Type)
	}
	normal := in.NormalBalance
	switch normal {
	case "":
		normal = model.NormalBalanceFor(in.Type)
	case model.NormalDebit, model.NormalCredit:
	default:
		return model.Account{}, ledgererr.Invalid("account %s: unknown normal balance %q", code, normal)
	}

	now := s.now()
	return model.Account{
		Code:               code,
		Name:               in.Name,
		Type:               in.Type,
		Category:           in.Category,
		NormalBalance:      normal,
		ParentCode:         model.CanonicalCode(in.ParentCode),
		AllowDirectPosting: !in.Summary,
		IsSystemAccount:    in.IsSystemAccount,
		IsActive:           true,
		OpeningBalance:     in.OpeningBalance,
		CurrentBalance:     in.OpeningBalance,
		Reconciliation:     model.Reconciliation{Status: model.ReconNotStarted},
		Description:        in.Description,
		CreatedAt:          now,
		UpdatedAt:          now,
	}, nil
}

// placeUnderParent checks the parent exists and sets the account level.
func (s *Service) placeUnderParent(ctx context.Context, tx store.Tx, a *model.Account) error {
	if a.ParentCode == "" {
		a.Level = 0
		return nil
	}
	parent, err := tx.GetAccount(ctx, a.ParentCode)
	if errors.Is(err, ledgererr.ErrNotFound) {
		return ledgererr.Invalid("account %s: parent %s does not exist", a.Code, a.ParentCode)
	}
	if err != nil {
		return err
	}
	a.Level = parent.Level + 1
	if a.Level > model.MaxAccountLevel {
		return ledgererr.Invalid("account %s: level %d exceeds maximum %d", a.Code, a.Level, model.MaxAccountLevel)
	}
	return nil
}

// Resolve looks up an account by code, case-insensitively.
func (s *Service) Resolve(ctx context.Context, code string) (model.Account, error) {
	var a model.Account
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		a, err = resolve(ctx, tx, code)
		return err
	})
	return a, err
}

func resolve(ctx context.Context, tx store.Tx, code string) (model.Account, error) {
	canonical := model.CanonicalCode(code)
	a, err := tx.GetAccount(ctx, canonical)
	if errors.Is(err, ledgererr.ErrNotFound) {
		return model.Account{}, ledgererr.Account(canonical, ledgererr.ErrNotFound)
	}
	return a, err
}

// List returns every account ordered by code.
func (s *Service) List(ctx context.Context) ([]model.Account, error) {
	var out []model.Account
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = tx.ListAccounts(ctx)
		return err
	})
	return out, err
}

// ValidatePostable is the gate every posting line passes: the account must
// exist, be active and allow direct posting.
func (s *Service) ValidatePostable(ctx context.Context, tx store.Tx, code string) (model.Account, error) {
	a, err := resolve(ctx, tx, code)
	if err != nil {
		return model.Account{}, err
	}
	if !a.IsActive {
		return model.Account{}, ledgererr.Account(a.Code, ledgererr.ErrInactive)
	}
	if !a.AllowDirectPosting {
		return model.Account{}, ledgererr.Account(a.Code, ledgererr.ErrDirectPostingDisallowed)
	}
	return a, nil
}

// ApplyBalanceDelta adds a signed amount (in the account's normal-balance
// sense) to the account balance inside tx. It fails fast when another actor
// holds an active reconciliation lock on the account.
func (s *Service) ApplyBalanceDelta(ctx context.Context, tx store.Tx, code string, delta decimal.Decimal, actor string) error {
	a, err := resolve(ctx, tx, code)
	if err != nil {
		return err
	}
	if err := s.checkLock(a, actor); err != nil {
		return err
	}
	if err := tx.AddToBalance(ctx, a.Code, delta); err != nil {
		return fmt.Errorf("applying balance delta to %s: %w", a.Code, err)
	}
	return nil
}

func (s *Service) checkLock(a model.Account, actor string) error {
	r := a.Reconciliation
	if r.BlocksActor(actor, s.now()) {
		return &ledgererr.LockedError{Code: a.Code, Holder: r.LockedBy, ExpiresAt: r.LockExpiresAt, Err: ledgererr.ErrAccountLocked}
	}
	return nil
}

// Update changes the mutable attributes of a non-system account.
func (s *Service) Update(ctx context.Context, code string, upd AccountUpdate, actor string) (model.Account, error) {
	var out model.Account
	err := s.run(ctx, func(ctx context.Context, tx store.Tx) error {
		a, err := resolve(ctx, tx, code)
		if err != nil {
			return err
		}
		if a.IsSystemAccount {
			return ledgererr.Account(a.Code, ledgererr.ErrSystemAccount)
		}
		if upd.Name != nil {
			if *upd.Name == "" {
				return ledgererr.Invalid("account %s: name is required", a.Code)
			}
			a.Name = *upd.Name
		}
		if upd.Category != nil {
			a.Category = *upd.Category
		}
		if upd.Description != nil {
			a.Description = *upd.Description
		}
		if upd.Active != nil {
			a.IsActive = *upd.Active
		}
		if upd.AllowDirectPosting != nil {
			a.AllowDirectPosting = *upd.AllowDirectPosting
		}
		a.UpdatedAt = s.now()
		out, err = tx.UpdateAccount(ctx, a)
		return err
	})
	if err != nil {
		return model.Account{}, err
	}
	s.record(ctx, actor, auditlog.ActionAccountUpdate, out.Code, "")
	return out, nil
}

// Activate marks an account active.
func (s *Service) Activate(ctx context.Context, code, actor string) (model.Account, error) {
	active := true
	return s.Update(ctx, code, AccountUpdate{Active: &active}, actor)
}

// Deactivate marks an account inactive; it no longer accepts postings.
func (s *Service) Deactivate(ctx context.Context, code, actor string) (model.Account, error) {
	active := false
	return s.Update(ctx, code, AccountUpdate{Active: &active}, actor)
}

// Reparent moves an account (and its subtree) under a new parent, or to the
// top level when newParent is empty.
func (s *Service) Reparent(ctx context.Context, code, newParent, actor string) (model.Account, error) {
	code = model.CanonicalCode(code)
	newParent = model.CanonicalCode(newParent)

	var out model.Account
	err := s.run(ctx, func(ctx context.Context, tx store.Tx) error {
		all, err := tx.ListAccounts(ctx)
		if err != nil {
			return err
		}
		byCode := make(map[string]model.Account, len(all))
		children := make(map[string][]string)
		for _, a := range all {
			byCode[a.Code] = a
			if a.ParentCode != "" {
				children[a.ParentCode] = append(children[a.ParentCode], a.Code)
			}
		}

		a, ok := byCode[code]
		if !ok {
			return ledgererr.Account(code, ledgererr.ErrNotFound)
		}
		if a.IsSystemAccount {
			return ledgererr.Account(code, ledgererr.ErrSystemAccount)
		}

		level := 0
		if newParent != "" {
			parent, ok := byCode[newParent]
			if !ok {
				return ledgererr.Invalid("account %s: parent %s does not exist", code, newParent)
			}
			if err := checkAncestors(byCode, code, newParent); err != nil {
				return err
			}
			level = parent.Level + 1
		}

		shift := level - a.Level
		if depth := level + subtreeDepth(children, code); depth > model.MaxAccountLevel {
			return ledgererr.Invalid("account %s: moving under %q would reach level %d (maximum %d)",
				code, newParent, depth, model.MaxAccountLevel)
		}

		now := s.now()
		a.ParentCode = newParent
		a.Level = level
		a.UpdatedAt = now
		if out, err = tx.UpdateAccount(ctx, a); err != nil {
			return err
		}
		if shift == 0 {
			return nil
		}
		return walkSubtree(children, code, func(desc string) error {
			d := byCode[desc]
			d.Level += shift
			d.UpdatedAt = now
			_, err := tx.UpdateAccount(ctx, d)
			return err
		})
	})
	if err != nil {
		return model.Account{}, err
	}
	s.record(ctx, actor, auditlog.ActionAccountReparent, code, "parent="+newParent)
	return out, nil
}

// checkAncestors walks up from parent and rejects the move if code is on the chain.
func checkAncestors(byCode map[string]model.Account, code, parent string) error {
	seen := make(map[string]bool)
	for cur := parent; cur != ""; cur = byCode[cur].ParentCode {
		if cur == code {
			return ledgererr.Account(code, fmt.Errorf("%w: %s is a descendant", ledgererr.ErrCyclicHierarchy, parent))
		}
		if seen[cur] {
			return ledgererr.Account(cur, ledgererr.ErrCyclicHierarchy)
		}
		seen[cur] = true
	}
	return nil
}

func subtreeDepth(children map[string][]string, code string) int {
	depth := 0
	for _, c := range children[code] {
		if d := 1 + subtreeDepth(children, c); d > depth {
			depth = d
		}
	}
	return depth
}

func walkSubtree(children map[string][]string, code string, fn func(string) error) error {
	for _, c := range children[code] {
		if err := fn(c); err != nil {
			return err
		}
		if err := walkSubtree(children, c, fn); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes an account that has never been used.
func (s *Service) Delete(ctx context.Context, code, actor string) error {
	code = model.CanonicalCode(code)
	err := s.run(ctx, func(ctx context.Context, tx store.Tx) error {
		a, err := resolve(ctx, tx, code)
		if err != nil {
			return err
		}
		if a.IsSystemAccount {
			return ledgererr.Account(code, ledgererr.ErrSystemAccount)
		}
		if !a.CurrentBalance.IsZero() {
			return ledgererr.Account(code, fmt.Errorf("%w: balance %s", ledgererr.ErrAccountInUse, a.CurrentBalance.StringFixed(2)))
		}
		all, err := tx.ListAccounts(ctx)
		if err != nil {
			return err
		}
		for _, other := range all {
			if other.ParentCode == code {
				return ledgererr.Account(code, fmt.Errorf("%w: has sub-account %s", ledgererr.ErrAccountInUse, other.Code))
			}
		}
		lines, err := tx.ListLines(ctx, store.LineFilter{AccountCode: code})
		if err != nil {
			return err
		}
		if len(lines) > 0 {
			return ledgererr.Account(code, fmt.Errorf("%w: %d posted lines", ledgererr.ErrAccountInUse, len(lines)))
		}
		return tx.DeleteAccount(ctx, code)
	})
	if err != nil {
		return err
	}
	s.record(ctx, actor, auditlog.ActionAccountDelete, code, "")
	return nil
}

// AdjustOpeningBalance is an administrative correction. Opening and current
// balance move together so current = opening + posted lines keeps holding.
func (s *Service) AdjustOpeningBalance(ctx context.Context, code string, delta decimal.Decimal, actor, reason string) (model.Account, error) {
	if reason == "" {
		return model.Account{}, ledgererr.Invalid("a reason is required to adjust an opening balance")
	}
	if delta.IsZero() {
		return model.Account{}, ledgererr.Invalid("adjustment amount must be non-zero")
	}

	var out model.Account
	err := s.run(ctx, func(ctx context.Context, tx store.Tx) error {
		a, err := resolve(ctx, tx, code)
		if err != nil {
			return err
		}
		if err := s.checkLock(a, actor); err != nil {
			return err
		}
		a.OpeningBalance = a.OpeningBalance.Add(delta)
		a.UpdatedAt = s.now()
		if _, err := tx.UpdateAccount(ctx, a); err != nil {
			return err
		}
		if err := tx.AddToBalance(ctx, a.Code, delta); err != nil {
			return err
		}
		out, err = tx.GetAccount(ctx, a.Code)
		return err
	})
	if err != nil {
		return model.Account{}, err
	}
	s.log.Info().Str("account", out.Code).Str("delta", delta.StringFixed(2)).Str("actor", actor).Msg("opening balance adjusted")
	s.record(ctx, actor, auditlog.ActionBalanceAdjust, out.Code, fmt.Sprintf("%s: %s", delta.StringFixed(2), reason))
	return out, nil
}

// Node is an account with its sub-accounts.
type Node struct {
	Account  model.Account
	Children []*Node
}

// Tree returns the account hierarchy as a forest ordered by code.
func (s *Service) Tree(ctx context.Context) ([]*Node, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	nodes := make(map[string]*Node, len(all))
	for _, a := range all {
		nodes[a.Code] = &Node{Account: a}
	}
	var roots []*Node
	for _, a := range all {
		n := nodes[a.Code]
		if parent, ok := nodes[a.ParentCode]; ok && a.ParentCode != "" {
			parent.Children = append(parent.Children, n)
			continue
		}
		roots = append(roots, n)
	}
	return roots, nil
}

// EnsureSubledgerAccount returns the ledger account for a customer or
// supplier under a control account, creating it on first use.
func (s *Service) EnsureSubledgerAccount(ctx context.Context, parentCode, key, name, actor string) (model.Account, error) {
	parentCode = model.CanonicalCode(parentCode)
	key = model.CanonicalCode(key)
	if key == "" {
		return model.Account{}, ledgererr.Invalid("sub-ledger key is required")
	}
	code := parentCode + "-" + key

	var (
		out     model.Account
		created bool
	)
	err := s.run(ctx, func(ctx context.Context, tx store.Tx) error {
		created = false
		existing, err := tx.GetAccount(ctx, code)
		if err == nil {
			out = existing
			return nil
		}
		if !errors.Is(err, ledgererr.ErrNotFound) {
			return err
		}
		parent, err := resolve(ctx, tx, parentCode)
		if err != nil {
			return err
		}
		if name == "" {
			name = parent.Name + " - " + key
		}
		a, err := s.build(NewAccount{
			Code:       code,
			Name:       name,
			Type:       parent.Type,
			Category:   parent.Category,
			ParentCode: parent.Code,
		})
		if err != nil {
			return err
		}
		if err := s.placeUnderParent(ctx, tx, &a); err != nil {
			return err
		}
		if err := tx.InsertAccount(ctx, a); err != nil {
			return err
		}
		a.Version = 1
		out, created = a, true
		return nil
	})
	if err != nil {
		return model.Account{}, err
	}
	if created {
		s.log.Info().Str("account", code).Str("parent", parentCode).Msg("sub-ledger account provisioned")
		s.record(ctx, actor, auditlog.ActionAccountCreate, code, out.Name)
	}
	return out, nil
}

// Seed inserts the given chart, skipping codes that already exist. Parents
// must precede their children. It returns the number of accounts created.
func (s *Service) Seed(ctx context.Context, chart []model.Account) (int, error) {
	var created int
	err := s.run(ctx, func(ctx context.Context, tx store.Tx) error {
		created = 0
		now := s.now()
		for _, a := range chart {
			a.Code = model.CanonicalCode(a.Code)
			a.ParentCode = model.CanonicalCode(a.ParentCode)
			if _, err := tx.GetAccount(ctx, a.Code); err == nil {
				continue
			} else if !errors.Is(err, ledgererr.ErrNotFound) {
				return err
			}
			if !a.Type.Valid() {
				return ledgererr.Invalid("account %s: unknown type %q", a.Code, a.Type)
			}
			if a.NormalBalance == "" {
				a.NormalBalance = model.NormalBalanceFor(a.Type)
			}
			if err := s.placeUnderParent(ctx, tx, &a); err != nil {
				return err
			}
			if a.Reconciliation.Status == "" {
				a.Reconciliation.Status = model.ReconNotStarted
			}
			a.CurrentBalance = a.OpeningBalance
			a.CreatedAt, a.UpdatedAt = now, now
			if err := tx.InsertAccount(ctx, a); err != nil {
				return err
			}
			created++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("seeding chart of accounts: %w", err)
	}
	return created, nil
}
