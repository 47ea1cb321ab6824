// Package voucher implements manual journal vouchers and their approval
// workflow. Approved vouchers are posted through the posting engine.
package voucher

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/cleared-dev/ledger/internal/auditlog"
	"github.com/cleared-dev/ledger/internal/id"
	"github.com/cleared-dev/ledger/internal/journal"
	"github.com/cleared-dev/ledger/internal/ledgererr"
	"github.com/cleared-dev/ledger/internal/model"
	"github.com/cleared-dev/ledger/internal/posting"
	"github.com/cleared-dev/ledger/internal/store"
)

// Draft is a new manual voucher.
type Draft struct {
	Date        time.Time
	Description string
	Reference   string
	Entries     []model.VoucherEntry
}

// ClosingDraft is the system voucher carrying a period's closing entries.
type ClosingDraft struct {
	PeriodID    string
	Date        time.Time
	Description string
	Entries     []model.VoucherEntry
}

// Service manages journal vouchers.
type Service struct {
	store     store.Store
	engine    *posting.Engine
	threshold decimal.Decimal
	approvers []string
	autoPost  bool
	retry     store.RetryPolicy
	audit     auditlog.Recorder
	log       zerolog.Logger
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithApprovalThreshold sets the total at or above which a voucher needs
// the approver chain. Zero disables the chain.
func WithApprovalThreshold(t decimal.Decimal) Option {
	return func(s *Service) { s.threshold = t }
}

// WithApprovers sets the ordered approver chain.
func WithApprovers(approvers ...string) Option {
	return func(s *Service) { s.approvers = slices.Clone(approvers) }
}

// WithAutoPost posts vouchers as soon as they are fully approved.
func WithAutoPost(on bool) Option {
	return func(s *Service) { s.autoPost = on }
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

// WithClock overrides the clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates a voucher service posting through engine.
func NewService(st store.Store, engine *posting.Engine, opts ...Option) *Service {
	s := &Service{
		store:    st,
		engine:   engine,
		autoPost: true,
		retry:    store.DefaultRetryPolicy,
		audit:    auditlog.Discard,
		log:      zerolog.Nop(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) record(ctx context.Context, actor, action string, v model.Voucher, details string) {
	err := s.audit.Record(ctx, auditlog.Entry{
		Timestamp: s.now(),
		Actor:     actor,
		Action:    action,
		Entity:    "voucher",
		EntityID:  v.Number,
		Details:   details,
	})
	if err != nil {
		s.log.Warn().Err(err).Str("voucher", v.Number).Msg("audit record failed")
	}
}

func toLines(entries []model.VoucherEntry) []journal.LineInput {
	lines := make([]journal.LineInput, len(entries))
	for i, e := range entries {
		lines[i] = journal.LineInput{AccountCode: e.AccountCode, Debit: e.Debit, Credit: e.Credit, Description: e.Description}
	}
	return lines
}

func validateEntries(entries []model.VoucherEntry) error {
	if len(entries) < 2 {
		return ledgererr.Invalid("a voucher needs at least 2 entries, got %d", len(entries))
	}
	return journal.ValidateInputs(toLines(entries))
}

func canonicalEntries(ctx context.Context, tx store.Tx, entries []model.VoucherEntry) ([]model.VoucherEntry, error) {
	out := slices.Clone(entries)
	for i := range out {
		code := model.CanonicalCode(out[i].AccountCode)
		if _, err := tx.GetAccount(ctx, code); err != nil {
			if errors.Is(err, ledgererr.ErrNotFound) {
				return nil, ledgererr.Account(code, ledgererr.ErrNotFound)
			}
			return nil, err
		}
		out[i].AccountCode = code
	}
	return out, nil
}

func (s *Service) insert(ctx context.Context, tx store.Tx, v *model.Voucher) error {
	entries, err := canonicalEntries(ctx, tx, v.Entries)
	if err != nil {
		return err
	}
	seq, err := tx.NextSequence(ctx, id.SequenceName(id.PrefixVoucher, v.Date.Year()))
	if err != nil {
		return err
	}
	v.ID = id.New()
	v.Number = id.FormatNumber(id.PrefixVoucher, v.Date.Year(), seq)
	v.Entries = entries
	v.CreatedAt = s.now()
	v.Version = 1
	if err := tx.InsertVoucher(ctx, *v); err != nil {
		return fmt.Errorf("creating voucher %s: %w", v.Number, err)
	}
	return nil
}

// Create stores a new draft voucher after checking that it has at least two
// one-sided entries, balances, and names existing accounts.
func (s *Service) Create(ctx context.Context, d Draft, creator string) (model.Voucher, error) {
	if d.Date.IsZero() {
		return model.Voucher{}, ledgererr.Invalid("voucher date is required")
	}
	if strings.TrimSpace(creator) == "" {
		return model.Voucher{}, ledgererr.Invalid("voucher creator is required")
	}
	if err := validateEntries(d.Entries); err != nil {
		return model.Voucher{}, err
	}

	var v model.Voucher
	err := store.RunInTx(ctx, s.store, s.retry, func(ctx context.Context, tx store.Tx) error {
		v = model.Voucher{
			Date:        model.Day(d.Date),
			Description: d.Description,
			Reference:   d.Reference,
			Entries:     d.Entries,
			Status:      model.VoucherDraft,
			CreatedBy:   creator,
		}
		return s.insert(ctx, tx, &v)
	})
	if err != nil {
		return model.Voucher{}, err
	}

	debits, _ := v.Totals()
	s.log.Info().Str("voucher", v.Number).Str("total", debits.StringFixed(2)).Str("creator", creator).Msg("voucher created")
	s.record(ctx, creator, auditlog.ActionVoucherCreate, v, v.Description)
	return v, nil
}

// needsChain reports whether v must pass the approver chain.
func (s *Service) needsChain(v model.Voucher) bool {
	if !s.threshold.IsPositive() || len(s.approvers) == 0 {
		return false
	}
	debits, _ := v.Totals()
	return debits.GreaterThanOrEqual(s.threshold)
}

func transition(v model.Voucher, to model.VoucherStatus) error {
	return &ledgererr.TransitionError{Entity: "voucher " + v.Number, From: string(v.Status), To: string(to)}
}

// update runs fn against the current voucher in a retried transaction and
// stores the result. It returns the stored voucher and any set posted.
func (s *Service) update(ctx context.Context, ref string, fn func(ctx context.Context, tx store.Tx, v *model.Voucher) (*model.TransactionSet, error)) (model.Voucher, *model.TransactionSet, error) {
	var (
		out    model.Voucher
		posted *model.TransactionSet
	)
	err := store.RunInTx(ctx, s.store, s.retry, func(ctx context.Context, tx store.Tx) error {
		v, err := getTx(ctx, tx, ref)
		if err != nil {
			return err
		}
		posted, err = fn(ctx, tx, &v)
		if err != nil {
			return err
		}
		out, err = tx.UpdateVoucher(ctx, v)
		return err
	})
	if err != nil {
		return model.Voucher{}, nil, err
	}
	return out, posted, nil
}

// Submit sends a draft for approval. Vouchers totalling at least the
// approval threshold wait for the approver chain; others are approved
// immediately and, with auto-post, posted.
func (s *Service) Submit(ctx context.Context, ref, actor string) (model.Voucher, error) {
	v, set, err := s.update(ctx, ref, func(ctx context.Context, tx store.Tx, v *model.Voucher) (*model.TransactionSet, error) {
		if v.Status != model.VoucherDraft {
			return nil, transition(*v, model.VoucherPendingApproval)
		}
		if s.needsChain(*v) {
			v.Status = model.VoucherPendingApproval
			v.Workflow = model.ApprovalWorkflow{RequiredApprovers: slices.Clone(s.approvers)}
			return nil, nil
		}
		v.Status = model.VoucherApproved
		v.Workflow.ApprovedAt = s.now()
		if !s.autoPost {
			return nil, nil
		}
		return s.postTx(ctx, tx, v, actor)
	})
	if err != nil {
		return model.Voucher{}, err
	}
	s.record(ctx, actor, auditlog.ActionVoucherSubmit, v, string(v.Status))
	s.afterPost(ctx, set, actor)
	return v, nil
}

// Approve records approver's decision. The creator may never approve their
// own voucher, and with an approver chain only the current approver may act.
// Once every approval is in the voucher is approved and, with auto-post, posted.
func (s *Service) Approve(ctx context.Context, ref, approver string) (model.Voucher, error) {
	v, set, err := s.update(ctx, ref, func(ctx context.Context, tx store.Tx, v *model.Voucher) (*model.TransactionSet, error) {
		switch v.Status {
		case model.VoucherDraft:
			if s.needsChain(*v) {
				v.Workflow = model.ApprovalWorkflow{RequiredApprovers: slices.Clone(s.approvers)}
			}
		case model.VoucherPendingApproval:
		default:
			return nil, transition(*v, model.VoucherApproved)
		}
		if approver == v.CreatedBy {
			return nil, fmt.Errorf("%w: %s created %s", ledgererr.ErrSegregationOfDuties, approver, v.Number)
		}

		w := &v.Workflow
		if len(w.RequiredApprovers) > 0 {
			current, _ := w.CurrentApprover()
			if approver != current {
				return nil, fmt.Errorf("%w: %s is waiting for %s, not %s", ledgererr.ErrForbidden, v.Number, current, approver)
			}
			w.CurrentIndex++
		}
		w.Approvals = append(w.Approvals, model.Approval{Approver: approver, At: s.now()})

		if _, waiting := w.CurrentApprover(); waiting {
			v.Status = model.VoucherPendingApproval
			return nil, nil
		}
		v.Status = model.VoucherApproved
		w.ApprovedAt = s.now()
		if !s.autoPost {
			return nil, nil
		}
		return s.postTx(ctx, tx, v, approver)
	})
	if err != nil {
		return model.Voucher{}, err
	}

	s.log.Info().Str("voucher", v.Number).Str("approver", approver).Str("status", string(v.Status)).Msg("voucher approved")
	s.record(ctx, approver, auditlog.ActionVoucherApprove, v, string(v.Status))
	s.afterPost(ctx, set, approver)
	return v, nil
}

// Reject ends the workflow. Rejected vouchers never reach the ledger.
func (s *Service) Reject(ctx context.Context, ref, actor, reason string) (model.Voucher, error) {
	if strings.TrimSpace(reason) == "" {
		return model.Voucher{}, ledgererr.Invalid("rejection reason is required")
	}
	v, _, err := s.update(ctx, ref, func(_ context.Context, _ store.Tx, v *model.Voucher) (*model.TransactionSet, error) {
		if v.Status != model.VoucherDraft && v.Status != model.VoucherPendingApproval {
			return nil, transition(*v, model.VoucherRejected)
		}
		if actor == v.CreatedBy {
			return nil, fmt.Errorf("%w: %s created %s", ledgererr.ErrSegregationOfDuties, actor, v.Number)
		}
		v.Status = model.VoucherRejected
		v.Workflow.RejectedBy = actor
		v.Workflow.RejectedAt = s.now()
		v.Workflow.RejectionReason = reason
		return nil, nil
	})
	if err != nil {
		return model.Voucher{}, err
	}
	s.record(ctx, actor, auditlog.ActionVoucherReject, v, reason)
	return v, nil
}

// Post posts an approved voucher.
func (s *Service) Post(ctx context.Context, ref, actor string) (model.Voucher, error) {
	v, set, err := s.update(ctx, ref, func(ctx context.Context, tx store.Tx, v *model.Voucher) (*model.TransactionSet, error) {
		if v.Status != model.VoucherApproved {
			return nil, transition(*v, model.VoucherPosted)
		}
		return s.postTx(ctx, tx, v, actor)
	})
	if err != nil {
		return model.Voucher{}, err
	}
	s.afterPost(ctx, set, actor)
	return v, nil
}

func (s *Service) postTx(ctx context.Context, tx store.Tx, v *model.Voucher, actor string) (*model.TransactionSet, error) {
	kind := model.KindJournal
	var closingPeriod string
	if v.IsClosingEntry {
		kind, closingPeriod = model.KindClosing, v.PeriodID
	}
	set, err := s.engine.PostTx(ctx, tx, posting.Request{
		Date:            v.Date,
		Kind:            kind,
		Reference:       model.Reference{Type: "voucher", ID: v.Number},
		Description:     v.Description,
		Lines:           toLines(v.Entries),
		VoucherID:       v.ID,
		ClosingPeriodID: closingPeriod,
	}, actor)
	if err != nil {
		return nil, fmt.Errorf("posting voucher %s: %w", v.Number, err)
	}
	v.Status = model.VoucherPosted
	v.PostedBy = actor
	v.PostedAt = s.now()
	v.TransactionSetID = set.ID
	return &set, nil
}

func (s *Service) afterPost(ctx context.Context, set *model.TransactionSet, actor string) {
	if set != nil {
		s.engine.Posted(ctx, *set, auditlog.ActionVoucherPost, actor)
	}
}

// CreateClosing creates and immediately posts the closing voucher of a
// period. Each period has at most one.
func (s *Service) CreateClosing(ctx context.Context, d ClosingDraft, actor string) (model.Voucher, error) {
	var (
		v   model.Voucher
		set *model.TransactionSet
	)
	err := store.RunInTx(ctx, s.store, s.retry, func(ctx context.Context, tx store.Tx) error {
		var err error
		v, set, err = s.CreateClosingTx(ctx, tx, d, actor)
		return err
	})
	if err != nil {
		return model.Voucher{}, err
	}
	s.ClosingPosted(ctx, v, set, actor)
	return v, nil
}

// CreateClosingTx is CreateClosing inside the caller's transaction. The
// caller reports the result with ClosingPosted after committing.
func (s *Service) CreateClosingTx(ctx context.Context, tx store.Tx, d ClosingDraft, actor string) (model.Voucher, *model.TransactionSet, error) {
	if d.PeriodID == "" {
		return model.Voucher{}, nil, ledgererr.Invalid("closing voucher needs a period")
	}
	if err := validateEntries(d.Entries); err != nil {
		return model.Voucher{}, nil, err
	}

	existing, err := tx.ListVouchers(ctx, store.VoucherFilter{PeriodID: d.PeriodID, ClosingOnly: true})
	if err != nil {
		return model.Voucher{}, nil, err
	}
	if len(existing) > 0 {
		return model.Voucher{}, nil, fmt.Errorf("closing voucher for period %s: %w", d.PeriodID, ledgererr.ErrAlreadyExists)
	}

	v := model.Voucher{
		Date:           model.Day(d.Date),
		Description:    d.Description,
		Reference:      "period:" + d.PeriodID,
		Entries:        d.Entries,
		Status:         model.VoucherApproved,
		Workflow:       model.ApprovalWorkflow{ApprovedAt: s.now()},
		CreatedBy:      actor,
		IsClosingEntry: true,
		PeriodID:       d.PeriodID,
	}
	if err := s.insert(ctx, tx, &v); err != nil {
		return model.Voucher{}, nil, err
	}
	set, err := s.postTx(ctx, tx, &v, actor)
	if err != nil {
		return model.Voucher{}, nil, err
	}
	v, err = tx.UpdateVoucher(ctx, v)
	if err != nil {
		return model.Voucher{}, nil, err
	}
	return v, set, nil
}

// ClosingPosted records a committed closing voucher and its set.
func (s *Service) ClosingPosted(ctx context.Context, v model.Voucher, set *model.TransactionSet, actor string) {
	s.record(ctx, actor, auditlog.ActionVoucherCreate, v, "closing entries")
	s.afterPost(ctx, set, actor)
}

// Get returns a voucher by ID or number.
func (s *Service) Get(ctx context.Context, ref string) (model.Voucher, error) {
	var v model.Voucher
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		v, err = getTx(ctx, tx, ref)
		return err
	})
	return v, err
}

func getTx(ctx context.Context, tx store.Tx, ref string) (model.Voucher, error) {
	v, err := tx.GetVoucher(ctx, ref)
	if err == nil || !errors.Is(err, ledgererr.ErrNotFound) {
		return v, err
	}
	prefix, year, _, perr := id.ParseNumber(ref)
	if perr != nil || prefix != id.PrefixVoucher {
		return model.Voucher{}, err
	}
	all, lerr := tx.ListVouchers(ctx, store.VoucherFilter{
		From: time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC),
		To:   time.Date(year, 12, 31, 0, 0, 0, 0, time.UTC),
	})
	if lerr != nil {
		return model.Voucher{}, lerr
	}
	for _, cand := range all {
		if cand.Number == ref {
			return cand, nil
		}
	}
	return model.Voucher{}, err
}

// List returns vouchers matching f.
func (s *Service) List(ctx context.Context, f store.VoucherFilter) ([]model.Voucher, error) {
	var out []model.Voucher
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = tx.ListVouchers(ctx, f)
		return err
	})
	return out, err
}

// ClosingVoucherFor returns the closing voucher of a period, or nil.
func (s *Service) ClosingVoucherFor(ctx context.Context, periodID string) (*model.Voucher, error) {
	vs, err := s.List(ctx, store.VoucherFilter{PeriodID: periodID, ClosingOnly: true})
	if err != nil || len(vs) == 0 {
		return nil, err
	}
	return &vs[0], nil
}
