package importer

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/cleared-dev/ledger/internal/auditlog"
	"github.com/cleared-dev/ledger/internal/events"
	"github.com/cleared-dev/ledger/internal/model"
	"github.com/cleared-dev/ledger/internal/posting"
	"github.com/cleared-dev/ledger/internal/store"
)

// Result summarises one statement import.
type Result struct {
	Posted  []model.TransactionSet
	Skipped []model.BankTransaction // already in the ledger
}

// Importer posts parsed bank statement rows through the event service.
type Importer struct {
	registry       *Registry
	events         *events.Service
	engine         *posting.Engine
	receiptCounter string
	paymentCounter string
	audit          auditlog.Recorder
	log            zerolog.Logger
	now            func() time.Time
}

// Option configures an Importer.
type Option func(*Importer)

// WithCounterAccounts sets the accounts credited by deposits and debited by
// withdrawals. Empty codes keep the receivable and payable defaults.
func WithCounterAccounts(receipts, payments string) Option {
	return func(i *Importer) { i.receiptCounter, i.paymentCounter = receipts, payments }
}

// WithRegistry replaces the built-in parsers.
func WithRegistry(r *Registry) Option {
	return func(i *Importer) { i.registry = r }
}

// WithAudit sets the audit trail recorder.
func WithAudit(r auditlog.Recorder) Option {
	return func(i *Importer) {
		if r != nil {
			i.audit = r
		}
	}
}

// WithLogger sets the importer logger.
func WithLogger(l zerolog.Logger) Option {
	return func(i *Importer) { i.log = l }
}

// New creates an importer. engine is used to find rows imported before.
func New(ev *events.Service, engine *posting.Engine, opts ...Option) *Importer {
	i := &Importer{
		registry: DefaultRegistry(),
		events:   ev,
		engine:   engine,
		audit:    auditlog.Discard,
		log:      zerolog.Nop(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(i)
	}
	return i
}

// Import parses r in the named format and posts every row not yet in the
// ledger: deposits as bank receipts, withdrawals as bank payments. Posting
// stops at the first failing row; rows before it stay posted.
func (i *Importer) Import(ctx context.Context, r io.Reader, format, source, actor string) (Result, error) {
	p, err := i.registry.Lookup(format)
	if err != nil {
		return Result{}, err
	}
	txns, err := p.Parse(r)
	if err != nil {
		return Result{}, fmt.Errorf("parsing %s: %w", source, err)
	}

	var res Result
	for _, txn := range txns {
		dup, err := i.imported(ctx, txn)
		if err != nil {
			return res, err
		}
		if dup {
			res.Skipped = append(res.Skipped, txn)
			continue
		}
		set, err := i.post(ctx, txn, actor)
		if err != nil {
			return res, fmt.Errorf("%s %s: %w", source, txn.Reference, err)
		}
		res.Posted = append(res.Posted, set)
	}

	i.log.Info().
		Str("source", source).
		Int("posted", len(res.Posted)).
		Int("skipped", len(res.Skipped)).
		Msg("bank statement imported")
	err = i.audit.Record(ctx, auditlog.Entry{
		Timestamp: i.now(),
		Actor:     actor,
		Action:    auditlog.ActionImport,
		Entity:    "statement",
		EntityID:  source,
		Details:   fmt.Sprintf("posted %d, skipped %d", len(res.Posted), len(res.Skipped)),
	})
	if err != nil {
		i.log.Warn().Err(err).Str("source", source).Msg("audit record failed")
	}
	return res, nil
}

func (i *Importer) post(ctx context.Context, txn model.BankTransaction, actor string) (model.TransactionSet, error) {
	pay := events.Payment{
		ID:          txn.Reference,
		Date:        txn.Date,
		Amount:      txn.Amount.Abs(),
		Description: txn.Description,
	}
	if txn.CheckNumber != "" {
		pay.Description = fmt.Sprintf("%s (check %s)", txn.Description, txn.CheckNumber)
	}
	if txn.Receipt() {
		pay.CounterAccount = i.receiptCounter
		return i.events.RecordBankReceipt(ctx, pay, actor)
	}
	pay.CounterAccount = i.paymentCounter
	return i.events.RecordBankPayment(ctx, pay, actor)
}

func (i *Importer) imported(ctx context.Context, txn model.BankTransaction) (bool, error) {
	refType := "payment"
	if txn.Receipt() {
		refType = "receipt"
	}
	ref := model.Reference{Type: refType, ID: txn.Reference}
	sets, err := i.engine.List(ctx, store.SetFilter{Reference: ref.String()})
	if err != nil {
		return false, err
	}
	return len(sets) > 0, nil
}
