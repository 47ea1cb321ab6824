package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/shopspring/decimal"

	"github.com/cleared-dev/ledger/internal/accounts"
	"github.com/cleared-dev/ledger/internal/auditlog"
	"github.com/cleared-dev/ledger/internal/closing"
	"github.com/cleared-dev/ledger/internal/config"
	"github.com/cleared-dev/ledger/internal/events"
	"github.com/cleared-dev/ledger/internal/importer"
	"github.com/cleared-dev/ledger/internal/ledgererr"
	"github.com/cleared-dev/ledger/internal/logger"
	"github.com/cleared-dev/ledger/internal/period"
	"github.com/cleared-dev/ledger/internal/posting"
	"github.com/cleared-dev/ledger/internal/store"
	"github.com/cleared-dev/ledger/internal/store/sqlite"
	"github.com/cleared-dev/ledger/internal/trialbalance"
	"github.com/cleared-dev/ledger/internal/voucher"
)

// ConfigFile is the ledger configuration file name inside the data directory.
const ConfigFile = "ledger.yaml"

// app holds the services a command runs against.
type app struct {
	dir      string
	cfg      *config.Config
	store    store.Store
	audit    *auditlog.File
	accounts *accounts.Service
	engine   *posting.Engine
	roles    *posting.Resolver
	events   *events.Service
	vouchers *voucher.Service
	trial    *trialbalance.Generator
	periods  *period.Service
	importer *importer.Importer
}

// openApp loads <dir>/ledger.yaml, opens the store and wires the services.
func openApp(ctx context.Context, dir string) (*app, error) {
	cfg, err := config.Load(filepath.Join(dir, ConfigFile))
	if err != nil {
		return nil, err
	}
	if err := logger.Setup(cfg.LoggerConfig()); err != nil {
		return nil, err
	}
	st, err := openStore(dir, cfg)
	if err != nil {
		return nil, err
	}
	a, err := wire(ctx, dir, cfg, st)
	if err != nil {
		st.Close()
		return nil, err
	}
	return a, nil
}

func openStore(dir string, cfg *config.Config) (store.Store, error) {
	if cfg.Database.Driver == "memory" {
		return store.NewMemory(), nil
	}
	path := cfg.Database.Path
	if !filepath.IsAbs(path) {
		path = filepath.Join(dir, path)
	}
	return sqlite.New(path)
}

func wire(ctx context.Context, dir string, cfg *config.Config, st store.Store) (*app, error) {
	auditPath := cfg.Audit.Path
	if !filepath.IsAbs(auditPath) {
		auditPath = filepath.Join(dir, auditPath)
	}
	if err := os.MkdirAll(filepath.Dir(auditPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating audit log directory: %w", err)
	}
	audit := auditlog.NewFile(auditPath)

	threshold, err := cfg.Vouchers.Threshold()
	if err != nil {
		return nil, err
	}
	fyMonth, fyDay, err := cfg.Fiscal.FiscalYearStart()
	if err != nil {
		return nil, err
	}
	retry := store.RetryPolicy{MaxAttempts: cfg.Posting.MaxRetries, Backoff: cfg.Posting.RetryBackoff}

	accts := accounts.NewService(st,
		accounts.WithRetryPolicy(retry),
		accounts.WithAudit(audit),
		accounts.WithLockTTL(cfg.Reconciliation.DefaultLockTTL, cfg.Reconciliation.MaxLockTTL),
		accounts.WithLogger(logger.WithComponent("accounts")),
	)
	engine := posting.NewEngine(st, accts,
		posting.WithRetryPolicy(retry),
		posting.WithAudit(audit),
		posting.WithLogger(logger.WithComponent("posting")),
	)
	roles := posting.NewResolver(st, cfg.Roles, logger.WithComponent("roles"))
	if _, err := roles.ResolveAll(ctx); err != nil {
		return nil, err
	}
	ev := events.NewService(engine, roles,
		events.WithSubledgers(accts),
		events.WithProductCosts(productCosts(cfg.Products)),
		events.WithLogger(logger.WithComponent("events")),
	)
	vouchers := voucher.NewService(st, engine,
		voucher.WithApprovalThreshold(threshold),
		voucher.WithApprovers(cfg.Vouchers.Approvers...),
		voucher.WithAutoPost(cfg.Vouchers.AutoPost),
		voucher.WithRetryPolicy(retry),
		voucher.WithAudit(audit),
		voucher.WithLogger(logger.WithComponent("voucher")),
	)
	trial := trialbalance.NewGenerator(st, trialbalance.WithLogger(logger.WithComponent("trialbalance")))
	closer := closing.NewGenerator(st, vouchers, roles, logger.WithComponent("closing"))
	periods := period.NewService(st, trial, closer,
		period.WithClosingEntriesFor(cfg.Periods.ClosingEntryFor...),
		period.WithAdmins(cfg.Periods.Admins...),
		period.WithFiscalYearStart(fyMonth, fyDay),
		period.WithRetryPolicy(retry),
		period.WithAudit(audit),
		period.WithLogger(logger.WithComponent("period")),
	)
	engine.SetPeriodGuard(periods)

	imp := importer.New(ev, engine,
		importer.WithCounterAccounts(cfg.Import.ReceiptAccount, cfg.Import.PaymentAccount),
		importer.WithAudit(audit),
		importer.WithLogger(logger.WithComponent("importer")),
	)

	return &app{
		dir:      dir,
		cfg:      cfg,
		store:    st,
		audit:    audit,
		accounts: accts,
		engine:   engine,
		roles:    roles,
		events:   ev,
		vouchers: vouchers,
		trial:    trial,
		periods:  periods,
		importer: imp,
	}, nil
}

// productCosts serves current unit costs from the products table in ledger.yaml.
type productCosts map[string]string

func (p productCosts) CurrentCost(_ context.Context, productID string) (decimal.Decimal, error) {
	cost, ok := p[productID]
	if !ok {
		return decimal.Zero, fmt.Errorf("product %s: %w", productID, ledgererr.ErrNotFound)
	}
	return decimal.NewFromString(cost)
}

func (a *app) Close() error {
	return a.store.Close()
}
