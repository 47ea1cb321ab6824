package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/cleared-dev/ledger/internal/logger"
	"github.com/cleared-dev/ledger/internal/model"
)

// Config represents the top-level ledger.yaml configuration.
type Config struct {
	Business       BusinessConfig       `yaml:"business"`
	Fiscal         FiscalConfig         `yaml:"fiscal"`
	Database       DatabaseConfig       `yaml:"database"`
	Posting        PostingConfig        `yaml:"posting"`
	Reconciliation ReconciliationConfig `yaml:"reconciliation"`
	Vouchers       VoucherConfig        `yaml:"vouchers"`
	Periods        PeriodConfig         `yaml:"periods"`
	Roles          map[string]string    `yaml:"roles,omitempty"`
	Products       map[string]string    `yaml:"products,omitempty"` // product ID -> current unit cost
	Import         ImportConfig         `yaml:"import"`
	Audit          AuditConfig          `yaml:"audit"`
	Log            LogConfig            `yaml:"log"`
}

// BusinessConfig identifies the business entity.
type BusinessConfig struct {
	Name     string `yaml:"name"`
	Currency string `yaml:"currency"`
}

// FiscalConfig defines the fiscal year boundaries.
type FiscalConfig struct {
	YearStart string `yaml:"year_start"` // "MM-DD" format, e.g. "01-01"
}

// DatabaseConfig selects the storage backend.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite or memory
	Path   string `yaml:"path"`
}

// PostingConfig controls the posting engine's retry loop.
type PostingConfig struct {
	MaxRetries   int           `yaml:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

// ReconciliationConfig bounds reconciliation lock lifetimes.
type ReconciliationConfig struct {
	DefaultLockTTL time.Duration `yaml:"default_lock_ttl"`
	MaxLockTTL     time.Duration `yaml:"max_lock_ttl"`
}

// VoucherConfig controls the journal voucher approval workflow.
type VoucherConfig struct {
	ApprovalThreshold string   `yaml:"approval_threshold"`
	Approvers         []string `yaml:"approvers,omitempty"`
	AutoPost          bool     `yaml:"auto_post"`
}

// PeriodConfig controls the period lifecycle.
type PeriodConfig struct {
	Admins          []string           `yaml:"admins,omitempty"`
	ClosingEntryFor []model.PeriodType `yaml:"closing_entries_for,omitempty"`
}

// ImportConfig controls bank statement imports. Empty accounts fall back
// to accounts receivable for deposits and accounts payable for withdrawals.
type ImportConfig struct {
	Format         string `yaml:"format"`
	ReceiptAccount string `yaml:"receipt_account,omitempty"`
	PaymentAccount string `yaml:"payment_account,omitempty"`
}

// AuditConfig controls the audit trail file.
type AuditConfig struct {
	Path string `yaml:"path"`
}

// LogConfig mirrors logger.LogConfig in YAML form.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Threshold parses the approval threshold.
func (v VoucherConfig) Threshold() (decimal.Decimal, error) {
	if v.ApprovalThreshold == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(v.ApprovalThreshold)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parsing approval threshold %q: %w", v.ApprovalThreshold, err)
	}
	return d, nil
}

// FiscalYearStart parses the fiscal year start into month and day.
func (f FiscalConfig) FiscalYearStart() (time.Month, int, error) {
	if f.YearStart == "" {
		return time.January, 1, nil
	}
	t, err := time.Parse("01-02", f.YearStart)
	if err != nil {
		return 0, 0, fmt.Errorf("parsing fiscal year start %q: %w", f.YearStart, err)
	}
	return t.Month(), t.Day(), nil
}

// LoggerConfig converts the YAML log section into a logger configuration.
func (c *Config) LoggerConfig() logger.LogConfig {
	lc := logger.DefaultConfig()
	if c.Log.Level != "" {
		lc.Level = c.Log.Level
	}
	if c.Log.Format != "" {
		lc.Format = c.Log.Format
	}
	if c.Log.Output != "" {
		lc.Output = c.Log.Output
	}
	return lc
}

// Load reads a ledger.yaml file from disk and applies environment overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg := Default("")
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// LoadDotEnv loads a .env file if one exists next to the working directory.
func LoadDotEnv(files ...string) error {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("loading %s: %w", f, err)
		}
	}
	return nil
}

// Save writes a Config to a YAML file.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// Default returns a Config with sensible defaults for a new ledger.
func Default(businessName string) *Config {
	return &Config{
		Business: BusinessConfig{
			Name:     businessName,
			Currency: "USD",
		},
		Fiscal: FiscalConfig{
			YearStart: "01-01",
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			Path:   "ledger.db",
		},
		Posting: PostingConfig{
			MaxRetries:   3,
			RetryBackoff: 20 * time.Millisecond,
		},
		Reconciliation: ReconciliationConfig{
			DefaultLockTTL: 30 * time.Minute,
			MaxLockTTL:     8 * time.Hour,
		},
		Vouchers: VoucherConfig{
			ApprovalThreshold: "10000.00",
			AutoPost:          true,
		},
		Periods: PeriodConfig{
			ClosingEntryFor: []model.PeriodType{model.PeriodMonthly, model.PeriodQuarterly, model.PeriodYearly},
		},
		Import: ImportConfig{
			Format: "chase",
		},
		Audit: AuditConfig{
			Path: "logs/audit-log.csv",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	if c.Database.Driver == "sqlite" && c.Database.Path == "" {
		return fmt.Errorf("database.path is required for sqlite")
	}
	if c.Posting.MaxRetries < 1 {
		return fmt.Errorf("posting.max_retries must be at least 1")
	}
	if c.Reconciliation.DefaultLockTTL <= 0 || c.Reconciliation.MaxLockTTL < c.Reconciliation.DefaultLockTTL {
		return fmt.Errorf("reconciliation lock TTLs are inconsistent")
	}
	if _, err := c.Vouchers.Threshold(); err != nil {
		return err
	}
	if _, _, err := c.Fiscal.FiscalYearStart(); err != nil {
		return err
	}
	for id, cost := range c.Products {
		if _, err := decimal.NewFromString(cost); err != nil {
			return fmt.Errorf("products.%s: %q is not a cost", id, cost)
		}
	}
	for _, t := range c.Periods.ClosingEntryFor {
		if !t.Valid() {
			return fmt.Errorf("unknown period type %q in periods.closing_entries_for", t)
		}
	}
	return nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("LEDGER_DB_DRIVER"); v != "" {
		c.Database.Driver = v
	}
	if v := os.Getenv("LEDGER_DB_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("LEDGER_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("LEDGER_LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
	if v := os.Getenv("LEDGER_MAX_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parsing LEDGER_MAX_RETRIES %q: %w", v, err)
		}
		c.Posting.MaxRetries = n
	}
	if v := os.Getenv("LEDGER_PERIOD_ADMINS"); v != "" {
		c.Periods.Admins = strings.Split(v, ",")
	}
	return nil
}
