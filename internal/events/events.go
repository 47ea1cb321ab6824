// Package events turns business documents (sales, purchases, receipts and
// payments) into posting requests for the ledger.
package events

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/cleared-dev/ledger/internal/accounts"
	"github.com/cleared-dev/ledger/internal/journal"
	"github.com/cleared-dev/ledger/internal/ledgererr"
	"github.com/cleared-dev/ledger/internal/model"
	"github.com/cleared-dev/ledger/internal/posting"
)

// ProductCosts reports the current unit cost of a product. Cost of goods
// sold is valued at current cost when the sale is recorded.
type ProductCosts interface {
	CurrentCost(ctx context.Context, productID string) (decimal.Decimal, error)
}

// Tender is how a document was settled.
type Tender string

const (
	TenderCash Tender = "cash"
	TenderBank Tender = "bank"
)

// SaleItem is one product line of a sale.
type SaleItem struct {
	ProductID string
	Quantity  decimal.Decimal
	UnitPrice decimal.Decimal
}

// SaleOrder is a completed sale. Total defaults to the sum of the items.
type SaleOrder struct {
	ID          string
	Customer    string
	Date        time.Time
	Items       []SaleItem
	Total       decimal.Decimal
	AmountPaid  decimal.Decimal
	Tender      Tender
	Description string
}

// PurchaseOrder is a received purchase of stock.
type PurchaseOrder struct {
	ID          string
	Supplier    string
	Date        time.Time
	Total       decimal.Decimal
	AmountPaid  decimal.Decimal
	Tender      Tender
	Description string
}

// Payment is money received or paid through cash or bank. CounterAccount
// defaults to accounts receivable for receipts and accounts payable for payments.
type Payment struct {
	ID             string
	Date           time.Time
	Amount         decimal.Decimal
	CounterAccount string
	Description    string
}

// SaleReturn gives back part of a sale's revenue. The whole sale set,
// including its cost lines, is reversed in the same proportion.
type SaleReturn struct {
	SaleSetID     string
	RevenueAmount decimal.Decimal
	Reason        string
}

// Service records business events through the posting engine.
type Service struct {
	engine     *posting.Engine
	roles      *posting.Resolver
	accounts   *accounts.Service
	costs      ProductCosts
	subledgers bool
	log        zerolog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithProductCosts sets the cost source for cost of goods sold.
func WithProductCosts(c ProductCosts) Option {
	return func(s *Service) { s.costs = c }
}

// WithSubledgers posts customer and supplier balances to per-party accounts
// provisioned under the receivable and payable control accounts.
func WithSubledgers(accts *accounts.Service) Option {
	return func(s *Service) {
		s.accounts = accts
		s.subledgers = accts != nil
	}
}

// WithLogger sets the service logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.log = l }
}

// NewService creates an event recorder.
func NewService(engine *posting.Engine, roles *posting.Resolver, opts ...Option) *Service {
	s := &Service{engine: engine, roles: roles, log: zerolog.Nop()}
	for _, o := range opts {
		o(s)
	}
	return s
}

type lineSet []journal.LineInput

func (ls *lineSet) debit(code string, amount decimal.Decimal) {
	if amount.IsPositive() {
		*ls = append(*ls, journal.LineInput{AccountCode: code, Debit: amount})
	}
}

func (ls *lineSet) credit(code string, amount decimal.Decimal) {
	if amount.IsPositive() {
		*ls = append(*ls, journal.LineInput{AccountCode: code, Credit: amount})
	}
}

func (s *Service) codes(ctx context.Context, roles ...posting.Role) (map[posting.Role]string, error) {
	out := make(map[posting.Role]string, len(roles))
	for _, r := range roles {
		code, err := s.roles.Code(ctx, r)
		if err != nil {
			return nil, err
		}
		out[r] = code
	}
	return out, nil
}

func tenderRole(t Tender) (posting.Role, error) {
	switch t {
	case "", TenderCash:
		return posting.RoleCash, nil
	case TenderBank:
		return posting.RoleBank, nil
	}
	return "", ledgererr.Invalid("unknown tender %q", t)
}

func (s *Service) party(ctx context.Context, control, key, actor string) (string, error) {
	if !s.subledgers || strings.TrimSpace(key) == "" {
		return control, nil
	}
	a, err := s.accounts.EnsureSubledgerAccount(ctx, control, key, "", actor)
	if err != nil {
		return "", fmt.Errorf("provisioning sub-ledger for %s: %w", key, err)
	}
	return a.Code, nil
}

func settle(total, paid decimal.Decimal) (decimal.Decimal, error) {
	if !total.IsPositive() {
		return decimal.Zero, ledgererr.Invalid("document total must be positive")
	}
	if paid.IsNegative() || paid.GreaterThan(total) {
		return decimal.Zero, ledgererr.Invalid("amount paid %s must be between 0 and the total %s", paid.StringFixed(2), total.StringFixed(2))
	}
	return total.Sub(paid), nil
}

// RecordSale posts a sale: cash or bank for the amount paid, receivable for
// the rest, revenue for the total, and cost of goods sold against inventory
// at current cost.
func (s *Service) RecordSale(ctx context.Context, o SaleOrder, actor string) (model.TransactionSet, error) {
	total := o.Total
	if total.IsZero() {
		for _, it := range o.Items {
			total = total.Add(it.Quantity.Mul(it.UnitPrice))
		}
		total = total.Round(2)
	}
	unpaid, err := settle(total, o.AmountPaid)
	if err != nil {
		return model.TransactionSet{}, fmt.Errorf("sale %s: %w", o.ID, err)
	}
	tender, err := tenderRole(o.Tender)
	if err != nil {
		return model.TransactionSet{}, err
	}

	codes, err := s.codes(ctx, tender, posting.RoleAccountsReceivable, posting.RoleSalesRevenue,
		posting.RoleCostOfGoodsSold, posting.RoleInventory)
	if err != nil {
		return model.TransactionSet{}, err
	}
	cost, err := s.costOfSale(ctx, o.Items)
	if err != nil {
		return model.TransactionSet{}, fmt.Errorf("sale %s: %w", o.ID, err)
	}

	var lines lineSet
	lines.debit(codes[tender], o.AmountPaid)
	if unpaid.IsPositive() {
		ar, err := s.party(ctx, codes[posting.RoleAccountsReceivable], o.Customer, actor)
		if err != nil {
			return model.TransactionSet{}, err
		}
		lines.debit(ar, unpaid)
	}
	lines.credit(codes[posting.RoleSalesRevenue], total)
	lines.debit(codes[posting.RoleCostOfGoodsSold], cost)
	lines.credit(codes[posting.RoleInventory], cost)

	return s.engine.Post(ctx, posting.Request{
		Date:        o.Date,
		Kind:        model.KindSale,
		Reference:   model.Reference{Type: "sale", ID: o.ID},
		Description: describe(o.Description, "Sale %s", o.ID),
		Lines:       lines,
	}, actor)
}

func (s *Service) costOfSale(ctx context.Context, items []SaleItem) (decimal.Decimal, error) {
	cost := decimal.Zero
	if s.costs == nil {
		return cost, nil
	}
	for _, it := range items {
		unit, err := s.costs.CurrentCost(ctx, it.ProductID)
		if err != nil {
			return decimal.Zero, fmt.Errorf("cost of %s: %w", it.ProductID, err)
		}
		cost = cost.Add(it.Quantity.Mul(unit))
	}
	return cost.Round(2), nil
}

// RecordPurchase posts a stock purchase: inventory for the total against
// cash or bank for the amount paid and payables for the rest.
func (s *Service) RecordPurchase(ctx context.Context, o PurchaseOrder, actor string) (model.TransactionSet, error) {
	unpaid, err := settle(o.Total, o.AmountPaid)
	if err != nil {
		return model.TransactionSet{}, fmt.Errorf("purchase %s: %w", o.ID, err)
	}
	tender, err := tenderRole(o.Tender)
	if err != nil {
		return model.TransactionSet{}, err
	}
	codes, err := s.codes(ctx, tender, posting.RoleAccountsPayable, posting.RoleInventory)
	if err != nil {
		return model.TransactionSet{}, err
	}

	var lines lineSet
	lines.debit(codes[posting.RoleInventory], o.Total)
	lines.credit(codes[tender], o.AmountPaid)
	if unpaid.IsPositive() {
		ap, err := s.party(ctx, codes[posting.RoleAccountsPayable], o.Supplier, actor)
		if err != nil {
			return model.TransactionSet{}, err
		}
		lines.credit(ap, unpaid)
	}

	return s.engine.Post(ctx, posting.Request{
		Date:        o.Date,
		Kind:        model.KindPurchase,
		Reference:   model.Reference{Type: "purchase", ID: o.ID},
		Description: describe(o.Description, "Purchase %s", o.ID),
		Lines:       lines,
	}, actor)
}

// RecordCashReceipt debits cash against the counter-account.
func (s *Service) RecordCashReceipt(ctx context.Context, p Payment, actor string) (model.TransactionSet, error) {
	return s.movement(ctx, p, posting.RoleCash, true, model.KindCashReceipt, actor)
}

// RecordCashPayment credits cash against the counter-account.
func (s *Service) RecordCashPayment(ctx context.Context, p Payment, actor string) (model.TransactionSet, error) {
	return s.movement(ctx, p, posting.RoleCash, false, model.KindCashPayment, actor)
}

// RecordBankReceipt debits the bank against the counter-account.
func (s *Service) RecordBankReceipt(ctx context.Context, p Payment, actor string) (model.TransactionSet, error) {
	return s.movement(ctx, p, posting.RoleBank, true, model.KindBankReceipt, actor)
}

// RecordBankPayment credits the bank against the counter-account.
func (s *Service) RecordBankPayment(ctx context.Context, p Payment, actor string) (model.TransactionSet, error) {
	return s.movement(ctx, p, posting.RoleBank, false, model.KindBankPayment, actor)
}

func (s *Service) movement(ctx context.Context, p Payment, money posting.Role, receipt bool, kind model.SetKind, actor string) (model.TransactionSet, error) {
	if !p.Amount.IsPositive() {
		return model.TransactionSet{}, ledgererr.Invalid("%s %s: amount must be positive", kind, p.ID)
	}
	counterRole := posting.RoleAccountsPayable
	refType := "payment"
	if receipt {
		counterRole = posting.RoleAccountsReceivable
		refType = "receipt"
	}
	codes, err := s.codes(ctx, money, counterRole)
	if err != nil {
		return model.TransactionSet{}, err
	}
	counter := codes[counterRole]
	if p.CounterAccount != "" {
		counter = model.CanonicalCode(p.CounterAccount)
	}

	var lines lineSet
	if receipt {
		lines.debit(codes[money], p.Amount)
		lines.credit(counter, p.Amount)
	} else {
		lines.debit(counter, p.Amount)
		lines.credit(codes[money], p.Amount)
	}

	return s.engine.Post(ctx, posting.Request{
		Date:        p.Date,
		Kind:        kind,
		Reference:   model.Reference{Type: refType, ID: p.ID},
		Description: describe(p.Description, "%s %s", strings.ReplaceAll(string(kind), "_", " "), p.ID),
		Lines:       lines,
	}, actor)
}

// RecordSaleReturn reverses the share of a sale that RevenueAmount represents.
func (s *Service) RecordSaleReturn(ctx context.Context, r SaleReturn, actor string) (model.TransactionSet, error) {
	if !r.RevenueAmount.IsPositive() {
		return model.TransactionSet{}, ledgererr.Invalid("return amount must be positive")
	}
	sale, err := s.engine.Get(ctx, r.SaleSetID)
	if err != nil {
		return model.TransactionSet{}, err
	}
	if sale.Kind != model.KindSale {
		return model.TransactionSet{}, ledgererr.Invalid("%s is a %s, not a sale", sale.Number, sale.Kind)
	}
	revenueCode, err := s.roles.Code(ctx, posting.RoleSalesRevenue)
	if err != nil {
		return model.TransactionSet{}, err
	}

	revenue := decimal.Zero
	for _, l := range sale.Lines {
		if l.AccountCode == revenueCode {
			revenue = revenue.Add(l.Credit)
		}
	}
	if !revenue.IsPositive() {
		return model.TransactionSet{}, ledgererr.Invalid("sale %s has no revenue to return", sale.Number)
	}

	amount := sale.Total.Mul(r.RevenueAmount).Div(revenue).Round(2)
	if open := sale.OpenAmount(); amount.GreaterThan(open) && model.Balanced(amount, open) {
		amount = open
	}

	s.log.Debug().
		Str("sale", sale.Number).
		Str("revenue", r.RevenueAmount.StringFixed(2)).
		Str("reversal", amount.StringFixed(2)).
		Msg("recording sale return")
	return s.engine.ReversePartial(ctx, sale.ID, amount, describe(r.Reason, "sale return"), actor)
}

func describe(given, format string, args ...any) string {
	if strings.TrimSpace(given) != "" {
		return given
	}
	return fmt.Sprintf(format, args...)
}
